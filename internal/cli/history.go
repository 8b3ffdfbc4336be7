package cli

import (
	"errors"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/repotend/repotend/internal/history"
)

func newHistoryCommand(global *globalParams) *cobra.Command {
	var opts history.ListOptions

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded pass outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := global.config()
			if err != nil {
				return err
			}
			if root.History == nil {
				return errors.New("no history database configured")
			}

			ledger, err := history.Open(cmd.Context(), root.History, global.logger(cmd))
			if err != nil {
				return err
			}
			defer ledger.Close()

			entries, err := ledger.List(cmd.Context(), opts)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("Time", "Repository", "Pass", "Outcome", "Message")
			for _, e := range entries {
				if err := table.Append(e.Time.UTC().Format(time.RFC3339), e.Repository, e.Pass, e.Outcome, e.Message); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}

	cmd.Flags().StringVarP(&opts.Repository, "repo", "r", "", "Only show this repository")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 50, "Maximum number of entries, 0 for all")

	return cmd
}
