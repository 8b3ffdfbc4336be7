package cli

import (
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/repotend/repotend/internal/passes"
	"github.com/repotend/repotend/internal/templatesync"
)

func newPassesCommand(global *globalParams) *cobra.Command {
	return &cobra.Command{
		Use:   "passes",
		Short: "List the available passes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := global.config()
			if err != nil {
				return err
			}

			// Listing never emits anything.
			set, err := passes.Builtin(root, templatesync.NewDiffEmitter(cmd.OutOrStdout()))
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("Name", "Default", "Description")
			for _, p := range set.All() {
				if err := table.Append(p.Name, strconv.FormatBool(p.RunsByDefault), p.Description); err != nil {
					return err
				}
			}
			return table.Render()
		},
	}
}
