package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand(global *globalParams) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := global.config()
			if err != nil {
				return err
			}

			if err := root.CheckReferences(); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d canonical source(s), %d repositories, %d secret(s)\n",
				global.configFile, len(root.Canonical), len(root.Repositories), len(root.Secrets))
			return err
		},
	}
}
