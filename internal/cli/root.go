// Package cli implements the repotend command line.
package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thediveo/enumflag/v2"

	"github.com/repotend/repotend/internal/config"
	"github.com/repotend/repotend/internal/logging"
)

const defaultConfigFile = "repotend.yaml"

type globalParams struct {
	configFile string
	logLevel   logging.Level
	logJSON    bool
}

func (p *globalParams) logger(cmd *cobra.Command) *logging.Logger {
	return logging.NewLogger(logging.Config{
		Level:  p.logLevel,
		Output: cmd.ErrOrStderr(),
		JSON:   p.logJSON,
	})
}

func (p *globalParams) config() (*config.Root, error) {
	return config.ParseFile(p.configFile)
}

func (p *globalParams) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&p.configFile, "config", "c", defaultConfigFile, "Path to the configuration file")
	fs.Var(enumflag.New(&p.logLevel, "level", logging.LevelIDs, enumflag.EnumCaseInsensitive),
		"log-level", "Log level: debug, info, warn or error")
	fs.BoolVar(&p.logJSON, "log-json", false, "Log as JSON instead of text")
}

// NewRootCommand builds the repotend command tree.
func NewRootCommand(version string) *cobra.Command {
	params := &globalParams{logLevel: logging.Info}

	root := &cobra.Command{
		Use:           "repotend",
		Short:         "Keep many repositories in step with canonical templates",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	params.addFlags(root.PersistentFlags())

	root.AddCommand(
		newRunCommand(params),
		newPassesCommand(params),
		newHistoryCommand(params),
		newValidateCommand(params),
	)

	return root
}

// Execute runs the command line with the process arguments.
func Execute(version string) error {
	return NewRootCommand(version).Execute()
}
