package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/repotend/repotend/internal/service"
)

type runParams struct {
	passes      []string
	repos       []string
	workers     int
	watch       bool
	dryRun      bool
	metricsAddr string
	noProgress  bool
}

func newRunCommand(global *globalParams) *cobra.Command {
	var params runParams

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run passes over the configured repositories",
		Long: `Run synchronizes the canonical sources and every configured repository,
runs the selected passes and commits (and optionally pushes) their changes.

Without --pass, the passes that run by default are used. By default every
repository is processed once; with --watch repotend keeps revisiting them
every configured interval until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := global.config()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return service.New().
				WithConfig(root).
				WithLogger(global.logger(cmd)).
				WithPasses(params.passes).
				WithRepositoryFilter(params.repos).
				WithWorkers(params.workers).
				WithSingleShot(!params.watch).
				WithDryRun(params.dryRun, cmd.OutOrStdout()).
				WithMetricsAddr(params.metricsAddr).
				WithNoProgress(params.noProgress || params.watch).
				Run(ctx)
		},
	}

	cmd.Flags().StringSliceVarP(&params.passes, "pass", "p", nil, "Pass to run (repeatable); defaults to the passes enabled by default")
	cmd.Flags().StringSliceVarP(&params.repos, "repo", "r", nil, "Only process repositories matching the glob pattern (repeatable)")
	cmd.Flags().IntVarP(&params.workers, "workers", "w", 0, "Number of repositories processed concurrently; overrides the configuration")
	cmd.Flags().BoolVar(&params.watch, "watch", false, "Keep running and revisit repositories every interval")
	cmd.Flags().BoolVar(&params.dryRun, "dry-run", false, "Print diffs instead of writing, committing and pushing")
	cmd.Flags().StringVar(&params.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	cmd.Flags().BoolVar(&params.noProgress, "no-progress", false, "Do not show a progress bar")

	return cmd
}
