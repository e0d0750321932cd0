package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/maxkimambo/taskrun/internal/builtin"
	"github.com/maxkimambo/taskrun/internal/flow"
	"github.com/maxkimambo/taskrun/internal/loader"
	"github.com/maxkimambo/taskrun/internal/logger"
	"github.com/maxkimambo/taskrun/internal/task"
	"github.com/maxkimambo/taskrun/internal/utils"
)

var (
	debug     bool
	verbose   bool
	jsonLogs  bool
	quiet     bool
	manifests []string
	only      []string
	version   = "v0.1.0"

	rootCmd = &cobra.Command{
		Use:   "taskrun",
		Short: "Run named tasks and task flows",
		Long: `taskrun registers built-in tasks, flow tasks and the tasks declared in YAML
manifests, then lists or runs them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Setup(verbose || debug, jsonLogs, quiet)
		},
	}
)

func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-error output")
	rootCmd.PersistentFlags().StringSliceVarP(&manifests, "manifest", "m", nil, "Manifest file or directory to load tasks from (repeatable)")
	rootCmd.PersistentFlags().StringSliceVar(&only, "only", nil, "Load only manifest tasks whose name matches one of these glob patterns")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(runCmd)
}

// newManager builds a manager with the built-in tasks, one flow task per
// kind and every manifest task registered.
func newManager(ctx context.Context, config *task.ManagerConfig) (*task.Manager, error) {
	m := task.NewManager(config)
	if err := builtin.Register(m); err != nil {
		return nil, err
	}
	if err := flow.Register(m); err != nil {
		return nil, err
	}
	if len(manifests) == 0 {
		return m, nil
	}

	if _, err := utils.MatchesAny("", only); err != nil {
		return nil, err
	}
	l := loader.NewManifestLoader(builtin.Catalog())
	l.Filter = func(name string) bool {
		ok, _ := utils.MatchesAny(name, only)
		return ok
	}
	if err := m.LoadTasks(ctx, l, manifests...); err != nil {
		return nil, err
	}
	return m, nil
}
