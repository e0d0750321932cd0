package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	taskerrors "github.com/maxkimambo/taskrun/internal/errors"
	"github.com/maxkimambo/taskrun/internal/logger"
	"github.com/maxkimambo/taskrun/internal/progress"
	"github.com/maxkimambo/taskrun/internal/task"
	"github.com/maxkimambo/taskrun/internal/utils"
)

var (
	runArgs          []string
	runTimeout       time.Duration
	metricsAddr      string
	progressInterval time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run NAME",
	Short: "Run a registered task and wait for its result",
	Long: `Runs a built-in or manifest task and waits for it to settle, reporting progress
as the task publishes it.

Arguments are passed as one map built from --arg key=value pairs; values are
read as YAML scalars. An interrupt cancels a cancelable task and waits for it
to stop; a second interrupt, or a task that cannot be cancelled, aborts the wait.
On Unix, SIGUSR1 suspends a suspendable task and a second SIGUSR1 resumes it.

Example:
taskrun run sleep --arg duration=3s --arg steps=6
taskrun run nightly --manifest ./tasks --timeout 10m --metrics-addr :9090
`,
	Args:    cobra.ExactArgs(1),
	PreRunE: validateRunFlags,
	RunE:    runTask,
}

func init() {
	runCmd.Flags().StringArrayVarP(&runArgs, "arg", "a", nil, "Task argument in key=value format (repeatable)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Abort the wait after this long (0 waits forever)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the task runs")
	runCmd.Flags().DurationVar(&progressInterval, "progress-interval", time.Second, "Minimum time between progress lines of one task")
}

func validateRunFlags(cmd *cobra.Command, args []string) error {
	if runTimeout < 0 {
		return fmt.Errorf("--timeout must not be negative, got %s", runTimeout)
	}
	if progressInterval < 0 {
		return fmt.Errorf("--progress-interval must not be negative, got %s", progressInterval)
	}
	return nil
}

func runTask(cmd *cobra.Command, args []string) error {
	name := args[0]
	ctx := cmd.Context()
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	taskArgs, err := utils.ParseAssignments(runArgs)
	if err != nil {
		return err
	}

	config := task.DefaultManagerConfig()
	if metricsAddr != "" {
		registry := prometheus.NewRegistry()
		config.Metrics = task.NewMetrics(registry)
		stop := serveMetrics(metricsAddr, registry)
		defer stop()
	}

	m, err := newManager(ctx, config)
	if err != nil {
		return err
	}
	if !m.HasTask(name) {
		return taskerrors.NewUnknownTaskError(name, "run")
	}
	if err := progress.NewReporter(progressInterval).Subscribe(m); err != nil {
		return err
	}

	var runInput []any
	if taskArgs != nil {
		runInput = append(runInput, task.Args(taskArgs))
	}

	started := time.Now()
	logger.User.Startingf("Running %s", name)
	o, err := m.Run(ctx, name, runInput...)
	if err != nil {
		return err
	}

	ctx, abort := context.WithCancel(ctx)
	defer abort()
	go watchSignals(ctx, o, abort)

	result, err := o.Result(ctx)
	return report(cmd, o, result, err, time.Since(started))
}

// watchSignals cancels o on the first interrupt and aborts the wait on the
// second, or on the first when o cannot be cancelled. The suspend signal
// toggles between suspending and resuming o.
func watchSignals(ctx context.Context, o *task.Observer, abort context.CancelFunc) {
	signals := make(chan os.Signal, 2)
	notify := []os.Signal{os.Interrupt, syscall.SIGTERM}
	if suspendSignal != nil {
		notify = append(notify, suspendSignal)
	}
	signal.Notify(signals, notify...)
	defer signal.Stop(signals)

	cancelling := false
	for {
		var sig os.Signal
		select {
		case sig = <-signals:
		case <-o.Done():
			return
		case <-ctx.Done():
			return
		}

		if suspendSignal != nil && sig == suspendSignal {
			toggleSuspend(ctx, o)
			continue
		}
		if cancelling {
			abort()
			return
		}
		if !o.Cancelable() {
			logger.User.Warnf("%s cannot be cancelled, abandoning the run", o.TaskName())
			abort()
			return
		}

		cancelling = true
		logger.User.Warnf("Cancelling %s, interrupt again to abandon it", o.TaskName())
		go func() {
			if err := o.Cancel(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Op.WithTask(o.TaskName(), o.ID()).Warnf("Cancel failed: %v", err)
			}
		}()
	}
}

func toggleSuspend(ctx context.Context, o *task.Observer) {
	if !o.Suspendable() {
		logger.User.Warnf("%s cannot be suspended", o.TaskName())
		return
	}

	if o.Suspended() {
		if err := o.Resume(ctx); err != nil {
			logger.User.Errorf("Failed to resume %s: %v", o.TaskName(), err)
			return
		}
		logger.User.Resumedf("%s resumed", o.TaskName())
		return
	}

	if err := o.Suspend(ctx); err != nil {
		logger.User.Errorf("Failed to suspend %s: %v", o.TaskName(), err)
		return
	}
	if o.Suspended() {
		logger.User.Suspendedf("%s suspended, send the signal again to resume", o.TaskName())
	}
}

func report(cmd *cobra.Command, o *task.Observer, result any, err error, elapsed time.Duration) error {
	out := cmd.OutOrStdout()

	if err != nil && !o.Finished() {
		box := utils.NewBox(utils.OutcomeWarning, fmt.Sprintf("Stopped waiting for %s", o.TaskName())).
			AddKeyValue("run", o.ID()).
			AddKeyValue("state", string(o.State())).
			AddKeyValue("reason", err.Error())
		fmt.Fprintln(out, box.Render())
		return err
	}

	switch o.State() {
	case task.StateFailed:
		box := utils.NewBox(utils.OutcomeFailure, fmt.Sprintf("%s failed", o.TaskName())).
			AddKeyValue("run", o.ID()).
			AddKeyValue("duration", elapsed.Round(time.Millisecond).String()).
			AddKeyValue("error", taskerrors.DisplayErrorSummary(err))
		fmt.Fprintln(out, box.Render())
		return err

	case task.StateCancelled:
		logger.User.Cancelledf("%s cancelled", o.TaskName())
		box := utils.NewBox(utils.OutcomeWarning, fmt.Sprintf("%s cancelled", o.TaskName())).
			AddKeyValue("run", o.ID()).
			AddKeyValue("duration", elapsed.Round(time.Millisecond).String())
		addResult(box, result)
		fmt.Fprintln(out, box.Render())
		return nil

	default:
		logger.User.Successf("%s completed", o.TaskName())
		box := utils.NewBox(utils.OutcomeSuccess, fmt.Sprintf("%s completed", o.TaskName())).
			AddKeyValue("run", o.ID()).
			AddKeyValue("duration", elapsed.Round(time.Millisecond).String())
		addResult(box, result)
		fmt.Fprintln(out, box.Render())
		return nil
	}
}

func addResult(box *utils.Box, result any) {
	if result == nil {
		return
	}
	data, err := yaml.Marshal(result)
	if err != nil {
		box.AddKeyValue("result", fmt.Sprintf("%v", result))
		return
	}
	box.AddLine("result:")
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		box.AddLine("  " + line)
	}
}

// serveMetrics exposes registry on addr until the returned function is called
func serveMetrics(addr string, registry *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Op.WithFields(map[string]interface{}{"addr": addr}).Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Op.Errorf("Metrics server failed: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Op.Warnf("Metrics server shutdown: %v", err)
		}
	}
}
