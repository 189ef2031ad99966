// ============================================================================
// Workhorse CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree for the workhorse binary
//
// Command Structure:
//   workhorse                      # Root command
//   ├── run                        # Start the scheduler
//   │   ├── --tasks, -t            # JSON task file to enqueue at start
//   │   └── --tui                  # Show the terminal dashboard
//   ├── status                     # Print the last status snapshot
//   ├── capabilities               # List capabilities and task kinds
//   ├── --config, -c               # Config file (default configs/default.yaml)
//   └── --version
//
// run Command:
//   1. Load config, open the process log
//   2. Register built-in capabilities, build queue + scheduler
//   3. Enqueue the task file
//   4. Run concurrently (errgroup):
//      - scheduler.Run         until quiescent / quit / signal
//      - metrics HTTP server   when metrics.enabled
//      - dashboard             when --tui
//      - signal watcher        SIGINT/SIGTERM -> Quit
//   5. scheduler.Stop (join workers), close logs
//
// Task file format:
//   [
//     {"kind": "split-file", "params": {"path": "frames.txt", "output": "plates.tsv"}},
//     {"kind": "test-cpu",   "params": {"iterations": 1000000}}
//   ]
//
// ============================================================================

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ChuLiYu/workhorse/internal/capabilities"
	"github.com/ChuLiYu/workhorse/internal/dashboard"
	"github.com/ChuLiYu/workhorse/internal/hardware"
	"github.com/ChuLiYu/workhorse/internal/logging"
	"github.com/ChuLiYu/workhorse/internal/metrics"
	"github.com/ChuLiYu/workhorse/internal/queue"
	"github.com/ChuLiYu/workhorse/internal/scheduler"
	"github.com/ChuLiYu/workhorse/internal/snapshot"
	"github.com/ChuLiYu/workhorse/internal/tasks"
	"github.com/ChuLiYu/workhorse/pkg/types"
)

var configFile string

// BuildCLI returns the root command.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "workhorse",
		Short: "Workhorse: a local multi-capability work scheduler",
		Long: `Workhorse runs heterogeneous tasks on a fixed pool of workers:
- per-capability queues (CPU, GPU, ...)
- heavy resources loaded only while a worker needs them
- graceful stop that never loses or duplicates a claimed task`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildCapabilitiesCommand())

	return rootCmd
}

// ============================================================================
// run
// ============================================================================

type runOptions struct {
	tasksFile string
	tui       bool
}

func buildRunCommand() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler and process tasks",
		Long:  "Start every configured worker, enqueue the task file, and run until all work is done or a signal arrives",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runSystem(cmd.Context(), cfg, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.tasksFile, "tasks", "t", "", "JSON file of tasks to enqueue at start")
	cmd.Flags().BoolVar(&opts.tui, "tui", false, "show the terminal dashboard")
	return cmd
}

func newRegistry(cfg *Config) (*hardware.Registry, error) {
	reg := hardware.NewRegistry()
	if err := capabilities.RegisterBuiltins(reg, capabilities.WithDetector(cfg.DetectorConfig())); err != nil {
		return nil, err
	}
	return reg, nil
}

func runSystem(ctx context.Context, cfg *Config, opts runOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.tui && cfg.Logging.Dir == "" {
		// stderr output would tear the dashboard
		cfg.Logging.Dir = "logs"
	}

	logger, err := logging.New(cfg.LoggingConfig())
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer logger.Close()

	reg, err := newRegistry(cfg)
	if err != nil {
		return err
	}

	var (
		promReg   *prometheus.Registry
		collector *metrics.Collector
		qOpts     = []queue.Option{queue.WithLogger(logger)}
		sOpts     []scheduler.Option
	)
	if cfg.Metrics.Enabled {
		promReg = prometheus.NewRegistry()
		promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector = metrics.NewCollector(promReg)
		qOpts = append(qOpts, queue.WithObserver(collector))
		sOpts = append(sOpts, scheduler.WithMetrics(collector))
	}

	q := queue.NewFromRegistry(reg, qOpts...)
	sched, err := scheduler.New(cfg.SchedulerConfig(), reg, logger, sOpts...)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	defer sched.Stop()

	if opts.tasksFile != "" {
		list, err := tasks.LoadFile(opts.tasksFile)
		if err != nil {
			return err
		}
		for _, t := range list {
			if err := q.AddTask(t); err != nil {
				return fmt.Errorf("enqueue %s: %w", t.ID(), err)
			}
		}
		logger.Info("tasks enqueued", "file", opts.tasksFile, "count", len(list))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		err := sched.Run(gctx, q)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if cfg.Metrics.Enabled {
		router := metrics.Router(promReg, func() types.StatusSnapshot { return sched.Snapshot(q) })
		g.Go(func() error {
			return metrics.StartServer(gctx, cfg.Metrics.Port, router, logger)
		})
	}

	if opts.tui {
		g.Go(func() error {
			return dashboard.Run(gctx, q, dashboard.Options{
				Config:  cfg.Summary(),
				State:   func() string { return sched.State().String() },
				Workers: sched.WorkerStatuses,
				OnQuit:  sched.Quit,
			})
		})
	}

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal, stopping gracefully", "signal", sig.String())
			sched.Quit()
		case <-gctx.Done():
		}
		return nil
	})

	start := time.Now()
	err = g.Wait()
	sched.Stop()

	processed, failed := uint64(0), uint64(0)
	for _, st := range sched.WorkerStatuses() {
		processed += st.Processed
		failed += st.Failed
	}
	logger.Info("workhorse finished", "processed", processed, "failed", failed, "took", time.Since(start))
	fmt.Fprintf(out, "processed %d tasks (%d failed) in %s\n", processed, failed, time.Since(start).Round(time.Millisecond))
	return err
}

// ============================================================================
// status
// ============================================================================

func buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last status snapshot",
		Long:  "Print queue counts and worker state from the status file written by a running or finished scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return showStatus(cfg, cmd.OutOrStdout())
		},
	}
}

func showStatus(cfg *Config, out io.Writer) error {
	mgr := snapshot.NewManager(cfg.Status.Path)
	if !mgr.Exists() {
		fmt.Fprintf(out, "no status at %s (run 'workhorse run' first)\n", mgr.GetPath())
		return nil
	}
	snap, err := mgr.Load()
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Workhorse Status")
	fmt.Fprintf(out, "  state:        %s\n", snap.State)
	fmt.Fprintf(out, "  taken at:     %s\n", time.UnixMilli(snap.TakenAt).Format(time.RFC3339))
	fmt.Fprintf(out, "  in progress:  %d\n", snap.InProgress)
	fmt.Fprintf(out, "  pending:      %d\n", snap.TotalPending())

	names := make([]string, 0, len(snap.Pending))
	for name := range snap.Pending {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "    %-10s %d\n", name, snap.Pending[name])
	}

	fmt.Fprintln(out, "  workers:")
	for _, w := range snap.Workers {
		state := "busy"
		if w.Idle {
			state = "idle"
		}
		active := w.Active
		if active == "" {
			active = "-"
		}
		fmt.Fprintf(out, "    #%-3d %-12v active=%-6s %-4s processed=%d failed=%d\n",
			w.ID, w.Capabilities, active, state, w.Processed, w.Failed)
	}
	return nil
}

// ============================================================================
// capabilities
// ============================================================================

func buildCapabilitiesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "List registered capabilities and task kinds",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				cfg = DefaultConfig()
			}
			return showCapabilities(cfg, cmd.OutOrStdout())
		},
	}
}

func showCapabilities(cfg *Config, out io.Writer) error {
	reg, err := newRegistry(cfg)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Capabilities:")
	for _, name := range reg.RegisteredTypes() {
		h, err := reg.Create(name)
		if err != nil {
			return err
		}
		res := h.Resources()
		fmt.Fprintf(out, "  %-6s memory=%dMB load=%s\n", name, res.MemoryMB, res.LoadLatency)
	}

	kinds := tasks.Kinds()
	names := make([]string, 0, len(kinds))
	for k := range kinds {
		names = append(names, k)
	}
	sort.Strings(names)

	fmt.Fprintln(out, "Task kinds:")
	for _, k := range names {
		fmt.Fprintf(out, "  %-12s on %s\n", k, kinds[k])
	}
	return nil
}
