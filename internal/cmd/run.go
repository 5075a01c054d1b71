package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Iron-Ham/breakfix/internal/checkpoint"
	"github.com/Iron-Ham/breakfix/internal/collab"
	"github.com/Iron-Ham/breakfix/internal/config"
	"github.com/Iron-Ham/breakfix/internal/event"
	"github.com/Iron-Ham/breakfix/internal/flow"
	"github.com/Iron-Ham/breakfix/internal/logging"
	"github.com/Iron-Ham/breakfix/internal/retry"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [root]",
	Short: "Run or resume the pipeline in a run root",
	Long: `Run the project pipeline in root (default: the current directory).

When checkpoints from an earlier run exist, the run resumes from the last
one instead of starting over. Use --fresh to discard them first.

Examples:
  # Start a new project, asking for the idea interactively
  breakfix run ./calculator

  # Provide the idea up front
  breakfix run ./calculator --idea "a command line calculator for integers"

  # Start over, ignoring earlier checkpoints
  breakfix run ./calculator --fresh`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var (
	runIdea         string
	runFresh        bool
	runNoCheckpoint bool
	runQuiet        bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runIdea, "idea", "", "software idea (asked for interactively when empty)")
	runCmd.Flags().BoolVar(&runFresh, "fresh", false, "discard existing checkpoints before running")
	runCmd.Flags().BoolVar(&runNoCheckpoint, "no-checkpoint", false, "run without writing or resuming checkpoints")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "print only the final report")
}

func runRun(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot(args)
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if runNoCheckpoint {
		cfg.Checkpoint.Enabled = false
	}

	stateDir := config.StateDir(root)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	// One run per root; a second process would interleave checkpoints.
	lock := checkpoint.NewRunLock(stateDir)
	ok, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("another breakfix run is active in %s", root)
	}
	defer func() { _ = lock.Unlock() }()

	logger := logging.NopLogger()
	if cfg.Logging.Enabled {
		logger, err = logging.Open(stateDir, cfg.Logging.Level, logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		})
		if err != nil {
			return fmt.Errorf("open log: %w", err)
		}
		defer func() { _ = logger.Close() }()
	}

	var store *checkpoint.Store
	if cfg.Checkpoint.Enabled {
		store = checkpoint.NewStore(cfg.Checkpoint.ResolveCheckpointDir(root))
		if runFresh {
			if err := store.Clear(); err != nil {
				return fmt.Errorf("clear checkpoints: %w", err)
			}
			logger.Info("checkpoints cleared", "dir", store.Dir())
		}
	}

	out := cmd.OutOrStdout()
	bus := event.NewBus(logger)
	if !runQuiet {
		subscribeProgress(bus, out)
	}
	retries := retry.NewManager()

	deps, err := collab.Build(root, cfg, collab.Options{
		Logger:  logger,
		Bus:     bus,
		Retries: retries,
		In:      cmd.InOrStdin(),
		Out:     out,
	})
	if err != nil {
		return err
	}
	rt, err := flow.NewRuntime(root, cfg, deps)
	if err != nil {
		return err
	}
	rt.Logger = logger
	rt.Bus = bus
	rt.Retries = retries
	rt.Store = store

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := flow.RunProject(ctx, rt, runIdea)
	if err != nil {
		logger.Error("run ended without a report", "error", err)
		_, _ = fmt.Fprintln(out, renderFailure(err))
		return err
	}
	logger.Info("run complete", "report", report.String())
	_, _ = fmt.Fprintln(out, renderReport(report))
	return nil
}
