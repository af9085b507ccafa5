package commands

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/embercast/kindler/pkg/backend"
	"github.com/embercast/kindler/pkg/config"
	"github.com/embercast/kindler/pkg/engine"
	"github.com/embercast/kindler/pkg/inventory"
	"github.com/embercast/kindler/pkg/stores"
	"github.com/embercast/kindler/pkg/tasks"
	"github.com/embercast/kindler/pkg/telemetry"
	"github.com/embercast/kindler/pkg/ui"
)

// runFlags are the per-run tuning flags shared by the goal commands.
type runFlags struct {
	target          string
	taskTimeout     time.Duration
	maxParallel     int
	continueOnError bool
	expectNoChanges bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.target, "target", "", "restrict to a single host id or group")
	cmd.Flags().DurationVar(&f.taskTimeout, "task-timeout", 10*time.Minute, "per-task timeout (0 disables)")
	cmd.Flags().IntVar(&f.maxParallel, "max-parallel", 0, "fan-out bound (0 uses the default)")
	cmd.Flags().BoolVar(&f.continueOnError, "continue-on-error", false, "keep running past failed tasks")
	cmd.Flags().BoolVar(&f.expectNoChanges, "expect-no-changes", false, "warn on any change (converged system)")
}

// runGoal is the shared driver behind the goal commands: load settings
// and inventory, assemble telemetry, engine and store, execute the goal
// and translate the rollup into the exit code.
func runGoal(cmd *cobra.Command, goal engine.Goal, flags *runFlags) error {
	ctx := cmd.Context()

	settings, err := config.Load(settingsPath)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}
	inv, err := inventory.Load(inventoryPath)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	telemetryCfg := telemetry.DefaultConfig("kindler", cmd.Root().Version, settings.Environment)
	if verbose {
		telemetryCfg.Logging.Level = "debug"
	}
	logger, err := telemetry.NewLogger(telemetryCfg.Logging)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	metrics := telemetry.NewMetrics(telemetryCfg.Metrics)
	tracer, err := telemetry.NewTracer(telemetryCfg.Tracing, telemetryCfg.ServiceName,
		telemetryCfg.ServiceVersion, telemetryCfg.Environment)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracer.Shutdown(shutdownCtx)
	}()

	events := telemetry.NewEventPublisher(telemetryCfg.Events)
	events.Subscribe(telemetry.LogSubscriber(telemetry.ComponentLogger(logger, "events")), nil)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = events.Shutdown(shutdownCtx)
	}()

	store, err := openStore(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("run history unavailable, continuing without persistence")
	} else {
		defer store.Close()
	}

	printer := ui.NewPrinter(cmd.OutOrStdout())
	sinks := []engine.ResultSink{
		engine.SinkFunc(func(res engine.TaskResult) {
			_ = events.PublishTaskCompleted(res.RunID, res.Task, res.Host, string(res.Status), res.Duration)
		}),
	}
	if !jsonOutput {
		sinks = append(sinks, printer)
	}

	harness := engine.NewHarness(engine.HarnessConfig{
		Logger:  telemetry.ComponentLogger(logger, "harness"),
		Metrics: metrics,
		Tracer:  tracer,
		Sinks:   sinks,
	})

	eng := engine.New(engine.Config{
		Registry:    tasks.DefaultRegistry(settings),
		Local:       backend.NewLocal(telemetry.ComponentLogger(logger, "local")),
		Remote:      backend.NewRemote(telemetry.ComponentLogger(logger, "ssh")),
		Harness:     harness,
		Logger:      telemetry.ComponentLogger(logger, "engine"),
		Metrics:     metrics,
		Tracer:      tracer,
		MaxParallel: flags.maxParallel,
	})

	// The run id is minted here so the started event, the console header
	// and the report all correlate.
	runID := uuid.New().String()
	if !jsonOutput {
		printer.Header(goal, runID, inv.Len())
	}
	_ = events.PublishRunStarted(runID, string(goal))

	report, err := eng.Run(ctx, goal, inv, engine.Options{
		RunID:           runID,
		ContinueOnError: flags.continueOnError,
		Target:          flags.target,
		TaskTimeout:     flags.taskTimeout,
		MaxParallel:     flags.maxParallel,
		ExpectNoChanges: flags.expectNoChanges,
	})
	if err != nil {
		// Resolution and validation failures stop before any task ran.
		logger.Error().Err(err).Str("goal", string(goal)).Msg("run aborted before start")
		return &ExitError{Code: 2, Err: err}
	}

	_ = events.PublishRunCompleted(report.RunID, string(report.Rollup()), report.Duration())

	if store != nil {
		if err := store.SaveReport(ctx, report); err != nil {
			logger.Warn().Err(err).Msg("failed to persist run report")
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report.Results()); err != nil {
			return &ExitError{Code: 1, Err: err}
		}
	} else {
		printer.Summary(report)
	}

	if report.Rollup() != engine.StatusOK {
		return &ExitError{Code: 1}
	}
	return nil
}

func openStore(ctx context.Context) (stores.Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	store, err := stores.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return store, nil
}
