package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/embercast/kindler/pkg/inventory"
	"github.com/embercast/kindler/pkg/telemetry"
)

// Harness is the single point through which every task is invoked. It
// wraps the raw backend call with error containment, timing, idempotency
// bookkeeping and structured emission: one concise line per result to the
// registered sinks and one detailed record to the diagnostic log. The
// engine never calls a task directly.
type Harness struct {
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	sinks   []ResultSink
}

// HarnessConfig configures a Harness. Zero values are usable: a nop
// logger, no metrics, no tracing, no sinks.
type HarnessConfig struct {
	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
	Sinks   []ResultSink
}

// NewHarness creates the execution harness.
func NewHarness(cfg HarnessConfig) *Harness {
	return &Harness{
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
		sinks:   cfg.Sinks,
	}
}

// Execute runs one task on one host through the backend and converts the
// raw outcome into a TaskResult. Panics and errors from the task body are
// contained here and never propagate to the engine.
func (h *Harness) Execute(ctx context.Context, backend Backend, task Task, host *inventory.Host, rc *RunContext, opts Options) TaskResult {
	started := time.Now()

	execCtx := ctx
	var cancel context.CancelFunc
	if opts.TaskTimeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, opts.TaskTimeout)
		defer cancel()
	}

	h.logger.Debug().
		Str("run_id", rc.RunID).
		Str("task", task.Name()).
		Str("host", host.ID).
		Msg("task started")

	outcome, err := h.invoke(execCtx, backend, task, host, rc)

	res := TaskResult{
		ID:          uuid.New().String(),
		RunID:       rc.RunID,
		Host:        host.ID,
		Task:        task.Name(),
		StartedAt:   started,
		CompletedAt: time.Now(),
	}
	res.Duration = res.CompletedAt.Sub(started)

	switch {
	case err != nil:
		res.Status = StatusFailed
		res.Message = err.Error()
		res.Code = codeOf(err)
		if execCtx.Err() == context.DeadlineExceeded {
			res.Code = ErrCodeTimeout
			res.Message = fmt.Sprintf("timed out after %s: %v", opts.TaskTimeout, err)
		} else if execCtx.Err() == context.Canceled {
			res.Code = ErrCodeCancelled
		}
	default:
		res.Status = outcome.Status
		res.Changed = outcome.Changed
		res.Message = outcome.Message
		if res.Status == "" {
			res.Status = StatusOK
		}
		// A change reported on a run that expected a converged system is
		// drift correction at best; surface it without failing the run.
		if opts.ExpectNoChanges && res.Changed && res.Status == StatusChanged {
			res.Status = StatusWarning
			res.Message = outcome.Message + " (unexpected change on converged system)"
		}
	}

	h.emit(res)
	return res
}

// Fail records a result for a task that never ran, such as the remaining
// tasks of a step on a host whose session is gone.
func (h *Harness) Fail(task Task, host *inventory.Host, rc *RunContext, code, message string) TaskResult {
	now := time.Now()
	res := TaskResult{
		ID:          uuid.New().String(),
		RunID:       rc.RunID,
		Host:        host.ID,
		Task:        task.Name(),
		Status:      StatusFailed,
		Message:     message,
		Code:        code,
		StartedAt:   now,
		CompletedAt: now,
	}
	h.emit(res)
	return res
}

// invoke calls the backend with panic containment.
func (h *Harness) invoke(ctx context.Context, backend Backend, task Task, host *inventory.Host, rc *RunContext) (outcome Outcome, err error) {
	if h.tracer != nil {
		var span trace.Span
		ctx, span = h.tracer.StartTaskSpan(ctx, rc.RunID, task.Name(), host.ID)
		defer func() {
			if err != nil {
				telemetry.RecordError(span, err)
			} else {
				span.SetAttributes(
					attribute.String("task.status", string(outcome.Status)),
					attribute.Bool("task.changed", outcome.Changed),
				)
			}
			span.End()
		}()
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = NewExecutionError(fmt.Sprintf("task panicked: %v", rec), nil).
				WithCode(ErrCodeTaskPanic).
				WithHost(host.ID).
				WithTask(task.Name())
		}
	}()

	return backend.Execute(ctx, task, host, rc)
}

// emit writes the diagnostic record, updates metrics and feeds the sinks.
func (h *Harness) emit(res TaskResult) {
	evt := h.logger.Info()
	if res.Status == StatusFailed {
		evt = h.logger.Error()
	} else if res.Status == StatusWarning {
		evt = h.logger.Warn()
	}
	evt.
		Str("run_id", res.RunID).
		Str("task", res.Task).
		Str("host", res.Host).
		Str("status", string(res.Status)).
		Bool("changed", res.Changed).
		Str("code", res.Code).
		Dur("duration", res.Duration).
		Msg(res.Message)

	if h.metrics != nil {
		h.metrics.TaskExecuted(res.Task, string(res.Status), res.Duration)
	}

	for _, sink := range h.sinks {
		sink.OnResult(res)
	}
}
