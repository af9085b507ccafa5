package engine

import (
	"context"

	"github.com/embercast/kindler/pkg/inventory"
)

// Backend runs one task against one host and returns the task's raw
// outcome. Backends never interpret idempotency; that is the task's and
// the harness's responsibility. Two variants exist: a local backend for
// the control machine sentinel and a remote backend holding pooled SSH
// sessions.
type Backend interface {
	Execute(ctx context.Context, task Task, host *inventory.Host, rc *RunContext) (Outcome, error)
}

// ResultSink receives each TaskResult as it completes. Sinks back the
// operator console and the telemetry event stream. Implementations must
// tolerate concurrent calls from a step's fan-out lanes.
type ResultSink interface {
	OnResult(res TaskResult)
}

// SinkFunc adapts a function into a ResultSink.
type SinkFunc func(res TaskResult)

// OnResult implements ResultSink.
func (f SinkFunc) OnResult(res TaskResult) { f(res) }
