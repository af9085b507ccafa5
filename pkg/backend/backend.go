// Package backend binds the engine's task execution to concrete
// transports: a local backend for the control machine and a remote
// backend holding one pooled SSH connection per host.
package backend

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/embercast/kindler/pkg/engine"
	"github.com/embercast/kindler/pkg/inventory"
	"github.com/embercast/kindler/pkg/transport"
)

// Local executes tasks on the control machine through subprocesses.
type Local struct {
	conn *transport.LocalConn
}

// NewLocal creates the local backend.
func NewLocal(logger zerolog.Logger) *Local {
	return &Local{conn: transport.NewLocalConn(logger)}
}

// Execute runs the task against the local machine.
func (b *Local) Execute(ctx context.Context, task engine.Task, host *inventory.Host, rc *engine.RunContext) (engine.Outcome, error) {
	return task.Apply(ctx, rc, host, b.conn)
}

// Close implements io.Closer; the local connection holds no resources.
func (b *Local) Close() error {
	return b.conn.Close()
}
