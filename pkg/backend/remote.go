package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/embercast/kindler/pkg/engine"
	"github.com/embercast/kindler/pkg/inventory"
	"github.com/embercast/kindler/pkg/transport"
	sshtransport "github.com/embercast/kindler/pkg/transport/ssh"
)

// Dialer opens a transport connection to one host. Swapped out in tests.
type Dialer func(ctx context.Context, host *inventory.Host) (transport.Conn, error)

// Remote executes tasks on remote hosts over SSH. Connections are
// dialed lazily on first use and kept open for the rest of the run, one
// per host.
type Remote struct {
	dialer Dialer
	logger zerolog.Logger

	mu    sync.Mutex
	conns map[string]transport.Conn
}

// NewRemote creates the remote backend with the default SSH dialer.
func NewRemote(logger zerolog.Logger) *Remote {
	return NewRemoteWithDialer(logger, func(ctx context.Context, host *inventory.Host) (transport.Conn, error) {
		cfg := sshtransport.DefaultConfig(host.Address, host.User)
		if host.Port != 0 {
			cfg.Port = host.Port
		}
		if host.KeyPath != "" {
			cfg.PrivateKeyPath = host.KeyPath
		}
		return sshtransport.Dial(ctx, cfg, logger)
	})
}

// NewRemoteWithDialer creates a remote backend with a custom dialer.
func NewRemoteWithDialer(logger zerolog.Logger, dialer Dialer) *Remote {
	return &Remote{
		dialer: dialer,
		logger: logger,
		conns:  make(map[string]transport.Conn),
	}
}

// Execute runs the task against the host through its pooled connection.
// Dial failures are reported as connection errors so the engine can
// mark the host down for the remainder of the step.
func (b *Remote) Execute(ctx context.Context, task engine.Task, host *inventory.Host, rc *engine.RunContext) (engine.Outcome, error) {
	conn, err := b.acquire(ctx, host)
	if err != nil {
		code := engine.ErrCodeDial
		if transport.IsAuthFailure(err) {
			code = engine.ErrCodeAuth
		}
		return engine.Outcome{}, engine.NewConnectionError(
			fmt.Sprintf("failed to connect to %s", host.Endpoint()), err,
		).WithCode(code).WithHost(host.ID)
	}
	return task.Apply(ctx, rc, host, conn)
}

// acquire returns the host's pooled connection, dialing on first use.
// The dial happens outside the pool lock: hosts in the same fan-out are
// independent lanes, and one host's slow or hanging dial must not delay
// a sibling's. Dial failures are not cached, so the host gets a fresh
// dial in a later step.
func (b *Remote) acquire(ctx context.Context, host *inventory.Host) (transport.Conn, error) {
	b.mu.Lock()
	if conn, ok := b.conns[host.ID]; ok {
		b.mu.Unlock()
		return conn, nil
	}
	b.mu.Unlock()

	conn, err := b.dialer(ctx, host)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	// Tasks on one host are serialized by the engine, but a concurrent
	// dial for the same host would leak a connection here; keep the
	// first one.
	if existing, ok := b.conns[host.ID]; ok {
		_ = conn.Close()
		return existing, nil
	}
	b.conns[host.ID] = conn
	b.logger.Debug().Str("host", host.ID).Msg("connection opened")
	return conn, nil
}

// Close releases every pooled connection.
func (b *Remote) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for id, conn := range b.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
		delete(b.conns, id)
	}
	return errors.Join(errs...)
}
