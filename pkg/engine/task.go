package engine

import (
	"context"

	"github.com/embercast/kindler/pkg/inventory"
)

// Conn is the command execution capability a backend hands to a task for
// one host. The local backend satisfies it with subprocesses, the remote
// backend with a pooled SSH session. Tasks never open or close sessions
// themselves.
type Conn interface {
	// Run executes a shell command and returns trimmed stdout and stderr.
	// A non-zero exit status is returned as an error.
	Run(ctx context.Context, cmd string) (stdout, stderr string, err error)

	// Sudo executes a shell command with elevated privileges.
	Sudo(ctx context.Context, cmd string) (stdout, stderr string, err error)

	// Upload stages a local file on the target with the given mode.
	Upload(ctx context.Context, localPath, remotePath string, mode uint32) error

	// Download fetches a file from the target.
	Download(ctx context.Context, remotePath, localPath string) error

	// Remove deletes a file on the target. Used to clean up staged
	// credential material before a host's lane finishes.
	Remove(ctx context.Context, remotePath string) error
}

// Task is a named, idempotent unit of work executed against one host.
// Implementations must detect whether system state already matches the
// desired end state and report Changed=false when nothing was done, so a
// repeated run with no drift converges to all-unchanged results. Tasks
// never mutate Registry or Engine state.
type Task interface {
	// Name is the stable identifier used in plans, logs and results.
	Name() string

	// Description is a short human-readable summary.
	Description() string

	// Apply performs the work. Returning an error marks the result
	// FAILED; a nil error carries the outcome through as reported.
	Apply(ctx context.Context, rc *RunContext, host *inventory.Host, conn Conn) (Outcome, error)
}

// Outcome is the raw result a task reports before the harness wraps it
// into a TaskResult.
type Outcome struct {
	Status  Status
	Changed bool
	Message string
}

// OK reports an already-converged state.
func OK(message string) Outcome {
	return Outcome{Status: StatusOK, Message: message}
}

// ChangedOutcome reports work performed successfully.
func ChangedOutcome(message string) Outcome {
	return Outcome{Status: StatusChanged, Changed: true, Message: message}
}

// Warning reports success with a non-critical issue.
func Warning(message string) Outcome {
	return Outcome{Status: StatusWarning, Message: message}
}

// Skipped reports a task that did not apply to the environment.
func Skipped(message string) Outcome {
	return Outcome{Status: StatusSkipped, Message: message}
}

// TaskFunc adapts a plain function into a Task. Used heavily in tests and
// for small one-off steps.
type TaskFunc struct {
	TaskName string
	Desc     string
	Fn       func(ctx context.Context, rc *RunContext, host *inventory.Host, conn Conn) (Outcome, error)
}

func (t TaskFunc) Name() string        { return t.TaskName }
func (t TaskFunc) Description() string { return t.Desc }

func (t TaskFunc) Apply(ctx context.Context, rc *RunContext, host *inventory.Host, conn Conn) (Outcome, error) {
	return t.Fn(ctx, rc, host, conn)
}
