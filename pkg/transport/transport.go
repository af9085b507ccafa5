// Package transport provides command execution and file transfer
// against provisioning targets: the local control machine via os/exec
// and remote hosts via SSH/SFTP.
package transport

import (
	"context"
	"fmt"
)

// Conn executes commands and moves files on one target.
type Conn interface {
	// Run executes a command and returns trimmed stdout and stderr.
	Run(ctx context.Context, cmd string) (stdout string, stderr string, err error)

	// Sudo executes a command with elevated privileges.
	Sudo(ctx context.Context, cmd string) (stdout string, stderr string, err error)

	// Upload copies a local file to the target.
	Upload(ctx context.Context, localPath, remotePath string, mode uint32) error

	// Download copies a file from the target to the local filesystem.
	Download(ctx context.Context, remotePath, localPath string) error

	// Remove deletes a file on the target.
	Remove(ctx context.Context, remotePath string) error

	// Close releases the connection.
	Close() error
}

// Error wraps a transport failure with enough detail for callers to
// classify it.
type Error struct {
	// Op is the operation that failed (dial, execute, upload, ...).
	Op string

	// Err is the underlying error.
	Err error

	// IsTemporary marks failures worth retrying.
	IsTemporary bool

	// IsAuthError marks authentication failures.
	IsAuthError bool

	// ExitCode is the remote exit code for non-zero command exits,
	// zero otherwise.
	ExitCode int
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsAuthFailure reports whether err is an authentication failure.
func IsAuthFailure(err error) bool {
	te, ok := err.(*Error)
	return ok && te.IsAuthError
}
