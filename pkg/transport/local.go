package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// LocalConn runs commands on the control machine itself through the
// shell. Upload and Download degrade to local file copies so tasks stay
// target-agnostic.
type LocalConn struct {
	logger zerolog.Logger
}

// NewLocalConn creates a connection to the local machine.
func NewLocalConn(logger zerolog.Logger) *LocalConn {
	return &LocalConn{logger: logger}
}

// Run executes a command through sh -c.
func (c *LocalConn) Run(ctx context.Context, cmd string) (string, string, error) {
	return c.run(ctx, cmd, false)
}

// Sudo executes a command with sudo.
func (c *LocalConn) Sudo(ctx context.Context, cmd string) (string, string, error) {
	return c.run(ctx, cmd, true)
}

func (c *LocalConn) run(ctx context.Context, cmd string, useSudo bool) (string, string, error) {
	finalCmd := cmd
	if useSudo {
		finalCmd = "sudo " + cmd
	}

	c.logger.Debug().Str("command", cmd).Bool("sudo", useSudo).Msg("executing local command")

	execCmd := exec.CommandContext(ctx, "sh", "-c", finalCmd)
	var stdoutBuf, stderrBuf bytes.Buffer
	execCmd.Stdout = &stdoutBuf
	execCmd.Stderr = &stderrBuf

	err := execCmd.Run()
	stdout := strings.TrimSpace(stdoutBuf.String())
	stderr := strings.TrimSpace(stderrBuf.String())

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return stdout, stderr, &Error{
				Op:       "execute",
				Err:      fmt.Errorf("command exited with code %d: %s", exitErr.ExitCode(), stderr),
				ExitCode: exitErr.ExitCode(),
			}
		}
		return stdout, stderr, &Error{
			Op:          "execute",
			Err:         err,
			IsTemporary: true,
		}
	}

	return stdout, stderr, nil
}

// Upload copies a file within the local filesystem.
func (c *LocalConn) Upload(ctx context.Context, localPath, remotePath string, mode uint32) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "upload", Err: err, IsTemporary: true}
	}
	if err := copyFile(localPath, remotePath, os.FileMode(mode)); err != nil {
		return &Error{Op: "upload", Err: err}
	}
	return nil
}

// Download copies a file within the local filesystem.
func (c *LocalConn) Download(ctx context.Context, remotePath, localPath string) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "download", Err: err, IsTemporary: true}
	}
	if err := copyFile(remotePath, localPath, 0o600); err != nil {
		return &Error{Op: "download", Err: err}
	}
	return nil
}

// Remove deletes a local file. A missing file is not an error.
func (c *LocalConn) Remove(ctx context.Context, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "remove", Err: err, IsTemporary: true}
	}
	if err := os.Remove(remotePath); err != nil && !os.IsNotExist(err) {
		return &Error{Op: "remove", Err: err}
	}
	return nil
}

// Close is a no-op for the local connection.
func (c *LocalConn) Close() error {
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy: %w", err)
	}
	return out.Close()
}
