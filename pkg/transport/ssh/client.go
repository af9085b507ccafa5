package ssh

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/embercast/kindler/pkg/transport"
)

// Client is an SSH connection to one remote host. It satisfies
// transport.Conn; a single client is safe for concurrent use because
// every command runs in its own session.
type Client struct {
	config *Config
	logger zerolog.Logger

	mu        sync.RWMutex
	client    *ssh.Client
	connected bool
	stopKeep  chan struct{}
}

// Dial establishes an SSH connection to the configured host.
func Dial(ctx context.Context, config *Config, logger zerolog.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, &transport.Error{Op: "dial", Err: err}
	}

	clientConfig, err := config.BuildClientConfig()
	if err != nil {
		return nil, &transport.Error{Op: "dial", Err: err, IsAuthError: true}
	}

	address := config.Address()
	logger.Debug().Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)

	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		select {
		case connChan <- client:
		case <-ctx.Done():
			_ = client.Close()
		}
	}()

	select {
	case <-ctx.Done():
		return nil, &transport.Error{Op: "dial", Err: ctx.Err(), IsTemporary: true}
	case err := <-errChan:
		return nil, &transport.Error{
			Op:          "dial",
			Err:         err,
			IsTemporary: !isAuthError(err),
			IsAuthError: isAuthError(err),
		}
	case client := <-connChan:
		c := &Client{
			config:    config,
			logger:    logger,
			client:    client,
			connected: true,
			stopKeep:  make(chan struct{}),
		}
		if config.KeepAliveInterval > 0 {
			go c.keepAlive()
		}
		logger.Debug().Str("address", address).Msg("SSH connection established")
		return c, nil
	}
}

// Run executes a command on the remote host.
func (c *Client) Run(ctx context.Context, cmd string) (string, string, error) {
	return c.execute(ctx, cmd, false)
}

// Sudo executes a command with sudo on the remote host.
func (c *Client) Sudo(ctx context.Context, cmd string) (string, string, error) {
	return c.execute(ctx, cmd, true)
}

func (c *Client) execute(ctx context.Context, cmd string, useSudo bool) (string, string, error) {
	sshClient, err := c.getClient()
	if err != nil {
		return "", "", err
	}

	session, err := sshClient.NewSession()
	if err != nil {
		return "", "", &transport.Error{
			Op:          "execute",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	finalCmd := cmd
	if useSudo {
		finalCmd = "sudo " + cmd
	}

	c.logger.Debug().Str("command", cmd).Bool("sudo", useSudo).Msg("executing remote command")
	start := time.Now()

	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(finalCmd)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		execErr = ctx.Err()
	case execErr = <-doneChan:
	}

	stdout := strings.TrimSpace(stdoutBuf.String())
	stderr := strings.TrimSpace(stderrBuf.String())

	c.logger.Debug().
		Str("command", cmd).
		Dur("duration", time.Since(start)).
		Err(execErr).
		Msg("remote command completed")

	if execErr != nil {
		if exitErr, ok := execErr.(*ssh.ExitError); ok {
			return stdout, stderr, &transport.Error{
				Op:       "execute",
				Err:      fmt.Errorf("command exited with code %d: %s", exitErr.ExitStatus(), stderr),
				ExitCode: exitErr.ExitStatus(),
			}
		}
		return stdout, stderr, &transport.Error{
			Op:          "execute",
			Err:         execErr,
			IsTemporary: true,
		}
	}

	return stdout, stderr, nil
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.client == nil {
		return nil
	}

	close(c.stopKeep)
	err := c.client.Close()
	c.client = nil
	c.connected = false

	if err != nil {
		return &transport.Error{Op: "close", Err: err}
	}
	return nil
}

func (c *Client) getClient() (*ssh.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected || c.client == nil {
		return nil, &transport.Error{Op: "execute", Err: fmt.Errorf("not connected")}
	}
	return c.client, nil
}

func (c *Client) keepAlive() {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopKeep:
			return
		case <-ticker.C:
			client, err := c.getClient()
			if err != nil {
				return
			}
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				c.logger.Warn().Err(err).Str("host", c.config.Host).Msg("keep-alive failed")
				return
			}
		}
	}
}

func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") ||
		strings.Contains(msg, "permission denied")
}
