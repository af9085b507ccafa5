package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"

	"github.com/embercast/kindler/pkg/transport"
)

// Upload copies a local file to the remote host via SFTP.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string, mode uint32) error {
	if err := ctx.Err(); err != nil {
		return &transport.Error{Op: "upload", Err: err, IsTemporary: true}
	}

	sftpClient, err := c.newSFTPClient()
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	local, err := os.Open(localPath)
	if err != nil {
		return &transport.Error{Op: "upload", Err: fmt.Errorf("failed to open local file: %w", err)}
	}
	defer local.Close()

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := sftpClient.MkdirAll(dir); err != nil {
			return &transport.Error{Op: "upload", Err: fmt.Errorf("failed to create remote directory: %w", err)}
		}
	}

	remote, err := sftpClient.Create(remotePath)
	if err != nil {
		return &transport.Error{Op: "upload", Err: fmt.Errorf("failed to create remote file: %w", err)}
	}

	if _, err := io.Copy(remote, local); err != nil {
		_ = remote.Close()
		return &transport.Error{Op: "upload", Err: fmt.Errorf("failed to copy: %w", err), IsTemporary: true}
	}
	if err := remote.Close(); err != nil {
		return &transport.Error{Op: "upload", Err: err, IsTemporary: true}
	}

	if err := sftpClient.Chmod(remotePath, os.FileMode(mode)); err != nil {
		return &transport.Error{Op: "upload", Err: fmt.Errorf("failed to chmod: %w", err)}
	}

	c.logger.Debug().Str("local", localPath).Str("remote", remotePath).Msg("file uploaded")
	return nil
}

// Download copies a remote file to the local filesystem via SFTP.
func (c *Client) Download(ctx context.Context, remotePath, localPath string) error {
	if err := ctx.Err(); err != nil {
		return &transport.Error{Op: "download", Err: err, IsTemporary: true}
	}

	sftpClient, err := c.newSFTPClient()
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	remote, err := sftpClient.Open(remotePath)
	if err != nil {
		return &transport.Error{Op: "download", Err: fmt.Errorf("failed to open remote file: %w", err)}
	}
	defer remote.Close()

	local, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return &transport.Error{Op: "download", Err: fmt.Errorf("failed to create local file: %w", err)}
	}

	if _, err := io.Copy(local, remote); err != nil {
		_ = local.Close()
		return &transport.Error{Op: "download", Err: fmt.Errorf("failed to copy: %w", err), IsTemporary: true}
	}
	if err := local.Close(); err != nil {
		return &transport.Error{Op: "download", Err: err}
	}

	c.logger.Debug().Str("remote", remotePath).Str("local", localPath).Msg("file downloaded")
	return nil
}

// Remove deletes a remote file via SFTP. A missing file is not an
// error.
func (c *Client) Remove(ctx context.Context, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return &transport.Error{Op: "remove", Err: err, IsTemporary: true}
	}

	sftpClient, err := c.newSFTPClient()
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	if err := sftpClient.Remove(remotePath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &transport.Error{Op: "remove", Err: err}
	}

	c.logger.Debug().Str("remote", remotePath).Msg("file removed")
	return nil
}

func (c *Client) newSFTPClient() (*sftp.Client, error) {
	sshClient, err := c.getClient()
	if err != nil {
		return nil, err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, &transport.Error{
			Op:          "sftp",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}
	return sftpClient, nil
}
