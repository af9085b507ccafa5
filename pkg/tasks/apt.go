package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/embercast/kindler/pkg/engine"
)

// commandExists reports whether a binary is on the host's PATH.
func commandExists(ctx context.Context, conn engine.Conn, name string) bool {
	_, _, err := conn.Run(ctx, "command -v "+name)
	return err == nil
}

// fileExists reports whether a path exists on the host.
func fileExists(ctx context.Context, conn engine.Conn, path string) bool {
	_, _, err := conn.Run(ctx, "test -e "+path)
	return err == nil
}

// aptInstall installs packages non-interactively. Returns changed=false
// when every package was already present.
func aptInstall(ctx context.Context, conn engine.Conn, packages ...string) (changed bool, err error) {
	allPresent := true
	for _, pkg := range packages {
		if _, _, err := conn.Run(ctx, "dpkg -s "+pkg); err != nil {
			allPresent = false
			break
		}
	}
	if allPresent {
		return false, nil
	}

	cmd := "DEBIAN_FRONTEND=noninteractive apt-get install -y " + strings.Join(packages, " ")
	if _, stderr, err := conn.Sudo(ctx, cmd); err != nil {
		return false, fmt.Errorf("apt install failed: %s: %w", stderr, err)
	}
	return true, nil
}

// aptUpdate refreshes the package index.
func aptUpdate(ctx context.Context, conn engine.Conn) error {
	if _, stderr, err := conn.Sudo(ctx, "apt-get update"); err != nil {
		return fmt.Errorf("apt update failed: %s: %w", stderr, err)
	}
	return nil
}

// addAptRepository installs a signed apt source. Fetches and dearmors
// the GPG key, writes the sources list entry and refreshes the index.
// Returns changed=false when the source file already exists.
func addAptRepository(ctx context.Context, conn engine.Conn, name, repoLine, gpgKeyURL, gpgKeyPath string) (changed bool, err error) {
	listPath := fmt.Sprintf("/etc/apt/sources.list.d/%s.list", name)
	if fileExists(ctx, conn, listPath) && fileExists(ctx, conn, gpgKeyPath) {
		return false, nil
	}

	if _, stderr, err := conn.Sudo(ctx, "mkdir -p /etc/apt/keyrings"); err != nil {
		return false, fmt.Errorf("failed to create keyrings directory: %s: %w", stderr, err)
	}

	keyCmd := fmt.Sprintf("curl -fsSL %s | gpg --dearmor --yes -o %s", gpgKeyURL, gpgKeyPath)
	if _, stderr, err := conn.Sudo(ctx, fmt.Sprintf("sh -c '%s'", keyCmd)); err != nil {
		return false, fmt.Errorf("failed to fetch GPG key for %s: %s: %w", name, stderr, err)
	}

	writeCmd := fmt.Sprintf("sh -c 'echo %q > %s'", repoLine, listPath)
	if _, stderr, err := conn.Sudo(ctx, writeCmd); err != nil {
		return false, fmt.Errorf("failed to write apt source %s: %s: %w", name, stderr, err)
	}

	if err := aptUpdate(ctx, conn); err != nil {
		return false, err
	}
	return true, nil
}
