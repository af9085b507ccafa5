package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/embercast/kindler/pkg/engine"
	"github.com/embercast/kindler/pkg/inventory"
)

// SetHostname aligns the system hostname with the inventory id and
// keeps /etc/hosts resolvable.
type SetHostname struct{}

func (t *SetHostname) Name() string { return "set-hostname" }

func (t *SetHostname) Description() string {
	return "Set the system hostname and /etc/hosts entries"
}

func (t *SetHostname) Apply(ctx context.Context, rc *engine.RunContext, host *inventory.Host, conn engine.Conn) (engine.Outcome, error) {
	changed := false

	current, _, err := conn.Run(ctx, "hostname")
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("failed to retrieve hostname: %w", err)
	}
	if strings.TrimSpace(current) != host.ID {
		if _, stderr, err := conn.Sudo(ctx, "hostnamectl set-hostname "+host.ID); err != nil {
			return engine.Outcome{}, fmt.Errorf("failed to set hostname: %s: %w", stderr, err)
		}
		changed = true
	}

	localhostChanged, err := ensureHostsLine(ctx, conn, `^127\.0\.0\.1[[:space:]]+localhost`, "127.0.0.1 localhost")
	if err != nil {
		return engine.Outcome{}, err
	}
	resolutionChanged, err := ensureHostsLine(ctx, conn, `^127\.0\.1\.1[[:space:]]`, "127.0.1.1 "+host.ID)
	if err != nil {
		return engine.Outcome{}, err
	}
	changed = changed || localhostChanged || resolutionChanged

	if changed {
		return engine.ChangedOutcome(fmt.Sprintf("hostname set to %s, /etc/hosts updated", host.ID)), nil
	}
	return engine.OK(fmt.Sprintf("hostname already %s, /etc/hosts correct", host.ID)), nil
}

// ensureHostsLine replaces the line matching pattern in /etc/hosts with
// line, appending it when absent. Returns whether the file changed.
func ensureHostsLine(ctx context.Context, conn engine.Conn, pattern, line string) (bool, error) {
	checkCmd := fmt.Sprintf("grep -qE '^%s$' /etc/hosts", strings.ReplaceAll(line, ".", `\.`))
	if _, _, err := conn.Run(ctx, checkCmd); err == nil {
		return false, nil
	}

	// Replace an existing entry in place, or append a new one.
	if _, _, err := conn.Run(ctx, fmt.Sprintf("grep -qE '%s' /etc/hosts", pattern)); err == nil {
		sedCmd := fmt.Sprintf("sed -i -E 's|%s.*|%s|' /etc/hosts", pattern, line)
		if _, stderr, err := conn.Sudo(ctx, sedCmd); err != nil {
			return false, fmt.Errorf("failed to update /etc/hosts: %s: %w", stderr, err)
		}
		return true, nil
	}

	appendCmd := fmt.Sprintf("sh -c 'echo %q >> /etc/hosts'", line)
	if _, stderr, err := conn.Sudo(ctx, appendCmd); err != nil {
		return false, fmt.Errorf("failed to append to /etc/hosts: %s: %w", stderr, err)
	}
	return true, nil
}
