package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/embercast/kindler/pkg/engine"
	"github.com/embercast/kindler/pkg/inventory"
)

var (
	kernelModules = []string{"overlay", "br_netfilter"}

	sysctlParams = map[string]string{
		"net.bridge.bridge-nf-call-iptables":  "1",
		"net.bridge.bridge-nf-call-ip6tables": "1",
		"net.ipv4.ip_forward":                 "1",
	}
)

// PrepareNode readies the OS for kubeadm: kernel modules, sysctl
// parameters and swap disabled, all persisted across reboots.
type PrepareNode struct{}

func (t *PrepareNode) Name() string { return "prepare-node" }

func (t *PrepareNode) Description() string {
	return "Load kernel modules, set sysctl parameters and disable swap"
}

func (t *PrepareNode) Apply(ctx context.Context, rc *engine.RunContext, host *inventory.Host, conn engine.Conn) (engine.Outcome, error) {
	changed := false

	for _, mod := range kernelModules {
		if _, _, err := conn.Run(ctx, "lsmod | grep -qw "+mod); err == nil {
			continue
		}
		if _, stderr, err := conn.Sudo(ctx, "modprobe "+mod); err != nil {
			return engine.Outcome{}, fmt.Errorf("failed to load kernel module %s: %s: %w", mod, stderr, err)
		}
		changed = true
	}

	modulesConf := strings.Join(kernelModules, "\n") + "\n"
	modChanged, err := ensureFileContent(ctx, conn, "/etc/modules-load.d/k8s.conf", modulesConf)
	if err != nil {
		return engine.Outcome{}, err
	}

	var b strings.Builder
	// Stable ordering keeps the file comparable between runs.
	for _, key := range []string{
		"net.bridge.bridge-nf-call-iptables",
		"net.bridge.bridge-nf-call-ip6tables",
		"net.ipv4.ip_forward",
	} {
		fmt.Fprintf(&b, "%s = %s\n", key, sysctlParams[key])
	}
	sysctlChanged, err := ensureFileContent(ctx, conn, "/etc/sysctl.d/k8s.conf", b.String())
	if err != nil {
		return engine.Outcome{}, err
	}
	if sysctlChanged {
		if _, stderr, err := conn.Sudo(ctx, "sysctl --system"); err != nil {
			return engine.Outcome{}, fmt.Errorf("failed to reload sysctl: %s: %w", stderr, err)
		}
	}

	swapChanged, err := disableSwap(ctx, conn)
	if err != nil {
		return engine.Outcome{}, err
	}

	changed = changed || modChanged || sysctlChanged || swapChanged
	if changed {
		return engine.ChangedOutcome("node prepared: modules loaded, sysctl set, swap disabled"), nil
	}
	return engine.OK("node already prepared"), nil
}

// ensureFileContent writes content to path only when it differs.
func ensureFileContent(ctx context.Context, conn engine.Conn, path, content string) (bool, error) {
	current, _, err := conn.Run(ctx, "cat "+path)
	if err == nil && strings.TrimSpace(current) == strings.TrimSpace(content) {
		return false, nil
	}

	writeCmd := fmt.Sprintf("sh -c 'printf %%s %q > %s'", content, path)
	if _, stderr, err := conn.Sudo(ctx, writeCmd); err != nil {
		return false, fmt.Errorf("failed to write %s: %s: %w", path, stderr, err)
	}
	return true, nil
}

// disableSwap turns swap off now and comments out swap entries in fstab
// so it stays off.
func disableSwap(ctx context.Context, conn engine.Conn) (bool, error) {
	swapOn, _, err := conn.Run(ctx, "swapon --noheadings --show")
	if err == nil && strings.TrimSpace(swapOn) != "" {
		if _, stderr, err := conn.Sudo(ctx, "swapoff -a"); err != nil {
			return false, fmt.Errorf("failed to disable swap: %s: %w", stderr, err)
		}
		sedCmd := `sed -i -E 's|^([^#].*swap.*)$|# \1|' /etc/fstab`
		if _, stderr, err := conn.Sudo(ctx, sedCmd); err != nil {
			return false, fmt.Errorf("failed to comment swap in fstab: %s: %w", stderr, err)
		}
		return true, nil
	}
	return false, nil
}
