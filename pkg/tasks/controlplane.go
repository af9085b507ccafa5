package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/embercast/kindler/pkg/config"
	"github.com/embercast/kindler/pkg/engine"
	"github.com/embercast/kindler/pkg/inventory"
)

const (
	adminConfPath     = "/etc/kubernetes/admin.conf"
	kubeadmConfigPath = "/tmp/kindler-kubeadm-config.yaml"
)

// InitControlPlane runs kubeadm init on the first control-plane node,
// fetches the admin kubeconfig to the control machine and publishes the
// worker join command to the run context. The staged kubeadm config is
// removed from the host before the task returns.
type InitControlPlane struct {
	Settings config.KubernetesSettings
}

func (t *InitControlPlane) Name() string { return "init-control-plane" }

func (t *InitControlPlane) Description() string {
	return "Initialize the Kubernetes control plane"
}

func (t *InitControlPlane) Apply(ctx context.Context, rc *engine.RunContext, host *inventory.Host, conn engine.Conn) (engine.Outcome, error) {
	alreadyInit := fileExists(ctx, conn, adminConfPath)

	if !alreadyInit {
		kubeadmConfig := fmt.Sprintf(`apiVersion: kubeadm.k8s.io/v1beta4
kind: InitConfiguration
nodeRegistration:
  name: %q
---
apiVersion: kubeadm.k8s.io/v1beta4
kind: ClusterConfiguration
networking:
  podSubnet: %q
`, host.ID, t.Settings.PodCIDR)

		if _, err := ensureFileContent(ctx, conn, kubeadmConfigPath, kubeadmConfig); err != nil {
			return engine.Outcome{}, err
		}
		// Stop leaving cluster bootstrap parameters on the host
		// regardless of how init goes.
		defer func() { _ = conn.Remove(context.WithoutCancel(ctx), kubeadmConfigPath) }()

		initCmd := fmt.Sprintf("kubeadm init --config %s --upload-certs", kubeadmConfigPath)
		if _, stderr, err := conn.Sudo(ctx, initCmd); err != nil {
			return engine.Outcome{}, fmt.Errorf("kubeadm init failed: %s: %w", lastLines(stderr, 5), err)
		}
	}

	userConfCmd := "mkdir -p $HOME/.kube && sudo cp /etc/kubernetes/admin.conf $HOME/.kube/config && sudo chown $(id -u):$(id -g) $HOME/.kube/config"
	if _, stderr, err := conn.Run(ctx, userConfCmd); err != nil {
		return engine.Outcome{}, fmt.Errorf("failed to set up remote kubeconfig: %s: %w", stderr, err)
	}

	// Fetch the admin kubeconfig through a user-readable copy; the
	// original is root-only over SFTP.
	stagedConf := "/tmp/kindler-admin.conf"
	stageCmd := fmt.Sprintf("sudo cp %s %s && sudo chown $(id -u):$(id -g) %s && chmod 600 %s",
		adminConfPath, stagedConf, stagedConf, stagedConf)
	if _, stderr, err := conn.Run(ctx, stageCmd); err != nil {
		return engine.Outcome{}, fmt.Errorf("failed to stage kubeconfig: %s: %w", stderr, err)
	}
	if err := conn.Download(ctx, stagedConf, t.Settings.KubeconfigPath); err != nil {
		_ = conn.Remove(context.WithoutCancel(ctx), stagedConf)
		return engine.Outcome{}, fmt.Errorf("failed to fetch kubeconfig: %w", err)
	}
	if err := conn.Remove(ctx, stagedConf); err != nil {
		return engine.Outcome{}, fmt.Errorf("failed to remove staged kubeconfig: %w", err)
	}
	rc.Set(KeyKubeconfig, t.Settings.KubeconfigPath)

	if !alreadyInit {
		cniCmd := fmt.Sprintf("KUBECONFIG=$HOME/.kube/config kubectl apply -f %s", t.Settings.CNIManifestURL)
		if _, stderr, err := conn.Run(ctx, cniCmd); err != nil {
			return engine.Outcome{}, fmt.Errorf("failed to install CNI plugin: %s: %w", stderr, err)
		}
	}

	// A fresh token keeps the join command valid for the worker step
	// even on re-runs of an existing cluster.
	joinOut, stderr, err := conn.Sudo(ctx, "kubeadm token create --print-join-command")
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("failed to create join token: %s: %w", stderr, err)
	}
	rc.Set(KeyJoinCommand, strings.TrimSpace(joinOut))

	if alreadyInit {
		return engine.OK("control plane already initialized, kubeconfig refreshed"), nil
	}
	return engine.ChangedOutcome("control plane initialized, kubeconfig fetched"), nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) <= n {
		return strings.TrimSpace(s)
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
