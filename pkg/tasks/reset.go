package tasks

import (
	"context"
	"fmt"

	"github.com/embercast/kindler/pkg/config"
	"github.com/embercast/kindler/pkg/engine"
	"github.com/embercast/kindler/pkg/inventory"
)

// ResetNode tears a node out of the cluster with kubeadm reset and
// clears the leftover CNI and kubeconfig state.
type ResetNode struct{}

func (t *ResetNode) Name() string { return "reset-node" }

func (t *ResetNode) Description() string {
	return "Reset kubeadm state on the node"
}

func (t *ResetNode) Apply(ctx context.Context, rc *engine.RunContext, host *inventory.Host, conn engine.Conn) (engine.Outcome, error) {
	if !fileExists(ctx, conn, "/etc/kubernetes/kubelet.conf") && !fileExists(ctx, conn, adminConfPath) {
		return engine.OK("node holds no cluster state"), nil
	}

	if _, stderr, err := conn.Sudo(ctx, "kubeadm reset -f"); err != nil {
		return engine.Outcome{}, fmt.Errorf("kubeadm reset failed: %s: %w", lastLines(stderr, 5), err)
	}

	cleanupCmd := "rm -rf /etc/cni/net.d /var/lib/etcd $HOME/.kube " + fluxMarkerPath
	if _, stderr, err := conn.Sudo(ctx, cleanupCmd); err != nil {
		return engine.Outcome{}, fmt.Errorf("failed to clean node state: %s: %w", stderr, err)
	}

	return engine.ChangedOutcome("node reset, cluster state removed"), nil
}

// RemoveKubeconfig deletes the fetched admin kubeconfig from the
// control machine.
type RemoveKubeconfig struct {
	Settings config.KubernetesSettings
}

func (t *RemoveKubeconfig) Name() string { return "remove-kubeconfig" }

func (t *RemoveKubeconfig) Description() string {
	return "Remove the fetched admin kubeconfig from the control machine"
}

func (t *RemoveKubeconfig) Apply(ctx context.Context, rc *engine.RunContext, host *inventory.Host, conn engine.Conn) (engine.Outcome, error) {
	if !fileExists(ctx, conn, t.Settings.KubeconfigPath) {
		return engine.OK("no kubeconfig to remove"), nil
	}
	if err := conn.Remove(ctx, t.Settings.KubeconfigPath); err != nil {
		return engine.Outcome{}, fmt.Errorf("failed to remove kubeconfig: %w", err)
	}
	return engine.ChangedOutcome(fmt.Sprintf("kubeconfig %s removed", t.Settings.KubeconfigPath)), nil
}
