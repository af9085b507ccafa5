package tasks

import (
	"context"
	"fmt"

	"github.com/embercast/kindler/pkg/engine"
	"github.com/embercast/kindler/pkg/inventory"
)

const kubeletConfPath = "/etc/kubernetes/kubelet.conf"

// JoinWorker joins a worker node to the cluster using the join command
// the control-plane init published to the run context.
type JoinWorker struct{}

func (t *JoinWorker) Name() string { return "join-worker" }

func (t *JoinWorker) Description() string {
	return "Join the node to the cluster as a worker"
}

func (t *JoinWorker) Apply(ctx context.Context, rc *engine.RunContext, host *inventory.Host, conn engine.Conn) (engine.Outcome, error) {
	if fileExists(ctx, conn, kubeletConfPath) {
		return engine.OK("node already joined to the cluster"), nil
	}

	joinCmd, ok := rc.Get(KeyJoinCommand)
	if !ok || joinCmd == "" {
		return engine.Outcome{}, fmt.Errorf("no join command available, control plane init must run first")
	}

	if _, stderr, err := conn.Sudo(ctx, joinCmd); err != nil {
		return engine.Outcome{}, fmt.Errorf("kubeadm join failed: %s: %w", lastLines(stderr, 5), err)
	}

	return engine.ChangedOutcome("node joined the cluster"), nil
}
