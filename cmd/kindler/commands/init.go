package commands

import (
	"github.com/spf13/cobra"

	"github.com/embercast/kindler/pkg/engine"
)

func newInitCommand() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Provision the Kubernetes cluster",
		Long: `Init brings the cluster up from bare hosts: node preparation,
containerd, kube tools, control plane init, worker join and the Flux
GitOps bootstrap. Tasks are idempotent; re-running against a healthy
cluster reports no changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGoal(cmd, engine.GoalInit, flags)
		},
	}

	flags.register(cmd)
	return cmd
}
