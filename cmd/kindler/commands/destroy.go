package commands

import (
	"github.com/spf13/cobra"

	"github.com/embercast/kindler/pkg/engine"
)

func newDestroyCommand() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Tear the cluster down",
		Long: `Destroy resets every node with kubeadm and removes the fetched
kubeconfig from the control machine. Workers drain before the control
plane goes away.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGoal(cmd, engine.GoalDestroy, flags)
		},
	}

	flags.register(cmd)
	return cmd
}
