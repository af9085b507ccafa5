package commands

import (
	"github.com/spf13/cobra"

	"github.com/embercast/kindler/pkg/engine"
)

func newArcCommand() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "arc-connect",
		Short: "Connect the cluster to Azure Arc",
		Long: `Arc-connect onboards the provisioned cluster to Azure Arc using the
kubeconfig fetched during init. Requires an authenticated Azure CLI
session on the control machine.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGoal(cmd, engine.GoalArcConnect, flags)
		},
	}

	flags.register(cmd)
	return cmd
}
