package commands

import (
	"github.com/spf13/cobra"

	"github.com/embercast/kindler/pkg/engine"
)

func newVerifyCommand() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check connectivity and Azure authentication without changing anything",
		Long: `Verify probes every host: internet connectivity everywhere, Azure CLI
session on the control machine and OS facts on the cluster nodes. No
state is modified.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGoal(cmd, engine.GoalVerify, flags)
		},
	}

	flags.register(cmd)
	return cmd
}
