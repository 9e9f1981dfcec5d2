package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List registered agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices()
		if err != nil {
			return err
		}
		defer svc.Close()

		agents, err := svc.registry.List(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(agents)
	},
}

var agentHealthCmd = &cobra.Command{
	Use:   "agent-health <agent-id>",
	Short: "Report whether an agent's heartbeat is fresh",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices()
		if err != nil {
			return err
		}
		defer svc.Close()

		h, err := svc.registry.CheckHealth(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(string(h))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(agentsCmd, agentHealthCmd)
}
