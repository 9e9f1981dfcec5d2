package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"swarmq/internal/handlers/httpcall"
	"swarmq/internal/handlers/shell"
	"swarmq/internal/worker"
)

var (
	agentID        string
	agentType      string
	agentPoll      time.Duration
	agentHeartbeat time.Duration
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run a worker agent loop against the shared queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices()
		if err != nil {
			return err
		}
		defer svc.Close()

		handlers := map[string]worker.Handler{
			"shell":    shell.Shell{},
			"httpcall": httpcall.HTTP{},
		}
		runner := worker.NewRunner(svc.queue, svc.registry, handlers, log.Logger, worker.Config{
			AgentID:   agentID,
			AgentType: agentType,
			Poll:      agentPoll,
			Heartbeat: agentHeartbeat,
		})
		log.Info().Str("agent", runner.AgentID()).Msg("agent starting")

		ctx, stop := signalContext(cmd.Context())
		defer stop()
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	agentCmd.Flags().StringVar(&agentID, "id", "", "agent id (generated when empty)")
	agentCmd.Flags().StringVar(&agentType, "type", "worker", "agent type tag")
	agentCmd.Flags().DurationVar(&agentPoll, "poll", 5*time.Second, "poll interval when the queue is empty")
	agentCmd.Flags().DurationVar(&agentHeartbeat, "heartbeat", 10*time.Second, "heartbeat interval")
	rootCmd.AddCommand(agentCmd)
}
