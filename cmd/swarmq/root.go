package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"swarmq/internal/bus"
	"swarmq/internal/queue"
	"swarmq/internal/registry"
	"swarmq/internal/store"
)

var dbPath string

var rootCmd = &cobra.Command{
	Use:           "swarmq",
	Short:         "swarmq - a durable task queue and coordination core for worker agents",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		zerolog.TimeFieldFormat = time.RFC3339
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "swarmq.db", "SQLite DB path")
}

// services opens the shared store and builds the service layer over it.
// Every command talks to the same database file, which is the whole
// multi-process coordination model.
type services struct {
	store    *store.Store
	queue    *queue.Queue
	bus      *bus.Bus
	registry *registry.Registry
}

func openServices() (*services, error) {
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	return &services{
		store:    st,
		queue:    queue.New(st, log.Logger),
		bus:      bus.New(st, log.Logger),
		registry: registry.New(st, log.Logger),
	}, nil
}

func (s *services) Close() {
	_ = s.store.Close()
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
