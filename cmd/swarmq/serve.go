package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"swarmq/internal/api"
	"swarmq/internal/scheduler"
	"swarmq/internal/store"
)

var (
	serveAddr        string
	serveDebug       bool
	scheduleInterval time.Duration
	janitorInterval  time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, schedule service, and retention janitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices()
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sched := scheduler.NewService(svc.store, svc.queue, log.Logger, scheduleInterval)
		go sched.Run(ctx)
		go runJanitor(ctx, svc.store, janitorInterval)

		srv := &http.Server{
			Addr:    serveAddr,
			Handler: api.NewServerWithDebug(svc.queue, svc.bus, svc.registry, svc.store, serveDebug),
		}
		go func() {
			log.Info().Str("addr", serveAddr).Msg("HTTP server starting")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal().Err(err).Msg("http server")
			}
		}()

		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		log.Info().Msg("shutting down")
		cancel()
		shutdownCtx, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelTimeout()
		return srv.Shutdown(shutdownCtx)
	},
}

// runJanitor applies retention cleanup on a fixed interval using the
// deployment's configured window.
func runJanitor(ctx context.Context, st *store.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			days := st.ConfigInt(ctx, store.ConfigRetentionDays, 7)
			res, err := st.Cleanup(ctx, days)
			if err != nil {
				log.Error().Err(err).Msg("retention cleanup failed")
				continue
			}
			if res.Tasks > 0 || res.Messages > 0 {
				log.Info().Int("tasks", res.Tasks).Int("messages", res.Messages).Msg("retention cleanup")
			}
		}
	}
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "HTTP bind address")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "enable pprof debug endpoints")
	serveCmd.Flags().DurationVar(&scheduleInterval, "schedule-interval", 15*time.Second, "schedule check interval")
	serveCmd.Flags().DurationVar(&janitorInterval, "janitor-interval", time.Hour, "retention cleanup interval")
	rootCmd.AddCommand(serveCmd)
}
