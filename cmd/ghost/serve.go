package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/ghost/pkg/events"
	"github.com/cuemby/ghost/pkg/log"
	"github.com/cuemby/ghost/pkg/metrics"
	"github.com/cuemby/ghost/pkg/worker"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run queued jobs until interrupted",
	Long: `Poll the job store and run queued jobs on a pool of workers.

Jobs of the same app run one at a time, in creation order. Prometheus
metrics and the /health and /ready endpoints are served on metrics_addr.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("workers", 0, "Override the number of concurrent jobs")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, store, err := setup(cmd)
	if err != nil {
		return err
	}
	defer store.Close()
	if n, _ := cmd.Flags().GetInt("workers"); n > 0 {
		cfg.Workers = n
	}

	logger := log.WithComponent("serve")
	metrics.SetVersion(Version)
	metrics.SetComponent("store", nil)

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	go func() {
		for ev := range sub {
			logger.Debug().
				Str("event", string(ev.Type)).
				Str("job_id", ev.JobID).
				Str("app_id", ev.AppID).
				Str("command", ev.Command).
				Msg(ev.Message)
		}
	}()

	w := worker.NewWorker(&worker.Config{
		Settings: cfg,
		Store:    store,
		Broker:   broker,
	})
	pool := worker.NewPool(w, store, cfg.Workers, cfg.PollInterval)

	server := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metrics.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()
	metrics.SetComponent("worker", nil)
	logger.Info().Str("metrics_addr", cfg.MetricsAddr).Int("workers", cfg.Workers).Msg("Ghost is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("Shutting down")
	}

	metrics.SetComponent("worker", errors.New("shutting down"))
	cancel()
	<-done

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Failed to stop metrics server")
	}
	return runErr
}
