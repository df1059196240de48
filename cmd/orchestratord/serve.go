package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/orchestrator/pkg/engine"
	"github.com/cuemby/orchestrator/pkg/log"
	"github.com/cuemby/orchestrator/pkg/metrics"
	"github.com/cuemby/orchestrator/pkg/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator engine and Transport Surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		eng := engine.New(engine.Config{
			DataDir:              cfg.DataDir,
			MaxActiveWorkers:     cfg.MaxActiveWorkers,
			WorkerWallClock:      cfg.WorkerWallClock,
			MemoryLimitBytes:     cfg.MemoryLimitBytes,
			SampleInterval:       cfg.SampleInterval,
			MessageQueueCapacity: cfg.MessageQueueCapacity,
			MessageMaxRetries:    cfg.MessageMaxRetries,
			MessageRetryBase:     cfg.MessageRetryBase,
		})
		if err := eng.Start(); err != nil {
			return fmt.Errorf("start engine: %w", err)
		}
		metrics.SetVersion("0.1.0")
		metrics.RegisterComponent("registry", true, "started")
		metrics.RegisterComponent("supervisor", true, "started")
		metrics.RegisterComponent("messagebus", true, "started")
		metrics.RegisterComponent("consolidator", true, "started")

		srv := transport.NewServer(eng, cfg.BindAddr)
		serveErrC := make(chan error, 1)
		go func() { serveErrC <- srv.Start() }()

		log.Logger.Info().Str("addr", cfg.BindAddr).Msg("orchestratord listening")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		select {
		case <-ctx.Done():
			log.Logger.Info().Msg("shutdown signal received")
		case err := <-serveErrC:
			if err != nil {
				log.Logger.Error().Err(err).Msg("transport server exited unexpectedly")
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			log.Logger.Error().Err(err).Msg("transport server shutdown error")
		}
		eng.Shutdown(shutdownCtx)

		log.Logger.Info().Msg("orchestratord stopped")
		return nil
	},
}
