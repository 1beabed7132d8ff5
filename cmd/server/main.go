// Package main is the entry point for the Cerbero trade-execution coordinator.
// It serves trade intents over HTTP, runs the periodic market scan and fans the
// best candidate out to tenants through the dispatch transport.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cerbero/coordinator/internal/config"
	"github.com/cerbero/coordinator/internal/di"
	"github.com/cerbero/coordinator/internal/server"
	"github.com/cerbero/coordinator/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.Pretty,
		File:   cfg.LogFile,
	})

	log.Info().
		Str("data_dir", cfg.DataDir).
		Int("port", cfg.Port).
		Msg("Starting coordinator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer func() {
		if err := container.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close databases")
		}
	}()

	srvCfg := server.Config{
		Log:            log,
		Port:           cfg.Port,
		DevMode:        cfg.DevMode,
		ScanTimeout:    cfg.Scan.Timeout,
		Intents:        container.IntentService,
		Scanner:        container.ScanPipeline,
		Worker:         container.DispatchWorker,
		Feeds:          container.Oracle,
		Ledger:         container.LedgerRepo,
		Signals:        container.SignalRepo,
		Jobs:           container.JobRepo,
		Bus:            container.EventBus,
		Databases:      container.Databases(),
		SettlementMode: container.SettlementMode,
		TransportKind:  container.TransportKind,
	}
	// A nil *ponte.Client must not become a non-nil interface
	if container.SettlementClient != nil {
		srvCfg.Chain = container.SettlementClient
	}
	srv := server.New(srvCfg)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	if container.MemoryTransport != nil {
		container.MemoryTransport.Start()
	}
	container.Scheduler.Start()

	log.Info().
		Str("settlement", container.SettlementMode).
		Str("transport", container.TransportKind).
		Msg("Coordinator started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down coordinator...")
	cancel()

	// Stop producing units first, then drain the ones already queued
	container.Scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if container.MemoryTransport != nil {
		container.MemoryTransport.Stop()
	}

	log.Info().Msg("Coordinator stopped")
}
