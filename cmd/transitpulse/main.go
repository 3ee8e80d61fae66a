package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/transitpulse/internal/common/config"
	"github.com/transitpulse/internal/common/db"
	"github.com/transitpulse/internal/common/discord"
	"github.com/transitpulse/internal/common/logger"
	"github.com/transitpulse/internal/common/metrics"
	gtfs_realtime "github.com/transitpulse/internal/gtfs-realtime"
)

func main() {
	// Load .env when present; a missing file just means the process
	// environment is already populated.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	writers := []io.Writer{logger.ConsoleWriter()}
	if cfg.Logging.FilePath != "" {
		writers = append(writers, logger.FileWriter(cfg.Logging.FilePath))
	}
	log := logger.New(writers...)

	logger.SetLevel(cfg.Logging.Level)
	if cfg.Cycle.Debug {
		logger.SetLevel("debug")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", "error", err)
	}

	log.Info("TransitPulse feed engine starting",
		"schedule_source", cfg.Schedule.Source,
		"output", cfg.Output.Path,
		"cycle_period", cfg.Cycle.Period.String(),
		"log_level", cfg.Logging.Level)

	webhook := discord.NewClient(cfg.Logging.WebhookURL)
	collector := metrics.NewCollector(cfg.Cycle.Period)

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		metricsSrv = collector.Serve(cfg.Metrics.Addr, log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	var journal *db.CycleJournal
	if cfg.Database.Enabled() {
		journal, err = db.NewCycleJournal(ctx, cfg.Database.ConnectionString(), cfg.Database.Retention, log)
		if err != nil {
			// The journal is diagnostic only, never load-bearing.
			log.Warn("Cycle journal disabled", "error", err)
			journal = nil
		} else {
			defer journal.Close()
		}
	}

	engine := gtfs_realtime.NewEngine(cfg, collector, journal, webhook, log)
	if err := engine.Run(ctx); err != nil {
		if werr := webhook.NotifyStartupFailure(err); werr != nil {
			log.Warn("Webhook delivery failed", "error", werr)
		}
		log.Fatal("Engine stopped", "error", err)
	}

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("Metrics server shutdown failed", "error", err)
		}
	}

	log.Info("TransitPulse feed engine stopped")
}
