package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/promptdeck/promptd/internal/api"
	"github.com/promptdeck/promptd/internal/config"
	"github.com/promptdeck/promptd/internal/credential"
	"github.com/promptdeck/promptd/internal/events"
	"github.com/promptdeck/promptd/internal/logger"
	"github.com/promptdeck/promptd/internal/metrics"
	"github.com/promptdeck/promptd/internal/queue"
	"github.com/promptdeck/promptd/internal/storage"
	"github.com/promptdeck/promptd/internal/titlegen"
)

func main() {
	cfg := config.Load()

	startupLog := log.NewWithOptions(os.Stdout, log.Options{
		ReportCaller:    true,
		ReportTimestamp: true,
		Level:           log.InfoLevel,
		TimeFormat:      time.Kitchen,
	})

	appLog := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

	startupLog.Info("Setting Gin mode", "mode", cfg.GinMode)
	gin.SetMode(cfg.GinMode)

	db, err := storage.Open(cfg.DatabaseDSN)
	if err != nil {
		startupLog.Fatal("Failed to open database", "dsn", cfg.DatabaseDSN, "error", err)
	}
	store := storage.NewStore(db, appLog)
	files, err := storage.NewFileStore(cfg.ResultsDir)
	if err != nil {
		startupLog.Fatal("Failed to prepare results directory", "dir", cfg.ResultsDir, "error", err)
	}
	storageSvc := storage.NewService(store, files, appLog)

	// Requests stuck from a previous run are unrecoverable.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if _, err := store.CancelDangling(startupCtx); err != nil {
		startupLog.Error("Failed to cancel dangling requests", "error", err)
	}
	startupCancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	creds := credential.NewService(cfg.CredentialKeyPath, appLog)
	bus := events.NewBus(cfg.EventBufferSize, appLog)
	hub := events.NewHub(bus, appLog)
	hub.Start()

	titles := titlegen.NewService(titlegen.Config{
		Enabled:        cfg.TitleGeneration.Enabled,
		ProviderType:   cfg.TitleGeneration.ProviderType,
		Model:          cfg.TitleGeneration.Model,
		BaseURL:        cfg.TitleGeneration.BaseURL,
		TimeoutSeconds: cfg.TitleGeneration.TimeoutSeconds,
	}, storageSvc, creds, bus, m, appLog)

	processor := queue.NewProcessor(queue.ProcessorConfig{
		Storage:               storageSvc,
		Credentials:           creds,
		Bus:                   bus,
		Titles:                titles,
		Metrics:               m,
		Logger:                appLog,
		DefaultTimeoutSeconds: cfg.DefaultRequestTimeoutSeconds,
	})
	processor.Start()

	router := api.NewRouter(api.Deps{
		Storage:           storageSvc,
		Credentials:       creds,
		Processor:         processor,
		Bus:               bus,
		Hub:               hub,
		Logger:            appLog,
		Registry:          registry,
		RequestTimeoutMin: config.RequestTimeoutMinSeconds,
		RequestTimeoutMax: config.RequestTimeoutMaxSeconds,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			startupLog.Fatal("Failed to start server", "error", err)
		}
	}()

	startupLog.Info("🔁  promptd listening on " + addr)
	startupLog.Info("📦  data directory", "path", cfg.DataDir)
	if cfg.TitleGeneration.Enabled {
		startupLog.Info("🏷️  title generation enabled",
			"provider", cfg.TitleGeneration.ProviderType,
			"model", cfg.TitleGeneration.Model)
	} else {
		startupLog.Info("⚠️  title generation disabled")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	startupLog.Info("🛑 Shutting down server...")

	// Stop accepting work, then let in-flight state settle: processor
	// cancels and persists, titles drain, the hub closes its clients.
	processor.Stop()
	startupLog.Info("✅ Queue processor stopped")

	titles.Shutdown()
	startupLog.Info("✅ Title generation stopped")

	hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		startupLog.Error("Server forced to shutdown", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if _, err := store.CancelDangling(shutdownCtx); err != nil {
		startupLog.Error("Failed to cancel dangling requests", "error", err)
	}
	shutdownCancel()

	if err := db.Close(); err != nil {
		startupLog.Error("Failed to close database", "error", err)
	}

	startupLog.Info("✅ Server exited")
}
