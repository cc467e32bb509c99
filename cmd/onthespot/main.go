package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/cleanup"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/config"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/fetch"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/history"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/http/rest"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/logctx"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/notifier"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/pipeline"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/service"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/stagequeue"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/telemetry"
	"github.com/sbisihbsbsbpi/on-the-spot-music/internal/throttle"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("on-the-spot starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := os.MkdirAll(cfg.DownloadDir, 0755); err != nil {
		return fmt.Errorf("failed to create download dir: %w", err)
	}

	// =========================================================================
	// Start Database
	database, err := history.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	repo := history.NewRepository(database)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	// =========================================================================
	// Start Pipeline
	thr := throttle.New(cfg.Throttle.StatsPath, throttle.Config{
		Enabled:            cfg.Throttle.Enabled,
		DownloadDelay:      cfg.Throttle.DownloadDelay,
		MinDelay:           cfg.Throttle.MinDelay,
		MaxPerHour:         cfg.Throttle.MaxPerHour,
		MaxPerDay:          cfg.Throttle.MaxPerDay,
		SessionBreakTracks: cfg.Throttle.SessionBreakTracks,
		SessionBreak:       cfg.Throttle.SessionBreak,
	}, logger)

	registry := service.NewRegistry(service.NewGeneric())
	client := fetch.NewClient(cfg.DownloadDir, cfg.FetchTimeout)
	stages := stagequeue.NewStages()

	retryInterval := cfg.RetryInterval
	if !cfg.EnableRetryWorker {
		retryInterval = 0
	}

	p := pipeline.New(stages, registry, registry, client, thr, repo, tel, pipeline.Options{
		EnricherWorkers:   cfg.EnricherWorkers,
		DownloadWorkers:   cfg.DownloadWorkers,
		MaxEnrichAttempts: cfg.MaxEnrichAttempts,
		ClaimPoll:         cfg.ClaimPoll,
		RetryInterval:     retryInterval,
		ThrottledService:  cfg.ThrottledService,
	})
	p.Start(ctx)

	// =========================================================================
	// Start Notification
	setupNotificationForPipeline(ctx, p.Downloads(), cfg)

	// =========================================================================
	// Start Cleanup
	setupCleanup(ctx, repo, cfg)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, p, repo, thr, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for downloads...",
		"download_dir", cfg.DownloadDir,
		"enricher_workers", cfg.EnricherWorkers,
		"download_workers", cfg.DownloadWorkers,
		"throttle_enabled", cfg.Throttle.Enabled,
	)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		p.Wait()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}

		return nil
	}
}

func setupNotificationForPipeline(ctx context.Context, pool *pipeline.DownloadPool, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	if cfg.DiscordWebhookURL == "" {
		return
	}

	notif := notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)

	go func() {
		for item := range pool.OnItemFailed {
			logger.Error("item download failed", "key", item.Key, "name", item.Name)

			if notifyErr := notif.Notify(ctx, "❌ "+notifier.FailedMessage(item)); notifyErr != nil {
				logger.Error("failed to send notification", "key", item.Key, "err", notifyErr)
			}
		}
	}()

	go func() {
		for item := range pool.OnItemDownloaded {
			logger.Info("item download finished", "key", item.Key, "name", item.Name)

			if notifyErr := notif.Notify(ctx, "✅ "+notifier.DownloadedMessage(item)); notifyErr != nil {
				logger.Error("failed to send notification", "key", item.Key, "err", notifyErr)
			}
		}
	}()
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	p *pipeline.Pipeline,
	repo *history.Repository,
	thr *throttle.Throttle,
	tel *telemetry.Telemetry,
	cfg *config.Config,
) *http.Server {
	handler := rest.NewHandler(cfg.Web.Username, cfg.Web.Password, p, repo, thr)

	r := chi.NewRouter()
	r.Use(tel.Middleware)
	r.Mount("/", handler.Routes())
	r.Handle("/metrics", tel.Handler())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func setupCleanup(ctx context.Context, repo *history.Repository, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	if cfg.KeepDownloadedFor <= 0 {
		return
	}

	go func() {
		cleanupTicker := time.NewTicker(cfg.CleanupInterval)
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("cleanup goroutine shutting down.")

				return
			case <-cleanupTicker.C:
				tracked, err := repo.Downloads(ctx)
				if err != nil {
					logger.Error("failed to get tracked downloads for cleanup", "err", err)

					continue
				}

				if err := cleanup.DeleteExpiredFiles(ctx, tracked, cfg.KeepDownloadedFor); err != nil {
					logger.Error("failed to delete expired tracked files", "err", err)
				}
			}
		}
	}()
}
