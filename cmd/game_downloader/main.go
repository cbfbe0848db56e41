package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/game_downloader/internal/cleanup"
	"github.com/italolelis/game_downloader/internal/config"
	"github.com/italolelis/game_downloader/internal/downloader"
	"github.com/italolelis/game_downloader/internal/http/rest"
	"github.com/italolelis/game_downloader/internal/logctx"
	"github.com/italolelis/game_downloader/internal/notifier"
	"github.com/italolelis/game_downloader/internal/storage"
	"github.com/italolelis/game_downloader/internal/storage/sqlite"
	"github.com/italolelis/game_downloader/internal/telemetry"
	"github.com/italolelis/game_downloader/internal/transfer"
	"golang.org/x/sync/errgroup"
)

const (
	outcomeBuffer = 64
	notifyTimeout = 10 * time.Second
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	logger := slog.New(logctx.NewTraceHandler(handler))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("game downloader starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		DiskPath:       cfg.DownloadDir,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	history := sqlite.NewInstrumentedHistoryRepository(database, tel)

	// =========================================================================
	// Start Download Manager
	client := transfer.NewHTTPClient(transfer.ClientConfig{
		DialTimeout:           cfg.HTTP.DialTimeout,
		TLSHandshakeTimeout:   cfg.HTTP.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.HTTP.ResponseHeaderTimeout,
		IdleConnTimeout:       cfg.HTTP.IdleConnTimeout,
		MaxIdleConnsPerHost:   cfg.HTTP.MaxIdleConnsPerHost,
	})

	hub := rest.NewHub()
	outcomes := newOutcomeQueue()

	manager := downloader.NewManager(ctx, client,
		downloader.MultiSink(hub.Publish, outcomes.sink, debugSink(logger)),
		tel,
		downloader.Settings{
			ProgressInterval: cfg.ProgressInterval,
			SpeedSmoothing:   cfg.SpeedSmoothing,
			UserAgent:        cfg.HTTP.UserAgent,
		},
	)

	// =========================================================================
	// Start Notification
	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}
	}

	// =========================================================================
	// Start API Service
	server := setupServer(ctx, cfg, manager, history, hub, tel)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)

		return nil
	})

	g.Go(func() error {
		outcomes.consume(ctx, history, notif)

		return nil
	})

	g.Go(func() error {
		cleanup.Run(gctx, manager, history, cfg.KeepFinishedFor, cfg.CleanupInterval)

		return nil
	})

	g.Go(func() error {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress, "download_dir", cfg.DownloadDir)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("start shutdown")

		// Give outstanding requests and sessions a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				logger.Error("could not stop server", "err", err)
			}
		}

		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to flush download snapshots", "err", err)
		}

		outcomes.stop()

		return nil
	})

	return g.Wait()
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	manager *downloader.Manager,
	history storage.HistoryRepository,
	hub *rest.Hub,
	tel *telemetry.Telemetry,
) *http.Server {
	dHandler := rest.NewDownloadsHandler(manager, history, hub, cfg.DownloadDir, cfg.API.Username, cfg.API.Password)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", tel.Handler())
	r.Mount("/", dHandler.Routes())

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

func debugSink(logger *slog.Logger) downloader.Sink {
	return func(s downloader.Snapshot) {
		logger.Debug("download snapshot",
			"download_id", s.ID,
			"status", s.Status,
			"percent", s.Percent,
			"transferred", s.Transferred,
			"total", s.Total,
		)
	}
}
