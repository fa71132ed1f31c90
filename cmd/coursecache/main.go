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

	"github.com/coursecache/coursecache/internal/cleanup"
	"github.com/coursecache/coursecache/internal/config"
	"github.com/coursecache/coursecache/internal/downloader"
	"github.com/coursecache/coursecache/internal/http/rest"
	"github.com/coursecache/coursecache/internal/logctx"
	"github.com/coursecache/coursecache/internal/notifier"
	"github.com/coursecache/coursecache/internal/storage"
	"github.com/coursecache/coursecache/internal/storage/sqlite"
	"github.com/coursecache/coursecache/internal/telemetry"
	"github.com/coursecache/coursecache/internal/transfer"
	"github.com/go-chi/chi/v5"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("coursecache starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(telemetry.Config{Enabled: true, ServiceName: "coursecache"})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer tel.Shutdown(ctx)

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}
	defer database.Close()

	catalog := sqlite.NewInstrumentedCatalog(database, tel)

	// =========================================================================
	// Start Download Manager
	events := downloader.NewEvents()
	executor := downloader.NewExecutor(catalog, transfer.NewClient(cfg.TransferTimeout), events, tel, cfg.OfflineRoot)
	scheduler := downloader.NewScheduler(ctx, executor.Run, tel, cfg.MaxConcurrent)
	manager := downloader.NewManager(catalog, executor, scheduler, events)

	// Records stranded in transient states by an unclean shutdown become
	// resumable instead of sitting in 'downloading' forever.
	if _, err := manager.Reconcile(ctx); err != nil {
		return fmt.Errorf("startup reconciliation failed: %w", err)
	}

	// =========================================================================
	// Start Notification
	setupNotification(ctx, manager, cfg)

	// =========================================================================
	// Start Cleanup
	setupCleanup(ctx, catalog, cfg)

	// =========================================================================
	// Start API Service

	// Buffered so the goroutine can exit even if we never collect the error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, manager, tel, cfg)

	go func() {
		logger.Info("initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for download requests...",
		"offline_root", cfg.OfflineRoot,
		"max_concurrent", cfg.MaxConcurrent,
		"transfer_timeout", cfg.TransferTimeout.String(),
	)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

func setupNotification(ctx context.Context, manager *downloader.Manager, cfg *config.Config) {
	if cfg.WebhookURL == "" {
		return
	}

	logger := logctx.LoggerFromContext(ctx)
	notif := &notifier.WebhookNotifier{WebhookURL: cfg.WebhookURL}

	manager.Events().SubscribeStatus(func(ev downloader.StatusEvent) {
		var content string

		switch {
		case ev.Status == storage.StatusCompleted:
			content = "✅ Download completed: " + ev.ID
		case ev.Status == storage.StatusFailed:
			content = "❌ Download failed: " + ev.ID
		default:
			return
		}

		go func() {
			if err := notif.Notify(content); err != nil {
				logger.Error("failed to send notification", "record_id", ev.ID, "err", err)
			}
		}()
	})
}

func setupCleanup(ctx context.Context, catalog storage.Catalog, cfg *config.Config) {
	if cfg.CleanupInterval <= 0 {
		return
	}

	logger := logctx.LoggerFromContext(ctx)

	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("cleanup goroutine shutting down")

				return
			case <-ticker.C:
				if _, err := cleanup.SweepStaleCompleted(ctx, catalog); err != nil {
					logger.Error("failed to sweep stale completed records", "err", err)
				}
			}
		}
	}()
}

func setupServer(ctx context.Context, manager *downloader.Manager, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	handler := rest.NewDownloadHandler(manager)
	middleware := telemetry.NewHTTPMiddleware(tel)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(middleware.Middleware)
	r.Handle("/metrics", tel.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Mount("/", handler.Routes())

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
