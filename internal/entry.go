// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/folio/internal/api"
	"github.com/starford/folio/internal/assembler"
	"github.com/starford/folio/internal/scheduler"
	"github.com/starford/folio/internal/sse"
	"github.com/starford/folio/internal/watch"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{version: "dev"}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := app.logger
	if logger == nil {
		logger = NewLogger(os.Stdout, cfg.App.LogLevel)
	}
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("version", app.version),
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("content_path", cfg.Content.Path),
		slog.Bool("memoize", cfg.Content.Memoize),
		slog.Bool("trusted_html", cfg.Render.TrustedHTML),
		slog.String("log_level", cfg.App.LogLevel.String()))

	pipe, err := NewPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer pipe.Close()
	svc := pipe.Service

	// Ready flips once a collection has been built without error.
	var ready atomic.Bool
	if err := svc.Reload(ctx); err != nil {
		logger.Error("initial build failed", slog.String("error", err.Error()))
	} else {
		ready.Store(true)
	}

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	onReload := func() {
		ready.Store(true)
		broker.PublishReload()
	}

	var sched *scheduler.Scheduler
	if cfg.Content.ReloadCron != "" {
		sched, err = scheduler.New(cfg.Content.ReloadCron, time.Minute, svc, logger, onReload)
		if err != nil {
			return err
		}
	}

	apiRouter := api.NewRouter(svc, pipe.Renderer, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker, onReload)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", readyHandler(&ready))

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Content.Watch {
		g.Go(func() error {
			err := watch.Watch(gCtx, pipe.Store, svc, logger, func(kind, path string) {
				broker.PublishPostEvent(kind, assembler.DeriveID(path), path)
			})
			if err != nil {
				logger.Error("watcher failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	if sched != nil {
		sched.Start()
		logger.Info("Scheduled reload enabled", slog.String("cron", cfg.Content.ReloadCron))
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		if sched != nil {
			if err := sched.Shutdown(); err != nil {
				logger.Error("scheduler shutdown error", slog.String("error", err.Error()))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Stops the watcher when the signal, not the context, ended the run.
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

var errShutdown = errors.New("shutdown")

func readyHandler(ready *atomic.Bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"building"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// ListRouteIDs builds the collection once and returns its route ids.
func ListRouteIDs(ctx context.Context, cfg *Config, logger *slog.Logger) ([]string, error) {
	pipe, err := NewPipeline(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer pipe.Close()
	return pipe.Service.ListRouteIDs(ctx)
}
