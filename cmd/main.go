package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/selectedu/select/internal/adapters/http/api"
	"github.com/selectedu/select/internal/adapters/http/token"
	"github.com/selectedu/select/internal/adapters/mq/queue"
	"github.com/selectedu/select/internal/adapters/repository"
	"github.com/selectedu/select/internal/adapters/ws"
	"github.com/selectedu/select/internal/app"
	"github.com/selectedu/select/internal/config"
	"github.com/selectedu/select/pkg/logger"
	"github.com/selectedu/select/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout          = 10 * time.Second
	writeTimeout         = 10 * time.Second
	idleTimeout          = 60 * time.Second
	readHeaderTimeout    = 5 * time.Second
	shutdownTimeout      = 30 * time.Second
	queueMetricsInterval = 5 * time.Second
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env).
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	store, err := repository.Open(cfg.DBPath)
	if err != nil {
		log.Error(ctx, "failed to open database", logger.Error(err))
		return
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error(ctx, "database close failed", logger.Error(err))
		}
	}()

	tokens, err := token.NewManager(cfg.JWTSecret, cfg.TokenTTL())
	if err != nil {
		log.Error(ctx, "failed to create token manager", logger.Error(err))
		return
	}

	activityQueue := queue.NewInMemoryQueue(queue.WithCapacity(cfg.QueueSize))
	metrics.UpdateQueueCapacity(cfg.QueueSize)

	hub := ws.NewHub(activityQueue, tokens,
		ws.WithAllowedOrigin(cfg.CORSOrigin),
		ws.WithReadLimit(cfg.WSReadLimit),
	)

	tracker := app.NewTracker(activityQueue, hub, store,
		app.WithPollInterval(cfg.PresencePoll()),
		app.WithTimeout(cfg.PresenceTimeout()),
	)
	tracker.Start(ctx)

	dashboard := app.NewDashboard(store, tracker.Registry(),
		app.WithRecencyWindow(cfg.RecencyWindow()),
		app.WithHistoryLimit(cfg.HistoryLimit),
	)

	go startQueueMetricsUpdater(ctx, activityQueue)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/ws", hub)

	apiServer := api.NewServer(store, tokens, dashboard, api.WithCORSOrigin(cfg.CORSOrigin))
	apiServer.Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
		}
	}()

	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	if err := tracker.Stop(shutdownCtx); err != nil {
		log.Error(ctx, "tracker shutdown failed", logger.Error(err))
	}
	if err := activityQueue.Close(); err != nil {
		log.Error(ctx, "queue close failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
}

// startQueueMetricsUpdater samples the activity queue depth.
func startQueueMetricsUpdater(ctx context.Context, q queue.Queue) {
	ticker := time.NewTicker(queueMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateQueueSize(q.Len(ctx))
		}
	}
}
