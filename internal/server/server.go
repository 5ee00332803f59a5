package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nholik/lakehouse-bootstrap/internal/healthcheck"
	"github.com/nholik/lakehouse-bootstrap/internal/metrics"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Config selects which endpoints are exposed and where.
type Config struct {
	HealthPort    int
	MetricsPort   int
	WatchInterval time.Duration
	RunTimeout    time.Duration
}

// Start launches the health and metrics servers. Both share a listener when
// the ports match. Servers stop when ctx is cancelled.
func Start(ctx context.Context, logger zerolog.Logger, cfg Config, tracker *healthcheck.Tracker, collector *metrics.Metrics) {
	if cfg.HealthPort == 0 && cfg.MetricsPort == 0 {
		return
	}

	if cfg.HealthPort > 0 && cfg.HealthPort == cfg.MetricsPort {
		mux := http.NewServeMux()
		registerHealthRoutes(mux, cfg, tracker)
		registerMetricsRoute(mux, collector)
		startServer(ctx, logger, mux, cfg.HealthPort, "health/metrics")
		return
	}

	if cfg.HealthPort > 0 {
		mux := http.NewServeMux()
		registerHealthRoutes(mux, cfg, tracker)
		startServer(ctx, logger, mux, cfg.HealthPort, "health")
	}

	if cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		registerMetricsRoute(mux, collector)
		startServer(ctx, logger, mux, cfg.MetricsPort, "metrics")
	}
}

func registerHealthRoutes(mux *http.ServeMux, cfg Config, tracker *healthcheck.Tracker) {
	mux.HandleFunc("GET /healthz", healthcheck.HealthHandler(tracker, cfg.WatchInterval, cfg.RunTimeout))
	mux.HandleFunc("GET /readyz", healthcheck.ReadyHandler(tracker))
	mux.HandleFunc("GET /report", healthcheck.ReportHandler(tracker))
}

func registerMetricsRoute(mux *http.ServeMux, collector *metrics.Metrics) {
	if collector == nil {
		return
	}
	mux.Handle("GET /metrics", collector.Handler())
}

func startServer(ctx context.Context, logger zerolog.Logger, handler http.Handler, port int, label string) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log := logger.With().Str("server", label).Int("port", port).Logger()

	go func() {
		log.Info().Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server shutdown failed")
		}
	}()
}
