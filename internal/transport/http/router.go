// Package httptransport exposes the auth and banking services over HTTP.
// Handlers decode, delegate and render; rules live in the services.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"paybook/internal/platform/metrics"
	"paybook/pkg/platform/httputil"
	"paybook/pkg/platform/middleware/auth"
	"paybook/pkg/platform/middleware/metadata"
	"paybook/pkg/platform/middleware/request"
	"paybook/pkg/platform/middleware/requesttime"
)

const defaultRequestTimeout = 10 * time.Second

// HealthCheck reports whether one dependency is reachable.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type RouterConfig struct {
	Auth           AuthService
	Banking        BankingService
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
	HealthChecks   []HealthCheck
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	authHandler := NewAuthHandler(cfg.Auth, logger)
	bankingHandler := NewBankingHandler(cfg.Banking, logger)
	requireAuth := auth.RequireAuth(cfg.Auth, logger)

	r := chi.NewRouter()
	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(request.Logger(logger))
	r.Use(request.Latency(cfg.Metrics))
	r.Use(request.ContentTypeJSON)

	r.Get("/healthz", healthHandler(cfg.HealthChecks, logger))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Long-lived stream: authenticated but not bounded by the request timeout.
	r.With(requireAuth).Get("/auth/session/events", authHandler.HandleSessionEvents)

	r.Group(func(r chi.Router) {
		r.Use(request.Timeout(timeout))
		authHandler.RegisterPublic(r)
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			authHandler.Register(r)
			bankingHandler.Register(r)
		})
	})
	return r
}

func healthHandler(checks []HealthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := map[string]string{}
		healthy := true
		for _, hc := range checks {
			if err := hc.Check(ctx); err != nil {
				logger.WarnContext(ctx, "health check failed", "dependency", hc.Name, "error", err)
				status[hc.Name] = "unavailable"
				healthy = false
				continue
			}
			status[hc.Name] = "ok"
		}
		code := http.StatusOK
		overall := "ok"
		if !healthy {
			code = http.StatusServiceUnavailable
			overall = "unavailable"
		}
		httputil.WriteJSON(w, code, map[string]any{"status": overall, "dependencies": status})
	}
}
