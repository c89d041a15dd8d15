// Package httptransport assembles the public HTTP surface: the shared
// middleware chain, operational endpoints, and the versioned API mount.
package httptransport

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"guestgate/internal/platform/metrics"
	"guestgate/internal/platform/redis"
	verificationhandler "guestgate/internal/verification/handler"
	"guestgate/pkg/platform/middleware/metadata"
	"guestgate/pkg/platform/middleware/requestid"
	"guestgate/pkg/platform/middleware/requesttime"
)

const healthTimeout = 5 * time.Second

// Deps carries the router's collaborators. Optional fields may be nil: a
// nil Metrics drops instrumentation and the /metrics endpoint, a nil Redis
// or DB skips that dependency's health probe.
type Deps struct {
	Logger       *slog.Logger
	Verification *verificationhandler.Handler
	Metrics      *metrics.Metrics
	Redis        *redis.Client
	DB           *sql.DB
}

// New wires the full router: operational endpoints at the root and the
// verification API under /v1.
func New(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	if deps.Metrics != nil {
		r.Use(metrics.Middleware(deps.Metrics))
	}
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", handleHealth(deps))
	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/v1", func(v1 chi.Router) {
		deps.Verification.Register(v1)
	})

	return r
}

// handleHealth reports the service and its storage dependencies. Any
// unreachable dependency degrades the whole endpoint to 503 so load
// balancers rotate the instance out.
func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		status := http.StatusOK
		checks := map[string]string{"api": "ok"}

		if deps.DB != nil {
			if err := deps.DB.PingContext(ctx); err != nil {
				deps.Logger.ErrorContext(ctx, "health check failed",
					"dependency", "postgres",
					"error", err.Error(),
				)
				checks["postgres"] = "unreachable"
				status = http.StatusServiceUnavailable
			} else {
				checks["postgres"] = "ok"
			}
		}

		if deps.Redis != nil {
			if err := deps.Redis.Health(ctx); err != nil {
				deps.Logger.ErrorContext(ctx, "health check failed",
					"dependency", "redis",
					"error", err.Error(),
				)
				checks["redis"] = "unreachable"
				status = http.StatusServiceUnavailable
			} else {
				checks["redis"] = "ok"
			}
		}

		state := "healthy"
		if status != http.StatusOK {
			state = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": state,
			"checks": checks,
		})
	}
}
