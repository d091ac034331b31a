/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     zap request logging with route pattern and status
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for operator tooling

ROUTE GROUPS:
  /api/health           Liveness and store check
  /api/regions/*        Licence documents per region
  /api/bill-runs/*      Bill runs and their review results
  /api/scenarios/*      Demo scenarios
  /metrics              Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RequestObserver records per-request metrics.
type RequestObserver interface {
	ObserveRequest(method, route string, code int, elapsed time.Duration)
}

// RouterConfig carries what the router needs beyond the handler.
type RouterConfig struct {
	AllowedOrigins []string
	Gatherer       prometheus.Gatherer // nil disables /metrics
	Requests       RequestObserver     // may be nil
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.Logger, cfg.Requests))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Licence document routes
		r.Route("/regions/{regionId}/licences", func(r chi.Router) {
			r.Get("/", h.ListLicences)
			r.Post("/", h.StoreLicences)
		})

		// Bill run routes
		r.Route("/bill-runs", func(r chi.Router) {
			r.Get("/", h.ListBillRuns)
			r.Post("/", h.CreateBillRun)
			r.Get("/{id}", h.GetBillRun)
			r.Post("/{id}/process", h.ProcessBillRunHandler)
			r.Get("/{id}/review", h.ListReview)
			r.Get("/{id}/review/{licenceId}", h.GetReview)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// requestLogger logs one line per request with the matched route pattern.
func requestLogger(logger *zap.Logger, requests RequestObserver) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}
			elapsed := time.Since(start)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Int64("duration_ms", elapsed.Milliseconds()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			if status >= http.StatusInternalServerError {
				logger.Error("http request", fields...)
			} else {
				logger.Info("http request", fields...)
			}

			if requests != nil {
				requests.ObserveRequest(r.Method, route, status, elapsed)
			}
		})
	}
}
