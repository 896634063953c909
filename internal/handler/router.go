package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/pdv-fiscal-go/internal/domain"
	"github.com/boddenberg/pdv-fiscal-go/internal/infra/observability"
	"github.com/boddenberg/pdv-fiscal-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// HealthCheck probes one dependency for /healthz and /readyz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

const healthCheckTimeout = 2 * time.Second

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc *service.FiscalService, metrics *observability.Metrics, logger *zap.Logger, checks ...HealthCheck) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(checks))
	r.Get("/readyz", readyzHandler(checks))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1/fiscal", func(r chi.Router) {
		r.Use(MaxBodyMiddleware(defaultMaxBodyBytes))

		// Emissão e consulta
		r.Post("/nota", emitInvoiceHandler(svc, logger))
		r.Post("/nota/cancelamento", cancelInvoiceHandler(svc, logger))
		r.Get("/status/{accessKey}", invoiceStatusHandler(svc, logger))

		// Contingência
		r.Get("/contingencia", contingencyListHandler(svc, logger))
		r.Post("/contingencia/replay", contingencyReplayHandler(svc, logger))
		r.Post("/contingencia/flush", contingencyFlushHandler(svc, logger))

		r.Get("/metrics", fiscalMetricsHandler(svc))
	})

	return r
}

// ============================================================
// Health
// ============================================================

func runChecks(ctx context.Context, checks []HealthCheck) domain.HealthStatus {
	now := time.Now().Format(time.RFC3339)
	services := []domain.ServiceHealth{
		{Name: "pdv-fiscal", Status: "healthy", LastChecked: now},
	}

	overall := "healthy"
	for _, c := range checks {
		ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		start := time.Now()
		err := c.Check(ctx)
		cancel()

		sh := domain.ServiceHealth{
			Name:        c.Name,
			Status:      "healthy",
			LatencyMs:   time.Since(start).Milliseconds(),
			LastChecked: now,
		}
		if err != nil {
			sh.Status = "unhealthy"
			sh.Error = err.Error()
			overall = "unhealthy"
		}
		services = append(services, sh)
	}

	return domain.HealthStatus{Status: overall, Services: services}
}

// healthzHandler reports every dependency but always answers 200.
func healthzHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, runChecks(r.Context(), checks))
	}
}

// readyzHandler answers 503 while any dependency fails.
func readyzHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := runChecks(r.Context(), checks)
		if status.Status != "healthy" {
			writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
