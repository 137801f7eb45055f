package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/crm-consignado-go/internal/domain"
	"github.com/boddenberg/crm-consignado-go/internal/infra/observability"
	"github.com/boddenberg/crm-consignado-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("handler")

// HealthCheck probes one dependency for /healthz.
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

// Services bundles the use cases exposed over HTTP.
type Services struct {
	Verifier     *service.TokenVerifier
	Provisioner  *service.Provisioner
	Users        *service.UserManager
	Companies    *service.CompanyOnboarding
	Submissions  *service.SubmissionService
	Dashboard    *service.DashboardService
	HealthChecks []HealthCheck
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc Services, allowedOrigins []string, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Client-Info", "Apikey"},
		ExposedHeaders: []string{"Retry-After", "X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(svc.HealthChecks, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(svc.Verifier, logger))

			r.Get("/metrics/orchestration", orchestrationMetricsHandler(metrics))

			// =============================================
			// 1. Provisionamento
			// POST /v1/provisioning/self
			// =============================================
			r.Post("/provisioning/self", provisionSelfHandler(svc.Provisioner, logger))

			// =============================================
			// 2. Administração de usuários e empresas
			// =============================================
			r.Post("/admin/users", addUserHandler(svc.Users, logger))
			r.Post("/admin/users/remove", removeUserHandler(svc.Users, logger))
			r.Post("/admin/companies", createCompanyHandler(svc.Companies, logger))

			// =============================================
			// 3. Propostas (FACTA)
			// =============================================
			r.Post("/proposals/submit", submitProposalHandler(svc.Submissions, logger))
			r.Post("/proposals/status-sync", syncStatusHandler(svc.Submissions, logger))

			// =============================================
			// 4. Dashboard
			// GET /v1/dashboard/sales?month=YYYY-MM
			// =============================================
			r.Get("/dashboard/sales", salesDashboardHandler(svc.Dashboard, logger))
		})
	})

	return r
}

// ============================================================
// Probes & metrics
// ============================================================

func healthzHandler(checks []HealthCheck, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		now := time.Now().Format(time.RFC3339)

		services := make([]domain.ServiceHealth, len(checks)+1)
		services[0] = domain.ServiceHealth{Name: "crm-api", Status: "healthy", LastChecked: now}

		var g errgroup.Group
		for i, c := range checks {
			g.Go(func() error {
				start := time.Now()
				err := c.Ping(ctx)
				status := "healthy"
				if err != nil {
					status = "degraded"
					logger.Warn("health check failed", zap.String("dependency", c.Name), zap.Error(err))
				}
				services[i+1] = domain.ServiceHealth{
					Name: c.Name, Status: status,
					LatencyMs: time.Since(start).Milliseconds(), LastChecked: now,
				}
				return nil
			})
		}
		_ = g.Wait()

		overall := "healthy"
		for _, s := range services {
			if s.Status != "healthy" {
				overall = "degraded"
				break
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{Status: overall, Services: services})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func orchestrationMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}
