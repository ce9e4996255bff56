package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gestor-ciclista/gestor-api/internal/domain"
	"github.com/gestor-ciclista/gestor-api/internal/infra/observability"
	"github.com/gestor-ciclista/gestor-api/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Pinger is a dependency the health probe can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps carries everything the router serves.
type Deps struct {
	Ciclistas *service.CiclistaService
	Invoices  *service.InvoiceService
	Audit     *service.AuditService
	Users     *service.UserService
	Auth      *service.AuthService
	Avatars   *service.AvatarService
	Dashboard *service.DashboardService

	// Store backs /healthz. Nil skips the database check.
	Store       Pinger
	CORSOrigins []string
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
// Routes follow the API contract of the club manager frontend.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := d.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics()
	}

	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger, metrics))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(d.Store, logger))
	r.Get("/readyz", readyzHandler(metrics))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	if d.Auth == nil {
		unavailable := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusServiceUnavailable, "auth service unavailable: Supabase not configured")
		})
		r.Handle("/v1/*", unavailable)
		r.Handle("/api/*", unavailable)
		return r
	}

	authMW := RequireAuth(d.Auth, logger)
	adminMW := RequireAdmin(logger)

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// =============================================
		// Autenticação (public)
		// =============================================
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authLoginHandler(d.Auth, logger))
			r.Post("/register", authRegisterHandler(d.Auth, logger))
			r.Post("/refresh", authRefreshHandler(d.Auth, logger))

			r.Group(func(r chi.Router) {
				r.Use(authMW)
				r.Post("/logout", authLogoutHandler(d.Auth, logger))
			})
		})

		// =============================================
		// Authenticated users
		// =============================================
		r.Group(func(r chi.Router) {
			r.Use(authMW)

			r.Get("/me", meHandler(d.Users, logger))
			r.Get("/dashboard", dashboardHandler(d.Dashboard, logger))

			// Ciclistas
			r.Route("/ciclistas", func(r chi.Router) {
				r.Get("/", listCiclistasHandler(d.Ciclistas, logger))
				r.Post("/", createCiclistaHandler(d.Ciclistas, logger))

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", getCiclistaHandler(d.Ciclistas, logger))
					r.Put("/", updateCiclistaHandler(d.Ciclistas, logger))
					r.With(adminMW).Delete("/", deleteCiclistaHandler(d.Ciclistas, logger))
					r.Get("/detail", ciclistaDetailHandler(d.Ciclistas, logger))
					r.Get("/audit-logs", ciclistaAuditHandler(d.Ciclistas, logger))
					r.Post("/photo", uploadPhotoHandler(d.Avatars, logger))
					r.Delete("/photo", deletePhotoHandler(d.Avatars, logger))
				})
			})

			// Faturas
			r.Route("/invoices", func(r chi.Router) {
				r.Get("/", listInvoicesHandler(d.Invoices, logger))
				r.Post("/", createInvoiceHandler(d.Invoices, logger))
				r.Get("/summary", invoiceSummaryHandler(d.Invoices, logger))

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", getInvoiceHandler(d.Invoices, logger))
					r.Put("/", updateInvoiceHandler(d.Invoices, logger))
					r.With(adminMW).Delete("/", deleteInvoiceHandler(d.Invoices, logger))
					r.Post("/pay", payInvoiceHandler(d.Invoices, logger))
					r.Post("/refund", refundInvoiceHandler(d.Invoices, logger))
				})
			})
		})

		// =============================================
		// Administração
		// =============================================
		r.Route("/admin", func(r chi.Router) {
			r.Use(authMW, adminMW)

			r.Get("/users", listUsersHandler(d.Users, logger))
			r.Post("/users/{id}/promote", promoteUserHandler(d.Users, logger))
			r.Post("/users/{id}/demote", demoteUserHandler(d.Users, logger))
			r.Get("/audit-logs", listAuditLogsHandler(d.Audit, logger))
			r.Post("/invoices/sweep-overdue", sweepOverdueHandler(d.Invoices, logger))
			r.Post("/legacy-clients/import", importLegacyClientsHandler(d.Ciclistas, logger))
		})
	})

	// --- Compatibility routes used by the existing frontend ---
	r.Route("/api", func(r chi.Router) {
		r.Use(authMW, adminMW)

		r.Get("/list-users", listUsersHandler(d.Users, logger))
		r.Post("/promote-admin", promoteUserHandler(d.Users, logger))
		r.Post("/demote-user", demoteUserHandler(d.Users, logger))
		r.Get("/audit-logs", listAuditLogsHandler(d.Audit, logger))
	})

	return r
}

// ============================================================
// Probes
// ============================================================

func healthzHandler(store Pinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "gestor-api", Status: "healthy", LastChecked: now},
		}

		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()

			start := time.Now()
			err := store.Ping(ctx)
			status := "healthy"
			if err != nil {
				status = "degraded"
				logger.Warn("healthz: database ping failed", zap.Error(err))
			}
			services = append(services, domain.ServiceHealth{
				Name: "database", Status: status,
				LatencyMs: time.Since(start).Milliseconds(), LastChecked: now,
			})
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "ready",
			"audit_dropped": metrics.AuditDropped(),
		})
	}
}
