package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sitestock/sitestock/internal/auth"
	"github.com/sitestock/sitestock/internal/ledger"
	"github.com/sitestock/sitestock/internal/materials"
	"github.com/sitestock/sitestock/internal/observability"
	"github.com/sitestock/sitestock/internal/projects"
	"github.com/sitestock/sitestock/internal/shared"
	"github.com/sitestock/sitestock/internal/users"
	"github.com/sitestock/sitestock/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	SessionManager   *shared.SessionManager
	AuthHandler      *auth.Handler
	UsersHandler     *users.Handler
	ProjectsHandler  *projects.Handler
	MaterialsHandler *materials.Handler
	LedgerHandler    *ledger.Handler
	JobsHandler      *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	movementGate := writeRoleGate()

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", params.AuthHandler.MountRoutes)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser)

			r.Route("/users", params.UsersHandler.MountRoutes)

			r.Route("/projects", func(r chi.Router) {
				params.ProjectsHandler.MountRoutes(r)
				r.Group(params.MaterialsHandler.MountLinkRoutes)
				r.Group(func(r chi.Router) {
					r.Use(movementGate)
					params.LedgerHandler.MountProjectRoutes(r)
				})
			})

			r.Route("/materials", func(r chi.Router) {
				params.MaterialsHandler.MountRoutes(r)
				r.Group(func(r chi.Router) {
					r.Use(movementGate)
					params.LedgerHandler.MountMaterialRoutes(r)
				})
			})

			r.Route("/inventory", params.LedgerHandler.MountInventoryRoutes)

			if params.JobsHandler != nil {
				r.Route("/jobs", params.JobsHandler.MountRoutes)
			}
		})
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

// writeRoleGate applies the backoffice role requirement to mutating
// requests while leaving reads open to any authenticated user.
func writeRoleGate() func(http.Handler) http.Handler {
	gate := auth.RequireRole(auth.RoleBackoffice)
	return func(next http.Handler) http.Handler {
		gated := gate(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
			default:
				gated.ServeHTTP(w, r)
			}
		})
	}
}
