package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/forgeline-erp/forgeline-erp/internal/auth"
	"github.com/forgeline-erp/forgeline-erp/internal/inventory"
	"github.com/forgeline-erp/forgeline-erp/internal/issuance"
	"github.com/forgeline-erp/forgeline-erp/internal/platform/httpx"
	"github.com/forgeline-erp/forgeline-erp/internal/procurement"
	"github.com/forgeline-erp/forgeline-erp/internal/projects"
	"github.com/forgeline-erp/forgeline-erp/internal/rbac"
	"github.com/forgeline-erp/forgeline-erp/internal/shared"
	"github.com/forgeline-erp/forgeline-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	RBACMiddleware rbac.Middleware

	AuthHandler        *auth.Handler
	ProcurementHandler *procurement.Handler
	InventoryHandler   *inventory.Handler
	IssuanceHandler    *issuance.Handler
	ProjectsHandler    *projects.Handler
	AdminHandler       *rbac.Handler
	JobsHandler        *jobs.Handler
}

// NewRouter constructs the chi router with the Forgeline defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)
	r.Use(params.RBACMiddleware.ResolveActor)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)
	r.Route("/api/v1", func(api chi.Router) {
		params.ProcurementHandler.MountRoutes(api)
		params.InventoryHandler.MountRoutes(api)
		params.IssuanceHandler.MountRoutes(api)
		params.ProjectsHandler.MountRoutes(api)
		params.AdminHandler.MountRoutes(api)
		api.Route("/jobs", params.JobsHandler.MountRoutes)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no such route")
	})

	return r
}
