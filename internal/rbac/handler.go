package rbac

import (
	"net/http"
	"strconv"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/forgeline-erp/forgeline-erp/internal/platform/httpx"
	"github.com/forgeline-erp/forgeline-erp/internal/shared"
)

// Handler exposes role administration endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    Middleware
}

func NewHandler(logger *slog.Logger, service *Service, rbac Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers role administration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermProjectsApprove))
		r.Get("/admin/roles", h.listRoles)
		r.Get("/admin/permissions", h.listPermissions)
		r.Post("/admin/users/{userID}/roles/{roleID}", h.assignRole)
		r.Delete("/admin/users/{userID}/roles/{roleID}", h.revokeRole)
	})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, err1 := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	roleID, err2 := strconv.ParseInt(chi.URLParam(r, "roleID"), 10, 64)
	if err1 != nil || err2 != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user or role id")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if err := h.service.AssignRole(r.Context(), actor.ID, userID, roleID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	userID, err1 := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	roleID, err2 := strconv.ParseInt(chi.URLParam(r, "roleID"), 10, 64)
	if err1 != nil || err2 != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid user or role id")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if err := h.service.RevokeRole(r.Context(), actor.ID, userID, roleID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
