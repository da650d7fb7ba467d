package projects

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/forgeline-erp/forgeline-erp/internal/platform/httpx"
	"github.com/forgeline-erp/forgeline-erp/internal/rbac"
	"github.com/forgeline-erp/forgeline-erp/internal/shared"
)

// Handler wires project and change order endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers project routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermProjectsView, shared.PermProjectsEdit, shared.PermProjectsApprove))
		r.Get("/projects", h.list)
		r.Get("/projects/{id}", h.get)
		r.Get("/projects/{id}/history", h.history)
		r.Get("/projects/{id}/change-orders", h.listChangeOrders)
		r.Get("/change-orders/{id}", h.getChangeOrder)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermProjectsEdit))
		r.Post("/projects", h.create)
		r.Put("/projects/{id}", h.update)
		r.Post("/projects/{id}/status", h.updateStatus)
		r.Post("/change-orders", h.createChangeOrder)
		r.Post("/change-orders/{id}/cancel", h.cancelChangeOrder)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermProjectsApprove))
		r.Post("/change-orders/{id}/approve", h.approveChangeOrder)
		r.Post("/change-orders/{id}/reject", h.rejectChangeOrder)
	})
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) decodeValid(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

type createProjectRequest struct {
	Name      string    `json:"name" validate:"required"`
	Code      string    `json:"code" validate:"required,alphanum"`
	ManagerID int64     `json:"manager_id" validate:"required"`
	Budget    float64   `json:"budget" validate:"gte=0"`
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req createProjectRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	p, err := h.service.CreateProject(r.Context(), actor, CreateProjectInput{
		Name:      req.Name,
		Code:      req.Code,
		ManagerID: req.ManagerID,
		Budget:    req.Budget,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	ps, err := h.service.ListProjects(r.Context(), shared.NewPagination(page, perPage, 0))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"projects": ps})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	p, err := h.service.GetProject(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	entries, err := h.service.History(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"history": entries})
}

type updateProjectRequest struct {
	Name      string    `json:"name"`
	ManagerID int64     `json:"manager_id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	var req updateProjectRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	p, err := h.service.UpdateProject(r.Context(), actor, id, UpdateProjectInput{
		Name:      req.Name,
		ManagerID: req.ManagerID,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
	Note   string `json:"note" validate:"max=1000"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	var req updateStatusRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	p, err := h.service.UpdateProjectStatus(r.Context(), actor, id, Status(req.Status), req.Note)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

type createChangeOrderRequest struct {
	ProjectID      int64   `json:"project_id" validate:"required"`
	Description    string  `json:"description" validate:"required,min=10"`
	AdditionalDays int     `json:"additional_days" validate:"gte=0"`
	AdditionalCost float64 `json:"additional_cost" validate:"gte=0"`
}

func (h *Handler) createChangeOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req createChangeOrderRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	co, err := h.service.CreateChangeOrder(r.Context(), actor, CreateChangeOrderInput{
		ProjectID:      req.ProjectID,
		Description:    req.Description,
		AdditionalDays: req.AdditionalDays,
		AdditionalCost: req.AdditionalCost,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, co)
}

func (h *Handler) listChangeOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	cos, err := h.service.ListChangeOrdersForProject(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"change_orders": cos})
}

func (h *Handler) getChangeOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	co, err := h.service.GetChangeOrder(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, co)
}

func (h *Handler) approveChangeOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	co, err := h.service.ApproveChangeOrder(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, co)
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,min=10,max=1000"`
}

func (h *Handler) rejectChangeOrder(w http.ResponseWriter, r *http.Request) {
	h.closeChangeOrder(w, r, h.service.RejectChangeOrder)
}

func (h *Handler) cancelChangeOrder(w http.ResponseWriter, r *http.Request) {
	h.closeChangeOrder(w, r, h.service.CancelChangeOrder)
}

func (h *Handler) closeChangeOrder(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, actor shared.Actor, id int64, reason string) (ChangeOrder, error)) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	var req reasonRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	co, err := fn(r.Context(), actor, id, req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, co)
}
