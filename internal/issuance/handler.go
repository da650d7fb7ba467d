package issuance

import (
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

const idempotencyHeader = "Idempotency-Key"

// Handler wires the issuance lifecycle over HTTP.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	rbac        rbac.Middleware
	idempotency *shared.IdempotencyStore
	validator   *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, idempotency *shared.IdempotencyStore) *Handler {
	return &Handler{
		logger:      logger,
		service:     service,
		rbac:        rbac,
		idempotency: idempotency,
		validator:   validator.New(),
	}
}

// MountRoutes registers issuance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermIssuanceView, shared.PermIssuanceEdit, shared.PermIssuanceApprove))
		r.Get("/issuances", h.list)
		r.Get("/issuances/{id}", h.get)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermIssuanceEdit))
		r.Post("/issuances", h.create)
		r.Post("/issuances/{id}/deliver", h.markDelivered)
		r.Post("/issuances/{id}/cancel", h.cancel)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermIssuanceApprove))
		r.Post("/issuances/{id}/approve", h.approve)
		r.Post("/issuances/{id}/issue", h.issue)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermWarehouseConfirm))
		r.Post("/issuances/{id}/confirm-received", h.confirmReceived)
	})
}

type createRequest struct {
	ProjectID *int64        `json:"project_id"`
	Type      string        `json:"type" validate:"required"`
	Purpose   string        `json:"purpose" validate:"required,min=10"`
	Items     []itemRequest `json:"items" validate:"required,min=1,dive"`
}

type itemRequest struct {
	ItemID   int64   `json:"item_id" validate:"required"`
	Quantity float64 `json:"quantity" validate:"required,gt=0"`
	UnitCost float64 `json:"unit_cost" validate:"gte=0"`
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	key := r.Header.Get(idempotencyHeader)
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, "material_issuance"); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	in := CreateInput{ProjectID: req.ProjectID, Type: Type(req.Type), Purpose: req.Purpose}
	for _, it := range req.Items {
		in.Items = append(in.Items, ItemInput{ItemID: it.ItemID, Quantity: it.Quantity, UnitCost: it.UnitCost})
	}
	mi, err := h.service.Create(r.Context(), actor, in)
	if err != nil {
		if key != "" && h.idempotency != nil {
			if derr := h.idempotency.Delete(r.Context(), key); derr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", derr))
			}
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, mi)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	mis, err := h.service.List(r.Context(), shared.NewPagination(page, perPage, 0))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"issuances": mis})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	mi, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, mi)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(shared.Actor, int64) (MaterialIssuance, error)) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	mi, err := fn(actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, mi)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor shared.Actor, id int64) (MaterialIssuance, error) {
		return h.service.Approve(r.Context(), actor, id)
	})
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor shared.Actor, id int64) (MaterialIssuance, error) {
		return h.service.Issue(r.Context(), actor, id)
	})
}

func (h *Handler) markDelivered(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor shared.Actor, id int64) (MaterialIssuance, error) {
		return h.service.MarkDelivered(r.Context(), actor, id)
	})
}

type confirmReceivedRequest struct {
	ReceivedAt time.Time `json:"received_at"`
}

func (h *Handler) confirmReceived(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	var req confirmReceivedRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
			return
		}
	}
	mi, err := h.service.ConfirmReceived(r.Context(), actor, id, req.ReceivedAt)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, mi)
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,min=10,max=1000"`
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	actor, _ := shared.ActorFromContext(r.Context())
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	mi, err := h.service.Cancel(r.Context(), actor, id, req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, mi)
}
