package inventory

import (
	"net/http"
	"strconv"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/forgeline-erp/forgeline-erp/internal/platform/httpx"
	"github.com/forgeline-erp/forgeline-erp/internal/rbac"
	"github.com/forgeline-erp/forgeline-erp/internal/shared"
)

// Handler exposes the stock ledger over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermInventoryView, shared.PermInventoryApprove))
		r.Get("/inventory/items/{itemID}/balance", h.currentBalance)
		r.Get("/inventory/items/{itemID}/ledger", h.ledger)
		r.Get("/inventory/items/{itemID}/verify", h.verifyLedger)
	})
}

func itemID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) currentBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid item id")
		return
	}
	balance, err := h.service.CurrentBalance(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"item_id": id, "balance": balance})
}

func (h *Handler) ledger(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid item id")
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	movements, err := h.service.Ledger(r.Context(), id, shared.NewPagination(page, perPage, 0))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"item_id": id, "movements": movements})
}

func (h *Handler) verifyLedger(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid item id")
		return
	}
	if err := h.service.VerifyLedger(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"item_id": id, "consistent": true})
}
