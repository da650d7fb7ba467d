package procurement

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

// Handler wires the procurement lifecycles over HTTP.
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

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermProcurementView, shared.PermProcurementEdit, shared.PermProcurementApprove))
		r.Get("/purchase-requests", h.listPurchaseRequests)
		r.Get("/purchase-requests/{id}", h.getPurchaseRequest)
		r.Get("/purchase-requests/{id}/quotations", h.listQuotations)
		r.Get("/quotations/{id}", h.getQuotation)
		r.Get("/purchase-orders", h.listPurchaseOrders)
		r.Get("/purchase-orders/{id}", h.getPurchaseOrder)
		r.Get("/purchase-orders/{id}/receipts", h.listReceipts)
		r.Get("/goods-receipts/{id}", h.getGoodsReceipt)
		r.Get("/goods-receipts/{id}/returns", h.listReturns)
		r.Get("/goods-returns/{id}", h.getGoodsReturn)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermProcurementEdit))
		r.Post("/purchase-requests", h.createPurchaseRequest)
		r.Post("/purchase-requests/{id}/submit", h.submitPurchaseRequest)
		r.Post("/purchase-requests/{id}/cancel", h.cancelPurchaseRequest)
		r.Post("/quotations", h.createQuotation)
		r.Post("/purchase-orders", h.createPurchaseOrder)
		r.Post("/purchase-orders/{id}/submit", h.submitPurchaseOrder)
		r.Post("/purchase-orders/{id}/cancel", h.cancelPurchaseOrder)
		r.Delete("/purchase-requests/{id}", h.deletePurchaseRequest)
		r.Delete("/purchase-orders/{id}", h.deletePurchaseOrder)
		r.Post("/goods-receipts", h.createGoodsReceipt)
		r.Post("/goods-receipts/{id}/submit", h.submitGoodsReceipt)
		r.Post("/goods-receipts/{id}/cancel", h.cancelGoodsReceipt)
		r.Post("/goods-returns", h.createGoodsReturn)
		r.Post("/goods-returns/{id}/cancel", h.cancelGoodsReturn)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermProcurementApprove))
		r.Post("/purchase-requests/{id}/approve", h.approvePurchaseRequest)
		r.Post("/purchase-requests/{id}/reject", h.rejectPurchaseRequest)
		r.Post("/quotations/{id}/accept", h.acceptQuotation)
		r.Post("/quotations/{id}/reject", h.rejectQuotation)
		r.Post("/purchase-orders/{id}/approve", h.approvePurchaseOrder)
		r.Post("/purchase-orders/{id}/complete", h.completePurchaseOrder)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermWarehouseApprove))
		r.Post("/goods-receipts/{id}/warehouse-approve", h.warehouseApproveGoodsReceipt)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermInventoryApprove))
		r.Post("/goods-receipts/{id}/approve", h.approveGoodsReceipt)
		r.Post("/goods-receipts/{id}/reject", h.rejectGoodsReceipt)
		r.Post("/goods-returns/{id}/approve", h.approveGoodsReturn)
	})
}

func (h *Handler) actor(r *http.Request) (shared.Actor, bool) {
	return shared.ActorFromContext(r.Context())
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// claimIdempotency consumes the request's idempotency key, if any. Returns
// false when the key was already used; the caller must stop.
func (h *Handler) claimIdempotency(w http.ResponseWriter, r *http.Request, module string) bool {
	key := r.Header.Get(idempotencyHeader)
	if key == "" || h.idempotency == nil {
		return true
	}
	if err := h.idempotency.CheckAndInsert(r.Context(), key, module); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) releaseIdempotency(r *http.Request, module string) {
	key := r.Header.Get(idempotencyHeader)
	if key == "" || h.idempotency == nil {
		return
	}
	if err := h.idempotency.Delete(r.Context(), key); err != nil {
		h.logger.Warn("release idempotency key", slog.String("module", module), slog.Any("error", err))
	}
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

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,min=10,max=1000"`
}

// ---------------------------------------------------------------------------
// Purchase requests

type createPRRequest struct {
	ProjectID int64           `json:"project_id" validate:"required"`
	Purpose   string          `json:"purpose" validate:"required,min=10"`
	Items     []prItemRequest `json:"items" validate:"required,min=1,dive"`
}

type prItemRequest struct {
	ItemID         int64   `json:"item_id" validate:"required"`
	Quantity       float64 `json:"quantity" validate:"required,gt=0"`
	UnitCost       float64 `json:"unit_cost" validate:"gte=0"`
	Specifications string  `json:"specifications"`
}

func (h *Handler) createPurchaseRequest(w http.ResponseWriter, r *http.Request) {
	actor, _ := h.actor(r)
	var req createPRRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	if !h.claimIdempotency(w, r, "purchase_request") {
		return
	}
	in := CreatePRInput{ProjectID: req.ProjectID, Purpose: req.Purpose}
	for _, it := range req.Items {
		in.Items = append(in.Items, PRItemInput{
			ItemID:         it.ItemID,
			Quantity:       it.Quantity,
			UnitCost:       it.UnitCost,
			Specifications: it.Specifications,
		})
	}
	pr, err := h.service.CreatePurchaseRequest(r.Context(), actor, in)
	if err != nil {
		h.releaseIdempotency(r, "purchase_request")
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, pr)
}

func (h *Handler) listPurchaseRequests(w http.ResponseWriter, r *http.Request) {
	prs, err := h.service.ListPurchaseRequests(r.Context(), paginationFromQuery(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchase_requests": prs})
}

func (h *Handler) getPurchaseRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	pr, err := h.service.GetPurchaseRequest(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pr)
}

func (h *Handler) submitPurchaseRequest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor shared.Actor, id int64) (any, error) {
		return h.service.SubmitPurchaseRequest(r.Context(), actor, id)
	})
}

func (h *Handler) approvePurchaseRequest(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor shared.Actor, id int64) (any, error) {
		return h.service.ApprovePurchaseRequest(r.Context(), actor, id)
	})
}

func (h *Handler) rejectPurchaseRequest(w http.ResponseWriter, r *http.Request) {
	h.transitionWithReason(w, r, func(actor shared.Actor, id int64, reason string) (any, error) {
		return h.service.RejectPurchaseRequest(r.Context(), actor, id, reason)
	})
}

func (h *Handler) cancelPurchaseRequest(w http.ResponseWriter, r *http.Request) {
	h.transitionWithReason(w, r, func(actor shared.Actor, id int64, reason string) (any, error) {
		return h.service.CancelPurchaseRequest(r.Context(), actor, id, reason)
	})
}

// ---------------------------------------------------------------------------
// Quotations

type createQuotationRequest struct {
	RequestID  int64                  `json:"request_id" validate:"required"`
	SupplierID int64                  `json:"supplier_id" validate:"required"`
	ValidUntil time.Time              `json:"valid_until" validate:"required"`
	Items      []quotationItemRequest `json:"items" validate:"required,min=1,dive"`
}

type quotationItemRequest struct {
	ItemID    int64   `json:"item_id" validate:"required"`
	Quantity  float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
}

func (h *Handler) createQuotation(w http.ResponseWriter, r *http.Request) {
	actor, _ := h.actor(r)
	var req createQuotationRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	if !h.claimIdempotency(w, r, "quotation") {
		return
	}
	in := CreateQuotationInput{RequestID: req.RequestID, SupplierID: req.SupplierID, ValidUntil: req.ValidUntil}
	for _, it := range req.Items {
		in.Items = append(in.Items, QuotationItemInput{ItemID: it.ItemID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	q, err := h.service.CreateQuotation(r.Context(), actor, in)
	if err != nil {
		h.releaseIdempotency(r, "quotation")
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, q)
}

func (h *Handler) listQuotations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	qs, err := h.service.ListQuotationsForRequest(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"quotations": qs})
}

func (h *Handler) getQuotation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	q, err := h.service.GetQuotation(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) acceptQuotation(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor shared.Actor, id int64) (any, error) {
		return h.service.AcceptQuotation(r.Context(), actor, id)
	})
}

func (h *Handler) rejectQuotation(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor shared.Actor, id int64) (any, error) {
		return h.service.RejectQuotation(r.Context(), actor, id)
	})
}

// ---------------------------------------------------------------------------
// Purchase orders

type createPORequest struct {
	QuotationID     int64  `json:"quotation_id" validate:"required"`
	DeliveryAddress string `json:"delivery_address" validate:"required"`
	Draft           bool   `json:"draft"`
}

func (h *Handler) createPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := h.actor(r)
	var req createPORequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	if !h.claimIdempotency(w, r, "purchase_order") {
		return
	}
	po, err := h.service.CreatePurchaseOrder(r.Context(), actor, CreatePOInput{
		QuotationID:     req.QuotationID,
		DeliveryAddress: req.DeliveryAddress,
		Draft:           req.Draft,
	})
	if err != nil {
		h.releaseIdempotency(r, "purchase_order")
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) listPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	pos, err := h.service.ListPurchaseOrders(r.Context(), paginationFromQuery(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchase_orders": pos})
}

func (h *Handler) getPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	po, err := h.service.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) approvePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor shared.Actor, id int64) (any, error) {
		return h.service.ApprovePurchaseOrder(r.Context(), actor, id)
	})
}

func (h *Handler) submitPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor shared.Actor, id int64) (any, error) {
		return h.service.SubmitPurchaseOrder(r.Context(), actor, id)
	})
}

func (h *Handler) completePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor shared.Actor, id int64) (any, error) {
		return h.service.CompletePurchaseOrder(r.Context(), actor, id)
	})
}

func (h *Handler) deletePurchaseRequest(w http.ResponseWriter, r *http.Request) {
	h.remove(w, r, func(actor shared.Actor, id int64) error {
		return h.service.DeletePurchaseRequest(r.Context(), actor, id)
	})
}

func (h *Handler) deletePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	h.remove(w, r, func(actor shared.Actor, id int64) error {
		return h.service.DeletePurchaseOrder(r.Context(), actor, id)
	})
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request, fn func(shared.Actor, int64) error) {
	actor, _ := h.actor(r)
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	if err := fn(actor, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cancelPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	h.transitionWithReason(w, r, func(actor shared.Actor, id int64, reason string) (any, error) {
		return h.service.CancelPurchaseOrder(r.Context(), actor, id, reason)
	})
}

// ---------------------------------------------------------------------------
// Goods receipts

type createGRRequest struct {
	OrderID      int64           `json:"order_id" validate:"required"`
	DeliveryNote string          `json:"delivery_note"`
	Draft        bool            `json:"draft"`
	Items        []grItemRequest `json:"items" validate:"required,min=1,dive"`
}

type grItemRequest struct {
	OrderItemID      int64   `json:"order_item_id" validate:"required"`
	QuantityReceived float64 `json:"quantity_received" validate:"gte=0"`
	QuantityAccepted float64 `json:"quantity_accepted" validate:"gte=0"`
	QuantityRejected float64 `json:"quantity_rejected" validate:"gte=0"`
	RejectionReason  string  `json:"rejection_reason"`
}

func (h *Handler) createGoodsReceipt(w http.ResponseWriter, r *http.Request) {
	actor, _ := h.actor(r)
	var req createGRRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	if !h.claimIdempotency(w, r, "goods_receipt") {
		return
	}
	in := CreateGRInput{OrderID: req.OrderID, DeliveryNote: req.DeliveryNote, Draft: req.Draft}
	for _, it := range req.Items {
		in.Items = append(in.Items, GRItemInput{
			OrderItemID:      it.OrderItemID,
			QuantityReceived: it.QuantityReceived,
			QuantityAccepted: it.QuantityAccepted,
			QuantityRejected: it.QuantityRejected,
			RejectionReason:  it.RejectionReason,
		})
	}
	gr, err := h.service.CreateGoodsReceipt(r.Context(), actor, in)
	if err != nil {
		h.releaseIdempotency(r, "goods_receipt")
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, gr)
}

func (h *Handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	grs, err := h.service.ListReceiptsForOrder(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"goods_receipts": grs})
}

func (h *Handler) getGoodsReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	gr, err := h.service.GetGoodsReceipt(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, gr)
}

func (h *Handler) warehouseApproveGoodsReceipt(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor shared.Actor, id int64) (any, error) {
		return h.service.WarehouseApproveGoodsReceipt(r.Context(), actor, id)
	})
}

type approveGRRequest struct {
	Feedback string `json:"feedback" validate:"max=1000"`
}

func (h *Handler) approveGoodsReceipt(w http.ResponseWriter, r *http.Request) {
	actor, _ := h.actor(r)
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	var req approveGRRequest
	if r.ContentLength > 0 && !h.decodeValid(w, r, &req) {
		return
	}
	if !h.claimIdempotency(w, r, "goods_receipt_approval") {
		return
	}
	gr, err := h.service.ApproveGoodsReceipt(r.Context(), actor, id, req.Feedback)
	if err != nil {
		h.releaseIdempotency(r, "goods_receipt_approval")
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, gr)
}

func (h *Handler) rejectGoodsReceipt(w http.ResponseWriter, r *http.Request) {
	h.transitionWithReason(w, r, func(actor shared.Actor, id int64, reason string) (any, error) {
		return h.service.RejectGoodsReceipt(r.Context(), actor, id, reason)
	})
}

func (h *Handler) submitGoodsReceipt(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor shared.Actor, id int64) (any, error) {
		return h.service.SubmitGoodsReceipt(r.Context(), actor, id)
	})
}

func (h *Handler) cancelGoodsReceipt(w http.ResponseWriter, r *http.Request) {
	h.transitionWithReason(w, r, func(actor shared.Actor, id int64, reason string) (any, error) {
		return h.service.CancelGoodsReceipt(r.Context(), actor, id, reason)
	})
}

// ---------------------------------------------------------------------------
// Goods returns

type createReturnRequest struct {
	ReceiptID int64               `json:"receipt_id" validate:"required"`
	Items     []returnItemRequest `json:"items" validate:"required,min=1,dive"`
}

type returnItemRequest struct {
	ReceiptItemID int64   `json:"receipt_item_id" validate:"required"`
	Quantity      float64 `json:"quantity" validate:"required,gt=0"`
	Reason        string  `json:"reason" validate:"max=1000"`
}

func (h *Handler) createGoodsReturn(w http.ResponseWriter, r *http.Request) {
	actor, _ := h.actor(r)
	var req createReturnRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	if !h.claimIdempotency(w, r, "goods_return") {
		return
	}
	in := CreateReturnInput{ReceiptID: req.ReceiptID}
	for _, it := range req.Items {
		in.Items = append(in.Items, ReturnItemInput{ReceiptItemID: it.ReceiptItemID, Quantity: it.Quantity, Reason: it.Reason})
	}
	ret, err := h.service.CreateGoodsReturn(r.Context(), actor, in)
	if err != nil {
		h.releaseIdempotency(r, "goods_return")
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ret)
}

func (h *Handler) listReturns(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	rets, err := h.service.ListReturnsForReceipt(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"goods_returns": rets})
}

func (h *Handler) getGoodsReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	ret, err := h.service.GetGoodsReturn(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) approveGoodsReturn(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(actor shared.Actor, id int64) (any, error) {
		return h.service.ApproveGoodsReturn(r.Context(), actor, id)
	})
}

func (h *Handler) cancelGoodsReturn(w http.ResponseWriter, r *http.Request) {
	h.transitionWithReason(w, r, func(actor shared.Actor, id int64, reason string) (any, error) {
		return h.service.CancelGoodsReturn(r.Context(), actor, id, reason)
	})
}

// ---------------------------------------------------------------------------
// Helpers

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(shared.Actor, int64) (any, error)) {
	actor, _ := h.actor(r)
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	out, err := fn(actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) transitionWithReason(w http.ResponseWriter, r *http.Request, fn func(shared.Actor, int64, string) (any, error)) {
	actor, _ := h.actor(r)
	id, ok := pathID(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return
	}
	var req reasonRequest
	if !h.decodeValid(w, r, &req) {
		return
	}
	out, err := fn(actor, id, req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func paginationFromQuery(r *http.Request) shared.Pagination {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	return shared.NewPagination(page, perPage, 0)
}
