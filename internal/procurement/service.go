package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/forgeline-erp/forgeline-erp/internal/inventory"
	"github.com/forgeline-erp/forgeline-erp/internal/shared"
)

// TxRepository is the transactional surface of the procurement store. It
// embeds the ledger surface so receipt and return approvals post stock in
// the same transaction as the status change.
type TxRepository interface {
	inventory.LedgerTx

	InsertPurchaseRequest(ctx context.Context, pr PurchaseRequest) (int64, error)
	InsertPRItem(ctx context.Context, item PRItem) (int64, error)
	GetPurchaseRequestForUpdate(ctx context.Context, id int64) (PurchaseRequest, error)
	UpdatePurchaseRequest(ctx context.Context, pr PurchaseRequest) error
	CountQuotationsForRequest(ctx context.Context, requestID int64) (int, error)
	DeletePurchaseRequest(ctx context.Context, id int64) error

	InsertQuotation(ctx context.Context, q Quotation) (int64, error)
	InsertQuotationItem(ctx context.Context, item QuotationItem) (int64, error)
	GetQuotationForUpdate(ctx context.Context, id int64) (Quotation, error)
	UpdateQuotation(ctx context.Context, q Quotation) error
	RejectPendingSiblingQuotations(ctx context.Context, requestID, exceptID int64) (int, error)

	InsertPurchaseOrder(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertPOItem(ctx context.Context, item POItem) (int64, error)
	GetPurchaseOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	UpdatePurchaseOrder(ctx context.Context, po PurchaseOrder) error
	HasReceiptWithStatus(ctx context.Context, orderID int64, statuses ...GRStatus) (bool, error)
	DeletePurchaseOrder(ctx context.Context, id int64) error

	InsertGoodsReceipt(ctx context.Context, gr GoodsReceipt) (int64, error)
	InsertGRItem(ctx context.Context, item GRItem) (int64, error)
	GetGoodsReceiptForUpdate(ctx context.Context, id int64) (GoodsReceipt, error)
	UpdateGoodsReceipt(ctx context.Context, gr GoodsReceipt) error
	CountReturnsForReceipt(ctx context.Context, receiptID int64) (int, error)

	InsertGoodsReturn(ctx context.Context, ret GoodsReturn) (int64, error)
	InsertReturnItem(ctx context.Context, item ReturnItem) (int64, error)
	GetGoodsReturnForUpdate(ctx context.Context, id int64) (GoodsReturn, error)
	UpdateGoodsReturn(ctx context.Context, ret GoodsReturn) error
}

// RepositoryPort abstracts the procurement store for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error

	GetPurchaseRequest(ctx context.Context, id int64) (PurchaseRequest, error)
	ListPurchaseRequests(ctx context.Context, p shared.Pagination) ([]PurchaseRequest, error)
	GetQuotation(ctx context.Context, id int64) (Quotation, error)
	ListQuotationsForRequest(ctx context.Context, requestID int64) ([]Quotation, error)
	ListExpiredPendingQuotations(ctx context.Context, asOf time.Time) ([]int64, error)
	GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, p shared.Pagination) ([]PurchaseOrder, error)
	GetGoodsReceipt(ctx context.Context, id int64) (GoodsReceipt, error)
	ListReceiptsForOrder(ctx context.Context, orderID int64) ([]GoodsReceipt, error)
	GetGoodsReturn(ctx context.Context, id int64) (GoodsReturn, error)
	ListReturnsForReceipt(ctx context.Context, receiptID int64) ([]GoodsReturn, error)
}

type approvalSink interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// Approval log entity names.
const (
	entityPurchaseRequest = "purchase_request"
	entityQuotation       = "quotation"
	entityPurchaseOrder   = "purchase_order"
	entityGoodsReceipt    = "goods_receipt"
	entityGoodsReturn     = "goods_return"
)

// Service drives the procurement document lifecycles.
type Service struct {
	repo      RepositoryPort
	approvals approvalSink
	logger    *slog.Logger
	taxRate   float64
}

func NewService(repo RepositoryPort, approvals approvalSink, logger *slog.Logger, taxRate float64) *Service {
	return &Service{repo: repo, approvals: approvals, logger: logger, taxRate: taxRate}
}

func (s *Service) recordApproval(ctx context.Context, entity string, entityID int64, actor shared.Actor, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	if err := s.approvals.Record(ctx, shared.ApprovalLog{
		Entity:   entity,
		EntityID: entityID,
		ActorID:  actor.ID,
		Action:   action,
		Note:     note,
	}); err != nil {
		s.logger.WarnContext(ctx, "record approval", slog.String("entity", entity), slog.Int64("id", entityID), slog.Any("error", err))
	}
}

func validReason(reason string) error {
	n := len(strings.TrimSpace(reason))
	if n < 10 || n > 1000 {
		return fmt.Errorf("procurement: reason must be 10-1000 characters: %w", shared.ErrValidation)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Purchase requests

// CreatePRInput describes a new purchase request.
type CreatePRInput struct {
	ProjectID int64
	Purpose   string
	Items     []PRItemInput
}

// PRItemInput is one requested line.
type PRItemInput struct {
	ItemID         int64
	Quantity       float64
	UnitCost       float64
	Specifications string
}

func (in CreatePRInput) validate() error {
	if in.ProjectID == 0 {
		return fmt.Errorf("procurement: project required: %w", shared.ErrValidation)
	}
	if len(strings.TrimSpace(in.Purpose)) < 10 {
		return fmt.Errorf("procurement: purpose must be at least 10 characters: %w", shared.ErrValidation)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("procurement: at least one item required: %w", shared.ErrValidation)
	}
	for _, it := range in.Items {
		if it.ItemID == 0 {
			return fmt.Errorf("procurement: item reference required: %w", shared.ErrValidation)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("procurement: item quantity must be positive: %w", shared.ErrValidation)
		}
		if it.UnitCost < 0 {
			return fmt.Errorf("procurement: item unit cost must be >= 0: %w", shared.ErrValidation)
		}
	}
	return nil
}

// CreatePurchaseRequest creates a draft request owned by the actor.
func (s *Service) CreatePurchaseRequest(ctx context.Context, actor shared.Actor, in CreatePRInput) (PurchaseRequest, error) {
	if !actor.Can(shared.PermProcurementEdit) {
		return PurchaseRequest{}, fmt.Errorf("procurement: create request: %w", shared.ErrForbidden)
	}
	if err := in.validate(); err != nil {
		return PurchaseRequest{}, err
	}
	now := time.Now().UTC()
	pr := PurchaseRequest{
		Number:      shared.DocumentNumber(shared.PrefixPurchaseRequest),
		ProjectID:   in.ProjectID,
		Purpose:     strings.TrimSpace(in.Purpose),
		Status:      PRDraft,
		RequesterID: actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertPurchaseRequest(ctx, pr)
		if err != nil {
			return err
		}
		pr.ID = id
		for _, it := range in.Items {
			item := PRItem{
				RequestID:      id,
				ItemID:         it.ItemID,
				Quantity:       it.Quantity,
				UnitCost:       it.UnitCost,
				Specifications: it.Specifications,
			}
			itemID, err := tx.InsertPRItem(ctx, item)
			if err != nil {
				return err
			}
			item.ID = itemID
			pr.Items = append(pr.Items, item)
		}
		return nil
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	s.logger.InfoContext(ctx, "purchase request created", slog.Int64("pr_id", pr.ID), slog.String("number", pr.Number))
	return pr, nil
}

// SubmitPurchaseRequest moves a draft request into review.
func (s *Service) SubmitPurchaseRequest(ctx context.Context, actor shared.Actor, id int64) (PurchaseRequest, error) {
	if !actor.Can(shared.PermProcurementEdit) {
		return PurchaseRequest{}, fmt.Errorf("procurement: submit request: %w", shared.ErrForbidden)
	}
	var pr PurchaseRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		pr, err = tx.GetPurchaseRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if pr.Status != PRDraft {
			return fmt.Errorf("procurement: request %s is %s, only draft can be submitted: %w", pr.Number, pr.Status, shared.ErrConflict)
		}
		pr.Status = PRSubmitted
		pr.UpdatedAt = time.Now().UTC()
		return tx.UpdatePurchaseRequest(ctx, pr)
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	s.recordApproval(ctx, entityPurchaseRequest, pr.ID, actor, shared.ApprovalSubmit, "")
	return pr, nil
}

// ApprovePurchaseRequest approves a submitted request. Draft requests must be
// submitted first.
func (s *Service) ApprovePurchaseRequest(ctx context.Context, actor shared.Actor, id int64) (PurchaseRequest, error) {
	if !actor.Can(shared.PermProcurementApprove) {
		return PurchaseRequest{}, fmt.Errorf("procurement: approve request: %w", shared.ErrForbidden)
	}
	var pr PurchaseRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		pr, err = tx.GetPurchaseRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if pr.Status != PRSubmitted {
			return fmt.Errorf("procurement: request %s is %s, only submitted can be approved: %w", pr.Number, pr.Status, shared.ErrConflict)
		}
		now := time.Now().UTC()
		pr.Status = PRApproved
		pr.ApproverID = &actor.ID
		pr.ApprovedAt = &now
		pr.UpdatedAt = now
		return tx.UpdatePurchaseRequest(ctx, pr)
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	s.recordApproval(ctx, entityPurchaseRequest, pr.ID, actor, shared.ApprovalApprove, "")
	return pr, nil
}

// RejectPurchaseRequest rejects a submitted request with a reason.
func (s *Service) RejectPurchaseRequest(ctx context.Context, actor shared.Actor, id int64, reason string) (PurchaseRequest, error) {
	if !actor.Can(shared.PermProcurementApprove) {
		return PurchaseRequest{}, fmt.Errorf("procurement: reject request: %w", shared.ErrForbidden)
	}
	if err := validReason(reason); err != nil {
		return PurchaseRequest{}, err
	}
	var pr PurchaseRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		pr, err = tx.GetPurchaseRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if pr.Status != PRSubmitted {
			return fmt.Errorf("procurement: request %s is %s, only submitted can be rejected: %w", pr.Number, pr.Status, shared.ErrConflict)
		}
		pr.Status = PRRejected
		pr.CancelReason = reason
		pr.UpdatedAt = time.Now().UTC()
		return tx.UpdatePurchaseRequest(ctx, pr)
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	s.recordApproval(ctx, entityPurchaseRequest, pr.ID, actor, shared.ApprovalReject, reason)
	return pr, nil
}

// CancelPurchaseRequest cancels a request that has no quotations yet.
func (s *Service) CancelPurchaseRequest(ctx context.Context, actor shared.Actor, id int64, reason string) (PurchaseRequest, error) {
	if !actor.Can(shared.PermProcurementEdit) {
		return PurchaseRequest{}, fmt.Errorf("procurement: cancel request: %w", shared.ErrForbidden)
	}
	if err := validReason(reason); err != nil {
		return PurchaseRequest{}, err
	}
	var pr PurchaseRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		pr, err = tx.GetPurchaseRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch pr.Status {
		case PRConverted, PRCancelled, PRRejected:
			return fmt.Errorf("procurement: request %s is %s and cannot be cancelled: %w", pr.Number, pr.Status, shared.ErrConflict)
		}
		n, err := tx.CountQuotationsForRequest(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("procurement: request %s has %d quotations and cannot be cancelled: %w", pr.Number, n, shared.ErrConflict)
		}
		pr.Status = PRCancelled
		pr.CancelReason = reason
		pr.UpdatedAt = time.Now().UTC()
		return tx.UpdatePurchaseRequest(ctx, pr)
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	s.recordApproval(ctx, entityPurchaseRequest, pr.ID, actor, shared.ApprovalCancel, reason)
	return pr, nil
}

// GetPurchaseRequest loads one request with its items.
func (s *Service) GetPurchaseRequest(ctx context.Context, id int64) (PurchaseRequest, error) {
	return s.repo.GetPurchaseRequest(ctx, id)
}

// ListPurchaseRequests pages through requests, newest first.
func (s *Service) ListPurchaseRequests(ctx context.Context, p shared.Pagination) ([]PurchaseRequest, error) {
	return s.repo.ListPurchaseRequests(ctx, p)
}

// ---------------------------------------------------------------------------
// Quotations

// CreateQuotationInput describes a supplier quotation for a request.
type CreateQuotationInput struct {
	RequestID  int64
	SupplierID int64
	ValidUntil time.Time
	Items      []QuotationItemInput
}

// QuotationItemInput is one priced line.
type QuotationItemInput struct {
	ItemID    int64
	Quantity  float64
	UnitPrice float64
}

func (in CreateQuotationInput) validate() error {
	if in.RequestID == 0 || in.SupplierID == 0 {
		return fmt.Errorf("procurement: request and supplier required: %w", shared.ErrValidation)
	}
	if in.ValidUntil.IsZero() {
		return fmt.Errorf("procurement: valid_until required: %w", shared.ErrValidation)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("procurement: at least one item required: %w", shared.ErrValidation)
	}
	for _, it := range in.Items {
		if it.ItemID == 0 {
			return fmt.Errorf("procurement: item reference required: %w", shared.ErrValidation)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("procurement: item quantity must be positive: %w", shared.ErrValidation)
		}
		if it.UnitPrice < 0 {
			return fmt.Errorf("procurement: item unit price must be >= 0: %w", shared.ErrValidation)
		}
	}
	return nil
}

// CreateQuotation records a supplier's offer against an approved request.
func (s *Service) CreateQuotation(ctx context.Context, actor shared.Actor, in CreateQuotationInput) (Quotation, error) {
	if !actor.Can(shared.PermProcurementEdit) {
		return Quotation{}, fmt.Errorf("procurement: create quotation: %w", shared.ErrForbidden)
	}
	if err := in.validate(); err != nil {
		return Quotation{}, err
	}
	now := time.Now().UTC()
	q := Quotation{
		Number:     shared.DocumentNumber(shared.PrefixQuotation),
		RequestID:  in.RequestID,
		SupplierID: in.SupplierID,
		Status:     QuotationPending,
		ValidUntil: in.ValidUntil,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, err := tx.GetPurchaseRequestForUpdate(ctx, in.RequestID)
		if err != nil {
			return err
		}
		if pr.Status != PRApproved {
			return fmt.Errorf("procurement: request %s is %s, quotations need an approved request: %w", pr.Number, pr.Status, shared.ErrConflict)
		}
		for _, it := range in.Items {
			q.TotalAmount += it.Quantity * it.UnitPrice
		}
		id, err := tx.InsertQuotation(ctx, q)
		if err != nil {
			return err
		}
		q.ID = id
		for _, it := range in.Items {
			item := QuotationItem{
				QuotationID: id,
				ItemID:      it.ItemID,
				Quantity:    it.Quantity,
				UnitPrice:   it.UnitPrice,
				TotalPrice:  it.Quantity * it.UnitPrice,
			}
			itemID, err := tx.InsertQuotationItem(ctx, item)
			if err != nil {
				return err
			}
			item.ID = itemID
			q.Items = append(q.Items, item)
		}
		return nil
	})
	if err != nil {
		return Quotation{}, err
	}
	s.logger.InfoContext(ctx, "quotation created", slog.Int64("quotation_id", q.ID), slog.Int64("pr_id", q.RequestID))
	return q, nil
}

// AcceptQuotation accepts a pending quotation and rejects its pending
// siblings, so a request never carries two accepted quotations.
func (s *Service) AcceptQuotation(ctx context.Context, actor shared.Actor, id int64) (Quotation, error) {
	if !actor.Can(shared.PermProcurementApprove) {
		return Quotation{}, fmt.Errorf("procurement: accept quotation: %w", shared.ErrForbidden)
	}
	var q Quotation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		q, err = tx.GetQuotationForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if q.Status != QuotationPending {
			return fmt.Errorf("procurement: quotation %s is %s, only pending can be accepted: %w", q.Number, q.Status, shared.ErrConflict)
		}
		q.Status = QuotationAccepted
		q.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateQuotation(ctx, q); err != nil {
			return err
		}
		rejected, err := tx.RejectPendingSiblingQuotations(ctx, q.RequestID, q.ID)
		if err != nil {
			return err
		}
		if rejected > 0 {
			s.logger.InfoContext(ctx, "sibling quotations rejected", slog.Int64("pr_id", q.RequestID), slog.Int("count", rejected))
		}
		return nil
	})
	if err != nil {
		return Quotation{}, err
	}
	s.recordApproval(ctx, entityQuotation, q.ID, actor, shared.ApprovalApprove, "")
	return q, nil
}

// RejectQuotation rejects a pending quotation. Terminal.
func (s *Service) RejectQuotation(ctx context.Context, actor shared.Actor, id int64) (Quotation, error) {
	if !actor.Can(shared.PermProcurementApprove) {
		return Quotation{}, fmt.Errorf("procurement: reject quotation: %w", shared.ErrForbidden)
	}
	var q Quotation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		q, err = tx.GetQuotationForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if q.Status != QuotationPending {
			return fmt.Errorf("procurement: quotation %s is %s, only pending can be rejected: %w", q.Number, q.Status, shared.ErrConflict)
		}
		q.Status = QuotationRejected
		q.UpdatedAt = time.Now().UTC()
		return tx.UpdateQuotation(ctx, q)
	})
	if err != nil {
		return Quotation{}, err
	}
	s.recordApproval(ctx, entityQuotation, q.ID, actor, shared.ApprovalReject, "")
	return q, nil
}

// ExpirePendingQuotations rejects pending quotations whose valid_until date
// has passed. Run by the scheduler.
func (s *Service) ExpirePendingQuotations(ctx context.Context, asOf time.Time) (int, error) {
	ids, err := s.repo.ListExpiredPendingQuotations(ctx, asOf)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, id := range ids {
		if _, err := s.RejectQuotation(ctx, shared.System(), id); err != nil {
			s.logger.WarnContext(ctx, "expire quotation", slog.Int64("quotation_id", id), slog.Any("error", err))
			continue
		}
		expired++
	}
	return expired, nil
}

// GetQuotation loads one quotation with its items.
func (s *Service) GetQuotation(ctx context.Context, id int64) (Quotation, error) {
	return s.repo.GetQuotation(ctx, id)
}

// ListQuotationsForRequest returns a request's quotations for side-by-side
// comparison.
func (s *Service) ListQuotationsForRequest(ctx context.Context, requestID int64) ([]Quotation, error) {
	return s.repo.ListQuotationsForRequest(ctx, requestID)
}

// DeletePurchaseRequest removes a request that no quotation references yet.
func (s *Service) DeletePurchaseRequest(ctx context.Context, actor shared.Actor, id int64) error {
	if !actor.Can(shared.PermProcurementEdit) {
		return fmt.Errorf("procurement: delete request: %w", shared.ErrForbidden)
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, err := tx.GetPurchaseRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		n, err := tx.CountQuotationsForRequest(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("procurement: request %s has %d quotations and cannot be deleted: %w", pr.Number, n, shared.ErrConflict)
		}
		return tx.DeletePurchaseRequest(ctx, pr.ID)
	})
}
