package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/forgeline-erp/forgeline-erp/internal/shared"
)

// CreatePOInput describes a purchase order built from an accepted quotation.
type CreatePOInput struct {
	QuotationID     int64
	DeliveryAddress string
	// Draft keeps the order in draft for later submission instead of going
	// straight to pending.
	Draft bool
}

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

func poCreateStatus(draft bool) POStatus {
	if draft {
		return PODraft
	}
	return POPending
}

// CreatePurchaseOrder turns a quotation into an order. The quotation's lines
// are copied 1:1, tax is applied on the subtotal, the source request flips to
// converted_to_po and the quotation is marked accepted if it is not already.
func (s *Service) CreatePurchaseOrder(ctx context.Context, actor shared.Actor, in CreatePOInput) (PurchaseOrder, error) {
	if !actor.Can(shared.PermProcurementEdit) {
		return PurchaseOrder{}, fmt.Errorf("procurement: create order: %w", shared.ErrForbidden)
	}
	if in.QuotationID == 0 {
		return PurchaseOrder{}, fmt.Errorf("procurement: quotation required: %w", shared.ErrValidation)
	}
	if strings.TrimSpace(in.DeliveryAddress) == "" {
		return PurchaseOrder{}, fmt.Errorf("procurement: delivery address required: %w", shared.ErrValidation)
	}
	now := time.Now().UTC()
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		q, err := tx.GetQuotationForUpdate(ctx, in.QuotationID)
		if err != nil {
			return err
		}
		if q.Status == QuotationRejected {
			return fmt.Errorf("procurement: quotation %s is rejected: %w", q.Number, shared.ErrConflict)
		}
		pr, err := tx.GetPurchaseRequestForUpdate(ctx, q.RequestID)
		if err != nil {
			return err
		}
		if pr.Status != PRApproved {
			return fmt.Errorf("procurement: request %s is %s, orders need an approved request: %w", pr.Number, pr.Status, shared.ErrConflict)
		}
		var subtotal float64
		for _, it := range q.Items {
			subtotal += it.TotalPrice
		}
		subtotal = roundMoney(subtotal)
		tax := roundMoney(subtotal * s.taxRate)
		po = PurchaseOrder{
			Number:          shared.DocumentNumber(shared.PrefixPurchaseOrder),
			RequestID:       q.RequestID,
			QuotationID:     q.ID,
			Status:          poCreateStatus(in.Draft),
			DeliveryAddress: strings.TrimSpace(in.DeliveryAddress),
			Subtotal:        subtotal,
			TaxAmount:       tax,
			TotalAmount:     roundMoney(subtotal + tax),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		id, err := tx.InsertPurchaseOrder(ctx, po)
		if err != nil {
			return err
		}
		po.ID = id
		for _, it := range q.Items {
			item := POItem{
				OrderID:    id,
				ItemID:     it.ItemID,
				SupplierID: q.SupplierID,
				Quantity:   it.Quantity,
				UnitPrice:  it.UnitPrice,
				TotalPrice: it.TotalPrice,
			}
			itemID, err := tx.InsertPOItem(ctx, item)
			if err != nil {
				return err
			}
			item.ID = itemID
			po.Items = append(po.Items, item)
		}
		if q.Status != QuotationAccepted {
			q.Status = QuotationAccepted
			q.UpdatedAt = now
			if err := tx.UpdateQuotation(ctx, q); err != nil {
				return err
			}
			if _, err := tx.RejectPendingSiblingQuotations(ctx, q.RequestID, q.ID); err != nil {
				return err
			}
		}
		pr.Status = PRConverted
		pr.UpdatedAt = now
		return tx.UpdatePurchaseRequest(ctx, pr)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.logger.InfoContext(ctx, "purchase order created",
		slog.Int64("po_id", po.ID),
		slog.Int64("quotation_id", po.QuotationID),
		slog.Float64("total", po.TotalAmount))
	return po, nil
}

// ApprovePurchaseOrder approves an open order. When the order has no open
// receipt yet, a pending receipt skeleton is created with one line per order
// line, received and accepted defaulted to the ordered quantity.
func (s *Service) ApprovePurchaseOrder(ctx context.Context, actor shared.Actor, id int64) (PurchaseOrder, error) {
	if !actor.Can(shared.PermProcurementApprove) {
		return PurchaseOrder{}, fmt.Errorf("procurement: approve order: %w", shared.ErrForbidden)
	}
	now := time.Now().UTC()
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetPurchaseOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch po.Status {
		case POApproved, POCompleted, POCancelled:
			return fmt.Errorf("procurement: order %s is %s and cannot be approved: %w", po.Number, po.Status, shared.ErrConflict)
		}
		po.Status = POApproved
		po.ApproverID = &actor.ID
		po.ApprovedAt = &now
		po.UpdatedAt = now
		if err := tx.UpdatePurchaseOrder(ctx, po); err != nil {
			return err
		}
		hasOpen, err := tx.HasReceiptWithStatus(ctx, po.ID, GRDraft, GRPending, GRWarehouseApproved)
		if err != nil {
			return err
		}
		if hasOpen {
			return nil
		}
		gr := GoodsReceipt{
			Number:    shared.DocumentNumber(shared.PrefixGoodsReceipt),
			OrderID:   po.ID,
			Status:    GRPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		grID, err := tx.InsertGoodsReceipt(ctx, gr)
		if err != nil {
			return err
		}
		for _, it := range po.Items {
			_, err := tx.InsertGRItem(ctx, GRItem{
				ReceiptID:        grID,
				OrderItemID:      it.ID,
				ItemID:           it.ItemID,
				QuantityOrdered:  it.Quantity,
				QuantityReceived: it.Quantity,
				QuantityAccepted: it.Quantity,
				QuantityRejected: 0,
				UnitCost:         it.UnitPrice,
			})
			if err != nil {
				return err
			}
		}
		s.logger.InfoContext(ctx, "receipt skeleton created", slog.Int64("po_id", po.ID), slog.Int64("gr_id", grID))
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordApproval(ctx, entityPurchaseOrder, po.ID, actor, shared.ApprovalApprove, "")
	return po, nil
}

// CancelPurchaseOrder cancels an order that has no approved receipt and
// re-opens the source quotation for a new order.
func (s *Service) CancelPurchaseOrder(ctx context.Context, actor shared.Actor, id int64, reason string) (PurchaseOrder, error) {
	if !actor.Can(shared.PermProcurementEdit) {
		return PurchaseOrder{}, fmt.Errorf("procurement: cancel order: %w", shared.ErrForbidden)
	}
	if err := validReason(reason); err != nil {
		return PurchaseOrder{}, err
	}
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetPurchaseOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if po.Status == POCancelled || po.Status == POCompleted {
			return fmt.Errorf("procurement: order %s is %s and cannot be cancelled: %w", po.Number, po.Status, shared.ErrConflict)
		}
		approved, err := tx.HasReceiptWithStatus(ctx, po.ID, GRApproved)
		if err != nil {
			return err
		}
		if approved {
			return fmt.Errorf("procurement: order %s has an approved receipt, stock was posted: %w", po.Number, shared.ErrConflict)
		}
		now := time.Now().UTC()
		po.Status = POCancelled
		po.CancelReason = reason
		po.UpdatedAt = now
		if err := tx.UpdatePurchaseOrder(ctx, po); err != nil {
			return err
		}
		return reopenOrderSource(ctx, tx, po, now)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordApproval(ctx, entityPurchaseOrder, po.ID, actor, shared.ApprovalCancel, reason)
	return po, nil
}

// GetPurchaseOrder loads one order with its items.
func (s *Service) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetPurchaseOrder(ctx, id)
}

// ListPurchaseOrders pages through orders, newest first.
func (s *Service) ListPurchaseOrders(ctx context.Context, p shared.Pagination) ([]PurchaseOrder, error) {
	return s.repo.ListPurchaseOrders(ctx, p)
}

// SubmitPurchaseOrder moves a draft order to pending.
func (s *Service) SubmitPurchaseOrder(ctx context.Context, actor shared.Actor, id int64) (PurchaseOrder, error) {
	if !actor.Can(shared.PermProcurementEdit) {
		return PurchaseOrder{}, fmt.Errorf("procurement: submit order: %w", shared.ErrForbidden)
	}
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetPurchaseOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if po.Status != PODraft {
			return fmt.Errorf("procurement: order %s is %s, only draft can be submitted: %w", po.Number, po.Status, shared.ErrConflict)
		}
		po.Status = POPending
		po.UpdatedAt = time.Now().UTC()
		return tx.UpdatePurchaseOrder(ctx, po)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordApproval(ctx, entityPurchaseOrder, po.ID, actor, shared.ApprovalSubmit, "")
	return po, nil
}

// CompletePurchaseOrder closes an approved order. Receipt approval completes
// the order automatically; this covers orders fulfilled outside a receipt.
func (s *Service) CompletePurchaseOrder(ctx context.Context, actor shared.Actor, id int64) (PurchaseOrder, error) {
	if !actor.Can(shared.PermProcurementApprove) {
		return PurchaseOrder{}, fmt.Errorf("procurement: complete order: %w", shared.ErrForbidden)
	}
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetPurchaseOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if po.Status != POApproved {
			return fmt.Errorf("procurement: order %s is %s, only approved can complete: %w", po.Number, po.Status, shared.ErrConflict)
		}
		po.Status = POCompleted
		po.UpdatedAt = time.Now().UTC()
		return tx.UpdatePurchaseOrder(ctx, po)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// reopenOrderSource reverts the order's quotation to pending and its request
// to approved, so the quotation can be converted into a new order.
func reopenOrderSource(ctx context.Context, tx TxRepository, po PurchaseOrder, now time.Time) error {
	q, err := tx.GetQuotationForUpdate(ctx, po.QuotationID)
	if err != nil {
		return err
	}
	if q.Status == QuotationAccepted {
		q.Status = QuotationPending
		q.UpdatedAt = now
		if err := tx.UpdateQuotation(ctx, q); err != nil {
			return err
		}
	}
	pr, err := tx.GetPurchaseRequestForUpdate(ctx, po.RequestID)
	if err != nil {
		return err
	}
	if pr.Status == PRConverted {
		pr.Status = PRApproved
		pr.UpdatedAt = now
		if err := tx.UpdatePurchaseRequest(ctx, pr); err != nil {
			return err
		}
	}
	return nil
}

// DeletePurchaseOrder removes an order under the same guard as cancel: an
// approved receipt means stock was posted and the order must stay. The source
// quotation and request re-open like on cancel.
func (s *Service) DeletePurchaseOrder(ctx context.Context, actor shared.Actor, id int64) error {
	if !actor.Can(shared.PermProcurementEdit) {
		return fmt.Errorf("procurement: delete order: %w", shared.ErrForbidden)
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPurchaseOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		approved, err := tx.HasReceiptWithStatus(ctx, po.ID, GRApproved)
		if err != nil {
			return err
		}
		if approved {
			return fmt.Errorf("procurement: order %s has an approved receipt, stock was posted: %w", po.Number, shared.ErrConflict)
		}
		if err := reopenOrderSource(ctx, tx, po, time.Now().UTC()); err != nil {
			return err
		}
		return tx.DeletePurchaseOrder(ctx, po.ID)
	})
}
