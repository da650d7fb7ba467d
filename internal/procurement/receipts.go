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

// CreateGRInput describes a manually filed goods receipt.
type CreateGRInput struct {
	OrderID      int64
	DeliveryNote string
	Draft        bool
	Items        []GRItemInput
}

func grCreateStatus(draft bool) GRStatus {
	if draft {
		return GRDraft
	}
	return GRPending
}

// GRItemInput carries the received/accepted/rejected split for one order line.
type GRItemInput struct {
	OrderItemID      int64
	QuantityReceived float64
	QuantityAccepted float64
	QuantityRejected float64
	RejectionReason  string
}

func validateReceiptArithmetic(ordered, received, accepted, rejected float64) error {
	if received < 0 || accepted < 0 || rejected < 0 {
		return fmt.Errorf("procurement: receipt quantities must be >= 0: %w", shared.ErrValidation)
	}
	if accepted+rejected != received {
		return fmt.Errorf("procurement: accepted %.2f + rejected %.2f must equal received %.2f: %w",
			accepted, rejected, received, shared.ErrValidation)
	}
	if received > ordered {
		return fmt.Errorf("procurement: received %.2f exceeds ordered %.2f: %w", received, ordered, shared.ErrValidation)
	}
	return nil
}

// CreateGoodsReceipt files a receipt against an approved order. A second
// receipt is allowed only while no approved receipt exists for the order.
func (s *Service) CreateGoodsReceipt(ctx context.Context, actor shared.Actor, in CreateGRInput) (GoodsReceipt, error) {
	if !actor.Can(shared.PermProcurementEdit) {
		return GoodsReceipt{}, fmt.Errorf("procurement: create receipt: %w", shared.ErrForbidden)
	}
	if in.OrderID == 0 {
		return GoodsReceipt{}, fmt.Errorf("procurement: order required: %w", shared.ErrValidation)
	}
	if len(in.Items) == 0 {
		return GoodsReceipt{}, fmt.Errorf("procurement: at least one item required: %w", shared.ErrValidation)
	}
	now := time.Now().UTC()
	var gr GoodsReceipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPurchaseOrderForUpdate(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if po.Status != POApproved {
			return fmt.Errorf("procurement: order %s is %s, receipts need an approved order: %w", po.Number, po.Status, shared.ErrConflict)
		}
		hasApproved, err := tx.HasReceiptWithStatus(ctx, po.ID, GRApproved)
		if err != nil {
			return err
		}
		if hasApproved {
			return fmt.Errorf("procurement: order %s already has an approved receipt: %w", po.Number, shared.ErrConflict)
		}
		lines := make(map[int64]POItem, len(po.Items))
		for _, it := range po.Items {
			lines[it.ID] = it
		}
		gr = GoodsReceipt{
			Number:       shared.DocumentNumber(shared.PrefixGoodsReceipt),
			OrderID:      po.ID,
			Status:       grCreateStatus(in.Draft),
			DeliveryNote: strings.TrimSpace(in.DeliveryNote),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		id, err := tx.InsertGoodsReceipt(ctx, gr)
		if err != nil {
			return err
		}
		gr.ID = id
		for _, it := range in.Items {
			line, ok := lines[it.OrderItemID]
			if !ok {
				return fmt.Errorf("procurement: order item %d does not belong to order %s: %w", it.OrderItemID, po.Number, shared.ErrValidation)
			}
			if err := validateReceiptArithmetic(line.Quantity, it.QuantityReceived, it.QuantityAccepted, it.QuantityRejected); err != nil {
				return err
			}
			if it.QuantityRejected > 0 && strings.TrimSpace(it.RejectionReason) == "" {
				return fmt.Errorf("procurement: rejection reason required when quantity rejected: %w", shared.ErrValidation)
			}
			item := GRItem{
				ReceiptID:        id,
				OrderItemID:      line.ID,
				ItemID:           line.ItemID,
				QuantityOrdered:  line.Quantity,
				QuantityReceived: it.QuantityReceived,
				QuantityAccepted: it.QuantityAccepted,
				QuantityRejected: it.QuantityRejected,
				UnitCost:         line.UnitPrice,
				RejectionReason:  strings.TrimSpace(it.RejectionReason),
			}
			itemID, err := tx.InsertGRItem(ctx, item)
			if err != nil {
				return err
			}
			item.ID = itemID
			gr.Items = append(gr.Items, item)
		}
		return nil
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.logger.InfoContext(ctx, "goods receipt created", slog.Int64("gr_id", gr.ID), slog.Int64("po_id", gr.OrderID))
	return gr, nil
}

// SubmitGoodsReceipt moves a draft receipt to pending.
func (s *Service) SubmitGoodsReceipt(ctx context.Context, actor shared.Actor, id int64) (GoodsReceipt, error) {
	if !actor.Can(shared.PermProcurementEdit) {
		return GoodsReceipt{}, fmt.Errorf("procurement: submit receipt: %w", shared.ErrForbidden)
	}
	var gr GoodsReceipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		gr, err = tx.GetGoodsReceiptForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if gr.Status != GRDraft {
			return fmt.Errorf("procurement: receipt %s is %s, only draft can be submitted: %w", gr.Number, gr.Status, shared.ErrConflict)
		}
		gr.Status = GRPending
		gr.UpdatedAt = time.Now().UTC()
		return tx.UpdateGoodsReceipt(ctx, gr)
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.recordApproval(ctx, entityGoodsReceipt, gr.ID, actor, shared.ApprovalSubmit, "")
	return gr, nil
}

// WarehouseApproveGoodsReceipt records the optional warehouse-side check
// before the inventory approval.
func (s *Service) WarehouseApproveGoodsReceipt(ctx context.Context, actor shared.Actor, id int64) (GoodsReceipt, error) {
	if !actor.Can(shared.PermWarehouseApprove) {
		return GoodsReceipt{}, fmt.Errorf("procurement: warehouse approve receipt: %w", shared.ErrForbidden)
	}
	var gr GoodsReceipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		gr, err = tx.GetGoodsReceiptForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if gr.Status != GRPending {
			return fmt.Errorf("procurement: receipt %s is %s, only pending can be warehouse approved: %w", gr.Number, gr.Status, shared.ErrConflict)
		}
		now := time.Now().UTC()
		gr.Status = GRWarehouseApproved
		gr.WarehouseApproverID = &actor.ID
		gr.WarehouseApprovedAt = &now
		gr.UpdatedAt = now
		return tx.UpdateGoodsReceipt(ctx, gr)
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.recordApproval(ctx, entityGoodsReceipt, gr.ID, actor, shared.ApprovalApprove, "warehouse")
	return gr, nil
}

// ApproveGoodsReceipt finalizes a receipt and posts one stock-in movement per
// accepted line, in the same transaction. The one-way transition also marks
// the owning order completed.
func (s *Service) ApproveGoodsReceipt(ctx context.Context, actor shared.Actor, id int64, feedback string) (GoodsReceipt, error) {
	if !actor.Can(shared.PermInventoryApprove) {
		return GoodsReceipt{}, fmt.Errorf("procurement: approve receipt: %w", shared.ErrForbidden)
	}
	var gr GoodsReceipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		gr, err = tx.GetGoodsReceiptForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if gr.Status != GRPending && gr.Status != GRWarehouseApproved {
			return fmt.Errorf("procurement: receipt %s is %s and cannot be approved: %w", gr.Number, gr.Status, shared.ErrConflict)
		}
		alreadyApproved, err := tx.HasReceiptWithStatus(ctx, gr.OrderID, GRApproved)
		if err != nil {
			return err
		}
		if alreadyApproved {
			return fmt.Errorf("procurement: order already has an approved receipt: %w", shared.ErrConflict)
		}
		for _, it := range gr.Items {
			if err := validateReceiptArithmetic(it.QuantityOrdered, it.QuantityReceived, it.QuantityAccepted, it.QuantityRejected); err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		gr.Status = GRApproved
		gr.Feedback = strings.TrimSpace(feedback)
		gr.InventoryApproverID = &actor.ID
		gr.InventoryApprovedAt = &now
		gr.UpdatedAt = now
		if err := tx.UpdateGoodsReceipt(ctx, gr); err != nil {
			return err
		}
		for _, it := range gr.Items {
			if it.QuantityAccepted <= 0 {
				continue
			}
			_, err := inventory.Append(ctx, tx, inventory.MovementInput{
				ItemID:   it.ItemID,
				Type:     inventory.MovementStockIn,
				Quantity: it.QuantityAccepted,
				UnitCost: it.UnitCost,
				Ref:      inventory.MovementRef{Kind: inventory.RefGoodsReceipt, ID: gr.ID},
				ActorID:  actor.ID,
			})
			if err != nil {
				return err
			}
		}
		po, err := tx.GetPurchaseOrderForUpdate(ctx, gr.OrderID)
		if err != nil {
			return err
		}
		if po.Status == POApproved {
			po.Status = POCompleted
			po.UpdatedAt = now
			if err := tx.UpdatePurchaseOrder(ctx, po); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.recordApproval(ctx, entityGoodsReceipt, gr.ID, actor, shared.ApprovalApprove, gr.Feedback)
	s.logger.InfoContext(ctx, "goods receipt approved", slog.Int64("gr_id", gr.ID), slog.Int64("po_id", gr.OrderID))
	return gr, nil
}

// RejectGoodsReceipt rejects an open receipt.
func (s *Service) RejectGoodsReceipt(ctx context.Context, actor shared.Actor, id int64, reason string) (GoodsReceipt, error) {
	if !actor.Can(shared.PermInventoryApprove) {
		return GoodsReceipt{}, fmt.Errorf("procurement: reject receipt: %w", shared.ErrForbidden)
	}
	if err := validReason(reason); err != nil {
		return GoodsReceipt{}, err
	}
	var gr GoodsReceipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		gr, err = tx.GetGoodsReceiptForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if gr.Status != GRPending && gr.Status != GRWarehouseApproved {
			return fmt.Errorf("procurement: receipt %s is %s and cannot be rejected: %w", gr.Number, gr.Status, shared.ErrConflict)
		}
		gr.Status = GRRejected
		gr.Feedback = reason
		gr.UpdatedAt = time.Now().UTC()
		return tx.UpdateGoodsReceipt(ctx, gr)
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.recordApproval(ctx, entityGoodsReceipt, gr.ID, actor, shared.ApprovalReject, reason)
	return gr, nil
}

// CancelGoodsReceipt cancels a receipt before stock posting. Receipts with
// posted stock or existing returns stay.
func (s *Service) CancelGoodsReceipt(ctx context.Context, actor shared.Actor, id int64, reason string) (GoodsReceipt, error) {
	if !actor.Can(shared.PermProcurementEdit) {
		return GoodsReceipt{}, fmt.Errorf("procurement: cancel receipt: %w", shared.ErrForbidden)
	}
	if err := validReason(reason); err != nil {
		return GoodsReceipt{}, err
	}
	var gr GoodsReceipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		gr, err = tx.GetGoodsReceiptForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if gr.Status == GRApproved {
			return fmt.Errorf("procurement: receipt %s is approved, stock was posted: %w", gr.Number, shared.ErrConflict)
		}
		if gr.Status == GRCancelled || gr.Status == GRRejected {
			return fmt.Errorf("procurement: receipt %s is already %s: %w", gr.Number, gr.Status, shared.ErrConflict)
		}
		n, err := tx.CountReturnsForReceipt(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("procurement: receipt %s has %d returns and cannot be cancelled: %w", gr.Number, n, shared.ErrConflict)
		}
		gr.Status = GRCancelled
		gr.CancelReason = reason
		gr.UpdatedAt = time.Now().UTC()
		return tx.UpdateGoodsReceipt(ctx, gr)
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.recordApproval(ctx, entityGoodsReceipt, gr.ID, actor, shared.ApprovalCancel, reason)
	return gr, nil
}

// GetGoodsReceipt loads one receipt with its items.
func (s *Service) GetGoodsReceipt(ctx context.Context, id int64) (GoodsReceipt, error) {
	return s.repo.GetGoodsReceipt(ctx, id)
}

// ListReceiptsForOrder returns the order's receipts, newest first.
func (s *Service) ListReceiptsForOrder(ctx context.Context, orderID int64) ([]GoodsReceipt, error) {
	return s.repo.ListReceiptsForOrder(ctx, orderID)
}

// ---------------------------------------------------------------------------
// Goods returns

// CreateReturnInput describes a return of rejected receipt quantities.
type CreateReturnInput struct {
	ReceiptID int64
	Items     []ReturnItemInput
}

// ReturnItemInput is one returned line.
type ReturnItemInput struct {
	ReceiptItemID int64
	Quantity      float64
	Reason        string
}

// CreateGoodsReturn files a return against an approved receipt. Each line
// must reference a receipt line with rejected quantity and stay within it.
func (s *Service) CreateGoodsReturn(ctx context.Context, actor shared.Actor, in CreateReturnInput) (GoodsReturn, error) {
	if !actor.Can(shared.PermProcurementEdit) {
		return GoodsReturn{}, fmt.Errorf("procurement: create return: %w", shared.ErrForbidden)
	}
	if in.ReceiptID == 0 {
		return GoodsReturn{}, fmt.Errorf("procurement: receipt required: %w", shared.ErrValidation)
	}
	if len(in.Items) == 0 {
		return GoodsReturn{}, fmt.Errorf("procurement: at least one item required: %w", shared.ErrValidation)
	}
	now := time.Now().UTC()
	var ret GoodsReturn
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		gr, err := tx.GetGoodsReceiptForUpdate(ctx, in.ReceiptID)
		if err != nil {
			return err
		}
		if gr.Status != GRApproved {
			return fmt.Errorf("procurement: receipt %s is %s, returns need an approved receipt: %w", gr.Number, gr.Status, shared.ErrConflict)
		}
		lines := make(map[int64]GRItem, len(gr.Items))
		for _, it := range gr.Items {
			lines[it.ID] = it
		}
		ret = GoodsReturn{
			Number:    shared.DocumentNumber(shared.PrefixGoodsReturn),
			ReceiptID: gr.ID,
			Status:    ReturnPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		id, err := tx.InsertGoodsReturn(ctx, ret)
		if err != nil {
			return err
		}
		ret.ID = id
		for _, it := range in.Items {
			line, ok := lines[it.ReceiptItemID]
			if !ok {
				return fmt.Errorf("procurement: receipt item %d does not belong to receipt %s: %w", it.ReceiptItemID, gr.Number, shared.ErrValidation)
			}
			if line.QuantityRejected <= 0 {
				return fmt.Errorf("procurement: receipt item %d has no rejected quantity: %w", it.ReceiptItemID, shared.ErrValidation)
			}
			if it.Quantity <= 0 || it.Quantity > line.QuantityRejected {
				return fmt.Errorf("procurement: return quantity %.2f must be within rejected %.2f: %w", it.Quantity, line.QuantityRejected, shared.ErrValidation)
			}
			item := ReturnItem{
				ReturnID:      id,
				ReceiptItemID: line.ID,
				ItemID:        line.ItemID,
				Quantity:      it.Quantity,
				Reason:        strings.TrimSpace(it.Reason),
			}
			itemID, err := tx.InsertReturnItem(ctx, item)
			if err != nil {
				return err
			}
			item.ID = itemID
			ret.Items = append(ret.Items, item)
		}
		return nil
	})
	if err != nil {
		return GoodsReturn{}, err
	}
	s.logger.InfoContext(ctx, "goods return created", slog.Int64("return_id", ret.ID), slog.Int64("gr_id", ret.ReceiptID))
	return ret, nil
}

// ApproveGoodsReturn approves a pending return and posts one stock-out per
// line in the same transaction.
func (s *Service) ApproveGoodsReturn(ctx context.Context, actor shared.Actor, id int64) (GoodsReturn, error) {
	if !actor.Can(shared.PermInventoryApprove) {
		return GoodsReturn{}, fmt.Errorf("procurement: approve return: %w", shared.ErrForbidden)
	}
	var ret GoodsReturn
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ret, err = tx.GetGoodsReturnForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if ret.Status != ReturnPending {
			return fmt.Errorf("procurement: return %s is %s, only pending can be approved: %w", ret.Number, ret.Status, shared.ErrConflict)
		}
		now := time.Now().UTC()
		ret.Status = ReturnApproved
		ret.ApproverID = &actor.ID
		ret.ApprovedAt = &now
		ret.UpdatedAt = now
		if err := tx.UpdateGoodsReturn(ctx, ret); err != nil {
			return err
		}
		for _, it := range ret.Items {
			_, err := inventory.Append(ctx, tx, inventory.MovementInput{
				ItemID:   it.ItemID,
				Type:     inventory.MovementStockOut,
				Quantity: it.Quantity,
				Ref:      inventory.MovementRef{Kind: inventory.RefGoodsReturn, ID: ret.ID},
				Note:     it.Reason,
				ActorID:  actor.ID,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return GoodsReturn{}, err
	}
	s.recordApproval(ctx, entityGoodsReturn, ret.ID, actor, shared.ApprovalApprove, "")
	return ret, nil
}

// CancelGoodsReturn cancels a pending return. Approved returns stay.
func (s *Service) CancelGoodsReturn(ctx context.Context, actor shared.Actor, id int64, reason string) (GoodsReturn, error) {
	if !actor.Can(shared.PermProcurementEdit) {
		return GoodsReturn{}, fmt.Errorf("procurement: cancel return: %w", shared.ErrForbidden)
	}
	if err := validReason(reason); err != nil {
		return GoodsReturn{}, err
	}
	var ret GoodsReturn
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ret, err = tx.GetGoodsReturnForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if ret.Status == ReturnApproved {
			return fmt.Errorf("procurement: return %s is approved, stock was posted: %w", ret.Number, shared.ErrConflict)
		}
		if ret.Status == ReturnCancelled {
			return fmt.Errorf("procurement: return %s is already cancelled: %w", ret.Number, shared.ErrConflict)
		}
		ret.Status = ReturnCancelled
		ret.CancelReason = reason
		ret.UpdatedAt = time.Now().UTC()
		return tx.UpdateGoodsReturn(ctx, ret)
	})
	if err != nil {
		return GoodsReturn{}, err
	}
	s.recordApproval(ctx, entityGoodsReturn, ret.ID, actor, shared.ApprovalCancel, reason)
	return ret, nil
}

// GetGoodsReturn loads one return with its items.
func (s *Service) GetGoodsReturn(ctx context.Context, id int64) (GoodsReturn, error) {
	return s.repo.GetGoodsReturn(ctx, id)
}

// ListReturnsForReceipt returns the receipt's returns, newest first.
func (s *Service) ListReturnsForReceipt(ctx context.Context, receiptID int64) ([]GoodsReturn, error) {
	return s.repo.ListReturnsForReceipt(ctx, receiptID)
}
