package procurement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgeline-erp/forgeline-erp/internal/inventory"
	"github.com/forgeline-erp/forgeline-erp/internal/platform/db"
	"github.com/forgeline-erp/forgeline-erp/internal/shared"
)

// Repository provides PostgreSQL backed persistence for procurement
// documents.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func notFound(entity string, id int64, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("procurement: %s %d: %w", entity, id, shared.ErrNotFound)
	}
	return fmt.Errorf("procurement: %s %d: %w", entity, id, err)
}

// ---------------------------------------------------------------------------
// Purchase requests

const prColumns = `id, number, project_id, purpose, status, requester_id,
	approver_id, approved_at, cancel_reason, created_at, updated_at`

func scanPR(row pgx.Row) (PurchaseRequest, error) {
	var pr PurchaseRequest
	err := row.Scan(
		&pr.ID, &pr.Number, &pr.ProjectID, &pr.Purpose, &pr.Status, &pr.RequesterID,
		&pr.ApproverID, &pr.ApprovedAt, &pr.CancelReason, &pr.CreatedAt, &pr.UpdatedAt,
	)
	return pr, err
}

func (t *txRepo) InsertPurchaseRequest(ctx context.Context, pr PurchaseRequest) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO purchase_requests (
			number, project_id, purpose, status, requester_id, cancel_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, pr.Number, pr.ProjectID, pr.Purpose, pr.Status, pr.RequesterID, pr.CancelReason, pr.CreatedAt, pr.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert purchase request: %w", err)
	}
	return id, nil
}

func (t *txRepo) InsertPRItem(ctx context.Context, item PRItem) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO purchase_request_items (request_id, item_id, quantity, unit_cost, specifications)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, item.RequestID, item.ItemID, item.Quantity, item.UnitCost, item.Specifications).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert purchase request item: %w", err)
	}
	return id, nil
}

func (t *txRepo) GetPurchaseRequestForUpdate(ctx context.Context, id int64) (PurchaseRequest, error) {
	pr, err := scanPR(t.tx.QueryRow(ctx, `SELECT `+prColumns+` FROM purchase_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return PurchaseRequest{}, notFound("purchase request", id, err)
	}
	pr.Items, err = queryPRItems(ctx, t.tx, id)
	return pr, err
}

func (t *txRepo) UpdatePurchaseRequest(ctx context.Context, pr PurchaseRequest) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE purchase_requests
		SET status = $2, approver_id = $3, approved_at = $4, cancel_reason = $5, updated_at = $6
		WHERE id = $1
	`, pr.ID, pr.Status, pr.ApproverID, pr.ApprovedAt, pr.CancelReason, pr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update purchase request: %w", err)
	}
	return nil
}

func (t *txRepo) CountQuotationsForRequest(ctx context.Context, requestID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM quotations WHERE request_id = $1`, requestID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count quotations: %w", err)
	}
	return n, nil
}

func (r *Repository) GetPurchaseRequest(ctx context.Context, id int64) (PurchaseRequest, error) {
	pr, err := scanPR(r.pool.QueryRow(ctx, `SELECT `+prColumns+` FROM purchase_requests WHERE id = $1`, id))
	if err != nil {
		return PurchaseRequest{}, notFound("purchase request", id, err)
	}
	pr.Items, err = queryPRItems(ctx, r.pool, id)
	return pr, err
}

func (r *Repository) ListPurchaseRequests(ctx context.Context, p shared.Pagination) ([]PurchaseRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+prColumns+` FROM purchase_requests
		ORDER BY id DESC LIMIT $1 OFFSET $2
	`, p.Limit(), p.Offset())
	if err != nil {
		return nil, fmt.Errorf("list purchase requests: %w", err)
	}
	defer rows.Close()
	var out []PurchaseRequest
	for rows.Next() {
		pr, err := scanPR(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase request: %w", err)
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryPRItems(ctx context.Context, q rowQuerier, requestID int64) ([]PRItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, request_id, item_id, quantity, unit_cost, specifications
		FROM purchase_request_items
		WHERE request_id = $1
		ORDER BY id
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list purchase request items: %w", err)
	}
	defer rows.Close()
	var out []PRItem
	for rows.Next() {
		var it PRItem
		if err := rows.Scan(&it.ID, &it.RequestID, &it.ItemID, &it.Quantity, &it.UnitCost, &it.Specifications); err != nil {
			return nil, fmt.Errorf("scan purchase request item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Quotations

const quotationColumns = `id, number, request_id, supplier_id, status, valid_until,
	total_amount, created_at, updated_at`

func scanQuotation(row pgx.Row) (Quotation, error) {
	var q Quotation
	err := row.Scan(
		&q.ID, &q.Number, &q.RequestID, &q.SupplierID, &q.Status, &q.ValidUntil,
		&q.TotalAmount, &q.CreatedAt, &q.UpdatedAt,
	)
	return q, err
}

func queryQuotationItems(ctx context.Context, q rowQuerier, quotationID int64) ([]QuotationItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, quotation_id, item_id, quantity, unit_price, total_price
		FROM quotation_items
		WHERE quotation_id = $1
		ORDER BY id
	`, quotationID)
	if err != nil {
		return nil, fmt.Errorf("list quotation items: %w", err)
	}
	defer rows.Close()
	var out []QuotationItem
	for rows.Next() {
		var it QuotationItem
		if err := rows.Scan(&it.ID, &it.QuotationID, &it.ItemID, &it.Quantity, &it.UnitPrice, &it.TotalPrice); err != nil {
			return nil, fmt.Errorf("scan quotation item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (t *txRepo) InsertQuotation(ctx context.Context, q Quotation) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO quotations (number, request_id, supplier_id, status, valid_until, total_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, q.Number, q.RequestID, q.SupplierID, q.Status, q.ValidUntil, q.TotalAmount, q.CreatedAt, q.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert quotation: %w", err)
	}
	return id, nil
}

func (t *txRepo) InsertQuotationItem(ctx context.Context, item QuotationItem) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO quotation_items (quotation_id, item_id, quantity, unit_price, total_price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, item.QuotationID, item.ItemID, item.Quantity, item.UnitPrice, item.TotalPrice).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert quotation item: %w", err)
	}
	return id, nil
}

func (t *txRepo) GetQuotationForUpdate(ctx context.Context, id int64) (Quotation, error) {
	q, err := scanQuotation(t.tx.QueryRow(ctx, `SELECT `+quotationColumns+` FROM quotations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Quotation{}, notFound("quotation", id, err)
	}
	q.Items, err = queryQuotationItems(ctx, t.tx, id)
	return q, err
}

func (t *txRepo) UpdateQuotation(ctx context.Context, q Quotation) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE quotations SET status = $2, updated_at = $3 WHERE id = $1
	`, q.ID, q.Status, q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update quotation: %w", err)
	}
	return nil
}

func (t *txRepo) RejectPendingSiblingQuotations(ctx context.Context, requestID, exceptID int64) (int, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE quotations SET status = $3, updated_at = NOW()
		WHERE request_id = $1 AND id <> $2 AND status = $4
	`, requestID, exceptID, QuotationRejected, QuotationPending)
	if err != nil {
		return 0, fmt.Errorf("reject sibling quotations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *Repository) GetQuotation(ctx context.Context, id int64) (Quotation, error) {
	q, err := scanQuotation(r.pool.QueryRow(ctx, `SELECT `+quotationColumns+` FROM quotations WHERE id = $1`, id))
	if err != nil {
		return Quotation{}, notFound("quotation", id, err)
	}
	q.Items, err = queryQuotationItems(ctx, r.pool, id)
	return q, err
}

func (r *Repository) ListQuotationsForRequest(ctx context.Context, requestID int64) ([]Quotation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+quotationColumns+` FROM quotations
		WHERE request_id = $1 ORDER BY id
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list quotations: %w", err)
	}
	defer rows.Close()
	var out []Quotation
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quotation: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items, err = queryQuotationItems(ctx, r.pool, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Repository) ListExpiredPendingQuotations(ctx context.Context, asOf time.Time) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM quotations WHERE status = $1 AND valid_until < $2 ORDER BY id
	`, QuotationPending, asOf)
	if err != nil {
		return nil, fmt.Errorf("list expired quotations: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ---------------------------------------------------------------------------
// Purchase orders

const poColumns = `id, number, request_id, quotation_id, status, delivery_address,
	subtotal, tax_amount, total_amount, approver_id, approved_at, cancel_reason,
	created_at, updated_at`

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(
		&po.ID, &po.Number, &po.RequestID, &po.QuotationID, &po.Status, &po.DeliveryAddress,
		&po.Subtotal, &po.TaxAmount, &po.TotalAmount, &po.ApproverID, &po.ApprovedAt, &po.CancelReason,
		&po.CreatedAt, &po.UpdatedAt,
	)
	return po, err
}

func queryPOItems(ctx context.Context, q rowQuerier, orderID int64) ([]POItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, item_id, supplier_id, quantity, unit_price, total_price
		FROM purchase_order_items
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()
	var out []POItem
	for rows.Next() {
		var it POItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ItemID, &it.SupplierID, &it.Quantity, &it.UnitPrice, &it.TotalPrice); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (t *txRepo) InsertPurchaseOrder(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO purchase_orders (
			number, request_id, quotation_id, status, delivery_address,
			subtotal, tax_amount, total_amount, cancel_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, po.Number, po.RequestID, po.QuotationID, po.Status, po.DeliveryAddress,
		po.Subtotal, po.TaxAmount, po.TotalAmount, po.CancelReason, po.CreatedAt, po.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert purchase order: %w", err)
	}
	return id, nil
}

func (t *txRepo) InsertPOItem(ctx context.Context, item POItem) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO purchase_order_items (order_id, item_id, supplier_id, quantity, unit_price, total_price)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, item.OrderID, item.ItemID, item.SupplierID, item.Quantity, item.UnitPrice, item.TotalPrice).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert order item: %w", err)
	}
	return id, nil
}

func (t *txRepo) GetPurchaseOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, err := scanPO(t.tx.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return PurchaseOrder{}, notFound("purchase order", id, err)
	}
	po.Items, err = queryPOItems(ctx, t.tx, id)
	return po, err
}

func (t *txRepo) UpdatePurchaseOrder(ctx context.Context, po PurchaseOrder) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE purchase_orders
		SET status = $2, approver_id = $3, approved_at = $4, cancel_reason = $5, updated_at = $6
		WHERE id = $1
	`, po.ID, po.Status, po.ApproverID, po.ApprovedAt, po.CancelReason, po.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update purchase order: %w", err)
	}
	return nil
}

func (t *txRepo) HasReceiptWithStatus(ctx context.Context, orderID int64, statuses ...GRStatus) (bool, error) {
	raw := make([]string, 0, len(statuses))
	for _, s := range statuses {
		raw = append(raw, string(s))
	}
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM goods_receipts WHERE order_id = $1 AND status = ANY($2)
		)
	`, orderID, raw).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check receipts: %w", err)
	}
	return exists, nil
}

func (r *Repository) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, err := scanPO(r.pool.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id = $1`, id))
	if err != nil {
		return PurchaseOrder{}, notFound("purchase order", id, err)
	}
	po.Items, err = queryPOItems(ctx, r.pool, id)
	return po, err
}

func (r *Repository) ListPurchaseOrders(ctx context.Context, p shared.Pagination) ([]PurchaseOrder, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+poColumns+` FROM purchase_orders
		ORDER BY id DESC LIMIT $1 OFFSET $2
	`, p.Limit(), p.Offset())
	if err != nil {
		return nil, fmt.Errorf("list purchase orders: %w", err)
	}
	defer rows.Close()
	var out []PurchaseOrder
	for rows.Next() {
		po, err := scanPO(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase order: %w", err)
		}
		out = append(out, po)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Goods receipts

const grColumns = `id, number, order_id, status, delivery_note, feedback,
	warehouse_approver_id, warehouse_approved_at, inventory_approver_id,
	inventory_approved_at, cancel_reason, created_at, updated_at`

func scanGR(row pgx.Row) (GoodsReceipt, error) {
	var gr GoodsReceipt
	err := row.Scan(
		&gr.ID, &gr.Number, &gr.OrderID, &gr.Status, &gr.DeliveryNote, &gr.Feedback,
		&gr.WarehouseApproverID, &gr.WarehouseApprovedAt, &gr.InventoryApproverID,
		&gr.InventoryApprovedAt, &gr.CancelReason, &gr.CreatedAt, &gr.UpdatedAt,
	)
	return gr, err
}

func queryGRItems(ctx context.Context, q rowQuerier, receiptID int64) ([]GRItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, receipt_id, order_item_id, item_id, quantity_ordered,
		       quantity_received, quantity_accepted, quantity_rejected,
		       unit_cost, rejection_reason
		FROM goods_receipt_items
		WHERE receipt_id = $1
		ORDER BY id
	`, receiptID)
	if err != nil {
		return nil, fmt.Errorf("list receipt items: %w", err)
	}
	defer rows.Close()
	var out []GRItem
	for rows.Next() {
		var it GRItem
		if err := rows.Scan(&it.ID, &it.ReceiptID, &it.OrderItemID, &it.ItemID, &it.QuantityOrdered,
			&it.QuantityReceived, &it.QuantityAccepted, &it.QuantityRejected,
			&it.UnitCost, &it.RejectionReason); err != nil {
			return nil, fmt.Errorf("scan receipt item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (t *txRepo) InsertGoodsReceipt(ctx context.Context, gr GoodsReceipt) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO goods_receipts (
			number, order_id, status, delivery_note, feedback, cancel_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, gr.Number, gr.OrderID, gr.Status, gr.DeliveryNote, gr.Feedback, gr.CancelReason, gr.CreatedAt, gr.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert goods receipt: %w", err)
	}
	return id, nil
}

func (t *txRepo) InsertGRItem(ctx context.Context, item GRItem) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO goods_receipt_items (
			receipt_id, order_item_id, item_id, quantity_ordered, quantity_received,
			quantity_accepted, quantity_rejected, unit_cost, rejection_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, item.ReceiptID, item.OrderItemID, item.ItemID, item.QuantityOrdered, item.QuantityReceived,
		item.QuantityAccepted, item.QuantityRejected, item.UnitCost, item.RejectionReason).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert receipt item: %w", err)
	}
	return id, nil
}

func (t *txRepo) GetGoodsReceiptForUpdate(ctx context.Context, id int64) (GoodsReceipt, error) {
	gr, err := scanGR(t.tx.QueryRow(ctx, `SELECT `+grColumns+` FROM goods_receipts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return GoodsReceipt{}, notFound("goods receipt", id, err)
	}
	gr.Items, err = queryGRItems(ctx, t.tx, id)
	return gr, err
}

func (t *txRepo) UpdateGoodsReceipt(ctx context.Context, gr GoodsReceipt) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE goods_receipts
		SET status = $2, delivery_note = $3, feedback = $4,
		    warehouse_approver_id = $5, warehouse_approved_at = $6,
		    inventory_approver_id = $7, inventory_approved_at = $8,
		    cancel_reason = $9, updated_at = $10
		WHERE id = $1
	`, gr.ID, gr.Status, gr.DeliveryNote, gr.Feedback,
		gr.WarehouseApproverID, gr.WarehouseApprovedAt,
		gr.InventoryApproverID, gr.InventoryApprovedAt,
		gr.CancelReason, gr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update goods receipt: %w", err)
	}
	return nil
}

func (t *txRepo) CountReturnsForReceipt(ctx context.Context, receiptID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM goods_returns WHERE receipt_id = $1`, receiptID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count returns: %w", err)
	}
	return n, nil
}

func (r *Repository) GetGoodsReceipt(ctx context.Context, id int64) (GoodsReceipt, error) {
	gr, err := scanGR(r.pool.QueryRow(ctx, `SELECT `+grColumns+` FROM goods_receipts WHERE id = $1`, id))
	if err != nil {
		return GoodsReceipt{}, notFound("goods receipt", id, err)
	}
	gr.Items, err = queryGRItems(ctx, r.pool, id)
	return gr, err
}

func (r *Repository) ListReceiptsForOrder(ctx context.Context, orderID int64) ([]GoodsReceipt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+grColumns+` FROM goods_receipts
		WHERE order_id = $1 ORDER BY id DESC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()
	var out []GoodsReceipt
	for rows.Next() {
		gr, err := scanGR(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goods receipt: %w", err)
		}
		out = append(out, gr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items, err = queryGRItems(ctx, r.pool, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Goods returns

const returnColumns = `id, number, receipt_id, status, approver_id, approved_at,
	cancel_reason, created_at, updated_at`

func scanReturn(row pgx.Row) (GoodsReturn, error) {
	var ret GoodsReturn
	err := row.Scan(
		&ret.ID, &ret.Number, &ret.ReceiptID, &ret.Status, &ret.ApproverID, &ret.ApprovedAt,
		&ret.CancelReason, &ret.CreatedAt, &ret.UpdatedAt,
	)
	return ret, err
}

func queryReturnItems(ctx context.Context, q rowQuerier, returnID int64) ([]ReturnItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, return_id, receipt_item_id, item_id, quantity, reason
		FROM goods_return_items
		WHERE return_id = $1
		ORDER BY id
	`, returnID)
	if err != nil {
		return nil, fmt.Errorf("list return items: %w", err)
	}
	defer rows.Close()
	var out []ReturnItem
	for rows.Next() {
		var it ReturnItem
		if err := rows.Scan(&it.ID, &it.ReturnID, &it.ReceiptItemID, &it.ItemID, &it.Quantity, &it.Reason); err != nil {
			return nil, fmt.Errorf("scan return item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (t *txRepo) InsertGoodsReturn(ctx context.Context, ret GoodsReturn) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO goods_returns (number, receipt_id, status, cancel_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, ret.Number, ret.ReceiptID, ret.Status, ret.CancelReason, ret.CreatedAt, ret.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert goods return: %w", err)
	}
	return id, nil
}

func (t *txRepo) InsertReturnItem(ctx context.Context, item ReturnItem) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO goods_return_items (return_id, receipt_item_id, item_id, quantity, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, item.ReturnID, item.ReceiptItemID, item.ItemID, item.Quantity, item.Reason).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert return item: %w", err)
	}
	return id, nil
}

func (t *txRepo) GetGoodsReturnForUpdate(ctx context.Context, id int64) (GoodsReturn, error) {
	ret, err := scanReturn(t.tx.QueryRow(ctx, `SELECT `+returnColumns+` FROM goods_returns WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return GoodsReturn{}, notFound("goods return", id, err)
	}
	ret.Items, err = queryReturnItems(ctx, t.tx, id)
	return ret, err
}

func (t *txRepo) UpdateGoodsReturn(ctx context.Context, ret GoodsReturn) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE goods_returns
		SET status = $2, approver_id = $3, approved_at = $4, cancel_reason = $5, updated_at = $6
		WHERE id = $1
	`, ret.ID, ret.Status, ret.ApproverID, ret.ApprovedAt, ret.CancelReason, ret.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update goods return: %w", err)
	}
	return nil
}

func (r *Repository) GetGoodsReturn(ctx context.Context, id int64) (GoodsReturn, error) {
	ret, err := scanReturn(r.pool.QueryRow(ctx, `SELECT `+returnColumns+` FROM goods_returns WHERE id = $1`, id))
	if err != nil {
		return GoodsReturn{}, notFound("goods return", id, err)
	}
	ret.Items, err = queryReturnItems(ctx, r.pool, id)
	return ret, err
}

func (r *Repository) ListReturnsForReceipt(ctx context.Context, receiptID int64) ([]GoodsReturn, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+returnColumns+` FROM goods_returns
		WHERE receipt_id = $1 ORDER BY id DESC
	`, receiptID)
	if err != nil {
		return nil, fmt.Errorf("list returns: %w", err)
	}
	defer rows.Close()
	var out []GoodsReturn
	for rows.Next() {
		ret, err := scanReturn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goods return: %w", err)
		}
		out = append(out, ret)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items, err = queryReturnItems(ctx, r.pool, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Stock ledger surface (shared transaction with lifecycle updates)

func (t *txRepo) BalanceForUpdate(ctx context.Context, itemID int64) (float64, error) {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO item_balances (item_id, balance, updated_at)
		VALUES ($1, 0, now())
		ON CONFLICT (item_id) DO NOTHING
	`, itemID); err != nil {
		return 0, fmt.Errorf("seed balance row: %w", inventory.SerializationConflict(err))
	}
	var balance float64
	err := t.tx.QueryRow(ctx, `
		SELECT balance FROM item_balances WHERE item_id = $1 FOR UPDATE
	`, itemID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("lock balance row: %w", inventory.SerializationConflict(err))
	}
	return balance, nil
}

func (t *txRepo) SetBalance(ctx context.Context, itemID int64, balance float64) error {
	if _, err := t.tx.Exec(ctx, `
		UPDATE item_balances SET balance = $2, updated_at = now() WHERE item_id = $1
	`, itemID, balance); err != nil {
		return fmt.Errorf("set balance: %w", inventory.SerializationConflict(err))
	}
	return nil
}

func (t *txRepo) InsertMovement(ctx context.Context, m inventory.StockMovement) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO stock_movements (
			item_id, movement_type, ref_kind, ref_id, quantity,
			unit_cost, balance_after, note, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, m.ItemID, m.Type, m.Ref.Kind, m.Ref.ID, m.Quantity,
		m.UnitCost, m.BalanceAfter, m.Note, m.CreatedBy, m.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert movement: %w", err)
	}
	return id, nil
}

func (t *txRepo) DeletePurchaseRequest(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_request_items WHERE request_id = $1`, id); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM purchase_requests WHERE id = $1`, id)
	return err
}

func (t *txRepo) DeletePurchaseOrder(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `
		DELETE FROM goods_receipt_items
		WHERE receipt_id IN (SELECT id FROM goods_receipts WHERE order_id = $1)`, id); err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM goods_receipts WHERE order_id = $1`, id); err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_order_items WHERE order_id = $1`, id); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM purchase_orders WHERE id = $1`, id)
	return err
}
