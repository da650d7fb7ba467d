package issuance

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgeline-erp/forgeline-erp/internal/inventory"
	"github.com/forgeline-erp/forgeline-erp/internal/platform/db"
	"github.com/forgeline-erp/forgeline-erp/internal/shared"
)

// Repository provides PostgreSQL backed persistence for material issuances.
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

const miColumns = `id, number, project_id, issuance_type, purpose, status, delivery_status,
	requester_id, approver_id, approved_at, issuer_id, issued_at,
	receiver_id, received_at, cancel_reason, created_at, updated_at`

func scanIssuance(row pgx.Row) (MaterialIssuance, error) {
	var mi MaterialIssuance
	err := row.Scan(
		&mi.ID, &mi.Number, &mi.ProjectID, &mi.Type, &mi.Purpose, &mi.Status, &mi.DeliveryStatus,
		&mi.RequesterID, &mi.ApproverID, &mi.ApprovedAt, &mi.IssuerID, &mi.IssuedAt,
		&mi.ReceiverID, &mi.ReceivedAt, &mi.CancelReason, &mi.CreatedAt, &mi.UpdatedAt,
	)
	return mi, err
}

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryItems(ctx context.Context, q rowQuerier, issuanceID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `
		SELECT id, issuance_id, item_id, quantity, unit_cost
		FROM material_issuance_items
		WHERE issuance_id = $1
		ORDER BY id
	`, issuanceID)
	if err != nil {
		return nil, fmt.Errorf("list issuance items: %w", err)
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.IssuanceID, &it.ItemID, &it.Quantity, &it.UnitCost); err != nil {
			return nil, fmt.Errorf("scan issuance item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (t *txRepo) InsertIssuance(ctx context.Context, mi MaterialIssuance) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO material_issuances (
			number, project_id, issuance_type, purpose, status, delivery_status,
			requester_id, cancel_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, mi.Number, mi.ProjectID, mi.Type, mi.Purpose, mi.Status, mi.DeliveryStatus,
		mi.RequesterID, mi.CancelReason, mi.CreatedAt, mi.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert issuance: %w", err)
	}
	return id, nil
}

func (t *txRepo) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO material_issuance_items (issuance_id, item_id, quantity, unit_cost)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, item.IssuanceID, item.ItemID, item.Quantity, item.UnitCost).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert issuance item: %w", err)
	}
	return id, nil
}

func (t *txRepo) GetIssuanceForUpdate(ctx context.Context, id int64) (MaterialIssuance, error) {
	mi, err := scanIssuance(t.tx.QueryRow(ctx, `SELECT `+miColumns+` FROM material_issuances WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return MaterialIssuance{}, fmt.Errorf("issuance: %d: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return MaterialIssuance{}, fmt.Errorf("issuance: %d: %w", id, err)
	}
	mi.Items, err = queryItems(ctx, t.tx, id)
	return mi, err
}

func (t *txRepo) UpdateIssuance(ctx context.Context, mi MaterialIssuance) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE material_issuances
		SET status = $2, delivery_status = $3, approver_id = $4, approved_at = $5,
		    issuer_id = $6, issued_at = $7, receiver_id = $8, received_at = $9,
		    cancel_reason = $10, updated_at = $11
		WHERE id = $1
	`, mi.ID, mi.Status, mi.DeliveryStatus, mi.ApproverID, mi.ApprovedAt,
		mi.IssuerID, mi.IssuedAt, mi.ReceiverID, mi.ReceivedAt,
		mi.CancelReason, mi.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update issuance: %w", err)
	}
	return nil
}

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

func (r *Repository) GetIssuance(ctx context.Context, id int64) (MaterialIssuance, error) {
	mi, err := scanIssuance(r.pool.QueryRow(ctx, `SELECT `+miColumns+` FROM material_issuances WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return MaterialIssuance{}, fmt.Errorf("issuance: %d: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return MaterialIssuance{}, fmt.Errorf("issuance: %d: %w", id, err)
	}
	mi.Items, err = queryItems(ctx, r.pool, id)
	return mi, err
}

func (r *Repository) ListIssuances(ctx context.Context, p shared.Pagination) ([]MaterialIssuance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+miColumns+` FROM material_issuances
		ORDER BY id DESC LIMIT $1 OFFSET $2
	`, p.Limit(), p.Offset())
	if err != nil {
		return nil, fmt.Errorf("list issuances: %w", err)
	}
	defer rows.Close()
	var out []MaterialIssuance
	for rows.Next() {
		mi, err := scanIssuance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issuance: %w", err)
		}
		out = append(out, mi)
	}
	return out, rows.Err()
}
