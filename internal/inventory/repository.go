package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgeline-erp/forgeline-erp/internal/platform/db"
	"github.com/forgeline-erp/forgeline-erp/internal/shared"
)

// Repository provides PostgreSQL backed persistence for the stock ledger.
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

const movementColumns = `id, item_id, movement_type, ref_kind, ref_id, quantity,
	unit_cost, balance_after, note, created_by, created_at`

func scanMovement(row pgx.Row) (StockMovement, error) {
	var m StockMovement
	err := row.Scan(
		&m.ID, &m.ItemID, &m.Type, &m.Ref.Kind, &m.Ref.ID, &m.Quantity,
		&m.UnitCost, &m.BalanceAfter, &m.Note, &m.CreatedBy, &m.CreatedAt,
	)
	return m, err
}

// BalanceForUpdate row-locks the item's balance row so concurrent appenders
// serialize on it, seeding the row at zero for items never posted before.
func (t *txRepo) BalanceForUpdate(ctx context.Context, itemID int64) (float64, error) {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO item_balances (item_id, balance, updated_at)
		VALUES ($1, 0, now())
		ON CONFLICT (item_id) DO NOTHING
	`, itemID); err != nil {
		return 0, fmt.Errorf("seed balance row: %w", SerializationConflict(err))
	}
	var balance float64
	err := t.tx.QueryRow(ctx, `
		SELECT balance FROM item_balances WHERE item_id = $1 FOR UPDATE
	`, itemID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("lock balance row: %w", SerializationConflict(err))
	}
	return balance, nil
}

func (t *txRepo) SetBalance(ctx context.Context, itemID int64, balance float64) error {
	if _, err := t.tx.Exec(ctx, `
		UPDATE item_balances SET balance = $2, updated_at = now() WHERE item_id = $1
	`, itemID, balance); err != nil {
		return fmt.Errorf("set balance: %w", SerializationConflict(err))
	}
	return nil
}

// SerializationConflict maps SQLSTATE 40001 onto shared.ErrConflict. A posting
// transaction that lost the balance-row race surfaces as a retryable conflict
// instead of an opaque driver error.
func SerializationConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "40001" {
		return fmt.Errorf("%s: %w", pgErr.Message, shared.ErrConflict)
	}
	return err
}

func (t *txRepo) InsertMovement(ctx context.Context, m StockMovement) (int64, error) {
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

// LastBalance reads the newest movement's balance without locking.
func (r *Repository) LastBalance(ctx context.Context, itemID int64) (float64, bool, error) {
	var balance float64
	err := r.pool.QueryRow(ctx, `
		SELECT balance_after FROM stock_movements
		WHERE item_id = $1
		ORDER BY id DESC
		LIMIT 1
	`, itemID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("last balance: %w", err)
	}
	return balance, true, nil
}

// ListMovements returns the item's movements newest first.
func (r *Repository) ListMovements(ctx context.Context, itemID int64, p shared.Pagination) ([]StockMovement, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+movementColumns+`
		FROM stock_movements
		WHERE item_id = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`, itemID, p.Limit(), p.Offset())
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	defer rows.Close()
	return collectMovements(rows)
}

// ListAllMovements returns the item's full history oldest first, for replay.
func (r *Repository) ListAllMovements(ctx context.Context, itemID int64) ([]StockMovement, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+movementColumns+`
		FROM stock_movements
		WHERE item_id = $1
		ORDER BY id ASC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list all movements: %w", err)
	}
	defer rows.Close()
	return collectMovements(rows)
}

func collectMovements(rows pgx.Rows) ([]StockMovement, error) {
	var out []StockMovement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
