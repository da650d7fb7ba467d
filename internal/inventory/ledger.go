package inventory

import (
	"context"
	"time"
)

// LedgerTx is the slice of a transaction the ledger needs to append a
// movement. Module repositories that post stock as part of their own
// lifecycle transactions implement it alongside their TxRepository, so the
// document status change and the ledger row commit or roll back together.
type LedgerTx interface {
	// BalanceForUpdate locks the item's balance row and returns the running
	// balance. The row is created at zero the first time an item is posted,
	// so there is always a row to lock.
	BalanceForUpdate(ctx context.Context, itemID int64) (float64, error)
	// SetBalance writes the new running balance onto the locked row. Under
	// repeatable read the write fails with a serialization error when a
	// concurrent appender committed first, so no movement is ever based on
	// a stale balance.
	SetBalance(ctx context.Context, itemID int64, balance float64) error
	InsertMovement(ctx context.Context, m StockMovement) (int64, error)
}

// Append validates the input, derives the running balance under the caller's
// transaction and inserts the movement. Stock-out quantities larger than the
// current balance floor the balance at zero rather than going negative; the
// full requested quantity is still recorded on the row.
func Append(ctx context.Context, tx LedgerTx, in MovementInput) (StockMovement, error) {
	if err := in.validate(); err != nil {
		return StockMovement{}, err
	}
	balance, err := tx.BalanceForUpdate(ctx, in.ItemID)
	if err != nil {
		return StockMovement{}, err
	}
	switch in.Type {
	case MovementStockIn:
		balance += in.Quantity
	case MovementStockOut:
		balance -= in.Quantity
		if balance < 0 {
			balance = 0
		}
	}
	m := StockMovement{
		ItemID:       in.ItemID,
		Type:         in.Type,
		Ref:          in.Ref,
		Quantity:     in.Quantity,
		UnitCost:     in.UnitCost,
		BalanceAfter: balance,
		Note:         in.Note,
		CreatedBy:    in.ActorID,
		CreatedAt:    time.Now().UTC(),
	}
	id, err := tx.InsertMovement(ctx, m)
	if err != nil {
		return StockMovement{}, err
	}
	if err := tx.SetBalance(ctx, in.ItemID, balance); err != nil {
		return StockMovement{}, err
	}
	m.ID = id
	return m, nil
}
