package inventory

import (
	"fmt"
	"time"

	"github.com/forgeline-erp/forgeline-erp/internal/shared"
)

// MovementType enumerates ledger movement directions.
type MovementType string

const (
	// MovementStockIn increases an item's running balance.
	MovementStockIn MovementType = "stock_in"
	// MovementStockOut decreases an item's running balance.
	MovementStockOut MovementType = "stock_out"
)

// RefKind identifies the lifecycle event that caused a movement.
type RefKind string

const (
	RefGoodsReceipt     RefKind = "goods_receipt"
	RefGoodsReturn      RefKind = "goods_return"
	RefMaterialIssuance RefKind = "material_issuance"
)

// Valid reports whether the kind is one of the known event kinds.
func (k RefKind) Valid() bool {
	switch k {
	case RefGoodsReceipt, RefGoodsReturn, RefMaterialIssuance:
		return true
	}
	return false
}

// MovementRef points at the document that caused a movement. It replaces the
// legacy free-form reference_type string with a closed set of event kinds.
type MovementRef struct {
	Kind RefKind
	ID   int64
}

// StockMovement is one append-only ledger row. Rows are never updated or
// deleted; BalanceAfter of the newest row is the item's authoritative balance.
type StockMovement struct {
	ID           int64
	ItemID       int64
	Type         MovementType
	Ref          MovementRef
	Quantity     float64
	UnitCost     float64
	BalanceAfter float64
	Note         string
	CreatedBy    int64
	CreatedAt    time.Time
}

// MovementInput describes a ledger append request.
type MovementInput struct {
	ItemID   int64
	Type     MovementType
	Quantity float64
	UnitCost float64
	Ref      MovementRef
	Note     string
	ActorID  int64
}

func (in MovementInput) validate() error {
	if in.ItemID == 0 {
		return fmt.Errorf("inventory: item required: %w", shared.ErrValidation)
	}
	if in.Type != MovementStockIn && in.Type != MovementStockOut {
		return fmt.Errorf("inventory: unknown movement type %q: %w", in.Type, shared.ErrValidation)
	}
	if in.Quantity <= 0 {
		return fmt.Errorf("inventory: quantity must be positive: %w", shared.ErrValidation)
	}
	if in.UnitCost < 0 {
		return fmt.Errorf("inventory: unit cost must be >= 0: %w", shared.ErrValidation)
	}
	if !in.Ref.Kind.Valid() || in.Ref.ID == 0 {
		return fmt.Errorf("inventory: movement reference required: %w", shared.ErrValidation)
	}
	return nil
}
