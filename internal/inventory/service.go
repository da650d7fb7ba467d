package inventory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/forgeline-erp/forgeline-erp/internal/shared"
)

// TxRepository is the transactional surface of the inventory store.
type TxRepository interface {
	LedgerTx
}

// RepositoryPort abstracts the inventory store for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	ListMovements(ctx context.Context, itemID int64, p shared.Pagination) ([]StockMovement, error)
	LastBalance(ctx context.Context, itemID int64) (float64, bool, error)
	ListAllMovements(ctx context.Context, itemID int64) ([]StockMovement, error)
}

// Service exposes ledger reads and integrity checks. Writes happen through
// Append under the posting module's transaction; the service itself offers a
// Post entry point for callers that do not carry their own transaction.
type Service struct {
	repo RepositoryPort
	log  *slog.Logger
}

func NewService(repo RepositoryPort, log *slog.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// Post appends a movement in its own transaction.
func (s *Service) Post(ctx context.Context, actor shared.Actor, in MovementInput) (StockMovement, error) {
	if !actor.Can(shared.PermInventoryApprove) {
		return StockMovement{}, fmt.Errorf("inventory: post stock: %w", shared.ErrForbidden)
	}
	in.ActorID = actor.ID
	var posted StockMovement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		posted, err = Append(ctx, tx, in)
		return err
	})
	if err != nil {
		return StockMovement{}, err
	}
	s.log.InfoContext(ctx, "stock movement posted",
		slog.Int64("movement_id", posted.ID),
		slog.Int64("item_id", posted.ItemID),
		slog.String("type", string(posted.Type)),
		slog.Float64("balance_after", posted.BalanceAfter))
	return posted, nil
}

// PostStockIn appends an inbound movement in its own transaction.
func (s *Service) PostStockIn(ctx context.Context, actor shared.Actor, in MovementInput) (StockMovement, error) {
	in.Type = MovementStockIn
	return s.Post(ctx, actor, in)
}

// PostStockOut appends an outbound movement in its own transaction.
func (s *Service) PostStockOut(ctx context.Context, actor shared.Actor, in MovementInput) (StockMovement, error) {
	in.Type = MovementStockOut
	return s.Post(ctx, actor, in)
}

// CurrentBalance returns the item's balance as of its newest movement, or
// zero when the item has no movements.
func (s *Service) CurrentBalance(ctx context.Context, itemID int64) (float64, error) {
	balance, ok, err := s.repo.LastBalance(ctx, itemID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return balance, nil
}

// Ledger returns the item's movements, newest first.
func (s *Service) Ledger(ctx context.Context, itemID int64, p shared.Pagination) ([]StockMovement, error) {
	if itemID == 0 {
		return nil, fmt.Errorf("inventory: item required: %w", shared.ErrValidation)
	}
	return s.repo.ListMovements(ctx, itemID, p)
}

// VerifyLedger replays the item's full history oldest first and reports the
// first movement whose stored balance disagrees with the recomputed one.
func (s *Service) VerifyLedger(ctx context.Context, itemID int64) error {
	movements, err := s.repo.ListAllMovements(ctx, itemID)
	if err != nil {
		return err
	}
	var balance float64
	for _, m := range movements {
		switch m.Type {
		case MovementStockIn:
			balance += m.Quantity
		case MovementStockOut:
			balance -= m.Quantity
			if balance < 0 {
				balance = 0
			}
		default:
			return fmt.Errorf("inventory: movement %d has unknown type %q: %w", m.ID, m.Type, shared.ErrConflict)
		}
		if m.BalanceAfter != balance {
			return fmt.Errorf("inventory: movement %d stored balance %.2f, replay gives %.2f: %w",
				m.ID, m.BalanceAfter, balance, shared.ErrConflict)
		}
	}
	return nil
}
