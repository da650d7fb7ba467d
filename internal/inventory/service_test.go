package inventory

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgeline-erp/forgeline-erp/internal/shared"
)

type fakeLedgerRepo struct {
	movements []StockMovement
	balances  map[int64]float64
	nextID    int64
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{balances: map[int64]float64{}, nextID: 1}
}

func (f *fakeLedgerRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := make([]StockMovement, len(f.movements))
	copy(snapshot, f.movements)
	snapBalances := make(map[int64]float64, len(f.balances))
	for k, v := range f.balances {
		snapBalances[k] = v
	}
	nextID := f.nextID
	if err := fn(ctx, f); err != nil {
		f.movements = snapshot
		f.balances = snapBalances
		f.nextID = nextID
		return err
	}
	return nil
}

func (f *fakeLedgerRepo) BalanceForUpdate(ctx context.Context, itemID int64) (float64, error) {
	return f.balances[itemID], nil
}

func (f *fakeLedgerRepo) SetBalance(ctx context.Context, itemID int64, balance float64) error {
	f.balances[itemID] = balance
	return nil
}

func (f *fakeLedgerRepo) LastBalance(ctx context.Context, itemID int64) (float64, bool, error) {
	return f.lastBalance(itemID)
}

func (f *fakeLedgerRepo) lastBalance(itemID int64) (float64, bool, error) {
	for i := len(f.movements) - 1; i >= 0; i-- {
		if f.movements[i].ItemID == itemID {
			return f.movements[i].BalanceAfter, true, nil
		}
	}
	return 0, false, nil
}

func (f *fakeLedgerRepo) InsertMovement(ctx context.Context, m StockMovement) (int64, error) {
	m.ID = f.nextID
	f.nextID++
	f.movements = append(f.movements, m)
	return m.ID, nil
}

func (f *fakeLedgerRepo) ListMovements(ctx context.Context, itemID int64, p shared.Pagination) ([]StockMovement, error) {
	all, _ := f.ListAllMovements(ctx, itemID)
	out := make([]StockMovement, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (f *fakeLedgerRepo) ListAllMovements(ctx context.Context, itemID int64) ([]StockMovement, error) {
	var out []StockMovement
	for _, m := range f.movements {
		if m.ItemID == itemID {
			out = append(out, m)
		}
	}
	return out, nil
}

func testActor(perms ...string) shared.Actor {
	return shared.Actor{ID: 7, Permissions: perms}
}

func TestPostStockInIncreasesBalance(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := NewService(repo, slog.Default())
	actor := testActor(shared.PermInventoryApprove)

	first, err := svc.PostStockIn(context.Background(), actor, MovementInput{
		ItemID:   1,
		Quantity: 10,
		UnitCost: 2.5,
		Ref:      MovementRef{Kind: RefGoodsReceipt, ID: 100},
	})
	require.NoError(t, err)
	require.Equal(t, 10.0, first.BalanceAfter)

	second, err := svc.Post(context.Background(), actor, MovementInput{
		ItemID:   1,
		Type:     MovementStockIn,
		Quantity: 5,
		UnitCost: 2.5,
		Ref:      MovementRef{Kind: RefGoodsReceipt, ID: 101},
	})
	require.NoError(t, err)
	require.Equal(t, 15.0, second.BalanceAfter)

	balance, err := svc.CurrentBalance(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 15.0, balance)
}

func TestPostStockOutFloorsAtZero(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := NewService(repo, slog.Default())
	actor := testActor(shared.PermInventoryApprove)

	_, err := svc.Post(context.Background(), actor, MovementInput{
		ItemID:   2,
		Type:     MovementStockIn,
		Quantity: 3,
		Ref:      MovementRef{Kind: RefGoodsReceipt, ID: 200},
	})
	require.NoError(t, err)

	out, err := svc.PostStockOut(context.Background(), actor, MovementInput{
		ItemID:   2,
		Quantity: 8,
		Ref:      MovementRef{Kind: RefMaterialIssuance, ID: 300},
	})
	require.NoError(t, err)
	require.Equal(t, 0.0, out.BalanceAfter)
	require.Equal(t, 8.0, out.Quantity)

	require.NoError(t, svc.VerifyLedger(context.Background(), 2))
}

func TestAppendKeepsBalanceRowInStep(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := NewService(repo, slog.Default())
	actor := testActor(shared.PermInventoryApprove)

	// first posting for an item starts from the seeded zero row
	_, err := svc.PostStockIn(context.Background(), actor, MovementInput{
		ItemID:   7,
		Quantity: 5,
		Ref:      MovementRef{Kind: RefGoodsReceipt, ID: 700},
	})
	require.NoError(t, err)
	require.Equal(t, 5.0, repo.balances[7])

	out, err := svc.PostStockOut(context.Background(), actor, MovementInput{
		ItemID:   7,
		Quantity: 8,
		Ref:      MovementRef{Kind: RefMaterialIssuance, ID: 701},
	})
	require.NoError(t, err)
	require.Equal(t, 0.0, out.BalanceAfter)
	require.Equal(t, 0.0, repo.balances[7])
}

func TestPostRequiresPermission(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := NewService(repo, slog.Default())

	_, err := svc.Post(context.Background(), testActor(shared.PermInventoryView), MovementInput{
		ItemID:   1,
		Type:     MovementStockIn,
		Quantity: 1,
		Ref:      MovementRef{Kind: RefGoodsReceipt, ID: 1},
	})
	require.ErrorIs(t, err, shared.ErrForbidden)
	require.Empty(t, repo.movements)
}

func TestPostRejectsInvalidInput(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := NewService(repo, slog.Default())
	actor := testActor(shared.PermInventoryApprove)

	cases := []MovementInput{
		{ItemID: 0, Type: MovementStockIn, Quantity: 1, Ref: MovementRef{Kind: RefGoodsReceipt, ID: 1}},
		{ItemID: 1, Type: "transfer", Quantity: 1, Ref: MovementRef{Kind: RefGoodsReceipt, ID: 1}},
		{ItemID: 1, Type: MovementStockIn, Quantity: 0, Ref: MovementRef{Kind: RefGoodsReceipt, ID: 1}},
		{ItemID: 1, Type: MovementStockIn, Quantity: -4, Ref: MovementRef{Kind: RefGoodsReceipt, ID: 1}},
		{ItemID: 1, Type: MovementStockIn, Quantity: 1, UnitCost: -1, Ref: MovementRef{Kind: RefGoodsReceipt, ID: 1}},
		{ItemID: 1, Type: MovementStockIn, Quantity: 1, Ref: MovementRef{Kind: "manual", ID: 1}},
		{ItemID: 1, Type: MovementStockIn, Quantity: 1, Ref: MovementRef{Kind: RefGoodsReceipt, ID: 0}},
	}
	for _, in := range cases {
		_, err := svc.Post(context.Background(), actor, in)
		require.ErrorIs(t, err, shared.ErrValidation)
	}
	require.Empty(t, repo.movements)
}

func TestVerifyLedgerDetectsTampering(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := NewService(repo, slog.Default())
	actor := testActor(shared.PermInventoryApprove)

	for i := 0; i < 3; i++ {
		_, err := svc.Post(context.Background(), actor, MovementInput{
			ItemID:   5,
			Type:     MovementStockIn,
			Quantity: 2,
			Ref:      MovementRef{Kind: RefGoodsReceipt, ID: int64(400 + i)},
		})
		require.NoError(t, err)
	}
	require.NoError(t, svc.VerifyLedger(context.Background(), 5))

	repo.movements[1].BalanceAfter = 99
	err := svc.VerifyLedger(context.Background(), 5)
	require.ErrorIs(t, err, shared.ErrConflict)
}
