package issuance

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgeline-erp/forgeline-erp/internal/inventory"
	"github.com/forgeline-erp/forgeline-erp/internal/shared"
)

type fakeRepo struct {
	issuances map[int64]MaterialIssuance
	movements []inventory.StockMovement
	balances  map[int64]float64
	nextID    int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		issuances: map[int64]MaterialIssuance{},
		balances:  map[int64]float64{},
		nextID:    1,
	}
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapIssuances := make(map[int64]MaterialIssuance, len(f.issuances))
	for k, v := range f.issuances {
		snapIssuances[k] = v
	}
	snapMovements := append([]inventory.StockMovement(nil), f.movements...)
	snapBalances := make(map[int64]float64, len(f.balances))
	for k, v := range f.balances {
		snapBalances[k] = v
	}
	snapNext := f.nextID
	if err := fn(ctx, f); err != nil {
		f.issuances = snapIssuances
		f.movements = snapMovements
		f.balances = snapBalances
		f.nextID = snapNext
		return err
	}
	return nil
}

func (f *fakeRepo) id() int64 {
	id := f.nextID
	f.nextID++
	return id
}

func (f *fakeRepo) InsertIssuance(ctx context.Context, mi MaterialIssuance) (int64, error) {
	mi.ID = f.id()
	f.issuances[mi.ID] = mi
	return mi.ID, nil
}

func (f *fakeRepo) InsertItem(ctx context.Context, item Item) (int64, error) {
	item.ID = f.id()
	mi := f.issuances[item.IssuanceID]
	mi.Items = append(mi.Items, item)
	f.issuances[item.IssuanceID] = mi
	return item.ID, nil
}

func (f *fakeRepo) GetIssuanceForUpdate(ctx context.Context, id int64) (MaterialIssuance, error) {
	mi, ok := f.issuances[id]
	if !ok {
		return MaterialIssuance{}, shared.ErrNotFound
	}
	return mi, nil
}

func (f *fakeRepo) UpdateIssuance(ctx context.Context, mi MaterialIssuance) error {
	stored := f.issuances[mi.ID]
	mi.Items = stored.Items
	f.issuances[mi.ID] = mi
	return nil
}

func (f *fakeRepo) BalanceForUpdate(ctx context.Context, itemID int64) (float64, error) {
	return f.balances[itemID], nil
}

func (f *fakeRepo) SetBalance(ctx context.Context, itemID int64, balance float64) error {
	f.balances[itemID] = balance
	return nil
}

func (f *fakeRepo) InsertMovement(ctx context.Context, m inventory.StockMovement) (int64, error) {
	m.ID = f.id()
	f.movements = append(f.movements, m)
	return m.ID, nil
}

func (f *fakeRepo) GetIssuance(ctx context.Context, id int64) (MaterialIssuance, error) {
	return f.GetIssuanceForUpdate(ctx, id)
}

func (f *fakeRepo) ListIssuances(ctx context.Context, p shared.Pagination) ([]MaterialIssuance, error) {
	var out []MaterialIssuance
	for _, mi := range f.issuances {
		out = append(out, mi)
	}
	return out, nil
}

// seedStock puts an opening balance on the fake ledger.
func (f *fakeRepo) seedStock(itemID int64, quantity float64) {
	f.movements = append(f.movements, inventory.StockMovement{
		ID:           f.id(),
		ItemID:       itemID,
		Type:         inventory.MovementStockIn,
		Ref:          inventory.MovementRef{Kind: inventory.RefGoodsReceipt, ID: 999},
		Quantity:     quantity,
		BalanceAfter: quantity,
		CreatedAt:    time.Now(),
	})
	f.balances[itemID] = quantity
}

type nopApprovals struct{}

func (nopApprovals) Record(ctx context.Context, log shared.ApprovalLog) error { return nil }

var (
	storekeeper = shared.Actor{ID: 1, Permissions: []string{shared.PermIssuanceEdit}}
	supervisor  = shared.Actor{ID: 2, Permissions: []string{shared.PermIssuanceApprove}}
	warehouse   = shared.Actor{ID: 3, Permissions: []string{shared.PermWarehouseConfirm}}
)

func newTestService(repo *fakeRepo) *Service {
	return NewService(repo, nopApprovals{}, slog.Default())
}

func createDraft(t *testing.T, svc *Service) MaterialIssuance {
	t.Helper()
	mi, err := svc.Create(context.Background(), storekeeper, CreateInput{
		Type:    TypeMaintenance,
		Purpose: "crane gearbox overhaul parts",
		Items: []ItemInput{
			{ItemID: 100, Quantity: 4, UnitCost: 25},
			{ItemID: 101, Quantity: 1, UnitCost: 310},
		},
	})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, mi.Status)
	require.Equal(t, DeliveryPending, mi.DeliveryStatus)
	return mi
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(newFakeRepo())
	ctx := context.Background()

	// project type needs a project
	_, err := svc.Create(ctx, storekeeper, CreateInput{
		Type: TypeProject, Purpose: "hull section fit-out consumables",
		Items: []ItemInput{{ItemID: 1, Quantity: 1}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	// short purpose
	_, err = svc.Create(ctx, storekeeper, CreateInput{
		Type: TypeGeneral, Purpose: "misc",
		Items: []ItemInput{{ItemID: 1, Quantity: 1}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	// duplicate item lines
	_, err = svc.Create(ctx, storekeeper, CreateInput{
		Type: TypeGeneral, Purpose: "workshop restock of consumables",
		Items: []ItemInput{{ItemID: 1, Quantity: 1}, {ItemID: 1, Quantity: 2}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestIssuePostsStockOut(t *testing.T) {
	repo := newFakeRepo()
	repo.seedStock(100, 10)
	repo.seedStock(101, 2)
	svc := newTestService(repo)
	ctx := context.Background()

	mi := createDraft(t, svc)

	// cannot issue before approval
	_, err := svc.Issue(ctx, supervisor, mi.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	mi, err = svc.Approve(ctx, supervisor, mi.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, mi.Status)

	before := len(repo.movements)
	mi, err = svc.Issue(ctx, supervisor, mi.ID)
	require.NoError(t, err)
	require.Equal(t, StatusIssued, mi.Status)
	require.Equal(t, DeliveryPending, mi.DeliveryStatus)
	require.Len(t, repo.movements, before+2)

	for _, m := range repo.movements[before:] {
		require.Equal(t, inventory.MovementStockOut, m.Type)
		require.Equal(t, inventory.RefMaterialIssuance, m.Ref.Kind)
		require.Equal(t, mi.ID, m.Ref.ID)
	}
	// 10 - 4 on item 100
	require.Equal(t, 6.0, repo.movements[before].BalanceAfter)
	// 2 - 1 on item 101
	require.Equal(t, 1.0, repo.movements[before+1].BalanceAfter)
}

func TestIssueFloorsInsufficientStockAtZero(t *testing.T) {
	repo := newFakeRepo()
	repo.seedStock(100, 2)
	svc := newTestService(repo)
	ctx := context.Background()

	mi, err := svc.Create(ctx, storekeeper, CreateInput{
		Type: TypeGeneral, Purpose: "emergency draw of sealant stock",
		Items: []ItemInput{{ItemID: 100, Quantity: 5, UnitCost: 10}},
	})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, supervisor, mi.ID)
	require.NoError(t, err)
	_, err = svc.Issue(ctx, supervisor, mi.ID)
	require.NoError(t, err)

	last := repo.movements[len(repo.movements)-1]
	require.Equal(t, 5.0, last.Quantity)
	require.Equal(t, 0.0, last.BalanceAfter)
}

func TestDeliverySubMachine(t *testing.T) {
	repo := newFakeRepo()
	repo.seedStock(100, 10)
	repo.seedStock(101, 10)
	svc := newTestService(repo)
	ctx := context.Background()

	mi := createDraft(t, svc)

	// delivery moves only while issued
	_, err := svc.MarkDelivered(ctx, storekeeper, mi.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = svc.Approve(ctx, supervisor, mi.ID)
	require.NoError(t, err)
	mi, err = svc.Issue(ctx, supervisor, mi.ID)
	require.NoError(t, err)

	mi, err = svc.MarkDelivered(ctx, storekeeper, mi.ID)
	require.NoError(t, err)
	require.Equal(t, DeliveryDelivered, mi.DeliveryStatus)

	// second deliver fails
	_, err = svc.MarkDelivered(ctx, storekeeper, mi.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	// confirm needs warehouse capability
	_, err = svc.ConfirmReceived(ctx, supervisor, mi.ID, time.Time{})
	require.ErrorIs(t, err, shared.ErrForbidden)

	mi, err = svc.ConfirmReceived(ctx, warehouse, mi.ID, time.Time{})
	require.NoError(t, err)
	require.Equal(t, DeliveryReceived, mi.DeliveryStatus)
	require.NotNil(t, mi.ReceivedAt)

	// receiving twice fails
	_, err = svc.ConfirmReceived(ctx, warehouse, mi.ID, time.Time{})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestCancelBlockedOnceIssued(t *testing.T) {
	repo := newFakeRepo()
	repo.seedStock(100, 10)
	repo.seedStock(101, 10)
	svc := newTestService(repo)
	ctx := context.Background()

	mi := createDraft(t, svc)
	_, err := svc.Approve(ctx, supervisor, mi.ID)
	require.NoError(t, err)

	// approved can still be cancelled
	cancelled, err := svc.Cancel(ctx, storekeeper, mi.ID, "duplicate of an earlier request")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	mi2 := createDraft(t, svc)
	_, err = svc.Approve(ctx, supervisor, mi2.ID)
	require.NoError(t, err)
	_, err = svc.Issue(ctx, supervisor, mi2.ID)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, storekeeper, mi2.ID, "entered against wrong cost centre")
	require.ErrorIs(t, err, shared.ErrConflict)
}
