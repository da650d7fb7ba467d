package procurement

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgeline-erp/forgeline-erp/internal/inventory"
	"github.com/forgeline-erp/forgeline-erp/internal/shared"
)

type fakeState struct {
	requests   map[int64]PurchaseRequest
	quotations map[int64]Quotation
	orders     map[int64]PurchaseOrder
	receipts   map[int64]GoodsReceipt
	returns    map[int64]GoodsReturn
	movements  []inventory.StockMovement
	balances   map[int64]float64
	nextID     int64
}

func (s *fakeState) clone() *fakeState {
	out := &fakeState{
		requests:   make(map[int64]PurchaseRequest, len(s.requests)),
		quotations: make(map[int64]Quotation, len(s.quotations)),
		orders:     make(map[int64]PurchaseOrder, len(s.orders)),
		receipts:   make(map[int64]GoodsReceipt, len(s.receipts)),
		returns:    make(map[int64]GoodsReturn, len(s.returns)),
		movements:  append([]inventory.StockMovement(nil), s.movements...),
		balances:   make(map[int64]float64, len(s.balances)),
		nextID:     s.nextID,
	}
	for k, v := range s.balances {
		out.balances[k] = v
	}
	for k, v := range s.requests {
		out.requests[k] = v
	}
	for k, v := range s.quotations {
		out.quotations[k] = v
	}
	for k, v := range s.orders {
		out.orders[k] = v
	}
	for k, v := range s.receipts {
		out.receipts[k] = v
	}
	for k, v := range s.returns {
		out.returns[k] = v
	}
	return out
}

type fakeRepo struct {
	state *fakeState
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{state: &fakeState{
		requests:   map[int64]PurchaseRequest{},
		quotations: map[int64]Quotation{},
		orders:     map[int64]PurchaseOrder{},
		receipts:   map[int64]GoodsReceipt{},
		returns:    map[int64]GoodsReturn{},
		balances:   map[int64]float64{},
		nextID:     1,
	}}
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := f.state.clone()
	if err := fn(ctx, f); err != nil {
		f.state = snapshot
		return err
	}
	return nil
}

func (f *fakeRepo) id() int64 {
	id := f.state.nextID
	f.state.nextID++
	return id
}

func notFoundErr(entity string) error {
	return shared.ErrNotFound
}

func (f *fakeRepo) InsertPurchaseRequest(ctx context.Context, pr PurchaseRequest) (int64, error) {
	pr.ID = f.id()
	f.state.requests[pr.ID] = pr
	return pr.ID, nil
}

func (f *fakeRepo) InsertPRItem(ctx context.Context, item PRItem) (int64, error) {
	item.ID = f.id()
	pr := f.state.requests[item.RequestID]
	pr.Items = append(pr.Items, item)
	f.state.requests[item.RequestID] = pr
	return item.ID, nil
}

func (f *fakeRepo) GetPurchaseRequestForUpdate(ctx context.Context, id int64) (PurchaseRequest, error) {
	pr, ok := f.state.requests[id]
	if !ok {
		return PurchaseRequest{}, notFoundErr("purchase request")
	}
	return pr, nil
}

func (f *fakeRepo) UpdatePurchaseRequest(ctx context.Context, pr PurchaseRequest) error {
	stored := f.state.requests[pr.ID]
	pr.Items = stored.Items
	f.state.requests[pr.ID] = pr
	return nil
}

func (f *fakeRepo) CountQuotationsForRequest(ctx context.Context, requestID int64) (int, error) {
	n := 0
	for _, q := range f.state.quotations {
		if q.RequestID == requestID {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) InsertQuotation(ctx context.Context, q Quotation) (int64, error) {
	q.ID = f.id()
	f.state.quotations[q.ID] = q
	return q.ID, nil
}

func (f *fakeRepo) InsertQuotationItem(ctx context.Context, item QuotationItem) (int64, error) {
	item.ID = f.id()
	q := f.state.quotations[item.QuotationID]
	q.Items = append(q.Items, item)
	f.state.quotations[item.QuotationID] = q
	return item.ID, nil
}

func (f *fakeRepo) GetQuotationForUpdate(ctx context.Context, id int64) (Quotation, error) {
	q, ok := f.state.quotations[id]
	if !ok {
		return Quotation{}, notFoundErr("quotation")
	}
	return q, nil
}

func (f *fakeRepo) UpdateQuotation(ctx context.Context, q Quotation) error {
	stored := f.state.quotations[q.ID]
	q.Items = stored.Items
	f.state.quotations[q.ID] = q
	return nil
}

func (f *fakeRepo) RejectPendingSiblingQuotations(ctx context.Context, requestID, exceptID int64) (int, error) {
	n := 0
	for id, q := range f.state.quotations {
		if q.RequestID == requestID && id != exceptID && q.Status == QuotationPending {
			q.Status = QuotationRejected
			f.state.quotations[id] = q
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) InsertPurchaseOrder(ctx context.Context, po PurchaseOrder) (int64, error) {
	po.ID = f.id()
	f.state.orders[po.ID] = po
	return po.ID, nil
}

func (f *fakeRepo) InsertPOItem(ctx context.Context, item POItem) (int64, error) {
	item.ID = f.id()
	po := f.state.orders[item.OrderID]
	po.Items = append(po.Items, item)
	f.state.orders[item.OrderID] = po
	return item.ID, nil
}

func (f *fakeRepo) GetPurchaseOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, ok := f.state.orders[id]
	if !ok {
		return PurchaseOrder{}, notFoundErr("purchase order")
	}
	return po, nil
}

func (f *fakeRepo) UpdatePurchaseOrder(ctx context.Context, po PurchaseOrder) error {
	stored := f.state.orders[po.ID]
	po.Items = stored.Items
	f.state.orders[po.ID] = po
	return nil
}

func (f *fakeRepo) HasReceiptWithStatus(ctx context.Context, orderID int64, statuses ...GRStatus) (bool, error) {
	for _, gr := range f.state.receipts {
		if gr.OrderID != orderID {
			continue
		}
		for _, st := range statuses {
			if gr.Status == st {
				return true, nil
			}
		}
	}
	return false, nil
}

func (f *fakeRepo) InsertGoodsReceipt(ctx context.Context, gr GoodsReceipt) (int64, error) {
	gr.ID = f.id()
	f.state.receipts[gr.ID] = gr
	return gr.ID, nil
}

func (f *fakeRepo) InsertGRItem(ctx context.Context, item GRItem) (int64, error) {
	item.ID = f.id()
	gr := f.state.receipts[item.ReceiptID]
	gr.Items = append(gr.Items, item)
	f.state.receipts[item.ReceiptID] = gr
	return item.ID, nil
}

func (f *fakeRepo) GetGoodsReceiptForUpdate(ctx context.Context, id int64) (GoodsReceipt, error) {
	gr, ok := f.state.receipts[id]
	if !ok {
		return GoodsReceipt{}, notFoundErr("goods receipt")
	}
	return gr, nil
}

func (f *fakeRepo) UpdateGoodsReceipt(ctx context.Context, gr GoodsReceipt) error {
	stored := f.state.receipts[gr.ID]
	gr.Items = stored.Items
	f.state.receipts[gr.ID] = gr
	return nil
}

func (f *fakeRepo) CountReturnsForReceipt(ctx context.Context, receiptID int64) (int, error) {
	n := 0
	for _, ret := range f.state.returns {
		if ret.ReceiptID == receiptID {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) InsertGoodsReturn(ctx context.Context, ret GoodsReturn) (int64, error) {
	ret.ID = f.id()
	f.state.returns[ret.ID] = ret
	return ret.ID, nil
}

func (f *fakeRepo) InsertReturnItem(ctx context.Context, item ReturnItem) (int64, error) {
	item.ID = f.id()
	ret := f.state.returns[item.ReturnID]
	ret.Items = append(ret.Items, item)
	f.state.returns[item.ReturnID] = ret
	return item.ID, nil
}

func (f *fakeRepo) GetGoodsReturnForUpdate(ctx context.Context, id int64) (GoodsReturn, error) {
	ret, ok := f.state.returns[id]
	if !ok {
		return GoodsReturn{}, notFoundErr("goods return")
	}
	return ret, nil
}

func (f *fakeRepo) UpdateGoodsReturn(ctx context.Context, ret GoodsReturn) error {
	stored := f.state.returns[ret.ID]
	ret.Items = stored.Items
	f.state.returns[ret.ID] = ret
	return nil
}

func (f *fakeRepo) BalanceForUpdate(ctx context.Context, itemID int64) (float64, error) {
	return f.state.balances[itemID], nil
}

func (f *fakeRepo) SetBalance(ctx context.Context, itemID int64, balance float64) error {
	f.state.balances[itemID] = balance
	return nil
}

func (f *fakeRepo) InsertMovement(ctx context.Context, m inventory.StockMovement) (int64, error) {
	m.ID = f.id()
	f.state.movements = append(f.state.movements, m)
	return m.ID, nil
}

func (f *fakeRepo) GetPurchaseRequest(ctx context.Context, id int64) (PurchaseRequest, error) {
	return f.GetPurchaseRequestForUpdate(ctx, id)
}

func (f *fakeRepo) ListPurchaseRequests(ctx context.Context, p shared.Pagination) ([]PurchaseRequest, error) {
	var out []PurchaseRequest
	for _, pr := range f.state.requests {
		out = append(out, pr)
	}
	return out, nil
}

func (f *fakeRepo) GetQuotation(ctx context.Context, id int64) (Quotation, error) {
	return f.GetQuotationForUpdate(ctx, id)
}

func (f *fakeRepo) ListQuotationsForRequest(ctx context.Context, requestID int64) ([]Quotation, error) {
	var out []Quotation
	for _, q := range f.state.quotations {
		if q.RequestID == requestID {
			out = append(out, q)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListExpiredPendingQuotations(ctx context.Context, asOf time.Time) ([]int64, error) {
	var ids []int64
	for id, q := range f.state.quotations {
		if q.Status == QuotationPending && q.ValidUntil.Before(asOf) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeRepo) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return f.GetPurchaseOrderForUpdate(ctx, id)
}

func (f *fakeRepo) ListPurchaseOrders(ctx context.Context, p shared.Pagination) ([]PurchaseOrder, error) {
	var out []PurchaseOrder
	for _, po := range f.state.orders {
		out = append(out, po)
	}
	return out, nil
}

func (f *fakeRepo) GetGoodsReceipt(ctx context.Context, id int64) (GoodsReceipt, error) {
	return f.GetGoodsReceiptForUpdate(ctx, id)
}

func (f *fakeRepo) ListReceiptsForOrder(ctx context.Context, orderID int64) ([]GoodsReceipt, error) {
	var out []GoodsReceipt
	for _, gr := range f.state.receipts {
		if gr.OrderID == orderID {
			out = append(out, gr)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetGoodsReturn(ctx context.Context, id int64) (GoodsReturn, error) {
	return f.GetGoodsReturnForUpdate(ctx, id)
}

func (f *fakeRepo) ListReturnsForReceipt(ctx context.Context, receiptID int64) ([]GoodsReturn, error) {
	var out []GoodsReturn
	for _, ret := range f.state.returns {
		if ret.ReceiptID == receiptID {
			out = append(out, ret)
		}
	}
	return out, nil
}

type nopApprovals struct{}

func (nopApprovals) Record(ctx context.Context, log shared.ApprovalLog) error { return nil }

func newTestService(repo *fakeRepo) *Service {
	return NewService(repo, nopApprovals{}, slog.Default(), 0.10)
}

var (
	editor   = shared.Actor{ID: 1, Permissions: []string{shared.PermProcurementEdit}}
	approver = shared.Actor{ID: 2, Permissions: []string{shared.PermProcurementApprove}}
	invMgr   = shared.Actor{ID: 3, Permissions: []string{shared.PermInventoryApprove}}
	whMgr    = shared.Actor{ID: 4, Permissions: []string{shared.PermWarehouseApprove}}
)

func ctxb() context.Context { return context.Background() }

func createApprovedPR(t *testing.T, svc *Service) PurchaseRequest {
	t.Helper()
	pr, err := svc.CreatePurchaseRequest(ctxb(), editor, CreatePRInput{
		ProjectID: 10,
		Purpose:   "steel plates for hull section",
		Items: []PRItemInput{
			{ItemID: 100, Quantity: 20, UnitCost: 50},
			{ItemID: 101, Quantity: 5, UnitCost: 120},
		},
	})
	require.NoError(t, err)
	require.Equal(t, PRDraft, pr.Status)

	pr, err = svc.SubmitPurchaseRequest(ctxb(), editor, pr.ID)
	require.NoError(t, err)
	require.Equal(t, PRSubmitted, pr.Status)

	pr, err = svc.ApprovePurchaseRequest(ctxb(), approver, pr.ID)
	require.NoError(t, err)
	require.Equal(t, PRApproved, pr.Status)
	return pr
}

func createQuotationFor(t *testing.T, svc *Service, pr PurchaseRequest, supplierID int64) Quotation {
	t.Helper()
	in := CreateQuotationInput{
		RequestID:  pr.ID,
		SupplierID: supplierID,
		ValidUntil: time.Now().Add(30 * 24 * time.Hour),
	}
	for _, it := range pr.Items {
		in.Items = append(in.Items, QuotationItemInput{ItemID: it.ItemID, Quantity: it.Quantity, UnitPrice: it.UnitCost})
	}
	q, err := svc.CreateQuotation(ctxb(), editor, in)
	require.NoError(t, err)
	return q
}

func TestPurchaseRequestLifecycle(t *testing.T) {
	svc := newTestService(newFakeRepo())

	_, err := svc.CreatePurchaseRequest(ctxb(), editor, CreatePRInput{
		ProjectID: 1, Purpose: "too short", Items: []PRItemInput{{ItemID: 1, Quantity: 1}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreatePurchaseRequest(ctxb(), editor, CreatePRInput{
		ProjectID: 1, Purpose: "replacement welding consumables", Items: []PRItemInput{{ItemID: 1, Quantity: -3}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	pr := createApprovedPR(t, svc)

	// approve is submitted-only
	_, err = svc.ApprovePurchaseRequest(ctxb(), approver, pr.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	// permission boundary
	_, err = svc.ApprovePurchaseRequest(ctxb(), editor, pr.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestCancelPRBlockedByQuotations(t *testing.T) {
	svc := newTestService(newFakeRepo())
	pr := createApprovedPR(t, svc)
	createQuotationFor(t, svc, pr, 1)

	_, err := svc.CancelPurchaseRequest(ctxb(), editor, pr.ID, "project descoped, no longer needed")
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestAcceptQuotationRejectsSiblings(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	pr := createApprovedPR(t, svc)
	q1 := createQuotationFor(t, svc, pr, 1)
	q2 := createQuotationFor(t, svc, pr, 2)
	q3 := createQuotationFor(t, svc, pr, 3)

	accepted, err := svc.AcceptQuotation(ctxb(), approver, q2.ID)
	require.NoError(t, err)
	require.Equal(t, QuotationAccepted, accepted.Status)

	for _, id := range []int64{q1.ID, q3.ID} {
		q, err := svc.GetQuotation(ctxb(), id)
		require.NoError(t, err)
		require.Equal(t, QuotationRejected, q.Status)
	}

	// accepting the other one now fails: it is no longer pending
	_, err = svc.AcceptQuotation(ctxb(), approver, q1.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestCreatePurchaseOrderComputesTaxAndConvertsPR(t *testing.T) {
	svc := newTestService(newFakeRepo())
	pr := createApprovedPR(t, svc)
	q := createQuotationFor(t, svc, pr, 1)

	po, err := svc.CreatePurchaseOrder(ctxb(), editor, CreatePOInput{
		QuotationID:     q.ID,
		DeliveryAddress: "Yard 2, Dock Road",
	})
	require.NoError(t, err)
	// 20*50 + 5*120 = 1600, 10% tax
	require.Equal(t, 1600.0, po.Subtotal)
	require.Equal(t, 160.0, po.TaxAmount)
	require.Equal(t, 1760.0, po.TotalAmount)
	require.Len(t, po.Items, 2)
	require.Equal(t, POPending, po.Status)

	pr, err = svc.GetPurchaseRequest(ctxb(), pr.ID)
	require.NoError(t, err)
	require.Equal(t, PRConverted, pr.Status)

	q, err = svc.GetQuotation(ctxb(), q.ID)
	require.NoError(t, err)
	require.Equal(t, QuotationAccepted, q.Status)
}

func TestApprovePOCreatesReceiptSkeleton(t *testing.T) {
	svc := newTestService(newFakeRepo())
	pr := createApprovedPR(t, svc)
	q := createQuotationFor(t, svc, pr, 1)
	po, err := svc.CreatePurchaseOrder(ctxb(), editor, CreatePOInput{QuotationID: q.ID, DeliveryAddress: "Yard 2"})
	require.NoError(t, err)

	po, err = svc.ApprovePurchaseOrder(ctxb(), approver, po.ID)
	require.NoError(t, err)
	require.Equal(t, POApproved, po.Status)

	grs, err := svc.ListReceiptsForOrder(ctxb(), po.ID)
	require.NoError(t, err)
	require.Len(t, grs, 1)
	require.Equal(t, GRPending, grs[0].Status)
	require.Len(t, grs[0].Items, 2)
	for _, it := range grs[0].Items {
		require.Equal(t, it.QuantityOrdered, it.QuantityReceived)
		require.Equal(t, it.QuantityOrdered, it.QuantityAccepted)
		require.Zero(t, it.QuantityRejected)
	}

	// re-approving an approved order fails, and no second skeleton appears
	_, err = svc.ApprovePurchaseOrder(ctxb(), approver, po.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
	grs, err = svc.ListReceiptsForOrder(ctxb(), po.ID)
	require.NoError(t, err)
	require.Len(t, grs, 1)
}

func approvedOrderWithReceipt(t *testing.T, svc *Service) (PurchaseOrder, GoodsReceipt) {
	t.Helper()
	pr := createApprovedPR(t, svc)
	q := createQuotationFor(t, svc, pr, 1)
	po, err := svc.CreatePurchaseOrder(ctxb(), editor, CreatePOInput{QuotationID: q.ID, DeliveryAddress: "Yard 2"})
	require.NoError(t, err)
	po, err = svc.ApprovePurchaseOrder(ctxb(), approver, po.ID)
	require.NoError(t, err)
	grs, err := svc.ListReceiptsForOrder(ctxb(), po.ID)
	require.NoError(t, err)
	require.Len(t, grs, 1)
	return po, grs[0]
}

func TestApproveGoodsReceiptPostsStockAndCompletesOrder(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	po, gr := approvedOrderWithReceipt(t, svc)

	// only the inventory capability may approve
	_, err := svc.ApproveGoodsReceipt(ctxb(), approver, gr.ID, "")
	require.ErrorIs(t, err, shared.ErrForbidden)

	approved, err := svc.ApproveGoodsReceipt(ctxb(), invMgr, gr.ID, "all lines checked")
	require.NoError(t, err)
	require.Equal(t, GRApproved, approved.Status)
	require.NotNil(t, approved.InventoryApproverID)

	require.Len(t, repo.state.movements, 2)
	for _, m := range repo.state.movements {
		require.Equal(t, inventory.MovementStockIn, m.Type)
		require.Equal(t, inventory.RefGoodsReceipt, m.Ref.Kind)
		require.Equal(t, gr.ID, m.Ref.ID)
	}

	po, err = svc.GetPurchaseOrder(ctxb(), po.ID)
	require.NoError(t, err)
	require.Equal(t, POCompleted, po.Status)

	// one-way: no second approval
	_, err = svc.ApproveGoodsReceipt(ctxb(), invMgr, gr.ID, "")
	require.ErrorIs(t, err, shared.ErrConflict)

	// cancel after approval is blocked
	_, err = svc.CancelGoodsReceipt(ctxb(), editor, gr.ID, "mistaken entry, please void")
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestWarehouseApprovalStage(t *testing.T) {
	svc := newTestService(newFakeRepo())
	_, gr := approvedOrderWithReceipt(t, svc)

	staged, err := svc.WarehouseApproveGoodsReceipt(ctxb(), whMgr, gr.ID)
	require.NoError(t, err)
	require.Equal(t, GRWarehouseApproved, staged.Status)

	approved, err := svc.ApproveGoodsReceipt(ctxb(), invMgr, gr.ID, "")
	require.NoError(t, err)
	require.Equal(t, GRApproved, approved.Status)
}

func TestCancelPOGuards(t *testing.T) {
	svc := newTestService(newFakeRepo())
	po, gr := approvedOrderWithReceipt(t, svc)

	_, err := svc.ApproveGoodsReceipt(ctxb(), invMgr, gr.ID, "")
	require.NoError(t, err)

	// approved receipt means the order is completed and cannot be cancelled
	_, err = svc.CancelPurchaseOrder(ctxb(), editor, po.ID, "supplier delay unacceptable")
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestCancelPOReopensQuotationForNewOrder(t *testing.T) {
	svc := newTestService(newFakeRepo())
	pr := createApprovedPR(t, svc)
	q := createQuotationFor(t, svc, pr, 1)
	po, err := svc.CreatePurchaseOrder(ctxb(), editor, CreatePOInput{QuotationID: q.ID, DeliveryAddress: "Yard 2"})
	require.NoError(t, err)

	po, err = svc.CancelPurchaseOrder(ctxb(), editor, po.ID, "budget reallocation for Q3")
	require.NoError(t, err)
	require.Equal(t, POCancelled, po.Status)

	q, err = svc.GetQuotation(ctxb(), q.ID)
	require.NoError(t, err)
	require.Equal(t, QuotationPending, q.Status)

	// the request is approved again, so the quotation converts into a new order
	pr, err = svc.GetPurchaseRequest(ctxb(), pr.ID)
	require.NoError(t, err)
	require.Equal(t, PRApproved, pr.Status)

	po2, err := svc.CreatePurchaseOrder(ctxb(), editor, CreatePOInput{QuotationID: q.ID, DeliveryAddress: "Yard 2"})
	require.NoError(t, err)
	require.Equal(t, POPending, po2.Status)
	require.NotEqual(t, po.ID, po2.ID)

	pr, err = svc.GetPurchaseRequest(ctxb(), pr.ID)
	require.NoError(t, err)
	require.Equal(t, PRConverted, pr.Status)
}

func TestGoodsReceiptArithmetic(t *testing.T) {
	svc := newTestService(newFakeRepo())
	pr := createApprovedPR(t, svc)
	q := createQuotationFor(t, svc, pr, 1)
	po, err := svc.CreatePurchaseOrder(ctxb(), editor, CreatePOInput{QuotationID: q.ID, DeliveryAddress: "Yard 2"})
	require.NoError(t, err)
	po, err = svc.ApprovePurchaseOrder(ctxb(), approver, po.ID)
	require.NoError(t, err)
	grs, err := svc.ListReceiptsForOrder(ctxb(), po.ID)
	require.NoError(t, err)
	// cancel the auto skeleton so a manual receipt can be filed
	_, err = svc.CancelGoodsReceipt(ctxb(), editor, grs[0].ID, "filing a corrected receipt")
	require.NoError(t, err)

	line := po.Items[0]

	// accepted + rejected must equal received
	_, err = svc.CreateGoodsReceipt(ctxb(), editor, CreateGRInput{
		OrderID: po.ID,
		Items: []GRItemInput{{
			OrderItemID: line.ID, QuantityReceived: 20, QuantityAccepted: 15, QuantityRejected: 2, RejectionReason: "dents",
		}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	// received cannot exceed ordered
	_, err = svc.CreateGoodsReceipt(ctxb(), editor, CreateGRInput{
		OrderID: po.ID,
		Items: []GRItemInput{{
			OrderItemID: line.ID, QuantityReceived: 25, QuantityAccepted: 25,
		}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	gr, err := svc.CreateGoodsReceipt(ctxb(), editor, CreateGRInput{
		OrderID: po.ID,
		Items: []GRItemInput{{
			OrderItemID: line.ID, QuantityReceived: 20, QuantityAccepted: 17, QuantityRejected: 3, RejectionReason: "surface corrosion",
		}},
	})
	require.NoError(t, err)
	require.Equal(t, GRPending, gr.Status)
}

func TestReturnLifecycle(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	pr := createApprovedPR(t, svc)
	q := createQuotationFor(t, svc, pr, 1)
	po, err := svc.CreatePurchaseOrder(ctxb(), editor, CreatePOInput{QuotationID: q.ID, DeliveryAddress: "Yard 2"})
	require.NoError(t, err)
	po, err = svc.ApprovePurchaseOrder(ctxb(), approver, po.ID)
	require.NoError(t, err)
	grs, err := svc.ListReceiptsForOrder(ctxb(), po.ID)
	require.NoError(t, err)
	_, err = svc.CancelGoodsReceipt(ctxb(), editor, grs[0].ID, "filing a corrected receipt")
	require.NoError(t, err)

	line := po.Items[0]
	gr, err := svc.CreateGoodsReceipt(ctxb(), editor, CreateGRInput{
		OrderID: po.ID,
		Items: []GRItemInput{{
			OrderItemID: line.ID, QuantityReceived: 20, QuantityAccepted: 17, QuantityRejected: 3, RejectionReason: "surface corrosion",
		}},
	})
	require.NoError(t, err)

	// returns need an approved receipt first
	_, err = svc.CreateGoodsReturn(ctxb(), editor, CreateReturnInput{
		ReceiptID: gr.ID,
		Items:     []ReturnItemInput{{ReceiptItemID: gr.Items[0].ID, Quantity: 3}},
	})
	require.ErrorIs(t, err, shared.ErrConflict)

	gr, err = svc.ApproveGoodsReceipt(ctxb(), invMgr, gr.ID, "")
	require.NoError(t, err)

	// quantity capped by rejected quantity
	_, err = svc.CreateGoodsReturn(ctxb(), editor, CreateReturnInput{
		ReceiptID: gr.ID,
		Items:     []ReturnItemInput{{ReceiptItemID: gr.Items[0].ID, Quantity: 5}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	ret, err := svc.CreateGoodsReturn(ctxb(), editor, CreateReturnInput{
		ReceiptID: gr.ID,
		Items:     []ReturnItemInput{{ReceiptItemID: gr.Items[0].ID, Quantity: 3, Reason: "returned to supplier"}},
	})
	require.NoError(t, err)

	// a receipt with returns can no longer be cancelled, approved or not
	_, err = svc.CancelGoodsReceipt(ctxb(), editor, gr.ID, "attempting to void receipt")
	require.ErrorIs(t, err, shared.ErrConflict)

	before := len(repo.state.movements)
	ret, err = svc.ApproveGoodsReturn(ctxb(), invMgr, ret.ID)
	require.NoError(t, err)
	require.Equal(t, ReturnApproved, ret.Status)
	require.Len(t, repo.state.movements, before+1)
	last := repo.state.movements[len(repo.state.movements)-1]
	require.Equal(t, inventory.MovementStockOut, last.Type)
	require.Equal(t, inventory.RefGoodsReturn, last.Ref.Kind)
	// 17 accepted in, 3 back out
	require.Equal(t, 14.0, last.BalanceAfter)

	// cancel after approval is blocked
	_, err = svc.CancelGoodsReturn(ctxb(), editor, ret.ID, "void this return entry")
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestAtMostOneApprovedReceiptPerOrder(t *testing.T) {
	svc := newTestService(newFakeRepo())
	po, gr := approvedOrderWithReceipt(t, svc)

	_, err := svc.ApproveGoodsReceipt(ctxb(), invMgr, gr.ID, "")
	require.NoError(t, err)

	// the order is completed; filing another receipt is rejected
	_, err = svc.CreateGoodsReceipt(ctxb(), editor, CreateGRInput{
		OrderID: po.ID,
		Items:   []GRItemInput{{OrderItemID: po.Items[0].ID, QuantityReceived: 1, QuantityAccepted: 1}},
	})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestExpirePendingQuotations(t *testing.T) {
	svc := newTestService(newFakeRepo())
	pr := createApprovedPR(t, svc)

	in := CreateQuotationInput{
		RequestID:  pr.ID,
		SupplierID: 1,
		ValidUntil: time.Now().Add(-24 * time.Hour),
		Items:      []QuotationItemInput{{ItemID: 100, Quantity: 20, UnitPrice: 50}},
	}
	q, err := svc.CreateQuotation(ctxb(), editor, in)
	require.NoError(t, err)

	n, err := svc.ExpirePendingQuotations(ctxb(), time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	q, err = svc.GetQuotation(ctxb(), q.ID)
	require.NoError(t, err)
	require.Equal(t, QuotationRejected, q.Status)
}

func (f *fakeRepo) DeletePurchaseRequest(ctx context.Context, id int64) error {
	delete(f.state.requests, id)
	return nil
}

func (f *fakeRepo) DeletePurchaseOrder(ctx context.Context, id int64) error {
	for grID, gr := range f.state.receipts {
		if gr.OrderID == id {
			delete(f.state.receipts, grID)
		}
	}
	delete(f.state.orders, id)
	return nil
}

func TestDeletePRBlockedByQuotations(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	pr := createApprovedPR(t, svc)
	_ = createQuotationFor(t, svc, pr, 1)

	err := svc.DeletePurchaseRequest(ctx, editor, pr.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	pr2, err := svc.CreatePurchaseRequest(ctx, editor, CreatePRInput{
		ProjectID: 1,
		Purpose:   "spare anodes for hull section",
		Items:     []PRItemInput{{ItemID: 10, Quantity: 4}},
	})
	require.NoError(t, err)
	require.NoError(t, svc.DeletePurchaseRequest(ctx, editor, pr2.ID))
	_, err = svc.GetPurchaseRequest(ctx, pr2.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDraftOrderSubmitAndComplete(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	pr := createApprovedPR(t, svc)
	q := createQuotationFor(t, svc, pr, 1)

	po, err := svc.CreatePurchaseOrder(ctx, editor, CreatePOInput{
		QuotationID:     q.ID,
		DeliveryAddress: "Yard 2, Slipway B",
		Draft:           true,
	})
	require.NoError(t, err)
	require.Equal(t, PODraft, po.Status)

	// approve path requires pending or draft; completing needs approved
	_, err = svc.CompletePurchaseOrder(ctx, approver, po.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	po, err = svc.SubmitPurchaseOrder(ctx, editor, po.ID)
	require.NoError(t, err)
	require.Equal(t, POPending, po.Status)

	_, err = svc.SubmitPurchaseOrder(ctx, editor, po.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	po, err = svc.ApprovePurchaseOrder(ctx, approver, po.ID)
	require.NoError(t, err)
	po, err = svc.CompletePurchaseOrder(ctx, approver, po.ID)
	require.NoError(t, err)
	require.Equal(t, POCompleted, po.Status)
}

func TestDeleteOrderGuardsAndReopensQuotation(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	po, gr := approvedOrderWithReceipt(t, svc)
	_, err := svc.ApproveGoodsReceipt(ctx, invMgr, gr.ID, "")
	require.NoError(t, err)

	err = svc.DeletePurchaseOrder(ctx, editor, po.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	pr := createApprovedPR(t, svc)
	q := createQuotationFor(t, svc, pr, 1)
	po2, err := svc.CreatePurchaseOrder(ctx, editor, CreatePOInput{QuotationID: q.ID, DeliveryAddress: "Yard 1"})
	require.NoError(t, err)
	require.NoError(t, svc.DeletePurchaseOrder(ctx, editor, po2.ID))

	q2, err := svc.GetQuotation(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, QuotationPending, q2.Status)

	pr2, err := svc.GetPurchaseRequest(ctx, pr.ID)
	require.NoError(t, err)
	require.Equal(t, PRApproved, pr2.Status)

	_, err = svc.CreatePurchaseOrder(ctx, editor, CreatePOInput{QuotationID: q.ID, DeliveryAddress: "Yard 1"})
	require.NoError(t, err)
}

func TestDraftReceiptSubmitThenApprove(t *testing.T) {
	svc := newTestService(newFakeRepo())
	po, skeleton := approvedOrderWithReceipt(t, svc)
	_, err := svc.CancelGoodsReceipt(ctxb(), editor, skeleton.ID, "filing a corrected receipt")
	require.NoError(t, err)

	line := po.Items[0]
	gr, err := svc.CreateGoodsReceipt(ctxb(), editor, CreateGRInput{
		OrderID: po.ID,
		Draft:   true,
		Items: []GRItemInput{{
			OrderItemID: line.ID, QuantityReceived: 20, QuantityAccepted: 20,
		}},
	})
	require.NoError(t, err)
	require.Equal(t, GRDraft, gr.Status)

	// drafts are not approvable until submitted
	_, err = svc.ApproveGoodsReceipt(ctxb(), invMgr, gr.ID, "")
	require.ErrorIs(t, err, shared.ErrConflict)
	_, err = svc.WarehouseApproveGoodsReceipt(ctxb(), whMgr, gr.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	gr, err = svc.SubmitGoodsReceipt(ctxb(), editor, gr.ID)
	require.NoError(t, err)
	require.Equal(t, GRPending, gr.Status)

	_, err = svc.SubmitGoodsReceipt(ctxb(), editor, gr.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	gr, err = svc.ApproveGoodsReceipt(ctxb(), invMgr, gr.ID, "")
	require.NoError(t, err)
	require.Equal(t, GRApproved, gr.Status)
}

func TestStockPostingsChainPerItem(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	pr := createApprovedPR(t, svc)
	q := createQuotationFor(t, svc, pr, 1)
	po, err := svc.CreatePurchaseOrder(ctxb(), editor, CreatePOInput{QuotationID: q.ID, DeliveryAddress: "Yard 2"})
	require.NoError(t, err)
	po, err = svc.ApprovePurchaseOrder(ctxb(), approver, po.ID)
	require.NoError(t, err)
	grs, err := svc.ListReceiptsForOrder(ctxb(), po.ID)
	require.NoError(t, err)
	_, err = svc.CancelGoodsReceipt(ctxb(), editor, grs[0].ID, "filing a corrected receipt")
	require.NoError(t, err)

	line := po.Items[0]
	gr, err := svc.CreateGoodsReceipt(ctxb(), editor, CreateGRInput{
		OrderID: po.ID,
		Items: []GRItemInput{{
			OrderItemID: line.ID, QuantityReceived: 20, QuantityAccepted: 16, QuantityRejected: 4, RejectionReason: "bent flanges",
		}},
	})
	require.NoError(t, err)
	gr, err = svc.ApproveGoodsReceipt(ctxb(), invMgr, gr.ID, "")
	require.NoError(t, err)

	ret, err := svc.CreateGoodsReturn(ctxb(), editor, CreateReturnInput{
		ReceiptID: gr.ID,
		Items:     []ReturnItemInput{{ReceiptItemID: gr.Items[0].ID, Quantity: 4, Reason: "returned to supplier"}},
	})
	require.NoError(t, err)
	_, err = svc.ApproveGoodsReturn(ctxb(), invMgr, ret.ID)
	require.NoError(t, err)

	// the receipt posted stock in, the return posted stock out; every movement
	// for the item chains off the previous balance and the balance row tracks
	// the newest movement
	itemID := line.ItemID
	balance := 0.0
	count := 0
	for _, m := range repo.state.movements {
		if m.ItemID != itemID {
			continue
		}
		count++
		switch m.Type {
		case inventory.MovementStockIn:
			balance += m.Quantity
		case inventory.MovementStockOut:
			balance -= m.Quantity
			if balance < 0 {
				balance = 0
			}
		}
		require.Equal(t, balance, m.BalanceAfter)
	}
	require.Equal(t, 2, count)
	require.Equal(t, 12.0, balance)
	require.Equal(t, balance, repo.state.balances[itemID])
}
