package projects

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgeline-erp/forgeline-erp/internal/shared"
)

type fakeRepo struct {
	projects     map[int64]Project
	history      []HistoryEntry
	changeOrders map[int64]ChangeOrder
	nextID       int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{projects: map[int64]Project{}, changeOrders: map[int64]ChangeOrder{}, nextID: 1}
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapProjects := make(map[int64]Project, len(f.projects))
	for k, v := range f.projects {
		snapProjects[k] = v
	}
	snapCOs := make(map[int64]ChangeOrder, len(f.changeOrders))
	for k, v := range f.changeOrders {
		snapCOs[k] = v
	}
	snapHistory := append([]HistoryEntry(nil), f.history...)
	snapNext := f.nextID
	if err := fn(ctx, f); err != nil {
		f.projects = snapProjects
		f.changeOrders = snapCOs
		f.history = snapHistory
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

func (f *fakeRepo) InsertProject(ctx context.Context, p Project) (int64, error) {
	p.ID = f.id()
	f.projects[p.ID] = p
	return p.ID, nil
}

func (f *fakeRepo) GetProjectForUpdate(ctx context.Context, id int64) (Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return Project{}, shared.ErrNotFound
	}
	return p, nil
}

func (f *fakeRepo) UpdateProject(ctx context.Context, p Project) error {
	f.projects[p.ID] = p
	return nil
}

func (f *fakeRepo) InsertHistory(ctx context.Context, e HistoryEntry) (int64, error) {
	e.ID = f.id()
	f.history = append(f.history, e)
	return e.ID, nil
}

func (f *fakeRepo) InsertChangeOrder(ctx context.Context, co ChangeOrder) (int64, error) {
	co.ID = f.id()
	f.changeOrders[co.ID] = co
	return co.ID, nil
}

func (f *fakeRepo) GetChangeOrderForUpdate(ctx context.Context, id int64) (ChangeOrder, error) {
	co, ok := f.changeOrders[id]
	if !ok {
		return ChangeOrder{}, shared.ErrNotFound
	}
	return co, nil
}

func (f *fakeRepo) UpdateChangeOrder(ctx context.Context, co ChangeOrder) error {
	f.changeOrders[co.ID] = co
	return nil
}

func (f *fakeRepo) GetProject(ctx context.Context, id int64) (Project, error) {
	return f.GetProjectForUpdate(ctx, id)
}

func (f *fakeRepo) GetProjectByCode(ctx context.Context, code string) (Project, error) {
	for _, p := range f.projects {
		if p.Code == code {
			return p, nil
		}
	}
	return Project{}, shared.ErrNotFound
}

func (f *fakeRepo) ListProjects(ctx context.Context, p shared.Pagination) ([]Project, error) {
	var out []Project
	for _, proj := range f.projects {
		out = append(out, proj)
	}
	return out, nil
}

func (f *fakeRepo) ListHistory(ctx context.Context, projectID int64) ([]HistoryEntry, error) {
	var out []HistoryEntry
	for _, e := range f.history {
		if e.ProjectID == projectID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetChangeOrder(ctx context.Context, id int64) (ChangeOrder, error) {
	return f.GetChangeOrderForUpdate(ctx, id)
}

func (f *fakeRepo) ListChangeOrdersForProject(ctx context.Context, projectID int64) ([]ChangeOrder, error) {
	var out []ChangeOrder
	for _, co := range f.changeOrders {
		if co.ProjectID == projectID {
			out = append(out, co)
		}
	}
	return out, nil
}

type nopApprovals struct{}

func (nopApprovals) Record(ctx context.Context, log shared.ApprovalLog) error { return nil }

var (
	manager  = shared.Actor{ID: 1, Permissions: []string{shared.PermProjectsEdit}}
	director = shared.Actor{ID: 2, Permissions: []string{shared.PermProjectsApprove}}
)

func newTestService(repo *fakeRepo) *Service {
	return NewService(repo, nopApprovals{}, slog.Default())
}

func createProject(t *testing.T, svc *Service) Project {
	t.Helper()
	p, err := svc.CreateProject(context.Background(), manager, CreateProjectInput{
		Name:      "Dry Dock Extension",
		Code:      "DD7",
		ManagerID: manager.ID,
		Budget:    100000,
		StartDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, StatusPlanning, p.Status)
	return p
}

func TestProjectStatusTransitions(t *testing.T) {
	svc := newTestService(newFakeRepo())
	ctx := context.Background()
	p := createProject(t, svc)

	p, err := svc.UpdateProjectStatus(ctx, manager, p.ID, StatusActive, "kick-off")
	require.NoError(t, err)
	require.Equal(t, StatusActive, p.Status)

	_, err = svc.UpdateProjectStatus(ctx, manager, p.ID, StatusActive, "")
	require.ErrorIs(t, err, shared.ErrConflict)

	p, err = svc.UpdateProjectStatus(ctx, manager, p.ID, StatusCompleted, "handover done")
	require.NoError(t, err)

	// terminal
	_, err = svc.UpdateProjectStatus(ctx, manager, p.ID, StatusActive, "")
	require.ErrorIs(t, err, shared.ErrConflict)

	history, err := svc.History(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
}

func TestApproveChangeOrderMutatesProject(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	p := createProject(t, svc)

	co, err := svc.CreateChangeOrder(ctx, manager, CreateChangeOrderInput{
		ProjectID:      p.ID,
		Description:    "additional blasting and coating scope",
		AdditionalDays: 14,
		AdditionalCost: 25000,
	})
	require.NoError(t, err)
	require.Equal(t, ChangeOrderPending, co.Status)

	// approval capability required
	_, err = svc.ApproveChangeOrder(ctx, manager, co.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)

	co, err = svc.ApproveChangeOrder(ctx, director, co.ID)
	require.NoError(t, err)
	require.Equal(t, ChangeOrderApproved, co.Status)

	p, err = svc.GetProject(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 125000.0, p.Budget)
	require.Equal(t, time.Date(2027, 1, 14, 0, 0, 0, 0, time.UTC), p.EndDate)

	// one-way: approving again fails and the project is untouched
	_, err = svc.ApproveChangeOrder(ctx, director, co.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
	p2, err := svc.GetProject(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, p.Budget, p2.Budget)
	require.Equal(t, p.EndDate, p2.EndDate)

	// cancel after approval is blocked
	_, err = svc.CancelChangeOrder(ctx, manager, co.ID, "withdraw the extension request")
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestZeroDayChangeOrderStillAddsCost(t *testing.T) {
	svc := newTestService(newFakeRepo())
	ctx := context.Background()
	p := createProject(t, svc)
	end := p.EndDate

	co, err := svc.CreateChangeOrder(ctx, manager, CreateChangeOrderInput{
		ProjectID:      p.ID,
		Description:    "price escalation on steel supply",
		AdditionalDays: 0,
		AdditionalCost: 5000,
	})
	require.NoError(t, err)
	_, err = svc.ApproveChangeOrder(ctx, director, co.ID)
	require.NoError(t, err)

	p, err = svc.GetProject(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 105000.0, p.Budget)
	require.Equal(t, end, p.EndDate)
}

func TestRejectChangeOrder(t *testing.T) {
	svc := newTestService(newFakeRepo())
	ctx := context.Background()
	p := createProject(t, svc)

	co, err := svc.CreateChangeOrder(ctx, manager, CreateChangeOrderInput{
		ProjectID:      p.ID,
		Description:    "scope addition declined by client",
		AdditionalCost: 9000,
	})
	require.NoError(t, err)

	co, err = svc.RejectChangeOrder(ctx, director, co.ID, "client did not sign the variation")
	require.NoError(t, err)
	require.Equal(t, ChangeOrderRejected, co.Status)

	p, err = svc.GetProject(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 100000.0, p.Budget)
}

func TestChangeOrderNeedsLiveProject(t *testing.T) {
	svc := newTestService(newFakeRepo())
	ctx := context.Background()
	p := createProject(t, svc)
	_, err := svc.UpdateProjectStatus(ctx, manager, p.ID, StatusCancelled, "tender lost")
	require.NoError(t, err)

	_, err = svc.CreateChangeOrder(ctx, manager, CreateChangeOrderInput{
		ProjectID:   p.ID,
		Description: "schedule slip on cancelled job",
	})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestUpdateProjectDetails(t *testing.T) {
	svc := newTestService(newFakeRepo())
	ctx := context.Background()
	p := createProject(t, svc)

	p2, err := svc.UpdateProject(ctx, manager, p.ID, UpdateProjectInput{
		Name:    "Dry Dock Extension Phase 2",
		EndDate: time.Date(2027, 6, 30, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, "Dry Dock Extension Phase 2", p2.Name)
	require.Equal(t, p.StartDate, p2.StartDate)
	require.Equal(t, time.Date(2027, 6, 30, 0, 0, 0, 0, time.UTC), p2.EndDate)

	_, err = svc.UpdateProject(ctx, manager, p.ID, UpdateProjectInput{
		EndDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.UpdateProjectStatus(ctx, manager, p.ID, StatusCompleted, "done")
	require.NoError(t, err)
	_, err = svc.UpdateProject(ctx, manager, p.ID, UpdateProjectInput{Name: "renamed"})
	require.ErrorIs(t, err, shared.ErrConflict)
}
