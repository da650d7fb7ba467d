package projects

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/forgeline-erp/forgeline-erp/internal/shared"
)

// TxRepository is the transactional surface of the projects store.
type TxRepository interface {
	InsertProject(ctx context.Context, p Project) (int64, error)
	GetProjectForUpdate(ctx context.Context, id int64) (Project, error)
	UpdateProject(ctx context.Context, p Project) error
	InsertHistory(ctx context.Context, e HistoryEntry) (int64, error)

	InsertChangeOrder(ctx context.Context, co ChangeOrder) (int64, error)
	GetChangeOrderForUpdate(ctx context.Context, id int64) (ChangeOrder, error)
	UpdateChangeOrder(ctx context.Context, co ChangeOrder) error
}

// RepositoryPort abstracts the projects store for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	GetProject(ctx context.Context, id int64) (Project, error)
	GetProjectByCode(ctx context.Context, code string) (Project, error)
	ListProjects(ctx context.Context, p shared.Pagination) ([]Project, error)
	ListHistory(ctx context.Context, projectID int64) ([]HistoryEntry, error)
	GetChangeOrder(ctx context.Context, id int64) (ChangeOrder, error)
	ListChangeOrdersForProject(ctx context.Context, projectID int64) ([]ChangeOrder, error)
}

type approvalSink interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

const entityChangeOrder = "change_order"

// Service manages projects and their change orders.
type Service struct {
	repo      RepositoryPort
	approvals approvalSink
	logger    *slog.Logger
}

func NewService(repo RepositoryPort, approvals approvalSink, logger *slog.Logger) *Service {
	return &Service{repo: repo, approvals: approvals, logger: logger}
}

// CreateProjectInput describes a new project.
type CreateProjectInput struct {
	Name      string
	Code      string
	ManagerID int64
	Budget    float64
	StartDate time.Time
	EndDate   time.Time
}

// CreateProject registers a project in planning state.
func (s *Service) CreateProject(ctx context.Context, actor shared.Actor, in CreateProjectInput) (Project, error) {
	if !actor.Can(shared.PermProjectsEdit) {
		return Project{}, fmt.Errorf("projects: create: %w", shared.ErrForbidden)
	}
	name := strings.TrimSpace(in.Name)
	code := strings.ToUpper(strings.TrimSpace(in.Code))
	if name == "" || code == "" {
		return Project{}, fmt.Errorf("projects: name and code required: %w", shared.ErrValidation)
	}
	if in.Budget < 0 {
		return Project{}, fmt.Errorf("projects: budget must be >= 0: %w", shared.ErrValidation)
	}
	if in.ManagerID == 0 {
		return Project{}, fmt.Errorf("projects: manager required: %w", shared.ErrValidation)
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return Project{}, fmt.Errorf("projects: start and end dates required: %w", shared.ErrValidation)
	}
	if in.EndDate.Before(in.StartDate) {
		return Project{}, fmt.Errorf("projects: end date before start date: %w", shared.ErrValidation)
	}
	now := time.Now().UTC()
	p := Project{
		Name:      name,
		Code:      code,
		Status:    StatusPlanning,
		ManagerID: in.ManagerID,
		Budget:    in.Budget,
		StartDate: in.StartDate,
		EndDate:   in.EndDate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertProject(ctx, p)
		if err != nil {
			return err
		}
		p.ID = id
		_, err = tx.InsertHistory(ctx, HistoryEntry{
			ProjectID: id,
			ActorID:   actor.ID,
			Field:     "status",
			NewValue:  string(StatusPlanning),
			Note:      "project created",
			At:        now,
		})
		return err
	})
	if err != nil {
		return Project{}, err
	}
	s.logger.InfoContext(ctx, "project created", slog.Int64("project_id", p.ID), slog.String("code", p.Code))
	return p, nil
}

// UpdateProjectInput carries the editable project fields. Zero values leave
// the field unchanged.
type UpdateProjectInput struct {
	Name      string
	ManagerID int64
	StartDate time.Time
	EndDate   time.Time
}

// UpdateProject edits a live project's details. Budget changes go through
// change orders only.
func (s *Service) UpdateProject(ctx context.Context, actor shared.Actor, id int64, in UpdateProjectInput) (Project, error) {
	if !actor.Can(shared.PermProjectsEdit) {
		return Project{}, fmt.Errorf("projects: update: %w", shared.ErrForbidden)
	}
	var p Project
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		p, err = tx.GetProjectForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status == StatusCompleted || p.Status == StatusCancelled {
			return fmt.Errorf("projects: %s is %s and cannot be edited: %w", p.Code, p.Status, shared.ErrConflict)
		}
		now := time.Now().UTC()
		if name := strings.TrimSpace(in.Name); name != "" {
			p.Name = name
		}
		if in.ManagerID != 0 {
			p.ManagerID = in.ManagerID
		}
		if !in.StartDate.IsZero() {
			p.StartDate = in.StartDate
		}
		if !in.EndDate.IsZero() {
			if _, err := tx.InsertHistory(ctx, HistoryEntry{
				ProjectID: p.ID,
				ActorID:   actor.ID,
				Field:     "end_date",
				OldValue:  p.EndDate.Format("2006-01-02"),
				NewValue:  in.EndDate.Format("2006-01-02"),
				Note:      "project edited",
				At:        now,
			}); err != nil {
				return err
			}
			p.EndDate = in.EndDate
		}
		if p.EndDate.Before(p.StartDate) {
			return fmt.Errorf("projects: end date before start date: %w", shared.ErrValidation)
		}
		p.UpdatedAt = now
		return tx.UpdateProject(ctx, p)
	})
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

// UpdateProjectStatus moves a project between lifecycle states and logs the
// change. Completed and cancelled are terminal.
func (s *Service) UpdateProjectStatus(ctx context.Context, actor shared.Actor, id int64, status Status, note string) (Project, error) {
	if !actor.Can(shared.PermProjectsEdit) {
		return Project{}, fmt.Errorf("projects: update status: %w", shared.ErrForbidden)
	}
	if !status.Valid() {
		return Project{}, fmt.Errorf("projects: unknown status %q: %w", status, shared.ErrValidation)
	}
	var p Project
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		p, err = tx.GetProjectForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status == StatusCompleted || p.Status == StatusCancelled {
			return fmt.Errorf("projects: %s is %s and cannot change status: %w", p.Code, p.Status, shared.ErrConflict)
		}
		if p.Status == status {
			return fmt.Errorf("projects: %s already %s: %w", p.Code, status, shared.ErrConflict)
		}
		old := p.Status
		now := time.Now().UTC()
		p.Status = status
		p.UpdatedAt = now
		if err := tx.UpdateProject(ctx, p); err != nil {
			return err
		}
		_, err = tx.InsertHistory(ctx, HistoryEntry{
			ProjectID: p.ID,
			ActorID:   actor.ID,
			Field:     "status",
			OldValue:  string(old),
			NewValue:  string(status),
			Note:      note,
			At:        now,
		})
		return err
	})
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

// GetProject loads one project.
func (s *Service) GetProject(ctx context.Context, id int64) (Project, error) {
	return s.repo.GetProject(ctx, id)
}

// GetProjectByCode loads a project by its human-readable code.
func (s *Service) GetProjectByCode(ctx context.Context, code string) (Project, error) {
	return s.repo.GetProjectByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

// ListProjects pages through projects.
func (s *Service) ListProjects(ctx context.Context, p shared.Pagination) ([]Project, error) {
	return s.repo.ListProjects(ctx, p)
}

// History returns the project's mutation log, oldest first.
func (s *Service) History(ctx context.Context, projectID int64) ([]HistoryEntry, error) {
	return s.repo.ListHistory(ctx, projectID)
}

// ---------------------------------------------------------------------------
// Change orders

// CreateChangeOrderInput describes a schedule/budget extension request.
type CreateChangeOrderInput struct {
	ProjectID      int64
	Description    string
	AdditionalDays int
	AdditionalCost float64
}

// CreateChangeOrder files a pending change order against a project.
func (s *Service) CreateChangeOrder(ctx context.Context, actor shared.Actor, in CreateChangeOrderInput) (ChangeOrder, error) {
	if !actor.Can(shared.PermProjectsEdit) {
		return ChangeOrder{}, fmt.Errorf("projects: create change order: %w", shared.ErrForbidden)
	}
	if in.ProjectID == 0 {
		return ChangeOrder{}, fmt.Errorf("projects: project required: %w", shared.ErrValidation)
	}
	if len(strings.TrimSpace(in.Description)) < 10 {
		return ChangeOrder{}, fmt.Errorf("projects: description must be at least 10 characters: %w", shared.ErrValidation)
	}
	if in.AdditionalDays < 0 {
		return ChangeOrder{}, fmt.Errorf("projects: additional days must be >= 0: %w", shared.ErrValidation)
	}
	if in.AdditionalCost < 0 {
		return ChangeOrder{}, fmt.Errorf("projects: additional cost must be >= 0: %w", shared.ErrValidation)
	}
	now := time.Now().UTC()
	co := ChangeOrder{
		Number:         shared.DocumentNumber(shared.PrefixChangeOrder),
		ProjectID:      in.ProjectID,
		Status:         ChangeOrderPending,
		Description:    strings.TrimSpace(in.Description),
		AdditionalDays: in.AdditionalDays,
		AdditionalCost: in.AdditionalCost,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetProjectForUpdate(ctx, in.ProjectID)
		if err != nil {
			return err
		}
		if p.Status == StatusCompleted || p.Status == StatusCancelled {
			return fmt.Errorf("projects: %s is %s, change orders need a live project: %w", p.Code, p.Status, shared.ErrConflict)
		}
		id, err := tx.InsertChangeOrder(ctx, co)
		if err != nil {
			return err
		}
		co.ID = id
		return nil
	})
	if err != nil {
		return ChangeOrder{}, err
	}
	s.logger.InfoContext(ctx, "change order created", slog.Int64("co_id", co.ID), slog.Int64("project_id", co.ProjectID))
	return co, nil
}

// ApproveChangeOrder approves a pending change order and applies it to the
// project in the same transaction: the end date slips by the additional days
// when positive, the budget grows by the additional cost unconditionally.
// One-way; there is no un-approve.
func (s *Service) ApproveChangeOrder(ctx context.Context, actor shared.Actor, id int64) (ChangeOrder, error) {
	if !actor.Can(shared.PermProjectsApprove) {
		return ChangeOrder{}, fmt.Errorf("projects: approve change order: %w", shared.ErrForbidden)
	}
	var co ChangeOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		co, err = tx.GetChangeOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if co.Status != ChangeOrderPending {
			return fmt.Errorf("projects: change order %s is %s, only pending can be approved: %w", co.Number, co.Status, shared.ErrConflict)
		}
		p, err := tx.GetProjectForUpdate(ctx, co.ProjectID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		co.Status = ChangeOrderApproved
		co.ApproverID = &actor.ID
		co.ApprovedAt = &now
		co.UpdatedAt = now
		if err := tx.UpdateChangeOrder(ctx, co); err != nil {
			return err
		}
		oldBudget, oldEnd := p.Budget, p.EndDate
		if co.AdditionalDays > 0 {
			p.EndDate = p.EndDate.AddDate(0, 0, co.AdditionalDays)
		}
		p.Budget += co.AdditionalCost
		p.UpdatedAt = now
		if err := tx.UpdateProject(ctx, p); err != nil {
			return err
		}
		if _, err := tx.InsertHistory(ctx, HistoryEntry{
			ProjectID: p.ID,
			ActorID:   actor.ID,
			Field:     "budget",
			OldValue:  strconv.FormatFloat(oldBudget, 'f', 2, 64),
			NewValue:  strconv.FormatFloat(p.Budget, 'f', 2, 64),
			Note:      "change order " + co.Number,
			At:        now,
		}); err != nil {
			return err
		}
		if co.AdditionalDays > 0 {
			if _, err := tx.InsertHistory(ctx, HistoryEntry{
				ProjectID: p.ID,
				ActorID:   actor.ID,
				Field:     "end_date",
				OldValue:  oldEnd.Format("2006-01-02"),
				NewValue:  p.EndDate.Format("2006-01-02"),
				Note:      "change order " + co.Number,
				At:        now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ChangeOrder{}, err
	}
	if s.approvals != nil {
		if err := s.approvals.Record(ctx, shared.ApprovalLog{
			Entity: entityChangeOrder, EntityID: co.ID, ActorID: actor.ID, Action: shared.ApprovalApprove,
		}); err != nil {
			s.logger.WarnContext(ctx, "record approval", slog.Int64("co_id", co.ID), slog.Any("error", err))
		}
	}
	return co, nil
}

// RejectChangeOrder rejects a pending change order with a reason.
func (s *Service) RejectChangeOrder(ctx context.Context, actor shared.Actor, id int64, reason string) (ChangeOrder, error) {
	if !actor.Can(shared.PermProjectsApprove) {
		return ChangeOrder{}, fmt.Errorf("projects: reject change order: %w", shared.ErrForbidden)
	}
	if n := len(strings.TrimSpace(reason)); n < 10 || n > 1000 {
		return ChangeOrder{}, fmt.Errorf("projects: reason must be 10-1000 characters: %w", shared.ErrValidation)
	}
	return s.closeChangeOrder(ctx, actor, id, ChangeOrderRejected, reason)
}

// CancelChangeOrder withdraws a pending change order. Approved ones already
// mutated the project and stay.
func (s *Service) CancelChangeOrder(ctx context.Context, actor shared.Actor, id int64, reason string) (ChangeOrder, error) {
	if !actor.Can(shared.PermProjectsEdit) {
		return ChangeOrder{}, fmt.Errorf("projects: cancel change order: %w", shared.ErrForbidden)
	}
	if n := len(strings.TrimSpace(reason)); n < 10 || n > 1000 {
		return ChangeOrder{}, fmt.Errorf("projects: reason must be 10-1000 characters: %w", shared.ErrValidation)
	}
	return s.closeChangeOrder(ctx, actor, id, ChangeOrderCancelled, reason)
}

func (s *Service) closeChangeOrder(ctx context.Context, actor shared.Actor, id int64, to ChangeOrderStatus, reason string) (ChangeOrder, error) {
	var co ChangeOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		co, err = tx.GetChangeOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if co.Status != ChangeOrderPending {
			return fmt.Errorf("projects: change order %s is %s, only pending can move to %s: %w", co.Number, co.Status, to, shared.ErrConflict)
		}
		co.Status = to
		co.Reason = reason
		co.UpdatedAt = time.Now().UTC()
		return tx.UpdateChangeOrder(ctx, co)
	})
	if err != nil {
		return ChangeOrder{}, err
	}
	return co, nil
}

// GetChangeOrder loads one change order.
func (s *Service) GetChangeOrder(ctx context.Context, id int64) (ChangeOrder, error) {
	return s.repo.GetChangeOrder(ctx, id)
}

// ListChangeOrdersForProject returns a project's change orders.
func (s *Service) ListChangeOrdersForProject(ctx context.Context, projectID int64) ([]ChangeOrder, error) {
	return s.repo.ListChangeOrdersForProject(ctx, projectID)
}
