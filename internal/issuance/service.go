package issuance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/forgeline-erp/forgeline-erp/internal/inventory"
	"github.com/forgeline-erp/forgeline-erp/internal/shared"
)

// TxRepository is the transactional surface of the issuance store. It embeds
// the ledger surface so issuing posts stock in the same transaction.
type TxRepository interface {
	inventory.LedgerTx

	InsertIssuance(ctx context.Context, mi MaterialIssuance) (int64, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	GetIssuanceForUpdate(ctx context.Context, id int64) (MaterialIssuance, error)
	UpdateIssuance(ctx context.Context, mi MaterialIssuance) error
}

// RepositoryPort abstracts the issuance store for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	GetIssuance(ctx context.Context, id int64) (MaterialIssuance, error)
	ListIssuances(ctx context.Context, p shared.Pagination) ([]MaterialIssuance, error)
}

type approvalSink interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

const entityIssuance = "material_issuance"

// Service drives the material issuance lifecycle.
type Service struct {
	repo      RepositoryPort
	approvals approvalSink
	logger    *slog.Logger
}

func NewService(repo RepositoryPort, approvals approvalSink, logger *slog.Logger) *Service {
	return &Service{repo: repo, approvals: approvals, logger: logger}
}

func (s *Service) recordApproval(ctx context.Context, id int64, actor shared.Actor, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	if err := s.approvals.Record(ctx, shared.ApprovalLog{
		Entity:   entityIssuance,
		EntityID: id,
		ActorID:  actor.ID,
		Action:   action,
		Note:     note,
	}); err != nil {
		s.logger.WarnContext(ctx, "record approval", slog.Int64("mi_id", id), slog.Any("error", err))
	}
}

// CreateInput describes a new issuance request.
type CreateInput struct {
	ProjectID *int64
	Type      Type
	Purpose   string
	Items     []ItemInput
}

// ItemInput is one requested line.
type ItemInput struct {
	ItemID   int64
	Quantity float64
	UnitCost float64
}

func (in CreateInput) validate() error {
	if !in.Type.Valid() {
		return fmt.Errorf("issuance: unknown type %q: %w", in.Type, shared.ErrValidation)
	}
	if in.Type == TypeProject && (in.ProjectID == nil || *in.ProjectID == 0) {
		return fmt.Errorf("issuance: project issuances need a project: %w", shared.ErrValidation)
	}
	if len(strings.TrimSpace(in.Purpose)) < 10 {
		return fmt.Errorf("issuance: purpose must be at least 10 characters: %w", shared.ErrValidation)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("issuance: at least one item required: %w", shared.ErrValidation)
	}
	seen := make(map[int64]struct{}, len(in.Items))
	for _, it := range in.Items {
		if it.ItemID == 0 {
			return fmt.Errorf("issuance: item reference required: %w", shared.ErrValidation)
		}
		if _, dup := seen[it.ItemID]; dup {
			return fmt.Errorf("issuance: duplicate item %d: %w", it.ItemID, shared.ErrValidation)
		}
		seen[it.ItemID] = struct{}{}
		if it.Quantity <= 0 {
			return fmt.Errorf("issuance: item quantity must be positive: %w", shared.ErrValidation)
		}
		if it.UnitCost < 0 {
			return fmt.Errorf("issuance: item unit cost must be >= 0: %w", shared.ErrValidation)
		}
	}
	return nil
}

// Create files a draft issuance owned by the actor.
func (s *Service) Create(ctx context.Context, actor shared.Actor, in CreateInput) (MaterialIssuance, error) {
	if !actor.Can(shared.PermIssuanceEdit) {
		return MaterialIssuance{}, fmt.Errorf("issuance: create: %w", shared.ErrForbidden)
	}
	if err := in.validate(); err != nil {
		return MaterialIssuance{}, err
	}
	now := time.Now().UTC()
	mi := MaterialIssuance{
		Number:         shared.DocumentNumber(shared.PrefixMaterialIssuance),
		ProjectID:      in.ProjectID,
		Type:           in.Type,
		Purpose:        strings.TrimSpace(in.Purpose),
		Status:         StatusDraft,
		DeliveryStatus: DeliveryPending,
		RequesterID:    actor.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertIssuance(ctx, mi)
		if err != nil {
			return err
		}
		mi.ID = id
		for _, it := range in.Items {
			item := Item{IssuanceID: id, ItemID: it.ItemID, Quantity: it.Quantity, UnitCost: it.UnitCost}
			itemID, err := tx.InsertItem(ctx, item)
			if err != nil {
				return err
			}
			item.ID = itemID
			mi.Items = append(mi.Items, item)
		}
		return nil
	})
	if err != nil {
		return MaterialIssuance{}, err
	}
	s.logger.InfoContext(ctx, "issuance created", slog.Int64("mi_id", mi.ID), slog.String("number", mi.Number))
	return mi, nil
}

// Approve moves a draft issuance into the approved state.
func (s *Service) Approve(ctx context.Context, actor shared.Actor, id int64) (MaterialIssuance, error) {
	if !actor.Can(shared.PermIssuanceApprove) {
		return MaterialIssuance{}, fmt.Errorf("issuance: approve: %w", shared.ErrForbidden)
	}
	var mi MaterialIssuance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		mi, err = tx.GetIssuanceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if mi.Status != StatusDraft {
			return fmt.Errorf("issuance: %s is %s, only draft can be approved: %w", mi.Number, mi.Status, shared.ErrConflict)
		}
		now := time.Now().UTC()
		mi.Status = StatusApproved
		mi.ApproverID = &actor.ID
		mi.ApprovedAt = &now
		mi.UpdatedAt = now
		return tx.UpdateIssuance(ctx, mi)
	})
	if err != nil {
		return MaterialIssuance{}, err
	}
	s.recordApproval(ctx, mi.ID, actor, shared.ApprovalApprove, "")
	return mi, nil
}

// Issue hands the materials out: approved becomes issued, the delivery
// sub-state starts at pending and one stock-out per line is posted in the
// same transaction.
func (s *Service) Issue(ctx context.Context, actor shared.Actor, id int64) (MaterialIssuance, error) {
	if !actor.Can(shared.PermIssuanceApprove) {
		return MaterialIssuance{}, fmt.Errorf("issuance: issue: %w", shared.ErrForbidden)
	}
	var mi MaterialIssuance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		mi, err = tx.GetIssuanceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if mi.Status != StatusApproved {
			return fmt.Errorf("issuance: %s is %s, only approved can be issued: %w", mi.Number, mi.Status, shared.ErrConflict)
		}
		now := time.Now().UTC()
		mi.Status = StatusIssued
		mi.DeliveryStatus = DeliveryPending
		mi.IssuerID = &actor.ID
		mi.IssuedAt = &now
		mi.UpdatedAt = now
		if err := tx.UpdateIssuance(ctx, mi); err != nil {
			return err
		}
		for _, it := range mi.Items {
			_, err := inventory.Append(ctx, tx, inventory.MovementInput{
				ItemID:   it.ItemID,
				Type:     inventory.MovementStockOut,
				Quantity: it.Quantity,
				UnitCost: it.UnitCost,
				Ref:      inventory.MovementRef{Kind: inventory.RefMaterialIssuance, ID: mi.ID},
				ActorID:  actor.ID,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return MaterialIssuance{}, err
	}
	s.logger.InfoContext(ctx, "issuance issued", slog.Int64("mi_id", mi.ID), slog.Int("lines", len(mi.Items)))
	return mi, nil
}

// MarkDelivered records that the issued materials left the warehouse.
func (s *Service) MarkDelivered(ctx context.Context, actor shared.Actor, id int64) (MaterialIssuance, error) {
	if !actor.Can(shared.PermIssuanceEdit) {
		return MaterialIssuance{}, fmt.Errorf("issuance: mark delivered: %w", shared.ErrForbidden)
	}
	var mi MaterialIssuance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		mi, err = tx.GetIssuanceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if mi.Status != StatusIssued || mi.DeliveryStatus != DeliveryPending {
			return fmt.Errorf("issuance: %s is %s/%s, delivery moves pending to delivered while issued: %w",
				mi.Number, mi.Status, mi.DeliveryStatus, shared.ErrConflict)
		}
		mi.DeliveryStatus = DeliveryDelivered
		mi.UpdatedAt = time.Now().UTC()
		return tx.UpdateIssuance(ctx, mi)
	})
	if err != nil {
		return MaterialIssuance{}, err
	}
	return mi, nil
}

// ConfirmReceived closes the delivery sub-state. Warehouse capability only.
func (s *Service) ConfirmReceived(ctx context.Context, actor shared.Actor, id int64, receivedAt time.Time) (MaterialIssuance, error) {
	if !actor.Can(shared.PermWarehouseConfirm) {
		return MaterialIssuance{}, fmt.Errorf("issuance: confirm received: %w", shared.ErrForbidden)
	}
	var mi MaterialIssuance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		mi, err = tx.GetIssuanceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if mi.Status != StatusIssued {
			return fmt.Errorf("issuance: %s is %s, receipt confirmation needs an issued record: %w", mi.Number, mi.Status, shared.ErrConflict)
		}
		if mi.DeliveryStatus == DeliveryReceived {
			return fmt.Errorf("issuance: %s already confirmed received: %w", mi.Number, shared.ErrConflict)
		}
		if receivedAt.IsZero() {
			receivedAt = time.Now().UTC()
		}
		mi.DeliveryStatus = DeliveryReceived
		mi.ReceiverID = &actor.ID
		mi.ReceivedAt = &receivedAt
		mi.UpdatedAt = time.Now().UTC()
		return tx.UpdateIssuance(ctx, mi)
	})
	if err != nil {
		return MaterialIssuance{}, err
	}
	s.recordApproval(ctx, mi.ID, actor, shared.ApprovalApprove, "received")
	return mi, nil
}

// Cancel voids a draft or approved issuance. Issued records stay, their
// stock already moved.
func (s *Service) Cancel(ctx context.Context, actor shared.Actor, id int64, reason string) (MaterialIssuance, error) {
	if !actor.Can(shared.PermIssuanceEdit) {
		return MaterialIssuance{}, fmt.Errorf("issuance: cancel: %w", shared.ErrForbidden)
	}
	if n := len(strings.TrimSpace(reason)); n < 10 || n > 1000 {
		return MaterialIssuance{}, fmt.Errorf("issuance: reason must be 10-1000 characters: %w", shared.ErrValidation)
	}
	var mi MaterialIssuance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		mi, err = tx.GetIssuanceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if mi.Status != StatusDraft && mi.Status != StatusApproved {
			return fmt.Errorf("issuance: %s is %s and cannot be cancelled: %w", mi.Number, mi.Status, shared.ErrConflict)
		}
		mi.Status = StatusCancelled
		mi.CancelReason = reason
		mi.UpdatedAt = time.Now().UTC()
		return tx.UpdateIssuance(ctx, mi)
	})
	if err != nil {
		return MaterialIssuance{}, err
	}
	s.recordApproval(ctx, mi.ID, actor, shared.ApprovalCancel, reason)
	return mi, nil
}

// Get loads one issuance with its items.
func (s *Service) Get(ctx context.Context, id int64) (MaterialIssuance, error) {
	return s.repo.GetIssuance(ctx, id)
}

// List pages through issuances, newest first.
func (s *Service) List(ctx context.Context, p shared.Pagination) ([]MaterialIssuance, error) {
	return s.repo.ListIssuances(ctx, p)
}
