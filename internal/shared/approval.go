package shared

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ApprovalAction enumerates approval log actions.
type ApprovalAction string

const (
	// ApprovalSubmit marks a submit action.
	ApprovalSubmit ApprovalAction = "SUBMIT"
	// ApprovalApprove marks an approve action.
	ApprovalApprove ApprovalAction = "APPROVE"
	// ApprovalReject marks a reject action.
	ApprovalReject ApprovalAction = "REJECT"
	// ApprovalCancel marks a cancel action.
	ApprovalCancel ApprovalAction = "CANCEL"
)

// ApprovalLog represents a single approval record for a lifecycle document.
type ApprovalLog struct {
	ID       int64
	Entity   string
	EntityID int64
	ActorID  int64
	Action   ApprovalAction
	Note     string
	At       time.Time
}

// ApprovalRecorder persists approval history.
type ApprovalRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(pool *pgxpool.Pool, logger *slog.Logger) *ApprovalRecorder {
	return &ApprovalRecorder{pool: pool, logger: logger}
}

// Record writes an approval entry to the database.
func (r *ApprovalRecorder) Record(ctx context.Context, log ApprovalLog) error {
	if r == nil {
		return errors.New("approval recorder not initialised")
	}
	if log.Entity == "" || log.EntityID == 0 {
		return errors.New("approval entity required")
	}
	if log.Action == "" {
		return errors.New("approval action required")
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO approvals (entity, entity_id, actor_id, action, note, at)
VALUES ($1, $2, $3, $4, $5, COALESCE(NULLIF($6, '0001-01-01'::timestamptz), NOW()))`,
		log.Entity, log.EntityID, log.ActorID, string(log.Action), log.Note, log.At)
	if err != nil {
		if r.logger != nil {
			r.logger.Error("record approval", slog.Any("error", err))
		}
		return err
	}
	return nil
}

// List returns the approval history for a document, oldest first.
func (r *ApprovalRecorder) List(ctx context.Context, entity string, entityID int64) ([]ApprovalLog, error) {
	if r == nil {
		return nil, errors.New("approval recorder not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, entity, entity_id, actor_id, action, note, at
FROM approvals WHERE entity=$1 AND entity_id=$2 ORDER BY at ASC`, entity, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []ApprovalLog
	for rows.Next() {
		var l ApprovalLog
		var action string
		if err := rows.Scan(&l.ID, &l.Entity, &l.EntityID, &l.ActorID, &action, &l.Note, &l.At); err != nil {
			return nil, err
		}
		l.Action = ApprovalAction(action)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}
