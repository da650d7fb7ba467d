package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/forgeline-erp/forgeline-erp/internal/procurement"
	"github.com/forgeline-erp/forgeline-erp/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskQuotationExpire sweeps pending quotations past their validity date.
	TaskQuotationExpire = "quotation:expire"
	// TaskIdempotencyCleanup prunes processed idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// NewQuotationExpireTask constructs the periodic quotation sweep task.
func NewQuotationExpireTask() *asynq.Task {
	return asynq.NewTask(TaskQuotationExpire, nil)
}

// NewIdempotencyCleanupTask constructs the idempotency key pruning task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil)
}

// QuotationExpiryHandler returns the asynq handler that expires pending
// quotations whose validity date has passed.
func QuotationExpiryHandler(svc *procurement.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		n, err := svc.ExpirePendingQuotations(ctx, time.Now().UTC())
		if err != nil {
			logger.Error("quotation expiry sweep", slog.Any("error", err))
			return err
		}
		if n > 0 {
			logger.Info("quotations expired", slog.Int("count", n))
		}
		return nil
	}
}

// IdempotencyCleanupHandler returns the asynq handler that prunes
// idempotency keys older than the configured retention window.
func IdempotencyCleanupHandler(store *shared.IdempotencyStore, retention time.Duration, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		if err := store.Cleanup(ctx, retention); err != nil {
			logger.Error("idempotency cleanup", slog.Any("error", err))
			return err
		}
		return nil
	}
}
