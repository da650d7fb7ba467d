package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/forgeline-erp/forgeline-erp/internal/app"
	"github.com/forgeline-erp/forgeline-erp/internal/platform/db"
	"github.com/forgeline-erp/forgeline-erp/internal/procurement"
	"github.com/forgeline-erp/forgeline-erp/internal/shared"
	"github.com/forgeline-erp/forgeline-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	approvalRecorder := shared.NewApprovalRecorder(pool, logger)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	procurementRepo := procurement.NewRepository(pool)
	procurementService := procurement.NewService(procurementRepo, approvalRecorder, logger, cfg.PurchaseTaxRate)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskQuotationExpire, Handler: jobs.QuotationExpiryHandler(procurementService, logger)},
			{Type: jobs.TaskIdempotencyCleanup, Handler: jobs.IdempotencyCleanupHandler(idempotencyStore, cfg.IdempotencyRetention, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.QuotationExpiryCron, Task: jobs.NewQuotationExpireTask()},
			{Spec: "30 2 * * *", Task: jobs.NewIdempotencyCleanupTask()},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker starting")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker exit", slog.Any("error", err))
		os.Exit(1)
	}
}
