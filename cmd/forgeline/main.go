package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/forgeline-erp/forgeline-erp/internal/app"
	"github.com/forgeline-erp/forgeline-erp/internal/auth"
	"github.com/forgeline-erp/forgeline-erp/internal/inventory"
	"github.com/forgeline-erp/forgeline-erp/internal/issuance"
	"github.com/forgeline-erp/forgeline-erp/internal/platform/cache"
	"github.com/forgeline-erp/forgeline-erp/internal/platform/db"
	"github.com/forgeline-erp/forgeline-erp/internal/procurement"
	"github.com/forgeline-erp/forgeline-erp/internal/projects"
	"github.com/forgeline-erp/forgeline-erp/internal/rbac"
	"github.com/forgeline-erp/forgeline-erp/internal/shared"
	"github.com/forgeline-erp/forgeline-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "forgeline_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())

	auditLogger := shared.NewAuditLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager)

	rbacService := rbac.NewService(dbpool, auditLogger)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}
	adminHandler := rbac.NewHandler(logger, rbacService, rbacMiddleware)

	inventoryRepo := inventory.NewRepository(dbpool)
	inventoryService := inventory.NewService(inventoryRepo, logger)
	inventoryHandler := inventory.NewHandler(logger, inventoryService, rbacMiddleware)

	procurementRepo := procurement.NewRepository(dbpool)
	procurementService := procurement.NewService(procurementRepo, approvalRecorder, logger, cfg.PurchaseTaxRate)
	procurementHandler := procurement.NewHandler(logger, procurementService, rbacMiddleware, idempotencyStore)

	issuanceRepo := issuance.NewRepository(dbpool)
	issuanceService := issuance.NewService(issuanceRepo, approvalRecorder, logger)
	issuanceHandler := issuance.NewHandler(logger, issuanceService, rbacMiddleware, idempotencyStore)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	projectsRepo := projects.NewRepository(dbpool)
	projectsService := projects.NewService(projectsRepo, approvalRecorder, logger)
	projectsHandler := projects.NewHandler(logger, projectsService, rbacMiddleware)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		RBACMiddleware:     rbacMiddleware,
		AuthHandler:        authHandler,
		ProcurementHandler: procurementHandler,
		InventoryHandler:   inventoryHandler,
		IssuanceHandler:    issuanceHandler,
		ProjectsHandler:    projectsHandler,
		AdminHandler:       adminHandler,
		JobsHandler:        jobsHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exit", slog.Any("error", err))
		os.Exit(1)
	}
}
