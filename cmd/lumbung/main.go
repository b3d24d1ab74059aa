package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/lumbung-erp/lumbung-erp/internal/app"
	"github.com/lumbung-erp/lumbung-erp/internal/audit"
	"github.com/lumbung-erp/lumbung-erp/internal/credit"
	"github.com/lumbung-erp/lumbung-erp/internal/ledger"
	"github.com/lumbung-erp/lumbung-erp/internal/observability"
	"github.com/lumbung-erp/lumbung-erp/internal/orders"
	"github.com/lumbung-erp/lumbung-erp/internal/platform/cache"
	"github.com/lumbung-erp/lumbung-erp/internal/platform/db"
	"github.com/lumbung-erp/lumbung-erp/internal/shared"
	"github.com/lumbung-erp/lumbung-erp/internal/stock"
	"github.com/lumbung-erp/lumbung-erp/jobs"
)

func main() {
	_ = godotenv.Load()

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
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, quantity reads fall through to postgres", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	recorder := audit.NewRecorder()
	idempotencyStore := shared.NewIdempotencyStore(pool)

	stockRepo := stock.NewRepository(pool, recorder)
	stockLedger := stock.NewLedger()
	stockService := stock.NewService(stockRepo, stockLedger, logger)
	stockReader := stock.NewReader(stockRepo, redisClient, cfg.QuantityCacheTTL)

	creditRepo := credit.NewRepository(pool, recorder)
	creditLedger := credit.NewLedger()
	creditService := credit.NewService(creditRepo, logger)

	orderRepo := orders.NewRepository(pool, recorder)
	machine := orders.NewMachine(stockLedger, creditLedger)

	auditRepo := audit.NewRepository(pool)
	auditService := audit.NewService(auditRepo)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("asynq client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	facade := ledger.NewFacade(ledger.Config{
		Repos:        ledger.NewRepositories(pool, stockRepo, creditRepo, orderRepo),
		StockLedger:  stockLedger,
		CreditLedger: creditLedger,
		Machine:      machine,
		Idempotency:  idempotencyStore,
		Cache:        stockReader,
		Alerts:       ledger.NewJobAlerts(jobClient),
		Retry:        db.RetryConfig{Attempts: cfg.TxRetryAttempts, Backoff: cfg.TxRetryBackoff},
		Logger:       logger,
	})

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		LedgerHandler: ledger.NewHandler(logger, facade),
		StockHandler:  stock.NewHandler(logger, stockService, stockReader),
		CreditHandler: credit.NewHandler(logger, creditService),
		OrdersHandler: orders.NewHandler(logger, orderRepo),
		AuditHandler:  audit.NewHandler(logger, auditService),
		JobHandler:    jobs.NewHandler(inspector, logger),
		Metrics:       observability.NewMetrics(),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
