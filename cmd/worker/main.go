// Package main runs the background analysis worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/screenbug/backend/config"
	"github.com/screenbug/backend/internal/app"
	"github.com/screenbug/backend/internal/runs"
	"github.com/screenbug/backend/internal/worker"
	"github.com/screenbug/backend/pkg/database"
	"github.com/screenbug/backend/pkg/queue"
	"github.com/screenbug/backend/pkg/redis"
)

func main() {
	logger := app.NewLogger(false)
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := app.NewStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	orch, err := app.NewOrchestrator(ctx, cfg, pool, s3Client, runs.NewTracker(rdb.Client, logger), logger)
	if err != nil {
		logger.Fatal("pipeline", zap.Error(err))
	}

	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewAnalysisProcessor(orch, jobQueue, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerDone := processor.Start(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-workerDone:
		logger.Info("worker stopped")
	case <-time.After(processor.ShutdownGrace() + 10*time.Second):
		logger.Warn("worker did not stop in time")
	}
}
