// Package main runs the screenbug HTTP API with run streaming and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/screenbug/backend/config"
	"github.com/screenbug/backend/internal/app"
	"github.com/screenbug/backend/internal/auth"
	"github.com/screenbug/backend/internal/middleware"
	"github.com/screenbug/backend/internal/recordings"
	"github.com/screenbug/backend/internal/reports"
	"github.com/screenbug/backend/internal/runs"
	"github.com/screenbug/backend/internal/worker"
	"github.com/screenbug/backend/pkg/database"
	"github.com/screenbug/backend/pkg/queue"
	"github.com/screenbug/backend/pkg/redis"
	"github.com/screenbug/backend/pkg/response"
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

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := app.NewStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	tracker := runs.NewTracker(rdb.Client, logger)
	orch, err := app.NewOrchestrator(ctx, cfg, pool, s3Client, tracker, logger)
	if err != nil {
		logger.Fatal("pipeline", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	recordingRepo := recordings.NewRepository(pool)
	recordingHandler := recordings.NewHandler(recordingRepo, orch, jobQueue, s3Client, int64(cfg.Server.MaxUploadMB)<<20, logger)
	reportHandler := reports.NewHandler(reports.NewRepository(pool), logger)
	runHandler := runs.NewHandler(tracker, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Protected API (JWT required)
	api := router.Group("/api")
	api.Use(middleware.JWT(jwtService))
	{
		users := middleware.RequireRole(auth.RoleUser, auth.RoleAdmin)
		readers := middleware.RequireRole(auth.RoleUser, auth.RoleIntegration, auth.RoleAdmin)

		// Recordings
		api.POST("/recordings", users, recordingHandler.Upload)
		api.GET("/recordings", users, recordingHandler.List)
		api.GET("/recordings/:id", users, recordingHandler.Get)
		api.GET("/recordings/:id/download-url", users, recordingHandler.GenerateDownloadURL)
		api.POST("/recordings/:id/analyze", users, recordingHandler.Analyze)

		// Bug reports
		api.GET("/reports", readers, reportHandler.List)
		api.GET("/reports/:id", readers, reportHandler.Get)
		api.PATCH("/reports/:id", users, reportHandler.Update)
		api.PUT("/reports/:id/external-refs", middleware.RequireRole(auth.RoleIntegration, auth.RoleAdmin), reportHandler.SetExternalRef)

		// Runs
		api.GET("/runs/:id", users, runHandler.Get)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws/runs/:id", runs.ServeWs(tracker, logger, func(token string) error {
		_, err := jwtService.Validate(token)
		return err
	}))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	var workerDone <-chan struct{}
	processor := worker.NewAnalysisProcessor(orch, jobQueue, logger)
	if cfg.Server.EmbeddedWorker {
		workerDone = processor.Start(workerCtx)
		logger.Info("analysis worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if workerDone != nil {
		select {
		case <-workerDone:
			logger.Info("analysis worker stopped")
		case <-time.After(processor.ShutdownGrace() + 10*time.Second):
			logger.Warn("analysis worker did not stop in time")
		}
	}
	logger.Info("server stopped")
}
