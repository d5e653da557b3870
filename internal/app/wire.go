// Package app wires the pipeline from configuration for the server, worker and CLI binaries.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/screenbug/backend/config"
	"github.com/screenbug/backend/internal/analysis"
	"github.com/screenbug/backend/internal/delivery"
	"github.com/screenbug/backend/internal/gemini"
	"github.com/screenbug/backend/internal/pipeline"
	"github.com/screenbug/backend/internal/recordings"
	"github.com/screenbug/backend/internal/reports"
	"github.com/screenbug/backend/pkg/database"
	"github.com/screenbug/backend/pkg/storage"
)

// NewLogger builds the production zap logger with ISO8601 timestamps.
func NewLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// NewStore creates the S3 artifact store.
func NewStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storage.S3, error) {
	return storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		Bucket:               cfg.AWS.RecordingsBucket,
		Endpoint:             cfg.AWS.Endpoint,
		PublicBaseURL:        cfg.AWS.PublicBaseURL,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
}

// NewTransport builds the delivery transport for the configured mode.
func NewTransport(cfg config.DeliveryConfig, stager delivery.FileStager, logger *zap.Logger) (*delivery.Transport, error) {
	ref := delivery.NewReferenceStrategy(stager, cfg.PollPolicy(), logger)
	inline := delivery.NewInlineStrategy(cfg.InlineMaxBytes())
	return delivery.NewTransport(cfg.Mode, ref, inline, logger)
}

// NewOrchestrator wires the pipeline: S3 store, Postgres ledger, Gemini delivery and analysis.
func NewOrchestrator(ctx context.Context, cfg *config.Config, db database.DBTX, store *storage.S3, observer pipeline.Observer, logger *zap.Logger) (*pipeline.Orchestrator, error) {
	model, err := gemini.New(ctx, gemini.Config{APIKey: cfg.Gemini.APIKey, Model: cfg.Gemini.Model}, logger)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	transport, err := NewTransport(cfg.Delivery, model, logger)
	if err != nil {
		return nil, fmt.Errorf("delivery: %w", err)
	}
	logger.Info("pipeline configured",
		zap.String("model", model.Model()),
		zap.String("delivery_mode", string(cfg.Delivery.Mode)))
	return pipeline.New(pipeline.Deps{
		Store:      store,
		Recordings: recordings.NewRepository(db),
		Reports:    reports.NewRepository(db),
		Transport:  transport,
		Analyzer:   analysis.NewInvoker(model, logger),
		Observer:   observer,
		Logger:     logger,
	}), nil
}
