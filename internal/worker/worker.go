package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/screenbug/backend/internal/pipeline"
	"github.com/screenbug/backend/pkg/queue"
)

// DefaultShutdownGrace bounds how long a running job may continue after the worker is asked to stop.
const DefaultShutdownGrace = 45 * time.Second

// ErrShutdown is the dead-letter cause of a job interrupted because the worker stopped.
var ErrShutdown = errors.New("worker shutting down")

// Analyzer runs the analysis half of the pipeline for an ingested recording.
type Analyzer interface {
	Analyze(ctx context.Context, recordingID uuid.UUID) (*pipeline.Result, error)
}

// JobQueue is the job source the processor consumes.
type JobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	DeadLetter(ctx context.Context, job *queue.Job, cause error) error
}

// AnalysisProcessor processes analysis jobs: deliver the stored recording to the model, save the report.
// Failed jobs go to the DLQ and are not retried.
type AnalysisProcessor struct {
	analyzer Analyzer
	queue    JobQueue
	logger   *zap.Logger
	backoff  time.Duration
	grace    time.Duration
}

// NewAnalysisProcessor creates an analysis job processor.
func NewAnalysisProcessor(analyzer Analyzer, q JobQueue, logger *zap.Logger) *AnalysisProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalysisProcessor{analyzer: analyzer, queue: q, logger: logger, backoff: queue.ErrorBackoff, grace: DefaultShutdownGrace}
}

// WithShutdownGrace sets how long a running job may continue after stop; d <= 0 keeps the default.
func (p *AnalysisProcessor) WithShutdownGrace(d time.Duration) *AnalysisProcessor {
	if d > 0 {
		p.grace = d
	}
	return p
}

// ShutdownGrace returns the configured grace period.
func (p *AnalysisProcessor) ShutdownGrace() time.Duration { return p.grace }

// Process executes one analysis job.
func (p *AnalysisProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeAnalyzeRecording {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.AnalyzePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if payload.RunID != uuid.Nil {
		ctx = pipeline.WithRunID(ctx, payload.RunID)
	}

	res, err := p.analyzer.Analyze(ctx, payload.RecordingID)
	if err != nil {
		if errors.Is(err, pipeline.ErrAlreadyFinalized) {
			p.logger.Info("recording already finalized", zap.String("recording_id", payload.RecordingID.String()))
			return nil
		}
		return err
	}
	p.logger.Info("analysis job completed",
		zap.String("recording_id", payload.RecordingID.String()),
		zap.String("report_id", res.Report.ID.String()),
		zap.String("delivery", string(res.Delivery)))
	return nil
}

// Start runs the worker loop in a goroutine. The returned channel is closed once the loop has
// returned, after any job in progress has finished or been dead-lettered.
func (p *AnalysisProcessor) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()
	return done
}

// Run starts the worker loop: dequeue, process, dead-letter on error. It returns when ctx is
// canceled and no job is in progress.
func (p *AnalysisProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("analysis worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, queue.DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			sleep(ctx, p.backoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.runJob(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if dlErr := p.queue.DeadLetter(context.WithoutCancel(ctx), job, err); dlErr != nil {
				p.logger.Error("dead-letter failed", zap.Error(dlErr))
			}
		}
	}
}

// runJob processes job detached from ctx. Once ctx is canceled the job gets the grace period
// to finish; after that its context is canceled and the error wraps ErrShutdown.
func (p *AnalysisProcessor) runJob(ctx context.Context, job *queue.Job) error {
	jobCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	defer cancel(nil)
	finished := make(chan struct{})
	defer close(finished)

	go func() {
		select {
		case <-finished:
			return
		case <-ctx.Done():
		}
		p.logger.Info("waiting for running job", zap.String("job_id", job.ID), zap.Duration("grace", p.grace))
		t := time.NewTimer(p.grace)
		defer t.Stop()
		select {
		case <-finished:
		case <-t.C:
			p.logger.Warn("grace period over; interrupting job", zap.String("job_id", job.ID))
			cancel(ErrShutdown)
		}
	}()

	err := p.Process(jobCtx, job)
	if err != nil && errors.Is(context.Cause(jobCtx), ErrShutdown) {
		return fmt.Errorf("%w: %w", ErrShutdown, err)
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
