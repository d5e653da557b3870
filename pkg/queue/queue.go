package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueAnalysis is the Redis list key for recording analysis jobs.
	QueueAnalysis = "worker:analysis"
	// QueueDLQ is the dead-letter queue for failed jobs. Jobs are never retried automatically.
	QueueDLQ = "worker:dlq"
	// DequeueTimeout bounds one blocking pop so workers notice shutdown.
	DequeueTimeout = 5 * time.Second
	// ErrorBackoff is the delay after a Redis error before dequeuing again.
	ErrorBackoff = 10 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeAnalyzeRecording JobType = "analyze_recording"
)

// AnalyzePayload is the payload for recording analysis jobs.
type AnalyzePayload struct {
	RecordingID uuid.UUID `json:"recording_id"`
	RunID       uuid.UUID `json:"run_id"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
	// Error is set on dead-lettered jobs.
	Error    string     `json:"error,omitempty"`
	FailedAt *time.Time `json:"failed_at,omitempty"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

func (q *Queue) enqueue(ctx context.Context, key string, typ JobType, payload any) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	job := &Job{
		ID:        uuid.New().String(),
		Type:      typ,
		Payload:   body,
		Attempt:   1,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return nil, fmt.Errorf("rpush: %w", err)
	}
	return job, nil
}

// EnqueueAnalysis enqueues an analysis job for an ingested recording.
func (q *Queue) EnqueueAnalysis(ctx context.Context, payload AnalyzePayload) (*Job, error) {
	job, err := q.enqueue(ctx, QueueAnalysis, JobTypeAnalyzeRecording, payload)
	if err != nil {
		return nil, err
	}
	q.logger.Debug("enqueued analysis job", zap.String("job_id", job.ID),
		zap.String("recording_id", payload.RecordingID.String()), zap.String("run_id", payload.RunID.String()))
	return job, nil
}

// Dequeue blocks up to timeout for a job. It returns a nil job when none arrived or the entry was malformed.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueAnalysis).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// DeadLetter records a failed job on the DLQ. The job is not re-enqueued; a manual re-run creates a new job.
func (q *Queue) DeadLetter(ctx context.Context, job *Job, cause error) error {
	now := time.Now()
	job.FailedAt = &now
	if cause != nil {
		job.Error = cause.Error()
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
		q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
		return err
	}
	q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.String("error", job.Error))
	return nil
}

// DeadLetters returns up to limit dead-lettered jobs, oldest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]Job, error) {
	raws, err := q.client.LRange(ctx, QueueDLQ, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(raws))
	for _, raw := range raws {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Len returns the number of pending analysis jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, QueueAnalysis).Result()
}
