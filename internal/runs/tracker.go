// Package runs tracks pipeline runs in Redis: the latest event per run, plus live pub/sub fan-out.
package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/screenbug/backend/internal/pipeline"
)

const (
	keyPrefix = "run:"
	// StateTTL is how long the latest event of a run is kept.
	StateTTL     = 24 * time.Hour
	writeTimeout = 5 * time.Second
)

// ErrNotFound is returned when no event was recorded for a run (or it expired).
var ErrNotFound = errors.New("run not found")

// Tracker stores and publishes run events. It implements pipeline.Observer.
type Tracker struct {
	client *redis.Client
	logger *zap.Logger
}

// NewTracker creates a Redis-backed run tracker.
func NewTracker(client *redis.Client, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{client: client, logger: logger}
}

func key(runID uuid.UUID) string { return keyPrefix + runID.String() }

// Observe records ev as the run's latest state and publishes it. Redis failures are logged, never
// returned: tracking must not fail a run.
func (t *Tracker) Observe(ctx context.Context, ev pipeline.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		t.logger.Warn("marshal run event", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	k := key(ev.RunID)
	_, err = t.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, k, body, StateTTL)
		p.Publish(ctx, k, body)
		return nil
	})
	if err != nil {
		t.logger.Warn("record run event", zap.String("run_id", ev.RunID.String()), zap.String("state", string(ev.State)), zap.Error(err))
	}
}

// Get returns the latest event of a run.
func (t *Tracker) Get(ctx context.Context, runID uuid.UUID) (*pipeline.Event, error) {
	raw, err := t.client.Get(ctx, key(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	var ev pipeline.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	return &ev, nil
}

// Subscribe calls handler for every event published for runID until cancel is called.
func (t *Tracker) Subscribe(runID uuid.UUID, handler func(pipeline.Event)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := t.client.Subscribe(ctx, key(runID))
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev pipeline.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				handler(ev)
			}
		}
	}()
	return cancelCtx, nil
}
