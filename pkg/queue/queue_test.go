package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewQueue(client, nil), mr
}

func TestEnqueueDequeueAnalysis(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	payload := AnalyzePayload{RecordingID: uuid.New(), RunID: uuid.New()}

	enq, err := q.EnqueueAnalysis(ctx, payload)
	require.NoError(t, err)
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, enq.ID, job.ID)
	assert.Equal(t, JobTypeAnalyzeRecording, job.Type)

	var got AnalyzePayload
	require.NoError(t, json.Unmarshal(job.Payload, &got))
	assert.Equal(t, payload, got)
}

func TestDequeueMalformedEntry(t *testing.T) {
	q, mr := newTestQueue(t)
	_, err := mr.Push(QueueAnalysis, "{not json")
	require.NoError(t, err)

	job, err := q.Dequeue(context.Background(), time.Second)
	assert.NoError(t, err)
	assert.Nil(t, job)
}

func TestDeadLetterDoesNotRequeue(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()
	_, err := q.EnqueueAnalysis(ctx, AnalyzePayload{RecordingID: uuid.New()})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, q.DeadLetter(ctx, job, errors.New("analyzing failed: empty text")))

	assert.False(t, mr.Exists(QueueAnalysis))
	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, job.ID, dead[0].ID)
	assert.Equal(t, "analyzing failed: empty text", dead[0].Error)
	assert.NotNil(t, dead[0].FailedAt)
}
