package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*RedisQueue, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := DefaultRedisQueueConfig("test")
	cfg.BaseDelay = 5 * time.Millisecond
	cfg.QueueTimeout = 50 * time.Millisecond
	cfg.PollInterval = 20 * time.Millisecond

	q, err := NewRedisQueue(client, cfg, nil, nil)
	require.NoError(t, err)
	return q, client
}

func TestPublishImmediateAndDelayed(t *testing.T) {
	q, client := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, &Task{Type: TaskTypeSendConfirmation}))
	require.NoError(t, q.Publish(ctx, &Task{Type: TaskTypeAdminAlert, ExecuteAt: time.Now().Add(time.Hour)}))

	stats, err := q.GetQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.MainQueue)
	assert.Equal(t, int64(1), stats.DelayedQueue)

	// nothing is due yet
	moved, err := q.MoveReadyDelayedTasks(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved)
	assert.Equal(t, int64(1), client.ZCard(ctx, "test:tasks:delayed").Val())
}

func TestPublishRejectsTaskWithoutType(t *testing.T) {
	q, _ := newTestQueue(t)

	err := q.Publish(context.Background(), &Task{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task type is required")
}

func TestSubscribeRetriesThenSucceeds(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan struct{})
	handler := func(_ context.Context, task *Task) error {
		if calls.Add(1) == 1 {
			return errors.New("provider hiccup")
		}
		close(done)
		return nil
	}

	require.NoError(t, q.Publish(ctx, &Task{Type: TaskTypeSendConfirmation, Data: map[string]interface{}{"booking_id": "b1"}}))
	require.NoError(t, q.Subscribe(ctx, handler))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("task was not retried")
	}
	assert.Equal(t, int32(2), calls.Load())

	cancel()
	require.NoError(t, q.Close())
}

func TestPermanentFailureGoesToDLQ(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	handler := func(_ context.Context, task *Task) error {
		calls.Add(1)
		return errors.New("booking not found")
	}

	require.NoError(t, q.Publish(ctx, &Task{ID: "t-1", Type: TaskTypeSendConfirmation}))
	require.NoError(t, q.Subscribe(ctx, handler))

	require.Eventually(t, func() bool {
		failed, err := q.DLQ().GetFailedTasks(ctx, 10)
		return err == nil && len(failed) == 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	failed, err := q.DLQ().GetFailedTasks(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "t-1", failed[0].Task.ID)
	assert.Contains(t, failed[0].Error, "not found")

	cancel()
	require.NoError(t, q.Close())
}

func TestRequeueFailedTask(t *testing.T) {
	q, client := newTestQueue(t)
	ctx := context.Background()

	q.DLQ().HandleFailedTask(&Task{ID: "t-2", Type: TaskTypeAdminAlert, Attempts: 3}, errors.New("boom"))
	require.NoError(t, q.DLQ().RequeueFailedTask(ctx, "t-2"))

	assert.Equal(t, int64(1), client.LLen(ctx, "test:tasks").Val())
	assert.Equal(t, int64(0), client.ZCard(ctx, "test:dlq").Val())

	assert.Error(t, q.DLQ().RequeueFailedTask(ctx, "missing"))
}

func TestRetryManager(t *testing.T) {
	rm := NewRetryManager(3, 100*time.Millisecond)

	tests := []struct {
		name     string
		attempts int
		err      error
		retry    bool
	}{
		{name: "transient error", attempts: 1, err: errors.New("timeout"), retry: true},
		{name: "attempts exhausted", attempts: 3, err: errors.New("timeout"), retry: false},
		{name: "not found is permanent", attempts: 1, err: errors.New("booking not found"), retry: false},
		{name: "explicit permanent", attempts: 1, err: ErrPermanent, retry: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, delay := rm.ShouldRetry(&Task{Attempts: tt.attempts, MaxRetries: 3}, tt.err)
			assert.Equal(t, tt.retry, ok)
			if ok {
				assert.Greater(t, delay, time.Duration(0))
				assert.LessOrEqual(t, delay, 1600*time.Millisecond)
			}
		})
	}
}
