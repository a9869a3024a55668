package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ds124wfegd/appointly/internal/entity"
	"github.com/ds124wfegd/appointly/pkg/sms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	tasks []*Task
	err   error
}

func (p *fakePublisher) Publish(_ context.Context, task *Task) error {
	p.tasks = append(p.tasks, task)
	return p.err
}

func TestQueueNotifierPublishesTasks(t *testing.T) {
	pub := &fakePublisher{}
	n := NewQueueNotifier(pub, 4)
	b := &entity.Booking{ID: "b1"}

	n.Confirm(context.Background(), b)
	n.AlertAdmin(context.Background(), b)

	require.Len(t, pub.tasks, 2)
	assert.Equal(t, TaskTypeSendConfirmation, pub.tasks[0].Type)
	assert.Equal(t, TaskTypeAdminAlert, pub.tasks[1].Type)
	assert.Equal(t, "b1", pub.tasks[0].Data["booking_id"])
	assert.Equal(t, 4, pub.tasks[0].MaxRetries)
}

func TestQueueNotifierSwallowsPublishErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("redis down")}
	n := NewQueueNotifier(pub, 3)

	assert.NotPanics(t, func() {
		n.Confirm(context.Background(), &entity.Booking{ID: "b1"})
	})
}

func TestGoroutineNotifierOutlivesRequest(t *testing.T) {
	env := newTestEnv(t, monday)
	sent := make(chan struct{})
	provider := &mockProvider{}
	provider.On("Send", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { close(sent) }).
		Return(&sms.Message{SID: "SM1"}, nil).Once()
	n := NewGoroutineNotifier(env.dispatchService(provider), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	n.Confirm(ctx, &entity.Booking{ID: "b1", Phone: "+447700900123", Date: "2025-12-15", Time: "14:00"})
	cancel()

	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("confirmation was not sent")
	}
}
