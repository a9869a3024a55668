package service

import (
	"context"
	"time"

	"github.com/ds124wfegd/appointly/internal/entity"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// queueNotifier hands side-channel messages to the task queue. The worker
// executes them with retries and a dead letter queue.
type queueNotifier struct {
	publisher  TaskPublisher
	maxRetries int
}

func NewQueueNotifier(publisher TaskPublisher, maxRetries int) BookingNotifier {
	return &queueNotifier{publisher: publisher, maxRetries: maxRetries}
}

func (n *queueNotifier) Confirm(ctx context.Context, booking *entity.Booking) {
	n.publish(ctx, TaskTypeSendConfirmation, booking)
}

func (n *queueNotifier) AlertAdmin(ctx context.Context, booking *entity.Booking) {
	n.publish(ctx, TaskTypeAdminAlert, booking)
}

func (n *queueNotifier) publish(ctx context.Context, taskType string, booking *entity.Booking) {
	task := &Task{
		ID:   uuid.NewString(),
		Type: taskType,
		Data: map[string]interface{}{
			"booking_id": booking.ID,
		},
		ExecuteAt:  time.Now(),
		MaxRetries: n.maxRetries,
	}
	// не блокируем бронирование из-за очереди
	if err := n.publisher.Publish(context.WithoutCancel(ctx), task); err != nil {
		logrus.WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"task_type":  taskType,
		}).Errorf("failed to enqueue notification: %v", err)
	}
}

// goroutineNotifier dispatches in a detached goroutine with its own deadline.
type goroutineNotifier struct {
	dispatch DispatchService
	timeout  time.Duration
}

func NewGoroutineNotifier(dispatch DispatchService, timeout time.Duration) BookingNotifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &goroutineNotifier{dispatch: dispatch, timeout: timeout}
}

func (n *goroutineNotifier) Confirm(_ context.Context, booking *entity.Booking) {
	n.spawn(booking, entity.CategoryConfirmation)
}

func (n *goroutineNotifier) AlertAdmin(_ context.Context, booking *entity.Booking) {
	n.spawn(booking, entity.CategoryAdminAlert)
}

func (n *goroutineNotifier) spawn(booking *entity.Booking, category entity.MessageCategory) {
	b := *booking
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		res := n.dispatch.Notify(ctx, &b, category)
		if !res.Success && res.ErrorText != "" {
			logrus.WithFields(logrus.Fields{
				"booking_id": b.ID,
				"category":   category,
			}).Warnf("side-channel sms failed: %s", res.ErrorText)
		}
	}()
}
