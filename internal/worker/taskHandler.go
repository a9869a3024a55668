package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/ds124wfegd/appointly/internal/entity"
	"github.com/ds124wfegd/appointly/internal/service"
	"github.com/ds124wfegd/appointly/pkg/queue"
	"github.com/sirupsen/logrus"
)

// TaskHandler обрабатывает задачи уведомлений из очереди
type TaskHandler struct {
	slots    service.SlotService
	dispatch service.DispatchService
}

func NewTaskHandler(slots service.SlotService, dispatch service.DispatchService) *TaskHandler {
	return &TaskHandler{slots: slots, dispatch: dispatch}
}

// HandleTask sends the SMS a task describes. A returned error makes the queue
// retry; errors wrapping queue.ErrPermanent go straight to the DLQ.
func (h *TaskHandler) HandleTask(ctx context.Context, task *queue.Task) error {
	logrus.WithFields(logrus.Fields{
		"task_id":  task.ID,
		"type":     task.Type,
		"attempts": task.Attempts,
	}).Debug("Processing task")

	switch task.Type {
	case queue.TaskTypeSendConfirmation:
		return h.notify(ctx, task, entity.CategoryConfirmation)
	case queue.TaskTypeAdminAlert:
		return h.notify(ctx, task, entity.CategoryAdminAlert)
	default:
		return fmt.Errorf("%w: unknown task type %q", queue.ErrPermanent, task.Type)
	}
}

func (h *TaskHandler) notify(ctx context.Context, task *queue.Task, category entity.MessageCategory) error {
	bookingID := task.GetString("booking_id")
	if bookingID == "" {
		return fmt.Errorf("%w: task %s has no booking_id", queue.ErrPermanent, task.ID)
	}

	booking, err := h.slots.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, entity.ErrBookingNotFound) {
			return fmt.Errorf("%w: booking %s", queue.ErrPermanent, bookingID)
		}
		return err
	}
	if !booking.IsLive() {
		logrus.WithField("booking_id", bookingID).Info("Booking no longer live, notification dropped")
		return nil
	}

	res := h.dispatch.Notify(ctx, booking, category)
	if !res.Success && res.AttemptID != "" {
		return fmt.Errorf("send %s for booking %s: %s", category, bookingID, res.ErrorText)
	}
	return nil
}
