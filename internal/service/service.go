package service

import (
	"context"
	"time"

	"github.com/ds124wfegd/appointly/internal/entity"
)

// Clock returns the current time. Services take one so tests can pin "now".
type Clock func() time.Time

// SlotService owns the daily slot grid and the booking lifecycle.
type SlotService interface {
	ListAvailability(ctx context.Context, date string) ([]entity.Slot, error)
	CreateBooking(ctx context.Context, req *CreateBookingRequest) (*entity.Booking, error)
	GetBooking(ctx context.Context, id string) (*entity.Booking, error)
	ListBookingsByDate(ctx context.Context, date string) ([]*entity.Booking, error)

	// Административные операции
	Cancel(ctx context.Context, id string) (*entity.Booking, error)
	Reschedule(ctx context.Context, id string, req *RescheduleRequest) (*entity.Booking, error)
	Delete(ctx context.Context, id string) error
}

// DispatchService sends SMS and keeps the attempt log.
type DispatchService interface {
	// Send never fails; problems come back inside the result.
	Send(ctx context.Context, to, body, correlationID string) entity.DispatchResult
	Notify(ctx context.Context, booking *entity.Booking, category entity.MessageCategory) entity.DispatchResult
	SendAdHoc(ctx context.Context, to, body string) entity.DispatchResult
	Retry(ctx context.Context, attemptID string) (entity.DispatchResult, error)

	History(ctx context.Context, bookingID string) ([]*entity.Attempt, error)
	Search(ctx context.Context, filter entity.AttemptFilter) ([]*entity.Attempt, error)
}

// DeliveryService reconciles provider delivery state into the attempt log.
type DeliveryService interface {
	RefreshStatus(ctx context.Context, providerMessageID string) (entity.DeliveryStatus, error)
	RefreshBatch(ctx context.Context, providerMessageIDs []string) map[string]entity.StatusResult
	ReconcilePending(ctx context.Context, limit int) (*entity.ReconcileReport, error)
}

// ReminderService runs the reminder sweep.
type ReminderService interface {
	Sweep(ctx context.Context) (*entity.SweepReport, error)
}

// RateLimiter bounds calls per (purpose, identity) with fixed windows in the shared store.
type RateLimiter interface {
	Check(ctx context.Context, purpose, identity string, limit int64, window time.Duration) entity.RateDecision
	IsBlocked(ctx context.Context, identity string) (bool, time.Duration)
	RecordAuthFailure(ctx context.Context, identity string)
	ResetAuthFailures(ctx context.Context, identity string)
}

// AuthService issues and checks admin tokens.
type AuthService interface {
	Login(ctx context.Context, username, password, identity string) (*LoginResult, error)
	ParseToken(token string) (*AdminClaims, error)
}

// BookingNotifier fires side-channel messages for a booking. Implementations
// must not block the caller or report failures back to it.
type BookingNotifier interface {
	Confirm(ctx context.Context, booking *entity.Booking)
	AlertAdmin(ctx context.Context, booking *entity.Booking)
}

// TaskPublisher интерфейс для публикации задач в очередь
type TaskPublisher interface {
	Publish(ctx context.Context, task *Task) error
}

// Task представляет задачу для очереди
type Task struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data"`
	ExecuteAt  time.Time              `json:"execute_at"`
	MaxRetries int                    `json:"max_retries"`
}

// Константы типов задач
const (
	TaskTypeSendConfirmation = "send_confirmation"
	TaskTypeAdminAlert       = "admin_alert"
)
