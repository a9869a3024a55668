package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ds124wfegd/appointly/internal/database"
	"github.com/ds124wfegd/appointly/internal/entity"
	"github.com/ds124wfegd/appointly/internal/metrics"
	"github.com/ds124wfegd/appointly/pkg/sms"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type DispatchConfig struct {
	AdminPhone   string
	BusinessName string
	Timeout      time.Duration
	// ReminderLockTTL must match ReminderConfig.LockTTL.
	ReminderLockTTL time.Duration
}

type dispatchService struct {
	provider sms.Provider
	attempts *database.AttemptRepository
	bookings *database.BookingRepository
	cfg      DispatchConfig
	now      Clock
}

func NewDispatchService(
	provider sms.Provider,
	attempts *database.AttemptRepository,
	bookings *database.BookingRepository,
	cfg DispatchConfig,
	now Clock,
) DispatchService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ReminderLockTTL <= 0 {
		cfg.ReminderLockTTL = 2 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &dispatchService{
		provider: provider,
		attempts: attempts,
		bookings: bookings,
		cfg:      cfg,
		now:      now,
	}
}

// Send calls the provider once, bounded by the configured timeout.
func (s *dispatchService) Send(ctx context.Context, to, body, correlationID string) (res entity.DispatchResult) {
	defer func() {
		if r := recover(); r != nil {
			res = entity.DispatchResult{ErrorText: fmt.Sprintf("sms send panic: %v", r)}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	msg, err := s.provider.Send(ctx, to, body)
	if err == nil && msg == nil {
		err = errors.New("sms provider returned no message")
	}
	if err != nil {
		res = entity.DispatchResult{ErrorText: err.Error()}

		var perr *sms.ProviderError
		switch {
		case errors.As(err, &perr):
			res.HTTPStatus = perr.HTTPStatus
		case errors.Is(err, sms.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
			res.ErrorText = sms.ErrTimeout.Error()
		}

		logrus.WithFields(logrus.Fields{
			"correlation_id": correlationID,
			"http_status":    res.HTTPStatus,
		}).Warnf("sms send failed: %v", err)
		return res
	}

	return entity.DispatchResult{Success: true, ProviderMessageID: msg.SID}
}

// Notify sends the category's message for a booking and records the attempt.
func (s *dispatchService) Notify(ctx context.Context, booking *entity.Booking, category entity.MessageCategory) entity.DispatchResult {
	to := booking.Phone
	if category == entity.CategoryAdminAlert {
		if s.cfg.AdminPhone == "" {
			return entity.DispatchResult{}
		}
		to = s.cfg.AdminPhone
	}

	body := RenderMessage(category, booking, s.cfg.BusinessName)
	return s.deliver(ctx, to, body, booking.ID, category, "")
}

func (s *dispatchService) SendAdHoc(ctx context.Context, to, body string) entity.DispatchResult {
	return s.deliver(ctx, to, truncate(body, MaxMessageLength), "", entity.CategoryAdminAlert, "")
}

// deliver is Send followed by an attempt record, whatever the outcome.
func (s *dispatchService) deliver(
	ctx context.Context,
	to, body, bookingID string,
	category entity.MessageCategory,
	retryOf string,
) entity.DispatchResult {
	res := s.Send(ctx, to, body, bookingID)

	now := s.now().UTC()
	attempt := &entity.Attempt{
		ID:        uuid.NewString(),
		BookingID: bookingID,
		Phone:     to,
		Category:  category,
		Message:   body,
		RetryOf:   retryOf,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if res.Success {
		sid := res.ProviderMessageID
		attempt.Status = entity.DeliverySent
		attempt.ProviderMessageID = &sid
		attempt.SentAt = &now
		metrics.SMSDispatched.WithLabelValues(string(category), "sent").Inc()
	} else {
		errText := res.ErrorText
		attempt.Status = entity.DeliveryFailed
		attempt.Error = &errText
		if res.HTTPStatus != 0 {
			status := res.HTTPStatus
			attempt.HTTPStatus = &status
		}
		metrics.SMSDispatched.WithLabelValues(string(category), "failed").Inc()
	}

	// the record must survive a cancelled request
	if err := s.attempts.Append(context.WithoutCancel(ctx), attempt); err != nil {
		logrus.WithFields(logrus.Fields{
			"attempt_id": attempt.ID,
			"booking_id": bookingID,
		}).Errorf("failed to record sms attempt: %v", err)
	}
	res.AttemptID = attempt.ID

	logrus.WithFields(logrus.Fields{
		"attempt_id": attempt.ID,
		"booking_id": bookingID,
		"category":   category,
		"status":     attempt.Status,
	}).Info("SMS attempt recorded")
	return res
}

// Retry re-sends a failed attempt as a new attempt rendered from the current booking.
// A reminder retry holds the same lock as the sweep, so the two never both send it.
func (s *dispatchService) Retry(ctx context.Context, attemptID string) (entity.DispatchResult, error) {
	original, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return entity.DispatchResult{}, err
	}
	if original.Status != entity.DeliveryFailed {
		return entity.DispatchResult{}, fmt.Errorf("%w: status is %s", entity.ErrNotRetryable, original.Status)
	}
	if original.BookingID == "" {
		return entity.DispatchResult{}, fmt.Errorf("%w: attempt has no booking", entity.ErrBookingNotFound)
	}

	kind, isReminder := entity.ReminderKindFor(original.Category)
	if isReminder {
		release, ok, err := lockReminder(ctx, s.bookings, original.BookingID, kind, s.cfg.ReminderLockTTL)
		if err != nil {
			return entity.DispatchResult{}, fmt.Errorf("take reminder lock: %w", err)
		}
		if !ok {
			return entity.DispatchResult{}, fmt.Errorf("%w: %s is being sent right now", entity.ErrNotRetryable, kind)
		}
		defer release()
	}

	// читаем бронь уже под локом
	booking, err := s.bookings.GetByID(ctx, original.BookingID)
	if err != nil {
		return entity.DispatchResult{}, err
	}
	if isReminder && booking.ReminderSent(kind) {
		return entity.DispatchResult{}, fmt.Errorf("%w: %s already sent", entity.ErrNotRetryable, kind)
	}

	to := booking.Phone
	if original.Category == entity.CategoryAdminAlert {
		to = original.Phone
	}
	body := RenderMessage(original.Category, booking, s.cfg.BusinessName)
	res := s.deliver(ctx, to, body, booking.ID, original.Category, original.ID)

	if res.Success && isReminder {
		if err := markReminderSent(ctx, s.bookings, booking.ID, kind, s.now); err != nil {
			logrus.WithField("booking_id", booking.ID).Errorf("failed to set reminder flag after retry: %v", err)
		}
	}
	return res, nil
}

// markReminderSent sets only the flag, on top of whatever the booking holds now.
func markReminderSent(ctx context.Context, bookings *database.BookingRepository, bookingID string, kind entity.ReminderKind, now Clock) error {
	_, err := bookings.Update(context.WithoutCancel(ctx), bookingID, func(b *entity.Booking) error {
		b.MarkReminderSent(kind)
		b.UpdatedAt = now().UTC()
		return nil
	})
	return err
}

// History keeps answering for a deleted booking while its attempts remain.
func (s *dispatchService) History(ctx context.Context, bookingID string) ([]*entity.Attempt, error) {
	attempts, err := s.attempts.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if len(attempts) > 0 {
		return attempts, nil
	}
	if _, err := s.bookings.GetByID(ctx, bookingID); err != nil {
		return nil, err
	}
	return []*entity.Attempt{}, nil
}

func (s *dispatchService) Search(ctx context.Context, filter entity.AttemptFilter) ([]*entity.Attempt, error) {
	return s.attempts.Search(ctx, filter)
}
