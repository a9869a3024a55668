package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ds124wfegd/appointly/internal/database"
	"github.com/ds124wfegd/appointly/internal/entity"
	"github.com/ds124wfegd/appointly/internal/metrics"
	"github.com/ds124wfegd/appointly/pkg/mq"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// A claim whose booking record has not appeared after this long belongs to a
// creation that died between claiming and writing.
const claimGrace = time.Minute

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[1-9]\d{6,14}$`)
	phoneNoise   = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
)

// CreateBookingRequest представляет данные для бронирования слота
type CreateBookingRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Service  string `json:"service"`
	Message  string `json:"message"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	SMSOptIn bool   `json:"sms_opt_in"`
}

type RescheduleRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

// SlotConfig is the daily grid: whole hours from OpenHour up to CloseHour.
type SlotConfig struct {
	OpenHour  int
	CloseHour int
	Location  *time.Location
}

type slotService struct {
	bookings  *database.BookingRepository
	notifier  BookingNotifier
	events    mq.EventPublisher
	cfg       SlotConfig
	now       Clock
	eventWait time.Duration
}

// NewSlotService создает новый экземпляр SlotService
func NewSlotService(
	bookings *database.BookingRepository,
	notifier BookingNotifier,
	events mq.EventPublisher,
	cfg SlotConfig,
	now Clock,
) SlotService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	if events == nil {
		events = mq.NopPublisher{}
	}
	return &slotService{
		bookings:  bookings,
		notifier:  notifier,
		events:    events,
		cfg:       cfg,
		now:       now,
		eventWait: 5 * time.Second,
	}
}

func (s *slotService) slots() []string {
	out := make([]string, 0, s.cfg.CloseHour-s.cfg.OpenHour)
	for h := s.cfg.OpenHour; h < s.cfg.CloseHour; h++ {
		out = append(out, entity.FormatSlot(h))
	}
	return out
}

func (s *slotService) ListAvailability(ctx context.Context, date string) ([]entity.Slot, error) {
	verr := &entity.ValidationError{}
	if strings.TrimSpace(date) == "" {
		verr.Add("date", entity.CodeMissingField, "date is required")
	} else if _, err := entity.ParseDate(date); err != nil {
		verr.Add("date", entity.CodeInvalidDate, "date must be YYYY-MM-DD")
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	slots := s.slots()
	claims, err := s.bookings.SlotClaims(ctx, date, slots)
	if err != nil {
		return nil, fmt.Errorf("read slot claims: %w", err)
	}

	ids := make([]string, len(claims))
	for i, c := range claims {
		if c != nil {
			ids[i] = c.BookingID
		}
	}
	holders, err := s.bookings.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("read slot holders: %w", err)
	}

	now := s.now()
	result := make([]entity.Slot, len(slots))
	for i, slot := range slots {
		result[i] = entity.Slot{
			Time:      slot,
			Available: claims[i] == nil || s.isStale(claims[i], holders[i], now),
		}
	}
	return result, nil
}

// isStale reports whether a claim no longer protects its slot.
func (s *slotService) isStale(claim *database.SlotClaim, holder *entity.Booking, now time.Time) bool {
	if holder != nil {
		return !holder.IsLive()
	}
	return now.Sub(claim.ClaimedAt) > claimGrace
}

func (s *slotService) validateSlot(verr *entity.ValidationError, date, slot string) {
	var (
		day     time.Time
		dateOK  bool
		hour    int
		hourOK  bool
		dateErr error
	)

	if date == "" {
		verr.Add("date", entity.CodeMissingField, "date is required")
	} else if day, dateErr = entity.ParseDate(date); dateErr != nil {
		verr.Add("date", entity.CodeInvalidDate, "date must be YYYY-MM-DD")
	} else {
		dateOK = true
	}

	if slot == "" {
		verr.Add("time", entity.CodeMissingField, "time is required")
	} else if h, err := entity.ParseSlot(slot); err != nil {
		verr.Add("time", entity.CodeInvalidSlotFormat, "time must be HH:00")
	} else if h < s.cfg.OpenHour || h >= s.cfg.CloseHour {
		verr.Add("time", entity.CodeSlotOutOfRange,
			fmt.Sprintf("time must be between %s and %s", entity.FormatSlot(s.cfg.OpenHour), entity.FormatSlot(s.cfg.CloseHour-1)))
	} else {
		hour, hourOK = h, true
	}

	if dateOK && hourOK {
		at := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, s.cfg.Location)
		if !at.After(s.now()) {
			verr.Add("time", entity.CodeSlotInPast, "slot is in the past")
		}
	}
}

func (s *slotService) validateCreate(req *CreateBookingRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.Phone = phoneNoise.Replace(strings.TrimSpace(req.Phone))
	req.Service = strings.TrimSpace(req.Service)
	req.Message = strings.TrimSpace(req.Message)
	req.Date = strings.TrimSpace(req.Date)
	req.Time = strings.TrimSpace(req.Time)

	verr := &entity.ValidationError{}
	if req.Name == "" {
		verr.Add("name", entity.CodeMissingField, "name is required")
	}
	if req.Email == "" {
		verr.Add("email", entity.CodeMissingField, "email is required")
	} else if !emailPattern.MatchString(req.Email) {
		verr.Add("email", entity.CodeInvalidEmail, "email is not valid")
	}
	if req.Phone == "" {
		verr.Add("phone", entity.CodeMissingField, "phone is required")
	} else if !phonePattern.MatchString(req.Phone) {
		verr.Add("phone", entity.CodeInvalidPhone, "phone is not valid")
	}
	if req.Service == "" {
		verr.Add("service", entity.CodeMissingField, "service is required")
	}
	s.validateSlot(verr, req.Date, req.Time)
	return verr.Err()
}

// CreateBooking validates the request and reserves the slot. The conditional
// write on the slot key decides who gets it; nothing else is consulted.
func (s *slotService) CreateBooking(ctx context.Context, req *CreateBookingRequest) (*entity.Booking, error) {
	if err := s.validateCreate(req); err != nil {
		metrics.BookingsCreated.WithLabelValues("invalid").Inc()
		return nil, err
	}

	now := s.now().UTC()
	booking := &entity.Booking{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Service:   req.Service,
		Message:   req.Message,
		Date:      req.Date,
		Time:      req.Time,
		SMSOptIn:  req.SMSOptIn,
		Status:    entity.BookingStatusConfirmed,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.reserve(ctx, booking); err != nil {
		if errors.Is(err, entity.ErrSlotTaken) {
			metrics.BookingsCreated.WithLabelValues("conflict").Inc()
		} else {
			metrics.BookingsCreated.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	metrics.BookingsCreated.WithLabelValues("created").Inc()

	logrus.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"date":       booking.Date,
		"time":       booking.Time,
	}).Info("Booking created")

	if s.notifier != nil {
		if booking.SMSOptIn {
			s.notifier.Confirm(ctx, booking)
		}
		s.notifier.AlertAdmin(ctx, booking)
	}
	s.publish(entity.EventBookingCreated, booking, "")

	return booking, nil
}

// reserve claims the slot, writes the record and indexes it.
func (s *slotService) reserve(ctx context.Context, booking *entity.Booking) error {
	claim, err := s.claim(ctx, booking)
	if err != nil {
		return err
	}

	if err := s.bookings.Save(ctx, booking); err != nil {
		if _, relErr := s.bookings.ReleaseSlot(ctx, booking.Date, booking.Time, claim); relErr != nil {
			logrus.WithField("booking_id", booking.ID).Errorf("failed to release slot after write error: %v", relErr)
		}
		return fmt.Errorf("save booking: %w", err)
	}

	// The slot key and the record are enough to keep the booking; a missing
	// index entry only hides it from date listings.
	if err := s.bookings.Index(ctx, booking); err != nil {
		logrus.WithField("booking_id", booking.ID).Errorf("failed to index booking: %v", err)
	}
	return nil
}

func (s *slotService) claim(ctx context.Context, booking *entity.Booking) (*database.SlotClaim, error) {
	claim := database.NewSlotClaim(booking.ID, s.now())

	ok, err := s.bookings.ClaimSlot(ctx, booking.Date, booking.Time, claim)
	if err != nil {
		return nil, fmt.Errorf("claim slot: %w", err)
	}
	if ok {
		return claim, nil
	}

	current, err := s.bookings.GetSlotClaim(ctx, booking.Date, booking.Time)
	if err != nil {
		return nil, fmt.Errorf("read slot claim: %w", err)
	}
	if current != nil {
		holder, err := s.bookings.GetByID(ctx, current.BookingID)
		if err != nil && !errors.Is(err, entity.ErrBookingNotFound) {
			return nil, fmt.Errorf("read slot holder: %w", err)
		}
		if !s.isStale(current, holder, s.now()) {
			return nil, entity.ErrSlotTaken
		}
		if _, err := s.bookings.ReleaseSlot(ctx, booking.Date, booking.Time, current); err != nil {
			return nil, fmt.Errorf("release stale slot: %w", err)
		}
		logrus.WithFields(logrus.Fields{
			"date":  booking.Date,
			"time":  booking.Time,
			"stale": current.BookingID,
		}).Warn("Released stale slot claim")
	}

	// one more try; whoever wins this write owns the slot
	ok, err = s.bookings.ClaimSlot(ctx, booking.Date, booking.Time, claim)
	if err != nil {
		return nil, fmt.Errorf("claim slot: %w", err)
	}
	if !ok {
		return nil, entity.ErrSlotTaken
	}
	return claim, nil
}

func (s *slotService) GetBooking(ctx context.Context, id string) (*entity.Booking, error) {
	return s.bookings.GetByID(ctx, id)
}

func (s *slotService) ListBookingsByDate(ctx context.Context, date string) ([]*entity.Booking, error) {
	if _, err := entity.ParseDate(date); err != nil {
		verr := &entity.ValidationError{}
		verr.Add("date", entity.CodeInvalidDate, "date must be YYYY-MM-DD")
		return nil, verr
	}
	return s.bookings.ListByDate(ctx, date)
}

// Cancel transitions a confirmed booking to cancelled and frees its slot.
func (s *slotService) Cancel(ctx context.Context, id string) (*entity.Booking, error) {
	booking, err := s.bookings.Update(ctx, id, func(b *entity.Booking) error {
		if b.Status != entity.BookingStatusConfirmed {
			return fmt.Errorf("%w: %s -> %s", entity.ErrInvalidStatusTransition, b.Status, entity.BookingStatusCancelled)
		}
		b.Status = entity.BookingStatusCancelled
		b.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.releaseHeld(ctx, booking)
	s.publish(entity.EventBookingCancelled, booking, "")

	logrus.WithField("booking_id", booking.ID).Info("Booking cancelled")
	return booking, nil
}

// Reschedule books the new slot as a fresh booking and retires the old one,
// keeping both records linked for audit.
func (s *slotService) Reschedule(ctx context.Context, id string, req *RescheduleRequest) (*entity.Booking, error) {
	req.Date = strings.TrimSpace(req.Date)
	req.Time = strings.TrimSpace(req.Time)

	verr := &entity.ValidationError{}
	s.validateSlot(verr, req.Date, req.Time)
	if err := verr.Err(); err != nil {
		return nil, err
	}

	old, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if old.Status != entity.BookingStatusConfirmed {
		return nil, fmt.Errorf("%w: %s -> %s", entity.ErrInvalidStatusTransition, old.Status, entity.BookingStatusRescheduled)
	}

	now := s.now().UTC()
	next := &entity.Booking{
		ID:              uuid.NewString(),
		Name:            old.Name,
		Email:           old.Email,
		Phone:           old.Phone,
		Service:         old.Service,
		Message:         old.Message,
		Date:            req.Date,
		Time:            req.Time,
		SMSOptIn:        old.SMSOptIn,
		Status:          entity.BookingStatusConfirmed,
		RescheduledFrom: old.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.reserve(ctx, next); err != nil {
		return nil, err
	}

	// the old booking may have been cancelled while the new slot was reserved
	old, err = s.bookings.Update(ctx, id, func(b *entity.Booking) error {
		if b.Status != entity.BookingStatusConfirmed {
			return fmt.Errorf("%w: %s -> %s", entity.ErrInvalidStatusTransition, b.Status, entity.BookingStatusRescheduled)
		}
		b.Status = entity.BookingStatusRescheduled
		b.RescheduledTo = next.ID
		b.UpdatedAt = now
		return nil
	})
	if err != nil {
		// undo the new reservation so the customer does not hold two slots
		if delErr := s.remove(ctx, next); delErr != nil {
			logrus.WithField("booking_id", next.ID).Errorf("failed to roll back reschedule: %v", delErr)
		}
		return nil, err
	}

	s.releaseHeld(ctx, old)

	if s.notifier != nil && next.SMSOptIn {
		s.notifier.Confirm(ctx, next)
	}
	s.publish(entity.EventBookingRescheduled, next, old.ID)

	logrus.WithFields(logrus.Fields{"from": old.ID, "to": next.ID}).Info("Booking rescheduled")
	return next, nil
}

// Delete removes the record, its index entries and its slot claim. Attempts stay.
func (s *slotService) Delete(ctx context.Context, id string) error {
	booking, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.remove(ctx, booking); err != nil {
		return err
	}
	s.publish(entity.EventBookingDeleted, booking, "")

	logrus.WithField("booking_id", id).Info("Booking deleted")
	return nil
}

func (s *slotService) remove(ctx context.Context, booking *entity.Booking) error {
	if err := s.bookings.Delete(ctx, booking.ID); err != nil {
		return fmt.Errorf("delete booking: %w", err)
	}
	s.releaseHeld(ctx, booking)
	if err := s.bookings.Unindex(ctx, booking); err != nil {
		logrus.WithField("booking_id", booking.ID).Errorf("failed to unindex booking: %v", err)
	}
	return nil
}

// releaseHeld drops the slot claim if this booking still holds it. A claim
// left behind is harmless: its holder is no longer live, so it reads as free.
func (s *slotService) releaseHeld(ctx context.Context, booking *entity.Booking) {
	claim, err := s.bookings.GetSlotClaim(ctx, booking.Date, booking.Time)
	if err != nil {
		logrus.WithField("booking_id", booking.ID).Errorf("failed to read slot claim: %v", err)
		return
	}
	if claim == nil || claim.BookingID != booking.ID {
		return
	}
	if _, err := s.bookings.ReleaseSlot(ctx, booking.Date, booking.Time, claim); err != nil {
		logrus.WithField("booking_id", booking.ID).Errorf("failed to release slot: %v", err)
	}
}

func (s *slotService) publish(eventType string, b *entity.Booking, related string) {
	event := entity.BookingEvent{
		Type:       eventType,
		BookingID:  b.ID,
		Date:       b.Date,
		Time:       b.Time,
		Service:    b.Service,
		Status:     string(b.Status),
		RelatedID:  related,
		OccurredAt: s.now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.eventWait)
		defer cancel()
		if err := s.events.PublishJSON(ctx, eventType, event); err != nil {
			logrus.WithFields(logrus.Fields{"event": eventType, "booking_id": b.ID}).Warnf("failed to publish event: %v", err)
		}
	}()
}
