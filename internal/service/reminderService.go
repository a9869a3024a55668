package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ds124wfegd/appointly/internal/database"
	"github.com/ds124wfegd/appointly/internal/entity"
	"github.com/ds124wfegd/appointly/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Alerter delivers an operator alert. *telegram.Bot satisfies it.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

type ReminderConfig struct {
	Location *time.Location
	LockTTL  time.Duration
}

type reminderService struct {
	bookings *database.BookingRepository
	dispatch DispatchService
	alerter  Alerter
	cfg      ReminderConfig
	now      Clock
}

func NewReminderService(
	bookings *database.BookingRepository,
	dispatch DispatchService,
	alerter Alerter,
	cfg ReminderConfig,
	now Clock,
) ReminderService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &reminderService{
		bookings: bookings,
		dispatch: dispatch,
		alerter:  alerter,
		cfg:      cfg,
		now:      now,
	}
}

// IsDue reports whether the reminder of kind should fire for b at now:
// the booking is confirmed and opted in, the flag is unset and the
// appointment is within (lead-1h, lead] from now.
func IsDue(b *entity.Booking, kind entity.ReminderKind, now time.Time, loc *time.Location) bool {
	if b == nil || b.Status != entity.BookingStatusConfirmed || !b.SMSOptIn || b.ReminderSent(kind) {
		return false
	}
	at, err := b.AppointmentAt(loc)
	if err != nil {
		return false
	}
	lead := kind.LeadTime()
	diff := at.Sub(now)
	return diff > lead-time.Hour && diff <= lead
}

// Sweep sends every reminder that is due right now. Running it twice, in
// parallel or not at all for a while is safe: flags and locks keep each
// (booking, kind) to one successful send.
func (s *reminderService) Sweep(ctx context.Context) (*entity.SweepReport, error) {
	report := &entity.SweepReport{
		StartedAt: s.now().UTC(),
		Items:     []entity.SweepItem{},
	}

	candidates, err := s.candidates(ctx)
	if err != nil {
		return nil, err
	}
	report.Checked = len(candidates)

	for _, b := range candidates {
		for _, kind := range entity.ReminderKinds {
			if ctx.Err() != nil {
				report.FinishedAt = s.now().UTC()
				return report, ctx.Err()
			}
			if !IsDue(b, kind, s.now(), s.cfg.Location) {
				continue
			}
			report.Due++
			item := s.remind(ctx, b.ID, kind)
			report.Items = append(report.Items, item)

			switch {
			case item.Skipped:
				report.Skipped++
				metrics.RemindersSwept.WithLabelValues(string(kind), "skipped").Inc()
			case item.Result != nil && item.Result.Success:
				report.Sent++
				metrics.RemindersSwept.WithLabelValues(string(kind), "sent").Inc()
			default:
				report.Failed++
				metrics.RemindersSwept.WithLabelValues(string(kind), "failed").Inc()
			}
		}
	}
	report.FinishedAt = s.now().UTC()

	logrus.WithFields(logrus.Fields{
		"checked":  report.Checked,
		"due":      report.Due,
		"sent":     report.Sent,
		"failed":   report.Failed,
		"skipped":  report.Skipped,
		"duration": formatDuration(report.FinishedAt.Sub(report.StartedAt)),
	}).Info("Reminder sweep finished")

	if report.Failed > 0 {
		s.alertFailures(ctx, report)
	}
	return report, nil
}

// candidates loads bookings for today and the next two days, the only dates
// that can fall inside a 24h lead window.
func (s *reminderService) candidates(ctx context.Context) ([]*entity.Booking, error) {
	today := s.now().In(s.cfg.Location)

	var out []*entity.Booking
	for i := 0; i < 3; i++ {
		date := today.AddDate(0, 0, i).Format(entity.DateLayout)
		bookings, err := s.bookings.ListByDate(ctx, date)
		if err != nil {
			return nil, fmt.Errorf("list bookings for %s: %w", date, err)
		}
		out = append(out, bookings...)
	}
	return out, nil
}

func (s *reminderService) remind(ctx context.Context, bookingID string, kind entity.ReminderKind) entity.SweepItem {
	item := entity.SweepItem{BookingID: bookingID, Kind: kind}
	log := logrus.WithFields(logrus.Fields{"booking_id": bookingID, "kind": kind})

	release, ok, err := lockReminder(ctx, s.bookings, bookingID, kind, s.cfg.LockTTL)
	if err != nil {
		log.Errorf("failed to take reminder lock: %v", err)
		item.Result = &entity.DispatchResult{ErrorText: "lock unavailable: " + err.Error()}
		return item
	}
	if !ok {
		item.Skipped = true
		item.Reason = "locked by another sweep or retry"
		return item
	}
	defer release()

	// the list read may be stale by now
	current, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		item.Skipped = true
		item.Reason = "booking no longer readable"
		return item
	}
	if !IsDue(current, kind, s.now(), s.cfg.Location) {
		item.Skipped = true
		item.Reason = "no longer due"
		return item
	}

	res := s.dispatch.Notify(ctx, current, kind.Category())
	item.Result = &res
	if !res.Success {
		log.Warnf("reminder send failed: %s", res.ErrorText)
		return item
	}

	if err := markReminderSent(ctx, s.bookings, bookingID, kind, s.now); err != nil {
		log.Errorf("reminder sent but flag not saved: %v", err)
	}
	return item
}

// lockReminder takes the per-(booking, kind) lock shared by the sweep and a
// manual retry. The expiry frees it if this process dies mid-send.
func lockReminder(ctx context.Context, bookings *database.BookingRepository, bookingID string, kind entity.ReminderKind, ttl time.Duration) (func(), bool, error) {
	token, err := bookings.LockReminder(ctx, bookingID, string(kind), ttl)
	if err != nil || token == nil {
		return nil, false, err
	}

	release := func() {
		if err := bookings.UnlockReminder(context.WithoutCancel(ctx), bookingID, string(kind), token); err != nil {
			logrus.WithFields(logrus.Fields{"booking_id": bookingID, "kind": kind}).Warnf("failed to release reminder lock: %v", err)
		}
	}
	return release, true, nil
}

func (s *reminderService) alertFailures(ctx context.Context, report *entity.SweepReport) {
	if s.alerter == nil {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Reminder sweep: %d of %d due reminders failed\n", report.Failed, report.Due)
	for _, item := range report.Items {
		if item.Skipped || item.Result == nil || item.Result.Success {
			continue
		}
		fmt.Fprintf(&b, "- %s %s: %s\n", item.BookingID, item.Kind, item.Result.ErrorText)
	}

	if err := s.alerter.Alert(context.WithoutCancel(ctx), b.String()); err != nil {
		logrus.Warnf("failed to send sweep alert: %v", err)
	}
}
