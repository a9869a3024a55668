package service

import (
	"fmt"
	"time"

	"github.com/ds124wfegd/appointly/internal/entity"
)

// MaxMessageLength is two GSM-7 segments.
const MaxMessageLength = 320

// RenderMessage builds the SMS body for a booking. It depends only on the
// booking fields and businessName.
func RenderMessage(category entity.MessageCategory, b *entity.Booking, businessName string) string {
	when := displayDate(b.Date) + " at " + b.Time

	var body string
	switch category {
	case entity.CategoryConfirmation:
		body = fmt.Sprintf("Hi %s, your %s booking with %s is confirmed for %s. Ref: %s",
			b.Name, b.Service, businessName, when, b.ID)
	case entity.CategoryReminder24h:
		body = fmt.Sprintf("Reminder: %s, your %s appointment with %s is tomorrow, %s. Ref: %s",
			b.Name, b.Service, businessName, when, b.ID)
	case entity.CategoryReminder2h:
		body = fmt.Sprintf("Reminder: %s, your %s appointment with %s starts in 2 hours (%s). Ref: %s",
			b.Name, b.Service, businessName, b.Time, b.ID)
	case entity.CategoryAdminAlert:
		body = fmt.Sprintf("New booking: %s, %s on %s. Phone %s. Ref: %s",
			b.Name, b.Service, when, b.Phone, b.ID)
	default:
		body = fmt.Sprintf("%s: booking %s on %s", businessName, b.ID, when)
	}
	return truncate(body, MaxMessageLength)
}

func displayDate(date string) string {
	d, err := entity.ParseDate(date)
	if err != nil {
		return date
	}
	return d.Format("Mon 2 Jan 2006")
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
