package entity

import (
	"time"
)

type BookingStatus string

const (
	BookingStatusConfirmed   BookingStatus = "confirmed"
	BookingStatusCancelled   BookingStatus = "cancelled"
	BookingStatusRescheduled BookingStatus = "rescheduled"
)

// Booking is one reserved slot. ID doubles as the public booking reference.
type Booking struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Email           string        `json:"email"`
	Phone           string        `json:"phone"`
	Service         string        `json:"service"`
	Message         string        `json:"message,omitempty"`
	Date            string        `json:"date"` // YYYY-MM-DD
	Time            string        `json:"time"` // HH:00
	SMSOptIn        bool          `json:"sms_opt_in"`
	Reminder24hSent bool          `json:"reminder_24h_sent"`
	Reminder2hSent  bool          `json:"reminder_2h_sent"`
	Status          BookingStatus `json:"status"`
	RescheduledFrom string        `json:"rescheduled_from,omitempty"`
	RescheduledTo   string        `json:"rescheduled_to,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// IsLive reports whether the booking still occupies its slot.
func (b *Booking) IsLive() bool {
	return b.Status != BookingStatusCancelled && b.Status != BookingStatusRescheduled
}

// AppointmentAt resolves date and slot into an instant in loc.
func (b *Booking) AppointmentAt(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout+" "+SlotLayout, b.Date+" "+b.Time, loc)
}

// ReminderSent returns the flag that guards the given reminder kind.
func (b *Booking) ReminderSent(kind ReminderKind) bool {
	switch kind {
	case Reminder24h:
		return b.Reminder24hSent
	case Reminder2h:
		return b.Reminder2hSent
	}
	return false
}

func (b *Booking) MarkReminderSent(kind ReminderKind) {
	switch kind {
	case Reminder24h:
		b.Reminder24hSent = true
	case Reminder2h:
		b.Reminder2hSent = true
	}
}

// Slot is one entry of the availability listing.
type Slot struct {
	Time      string `json:"time"`
	Available bool   `json:"available"`
}

// BookingEvent is published to the message bus on lifecycle changes.
type BookingEvent struct {
	Type       string    `json:"type"`
	BookingID  string    `json:"booking_id"`
	Date       string    `json:"date"`
	Time       string    `json:"time"`
	Service    string    `json:"service"`
	Status     string    `json:"status"`
	RelatedID  string    `json:"related_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

const (
	EventBookingCreated     = "booking.created"
	EventBookingCancelled   = "booking.cancelled"
	EventBookingRescheduled = "booking.rescheduled"
	EventBookingDeleted     = "booking.deleted"
)
