package entity

import "time"

type MessageCategory string

const (
	CategoryConfirmation MessageCategory = "confirmation"
	CategoryReminder24h  MessageCategory = "reminder24h"
	CategoryReminder2h   MessageCategory = "reminder2h"
	CategoryAdminAlert   MessageCategory = "adminAlert"
)

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Attempt is one dispatch try of one SMS. Retries append a new Attempt;
// only delivery reconciliation mutates an existing one.
type Attempt struct {
	ID                string          `json:"id"`
	BookingID         string          `json:"booking_id,omitempty"`
	Phone             string          `json:"phone"`
	Category          MessageCategory `json:"category"`
	Status            DeliveryStatus  `json:"status"`
	ProviderMessageID *string         `json:"provider_message_id"`
	Cost              *float64        `json:"cost"`
	Error             *string         `json:"error"`
	HTTPStatus        *int            `json:"http_status,omitempty"`
	Message           string          `json:"message"`
	RetryOf           string          `json:"retry_of,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	SentAt            *time.Time      `json:"sent_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// DispatchResult is what a single provider send produced. It never carries a Go error.
type DispatchResult struct {
	Success           bool   `json:"success"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	ErrorText         string `json:"error,omitempty"`
	HTTPStatus        int    `json:"http_status,omitempty"`
	AttemptID         string `json:"attempt_id,omitempty"`
}

// AttemptFilter narrows an attempt search. Zero fields are ignored.
type AttemptFilter struct {
	BookingID string
	Phone     string
	Status    DeliveryStatus
	From      time.Time
	To        time.Time
	Limit     int
}

// StatusResult is the per-id outcome of a batch status refresh.
type StatusResult struct {
	Status DeliveryStatus `json:"status,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// ReminderKind is a reminder lead time paired with its booking flag.
type ReminderKind string

const (
	Reminder24h ReminderKind = "reminder24h"
	Reminder2h  ReminderKind = "reminder2h"
)

// ReminderKinds lists every kind the sweep evaluates.
var ReminderKinds = []ReminderKind{Reminder24h, Reminder2h}

func (k ReminderKind) LeadTime() time.Duration {
	switch k {
	case Reminder24h:
		return 24 * time.Hour
	case Reminder2h:
		return 2 * time.Hour
	}
	return 0
}

func (k ReminderKind) Category() MessageCategory {
	return MessageCategory(k)
}

// ReminderKindFor maps an attempt category back to a reminder kind.
func ReminderKindFor(c MessageCategory) (ReminderKind, bool) {
	switch c {
	case CategoryReminder24h:
		return Reminder24h, true
	case CategoryReminder2h:
		return Reminder2h, true
	}
	return "", false
}

type SweepItem struct {
	BookingID string          `json:"booking_id"`
	Kind      ReminderKind    `json:"kind"`
	Skipped   bool            `json:"skipped,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Result    *DispatchResult `json:"result,omitempty"`
}

// SweepReport summarises one reminder sweep run.
type SweepReport struct {
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Checked    int         `json:"checked"`
	Due        int         `json:"due"`
	Sent       int         `json:"sent"`
	Failed     int         `json:"failed"`
	Skipped    int         `json:"skipped"`
	Items      []SweepItem `json:"items"`
}

// ReconcileReport summarises one delivery reconciliation run.
type ReconcileReport struct {
	Checked  int `json:"checked"`
	Updated  int `json:"updated"`
	NotFound int `json:"not_found"`
	Errors   int `json:"errors"`
}
