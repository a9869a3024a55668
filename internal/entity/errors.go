package entity

import (
	"errors"
	"strings"
)

var (
	// Booking errors
	ErrBookingNotFound         = errors.New("booking not found")
	ErrSlotTaken               = errors.New("slot is already booked")
	ErrInvalidStatusTransition = errors.New("invalid booking status transition")
	ErrConcurrentUpdate        = errors.New("booking was changed concurrently, try again")

	// Notification errors
	ErrAttemptNotFound     = errors.New("sms attempt not found")
	ErrNotRetryable        = errors.New("sms attempt is not retryable")
	ErrMessageNotFound     = errors.New("provider has no record of message")
	ErrProviderUnavailable = errors.New("sms provider unavailable")

	// General errors
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized access")
	ErrAuthBlocked  = errors.New("too many failed authentication attempts")
)

// Validation codes reported per field.
const (
	CodeMissingField      = "MISSING_FIELD"
	CodeInvalidDate       = "INVALID_DATE"
	CodeInvalidSlotFormat = "INVALID_SLOT_FORMAT"
	CodeInvalidEmail      = "INVALID_EMAIL"
	CodeInvalidPhone      = "INVALID_PHONE"
	CodeSlotOutOfRange    = "SLOT_OUT_OF_RANGE"
	CodeSlotInPast        = "SLOT_IN_PAST"
)

type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationError carries every field problem found in one request.
type ValidationError struct {
	Fields []FieldError `json:"details"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Code)
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func (e *ValidationError) Add(field, code, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Code: code, Message: message})
}

// Err returns nil when nothing was added.
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// HasCode reports whether any field failed with code.
func (e *ValidationError) HasCode(code string) bool {
	for _, f := range e.Fields {
		if f.Code == code {
			return true
		}
	}
	return false
}
