package entity

import "time"

// Rate limit purposes.
const (
	PurposeBooking = "booking"
	PurposeSMS     = "sms"
	PurposeStatus  = "status"
	PurposeAuth    = "auth"
)

type RateDecision struct {
	Allowed    bool          `json:"allowed"`
	Limit      int64         `json:"limit"`
	Remaining  int64         `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"-"`
}

// RetryAfterSeconds rounds up so clients never retry early.
func (d RateDecision) RetryAfterSeconds() int64 {
	if d.RetryAfter <= 0 {
		return 0
	}
	secs := int64(d.RetryAfter / time.Second)
	if d.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}
