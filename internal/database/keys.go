package database

import "fmt"

// Logical key layout shared by both backends.
const (
	KeyAllBookings = "bookings:all"
	KeyAllAttempts = "sms:all"
)

func BookingKey(id string) string           { return "booking:" + id }
func BookingDateKey(date string) string     { return "bookings:date:" + date }
func SlotKey(date, slot string) string      { return fmt.Sprintf("slot:%s:%s", date, slot) }
func AttemptKey(id string) string           { return "sms:attempt:" + id }
func AttemptBookingKey(id string) string    { return "sms:booking:" + id }
func AttemptProviderKey(sid string) string  { return "sms:provider:" + sid }
func AttemptStatusKey(status string) string { return "sms:status:" + status }
func AttemptPhoneKey(phone string) string   { return "sms:phone:" + phone }
func AttemptDateKey(date string) string     { return "sms:date:" + date }

func ReminderLockKey(bookingID, kind string) string {
	return fmt.Sprintf("reminder:lock:%s:%s", bookingID, kind)
}

func RateLimitKey(purpose, identity string) string {
	return fmt.Sprintf("ratelimit:%s:%s", purpose, identity)
}
func AuthFailuresKey(identity string) string { return "ratelimit:auth-failures:" + identity }
func AuthBlockKey(identity string) string    { return "ratelimit:auth-block:" + identity }
