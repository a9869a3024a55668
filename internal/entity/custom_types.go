package entity

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const (
	DateLayout = "2006-01-02"
	SlotLayout = "15:04"
)

var slotPattern = regexp.MustCompile(`^([01]\d|2[0-3]):00$`)

// ParseDate parses a calendar date in YYYY-MM-DD form.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// ParseSlot returns the hour of an HH:00 slot.
func ParseSlot(s string) (int, error) {
	if !slotPattern.MatchString(s) {
		return 0, fmt.Errorf("slot %q is not HH:00", s)
	}
	return strconv.Atoi(s[:2])
}

func FormatSlot(hour int) string {
	return fmt.Sprintf("%02d:00", hour)
}
