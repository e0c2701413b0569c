package appointment

import (
	"encoding/json"
	"fmt"
	"time"
)

const minutesPerDay = 24 * 60

// TimeOfDay is a minute offset from midnight.
type TimeOfDay int

// ParseTimeOfDay accepts "HH:MM" (24h clock).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: expected HH:MM", s)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Interval is the half-open range [Start, Start+Duration) in minutes within a
// single calendar day.
type Interval struct {
	Start    TimeOfDay
	Duration int
}

func (i Interval) End() int {
	return int(i.Start) + i.Duration
}

// Validate rejects intervals that are empty or do not fit inside one day.
// End() is never wrapped past midnight; an interval ending after 24:00 is an
// error, not the next morning.
func (i Interval) Validate() error {
	if i.Start < 0 || int(i.Start) >= minutesPerDay {
		return fmt.Errorf("start %d is outside the day", i.Start)
	}
	if i.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %d", i.Duration)
	}
	if i.End() > minutesPerDay {
		return fmt.Errorf("interval %s+%dm ends after 24:00", i.Start, i.Duration)
	}
	return nil
}

func (i Interval) String() string {
	return fmt.Sprintf("[%s, %s)", i.Start, TimeOfDay(i.End()))
}

// Overlaps reports whether a and b share an instant. Back-to-back intervals
// (one ends exactly when the other starts) do not overlap.
func Overlaps(a, b Interval) bool {
	return int(a.Start) < b.End() && int(b.Start) < a.End()
}
