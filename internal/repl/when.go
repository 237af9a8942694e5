package repl

import (
	"fmt"
	"strings"
	"time"
)

// ParseWhen turns a user-entered time into an absolute instant.
// Accepted forms: "+15m", "in 2h30m", "15:04" (today, or tomorrow if
// already past), "2006-01-02 15:04" in now's zone, and RFC3339.
func ParseWhen(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time is required")
	}

	lower := strings.ToLower(s)
	if rest, ok := strings.CutPrefix(lower, "+"); ok {
		return afterDuration(rest, now)
	}
	if rest, ok := strings.CutPrefix(lower, "in "); ok {
		return afterDuration(strings.ReplaceAll(rest, " ", ""), now)
	}

	if t, err := time.ParseInLocation("15:04", s, now.Location()); err == nil {
		at := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		return at, nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04", s, now.Location()); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("unrecognised time %q (use +15m, in 2h, 15:04, 2006-01-02 15:04 or RFC3339)", s)
}

func afterDuration(s string, now time.Time) (time.Time, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d <= 0 {
		return time.Time{}, fmt.Errorf("duration must be positive")
	}
	return now.Add(d), nil
}
