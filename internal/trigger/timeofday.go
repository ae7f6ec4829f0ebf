package trigger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const secondsPerDay = 24 * 60 * 60

// TimeOfDay fires while the wall clock is inside [From, To). A window with
// From after To wraps past midnight. From equal to To covers the whole day.
type TimeOfDay struct {
	From time.Duration
	To   time.Duration
	err  error
}

type timeOfDayLogic struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func newTimeOfDay(raw json.RawMessage) *TimeOfDay {
	var l timeOfDayLogic
	if err := json.Unmarshal(raw, &l); err != nil {
		return &TimeOfDay{err: fmt.Errorf("parsing timeOfDay logic: %w", err)}
	}
	from, err := ParseClock(l.From)
	if err != nil {
		return &TimeOfDay{err: fmt.Errorf("from: %w", err)}
	}
	to, err := ParseClock(l.To)
	if err != nil {
		return &TimeOfDay{err: fmt.Errorf("to: %w", err)}
	}
	return &TimeOfDay{From: from, To: to}
}

// Err reports a logic parse failure.
func (h *TimeOfDay) Err() error { return h.err }

// ShouldTrigger implements Handler.
func (h *TimeOfDay) ShouldTrigger(c Context) bool {
	if h.err != nil {
		return false
	}
	return h.contains(sinceMidnight(c.Now))
}

func (h *TimeOfDay) contains(t time.Duration) bool {
	switch {
	case h.From == h.To:
		return true
	case h.From < h.To:
		return t >= h.From && t < h.To
	default:
		return t >= h.From || t < h.To
	}
}

// WindowStart returns the start of the window occurrence containing now, or
// the zero time when now is outside the window. The scheduler uses it to
// fire once per occurrence.
func (h *TimeOfDay) WindowStart(now time.Time) time.Time {
	if !h.ShouldTrigger(Context{Now: now}) {
		return time.Time{}
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	start := midnight.Add(h.From)
	if start.After(now) {
		// Wrapped window entered yesterday.
		start = start.AddDate(0, 0, -1)
	}
	return start
}

// ParseClock parses "HH:MM" or "HH:MM:SS" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	layouts := []string{"15:04", "15:04:05"}
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q (want HH:MM)", s)
}

func sinceMidnight(t time.Time) time.Duration {
	d := time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
	return d % (secondsPerDay * time.Second)
}
