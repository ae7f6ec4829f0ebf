package trigger

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Interval fires on every tick of a recurring job. The tick is the trigger,
// so ShouldTrigger is true whenever the logic is valid.
type Interval struct {
	Delay time.Duration
	err   error
}

type intervalLogic struct {
	Delay float64 `json:"delay"`
}

func newInterval(raw json.RawMessage) *Interval {
	var l intervalLogic
	if err := json.Unmarshal(raw, &l); err != nil {
		return &Interval{err: fmt.Errorf("parsing interval logic: %w", err)}
	}
	if l.Delay <= 0 {
		return &Interval{err: errors.New("delay must be positive")}
	}
	return &Interval{Delay: time.Duration(l.Delay * float64(time.Second))}
}

// Err reports a logic parse failure.
func (h *Interval) Err() error { return h.err }

// ShouldTrigger implements Handler.
func (h *Interval) ShouldTrigger(Context) bool { return h.err == nil }

// Period returns the tick period: the trigger delay plus extra, the owning
// action's maximum duration. Zero means the trigger cannot be scheduled.
func (h *Interval) Period(extra time.Duration) time.Duration {
	if h.err != nil {
		return 0
	}
	return h.Delay + extra
}
