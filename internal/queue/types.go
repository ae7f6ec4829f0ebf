package queue

import (
	"time"

	"github.com/nerrad567/fpf-core/internal/action"
)

// Status is the lifecycle state of an entry. It is derived from the
// StartedAt/EndedAt columns and never stored.
type Status string

// Entry statuses.
const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusEnded   Status = "ended"
)

// Outcome records how an entry ended.
type Outcome string

// Entry outcomes.
const (
	OutcomeSucceeded  Outcome = "succeeded"
	OutcomeFailed     Outcome = "failed"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeSuperseded Outcome = "superseded"
)

// Entry is one admitted intent to run an action. An entry with a nil
// EndedAt is unfinished and counts against its hardware unit.
type Entry struct {
	ID         string     `json:"id"`
	ActionID   string     `json:"action_id"`
	TriggerID  string     `json:"action_trigger_id"`
	HardwareID string     `json:"hardware_id"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Outcome    *Outcome   `json:"outcome,omitempty"`
	Error      *string    `json:"error,omitempty"`

	// Read from the owning trigger.
	TriggerType action.TriggerType `json:"trigger_type"`
	ActionValue string             `json:"action_value"`
}

// Status derives the lifecycle state from the timestamps.
func (e *Entry) Status() Status {
	switch {
	case e.EndedAt != nil:
		return StatusEnded
	case e.StartedAt != nil:
		return StatusRunning
	default:
		return StatusPending
	}
}

// IsManual reports whether the entry was created by a manual trigger.
func (e *Entry) IsManual() bool {
	return e.TriggerType == action.TriggerManual
}

// ListFilter narrows List results. Zero values disable a filter.
type ListFilter struct {
	ActionID       string
	HardwareID     string
	UnfinishedOnly bool
	Limit          int
}

// Summary reports what one Process call did.
type Summary struct {
	Started   int `json:"started"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Blocked   int `json:"blocked"`
	// Coalesced is true when the call joined a pass already in progress.
	Coalesced bool `json:"coalesced"`
}

func (s *Summary) add(o Summary) {
	s.Started += o.Started
	s.Succeeded += o.Succeeded
	s.Failed += o.Failed
	s.Skipped += o.Skipped
	s.Blocked += o.Blocked
}
