package forecast

import "time"

// PlanEntry is one step of an action plan.
type PlanEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Value     string    `json:"value"`
}

// SoCPoint is one point of a predicted battery state-of-charge curve.
type SoCPoint struct {
	Timestamp time.Time `json:"timestamp"`
	LevelWh   float64   `json:"level_wh"`
}

// PlanResult reports what ScheduleActionPlan did.
type PlanResult struct {
	Created    int        `json:"created"`
	Duplicates int        `json:"duplicates"`
	Past       int        `json:"past"`
	NextFire   *time.Time `json:"next_fire,omitempty"`
}
