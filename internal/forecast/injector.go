package forecast

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/fpf-core/internal/action"
	"github.com/nerrad567/fpf-core/internal/energy"
	"github.com/nerrad567/fpf-core/internal/queue"
	"github.com/nerrad567/fpf-core/internal/trigger"
)

// pastDueDelay is how far ahead a shutdown whose adjusted time has already
// passed is scheduled.
const pastDueDelay = 5 * time.Second

const (
	actionKeyPrefix   = "forecast:action:"
	consumerKeyPrefix = "forecast:consumer:"
	shutdownValue     = "Off"
	hoursPerDay       = 24
)

// ActionSource is what the injector needs from the action registry.
type ActionSource interface {
	GetAction(ctx context.Context, id string) (*action.ControllableAction, error)
	GetTrigger(ctx context.Context, id string) (*action.Trigger, error)
	ListTriggers(ctx context.Context, actionID string) ([]action.Trigger, error)
	ListActiveTriggersByType(ctx context.Context, t action.TriggerType) ([]action.Trigger, error)
	FindActionByName(ctx context.Context, deploymentID, name string) (*action.ControllableAction, error)
	CreateTrigger(ctx context.Context, t *action.Trigger) error
	ClaimTrigger(ctx context.Context, id string) (bool, error)
}

// Queue admits and runs fired forecast triggers.
type Queue interface {
	Enqueue(ctx context.Context, a *action.ControllableAction, t *action.Trigger) (*queue.Entry, bool, error)
	Process(ctx context.Context) queue.Summary
}

// Consumers gives access to energy consumers and their deployment settings.
type Consumers interface {
	GetConsumer(ctx context.Context, id string) (*energy.Consumer, error)
	SetConsumerActive(ctx context.Context, id string, active bool) error
}

// SettingsSource resolves a deployment's energy settings.
type SettingsSource interface {
	Settings(ctx context.Context, deploymentID string) (*energy.Settings, error)
}

// Timers runs keyed one-shot callbacks.
type Timers interface {
	Schedule(key string, at time.Time, fn func(ctx context.Context))
	Cancel(key string) bool
}

// Logger defines the logging interface used by the injector.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures an Injector. Zero values are valid.
type Options struct {
	Logger Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Injector schedules forecast-driven queue entries.
//
// Thread Safety: all methods are safe for concurrent use. Scheduling for one
// action or consumer is serialised.
type Injector struct {
	actions   ActionSource
	queue     Queue
	consumers Consumers
	settings  SettingsSource
	timers    Timers
	logger    Logger
	now       func() time.Time

	mu sync.Mutex
}

// NewInjector creates a forecast injector.
func NewInjector(actions ActionSource, q Queue, consumers Consumers, settings SettingsSource, timers Timers, opts Options) *Injector {
	inj := &Injector{
		actions:   actions,
		queue:     q,
		consumers: consumers,
		settings:  settings,
		timers:    timers,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if inj.logger == nil {
		inj.logger = noopLogger{}
	}
	if inj.now == nil {
		inj.now = time.Now
	}
	return inj
}

// ─── Action Plans ───────────────────────────────────────────────────────────

// ScheduleActionPlan stores a plan for an action and arms its chain.
//
// It performs the following steps:
//  1. Resolves the action (ErrActionNotFound if missing)
//  2. Collects the action's active plan triggers to detect duplicates
//  3. Skips entries at or before now, and entries with the same timestamp
//     and value as an active plan trigger
//  4. Stores each remaining entry as an active forecast trigger
//  5. Arms a timer for the earliest active plan trigger; it relinks to the
//     next one after firing
//
// The call is safe to repeat with the same plan.
//
// Parameters:
//   - actionID: The action the plan drives
//   - entries: Timestamped action values, in any order
//
// Returns:
//   - *PlanResult: Created, duplicate and past counts plus the next fire
//     time; partially filled when a later step fails
//   - error: If the action is unknown or a trigger cannot be stored
func (inj *Injector) ScheduleActionPlan(ctx context.Context, actionID string, entries []PlanEntry) (*PlanResult, error) {
	a, err := inj.actions.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}

	inj.mu.Lock()
	defer inj.mu.Unlock()

	active, err := inj.activePlan(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(active))
	for _, p := range active {
		seen[planKey(p.at, p.trigger.ActionValue)] = true
	}

	now := inj.now()
	res := &PlanResult{}
	for _, e := range entries {
		if !e.Timestamp.After(now) {
			res.Past++
			continue
		}
		key := planKey(e.Timestamp, e.Value)
		if seen[key] {
			res.Duplicates++
			continue
		}
		t := &action.Trigger{
			ActionID:    a.ID,
			Type:        action.TriggerForecast,
			ActionValue: e.Value,
			Logic:       trigger.ForecastLogic{Timestamp: e.Timestamp, Kind: trigger.KindPlan}.Marshal(),
			IsActive:    true,
			Origin:      action.OriginForecast,
		}
		if err := inj.actions.CreateTrigger(ctx, t); err != nil {
			return res, fmt.Errorf("creating plan trigger: %w", err)
		}
		seen[key] = true
		res.Created++
	}

	next, err := inj.arm(ctx, a.ID)
	if err != nil {
		return res, err
	}
	res.NextFire = next

	inj.logger.Info("action plan scheduled",
		"action_id", a.ID, "created", res.Created, "duplicates", res.Duplicates, "past", res.Past)
	return res, nil
}

type planTrigger struct {
	trigger action.Trigger
	at      time.Time
}

// activePlan returns an action's active plan triggers in timestamp order.
func (inj *Injector) activePlan(ctx context.Context, actionID string) ([]planTrigger, error) {
	triggers, err := inj.actions.ListTriggers(ctx, actionID)
	if err != nil {
		return nil, err
	}
	var out []planTrigger
	for _, t := range triggers {
		if !t.IsActive || t.Type != action.TriggerForecast {
			continue
		}
		logic, err := trigger.ParseForecastLogic(t.Logic)
		if err != nil || logic.Kind != trigger.KindPlan {
			continue
		}
		out = append(out, planTrigger{trigger: t, at: logic.Timestamp})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].at.Equal(out[j].at) {
			return out[i].at.Before(out[j].at)
		}
		return out[i].trigger.ID < out[j].trigger.ID
	})
	return out, nil
}

// arm schedules the action's timer at its next plan trigger. Of the plan
// triggers already due, only the latest is kept and fired; the older ones
// are deactivated. Callers hold inj.mu.
func (inj *Injector) arm(ctx context.Context, actionID string) (*time.Time, error) {
	plan, err := inj.activePlan(ctx, actionID)
	if err != nil {
		return nil, err
	}

	now := inj.now()
	due := 0
	for due < len(plan) && !plan[due].at.After(now) {
		due++
	}
	for _, p := range plan[:max(due-1, 0)] {
		inj.deactivate(ctx, p.trigger.ID, "superseded by a later due plan entry")
	}

	key := actionKeyPrefix + actionID
	if len(plan) == 0 {
		inj.timers.Cancel(key)
		return nil, nil
	}

	next := plan[max(due-1, 0)]
	triggerID := next.trigger.ID
	inj.timers.Schedule(key, next.at, func(ctx context.Context) {
		inj.firePlan(ctx, actionID, triggerID)
	})
	inj.logger.Debug("plan timer armed", "action_id", actionID, "trigger_id", triggerID, "at", next.at)
	at := next.at
	return &at, nil
}

// firePlan runs one plan trigger and relinks the chain to the next one.
func (inj *Injector) firePlan(ctx context.Context, actionID, triggerID string) {
	t, err := inj.actions.GetTrigger(ctx, triggerID)
	if err != nil {
		inj.logger.Warn("plan trigger vanished", "trigger_id", triggerID, "error", err)
		inj.relink(ctx, actionID, time.Time{})
		return
	}
	logic, err := trigger.ParseForecastLogic(t.Logic)
	if err != nil {
		inj.logger.Error("invalid plan trigger logic", "trigger_id", triggerID, "error", err)
		return
	}

	inj.run(ctx, t)
	inj.relink(ctx, actionID, logic.Timestamp)
}

// relink deactivates plan triggers at or before fired and arms the next one.
func (inj *Injector) relink(ctx context.Context, actionID string, fired time.Time) {
	inj.mu.Lock()
	defer inj.mu.Unlock()

	plan, err := inj.activePlan(ctx, actionID)
	if err != nil {
		inj.logger.Error("failed to load plan", "action_id", actionID, "error", err)
		return
	}
	for _, p := range plan {
		if !p.at.After(fired) {
			inj.deactivate(ctx, p.trigger.ID, "stale plan entry")
		}
	}
	next, err := inj.arm(ctx, actionID)
	if err != nil {
		inj.logger.Error("failed to arm plan", "action_id", actionID, "error", err)
		return
	}
	if next == nil {
		inj.logger.Debug("plan chain finished", "action_id", actionID)
	}
}

// ─── Threshold Shutdowns ────────────────────────────────────────────────────

// ScheduleThresholdShutdown finds the first point of the curve at or below
// the consumer's forecast shutdown threshold and schedules a shutdown
// forecastBufferDays before it. It returns nil when no point breaches the
// threshold.
func (inj *Injector) ScheduleThresholdShutdown(ctx context.Context, consumerID string, curve []SoCPoint) (*action.Trigger, error) {
	c, err := inj.consumers.GetConsumer(ctx, consumerID)
	if err != nil {
		return nil, err
	}
	if c.ForecastShutdownThreshold == nil {
		return nil, ErrNoThreshold
	}
	settings, err := inj.settings.Settings(ctx, c.DeploymentID)
	if err != nil {
		return nil, err
	}
	if settings.BatteryMaxWh <= 0 {
		return nil, fmt.Errorf("%w: battery_max_wh must be positive", energy.ErrInvalidSettings)
	}

	inj.mu.Lock()
	defer inj.mu.Unlock()

	live, err := inj.consumerTriggers(ctx, consumerID)
	if err != nil {
		return nil, err
	}
	if len(live) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyScheduled, consumerID)
	}

	points := append([]SoCPoint(nil), curve...)
	sort.SliceStable(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })

	var breach *SoCPoint
	for i := range points {
		if points[i].LevelWh/settings.BatteryMaxWh*100 <= *c.ForecastShutdownThreshold {
			breach = &points[i]
			break
		}
	}
	if breach == nil {
		return nil, nil
	}

	at := breach.Timestamp.Add(-time.Duration(c.ForecastBufferDays) * hoursPerDay * time.Hour)
	if now := inj.now(); !at.After(now) {
		at = now.Add(pastDueDelay)
	}

	a, err := inj.consumerAction(ctx, c)
	if err != nil {
		return nil, err
	}

	t := &action.Trigger{
		ActionID:    a.ID,
		Type:        action.TriggerForecast,
		ActionValue: shutdownValue,
		Logic: trigger.ForecastLogic{
			Timestamp:  at,
			ConsumerID: consumerID,
			Kind:       trigger.KindThresholdShutdown,
		}.Marshal(),
		IsActive: true,
		Origin:   action.OriginForecast,
	}
	if err := inj.actions.CreateTrigger(ctx, t); err != nil {
		return nil, fmt.Errorf("creating shutdown trigger: %w", err)
	}
	inj.armShutdown(t.ID, consumerID, at)

	inj.logger.Info("forecast shutdown scheduled",
		"consumer_id", consumerID, "action_id", a.ID, "breach_at", breach.Timestamp, "at", at)
	return t, nil
}

func (inj *Injector) consumerAction(ctx context.Context, c *energy.Consumer) (*action.ControllableAction, error) {
	if c.ActionID != nil {
		a, err := inj.actions.GetAction(ctx, *c.ActionID)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, action.ErrActionNotFound) {
			return nil, err
		}
	}
	a, err := inj.actions.FindActionByName(ctx, c.DeploymentID, c.Name)
	if errors.Is(err, action.ErrActionNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoConsumerAction, c.ID)
	}
	return a, err
}

func (inj *Injector) armShutdown(triggerID, consumerID string, at time.Time) {
	inj.timers.Schedule(consumerKeyPrefix+consumerID, at, func(ctx context.Context) {
		inj.fireShutdown(ctx, triggerID, consumerID)
	})
}

func (inj *Injector) fireShutdown(ctx context.Context, triggerID, consumerID string) {
	t, err := inj.actions.GetTrigger(ctx, triggerID)
	if err != nil {
		inj.logger.Warn("shutdown trigger vanished", "trigger_id", triggerID, "error", err)
		return
	}
	if !inj.run(ctx, t) {
		return
	}
	if err := inj.consumers.SetConsumerActive(ctx, consumerID, false); err != nil {
		inj.logger.Warn("failed to record consumer state", "consumer_id", consumerID, "error", err)
	}
}

// consumerTriggers returns the active forecast triggers referencing a
// consumer.
func (inj *Injector) consumerTriggers(ctx context.Context, consumerID string) ([]action.Trigger, error) {
	triggers, err := inj.actions.ListActiveTriggersByType(ctx, action.TriggerForecast)
	if err != nil {
		return nil, err
	}
	var out []action.Trigger
	for _, t := range triggers {
		logic, err := trigger.ParseForecastLogic(t.Logic)
		if err == nil && logic.ConsumerID == consumerID {
			out = append(out, t)
		}
	}
	return out, nil
}

// CancelConsumer deactivates every active forecast trigger referencing the
// consumer and removes its timer.
func (inj *Injector) CancelConsumer(ctx context.Context, consumerID string) (int, error) {
	inj.mu.Lock()
	defer inj.mu.Unlock()

	inj.timers.Cancel(consumerKeyPrefix + consumerID)

	live, err := inj.consumerTriggers(ctx, consumerID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range live {
		if inj.deactivate(ctx, t.ID, "consumer cancelled") {
			n++
		}
	}
	if n > 0 {
		inj.logger.Info("forecast triggers cancelled", "consumer_id", consumerID, "count", n)
	}
	return n, nil
}

// ─── Shared ─────────────────────────────────────────────────────────────────

// Reload re-arms timers for every active forecast trigger. It is called on
// startup, when no timers exist yet.
func (inj *Injector) Reload(ctx context.Context) (int, error) {
	triggers, err := inj.actions.ListActiveTriggersByType(ctx, action.TriggerForecast)
	if err != nil {
		return 0, err
	}

	inj.mu.Lock()
	defer inj.mu.Unlock()

	armed := 0
	planActions := make(map[string]bool)
	for _, t := range triggers {
		logic, err := trigger.ParseForecastLogic(t.Logic)
		if err != nil {
			inj.logger.Warn("skipping forecast trigger with invalid logic", "trigger_id", t.ID, "error", err)
			continue
		}
		switch logic.Kind {
		case trigger.KindPlan:
			planActions[t.ActionID] = true
		case trigger.KindThresholdShutdown:
			inj.armShutdown(t.ID, logic.ConsumerID, logic.Timestamp)
			armed++
		}
	}
	for actionID := range planActions {
		next, err := inj.arm(ctx, actionID)
		if err != nil {
			inj.logger.Error("failed to arm plan", "action_id", actionID, "error", err)
			continue
		}
		if next != nil {
			armed++
		}
	}

	inj.logger.Info("forecast timers reloaded", "armed", armed)
	return armed, nil
}

// run claims a trigger and, when the claim succeeds, admits it and runs a
// queue pass. It reports whether the trigger was admitted.
func (inj *Injector) run(ctx context.Context, t *action.Trigger) bool {
	claimed, err := inj.actions.ClaimTrigger(ctx, t.ID)
	if err != nil {
		inj.logger.Error("failed to claim forecast trigger", "trigger_id", t.ID, "error", err)
		return false
	}
	if !claimed {
		inj.logger.Debug("forecast trigger already claimed or cancelled", "trigger_id", t.ID)
		return false
	}

	a, err := inj.actions.GetAction(ctx, t.ActionID)
	if err != nil {
		inj.logger.Warn("forecast action vanished", "trigger_id", t.ID, "action_id", t.ActionID, "error", err)
		return false
	}
	if _, _, err := inj.queue.Enqueue(ctx, a, t); err != nil {
		inj.logger.Error("failed to enqueue forecast trigger", "trigger_id", t.ID, "error", err)
		return false
	}
	inj.queue.Process(ctx)
	inj.logger.Info("forecast trigger fired", "trigger_id", t.ID, "action_id", a.ID, "value", t.ActionValue)
	return true
}

// deactivate soft-deletes a trigger and reports whether it changed.
func (inj *Injector) deactivate(ctx context.Context, triggerID, reason string) bool {
	claimed, err := inj.actions.ClaimTrigger(ctx, triggerID)
	if err != nil {
		inj.logger.Warn("failed to deactivate forecast trigger", "trigger_id", triggerID, "error", err)
		return false
	}
	if claimed {
		inj.logger.Debug("forecast trigger deactivated", "trigger_id", triggerID, "reason", reason)
	}
	return claimed
}

func planKey(at time.Time, value string) string {
	return at.UTC().Format(time.RFC3339Nano) + "|" + value
}
