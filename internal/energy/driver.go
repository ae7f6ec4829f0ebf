package energy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/fpf-core/internal/action"
	"github.com/nerrad567/fpf-core/internal/notify"
	"github.com/nerrad567/fpf-core/internal/queue"
	"github.com/nerrad567/fpf-core/internal/script"
	"github.com/nerrad567/fpf-core/internal/timeseries"
)

// Action values sent to actuators.
const (
	valueOn  = "On"
	valueOff = "Off"
)

// ActionSource is what the driver needs from the action registry.
type ActionSource interface {
	GetAction(ctx context.Context, id string) (*action.ControllableAction, error)
	ListActionsByClass(ctx context.Context, classID string) ([]action.ControllableAction, error)
	FindActionByName(ctx context.Context, deploymentID, name string) (*action.ControllableAction, error)
	CreateTrigger(ctx context.Context, t *action.Trigger) error
}

// Queue admits and runs the driver's intents.
type Queue interface {
	Enqueue(ctx context.Context, a *action.ControllableAction, t *action.Trigger) (*queue.Entry, bool, error)
	Process(ctx context.Context) queue.Summary
	Get(ctx context.Context, id string) (*queue.Entry, error)
}

// WeatherSource provides the outlook used for solar and wind estimates.
type WeatherSource interface {
	Current(ctx context.Context, deploymentID string) (Weather, error)
}

// EventHub broadcasts energy state to WebSocket clients.
type EventHub interface {
	Broadcast(channel string, payload any)
}

// Logger defines the logging interface used by the driver.
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

// Options configures a Driver. Only Defaults is required.
type Options struct {
	// Defaults apply to deployments with no stored settings.
	Defaults Settings

	Store    timeseries.Store
	Weather  WeatherSource
	Notifier notify.Notifier
	Hub      EventHub
	Logger   Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Driver runs the energy check: it gathers live figures, evaluates, and
// feeds the resulting actions through the queue. It never calls hardware.
//
// Thread Safety: all methods are safe for concurrent use.
type Driver struct {
	repo     Repository
	actions  ActionSource
	queue    Queue
	defaults Settings
	store    timeseries.Store
	weather  WeatherSource
	notifier notify.Notifier
	hub      EventHub
	logger   Logger
	now      func() time.Time

	mu         sync.Mutex
	lastStatus map[string]Status
	// pending holds state changes waiting on their queue entry, keyed by
	// the grid or consumer they apply to.
	pending map[string]stateChange
}

// stateChange is grid or consumer state recorded once its entry succeeds.
type stateChange struct {
	entryID string
	apply   func(ctx context.Context) error
}

// NewDriver creates an energy driver.
func NewDriver(repo Repository, actions ActionSource, q Queue, opts Options) *Driver {
	d := &Driver{
		repo:       repo,
		actions:    actions,
		queue:      q,
		defaults:   opts.Defaults,
		store:      opts.Store,
		weather:    opts.Weather,
		notifier:   opts.Notifier,
		hub:        opts.Hub,
		logger:     opts.Logger,
		now:        opts.Now,
		lastStatus: make(map[string]Status),
		pending:    make(map[string]stateChange),
	}
	if d.store == nil {
		d.store = timeseries.Noop{}
	}
	if d.logger == nil {
		d.logger = noopLogger{}
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Settings returns a deployment's stored settings, or the defaults when
// none are stored.
func (d *Driver) Settings(ctx context.Context, deploymentID string) (*Settings, error) {
	s, err := d.repo.GetSettings(ctx, deploymentID)
	if errors.Is(err, ErrSettingsNotFound) {
		def := d.defaults
		def.DeploymentID = deploymentID
		return &def, nil
	}
	if err != nil {
		return nil, err
	}
	if s.BatteryEntityID == nil && d.defaults.BatteryEntityID != nil {
		id := *d.defaults.BatteryEntityID
		s.BatteryEntityID = &id
	}
	return s, nil
}

// EvaluateEnergyState evaluates a deployment at the given battery level
// without acting on the result.
func (d *Driver) EvaluateEnergyState(ctx context.Context, deploymentID string, batteryLevelWh float64) (*State, error) {
	snap, err := d.snapshot(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	st, err := Evaluate(snap, batteryLevelWh)
	if err != nil {
		return nil, err
	}
	st.EvaluatedAt = d.now().UTC()
	return &st, nil
}

// Check runs one energy check for a deployment.
//
// It performs the following steps:
//  1. Loads settings, consumers and sources, overlaying live readings and
//     weather estimates
//  2. Reads the battery level from the time-series store
//  3. Evaluates the policy ladder and per-consumer thresholds
//  4. Records the state and broadcasts it on the "energy" channel
//  5. Notifies when the status changed
//  6. Admits the grid switch and consumer shutdowns into the queue and runs
//     one pass; state is recorded once each entry succeeds
//
// Returns:
//   - *State: The evaluated state
//   - error: If inputs cannot be loaded or evaluated. Failures of individual
//     actions are logged, not returned
func (d *Driver) Check(ctx context.Context, deploymentID string) (*State, error) {
	snap, err := d.snapshot(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	level, err := d.batteryLevel(ctx, &snap.Settings)
	if err != nil {
		return nil, err
	}
	st, err := Evaluate(snap, level)
	if err != nil {
		return nil, err
	}
	st.EvaluatedAt = d.now().UTC()

	d.record(&st)
	d.notifyStatus(ctx, &st)
	d.execute(ctx, &snap, &st)

	d.logger.Debug("energy check completed",
		"deployment_id", deploymentID,
		"battery_percent", st.BatteryPercent,
		"status", st.Status,
		"decision", st.Decision,
		"shutdown", len(st.Shutdown),
	)
	return &st, nil
}

// ─── Inputs ─────────────────────────────────────────────────────────────────

// snapshot loads settings, consumers and sources, replacing static figures
// with live readings and weather estimates where available.
func (d *Driver) snapshot(ctx context.Context, deploymentID string) (Snapshot, error) {
	settings, err := d.Settings(ctx, deploymentID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("loading energy settings: %w", err)
	}
	consumers, err := d.repo.ListConsumers(ctx, deploymentID)
	if err != nil {
		return Snapshot{}, err
	}
	sources, err := d.repo.ListSources(ctx, deploymentID)
	if err != nil {
		return Snapshot{}, err
	}

	if d.weather != nil {
		w, werr := d.weather.Current(ctx, deploymentID)
		if werr != nil {
			d.logger.Warn("weather unavailable, using static production", "deployment_id", deploymentID, "error", werr)
		} else {
			applyWeather(sources, w, d.now(), settings.Latitude, settings.Longitude)
		}
	}

	d.applyLiveReadings(ctx, consumers, sources)
	return Snapshot{Settings: *settings, Consumers: consumers, Sources: sources}, nil
}

// applyLiveReadings overrides consumption and production with the latest
// readings of entities that have one. Live readings take precedence over
// weather estimates.
func (d *Driver) applyLiveReadings(ctx context.Context, consumers []Consumer, sources []Source) {
	var ids []string
	for _, c := range consumers {
		if c.LiveEntityID != nil {
			ids = append(ids, *c.LiveEntityID)
		}
	}
	for _, s := range sources {
		if s.LiveEntityID != nil {
			ids = append(ids, *s.LiveEntityID)
		}
	}
	if len(ids) == 0 {
		return
	}

	readings, err := d.store.FetchLatest(ctx, ids)
	if err != nil {
		d.logger.Warn("live readings unavailable, using static figures", "error", err)
		return
	}
	for i := range consumers {
		if id := consumers[i].LiveEntityID; id != nil {
			if r, ok := readings[*id]; ok {
				consumers[i].ConsumptionW = r.Value
			}
		}
	}
	for i := range sources {
		if id := sources[i].LiveEntityID; id != nil {
			if r, ok := readings[*id]; ok {
				sources[i].ProductionW = r.Value
			}
		}
	}
}

func (d *Driver) batteryLevel(ctx context.Context, s *Settings) (float64, error) {
	if s.BatteryEntityID == nil || *s.BatteryEntityID == "" {
		return 0, fmt.Errorf("%w: no battery entity configured", ErrNoBatteryReading)
	}
	readings, err := d.store.FetchLatest(ctx, []string{*s.BatteryEntityID})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNoBatteryReading, err)
	}
	r, ok := readings[*s.BatteryEntityID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoBatteryReading, *s.BatteryEntityID)
	}
	return r.Value, nil
}

// ─── Outputs ────────────────────────────────────────────────────────────────

func (d *Driver) record(st *State) {
	setBatteryPercent(st.DeploymentID, st.BatteryPercent)
	countDecision(st.Decision)

	err := d.store.Write(timeseries.EnergyMeasurement,
		map[string]string{"deployment_id": st.DeploymentID},
		map[string]any{
			"battery_wh":      st.BatteryLevelWh,
			"battery_percent": st.BatteryPercent,
			"consumption_w":   st.ConsumptionW,
			"production_w":    st.ProductionW,
			"net_power_w":     st.NetPowerW,
		},
		st.EvaluatedAt,
	)
	if err != nil {
		d.logger.Warn("failed to record energy sample", "deployment_id", st.DeploymentID, "error", err)
	}

	if d.hub != nil {
		d.hub.Broadcast("energy", st)
	}
}

// notifyStatus sends a notification when a deployment's status changes.
// The first status seen is only reported when it is not NORMAL.
func (d *Driver) notifyStatus(ctx context.Context, st *State) {
	d.mu.Lock()
	prev, seen := d.lastStatus[st.DeploymentID]
	d.lastStatus[st.DeploymentID] = st.Status
	d.mu.Unlock()

	if prev == st.Status || (!seen && st.Status == StatusNormal) || d.notifier == nil {
		return
	}

	msg := notify.Message{
		Title: fmt.Sprintf("Battery %s", st.Status),
		Text:  fmt.Sprintf("Battery at %.1f%% (%.0f Wh), decision %s", st.BatteryPercent, st.BatteryLevelWh, st.Decision),
		Level: statusLevel(st.Status),
		Fields: map[string]string{
			"deployment": st.DeploymentID,
			"net_power":  fmt.Sprintf("%.0f W", st.NetPowerW),
		},
		Time: st.EvaluatedAt,
	}
	if seen {
		msg.Fields["previous"] = string(prev)
	}
	if err := d.notifier.Notify(ctx, msg); err != nil {
		d.logger.Warn("failed to send energy notification", "error", err)
	}
}

func statusLevel(s Status) notify.Level {
	switch s {
	case StatusEmergency, StatusCritical:
		return notify.LevelCritical
	case StatusLow, StatusWarning:
		return notify.LevelWarning
	default:
		return notify.LevelInfo
	}
}

// execute turns a decision into queue entries and runs one queue pass when
// anything was admitted. Grid and consumer state is only recorded for
// entries that ended succeeded; see settle.
func (d *Driver) execute(ctx context.Context, snap *Snapshot, st *State) {
	d.settle(ctx)
	admitted := 0

	switch st.Decision {
	case DecisionConnectGrid:
		if d.switchGrid(ctx, snap, true) {
			admitted++
		}
	case DecisionDisconnectGrid:
		if d.switchGrid(ctx, snap, false) {
			admitted++
		}
	}

	for _, target := range st.Shutdown {
		if d.shutdownConsumer(ctx, snap, target) {
			admitted++
		}
	}

	if admitted > 0 {
		d.queue.Process(ctx)
		d.settle(ctx)
	}
}

// settle applies the state changes whose entries ended succeeded and drops
// those that ended any other way. Unfinished entries stay pending so the
// next check neither records nor re-admits them.
func (d *Driver) settle(ctx context.Context) {
	d.mu.Lock()
	changes := make(map[string]stateChange, len(d.pending))
	for key, c := range d.pending {
		changes[key] = c
	}
	d.mu.Unlock()

	for key, c := range changes {
		e, err := d.queue.Get(ctx, c.entryID)
		if errors.Is(err, queue.ErrEntryNotFound) {
			d.forget(key)
			continue
		}
		if err != nil {
			d.logger.Warn("failed to read energy entry", "entry_id", c.entryID, "error", err)
			continue
		}
		if e.EndedAt == nil {
			continue
		}
		d.forget(key)

		if e.Outcome == nil || *e.Outcome != queue.OutcomeSucceeded {
			outcome := "unknown"
			if e.Outcome != nil {
				outcome = string(*e.Outcome)
			}
			d.logger.Warn("energy action did not succeed, state unchanged",
				"target", key, "entry_id", e.ID, "outcome", outcome)
			continue
		}
		if err := c.apply(ctx); err != nil {
			d.logger.Warn("failed to record energy state", "target", key, "error", err)
		}
	}
}

// awaiting reports whether key has an entry still in the queue.
func (d *Driver) awaiting(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

func (d *Driver) track(key string, c stateChange) {
	d.mu.Lock()
	d.pending[key] = c
	d.mu.Unlock()
}

func (d *Driver) forget(key string) {
	d.mu.Lock()
	delete(d.pending, key)
	d.mu.Unlock()
}

// switchGrid admits a grid relay intent unless the grid is already in the
// wanted state or a switch is still queued.
func (d *Driver) switchGrid(ctx context.Context, snap *Snapshot, connect bool) bool {
	var grids []Source
	connected := false
	for _, s := range snap.Sources {
		if s.Type == SourceGrid {
			grids = append(grids, s)
			connected = connected || s.IsConnected
		}
	}
	key := "grid:" + snap.Settings.DeploymentID
	if connected == connect || d.awaiting(key) {
		return false
	}

	a, err := d.gridAction(ctx, snap.Settings.DeploymentID, grids)
	if err != nil {
		d.logger.Warn("no grid action available", "deployment_id", snap.Settings.DeploymentID, "error", err)
		countDispatch("grid", false)
		return false
	}

	value := valueOff
	if connect {
		value = valueOn
	}
	e := d.dispatch(ctx, a, value, "grid")
	if e == nil {
		return false
	}

	d.track(key, stateChange{entryID: e.ID, apply: func(ctx context.Context) error {
		for _, g := range grids {
			if err := d.repo.SetSourceConnected(ctx, g.ID, connect); err != nil {
				return fmt.Errorf("source %s: %w", g.ID, err)
			}
		}
		return nil
	}})
	d.logger.Info("grid switch admitted", "deployment_id", snap.Settings.DeploymentID, "action_id", a.ID, "value", value)
	return true
}

// gridAction resolves the grid source's linked action, else the first
// grid-relay action of the deployment.
func (d *Driver) gridAction(ctx context.Context, deploymentID string, grids []Source) (*action.ControllableAction, error) {
	for _, g := range grids {
		if g.ActionID != nil {
			return d.actions.GetAction(ctx, *g.ActionID)
		}
	}
	relays, err := d.actions.ListActionsByClass(ctx, script.ClassGridRelay)
	if err != nil {
		return nil, err
	}
	for i := range relays {
		if relays[i].DeploymentID == deploymentID {
			return &relays[i], nil
		}
	}
	return nil, action.ErrActionNotFound
}

// shutdownConsumer admits an "Off" intent for the consumer's action, else
// the deployment action carrying the consumer's name.
func (d *Driver) shutdownConsumer(ctx context.Context, snap *Snapshot, target ShutdownTarget) bool {
	var consumer *Consumer
	for i := range snap.Consumers {
		if snap.Consumers[i].ID == target.ConsumerID {
			consumer = &snap.Consumers[i]
			break
		}
	}
	key := "consumer:" + target.ConsumerID
	if consumer == nil || d.awaiting(key) {
		return false
	}

	var a *action.ControllableAction
	var err error
	if consumer.ActionID != nil {
		a, err = d.actions.GetAction(ctx, *consumer.ActionID)
	} else {
		a, err = d.actions.FindActionByName(ctx, consumer.DeploymentID, consumer.Name)
	}
	if err != nil {
		d.logger.Warn("no action for consumer shutdown",
			"consumer_id", consumer.ID, "name", consumer.Name, "error", err)
		countDispatch("consumer", false)
		return false
	}

	e := d.dispatch(ctx, a, valueOff, "consumer")
	if e == nil {
		return false
	}
	consumerID := consumer.ID
	d.track(key, stateChange{entryID: e.ID, apply: func(ctx context.Context) error {
		return d.repo.SetConsumerActive(ctx, consumerID, false)
	}})
	d.logger.Info("consumer shutdown admitted",
		"consumer_id", consumer.ID, "name", consumer.Name, "priority", consumer.Priority, "reason", target.Reason)
	return true
}

// dispatch creates a synthetic manual trigger and admits it into the queue,
// returning the entry or nil on failure. The trigger is stored inactive so
// it never fires on its own.
func (d *Driver) dispatch(ctx context.Context, a *action.ControllableAction, value, kind string) *queue.Entry {
	t := &action.Trigger{
		ActionID:    a.ID,
		Type:        action.TriggerManual,
		ActionValue: value,
		Logic:       json.RawMessage(`{}`),
		IsActive:    false,
		Origin:      action.OriginEnergy,
	}
	if err := d.actions.CreateTrigger(ctx, t); err != nil {
		d.logger.Error("failed to create energy trigger", "action_id", a.ID, "error", err)
		countDispatch(kind, false)
		return nil
	}
	e, _, err := d.queue.Enqueue(ctx, a, t)
	if err != nil {
		d.logger.Error("failed to enqueue energy action", "action_id", a.ID, "trigger_id", t.ID, "error", err)
		countDispatch(kind, false)
		return nil
	}
	countDispatch(kind, true)
	return e
}
