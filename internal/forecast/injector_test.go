package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fpf-core/internal/action"
	"github.com/nerrad567/fpf-core/internal/energy"
	"github.com/nerrad567/fpf-core/internal/infrastructure/database/dbtest"
	"github.com/nerrad567/fpf-core/internal/queue"
	"github.com/nerrad567/fpf-core/internal/trigger"
)

// ─── Test Fixtures ──────────────────────────────────────────────────────────

var now = time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)

type job struct {
	at time.Time
	fn func(ctx context.Context)
}

// fakeTimers records scheduled callbacks; tests fire them by hand.
type fakeTimers struct {
	mu   sync.Mutex
	jobs map[string]job
}

func newFakeTimers() *fakeTimers { return &fakeTimers{jobs: make(map[string]job)} }

func (f *fakeTimers) Schedule(key string, at time.Time, fn func(ctx context.Context)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[key] = job{at: at, fn: fn}
}

func (f *fakeTimers) Cancel(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[key]
	delete(f.jobs, key)
	return ok
}

func (f *fakeTimers) next(key string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[key]
	return j.at, ok
}

// take removes a job so the callback can re-arm the same key.
func (f *fakeTimers) take(t *testing.T, key string) job {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[key]
	if !ok {
		t.Fatalf("no timer for %s", key)
	}
	delete(f.jobs, key)
	return j
}

func (f *fakeTimers) fire(t *testing.T, key string) {
	t.Helper()
	f.take(t, key).fn(context.Background())
}

type fakeQueue struct {
	mu       sync.Mutex
	triggers []action.Trigger
	passes   int
}

func (q *fakeQueue) Enqueue(_ context.Context, a *action.ControllableAction, t *action.Trigger) (*queue.Entry, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.triggers = append(q.triggers, *t)
	return &queue.Entry{ActionID: a.ID, TriggerID: t.ID}, true, nil
}

func (q *fakeQueue) Process(context.Context) queue.Summary {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.passes++
	return queue.Summary{}
}

func (q *fakeQueue) values() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.triggers))
	for _, t := range q.triggers {
		out = append(out, t.ActionValue)
	}
	return out
}

type fixedSettings struct{ s energy.Settings }

func (f fixedSettings) Settings(_ context.Context, deploymentID string) (*energy.Settings, error) {
	s := f.s
	s.DeploymentID = deploymentID
	return &s, nil
}

type fixture struct {
	inj       *Injector
	actions   *action.Registry
	consumers *energy.SQLiteRepository
	queue     *fakeQueue
	timers    *fakeTimers
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	ctx := context.Background()

	actions := action.NewRegistry(action.NewSQLiteRepository(db.DB))
	actions.SetLogicValidator(trigger.Validate)
	if err := actions.CreateHardware(ctx, &action.Hardware{ID: "hw-1", Name: "Board"}); err != nil {
		t.Fatalf("CreateHardware: %v", err)
	}
	for _, a := range []struct{ id, name string }{{"pump", "Pump"}, {"heater", "Heater"}} {
		err := actions.CreateAction(ctx, &action.ControllableAction{
			ID: a.id, DeploymentID: "fpf-001", Name: a.name, ClassID: "smart-plug",
			IsActive: true, HardwareID: "hw-1", AdditionalInformation: json.RawMessage(`{}`),
		})
		if err != nil {
			t.Fatalf("CreateAction: %v", err)
		}
	}

	f := &fixture{
		actions:   actions,
		consumers: energy.NewSQLiteRepository(db.DB),
		queue:     &fakeQueue{},
		timers:    newFakeTimers(),
	}
	f.inj = f.newInjector()
	return f
}

func (f *fixture) newInjector() *Injector {
	settings := fixedSettings{s: energy.Settings{BatteryMaxWh: 10000}}
	return NewInjector(f.actions, f.queue, f.consumers, settings, f.timers, Options{
		Now: func() time.Time { return now },
	})
}

func (f *fixture) addConsumer(t *testing.T, id, name string, threshold *float64, bufferDays int) {
	t.Helper()
	c := &energy.Consumer{
		ID: id, DeploymentID: "fpf-001", Name: name, Priority: 5, IsActive: true,
		ForecastShutdownThreshold: threshold, ForecastBufferDays: bufferDays,
	}
	if err := f.consumers.CreateConsumer(context.Background(), c); err != nil {
		t.Fatalf("CreateConsumer: %v", err)
	}
}

func (f *fixture) activeForecast(t *testing.T, actionID string) []action.Trigger {
	t.Helper()
	all, err := f.actions.ListTriggers(context.Background(), actionID)
	if err != nil {
		t.Fatalf("ListTriggers: %v", err)
	}
	var out []action.Trigger
	for _, tr := range all {
		if tr.IsActive && tr.Type == action.TriggerForecast {
			out = append(out, tr)
		}
	}
	return out
}

func ptr[T any](v T) *T { return &v }

// ─── Action Plans ───────────────────────────────────────────────────────────

func TestScheduleActionPlan_Dedup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plan := []PlanEntry{
		{Timestamp: now.Add(2 * time.Hour), Value: "Off"},
		{Timestamp: now.Add(time.Hour), Value: "On"},
		{Timestamp: now.Add(-time.Hour), Value: "On"},
		{Timestamp: now.Add(time.Hour), Value: "On"},
	}
	res, err := f.inj.ScheduleActionPlan(ctx, "pump", plan)
	if err != nil {
		t.Fatalf("ScheduleActionPlan() error = %v", err)
	}
	if res.Created != 2 || res.Duplicates != 1 || res.Past != 1 {
		t.Errorf("result = %+v, want 2 created, 1 duplicate, 1 past", res)
	}
	if res.NextFire == nil || !res.NextFire.Equal(now.Add(time.Hour)) {
		t.Errorf("NextFire = %v, want now+1h", res.NextFire)
	}

	// Repeating the call creates nothing.
	res, err = f.inj.ScheduleActionPlan(ctx, "pump", plan)
	if err != nil {
		t.Fatalf("second ScheduleActionPlan() error = %v", err)
	}
	if res.Created != 0 || res.Duplicates != 3 {
		t.Errorf("second result = %+v, want 0 created, 3 duplicates", res)
	}
	if n := len(f.activeForecast(t, "pump")); n != 2 {
		t.Errorf("active forecast triggers = %d, want 2", n)
	}

	// Same timestamp with a different value is a distinct entry.
	res, err = f.inj.ScheduleActionPlan(ctx, "pump", []PlanEntry{{Timestamp: now.Add(time.Hour), Value: "Off"}})
	if err != nil || res.Created != 1 {
		t.Errorf("distinct value: result = %+v, err = %v", res, err)
	}

	if _, err := f.inj.ScheduleActionPlan(ctx, "missing", plan); !errors.Is(err, action.ErrActionNotFound) {
		t.Errorf("unknown action error = %v", err)
	}
}

func TestScheduleActionPlan_ChainIsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := actionKeyPrefix + "pump"

	_, err := f.inj.ScheduleActionPlan(ctx, "pump", []PlanEntry{
		{Timestamp: now.Add(3 * time.Hour), Value: "Off"},
		{Timestamp: now.Add(time.Hour), Value: "On"},
		{Timestamp: now.Add(2 * time.Hour), Value: "50"},
	})
	if err != nil {
		t.Fatalf("ScheduleActionPlan() error = %v", err)
	}

	var fired []time.Time
	for i := 0; i < 3; i++ {
		at, ok := f.timers.next(key)
		if !ok {
			t.Fatalf("step %d: chain ended early", i)
		}
		if len(fired) > 0 && !at.After(fired[len(fired)-1]) {
			t.Fatalf("step %d: next fire %v not after %v", i, at, fired[len(fired)-1])
		}
		fired = append(fired, at)
		f.timers.fire(t, key)
	}

	if _, ok := f.timers.next(key); ok {
		t.Error("chain should end when no entries remain")
	}
	if got := f.queue.values(); len(got) != 3 || got[0] != "On" || got[1] != "50" || got[2] != "Off" {
		t.Errorf("enqueued values = %v, want [On 50 Off]", got)
	}
	if f.queue.passes != 3 {
		t.Errorf("Process calls = %d, want 3", f.queue.passes)
	}
	if n := len(f.activeForecast(t, "pump")); n != 0 {
		t.Errorf("active forecast triggers after chain = %d, want 0", n)
	}
}

func TestScheduleActionPlan_ClaimedTriggerDoesNotRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := actionKeyPrefix + "pump"

	if _, err := f.inj.ScheduleActionPlan(ctx, "pump", []PlanEntry{
		{Timestamp: now.Add(time.Hour), Value: "On"},
		{Timestamp: now.Add(2 * time.Hour), Value: "Off"},
	}); err != nil {
		t.Fatalf("ScheduleActionPlan() error = %v", err)
	}

	var first action.Trigger
	for _, tr := range f.activeForecast(t, "pump") {
		if l, _ := trigger.ParseForecastLogic(tr.Logic); l.Timestamp.Equal(now.Add(time.Hour)) {
			first = tr
		}
	}
	if ok, err := f.actions.ClaimTrigger(ctx, first.ID); err != nil || !ok {
		t.Fatalf("ClaimTrigger: %v %v", ok, err)
	}

	f.timers.fire(t, key)
	if got := f.queue.values(); len(got) != 0 {
		t.Errorf("claimed trigger ran: %v", got)
	}
	at, ok := f.timers.next(key)
	if !ok || !at.Equal(now.Add(2*time.Hour)) {
		t.Errorf("chain should move on to now+2h, got %v %v", at, ok)
	}
}

func TestScheduleActionPlan_EarlierEntryRearms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := actionKeyPrefix + "pump"

	if _, err := f.inj.ScheduleActionPlan(ctx, "pump", []PlanEntry{{Timestamp: now.Add(4 * time.Hour), Value: "On"}}); err != nil {
		t.Fatalf("ScheduleActionPlan() error = %v", err)
	}
	if _, err := f.inj.ScheduleActionPlan(ctx, "pump", []PlanEntry{{Timestamp: now.Add(time.Hour), Value: "Off"}}); err != nil {
		t.Fatalf("ScheduleActionPlan() error = %v", err)
	}
	if at, _ := f.timers.next(key); !at.Equal(now.Add(time.Hour)) {
		t.Errorf("timer at %v, want now+1h", at)
	}
}

// ─── Threshold Shutdowns ────────────────────────────────────────────────────

func TestScheduleThresholdShutdown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addConsumer(t, "c-heater", "Heater", ptr(30.0), 1)

	curve := []SoCPoint{
		{Timestamp: now.Add(5 * 24 * time.Hour), LevelWh: 1000},
		{Timestamp: now.Add(3 * 24 * time.Hour), LevelWh: 5000},
		{Timestamp: now.Add(4 * 24 * time.Hour), LevelWh: 3000},
	}
	tr, err := f.inj.ScheduleThresholdShutdown(ctx, "c-heater", curve)
	if err != nil {
		t.Fatalf("ScheduleThresholdShutdown() error = %v", err)
	}
	if tr == nil || tr.ActionID != "heater" || tr.ActionValue != "Off" || tr.Origin != action.OriginForecast {
		t.Fatalf("trigger = %+v", tr)
	}
	logic, err := trigger.ParseForecastLogic(tr.Logic)
	if err != nil {
		t.Fatalf("ParseForecastLogic: %v", err)
	}
	// 3000 Wh is exactly 30%: breach at +4d, minus one buffer day.
	want := now.Add(3 * 24 * time.Hour)
	if !logic.Timestamp.Equal(want) || logic.ConsumerID != "c-heater" || logic.Kind != trigger.KindThresholdShutdown {
		t.Errorf("logic = %+v, want shutdown at %v", logic, want)
	}
	if at, ok := f.timers.next(consumerKeyPrefix + "c-heater"); !ok || !at.Equal(want) {
		t.Errorf("timer = %v %v, want %v", at, ok, want)
	}

	if _, err := f.inj.ScheduleThresholdShutdown(ctx, "c-heater", curve); !errors.Is(err, ErrAlreadyScheduled) {
		t.Errorf("second call error = %v, want ErrAlreadyScheduled", err)
	}

	f.timers.fire(t, consumerKeyPrefix+"c-heater")
	if got := f.queue.values(); len(got) != 1 || got[0] != "Off" {
		t.Errorf("enqueued = %v, want [Off]", got)
	}
	c, err := f.consumers.GetConsumer(ctx, "c-heater")
	if err != nil {
		t.Fatalf("GetConsumer: %v", err)
	}
	if c.IsActive {
		t.Error("consumer should be marked inactive after the shutdown")
	}
}

func TestScheduleThresholdShutdown_EdgeCases(t *testing.T) {
	tests := []struct {
		name       string
		threshold  *float64
		bufferDays int
		curve      []SoCPoint
		wantErr    error
		wantNil    bool
		wantAt     time.Time
	}{
		{
			name:      "no threshold",
			threshold: nil,
			curve:     []SoCPoint{{Timestamp: now.Add(time.Hour), LevelWh: 0}},
			wantErr:   ErrNoThreshold,
		},
		{
			name:      "no breach",
			threshold: ptr(20.0),
			curve:     []SoCPoint{{Timestamp: now.Add(time.Hour), LevelWh: 2001}},
			wantNil:   true,
		},
		{
			name:       "buffer reaches into the past",
			threshold:  ptr(20.0),
			bufferDays: 5,
			curve:      []SoCPoint{{Timestamp: now.Add(48 * time.Hour), LevelWh: 100}},
			wantAt:     now.Add(pastDueDelay),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.addConsumer(t, "c-1", "Heater", tt.threshold, tt.bufferDays)

			tr, err := f.inj.ScheduleThresholdShutdown(context.Background(), "c-1", tt.curve)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if tt.wantNil {
				if tr != nil {
					t.Errorf("trigger = %+v, want nil", tr)
				}
				return
			}
			if at, _ := f.timers.next(consumerKeyPrefix + "c-1"); !at.Equal(tt.wantAt) {
				t.Errorf("timer at %v, want %v", at, tt.wantAt)
			}
		})
	}
}

func TestScheduleThresholdShutdown_NoAction(t *testing.T) {
	f := newFixture(t)
	f.addConsumer(t, "c-1", "Greenhouse lamp", ptr(50.0), 0)

	_, err := f.inj.ScheduleThresholdShutdown(context.Background(), "c-1",
		[]SoCPoint{{Timestamp: now.Add(time.Hour), LevelWh: 100}})
	if !errors.Is(err, ErrNoConsumerAction) {
		t.Errorf("error = %v, want ErrNoConsumerAction", err)
	}
}

func TestCancelConsumer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addConsumer(t, "c-heater", "Heater", ptr(30.0), 0)
	key := consumerKeyPrefix + "c-heater"

	if _, err := f.inj.ScheduleThresholdShutdown(ctx, "c-heater",
		[]SoCPoint{{Timestamp: now.Add(time.Hour), LevelWh: 100}}); err != nil {
		t.Fatalf("ScheduleThresholdShutdown() error = %v", err)
	}
	pending := f.timers.take(t, key)
	f.timers.Schedule(key, pending.at, pending.fn)

	n, err := f.inj.CancelConsumer(ctx, "c-heater")
	if err != nil || n != 1 {
		t.Fatalf("CancelConsumer() = %d, %v, want 1", n, err)
	}
	if _, ok := f.timers.next(key); ok {
		t.Error("timer should be removed")
	}

	// A callback that already escaped cancellation still finds nothing to claim.
	pending.fn(ctx)
	if got := f.queue.values(); len(got) != 0 {
		t.Errorf("cancelled shutdown ran: %v", got)
	}

	// Cancelling frees the consumer for a new schedule.
	if _, err := f.inj.ScheduleThresholdShutdown(ctx, "c-heater",
		[]SoCPoint{{Timestamp: now.Add(time.Hour), LevelWh: 100}}); err != nil {
		t.Errorf("reschedule after cancel error = %v", err)
	}
}

// ─── Reload ─────────────────────────────────────────────────────────────────

func TestReload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two due plan entries and one future: the latest due one fires, the
	// older is dropped.
	for _, e := range []PlanEntry{
		{Timestamp: now.Add(-2 * time.Hour), Value: "On"},
		{Timestamp: now.Add(-time.Hour), Value: "Off"},
		{Timestamp: now.Add(time.Hour), Value: "On"},
	} {
		err := f.actions.CreateTrigger(ctx, &action.Trigger{
			ActionID: "pump", Type: action.TriggerForecast, ActionValue: e.Value, IsActive: true,
			Origin: action.OriginForecast,
			Logic:  trigger.ForecastLogic{Timestamp: e.Timestamp, Kind: trigger.KindPlan}.Marshal(),
		})
		if err != nil {
			t.Fatalf("CreateTrigger: %v", err)
		}
	}
	f.addConsumer(t, "c-heater", "Heater", ptr(30.0), 0)
	err := f.actions.CreateTrigger(ctx, &action.Trigger{
		ActionID: "heater", Type: action.TriggerForecast, ActionValue: "Off", IsActive: true,
		Origin: action.OriginForecast,
		Logic: trigger.ForecastLogic{
			Timestamp: now.Add(6 * time.Hour), ConsumerID: "c-heater", Kind: trigger.KindThresholdShutdown,
		}.Marshal(),
	})
	if err != nil {
		t.Fatalf("CreateTrigger: %v", err)
	}

	armed, err := f.newInjector().Reload(ctx)
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if armed != 2 {
		t.Errorf("armed = %d, want 2", armed)
	}
	if at, _ := f.timers.next(actionKeyPrefix + "pump"); !at.Equal(now.Add(-time.Hour)) {
		t.Errorf("plan timer at %v, want the latest due entry", at)
	}
	if at, _ := f.timers.next(consumerKeyPrefix + "c-heater"); !at.Equal(now.Add(6 * time.Hour)) {
		t.Errorf("shutdown timer at %v", at)
	}
	if n := len(f.activeForecast(t, "pump")); n != 2 {
		t.Errorf("active plan triggers = %d, want 2 after dropping the stale one", n)
	}

	f.timers.fire(t, actionKeyPrefix+"pump")
	if got := f.queue.values(); len(got) != 1 || got[0] != "Off" {
		t.Errorf("enqueued = %v, want [Off]", got)
	}
	if at, _ := f.timers.next(actionKeyPrefix + "pump"); !at.Equal(now.Add(time.Hour)) {
		t.Errorf("next plan timer at %v, want now+1h", at)
	}
}
