package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/fpf-core/internal/action"
	"github.com/nerrad567/fpf-core/internal/queue"
	"github.com/nerrad567/fpf-core/internal/timeseries"
	"github.com/nerrad567/fpf-core/internal/trigger"
)

// timeOfDaySpec evaluates time-of-day windows at the top of every minute.
const timeOfDaySpec = "* * * * *"

// ActionSource is what the scheduler needs from the action registry.
type ActionSource interface {
	GetAction(ctx context.Context, id string) (*action.ControllableAction, error)
	GetTrigger(ctx context.Context, id string) (*action.Trigger, error)
	ListActiveTriggersByType(ctx context.Context, t action.TriggerType) ([]action.Trigger, error)
	ListActiveSensorTriggers(ctx context.Context, sensorID string) ([]action.Trigger, error)
}

// Queue is what the scheduler needs from the action queue.
type Queue interface {
	Enqueue(ctx context.Context, a *action.ControllableAction, t *action.Trigger) (*queue.Entry, bool, error)
	Process(ctx context.Context) queue.Summary
	HasUnfinished(ctx context.Context, triggerID string) (bool, error)
}

// Logger defines the logging interface used by the scheduler.
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

// cronLogger adapts Logger to cron.Logger.
type cronLogger struct{ l Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// Options configures a Scheduler. Zero values are valid.
type Options struct {
	// Location is the time zone for time-of-day windows and cron specs.
	Location *time.Location

	// Store receives sensor measurements. Nil disables the write.
	Store timeseries.Store

	Logger Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Scheduler turns time and sensor input into queue entries: interval
// triggers become recurring cron jobs, time-of-day triggers are evaluated
// every minute, sensor triggers are evaluated per measurement. It also
// hosts the service's recurring maintenance jobs and its one-shot timers.
type Scheduler struct {
	actions ActionSource
	queue   Queue
	store   timeseries.Store
	logger  Logger
	loc     *time.Location
	now     func() time.Time

	cron   *cron.Cron
	timers *Timers
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	intervals map[string]intervalJob
	named     map[string]cron.EntryID
	lastFired map[string]time.Time
}

type intervalJob struct {
	entryID cron.EntryID
	period  time.Duration
}

// New creates a scheduler. Jobs do not run until Start is called.
func New(actions ActionSource, q Queue, opts Options) *Scheduler {
	s := &Scheduler{
		actions:   actions,
		queue:     q,
		store:     opts.Store,
		logger:    opts.Logger,
		loc:       opts.Location,
		now:       opts.Now,
		intervals: make(map[string]intervalJob),
		named:     make(map[string]cron.EntryID),
		lastFired: make(map[string]time.Time),
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}

	cl := cronLogger{l: s.logger}
	s.cron = cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.timers = NewTimers(s.ctx)
	return s
}

// Timers returns the one-shot timer set. It is stopped with the scheduler.
func (s *Scheduler) Timers() *Timers {
	return s.timers
}

// Start loads interval triggers, installs the time-of-day job and starts
// the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.SyncIntervalTriggers(ctx); err != nil {
		return err
	}
	if err := s.AddCron("time-of-day", timeOfDaySpec, func(ctx context.Context) {
		s.EvaluateTimeOfDay(ctx)
	}); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "interval_jobs", s.IntervalJobCount(), "location", s.loc.String())
	return nil
}

// Stop halts cron jobs and pending timers and waits for running jobs.
func (s *Scheduler) Stop() {
	s.cancel()
	s.timers.CancelAll()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// ─── Recurring Jobs ─────────────────────────────────────────────────────────

// Every installs a named job that runs every d. Re-adding a name replaces
// the job.
func (s *Scheduler) Every(name string, d time.Duration, fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceNamed(name, s.cron.Schedule(cron.Every(d), s.job(fn)))
	s.logger.Debug("recurring job installed", "job", name, "every", d)
}

// AddCron installs a named job on a standard five-field cron spec.
func (s *Scheduler) AddCron(name, spec string, fn func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.cron.AddJob(spec, s.job(fn))
	if err != nil {
		return fmt.Errorf("adding %s job %q: %w", name, spec, err)
	}
	s.replaceNamed(name, id)
	s.logger.Debug("cron job installed", "job", name, "spec", spec)
	return nil
}

func (s *Scheduler) replaceNamed(name string, id cron.EntryID) {
	if old, ok := s.named[name]; ok {
		s.cron.Remove(old)
	}
	s.named[name] = id
}

func (s *Scheduler) job(fn func(ctx context.Context)) cron.Job {
	return cron.FuncJob(func() {
		if s.ctx.Err() != nil {
			return
		}
		fn(s.ctx)
	})
}

// ─── Interval Triggers ──────────────────────────────────────────────────────

// SyncIntervalTriggers reconciles the interval cron jobs with the active
// interval triggers: new triggers get a job, removed or deactivated ones lose
// it, and a changed period replaces the job.
func (s *Scheduler) SyncIntervalTriggers(ctx context.Context) error {
	triggers, err := s.actions.ListActiveTriggersByType(ctx, action.TriggerInterval)
	if err != nil {
		return fmt.Errorf("listing interval triggers: %w", err)
	}

	want := make(map[string]time.Duration, len(triggers))
	for i := range triggers {
		t := &triggers[i]
		period, perr := s.intervalPeriod(ctx, t)
		if perr != nil {
			s.logger.Warn("interval trigger not scheduled", "trigger_id", t.ID, "error", perr)
			continue
		}
		want[t.ID] = period
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, job := range s.intervals {
		if period, ok := want[id]; !ok || period != job.period {
			s.cron.Remove(job.entryID)
			delete(s.intervals, id)
		}
	}
	for id, period := range want {
		if _, ok := s.intervals[id]; !ok {
			s.installInterval(id, period)
		}
	}
	return nil
}

// OnTriggerChange keeps interval jobs and time-of-day state in step with
// trigger edits. It is registered as an action.TriggerListener.
func (s *Scheduler) OnTriggerChange(t *action.Trigger, deleted bool) {
	switch t.Type {
	case action.TriggerInterval:
		s.mu.Lock()
		if job, ok := s.intervals[t.ID]; ok {
			s.cron.Remove(job.entryID)
			delete(s.intervals, t.ID)
		}
		s.mu.Unlock()

		if deleted || !t.IsActive {
			return
		}
		period, err := s.intervalPeriod(s.ctx, t)
		if err != nil {
			s.logger.Warn("interval trigger not scheduled", "trigger_id", t.ID, "error", err)
			return
		}
		s.mu.Lock()
		s.installInterval(t.ID, period)
		s.mu.Unlock()

	case action.TriggerTimeOfDay:
		s.mu.Lock()
		delete(s.lastFired, t.ID)
		s.mu.Unlock()
	}
}

// OnActionChange re-derives interval periods after an action edit, since
// a period includes the action's maximum duration. It is registered as an
// action.ActionListener.
func (s *Scheduler) OnActionChange(a *action.ControllableAction) {
	if err := s.SyncIntervalTriggers(s.ctx); err != nil {
		s.logger.Warn("resyncing interval triggers", "action_id", a.ID, "error", err)
	}
}

// IntervalJobCount returns the number of installed interval jobs.
func (s *Scheduler) IntervalJobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.intervals)
}

// IntervalPeriod returns the installed period for a trigger.
func (s *Scheduler) IntervalPeriod(triggerID string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.intervals[triggerID]
	return job.period, ok
}

func (s *Scheduler) intervalPeriod(ctx context.Context, t *action.Trigger) (time.Duration, error) {
	h, err := trigger.ForTrigger(t)
	if err != nil {
		return 0, err
	}
	interval, ok := h.(*trigger.Interval)
	if !ok {
		return 0, fmt.Errorf("trigger %s is not an interval trigger", t.ID)
	}
	if err := interval.Err(); err != nil {
		return 0, err
	}
	a, err := s.actions.GetAction(ctx, t.ActionID)
	if err != nil {
		return 0, err
	}
	return interval.Period(a.MaximumDuration()), nil
}

// installInterval must be called with s.mu held.
func (s *Scheduler) installInterval(triggerID string, period time.Duration) {
	id := s.cron.Schedule(cron.Every(period), s.job(func(ctx context.Context) {
		s.FireInterval(ctx, triggerID)
	}))
	s.intervals[triggerID] = intervalJob{entryID: id, period: period}
	s.logger.Debug("interval job installed", "trigger_id", triggerID, "period", period)
}

// FireInterval handles one tick of an interval trigger. It enqueues when
// the action is automated and active, the trigger is still active and the
// trigger has no unfinished entry, then runs a processing pass.
func (s *Scheduler) FireInterval(ctx context.Context, triggerID string) bool {
	t, err := s.actions.GetTrigger(ctx, triggerID)
	if err != nil {
		if errors.Is(err, action.ErrTriggerNotFound) {
			s.OnTriggerChange(&action.Trigger{ID: triggerID, Type: action.TriggerInterval}, true)
		}
		return false
	}
	if !t.IsActive {
		return false
	}
	if !s.enqueue(ctx, t) {
		return false
	}
	s.queue.Process(ctx)
	return true
}

// ─── Time-of-day Triggers ───────────────────────────────────────────────────

// EvaluateTimeOfDay fires every active time-of-day trigger whose window was
// entered since it last fired. A trigger fires once per window occurrence.
func (s *Scheduler) EvaluateTimeOfDay(ctx context.Context) int {
	triggers, err := s.actions.ListActiveTriggersByType(ctx, action.TriggerTimeOfDay)
	if err != nil {
		s.logger.Error("listing time-of-day triggers", "error", err)
		return 0
	}

	now := s.now().In(s.loc)
	fired := 0
	seen := make(map[string]bool, len(triggers))
	for i := range triggers {
		t := &triggers[i]
		seen[t.ID] = true

		h, herr := trigger.ForTrigger(t)
		if herr != nil {
			continue
		}
		tod, ok := h.(*trigger.TimeOfDay)
		if !ok || !tod.ShouldTrigger(trigger.Context{Now: now}) {
			s.forget(t.ID)
			continue
		}

		start := tod.WindowStart(now)
		s.mu.Lock()
		last, had := s.lastFired[t.ID]
		s.mu.Unlock()
		if had && last.Equal(start) {
			continue
		}

		// A refused window stays open so switching the action to automated
		// inside it still fires.
		switch s.admit(ctx, t) {
		case refused:
			continue
		case admitted:
			fired++
		}
		s.mu.Lock()
		s.lastFired[t.ID] = start
		s.mu.Unlock()
	}

	s.mu.Lock()
	for id := range s.lastFired {
		if !seen[id] {
			delete(s.lastFired, id)
		}
	}
	s.mu.Unlock()

	if fired > 0 {
		s.queue.Process(ctx)
	}
	return fired
}

func (s *Scheduler) forget(triggerID string) {
	s.mu.Lock()
	delete(s.lastFired, triggerID)
	s.mu.Unlock()
}

// ─── Sensor Triggers ────────────────────────────────────────────────────────

// HandleMeasurement records a sensor reading and fires the sensorValue
// triggers bound to the sensor that match it. It returns how many triggers
// were enqueued.
func (s *Scheduler) HandleMeasurement(ctx context.Context, sensorID string, value float64, at time.Time) (int, error) {
	if at.IsZero() {
		at = s.now()
	}
	if s.store != nil {
		if err := timeseries.WriteReading(s.store, sensorID, value, at); err != nil {
			s.logger.Warn("recording measurement", "sensor_id", sensorID, "error", err)
		}
	}

	triggers, err := s.actions.ListActiveSensorTriggers(ctx, sensorID)
	if err != nil {
		return 0, fmt.Errorf("listing sensor triggers: %w", err)
	}

	fired := 0
	c := trigger.Context{Now: at.In(s.loc), Measurement: &value}
	for i := range triggers {
		t := &triggers[i]
		h, herr := trigger.ForTrigger(t)
		if herr != nil || !h.ShouldTrigger(c) {
			continue
		}
		if s.enqueue(ctx, t) {
			fired++
		}
	}

	if fired > 0 {
		s.logger.Debug("sensor triggers fired", "sensor_id", sensorID, "value", value, "fired", fired)
		s.queue.Process(ctx)
	}
	return fired, nil
}

// enqueue admits t when its action is automated and active and the trigger
// has no unfinished entry.
func (s *Scheduler) enqueue(ctx context.Context, t *action.Trigger) bool {
	return s.admit(ctx, t) == admitted
}

// admission is the result of offering a trigger to the queue.
type admission int

const (
	admitted admission = iota
	// alreadyQueued: the trigger has an unfinished entry.
	alreadyQueued
	// refused: the action is unavailable, inactive or not automated, or
	// the queue failed. Nothing was admitted on the trigger's behalf.
	refused
)

func (s *Scheduler) admit(ctx context.Context, t *action.Trigger) admission {
	a, err := s.actions.GetAction(ctx, t.ActionID)
	if err != nil {
		s.logger.Warn("trigger action unavailable", "trigger_id", t.ID, "action_id", t.ActionID, "error", err)
		return refused
	}
	if !a.IsAutomated || !a.IsActive {
		return refused
	}

	busy, err := s.queue.HasUnfinished(ctx, t.ID)
	if err != nil {
		s.logger.Error("checking unfinished entries", "trigger_id", t.ID, "error", err)
		return refused
	}
	if busy {
		return alreadyQueued
	}

	_, created, err := s.queue.Enqueue(ctx, a, t)
	if err != nil {
		s.logger.Error("enqueueing trigger", "trigger_id", t.ID, "type", t.Type, "error", err)
		return refused
	}
	if !created {
		return alreadyQueued
	}
	s.logger.Info("trigger fired", "trigger_id", t.ID, "action_id", a.ID, "type", t.Type, "value", t.ActionValue)
	return admitted
}
