package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/fpf-core/internal/action"
	"github.com/nerrad567/fpf-core/internal/infrastructure/lock"
	"github.com/nerrad567/fpf-core/internal/script"
)

// processLockKey names the lock that serialises processing passes.
const processLockKey = "queue:process"

// interruptedReason is recorded on entries found running at startup.
const interruptedReason = "interrupted by restart"

// ActionSource is what the service needs from the action registry.
type ActionSource interface {
	GetAction(ctx context.Context, id string) (*action.ControllableAction, error)
	// LoadAction reads past any cache; admission uses it.
	LoadAction(ctx context.Context, id string) (*action.ControllableAction, error)
	GetTrigger(ctx context.Context, id string) (*action.Trigger, error)
	ListActiveTriggers(ctx context.Context, actionID string) ([]action.Trigger, error)
}

// ScriptResolver builds the script that performs an action's side effect.
type ScriptResolver interface {
	Resolve(classID string, config json.RawMessage, b script.Binding) (script.Script, error)
}

// EventHub broadcasts queue events to WebSocket clients.
type EventHub interface {
	Broadcast(channel string, payload any)
}

// Logger defines the logging interface used by the service.
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

// Options configures a Service. Zero values are valid.
type Options struct {
	// RunTimeout bounds a single script run. Zero disables the bound.
	RunTimeout time.Duration

	// Locker serialises passes across processes. Defaults to an
	// in-process lock.
	Locker lock.Locker

	Hub    EventHub
	Logger Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Service admits triggered intents into the queue and runs them one
// hardware unit at a time.
//
// Thread Safety: all methods are safe for concurrent use. Concurrent
// Process calls are coalesced into the pass already running.
type Service struct {
	repo    Repository
	actions ActionSource
	scripts ScriptResolver

	runTimeout time.Duration
	locker     lock.Locker
	hub        EventHub
	logger     Logger
	now        func() time.Time

	passMu  sync.Mutex
	running bool
	again   bool
}

// NewService creates a queue service.
func NewService(repo Repository, actions ActionSource, scripts ScriptResolver, opts Options) *Service {
	s := &Service{
		repo:       repo,
		actions:    actions,
		scripts:    scripts,
		runTimeout: opts.RunTimeout,
		locker:     opts.Locker,
		hub:        opts.Hub,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if s.locker == nil {
		s.locker = lock.NewLocal()
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Enqueue adds a pending entry for trigger unless one is already unfinished.
// It returns the unfinished entry for the trigger and whether it was created
// by this call.
func (s *Service) Enqueue(ctx context.Context, a *action.ControllableAction, t *action.Trigger) (*Entry, bool, error) {
	if t.ActionID != a.ID {
		return nil, false, ErrTriggerMismatch
	}

	e, created, err := s.repo.Enqueue(ctx, &Entry{
		ID:         uuid.NewString(),
		ActionID:   a.ID,
		TriggerID:  t.ID,
		HardwareID: a.HardwareID,
		CreatedAt:  s.now().UTC(),
	})
	if err != nil {
		return nil, false, fmt.Errorf("enqueueing trigger %s: %w", t.ID, err)
	}

	countEnqueued(created)
	if created {
		s.logger.Debug("queue entry created",
			"entry_id", e.ID, "action_id", a.ID, "trigger_id", t.ID, "trigger_type", t.Type)
		s.broadcast("queue.enqueued", e)
	}
	return e, created, nil
}

// CreateActionInQueue enqueues work for a user or system request.
//
// For an automated action every active non-manual trigger is enqueued, plus
// the requested trigger when it is active. For a non-automated action the
// pending non-manual entries are superseded and the requested trigger is
// enqueued.
func (s *Service) CreateActionInQueue(ctx context.Context, actionID, triggerID string) ([]Entry, error) {
	a, err := s.actions.GetAction(ctx, actionID)
	if err != nil {
		return nil, err
	}
	requested, err := s.actions.GetTrigger(ctx, triggerID)
	if err != nil {
		return nil, err
	}
	if requested.ActionID != a.ID {
		return nil, ErrTriggerMismatch
	}

	var targets []*action.Trigger
	if a.IsAutomated {
		active, listErr := s.actions.ListActiveTriggers(ctx, a.ID)
		if listErr != nil {
			return nil, listErr
		}
		for i := range active {
			t := &active[i]
			if !t.IsManual() && t.ID != requested.ID {
				targets = append(targets, t)
			}
		}
		if requested.IsActive {
			targets = append(targets, requested)
		}
	} else {
		n, supErr := s.repo.SupersedePending(ctx, a.ID, s.now().UTC())
		if supErr != nil {
			return nil, supErr
		}
		if n > 0 {
			countOutcomeN(OutcomeSuperseded, n)
			s.logger.Info("superseded automated entries", "action_id", a.ID, "count", n)
		}
		targets = append(targets, requested)
	}

	entries := make([]Entry, 0, len(targets))
	for _, t := range targets {
		e, _, enqErr := s.Enqueue(ctx, a, t)
		if enqErr != nil {
			return entries, enqErr
		}
		entries = append(entries, *e)
	}
	return entries, nil
}

func countOutcomeN(o Outcome, n int) {
	for i := 0; i < n; i++ {
		countOutcome(o)
	}
}

// Process runs the queue until no further pass was requested.
//
// Each pass:
//  1. Takes the pass lock (Redis or in-process); when another process holds
//     it the pass is reported as coalesced
//  2. Lists pending entries oldest first
//  3. Gates each entry: the oldest manual entry of a hardware unit goes
//     first, and a unit with a running entry admits nothing
//  4. Skips entries whose action is missing or inactive, reading the action
//     from the store
//  5. Starts, runs and ends admitted entries one hardware unit at a time
//
// A call that arrives during a pass requests one more pass and returns at
// once with Coalesced set.
//
// Parameters:
//   - ctx: Cancelling it stops the pass between entries; entry end writes
//     still complete
//
// Returns:
//   - Summary: Counts over every pass run by this call. Per-entry failures
//     are recorded on the entries, never returned
func (s *Service) Process(ctx context.Context) Summary {
	s.passMu.Lock()
	if s.running {
		s.again = true
		s.passMu.Unlock()
		countPass(true)
		return Summary{Coalesced: true}
	}
	s.running = true
	s.passMu.Unlock()

	var total Summary
	for {
		total.add(s.lockedPass(ctx))

		s.passMu.Lock()
		if !s.again || ctx.Err() != nil {
			s.running = false
			s.again = false
			s.passMu.Unlock()
			return total
		}
		s.again = false
		s.passMu.Unlock()
	}
}

func (s *Service) lockedPass(ctx context.Context) Summary {
	release, err := s.locker.TryLock(ctx, processLockKey)
	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		s.logger.Debug("queue pass running elsewhere")
		countPass(true)
		return Summary{Coalesced: true}
	case err != nil:
		// Without the shared lock this process still runs one pass at a
		// time; the hardware index guards admission.
		s.logger.Warn("queue lock unavailable", "error", err)
	default:
		defer release()
	}

	countPass(false)
	return s.pass(ctx)
}

func (s *Service) pass(ctx context.Context) Summary {
	var sum Summary

	pending, err := s.repo.ListPending(ctx)
	if err != nil {
		s.logger.Error("listing pending entries", "error", err)
		return sum
	}

	waiting := make(map[string]bool)
	for i := range pending {
		if ctx.Err() != nil {
			break
		}
		e := &pending[i]

		if waiting[e.HardwareID] {
			sum.Blocked++
			continue
		}

		admit, gateErr := s.gate(ctx, e)
		if gateErr != nil {
			s.logger.Error("checking queue admission", "entry_id", e.ID, "error", gateErr)
			waiting[e.HardwareID] = true
			sum.Blocked++
			continue
		}
		if !admit {
			waiting[e.HardwareID] = true
			sum.Blocked++
			continue
		}

		a, actErr := s.actions.LoadAction(ctx, e.ActionID)
		if actErr != nil || !a.IsActive {
			reason := "action inactive"
			if actErr != nil {
				reason = actErr.Error()
			}
			if s.end(ctx, e, OutcomeSkipped, reason) {
				sum.Skipped++
			}
			continue
		}

		started, startErr := s.start(ctx, e)
		if startErr != nil {
			s.logger.Error("starting queue entry", "entry_id", e.ID, "error", startErr)
		}
		if !started {
			waiting[e.HardwareID] = true
			sum.Blocked++
			continue
		}
		sum.Started++

		switch s.execute(ctx, e, a) {
		case OutcomeSucceeded:
			sum.Succeeded++
		default:
			sum.Failed++
		}
	}

	countBlocked(sum.Blocked)
	if sum.Started+sum.Skipped > 0 {
		s.logger.Info("queue pass complete",
			"started", sum.Started, "succeeded", sum.Succeeded, "failed", sum.Failed,
			"skipped", sum.Skipped, "blocked", sum.Blocked)
	}
	return sum
}

// gate applies the manual-priority and mutual-exclusion rules.
func (s *Service) gate(ctx context.Context, e *Entry) (bool, error) {
	if e.IsManual() {
		oldest, err := s.repo.OldestUnfinishedManual(ctx, e.HardwareID)
		if err != nil {
			return false, err
		}
		if oldest != e.ID {
			return false, nil
		}
	}
	busy, err := s.repo.HardwareBusy(ctx, e.HardwareID)
	if err != nil {
		return false, err
	}
	return !busy, nil
}

func (s *Service) start(ctx context.Context, e *Entry) (bool, error) {
	err := s.lifecycle(e).fire(ctx, triggerStart)
	if errors.Is(err, errStartLost) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// execute runs the entry's script and always ends the entry.
func (s *Service) execute(ctx context.Context, e *Entry, a *action.ControllableAction) Outcome {
	started := time.Now()
	runErr := s.run(ctx, e, a)
	observeRun(a.ClassID, started)

	if runErr != nil {
		s.logger.Error("action script failed",
			"entry_id", e.ID, "action_id", a.ID, "class", a.ClassID, "value", e.ActionValue, "error", runErr)
		s.end(ctx, e, OutcomeFailed, runErr.Error())
		return OutcomeFailed
	}

	s.logger.Info("action executed",
		"entry_id", e.ID, "action_id", a.ID, "class", a.ClassID, "value", e.ActionValue)
	s.end(ctx, e, OutcomeSucceeded, "")
	return OutcomeSucceeded
}

func (s *Service) run(ctx context.Context, e *Entry, a *action.ControllableAction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("script panicked: %v", r)
		}
	}()

	sc, err := s.scripts.Resolve(a.ClassID, a.AdditionalInformation, script.Binding{
		ActionID:        a.ID,
		ActionName:      a.Name,
		MaximumDuration: a.MaximumDuration(),
	})
	if err != nil {
		return err
	}

	runCtx := ctx
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}
	return sc.Run(runCtx, e.ActionValue)
}

// end finishes an entry. The write uses a context detached from ctx so a
// cancelled pass still releases its hardware unit.
func (s *Service) end(ctx context.Context, e *Entry, outcome Outcome, errText string) bool {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.lifecycle(e).fire(writeCtx, triggerFinish, outcome, errText); err != nil {
		s.logger.Error("ending queue entry", "entry_id", e.ID, "outcome", outcome, "error", err)
		return false
	}
	return true
}

// HasUnfinished reports whether the trigger has an unfinished entry.
func (s *Service) HasUnfinished(ctx context.Context, triggerID string) (bool, error) {
	return s.repo.HasUnfinished(ctx, triggerID)
}

// Get retrieves an entry by ID.
func (s *Service) Get(ctx context.Context, id string) (*Entry, error) {
	return s.repo.Get(ctx, id)
}

// List returns entries matching the filter, newest first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]Entry, error) {
	return s.repo.List(ctx, f)
}

// Cleanup deletes ended entries older than olderThan, then the inactive
// energy and forecast triggers those entries were the last reference to.
// It returns the number of entries deleted.
func (s *Service) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().UTC().Add(-olderThan)
	n, err := s.repo.DeleteEndedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("queue history cleaned up", "deleted", n, "cutoff", cutoff)
	}

	spent, err := s.repo.DeleteSpentTriggers(ctx, cutoff)
	if err != nil {
		return n, err
	}
	if spent > 0 {
		s.logger.Info("spent triggers purged", "deleted", spent, "cutoff", cutoff)
	}
	return n, nil
}

// RecoverInterrupted ends entries left running by a previous process so
// their hardware units can be admitted again. Call once before the first
// pass.
func (s *Service) RecoverInterrupted(ctx context.Context) (int, error) {
	n, err := s.repo.FailRunning(ctx, s.now().UTC(), interruptedReason)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		countOutcomeN(OutcomeFailed, n)
		s.logger.Warn("recovered interrupted queue entries", "count", n)
	}
	return n, nil
}

func (s *Service) broadcast(event string, e *Entry) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast("queue", map[string]any{
		"type":  event,
		"entry": *e,
	})
}
