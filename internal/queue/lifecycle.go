package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/qmuntal/stateless"
)

// Lifecycle triggers.
const (
	triggerStart  = "start"
	triggerFinish = "finish"
)

// errStartLost reports that another pass started the entry first.
var errStartLost = errors.New("queue: entry already started")

// lifecycle drives one entry pending -> running -> ended, or straight from
// pending to ended when skipped or superseded. Ended is terminal.
//
// The machine reads its state from the entry's timestamps. Each transition
// is persisted by the state mutator before the destination's entry action
// runs, so a failed write leaves the entry where it was and nothing is
// broadcast.
type lifecycle struct {
	svc   *Service
	entry *Entry
	sm    *stateless.StateMachine
}

func (s *Service) lifecycle(e *Entry) *lifecycle {
	lc := &lifecycle{svc: s, entry: e}
	lc.sm = stateless.NewStateMachineWithExternalStorageAndArgs(lc.state, lc.persist, stateless.FiringImmediate)

	lc.sm.Configure(StatusPending).
		Permit(triggerStart, StatusRunning).
		Permit(triggerFinish, StatusEnded)

	lc.sm.Configure(StatusRunning).
		OnEntryFrom(triggerStart, lc.onStarted).
		Permit(triggerFinish, StatusEnded)

	lc.sm.Configure(StatusEnded).
		OnEntryFrom(triggerFinish, lc.onEnded)

	return lc
}

// fire applies trigger. Finishing takes the outcome and error text as args.
func (lc *lifecycle) fire(ctx context.Context, trigger string, args ...any) error {
	ok, err := lc.sm.CanFireCtx(ctx, trigger, args...)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, trigger, lc.entry.Status())
	}
	return lc.sm.FireCtx(ctx, trigger, args...)
}

func (lc *lifecycle) state(context.Context) (stateless.State, []any, error) {
	return lc.entry.Status(), nil, nil
}

// persist writes the transition into st and mirrors it onto the entry.
func (lc *lifecycle) persist(ctx context.Context, st stateless.State, args ...any) error {
	at := lc.svc.now().UTC()
	e := lc.entry

	switch st {
	case StatusRunning:
		ok, err := lc.svc.repo.MarkStarted(ctx, e.ID, at)
		if err != nil {
			return err
		}
		if !ok {
			return errStartLost
		}
		e.StartedAt = &at

	case StatusEnded:
		outcome, errText := finishArgs(args)
		if err := lc.svc.repo.MarkEnded(ctx, e.ID, at, outcome, errText); err != nil {
			return err
		}
		e.EndedAt = &at
		e.Outcome = &outcome
		if errText != "" {
			e.Error = &errText
		}
	}
	return nil
}

func (lc *lifecycle) onStarted(context.Context, ...any) error {
	lc.svc.broadcast("queue.started", lc.entry)
	return nil
}

func (lc *lifecycle) onEnded(_ context.Context, args ...any) error {
	outcome, reason := finishArgs(args)
	countOutcome(outcome)
	if outcome == OutcomeSkipped {
		lc.svc.logger.Info("queue entry skipped", "entry_id", lc.entry.ID, "action_id", lc.entry.ActionID, "reason", reason)
	}
	lc.svc.broadcast("queue.ended", lc.entry)
	return nil
}

func finishArgs(args []any) (Outcome, string) {
	outcome := OutcomeFailed
	var errText string
	if len(args) > 0 {
		if o, ok := args[0].(Outcome); ok {
			outcome = o
		}
	}
	if len(args) > 1 {
		errText, _ = args[1].(string)
	}
	return outcome, errText
}
