package scheduler

import (
	"context"
	"sync"
	"time"
)

// Timers runs keyed one-shot callbacks. Scheduling a key that already has a
// timer replaces it.
//
// Thread Safety: all methods are safe for concurrent use.
type Timers struct {
	ctx context.Context

	mu      sync.Mutex
	pending map[string]*oneShot
	seq     uint64
}

type oneShot struct {
	timer *time.Timer
	at    time.Time
	seq   uint64
}

// NewTimers creates a timer set. Callbacks receive ctx.
func NewTimers(ctx context.Context) *Timers {
	return &Timers{ctx: ctx, pending: make(map[string]*oneShot)}
}

// Schedule runs fn at at, or immediately when at has passed.
func (t *Timers) Schedule(key string, at time.Time, fn func(ctx context.Context)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.pending[key]; ok {
		old.timer.Stop()
	}

	t.seq++
	seq := t.seq
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}

	t.pending[key] = &oneShot{
		at:  at,
		seq: seq,
		timer: time.AfterFunc(delay, func() {
			if !t.release(key, seq) {
				return
			}
			if t.ctx.Err() != nil {
				return
			}
			fn(t.ctx)
		}),
	}
}

// release removes the key if it still belongs to the timer with seq.
func (t *Timers) release(key string, seq uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.pending[key]
	if !ok || cur.seq != seq {
		return false
	}
	delete(t.pending, key)
	return true
}

// Cancel stops the timer for key. It reports whether one was pending.
func (t *Timers) Cancel(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.pending[key]
	if !ok {
		return false
	}
	cur.timer.Stop()
	delete(t.pending, key)
	return true
}

// CancelAll stops every pending timer.
func (t *Timers) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, cur := range t.pending {
		cur.timer.Stop()
		delete(t.pending, key)
	}
}

// Next returns when the timer for key fires.
func (t *Timers) Next(key string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.pending[key]
	if !ok {
		return time.Time{}, false
	}
	return cur.at, true
}

// Len returns the number of pending timers.
func (t *Timers) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
