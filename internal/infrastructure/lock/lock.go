package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotAcquired is returned by TryLock when the lock is held elsewhere.
var ErrNotAcquired = errors.New("lock: not acquired")

// Release frees a lock obtained from TryLock. It is safe to call more than
// once.
type Release func()

// Locker hands out named, non-blocking locks.
type Locker interface {
	TryLock(ctx context.Context, key string) (Release, error)
}

// Local is an in-process Locker.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

// TryLock implements Locker.
func (l *Local) TryLock(_ context.Context, key string) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, ErrNotAcquired
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
