package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, ch <-chan string, timeout time.Duration) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatal("timer did not fire")
		return ""
	}
}

func TestTimers_FireAndReplace(t *testing.T) {
	timers := NewTimers(context.Background())
	fired := make(chan string, 4)

	timers.Schedule("plug", time.Now().Add(time.Hour), func(context.Context) { fired <- "old" })
	at := time.Now().Add(20 * time.Millisecond)
	timers.Schedule("plug", at, func(context.Context) { fired <- "new" })

	if next, ok := timers.Next("plug"); !ok || !next.Equal(at) {
		t.Errorf("Next() = %v, %v; want %v", next, ok, at)
	}
	if got := waitFor(t, fired, time.Second); got != "new" {
		t.Errorf("fired %q, want new", got)
	}
	if timers.Len() != 0 {
		t.Errorf("Len() = %d after fire, want 0", timers.Len())
	}

	select {
	case v := <-fired:
		t.Errorf("replaced timer fired: %q", v)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestTimers_PastFiresImmediately(t *testing.T) {
	timers := NewTimers(context.Background())
	fired := make(chan string, 1)
	timers.Schedule("late", time.Now().Add(-time.Minute), func(context.Context) { fired <- "late" })
	waitFor(t, fired, time.Second)
}

func TestTimers_Cancel(t *testing.T) {
	timers := NewTimers(context.Background())
	var count atomic.Int32

	timers.Schedule("a", time.Now().Add(20*time.Millisecond), func(context.Context) { count.Add(1) })
	timers.Schedule("b", time.Now().Add(20*time.Millisecond), func(context.Context) { count.Add(1) })
	timers.Schedule("c", time.Now().Add(20*time.Millisecond), func(context.Context) { count.Add(1) })

	if !timers.Cancel("a") {
		t.Error("Cancel(a) = false, want true")
	}
	if timers.Cancel("a") {
		t.Error("second Cancel(a) = true, want false")
	}
	if _, ok := timers.Next("a"); ok {
		t.Error("Next(a) found a cancelled timer")
	}
	timers.CancelAll()
	if timers.Len() != 0 {
		t.Errorf("Len() = %d after CancelAll", timers.Len())
	}

	time.Sleep(60 * time.Millisecond)
	if n := count.Load(); n != 0 {
		t.Errorf("%d cancelled timers fired", n)
	}
}

func TestTimers_StoppedContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	timers := NewTimers(ctx)
	var count atomic.Int32

	timers.Schedule("x", time.Now().Add(10*time.Millisecond), func(context.Context) { count.Add(1) })
	cancel()
	time.Sleep(40 * time.Millisecond)
	if count.Load() != 0 {
		t.Error("timer ran after its context was cancelled")
	}
}
