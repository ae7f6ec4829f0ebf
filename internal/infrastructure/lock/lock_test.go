package lock

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/nerrad567/fpf-core/internal/infrastructure/config"
)

func TestLocal(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	release, err := l.TryLock(ctx, "queue")
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	if _, err := l.TryLock(ctx, "queue"); !errors.Is(err, ErrNotAcquired) {
		t.Errorf("second TryLock() error = %v, want ErrNotAcquired", err)
	}
	other, err := l.TryLock(ctx, "energy")
	if err != nil {
		t.Fatalf("TryLock(other key) error = %v", err)
	}
	other()

	release()
	release() // idempotent

	again, err := l.TryLock(ctx, "queue")
	if err != nil {
		t.Fatalf("TryLock() after release error = %v", err)
	}
	again()
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	ctx := context.Background()
	r, err := NewRedis(ctx, config.LockConfig{RedisAddr: addr, TTL: 5})
	if err != nil {
		t.Skip("Redis not available, skipping integration test")
	}
	defer r.Close() //nolint:errcheck // Test cleanup

	key := "test-" + t.Name()
	release, err := r.TryLock(ctx, key)
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	if _, err := r.TryLock(ctx, key); !errors.Is(err, ErrNotAcquired) {
		t.Errorf("second TryLock() error = %v, want ErrNotAcquired", err)
	}
	release()

	again, err := r.TryLock(ctx, key)
	if err != nil {
		t.Fatalf("TryLock() after release error = %v", err)
	}
	again()
}
