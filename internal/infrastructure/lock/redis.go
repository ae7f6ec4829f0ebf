package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/fpf-core/internal/infrastructure/config"
)

const (
	defaultTTL     = 30 * time.Second
	releaseTimeout = 2 * time.Second
	keyPrefix      = "fpf:lock:"
)

// releaseScript deletes the key only while it still holds our token, so a
// lease that expired and was taken over is never released by the old owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every process using the same Redis server.
// Leases expire after the TTL if the holder dies.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to Redis and verifies it answers PING.
func NewRedis(ctx context.Context, cfg config.LockConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("connecting to redis %s: %w", cfg.RedisAddr, err)
	}

	ttl := time.Duration(cfg.TTL) * time.Second
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{client: client, ttl: ttl}, nil
}

// TryLock implements Locker with SET NX PX and a random token.
func (r *Redis) TryLock(ctx context.Context, key string) (Release, error) {
	token := uuid.NewString()
	fullKey := keyPrefix + key

	err := r.client.SetArgs(ctx, fullKey, token, redis.SetArgs{Mode: "NX", TTL: r.ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotAcquired
	}
	if err != nil {
		return nil, fmt.Errorf("acquiring %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			relCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			releaseScript.Run(relCtx, r.client, []string{fullKey}, token) //nolint:errcheck // TTL covers failures
		})
	}, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
