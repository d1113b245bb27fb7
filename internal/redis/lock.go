package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("regimen lock not acquired")
)

// Locker serializes materialization passes per regimen so that concurrent
// triggers (app foreground + background refresh) cannot interleave.
type Locker interface {
	WithRegimenLock(ctx context.Context, regimenID uuid.UUID, fn func(ctx context.Context) error) error
}

type redisRegimenLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRegimenLocker creates a locker that uses a per regimen Redis key
func NewRedisRegimenLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisRegimenLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisRegimenLocker) WithRegimenLock(ctx context.Context, regimenID uuid.UUID, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:regimen:%s", regimenID.String())
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire regimen lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisRegimenLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release regimen lock: %w", err)
	}
	return nil
}

// PassthroughLocker runs the critical section without any locking. It is
// meant for single-process embedders and tests where Redis is not available;
// the dose-event upsert stays conflict-safe at the store level either way.
type PassthroughLocker struct{}

func (PassthroughLocker) WithRegimenLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
