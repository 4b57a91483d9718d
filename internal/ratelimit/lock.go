package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var ErrLockNotAcquired = errors.New("lock_not_acquired")

// Locker is a single-key Redis lock guarded by an owner token.
type Locker struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
}

func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		ttl:    ttl,
	}
}

func (l *Locker) TryLock(ctx context.Context, key string) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Lock polls TryLock with jittered exponential backoff until the lock is held,
// ctx ends, or twice the lock TTL has passed (the holder's lease must have
// lapsed by then).
func (l *Locker) Lock(ctx context.Context, key string) (string, error) {
	policy := &backoff.ExponentialBackOff{
		InitialInterval:     10 * time.Millisecond,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         200 * time.Millisecond,
	}
	token, err := backoff.Retry(ctx, func() (string, error) {
		token, ok, err := l.TryLock(ctx, key)
		switch {
		case err != nil:
			return "", backoff.Permanent(err)
		case !ok:
			return "", ErrLockNotAcquired
		}
		return token, nil
	}, backoff.WithBackOff(policy), backoff.WithMaxElapsedTime(2*l.ttl))
	if err != nil && !errors.Is(err, ErrLockNotAcquired) && ctx.Err() != nil {
		return "", errors.Join(ErrLockNotAcquired, err)
	}
	return token, err
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}
