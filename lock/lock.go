// Package lock guards a pair against being reconciled by two operators at
// the same time. The lock never makes work run in parallel; pairs are still
// processed one after another.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrNotObtained is returned when another holder owns the key.
var ErrNotObtained = errors.New("lock not obtained")

// DefaultTTL bounds how long a crashed holder blocks a pair.
const DefaultTTL = 5 * time.Minute

// Release gives a held lock back.
type Release func(ctx context.Context) error

type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// PairKey is the lock key of the pair whose original is originalID.
func PairKey(originalID string) string { return "fixdup:pair:" + originalID }

// =============================================================================
// NOOP
// =============================================================================

// Noop always succeeds. Used when no Redis is configured.
type Noop struct{}

func (Noop) Acquire(context.Context, string) (Release, error) {
	return func(context.Context) error { return nil }, nil
}

// =============================================================================
// REDIS
// =============================================================================

type Redis struct {
	client *redis.Client
	locker *redislock.Client
	ttl    time.Duration
}

// Options configure the Redis locker.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedis connects and pings once. There is no reconnect loop.
func NewRedis(ctx context.Context, opts Options) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, locker: redislock.New(client), ttl: ttl}, nil
}

// Acquire obtains key without waiting. A held key yields ErrNotObtained.
// The lock is refreshed every half TTL until released, so a pair that runs
// longer than the TTL keeps it. The TTL only bounds a crashed holder.
func (r *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	l, err := r.locker.Obtain(ctx, key, r.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotObtained)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain %s: %w", key, err)
	}

	refreshCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.keepAlive(refreshCtx, l)
	}()

	return func(ctx context.Context) error {
		stop()
		<-done
		if err := l.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, nil
}

// keepAlive extends l until ctx is done or a refresh fails.
func (r *Redis) keepAlive(ctx context.Context, l *redislock.Lock) {
	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Refresh(ctx, r.ttl, nil); err != nil {
				return
			}
		}
	}
}

func (r *Redis) Close() error { return r.client.Close() }
