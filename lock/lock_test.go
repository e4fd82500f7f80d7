package lock_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkultr4/fix-item-duplicates/lock"
)

func TestNoop_AlwaysAcquires(t *testing.T) {
	var l lock.Locker = lock.Noop{}
	release, err := l.Acquire(context.Background(), lock.PairKey("abc.1"))
	require.NoError(t, err)
	assert.NoError(t, release(context.Background()))

	_, err = l.Acquire(context.Background(), lock.PairKey("abc.1"))
	assert.NoError(t, err)
}

func TestPairKey(t *testing.T) {
	assert.Equal(t, "fixdup:pair:abc.1", lock.PairKey("abc.1"))
}

func TestRedis_SecondAcquire_NotObtained(t *testing.T) {
	addr := os.Getenv("FIXDUP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FIXDUP_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	r, err := lock.NewRedis(ctx, lock.Options{Addr: addr, TTL: 10 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	key := lock.PairKey("test-" + uuid.NewString())
	release, err := r.Acquire(ctx, key)
	require.NoError(t, err)

	_, err = r.Acquire(ctx, key)
	assert.ErrorIs(t, err, lock.ErrNotObtained)

	require.NoError(t, release(ctx))
	release, err = r.Acquire(ctx, key)
	require.NoError(t, err)
	assert.NoError(t, release(ctx))
}

func TestRedis_HeldPastTTL_StillOwned(t *testing.T) {
	// GIVEN: A lock with a short TTL
	// WHEN: It is held for longer than the TTL
	// THEN: A second acquire still fails, because the holder refreshed it

	addr := os.Getenv("FIXDUP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FIXDUP_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	r, err := lock.NewRedis(ctx, lock.Options{Addr: addr, TTL: 200 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	key := lock.PairKey("test-" + uuid.NewString())
	release, err := r.Acquire(ctx, key)
	require.NoError(t, err)

	time.Sleep(600 * time.Millisecond)
	_, err = r.Acquire(ctx, key)
	assert.ErrorIs(t, err, lock.ErrNotObtained)

	require.NoError(t, release(ctx))
	release, err = r.Acquire(ctx, key)
	require.NoError(t, err)
	assert.NoError(t, release(ctx))
}
