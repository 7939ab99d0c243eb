package redis_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphversioner/internal/infra/lock/redis"
)

func newLocker(t *testing.T) (*redis.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redis.NewLocker(client, "gv:", redis.WithPollInterval(5*time.Millisecond)), mr
}

func TestLockerAcquireRelease(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "entity:0", time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("gv:lock:entity:0"))

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("gv:lock:entity:0"))
}

func TestLockerBlocksUntilReleased(t *testing.T) {
	locker, _ := newLocker(t)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "entity:1", time.Second)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		acquired = make(chan struct{})
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		second, err := locker.Lock(ctx, "entity:1", time.Second)
		if assert.NoError(t, err) {
			close(acquired)
			assert.NoError(t, second(ctx))
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first is held")
	case <-time.After(50 * time.Millisecond):
	}
	require.NoError(t, unlock(ctx))
	wg.Wait()
}

func TestLockerContextCancel(t *testing.T) {
	locker, _ := newLocker(t)
	unlock, err := locker.Lock(context.Background(), "entity:2", time.Second)
	require.NoError(t, err)
	defer func() { _ = unlock(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "entity:2", time.Second)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestLockerStaleUnlockKeepsSuccessor(t *testing.T) {
	locker, mr := newLocker(t)
	ctx := context.Background()

	stale, err := locker.Lock(ctx, "entity:3", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := locker.Lock(ctx, "entity:3", time.Second)
	require.NoError(t, err)

	require.NoError(t, stale(ctx))
	assert.True(t, mr.Exists("gv:lock:entity:3"), "stale unlock must not delete the successor's lock")
	require.NoError(t, fresh(ctx))
	assert.False(t, mr.Exists("gv:lock:entity:3"))
}

func TestLockerRedisDown(t *testing.T) {
	locker, mr := newLocker(t)
	mr.Close()
	_, err := locker.Lock(context.Background(), "entity:4", time.Second)
	assert.ErrorIs(t, err, redis.ErrLockAcquire)
}

func TestDial(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redis.Dial(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	_ = client.Close()

	addr := mr.Addr()
	mr.Close()
	_, err = redis.Dial(context.Background(), addr, "", 0)
	assert.Error(t, err)
}
