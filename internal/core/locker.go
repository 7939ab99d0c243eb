package core

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"graphversioner/pkg/domain"
)

// DefaultLockTTL bounds how long a distributed entity lock survives a crashed
// holder.
const DefaultLockTTL = 30 * time.Second

// lockEntry is a one-slot semaphore so waiters can give up when their
// context ends.
type lockEntry struct {
	sem  chan struct{}
	refs int
}

// EntityLocks serializes transitions per entity. Within a process it uses a
// reference-counted lock per key; when a DistributedLocker is configured the
// lock is additionally taken there.
type EntityLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry

	locker domain.DistributedLocker
	ttl    time.Duration
	logger Logger
}

// NewEntityLocks builds a lock table. locker may be nil.
func NewEntityLocks(locker domain.DistributedLocker, ttl time.Duration, logger Logger) *EntityLocks {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &EntityLocks{
		locks:  make(map[string]*lockEntry),
		locker: locker,
		ttl:    ttl,
		logger: logger,
	}
}

// EntityKey names the lock guarding one entity's history.
func EntityKey(id domain.NodeID) string {
	return "entity:" + strconv.FormatInt(int64(id), 10)
}

func (l *EntityLocks) acquire(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	return entry
}

func (l *EntityLocks) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.locks[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, key)
	}
}

// held reports the number of keys with at least one holder or waiter.
func (l *EntityLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// WithLock runs fn while holding the lock for key. A caller whose ctx ends
// while waiting returns ctx.Err() without running fn.
func (l *EntityLocks) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	entry := l.acquire(key)
	defer l.release(key)
	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("wait for lock %s: %w", key, ctx.Err())
	}
	defer func() { <-entry.sem }()

	if l.locker != nil {
		unlock, err := l.locker.Lock(ctx, key, l.ttl)
		if err != nil {
			return fmt.Errorf("acquire distributed lock %s: %w", key, err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				l.logger.Warn("release distributed lock failed; it will expire", "key", key, "err", err)
			}
		}()
	}
	return fn(ctx)
}
