// Package redis implements domain.DistributedLocker on Redis SET NX PX with a
// compare-and-delete release.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"

	"graphversioner/pkg/domain"
)

// ErrLockAcquire is returned when Redis rejects the acquisition attempt.
var ErrLockAcquire = errors.New("failed to acquire distributed lock")

// DefaultPollInterval is how often a contended lock is retried.
const DefaultPollInterval = 100 * time.Millisecond

var releaseScript = backend.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker implements domain.DistributedLocker using Redis.
type Locker struct {
	client backend.UniversalClient
	prefix string
	poll   time.Duration
}

var _ domain.DistributedLocker = (*Locker)(nil)

// Option configures a Locker.
type Option func(*Locker)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(l *Locker) {
		if d > 0 {
			l.poll = d
		}
	}
}

// NewLocker creates a locker whose keys are prefix + "lock:" + key.
func NewLocker(client backend.UniversalClient, prefix string, opts ...Option) *Locker {
	l := &Locker{client: client, prefix: prefix, poll: DefaultPollInterval}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dial connects to addr and verifies the connection with PING.
func Dial(ctx context.Context, addr, password string, db int) (*backend.Client, error) {
	client := backend.NewClient(&backend.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func (l *Locker) lockKey(key string) string {
	return l.prefix + "lock:" + key
}

// Lock blocks until key is held or ctx is done. Each acquisition stores a
// unique token so a holder whose lock expired cannot release a successor's.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (domain.UnlockFunc, error) {
	lockKey := l.lockKey(key)
	token := uuid.NewString()

	acquired, err := l.tryLock(ctx, lockKey, token, ttl)
	if err != nil {
		return nil, err
	}
	if !acquired {
		ticker := time.NewTicker(l.poll)
		defer ticker.Stop()
		for !acquired {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
			}
			if acquired, err = l.tryLock(ctx, lockKey, token, ttl); err != nil {
				return nil, err
			}
		}
	}

	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{lockKey}, token).Err()
	}, nil
}

func (l *Locker) tryLock(ctx context.Context, lockKey, token string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrLockAcquire, err)
	}
	return ok, nil
}
