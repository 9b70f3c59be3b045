package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookitzzz-backend/pkg/instance"
	redisclient "github.com/angelmondragon/bookitzzz-backend/pkg/redis"
)

const defaultLockTTL = 10 * time.Minute

// ErrLocked is returned when another worker already holds a job's lock.
var ErrLocked = errors.New("job is already running")

// Lock coordinates exclusive job runs.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Locker hands out one lock per job name so the scheduled loop, the admin
// trigger and the CLI never sweep at the same time.
type Locker interface {
	ForJob(name string) Lock
}

// redisStore defines the operations used by RedisLock.
type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DelIfValue(ctx context.Context, key, value string) (bool, error)
}

type lockKeyer interface {
	LockKey(name string) string
}

var _ redisStore = (*redisclient.Client)(nil)
var _ lockKeyer = (*redisclient.Client)(nil)

// RedisLock is a single-holder lease on one redis key.
type RedisLock struct {
	client redisStore
	key    string
	ttl    time.Duration
	owner  string
}

// NewRedisLock constructs a Redis-backed lock.
func NewRedisLock(client redisStore, key string, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{client: client, key: key, ttl: ttl}, nil
}

// Acquire tries to own the lock for the configured TTL. The stored value
// names the holding instance so a stuck lock can be traced to its worker.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := instance.GetID() + "/" + uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", l.key, err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

// Release frees the lock only if this holder still owns it. A lock that
// expired and was taken by another worker is left alone.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	owner := l.owner
	l.owner = ""
	if _, err := l.client.DelIfValue(ctx, l.key, owner); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

type redisLockClient interface {
	redisStore
	lockKeyer
}

// RedisLocker builds per-job RedisLocks under the client's lock namespace.
type RedisLocker struct {
	client redisLockClient
	ttl    time.Duration
}

func NewRedisLocker(client redisLockClient, ttl time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client required for locker")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{client: client, ttl: ttl}, nil
}

func (l *RedisLocker) ForJob(name string) Lock {
	return &RedisLock{client: l.client, key: l.client.LockKey(name), ttl: l.ttl}
}

// RunExclusive runs fn while holding lock. It returns ErrLocked without
// running fn when the lock is taken.
func RunExclusive(ctx context.Context, lock Lock, fn func(context.Context) error) (err error) {
	locked, err := lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		return ErrLocked
	}
	defer func() {
		if relErr := lock.Release(context.WithoutCancel(ctx)); relErr != nil && err == nil {
			err = fmt.Errorf("lock release: %w", relErr)
		}
	}()
	return fn(ctx)
}
