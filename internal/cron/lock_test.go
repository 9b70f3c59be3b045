package cron

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

type memoryRedis struct {
	data map[string]string
}

func newMemoryRedis() *memoryRedis { return &memoryRedis{data: map[string]string{}} }

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryRedis) DelIfValue(_ context.Context, key, value string) (bool, error) {
	if v, ok := m.data[key]; !ok || v != value {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}

func (m *memoryRedis) LockKey(name string) string { return "bk:lock:" + name }

func TestRedisLockerIsolatesJobs(t *testing.T) {
	store := newMemoryRedis()
	locker, err := NewRedisLocker(store, time.Minute)
	if err != nil {
		t.Fatalf("new locker: %v", err)
	}
	ctx := context.Background()

	sweep := locker.ForJob("overdue-sweep")
	if ok, err := sweep.Acquire(ctx); err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, ok=%v err=%v", ok, err)
	}
	if ok, _ := locker.ForJob("overdue-sweep").Acquire(ctx); ok {
		t.Fatalf("second holder should not acquire the same job lock")
	}
	if ok, _ := locker.ForJob("outbox-retention").Acquire(ctx); !ok {
		t.Fatalf("a different job should have its own lock")
	}
	if _, ok := store.data["bk:lock:overdue-sweep"]; !ok {
		t.Fatalf("expected namespaced lock key")
	}

	if err := sweep.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := locker.ForJob("overdue-sweep").Acquire(ctx); !ok {
		t.Fatalf("expected lock to be free after release")
	}
}

func TestRedisLockReleaseKeepsForeignOwner(t *testing.T) {
	store := newMemoryRedis()
	lock, err := NewRedisLock(store, "bk:lock:job", time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	ctx := context.Background()
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatalf("acquire failed")
	}
	// simulate expiry followed by another worker taking over
	store.data["bk:lock:job"] = "someone-else"
	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if store.data["bk:lock:job"] != "someone-else" {
		t.Fatalf("release must not delete a lock owned by another worker")
	}
}

func TestRunExclusive(t *testing.T) {
	lock := &fakeLock{}
	ran := 0
	err := RunExclusive(context.Background(), lock, func(context.Context) error {
		ran++
		if err := RunExclusive(context.Background(), lock, func(context.Context) error {
			ran++
			return nil
		}); !errors.Is(err, ErrLocked) {
			t.Fatalf("expected nested run to be locked out, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run exclusive: %v", err)
	}
	if ran != 1 {
		t.Fatalf("expected fn to run once, ran %d", ran)
	}
	if lock.acquired {
		t.Fatalf("lock should be released")
	}

	boom := errors.New("boom")
	if err := RunExclusive(context.Background(), lock, func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if lock.acquired {
		t.Fatalf("lock should be released after failure")
	}
}

func TestRedisLockOwnerNamesInstance(t *testing.T) {
	t.Setenv("BOOKITZZZ_INSTANCE_ID", "worker.2")
	store := newMemoryRedis()
	lock, err := NewRedisLock(store, "bk:lock:overdue-sweep", time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	ok, err := lock.Acquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	if owner := store.data["bk:lock:overdue-sweep"]; !strings.HasPrefix(owner, "worker.2/") {
		t.Fatalf("expected owner to carry the instance id, got %q", owner)
	}
	if err := lock.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, held := store.data["bk:lock:overdue-sweep"]; held {
		t.Fatal("expected release to clear the key")
	}
}
