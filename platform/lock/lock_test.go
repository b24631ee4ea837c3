package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client, "test"), mr
}

func TestAcquireIsExclusive(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "lead:1", time.Minute)
	if err != nil {
		t.Fatalf("expected first acquire to succeed, got %v", err)
	}

	if _, err := locker.Acquire(ctx, "lead:1", time.Minute); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("expected release to succeed, got %v", err)
	}

	if _, err := locker.Acquire(ctx, "lead:1", time.Minute); err != nil {
		t.Fatalf("expected reacquire after release, got %v", err)
	}
}

func TestReleaseAfterExpiryFails(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	lk, err := locker.Acquire(ctx, "cycle", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mr.FastForward(2 * time.Second)

	other, err := locker.Acquire(ctx, "cycle", time.Minute)
	if err != nil {
		t.Fatalf("expected acquire after expiry, got %v", err)
	}
	if err := lk.Release(ctx); err == nil {
		t.Fatalf("expected stale holder release to fail")
	}
	if !mr.Exists(other.Key()) {
		t.Fatalf("expected new holder key to survive stale release")
	}
}

func TestExtend(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	lk, err := locker.Acquire(ctx, "lead:2", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := lk.Extend(ctx, time.Minute); err != nil {
		t.Fatalf("extend: %v", err)
	}
	if ttl := mr.TTL(lk.Key()); ttl < 30*time.Second {
		t.Fatalf("expected extended ttl, got %v", ttl)
	}
}

func TestHeartbeatKeepsLockAlive(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	lk, err := locker.Acquire(ctx, "cycle", 300*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mr.FastForward(250 * time.Millisecond)

	stop := lk.Heartbeat(ctx, 300*time.Millisecond, func(err error) {
		t.Errorf("unexpected lost lock: %v", err)
	})
	deadline := time.Now().Add(2 * time.Second)
	for mr.TTL(lk.Key()) <= 100*time.Millisecond {
		if time.Now().After(deadline) {
			t.Fatalf("heartbeat never extended the lock, ttl %v", mr.TTL(lk.Key()))
		}
		time.Sleep(10 * time.Millisecond)
	}
	stop()
	stop()

	mr.FastForward(time.Second)
	if mr.Exists(lk.Key()) {
		t.Fatalf("expected lock to expire once the heartbeat stopped")
	}
}

func TestHeartbeatReportsLostLock(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	lk, err := locker.Acquire(ctx, "cycle", 60*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mr.Del(lk.Key())

	lost := make(chan error, 1)
	stop := lk.Heartbeat(ctx, 60*time.Millisecond, func(err error) { lost <- err })
	defer stop()

	select {
	case err := <-lost:
		if err == nil {
			t.Fatal("expected an error for the lost lock")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("lost lock was not reported")
	}
}
