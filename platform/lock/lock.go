// Package lock provides Redis-backed mutual exclusion shared by every process
// that runs the pipeline (API webhook workers and the scheduler).
package lock

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the key is held by someone else.
var ErrNotAcquired = errors.New("lock already held")

const (
	unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

// Locker hands out locks under a common key prefix.
type Locker struct {
	client redis.UniversalClient
	prefix string
}

// NewLocker creates a Locker. Keys are namespaced as "<prefix>:<name>".
func NewLocker(client redis.UniversalClient, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// Lock is a held lock. The token ensures only the holder can release or extend it.
type Lock struct {
	client redis.UniversalClient
	key    string
	token  string
}

// Acquire tries once to take the lock for ttl.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	key := l.prefix + ":" + name
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("acquire %s: %w", key, ErrNotAcquired)
	}
	return &Lock{client: l.client, key: key, token: token}, nil
}

// AcquireWait retries Acquire with jittered backoff until wait elapses.
func (l *Locker) AcquireWait(ctx context.Context, name string, ttl, wait time.Duration) (*Lock, error) {
	deadline := time.Now().Add(wait)
	for {
		lk, err := l.Acquire(ctx, name, ttl)
		if err == nil || !errors.Is(err, ErrNotAcquired) {
			return lk, err
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(25+rand.IntN(75)) * time.Millisecond):
		}
	}
}

// Release deletes the key if this lock still owns it.
func (lk *Lock) Release(ctx context.Context) error {
	if lk == nil {
		return nil
	}
	result, err := lk.client.Eval(ctx, unlockScript, []string{lk.key}, lk.token).Result()
	if err != nil {
		return fmt.Errorf("release %s: %w", lk.key, err)
	}
	if result == int64(0) {
		return fmt.Errorf("release %s: lock expired or held by another owner", lk.key)
	}
	return nil
}

// Extend pushes the expiry out by ttl if this lock still owns the key.
func (lk *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	result, err := lk.client.Eval(ctx, extendScript, []string{lk.key}, lk.token, ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("extend %s: %w", lk.key, err)
	}
	if result == int64(0) {
		return fmt.Errorf("extend %s: lock expired or held by another owner", lk.key)
	}
	return nil
}

// Heartbeat extends the lock by ttl every ttl/3 until the returned stop func is
// called or ctx ends. onLost is called once if an extension fails, after which
// the heartbeat stops. stop waits for the goroutine to exit.
func (lk *Lock) Heartbeat(ctx context.Context, ttl time.Duration, onLost func(error)) (stop func()) {
	interval := ttl / 3
	if interval <= 0 {
		interval = ttl
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lk.Extend(ctx, ttl); err != nil {
					if ctx.Err() == nil && onLost != nil {
						onLost(err)
					}
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		<-exited
	}
}

// Key returns the fully qualified Redis key.
func (lk *Lock) Key() string {
	return lk.key
}
