package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockTimeout = errors.New("lock wait timed out")

// releaseScript deletes the lock only if it is still held by the caller.
// KEYS[1] = lock key
// ARGV[1] = owner token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only if the lock is still held by the caller.
// KEYS[1] = lock key
// ARGV[1] = owner token
// ARGV[2] = lease in milliseconds
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker serializes work per identity across processes.
type Locker struct {
	client redis.UniversalClient
	lease  time.Duration
	wait   time.Duration
	poll   time.Duration
}

func NewLocker(client redis.UniversalClient, lease time.Duration) *Locker {
	if lease <= 0 {
		lease = 10 * time.Second
	}
	return &Locker{client: client, lease: lease, wait: lease, poll: 25 * time.Millisecond}
}

func lockKey(identity string) string {
	return "relia:lock:" + identity
}

// Lock blocks until the identity's lock is acquired, the wait deadline passes
// or ctx is cancelled. The lease is renewed in the background until the
// returned func releases the lock.
func (l *Locker) Lock(ctx context.Context, identity string) (func(), error) {
	key := lockKey(identity)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.lease).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock: %w", err)
		}
		if ok {
			stop := make(chan struct{})
			done := make(chan struct{})
			go l.renew(key, token, stop, done)

			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					<-done
					// Release on a fresh context so a cancelled request still frees the lock.
					rctx, cancel := context.WithTimeout(context.Background(), time.Second)
					defer cancel()
					_ = releaseScript.Run(rctx, l.client, []string{key}, token).Err()
				})
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

// renew extends the lease every third of its length until stop is closed or
// the lock is found to belong to someone else.
func (l *Locker) renew(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.lease / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.lease/3)
			held, err := renewScript.Run(ctx, l.client, []string{key}, token, l.lease.Milliseconds()).Int()
			cancel()
			if err == nil && held == 0 {
				return
			}
		}
	}
}
