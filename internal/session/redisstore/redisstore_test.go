package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/davidahmann/relia-bot/internal/session"
)

func TestDialUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Dial(ctx, "127.0.0.1:1", "", 0); err == nil {
		t.Fatalf("expected dial error for closed port")
	}
}

func TestKeyTTLDefaults(t *testing.T) {
	s := New(nil, 0)
	if s.keyTTL != 2*session.DefaultTTL {
		t.Fatalf("unexpected key ttl %s", s.keyTTL)
	}
	if got := s.key("972501234567"); got != "relia:session:972501234567" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := lockKey("u1"); got != "relia:lock:u1" {
		t.Fatalf("unexpected lock key %q", got)
	}
}

func TestNormalize(t *testing.T) {
	sess := session.Session{Context: "nope"}
	normalize(&sess, "u1")
	if sess.Identity != "u1" || sess.Context != session.ContextMenu || sess.History == nil {
		t.Fatalf("unexpected normalized session: %+v", sess)
	}
}

// The tests below need a running Redis; they skip when none answers.
func integrationClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("RELIA_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rdb, err := Dial(ctx, addr, "", 15)
	if err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestStore_Integration(t *testing.T) {
	rdb := integrationClient(t)
	ctx := context.Background()
	store := New(rdb, time.Minute)
	store.prefix = "relia:test-session:"

	identity := "redis-it-" + time.Now().Format("150405.000")
	t.Cleanup(func() { _ = store.Delete(context.Background(), identity) })

	now := time.Now().UTC()
	sess := session.New(identity, now)
	sess.Context = session.ContextStats
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := store.Load(ctx, identity)
	if err != nil || !ok || got.Context != session.ContextStats {
		t.Fatalf("load: ok=%v err=%v sess=%+v", ok, err, got)
	}

	active, err := store.ListActiveSince(ctx, now.Add(-time.Second))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	found := false
	for _, a := range active {
		if a.Identity == identity {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %s in active sessions", identity)
	}

	if err := store.Delete(ctx, identity); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, err := store.Load(ctx, identity); err != nil || ok {
		t.Fatalf("expected deleted session: ok=%v err=%v", ok, err)
	}
}

func TestLocker_Integration(t *testing.T) {
	rdb := integrationClient(t)
	locker := NewLocker(rdb, 2*time.Second)
	locker.wait = 100 * time.Millisecond
	ctx := context.Background()
	identity := "lock-it-" + time.Now().Format("150405.000")

	unlock, err := locker.Lock(ctx, identity)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	if _, err := locker.Lock(ctx, identity); err != ErrLockTimeout {
		t.Fatalf("expected lock timeout, got %v", err)
	}

	unlock()
	unlock2, err := locker.Lock(ctx, identity)
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	unlock2()
}

func TestLocker_RenewsLeaseWhileHeld(t *testing.T) {
	rdb := integrationClient(t)
	locker := NewLocker(rdb, 300*time.Millisecond)
	locker.wait = 50 * time.Millisecond
	ctx := context.Background()
	identity := "lock-renew-" + time.Now().Format("150405.000")

	unlock, err := locker.Lock(ctx, identity)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	time.Sleep(time.Second)

	if _, err := locker.Lock(ctx, identity); err != ErrLockTimeout {
		t.Fatalf("expected lock still held past its lease, got %v", err)
	}

	unlock()
	unlock()
	if n, err := rdb.Exists(ctx, lockKey(identity)).Result(); err != nil || n != 0 {
		t.Fatalf("expected lock key removed, exists=%d err=%v", n, err)
	}
}
