// Package redisstore keeps sessions in Redis so that several bot instances
// can share conversation state, and provides a per-identity lock for
// serializing message handling across those instances.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/davidahmann/relia-bot/internal/session"
)

const (
	defaultPrefix = "relia:session:"
	activityKey   = "relia:session-activity"
)

// Store implements session.Store. Each session is a JSON string under its own
// key; a sorted set scored by last activity backs ListActiveSince.
type Store struct {
	client redis.UniversalClient
	prefix string
	// keyTTL bounds how long Redis retains a session. It only garbage
	// collects; expiry semantics stay with session.Manager.
	keyTTL time.Duration
}

func New(client redis.UniversalClient, sessionTTL time.Duration) *Store {
	keyTTL := 2 * sessionTTL
	if keyTTL <= 0 {
		keyTTL = 2 * session.DefaultTTL
	}
	return &Store{client: client, prefix: defaultPrefix, keyTTL: keyTTL}
}

// Dial opens a client for addr and verifies connectivity.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

func (s *Store) key(identity string) string {
	return s.prefix + identity
}

func (s *Store) Load(ctx context.Context, identity string) (session.Session, bool, error) {
	raw, err := s.client.Get(ctx, s.key(identity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return session.Session{}, false, nil
	}
	if err != nil {
		return session.Session{}, false, fmt.Errorf("redis get session: %w", err)
	}
	var sess session.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return session.Session{}, false, fmt.Errorf("decode session: %w", err)
	}
	normalize(&sess, identity)
	return sess, true, nil
}

func (s *Store) Save(ctx context.Context, sess session.Session) error {
	body, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.Identity), body, s.keyTTL)
		pipe.ZAdd(ctx, activityKey, redis.Z{
			Score:  activityScore(sess.LastActivityAt),
			Member: sess.Identity,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save session: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, identity string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(identity))
		pipe.ZRem(ctx, activityKey, identity)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

func (s *Store) ListActiveSince(ctx context.Context, since time.Time) ([]session.Session, error) {
	ids, err := s.client.ZRevRangeByScore(ctx, activityKey, &redis.ZRangeBy{
		Min: strconv.FormatFloat(activityScore(since), 'f', -1, 64),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list sessions: %w", err)
	}
	out := make([]session.Session, 0, len(ids))
	for _, id := range ids {
		sess, ok, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Key expired under its TTL; drop the stale index entry.
			s.client.ZRem(ctx, activityKey, id)
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

func activityScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func normalize(sess *session.Session, identity string) {
	if sess.Identity == "" {
		sess.Identity = identity
	}
	if !sess.Context.Valid() {
		sess.Context = session.ContextMenu
	}
	if sess.History == nil {
		sess.History = []session.HistoryEntry{}
	}
}
