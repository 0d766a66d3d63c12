package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const DefaultTTL = 30 * time.Minute

// Manager is the session store contract used by the router and the bot.
// Expiry is evaluated lazily on read; there is no background sweep.
type Manager struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Manager)

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		ttl:    DefaultTTL,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// Get returns the caller's session, creating it when absent and replacing it
// when expired. A store read failure degrades to a fresh in-memory session.
func (m *Manager) Get(ctx context.Context, identity string) Session {
	sess, err := m.load(ctx, identity)
	if err != nil {
		m.logger.Warn("session read failed, using fresh session",
			slog.String("identity", identity),
			slog.String("error", err.Error()))
		return New(identity, m.now())
	}
	return sess
}

// Update merges patch into the stored session and refreshes LastActivityAt.
func (m *Manager) Update(ctx context.Context, identity string, patch Patch) (Session, error) {
	sess, err := m.load(ctx, identity)
	if err != nil {
		return Session{}, err
	}
	patch.apply(&sess)
	sess.LastActivityAt = m.now()
	if err := m.store.Save(ctx, sess); err != nil {
		return Session{}, fmt.Errorf("save session %s: %w", identity, err)
	}
	return sess, nil
}

func (m *Manager) Delete(ctx context.Context, identity string) error {
	if err := m.store.Delete(ctx, identity); err != nil {
		return fmt.Errorf("delete session %s: %w", identity, err)
	}
	return nil
}

// ListActive returns sessions whose last activity falls within window.
func (m *Manager) ListActive(ctx context.Context, window time.Duration) ([]Session, error) {
	if window <= 0 {
		window = m.ttl
	}
	sessions, err := m.store.ListActiveSince(ctx, m.now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return sessions, nil
}

func (m *Manager) load(ctx context.Context, identity string) (Session, error) {
	now := m.now()
	sess, ok, err := m.store.Load(ctx, identity)
	if err != nil {
		return Session{}, fmt.Errorf("load session %s: %w", identity, err)
	}
	if ok && !sess.Expired(now, m.ttl) {
		return sess, nil
	}
	if ok {
		m.logger.Debug("session expired",
			slog.String("identity", identity),
			slog.Time("last_activity_at", sess.LastActivityAt))
	}

	fresh := New(identity, now)
	if err := m.store.Save(ctx, fresh); err != nil {
		m.logger.Warn("persist fresh session failed",
			slog.String("identity", identity),
			slog.String("error", err.Error()))
	}
	return fresh, nil
}
