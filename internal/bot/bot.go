// Package bot is the inbound entrypoint: one call per message, one reply
// string back, never an error.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/davidahmann/relia-bot/internal/metrics"
	"github.com/davidahmann/relia-bot/internal/router"
	"github.com/davidahmann/relia-bot/internal/session"
)

const Apology = "😕 Sorry, something went wrong. Please try again in a moment."

type Service struct {
	sessions *session.Manager
	history  *session.History
	router   *router.Router
	locker   Locker
	logger   *slog.Logger
}

type Option func(*Service)

func WithLocker(l Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(sessions *session.Manager, r *router.Router, opts ...Option) *Service {
	s := &Service{
		sessions: sessions,
		history:  session.NewHistory(sessions),
		router:   r,
		locker:   NewKeyedMutex(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleMessage processes one message from identity and returns the reply.
// Messages from one identity are handled one at a time.
func (s *Service) HandleMessage(ctx context.Context, identity, text string) (reply string) {
	start := time.Now()
	defer func() {
		metrics.MessageLatency.Observe(time.Since(start).Seconds())
		if rec := recover(); rec != nil {
			metrics.MessageFailures.WithLabelValues("panic").Inc()
			s.logger.Error("message handler panic",
				slog.String("identity", identity),
				slog.String("panic", fmt.Sprint(rec)),
				slog.String("stack", string(debug.Stack())))
			reply = Apology
		}
	}()

	identity = strings.TrimSpace(identity)
	if identity == "" {
		metrics.MessageFailures.WithLabelValues("error").Inc()
		s.logger.Warn("message without identity dropped")
		return Apology
	}

	unlock, err := s.locker.Lock(ctx, identity)
	if err != nil {
		metrics.MessageFailures.WithLabelValues("error").Inc()
		s.logger.Error("acquire identity lock",
			slog.String("identity", identity),
			slog.String("error", err.Error()))
		return Apology
	}
	defer unlock()

	s.history.Append(ctx, identity, session.RoleUser, text)
	sess := s.sessions.Get(ctx, identity)

	out, err := s.router.Route(ctx, sess, text)
	if err != nil {
		metrics.MessageFailures.WithLabelValues("error").Inc()
		s.logger.Error("route message",
			slog.String("identity", identity),
			slog.String("context", string(sess.Context)),
			slog.String("error", err.Error()))
		s.history.Append(ctx, identity, session.RoleSystem, Apology)
		return Apology
	}
	metrics.MessagesTotal.WithLabelValues(string(out.Intent)).Inc()

	if out.Ended {
		if err := s.sessions.Delete(ctx, identity); err != nil {
			s.logger.Error("delete session",
				slog.String("identity", identity),
				slog.String("error", err.Error()))
		}
		return out.Text
	}

	if !out.Patch.Empty() {
		if _, err := s.sessions.Update(ctx, identity, out.Patch); err != nil {
			s.logger.Error("update session",
				slog.String("identity", identity),
				slog.String("intent", string(out.Intent)),
				slog.String("error", err.Error()))
		}
	}
	s.history.Append(ctx, identity, session.RoleSystem, out.Text)
	return out.Text
}
