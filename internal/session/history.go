package session

import (
	"context"
	"log/slog"
)

const MaxHistory = 20

// History appends exchanges to a session's bounded log. It is diagnostic:
// failures are logged and never returned.
type History struct {
	sessions *Manager
	limit    int
	logger   *slog.Logger
}

func NewHistory(sessions *Manager) *History {
	return &History{sessions: sessions, limit: MaxHistory, logger: sessions.logger}
}

func (h *History) Append(ctx context.Context, identity string, role Role, text string) {
	sess := h.sessions.Get(ctx, identity)
	entries := appendBounded(sess.History, HistoryEntry{Role: role, Text: text, Timestamp: h.sessions.now()}, h.limit)
	if _, err := h.sessions.Update(ctx, identity, Patch{History: &entries}); err != nil {
		h.logger.Warn("history append failed",
			slog.String("identity", identity),
			slog.String("role", string(role)),
			slog.String("error", err.Error()))
	}
}

// appendBounded keeps the most recent limit entries, dropping from the front.
func appendBounded(entries []HistoryEntry, entry HistoryEntry, limit int) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(entries)+1)
	out = append(out, entries...)
	out = append(out, entry)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
