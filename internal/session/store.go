package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/davidahmann/relia-bot/internal/ledger"
)

// Store persists sessions. Implementations must be shareable across service
// instances; the in-process maps of ledger.InMemoryStore are for development
// and tests only.
type Store interface {
	Load(ctx context.Context, identity string) (Session, bool, error)
	Save(ctx context.Context, sess Session) error
	Delete(ctx context.Context, identity string) error
	ListActiveSince(ctx context.Context, since time.Time) ([]Session, error)
}

// LedgerStore keeps sessions as JSON bodies in the ledger sessions table.
type LedgerStore struct {
	Ledger ledger.Store
}

func NewLedgerStore(store ledger.Store) *LedgerStore {
	return &LedgerStore{Ledger: store}
}

func (s *LedgerStore) Load(ctx context.Context, identity string) (Session, bool, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, false, err
	}
	rec, ok, err := s.Ledger.GetSession(identity)
	if err != nil || !ok {
		return Session{}, false, err
	}
	sess, err := decodeRecord(rec)
	if err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}

func (s *LedgerStore) Save(ctx context.Context, sess Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.Ledger.PutSession(ledger.SessionRecord{
		Identity:       sess.Identity,
		Context:        string(sess.Context),
		BodyJSON:       body,
		CreatedAt:      ledger.FormatTime(sess.CreatedAt),
		LastActivityAt: ledger.FormatTime(sess.LastActivityAt),
	})
}

func (s *LedgerStore) Delete(ctx context.Context, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Ledger.DeleteSession(identity)
}

func (s *LedgerStore) ListActiveSince(ctx context.Context, since time.Time) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recs, err := s.Ledger.ListSessionsActiveSince(ledger.FormatTime(since))
	if err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(recs))
	for _, rec := range recs {
		sess, err := decodeRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func decodeRecord(rec ledger.SessionRecord) (Session, error) {
	var sess Session
	if err := json.Unmarshal(rec.BodyJSON, &sess); err != nil {
		return Session{}, err
	}
	if sess.Identity == "" {
		sess.Identity = rec.Identity
	}
	if !sess.Context.Valid() {
		sess.Context = ContextMenu
	}
	if sess.History == nil {
		sess.History = []HistoryEntry{}
	}
	return sess, nil
}
