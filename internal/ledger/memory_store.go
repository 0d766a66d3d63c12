package ledger

import (
	"maps"
	"sort"
	"sync"
)

// InMemoryStore is the development ledger. Transactions run on copies of the
// record maps which replace the live maps only when fn succeeds, so readers
// never observe a partially applied transaction.
type InMemoryStore struct {
	mu sync.Mutex

	sessions  map[string]SessionRecord
	requests  map[string]RequestRecord
	workItems map[string]WorkItemRecord
	notices   map[string]NoticeRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:  make(map[string]SessionRecord),
		requests:  make(map[string]RequestRecord),
		workItems: make(map[string]WorkItemRecord),
		notices:   make(map[string]NoticeRecord),
	}
}

type memTx struct {
	requests  map[string]RequestRecord
	workItems map[string]WorkItemRecord
	notices   map[string]NoticeRecord
}

func (s *InMemoryStore) WithTx(fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		requests:  maps.Clone(s.requests),
		workItems: maps.Clone(s.workItems),
		notices:   maps.Clone(s.notices),
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.requests = tx.requests
	s.workItems = tx.workItems
	s.notices = tx.notices
	return nil
}

func (s *InMemoryStore) PutSession(rec SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.Identity] = rec
	return nil
}

func (s *InMemoryStore) GetSession(identity string) (SessionRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[identity]
	return rec, ok, nil
}

func (s *InMemoryStore) DeleteSession(identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, identity)
	return nil
}

func (s *InMemoryStore) ListSessionsActiveSince(since string) ([]SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []SessionRecord{}
	for _, rec := range s.sessions {
		if rec.LastActivityAt >= since {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt > out[j].LastActivityAt })
	return out, nil
}

func (s *InMemoryStore) PutRequest(rec RequestRecord) error {
	return s.WithTx(func(tx Tx) error { return tx.PutRequest(rec) })
}

func (s *InMemoryStore) GetRequest(requestID string) (RequestRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.requests[requestID]
	return rec, ok, nil
}

func (s *InMemoryStore) ListRequests(status string, limit int) ([]RequestRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []RequestRecord{}
	for _, rec := range s.requests {
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].RequestID > out[j].RequestID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) RequestStats() (RequestStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := RequestStats{Counts: make(map[string]int)}
	for _, rec := range s.requests {
		stats.Counts[rec.Status]++
		if (rec.Status == RequestApproved || rec.Status == RequestModified) && rec.FinalQuantity != nil {
			stats.ApprovedQuantity += *rec.FinalQuantity
		}
	}
	return stats, nil
}

func (s *InMemoryStore) PutWorkItem(rec WorkItemRecord) error {
	return s.WithTx(func(tx Tx) error { return tx.PutWorkItem(rec) })
}

func (s *InMemoryStore) GetWorkItem(workItemID string) (WorkItemRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.workItems[workItemID]
	return rec, ok, nil
}

func (s *InMemoryStore) PutNotice(rec NoticeRecord) error {
	return s.WithTx(func(tx Tx) error { return tx.PutNotice(rec) })
}

func (s *InMemoryStore) GetNotice(noticeID string) (NoticeRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.notices[noticeID]
	return rec, ok, nil
}

func (s *InMemoryStore) ListNoticesDue(now string, limit int) ([]NoticeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []NoticeRecord{}
	for _, rec := range s.notices {
		if rec.Status != NoticePending {
			continue
		}
		if rec.NextAttemptAt > now {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) PutRequest(rec RequestRecord) error {
	t.requests[rec.RequestID] = rec
	return nil
}

func (t *memTx) GetRequest(requestID string) (RequestRecord, bool, error) {
	rec, ok := t.requests[requestID]
	return rec, ok, nil
}

func (t *memTx) TransitionRequest(tr RequestTransition) error {
	rec, ok := t.requests[tr.RequestID]
	if !ok || rec.Status != RequestPending {
		return ErrStatusConflict
	}
	rec.Status = tr.Status
	rec.DecidedBy = &tr.DecidedBy
	rec.DecidedByName = &tr.DecidedByName
	rec.DecidedAt = &tr.DecidedAt
	rec.FinalQuantity = tr.FinalQuantity
	rec.RejectionReason = tr.RejectionReason
	rec.UpdatedAt = tr.DecidedAt
	t.requests[tr.RequestID] = rec
	return nil
}

func (t *memTx) PutWorkItem(rec WorkItemRecord) error {
	t.workItems[rec.WorkItemID] = rec
	return nil
}

func (t *memTx) GetWorkItem(workItemID string) (WorkItemRecord, bool, error) {
	rec, ok := t.workItems[workItemID]
	return rec, ok, nil
}

func (t *memTx) DeleteWorkItem(workItemID string) error {
	delete(t.workItems, workItemID)
	return nil
}

func (t *memTx) PutNotice(rec NoticeRecord) error {
	t.notices[rec.NoticeID] = rec
	return nil
}
