package ledger

import (
	"errors"
	"testing"
	"time"
)

func float(v float64) *float64 { return &v }

func TestInMemoryStore_CRUD(t *testing.T) {
	s := NewInMemoryStore()

	sess := SessionRecord{Identity: "972501234567", Context: "MENU", BodyJSON: []byte(`{}`), CreatedAt: "2025-12-20T00:00:00.000Z", LastActivityAt: "2025-12-20T00:10:00.000Z"}
	if err := s.PutSession(sess); err != nil {
		t.Fatalf("put session: %v", err)
	}
	if got, ok, err := s.GetSession("972501234567"); err != nil || !ok || got.Context != "MENU" {
		t.Fatalf("get session mismatch: ok=%v err=%v got=%+v", ok, err, got)
	}
	if active, err := s.ListSessionsActiveSince("2025-12-20T00:05:00.000Z"); err != nil || len(active) != 1 {
		t.Fatalf("list active mismatch: err=%v len=%d", err, len(active))
	}
	if active, err := s.ListSessionsActiveSince("2025-12-20T00:15:00.000Z"); err != nil || len(active) != 0 {
		t.Fatalf("expected no active sessions: err=%v len=%d", err, len(active))
	}
	if err := s.DeleteSession("972501234567"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, _ := s.GetSession("972501234567"); ok {
		t.Fatalf("expected session deleted")
	}

	req := RequestRecord{RequestID: "r1", WorkItemID: "w1", Status: RequestPending, RequestedQuantity: 8, RequestedBy: "u1", CreatedAt: "2025-12-20T00:00:00.000Z", UpdatedAt: "2025-12-20T00:00:00.000Z"}
	if err := s.PutRequest(req); err != nil {
		t.Fatalf("put request: %v", err)
	}
	if got, ok, err := s.GetRequest("r1"); err != nil || !ok || got.WorkItemID != "w1" {
		t.Fatalf("get request mismatch: ok=%v err=%v got=%+v", ok, err, got)
	}

	item := WorkItemRecord{WorkItemID: "w1", RequestID: "r1", Status: WorkItemPending, CreatedAt: "now", UpdatedAt: "now"}
	if err := s.PutWorkItem(item); err != nil {
		t.Fatalf("put work item: %v", err)
	}
	if got, ok, err := s.GetWorkItem("w1"); err != nil || !ok || got.RequestID != "r1" {
		t.Fatalf("get work item mismatch: ok=%v err=%v got=%+v", ok, err, got)
	}

	notice := NoticeRecord{NoticeID: "n1", To: "u1", Message: "m", RequestID: "r1", Status: NoticePending, NextAttemptAt: "2025-12-20T00:00:00.000Z", CreatedAt: "now", UpdatedAt: "now"}
	if err := s.PutNotice(notice); err != nil {
		t.Fatalf("put notice: %v", err)
	}
	if got, ok, err := s.GetNotice("n1"); err != nil || !ok || got.To != "u1" {
		t.Fatalf("get notice mismatch: ok=%v err=%v got=%+v", ok, err, got)
	}
	if due, err := s.ListNoticesDue("2025-12-20T00:00:01.000Z", 10); err != nil || len(due) != 1 {
		t.Fatalf("list due mismatch: err=%v len=%d", err, len(due))
	}
	if due, err := s.ListNoticesDue("2025-12-19T00:00:00.000Z", 10); err != nil || len(due) != 0 {
		t.Fatalf("expected nothing due: err=%v len=%d", err, len(due))
	}
}

func TestInMemoryStore_ListRequestsNewestFirst(t *testing.T) {
	s := NewInMemoryStore()
	for i, id := range []string{"a", "b", "c"} {
		created := FormatTime(time.Date(2025, 12, 20, 0, i, 0, 0, time.UTC))
		_ = s.PutRequest(RequestRecord{RequestID: id, Status: RequestPending, CreatedAt: created, UpdatedAt: created})
	}
	_ = s.PutRequest(RequestRecord{RequestID: "d", Status: RequestApproved, CreatedAt: "2025-12-21T00:00:00.000Z"})

	got, err := s.ListRequests(RequestPending, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].RequestID != "c" || got[1].RequestID != "b" {
		t.Fatalf("unexpected order: %+v", got)
	}

	all, _ := s.ListRequests("", 0)
	if len(all) != 4 || all[0].RequestID != "d" {
		t.Fatalf("unexpected list: %+v", all)
	}
}

func TestInMemoryStore_TransitionIsConditional(t *testing.T) {
	s := NewInMemoryStore()
	_ = s.PutRequest(RequestRecord{RequestID: "r1", Status: RequestPending})

	tr := RequestTransition{RequestID: "r1", Status: RequestApproved, DecidedBy: "boss", DecidedAt: "t1", FinalQuantity: float(5)}
	if err := s.WithTx(func(tx Tx) error { return tx.TransitionRequest(tr) }); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	tr.Status = RequestRejected
	err := s.WithTx(func(tx Tx) error { return tx.TransitionRequest(tr) })
	if !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, _, _ := s.GetRequest("r1")
	if got.Status != RequestApproved || got.FinalQuantity == nil || *got.FinalQuantity != 5 {
		t.Fatalf("unexpected request: %+v", got)
	}

	stats, err := s.RequestStats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Counts[RequestApproved] != 1 || stats.ApprovedQuantity != 5 || stats.Total() != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestInMemoryStore_WithTxRollback(t *testing.T) {
	s := NewInMemoryStore()
	_ = s.PutRequest(RequestRecord{RequestID: "r1", Status: RequestPending})
	_ = s.PutWorkItem(WorkItemRecord{WorkItemID: "w1", RequestID: "r1", Status: WorkItemPending})

	boom := errors.New("boom")
	err := s.WithTx(func(tx Tx) error {
		if err := tx.TransitionRequest(RequestTransition{RequestID: "r1", Status: RequestRejected, DecidedAt: "t"}); err != nil {
			return err
		}
		if err := tx.DeleteWorkItem("w1"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	req, _, _ := s.GetRequest("r1")
	if req.Status != RequestPending {
		t.Fatalf("expected request untouched, got %s", req.Status)
	}
	if _, ok, _ := s.GetWorkItem("w1"); !ok {
		t.Fatalf("expected work item to survive rollback")
	}
}
