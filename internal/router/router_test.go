package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/davidahmann/relia-bot/internal/approval"
	"github.com/davidahmann/relia-bot/internal/identity"
	"github.com/davidahmann/relia-bot/internal/ledger"
	"github.com/davidahmann/relia-bot/internal/session"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	store  *ledger.InMemoryStore
	engine *approval.Engine
	router *Router
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: ledger.NewInMemoryStore(), clock: time.Date(2025, 12, 20, 8, 0, 0, 0, time.UTC)}
	f.engine = approval.NewEngine(f.store,
		approval.WithClock(func() time.Time {
			f.clock = f.clock.Add(time.Second)
			return f.clock
		}),
		approval.WithLogger(quiet),
	)
	roster, err := identity.NewRoster([]identity.Member{{Profile: identity.Profile{Name: "Dana", Role: "admin"}, Phone: "972502222222"}})
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	f.router = New(f.engine, roster, quiet)
	return f
}

func (f *fixture) submit(t *testing.T, id string, qty float64) {
	t.Helper()
	if _, err := f.engine.Submit(context.Background(), approval.SubmitInput{
		RequestID:       id,
		Quantity:        qty,
		RequestedBy:     "972501111111",
		RequestedByName: "Noa",
		Subject:         "Task " + id,
		SubjectLabel:    "Acme",
	}); err != nil {
		t.Fatalf("submit %s: %v", id, err)
	}
}

func listSession(refs ...string) session.Session {
	sess := session.New("972502222222", time.Now())
	sess.Context = session.ContextPendingList
	sess.Scratch = session.Scratch{ItemRefs: refs}
	return sess
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"  HÉLLO   Wörld ": "hello world",
		"Approvè\t2":       "approve 2",
		"ÇA VA":            "ca va",
		"":                 "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		ctx  session.Context
		text string
		want Intent
	}{
		{session.ContextMenu, "hi", IntentMenu},
		{session.ContextStats, "Hello!", IntentMenu},
		{session.ContextPendingList, "menu", IntentMenu},
		{session.ContextMenu, "?", IntentHelp},
		{session.ContextMenu, "4", IntentHelp},
		{session.ContextStats, "bye", IntentCancel},
		{session.ContextMenu, "approve 2", IntentDecision},
		{session.ContextStats, "reject 1 no budget", IntentDecision},
		{session.ContextPendingList, "3", IntentItemDetail},
		{session.ContextPendingList, "0", IntentFallback},
		{session.ContextMenu, "1", IntentPendingList},
		{session.ContextMenu, "pending", IntentPendingList},
		{session.ContextMenu, "2", IntentStats},
		{session.ContextMenu, "3", IntentSendMessage},
		{session.ContextStats, "refresh", IntentStats},
		{session.ContextMenu, "refresh", IntentFallback},
		{session.ContextStats, "what now", IntentFallback},
		{session.ContextMenu, "okay then", IntentFallback},
		{session.ContextMenu, "ok", IntentFallback},
		{session.ContextPendingList, "ok 3", IntentFallback},
	}
	for _, tc := range cases {
		if got := Classify(tc.ctx, Normalize(tc.text)); got != tc.want {
			t.Fatalf("Classify(%s, %q) = %s, want %s", tc.ctx, tc.text, got, tc.want)
		}
	}
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision("approve 2", "approve 2")
	if err != nil || d.Action != approval.ActionApprove || d.Ordinal != 2 || d.Quantity != nil {
		t.Fatalf("unexpected decision: %+v err=%v", d, err)
	}

	d, err = ParseDecision("Approve 2 90", "approve 2 90")
	if err != nil || d.Ordinal != 2 || d.Quantity == nil || *d.Quantity != 90 {
		t.Fatalf("unexpected override decision: %+v err=%v", d, err)
	}

	raw := "Reject 3: Over Budget for Q4"
	d, err = ParseDecision(raw, Normalize(raw))
	if err != nil || d.Action != approval.ActionReject || d.Ordinal != 3 || d.Reason != "Over Budget for Q4" {
		t.Fatalf("unexpected reject decision: %+v err=%v", d, err)
	}

	d, err = ParseDecision("reject 1", "reject 1")
	if err != nil || d.Reason != "" {
		t.Fatalf("expected empty reason, got %+v err=%v", d, err)
	}

	errCases := map[string]error{
		"approve or reject 1": ErrAmbiguousAction,
		"approve":             ErrNoOrdinal,
		"approve 1.5":         ErrNoOrdinal,
		"approve -1":          ErrNoOrdinal,
		"approve 2 0":         ErrBadQuantity,
		"approve 2 -5":        ErrBadQuantity,
		"hello 2":             ErrNoAction,
	}
	for text, want := range errCases {
		if _, err := ParseDecision(text, Normalize(text)); !errors.Is(err, want) {
			t.Fatalf("ParseDecision(%q) err = %v, want %v", text, err, want)
		}
	}
}

func TestRouteOrdinalResolution(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"A", "B", "C"} {
		f.submit(t, id, 60)
	}
	sess := listSession("A", "B", "C")

	reply, err := f.router.Route(context.Background(), sess, "approve 2")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if reply.Intent != IntentDecision || !strings.Contains(reply.Text, "approved by Dana: 60") {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	for id, want := range map[string]string{"A": ledger.RequestPending, "B": ledger.RequestApproved, "C": ledger.RequestPending} {
		rec, _, _ := f.store.GetRequest(id)
		if rec.Status != want {
			t.Fatalf("request %s status %s, want %s", id, rec.Status, want)
		}
	}
	b, _, _ := f.store.GetRequest("B")
	if b.FinalQuantity == nil || *b.FinalQuantity != 60 {
		t.Fatalf("expected requested quantity preserved, got %+v", b.FinalQuantity)
	}
}

func TestRouteApproveWithOverride(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"A", "B", "C"} {
		f.submit(t, id, 60)
	}

	reply, err := f.router.Route(context.Background(), listSession("A", "B", "C"), "approve 2 90")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !strings.Contains(reply.Text, "90 (requested 60)") {
		t.Fatalf("unexpected reply: %q", reply.Text)
	}
	b, _, _ := f.store.GetRequest("B")
	if b.Status != ledger.RequestModified || *b.FinalQuantity != 90 {
		t.Fatalf("unexpected request B: %+v", b)
	}
}

func TestRouteDecisionFromMenuUsesSnapshot(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "A", 5)
	sess := listSession("A")
	sess.Context = session.ContextMenu

	reply, err := f.router.Route(context.Background(), sess, "reject 1 not now")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !strings.Contains(reply.Text, "rejected by Dana") || !strings.Contains(reply.Text, "not now") {
		t.Fatalf("unexpected reply: %q", reply.Text)
	}
}

func TestRouteDecisionNotFoundAndUsage(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "A", 5)
	sess := listSession("A")

	reply, err := f.router.Route(context.Background(), sess, "approve 4")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !strings.Contains(reply.Text, "Item 4 was not found") || !reply.Patch.Empty() {
		t.Fatalf("unexpected not-found reply: %+v", reply)
	}

	reply, err = f.router.Route(context.Background(), sess, "approve please")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !strings.Contains(reply.Text, "Which item?") || !reply.Patch.Empty() {
		t.Fatalf("unexpected usage reply: %+v", reply)
	}

	if rec, _, _ := f.store.GetRequest("A"); rec.Status != ledger.RequestPending {
		t.Fatalf("request mutated by failed command: %s", rec.Status)
	}
}

func TestRouteAlreadyDecided(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "A", 5)
	sess := listSession("A")
	ctx := context.Background()

	if _, err := f.router.Route(ctx, sess, "approve 1"); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	reply, err := f.router.Route(ctx, sess, "approve 1 9")
	if err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if !strings.Contains(reply.Text, "already handled by Dana") {
		t.Fatalf("unexpected reply: %q", reply.Text)
	}
}

func TestRoutePendingListSnapshot(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 12; i++ {
		f.submit(t, fmt.Sprintf("req-%02d", i), float64(i))
	}
	sess := session.New("972502222222", time.Now())

	reply, err := f.router.Route(context.Background(), sess, "1")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if reply.Intent != IntentPendingList || reply.Patch.Context == nil || *reply.Patch.Context != session.ContextPendingList {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	refs := reply.Patch.Scratch.ItemRefs
	if len(refs) != PendingLimit || refs[0] != "req-12" || refs[9] != "req-03" {
		t.Fatalf("unexpected refs: %v", refs)
	}
	if !strings.Contains(reply.Text, "1️⃣ Noa") || !strings.Contains(reply.Text, "🔟 Noa") {
		t.Fatalf("expected keycap numbering, got %q", reply.Text)
	}
}

func TestRouteItemDetail(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "A", 7)

	reply, err := f.router.Route(context.Background(), listSession("A"), "1")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if reply.Intent != IntentItemDetail || !strings.Contains(reply.Text, "Task A · Acme") || !strings.Contains(reply.Text, "approve 1") {
		t.Fatalf("unexpected detail reply: %+v", reply)
	}

	reply, err = f.router.Route(context.Background(), listSession("A"), "5")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !strings.Contains(reply.Text, "Item 5 was not found") {
		t.Fatalf("unexpected reply: %q", reply.Text)
	}
}

func TestRouteFallbackReturnsToMenu(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "A", 1)
	for _, ctxName := range []session.Context{session.ContextMenu, session.ContextPendingList, session.ContextStats} {
		sess := listSession("A")
		sess.Context = ctxName

		reply, err := f.router.Route(context.Background(), sess, "what is this")
		if err != nil {
			t.Fatalf("route: %v", err)
		}
		if reply.Intent != IntentFallback || reply.Patch.Context == nil || *reply.Patch.Context != session.ContextMenu {
			t.Fatalf("%s: expected fallback to menu, got %+v", ctxName, reply)
		}
		if !strings.Contains(reply.Text, "Main menu") || !strings.Contains(reply.Text, "1 request is waiting") {
			t.Fatalf("%s: unexpected menu text %q", ctxName, reply.Text)
		}
	}
}

func TestRouteStatsAndCancel(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "A", 3)
	sess := session.New("972502222222", time.Now())

	reply, err := f.router.Route(context.Background(), sess, "2")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if *reply.Patch.Context != session.ContextStats || !strings.Contains(reply.Text, "Pending: 1") {
		t.Fatalf("unexpected stats reply: %+v", reply)
	}

	reply, err = f.router.Route(context.Background(), sess, "Bye")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !reply.Ended || reply.Intent != IntentCancel {
		t.Fatalf("expected ended conversation, got %+v", reply)
	}
}

type failingApprovals struct {
	Approvals
	err error
}

func (f failingApprovals) Decide(context.Context, approval.DecideInput) (approval.Result, error) {
	return approval.Result{}, f.err
}

func (f failingApprovals) Stats(context.Context) (approval.Stats, error) {
	return approval.Stats{}, f.err
}

func TestRouteTransientDecisionAsksToRetry(t *testing.T) {
	r := New(failingApprovals{err: fmt.Errorf("%w: timeout", approval.ErrTransient)}, nil, quiet)

	reply, err := r.Route(context.Background(), listSession("A"), "approve 1")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if reply.Text != retryText || !reply.Patch.Empty() {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	if _, err := r.Route(context.Background(), listSession("A"), "menu"); err == nil {
		t.Fatalf("expected menu to surface stats failure")
	}
}

type countingApprovals struct {
	Approvals
	decides int
}

func (c *countingApprovals) Decide(ctx context.Context, in approval.DecideInput) (approval.Result, error) {
	c.decides++
	return c.Approvals.Decide(ctx, in)
}

func TestRouteRejectsNonPositiveOverride(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "A", 60)
	f.submit(t, "B", 60)
	counting := &countingApprovals{Approvals: f.engine}
	r := New(counting, nil, quiet)

	for _, text := range []string{"approve 2 0", "approve 2 -5", "Approve 1 0.0"} {
		reply, err := r.Route(context.Background(), listSession("A", "B"), text)
		if err != nil {
			t.Fatalf("route %q: %v", text, err)
		}
		if reply.Text != usageText(ErrBadQuantity) || !reply.Patch.Empty() {
			t.Fatalf("%q: unexpected reply: %+v", text, reply)
		}
	}
	if counting.decides != 0 {
		t.Fatalf("expected no decision attempts, got %d", counting.decides)
	}
	for _, id := range []string{"A", "B"} {
		if rec, _, _ := f.store.GetRequest(id); rec.Status != ledger.RequestPending {
			t.Fatalf("request %s changed to %s", id, rec.Status)
		}
	}
}
