// Package router interprets one inbound message against the caller's session
// and produces the reply plus the session changes it implies.
//
// Classification and dispatch are separate: Classify turns (context, text)
// into an Intent, and Route switches over that Intent with one handler each.
// Handlers never write the session themselves; they return a session.Patch
// for the caller to persist.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/davidahmann/relia-bot/internal/approval"
	"github.com/davidahmann/relia-bot/internal/identity"
	"github.com/davidahmann/relia-bot/internal/ledger"
	"github.com/davidahmann/relia-bot/internal/session"
)

// PendingLimit caps how many requests the pending list shows.
const PendingLimit = 10

// Approvals is the slice of the approval engine the router needs.
type Approvals interface {
	Decide(ctx context.Context, in approval.DecideInput) (approval.Result, error)
	Pending(ctx context.Context, limit int) ([]ledger.RequestRecord, error)
	Request(ctx context.Context, requestID string) (ledger.RequestRecord, bool, error)
	Stats(ctx context.Context) (approval.Stats, error)
}

type Reply struct {
	Text   string
	Intent Intent
	Patch  session.Patch
	// Ended is set by CANCEL; the caller deletes the session instead of
	// applying Patch.
	Ended bool
}

type Router struct {
	approvals Approvals
	people    identity.Resolver
	logger    *slog.Logger
}

func New(approvals Approvals, people identity.Resolver, logger *slog.Logger) *Router {
	if people == nil {
		people = identity.Anonymous{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{approvals: approvals, people: people, logger: logger}
}

// Route answers text for sess. Expected outcomes (unknown item, already
// decided, malformed command) are replies; only unexpected failures are errors.
func (r *Router) Route(ctx context.Context, sess session.Session, text string) (Reply, error) {
	normalized := Normalize(text)
	intent := Classify(sess.Context, normalized)

	var (
		reply Reply
		err   error
	)
	switch intent {
	case IntentMenu:
		reply, err = r.menu(ctx, "")
	case IntentFallback:
		reply, err = r.menu(ctx, notUnderstood+"\n\n")
	case IntentHelp:
		reply = Reply{Text: helpText, Patch: commandPatch(intent)}
	case IntentCancel:
		reply = Reply{Text: farewellText, Ended: true}
	case IntentDecision:
		reply, err = r.decide(ctx, sess, text, normalized)
	case IntentItemDetail:
		reply, err = r.itemDetail(ctx, sess, bare(normalized))
	case IntentPendingList:
		reply, err = r.pendingList(ctx)
	case IntentStats:
		reply, err = r.stats(ctx)
	case IntentSendMessage:
		reply = Reply{Text: sendMessageText, Patch: commandPatch(intent)}
	default:
		return Reply{}, fmt.Errorf("unhandled intent %q", intent)
	}
	if err != nil {
		return Reply{}, fmt.Errorf("route %s: %w", intent, err)
	}
	reply.Intent = intent
	return reply, nil
}

func (r *Router) menu(ctx context.Context, prefix string) (Reply, error) {
	stats, err := r.approvals.Stats(ctx)
	if err != nil {
		return Reply{}, err
	}
	patch := commandPatch(IntentMenu)
	patch.Context = contextPtr(session.ContextMenu)
	return Reply{Text: prefix + menuText(stats.Pending), Patch: patch}, nil
}

func (r *Router) pendingList(ctx context.Context) (Reply, error) {
	recs, err := r.approvals.Pending(ctx, PendingLimit)
	if err != nil {
		return Reply{}, err
	}
	refs := make([]string, 0, len(recs))
	for _, rec := range recs {
		refs = append(refs, rec.RequestID)
	}
	patch := commandPatch(IntentPendingList)
	patch.Context = contextPtr(session.ContextPendingList)
	patch.Scratch = &session.Scratch{ItemRefs: refs}
	return Reply{Text: pendingListText(recs), Patch: patch}, nil
}

func (r *Router) stats(ctx context.Context) (Reply, error) {
	stats, err := r.approvals.Stats(ctx)
	if err != nil {
		return Reply{}, err
	}
	patch := commandPatch(IntentStats)
	patch.Context = contextPtr(session.ContextStats)
	return Reply{Text: statsText(stats), Patch: patch}, nil
}

func (r *Router) itemDetail(ctx context.Context, sess session.Session, word string) (Reply, error) {
	ordinal, _ := positiveInt(word)
	requestID, ok := sess.Scratch.ItemRef(ordinal)
	if !ok {
		return Reply{Text: notFoundText(ordinal)}, nil
	}
	rec, found, err := r.approvals.Request(ctx, requestID)
	if err != nil {
		return Reply{}, err
	}
	if !found {
		return Reply{Text: notFoundText(ordinal)}, nil
	}
	return Reply{Text: detailText(ordinal, rec), Patch: commandPatch(IntentItemDetail)}, nil
}

func (r *Router) decide(ctx context.Context, sess session.Session, raw, normalized string) (Reply, error) {
	d, err := ParseDecision(raw, normalized)
	if err != nil {
		return Reply{Text: usageText(err)}, nil
	}
	requestID, ok := sess.Scratch.ItemRef(d.Ordinal)
	if !ok {
		return Reply{Text: notFoundText(d.Ordinal)}, nil
	}

	actor := r.people.Resolve(sess.Identity)
	res, err := r.approvals.Decide(ctx, approval.DecideInput{
		RequestID:        requestID,
		Action:           d.Action,
		OverrideQuantity: d.Quantity,
		Reason:           d.Reason,
		Actor:            sess.Identity,
		ActorName:        actor.Name,
	})
	if errors.Is(err, approval.ErrTransient) {
		r.logger.Warn("decision not saved",
			slog.String("identity", sess.Identity),
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return Reply{Text: retryText}, nil
	}
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: res.Summary(), Patch: commandPatch(IntentDecision)}, nil
}

func commandPatch(intent Intent) session.Patch {
	cmd := string(intent)
	return session.Patch{LastCommand: &cmd}
}

func contextPtr(c session.Context) *session.Context {
	return &c
}
