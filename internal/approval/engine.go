// Package approval applies approve and reject decisions to pending requests.
//
// A decision is written as one ledger transaction: the request leaves
// pending through a compare-and-set on its status, the linked work item is
// activated or deleted, and a decision notice is queued for the requester.
// A lost compare-and-set is retried by re-reading, which reports the
// concurrent winner as an already-decided outcome.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davidahmann/relia-bot/internal/ledger"
	"github.com/davidahmann/relia-bot/internal/metrics"
)

var (
	// ErrTransient marks store failures the caller should surface as "try again".
	ErrTransient    = errors.New("approval store unavailable")
	ErrInvalidInput = errors.New("invalid approval input")
	ErrDuplicateID  = errors.New("request id already exists")
)

const (
	DefaultReason    = "No reason given"
	defaultAttempts  = 3
	defaultListLimit = 10
)

type DecideInput struct {
	RequestID        string
	Action           Action
	OverrideQuantity *float64
	Reason           string
	Actor            string
	ActorName        string
}

type Result struct {
	Outcome           Outcome
	RequestID         string
	Action            Action
	Status            string
	Subject           string
	SubjectLabel      string
	RequestedQuantity float64
	Quantity          float64
	Modified          bool
	DecidedByID       string
	DecidedBy         string
	DecidedAt         time.Time
	Reason            string
	NoticeID          string
}

type SubmitInput struct {
	RequestID       string
	Quantity        float64
	RequestedBy     string
	RequestedByName string
	Subject         string
	SubjectLabel    string
	Title           string
}

type Stats struct {
	Pending          int
	Approved         int
	Modified         int
	Rejected         int
	ApprovedQuantity float64
}

func (s Stats) Total() int {
	return s.Pending + s.Approved + s.Modified + s.Rejected
}

type Engine struct {
	store       ledger.Store
	now         func() time.Time
	newID       func() string
	logger      *slog.Logger
	maxAttempts int
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithIDs(newID func() string) Option {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewEngine(store ledger.Store, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
		logger:      slog.Default(),
		maxAttempts: defaultAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide applies in to its request at most once. Not-found and
// already-decided are outcomes, not errors; store failures wrap ErrTransient.
func (e *Engine) Decide(ctx context.Context, in DecideInput) (Result, error) {
	if err := in.validate(); err != nil {
		return Result{}, err
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, transient("decide", err)
		}

		req, ok, err := e.store.GetRequest(in.RequestID)
		if err != nil {
			e.count(in.Action, "error")
			return Result{}, transient("read request", err)
		}
		if !ok {
			e.count(in.Action, string(OutcomeNotFound))
			return Result{Outcome: OutcomeNotFound, RequestID: in.RequestID, Action: in.Action}, nil
		}
		if req.Status != ledger.RequestPending {
			e.count(in.Action, string(OutcomeAlreadyDecided))
			return alreadyDecided(req, in.Action), nil
		}

		res := e.plan(req, in)
		err = e.store.WithTx(func(tx ledger.Tx) error {
			return e.apply(tx, req, res)
		})
		if err == nil {
			e.count(in.Action, string(OutcomeApplied))
			e.logger.Info("decision applied",
				slog.String("request_id", req.RequestID),
				slog.String("status", res.Status),
				slog.String("actor", in.Actor),
				slog.Bool("modified", res.Modified))
			return res, nil
		}
		if errors.Is(err, ledger.ErrStatusConflict) && attempt < e.maxAttempts {
			metrics.DecisionConflicts.Inc()
			e.logger.Debug("decision lost status race, re-reading",
				slog.String("request_id", req.RequestID),
				slog.Int("attempt", attempt))
			continue
		}
		e.count(in.Action, "error")
		return Result{}, transient("commit decision", err)
	}
}

func (e *Engine) plan(req ledger.RequestRecord, in DecideInput) Result {
	res := Result{
		Outcome:           OutcomeApplied,
		RequestID:         req.RequestID,
		Action:            in.Action,
		Subject:           req.Subject,
		SubjectLabel:      req.SubjectLabel,
		RequestedQuantity: req.RequestedQuantity,
		Quantity:          req.RequestedQuantity,
		DecidedByID:       in.Actor,
		DecidedBy:         actorName(in),
		DecidedAt:         e.now(),
		NoticeID:          e.newID(),
	}
	switch in.Action {
	case ActionApprove:
		if in.OverrideQuantity != nil {
			res.Quantity = *in.OverrideQuantity
		}
		res.Modified = res.Quantity != req.RequestedQuantity
	case ActionReject:
		res.Reason = strings.TrimSpace(in.Reason)
		if res.Reason == "" {
			res.Reason = DefaultReason
		}
	}
	res.Status = TerminalStatus(in.Action, res.Modified)
	return res
}

func (e *Engine) apply(tx ledger.Tx, req ledger.RequestRecord, res Result) error {
	decidedAt := ledger.FormatTime(res.DecidedAt)
	tr := ledger.RequestTransition{
		RequestID:     req.RequestID,
		Status:        res.Status,
		DecidedBy:     res.DecidedByID,
		DecidedByName: res.DecidedBy,
		DecidedAt:     decidedAt,
	}
	if res.Action == ActionApprove {
		q := res.Quantity
		tr.FinalQuantity = &q
	} else {
		reason := res.Reason
		tr.RejectionReason = &reason
	}
	if err := tx.TransitionRequest(tr); err != nil {
		return err
	}

	switch NextWorkItemStep(res.Action) {
	case WorkItemActivate:
		item, ok, err := tx.GetWorkItem(req.WorkItemID)
		if err != nil {
			return err
		}
		if ok {
			q := res.Quantity
			item.Status = ledger.WorkItemActive
			item.ApprovedQuantity = &q
			item.UpdatedAt = decidedAt
			if err := tx.PutWorkItem(item); err != nil {
				return err
			}
		}
	case WorkItemDelete:
		if err := tx.DeleteWorkItem(req.WorkItemID); err != nil {
			return err
		}
	}

	return tx.PutNotice(ledger.NoticeRecord{
		NoticeID:      res.NoticeID,
		To:            req.RequestedBy,
		Message:       res.NoticeText(),
		RequestID:     req.RequestID,
		WorkItemID:    req.WorkItemID,
		Status:        ledger.NoticePending,
		NextAttemptAt: decidedAt,
		CreatedAt:     decidedAt,
		UpdatedAt:     decidedAt,
	})
}

// Submit creates a pending request and its work item in one transaction.
func (e *Engine) Submit(ctx context.Context, in SubmitInput) (ledger.RequestRecord, error) {
	if err := ctx.Err(); err != nil {
		return ledger.RequestRecord{}, transient("submit", err)
	}
	if in.Quantity <= 0 || strings.TrimSpace(in.RequestedBy) == "" || strings.TrimSpace(in.Subject) == "" {
		return ledger.RequestRecord{}, fmt.Errorf("%w: quantity, requested_by and subject are required", ErrInvalidInput)
	}

	now := ledger.FormatTime(e.now())
	req := ledger.RequestRecord{
		RequestID:         in.RequestID,
		WorkItemID:        e.newID(),
		Status:            ledger.RequestPending,
		RequestedQuantity: in.Quantity,
		RequestedBy:       in.RequestedBy,
		RequestedByName:   in.RequestedByName,
		Subject:           in.Subject,
		SubjectLabel:      in.SubjectLabel,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if req.RequestID == "" {
		req.RequestID = e.newID()
	}
	if req.RequestedByName == "" {
		req.RequestedByName = req.RequestedBy
	}
	title := in.Title
	if title == "" {
		title = in.Subject
	}

	err := e.store.WithTx(func(tx ledger.Tx) error {
		if _, exists, err := tx.GetRequest(req.RequestID); err != nil {
			return err
		} else if exists {
			return ErrDuplicateID
		}
		if err := tx.PutRequest(req); err != nil {
			return err
		}
		return tx.PutWorkItem(ledger.WorkItemRecord{
			WorkItemID: req.WorkItemID,
			RequestID:  req.RequestID,
			Status:     ledger.WorkItemPending,
			Title:      title,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	})
	if errors.Is(err, ErrDuplicateID) {
		return ledger.RequestRecord{}, fmt.Errorf("%w: %s", ErrDuplicateID, req.RequestID)
	}
	if err != nil {
		return ledger.RequestRecord{}, transient("submit request", err)
	}
	e.logger.Info("request submitted",
		slog.String("request_id", req.RequestID),
		slog.String("requested_by", req.RequestedBy))
	return req, nil
}

// Pending lists up to limit pending requests, newest first.
func (e *Engine) Pending(ctx context.Context, limit int) ([]ledger.RequestRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, transient("list pending", err)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	recs, err := e.store.ListRequests(ledger.RequestPending, limit)
	if err != nil {
		return nil, transient("list pending", err)
	}
	return recs, nil
}

func (e *Engine) Request(ctx context.Context, requestID string) (ledger.RequestRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return ledger.RequestRecord{}, false, transient("read request", err)
	}
	rec, ok, err := e.store.GetRequest(requestID)
	if err != nil {
		return ledger.RequestRecord{}, false, transient("read request", err)
	}
	return rec, ok, nil
}

func (e *Engine) WorkItem(ctx context.Context, workItemID string) (ledger.WorkItemRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return ledger.WorkItemRecord{}, false, transient("read work item", err)
	}
	rec, ok, err := e.store.GetWorkItem(workItemID)
	if err != nil {
		return ledger.WorkItemRecord{}, false, transient("read work item", err)
	}
	return rec, ok, nil
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, transient("stats", err)
	}
	raw, err := e.store.RequestStats()
	if err != nil {
		return Stats{}, transient("stats", err)
	}
	return Stats{
		Pending:          raw.Counts[ledger.RequestPending],
		Approved:         raw.Counts[ledger.RequestApproved],
		Modified:         raw.Counts[ledger.RequestModified],
		Rejected:         raw.Counts[ledger.RequestRejected],
		ApprovedQuantity: raw.ApprovedQuantity,
	}, nil
}

func (e *Engine) count(action Action, outcome string) {
	metrics.DecisionsTotal.WithLabelValues(string(action), outcome).Inc()
}

func (in DecideInput) validate() error {
	if strings.TrimSpace(in.RequestID) == "" {
		return fmt.Errorf("%w: request id is required", ErrInvalidInput)
	}
	if !in.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidInput, in.Action)
	}
	if strings.TrimSpace(in.Actor) == "" {
		return fmt.Errorf("%w: actor is required", ErrInvalidInput)
	}
	if in.Action == ActionApprove && in.OverrideQuantity != nil && *in.OverrideQuantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	return nil
}

func alreadyDecided(req ledger.RequestRecord, action Action) Result {
	res := Result{
		Outcome:           OutcomeAlreadyDecided,
		RequestID:         req.RequestID,
		Action:            action,
		Status:            req.Status,
		Subject:           req.Subject,
		SubjectLabel:      req.SubjectLabel,
		RequestedQuantity: req.RequestedQuantity,
		Quantity:          req.RequestedQuantity,
	}
	if req.FinalQuantity != nil {
		res.Quantity = *req.FinalQuantity
	}
	res.Modified = req.Status == ledger.RequestModified
	if req.DecidedBy != nil {
		res.DecidedByID = *req.DecidedBy
	}
	if req.DecidedByName != nil && *req.DecidedByName != "" {
		res.DecidedBy = *req.DecidedByName
	} else if req.DecidedBy != nil {
		res.DecidedBy = *req.DecidedBy
	}
	if req.DecidedAt != nil {
		if t, err := ledger.ParseTime(*req.DecidedAt); err == nil {
			res.DecidedAt = t
		}
	}
	if req.RejectionReason != nil {
		res.Reason = *req.RejectionReason
	}
	return res
}

func actorName(in DecideInput) string {
	if strings.TrimSpace(in.ActorName) != "" {
		return in.ActorName
	}
	return in.Actor
}

func transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrTransient, op, err)
}

// FormatQuantity renders a quantity without trailing zeros.
func FormatQuantity(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}
