package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/davidahmann/relia-bot/internal/approval"
	"github.com/davidahmann/relia-bot/internal/auth"
	"github.com/davidahmann/relia-bot/internal/ledger"
	"github.com/davidahmann/relia-bot/internal/session"
	"github.com/davidahmann/relia-bot/pkg/types"
)

const maxBodyBytes = 1 << 20

type Messenger interface {
	HandleMessage(ctx context.Context, identity, text string) string
}

type Approvals interface {
	Submit(ctx context.Context, in approval.SubmitInput) (ledger.RequestRecord, error)
	Request(ctx context.Context, requestID string) (ledger.RequestRecord, bool, error)
	Decide(ctx context.Context, in approval.DecideInput) (approval.Result, error)
}

type Handler struct {
	Auth      auth.Authenticator
	Bot       Messenger
	Approvals Approvals
	Sessions  *session.Manager
	// Limiter throttles inbound messages; nil disables throttling.
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	if !h.ensureAuth(w, r) {
		return
	}
	if h.Bot == nil {
		writeJSON(w, http.StatusNotImplemented, types.ErrorResponse{Error: "bot not configured"})
		return
	}
	if h.Limiter != nil && !h.Limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, types.ErrorResponse{Error: "rate limited"})
		return
	}

	var req types.MessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Identity) == "" {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "missing identity"})
		return
	}

	reply := h.Bot.HandleMessage(r.Context(), req.Identity, req.Text)
	writeJSON(w, http.StatusOK, types.MessageResponse{Reply: reply})
}

func (h *Handler) ActiveSessions(w http.ResponseWriter, r *http.Request) {
	if !h.ensureAuth(w, r) {
		return
	}
	if h.Sessions == nil {
		writeJSON(w, http.StatusNotImplemented, types.ErrorResponse{Error: "sessions not configured"})
		return
	}

	window := h.Sessions.TTL()
	if raw := r.URL.Query().Get("window_minutes"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "invalid window_minutes"})
			return
		}
		window = time.Duration(minutes) * time.Minute
	}

	sessions, err := h.Sessions.ListActive(r.Context(), window)
	if err != nil {
		h.logError("list sessions", err)
		writeJSON(w, http.StatusServiceUnavailable, types.ErrorResponse{Error: "session store unavailable"})
		return
	}

	resp := types.SessionsResponse{WindowMinutes: int(window / time.Minute), Sessions: make([]types.SessionView, 0, len(sessions))}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, types.SessionView{
			Identity:       s.Identity,
			Context:        string(s.Context),
			LastCommand:    s.LastCommand,
			ItemRefs:       s.Scratch.ItemRefs,
			HistoryLen:     len(s.History),
			CreatedAt:      ledger.FormatTime(s.CreatedAt),
			LastActivityAt: ledger.FormatTime(s.LastActivityAt),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	if !h.ensureAuth(w, r) {
		return
	}
	if h.Approvals == nil {
		writeJSON(w, http.StatusNotImplemented, types.ErrorResponse{Error: "approvals not configured"})
		return
	}

	var req types.SubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, err := h.Approvals.Submit(r.Context(), approval.SubmitInput{
		RequestID:       req.RequestID,
		Quantity:        req.Quantity,
		RequestedBy:     req.RequestedBy,
		RequestedByName: req.RequestedByName,
		Subject:         req.Subject,
		SubjectLabel:    req.SubjectLabel,
		Title:           req.Title,
	})
	if err != nil {
		h.writeApprovalError(w, "submit request", err)
		return
	}
	writeJSON(w, http.StatusCreated, requestView(rec))
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	if !h.ensureAuth(w, r) {
		return
	}
	if h.Approvals == nil {
		writeJSON(w, http.StatusNotImplemented, types.ErrorResponse{Error: "approvals not configured"})
		return
	}

	requestID := r.PathValue("id")
	rec, ok, err := h.Approvals.Request(r.Context(), requestID)
	if err != nil {
		h.writeApprovalError(w, "get request", err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, types.ErrorResponse{Error: "request not found"})
		return
	}
	writeJSON(w, http.StatusOK, requestView(rec))
}

func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	claims, err := h.Authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, types.ErrorResponse{Error: err.Error()})
		return
	}
	if h.Approvals == nil {
		writeJSON(w, http.StatusNotImplemented, types.ErrorResponse{Error: "approvals not configured"})
		return
	}

	var req types.DecisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor, actorName := claims.Subject, ""
	if claims.Subject == auth.DevSubject {
		if req.Actor != "" {
			actor = req.Actor
		}
		actorName = req.ActorName
	}

	res, err := h.Approvals.Decide(r.Context(), approval.DecideInput{
		RequestID:        r.PathValue("id"),
		Action:           approval.Action(strings.ToUpper(req.Action)),
		OverrideQuantity: req.Quantity,
		Reason:           req.Reason,
		Actor:            actor,
		ActorName:        actorName,
	})
	if err != nil {
		h.writeApprovalError(w, "decide", err)
		return
	}

	status := http.StatusOK
	switch res.Outcome {
	case approval.OutcomeNotFound:
		status = http.StatusNotFound
	case approval.OutcomeAlreadyDecided:
		status = http.StatusConflict
	}
	resp := types.DecisionResponse{
		Outcome:   string(res.Outcome),
		RequestID: res.RequestID,
		Status:    res.Status,
		Quantity:  res.Quantity,
		Modified:  res.Modified,
		DecidedBy: res.DecidedBy,
		Summary:   res.Summary(),
	}
	if !res.DecidedAt.IsZero() {
		resp.DecidedAt = ledger.FormatTime(res.DecidedAt)
	}
	writeJSON(w, status, resp)
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeApprovalError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, approval.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: err.Error()})
	case errors.Is(err, approval.ErrDuplicateID):
		writeJSON(w, http.StatusConflict, types.ErrorResponse{Error: err.Error()})
	case errors.Is(err, approval.ErrTransient):
		h.logError(op, err)
		writeJSON(w, http.StatusServiceUnavailable, types.ErrorResponse{Error: "store unavailable, try again"})
	default:
		h.logError(op, err)
		writeJSON(w, http.StatusInternalServerError, types.ErrorResponse{Error: "internal error"})
	}
}

func (h *Handler) logError(op string, err error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("api request failed", slog.String("op", op), slog.String("error", err.Error()))
}

func (h *Handler) ensureAuth(w http.ResponseWriter, r *http.Request) bool {
	_, err := h.Authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, types.ErrorResponse{Error: err.Error()})
		return false
	}
	return true
}

func (h *Handler) Authenticate(r *http.Request) (auth.Claims, error) {
	if h.Auth == nil {
		return auth.Claims{}, auth.ErrInvalidToken
	}
	return h.Auth.Authenticate(r)
}

func requestView(rec ledger.RequestRecord) types.RequestView {
	return types.RequestView{
		RequestID:         rec.RequestID,
		WorkItemID:        rec.WorkItemID,
		Status:            rec.Status,
		RequestedQuantity: rec.RequestedQuantity,
		FinalQuantity:     rec.FinalQuantity,
		RequestedBy:       rec.RequestedBy,
		RequestedByName:   rec.RequestedByName,
		Subject:           rec.Subject,
		SubjectLabel:      rec.SubjectLabel,
		DecidedBy:         rec.DecidedBy,
		DecidedAt:         rec.DecidedAt,
		RejectionReason:   rec.RejectionReason,
		CreatedAt:         rec.CreatedAt,
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "invalid json"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
