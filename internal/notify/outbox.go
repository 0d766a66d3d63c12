// Package notify delivers queued decision notices to the people who filed the
// requests. Notices are written by the approval engine inside the decision
// transaction; this package only drains them.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/davidahmann/relia-bot/internal/ledger"
	"github.com/davidahmann/relia-bot/internal/metrics"
)

// Notice is what a Sender receives for one delivery attempt.
type Notice struct {
	NoticeID   string `json:"notice_id"`
	To         string `json:"to"`
	Message    string `json:"message"`
	RequestID  string `json:"request_id"`
	WorkItemID string `json:"work_item_id"`
}

type Sender interface {
	Send(ctx context.Context, n Notice) error
}

// ProcessDue sends due pending notices and records each attempt. Failed sends
// are rescheduled with exponential backoff.
func ProcessDue(ctx context.Context, store ledger.Store, sender Sender, now time.Time, limit int) (int, error) {
	if store == nil {
		return 0, fmt.Errorf("missing store")
	}
	if sender == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = 50
	}

	stamp := ledger.FormatTime(now)
	due, err := store.ListNoticesDue(stamp, limit)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, rec := range due {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if rec.Status != ledger.NoticePending {
			continue
		}

		sendErr := sender.Send(ctx, Notice{
			NoticeID:   rec.NoticeID,
			To:         rec.To,
			Message:    rec.Message,
			RequestID:  rec.RequestID,
			WorkItemID: rec.WorkItemID,
		})
		rec.UpdatedAt = stamp
		if sendErr != nil {
			metrics.NoticesTotal.WithLabelValues("retry").Inc()
			rec.NextAttemptAt = ledger.FormatTime(now.Add(nextAttempt(rec.AttemptCount)))
			rec.AttemptCount++
			msg := sendErr.Error()
			rec.LastError = &msg
		} else {
			metrics.NoticesTotal.WithLabelValues("sent").Inc()
			rec.Status = ledger.NoticeSent
			rec.SentAt = &stamp
		}
		if err := store.PutNotice(rec); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

func nextAttempt(attemptCount int) time.Duration {
	// 5s, 10s, 20s, 40s, 80s, 160s, ... capped at 5m.
	base := 5 * time.Second
	if attemptCount <= 0 {
		return base
	}
	if attemptCount > 16 {
		return 5 * time.Minute
	}
	d := base << attemptCount
	max := 5 * time.Minute
	if d > max {
		return max
	}
	return d
}

// RunWorker polls and delivers due notices until ctx is cancelled.
func RunWorker(ctx context.Context, store ledger.Store, sender Sender, pollInterval time.Duration, logger *slog.Logger) {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := ProcessDue(ctx, store, sender, now.UTC(), 25)
			if err != nil && ctx.Err() == nil {
				logger.Warn("notice delivery pass failed", slog.String("error", err.Error()))
			} else if n > 0 {
				logger.Debug("notice delivery pass", slog.Int("processed", n))
			}
		}
	}
}
