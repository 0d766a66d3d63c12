package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// WebhookSender POSTs each notice as JSON to URL. Any non-2xx status is a
// failed attempt.
type WebhookSender struct {
	URL    string
	Token  string
	Client *http.Client
}

func NewWebhookSender(url, token string) *WebhookSender {
	return &WebhookSender{URL: url, Token: token, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *WebhookSender) Send(ctx context.Context, n Notice) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

// LogSender writes notices to the log; used when no webhook is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, n Notice) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("decision notice",
		slog.String("notice_id", n.NoticeID),
		slog.String("to", n.To),
		slog.String("request_id", n.RequestID),
		slog.String("message", n.Message))
	return nil
}
