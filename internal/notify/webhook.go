package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Hasintha01/logwatcher/internal/model"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	maxRetries            = 3
)

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithHeaders sets custom HTTP headers sent with every POST.
func WithHeaders(h map[string]string) WebhookOption {
	return func(w *Webhook) { w.headers = h }
}

// WithTimeout sets the HTTP client timeout. Default: 10s.
func WithTimeout(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.client.Timeout = d }
}

// WithBackoff sets the base delay between retries. Default: 1s, doubling.
func WithBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// webhookPayload carries a "text" field so Slack and Mattermost style
// incoming webhooks render it directly, plus structured fields for others.
type webhookPayload struct {
	Text      string    `json:"text"`
	Severity  string    `json:"severity"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Webhook POSTs each alert as JSON. Retries on 5xx with exponential backoff.
type Webhook struct {
	client  *http.Client
	url     string
	headers map[string]string
	backoff time.Duration
}

// NewWebhook creates a webhook transport targeting url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		client:  &http.Client{Timeout: defaultWebhookTimeout},
		url:     url,
		backoff: time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Webhook) Send(ctx context.Context, rec model.AlertRecord) error {
	body, err := json.Marshal(webhookPayload{
		Text:      fmt.Sprintf("[%s] %s: %s", rec.Severity, rec.Source, rec.Message),
		Severity:  rec.Severity.String(),
		Source:    rec.Source,
		Message:   rec.Message,
		Timestamp: rec.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}
	return w.postWithRetry(ctx, body)
}

// postWithRetry sends the body via HTTP POST with retry on 5xx.
func (w *Webhook) postWithRetry(ctx context.Context, body []byte) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(w.backoff << (attempt - 1)):
			case <-ctx.Done():
				return fmt.Errorf("webhook: %w (last: %v)", ctx.Err(), lastErr)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("webhook: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range w.headers {
			req.Header.Set(k, v)
		}

		resp, err := w.client.Do(req)
		if err != nil {
			return fmt.Errorf("webhook: %w", err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		lastErr = fmt.Errorf("webhook: HTTP %d", resp.StatusCode)

		// Only retry on 5xx server errors.
		if resp.StatusCode < 500 {
			return lastErr
		}
	}
	return lastErr
}

func (w *Webhook) Close() error {
	w.client.CloseIdleConnections()
	return nil
}
