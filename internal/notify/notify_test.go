package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Hasintha01/logwatcher/internal/model"
)

func testAlert(msg string) model.AlertRecord {
	return model.AlertRecord{
		Seq:       1,
		Timestamp: time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC),
		Severity:  model.SeverityCritical,
		Source:    "/var/log/app.log",
		Message:   msg,
	}
}

type recordingTransport struct {
	mu     sync.Mutex
	got    []model.AlertRecord
	err    error
	delay  time.Duration
	closed atomic.Bool
}

func (r *recordingTransport) Send(_ context.Context, rec model.AlertRecord) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, rec)
	return r.err
}

func (r *recordingTransport) Close() error {
	r.closed.Store(true)
	return nil
}

func (r *recordingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestConsoleText(t *testing.T) {
	var buf bytes.Buffer
	c := newConsole(&buf, false)

	if err := c.Send(context.Background(), testAlert("ERROR disk full")); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Critical", "/var/log/app.log", "ERROR disk full"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got %q", want, out)
		}
	}
}

func TestConsoleJSON(t *testing.T) {
	var buf bytes.Buffer
	c := newConsole(&buf, true)

	if err := c.Send(context.Background(), testAlert("ERROR disk full")); err != nil {
		t.Fatal(err)
	}

	var got model.AlertRecord
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON output: %v\nraw: %s", err, buf.String())
	}
	if got.Severity != model.SeverityCritical {
		t.Errorf("expected Critical, got %s", got.Severity)
	}
	if got.Message != "ERROR disk full" {
		t.Errorf("expected message 'ERROR disk full', got %q", got.Message)
	}
	if !strings.Contains(buf.String(), `"severity":"Critical"`) {
		t.Errorf("expected severity encoded by name, got %s", buf.String())
	}
}

func TestWebhookPayload(t *testing.T) {
	var got webhookPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithHeaders(map[string]string{"Authorization": "Bearer t"}))
	if err := wh.Send(context.Background(), testAlert("ERROR disk full")); err != nil {
		t.Fatal(err)
	}
	if got.Severity != "Critical" || got.Source != "/var/log/app.log" {
		t.Errorf("unexpected payload: %+v", got)
	}
	if !strings.Contains(got.Text, "ERROR disk full") {
		t.Errorf("expected text to contain the line, got %q", got.Text)
	}
	if auth != "Bearer t" {
		t.Errorf("expected custom header, got %q", auth)
	}
}

func TestWebhookRetryOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithBackoff(time.Millisecond))
	if err := wh.Send(context.Background(), testAlert("x")); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestWebhookNoRetryOn4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithBackoff(time.Millisecond))
	if err := wh.Send(context.Background(), testAlert("x")); err == nil {
		t.Fatal("expected error for 400")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestWebhookBackoffHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithBackoff(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := wh.Send(ctx, testAlert("x"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("expected backoff to stop when the context ended")
	}
}

func TestEmailMessage(t *testing.T) {
	e, err := NewEmail(EmailConfig{Host: "smtp.example.com", From: "lw@example.com", To: []string{"ops@example.com"}, Username: "u", Password: "p"})
	if err != nil {
		t.Fatal(err)
	}

	var gotAddr string
	var gotMsg []byte
	var gotAuth smtp.Auth
	e.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotMsg, gotAuth = addr, msg, a
		return nil
	}

	if err := e.Send(context.Background(), testAlert("ERROR disk full\r\nBcc: evil@example.com")); err != nil {
		t.Fatal(err)
	}
	if gotAddr != "smtp.example.com:587" {
		t.Errorf("expected default port 587, got %q", gotAddr)
	}
	if gotAuth == nil {
		t.Error("expected auth when a username is configured")
	}
	msg := string(gotMsg)
	if !strings.Contains(msg, "Subject: [LogWatcher] Critical alert in /var/log/app.log\r\n") {
		t.Errorf("unexpected subject in %q", msg)
	}
	headers, _, _ := strings.Cut(msg, "\r\n\r\n")
	if strings.Contains(headers, "Bcc:") {
		t.Errorf("expected log content to stay out of headers, got %q", headers)
	}
}

func TestEmailValidate(t *testing.T) {
	if _, err := NewEmail(EmailConfig{}); err == nil {
		t.Fatal("expected validation error for empty config")
	}
}

func TestMultiContinuesAfterFailure(t *testing.T) {
	bad := &recordingTransport{err: errors.New("down")}
	good := &recordingTransport{}
	m := NewMulti(bad, good)

	if err := m.Send(context.Background(), testAlert("x")); err == nil {
		t.Error("expected joined error")
	}
	if good.count() != 1 {
		t.Errorf("expected healthy transport to receive the alert")
	}
	m.Close()
	if !bad.closed.Load() || !good.closed.Load() {
		t.Error("expected all transports closed")
	}
}

func TestAsyncDrainsOnClose(t *testing.T) {
	inner := &recordingTransport{delay: time.Millisecond}
	a := NewAsync(inner)

	for i := 0; i < 10; i++ {
		a.Send(context.Background(), testAlert("x"))
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if inner.count() != 10 {
		t.Errorf("expected 10 delivered, got %d", inner.count())
	}
	if !inner.closed.Load() {
		t.Error("expected inner transport closed")
	}

	// Sends after close are ignored rather than panicking.
	if err := a.Send(context.Background(), testAlert("late")); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestAsyncDropsWhenFull(t *testing.T) {
	inner := &recordingTransport{delay: 50 * time.Millisecond}
	a := NewAsync(inner, WithBufferSize(1), WithDrainTimeout(time.Second))
	defer a.Close()

	for i := 0; i < 20; i++ {
		a.Send(context.Background(), testAlert("x"))
	}
	if a.Dropped() == 0 {
		t.Error("expected drops with a tiny buffer and a slow transport")
	}
}

func TestDispatcherDeliversUntilClosed(t *testing.T) {
	inner := &recordingTransport{}
	d := NewDispatcher(inner, slog.New(slog.NewTextHandler(io.Discard, nil)))

	sub := make(chan model.AlertRecord, 3)
	sub <- testAlert("a")
	sub <- testAlert("b")
	sub <- testAlert("c")
	close(sub)

	// A cancelled context does not stop delivery of what was already queued.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx, sub)

	if inner.count() != 3 {
		t.Errorf("expected 3 delivered, got %d", inner.count())
	}
}
