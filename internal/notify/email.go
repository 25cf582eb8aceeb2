package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/Hasintha01/logwatcher/internal/model"
)

// EmailConfig holds SMTP settings. Username may be empty for relays that do
// not require authentication.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// Validate reports missing settings.
func (c EmailConfig) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("email: host is required"))
	}
	if c.From == "" {
		errs = append(errs, errors.New("email: from is required"))
	}
	if len(c.To) == 0 {
		errs = append(errs, errors.New("email: at least one recipient is required"))
	}
	return errors.Join(errs...)
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email sends one plain-text message per alert.
type Email struct {
	cfg      EmailConfig
	sendMail sendMailFunc
	now      func() time.Time
}

// NewEmail validates cfg and returns an Email transport.
func NewEmail(cfg EmailConfig) (*Email, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &Email{cfg: cfg, sendMail: smtp.SendMail, now: time.Now}, nil
}

func (e *Email) Send(ctx context.Context, rec model.AlertRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("email: %w", err)
	}

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))

	if err := e.sendMail(addr, auth, e.cfg.From, e.cfg.To, e.message(rec)); err != nil {
		return fmt.Errorf("email: send via %s: %w", addr, err)
	}
	return nil
}

func (e *Email) message(rec model.AlertRecord) []byte {
	var b bytes.Buffer
	subject := fmt.Sprintf("[LogWatcher] %s alert in %s", rec.Severity, rec.Source)
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", headerSafe(subject))
	fmt.Fprintf(&b, "Date: %s\r\n", e.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "Severity: %s\r\n", rec.Severity)
	fmt.Fprintf(&b, "Source:   %s\r\n", rec.Source)
	fmt.Fprintf(&b, "Time:     %s\r\n", rec.Timestamp.Format(time.RFC3339))
	b.WriteString("\r\n")
	b.WriteString(rec.Message)
	b.WriteString("\r\n")
	return b.Bytes()
}

func (e *Email) Close() error { return nil }

// headerSafe strips line breaks so a log line cannot inject headers.
func headerSafe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
