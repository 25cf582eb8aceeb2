package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/Hasintha01/logwatcher/internal/model"
)

var (
	styleInfo     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))            // gray
	styleWarning  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))            // yellow
	styleCritical = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true) // red bold
	styleSource   = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Faint(true) // cyan
)

// Console prints alerts to a terminal, either colorized text or one JSON
// object per line.
type Console struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
	enc  *json.Encoder
}

// NewConsole writes colorized text to stdout.
func NewConsole() *Console {
	return &Console{w: os.Stdout}
}

// NewJSONConsole writes JSON lines to stdout.
func NewJSONConsole() *Console {
	return newConsole(os.Stdout, true)
}

func newConsole(w io.Writer, asJSON bool) *Console {
	c := &Console{w: w, json: asJSON}
	if asJSON {
		c.enc = json.NewEncoder(w)
	}
	return c
}

func (c *Console) Send(_ context.Context, rec model.AlertRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.json {
		return c.enc.Encode(rec)
	}

	ts := rec.Timestamp.Format("15:04:05")
	tag := styleSeverityTag(rec.Severity)
	src := styleSource.Render(rec.Source)
	_, err := fmt.Fprintf(c.w, "%s %s %s %s\n", ts, tag, src, rec.Message)
	return err
}

func (c *Console) Close() error { return nil }

func styleSeverityTag(s model.Severity) string {
	padded := fmt.Sprintf("[%s]", s)
	switch s {
	case model.SeverityCritical:
		return styleCritical.Render(padded)
	case model.SeverityWarning:
		return styleWarning.Render(padded)
	default:
		return styleInfo.Render(padded)
	}
}
