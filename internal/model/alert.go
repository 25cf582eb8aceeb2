package model

import (
	"fmt"
	"strings"
	"time"
)

// Severity ranks an alert. Higher values are more severe.
type Severity int

const (
	SeverityInfo Severity = iota + 1
	SeverityWarning
	SeverityCritical
)

// Severities lists every valid severity from least to most severe.
var Severities = []Severity{SeverityInfo, SeverityWarning, SeverityCritical}

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "Info"
	case SeverityWarning:
		return "Warning"
	case SeverityCritical:
		return "Critical"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	return s >= SeverityInfo && s <= SeverityCritical
}

// ParseSeverity accepts the canonical names case-insensitively plus a few
// common aliases (warn, crit).
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info", "information":
		return SeverityInfo, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "critical", "crit":
		return SeverityCritical, nil
	default:
		return 0, fmt.Errorf("unknown severity %q (valid: Info, Warning, Critical)", s)
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// AlertRecord is a single classified log line. Records are values and are
// never mutated after the sink assigns their sequence number.
type AlertRecord struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
	Source    string    `json:"source"`  // originating watched path
	Message   string    `json:"message"` // triggering line
}
