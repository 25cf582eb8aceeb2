package classifier

import (
	"errors"
	"testing"
	"time"

	"github.com/Hasintha01/logwatcher/internal/model"
)

var fixed = time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC)

func mustNew(t *testing.T, rules []Rule, policy Policy) *Classifier {
	t.Helper()
	c, err := New(rules, policy, WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestClassifyKeywordMatch(t *testing.T) {
	c := mustNew(t, DefaultRules(), PolicyHighest)

	rec, ok := c.Classify("2025-01-01 ERROR disk full", "/var/log/app.log")
	if !ok {
		t.Fatal("expected a match")
	}
	if rec.Severity != model.SeverityCritical {
		t.Errorf("expected Critical, got %s", rec.Severity)
	}
	if rec.Message != "2025-01-01 ERROR disk full" {
		t.Errorf("expected message to be the full line, got %q", rec.Message)
	}
	if rec.Source != "/var/log/app.log" {
		t.Errorf("expected source '/var/log/app.log', got %q", rec.Source)
	}
	if !rec.Timestamp.Equal(fixed) {
		t.Errorf("expected injected clock time, got %v", rec.Timestamp)
	}
	if rec.Seq != 0 {
		t.Errorf("expected no sequence before the sink assigns one, got %d", rec.Seq)
	}
}

func TestClassifyNoMatch(t *testing.T) {
	c := mustNew(t, DefaultRules(), PolicyHighest)

	if _, ok := c.Classify("all systems nominal", "app.log"); ok {
		t.Error("expected no match")
	}
	if _, ok := c.Classify("", "app.log"); ok {
		t.Error("expected no match for an empty line")
	}
}

func TestClassifyCaseInsensitiveByDefault(t *testing.T) {
	c := mustNew(t, DefaultRules(), PolicyHighest)

	rec, ok := c.Classify("warning: low memory", "app.log")
	if !ok || rec.Severity != model.SeverityWarning {
		t.Errorf("expected Warning for lowercase keyword, got %v (ok=%v)", rec.Severity, ok)
	}
}

func TestClassifyCaseSensitive(t *testing.T) {
	c := mustNew(t, []Rule{{Pattern: "ERROR", Severity: model.SeverityCritical, CaseSensitive: true}}, PolicyHighest)

	if _, ok := c.Classify("error in lowercase", "app.log"); ok {
		t.Error("expected case-sensitive rule not to match lowercase")
	}
	if _, ok := c.Classify("an ERROR here", "app.log"); !ok {
		t.Error("expected case-sensitive rule to match exact case")
	}
}

// With several matching keywords, the highest severity wins under the
// default policy. This is one chosen precedence policy, not the only one.
func TestHighestSeverityWins(t *testing.T) {
	rules := []Rule{
		{Pattern: "WARNING", Severity: model.SeverityWarning},
		{Pattern: "ERROR", Severity: model.SeverityCritical},
		{Pattern: "NOTICE", Severity: model.SeverityInfo},
	}
	c := mustNew(t, rules, PolicyHighest)

	sev, ok := c.Severity("NOTICE WARNING ERROR all at once")
	if !ok || sev != model.SeverityCritical {
		t.Errorf("expected Critical, got %s (ok=%v)", sev, ok)
	}
}

func TestFirstRuleWinsPolicy(t *testing.T) {
	rules := []Rule{
		{Pattern: "WARNING", Severity: model.SeverityWarning},
		{Pattern: "ERROR", Severity: model.SeverityCritical},
	}
	c := mustNew(t, rules, PolicyFirst)

	sev, ok := c.Severity("ERROR after WARNING")
	if !ok || sev != model.SeverityWarning {
		t.Errorf("expected first configured rule (Warning), got %s (ok=%v)", sev, ok)
	}
}

func TestRegexRule(t *testing.T) {
	rules := []Rule{{Pattern: `status=5\d\d`, Severity: model.SeverityCritical, Regex: true}}
	c := mustNew(t, rules, PolicyHighest)

	if _, ok := c.Classify("GET /health STATUS=503", "access.log"); !ok {
		t.Error("expected case-insensitive regex match")
	}
	if _, ok := c.Classify("GET /health status=200", "access.log"); ok {
		t.Error("expected no match for 200")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, PolicyHighest); !errors.Is(err, ErrNoRules) {
		t.Errorf("expected ErrNoRules, got %v", err)
	}

	_, err := New([]Rule{
		{Pattern: "", Severity: model.SeverityInfo},
		{Pattern: "x", Severity: 0},
		{Pattern: "(", Severity: model.SeverityInfo, Regex: true},
	}, PolicyHighest)
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyHighest, false},
		{"highest", PolicyHighest, false},
		{"FIRST", PolicyFirst, false},
		{"loudest", PolicyHighest, true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePolicy(%q): unexpected error %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParsePolicy(%q): expected %s, got %s", tt.in, tt.want, got)
		}
	}
}
