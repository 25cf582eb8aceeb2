// Package classifier decides whether a log line is alert-worthy by matching
// it against configured keyword rules.
package classifier

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Hasintha01/logwatcher/internal/model"
)

// ErrNoRules is returned by New when no rules are given.
var ErrNoRules = errors.New("classifier: no rules")

// Rule maps a pattern to a severity. Patterns are plain substrings unless
// Regex is set; matching ignores case unless CaseSensitive is set.
type Rule struct {
	Pattern       string         `json:"pattern"`
	Severity      model.Severity `json:"severity"`
	CaseSensitive bool           `json:"case_sensitive"`
	Regex         bool           `json:"regex"`
}

// Policy selects the severity when several rules match one line.
type Policy int

const (
	// PolicyHighest picks the most severe matching rule.
	PolicyHighest Policy = iota
	// PolicyFirst picks the first matching rule in configured order.
	PolicyFirst
)

func (p Policy) String() string {
	if p == PolicyFirst {
		return "first"
	}
	return "highest"
}

// ParsePolicy parses "highest" or "first". The empty string is "highest".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "highest":
		return PolicyHighest, nil
	case "first":
		return PolicyFirst, nil
	default:
		return PolicyHighest, fmt.Errorf("classifier: unknown severity policy %q", s)
	}
}

// DefaultRules are used when no keywords are configured.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: "ERROR", Severity: model.SeverityCritical},
		{Pattern: "CRITICAL", Severity: model.SeverityCritical},
		{Pattern: "WARNING", Severity: model.SeverityWarning},
	}
}

type matcher struct {
	rule   Rule
	needle string
	re     *regexp.Regexp
}

func (m *matcher) match(line, lower string) bool {
	switch {
	case m.re != nil:
		return m.re.MatchString(line)
	case m.rule.CaseSensitive:
		return strings.Contains(line, m.needle)
	default:
		return strings.Contains(lower, m.needle)
	}
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithClock sets the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

// Classifier is immutable after New and safe for concurrent use.
type Classifier struct {
	matchers  []matcher
	policy    Policy
	needLower bool
	now       func() time.Time
}

// New compiles rules. Every rule needs a non-empty pattern and a valid
// severity; regex patterns must compile.
func New(rules []Rule, policy Policy, opts ...Option) (*Classifier, error) {
	if len(rules) == 0 {
		return nil, ErrNoRules
	}

	c := &Classifier{policy: policy, now: time.Now}
	for _, o := range opts {
		o(c)
	}

	var errs []error
	for i, r := range rules {
		if r.Pattern == "" {
			errs = append(errs, fmt.Errorf("classifier: rule %d: empty pattern", i))
			continue
		}
		if !r.Severity.Valid() {
			errs = append(errs, fmt.Errorf("classifier: rule %q: invalid severity %d", r.Pattern, int(r.Severity)))
			continue
		}

		m := matcher{rule: r}
		switch {
		case r.Regex:
			expr := r.Pattern
			if !r.CaseSensitive {
				expr = "(?i)" + expr
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				errs = append(errs, fmt.Errorf("classifier: rule %q: %w", r.Pattern, err))
				continue
			}
			m.re = re
		case r.CaseSensitive:
			m.needle = r.Pattern
		default:
			m.needle = strings.ToLower(r.Pattern)
			c.needLower = true
		}
		c.matchers = append(c.matchers, m)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

// Rules returns the compiled rules in evaluation order.
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.matchers))
	for i, m := range c.matchers {
		out[i] = m.rule
	}
	return out
}

// Policy returns the configured precedence policy.
func (c *Classifier) Policy() Policy { return c.policy }

// Severity returns the severity a line would be tagged with.
func (c *Classifier) Severity(line string) (model.Severity, bool) {
	var lower string
	if c.needLower {
		lower = strings.ToLower(line)
	}

	var best model.Severity
	for i := range c.matchers {
		m := &c.matchers[i]
		if !m.match(line, lower) {
			continue
		}
		if c.policy == PolicyFirst {
			return m.rule.Severity, true
		}
		if m.rule.Severity > best {
			best = m.rule.Severity
			if best == model.SeverityCritical {
				break
			}
		}
	}
	return best, best.Valid()
}

// Classify returns an alert for line, or false if no rule matches.
func (c *Classifier) Classify(line, source string) (model.AlertRecord, bool) {
	sev, ok := c.Severity(line)
	if !ok {
		return model.AlertRecord{}, false
	}
	return model.AlertRecord{
		Timestamp: c.now(),
		Severity:  sev,
		Source:    source,
		Message:   line,
	}, true
}
