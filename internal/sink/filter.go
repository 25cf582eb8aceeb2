package sink

import (
	"time"

	"github.com/Hasintha01/logwatcher/internal/model"
)

// Filter selects records. Zero values disable a field.
type Filter struct {
	MinSeverity model.Severity
	Source      string
	Since       time.Time
	// Limit keeps only the most recent matches.
	Limit int
}

// Match reports whether rec passes every set field.
func (f Filter) Match(rec model.AlertRecord) bool {
	if f.MinSeverity.Valid() && rec.Severity < f.MinSeverity {
		return false
	}
	if f.Source != "" && rec.Source != f.Source {
		return false
	}
	if !f.Since.IsZero() && rec.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Apply returns the matching records in their original order. The input is
// not modified.
func (f Filter) Apply(records []model.AlertRecord) []model.AlertRecord {
	out := make([]model.AlertRecord, 0, len(records))
	for _, rec := range records {
		if f.Match(rec) {
			out = append(out, rec)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}
