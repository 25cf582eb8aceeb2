// Package aggregator keeps running alert statistics for the status API.
package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/Hasintha01/logwatcher/internal/model"
)

const rateWindow = time.Minute

// Stats holds a point-in-time snapshot of aggregated metrics.
type Stats struct {
	Uptime          string           `json:"uptime"`
	TotalAlerts     int64            `json:"total_alerts"`
	AlertsPerMinute float64          `json:"alerts_per_minute"`
	SeverityCounts  map[string]int64 `json:"severity_counts"`
	SourceCounts    map[string]int64 `json:"source_counts"`
	LastAlert       *time.Time       `json:"last_alert,omitempty"`
	DroppedAlerts   int64            `json:"dropped_alerts"`
	FilesWatched    int              `json:"files_watched"`
}

// Aggregator consumes a sink subscription and computes time-windowed metrics.
type Aggregator struct {
	mu             sync.RWMutex
	startTime      time.Time
	totalAlerts    int64
	severityCounts map[string]int64
	sourceCounts   map[string]int64
	lastAlert      time.Time
	window         []time.Time // arrival times within rateWindow
	dropped        func() int64
	fileCount      func() int
	alerts         <-chan model.AlertRecord
	now            func() time.Time
}

// New creates an Aggregator reading from a sink subscription. droppedFn and
// fileCountFn provide live values from the sink and the supervisor.
func New(alerts <-chan model.AlertRecord, droppedFn func() int64, fileCountFn func() int) *Aggregator {
	return &Aggregator{
		startTime:      time.Now(),
		severityCounts: make(map[string]int64),
		sourceCounts:   make(map[string]int64),
		dropped:        droppedFn,
		fileCount:      fileCountFn,
		alerts:         alerts,
		now:            time.Now,
	}
}

// Seed counts historical records, such as those replayed from the alert log.
// They contribute to totals but not to the current rate.
func (a *Aggregator) Seed(history []model.AlertRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, rec := range history {
		a.count(rec)
	}
}

// Snapshot returns the current metrics.
func (a *Aggregator) Snapshot() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	cutoff := a.now().Add(-rateWindow)
	var recent int
	for _, t := range a.window {
		if t.After(cutoff) {
			recent++
		}
	}

	st := Stats{
		Uptime:          a.now().Sub(a.startTime).Truncate(time.Second).String(),
		TotalAlerts:     a.totalAlerts,
		AlertsPerMinute: float64(recent) / rateWindow.Minutes(),
		SeverityCounts:  copyCounts(a.severityCounts),
		SourceCounts:    copyCounts(a.sourceCounts),
	}
	if !a.lastAlert.IsZero() {
		last := a.lastAlert
		st.LastAlert = &last
	}
	if a.dropped != nil {
		st.DroppedAlerts = a.dropped()
	}
	if a.fileCount != nil {
		st.FilesWatched = a.fileCount()
	}
	return st
}

// Start consumes alerts until the context is cancelled or the subscription
// is closed.
func (a *Aggregator) Start(ctx context.Context) {
	// Periodically prune the sliding window.
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-a.alerts:
			if !ok {
				return
			}
			a.record(rec)
		case <-ticker.C:
			a.prune()
		}
	}
}

func (a *Aggregator) record(rec model.AlertRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count(rec)
	a.window = append(a.window, a.now())
}

// count updates totals. Caller holds a.mu.
func (a *Aggregator) count(rec model.AlertRecord) {
	a.totalAlerts++
	a.severityCounts[rec.Severity.String()]++
	a.sourceCounts[rec.Source]++
	if rec.Timestamp.After(a.lastAlert) {
		a.lastAlert = rec.Timestamp
	}
}

// prune removes arrival times older than the rate window.
func (a *Aggregator) prune() {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().Add(-rateWindow)
	i := 0
	for _, t := range a.window {
		if t.After(cutoff) {
			a.window[i] = t
			i++
		}
	}
	a.window = a.window[:i]
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
