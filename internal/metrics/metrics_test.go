package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/Hasintha01/logwatcher/internal/model"
)

func find(t *testing.T, m *Metrics, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.Gatherer().Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func TestCounters(t *testing.T) {
	m := New()
	m.LinesRead("/var/log/app.log", 3)
	m.LinesRead("/var/log/app.log", 2)
	m.AlertRaised(model.SeverityCritical)
	m.Rotated("/var/log/app.log")

	lines := find(t, m, "logwatcher_lines_read_total")
	if got := lines.GetMetric()[0].GetCounter().GetValue(); got != 5 {
		t.Errorf("expected 5 lines, got %v", got)
	}

	alerts := find(t, m, "logwatcher_alerts_total")
	if len(alerts.GetMetric()) != len(model.Severities) {
		t.Errorf("expected a series per severity, got %d", len(alerts.GetMetric()))
	}
	for _, metric := range alerts.GetMetric() {
		sev := metric.GetLabel()[0].GetValue()
		want := 0.0
		if sev == "Critical" {
			want = 1
		}
		if metric.GetCounter().GetValue() != want {
			t.Errorf("expected %s=%v, got %v", sev, want, metric.GetCounter().GetValue())
		}
	}
}

func TestGaugeFuncs(t *testing.T) {
	m := New()
	open := 2
	m.TrackOpenFiles(func() int { return open })
	m.TrackDropped(func() int64 { return 7 })

	open = 4
	if got := find(t, m, "logwatcher_files_open").GetMetric()[0].GetGauge().GetValue(); got != 4 {
		t.Errorf("expected 4 open files, got %v", got)
	}
	if got := find(t, m, "logwatcher_alerts_dropped_total").GetMetric()[0].GetCounter().GetValue(); got != 7 {
		t.Errorf("expected 7 dropped, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.LinesRead("x", 1)
	m.AlertRaised(model.SeverityInfo)
	m.Rotated("x")
	m.Truncated("x")
	m.PollFailed("x")
	m.TrackOpenFiles(func() int { return 0 })
}

func TestHandler(t *testing.T) {
	m := New()
	m.PollFailed("/var/log/app.log")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `logwatcher_poll_errors_total{path="/var/log/app.log"} 1`) {
		t.Errorf("expected poll error series in exposition, got:\n%s", body)
	}
}
