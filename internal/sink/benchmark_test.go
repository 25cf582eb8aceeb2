package sink

import (
	"fmt"
	"testing"
	"time"

	"github.com/Hasintha01/logwatcher/internal/model"
)

// BenchmarkSinkAppend measures the cost of appending and broadcasting to N subscribers.
func BenchmarkSinkAppend1(b *testing.B)  { benchSinkAppend(b, 1) }
func BenchmarkSinkAppend5(b *testing.B)  { benchSinkAppend(b, 5) }
func BenchmarkSinkAppend10(b *testing.B) { benchSinkAppend(b, 10) }

func benchSinkAppend(b *testing.B, numSubs int) {
	s := New(WithLogger(quietLogger()))

	// Create subscribers and drain them.
	for i := 0; i < numSubs; i++ {
		ch := s.Subscribe()
		go func() {
			for range ch {
			}
		}()
	}
	defer s.Close()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		s.Append(model.AlertRecord{
			Timestamp: time.Now(),
			Severity:  model.SeverityWarning,
			Source:    "bench.log",
			Message:   fmt.Sprintf("2026-02-17 WARNING benchmark event %d", i),
		})
	}
}

// BenchmarkSinkSince measures cursor reads against a large history.
func BenchmarkSinkSince(b *testing.B) {
	s := New(WithLogger(quietLogger()))
	for i := 0; i < 10000; i++ {
		s.Append(model.AlertRecord{Severity: model.SeverityInfo, Source: "bench.log", Message: "x"})
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		s.Since(9900)
	}
}
