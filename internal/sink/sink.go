// Package sink holds the ordered, append-only collection of alert records and
// fans new records out to mirrors and live subscribers.
package sink

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/Hasintha01/logwatcher/internal/model"
)

const subscriberBuffer = 1024

// Mirror is a durable or external copy of the alert stream, such as the text
// alert log or the SQLite history. Writes happen synchronously in append
// order.
type Mirror interface {
	Write(rec model.AlertRecord) error
	Close() error
}

// Option configures a Sink.
type Option func(*Sink)

// WithLogger sets the logger used to report mirror failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) { s.log = l }
}

// WithMirror adds a mirror. Mirrors are written in the order they were added.
func WithMirror(m Mirror) Option {
	return func(s *Sink) { s.mirrors = append(s.mirrors, m) }
}

// WithObserver registers a callback run for every appended record, after the
// mirrors. It must not block.
func WithObserver(fn func(model.AlertRecord)) Option {
	return func(s *Sink) { s.observers = append(s.observers, fn) }
}

// Sink is safe for concurrent use. Appends are serialized; readers never see
// a partially appended record.
type Sink struct {
	log       *slog.Logger
	mirrors   []Mirror
	observers []func(model.AlertRecord)

	mu          sync.RWMutex
	records     []model.AlertRecord
	subscribers []chan model.AlertRecord
	dropped     int64
	closed      bool
}

// New creates an empty Sink.
func New(opts ...Option) *Sink {
	s := &Sink{log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load seeds the sink with historical records, for example from the alert
// log, without mirroring or broadcasting them. Sequence numbers are reassigned.
func (s *Sink) Load(history []model.AlertRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range history {
		rec.Seq = uint64(len(s.records)) + 1
		s.records = append(s.records, rec)
	}
}

// Append stores rec, assigns its sequence number and returns the stored copy.
// It never fails: mirror errors are logged and the record is kept in memory.
func (s *Sink) Append(rec model.AlertRecord) model.AlertRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Seq = uint64(len(s.records)) + 1
	s.records = append(s.records, rec)
	if s.closed {
		return rec
	}

	for _, m := range s.mirrors {
		if err := m.Write(rec); err != nil {
			s.log.Error("alert mirror write failed",
				slog.Uint64("seq", rec.Seq),
				slog.Any("error", err),
			)
		}
	}
	for _, fn := range s.observers {
		fn(rec)
	}
	s.broadcast(rec)
	return rec
}

// broadcast sends rec to every subscriber. A full subscriber channel drops
// the record for that subscriber only. Caller holds s.mu.
func (s *Sink) broadcast(rec model.AlertRecord) {
	for _, ch := range s.subscribers {
		select {
		case ch <- rec:
		default:
			s.dropped++
			s.log.Warn("dropped alert for slow consumer", slog.Int64("total_dropped", s.dropped))
		}
	}
}

// Len returns the number of stored records, which is also the current cursor.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot returns a copy of every record in append order.
func (s *Sink) Snapshot() []model.AlertRecord {
	return s.Since(0)
}

// Since returns a copy of the records appended after cursor. A cursor is the
// Seq of the last record the caller has seen, or 0 for everything.
func (s *Sink) Since(cursor uint64) []model.AlertRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cursor >= uint64(len(s.records)) {
		return []model.AlertRecord{}
	}
	out := make([]model.AlertRecord, len(s.records)-int(cursor))
	copy(out, s.records[cursor:])
	return out
}

// Subscribe returns a buffered channel that receives every record appended
// from now on. The channel is closed by Unsubscribe or Close.
func (s *Sink) Subscribe() <-chan model.AlertRecord {
	ch := make(chan model.AlertRecord, subscriberBuffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch
	}
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (s *Sink) Unsubscribe(sub <-chan model.AlertRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ch := range s.subscribers {
		if ch == sub {
			close(ch)
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			return
		}
	}
}

// Dropped returns the total number of records dropped for slow subscribers.
func (s *Sink) Dropped() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// Close closes every subscriber channel and every mirror. Records remain
// readable afterwards.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	for _, ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = nil

	var errs []error
	for _, m := range s.mirrors {
		errs = append(errs, m.Close())
	}
	return errors.Join(errs...)
}
