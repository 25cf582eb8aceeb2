package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Hasintha01/logwatcher/internal/model"
)

const (
	defaultBufferSize   = 256
	defaultDrainTimeout = 5 * time.Second
)

// AsyncOption configures an Async wrapper.
type AsyncOption func(*Async)

// WithBufferSize sets the channel buffer capacity. Default: 256.
func WithBufferSize(n int) AsyncOption {
	return func(a *Async) { a.bufSize = n }
}

// WithOnError sets the callback invoked when the inner transport fails.
// Default: logs a warning via slog.
func WithOnError(f func(error)) AsyncOption {
	return func(a *Async) { a.errFunc = f }
}

// WithDrainTimeout bounds how long Close waits for buffered alerts.
func WithDrainTimeout(d time.Duration) AsyncOption {
	return func(a *Async) { a.drainTimeout = d }
}

// Async decouples a slow transport (SMTP, a remote webhook) from the others
// sharing a dispatcher. Send enqueues and returns; when the buffer is full the
// alert is dropped for this transport only.
type Async struct {
	inner        Transport
	ch           chan model.AlertRecord
	done         chan struct{}
	errFunc      func(error)
	bufSize      int
	drainTimeout time.Duration
	closeOnce    sync.Once
	mu           sync.RWMutex
	closed       bool
	dropped      atomic.Int64
}

// NewAsync wraps inner. The delivery goroutine starts immediately.
func NewAsync(inner Transport, opts ...AsyncOption) *Async {
	a := &Async{
		inner:        inner,
		bufSize:      defaultBufferSize,
		drainTimeout: defaultDrainTimeout,
		errFunc:      func(err error) { slog.Warn("async transport send error", "error", err) },
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ch = make(chan model.AlertRecord, a.bufSize)
	a.done = make(chan struct{})
	go a.drain()
	return a
}

// Send enqueues rec and never blocks.
func (a *Async) Send(_ context.Context, rec model.AlertRecord) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil
	}
	select {
	case a.ch <- rec:
	default:
		a.dropped.Add(1)
		slog.Warn("async transport buffer full, dropping alert",
			"seq", rec.Seq, "source", rec.Source)
	}
	return nil
}

// Dropped returns the number of alerts dropped because the buffer was full.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Close stops accepting alerts, waits for the buffer to drain (with a
// timeout), then closes the inner transport.
func (a *Async) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.ch)
		a.mu.Unlock()

		select {
		case <-a.done:
		case <-time.After(a.drainTimeout):
			slog.Warn("async transport drain timed out")
		}
		err = a.inner.Close()
	})
	return err
}

func (a *Async) drain() {
	defer close(a.done)
	for rec := range a.ch {
		ctx, cancel := context.WithTimeout(context.Background(), defaultSendTimeout)
		if err := a.inner.Send(ctx, rec); err != nil {
			a.errFunc(err)
		}
		cancel()
	}
}
