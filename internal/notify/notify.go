// Package notify delivers alert records to people: the console, email and
// chat webhooks. Transports consume the sink's subscription and never sit on
// the tailing path.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Hasintha01/logwatcher/internal/model"
)

const defaultSendTimeout = 30 * time.Second

// Transport delivers one alert.
type Transport interface {
	Send(ctx context.Context, rec model.AlertRecord) error
	Close() error
}

// Multi fans out to several transports. A failing transport does not stop
// delivery to the others.
type Multi struct {
	transports []Transport
}

func NewMulti(transports ...Transport) *Multi {
	return &Multi{transports: transports}
}

func (m *Multi) Len() int { return len(m.transports) }

func (m *Multi) Send(ctx context.Context, rec model.AlertRecord) error {
	var errs []error
	for _, t := range m.transports {
		if err := t.Send(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, t := range m.transports {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher forwards every record from a subscription to a transport.
type Dispatcher struct {
	transport   Transport
	log         *slog.Logger
	sendTimeout time.Duration
}

// NewDispatcher creates a Dispatcher. A nil logger uses slog.Default.
func NewDispatcher(t Transport, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{transport: t, log: logger, sendTimeout: defaultSendTimeout}
}

// Run delivers records until sub is closed. Records already buffered when the
// context is cancelled are still delivered, each bounded by its own timeout,
// so a shutdown does not lose alerts raised just before it.
func (d *Dispatcher) Run(ctx context.Context, sub <-chan model.AlertRecord) {
	base := context.WithoutCancel(ctx)
	for rec := range sub {
		sendCtx, cancel := context.WithTimeout(base, d.sendTimeout)
		if err := d.transport.Send(sendCtx, rec); err != nil {
			d.log.Warn("alert delivery failed",
				slog.Uint64("seq", rec.Seq),
				slog.String("source", rec.Source),
				slog.Any("error", err),
			)
		}
		cancel()
	}
}
