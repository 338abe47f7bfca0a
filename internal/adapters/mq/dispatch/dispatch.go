// Package dispatch runs the single consumer loop that applies activity
// events in arrival order.
//
// The loop is deliberately not a pool: presence semantics depend on events
// for a user being applied in the order the transport delivered them, and
// the per-event work is an in-memory mutation plus a best-effort write, so
// ordering is worth more than parallelism here.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/selectedu/select/internal/adapters/mq/queue"
	"github.com/selectedu/select/internal/domain/model"
	"github.com/selectedu/select/pkg/logger"
	"github.com/selectedu/select/pkg/metrics"
)

const shutdownTimeout = 5 * time.Second

// Handler applies one activity event. Implementations must not panic on
// malformed events; missing identifiers short-circuit silently.
type Handler interface {
	Apply(ctx context.Context, a model.Activity)
}

// Queue defines how the dispatcher receives events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Activity
}

// Dispatcher consumes the activity queue until stopped.
type Dispatcher struct {
	queue   Queue
	handler Handler
	name    string

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// Option applies a configuration option to the Dispatcher.
type Option func(*Dispatcher)

// WithName sets the dispatcher name for logging.
func WithName(name string) Option {
	return func(d *Dispatcher) {
		if name != "" {
			d.name = name
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a dispatcher over q feeding h.
func New(q Queue, h Handler, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:    q,
		handler:  h,
		name:     "dispatch",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run consumes events until ctx is canceled, Shutdown is called, or the
// queue closes.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	events := d.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.shutdown:
			return
		case a, ok := <-events:
			if !ok {
				return
			}
			d.apply(ctx, a)
		}
	}
}

func (d *Dispatcher) apply(ctx context.Context, a model.Activity) {
	start := time.Now()
	d.handler.Apply(ctx, a)
	metrics.RecordDispatchLatency(float64(time.Since(start).Milliseconds()))

	d.logger.Debug(ctx, "applied activity",
		logger.String("kind", string(a.Kind)),
		logger.String("userID", a.UserID),
	)
}

// Shutdown stops the loop and waits for the in-flight event to finish.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	close(d.shutdown)

	waitCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	select {
	case <-d.done:
		return nil
	case <-waitCtx.Done():
		d.logger.Warn(ctx, "dispatcher shutdown timed out")
		return fmt.Errorf("dispatcher shutdown: %w", waitCtx.Err())
	}
}
