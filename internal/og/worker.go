package og

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"hft/internal/bus"
	"hft/internal/env"
	"hft/pkg/backoff"
	"hft/pkg/exception"
)

// VenueAdapter is the venue connection the worker drives. Both calls must
// return promptly; transient failures wrap exception.ErrOrderSendTransient.
type VenueAdapter interface {
	SendNew(ctx context.Context, req Request) error
	SendCancel(ctx context.Context, req Request) error
}

// WorkerOptions tunes a Worker.
type WorkerOptions struct {
	Capacity    int
	MaxAttempts int
	Backoff     backoff.Backoff
}

// Worker drains the outbound order queue to a venue adapter on its own
// goroutine and reports every send result back to the event loop. The event
// loop is the only producer.
type Worker struct {
	rt      env.Runtime
	log     zerolog.Logger
	adapter VenueAdapter
	queue   *bus.Queue[Request]
	results *bus.Queue[Callback]
	opts    WorkerOptions
	sleep   func(context.Context, time.Duration) error

	running atomic.Bool
	sent    atomic.Uint64
	failed  atomic.Uint64
}

// NewWorker creates a worker publishing send results to results.
func NewWorker(rt env.Runtime, adapter VenueAdapter, results *bus.Queue[Callback], opts WorkerOptions) *Worker {
	if opts.Capacity <= 0 {
		opts.Capacity = 1024
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff == (backoff.Backoff{}) {
		opts.Backoff = backoff.Default()
	}
	return &Worker{
		rt:      rt,
		log:     rt.Logger("og.worker"),
		adapter: adapter,
		queue:   bus.NewQueue[Request](opts.Capacity),
		results: results,
		opts:    opts,
		sleep:   backoff.Sleep,
	}
}

// Dispatch enqueues req without blocking.
func (w *Worker) Dispatch(req Request) error {
	if err := w.queue.TryPublish(req); err != nil {
		if errors.Is(err, bus.ErrQueueFull) {
			w.rt.Metrics.IncQueueDrop()
			return exception.ErrOrderQueueFull
		}
		w.rt.Metrics.IncQueueClosed()
		return exception.ErrOrderVenueDisconnected
	}
	return nil
}

// Saturated reports whether the outbound queue is full.
func (w *Worker) Saturated() bool {
	return w.queue.Len() >= w.queue.Cap()
}

// Stats returns requests sent and requests that failed after retries.
func (w *Worker) Stats() (sent, failed uint64) {
	return w.sent.Load(), w.failed.Load()
}

// Run blocks until ctx is done or the worker is closed.
func (w *Worker) Run(ctx context.Context) {
	if w.running.Swap(true) {
		return
	}
	defer w.running.Store(false)
	w.queue.Run(ctx, func(req Request) {
		w.execute(ctx, req)
	})
}

// Close stops accepting requests. Queued requests are still sent.
func (w *Worker) Close() {
	w.queue.Close()
}

func (w *Worker) execute(ctx context.Context, req Request) {
	var err error
	for attempt := 1; ; attempt++ {
		switch req.Kind {
		case RequestNew:
			err = w.adapter.SendNew(ctx, req)
		case RequestCancel:
			err = w.adapter.SendCancel(ctx, req)
		default:
			err = exception.ErrOrderInvalidRequest
		}
		if err == nil || !errors.Is(err, exception.ErrOrderSendTransient) || attempt >= w.opts.MaxAttempts {
			break
		}
		w.log.Debug().Uint64("order_id", req.OrderID).Int("attempt", attempt).Err(err).Msg("send retry")
		if serr := w.sleep(ctx, w.opts.Backoff.Next(attempt)); serr != nil {
			err = exception.ErrOrderVenueDisconnected
			break
		}
	}
	if err == nil {
		w.sent.Add(1)
	} else {
		w.failed.Add(1)
	}

	cb := Callback{Kind: CallbackSendResult, OrderID: req.OrderID, Request: req.Kind, Err: err, Ts: w.rt.Now()}
	if perr := w.results.Publish(ctx, cb); perr != nil {
		w.log.Error().Uint64("order_id", req.OrderID).Err(perr).Msg("send result lost")
	}
}
