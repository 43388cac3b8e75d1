package og

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hft/internal/bus"
	"hft/internal/env"
	"hft/pkg/exception"
)

type flakyAdapter struct {
	mu        sync.Mutex
	failures  int
	permanent bool
	calls     []Request
}

func (a *flakyAdapter) send(req Request) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, req)
	if a.permanent {
		return exception.ErrOrderSendPermanent
	}
	if a.failures > 0 {
		a.failures--
		return exception.ErrOrderSendTransient
	}
	return nil
}

func (a *flakyAdapter) SendNew(_ context.Context, req Request) error    { return a.send(req) }
func (a *flakyAdapter) SendCancel(_ context.Context, req Request) error { return a.send(req) }

func newTestWorker(adapter VenueAdapter, capacity int) (*Worker, *bus.Queue[Callback]) {
	rt, _ := env.Test(1)
	results := bus.NewQueue[Callback](16)
	w := NewWorker(rt, adapter, results, WorkerOptions{Capacity: capacity, MaxAttempts: 3})
	w.sleep = func(context.Context, time.Duration) error { return nil }
	return w, results
}

func runWorker(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Close()
	w.Run(ctx)
}

func TestWorkerRetriesTransientErrors(t *testing.T) {
	adapter := &flakyAdapter{failures: 2}
	w, results := newTestWorker(adapter, 4)
	require.NoError(t, w.Dispatch(Request{Kind: RequestNew, OrderID: 1}))
	runWorker(t, w)

	assert.Len(t, adapter.calls, 3)
	cb, ok := results.TryPop()
	require.True(t, ok)
	assert.Equal(t, CallbackSendResult, cb.Kind)
	assert.Equal(t, RequestNew, cb.Request)
	assert.NoError(t, cb.Err)
	sent, failed := w.Stats()
	assert.Equal(t, uint64(1), sent)
	assert.Zero(t, failed)
}

func TestWorkerGivesUpOnPermanentError(t *testing.T) {
	adapter := &flakyAdapter{permanent: true}
	w, results := newTestWorker(adapter, 4)
	require.NoError(t, w.Dispatch(Request{Kind: RequestCancel, OrderID: 2}))
	runWorker(t, w)

	assert.Len(t, adapter.calls, 1)
	cb, ok := results.TryPop()
	require.True(t, ok)
	assert.Equal(t, RequestCancel, cb.Request)
	if !errors.Is(cb.Err, exception.ErrOrderSendPermanent) {
		t.Fatalf("error mismatch: got %v want %v", cb.Err, exception.ErrOrderSendPermanent)
	}
}

func TestWorkerExhaustsAttempts(t *testing.T) {
	adapter := &flakyAdapter{failures: 10}
	w, results := newTestWorker(adapter, 4)
	require.NoError(t, w.Dispatch(Request{Kind: RequestNew, OrderID: 3}))
	runWorker(t, w)

	assert.Len(t, adapter.calls, 3)
	cb, _ := results.TryPop()
	assert.True(t, errors.Is(cb.Err, exception.ErrOrderSendTransient))
}

func TestWorkerBackpressure(t *testing.T) {
	w, _ := newTestWorker(&flakyAdapter{}, 2)
	require.NoError(t, w.Dispatch(Request{Kind: RequestNew, OrderID: 1}))
	assert.False(t, w.Saturated())
	require.NoError(t, w.Dispatch(Request{Kind: RequestNew, OrderID: 2}))
	assert.True(t, w.Saturated())

	err := w.Dispatch(Request{Kind: RequestNew, OrderID: 3})
	assert.True(t, errors.Is(err, exception.ErrOrderQueueFull))

	w.Close()
	err = w.Dispatch(Request{Kind: RequestNew, OrderID: 4})
	assert.True(t, errors.Is(err, exception.ErrOrderVenueDisconnected))
}
