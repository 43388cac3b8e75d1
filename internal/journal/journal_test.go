package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hft/internal/codec"
	"hft/internal/recorder"
	"hft/internal/schema"
)

type memStore struct {
	mu      sync.Mutex
	batches []Batch
	err     error
}

func (m *memStore) Write(_ context.Context, b Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, b)
	return nil
}

func (m *memStore) rows() (fills []FillRow, trs []TransitionRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.batches {
		fills = append(fills, b.Fills...)
		trs = append(trs, b.Transitions...)
	}
	return fills, trs
}

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	venue, err := reg.AddVenue("SIM")
	require.NoError(t, err)
	_, err = reg.AddInstrument(schema.Instrument{VenueID: venue, Symbol: "ETH-USD", TickSize: 10_000, LotSize: 1, MinPrice: 1_000_000, MaxPrice: 1_000_000_000_000, MinQty: 1, MaxQty: 1_000})
	require.NoError(t, err)
	reg.Seal()
	return reg
}

func fillRecord(seq uint64) (schema.EventHeader, []byte) {
	fill := schema.Fill{OrderID: 9, ExecID: seq, SymbolID: 1, Side: schema.OrderSideBuy, Liquidity: schema.LiquidityTaker, Price: 2_000_000_000, Qty: 3, Fee: 12, Ts: 1_700_000_000_000_000_000}
	return schema.NewHeader(schema.EventFill, 1, seq, fill.Ts, fill.Ts), codec.EncodeFill(nil, fill)
}

func transitionRecord(seq uint64) (schema.EventHeader, []byte) {
	tr := schema.OrderTransition{OrderID: 9, SymbolID: 1, From: schema.OrderStatePendingSubmit, To: schema.OrderStateSubmitted, Ts: 1_700_000_000_000_000_000}
	return schema.NewHeader(schema.EventOrderTransition, 1, seq, tr.Ts, tr.Ts), codec.EncodeOrderTransition(nil, tr)
}

func TestJournalMirrorsFillsAndTransitions(t *testing.T) {
	store := &memStore{}
	j := New(store, testRegistry(t), Config{RunID: "run-1", BatchSize: 2, FlushInterval: time.Hour}, zerolog.Nop())
	require.NoError(t, j.Start(context.Background()))

	h, p := transitionRecord(1)
	require.NoError(t, j.Append(h, p))
	h, p = fillRecord(2)
	require.NoError(t, j.Append(h, p))
	require.NoError(t, j.Append(schema.NewHeader(schema.EventMarketData, 1, 3, 0, 0), []byte{1, 2, 3}))
	h, p = fillRecord(4)
	require.NoError(t, j.Append(h, p))
	require.NoError(t, j.Close())

	fills, trs := store.rows()
	require.Len(t, fills, 2)
	require.Len(t, trs, 1)
	assert.Equal(t, "ETH-USD", fills[0].Symbol)
	assert.Equal(t, "run-1", fills[0].RunID)
	assert.Equal(t, uint64(2), fills[0].Seq)
	assert.Equal(t, int64(3), fills[0].Qty)
	assert.Equal(t, schema.OrderStateSubmitted.String(), trs[0].ToState)

	written, dropped, failed := j.Stats()
	assert.Equal(t, uint64(3), written)
	assert.Zero(t, dropped)
	assert.Zero(t, failed)
}

func TestJournalRejectsMalformedPayload(t *testing.T) {
	j := New(&memStore{}, nil, Config{}, zerolog.Nop())
	err := j.Append(schema.NewHeader(schema.EventFill, 1, 1, 0, 0), []byte{1})
	require.Error(t, err)
}

func TestJournalQueueFull(t *testing.T) {
	j := New(&memStore{}, nil, Config{QueueSize: 1}, zerolog.Nop())
	h, p := fillRecord(1)
	require.NoError(t, j.Append(h, p))
	err := j.Append(h, p)
	if !errors.Is(err, recorder.ErrQueueFull) {
		t.Fatalf("append error mismatch: got %v want %v", err, recorder.ErrQueueFull)
	}
	_, dropped, _ := j.Stats()
	assert.Equal(t, uint64(1), dropped)
}

func TestJournalCountsFailedWrites(t *testing.T) {
	store := &memStore{err: errors.New("db down")}
	j := New(store, nil, Config{FlushInterval: time.Hour}, zerolog.Nop())
	require.NoError(t, j.Start(context.Background()))
	h, p := fillRecord(1)
	require.NoError(t, j.Append(h, p))
	require.NoError(t, j.Close())

	written, _, failed := j.Stats()
	assert.Zero(t, written)
	assert.Equal(t, uint64(1), failed)
	assert.ErrorIs(t, j.Append(h, p), recorder.ErrClosed)
}
