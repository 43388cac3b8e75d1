package book

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hft/internal/schema"
	"hft/pkg/exception"
)

const tick = schema.Price(schema.PriceScale / 100)

func testInstrument() schema.Instrument {
	return schema.Instrument{
		ID:       1,
		Symbol:   "BTC-USD",
		TickSize: tick,
		LotSize:  1,
		MinPrice: tick,
		MaxPrice: 1_000_000 * tick,
		MinQty:   1,
		MaxQty:   1_000_000,
	}
}

func px(v int64) schema.Price { return schema.Price(v) * tick }

func delta(seq uint64, side schema.OrderSide, price schema.Price, qty schema.Quantity) schema.MarketEvent {
	return schema.MarketEvent{SymbolID: 1, Kind: schema.MarketDataBookDelta, Side: side, Price: price, Qty: qty, Seq: seq, Ts: int64(seq)}
}

func snapshot(seq uint64, bids, asks []schema.Level) schema.MarketEvent {
	return schema.MarketEvent{SymbolID: 1, Kind: schema.MarketDataBookSnapshot, Seq: seq, Ts: int64(seq), Bids: bids, Asks: asks}
}

func TestBookSnapshotAndTop(t *testing.T) {
	b := New(testInstrument())
	res, err := b.Apply(snapshot(10,
		[]schema.Level{{Price: px(99), Qty: 10}, {Price: px(98), Qty: 4}},
		[]schema.Level{{Price: px(100), Qty: 5}, {Price: px(101), Qty: 5}},
	))
	require.NoError(t, err)
	assert.True(t, res.TopChanged)
	assert.False(t, res.Crossed)

	top := b.TopOfBook()
	if top.Bid.Price != px(99) || top.Ask.Price != px(100) {
		t.Fatalf("top mismatch: got %d/%d want %d/%d", top.Bid.Price, top.Ask.Price, px(99), px(100))
	}
	mid, ok := b.MidPrice()
	require.True(t, ok)
	assert.Equal(t, (px(99)+px(100))/2, mid)

	bids, asks := b.Depth(5)
	assert.Len(t, bids, 2)
	assert.Len(t, asks, 2)
	assert.Equal(t, px(101), asks[1].Price)
	assert.Equal(t, schema.Quantity(10), b.DepthQty(schema.OrderSideSell, 2))
	assert.Equal(t, uint64(10), b.Seq())
	require.NoError(t, b.CheckInvariants())
}

func TestBookDeltaSequencing(t *testing.T) {
	b := New(testInstrument())
	_, err := b.ApplySnapshot(snapshot(41, nil, []schema.Level{{Price: px(100), Qty: 5}}))
	require.NoError(t, err)

	_, err = b.ApplyDelta(delta(42, schema.OrderSideBuy, px(99), 3))
	require.NoError(t, err)

	// same delta twice
	_, err = b.ApplyDelta(delta(42, schema.OrderSideBuy, px(99), 3))
	if !errors.Is(err, exception.ErrStaleSequence) {
		t.Fatalf("duplicate delta mismatch: got %v want %v", err, exception.ErrStaleSequence)
	}
	assert.False(t, b.NeedsResync())

	_, err = b.ApplyDelta(delta(44, schema.OrderSideBuy, px(98), 1))
	require.ErrorIs(t, err, exception.ErrSequenceGap)
	assert.True(t, b.NeedsResync())
	assert.Zero(t, b.LevelQty(schema.OrderSideBuy, px(98)))

	_, err = b.ApplyDelta(delta(45, schema.OrderSideBuy, px(98), 1))
	require.ErrorIs(t, err, exception.ErrAwaitingSnapshot)

	_, err = b.ApplySnapshot(snapshot(50, []schema.Level{{Price: px(97), Qty: 2}}, []schema.Level{{Price: px(100), Qty: 5}}))
	require.NoError(t, err)
	assert.False(t, b.NeedsResync())
	_, err = b.ApplyDelta(delta(51, schema.OrderSideBuy, px(97), 0))
	require.NoError(t, err)
	assert.False(t, b.TopOfBook().HasBid)
}

func TestBookFirstDeltaSetsBaseline(t *testing.T) {
	b := New(testInstrument())
	_, err := b.ApplyDelta(delta(7, schema.OrderSideSell, px(100), 2))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), b.Seq())
	_, err = b.ApplyDelta(delta(8, schema.OrderSideSell, px(100), 0))
	require.NoError(t, err)
	assert.False(t, b.TopOfBook().HasAsk)
}

func TestBookDeltaEdgeCases(t *testing.T) {
	tests := []struct {
		name    string
		ev      schema.MarketEvent
		wantErr error
		check   func(t *testing.T, b *Book, res Result)
	}{
		{
			name: "zero on missing level is no-op",
			ev:   delta(2, schema.OrderSideBuy, px(95), 0),
			check: func(t *testing.T, b *Book, res Result) {
				assert.False(t, res.TopChanged)
				assert.Equal(t, uint64(2), b.Seq())
			},
		},
		{
			name:    "misaligned price",
			ev:      delta(2, schema.OrderSideBuy, px(95)+1, 1),
			wantErr: exception.ErrPriceNotAligned,
		},
		{
			name:    "negative quantity",
			ev:      delta(2, schema.OrderSideBuy, px(95), -1),
			wantErr: exception.ErrMalformedEvent,
		},
		{
			name:    "unknown side",
			ev:      delta(2, schema.OrderSideUnknown, px(95), 1),
			wantErr: exception.ErrMalformedEvent,
		},
		{
			name: "crossing delta is flagged",
			ev:   delta(2, schema.OrderSideBuy, px(100), 1),
			check: func(t *testing.T, b *Book, res Result) {
				assert.True(t, res.TopChanged)
				assert.True(t, res.Crossed)
				assert.True(t, b.Crossed())
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := New(testInstrument())
			_, err := b.ApplySnapshot(snapshot(1, []schema.Level{{Price: px(99), Qty: 1}}, []schema.Level{{Price: px(100), Qty: 1}}))
			require.NoError(t, err)
			res, err := b.ApplyDelta(tc.ev)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.Equal(t, uint64(1), b.Seq())
				return
			}
			require.NoError(t, err)
			tc.check(t, b, res)
		})
	}
}

func TestBookSnapshotRejectsBadLadder(t *testing.T) {
	b := New(testInstrument())
	_, err := b.ApplySnapshot(snapshot(1, []schema.Level{{Price: px(98), Qty: 1}, {Price: px(99), Qty: 1}}, nil))
	require.ErrorIs(t, err, exception.ErrMalformedEvent)
	_, err = b.ApplySnapshot(snapshot(1, nil, []schema.Level{{Price: px(100), Qty: 1}, {Price: px(100), Qty: 2}}))
	require.ErrorIs(t, err, exception.ErrMalformedEvent)
}

func TestBookReferencePriceFallsBackToTrade(t *testing.T) {
	b := New(testInstrument())
	_, ok := b.ReferencePrice()
	require.False(t, ok)

	_, err := b.Apply(schema.MarketEvent{Kind: schema.MarketDataTrade, Side: schema.OrderSideBuy, Price: px(100), Qty: 3, Ts: 5})
	require.NoError(t, err)
	ref, ok := b.ReferencePrice()
	require.True(t, ok)
	assert.Equal(t, px(100), ref)
	assert.Zero(t, b.Seq())

	_, err = b.ApplySnapshot(snapshot(1, []schema.Level{{Price: px(101), Qty: 1}}, []schema.Level{{Price: px(103), Qty: 1}}))
	require.NoError(t, err)
	ref, _ = b.ReferencePrice()
	assert.Equal(t, px(102), ref)
}

func TestBookRandomDeltasKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	b := New(testInstrument())
	_, err := b.ApplySnapshot(snapshot(0, nil, nil))
	require.NoError(t, err)

	shadow := map[schema.OrderSide]map[schema.Price]schema.Quantity{
		schema.OrderSideBuy:  {},
		schema.OrderSideSell: {},
	}
	for seq := uint64(1); seq <= 5000; seq++ {
		side := schema.OrderSideBuy
		price := px(900 + rng.Int63n(100))
		if rng.Intn(2) == 0 {
			side = schema.OrderSideSell
			price = px(1000 + rng.Int63n(100))
		}
		qty := schema.Quantity(rng.Int63n(4))
		_, err := b.ApplyDelta(delta(seq, side, price, qty))
		require.NoError(t, err)
		if qty == 0 {
			delete(shadow[side], price)
		} else {
			shadow[side][price] = qty
		}
		if seq%100 == 0 {
			require.NoError(t, b.CheckInvariants())
		}
	}
	for side, levels := range shadow {
		for price, qty := range levels {
			if got := b.LevelQty(side, price); got != qty {
				t.Fatalf("level mismatch: got %d want %d at %s %d", got, qty, side, price)
			}
		}
		assert.Equal(t, schema.Quantity(0), b.DepthQty(side, 0))
	}
}
