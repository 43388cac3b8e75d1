package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hft/internal/og"
	"hft/internal/schema"
)

func (f *fixture) envFor(id uint32, name string) Env {
	e := f.host.Env()
	e.ID = id
	e.Name = name
	return e
}

func ogOrder(in schema.OrderIntent, state schema.OrderState) og.Order {
	return og.Order{ID: in.IntentID, Intent: in, State: state}
}

func TestTrendBuysOnRisingAverage(t *testing.T) {
	f := newFixture(t, HostConfig{})
	s := NewTrend(f.envFor(1, "trend"), f.btc, 3, 2, 10, 0.5)
	require.NoError(t, f.host.Add(s))

	for _, mid := range []int64{100, 100, 100} {
		f.book(t, f.btc, px(mid-1), px(mid+1))
	}
	assert.Empty(t, f.intents)

	f.book(t, f.btc, px(104), px(106))
	require.Len(t, f.intents, 1)
	in := f.intents[0]
	assert.Equal(t, schema.OrderSideBuy, in.Side)
	assert.Equal(t, schema.OrderTypeMarket, in.Type)
	assert.Equal(t, schema.Quantity(2), in.Qty)

	f.book(t, f.btc, px(109), px(111))
	assert.Len(t, f.intents, 1, "no new order while one is in flight")
}

func TestTrendRespectsMaxPosition(t *testing.T) {
	f := newFixture(t, HostConfig{})
	f.positions[f.btc] = 10
	s := NewTrend(f.envFor(1, "trend"), f.btc, 2, 1, 10, 0)
	require.NoError(t, f.host.Add(s))
	for _, mid := range []int64{100, 101, 102, 103} {
		f.book(t, f.btc, px(mid-1), px(mid+1))
	}
	assert.Empty(t, f.intents)
}

func TestMeanReversionFadesAndFlattens(t *testing.T) {
	f := newFixture(t, HostConfig{})
	s := NewMeanReversion(f.envFor(2, "meanrev"), f.eth, 4, 1, 1.0, 0.5)
	require.NoError(t, f.host.Add(s))

	for _, mid := range []int64{100, 100, 100} {
		f.book(t, f.eth, px(mid-1), px(mid+1))
	}
	f.book(t, f.eth, px(109), px(111))
	require.Len(t, f.intents, 1)
	sell := f.intents[0]
	assert.Equal(t, schema.OrderSideSell, sell.Side)
	assert.Equal(t, schema.TimeInForceIOC, sell.TimeInForce)
	assert.Equal(t, px(109), sell.Price)

	s.Track(Rejected(sell, schema.RiskDecision{}, nil))
	f.positions[f.eth] = -1
	f.book(t, f.eth, px(99), px(101))
	require.Len(t, f.intents, 2)
	cover := f.intents[1]
	assert.Equal(t, schema.OrderSideBuy, cover.Side)
	assert.Equal(t, schema.Quantity(1), cover.Qty)
}

func TestMarketMakerQuotesWithSkew(t *testing.T) {
	f := newFixture(t, HostConfig{})
	s := NewMarketMaker(f.envFor(3, "mm"), f.btc, 2, 1, 5, 0.5, time.Second)
	tick := px(1) / 100

	bid, ask := s.Quotes(px(100), 0)
	assert.Equal(t, px(100)-tick, bid)
	assert.Equal(t, px(100)+tick, ask)

	bid, ask = s.Quotes(px(100), 4)
	assert.Equal(t, px(100)-3*tick, bid)
	assert.Equal(t, px(100)-tick, ask)
	if bid >= ask {
		t.Fatalf("quotes crossed: bid %d ask %d", bid, ask)
	}
}

func TestMarketMakerPlacesAndRequotes(t *testing.T) {
	f := newFixture(t, HostConfig{})
	s := NewMarketMaker(f.envFor(3, "mm"), f.btc, 2, 1, 5, 0, time.Second)
	require.NoError(t, f.host.Add(s))

	f.book(t, f.btc, px(99), px(101))
	require.Len(t, f.intents, 2)
	assert.Equal(t, schema.OrderSideBuy, f.intents[0].Side)
	assert.Equal(t, schema.OrderSideSell, f.intents[1].Side)
	require.Len(t, f.timers.fns, 1)

	for _, in := range f.intents {
		f.host.OnOrderUpdate(OrderUpdate{Kind: OrderChanged, Order: ogOrder(in, schema.OrderStateAcked)})
	}
	f.book(t, f.btc, px(101), px(103))
	require.Len(t, f.intents, 4)
	for _, in := range f.intents[2:] {
		assert.Equal(t, schema.IntentActionModify, in.Action)
		assert.NotZero(t, in.TargetID)
	}
}

func TestMarketMakerStopsBuyingAtMaxInventory(t *testing.T) {
	f := newFixture(t, HostConfig{})
	f.positions[f.btc] = 5
	s := NewMarketMaker(f.envFor(3, "mm"), f.btc, 2, 1, 5, 0, 0)
	require.NoError(t, f.host.Add(s))
	f.book(t, f.btc, px(99), px(101))
	require.Len(t, f.intents, 1)
	assert.Equal(t, schema.OrderSideSell, f.intents[0].Side)
	assert.Empty(t, f.timers.fns)
}

func TestPairsEntersOnSpreadDivergence(t *testing.T) {
	f := newFixture(t, HostConfig{})
	s := NewPairs(f.envFor(4, "pairs"), f.btc, f.eth, 3, 1, 1.0, 1.0, 0.5)
	require.NoError(t, f.host.Add(s))

	f.book(t, f.eth, px(49), px(51))
	for i := 0; i < 3; i++ {
		f.book(t, f.btc, px(99), px(101))
	}
	assert.Empty(t, f.intents)

	f.book(t, f.btc, px(109), px(111))
	require.Len(t, f.intents, 2)
	assert.Equal(t, f.btc, f.intents[0].SymbolID)
	assert.Equal(t, schema.OrderSideSell, f.intents[0].Side)
	assert.Equal(t, f.eth, f.intents[1].SymbolID)
	assert.Equal(t, schema.OrderSideBuy, f.intents[1].Side)
}

func TestValidateParamsDefaults(t *testing.T) {
	p, err := ValidateParams(marketMakerDefinition().Params, map[string]any{"qty": "3"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.Int("qty"))
	assert.Equal(t, int64(2), p.Int("spread_ticks"))
	assert.Equal(t, time.Second, p.Duration("refresh"))
	assert.Equal(t, 0.5, p.Float("skew_ticks"))
}
