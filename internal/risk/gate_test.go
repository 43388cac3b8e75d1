package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hft/internal/clock"
	"hft/internal/env"
	"hft/internal/schema"
	"hft/pkg/exception"
)

type fakeExposure struct {
	pos   map[schema.SymbolID]schema.Quantity
	gross schema.Notional
	pnl   schema.Notional
}

func (f *fakeExposure) Position(symbol schema.SymbolID) schema.Quantity { return f.pos[symbol] }

func (f *fakeExposure) GrossPosition() schema.Quantity {
	var total schema.Quantity
	for _, q := range f.pos {
		total += absQuantity(q)
	}
	return total
}

func (f *fakeExposure) GrossExposure() schema.Notional { return f.gross }
func (f *fakeExposure) DailyPnL() schema.Notional      { return f.pnl }

type fakeMarket struct {
	mid   schema.Price
	ref   schema.Price
	depth schema.Quantity
}

func (f *fakeMarket) ReferencePrice(schema.SymbolID) (schema.Price, bool) { return f.ref, f.ref > 0 }
func (f *fakeMarket) MidPrice(schema.SymbolID) (schema.Price, bool)       { return f.mid, f.mid > 0 }
func (f *fakeMarket) DepthQty(schema.SymbolID, schema.OrderSide, int) schema.Quantity {
	return f.depth
}

type saturated bool

func (s saturated) Saturated() bool { return bool(s) }

const tick = schema.Price(10_000)

type fixture struct {
	gate     *Gate
	exposure *fakeExposure
	market   *fakeMarket
	clock    *clock.Manual
	symbol   schema.SymbolID
	inst     schema.Instrument
}

func newFixture(t *testing.T, cfg *Config) *fixture {
	t.Helper()
	reg := schema.NewRegistry()
	venue, err := reg.AddVenue("SIM")
	require.NoError(t, err)
	sym, err := reg.AddInstrument(schema.Instrument{
		VenueID:  venue,
		Symbol:   "BTC-USD",
		TickSize: tick,
		LotSize:  1,
		MinPrice: 100 * tick,
		MaxPrice: 100_000 * tick,
		MinQty:   1,
		MaxQty:   1_000,
	})
	require.NoError(t, err)
	reg.Seal()
	inst, _ := reg.Instrument(sym)

	rt, clk := env.Test(1_000_000_000)
	exposure := &fakeExposure{pos: map[schema.SymbolID]schema.Quantity{}}
	market := &fakeMarket{mid: 10_000 * tick, ref: 10_000 * tick, depth: 1_000}
	gate, err := NewGate(rt, reg, cfg, exposure, market)
	require.NoError(t, err)
	return &fixture{gate: gate, exposure: exposure, market: market, clock: clk, symbol: sym, inst: inst}
}

func (f *fixture) limit(side schema.OrderSide, price schema.Price, qty schema.Quantity) schema.OrderIntent {
	return schema.OrderIntent{IntentID: 1, StrategyID: 1, SymbolID: f.symbol, Side: side, Type: schema.OrderTypeLimit, Price: price, Qty: qty}
}

func TestGatePositionLimit(t *testing.T) {
	f := newFixture(t, &Config{Global: Limits{MaxPosition: 100}})
	f.exposure.pos[f.symbol] = 95

	d := f.gate.Check(f.limit(schema.OrderSideBuy, 10_000*tick, 10))
	if d.Reason != schema.RiskReasonPositionLimit {
		t.Fatalf("reason mismatch: got %s want %s", d.Reason, schema.RiskReasonPositionLimit)
	}
	assert.Equal(t, schema.Quantity(95), d.CurrentPos)
	assert.Equal(t, schema.Quantity(95), f.exposure.pos[f.symbol])

	d = f.gate.Check(f.limit(schema.OrderSideBuy, 10_000*tick, 5))
	assert.True(t, d.Allowed())
	d = f.gate.Check(f.limit(schema.OrderSideSell, 10_000*tick, 195))
	assert.True(t, d.Allowed())
}

func TestGateBounds(t *testing.T) {
	f := newFixture(t, &Config{})
	tests := []struct {
		name  string
		price schema.Price
		qty   schema.Quantity
		want  schema.RiskReason
	}{
		{"min price and qty", f.inst.MinPrice, f.inst.MinQty, schema.RiskReasonNone},
		{"max price and qty", f.inst.MaxPrice, f.inst.MaxQty, schema.RiskReasonNone},
		{"one tick below min", f.inst.MinPrice - tick, 1, schema.RiskReasonInvalidPrice},
		{"one tick above max", f.inst.MaxPrice + tick, 1, schema.RiskReasonInvalidPrice},
		{"misaligned", f.inst.MinPrice + 1, 1, schema.RiskReasonInvalidPrice},
		{"one lot above max", f.inst.MinPrice, f.inst.MaxQty + 1, schema.RiskReasonInvalidQuantity},
		{"zero qty", f.inst.MinPrice, 0, schema.RiskReasonInvalidQuantity},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := f.gate.Check(f.limit(schema.OrderSideBuy, tc.price, tc.qty))
			assert.Equal(t, tc.want, d.Reason)
		})
	}
}

func TestGateRateLimitRollingWindow(t *testing.T) {
	f := newFixture(t, &Config{Global: Limits{MaxOrdersPerSecond: 3}})
	start := f.clock.Now()
	for i := 0; i < 3; i++ {
		require.True(t, f.gate.Check(f.limit(schema.OrderSideBuy, 10_000*tick, 1)).Allowed())
	}
	d := f.gate.Check(f.limit(schema.OrderSideBuy, 10_000*tick, 1))
	assert.Equal(t, schema.RiskReasonRateLimit, d.Reason)
	assert.Equal(t, 3, f.gate.RateCount(1, f.symbol, start))

	// other strategies have their own window
	other := f.limit(schema.OrderSideBuy, 10_000*tick, 1)
	other.StrategyID = 2
	assert.True(t, f.gate.Check(other).Allowed())

	f.clock.Set(start + int64(time.Second) - 1)
	assert.Equal(t, schema.RiskReasonRateLimit, f.gate.Check(f.limit(schema.OrderSideBuy, 10_000*tick, 1)).Reason)

	f.clock.Set(start + int64(time.Second) + 1)
	assert.Zero(t, f.gate.RateCount(1, f.symbol, f.clock.Now()))
	assert.True(t, f.gate.Check(f.limit(schema.OrderSideBuy, 10_000*tick, 1)).Allowed())
}

func TestGateReleaseReturnsRateSlot(t *testing.T) {
	f := newFixture(t, &Config{Global: Limits{MaxOrdersPerSecond: 2}})
	a := f.gate.Check(f.limit(schema.OrderSideBuy, 10_000*tick, 1))
	b := f.gate.Check(f.limit(schema.OrderSideBuy, 10_000*tick, 1))
	require.True(t, a.Allowed())
	require.True(t, b.Allowed())
	assert.Equal(t, schema.RiskReasonRateLimit, f.gate.Check(f.limit(schema.OrderSideBuy, 10_000*tick, 1)).Reason)

	f.gate.Release(b)
	assert.Equal(t, 1, f.gate.RateCount(1, f.symbol, f.clock.Now()))
	assert.True(t, f.gate.Check(f.limit(schema.OrderSideBuy, 10_000*tick, 1)).Allowed())

	denied := f.gate.Check(f.limit(schema.OrderSideBuy, 10_000*tick, 1))
	require.False(t, denied.Allowed())
	f.gate.Release(denied)
	assert.Equal(t, 2, f.gate.RateCount(1, f.symbol, f.clock.Now()))
}

func TestGateRejectionsHaveNoSideEffects(t *testing.T) {
	f := newFixture(t, &Config{Global: Limits{MaxOrdersPerSecond: 1, MaxOrderQty: 5}})
	for i := 0; i < 10; i++ {
		d := f.gate.Check(f.limit(schema.OrderSideBuy, 10_000*tick, 6))
		require.Equal(t, schema.RiskReasonMaxQty, d.Reason)
	}
	assert.Zero(t, f.gate.RateCount(1, f.symbol, f.clock.Now()))
	assert.True(t, f.gate.Check(f.limit(schema.OrderSideBuy, 10_000*tick, 5)).Allowed())
	assert.Equal(t, uint64(10), f.gate.rt.Metrics.RiskReasonCount(schema.RiskReasonMaxQty))
}

func TestGateDailyLossBlocksOpeningOnly(t *testing.T) {
	f := newFixture(t, &Config{Global: Limits{MaxDailyLoss: 1_000}})
	f.exposure.pos[f.symbol] = 10
	f.exposure.pnl = -1_001

	assert.Equal(t, schema.RiskReasonDailyLoss, f.gate.Check(f.limit(schema.OrderSideBuy, 10_000*tick, 1)).Reason)
	assert.True(t, f.gate.Check(f.limit(schema.OrderSideSell, 10_000*tick, 10)).Allowed())
	assert.Equal(t, schema.RiskReasonDailyLoss, f.gate.Check(f.limit(schema.OrderSideSell, 10_000*tick, 11)).Reason)
}

func TestGateMarketChecks(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		setup  func(f *fixture)
		intent func(f *fixture) schema.OrderIntent
		want   schema.RiskReason
	}{
		{
			name:   "price deviation",
			cfg:    Config{Global: Limits{MaxPriceDeviationBps: 50}},
			intent: func(f *fixture) schema.OrderIntent { return f.limit(schema.OrderSideBuy, 10_100*tick, 1) },
			want:   schema.RiskReasonPriceDeviation,
		},
		{
			name:   "deviation inside band",
			cfg:    Config{Global: Limits{MaxPriceDeviationBps: 100}},
			intent: func(f *fixture) schema.OrderIntent { return f.limit(schema.OrderSideBuy, 10_100*tick, 1) },
			want:   schema.RiskReasonNone,
		},
		{
			name:   "gross exposure",
			cfg:    Config{Global: Limits{MaxGrossExposure: schema.Notional(10_000*tick) * 3}},
			setup:  func(f *fixture) { f.exposure.gross = schema.Notional(10_000*tick) * 3 },
			intent: func(f *fixture) schema.OrderIntent { return f.limit(schema.OrderSideBuy, 10_000*tick, 1) },
			want:   schema.RiskReasonNotionalLimit,
		},
		{
			name:   "max order notional",
			cfg:    Config{Global: Limits{MaxOrderNotional: schema.Notional(10_000 * tick)}},
			intent: func(f *fixture) schema.OrderIntent { return f.limit(schema.OrderSideBuy, 10_000*tick, 2) },
			want:   schema.RiskReasonMaxNotional,
		},
		{
			name:   "illiquid",
			cfg:    Config{Global: Limits{MinLiquidityScore: 2}},
			setup:  func(f *fixture) { f.market.depth = 5 },
			intent: func(f *fixture) schema.OrderIntent { return f.limit(schema.OrderSideBuy, 10_000*tick, 3) },
			want:   schema.RiskReasonIlliquid,
		},
		{
			name:  "market order without mid",
			cfg:   Config{},
			setup: func(f *fixture) { f.market.mid = 0 },
			intent: func(f *fixture) schema.OrderIntent {
				in := f.limit(schema.OrderSideBuy, 0, 1)
				in.Type = schema.OrderTypeMarket
				return in
			},
			want: schema.RiskReasonIlliquid,
		},
		{
			name:   "backpressure",
			cfg:    Config{},
			setup:  func(f *fixture) { f.gate.SetBackpressure(saturated(true)) },
			intent: func(f *fixture) schema.OrderIntent { return f.limit(schema.OrderSideBuy, 10_000*tick, 1) },
			want:   schema.RiskReasonBackpressure,
		},
		{
			name:   "kill switch",
			cfg:    Config{KillSwitch: true},
			intent: func(f *fixture) schema.OrderIntent { return f.limit(schema.OrderSideBuy, 10_000*tick, 1) },
			want:   schema.RiskReasonKillSwitch,
		},
		{
			name: "cancel passes kill switch",
			cfg:  Config{KillSwitch: true},
			intent: func(f *fixture) schema.OrderIntent {
				return schema.OrderIntent{IntentID: 2, TargetID: 1, Action: schema.IntentActionCancel}
			},
			want: schema.RiskReasonNone,
		},
		{
			name: "unknown symbol",
			cfg:  Config{},
			intent: func(f *fixture) schema.OrderIntent {
				in := f.limit(schema.OrderSideBuy, 10_000*tick, 1)
				in.SymbolID = 42
				return in
			},
			want: schema.RiskReasonUnknownSymbol,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			f := newFixture(t, &cfg)
			if tc.setup != nil {
				tc.setup(f)
			}
			d := f.gate.Check(tc.intent(f))
			if d.Reason != tc.want {
				t.Fatalf("reason mismatch: got %s want %s", d.Reason, tc.want)
			}
		})
	}
}

func TestGateCopyOnWriteUpdates(t *testing.T) {
	f := newFixture(t, &Config{Global: Limits{MaxOrderQty: 10}})
	held := f.gate.Config()

	require.NoError(t, f.gate.UpdateConfig(&Config{
		Global:  Limits{MaxOrderQty: 10},
		Symbols: map[schema.SymbolID]Limits{f.symbol: {MaxOrderQty: 2}},
	}))
	assert.Equal(t, schema.Quantity(10), held.For(f.symbol).MaxOrderQty)
	assert.Equal(t, schema.Quantity(2), f.gate.Config().For(f.symbol).MaxOrderQty)
	assert.Equal(t, schema.RiskReasonMaxQty, f.gate.Check(f.limit(schema.OrderSideBuy, 10_000*tick, 3)).Reason)

	f.gate.SetKillSwitch(true)
	assert.False(t, held.KillSwitch)
	assert.Equal(t, uint16(2), f.gate.Config().Version)
	assert.Equal(t, schema.RiskReasonKillSwitch, f.gate.Check(f.limit(schema.OrderSideBuy, 10_000*tick, 1)).Reason)

	err := f.gate.UpdateConfig(&Config{Global: Limits{MaxPosition: -1}})
	require.ErrorIs(t, err, exception.ErrConfigInvalidValue)
}
