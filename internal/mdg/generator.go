package mdg

import (
	"math/rand"
	"sort"
	"time"

	"github.com/yanun0323/errors"

	"hft/internal/schema"
	"hft/pkg/exception"
)

// Config shapes the synthetic market.
type Config struct {
	Seed          int64                   `json:"seed" yaml:"seed"`
	Start         int64                   `json:"start" yaml:"start"`
	Interval      time.Duration           `json:"interval" yaml:"interval"`
	Levels        int                     `json:"levels" yaml:"levels"`
	Volatility    int64                   `json:"volatility" yaml:"volatility"`
	TradeRate     float64                 `json:"tradeRate" yaml:"trade_rate"`
	MaxQty        schema.Quantity         `json:"maxQty" yaml:"max_qty"`
	SnapshotEvery int                     `json:"snapshotEvery" yaml:"snapshot_every"`
	Prices        map[string]schema.Price `json:"prices,omitempty" yaml:"prices,omitempty"`
}

func (c Config) withDefaults() Config {
	if c.Start == 0 {
		c.Start = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC).UnixNano()
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Millisecond
	}
	if c.Levels <= 0 {
		c.Levels = 5
	}
	if c.Volatility <= 0 {
		c.Volatility = 1
	}
	if c.TradeRate <= 0 {
		c.TradeRate = 0.3
	}
	if c.MaxQty <= 0 {
		c.MaxQty = 20
	}
	return c
}

type symbolState struct {
	inst   schema.Instrument
	mid    int64
	seq    uint64
	steps  int
	synced bool
	bids   map[int64]schema.Quantity
	asks   map[int64]schema.Quantity
}

// Generator produces a seeded random-walk market: a snapshot per symbol, then
// book deltas and trades that keep the ladders consistent. Events come out in
// non-decreasing timestamp order with contiguous per-symbol sequences.
type Generator struct {
	cfg     Config
	rng     *rand.Rand
	symbols []*symbolState
	pending []schema.MarketEvent
	now     int64
}

// NewGenerator creates a generator for every instrument in the registry.
func NewGenerator(reg *schema.Registry, cfg Config) (*Generator, error) {
	if reg == nil || reg.InstrumentCount() == 0 {
		return nil, errors.Wrap(exception.ErrConfigMissing, "registry has no instruments")
	}
	cfg = cfg.withDefaults()
	g := &Generator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
		now: cfg.Start,
	}
	for _, inst := range reg.Instruments() {
		base, ok := cfg.Prices[inst.Symbol]
		if !ok {
			base = schema.Price(100 * schema.PriceScale)
		}
		mid := int64(base) / int64(inst.TickSize)
		if floor := int64(cfg.Levels) + 1; mid <= floor {
			mid = floor + 1
		}
		g.symbols = append(g.symbols, &symbolState{
			inst: inst,
			mid:  mid,
			bids: make(map[int64]schema.Quantity),
			asks: make(map[int64]schema.Quantity),
		})
	}
	return g, nil
}

// Now returns the timestamp of the last generated step.
func (g *Generator) Now() int64 {
	return g.now
}

// Next returns the next event. The stream never ends.
func (g *Generator) Next() schema.MarketEvent {
	for len(g.pending) == 0 {
		g.step()
	}
	ev := g.pending[0]
	g.pending = g.pending[1:]
	return ev
}

func (g *Generator) step() {
	jitter := int64(g.cfg.Interval) / 2
	g.now += jitter + g.rng.Int63n(int64(g.cfg.Interval)-jitter+1)

	s := g.symbols[g.rng.Intn(len(g.symbols))]
	s.steps++
	switch {
	case !s.synced:
		g.rebuild(s)
		g.snapshot(s)
		s.synced = true
	case g.cfg.SnapshotEvery > 0 && s.steps%g.cfg.SnapshotEvery == 0:
		g.snapshot(s)
	case g.rng.Float64() < g.cfg.TradeRate:
		g.trade(s)
	default:
		g.walk(s)
	}
}

func (g *Generator) qty() schema.Quantity {
	return schema.Quantity(1 + g.rng.Int63n(int64(g.cfg.MaxQty)))
}

func (g *Generator) price(s *symbolState, ticks int64) schema.Price {
	return schema.Price(ticks * int64(s.inst.TickSize))
}

func (g *Generator) rebuild(s *symbolState) {
	for i := int64(1); i <= int64(g.cfg.Levels); i++ {
		s.bids[s.mid-i] = g.qty()
		s.asks[s.mid+i] = g.qty()
	}
}

func (g *Generator) snapshot(s *symbolState) {
	s.seq++
	ev := schema.MarketEvent{
		SymbolID: s.inst.ID,
		Kind:     schema.MarketDataBookSnapshot,
		Seq:      s.seq,
		Ts:       g.now,
	}
	for _, t := range sortedTicks(s.bids, true) {
		ev.Bids = append(ev.Bids, schema.Level{Price: g.price(s, t), Qty: s.bids[t], Count: 1})
	}
	for _, t := range sortedTicks(s.asks, false) {
		ev.Asks = append(ev.Asks, schema.Level{Price: g.price(s, t), Qty: s.asks[t], Count: 1})
	}
	g.pending = append(g.pending, ev)
}

func (g *Generator) delta(s *symbolState, side schema.OrderSide, tick int64, qty schema.Quantity) {
	s.seq++
	depth := tick - s.mid
	if depth < 0 {
		depth = -depth
	}
	g.pending = append(g.pending, schema.MarketEvent{
		SymbolID: s.inst.ID,
		Kind:     schema.MarketDataBookDelta,
		Side:     side,
		Depth:    uint16(depth),
		Price:    g.price(s, tick),
		Qty:      qty,
		Seq:      s.seq,
		Ts:       g.now,
	})
}

// trade lifts or hits the best level and publishes the reduced level.
func (g *Generator) trade(s *symbolState) {
	side := schema.OrderSideBuy
	levels := s.asks
	best := sortedTicks(s.asks, false)
	if g.rng.Intn(2) == 0 {
		side = schema.OrderSideSell
		levels = s.bids
		best = sortedTicks(s.bids, true)
	}
	if len(best) == 0 {
		g.walk(s)
		return
	}
	tick := best[0]
	qty := min(g.qty(), levels[tick])
	g.pending = append(g.pending, schema.MarketEvent{
		SymbolID: s.inst.ID,
		Kind:     schema.MarketDataTrade,
		Side:     side,
		Price:    g.price(s, tick),
		Qty:      qty,
		Ts:       g.now,
	})
	left := levels[tick] - qty
	if left == 0 {
		delete(levels, tick)
	} else {
		levels[tick] = left
	}
	g.delta(s, side.Opposite(), tick, left)
}

// walk moves the mid and reshapes the ladders around it. Removals go out
// before additions so the published book never crosses.
func (g *Generator) walk(s *symbolState) {
	vol := g.cfg.Volatility
	move := g.rng.Int63n(2*vol+1) - vol
	if s.mid+move > int64(g.cfg.Levels)+1 {
		s.mid += move
	}
	lo, hi := s.mid-int64(g.cfg.Levels), s.mid+int64(g.cfg.Levels)

	for _, t := range sortedTicks(s.bids, true) {
		if t >= s.mid || t < lo {
			delete(s.bids, t)
			g.delta(s, schema.OrderSideBuy, t, 0)
		}
	}
	for _, t := range sortedTicks(s.asks, false) {
		if t <= s.mid || t > hi {
			delete(s.asks, t)
			g.delta(s, schema.OrderSideSell, t, 0)
		}
	}
	for t := s.mid - 1; t >= lo; t-- {
		if _, ok := s.bids[t]; !ok {
			s.bids[t] = g.qty()
			g.delta(s, schema.OrderSideBuy, t, s.bids[t])
		}
	}
	for t := s.mid + 1; t <= hi; t++ {
		if _, ok := s.asks[t]; !ok {
			s.asks[t] = g.qty()
			g.delta(s, schema.OrderSideSell, t, s.asks[t])
		}
	}

	side, levels, ticks := schema.OrderSideBuy, s.bids, sortedTicks(s.bids, true)
	if g.rng.Intn(2) == 0 {
		side, levels, ticks = schema.OrderSideSell, s.asks, sortedTicks(s.asks, false)
	}
	if len(ticks) > 0 {
		t := ticks[g.rng.Intn(len(ticks))]
		levels[t] = g.qty()
		g.delta(s, side, t, levels[t])
	}
}

func sortedTicks(levels map[int64]schema.Quantity, desc bool) []int64 {
	out := make([]int64, 0, len(levels))
	for t := range levels {
		out = append(out, t)
	}
	if desc {
		sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	}
	return out
}
