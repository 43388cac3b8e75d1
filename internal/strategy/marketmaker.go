package strategy

import (
	"math"
	"time"

	"hft/internal/book"
	"hft/internal/schema"
)

// MarketMaker quotes both sides around the mid with an inventory skew and
// requotes on book updates and on a refresh timer.
type MarketMaker struct {
	Base

	symbol       schema.SymbolID
	qty          schema.Quantity
	maxInventory schema.Quantity
	spreadTicks  int64
	skewTicks    float64
	refresh      time.Duration

	lastMid schema.Price
	timer   uint64
}

func marketMakerDefinition() Definition {
	return Definition{
		Type: "marketmaker",
		Params: []ParamSpec{
			{Name: "spread_ticks", Type: ParamInt, Min: 1, Max: 100_000, Default: int64(2)},
			{Name: "qty", Type: ParamInt, Min: 1, Max: 1e12, Default: int64(1)},
			{Name: "max_inventory", Type: ParamInt, Min: 1, Max: 1e12, Default: int64(10)},
			{Name: "skew_ticks", Type: ParamFloat, Min: 0, Max: 1_000, Default: 0.5},
			{Name: "refresh", Type: ParamDuration, Min: 0, Max: 3_600, Default: "1s"},
		},
		MinSymbols: 1,
		MaxSymbols: 1,
		New: func(env Env, symbols []schema.SymbolID, p Params) (Strategy, error) {
			return NewMarketMaker(env, symbols[0], p.Int("spread_ticks"), schema.Quantity(p.Int("qty")), schema.Quantity(p.Int("max_inventory")), p.Float("skew_ticks"), p.Duration("refresh")), nil
		},
	}
}

// NewMarketMaker builds a market maker on symbol.
func NewMarketMaker(env Env, symbol schema.SymbolID, spreadTicks int64, qty, maxInventory schema.Quantity, skewTicks float64, refresh time.Duration) *MarketMaker {
	return &MarketMaker{
		Base:         NewBase(env, []schema.SymbolID{symbol}),
		symbol:       symbol,
		qty:          qty,
		maxInventory: maxInventory,
		spreadTicks:  spreadTicks,
		skewTicks:    skewTicks,
		refresh:      refresh,
	}
}

func (s *MarketMaker) OnBookUpdate(symbol schema.SymbolID, view book.View) {
	if symbol != s.symbol {
		return
	}
	mid, ok := view.MidPrice()
	if !ok {
		return
	}
	s.lastMid = mid
	if s.timer == 0 && s.refresh > 0 {
		s.timer = s.Env.After(s.refresh)
	}
	s.quote()
}

func (s *MarketMaker) OnTimer(timerID uint64) {
	if timerID != s.timer {
		return
	}
	s.timer = s.Env.After(s.refresh)
	s.quote()
}

// Quotes returns the bid and ask the maker wants at mid for inventory inv.
func (s *MarketMaker) Quotes(mid schema.Price, inv schema.Quantity) (bid, ask schema.Price) {
	inst, ok := s.Env.Instrument(s.symbol)
	if !ok {
		return 0, 0
	}
	tick := float64(inst.TickSize)
	half := float64(s.spreadTicks) * tick / 2
	skew := -float64(inv) * s.skewTicks * tick
	bid = s.RoundPrice(s.symbol, schema.OrderSideBuy, schema.Price(math.Floor(float64(mid)-half+skew)))
	ask = s.RoundPrice(s.symbol, schema.OrderSideSell, schema.Price(math.Ceil(float64(mid)+half+skew)))
	if ask <= bid {
		ask = bid + inst.TickSize
	}
	return bid, ask
}

func (s *MarketMaker) quote() {
	if s.lastMid <= 0 {
		return
	}
	inv := s.Env.Position(s.symbol)
	bid, ask := s.Quotes(s.lastMid, inv)
	s.side(schema.OrderSideBuy, bid, inv+s.qty <= s.maxInventory)
	s.side(schema.OrderSideSell, ask, inv-s.qty >= -s.maxInventory)
}

func (s *MarketMaker) side(side schema.OrderSide, price schema.Price, want bool) {
	for _, in := range s.pending {
		if in.SymbolID == s.symbol && in.Side == side {
			return
		}
	}
	for _, in := range s.inflight {
		if in.SymbolID == s.symbol && in.Side == side {
			return
		}
	}
	var live []uint64
	for _, o := range s.OpenOrders(s.symbol) {
		if o.Intent.Side != side {
			continue
		}
		if o.State == schema.OrderStatePendingCancel {
			return
		}
		live = append(live, o.ID)
	}

	switch {
	case !want:
		for _, id := range live {
			s.CancelOrder(id)
		}
	case len(live) == 0:
		s.Submit(s.symbol, side, schema.OrderTypeLimit, schema.TimeInForceGTC, price, s.qty)
	default:
		o := s.open[live[0]]
		if o.Intent.Price != price {
			s.Replace(o.ID, price, s.qty)
		}
		for _, id := range live[1:] {
			s.CancelOrder(id)
		}
	}
}
