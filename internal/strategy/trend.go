package strategy

import (
	"hft/internal/book"
	"hft/internal/schema"
)

// Trend follows the slope of a simple moving average of the mid price.
type Trend struct {
	Base

	symbol      schema.SymbolID
	qty         schema.Quantity
	maxPosition schema.Quantity
	threshold   float64
	window      *rolling
	prevSMA     float64
}

func trendDefinition() Definition {
	return Definition{
		Type: "trend",
		Params: []ParamSpec{
			{Name: "window", Type: ParamInt, Min: 2, Max: 100_000, Default: int64(20)},
			{Name: "qty", Type: ParamInt, Min: 1, Max: 1e12, Default: int64(1)},
			{Name: "max_position", Type: ParamInt, Min: 1, Max: 1e12, Default: int64(10)},
			{Name: "threshold_bps", Type: ParamFloat, Min: 0, Max: 10_000, Default: 1.0},
		},
		MinSymbols: 1,
		MaxSymbols: 1,
		New: func(env Env, symbols []schema.SymbolID, p Params) (Strategy, error) {
			return NewTrend(env, symbols[0], int(p.Int("window")), schema.Quantity(p.Int("qty")), schema.Quantity(p.Int("max_position")), p.Float("threshold_bps")), nil
		},
	}
}

// NewTrend builds a trend follower on symbol.
func NewTrend(env Env, symbol schema.SymbolID, window int, qty, maxPosition schema.Quantity, thresholdBps float64) *Trend {
	return &Trend{
		Base:        NewBase(env, []schema.SymbolID{symbol}),
		symbol:      symbol,
		qty:         qty,
		maxPosition: maxPosition,
		threshold:   thresholdBps,
		window:      newRolling(window),
	}
}

func (s *Trend) OnBookUpdate(symbol schema.SymbolID, view book.View) {
	mid, ok := view.MidPrice()
	if !ok || symbol != s.symbol {
		return
	}
	s.window.push(float64(mid))
	if !s.window.full() {
		return
	}
	sma := s.window.mean()
	prev := s.prevSMA
	s.prevSMA = sma
	if prev == 0 || s.Working(s.symbol) {
		return
	}

	slope := (sma - prev) / prev * 10_000
	pos := s.Env.Position(s.symbol)
	switch {
	case slope > s.threshold && pos+s.qty <= s.maxPosition:
		s.Market(s.symbol, schema.OrderSideBuy, s.qty)
	case slope < -s.threshold && pos-s.qty >= -s.maxPosition:
		s.Market(s.symbol, schema.OrderSideSell, s.qty)
	}
}
