package strategy

import (
	"hft/internal/book"
	"hft/internal/schema"
)

// MeanReversion fades the z-score of the mid price against its rolling mean
// and flattens once the spread has reverted.
type MeanReversion struct {
	Base

	symbol schema.SymbolID
	qty    schema.Quantity
	entryZ float64
	exitZ  float64
	window *rolling
}

func meanRevDefinition() Definition {
	return Definition{
		Type: "meanrev",
		Params: []ParamSpec{
			{Name: "window", Type: ParamInt, Min: 2, Max: 100_000, Default: int64(50)},
			{Name: "qty", Type: ParamInt, Min: 1, Max: 1e12, Default: int64(1)},
			{Name: "entry_z", Type: ParamFloat, Min: 0, Max: 100, Default: 2.0},
			{Name: "exit_z", Type: ParamFloat, Min: 0, Max: 100, Default: 0.5},
		},
		MinSymbols: 1,
		MaxSymbols: 1,
		New: func(env Env, symbols []schema.SymbolID, p Params) (Strategy, error) {
			return NewMeanReversion(env, symbols[0], int(p.Int("window")), schema.Quantity(p.Int("qty")), p.Float("entry_z"), p.Float("exit_z")), nil
		},
	}
}

// NewMeanReversion builds a mean-reversion strategy on symbol.
func NewMeanReversion(env Env, symbol schema.SymbolID, window int, qty schema.Quantity, entryZ, exitZ float64) *MeanReversion {
	return &MeanReversion{
		Base:   NewBase(env, []schema.SymbolID{symbol}),
		symbol: symbol,
		qty:    qty,
		entryZ: entryZ,
		exitZ:  exitZ,
		window: newRolling(window),
	}
}

func (s *MeanReversion) OnBookUpdate(symbol schema.SymbolID, view book.View) {
	if symbol != s.symbol {
		return
	}
	mid, ok := view.MidPrice()
	if !ok {
		return
	}
	s.window.push(float64(mid))
	if !s.window.full() || s.Working(s.symbol) {
		return
	}

	z := s.window.zscore(float64(mid))
	pos := s.Env.Position(s.symbol)
	top := view.TopOfBook()
	switch {
	case pos == 0 && z > s.entryZ && top.HasBid:
		s.Submit(s.symbol, schema.OrderSideSell, schema.OrderTypeLimit, schema.TimeInForceIOC, top.Bid.Price, s.qty)
	case pos == 0 && z < -s.entryZ && top.HasAsk:
		s.Submit(s.symbol, schema.OrderSideBuy, schema.OrderTypeLimit, schema.TimeInForceIOC, top.Ask.Price, s.qty)
	case pos > 0 && z > -s.exitZ:
		s.Market(s.symbol, schema.OrderSideSell, pos)
	case pos < 0 && z < s.exitZ:
		s.Market(s.symbol, schema.OrderSideBuy, -pos)
	}
}
