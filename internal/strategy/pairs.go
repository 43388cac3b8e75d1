package strategy

import (
	"math"

	"hft/internal/book"
	"hft/internal/schema"
)

// Pairs trades the z-score of the spread leg - ratio*hedge between two
// cointegrated symbols.
type Pairs struct {
	Base

	leg    schema.SymbolID
	hedge  schema.SymbolID
	qty    schema.Quantity
	ratio  float64
	entryZ float64
	exitZ  float64
	window *rolling
	mids   map[schema.SymbolID]schema.Price
}

func pairsDefinition() Definition {
	return Definition{
		Type: "pairs",
		Params: []ParamSpec{
			{Name: "window", Type: ParamInt, Min: 2, Max: 100_000, Default: int64(100)},
			{Name: "qty", Type: ParamInt, Min: 1, Max: 1e12, Default: int64(1)},
			{Name: "hedge_ratio", Type: ParamFloat, Min: 0.0001, Max: 10_000, Default: 1.0},
			{Name: "entry_z", Type: ParamFloat, Min: 0, Max: 100, Default: 2.0},
			{Name: "exit_z", Type: ParamFloat, Min: 0, Max: 100, Default: 0.5},
		},
		MinSymbols: 2,
		MaxSymbols: 2,
		New: func(env Env, symbols []schema.SymbolID, p Params) (Strategy, error) {
			return NewPairs(env, symbols[0], symbols[1], int(p.Int("window")), schema.Quantity(p.Int("qty")), p.Float("hedge_ratio"), p.Float("entry_z"), p.Float("exit_z")), nil
		},
	}
}

// NewPairs builds a pair trader on leg and hedge.
func NewPairs(env Env, leg, hedge schema.SymbolID, window int, qty schema.Quantity, ratio, entryZ, exitZ float64) *Pairs {
	return &Pairs{
		Base:   NewBase(env, []schema.SymbolID{leg, hedge}),
		leg:    leg,
		hedge:  hedge,
		qty:    qty,
		ratio:  ratio,
		entryZ: entryZ,
		exitZ:  exitZ,
		window: newRolling(window),
		mids:   make(map[schema.SymbolID]schema.Price, 2),
	}
}

func (s *Pairs) OnBookUpdate(symbol schema.SymbolID, view book.View) {
	mid, ok := view.MidPrice()
	if !ok {
		return
	}
	s.mids[symbol] = mid
	legMid, hedgeMid := s.mids[s.leg], s.mids[s.hedge]
	if legMid == 0 || hedgeMid == 0 {
		return
	}
	spread := float64(legMid) - s.ratio*float64(hedgeMid)
	s.window.push(spread)
	if !s.window.full() || s.Working(s.leg) || s.Working(s.hedge) {
		return
	}

	z := s.window.zscore(spread)
	legPos := s.Env.Position(s.leg)
	hedgePos := s.Env.Position(s.hedge)
	hedgeQty := s.RoundQty(s.hedge, schema.Quantity(math.Round(float64(s.qty)*s.ratio)))
	switch {
	case legPos == 0 && z > s.entryZ:
		s.Market(s.leg, schema.OrderSideSell, s.qty)
		if hedgeQty > 0 {
			s.Market(s.hedge, schema.OrderSideBuy, hedgeQty)
		}
	case legPos == 0 && z < -s.entryZ:
		s.Market(s.leg, schema.OrderSideBuy, s.qty)
		if hedgeQty > 0 {
			s.Market(s.hedge, schema.OrderSideSell, hedgeQty)
		}
	case legPos != 0 && math.Abs(z) < s.exitZ:
		s.flatten(s.leg, legPos)
		s.flatten(s.hedge, hedgePos)
	}
}

func (s *Pairs) flatten(symbol schema.SymbolID, pos schema.Quantity) {
	switch {
	case pos > 0:
		s.Market(symbol, schema.OrderSideSell, pos)
	case pos < 0:
		s.Market(symbol, schema.OrderSideBuy, -pos)
	}
}
