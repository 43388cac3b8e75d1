package strategy

import (
	"sort"

	"hft/internal/book"
	"hft/internal/og"
	"hft/internal/schema"
)

// Base implements order tracking, intent staging and no-op callbacks.
// Strategies embed it and override the callbacks they need.
type Base struct {
	Env Env

	symbols  []schema.SymbolID
	pending  []schema.OrderIntent
	inflight map[uint64]schema.OrderIntent
	open     map[uint64]og.Order
}

// NewBase binds env and the traded symbols.
func NewBase(env Env, symbols []schema.SymbolID) Base {
	return Base{
		Env:      env,
		symbols:  append([]schema.SymbolID(nil), symbols...),
		inflight: make(map[uint64]schema.OrderIntent),
		open:     make(map[uint64]og.Order),
	}
}

func (b *Base) ID() uint32                              { return b.Env.ID }
func (b *Base) Name() string                            { return b.Env.Name }
func (b *Base) Symbols() []schema.SymbolID              { return b.symbols }
func (b *Base) OnMarketEvent(schema.MarketEvent)        {}
func (b *Base) OnBookUpdate(schema.SymbolID, book.View) {}
func (b *Base) OnTimer(uint64)                          {}
func (b *Base) OnOrderUpdate(u OrderUpdate)             { b.Track(u) }

// Track folds an order update into the open order table.
func (b *Base) Track(u OrderUpdate) {
	switch u.Kind {
	case IntentRejected:
		delete(b.inflight, u.Intent.IntentID)
	case OrderChanged, OrderFilled, OrderTimeout, CancelFailed:
		delete(b.inflight, u.Order.ID)
		if u.Order.State.Terminal() {
			delete(b.open, u.Order.ID)
			return
		}
		b.open[u.Order.ID] = u.Order
	}
}

// DrainIntents appends staged intents to dst and clears them.
func (b *Base) DrainIntents(dst []schema.OrderIntent) []schema.OrderIntent {
	dst = append(dst, b.pending...)
	b.pending = b.pending[:0]
	return dst
}

// Submit stages a new order and returns its intent ID, which becomes the
// order ID once risk accepts it.
func (b *Base) Submit(symbol schema.SymbolID, side schema.OrderSide, typ schema.OrderType, tif schema.TimeInForce, price schema.Price, qty schema.Quantity) uint64 {
	intent := b.newIntent(symbol, schema.IntentActionNew)
	intent.Side = side
	intent.Type = typ
	intent.TimeInForce = tif
	intent.Price = price
	intent.Qty = qty
	b.stage(intent)
	b.inflight[intent.IntentID] = intent
	return intent.IntentID
}

// Buy stages a GTC limit buy.
func (b *Base) Buy(symbol schema.SymbolID, price schema.Price, qty schema.Quantity) uint64 {
	return b.Submit(symbol, schema.OrderSideBuy, schema.OrderTypeLimit, schema.TimeInForceGTC, price, qty)
}

// Sell stages a GTC limit sell.
func (b *Base) Sell(symbol schema.SymbolID, price schema.Price, qty schema.Quantity) uint64 {
	return b.Submit(symbol, schema.OrderSideSell, schema.OrderTypeLimit, schema.TimeInForceGTC, price, qty)
}

// Market stages a market order.
func (b *Base) Market(symbol schema.SymbolID, side schema.OrderSide, qty schema.Quantity) uint64 {
	return b.Submit(symbol, side, schema.OrderTypeMarket, schema.TimeInForceIOC, 0, qty)
}

// CancelOrder stages a cancel for a live order. It returns false for orders
// this strategy does not know as open.
func (b *Base) CancelOrder(orderID uint64) bool {
	o, ok := b.open[orderID]
	if !ok || !o.Cancelable() {
		return false
	}
	intent := b.newIntent(o.Intent.SymbolID, schema.IntentActionCancel)
	intent.TargetID = orderID
	intent.Side = o.Intent.Side
	b.stage(intent)
	return true
}

// Replace stages a modify of a live order: cancel plus a new order at price
// and qty. It returns the new leg's intent ID, or 0 when the order is not live.
func (b *Base) Replace(orderID uint64, price schema.Price, qty schema.Quantity) uint64 {
	o, ok := b.open[orderID]
	if !ok || !o.Cancelable() {
		return 0
	}
	intent := b.newIntent(o.Intent.SymbolID, schema.IntentActionModify)
	intent.TargetID = orderID
	intent.Side = o.Intent.Side
	intent.Type = o.Intent.Type
	intent.TimeInForce = o.Intent.TimeInForce
	intent.Price = price
	intent.StopPrice = o.Intent.StopPrice
	intent.Qty = qty
	b.stage(intent)
	b.inflight[intent.IntentID] = intent
	return intent.IntentID
}

// OpenOrders returns live orders on symbol sorted by ID.
func (b *Base) OpenOrders(symbol schema.SymbolID) []og.Order {
	out := make([]og.Order, 0, len(b.open))
	for _, o := range b.open {
		if o.Intent.SymbolID == symbol {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Working reports whether symbol has staged, in-flight or open orders.
func (b *Base) Working(symbol schema.SymbolID) bool {
	for _, in := range b.pending {
		if in.SymbolID == symbol {
			return true
		}
	}
	for _, in := range b.inflight {
		if in.SymbolID == symbol {
			return true
		}
	}
	for _, o := range b.open {
		if o.Intent.SymbolID == symbol {
			return true
		}
	}
	return false
}

// RoundPrice aligns p to the tick, down for buys and up for sells, and
// clamps it to the instrument bounds.
func (b *Base) RoundPrice(symbol schema.SymbolID, side schema.OrderSide, p schema.Price) schema.Price {
	inst, ok := b.Env.Instrument(symbol)
	if !ok || inst.TickSize <= 0 {
		return p
	}
	rem := p % inst.TickSize
	if rem != 0 {
		p -= rem
		if side == schema.OrderSideSell {
			p += inst.TickSize
		}
	}
	if p < inst.MinPrice {
		p = inst.MinPrice
	}
	if p > inst.MaxPrice {
		p = inst.MaxPrice
	}
	return p
}

// RoundQty aligns q down to the lot and clamps it to the instrument bounds.
// It returns 0 when q is below the minimum.
func (b *Base) RoundQty(symbol schema.SymbolID, q schema.Quantity) schema.Quantity {
	inst, ok := b.Env.Instrument(symbol)
	if !ok || inst.LotSize <= 0 {
		return q
	}
	q -= q % inst.LotSize
	if q < inst.MinQty {
		return 0
	}
	if q > inst.MaxQty {
		q = inst.MaxQty
	}
	return q
}

func (b *Base) newIntent(symbol schema.SymbolID, action schema.IntentAction) schema.OrderIntent {
	return schema.OrderIntent{
		IntentID:   b.Env.IDs.Next(),
		StrategyID: b.Env.ID,
		SymbolID:   symbol,
		Action:     action,
		CreatedAt:  b.Env.Now(),
	}
}

func (b *Base) stage(intent schema.OrderIntent) {
	b.pending = append(b.pending, intent)
}
