package backtest

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/yanun0323/errors"

	"hft/internal/book"
	"hft/internal/bus"
	"hft/internal/chaos"
	"hft/internal/env"
	"hft/internal/og"
	"hft/internal/schema"
	"hft/internal/state"
	"hft/pkg/exception"
)

// FillModel selects how resting limit orders fill.
type FillModel string

const (
	// FillNaive fills market orders at the top of book and limits as soon
	// as the book crosses their price.
	FillNaive FillModel = "naive"
	// FillQueue also makes limits wait behind the quantity resting at their
	// price when they joined; trades at that price consume the queue first.
	FillQueue FillModel = "queue"
)

// ParseFillModel accepts "naive" and "queue" (or "queue_aware").
func ParseFillModel(s string) (FillModel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(FillNaive):
		return FillNaive, nil
	case string(FillQueue), "queue_aware", "queue-aware":
		return FillQueue, nil
	default:
		return "", errors.Wrapf(exception.ErrConfigInvalidValue, "fill model %q", s)
	}
}

// Books gives the simulator read access to the engine's books.
type Books interface {
	Book(symbol schema.SymbolID) *book.Book
}

// SimConfig configures the simulated venue.
type SimConfig struct {
	Model   FillModel
	Fees    state.FeeModel
	Latency time.Duration
	Chaos   chaos.Config
}

type simOrder struct {
	id        uint64
	venueID   uint64
	intent    schema.OrderIntent
	leaves    schema.Quantity
	ahead     schema.Quantity
	triggered bool
}

type timed struct {
	at int64
	cb og.Callback
}

// SimStats counts simulator activity.
type SimStats struct {
	Orders  uint64 `json:"orders"`
	Fills   uint64 `json:"fills"`
	Cancels uint64 `json:"cancels"`
	Expired uint64 `json:"expired"`
	Rejects uint64 `json:"rejects"`
	Dropped uint64 `json:"dropped"`
	Doubled uint64 `json:"duplicated"`
}

// SimVenue is a deterministic venue. It receives requests through Dispatch,
// watches the market through OnMarketData and answers with callbacks on the
// engine's venue queue. Callbacks are released in emission order once the
// clock reaches their due time.
type SimVenue struct {
	rt       env.Runtime
	log      zerolog.Logger
	cfg      SimConfig
	registry *schema.Registry
	books    Books
	out      *bus.Queue[og.Callback]
	chaos    *chaos.Engine[timed]

	resting  map[schema.SymbolID][]*simOrder
	byID     map[uint64]*simOrder
	held     []timed
	lastAt   int64
	nextExec uint64
	nextVID  uint64
	stats    SimStats
}

// NewSimVenue creates a simulator publishing to out. Chaos never reorders
// callbacks: a fill overtaking its order's cancel would be indistinguishable
// from a venue bug.
func NewSimVenue(rt env.Runtime, registry *schema.Registry, books Books, out *bus.Queue[og.Callback], cfg SimConfig) (*SimVenue, error) {
	if cfg.Model == "" {
		cfg.Model = FillNaive
	}
	if cfg.Fees == nil {
		cfg.Fees = state.NoFees{}
	}
	s := &SimVenue{
		rt:       rt,
		log:      rt.Logger("sim"),
		cfg:      cfg,
		registry: registry,
		books:    books,
		out:      out,
		resting:  make(map[schema.SymbolID][]*simOrder),
		byID:     make(map[uint64]*simOrder),
		nextVID:  1_000_000,
	}
	if cfg.Chaos.Enabled() {
		cc := cfg.Chaos
		cc.ReorderWindow = 1
		engine, err := chaos.NewEngine(cc, chaos.Hooks[timed]{
			Delay: func(t timed, d time.Duration) timed {
				t.at += int64(d)
				return t
			},
			Droppable: func(t timed) bool {
				return t.cb.Kind == og.CallbackAck || t.cb.Kind == og.CallbackSendResult
			},
		})
		if err != nil {
			return nil, err
		}
		s.chaos = engine
	}
	return s, nil
}

// Model returns the fill model in use.
func (s *SimVenue) Model() FillModel {
	return s.cfg.Model
}

// Stats returns activity counters.
func (s *SimVenue) Stats() SimStats {
	st := s.stats
	if s.chaos != nil {
		st.Dropped, st.Doubled = s.chaos.Stats()
	}
	return st
}

// Resting returns the number of orders working in the simulator.
func (s *SimVenue) Resting() int {
	return len(s.byID)
}

// Dispatch implements og.Dispatcher.
func (s *SimVenue) Dispatch(req og.Request) error {
	switch req.Kind {
	case og.RequestNew:
		s.onNew(req)
	case og.RequestCancel:
		s.onCancel(req)
	default:
		return errors.Wrapf(exception.ErrOrderInvalidRequest, "sim request kind %d", req.Kind)
	}
	s.Release(s.rt.Now())
	return nil
}

// NextRelease returns when the next held callback becomes due.
func (s *SimVenue) NextRelease() (int64, bool) {
	if len(s.held) == 0 {
		return 0, false
	}
	return s.held[0].at, true
}

// Release publishes every held callback due at now and returns how many went
// out. It stops early when the venue queue is full.
func (s *SimVenue) Release(now int64) int {
	n := 0
	for len(s.held) > 0 && s.held[0].at <= now {
		if err := s.out.TryPublish(s.held[0].cb); err != nil {
			break
		}
		s.held[0] = timed{}
		s.held = s.held[1:]
		n++
	}
	return n
}

// OnMarketData implements marketdata.Handler. The simulator is registered for
// every symbol ahead of the strategies, so fills caused by an event are queued
// before strategies react to it.
func (s *SimVenue) OnMarketData(ev schema.MarketEvent, view book.View, _ book.Result) {
	orders := s.resting[ev.SymbolID]
	if len(orders) == 0 {
		return
	}
	inst, _ := s.registry.Instrument(ev.SymbolID)

	if ev.Kind == schema.MarketDataTrade {
		s.triggerStops(inst, orders, ev.Price)
		if s.cfg.Model == FillQueue {
			s.consumeQueue(inst, ev)
		}
	} else if mid, ok := view.MidPrice(); ok {
		s.triggerStops(inst, orders, mid)
	}

	top := view.TopOfBook()
	for _, o := range s.resting[ev.SymbolID] {
		if !o.triggered || o.leaves == 0 {
			continue
		}
		// Cancellations ahead of us shrink the queue, never grow it.
		if s.cfg.Model == FillQueue {
			if lvl := s.levelQty(ev.SymbolID, o.intent.Side, o.intent.Price); lvl < o.ahead {
				o.ahead = lvl
			}
		}
		switch o.intent.Side {
		case schema.OrderSideBuy:
			if top.HasAsk && top.Ask.Price <= o.intent.Price {
				s.fill(inst, o, o.intent.Price, o.leaves, schema.LiquidityMaker)
			}
		case schema.OrderSideSell:
			if top.HasBid && top.Bid.Price >= o.intent.Price {
				s.fill(inst, o, o.intent.Price, o.leaves, schema.LiquidityMaker)
			}
		}
	}
	s.compact(ev.SymbolID)
	s.Release(s.rt.Now())
}

func (s *SimVenue) onNew(req og.Request) {
	s.stats.Orders++
	s.emit(og.Callback{Kind: og.CallbackSendResult, OrderID: req.OrderID, Request: og.RequestNew})

	intent := req.Intent
	inst, ok := s.registry.Instrument(intent.SymbolID)
	if !ok {
		s.reject(req.OrderID, schema.OrderAckReasonNotAllowed)
		return
	}
	if intent.Type.HasLimitPrice() && !inst.PriceAligned(intent.Price) {
		s.reject(req.OrderID, schema.OrderAckReasonInvalidPrice)
		return
	}
	if intent.Qty <= 0 {
		s.reject(req.OrderID, schema.OrderAckReasonInvalidQty)
		return
	}

	s.nextVID++
	o := &simOrder{id: req.OrderID, venueID: s.nextVID, intent: intent, leaves: intent.Qty, triggered: !intent.Type.HasStopPrice()}
	s.emit(og.Callback{Kind: og.CallbackAck, OrderID: o.id, VenueOrderID: o.venueID})

	if !o.triggered {
		if price, ok := s.triggerPrice(intent.SymbolID); ok && stopReached(intent, price) {
			o.triggered = true
		} else {
			s.rest(o)
			return
		}
	}
	s.execute(inst, o)
}

// execute runs a live (triggered) order against the book.
func (s *SimVenue) execute(inst schema.Instrument, o *simOrder) {
	b := s.books.Book(inst.ID)
	switch {
	case o.intent.Type == schema.OrderTypeMarket || o.intent.Type == schema.OrderTypeStop:
		// Market orders walk the opposite side; whatever the book cannot
		// absorb expires.
		s.sweep(inst, b, o)
		if o.leaves > 0 {
			s.expire(o)
		}

	case o.intent.TimeInForce == schema.TimeInForceFOK || o.intent.Type == schema.OrderTypeFOK:
		if s.available(b, o) < o.leaves {
			s.expire(o)
			return
		}
		s.sweep(inst, b, o)

	case o.intent.TimeInForce == schema.TimeInForceIOC || o.intent.Type == schema.OrderTypeIOC:
		s.sweep(inst, b, o)
		if o.leaves > 0 {
			s.expire(o)
		}

	default:
		if s.available(b, o) > 0 {
			s.sweep(inst, b, o)
		}
		if o.leaves > 0 {
			if s.cfg.Model == FillQueue && b != nil {
				o.ahead = b.LevelQty(o.intent.Side, o.intent.Price)
			}
			s.rest(o)
		}
	}
}

// available sums opposite-side quantity at prices the limit accepts.
func (s *SimVenue) available(b *book.Book, o *simOrder) schema.Quantity {
	if b == nil {
		return 0
	}
	var total schema.Quantity
	b.Ascend(o.intent.Side.Opposite(), func(lvl schema.Level) bool {
		if !marketable(o.intent, lvl.Price) {
			return false
		}
		total += lvl.Qty
		return total < o.leaves
	})
	return total
}

// sweep takes liquidity level by level up to the limit price.
func (s *SimVenue) sweep(inst schema.Instrument, b *book.Book, o *simOrder) {
	if b == nil {
		return
	}
	var levels []schema.Level
	b.Ascend(o.intent.Side.Opposite(), func(lvl schema.Level) bool {
		if !marketable(o.intent, lvl.Price) {
			return false
		}
		levels = append(levels, lvl)
		return true
	})
	for _, lvl := range levels {
		if o.leaves == 0 {
			return
		}
		s.fill(inst, o, lvl.Price, min(o.leaves, lvl.Qty), schema.LiquidityTaker)
	}
}

func (s *SimVenue) onCancel(req og.Request) {
	s.emit(og.Callback{Kind: og.CallbackSendResult, OrderID: req.OrderID, Request: og.RequestCancel})
	o := s.byID[req.OrderID]
	if o == nil {
		return
	}
	s.stats.Cancels++
	o.leaves = 0
	delete(s.byID, o.id)
	s.compact(o.intent.SymbolID)
	s.emit(og.Callback{Kind: og.CallbackCancel, OrderID: o.id})
}

func (s *SimVenue) triggerStops(inst schema.Instrument, orders []*simOrder, price schema.Price) {
	for _, o := range orders {
		if o.triggered || o.leaves == 0 || !stopReached(o.intent, price) {
			continue
		}
		o.triggered = true
		s.log.Debug().Uint64("order_id", o.id).Int64("price", int64(price)).Msg("stop triggered")
		delete(s.byID, o.id)
		s.execute(inst, o)
	}
}

// consumeQueue applies a trade to the queue ahead of resting orders on the
// passive side at the traded price.
func (s *SimVenue) consumeQueue(inst schema.Instrument, ev schema.MarketEvent) {
	passive := ev.Side.Opposite()
	remaining := ev.Qty
	for _, o := range s.resting[ev.SymbolID] {
		if !o.triggered || o.leaves == 0 || o.intent.Side != passive || o.intent.Price != ev.Price {
			continue
		}
		if o.ahead >= remaining {
			o.ahead -= remaining
			return
		}
		remaining -= o.ahead
		o.ahead = 0
		qty := min(remaining, o.leaves)
		s.fill(inst, o, o.intent.Price, qty, schema.LiquidityMaker)
		remaining -= qty
		if remaining == 0 {
			return
		}
	}
}

func (s *SimVenue) triggerPrice(symbol schema.SymbolID) (schema.Price, bool) {
	b := s.books.Book(symbol)
	if b == nil {
		return 0, false
	}
	if p, _, ok := b.LastTrade(); ok {
		return p, true
	}
	return b.MidPrice()
}

func (s *SimVenue) levelQty(symbol schema.SymbolID, side schema.OrderSide, price schema.Price) schema.Quantity {
	b := s.books.Book(symbol)
	if b == nil {
		return 0
	}
	return b.LevelQty(side, price)
}

func (s *SimVenue) fill(inst schema.Instrument, o *simOrder, price schema.Price, qty schema.Quantity, liq schema.Liquidity) {
	if qty <= 0 {
		return
	}
	s.nextExec++
	s.stats.Fills++
	o.leaves -= qty
	s.emit(og.Callback{Kind: og.CallbackFill, OrderID: o.id, Fill: schema.Fill{
		ExecID:    s.nextExec,
		Liquidity: liq,
		Price:     price,
		Qty:       qty,
		Fee:       s.cfg.Fees.Fee(inst, liq, price, qty),
	}})
	if o.leaves == 0 {
		delete(s.byID, o.id)
	}
}

func (s *SimVenue) expire(o *simOrder) {
	s.stats.Expired++
	o.leaves = 0
	delete(s.byID, o.id)
	s.emit(og.Callback{Kind: og.CallbackExpire, OrderID: o.id})
}

func (s *SimVenue) reject(orderID uint64, reason schema.OrderAckReason) {
	s.stats.Rejects++
	s.emit(og.Callback{Kind: og.CallbackReject, OrderID: orderID, Reason: reason})
}

func (s *SimVenue) rest(o *simOrder) {
	s.byID[o.id] = o
	sym := o.intent.SymbolID
	for _, r := range s.resting[sym] {
		if r == o {
			return
		}
	}
	s.resting[sym] = append(s.resting[sym], o)
}

func (s *SimVenue) compact(symbol schema.SymbolID) {
	orders := s.resting[symbol]
	keep := orders[:0]
	for _, o := range orders {
		if o.leaves > 0 {
			if _, ok := s.byID[o.id]; ok {
				keep = append(keep, o)
			}
		}
	}
	for i := len(keep); i < len(orders); i++ {
		orders[i] = nil
	}
	s.resting[symbol] = keep
}

func (s *SimVenue) emit(cb og.Callback) {
	now := s.rt.Now()
	cb.Ts = now
	items := []timed{{at: now + int64(s.cfg.Latency), cb: cb}}
	if s.chaos != nil {
		items = s.chaos.Process(items[0])
	}
	for _, t := range items {
		if t.at < s.lastAt {
			t.at = s.lastAt
		}
		s.lastAt = t.at
		s.held = append(s.held, t)
	}
}

func marketable(intent schema.OrderIntent, price schema.Price) bool {
	switch intent.Type {
	case schema.OrderTypeMarket, schema.OrderTypeStop:
		return true
	}
	if intent.Side == schema.OrderSideBuy {
		return price <= intent.Price
	}
	return price >= intent.Price
}

func stopReached(intent schema.OrderIntent, price schema.Price) bool {
	if intent.Side == schema.OrderSideBuy {
		return price >= intent.StopPrice
	}
	return price <= intent.StopPrice
}
