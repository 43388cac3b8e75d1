package marketdata

import (
	"errors"

	"github.com/rs/zerolog"
	yerrors "github.com/yanun0323/errors"

	"hft/internal/book"
	"hft/internal/env"
	"hft/internal/schema"
	"hft/pkg/exception"
)

// Feed is the market data source the router controls. Events are pushed by
// the feed's own goroutine through an Inbound.
type Feed interface {
	Subscribe(symbol schema.SymbolID) error
	Unsubscribe(symbol schema.SymbolID) error
	RequestSnapshot(symbol schema.SymbolID) error
}

// Handler receives accepted market events with the book they were applied to.
type Handler interface {
	OnMarketData(ev schema.MarketEvent, view book.View, res book.Result)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ev schema.MarketEvent, view book.View, res book.Result)

func (f HandlerFunc) OnMarketData(ev schema.MarketEvent, view book.View, res book.Result) {
	f(ev, view, res)
}

// Stats counts router outcomes.
type Stats struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
	Resyncs  uint64 `json:"resyncs"`
}

// Router is the serialization point for market data. It owns one book per
// symbol and runs on the event loop goroutine.
type Router struct {
	rt       env.Runtime
	log      zerolog.Logger
	registry *schema.Registry
	feed     Feed

	books     map[schema.SymbolID]*book.Book
	subs      map[schema.SymbolID][]Handler
	all       []Handler
	resyncing map[schema.SymbolID]bool
	stats     Stats
}

// NewRouter creates a router. feed may be nil for sources that cannot resync.
func NewRouter(rt env.Runtime, registry *schema.Registry, feed Feed) *Router {
	return &Router{
		rt:        rt,
		log:       rt.Logger("marketdata"),
		registry:  registry,
		feed:      feed,
		books:     make(map[schema.SymbolID]*book.Book),
		subs:      make(map[schema.SymbolID][]Handler),
		resyncing: make(map[schema.SymbolID]bool),
	}
}

// Subscribe registers h for symbol. The first subscriber for a symbol
// subscribes the feed.
func (r *Router) Subscribe(symbol schema.SymbolID, h Handler) error {
	if _, ok := r.registry.Instrument(symbol); !ok {
		return yerrors.Wrapf(exception.ErrUnknownSymbol, "subscribe %d", symbol)
	}
	first := len(r.subs[symbol]) == 0
	r.subs[symbol] = append(r.subs[symbol], h)
	if first && r.feed != nil {
		if err := r.feed.Subscribe(symbol); err != nil {
			return yerrors.Wrapf(err, "feed subscribe %s", r.registry.SymbolName(symbol))
		}
	}
	return nil
}

// Unsubscribe drops every handler for symbol and releases the feed
// subscription. The book is kept for the session.
func (r *Router) Unsubscribe(symbol schema.SymbolID) error {
	if len(r.subs[symbol]) == 0 {
		return nil
	}
	delete(r.subs, symbol)
	if r.feed != nil {
		return r.feed.Unsubscribe(symbol)
	}
	return nil
}

// SubscribeAll registers h for every symbol. All-symbol handlers run before
// per-symbol handlers so marks are current when strategies see the event.
func (r *Router) SubscribeAll(h Handler) {
	r.all = append(r.all, h)
}

// Handle applies ev to its book and, on success, delivers it to handlers in
// registration order. Gaps trigger one snapshot request per episode and
// suppress delivery.
func (r *Router) Handle(ev schema.MarketEvent) error {
	inst, ok := r.registry.Instrument(ev.SymbolID)
	if !ok {
		r.stats.Rejected++
		return yerrors.Wrapf(exception.ErrUnknownSymbol, "market data for symbol %d", ev.SymbolID)
	}
	b := r.books[inst.ID]
	if b == nil {
		b = book.New(inst)
		r.books[inst.ID] = b
	}

	res, err := b.Apply(ev)
	if err != nil {
		r.stats.Rejected++
		if errors.Is(err, exception.ErrSequenceGap) || errors.Is(err, exception.ErrAwaitingSnapshot) {
			r.requestResync(inst)
		}
		return yerrors.Wrapf(err, "%s %s", inst.Symbol, ev.Kind)
	}
	if ev.Kind == schema.MarketDataBookSnapshot {
		delete(r.resyncing, inst.ID)
	}
	r.stats.Accepted++

	view := b.View()
	for _, h := range r.all {
		h.OnMarketData(ev, view, res)
	}
	for _, h := range r.subs[inst.ID] {
		h.OnMarketData(ev, view, res)
	}
	return nil
}

func (r *Router) requestResync(inst schema.Instrument) {
	if r.resyncing[inst.ID] {
		return
	}
	r.resyncing[inst.ID] = true
	r.stats.Resyncs++
	r.rt.Metrics.IncResync()
	if r.feed == nil {
		return
	}
	if err := r.feed.RequestSnapshot(inst.ID); err != nil {
		r.log.Error().Err(err).Str("symbol", inst.Symbol).Msg("snapshot request failed")
		delete(r.resyncing, inst.ID)
	}
}

// Book returns the book for symbol, nil before its first event.
func (r *Router) Book(symbol schema.SymbolID) *book.Book {
	return r.books[symbol]
}

// Symbols lists symbols with a book, in registry order.
func (r *Router) Symbols() []schema.SymbolID {
	out := make([]schema.SymbolID, 0, len(r.books))
	for _, inst := range r.registry.Instruments() {
		if _, ok := r.books[inst.ID]; ok {
			out = append(out, inst.ID)
		}
	}
	return out
}

// Resyncing reports whether a snapshot was requested and has not arrived.
func (r *Router) Resyncing(symbol schema.SymbolID) bool {
	return r.resyncing[symbol]
}

func (r *Router) Stats() Stats {
	return r.stats
}

// ReferencePrice is the book's mid, else its last trade.
func (r *Router) ReferencePrice(symbol schema.SymbolID) (schema.Price, bool) {
	if b := r.books[symbol]; b != nil {
		return b.ReferencePrice()
	}
	return 0, false
}

func (r *Router) MidPrice(symbol schema.SymbolID) (schema.Price, bool) {
	if b := r.books[symbol]; b != nil {
		return b.MidPrice()
	}
	return 0, false
}

// DepthQty sums the best levels on side.
func (r *Router) DepthQty(symbol schema.SymbolID, side schema.OrderSide, levels int) schema.Quantity {
	if b := r.books[symbol]; b != nil {
		return b.DepthQty(side, levels)
	}
	return 0
}
