package book

import (
	"github.com/google/btree"
	"github.com/yanun0323/errors"

	"hft/internal/schema"
	"hft/pkg/exception"
)

const btreeDegree = 32

// Top is the best level of each side. A missing side has a zero Level.
type Top struct {
	Bid    schema.Level
	Ask    schema.Level
	HasBid bool
	HasAsk bool
}

// Result describes the effect of an applied event.
type Result struct {
	TopChanged bool
	Crossed    bool
}

// View is the read-only handle strategies receive for the duration of one callback.
type View interface {
	SymbolID() schema.SymbolID
	Seq() uint64
	UpdatedAt() int64
	TopOfBook() Top
	Depth(n int) (bids, asks []schema.Level)
	DepthQty(side schema.OrderSide, n int) schema.Quantity
	MidPrice() (schema.Price, bool)
	ReferencePrice() (schema.Price, bool)
	LastTrade() (schema.Price, schema.Quantity, bool)
	Crossed() bool
	Session() schema.SessionState
}

// Book maintains exact bid and ask ladders for one instrument. It is owned by
// the event loop and is not safe for concurrent use.
type Book struct {
	inst schema.Instrument
	bids *btree.BTreeG[schema.Level]
	asks *btree.BTreeG[schema.Level]
	top  Top

	seq       uint64
	synced    bool
	stale     bool
	crossed   bool
	updatedAt int64
	session   schema.SessionState

	lastPrice schema.Price
	lastQty   schema.Quantity
	hasTrade  bool
}

func bidLess(a, b schema.Level) bool { return a.Price > b.Price }
func askLess(a, b schema.Level) bool { return a.Price < b.Price }

// New creates an empty, unsynced book for inst.
func New(inst schema.Instrument) *Book {
	return &Book{
		inst:    inst,
		bids:    btree.NewG(btreeDegree, bidLess),
		asks:    btree.NewG(btreeDegree, askLess),
		session: schema.SessionOpen,
	}
}

func (b *Book) SymbolID() schema.SymbolID { return b.inst.ID }

func (b *Book) Instrument() schema.Instrument { return b.inst }

// Seq returns the last applied sequence number.
func (b *Book) Seq() uint64 { return b.seq }

func (b *Book) UpdatedAt() int64 { return b.updatedAt }

// NeedsResync reports whether a gap was detected and no snapshot has arrived since.
func (b *Book) NeedsResync() bool { return b.stale }

// Crossed reports whether best bid >= best ask after the last update.
func (b *Book) Crossed() bool { return b.crossed }

func (b *Book) Session() schema.SessionState { return b.session }

// View returns the read-only handle for strategies.
func (b *Book) View() View { return b }

// Apply dispatches on the event kind.
func (b *Book) Apply(ev schema.MarketEvent) (Result, error) {
	switch ev.Kind {
	case schema.MarketDataBookDelta:
		return b.ApplyDelta(ev)
	case schema.MarketDataBookSnapshot:
		return b.ApplySnapshot(ev)
	case schema.MarketDataTrade:
		return b.ApplyTrade(ev)
	case schema.MarketDataSessionStatus:
		b.session = ev.Session
		b.updatedAt = ev.Ts
		return Result{Crossed: b.crossed}, nil
	default:
		return Result{}, errors.Wrapf(exception.ErrMalformedEvent, "kind %d", ev.Kind)
	}
}

// ApplyDelta sets the aggregate quantity at one price. The first delta on a
// never-synced book establishes the sequence baseline; afterwards each delta
// must carry exactly the previous sequence plus one.
func (b *Book) ApplyDelta(ev schema.MarketEvent) (Result, error) {
	if b.stale {
		return Result{}, errors.Wrapf(exception.ErrAwaitingSnapshot, "seq %d", ev.Seq)
	}
	if b.synced {
		if ev.Seq <= b.seq {
			return Result{}, errors.Wrapf(exception.ErrStaleSequence, "seq %d, last %d", ev.Seq, b.seq)
		}
		if ev.Seq != b.seq+1 {
			b.stale = true
			return Result{}, errors.Wrapf(exception.ErrSequenceGap, "seq %d, expected %d", ev.Seq, b.seq+1)
		}
	}
	if ev.Qty < 0 {
		return Result{}, errors.Wrapf(exception.ErrMalformedEvent, "symbol %d price %d: negative qty %d", b.inst.ID, ev.Price, ev.Qty)
	}
	if err := b.checkPrice(ev.Price); err != nil {
		return Result{}, err
	}

	tree := b.ladder(ev.Side)
	if tree == nil {
		return Result{}, errors.Wrapf(exception.ErrMalformedEvent, "delta side %d", ev.Side)
	}

	key := schema.Level{Price: ev.Price}
	if ev.Qty == 0 {
		tree.Delete(key)
	} else {
		lvl, ok := tree.Get(key)
		if !ok {
			lvl = schema.Level{Price: ev.Price, Count: 1}
		}
		lvl.Qty = ev.Qty
		tree.ReplaceOrInsert(lvl)
	}

	b.seq = ev.Seq
	b.synced = true
	b.updatedAt = ev.Ts
	return b.refreshTop(), nil
}

// ApplySnapshot atomically replaces both ladders and resets the expected sequence.
func (b *Book) ApplySnapshot(ev schema.MarketEvent) (Result, error) {
	if err := b.validateLadder(ev.Bids, bidLess); err != nil {
		return Result{}, errors.Wrap(err, "bids")
	}
	if err := b.validateLadder(ev.Asks, askLess); err != nil {
		return Result{}, errors.Wrap(err, "asks")
	}

	b.bids.Clear(false)
	b.asks.Clear(false)
	for _, lvl := range ev.Bids {
		b.bids.ReplaceOrInsert(lvl)
	}
	for _, lvl := range ev.Asks {
		b.asks.ReplaceOrInsert(lvl)
	}

	b.seq = ev.Seq
	b.synced = true
	b.stale = false
	b.updatedAt = ev.Ts
	res := b.refreshTop()
	res.TopChanged = true
	return res, nil
}

// ApplyTrade records the last trade. Trades never mutate the ladders.
func (b *Book) ApplyTrade(ev schema.MarketEvent) (Result, error) {
	if ev.Price <= 0 || ev.Qty <= 0 {
		return Result{}, errors.Wrapf(exception.ErrMalformedEvent, "trade price %d qty %d", ev.Price, ev.Qty)
	}
	b.lastPrice = ev.Price
	b.lastQty = ev.Qty
	b.hasTrade = true
	b.updatedAt = ev.Ts
	return Result{Crossed: b.crossed}, nil
}

// TopOfBook returns the cached best levels.
func (b *Book) TopOfBook() Top { return b.top }

// Depth returns up to n levels per side, best first.
func (b *Book) Depth(n int) (bids, asks []schema.Level) {
	return collect(b.bids, n), collect(b.asks, n)
}

// DepthQty sums the quantity of the best n levels on side.
func (b *Book) DepthQty(side schema.OrderSide, n int) schema.Quantity {
	tree := b.ladder(side)
	if tree == nil || n <= 0 {
		return 0
	}
	var total schema.Quantity
	i := 0
	tree.Ascend(func(lvl schema.Level) bool {
		total += lvl.Qty
		i++
		return i < n
	})
	return total
}

// LevelQty returns the aggregate quantity at price on side.
func (b *Book) LevelQty(side schema.OrderSide, price schema.Price) schema.Quantity {
	tree := b.ladder(side)
	if tree == nil {
		return 0
	}
	lvl, _ := tree.Get(schema.Level{Price: price})
	return lvl.Qty
}

// Ascend walks one side from the best price outward until fn returns false.
func (b *Book) Ascend(side schema.OrderSide, fn func(schema.Level) bool) {
	if tree := b.ladder(side); tree != nil {
		tree.Ascend(fn)
	}
}

// MidPrice is (best bid + best ask) / 2 when both sides are present.
func (b *Book) MidPrice() (schema.Price, bool) {
	if !b.top.HasBid || !b.top.HasAsk {
		return 0, false
	}
	return (b.top.Bid.Price + b.top.Ask.Price) / 2, true
}

// ReferencePrice is the mid when available, otherwise the last trade.
func (b *Book) ReferencePrice() (schema.Price, bool) {
	if mid, ok := b.MidPrice(); ok {
		return mid, true
	}
	if b.hasTrade {
		return b.lastPrice, true
	}
	return 0, false
}

func (b *Book) LastTrade() (schema.Price, schema.Quantity, bool) {
	return b.lastPrice, b.lastQty, b.hasTrade
}

// CheckInvariants verifies ladder contents and the cached top of book.
func (b *Book) CheckInvariants() error {
	for _, side := range []schema.OrderSide{schema.OrderSideBuy, schema.OrderSideSell} {
		var (
			prev    schema.Level
			first   = true
			failure error
		)
		less := bidLess
		if side == schema.OrderSideSell {
			less = askLess
		}
		b.ladder(side).Ascend(func(lvl schema.Level) bool {
			switch {
			case lvl.Qty <= 0:
				failure = errors.Wrapf(exception.ErrNegativeLevel, "%s level %d qty %d", side, lvl.Price, lvl.Qty)
			case b.inst.TickSize > 0 && lvl.Price%b.inst.TickSize != 0:
				failure = errors.Wrapf(exception.ErrPriceNotAligned, "%s level %d", side, lvl.Price)
			case !first && !less(prev, lvl):
				failure = errors.Wrapf(exception.ErrMalformedEvent, "%s ladder out of order at %d", side, lvl.Price)
			}
			prev, first = lvl, false
			return failure == nil
		})
		if failure != nil {
			return failure
		}
	}
	if b.top != b.computeTop() {
		return errors.Wrap(exception.ErrInternal, "stale top of book cache")
	}
	if b.top.HasBid && b.top.HasAsk && b.top.Bid.Price >= b.top.Ask.Price {
		return errors.Wrapf(exception.ErrMalformedEvent, "crossed book bid %d ask %d", b.top.Bid.Price, b.top.Ask.Price)
	}
	return nil
}

func (b *Book) ladder(side schema.OrderSide) *btree.BTreeG[schema.Level] {
	switch side {
	case schema.OrderSideBuy:
		return b.bids
	case schema.OrderSideSell:
		return b.asks
	default:
		return nil
	}
}

func (b *Book) checkPrice(p schema.Price) error {
	if p <= 0 {
		return errors.Wrapf(exception.ErrMalformedEvent, "price %d", p)
	}
	if b.inst.TickSize > 0 && p%b.inst.TickSize != 0 {
		return errors.Wrapf(exception.ErrPriceNotAligned, "price %d tick %d", p, b.inst.TickSize)
	}
	return nil
}

func (b *Book) validateLadder(levels []schema.Level, less func(a, b schema.Level) bool) error {
	for i, lvl := range levels {
		if lvl.Qty <= 0 {
			return errors.Wrapf(exception.ErrMalformedEvent, "level %d qty %d", lvl.Price, lvl.Qty)
		}
		if err := b.checkPrice(lvl.Price); err != nil {
			return err
		}
		if i > 0 && !less(levels[i-1], lvl) {
			return errors.Wrapf(exception.ErrMalformedEvent, "ladder out of order at %d", lvl.Price)
		}
	}
	return nil
}

func (b *Book) computeTop() Top {
	var top Top
	top.Bid, top.HasBid = b.bids.Min()
	top.Ask, top.HasAsk = b.asks.Min()
	return top
}

func (b *Book) refreshTop() Result {
	top := b.computeTop()
	changed := top != b.top
	b.top = top
	b.crossed = top.HasBid && top.HasAsk && top.Bid.Price >= top.Ask.Price
	return Result{TopChanged: changed, Crossed: b.crossed}
}

func collect(tree *btree.BTreeG[schema.Level], n int) []schema.Level {
	if n <= 0 || tree.Len() == 0 {
		return nil
	}
	if n > tree.Len() {
		n = tree.Len()
	}
	out := make([]schema.Level, 0, n)
	tree.Ascend(func(lvl schema.Level) bool {
		out = append(out, lvl)
		return len(out) < n
	})
	return out
}
