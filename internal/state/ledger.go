package state

import (
	"math/bits"
	"sort"

	"github.com/yanun0323/errors"

	"hft/internal/schema"
	"hft/pkg/exception"
)

// Position is the per-symbol book of record. Cost is the signed cost basis of
// the open quantity, so AvgEntry = Cost / Qty and unrealized = Qty*Mark - Cost.
// Cash is the net cash flow of all fills after fees.
type Position struct {
	SymbolID schema.SymbolID `json:"symbolId"`
	Qty      schema.Quantity `json:"qty"`
	Cost     schema.Notional `json:"cost"`
	Realized schema.Notional `json:"realized"`
	Fees     schema.Fee      `json:"fees"`
	Cash     schema.Notional `json:"cash"`
	Mark     schema.Price    `json:"mark"`
	HasMark  bool            `json:"hasMark"`

	Fills         uint64 `json:"fills"`
	ClosingTrades uint64 `json:"closingTrades"`
	WinningTrades uint64 `json:"winningTrades"`
}

// AvgEntry returns the weighted average entry price, 0 when flat.
func (p Position) AvgEntry() float64 {
	if p.Qty == 0 {
		return 0
	}
	return float64(p.Cost) / float64(p.Qty) / schema.PriceScale
}

// Unrealized marks the open quantity. Without a mark it is zero.
func (p Position) Unrealized() schema.Notional {
	if !p.HasMark || p.Qty == 0 {
		return 0
	}
	return schema.Notional(int64(p.Qty)*int64(p.Mark)) - p.Cost
}

// Total is realized + unrealized - fees.
func (p Position) Total() schema.Notional {
	return p.Realized + p.Unrealized() - schema.Notional(p.Fees)
}

// Exposure is |Qty| valued at the mark, or at cost before the first mark.
func (p Position) Exposure() schema.Notional {
	if p.Qty == 0 {
		return 0
	}
	if p.HasMark {
		return schema.Notional(abs(int64(p.Qty)) * int64(p.Mark))
	}
	return schema.Notional(abs(int64(p.Cost)))
}

// FillResult describes the effect of one applied fill.
type FillResult struct {
	Position    Position
	PrevQty     schema.Quantity
	RealizedPnL schema.Notional
	ClosedQty   schema.Quantity
	OpenedQty   schema.Quantity
}

type execKey struct {
	orderID uint64
	execID  uint64
}

// Ledger tracks positions and P&L with the weighted average method. It is
// owned by the event loop.
type Ledger struct {
	positions map[schema.SymbolID]*Position
	seen      map[execKey]struct{}

	dayBaseline schema.Notional
	dayStart    int64
	lastSeq     uint64
	lastEventTs int64
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		positions: make(map[schema.SymbolID]*Position),
		seen:      make(map[execKey]struct{}),
	}
}

// ApplyFill books fill. A repeated (order, execution) pair is rejected with
// ErrOrderDuplicateFill and leaves the ledger untouched. A fill that crosses
// zero is split into a closing part and an opening part.
func (l *Ledger) ApplyFill(fill schema.Fill) (FillResult, error) {
	if fill.Qty <= 0 || fill.Price <= 0 {
		return FillResult{}, errors.Wrapf(exception.ErrInvalidArgument, "fill %d/%d price %d qty %d", fill.OrderID, fill.ExecID, fill.Price, fill.Qty)
	}
	sign := fill.Side.Sign()
	if sign == 0 {
		return FillResult{}, errors.Wrapf(exception.ErrInvalidArgument, "fill %d/%d side %d", fill.OrderID, fill.ExecID, fill.Side)
	}
	key := execKey{orderID: fill.OrderID, execID: fill.ExecID}
	if _, dup := l.seen[key]; dup {
		return FillResult{}, errors.Wrapf(exception.ErrOrderDuplicateFill, "order %d exec %d", fill.OrderID, fill.ExecID)
	}
	l.seen[key] = struct{}{}

	pos := l.position(fill.SymbolID)
	res := FillResult{PrevQty: pos.Qty}

	qty := int64(fill.Qty)
	price := int64(fill.Price)
	cur := int64(pos.Qty)

	if cur != 0 && (cur > 0) != (sign > 0) {
		closeQty := min(qty, abs(cur))
		removed := mulDiv(int64(pos.Cost), closeQty, abs(cur))
		realized := -sign*closeQty*price - removed
		pos.Cost -= schema.Notional(removed)
		pos.Realized += schema.Notional(realized)
		pos.Qty += schema.Quantity(sign * closeQty)
		pos.ClosingTrades++
		if realized > 0 {
			pos.WinningTrades++
		}
		res.RealizedPnL = schema.Notional(realized)
		res.ClosedQty = schema.Quantity(closeQty)
		qty -= closeQty
	}
	if qty > 0 {
		pos.Cost += schema.Notional(sign * qty * price)
		pos.Qty += schema.Quantity(sign * qty)
		res.OpenedQty = schema.Quantity(qty)
	}
	if pos.Qty == 0 {
		pos.Cost = 0
	}

	pos.Fees += fill.Fee
	pos.Cash += schema.Notional(-sign*int64(fill.Qty)*price) - schema.Notional(fill.Fee)
	pos.Fills++
	if fill.Ts > l.lastEventTs {
		l.lastEventTs = fill.Ts
	}
	res.Position = *pos
	return res, nil
}

// Mark sets the mark price used for unrealized P&L.
func (l *Ledger) Mark(symbol schema.SymbolID, price schema.Price) {
	if price <= 0 {
		return
	}
	pos := l.position(symbol)
	pos.Mark = price
	pos.HasMark = true
}

// Seen reports whether the execution was already booked.
func (l *Ledger) Seen(orderID, execID uint64) bool {
	_, ok := l.seen[execKey{orderID: orderID, execID: execID}]
	return ok
}

// Position returns the signed quantity for symbol.
func (l *Ledger) Position(symbol schema.SymbolID) schema.Quantity {
	if pos, ok := l.positions[symbol]; ok {
		return pos.Qty
	}
	return 0
}

// Get returns a copy of the full position record.
func (l *Ledger) Get(symbol schema.SymbolID) (Position, bool) {
	pos, ok := l.positions[symbol]
	if !ok {
		return Position{SymbolID: symbol}, false
	}
	return *pos, true
}

// Positions returns every tracked position ordered by symbol.
func (l *Ledger) Positions() []Position {
	out := make([]Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SymbolID < out[j].SymbolID })
	return out
}

// GrossExposure sums |position| valued at the mark over all symbols.
func (l *Ledger) GrossExposure() schema.Notional {
	var total schema.Notional
	for _, pos := range l.positions {
		total += pos.Exposure()
	}
	return total
}

// GrossPosition sums |position| over all symbols.
func (l *Ledger) GrossPosition() schema.Quantity {
	var total schema.Quantity
	for _, pos := range l.positions {
		total += schema.Quantity(abs(int64(pos.Qty)))
	}
	return total
}

// TotalPnL is realized + unrealized - fees over all symbols.
func (l *Ledger) TotalPnL() schema.Notional {
	var total schema.Notional
	for _, pos := range l.positions {
		total += pos.Total()
	}
	return total
}

// DailyPnL is TotalPnL relative to the baseline taken at the last day roll.
func (l *Ledger) DailyPnL() schema.Notional {
	return l.TotalPnL() - l.dayBaseline
}

// ResetDay starts a new trading day at ts.
func (l *Ledger) ResetDay(ts int64) {
	l.dayBaseline = l.TotalPnL()
	l.dayStart = ts
}

// DayStart returns the timestamp of the last day roll.
func (l *Ledger) DayStart() int64 {
	return l.dayStart
}

// SetLastSeq records the event log sequence covered by the ledger.
func (l *Ledger) SetLastSeq(seq uint64) {
	if seq > l.lastSeq {
		l.lastSeq = seq
	}
}

func (l *Ledger) LastSeq() uint64 {
	return l.lastSeq
}

// CheckIdentity verifies realized + unrealized - fees == qty*mark + cash for
// every marked position.
func (l *Ledger) CheckIdentity() error {
	for _, pos := range l.positions {
		if !pos.HasMark {
			continue
		}
		lhs := pos.Total()
		rhs := schema.Notional(int64(pos.Qty)*int64(pos.Mark)) + pos.Cash
		if lhs != rhs {
			return errors.Wrapf(exception.ErrCrossedLedger, "symbol %d: pnl %d, value %d", pos.SymbolID, lhs, rhs)
		}
	}
	return nil
}

func (l *Ledger) position(symbol schema.SymbolID) *Position {
	pos, ok := l.positions[symbol]
	if !ok {
		pos = &Position{SymbolID: symbol}
		l.positions[symbol] = pos
	}
	return pos
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// mulDiv returns a*b/c truncated toward zero using a 128-bit intermediate.
// b and c must be positive with b <= c.
func mulDiv(a, b, c int64) int64 {
	neg := a < 0
	hi, lo := bits.Mul64(uint64(abs(a)), uint64(b))
	q, _ := bits.Div64(hi, lo, uint64(c))
	if neg {
		return -int64(q)
	}
	return int64(q)
}
