package schema

// MarketDataKind tags the MarketEvent variant.
type MarketDataKind uint16

const (
	MarketDataUnknown MarketDataKind = iota
	MarketDataTrade
	MarketDataBookDelta
	MarketDataBookSnapshot
	MarketDataSessionStatus
)

func (k MarketDataKind) String() string {
	switch k {
	case MarketDataTrade:
		return "trade"
	case MarketDataBookDelta:
		return "delta"
	case MarketDataBookSnapshot:
		return "snapshot"
	case MarketDataSessionStatus:
		return "status"
	default:
		return "unknown"
	}
}

// SessionState is carried by SessionStatus events.
type SessionState uint16

const (
	SessionUnknown SessionState = iota
	SessionOpen
	SessionClosed
	SessionHalted
)

// MarketEvent is the normalized market data variant, the payload for EventMarketData.
//
//   - Trade: Price, Qty, Side (aggressor), Ts.
//   - BookDelta: Side, Price, Qty (new aggregate), Ts, Seq. Depth is the
//     feed's 1-based level hint, 0 when unknown.
//   - BookSnapshot: Bids (descending), Asks (ascending), Ts, Seq.
//   - SessionStatus: Session, Ts.
type MarketEvent struct {
	SymbolID SymbolID
	Kind     MarketDataKind
	Side     OrderSide
	Session  SessionState
	Depth    uint16
	Flags    uint16
	Price    Price
	Qty      Quantity
	Seq      uint64
	Ts       int64
	Bids     []Level
	Asks     []Level
}

// Essential reports whether the event must survive inbound backpressure.
// Deltas deeper than keepDepth levels are the only droppable events.
func (e MarketEvent) Essential(keepDepth uint16) bool {
	if e.Kind != MarketDataBookDelta {
		return true
	}
	if e.Depth == 0 {
		return true
	}
	return e.Depth <= keepDepth
}
