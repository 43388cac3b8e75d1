package schema

// PriceScale is the number of price units per 1.0 of quote currency.
const PriceScale = 1_000_000

// Price is a scaled integer (PriceScale units).
type Price int64

// Quantity is an integer number of units; lot size divides accepted quantities.
type Quantity int64

// Notional is price times quantity in PriceScale units.
type Notional int64

// Fee is a Notional-scaled charge.
type Fee int64

// Level is an aggregated price level.
type Level struct {
	Price Price
	Qty   Quantity
	Count uint32
}

// OrderSide describes order direction.
type OrderSide uint16

const (
	OrderSideUnknown OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

// Sign returns +1 for buys, -1 for sells and 0 otherwise.
func (s OrderSide) Sign() int64 {
	switch s {
	case OrderSideBuy:
		return 1
	case OrderSideSell:
		return -1
	default:
		return 0
	}
}

// Opposite returns the other side of the book.
func (s OrderSide) Opposite() OrderSide {
	switch s {
	case OrderSideBuy:
		return OrderSideSell
	case OrderSideSell:
		return OrderSideBuy
	default:
		return OrderSideUnknown
	}
}

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "buy"
	case OrderSideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// OrderType describes order type.
type OrderType uint16

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeLimit
	OrderTypeMarket
	OrderTypeStop
	OrderTypeStopLimit
	OrderTypeIOC
	OrderTypeFOK
)

// HasLimitPrice reports whether the type carries a limit price.
func (t OrderType) HasLimitPrice() bool {
	switch t {
	case OrderTypeLimit, OrderTypeStopLimit, OrderTypeIOC, OrderTypeFOK:
		return true
	default:
		return false
	}
}

// HasStopPrice reports whether the type carries a stop trigger.
func (t OrderType) HasStopPrice() bool {
	return t == OrderTypeStop || t == OrderTypeStopLimit
}

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "limit"
	case OrderTypeMarket:
		return "market"
	case OrderTypeStop:
		return "stop"
	case OrderTypeStopLimit:
		return "stop_limit"
	case OrderTypeIOC:
		return "ioc"
	case OrderTypeFOK:
		return "fok"
	default:
		return "unknown"
	}
}

// TimeInForce describes order time-in-force.
type TimeInForce uint16

const (
	TimeInForceUnknown TimeInForce = iota
	TimeInForceGTC
	TimeInForceIOC
	TimeInForceFOK
	TimeInForceDay
)

// IntentAction distinguishes new orders from requests on existing ones.
type IntentAction uint16

const (
	IntentActionNew IntentAction = iota
	IntentActionCancel
	IntentActionModify
)

// OrderIntent is a strategy's proposed order, the payload for EventOrderIntent.
// Cancel and Modify intents reference an existing order through TargetID.
type OrderIntent struct {
	IntentID    uint64
	TargetID    uint64
	StrategyID  uint32
	SymbolID    SymbolID
	Action      IntentAction
	Side        OrderSide
	Type        OrderType
	TimeInForce TimeInForce
	Flags       uint16
	Price       Price
	StopPrice   Price
	Qty         Quantity
	CreatedAt   int64
}

// OrderState is the lifecycle state of an order.
type OrderState uint16

const (
	OrderStateUnknown OrderState = iota
	OrderStatePendingRisk
	OrderStateRejectedRisk
	OrderStatePendingSubmit
	OrderStateSubmitted
	OrderStateAcked
	OrderStatePartiallyFilled
	OrderStateFilled
	OrderStatePendingCancel
	OrderStateCancelled
	OrderStateRejectedVenue
	OrderStateExpired
)

// Terminal reports whether no further transition is allowed.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateRejectedRisk, OrderStateFilled, OrderStateCancelled, OrderStateRejectedVenue, OrderStateExpired:
		return true
	default:
		return false
	}
}

func (s OrderState) String() string {
	switch s {
	case OrderStatePendingRisk:
		return "PENDING_RISK"
	case OrderStateRejectedRisk:
		return "REJECTED_RISK"
	case OrderStatePendingSubmit:
		return "PENDING_SUBMIT"
	case OrderStateSubmitted:
		return "SUBMITTED"
	case OrderStateAcked:
		return "ACKED"
	case OrderStatePartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderStateFilled:
		return "FILLED"
	case OrderStatePendingCancel:
		return "PENDING_CANCEL"
	case OrderStateCancelled:
		return "CANCELLED"
	case OrderStateRejectedVenue:
		return "REJECTED_VENUE"
	case OrderStateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// OrderTransition is the payload for EventOrderTransition.
type OrderTransition struct {
	OrderID    uint64
	VenueID    uint64
	StrategyID uint32
	SymbolID   SymbolID
	From       OrderState
	To         OrderState
	Reason     uint16
	Flags      uint16
	FilledQty  Quantity
	Ts         int64
}

// OrderAckReason describes why a venue rejected or ended an order.
type OrderAckReason uint16

const (
	OrderAckReasonNone OrderAckReason = iota
	OrderAckReasonExchangeReject
	OrderAckReasonInvalidPrice
	OrderAckReasonInvalidQty
	OrderAckReasonNotAllowed
	OrderAckReasonTransport
	OrderAckReasonUnfilled
)

// RiskAction is the outcome of a risk decision.
type RiskAction uint16

const (
	RiskActionUnknown RiskAction = iota
	RiskActionAllow
	RiskActionDeny
)

// RiskReason is the reason code attached to risk decisions.
type RiskReason uint16

const (
	RiskReasonNone RiskReason = iota
	RiskReasonKillSwitch
	RiskReasonMaxQty
	RiskReasonMaxNotional
	RiskReasonRateLimit
	RiskReasonPriceDeviation
	RiskReasonPositionLimit
	RiskReasonUnknownSymbol
	RiskReasonInvalidPrice
	RiskReasonInvalidQuantity
	RiskReasonNotionalLimit
	RiskReasonDailyLoss
	RiskReasonIlliquid
	RiskReasonBackpressure
	RiskReasonUnknownOrder

	// MaxRiskReason is the largest defined reason.
	MaxRiskReason = RiskReasonUnknownOrder
)

func (r RiskReason) String() string {
	switch r {
	case RiskReasonNone:
		return "None"
	case RiskReasonKillSwitch:
		return "KillSwitch"
	case RiskReasonMaxQty:
		return "MaxQty"
	case RiskReasonMaxNotional:
		return "MaxNotional"
	case RiskReasonRateLimit:
		return "RateLimit"
	case RiskReasonPriceDeviation:
		return "PriceDeviation"
	case RiskReasonPositionLimit:
		return "PositionLimit"
	case RiskReasonUnknownSymbol:
		return "UnknownSymbol"
	case RiskReasonInvalidPrice:
		return "InvalidPrice"
	case RiskReasonInvalidQuantity:
		return "InvalidQuantity"
	case RiskReasonNotionalLimit:
		return "NotionalLimit"
	case RiskReasonDailyLoss:
		return "DailyLoss"
	case RiskReasonIlliquid:
		return "Illiquid"
	case RiskReasonBackpressure:
		return "Backpressure"
	case RiskReasonUnknownOrder:
		return "UnknownOrder"
	default:
		return "Unknown"
	}
}

// RiskDecision is the payload for EventRiskDecision.
type RiskDecision struct {
	IntentID      uint64
	StrategyID    uint32
	SymbolID      SymbolID
	Action        RiskAction
	Reason        RiskReason
	Flags         uint16
	Version       uint16
	ProposedQty   Quantity
	ProposedPrice Price
	CurrentPos    Quantity
	MaxPos        Quantity
	MaxNotional   Notional
	Ts            int64
}

// Allowed reports whether the intent passed.
func (d RiskDecision) Allowed() bool {
	return d.Action == RiskActionAllow
}

// Liquidity marks whether a fill added or removed liquidity.
type Liquidity uint16

const (
	LiquidityUnknown Liquidity = iota
	LiquidityMaker
	LiquidityTaker
)

// Fill is the payload for EventFill.
type Fill struct {
	OrderID   uint64
	ExecID    uint64
	SymbolID  SymbolID
	Side      OrderSide
	Liquidity Liquidity
	Price     Price
	Qty       Quantity
	Fee       Fee
	Ts        int64
}

// Notional returns price times quantity.
func (f Fill) Notional() Notional {
	return Notional(int64(f.Price) * int64(f.Qty))
}
