package og

import (
	"hft/internal/schema"
)

// Order holds the gateway's view of an order. The internal ID is the
// accepted intent's ID and is authoritative; the venue ID is informational.
type Order struct {
	ID           uint64             `json:"id"`
	VenueOrderID uint64             `json:"venueOrderId"`
	Venue        schema.VenueID     `json:"venue"`
	Intent       schema.OrderIntent `json:"intent"`
	State        schema.OrderState  `json:"state"`
	FilledQty    schema.Quantity    `json:"filledQty"`
	FillNotional schema.Notional    `json:"fillNotional"`
	Acked        bool               `json:"acked"`
	TimedOut     bool               `json:"timedOut"`
	SubmittedAt  int64              `json:"submittedAt"`
	UpdatedAt    int64              `json:"updatedAt"`

	beforeCancel   schema.OrderState
	cancelAttempts int
	ackTimer       uint64
	cancelTimer    uint64
}

// LeavesQty returns the unfilled quantity.
func (o Order) LeavesQty() schema.Quantity {
	return o.Intent.Qty - o.FilledQty
}

// AvgFillPrice returns the volume-weighted fill price, 0 before any fill.
func (o Order) AvgFillPrice() schema.Price {
	if o.FilledQty == 0 {
		return 0
	}
	return schema.Price(int64(o.FillNotional) / int64(o.FilledQty))
}

// Cancelable reports whether a cancel may be requested in the current state.
func (o Order) Cancelable() bool {
	switch o.State {
	case schema.OrderStateSubmitted, schema.OrderStateAcked, schema.OrderStatePartiallyFilled:
		return true
	default:
		return false
	}
}

// UpdateKind tags an Update.
type UpdateKind uint8

const (
	UpdateTransition UpdateKind = iota + 1
	UpdateFill
	UpdateTimeout
	UpdateCancelFailed
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateTransition:
		return "transition"
	case UpdateFill:
		return "fill"
	case UpdateTimeout:
		return "timeout"
	case UpdateCancelFailed:
		return "cancel_failed"
	default:
		return "unknown"
	}
}

// Update is an order lifecycle notification for strategies, the ledger and
// the event log. Transition is set for UpdateTransition, Fill for UpdateFill,
// Err for UpdateTimeout and UpdateCancelFailed.
type Update struct {
	Kind       UpdateKind
	Order      Order
	Transition schema.OrderTransition
	Fill       schema.Fill
	Err        error
}

// RequestKind distinguishes outbound venue requests.
type RequestKind uint8

const (
	RequestNew RequestKind = iota + 1
	RequestCancel
)

func (k RequestKind) String() string {
	switch k {
	case RequestNew:
		return "new"
	case RequestCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Request is an outbound message for a venue adapter.
type Request struct {
	Kind         RequestKind
	OrderID      uint64
	VenueOrderID uint64
	Venue        schema.VenueID
	Intent       schema.OrderIntent
	Attempt      int
	Ts           int64
}

// CallbackKind tags an inbound venue Callback.
type CallbackKind uint8

const (
	CallbackSendResult CallbackKind = iota + 1
	CallbackAck
	CallbackFill
	CallbackReject
	CallbackCancel
	CallbackExpire
)

func (k CallbackKind) String() string {
	switch k {
	case CallbackSendResult:
		return "send_result"
	case CallbackAck:
		return "ack"
	case CallbackFill:
		return "fill"
	case CallbackReject:
		return "reject"
	case CallbackCancel:
		return "cancel"
	case CallbackExpire:
		return "expire"
	default:
		return "unknown"
	}
}

// Callback is one inbound message from a venue adapter, handed to the event
// loop through the venue queue.
//
//   - SendResult: Request, Err (nil when the request reached the wire).
//   - Ack: VenueOrderID.
//   - Fill: Fill.
//   - Reject: Reason.
//   - Cancel, Expire: no extra fields.
type Callback struct {
	Kind         CallbackKind
	OrderID      uint64
	VenueOrderID uint64
	Request      RequestKind
	Fill         schema.Fill
	Reason       schema.OrderAckReason
	Err          error
	Ts           int64
}
