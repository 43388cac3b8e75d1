package strategy

import (
	"hft/internal/book"
	"hft/internal/og"
	"hft/internal/schema"
)

// Strategy is the capability set the host drives. Callbacks run on the
// event loop and must not block. Intents staged during a callback are
// collected through DrainIntents right after it returns.
type Strategy interface {
	ID() uint32
	Name() string
	Symbols() []schema.SymbolID
	OnMarketEvent(ev schema.MarketEvent)
	OnBookUpdate(symbol schema.SymbolID, view book.View)
	OnOrderUpdate(u OrderUpdate)
	OnTimer(timerID uint64)
	DrainIntents(dst []schema.OrderIntent) []schema.OrderIntent
}

// CrossedBookHandler is implemented by strategies that want to hear about a
// crossed book (best bid >= best ask). The book is left as the feed sent it;
// the host calls OnCrossedBook after OnBookUpdate for every update that
// leaves the book crossed.
type CrossedBookHandler interface {
	OnCrossedBook(symbol schema.SymbolID, view book.View)
}

// UpdateKind tags an OrderUpdate.
type UpdateKind uint8

const (
	IntentRejected UpdateKind = iota + 1
	OrderChanged
	OrderFilled
	OrderTimeout
	CancelFailed
)

func (k UpdateKind) String() string {
	switch k {
	case IntentRejected:
		return "intent_rejected"
	case OrderChanged:
		return "order_changed"
	case OrderFilled:
		return "order_filled"
	case OrderTimeout:
		return "order_timeout"
	case CancelFailed:
		return "cancel_failed"
	default:
		return "unknown"
	}
}

// OrderUpdate is what a strategy hears about its intents and orders.
//
//   - IntentRejected: Intent, Decision (reason), Err when the gateway refused it.
//   - OrderChanged: Order, Transition.
//   - OrderFilled: Order, Fill.
//   - OrderTimeout, CancelFailed: Order, Err.
type OrderUpdate struct {
	Kind       UpdateKind
	Intent     schema.OrderIntent
	Order      og.Order
	Transition schema.OrderTransition
	Fill       schema.Fill
	Decision   schema.RiskDecision
	Err        error
}

// StrategyID returns the originating strategy.
func (u OrderUpdate) StrategyID() uint32 {
	if u.Kind == IntentRejected {
		return u.Intent.StrategyID
	}
	return u.Order.Intent.StrategyID
}

// FromGateway converts a gateway update.
func FromGateway(u og.Update) OrderUpdate {
	out := OrderUpdate{Order: u.Order, Intent: u.Order.Intent, Err: u.Err}
	switch u.Kind {
	case og.UpdateTransition:
		out.Kind = OrderChanged
		out.Transition = u.Transition
	case og.UpdateFill:
		out.Kind = OrderFilled
		out.Fill = u.Fill
	case og.UpdateTimeout:
		out.Kind = OrderTimeout
	case og.UpdateCancelFailed:
		out.Kind = CancelFailed
	}
	return out
}

// Rejected builds the IntentRejected update for a risk decision.
func Rejected(intent schema.OrderIntent, d schema.RiskDecision, err error) OrderUpdate {
	return OrderUpdate{Kind: IntentRejected, Intent: intent, Decision: d, Err: err}
}
