package og

import (
	"slices"

	"github.com/yanun0323/errors"

	"hft/internal/schema"
	"hft/pkg/exception"
)

// transitions lists the legal edges of the order lifecycle. Self edges record
// partial fills that do not change the state. Venue callbacks may overtake
// the asynchronous send confirmation, so PendingSubmit accepts them too.
var transitions = map[schema.OrderState][]schema.OrderState{
	schema.OrderStatePendingRisk: {
		schema.OrderStatePendingSubmit,
		schema.OrderStateRejectedRisk,
	},
	schema.OrderStatePendingSubmit: {
		schema.OrderStateSubmitted,
		schema.OrderStateAcked,
		schema.OrderStatePartiallyFilled,
		schema.OrderStateFilled,
		schema.OrderStateCancelled,
		schema.OrderStateRejectedVenue,
		schema.OrderStateExpired,
	},
	schema.OrderStateSubmitted: {
		schema.OrderStateAcked,
		schema.OrderStatePartiallyFilled,
		schema.OrderStateFilled,
		schema.OrderStatePendingCancel,
		schema.OrderStateCancelled,
		schema.OrderStateRejectedVenue,
		schema.OrderStateExpired,
	},
	schema.OrderStateAcked: {
		schema.OrderStatePartiallyFilled,
		schema.OrderStateFilled,
		schema.OrderStatePendingCancel,
		schema.OrderStateCancelled,
		schema.OrderStateRejectedVenue,
		schema.OrderStateExpired,
	},
	schema.OrderStatePartiallyFilled: {
		schema.OrderStatePartiallyFilled,
		schema.OrderStateFilled,
		schema.OrderStatePendingCancel,
		schema.OrderStateCancelled,
		schema.OrderStateRejectedVenue,
		schema.OrderStateExpired,
	},
	schema.OrderStatePendingCancel: {
		schema.OrderStatePendingCancel,
		schema.OrderStateCancelled,
		schema.OrderStateFilled,
		schema.OrderStateSubmitted,
		schema.OrderStateAcked,
		schema.OrderStatePartiallyFilled,
		schema.OrderStateRejectedVenue,
		schema.OrderStateExpired,
	},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to schema.OrderState) bool {
	return slices.Contains(transitions[from], to)
}

// Edges returns the legal targets of from.
func Edges(from schema.OrderState) []schema.OrderState {
	return slices.Clone(transitions[from])
}

// transition moves o to the target state and returns the log record.
func transition(o *Order, to schema.OrderState, reason uint16, ts int64) (schema.OrderTransition, error) {
	from := o.State
	if !CanTransition(from, to) {
		return schema.OrderTransition{}, errors.Wrapf(exception.ErrInvalidTransition, "order %d: %s -> %s", o.ID, from, to)
	}
	o.State = to
	o.UpdatedAt = ts
	return schema.OrderTransition{
		OrderID:    o.ID,
		VenueID:    o.VenueOrderID,
		StrategyID: o.Intent.StrategyID,
		SymbolID:   o.Intent.SymbolID,
		From:       from,
		To:         to,
		Reason:     reason,
		FilledQty:  o.FilledQty,
		Ts:         ts,
	}, nil
}
