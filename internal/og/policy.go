package og

import (
	"github.com/yanun0323/errors"

	"hft/internal/schema"
	"hft/pkg/exception"
)

// Dispatcher hands a request to a venue without blocking. A full outbound
// queue returns exception.ErrOrderQueueFull.
type Dispatcher interface {
	Dispatch(req Request) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(req Request) error

func (f DispatcherFunc) Dispatch(req Request) error { return f(req) }

// Scheduler arms one-shot deadlines on the event loop clock.
type Scheduler interface {
	Schedule(at int64, fn func()) uint64
	Cancel(id uint64) bool
}

// VenuePolicy picks the venue an intent is routed to.
type VenuePolicy interface {
	Route(intent schema.OrderIntent, inst schema.Instrument) (schema.VenueID, error)
}

// InstrumentVenue routes every order to the venue listed on its instrument.
type InstrumentVenue struct{}

func (InstrumentVenue) Route(_ schema.OrderIntent, inst schema.Instrument) (schema.VenueID, error) {
	if inst.VenueID == 0 {
		return 0, errors.Wrapf(exception.ErrOrderNoDispatcher, "symbol %s has no venue", inst.Symbol)
	}
	return inst.VenueID, nil
}

// StaticVenue routes symbols by a fixed table, falling back to the instrument venue.
type StaticVenue map[schema.SymbolID]schema.VenueID

func (s StaticVenue) Route(intent schema.OrderIntent, inst schema.Instrument) (schema.VenueID, error) {
	if v, ok := s[intent.SymbolID]; ok {
		return v, nil
	}
	return InstrumentVenue{}.Route(intent, inst)
}
