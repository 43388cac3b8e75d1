package schema

import (
	"github.com/yanun0323/errors"

	"hft/pkg/exception"
)

// VenueID is the numeric identifier for a venue.
type VenueID uint16

// SymbolID is the numeric identifier for a symbol.
type SymbolID uint32

// Venue describes a trading venue or broker.
type Venue struct {
	ID   VenueID
	Name string
}

// Instrument is the immutable per-symbol metadata.
type Instrument struct {
	ID       SymbolID
	VenueID  VenueID
	Symbol   string
	TickSize Price
	LotSize  Quantity
	MinPrice Price
	MaxPrice Price
	MinQty   Quantity
	MaxQty   Quantity
}

// Validate checks the instrument's own consistency.
func (i Instrument) Validate() error {
	switch {
	case i.Symbol == "":
		return errors.Wrap(exception.ErrConfigInvalidValue, "symbol is empty")
	case i.TickSize <= 0:
		return errors.Wrapf(exception.ErrConfigInvalidValue, "%s: tick size must be > 0", i.Symbol)
	case i.LotSize <= 0:
		return errors.Wrapf(exception.ErrConfigInvalidValue, "%s: lot size must be > 0", i.Symbol)
	case i.MinPrice <= 0 || i.MaxPrice < i.MinPrice:
		return errors.Wrapf(exception.ErrConfigInvalidValue, "%s: price bounds [%d, %d]", i.Symbol, i.MinPrice, i.MaxPrice)
	case i.MinPrice%i.TickSize != 0 || i.MaxPrice%i.TickSize != 0:
		return errors.Wrapf(exception.ErrConfigInvalidValue, "%s: price bounds not tick aligned", i.Symbol)
	case i.MinQty <= 0 || i.MaxQty < i.MinQty:
		return errors.Wrapf(exception.ErrConfigInvalidValue, "%s: quantity bounds [%d, %d]", i.Symbol, i.MinQty, i.MaxQty)
	case i.MinQty%i.LotSize != 0 || i.MaxQty%i.LotSize != 0:
		return errors.Wrapf(exception.ErrConfigInvalidValue, "%s: quantity bounds not lot aligned", i.Symbol)
	}
	return nil
}

// PriceAligned reports whether p is a positive multiple of the tick size.
func (i Instrument) PriceAligned(p Price) bool {
	return p > 0 && i.TickSize > 0 && p%i.TickSize == 0
}

// PriceInBounds reports whether p is tick aligned and inside [MinPrice, MaxPrice].
func (i Instrument) PriceInBounds(p Price) bool {
	return i.PriceAligned(p) && p >= i.MinPrice && p <= i.MaxPrice
}

// QtyInBounds reports whether q is lot aligned and inside [MinQty, MaxQty].
func (i Instrument) QtyInBounds(q Quantity) bool {
	return q > 0 && i.LotSize > 0 && q%i.LotSize == 0 && q >= i.MinQty && q <= i.MaxQty
}

// Registry stores venues and instruments. It is loaded once and sealed.
type Registry struct {
	venues       []Venue
	instruments  []Instrument
	venueByName  map[string]VenueID
	symbolByName map[string]SymbolID
	sealed       bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		venueByName:  make(map[string]VenueID),
		symbolByName: make(map[string]SymbolID),
	}
}

// Seal forbids further mutation.
func (r *Registry) Seal() {
	r.sealed = true
}

// Sealed reports whether the registry is read-only.
func (r *Registry) Sealed() bool {
	return r.sealed
}

// AddVenue registers a new venue and returns its ID.
func (r *Registry) AddVenue(name string) (VenueID, error) {
	if r.sealed {
		return 0, exception.ErrRegistrySealed
	}
	if name == "" {
		return 0, errors.Wrap(exception.ErrConfigInvalidValue, "venue name is empty")
	}
	if id, ok := r.venueByName[name]; ok {
		return id, errors.Wrapf(exception.ErrConfigInvalidValue, "venue already exists: %s", name)
	}
	id := VenueID(len(r.venues) + 1)
	r.venues = append(r.venues, Venue{ID: id, Name: name})
	r.venueByName[name] = id
	return id, nil
}

// AddInstrument registers instrument metadata and returns its symbol ID.
func (r *Registry) AddInstrument(meta Instrument) (SymbolID, error) {
	if r.sealed {
		return 0, exception.ErrRegistrySealed
	}
	if err := meta.Validate(); err != nil {
		return 0, err
	}
	if _, ok := r.Venue(meta.VenueID); !ok {
		return 0, errors.Wrapf(exception.ErrConfigInvalidValue, "venue id not found: %d", meta.VenueID)
	}
	if id, ok := r.symbolByName[meta.Symbol]; ok {
		return id, errors.Wrapf(exception.ErrConfigInvalidValue, "symbol already exists: %s", meta.Symbol)
	}
	meta.ID = SymbolID(len(r.instruments) + 1)
	r.instruments = append(r.instruments, meta)
	r.symbolByName[meta.Symbol] = meta.ID
	return meta.ID, nil
}

// Venue returns the venue by ID.
func (r *Registry) Venue(id VenueID) (Venue, bool) {
	if id == 0 || int(id) > len(r.venues) {
		return Venue{}, false
	}
	return r.venues[id-1], true
}

// Instrument returns the instrument by ID.
func (r *Registry) Instrument(id SymbolID) (Instrument, bool) {
	if id == 0 || int(id) > len(r.instruments) {
		return Instrument{}, false
	}
	return r.instruments[id-1], true
}

// Lookup returns the instrument for a symbol name or ErrUnknownSymbol.
func (r *Registry) Lookup(symbol string) (Instrument, error) {
	id, ok := r.symbolByName[symbol]
	if !ok {
		return Instrument{}, errors.Wrapf(exception.ErrUnknownSymbol, "symbol: %s", symbol)
	}
	return r.instruments[id-1], nil
}

// InstrumentCount returns the number of instruments in the registry.
func (r *Registry) InstrumentCount() int {
	return len(r.instruments)
}

// InstrumentAt returns the instrument by zero-based index.
func (r *Registry) InstrumentAt(index int) (Instrument, bool) {
	if index < 0 || index >= len(r.instruments) {
		return Instrument{}, false
	}
	return r.instruments[index], true
}

// Instruments returns a copy of all instruments in registration order.
func (r *Registry) Instruments() []Instrument {
	out := make([]Instrument, len(r.instruments))
	copy(out, r.instruments)
	return out
}

// VenueIDByName returns the venue ID for a name.
func (r *Registry) VenueIDByName(name string) (VenueID, bool) {
	id, ok := r.venueByName[name]
	return id, ok
}

// SymbolIDByName returns the symbol ID for a name.
func (r *Registry) SymbolIDByName(name string) (SymbolID, bool) {
	id, ok := r.symbolByName[name]
	return id, ok
}

// SymbolName returns the symbol name for an ID, or "" when unknown.
func (r *Registry) SymbolName(id SymbolID) string {
	if inst, ok := r.Instrument(id); ok {
		return inst.Symbol
	}
	return ""
}
