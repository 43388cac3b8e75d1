package strategy

import (
	"time"

	"github.com/rs/zerolog"

	"hft/internal/clock"
	"hft/internal/schema"
)

// Positions is the read-only ledger view strategies get.
type Positions interface {
	Position(symbol schema.SymbolID) schema.Quantity
}

// Timers arms one-shot callbacks on the event loop clock.
type Timers interface {
	Schedule(at int64, fn func()) uint64
	Cancel(id uint64) bool
}

// Env is the runtime handle passed to a strategy at construction. It never
// exposes the execution gateway: orders only leave through staged intents.
type Env struct {
	ID        uint32
	Name      string
	Clock     clock.Clock
	IDs       *clock.IDGenerator
	Log       zerolog.Logger
	Registry  *schema.Registry
	Positions Positions

	host *Host
}

// Now returns the loop clock.
func (e Env) Now() int64 {
	return e.Clock.Now()
}

// Position returns the ledger position for symbol.
func (e Env) Position(symbol schema.SymbolID) schema.Quantity {
	if e.Positions == nil {
		return 0
	}
	return e.Positions.Position(symbol)
}

// Instrument returns metadata for symbol.
func (e Env) Instrument(symbol schema.SymbolID) (schema.Instrument, bool) {
	if e.Registry == nil {
		return schema.Instrument{}, false
	}
	return e.Registry.Instrument(symbol)
}

// After arms a timer that fires OnTimer with the returned ID after d.
// It returns 0 when the env is not attached to a host with timers.
func (e Env) After(d time.Duration) uint64 {
	if e.host == nil || e.host.timers == nil {
		return 0
	}
	h, sid := e.host, e.ID
	var id uint64
	id = h.timers.Schedule(e.Clock.Now()+int64(d), func() { h.OnTimer(sid, id) })
	return id
}

// CancelTimer disarms a timer returned by After.
func (e Env) CancelTimer(id uint64) bool {
	if e.host == nil || e.host.timers == nil || id == 0 {
		return false
	}
	return e.host.timers.Cancel(id)
}
