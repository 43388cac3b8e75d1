package exception

import "errors"

// Invariant violations abort the engine.
var (
	ErrInvalidTransition = errors.New("invariant: illegal order state transition")
	ErrOverfill          = errors.New("invariant: fill exceeds ordered quantity")
	ErrNegativeLevel     = errors.New("invariant: negative aggregate level quantity")
	ErrCrossedLedger     = errors.New("invariant: ledger identity broken")
	ErrDedupMissed       = errors.New("invariant: duplicate fill passed execution dedup")
)
