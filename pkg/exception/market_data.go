package exception

import "errors"

var (
	ErrUnknownSymbol    = errors.New("market data: unknown symbol")
	ErrSequenceGap      = errors.New("market data: sequence gap")
	ErrStaleSequence    = errors.New("market data: stale sequence")
	ErrAwaitingSnapshot = errors.New("market data: awaiting snapshot")
	ErrMalformedEvent   = errors.New("market data: malformed event")
	ErrPriceNotAligned  = errors.New("market data: price not tick aligned")
	ErrFeedUnavailable  = errors.New("market data: feed unavailable")
	ErrFeedClosed       = errors.New("market data: feed closed")
)
