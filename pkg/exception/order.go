package exception

import "errors"

var (
	ErrOrderDuplicate         = errors.New("order: already exists")
	ErrOrderUnknown           = errors.New("order: not found")
	ErrOrderUnsolicited       = errors.New("order: unsolicited venue message")
	ErrOrderNotCancelable     = errors.New("order: not cancelable in current state")
	ErrOrderQueueFull         = errors.New("order: queue full")
	ErrOrderNoDispatcher      = errors.New("order: no dispatcher for venue")
	ErrOrderDuplicateFill     = errors.New("order: duplicate fill")
	ErrOrderInvalidRequest    = errors.New("order: invalid request")
	ErrOrderTimeout           = errors.New("order: ack timeout")
	ErrOrderCancelFailed      = errors.New("order: cancel failed")
	ErrOrderVenueReject       = errors.New("order: rejected by venue")
	ErrOrderSendTransient     = errors.New("order: transient send failure")
	ErrOrderSendPermanent     = errors.New("order: permanent send failure")
	ErrOrderVenueDisconnected = errors.New("order: venue disconnected")
)
