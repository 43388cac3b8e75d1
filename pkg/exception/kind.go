package exception

import "errors"

// Kind classifies an error by its recovery policy.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindConfig
	KindDataIntegrity
	KindValidation
	KindVenueTransport
	KindVenueLogic
	KindInvariant
	KindPersistence

	// MaxKind is the largest defined kind.
	MaxKind = KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindDataIntegrity:
		return "data_integrity"
	case KindValidation:
		return "validation"
	case KindVenueTransport:
		return "venue_transport"
	case KindVenueLogic:
		return "venue_logic"
	case KindInvariant:
		return "invariant"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Fatal reports whether errors of this kind terminate the process.
func (k Kind) Fatal() bool {
	return k == KindInvariant
}

var kindTable = []struct {
	kind Kind
	errs []error
}{
	{KindInvariant, []error{ErrInvalidTransition, ErrOverfill, ErrNegativeLevel, ErrCrossedLedger, ErrDedupMissed}},
	{KindConfig, []error{ErrConfigMissing, ErrConfigMalformed, ErrConfigInvalidValue, ErrConfigUnknownSymbol, ErrConfigUnknownType, ErrRegistrySealed}},
	{KindDataIntegrity, []error{ErrUnknownSymbol, ErrSequenceGap, ErrStaleSequence, ErrAwaitingSnapshot, ErrMalformedEvent, ErrPriceNotAligned, ErrOrderDuplicateFill, ErrOrderUnsolicited}},
	{KindValidation, []error{ErrOrderQueueFull, ErrOrderNotCancelable, ErrOrderDuplicate, ErrOrderUnknown, ErrOrderInvalidRequest}},
	{KindVenueTransport, []error{ErrOrderTimeout, ErrOrderCancelFailed, ErrOrderSendTransient, ErrOrderVenueDisconnected, ErrFeedUnavailable, ErrFeedClosed, ErrWebSocketConnectionClose, ErrWebSocketProtocol, ErrOrderNoDispatcher}},
	{KindVenueLogic, []error{ErrOrderVenueReject, ErrOrderSendPermanent}},
	{KindPersistence, []error{ErrStoreUnavailable, ErrSnapshotNotFound, ErrLogCorrupted}},
}

// KindOf returns the kind of the first known sentinel in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, row := range kindTable {
		for _, target := range row.errs {
			if errors.Is(err, target) {
				return row.kind
			}
		}
	}
	return KindUnknown
}

// Exit code ranges for process termination.
const (
	ExitOK          = 0
	ExitUnknown     = 1
	ExitConfig      = 10
	ExitVenue       = 20
	ExitFeed        = 21
	ExitPersistence = 30
	ExitInvariant   = 70
)

// ExitCode maps a terminating error to its exit code range.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case KindConfig:
		return ExitConfig
	case KindVenueTransport, KindVenueLogic:
		if errors.Is(err, ErrFeedUnavailable) || errors.Is(err, ErrFeedClosed) {
			return ExitFeed
		}
		return ExitVenue
	case KindPersistence:
		return ExitPersistence
	case KindInvariant:
		return ExitInvariant
	default:
		return ExitUnknown
	}
}
