package schema

// SchemaVersion is the current event schema version.
const SchemaVersion uint16 = 2

// EventType defines the category of an event stored in the event log.
type EventType uint16

const (
	EventUnknown EventType = iota
	EventMarketData
	EventOrderIntent
	EventRiskDecision
	EventOrderTransition
	EventFill
	EventControl

	// MaxEventType is the largest defined event type.
	MaxEventType = EventControl
)

func (t EventType) String() string {
	switch t {
	case EventMarketData:
		return "market_data"
	case EventOrderIntent:
		return "order_intent"
	case EventRiskDecision:
		return "risk_decision"
	case EventOrderTransition:
		return "order_transition"
	case EventFill:
		return "fill"
	case EventControl:
		return "control"
	default:
		return "unknown"
	}
}

// EventHeader is the common metadata attached to every event.
type EventHeader struct {
	Type    EventType
	Version uint16
	Source  uint16
	Flags   uint16
	Seq     uint64
	TsEvent int64
	TsRecv  int64
	TraceID uint64
}

// NewHeader builds a header with the current schema version.
func NewHeader(eventType EventType, source uint16, seq uint64, tsEvent, tsRecv int64) EventHeader {
	return EventHeader{
		Type:    eventType,
		Version: SchemaVersion,
		Source:  source,
		Seq:     seq,
		TsEvent: tsEvent,
		TsRecv:  tsRecv,
	}
}
