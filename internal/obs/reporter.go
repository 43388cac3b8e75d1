package obs

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"hft/pkg/exception"
)

const defaultRecentErrors = 32

// ErrorRecord is one reported error as shown by the status query.
type ErrorRecord struct {
	Ts     int64          `json:"ts"`
	Kind   string         `json:"kind"`
	Cause  string         `json:"cause"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Reporter turns errors into one structured log record, a per-kind counter
// and, for critical kinds, an alert.
type Reporter struct {
	log     zerolog.Logger
	metrics *Metrics
	alerts  AlertHook

	mu     sync.Mutex
	recent []ErrorRecord
	next   int
	full   bool
}

// NewReporter keeps the last capacity errors for status reporting.
func NewReporter(log zerolog.Logger, metrics *Metrics, alerts AlertHook, capacity int) *Reporter {
	if capacity <= 0 {
		capacity = defaultRecentErrors
	}
	return &Reporter{
		log:     log,
		metrics: metrics,
		alerts:  alerts,
		recent:  make([]ErrorRecord, capacity),
	}
}

// Report records err. fields carries entity IDs such as order_id or symbol.
func (r *Reporter) Report(ts int64, err error, fields map[string]any) exception.Kind {
	if err == nil {
		return exception.KindUnknown
	}
	kind := exception.KindOf(err)
	if r == nil {
		return kind
	}
	r.metrics.IncErrorKind(kind)

	ev := r.log.Warn()
	if kind == exception.KindInvariant || kind == exception.KindVenueTransport {
		ev = r.log.Error()
	}
	ev = ev.Str("kind", kind.String()).Int64("ts", ts)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Err(err).Msg("error")

	r.mu.Lock()
	r.recent[r.next] = ErrorRecord{Ts: ts, Kind: kind.String(), Cause: err.Error(), Fields: fields}
	r.next = (r.next + 1) % len(r.recent)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()

	if r.alerts != nil && critical(err, kind) {
		r.alerts.Alert(Alert{Kind: kind.String(), Message: err.Error(), Fields: fields, Ts: ts})
	}
	return kind
}

// Recent returns reported errors, oldest first.
func (r *Reporter) Recent() []ErrorRecord {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]ErrorRecord, r.next)
		copy(out, r.recent[:r.next])
		return out
	}
	out := make([]ErrorRecord, 0, len(r.recent))
	out = append(out, r.recent[r.next:]...)
	out = append(out, r.recent[:r.next]...)
	return out
}

func critical(err error, kind exception.Kind) bool {
	switch kind {
	case exception.KindInvariant:
		return true
	case exception.KindVenueTransport:
		return errors.Is(err, exception.ErrOrderCancelFailed) ||
			errors.Is(err, exception.ErrOrderVenueDisconnected) ||
			errors.Is(err, exception.ErrFeedUnavailable)
	default:
		return false
	}
}
