package obs

import (
	"sync"

	"github.com/rs/zerolog"
)

// Alert is a critical condition raised to operators.
type Alert struct {
	Kind    string
	Message string
	Fields  map[string]any
	Ts      int64
}

// AlertHook receives critical alerts. Implementations must not block the caller.
type AlertHook interface {
	Alert(a Alert)
}

// AlertFunc adapts a function to AlertHook.
type AlertFunc func(Alert)

func (f AlertFunc) Alert(a Alert) { f(a) }

// LogAlerts writes alerts to the logger at error level.
type LogAlerts struct {
	Log zerolog.Logger
}

func (l LogAlerts) Alert(a Alert) {
	ev := l.Log.Error().Str("alert", a.Kind).Int64("ts", a.Ts)
	for k, v := range a.Fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(a.Message)
}

// AlertRecorder keeps alerts in memory.
type AlertRecorder struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *AlertRecorder) Alert(a Alert) {
	r.mu.Lock()
	r.alerts = append(r.alerts, a)
	r.mu.Unlock()
}

func (r *AlertRecorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}
