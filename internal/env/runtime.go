// Package env carries the process-wide handles that components share. A
// Runtime is built once at startup and passed by value; tests build their own
// with a manual clock and a silent logger.
package env

import (
	"github.com/rs/zerolog"

	"hft/internal/clock"
	"hft/internal/obs"
)

type Runtime struct {
	Clock    clock.Clock
	IDs      *clock.IDGenerator
	Log      zerolog.Logger
	Metrics  *obs.Metrics
	Alerts   obs.AlertHook
	Reporter *obs.Reporter
	RunID    string
}

// New wires a runtime around clk. source tags generated IDs.
func New(clk clock.Clock, source uint8, log zerolog.Logger, alerts obs.AlertHook) Runtime {
	metrics := obs.NewMetrics()
	if alerts == nil {
		alerts = obs.LogAlerts{Log: log}
	}
	return Runtime{
		Clock:    clk,
		IDs:      clock.NewIDGenerator(clk, source),
		Log:      log,
		Metrics:  metrics,
		Alerts:   alerts,
		Reporter: obs.NewReporter(log, metrics, alerts, 0),
	}
}

// Test returns a runtime on a manual clock at ts with logging disabled.
func Test(ts int64) (Runtime, *clock.Manual) {
	clk := clock.NewManual(ts)
	return New(clk, 1, zerolog.Nop(), &obs.AlertRecorder{}), clk
}

// Now is shorthand for rt.Clock.Now().
func (rt Runtime) Now() int64 {
	return rt.Clock.Now()
}

// Logger returns a child logger for component.
func (rt Runtime) Logger(component string) zerolog.Logger {
	return obs.Component(rt.Log, component)
}
