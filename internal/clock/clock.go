package clock

import (
	"sync/atomic"
	"time"
)

// Clock returns monotonic nanoseconds.
type Clock interface {
	Now() int64
}

// Monotonic anchors the process monotonic reading to the wall clock at start.
type Monotonic struct {
	base  int64
	start time.Time
}

// NewMonotonic creates a clock whose readings never go backwards.
func NewMonotonic() *Monotonic {
	start := time.Now()
	return &Monotonic{base: start.UTC().UnixNano(), start: start}
}

func (m *Monotonic) Now() int64 {
	return m.base + int64(time.Since(m.start))
}

// Manual is a clock advanced by its owner. Backtests drive it from event time.
type Manual struct {
	now atomic.Int64
}

// NewManual creates a manual clock at ts.
func NewManual(ts int64) *Manual {
	m := &Manual{}
	m.now.Store(ts)
	return m
}

func (m *Manual) Now() int64 {
	return m.now.Load()
}

// Set moves the clock to ts. Earlier values are ignored so readings stay monotonic.
func (m *Manual) Set(ts int64) {
	for {
		cur := m.now.Load()
		if ts <= cur {
			return
		}
		if m.now.CompareAndSwap(cur, ts) {
			return
		}
	}
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	m.now.Add(int64(d))
}
