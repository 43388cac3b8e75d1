package core

import (
	"math"
	"sort"
	"time"
)

const (
	defaultTimerTick  = time.Millisecond
	defaultTimerSlots = 1024
)

type timer struct {
	id       uint64
	at       int64
	fn       func()
	canceled bool
}

// Wheel is a hashed timer wheel keyed by absolute clock nanoseconds. Timers
// hash into slots by tick; a slot may hold timers from later rounds, which
// stay until their deadline passes. It is owned by the event loop.
type Wheel struct {
	tick   int64
	mask   int64
	slots  [][]*timer
	last   int64
	nextID uint64
	timers map[uint64]*timer
	ready  []*timer
	due    []*timer
}

// NewWheel creates a wheel positioned at now. slots is rounded up to a power
// of two.
func NewWheel(tick time.Duration, slots int, now int64) *Wheel {
	if tick <= 0 {
		tick = defaultTimerTick
	}
	if slots <= 0 {
		slots = defaultTimerSlots
	}
	size := 1
	for size < slots {
		size <<= 1
	}
	return &Wheel{
		tick:   int64(tick),
		mask:   int64(size - 1),
		slots:  make([][]*timer, size),
		last:   now / int64(tick),
		timers: make(map[uint64]*timer),
	}
}

// Schedule arms fn to run once the wheel has advanced to at. Deadlines in the
// past fire on the next Advance.
func (w *Wheel) Schedule(at int64, fn func()) uint64 {
	w.nextID++
	t := &timer{id: w.nextID, at: at, fn: fn}
	w.timers[t.id] = t
	tk := at / w.tick
	if tk < w.last {
		tk = w.last
	}
	slot := tk & w.mask
	w.slots[slot] = append(w.slots[slot], t)
	return t.id
}

// Cancel disarms a pending timer. It reports false when the timer already
// fired or never existed.
func (w *Wheel) Cancel(id uint64) bool {
	t, ok := w.timers[id]
	if !ok {
		return false
	}
	t.canceled = true
	t.fn = nil
	delete(w.timers, id)
	return true
}

// Advance moves every timer due at now to the ready list, ordered by deadline
// then by scheduling order, and returns how many became ready.
func (w *Wheel) Advance(now int64) int {
	cur := now / w.tick
	if cur < w.last {
		cur = w.last
	}
	span := cur - w.last + 1
	if size := w.mask + 1; span > size {
		span = size
	}

	w.due = w.due[:0]
	for i := int64(0); i < span; i++ {
		slot := (w.last + i) & w.mask
		list := w.slots[slot]
		if len(list) == 0 {
			continue
		}
		keep := list[:0]
		for _, t := range list {
			switch {
			case t.canceled:
			case t.at <= now:
				w.due = append(w.due, t)
			default:
				keep = append(keep, t)
			}
		}
		for j := len(keep); j < len(list); j++ {
			list[j] = nil
		}
		w.slots[slot] = keep
	}
	w.last = cur

	if len(w.due) == 0 {
		return 0
	}
	sort.Slice(w.due, func(i, j int) bool {
		if w.due[i].at != w.due[j].at {
			return w.due[i].at < w.due[j].at
		}
		return w.due[i].id < w.due[j].id
	})
	w.ready = append(w.ready, w.due...)
	return len(w.due)
}

// Pop removes the next ready timer and returns its callback.
func (w *Wheel) Pop() (func(), bool) {
	for len(w.ready) > 0 {
		t := w.ready[0]
		w.ready[0] = nil
		w.ready = w.ready[1:]
		if t.canceled {
			continue
		}
		delete(w.timers, t.id)
		return t.fn, true
	}
	return nil, false
}

// Ready reports whether a fired timer is waiting to run.
func (w *Wheel) Ready() bool {
	for _, t := range w.ready {
		if !t.canceled {
			return true
		}
	}
	return false
}

// Next returns the earliest pending deadline.
func (w *Wheel) Next() (int64, bool) {
	next := int64(math.MaxInt64)
	for _, t := range w.timers {
		if t.at < next {
			next = t.at
		}
	}
	return next, len(w.timers) > 0
}

// Len returns the number of armed timers, fired but not yet run included.
func (w *Wheel) Len() int {
	return len(w.timers)
}
