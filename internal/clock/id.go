package clock

import (
	"sync"

	"github.com/google/uuid"
)

const (
	idCounterBits = 16
	idSourceBits  = 6
	idTimeShift   = idCounterBits + idSourceBits

	idCounterMask = 1<<idCounterBits - 1
	idSourceMask  = 1<<idSourceBits - 1

	// MaxSource is the largest source tag an IDGenerator accepts.
	MaxSource = idSourceMask
)

// IDGenerator creates 64-bit IDs ordered by creation time.
// Layout: 42 bits of milliseconds, 6 bits of source, 16 bits of counter.
type IDGenerator struct {
	clock  Clock
	source uint64

	mu      sync.Mutex
	lastMs  uint64
	counter uint64
}

// NewIDGenerator returns a generator tagging IDs with source (masked to 6 bits).
func NewIDGenerator(clock Clock, source uint8) *IDGenerator {
	return &IDGenerator{clock: clock, source: uint64(source) & idSourceMask}
}

// Next returns the next ID. IDs from one generator are strictly increasing
// even when the clock stalls or the counter overflows within a millisecond.
func (g *IDGenerator) Next() uint64 {
	if g == nil {
		return 0
	}
	ms := uint64(g.clock.Now() / 1_000_000)

	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case ms > g.lastMs:
		g.lastMs = ms
		g.counter = 0
	default:
		g.counter++
		if g.counter > idCounterMask {
			g.lastMs++
			g.counter = 0
		}
	}
	return g.lastMs<<idTimeShift | g.source<<idCounterBits | g.counter
}

// SplitID decodes an ID into its millisecond timestamp, source and counter.
func SplitID(id uint64) (ms uint64, source uint8, counter uint16) {
	return id >> idTimeShift, uint8(id >> idCounterBits & idSourceMask), uint16(id & idCounterMask)
}

// RunID names a session. A non-empty seed yields a stable name-based UUID so
// repeated backtests with the same inputs share an ID.
func RunID(seed string) string {
	if seed == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}
