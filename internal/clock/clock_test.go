package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualClockNeverGoesBack(t *testing.T) {
	c := NewManual(100)
	c.Set(50)
	if got := c.Now(); got != 100 {
		t.Fatalf("now mismatch: got %d want %d", got, 100)
	}
	c.Set(200)
	c.Advance(5 * time.Nanosecond)
	if got := c.Now(); got != 205 {
		t.Fatalf("now mismatch: got %d want %d", got, 205)
	}
}

func TestMonotonicClockAdvances(t *testing.T) {
	c := NewMonotonic()
	a := c.Now()
	b := c.Now()
	assert.GreaterOrEqual(t, b, a)
}

func TestIDGeneratorMonotonicUnderStalledClock(t *testing.T) {
	c := NewManual(int64(1_700_000_000_000) * 1_000_000)
	g := NewIDGenerator(c, 3)

	prev := g.Next()
	for i := 0; i < 3*(idCounterMask+1); i++ {
		id := g.Next()
		if id <= prev {
			t.Fatalf("id not increasing at %d: got %d prev %d", i, id, prev)
		}
		prev = id
	}
	_, source, _ := SplitID(prev)
	assert.Equal(t, uint8(3), source)
}

func TestIDGeneratorEmbedsTimestamp(t *testing.T) {
	c := NewManual(0)
	g := NewIDGenerator(c, 1)
	c.Set(int64(42 * time.Millisecond))
	ms, source, counter := SplitID(g.Next())
	assert.Equal(t, uint64(42), ms)
	assert.Equal(t, uint8(1), source)
	assert.Equal(t, uint16(0), counter)

	c.Set(int64(43 * time.Millisecond))
	ms, _, counter = SplitID(g.Next())
	assert.Equal(t, uint64(43), ms)
	assert.Equal(t, uint16(0), counter)
}

func TestIDGeneratorSortedAcrossSources(t *testing.T) {
	c := NewManual(int64(time.Second))
	a := NewIDGenerator(c, 1)
	b := NewIDGenerator(c, 2)
	idA := a.Next()
	c.Advance(time.Millisecond)
	idB := b.Next()
	require.Less(t, idA, idB)
	require.NotEqual(t, a.Next(), b.Next())
}

func TestRunIDDeterministicForSeed(t *testing.T) {
	assert.Equal(t, RunID("seed-1"), RunID("seed-1"))
	assert.NotEqual(t, RunID("seed-1"), RunID("seed-2"))
	assert.NotEqual(t, RunID(""), RunID(""))
}
