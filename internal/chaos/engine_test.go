package chaos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type msg struct {
	id int
	at time.Duration
}

func delayMsg(m msg, d time.Duration) msg {
	m.at += d
	return m
}

func run(t *testing.T, cfg Config, n int) []msg {
	t.Helper()
	e, err := NewEngine(cfg, Hooks[msg]{Delay: delayMsg})
	require.NoError(t, err)
	var out []msg
	for i := 0; i < n; i++ {
		out = append(out, e.Process(msg{id: i})...)
	}
	return append(out, e.Flush()...)
}

func TestEnginePassThrough(t *testing.T) {
	out := run(t, Config{Seed: 1}, 10)
	require.Len(t, out, 10)
	for i, m := range out {
		if m.id != i {
			t.Fatalf("order mismatch at %d: got %d want %d", i, m.id, i)
		}
	}
}

func TestEngineSameSeedSameOutput(t *testing.T) {
	cfg := Config{Seed: 42, DropRate: 0.1, DuplicateRate: 0.1, ReorderWindow: 4, MaxDelay: time.Millisecond}
	a := run(t, cfg, 200)
	b := run(t, cfg, 200)
	assert.Equal(t, a, b)

	cfg.Seed = 43
	c := run(t, cfg, 200)
	assert.NotEqual(t, a, c)
}

func TestEngineReorderKeepsEveryMessage(t *testing.T) {
	out := run(t, Config{Seed: 7, ReorderWindow: 5}, 50)
	require.Len(t, out, 50)
	seen := make(map[int]bool)
	for _, m := range out {
		seen[m.id] = true
	}
	assert.Len(t, seen, 50)
}

func TestEngineDropsOnlyDroppable(t *testing.T) {
	e, err := NewEngine(Config{Seed: 3, DropRate: 1}, Hooks[msg]{Droppable: func(m msg) bool { return m.id%2 == 0 }})
	require.NoError(t, err)
	var out []msg
	for i := 0; i < 10; i++ {
		out = append(out, e.Process(msg{id: i})...)
	}
	require.Len(t, out, 5)
	for _, m := range out {
		assert.Equal(t, 1, m.id%2)
	}
	dropped, _ := e.Stats()
	assert.Equal(t, uint64(5), dropped)
}

func TestEngineDelayBounded(t *testing.T) {
	out := run(t, Config{Seed: 9, MaxDelay: 5 * time.Millisecond}, 100)
	for _, m := range out {
		if m.at < 0 || m.at > 5*time.Millisecond {
			t.Fatalf("delay out of range: got %s", m.at)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"zero", Config{}, true},
		{"drop too high", Config{DropRate: 1.5}, false},
		{"negative duplicate", Config{DuplicateRate: -0.1}, false},
		{"negative window", Config{ReorderWindow: -1}, false},
		{"negative delay", Config{MaxDelay: -time.Second}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err == nil) != tt.ok {
				t.Fatalf("validate mismatch: got %v want ok=%v", err, tt.ok)
			}
		})
	}
}
