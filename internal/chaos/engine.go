package chaos

import (
	"math/rand"
	"time"

	"github.com/yanun0323/errors"

	"hft/pkg/exception"
)

// Config controls chaos injection behavior.
type Config struct {
	Seed          int64         `json:"seed" yaml:"seed"`
	DropRate      float64       `json:"dropRate" yaml:"drop_rate"`
	DuplicateRate float64       `json:"duplicateRate" yaml:"duplicate_rate"`
	ReorderWindow int           `json:"reorderWindow" yaml:"reorder_window"`
	MaxDelay      time.Duration `json:"maxDelay" yaml:"max_delay"`
}

// Enabled reports whether any rule is active.
func (c Config) Enabled() bool {
	return c.DropRate > 0 || c.DuplicateRate > 0 || c.ReorderWindow > 1 || c.MaxDelay > 0
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return errors.Wrapf(exception.ErrConfigInvalidValue, "chaos drop rate %v must be between 0 and 1", c.DropRate)
	}
	if c.DuplicateRate < 0 || c.DuplicateRate > 1 {
		return errors.Wrapf(exception.ErrConfigInvalidValue, "chaos duplicate rate %v must be between 0 and 1", c.DuplicateRate)
	}
	if c.ReorderWindow < 0 {
		return errors.Wrapf(exception.ErrConfigInvalidValue, "chaos reorder window %d must be >= 0", c.ReorderWindow)
	}
	if c.MaxDelay < 0 {
		return errors.Wrapf(exception.ErrConfigInvalidValue, "chaos max delay %s must be >= 0", c.MaxDelay)
	}
	return nil
}

// Hooks adapt the engine to a message type. Both are optional.
type Hooks[T any] struct {
	// Delay returns v shifted later by d.
	Delay func(v T, d time.Duration) T
	// Droppable limits drops to the messages it accepts.
	Droppable func(v T) bool
}

// Engine applies seeded drop, duplicate, reorder and delay rules to a stream
// of messages. The same seed and input produce the same output.
type Engine[T any] struct {
	cfg     Config
	hooks   Hooks[T]
	rng     *rand.Rand
	pending []T

	dropped    uint64
	duplicated uint64
}

// NewEngine creates a chaos engine. A zero seed draws one from the wall clock.
func NewEngine[T any](cfg Config, hooks Hooks[T]) (*Engine[T], error) {
	if cfg.ReorderWindow == 0 {
		cfg.ReorderWindow = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Engine[T]{
		cfg:   cfg,
		hooks: hooks,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Seed returns the seed in use.
func (e *Engine[T]) Seed() int64 {
	return e.cfg.Seed
}

// Stats returns how many messages were dropped and duplicated.
func (e *Engine[T]) Stats() (dropped, duplicated uint64) {
	return e.dropped, e.duplicated
}

// Process applies chaos to a single message and returns what to deliver now.
func (e *Engine[T]) Process(v T) []T {
	if e == nil {
		return []T{v}
	}
	if e.shouldDrop(v) {
		e.dropped++
		return nil
	}
	v = e.applyDelay(v)
	if e.cfg.ReorderWindow <= 1 {
		return e.applyDuplicate(v)
	}
	e.pending = append(e.pending, v)
	if len(e.pending) < e.cfg.ReorderWindow {
		return nil
	}
	return e.applyDuplicate(e.take())
}

// Flush returns every buffered message.
func (e *Engine[T]) Flush() []T {
	if e == nil || len(e.pending) == 0 {
		return nil
	}
	out := make([]T, 0, len(e.pending))
	for len(e.pending) > 0 {
		out = append(out, e.applyDuplicate(e.take())...)
	}
	return out
}

func (e *Engine[T]) take() T {
	idx := e.rng.Intn(len(e.pending))
	v := e.pending[idx]
	e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
	return v
}

func (e *Engine[T]) shouldDrop(v T) bool {
	if e.cfg.DropRate <= 0 {
		return false
	}
	if e.hooks.Droppable != nil && !e.hooks.Droppable(v) {
		return false
	}
	return e.rng.Float64() < e.cfg.DropRate
}

func (e *Engine[T]) applyDuplicate(v T) []T {
	out := []T{v}
	if e.cfg.DuplicateRate > 0 && e.rng.Float64() < e.cfg.DuplicateRate {
		e.duplicated++
		out = append(out, v)
	}
	return out
}

func (e *Engine[T]) applyDelay(v T) T {
	if e.cfg.MaxDelay <= 0 || e.hooks.Delay == nil {
		return v
	}
	delay := time.Duration(e.rng.Int63n(int64(e.cfg.MaxDelay) + 1))
	if delay == 0 {
		return v
	}
	return e.hooks.Delay(v, delay)
}
