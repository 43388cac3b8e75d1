package strategy

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/yanun0323/errors"

	"hft/internal/book"
	"hft/internal/clock"
	"hft/internal/env"
	"hft/internal/schema"
	"hft/pkg/exception"
)

// HostConfig bounds strategy callbacks. A callback running longer than
// Budget counts as an overrun; after MaxOverruns the strategy is disabled.
type HostConfig struct {
	Budget      time.Duration
	MaxOverruns int
}

// DefaultHostConfig returns the host defaults.
func DefaultHostConfig() HostConfig {
	return HostConfig{Budget: 200 * time.Microsecond, MaxOverruns: 10}
}

// Status describes one hosted strategy.
type Status struct {
	ID        uint32 `json:"id"`
	Name      string `json:"name"`
	Enabled   bool   `json:"enabled"`
	Reason    string `json:"reason,omitempty"`
	Callbacks uint64 `json:"callbacks"`
	Intents   uint64 `json:"intents"`
	Overruns  int    `json:"overruns"`
}

type slot struct {
	s         Strategy
	enabled   bool
	reason    string
	callbacks uint64
	intents   uint64
	overruns  int
}

// Host owns strategy instances, routes events to them in registration order
// and forwards their intents to the sink, which feeds the risk gate.
type Host struct {
	rt        env.Runtime
	log       zerolog.Logger
	cfg       HostConfig
	registry  *schema.Registry
	positions Positions
	timers    Timers
	wall      clock.Clock
	sink      func(schema.OrderIntent)

	slots    []*slot
	byID     map[uint32]*slot
	bySymbol map[schema.SymbolID][]*slot
	scratch  []schema.OrderIntent
}

// NewHost creates a host. positions and timers may be nil.
func NewHost(rt env.Runtime, registry *schema.Registry, positions Positions, timers Timers, cfg HostConfig) *Host {
	return &Host{
		rt:        rt,
		log:       rt.Logger("strategy"),
		cfg:       cfg,
		registry:  registry,
		positions: positions,
		timers:    timers,
		wall:      clock.NewMonotonic(),
		sink:      func(schema.OrderIntent) {},
		byID:      make(map[uint32]*slot),
		bySymbol:  make(map[schema.SymbolID][]*slot),
	}
}

// SetWallClock replaces the clock used to measure callback budgets.
func (h *Host) SetWallClock(c clock.Clock) {
	h.wall = c
}

// SetSink sets where drained intents go.
func (h *Host) SetSink(fn func(schema.OrderIntent)) {
	if fn == nil {
		fn = func(schema.OrderIntent) {}
	}
	h.sink = fn
}

// Env returns the environment handed to strategies built for this host.
func (h *Host) Env() Env {
	return Env{
		Clock:     h.rt.Clock,
		IDs:       h.rt.IDs,
		Log:       h.log,
		Registry:  h.registry,
		Positions: h.positions,
		host:      h,
	}
}

// Add registers s. IDs are unique and every symbol must be known.
func (h *Host) Add(s Strategy) error {
	if s == nil {
		return errors.Wrap(exception.ErrNilInstance, "add strategy")
	}
	if _, ok := h.byID[s.ID()]; ok {
		return errors.Wrapf(exception.ErrConfigInvalidValue, "strategy id %d registered twice", s.ID())
	}
	for _, sym := range s.Symbols() {
		if _, ok := h.registry.Instrument(sym); !ok {
			return errors.Wrapf(exception.ErrConfigUnknownSymbol, "strategy %s symbol %d", s.Name(), sym)
		}
	}
	sl := &slot{s: s, enabled: true}
	h.slots = append(h.slots, sl)
	h.byID[s.ID()] = sl
	for _, sym := range s.Symbols() {
		h.bySymbol[sym] = append(h.bySymbol[sym], sl)
	}
	h.log.Info().Uint32("strategy_id", s.ID()).Str("name", s.Name()).Msg("strategy registered")
	return nil
}

// Load builds and registers every spec with f.
func (h *Host) Load(f *Factory, specs []Spec) error {
	for _, spec := range specs {
		s, err := f.Build(spec, h.Env())
		if err != nil {
			return err
		}
		if err := h.Add(s); err != nil {
			return err
		}
		if spec.Enabled != nil && !*spec.Enabled {
			h.byID[spec.ID].enabled = false
			h.byID[spec.ID].reason = "disabled by config"
		}
	}
	return nil
}

// Symbols returns every symbol some strategy trades, sorted.
func (h *Host) Symbols() []schema.SymbolID {
	out := make([]schema.SymbolID, 0, len(h.bySymbol))
	for sym := range h.bySymbol {
		out = append(out, sym)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strategy returns the strategy registered under id.
func (h *Host) Strategy(id uint32) (Strategy, bool) {
	sl, ok := h.byID[id]
	if !ok {
		return nil, false
	}
	return sl.s, true
}

// OnMarketData delivers an applied event to the symbol's strategies. Book
// changes are followed by OnBookUpdate with the read-only view, and by
// OnCrossedBook when the update left the book crossed.
func (h *Host) OnMarketData(ev schema.MarketEvent, view book.View, res book.Result) {
	bookChanged := ev.Kind == schema.MarketDataBookDelta || ev.Kind == schema.MarketDataBookSnapshot
	crossed := bookChanged && res.Crossed
	if crossed {
		h.log.Warn().Uint32("symbol_id", uint32(ev.SymbolID)).Uint64("seq", ev.Seq).Msg("crossed book")
	}
	for _, sl := range h.bySymbol[ev.SymbolID] {
		h.invoke(sl, func() { sl.s.OnMarketEvent(ev) })
		if !bookChanged {
			continue
		}
		h.invoke(sl, func() { sl.s.OnBookUpdate(ev.SymbolID, view) })
		if ch, ok := sl.s.(CrossedBookHandler); ok && crossed {
			h.invoke(sl, func() { ch.OnCrossedBook(ev.SymbolID, view) })
		}
	}
}

// OnOrderUpdate delivers an order update to the originating strategy.
func (h *Host) OnOrderUpdate(u OrderUpdate) {
	sl, ok := h.byID[u.StrategyID()]
	if !ok {
		return
	}
	h.invoke(sl, func() { sl.s.OnOrderUpdate(u) })
}

// OnTimer fires a strategy timer.
func (h *Host) OnTimer(strategyID uint32, timerID uint64) {
	sl, ok := h.byID[strategyID]
	if !ok {
		return
	}
	h.invoke(sl, func() { sl.s.OnTimer(timerID) })
}

// Enable re-enables a strategy and resets its overrun count.
func (h *Host) Enable(id uint32) error {
	sl, ok := h.byID[id]
	if !ok {
		return errors.Wrapf(exception.ErrInvalidArgument, "strategy %d not found", id)
	}
	sl.enabled = true
	sl.reason = ""
	sl.overruns = 0
	h.log.Info().Uint32("strategy_id", id).Msg("strategy enabled")
	return nil
}

// Disable stops routing events to a strategy.
func (h *Host) Disable(id uint32, reason string) error {
	sl, ok := h.byID[id]
	if !ok {
		return errors.Wrapf(exception.ErrInvalidArgument, "strategy %d not found", id)
	}
	h.disable(sl, reason)
	return nil
}

// Enabled reports whether strategy id receives events.
func (h *Host) Enabled(id uint32) bool {
	sl, ok := h.byID[id]
	return ok && sl.enabled
}

// Status returns every strategy in registration order.
func (h *Host) Status() []Status {
	out := make([]Status, 0, len(h.slots))
	for _, sl := range h.slots {
		out = append(out, Status{
			ID:        sl.s.ID(),
			Name:      sl.s.Name(),
			Enabled:   sl.enabled,
			Reason:    sl.reason,
			Callbacks: sl.callbacks,
			Intents:   sl.intents,
			Overruns:  sl.overruns,
		})
	}
	return out
}

func (h *Host) invoke(sl *slot, fn func()) {
	if !sl.enabled {
		return
	}
	sl.callbacks++
	start := h.wall.Now()
	panicked := h.guard(sl, fn)
	elapsed := time.Duration(h.wall.Now() - start)
	h.rt.Metrics.ObserveCallback(elapsed)

	if panicked {
		h.discard(sl)
		return
	}
	if h.cfg.Budget > 0 && elapsed > h.cfg.Budget {
		sl.overruns++
		h.rt.Metrics.IncStrategyOverrun()
		h.log.Warn().Uint32("strategy_id", sl.s.ID()).Dur("elapsed", elapsed).Int("overruns", sl.overruns).Msg("callback over budget")
		if h.cfg.MaxOverruns > 0 && sl.overruns >= h.cfg.MaxOverruns {
			h.disable(sl, fmt.Sprintf("%d callbacks over %s", sl.overruns, h.cfg.Budget))
			h.discard(sl)
			return
		}
	}

	h.scratch = sl.s.DrainIntents(h.scratch[:0])
	now := h.rt.Now()
	for _, intent := range h.scratch {
		intent.StrategyID = sl.s.ID()
		if intent.IntentID == 0 {
			intent.IntentID = h.rt.IDs.Next()
		}
		if intent.CreatedAt == 0 {
			intent.CreatedAt = now
		}
		sl.intents++
		h.sink(intent)
	}
}

func (h *Host) guard(sl *slot, fn func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			h.disable(sl, fmt.Sprintf("panic: %v", r))
		}
	}()
	fn()
	return false
}

func (h *Host) discard(sl *slot) {
	dropped := sl.s.DrainIntents(h.scratch[:0])
	if len(dropped) > 0 {
		h.log.Warn().Uint32("strategy_id", sl.s.ID()).Int("intents", len(dropped)).Msg("intents discarded")
	}
}

func (h *Host) disable(sl *slot, reason string) {
	if !sl.enabled {
		return
	}
	sl.enabled = false
	sl.reason = reason
	h.log.Error().Uint32("strategy_id", sl.s.ID()).Str("reason", reason).Msg("strategy disabled")
}
