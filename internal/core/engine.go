package core

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	yerrors "github.com/yanun0323/errors"

	"hft/internal/book"
	"hft/internal/bus"
	"hft/internal/clock"
	"hft/internal/codec"
	"hft/internal/env"
	"hft/internal/marketdata"
	"hft/internal/og"
	"hft/internal/recorder"
	"hft/internal/risk"
	"hft/internal/schema"
	"hft/internal/state"
	"hft/internal/strategy"
	"hft/pkg/exception"
)

// Config sizes the engine queues and timers.
type Config struct {
	Gateway      og.Config
	Host         strategy.HostConfig
	VenueQueue   int
	MarketQueue  int
	ControlQueue int
	TimerTick    time.Duration
	TimerSlots   int
	IdleWait     time.Duration
	DrainTimeout time.Duration
	Source       uint16
	RecordMarket bool

	// StrictSymbols halts the engine on market data for a symbol missing
	// from the registry. Live runs drop and report such events.
	StrictSymbols bool
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Gateway:      og.DefaultConfig(),
		Host:         strategy.DefaultHostConfig(),
		VenueQueue:   4096,
		MarketQueue:  65536,
		ControlQueue: 64,
		TimerTick:    defaultTimerTick,
		TimerSlots:   defaultTimerSlots,
		IdleWait:     5 * time.Millisecond,
		DrainTimeout: 5 * time.Second,
		Source:       1,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Gateway == (og.Config{}) {
		c.Gateway = def.Gateway
	}
	if c.Host == (strategy.HostConfig{}) {
		c.Host = def.Host
	}
	if c.VenueQueue <= 0 {
		c.VenueQueue = def.VenueQueue
	}
	if c.MarketQueue <= 0 {
		c.MarketQueue = def.MarketQueue
	}
	if c.ControlQueue <= 0 {
		c.ControlQueue = def.ControlQueue
	}
	if c.IdleWait <= 0 {
		c.IdleWait = def.IdleWait
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = def.DrainTimeout
	}
	if c.Source == 0 {
		c.Source = def.Source
	}
	return c
}

// Option customizes an Engine.
type Option func(*Engine)

// WithFeed lets the router subscribe and request snapshots.
func WithFeed(feed marketdata.Feed) Option {
	return func(e *Engine) { e.feed = feed }
}

// WithSink records intents, decisions, transitions and fills.
func WithSink(sink recorder.Sink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithWallClock sets the clock that times strategy callbacks. Backtests pass
// the simulated clock so budgets never trip on host load.
func WithWallClock(c clock.Clock) Option {
	return func(e *Engine) { e.wall = c }
}

// Engine is the single-threaded event loop. It owns the router, the strategy
// host, the risk gate, the execution gateway and the ledger; none of them is
// touched from another goroutine. Venue I/O, the feed and the control plane
// hand work in through bounded queues.
type Engine struct {
	rt       env.Runtime
	log      zerolog.Logger
	cfg      Config
	registry *schema.Registry

	router  *marketdata.Router
	host    *strategy.Host
	gate    *risk.Gate
	gateway *og.Gateway
	ledger  *state.Ledger
	timers  *Wheel
	feed    marketdata.Feed
	sink    recorder.Sink
	wall    clock.Clock
	probes  []risk.Backpressure

	venue   *bus.Queue[og.Callback]
	market  *bus.Queue[schema.MarketEvent]
	control *bus.Queue[Command]
	intents fifo[schema.OrderIntent]

	seq     uint64
	started int64
	running bool
	fatal   *FatalError
	done    chan struct{}
}

// New builds an engine with an empty ledger. riskCfg may be nil.
func New(rt env.Runtime, registry *schema.Registry, riskCfg *risk.Config, cfg Config, opts ...Option) (*Engine, error) {
	cfg = cfg.withDefaults()
	now := rt.Now()
	e := &Engine{
		rt:       rt,
		log:      rt.Logger("core"),
		cfg:      cfg,
		registry: registry,
		ledger:   state.NewLedger(),
		timers:   NewWheel(cfg.TimerTick, cfg.TimerSlots, now),
		venue:    bus.NewQueue[og.Callback](cfg.VenueQueue),
		market:   bus.NewQueue[schema.MarketEvent](cfg.MarketQueue),
		control:  bus.NewQueue[Command](cfg.ControlQueue),
		started:  now,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.router = marketdata.NewRouter(rt, registry, e.feed)
	gate, err := risk.NewGate(rt, registry, riskCfg, ledgerView{e}, e.router)
	if err != nil {
		return nil, yerrors.Wrap(err, "risk gate")
	}
	gate.SetBackpressure(e)
	e.gate = gate

	e.gateway = og.NewGateway(rt, registry, e.timers, cfg.Gateway)
	e.gateway.OnUpdate(e.onOrderUpdate)

	e.host = strategy.NewHost(rt, registry, ledgerView{e}, e.timers, cfg.Host)
	if e.wall != nil {
		e.host.SetWallClock(e.wall)
	}
	e.host.SetSink(e.intents.push)

	e.router.SubscribeAll(marketdata.HandlerFunc(e.mark))
	return e, nil
}

func (e *Engine) Router() *marketdata.Router { return e.router }
func (e *Engine) Host() *strategy.Host        { return e.host }
func (e *Engine) Gate() *risk.Gate            { return e.gate }
func (e *Engine) Gateway() *og.Gateway        { return e.gateway }
func (e *Engine) Ledger() *state.Ledger       { return e.ledger }
func (e *Engine) Timers() *Wheel              { return e.timers }

// VenueQueue is where venue adapters and workers publish callbacks.
func (e *Engine) VenueQueue() *bus.Queue[og.Callback] {
	return e.venue
}

// Inbound returns the feed-side handoff into the market data queue.
func (e *Engine) Inbound(highWater int, keepDepth uint16) *marketdata.Inbound {
	return marketdata.NewInbound(e.market, highWater, keepDepth, e.rt.Metrics)
}

// RegisterVenue attaches the dispatcher for venue. Dispatchers that report
// saturation feed the risk gate's backpressure check.
func (e *Engine) RegisterVenue(venue schema.VenueID, d og.Dispatcher) {
	e.gateway.Register(venue, d)
	if p, ok := d.(risk.Backpressure); ok {
		e.probes = append(e.probes, p)
	}
}

// Saturated reports whether any outbound venue queue is full.
func (e *Engine) Saturated() bool {
	for _, p := range e.probes {
		if p.Saturated() {
			return true
		}
	}
	return false
}

// Restore installs state rebuilt from a checkpoint and the event log tail.
// Call it before Start.
func (e *Engine) Restore(res state.RecoverResult) error {
	if res.Ledger != nil {
		e.ledger = res.Ledger
	}
	if res.LastSeq > e.seq {
		e.seq = res.LastSeq
	}
	orders := make([]og.RestoredOrder, 0, len(res.Orders))
	for _, r := range res.Orders {
		orders = append(orders, og.RestoredOrder{
			OrderID:   r.OrderID,
			VenueID:   r.VenueID,
			Intent:    r.Intent,
			State:     r.State,
			FilledQty: r.FilledQty,
			UpdatedAt: r.UpdatedAt,
		})
	}
	if err := e.gateway.Restore(orders, e.ledger.Seen); err != nil {
		return err
	}
	e.log.Info().
		Uint64("last_seq", e.seq).
		Int("positions", len(e.ledger.Positions())).
		Int("open_orders", e.gateway.OpenCount()).
		Msg("state restored")
	return nil
}

// Start subscribes the hosted strategies and arms the day roll. Run calls it;
// synchronous drivers call it before the first Step.
func (e *Engine) Start() error {
	if e.running {
		return nil
	}
	for _, symbol := range e.host.Symbols() {
		if err := e.router.Subscribe(symbol, e.host); err != nil {
			return err
		}
	}
	now := e.rt.Now()
	if e.ledger.DayStart() == 0 {
		e.ledger.ResetDay(now)
	}
	e.scheduleDayRoll(now)
	e.running = true
	e.log.Info().
		Str("run_id", e.rt.RunID).
		Int("strategies", len(e.host.Status())).
		Int("symbols", len(e.host.Symbols())).
		Msg("engine started")
	return nil
}

// Step serves at most one unit of work and reports whether there was any.
// Priority: venue callbacks, market data, intents, timers, control.
func (e *Engine) Step() bool {
	if e.fatal != nil {
		return false
	}
	e.timers.Advance(e.rt.Now())

	if cb, ok := e.venue.TryPop(); ok {
		e.handleCallback(cb)
		return true
	}
	if ev, ok := e.market.TryPop(); ok {
		e.handleMarket(ev)
		return true
	}
	if intent, ok := e.intents.pop(); ok {
		e.handleIntent(intent)
		return true
	}
	if fn, ok := e.timers.Pop(); ok {
		fn()
		return true
	}
	if cmd, ok := e.control.TryPop(); ok {
		e.handleCommand(cmd)
		return true
	}
	return false
}

// Settle steps until every queue is empty and returns the number of steps.
func (e *Engine) Settle() int {
	n := 0
	for e.Step() {
		n++
	}
	return n
}

// Push queues a market event from the loop goroutine, settling first when the
// queue is full.
func (e *Engine) Push(ev schema.MarketEvent) error {
	for {
		err := e.market.TryPublish(ev)
		if !errors.Is(err, bus.ErrQueueFull) {
			return err
		}
		if e.Settle() == 0 {
			return err
		}
	}
}

// Run serves the queues until ctx is done, then drains open orders. It
// returns a *FatalError after an invariant violation.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(); err != nil {
		return err
	}
	defer close(e.done)

	for ctx.Err() == nil {
		if e.fatal != nil {
			return e.fatal
		}
		if e.Step() {
			continue
		}
		e.wait(ctx)
	}
	if e.fatal != nil {
		return e.fatal
	}

	left := e.Drain(e.cfg.DrainTimeout)
	if e.fatal != nil {
		return e.fatal
	}
	if left > 0 {
		return yerrors.Wrapf(exception.ErrOrderCancelFailed, "%d orders open after drain", left)
	}
	return nil
}

// Drain blocks new orders, cancels every open order and serves the queues
// until nothing is open or timeout passes. It returns the orders left open.
func (e *Engine) Drain(timeout time.Duration) int {
	e.gate.SetKillSwitch(true)
	sent := e.gateway.CancelAll()
	e.log.Info().Int("cancels", sent).Int("open", e.gateway.OpenCount()).Msg("draining")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for e.fatal == nil && e.gateway.OpenCount() > 0 && ctx.Err() == nil {
		if e.Step() {
			continue
		}
		e.gateway.CancelAll()
		e.wait(ctx)
	}

	left := e.gateway.OpenCount()
	if left > 0 {
		e.log.Warn().Int("open", left).Dur("timeout", timeout).Msg("drain timed out")
	}
	return left
}

// Control hands cmd to the loop and waits for its reply.
func (e *Engine) Control(ctx context.Context, cmd Command) (Reply, error) {
	cmd.reply = make(chan Reply, 1)
	if err := e.control.Publish(ctx, cmd); err != nil {
		return Reply{}, err
	}
	select {
	case r := <-cmd.reply:
		return r, nil
	case <-e.done:
		return Reply{}, yerrors.Wrap(exception.ErrInternal, "engine stopped")
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Fatal returns the invariant violation that halted the engine, if any.
func (e *Engine) Fatal() error {
	if e.fatal == nil {
		return nil
	}
	return e.fatal
}

// Checkpoint snapshots the ledger. It must run on the loop goroutine.
func (e *Engine) Checkpoint() state.Snapshot {
	return e.ledger.Snapshot(e.rt.Now())
}

func (e *Engine) wait(ctx context.Context) {
	d := e.cfg.IdleWait
	if next, ok := e.timers.Next(); ok {
		if until := time.Duration(next - e.rt.Now()); until < d {
			d = until
		}
	}
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	case cb := <-e.venue.C():
		e.handleCallback(cb)
	case ev := <-e.market.C():
		e.handleMarket(ev)
	case cmd := <-e.control.C():
		e.handleCommand(cmd)
	}
}

func (e *Engine) handleCallback(cb og.Callback) {
	if err := e.gateway.Apply(cb); err != nil {
		e.handleErr(err, map[string]any{"order_id": cb.OrderID, "callback": cb.Kind.String()})
	}
}

func (e *Engine) handleMarket(ev schema.MarketEvent) {
	if e.cfg.RecordMarket {
		e.record(schema.EventMarketData, ev.Ts, codec.EncodeMarketEvent(nil, ev))
	}
	err := e.router.Handle(ev)
	switch {
	case err == nil:
	case errors.Is(err, exception.ErrAwaitingSnapshot), errors.Is(err, exception.ErrStaleSequence):
		e.log.Debug().Err(err).Uint64("seq", ev.Seq).Msg("market data dropped")
	case e.cfg.StrictSymbols && errors.Is(err, exception.ErrUnknownSymbol):
		e.fail(err, map[string]any{"symbol_id": ev.SymbolID, "seq": ev.Seq})
	default:
		e.handleErr(err, map[string]any{"symbol": e.registry.SymbolName(ev.SymbolID), "seq": ev.Seq})
	}
}

func (e *Engine) mark(ev schema.MarketEvent, view book.View, _ book.Result) {
	if mid, ok := view.MidPrice(); ok {
		e.ledger.Mark(ev.SymbolID, mid)
	}
}

func (e *Engine) handleIntent(intent schema.OrderIntent) {
	e.record(schema.EventOrderIntent, intent.CreatedAt, codec.EncodeOrderIntent(nil, intent))

	decision := e.gate.Check(intent)
	if decision.Allowed() && intent.Action != schema.IntentActionNew {
		if o, ok := e.gateway.Order(intent.TargetID); !ok || o.Intent.StrategyID != intent.StrategyID {
			e.gate.Release(decision)
			decision.Action = schema.RiskActionDeny
			decision.Reason = schema.RiskReasonUnknownOrder
			e.rt.Metrics.IncRiskReason(decision.Reason)
		}
	}
	e.record(schema.EventRiskDecision, decision.Ts, codec.EncodeRiskDecision(nil, decision))
	if !decision.Allowed() {
		e.log.Debug().
			Uint64("intent_id", intent.IntentID).
			Uint32("strategy_id", intent.StrategyID).
			Str("reason", decision.Reason.String()).
			Msg("intent rejected")
		e.host.OnOrderUpdate(strategy.Rejected(intent, decision, nil))
		return
	}

	var err error
	switch intent.Action {
	case schema.IntentActionNew:
		_, err = e.gateway.Submit(intent)
	case schema.IntentActionCancel:
		err = e.gateway.Cancel(intent.TargetID)
	case schema.IntentActionModify:
		_, err = e.gateway.Modify(intent.TargetID, intent)
	default:
		err = yerrors.Wrapf(exception.ErrOrderInvalidRequest, "intent %d action %d", intent.IntentID, intent.Action)
	}
	if err == nil {
		return
	}
	if intent.Action != schema.IntentActionCancel {
		e.gate.Release(decision)
	}
	e.handleErr(err, map[string]any{
		"intent_id":   intent.IntentID,
		"strategy_id": intent.StrategyID,
		"symbol":      e.registry.SymbolName(intent.SymbolID),
	})
	if e.fatal != nil {
		return
	}
	if _, ok := e.gateway.Order(intent.IntentID); !ok {
		e.host.OnOrderUpdate(strategy.Rejected(intent, decision, err))
	}
}

func (e *Engine) onOrderUpdate(u og.Update) {
	switch u.Kind {
	case og.UpdateTransition:
		e.record(schema.EventOrderTransition, u.Transition.Ts, codec.EncodeOrderTransition(nil, u.Transition))
	case og.UpdateFill:
		if _, err := e.ledger.ApplyFill(u.Fill); err != nil {
			if errors.Is(err, exception.ErrOrderDuplicateFill) {
				err = yerrors.Wrapf(exception.ErrDedupMissed, "order %d exec %d", u.Fill.OrderID, u.Fill.ExecID)
			}
			e.handleErr(err, map[string]any{"order_id": u.Fill.OrderID, "exec_id": u.Fill.ExecID})
			return
		}
		e.record(schema.EventFill, u.Fill.Ts, codec.EncodeFill(nil, u.Fill))
	}
	e.host.OnOrderUpdate(strategy.FromGateway(u))
}

func (e *Engine) handleCommand(cmd Command) {
	var reply Reply
	switch cmd.Kind {
	case CommandStatus:
		st := e.Snapshot()
		reply.Status = &st
	case CommandCheckpoint:
		snap := e.Checkpoint()
		reply.Snapshot = &snap
	case CommandRiskLimits:
		reply.Err = e.gate.UpdateConfig(cmd.Risk)
	case CommandKillSwitch:
		e.gate.SetKillSwitch(cmd.On)
	case CommandEnableStrategy:
		reply.Err = e.host.Enable(cmd.StrategyID)
	case CommandDisableStrategy:
		reason := cmd.Reason
		if reason == "" {
			reason = "operator"
		}
		reply.Err = e.host.Disable(cmd.StrategyID, reason)
	case CommandCancelAll:
		reply.Canceled = e.gateway.CancelAll()
	default:
		reply.Err = yerrors.Wrapf(exception.ErrInvalidArgument, "control command %d", cmd.Kind)
	}

	if reply.Err == nil && cmd.Kind != CommandStatus && cmd.Kind != CommandCheckpoint {
		e.record(schema.EventControl, e.rt.Now(), encodeControl(cmd, e.gate.Config().Version))
		e.log.Info().Str("command", cmd.Kind.String()).Uint32("strategy_id", cmd.StrategyID).Msg("control applied")
	}
	if cmd.reply != nil {
		cmd.reply <- reply
	}
}

func (e *Engine) handleErr(err error, fields map[string]any) {
	if exception.KindOf(err).Fatal() {
		e.fail(err, fields)
		return
	}
	e.rt.Reporter.Report(e.rt.Now(), err, fields)
}

func (e *Engine) fail(err error, fields map[string]any) {
	if e.fatal != nil {
		return
	}
	now := e.rt.Now()
	e.rt.Reporter.Report(now, err, fields)
	e.fatal = &FatalError{Err: err, Ts: now}
	e.fatal.Dump = e.dump()
	e.log.Error().Err(err).Int("dump_bytes", len(e.fatal.Dump)).Msg("invariant violated, engine halted")
}

func (e *Engine) record(typ schema.EventType, ts int64, payload []byte) {
	e.seq++
	header := schema.NewHeader(typ, e.cfg.Source, e.seq, ts, e.rt.Now())
	e.rt.Metrics.ObserveEvent(header)
	e.ledger.SetLastSeq(e.seq)
	if e.sink == nil {
		return
	}
	if err := e.sink.Append(header, payload); err != nil {
		e.rt.Reporter.Report(header.TsRecv, yerrors.Wrapf(exception.ErrStoreUnavailable, "append %s seq %d: %v", typ, e.seq, err), nil)
	}
}

func (e *Engine) scheduleDayRoll(now int64) {
	next := time.Unix(0, now).UTC().Truncate(24 * time.Hour).Add(24 * time.Hour).UnixNano()
	e.timers.Schedule(next, e.rollDay)
}

func (e *Engine) rollDay() {
	now := e.rt.Now()
	pruned := e.gateway.Prune(e.ledger.DayStart())
	e.ledger.ResetDay(now)
	e.log.Info().Int64("day_start", now).Int("pruned", pruned).Msg("day roll")
	e.scheduleDayRoll(now)
}

// ledgerView reads through the engine so a restored ledger is picked up.
type ledgerView struct{ e *Engine }

func (v ledgerView) Position(symbol schema.SymbolID) schema.Quantity {
	return v.e.ledger.Position(symbol)
}
func (v ledgerView) GrossPosition() schema.Quantity { return v.e.ledger.GrossPosition() }
func (v ledgerView) GrossExposure() schema.Notional { return v.e.ledger.GrossExposure() }
func (v ledgerView) DailyPnL() schema.Notional      { return v.e.ledger.DailyPnL() }

type fifo[T any] struct {
	items []T
	head  int
}

func (q *fifo[T]) push(v T) {
	q.items = append(q.items, v)
}

func (q *fifo[T]) pop() (T, bool) {
	var zero T
	if q.head >= len(q.items) {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return v, true
}

func (q *fifo[T]) len() int {
	return len(q.items) - q.head
}
