package og

import (
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/yanun0323/errors"

	"hft/internal/env"
	"hft/internal/schema"
	"hft/pkg/exception"
)

// Config controls gateway deadlines.
type Config struct {
	AckTimeout    time.Duration
	CancelTimeout time.Duration
	CancelRetries int
}

// DefaultConfig returns the gateway defaults.
func DefaultConfig() Config {
	return Config{
		AckTimeout:    500 * time.Millisecond,
		CancelTimeout: 200 * time.Millisecond,
		CancelRetries: 3,
	}
}

// Gateway owns the order state machine and the venue dispatchers. Every
// method runs on the event loop; dispatchers hand requests to venue I/O and
// venue callbacks come back through Apply.
type Gateway struct {
	rt       env.Runtime
	log      zerolog.Logger
	cfg      Config
	registry *schema.Registry
	policy   VenuePolicy
	timers   Scheduler

	dispatchers map[schema.VenueID]Dispatcher
	orders      map[uint64]*Order
	execs       map[uint64]map[uint64]struct{}
	seen        func(orderID, execID uint64) bool
	emit        func(Update)
}

// NewGateway creates a gateway. timers arms ack and cancel deadlines.
func NewGateway(rt env.Runtime, registry *schema.Registry, timers Scheduler, cfg Config) *Gateway {
	return &Gateway{
		rt:          rt,
		log:         rt.Logger("og"),
		cfg:         cfg,
		registry:    registry,
		policy:      InstrumentVenue{},
		timers:      timers,
		dispatchers: make(map[schema.VenueID]Dispatcher),
		orders:      make(map[uint64]*Order),
		execs:       make(map[uint64]map[uint64]struct{}),
		emit:        func(Update) {},
	}
}

// SetPolicy replaces the venue selection policy.
func (g *Gateway) SetPolicy(p VenuePolicy) {
	if p != nil {
		g.policy = p
	}
}

// Register attaches the dispatcher for venue.
func (g *Gateway) Register(venue schema.VenueID, d Dispatcher) {
	g.dispatchers[venue] = d
}

// OnUpdate sets the update sink. Updates are emitted synchronously.
func (g *Gateway) OnUpdate(fn func(Update)) {
	if fn == nil {
		fn = func(Update) {}
	}
	g.emit = fn
}

// Submit creates an order from a risk-approved intent and hands it to the
// venue. The order ID is the intent ID.
func (g *Gateway) Submit(intent schema.OrderIntent) (uint64, error) {
	if intent.Action != schema.IntentActionNew || intent.IntentID == 0 {
		return 0, errors.Wrapf(exception.ErrOrderInvalidRequest, "submit intent %d action %d", intent.IntentID, intent.Action)
	}
	if _, ok := g.orders[intent.IntentID]; ok {
		return 0, errors.Wrapf(exception.ErrOrderDuplicate, "order %d", intent.IntentID)
	}
	inst, ok := g.registry.Instrument(intent.SymbolID)
	if !ok {
		return 0, errors.Wrapf(exception.ErrUnknownSymbol, "order %d symbol %d", intent.IntentID, intent.SymbolID)
	}
	venue, err := g.policy.Route(intent, inst)
	if err != nil {
		return 0, errors.Wrapf(err, "route order %d", intent.IntentID)
	}
	d := g.dispatchers[venue]
	if d == nil {
		return 0, errors.Wrapf(exception.ErrOrderNoDispatcher, "venue %d", venue)
	}

	now := g.rt.Now()
	o := &Order{
		ID:          intent.IntentID,
		Venue:       venue,
		Intent:      intent,
		State:       schema.OrderStatePendingRisk,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	g.orders[o.ID] = o

	if err := d.Dispatch(Request{Kind: RequestNew, OrderID: o.ID, Venue: venue, Intent: intent, Attempt: 1, Ts: now}); err != nil {
		if tr, terr := transition(o, schema.OrderStateRejectedRisk, uint16(schema.RiskReasonBackpressure), now); terr == nil {
			g.emitTransition(o, tr)
		}
		return 0, errors.Wrapf(err, "dispatch order %d", o.ID)
	}
	tr, err := transition(o, schema.OrderStatePendingSubmit, 0, now)
	if err != nil {
		return 0, err
	}
	g.emitTransition(o, tr)
	if g.cfg.AckTimeout > 0 && g.timers != nil {
		id := o.ID
		o.ackTimer = g.timers.Schedule(now+int64(g.cfg.AckTimeout), func() { g.ackDeadline(id) })
	}
	return o.ID, nil
}

// Cancel requests cancellation of a live order.
func (g *Gateway) Cancel(orderID uint64) error {
	o := g.orders[orderID]
	if o == nil {
		return errors.Wrapf(exception.ErrOrderUnknown, "cancel order %d", orderID)
	}
	if !o.Cancelable() {
		return errors.Wrapf(exception.ErrOrderNotCancelable, "cancel order %d in %s", orderID, o.State)
	}
	o.cancelAttempts = 1
	if err := g.sendCancel(o); err != nil {
		return errors.Wrapf(err, "cancel order %d", orderID)
	}
	o.beforeCancel = o.State
	tr, err := transition(o, schema.OrderStatePendingCancel, 0, g.rt.Now())
	if err != nil {
		return err
	}
	g.emitTransition(o, tr)
	g.armCancel(o)
	return nil
}

// Modify cancels orderID and submits replacement as a new order. The caller
// risk-checks the replacement first.
func (g *Gateway) Modify(orderID uint64, replacement schema.OrderIntent) (uint64, error) {
	if err := g.Cancel(orderID); err != nil {
		return 0, err
	}
	replacement.Action = schema.IntentActionNew
	replacement.TargetID = orderID
	return g.Submit(replacement)
}

// CancelAll requests cancellation of every cancelable order and returns how
// many were sent.
func (g *Gateway) CancelAll() int {
	n := 0
	for _, o := range g.Open() {
		if !o.Cancelable() {
			continue
		}
		if err := g.Cancel(o.ID); err != nil {
			g.report(err, o.ID)
			continue
		}
		n++
	}
	return n
}

// Apply routes one venue callback. Unknown orders return
// exception.ErrOrderUnsolicited and leave every order untouched.
func (g *Gateway) Apply(cb Callback) error {
	switch cb.Kind {
	case CallbackSendResult:
		return g.OnSendResult(cb.OrderID, cb.Request, cb.Err)
	case CallbackAck:
		return g.OnAck(cb.OrderID, cb.VenueOrderID)
	case CallbackFill:
		fill := cb.Fill
		if fill.OrderID == 0 {
			fill.OrderID = cb.OrderID
		}
		if fill.Ts == 0 {
			fill.Ts = cb.Ts
		}
		return g.OnFill(fill)
	case CallbackReject:
		return g.OnReject(cb.OrderID, cb.Reason)
	case CallbackCancel:
		return g.OnCancel(cb.OrderID)
	case CallbackExpire:
		return g.OnExpire(cb.OrderID)
	default:
		return errors.Wrapf(exception.ErrMalformedEvent, "venue callback kind %d", cb.Kind)
	}
}

// OnSendResult handles the adapter's wire confirmation for a request.
func (g *Gateway) OnSendResult(orderID uint64, kind RequestKind, sendErr error) error {
	o, err := g.lookup(orderID)
	if err != nil {
		return err
	}
	switch kind {
	case RequestNew:
		if o.State != schema.OrderStatePendingSubmit {
			return nil
		}
		if sendErr == nil {
			tr, err := transition(o, schema.OrderStateSubmitted, 0, g.rt.Now())
			if err != nil {
				return err
			}
			g.emitTransition(o, tr)
			return nil
		}
		g.report(errors.Wrapf(sendErr, "send order %d", o.ID), o.ID)
		return g.terminate(o, schema.OrderStateRejectedVenue, uint16(schema.OrderAckReasonTransport))
	case RequestCancel:
		if sendErr != nil && o.State == schema.OrderStatePendingCancel {
			g.retryCancel(o, sendErr)
		}
		return nil
	default:
		return errors.Wrapf(exception.ErrMalformedEvent, "send result kind %d", kind)
	}
}

// OnAck records the venue's acknowledgement. Duplicate and late acks are ignored.
func (g *Gateway) OnAck(orderID, venueOrderID uint64) error {
	o, err := g.lookup(orderID)
	if err != nil {
		return err
	}
	if venueOrderID != 0 {
		o.VenueOrderID = venueOrderID
	}
	if o.Acked || o.State.Terminal() {
		return nil
	}
	g.markAcked(o)
	switch o.State {
	case schema.OrderStatePendingSubmit, schema.OrderStateSubmitted:
		tr, err := transition(o, schema.OrderStateAcked, 0, g.rt.Now())
		if err != nil {
			return err
		}
		g.emitTransition(o, tr)
	case schema.OrderStatePendingCancel:
		if o.beforeCancel == schema.OrderStateSubmitted {
			o.beforeCancel = schema.OrderStateAcked
		}
	}
	return nil
}

// OnFill applies an execution. Fills are deduplicated by execution ID; a fill
// past the ordered quantity or on a finished order is an invariant violation.
func (g *Gateway) OnFill(fill schema.Fill) error {
	o, err := g.lookup(fill.OrderID)
	if err != nil {
		return err
	}
	if g.duplicate(o.ID, fill.ExecID) {
		return errors.Wrapf(exception.ErrOrderDuplicateFill, "order %d exec %d", o.ID, fill.ExecID)
	}
	if fill.Qty <= 0 || fill.Price <= 0 {
		return errors.Wrapf(exception.ErrMalformedEvent, "order %d exec %d: qty %d price %d", o.ID, fill.ExecID, fill.Qty, fill.Price)
	}
	if o.State.Terminal() {
		return errors.Wrapf(exception.ErrInvalidTransition, "order %d: fill in %s", o.ID, o.State)
	}
	filled := o.FilledQty + fill.Qty
	if filled > o.Intent.Qty {
		return errors.Wrapf(exception.ErrOverfill, "order %d: filled %d of %d", o.ID, filled, o.Intent.Qty)
	}

	to := schema.OrderStatePartiallyFilled
	switch {
	case filled == o.Intent.Qty:
		to = schema.OrderStateFilled
	case o.State == schema.OrderStatePendingCancel:
		to = schema.OrderStatePendingCancel
	}
	if !CanTransition(o.State, to) {
		return errors.Wrapf(exception.ErrInvalidTransition, "order %d: %s -> %s", o.ID, o.State, to)
	}

	g.remember(o.ID, fill.ExecID)
	fill.SymbolID = o.Intent.SymbolID
	fill.Side = o.Intent.Side
	if fill.Ts == 0 {
		fill.Ts = g.rt.Now()
	}
	o.FilledQty = filled
	o.FillNotional += fill.Notional()
	if !o.Acked {
		g.markAcked(o)
	}
	if to == schema.OrderStatePendingCancel {
		o.beforeCancel = schema.OrderStatePartiallyFilled
	}
	tr, err := transition(o, to, 0, g.rt.Now())
	if err != nil {
		return err
	}
	g.emit(Update{Kind: UpdateFill, Order: *o, Fill: fill})
	g.emitTransition(o, tr)
	if to.Terminal() {
		g.finish(o)
	}
	return nil
}

// OnReject moves a live order to REJECTED_VENUE.
func (g *Gateway) OnReject(orderID uint64, reason schema.OrderAckReason) error {
	o, err := g.lookup(orderID)
	if err != nil {
		return err
	}
	if o.State.Terminal() {
		return nil
	}
	g.report(errors.Wrapf(exception.ErrOrderVenueReject, "order %d reason %d", o.ID, reason), o.ID)
	return g.terminate(o, schema.OrderStateRejectedVenue, uint16(reason))
}

// OnCancel confirms cancellation.
func (g *Gateway) OnCancel(orderID uint64) error {
	o, err := g.lookup(orderID)
	if err != nil {
		return err
	}
	if o.State.Terminal() {
		return nil
	}
	return g.terminate(o, schema.OrderStateCancelled, 0)
}

// OnExpire moves a live order to EXPIRED.
func (g *Gateway) OnExpire(orderID uint64) error {
	o, err := g.lookup(orderID)
	if err != nil {
		return err
	}
	if o.State.Terminal() {
		return nil
	}
	return g.terminate(o, schema.OrderStateExpired, uint16(schema.OrderAckReasonUnfilled))
}

// Order returns a copy of the order.
func (g *Gateway) Order(orderID uint64) (Order, bool) {
	o := g.orders[orderID]
	if o == nil {
		return Order{}, false
	}
	return *o, true
}

// Open returns the non-terminal orders sorted by ID.
func (g *Gateway) Open() []Order {
	out := make([]Order, 0, len(g.orders))
	for _, o := range g.orders {
		if !o.State.Terminal() {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OpenCount returns the number of non-terminal orders.
func (g *Gateway) OpenCount() int {
	n := 0
	for _, o := range g.orders {
		if !o.State.Terminal() {
			n++
		}
	}
	return n
}

// Prune forgets terminal orders last updated before ts.
func (g *Gateway) Prune(ts int64) int {
	n := 0
	for id, o := range g.orders {
		if o.State.Terminal() && o.UpdatedAt < ts {
			delete(g.orders, id)
			delete(g.execs, id)
			n++
		}
	}
	return n
}

// RestoredOrder is an order rebuilt from the event log.
type RestoredOrder struct {
	OrderID   uint64
	VenueID   uint64
	Intent    schema.OrderIntent
	State     schema.OrderState
	FilledQty schema.Quantity
	UpdatedAt int64
}

// Restore loads live orders rebuilt from the event log. seen answers whether
// an execution was already booked so redelivered fills are dropped.
func (g *Gateway) Restore(orders []RestoredOrder, seen func(orderID, execID uint64) bool) error {
	g.seen = seen
	now := g.rt.Now()
	for _, r := range orders {
		if r.State.Terminal() || r.State == schema.OrderStateUnknown {
			continue
		}
		inst, ok := g.registry.Instrument(r.Intent.SymbolID)
		if !ok {
			return errors.Wrapf(exception.ErrConfigUnknownSymbol, "restore order %d symbol %d", r.OrderID, r.Intent.SymbolID)
		}
		venue, err := g.policy.Route(r.Intent, inst)
		if err != nil {
			return errors.Wrapf(err, "restore order %d", r.OrderID)
		}
		o := &Order{
			ID:           r.OrderID,
			VenueOrderID: r.VenueID,
			Venue:        venue,
			Intent:       r.Intent,
			State:        r.State,
			FilledQty:    r.FilledQty,
			FillNotional: schema.Notional(int64(r.FilledQty) * int64(r.Intent.Price)),
			Acked:        r.VenueID != 0 || r.FilledQty > 0,
			SubmittedAt:  r.UpdatedAt,
			UpdatedAt:    r.UpdatedAt,
		}
		g.orders[o.ID] = o
		if !o.Acked && g.cfg.AckTimeout > 0 && g.timers != nil {
			id := o.ID
			o.ackTimer = g.timers.Schedule(now+int64(g.cfg.AckTimeout), func() { g.ackDeadline(id) })
		}
	}
	return nil
}

func (g *Gateway) lookup(orderID uint64) (*Order, error) {
	o := g.orders[orderID]
	if o == nil {
		return nil, errors.Wrapf(exception.ErrOrderUnsolicited, "order %d", orderID)
	}
	return o, nil
}

func (g *Gateway) duplicate(orderID, execID uint64) bool {
	if _, ok := g.execs[orderID][execID]; ok {
		return true
	}
	return g.seen != nil && g.seen(orderID, execID)
}

func (g *Gateway) remember(orderID, execID uint64) {
	set := g.execs[orderID]
	if set == nil {
		set = make(map[uint64]struct{})
		g.execs[orderID] = set
	}
	set[execID] = struct{}{}
}

func (g *Gateway) markAcked(o *Order) {
	o.Acked = true
	if o.ackTimer != 0 {
		g.timers.Cancel(o.ackTimer)
		o.ackTimer = 0
	}
	g.rt.Metrics.ObserveAck(time.Duration(g.rt.Now() - o.SubmittedAt))
}

func (g *Gateway) terminate(o *Order, to schema.OrderState, reason uint16) error {
	tr, err := transition(o, to, reason, g.rt.Now())
	if err != nil {
		return err
	}
	g.finish(o)
	g.emitTransition(o, tr)
	return nil
}

func (g *Gateway) finish(o *Order) {
	if o.ackTimer != 0 {
		g.timers.Cancel(o.ackTimer)
		o.ackTimer = 0
	}
	if o.cancelTimer != 0 {
		g.timers.Cancel(o.cancelTimer)
		o.cancelTimer = 0
	}
}

func (g *Gateway) ackDeadline(orderID uint64) {
	o := g.orders[orderID]
	if o == nil {
		return
	}
	o.ackTimer = 0
	if o.Acked {
		return
	}
	switch o.State {
	case schema.OrderStatePendingSubmit, schema.OrderStateSubmitted:
	default:
		return
	}
	o.TimedOut = true
	err := errors.Wrapf(exception.ErrOrderTimeout, "order %d: no ack after %s", o.ID, g.cfg.AckTimeout)
	g.report(err, o.ID)
	g.emit(Update{Kind: UpdateTimeout, Order: *o, Err: err})
}

func (g *Gateway) sendCancel(o *Order) error {
	d := g.dispatchers[o.Venue]
	if d == nil {
		return errors.Wrapf(exception.ErrOrderNoDispatcher, "venue %d", o.Venue)
	}
	return d.Dispatch(Request{
		Kind:         RequestCancel,
		OrderID:      o.ID,
		VenueOrderID: o.VenueOrderID,
		Venue:        o.Venue,
		Intent:       o.Intent,
		Attempt:      o.cancelAttempts,
		Ts:           g.rt.Now(),
	})
}

func (g *Gateway) armCancel(o *Order) {
	if g.cfg.CancelTimeout <= 0 || g.timers == nil {
		return
	}
	id := o.ID
	o.cancelTimer = g.timers.Schedule(g.rt.Now()+int64(g.cfg.CancelTimeout), func() { g.cancelDeadline(id) })
}

func (g *Gateway) cancelDeadline(orderID uint64) {
	o := g.orders[orderID]
	if o == nil {
		return
	}
	o.cancelTimer = 0
	if o.State != schema.OrderStatePendingCancel {
		return
	}
	g.retryCancel(o, errors.Wrapf(exception.ErrOrderTimeout, "cancel not confirmed after %s", g.cfg.CancelTimeout))
}

func (g *Gateway) retryCancel(o *Order, cause error) {
	if o.cancelTimer != 0 {
		g.timers.Cancel(o.cancelTimer)
		o.cancelTimer = 0
	}
	for o.cancelAttempts <= g.cfg.CancelRetries {
		o.cancelAttempts++
		if err := g.sendCancel(o); err != nil {
			cause = err
			continue
		}
		g.log.Debug().Uint64("order_id", o.ID).Int("attempt", o.cancelAttempts).Msg("cancel retry")
		g.armCancel(o)
		return
	}
	g.cancelFailed(o, cause)
}

func (g *Gateway) cancelFailed(o *Order, cause error) {
	err := errors.Wrapf(exception.ErrOrderCancelFailed, "order %d after %d attempts: %v", o.ID, o.cancelAttempts, cause)
	to := o.beforeCancel
	if !CanTransition(o.State, to) {
		to = schema.OrderStateAcked
	}
	tr, terr := transition(o, to, uint16(schema.OrderAckReasonTransport), g.rt.Now())
	if terr == nil {
		g.emitTransition(o, tr)
	}
	g.report(err, o.ID)
	g.emit(Update{Kind: UpdateCancelFailed, Order: *o, Err: err})
}

func (g *Gateway) emitTransition(o *Order, tr schema.OrderTransition) {
	g.log.Debug().
		Uint64("order_id", o.ID).
		Uint32("symbol", uint32(o.Intent.SymbolID)).
		Str("from", tr.From.String()).
		Str("to", tr.To.String()).
		Int64("filled", int64(o.FilledQty)).
		Msg("order transition")
	g.emit(Update{Kind: UpdateTransition, Order: *o, Transition: tr})
}

func (g *Gateway) report(err error, orderID uint64) {
	o := g.orders[orderID]
	fields := map[string]any{"order_id": orderID}
	if o != nil {
		fields["symbol"] = uint32(o.Intent.SymbolID)
		fields["strategy_id"] = o.Intent.StrategyID
	}
	g.rt.Reporter.Report(g.rt.Now(), err, fields)
}
