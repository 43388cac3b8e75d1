package og

import (
	"errors"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hft/internal/clock"
	"hft/internal/env"
	"hft/internal/obs"
	"hft/internal/schema"
	"hft/pkg/exception"
)

func px(v int64) schema.Price { return schema.Price(v * schema.PriceScale) }

type timer struct {
	id uint64
	at int64
	fn func()
}

type fakeTimers struct {
	next   uint64
	active map[uint64]timer
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{active: make(map[uint64]timer)}
}

func (f *fakeTimers) Schedule(at int64, fn func()) uint64 {
	f.next++
	f.active[f.next] = timer{id: f.next, at: at, fn: fn}
	return f.next
}

func (f *fakeTimers) Cancel(id uint64) bool {
	_, ok := f.active[id]
	delete(f.active, id)
	return ok
}

// fire runs every timer due at or before now in deadline order.
func (f *fakeTimers) fire(now int64) {
	for {
		due := make([]timer, 0)
		for _, t := range f.active {
			if t.at <= now {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			return
		}
		sort.Slice(due, func(i, j int) bool {
			if due[i].at != due[j].at {
				return due[i].at < due[j].at
			}
			return due[i].id < due[j].id
		})
		for _, t := range due {
			if _, ok := f.active[t.id]; !ok {
				continue
			}
			delete(f.active, t.id)
			t.fn()
		}
	}
}

type fixture struct {
	gw      *Gateway
	clock   *clock.Manual
	timers  *fakeTimers
	alerts  *obs.AlertRecorder
	sent    []Request
	updates []Update
	symbol  schema.SymbolID
	fail    error
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	reg := schema.NewRegistry()
	venue, err := reg.AddVenue("sim")
	require.NoError(t, err)
	symbol, err := reg.AddInstrument(schema.Instrument{
		VenueID:  venue,
		Symbol:   "BTC-USD",
		TickSize: px(1),
		LotSize:  1,
		MinPrice: px(1),
		MaxPrice: px(1_000_000),
		MinQty:   1,
		MaxQty:   1_000,
	})
	require.NoError(t, err)
	reg.Seal()

	rt, clk := env.Test(1_000_000_000)
	f := &fixture{clock: clk, timers: newFakeTimers(), alerts: rt.Alerts.(*obs.AlertRecorder), symbol: symbol}
	f.gw = NewGateway(rt, reg, f.timers, cfg)
	f.gw.Register(venue, DispatcherFunc(func(req Request) error {
		if f.fail != nil {
			return f.fail
		}
		f.sent = append(f.sent, req)
		return nil
	}))
	f.gw.OnUpdate(func(u Update) { f.updates = append(f.updates, u) })
	return f
}

func (f *fixture) intent(id uint64, side schema.OrderSide, typ schema.OrderType, price schema.Price, qty schema.Quantity) schema.OrderIntent {
	return schema.OrderIntent{
		IntentID:    id,
		StrategyID:  7,
		SymbolID:    f.symbol,
		Action:      schema.IntentActionNew,
		Side:        side,
		Type:        typ,
		TimeInForce: schema.TimeInForceGTC,
		Price:       price,
		Qty:         qty,
	}
}

func (f *fixture) advance(d time.Duration) {
	f.clock.Advance(d)
	f.timers.fire(f.clock.Now())
}

func (f *fixture) states(orderID uint64) []schema.OrderState {
	var out []schema.OrderState
	for _, u := range f.updates {
		if u.Kind == UpdateTransition && u.Transition.OrderID == orderID {
			out = append(out, u.Transition.To)
		}
	}
	return out
}

func (f *fixture) fills() []schema.Fill {
	var out []schema.Fill
	for _, u := range f.updates {
		if u.Kind == UpdateFill {
			out = append(out, u.Fill)
		}
	}
	return out
}

func TestMarketBuyFullFill(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id, err := f.gw.Submit(f.intent(11, schema.OrderSideBuy, schema.OrderTypeMarket, 0, 7))
	require.NoError(t, err)
	assert.Equal(t, uint64(11), id)
	require.Len(t, f.sent, 1)
	assert.Equal(t, RequestNew, f.sent[0].Kind)

	require.NoError(t, f.gw.Apply(Callback{Kind: CallbackSendResult, OrderID: id, Request: RequestNew}))
	require.NoError(t, f.gw.Apply(Callback{Kind: CallbackAck, OrderID: id, VenueOrderID: 9001}))
	require.NoError(t, f.gw.Apply(Callback{Kind: CallbackFill, OrderID: id, Fill: schema.Fill{ExecID: 1, Price: px(100), Qty: 5}}))
	require.NoError(t, f.gw.Apply(Callback{Kind: CallbackFill, OrderID: id, Fill: schema.Fill{ExecID: 2, Price: px(101), Qty: 2}}))

	o, ok := f.gw.Order(id)
	require.True(t, ok)
	assert.Equal(t, schema.OrderStateFilled, o.State)
	assert.Equal(t, schema.Quantity(7), o.FilledQty)
	assert.Equal(t, uint64(9001), o.VenueOrderID)
	assert.Equal(t, []schema.OrderState{
		schema.OrderStatePendingSubmit,
		schema.OrderStateSubmitted,
		schema.OrderStateAcked,
		schema.OrderStatePartiallyFilled,
		schema.OrderStateFilled,
	}, f.states(id))

	fills := f.fills()
	require.Len(t, fills, 2)
	for _, fl := range fills {
		assert.Equal(t, f.symbol, fl.SymbolID)
		assert.Equal(t, schema.OrderSideBuy, fl.Side)
	}
	assert.Zero(t, f.gw.OpenCount())
	assert.Empty(t, f.timers.active)
}

func TestLimitSellPartialFillThenCancel(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id, err := f.gw.Submit(f.intent(21, schema.OrderSideSell, schema.OrderTypeLimit, px(101), 10))
	require.NoError(t, err)
	require.NoError(t, f.gw.OnSendResult(id, RequestNew, nil))
	require.NoError(t, f.gw.OnAck(id, 5))
	require.NoError(t, f.gw.OnFill(schema.Fill{OrderID: id, ExecID: 1, Price: px(101), Qty: 4}))

	require.NoError(t, f.gw.Cancel(id))
	assert.Equal(t, RequestCancel, f.sent[len(f.sent)-1].Kind)
	assert.Equal(t, uint64(5), f.sent[len(f.sent)-1].VenueOrderID)
	require.NoError(t, f.gw.OnCancel(id))

	o, _ := f.gw.Order(id)
	assert.Equal(t, schema.OrderStateCancelled, o.State)
	assert.Equal(t, schema.Quantity(4), o.FilledQty)
	assert.Equal(t, schema.Quantity(6), o.LeavesQty())
	assert.Equal(t, px(101), o.AvgFillPrice())
	assert.Equal(t, []schema.OrderState{
		schema.OrderStatePendingSubmit,
		schema.OrderStateSubmitted,
		schema.OrderStateAcked,
		schema.OrderStatePartiallyFilled,
		schema.OrderStatePendingCancel,
		schema.OrderStateCancelled,
	}, f.states(id))
}

func TestAckTimeoutKeepsState(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AckTimeout = 500 * time.Millisecond
	f := newFixture(t, cfg)
	id, err := f.gw.Submit(f.intent(31, schema.OrderSideBuy, schema.OrderTypeLimit, px(100), 1))
	require.NoError(t, err)

	f.advance(499 * time.Millisecond)
	for _, u := range f.updates {
		if u.Kind == UpdateTimeout {
			t.Fatalf("timeout fired early")
		}
	}

	f.advance(time.Millisecond)
	var timeouts []Update
	for _, u := range f.updates {
		if u.Kind == UpdateTimeout {
			timeouts = append(timeouts, u)
		}
	}
	require.Len(t, timeouts, 1)
	assert.True(t, errors.Is(timeouts[0].Err, exception.ErrOrderTimeout))
	assert.Empty(t, f.fills())

	o, _ := f.gw.Order(id)
	assert.Equal(t, schema.OrderStatePendingSubmit, o.State)
	assert.True(t, o.TimedOut)
	assert.Equal(t, []schema.OrderState{schema.OrderStatePendingSubmit}, f.states(id))
}

func TestAckCancelsDeadline(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id, err := f.gw.Submit(f.intent(32, schema.OrderSideBuy, schema.OrderTypeLimit, px(100), 1))
	require.NoError(t, err)
	require.NoError(t, f.gw.OnAck(id, 1))
	f.advance(time.Second)
	for _, u := range f.updates {
		if u.Kind == UpdateTimeout {
			t.Fatalf("unexpected timeout after ack")
		}
	}
}

func TestDuplicateFillDeduplicated(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id, err := f.gw.Submit(f.intent(41, schema.OrderSideBuy, schema.OrderTypeLimit, px(100), 10))
	require.NoError(t, err)
	fill := schema.Fill{OrderID: id, ExecID: 77, Price: px(100), Qty: 3}
	require.NoError(t, f.gw.OnFill(fill))
	err = f.gw.OnFill(fill)
	require.Error(t, err)
	assert.True(t, errors.Is(err, exception.ErrOrderDuplicateFill))

	o, _ := f.gw.Order(id)
	assert.Equal(t, schema.Quantity(3), o.FilledQty)
	assert.Len(t, f.fills(), 1)
	assert.True(t, o.Acked, "fill implies ack")
}

func TestOverfillIsInvariant(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id, err := f.gw.Submit(f.intent(42, schema.OrderSideBuy, schema.OrderTypeLimit, px(100), 5))
	require.NoError(t, err)
	require.NoError(t, f.gw.OnFill(schema.Fill{OrderID: id, ExecID: 1, Price: px(100), Qty: 4}))
	err = f.gw.OnFill(schema.Fill{OrderID: id, ExecID: 2, Price: px(100), Qty: 2})
	require.Error(t, err)
	assert.Equal(t, exception.KindInvariant, exception.KindOf(err))

	o, _ := f.gw.Order(id)
	assert.Equal(t, schema.Quantity(4), o.FilledQty)
}

func TestFillAfterTerminalIsInvariant(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id, err := f.gw.Submit(f.intent(43, schema.OrderSideBuy, schema.OrderTypeLimit, px(100), 5))
	require.NoError(t, err)
	require.NoError(t, f.gw.OnReject(id, schema.OrderAckReasonInvalidPrice))
	err = f.gw.OnFill(schema.Fill{OrderID: id, ExecID: 1, Price: px(100), Qty: 1})
	assert.True(t, errors.Is(err, exception.ErrInvalidTransition))
}

func TestUnsolicitedCallbacks(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	cases := []Callback{
		{Kind: CallbackAck, OrderID: 999},
		{Kind: CallbackFill, OrderID: 999, Fill: schema.Fill{ExecID: 1, Price: px(1), Qty: 1}},
		{Kind: CallbackReject, OrderID: 999},
		{Kind: CallbackCancel, OrderID: 999},
		{Kind: CallbackExpire, OrderID: 999},
		{Kind: CallbackSendResult, OrderID: 999, Request: RequestNew},
	}
	for _, cb := range cases {
		t.Run(cb.Kind.String(), func(t *testing.T) {
			err := f.gw.Apply(cb)
			if !errors.Is(err, exception.ErrOrderUnsolicited) {
				t.Fatalf("error mismatch: got %v want %v", err, exception.ErrOrderUnsolicited)
			}
		})
	}
	assert.Empty(t, f.updates)
}

func TestCancelRules(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	err := f.gw.Cancel(1234)
	assert.True(t, errors.Is(err, exception.ErrOrderUnknown))

	id, err := f.gw.Submit(f.intent(51, schema.OrderSideBuy, schema.OrderTypeLimit, px(100), 5))
	require.NoError(t, err)
	err = f.gw.Cancel(id)
	assert.True(t, errors.Is(err, exception.ErrOrderNotCancelable), "pending submit is not cancelable")

	require.NoError(t, f.gw.OnSendResult(id, RequestNew, nil))
	require.NoError(t, f.gw.Cancel(id))
	err = f.gw.Cancel(id)
	assert.True(t, errors.Is(err, exception.ErrOrderNotCancelable), "already pending cancel")
}

func TestCancelRetriesThenFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CancelTimeout = 100 * time.Millisecond
	cfg.CancelRetries = 2
	cfg.AckTimeout = 0
	f := newFixture(t, cfg)
	id, err := f.gw.Submit(f.intent(61, schema.OrderSideBuy, schema.OrderTypeLimit, px(100), 5))
	require.NoError(t, err)
	require.NoError(t, f.gw.OnAck(id, 3))
	require.NoError(t, f.gw.Cancel(id))

	f.advance(100 * time.Millisecond)
	f.advance(100 * time.Millisecond)
	o, _ := f.gw.Order(id)
	assert.Equal(t, schema.OrderStatePendingCancel, o.State)

	f.advance(100 * time.Millisecond)
	o, _ = f.gw.Order(id)
	assert.Equal(t, schema.OrderStateAcked, o.State, "failed cancel restores the prior state")

	cancels := 0
	for _, r := range f.sent {
		if r.Kind == RequestCancel {
			cancels++
		}
	}
	assert.Equal(t, 3, cancels)

	var failed []Update
	for _, u := range f.updates {
		if u.Kind == UpdateCancelFailed {
			failed = append(failed, u)
		}
	}
	require.Len(t, failed, 1)
	assert.True(t, errors.Is(failed[0].Err, exception.ErrOrderCancelFailed))
	require.NotEmpty(t, f.alerts.Alerts())
}

func TestCancelSendFailureRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CancelRetries = 1
	f := newFixture(t, cfg)
	id, err := f.gw.Submit(f.intent(62, schema.OrderSideBuy, schema.OrderTypeLimit, px(100), 5))
	require.NoError(t, err)
	require.NoError(t, f.gw.OnAck(id, 3))
	require.NoError(t, f.gw.Cancel(id))

	require.NoError(t, f.gw.OnSendResult(id, RequestCancel, exception.ErrOrderSendTransient))
	o, _ := f.gw.Order(id)
	assert.Equal(t, schema.OrderStatePendingCancel, o.State)

	require.NoError(t, f.gw.OnSendResult(id, RequestCancel, exception.ErrOrderSendTransient))
	o, _ = f.gw.Order(id)
	assert.Equal(t, schema.OrderStateAcked, o.State)
}

func TestPartialFillDuringPendingCancel(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id, err := f.gw.Submit(f.intent(63, schema.OrderSideBuy, schema.OrderTypeLimit, px(100), 5))
	require.NoError(t, err)
	require.NoError(t, f.gw.OnAck(id, 3))
	require.NoError(t, f.gw.Cancel(id))
	require.NoError(t, f.gw.OnFill(schema.Fill{OrderID: id, ExecID: 1, Price: px(100), Qty: 2}))

	o, _ := f.gw.Order(id)
	assert.Equal(t, schema.OrderStatePendingCancel, o.State)
	assert.Equal(t, schema.Quantity(2), o.FilledQty)

	require.NoError(t, f.gw.OnFill(schema.Fill{OrderID: id, ExecID: 2, Price: px(100), Qty: 3}))
	o, _ = f.gw.Order(id)
	assert.Equal(t, schema.OrderStateFilled, o.State)
	require.NoError(t, f.gw.OnCancel(id), "late cancel confirm on a filled order is ignored")
}

func TestSubmitDispatchFailureRejects(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.fail = exception.ErrOrderQueueFull
	_, err := f.gw.Submit(f.intent(71, schema.OrderSideBuy, schema.OrderTypeLimit, px(100), 5))
	assert.True(t, errors.Is(err, exception.ErrOrderQueueFull))
	o, ok := f.gw.Order(71)
	require.True(t, ok)
	assert.Equal(t, schema.OrderStateRejectedRisk, o.State)
	assert.Zero(t, f.gw.OpenCount())

	_, err = f.gw.Submit(f.intent(71, schema.OrderSideBuy, schema.OrderTypeLimit, px(100), 5))
	assert.True(t, errors.Is(err, exception.ErrOrderDuplicate))
}

func TestSendFailureRejectsOrder(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id, err := f.gw.Submit(f.intent(72, schema.OrderSideBuy, schema.OrderTypeLimit, px(100), 5))
	require.NoError(t, err)
	require.NoError(t, f.gw.OnSendResult(id, RequestNew, exception.ErrOrderSendPermanent))
	o, _ := f.gw.Order(id)
	assert.Equal(t, schema.OrderStateRejectedVenue, o.State)
	assert.Empty(t, f.timers.active)
}

func TestModifyIsCancelPlusNew(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id, err := f.gw.Submit(f.intent(81, schema.OrderSideBuy, schema.OrderTypeLimit, px(100), 5))
	require.NoError(t, err)
	require.NoError(t, f.gw.OnAck(id, 3))

	next := f.intent(82, schema.OrderSideBuy, schema.OrderTypeLimit, px(99), 4)
	next.Action = schema.IntentActionModify
	newID, err := f.gw.Modify(id, next)
	require.NoError(t, err)
	assert.Equal(t, uint64(82), newID)

	old, _ := f.gw.Order(id)
	assert.Equal(t, schema.OrderStatePendingCancel, old.State)
	fresh, _ := f.gw.Order(newID)
	assert.Equal(t, schema.OrderStatePendingSubmit, fresh.State)
	assert.Equal(t, id, fresh.Intent.TargetID)
	assert.Equal(t, 2, f.gw.OpenCount())
}

func TestRestoreSkipsBookedExecutions(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	intent := f.intent(91, schema.OrderSideBuy, schema.OrderTypeLimit, px(100), 5)
	booked := map[uint64]bool{1: true}
	require.NoError(t, f.gw.Restore([]RestoredOrder{
		{OrderID: 91, VenueID: 4, Intent: intent, State: schema.OrderStatePartiallyFilled, FilledQty: 2},
		{OrderID: 92, Intent: intent, State: schema.OrderStateFilled},
	}, func(orderID, execID uint64) bool { return orderID == 91 && booked[execID] }))

	assert.Equal(t, 1, f.gw.OpenCount())
	err := f.gw.OnFill(schema.Fill{OrderID: 91, ExecID: 1, Price: px(100), Qty: 2})
	assert.True(t, errors.Is(err, exception.ErrOrderDuplicateFill))
	require.NoError(t, f.gw.OnFill(schema.Fill{OrderID: 91, ExecID: 2, Price: px(100), Qty: 3}))
	o, _ := f.gw.Order(91)
	assert.Equal(t, schema.OrderStateFilled, o.State)
}

func TestPruneForgetsFinishedOrders(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id, err := f.gw.Submit(f.intent(95, schema.OrderSideBuy, schema.OrderTypeLimit, px(100), 1))
	require.NoError(t, err)
	require.NoError(t, f.gw.OnExpire(id))
	f.clock.Advance(time.Second)
	assert.Equal(t, 1, f.gw.Prune(f.clock.Now()))
	_, ok := f.gw.Order(id)
	assert.False(t, ok)
}

// TestRandomCallbacksRespectTransitionTable drives orders with random venue
// callbacks and checks every emitted transition is a table edge, terminal
// states are never left and fills never exceed the order quantity.
func TestRandomCallbacksRespectTransitionTable(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	f := newFixture(t, DefaultConfig())

	for n := uint64(1); n <= 300; n++ {
		qty := schema.Quantity(1 + rng.Intn(10))
		id, err := f.gw.Submit(f.intent(1000+n, schema.OrderSideBuy, schema.OrderTypeLimit, px(100), qty))
		require.NoError(t, err)
		for step := 0; step < 12; step++ {
			switch rng.Intn(8) {
			case 0:
				_ = f.gw.OnSendResult(id, RequestNew, nil)
			case 1:
				_ = f.gw.OnAck(id, id)
			case 2, 3:
				o, _ := f.gw.Order(id)
				q := schema.Quantity(1 + rng.Intn(int(qty)))
				err := f.gw.OnFill(schema.Fill{OrderID: id, ExecID: uint64(rng.Intn(6)), Price: px(100), Qty: q})
				if err != nil && exception.KindOf(err) == exception.KindInvariant {
					if !o.State.Terminal() && o.FilledQty+q <= qty {
						t.Fatalf("unexpected invariant error: %v", err)
					}
				}
			case 4:
				_ = f.gw.Cancel(id)
			case 5:
				_ = f.gw.OnCancel(id)
			case 6:
				if rng.Intn(4) == 0 {
					_ = f.gw.OnReject(id, schema.OrderAckReasonExchangeReject)
				}
			case 7:
				_ = f.gw.OnSendResult(id, RequestCancel, exception.ErrOrderSendTransient)
			}
		}
	}

	last := make(map[uint64]schema.OrderState)
	filled := make(map[uint64]schema.Quantity)
	for _, u := range f.updates {
		switch u.Kind {
		case UpdateTransition:
			tr := u.Transition
			if prev, ok := last[tr.OrderID]; ok && prev != tr.From {
				t.Fatalf("order %d transition from %s, last seen %s", tr.OrderID, tr.From, prev)
			}
			if tr.From.Terminal() {
				t.Fatalf("order %d left terminal state %s", tr.OrderID, tr.From)
			}
			if tr.From != schema.OrderStatePendingRisk && !CanTransition(tr.From, tr.To) {
				t.Fatalf("order %d illegal edge %s -> %s", tr.OrderID, tr.From, tr.To)
			}
			last[tr.OrderID] = tr.To
		case UpdateFill:
			filled[u.Fill.OrderID] += u.Fill.Qty
			if filled[u.Fill.OrderID] > u.Order.Intent.Qty {
				t.Fatalf("order %d overfilled: %d > %d", u.Fill.OrderID, filled[u.Fill.OrderID], u.Order.Intent.Qty)
			}
		}
	}
}

func TestTransitionTableHasNoTerminalExits(t *testing.T) {
	for from := range transitions {
		assert.False(t, from.Terminal(), "terminal state %s has edges", from)
	}
	assert.True(t, CanTransition(schema.OrderStateSubmitted, schema.OrderStateAcked))
	assert.False(t, CanTransition(schema.OrderStateCancelled, schema.OrderStateAcked))
	assert.False(t, CanTransition(schema.OrderStatePendingSubmit, schema.OrderStatePendingCancel))
}
