package risk

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/yanun0323/errors"

	"hft/internal/env"
	"hft/internal/schema"
	"hft/pkg/exception"
)

const maxInt64 = int64(^uint64(0) >> 1)

// Exposure is the ledger view the gate reads. Counters move on fills only.
type Exposure interface {
	Position(symbol schema.SymbolID) schema.Quantity
	GrossPosition() schema.Quantity
	GrossExposure() schema.Notional
	DailyPnL() schema.Notional
}

// Market is the book view the gate reads.
type Market interface {
	ReferencePrice(symbol schema.SymbolID) (schema.Price, bool)
	MidPrice(symbol schema.SymbolID) (schema.Price, bool)
	DepthQty(symbol schema.SymbolID, side schema.OrderSide, levels int) schema.Quantity
}

// Backpressure reports whether the outbound order queue can take more work.
type Backpressure interface {
	Saturated() bool
}

// Gate is the synchronous pre-trade check between strategies and the
// execution gateway. Check runs on the event loop; UpdateConfig and
// SetKillSwitch may be called from any goroutine.
type Gate struct {
	rt       env.Runtime
	log      zerolog.Logger
	registry *schema.Registry
	exposure Exposure
	market   Market
	outbound Backpressure

	cfg   atomic.Pointer[Config]
	rates map[uint32]*rateLog
}

// NewGate validates cfg and builds a gate.
func NewGate(rt env.Runtime, registry *schema.Registry, cfg *Config, exposure Exposure, market Market) (*Gate, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Gate{
		rt:       rt,
		log:      rt.Logger("risk"),
		registry: registry,
		exposure: exposure,
		market:   market,
		rates:    make(map[uint32]*rateLog),
	}
	g.cfg.Store(cfg.Clone())
	return g, nil
}

// SetBackpressure attaches the outbound queue probe.
func (g *Gate) SetBackpressure(b Backpressure) {
	g.outbound = b
}

// Config returns the current snapshot. Callers must not modify it.
func (g *Gate) Config() *Config {
	return g.cfg.Load()
}

// UpdateConfig publishes a new snapshot and bumps its version.
func (g *Gate) UpdateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.Wrap(exception.ErrConfigMissing, "risk config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	next := cfg.Clone()
	next.Version = g.cfg.Load().Version + 1
	g.cfg.Store(next)
	g.log.Info().Uint16("version", next.Version).Bool("kill_switch", next.KillSwitch).Msg("risk limits updated")
	return nil
}

// SetKillSwitch flips the kill switch through a copy-on-write update.
func (g *Gate) SetKillSwitch(on bool) {
	for {
		cur := g.cfg.Load()
		next := cur.Clone()
		next.KillSwitch = on
		next.Version = cur.Version + 1
		if g.cfg.CompareAndSwap(cur, next) {
			g.log.Warn().Bool("kill_switch", on).Msg("kill switch")
			return
		}
	}
}

// RateCount returns accepted orders for strategy inside the window ending at now.
func (g *Gate) RateCount(strategyID uint32, symbol schema.SymbolID, now int64) int {
	r := g.rates[strategyID]
	if r == nil {
		return 0
	}
	r.prune(now, int64(g.cfg.Load().For(symbol).RateWindow))
	return r.count()
}

// Release returns the rate window slot an accepted decision took. The engine
// calls it when the approved order never reached the venue.
func (g *Gate) Release(decision schema.RiskDecision) {
	if !decision.Allowed() {
		return
	}
	if r := g.rates[decision.StrategyID]; r != nil {
		r.remove(decision.Ts)
	}
}

// Check evaluates intent against the current limits. Rejections have no side
// effects; an accept records the order in the strategy's rate window.
func (g *Gate) Check(intent schema.OrderIntent) schema.RiskDecision {
	started := time.Now()
	cfg := g.cfg.Load()
	now := g.rt.Now()

	decision := schema.RiskDecision{
		IntentID:      intent.IntentID,
		StrategyID:    intent.StrategyID,
		SymbolID:      intent.SymbolID,
		Action:        schema.RiskActionAllow,
		Reason:        schema.RiskReasonNone,
		Version:       cfg.Version,
		ProposedQty:   intent.Qty,
		ProposedPrice: intent.Price,
		Ts:            now,
	}

	reason := g.evaluate(cfg, intent, now, &decision)
	if reason != schema.RiskReasonNone {
		decision.Action = schema.RiskActionDeny
		decision.Reason = reason
		g.rt.Metrics.IncRiskReason(reason)
	}
	g.rt.Metrics.ObserveRiskEval(time.Since(started))
	return decision
}

func (g *Gate) evaluate(cfg *Config, intent schema.OrderIntent, now int64, decision *schema.RiskDecision) schema.RiskReason {
	if intent.Action == schema.IntentActionCancel {
		if intent.TargetID == 0 {
			return schema.RiskReasonUnknownOrder
		}
		return schema.RiskReasonNone
	}
	if cfg.KillSwitch {
		return schema.RiskReasonKillSwitch
	}

	inst, ok := g.registry.Instrument(intent.SymbolID)
	if !ok {
		return schema.RiskReasonUnknownSymbol
	}
	limits := cfg.For(inst.ID)
	decision.MaxPos = limits.MaxPosition
	decision.MaxNotional = limits.MaxOrderNotional

	if intent.Type == schema.OrderTypeUnknown {
		return schema.RiskReasonInvalidPrice
	}
	if intent.Type.HasLimitPrice() && !inst.PriceInBounds(intent.Price) {
		return schema.RiskReasonInvalidPrice
	}
	if intent.Type.HasStopPrice() && !inst.PriceInBounds(intent.StopPrice) {
		return schema.RiskReasonInvalidPrice
	}
	if !validSide(intent.Side) || !inst.QtyInBounds(intent.Qty) {
		return schema.RiskReasonInvalidQuantity
	}
	if limits.MaxOrderQty > 0 && intent.Qty > limits.MaxOrderQty {
		return schema.RiskReasonMaxQty
	}

	pos := g.exposure.Position(inst.ID)
	decision.CurrentPos = pos
	nextPos := applySide(pos, intent.Side, intent.Qty)
	if limits.MaxPosition > 0 && absQuantity(nextPos) > limits.MaxPosition {
		return schema.RiskReasonPositionLimit
	}
	if cfg.MaxGrossPosition > 0 {
		gross := g.exposure.GrossPosition() - absQuantity(pos) + absQuantity(nextPos)
		if gross > cfg.MaxGrossPosition {
			return schema.RiskReasonPositionLimit
		}
	}

	price, ok := g.valuationPrice(inst.ID, intent)
	if !ok {
		return schema.RiskReasonIlliquid
	}
	notional, overflow := mulNotional(price, intent.Qty)
	if overflow {
		return schema.RiskReasonMaxNotional
	}
	if limits.MaxOrderNotional > 0 && notional > limits.MaxOrderNotional {
		return schema.RiskReasonMaxNotional
	}
	nextNotional, overflow := mulNotional(price, absQuantity(nextPos))
	if overflow {
		return schema.RiskReasonNotionalLimit
	}
	if limits.MaxPositionNotional > 0 && nextNotional > limits.MaxPositionNotional {
		return schema.RiskReasonNotionalLimit
	}
	if limits.MaxGrossExposure > 0 {
		curNotional, _ := mulNotional(price, absQuantity(pos))
		gross := g.exposure.GrossExposure() - curNotional + nextNotional
		if gross > limits.MaxGrossExposure {
			return schema.RiskReasonNotionalLimit
		}
	}

	if limits.MaxPriceDeviationBps > 0 && intent.Type.HasLimitPrice() {
		if ref, ok := g.market.ReferencePrice(inst.ID); ok {
			diff := absInt64(int64(intent.Price) - int64(ref))
			if exceedsDeviation(diff, int64(ref), limits.MaxPriceDeviationBps) {
				return schema.RiskReasonPriceDeviation
			}
		}
	}

	var rates *rateLog
	if limits.MaxOrdersPerSecond > 0 {
		rates = g.rates[intent.StrategyID]
		if rates == nil {
			rates = &rateLog{}
			g.rates[intent.StrategyID] = rates
		}
		rates.prune(now, int64(limits.RateWindow))
		if rates.count() >= limits.MaxOrdersPerSecond {
			return schema.RiskReasonRateLimit
		}
	}

	if limits.MaxDailyLoss > 0 && opening(pos, nextPos) && g.exposure.DailyPnL() < -limits.MaxDailyLoss {
		return schema.RiskReasonDailyLoss
	}

	if limits.MinLiquidityScore > 0 {
		depth := g.market.DepthQty(inst.ID, intent.Side.Opposite(), limits.LiquidityDepth)
		if float64(depth) < limits.MinLiquidityScore*float64(intent.Qty) {
			return schema.RiskReasonIlliquid
		}
	}

	if g.outbound != nil && g.outbound.Saturated() {
		return schema.RiskReasonBackpressure
	}

	if rates != nil {
		rates.add(now)
	}
	return schema.RiskReasonNone
}

// valuationPrice is the limit price, the stop price for stop orders, or the
// mid for market orders.
func (g *Gate) valuationPrice(symbol schema.SymbolID, intent schema.OrderIntent) (schema.Price, bool) {
	switch {
	case intent.Type.HasLimitPrice():
		return intent.Price, true
	case intent.Type == schema.OrderTypeStop:
		return intent.StopPrice, true
	}
	if mid, ok := g.market.MidPrice(symbol); ok {
		return mid, true
	}
	return 0, false
}

// opening reports whether moving from pos to next grows or flips exposure.
func opening(pos, next schema.Quantity) bool {
	if pos != 0 && next != 0 && (pos > 0) != (next > 0) {
		return true
	}
	return absQuantity(next) > absQuantity(pos)
}

func validSide(side schema.OrderSide) bool {
	return side == schema.OrderSideBuy || side == schema.OrderSideSell
}

func mulNotional(price schema.Price, qty schema.Quantity) (schema.Notional, bool) {
	p := int64(price)
	q := int64(qty)
	if p == 0 || q == 0 {
		return 0, false
	}
	if p < 0 {
		p = -p
	}
	if q < 0 {
		q = -q
	}
	if p > maxInt64/q {
		return 0, true
	}
	return schema.Notional(int64(price) * int64(qty)), false
}

func applySide(pos schema.Quantity, side schema.OrderSide, qty schema.Quantity) schema.Quantity {
	switch side {
	case schema.OrderSideBuy:
		return schema.Quantity(int64(pos) + int64(qty))
	case schema.OrderSideSell:
		return schema.Quantity(int64(pos) - int64(qty))
	default:
		return pos
	}
}

func absQuantity(q schema.Quantity) schema.Quantity {
	if q < 0 {
		return -q
	}
	return q
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func exceedsDeviation(diff int64, ref int64, bps int64) bool {
	if diff <= 0 || ref <= 0 || bps <= 0 {
		return false
	}
	if diff > maxInt64/10000 {
		return true
	}
	lhs := diff * 10000
	if ref > maxInt64/bps {
		return true
	}
	rhs := ref * bps
	return lhs > rhs
}
