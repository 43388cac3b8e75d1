package obs

import (
	"sync/atomic"
	"time"

	"hft/internal/schema"
	"hft/pkg/exception"
)

// Metrics collects lightweight counters and latency stats. Every method is
// safe on a nil receiver.
type Metrics struct {
	eventCounts      [int(schema.MaxEventType) + 1]uint64
	riskReasonCounts [int(schema.MaxRiskReason) + 1]uint64
	errorKindCounts  [int(exception.MaxKind) + 1]uint64
	queueDrops       uint64
	queueClosed      uint64
	marketDataDrops  uint64
	resyncRequests   uint64
	strategyOverruns uint64

	eventLatency    LatencyStats
	riskEvalLatency LatencyStats
	callbackLatency LatencyStats
	ackLatency      LatencyStats
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	EventCounts      map[string]uint64 `json:"event_counts"`
	RiskReasonCounts map[string]uint64 `json:"risk_reason_counts"`
	ErrorKindCounts  map[string]uint64 `json:"error_kind_counts"`
	QueueDrops       uint64            `json:"queue_drops"`
	QueueClosed      uint64            `json:"queue_closed"`
	MarketDataDrops  uint64            `json:"market_data_drops"`
	ResyncRequests   uint64            `json:"resync_requests"`
	StrategyOverruns uint64            `json:"strategy_overruns"`
	EventLatency     LatencySnapshot   `json:"event_latency"`
	RiskEvalLatency  LatencySnapshot   `json:"risk_eval_latency"`
	CallbackLatency  LatencySnapshot   `json:"callback_latency"`
	AckLatency       LatencySnapshot   `json:"ack_latency"`
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveEvent increments counters and tracks event latency when timestamps are present.
func (m *Metrics) ObserveEvent(header schema.EventHeader) {
	if m == nil {
		return
	}
	idx := int(header.Type)
	if idx >= 0 && idx < len(m.eventCounts) {
		atomic.AddUint64(&m.eventCounts[idx], 1)
	}
	if header.TsEvent > 0 && header.TsRecv > 0 {
		delta := header.TsRecv - header.TsEvent
		if delta >= 0 {
			m.eventLatency.Observe(time.Duration(delta))
		}
	}
}

// IncRiskReason increments the risk reason counter.
func (m *Metrics) IncRiskReason(reason schema.RiskReason) {
	if m == nil {
		return
	}
	idx := int(reason)
	if idx >= 0 && idx < len(m.riskReasonCounts) {
		atomic.AddUint64(&m.riskReasonCounts[idx], 1)
	}
}

// IncErrorKind increments the per-kind error counter.
func (m *Metrics) IncErrorKind(kind exception.Kind) {
	if m == nil {
		return
	}
	idx := int(kind)
	if idx >= 0 && idx < len(m.errorKindCounts) {
		atomic.AddUint64(&m.errorKindCounts[idx], 1)
	}
}

// IncQueueDrop records a queue drop.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// IncQueueClosed records a closed-queue publish attempt.
func (m *Metrics) IncQueueClosed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueClosed, 1)
}

// IncMarketDataDrop records a non-essential market data event shed under backpressure.
func (m *Metrics) IncMarketDataDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.marketDataDrops, 1)
}

func (m *Metrics) IncResync() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.resyncRequests, 1)
}

func (m *Metrics) IncStrategyOverrun() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.strategyOverruns, 1)
}

// ObserveRiskEval measures risk evaluation latency.
func (m *Metrics) ObserveRiskEval(d time.Duration) {
	if m == nil {
		return
	}
	m.riskEvalLatency.Observe(d)
}

// ObserveCallback measures strategy callback duration.
func (m *Metrics) ObserveCallback(d time.Duration) {
	if m == nil {
		return
	}
	m.callbackLatency.Observe(d)
}

// ObserveAck measures submit to ack latency.
func (m *Metrics) ObserveAck(d time.Duration) {
	if m == nil {
		return
	}
	m.ackLatency.Observe(d)
}

// RiskReasonCount returns a single risk reason counter.
func (m *Metrics) RiskReasonCount(reason schema.RiskReason) uint64 {
	if m == nil || int(reason) >= len(m.riskReasonCounts) {
		return 0
	}
	return atomic.LoadUint64(&m.riskReasonCounts[reason])
}

// ErrorKindCount returns a single error kind counter.
func (m *Metrics) ErrorKindCount(kind exception.Kind) uint64 {
	if m == nil || int(kind) >= len(m.errorKindCounts) {
		return 0
	}
	return atomic.LoadUint64(&m.errorKindCounts[kind])
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	eventCounts := make(map[string]uint64)
	for i := range m.eventCounts {
		if v := atomic.LoadUint64(&m.eventCounts[i]); v > 0 {
			eventCounts[schema.EventType(i).String()] = v
		}
	}
	riskCounts := make(map[string]uint64)
	for i := range m.riskReasonCounts {
		if v := atomic.LoadUint64(&m.riskReasonCounts[i]); v > 0 {
			riskCounts[schema.RiskReason(i).String()] = v
		}
	}
	kindCounts := make(map[string]uint64)
	for i := range m.errorKindCounts {
		if v := atomic.LoadUint64(&m.errorKindCounts[i]); v > 0 {
			kindCounts[exception.Kind(i).String()] = v
		}
	}
	return Snapshot{
		EventCounts:      eventCounts,
		RiskReasonCounts: riskCounts,
		ErrorKindCounts:  kindCounts,
		QueueDrops:       atomic.LoadUint64(&m.queueDrops),
		QueueClosed:      atomic.LoadUint64(&m.queueClosed),
		MarketDataDrops:  atomic.LoadUint64(&m.marketDataDrops),
		ResyncRequests:   atomic.LoadUint64(&m.resyncRequests),
		StrategyOverruns: atomic.LoadUint64(&m.strategyOverruns),
		EventLatency:     m.eventLatency.Snapshot(),
		RiskEvalLatency:  m.riskEvalLatency.Snapshot(),
		CallbackLatency:  m.callbackLatency.Snapshot(),
		AckLatency:       m.ackLatency.Snapshot(),
	}
}
