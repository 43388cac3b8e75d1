package marketdata

import (
	"context"

	"hft/internal/bus"
	"hft/internal/obs"
	"hft/internal/schema"
)

// Inbound is the feed-side handoff into the event loop queue. Above the high
// watermark it sheds deltas deeper than KeepDepth; trades, snapshots, status
// and top-level deltas always wait for room.
type Inbound struct {
	queue     *bus.Queue[schema.MarketEvent]
	highWater int
	keepDepth uint16
	metrics   *obs.Metrics
}

// NewInbound wraps queue. highWater <= 0 means 80% of capacity.
func NewInbound(queue *bus.Queue[schema.MarketEvent], highWater int, keepDepth uint16, metrics *obs.Metrics) *Inbound {
	if highWater <= 0 || highWater > queue.Cap() {
		highWater = queue.Cap() * 8 / 10
	}
	if keepDepth == 0 {
		keepDepth = 1
	}
	return &Inbound{queue: queue, highWater: highWater, keepDepth: keepDepth, metrics: metrics}
}

// Offer hands ev to the loop. It reports false when ev was shed.
func (in *Inbound) Offer(ctx context.Context, ev schema.MarketEvent) (bool, error) {
	if ev.Essential(in.keepDepth) {
		if err := in.queue.Publish(ctx, ev); err != nil {
			return false, err
		}
		return true, nil
	}
	if in.queue.Len() >= in.highWater {
		in.metrics.IncMarketDataDrop()
		return false, nil
	}
	if err := in.queue.TryPublish(ev); err != nil {
		if err == bus.ErrQueueFull {
			in.metrics.IncMarketDataDrop()
			return false, nil
		}
		return false, err
	}
	return true, nil
}
