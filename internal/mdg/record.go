package mdg

import (
	"context"
	"errors"
	"time"

	yerrors "github.com/yanun0323/errors"

	"hft/internal/codec"
	"hft/internal/recorder"
	"hft/internal/schema"
)

// Record appends n generated events to sink as market data records and
// returns how many were written. A full writer queue is retried until ctx
// is done.
func Record(ctx context.Context, g *Generator, sink recorder.Sink, source uint16, n int) (int, error) {
	for i := 0; i < n; i++ {
		ev := g.Next()
		header := schema.NewHeader(schema.EventMarketData, source, uint64(i+1), ev.Ts, ev.Ts)
		payload := codec.EncodeMarketEvent(nil, ev)
		for {
			err := sink.Append(header, payload)
			if err == nil {
				break
			}
			if !errors.Is(err, recorder.ErrQueueFull) {
				return i, yerrors.Wrapf(err, "append event %d", i+1)
			}
			select {
			case <-ctx.Done():
				return i, ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}
	}
	return n, nil
}
