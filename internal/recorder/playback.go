package recorder

import (
	"context"
	"io"
	"time"

	"github.com/yanun0323/errors"

	"hft/internal/schema"
	"hft/pkg/backoff"
	"hft/pkg/exception"
)

// PlaybackConfig selects a recorded directory and how to pace it.
type PlaybackConfig struct {
	Dir             string
	FilePrefix      string
	Speed           float64 // 0 replays as fast as possible
	UseRecvTime     bool
	DisableChecksum bool
	MaxPayloadSize  int
}

func (c PlaybackConfig) withDefaults() PlaybackConfig {
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	return c
}

func (c PlaybackConfig) Validate() error {
	switch {
	case c.Dir == "":
		return errors.Wrap(exception.ErrConfigMissing, "playback: dir is empty")
	case c.Speed < 0:
		return errors.Wrap(exception.ErrConfigInvalidValue, "playback: negative speed")
	case c.MaxPayloadSize < 0:
		return errors.Wrap(exception.ErrConfigInvalidValue, "playback: negative max payload size")
	}
	return nil
}

// Clock sleeps between paced records.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type wallClock struct{}

func (wallClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return backoff.Sleep(ctx, d)
}

// Playback feeds every record in a directory to a handler, oldest first.
type Playback struct {
	cfg   PlaybackConfig
	clock Clock
}

func NewPlayback(cfg PlaybackConfig) (*Playback, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Playback{cfg: cfg, clock: wallClock{}}, nil
}

// WithClock swaps the clock used for pacing.
func (p *Playback) WithClock(clock Clock) *Playback {
	if clock != nil {
		p.clock = clock
	}
	return p
}

// Run stops at the end of the log, on the first handler error, or when ctx
// is done.
func (p *Playback) Run(ctx context.Context, handler func(schema.EventHeader, []byte) error) error {
	if handler == nil {
		return errors.Wrap(exception.ErrNilInstance, "playback handler")
	}
	cur, err := NewCursor(p.cfg)
	if err != nil {
		return err
	}
	defer cur.Close()

	var last int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, payload, err := cur.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := p.pace(ctx, header, &last); err != nil {
			return err
		}
		if err := handler(header, payload); err != nil {
			return err
		}
	}
}

// pace sleeps for the event-time gap to the previous record, scaled by Speed.
func (p *Playback) pace(ctx context.Context, header schema.EventHeader, last *int64) error {
	if p.cfg.Speed <= 0 {
		return nil
	}
	ts := header.TsEvent
	if p.cfg.UseRecvTime {
		ts = header.TsRecv
	}
	if ts <= 0 {
		return nil
	}
	prev := *last
	*last = ts
	if prev <= 0 || ts <= prev {
		return nil
	}
	return p.clock.Sleep(ctx, time.Duration(float64(ts-prev)/p.cfg.Speed))
}
