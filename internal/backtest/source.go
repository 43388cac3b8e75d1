package backtest

import (
	"io"

	"github.com/yanun0323/errors"

	"hft/internal/codec"
	"hft/internal/mdg"
	"hft/internal/recorder"
	"hft/internal/schema"
	"hft/pkg/exception"
)

// Source is a restartable, finite sequence of market events in
// non-decreasing timestamp order.
type Source interface {
	// Next returns the next event, or ok=false at the end.
	Next() (ev schema.MarketEvent, ok bool, err error)
	// Reset rewinds to the first event.
	Reset() error
}

// SliceSource replays events held in memory.
type SliceSource struct {
	events []schema.MarketEvent
	pos    int
}

func NewSliceSource(events []schema.MarketEvent) *SliceSource {
	return &SliceSource{events: events}
}

func (s *SliceSource) Next() (schema.MarketEvent, bool, error) {
	if s.pos >= len(s.events) {
		return schema.MarketEvent{}, false, nil
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, true, nil
}

func (s *SliceSource) Reset() error {
	s.pos = 0
	return nil
}

// WALSource reads market data records from recorded segment files and skips
// every other record type.
type WALSource struct {
	cursor *recorder.Cursor
	lastTs int64
}

// NewWALSource opens the segments under cfg.Dir.
func NewWALSource(cfg recorder.PlaybackConfig) (*WALSource, error) {
	cursor, err := recorder.NewCursor(cfg)
	if err != nil {
		return nil, err
	}
	return &WALSource{cursor: cursor}, nil
}

func (s *WALSource) Next() (schema.MarketEvent, bool, error) {
	for {
		header, payload, err := s.cursor.Next()
		if err == io.EOF {
			return schema.MarketEvent{}, false, nil
		}
		if err != nil {
			return schema.MarketEvent{}, false, err
		}
		if header.Type != schema.EventMarketData {
			continue
		}
		ev, ok := codec.DecodeMarketEvent(payload)
		if !ok {
			return schema.MarketEvent{}, false, errors.Wrapf(exception.ErrMalformedEvent, "market record seq %d", header.Seq)
		}
		if ev.Ts < s.lastTs {
			return schema.MarketEvent{}, false, errors.Wrapf(exception.ErrStaleSequence, "market record seq %d goes back in time", header.Seq)
		}
		s.lastTs = ev.Ts
		return ev, true, nil
	}
}

func (s *WALSource) Reset() error {
	s.cursor.Rewind()
	s.lastTs = 0
	return nil
}

// Close releases the open segment.
func (s *WALSource) Close() error {
	return s.cursor.Close()
}

// GeneratorSource takes the first n events of a seeded synthetic market.
type GeneratorSource struct {
	registry *schema.Registry
	cfg      mdg.Config
	n        int
	taken    int
	gen      *mdg.Generator
}

func NewGeneratorSource(registry *schema.Registry, cfg mdg.Config, n int) (*GeneratorSource, error) {
	if n <= 0 {
		return nil, errors.Wrapf(exception.ErrConfigInvalidValue, "generator events %d must be > 0", n)
	}
	s := &GeneratorSource{registry: registry, cfg: cfg, n: n}
	if err := s.Reset(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *GeneratorSource) Next() (schema.MarketEvent, bool, error) {
	if s.taken >= s.n {
		return schema.MarketEvent{}, false, nil
	}
	s.taken++
	return s.gen.Next(), true, nil
}

func (s *GeneratorSource) Reset() error {
	gen, err := mdg.NewGenerator(s.registry, s.cfg)
	if err != nil {
		return err
	}
	s.gen = gen
	s.taken = 0
	return nil
}
