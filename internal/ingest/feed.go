// Package ingest is the websocket market-data client. It keeps the desired
// subscription set, normalizes frames into MarketEvents and hands them to the
// event loop through a marketdata.Inbound. Every reconnect resubscribes, and
// the server answers each subscribe with a snapshot, so a dropped connection
// heals the books without router involvement.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	yerrors "github.com/yanun0323/errors"

	"hft/internal/env"
	"hft/internal/schema"
	"hft/pkg/backoff"
	"hft/pkg/exception"
)

// Sink receives normalized events. marketdata.Inbound implements it.
type Sink interface {
	Offer(ctx context.Context, ev schema.MarketEvent) (bool, error)
}

// Config tunes the connection.
type Config struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	Backoff          backoff.Backoff
	// MaxAttempts bounds consecutive failed dials; zero retries forever.
	MaxAttempts int
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 10 * time.Second
	}
	if c.Backoff == (backoff.Backoff{}) {
		c.Backoff = backoff.Default()
	}
	return c
}

// Stats counts feed activity.
type Stats struct {
	Connects  uint64 `json:"connects"`
	Frames    uint64 `json:"frames"`
	Events    uint64 `json:"events"`
	Malformed uint64 `json:"malformed"`
	Shed      uint64 `json:"shed"`
}

// Feed implements marketdata.Feed over a websocket.
type Feed struct {
	rt       env.Runtime
	log      zerolog.Logger
	cfg      Config
	registry *schema.Registry
	norm     Normalizer
	sink     Sink

	mu      sync.Mutex
	symbols map[schema.SymbolID]bool
	conn    *websocket.Conn
	writeMu sync.Mutex
	reqID   uint64

	connects  atomic.Uint64
	frames    atomic.Uint64
	events    atomic.Uint64
	malformed atomic.Uint64
	shed      atomic.Uint64
}

// New creates a feed. Nothing is dialed until Run.
func New(rt env.Runtime, registry *schema.Registry, sink Sink, cfg Config) (*Feed, error) {
	if cfg.URL == "" {
		return nil, yerrors.Wrap(exception.ErrConfigMissing, "feed url")
	}
	return &Feed{
		rt:       rt,
		log:      rt.Logger("ingest"),
		cfg:      cfg.withDefaults(),
		registry: registry,
		norm:     NewNormalizer(registry),
		sink:     sink,
		symbols:  make(map[schema.SymbolID]bool),
	}, nil
}

// Subscribe adds symbol to the desired set and, when connected, asks the
// server for it.
func (f *Feed) Subscribe(symbol schema.SymbolID) error {
	name, err := f.name(symbol)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.symbols[symbol] = true
	f.mu.Unlock()
	return f.send(opSubscribe, name)
}

// Unsubscribe removes symbol from the desired set.
func (f *Feed) Unsubscribe(symbol schema.SymbolID) error {
	name, err := f.name(symbol)
	if err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.symbols, symbol)
	f.mu.Unlock()
	return f.send(opUnsubscribe, name)
}

// RequestSnapshot asks for a full book. While disconnected the request is
// dropped; the resubscribe on reconnect brings a snapshot anyway.
func (f *Feed) RequestSnapshot(symbol schema.SymbolID) error {
	name, err := f.name(symbol)
	if err != nil {
		return err
	}
	return f.send(opSnapshot, name)
}

// Stats returns the counters.
func (f *Feed) Stats() Stats {
	return Stats{
		Connects:  f.connects.Load(),
		Frames:    f.frames.Load(),
		Events:    f.events.Load(),
		Malformed: f.malformed.Load(),
		Shed:      f.shed.Load(),
	}
}

// Run connects, reads and reconnects with backoff until ctx is done. It
// returns ErrFeedUnavailable once MaxAttempts consecutive dials fail.
func (f *Feed) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := f.dial(ctx)
		if err != nil {
			attempt++
			f.log.Warn().Err(err).Int("attempt", attempt).Str("url", f.cfg.URL).Msg("feed dial failed")
			if f.cfg.MaxAttempts > 0 && attempt >= f.cfg.MaxAttempts {
				return yerrors.Wrapf(exception.ErrFeedUnavailable, "%s after %d attempts: %v", f.cfg.URL, attempt, err)
			}
			if backoff.Sleep(ctx, f.cfg.Backoff.Next(attempt)) != nil {
				return nil
			}
			continue
		}
		attempt = 0
		f.connects.Add(1)

		err = f.serve(ctx, conn)
		f.detach(conn)
		if ctx.Err() != nil {
			return nil
		}
		f.rt.Reporter.Report(f.rt.Now(), yerrors.Wrapf(exception.ErrWebSocketConnectionClose, "%s: %v", f.cfg.URL, err), map[string]any{"component": "ingest"})
	}
}

func (f *Feed) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: f.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, f.cfg.Header)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.conn = conn
	names := make([]string, 0, len(f.symbols))
	for id := range f.symbols {
		names = append(names, f.registry.SymbolName(id))
	}
	f.mu.Unlock()

	for _, name := range names {
		if err := f.send(opSubscribe, name); err != nil {
			f.detach(conn)
			return nil, err
		}
	}
	f.log.Info().Str("url", f.cfg.URL).Int("symbols", len(names)).Msg("feed connected")
	return conn, nil
}

func (f *Feed) serve(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	go f.ping(conn, done)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	})
	for {
		if err := conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout)); err != nil {
			return err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.frames.Add(1)
		if err := f.handle(ctx, data); err != nil {
			return err
		}
	}
}

func (f *Feed) handle(ctx context.Context, data []byte) error {
	ev, ok, err := f.norm.Decode(data)
	if err != nil {
		if errors.Is(err, exception.ErrWebSocketProtocol) {
			f.log.Warn().Err(err).Msg("feed server error")
			return nil
		}
		f.malformed.Add(1)
		f.rt.Reporter.Report(f.rt.Now(), err, map[string]any{"component": "ingest"})
		return nil
	}
	if !ok {
		return nil
	}
	if ev.Ts == 0 {
		ev.Ts = f.rt.Now()
	}
	accepted, err := f.sink.Offer(ctx, ev)
	if err != nil {
		return err
	}
	if !accepted {
		f.shed.Add(1)
		return nil
	}
	f.events.Add(1)
	return nil
}

func (f *Feed) ping(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			f.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(f.cfg.WriteTimeout))
			f.writeMu.Unlock()
			if err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (f *Feed) send(op, symbol string) error {
	f.mu.Lock()
	conn := f.conn
	f.reqID++
	req := request{Op: op, Symbol: symbol, ID: f.reqID}
	f.mu.Unlock()
	if conn == nil {
		return nil
	}

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(f.cfg.WriteTimeout)); err != nil {
		return yerrors.Wrapf(exception.ErrWebSocketConnectionClose, "%s %s: %v", op, symbol, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return yerrors.Wrapf(exception.ErrWebSocketConnectionClose, "%s %s: %v", op, symbol, err)
	}
	return nil
}

func (f *Feed) detach(conn *websocket.Conn) {
	f.mu.Lock()
	if f.conn == conn {
		f.conn = nil
	}
	f.mu.Unlock()
	_ = conn.Close()
}

func (f *Feed) name(symbol schema.SymbolID) (string, error) {
	name := f.registry.SymbolName(symbol)
	if name == "" {
		return "", yerrors.Wrapf(exception.ErrUnknownSymbol, "symbol %d", symbol)
	}
	return name, nil
}
