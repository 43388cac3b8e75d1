package ingest

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"hft/internal/schema"
	"hft/pkg/exception"
	"hft/pkg/scanner"
)

// Operations sent to the feed server.
const (
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
	opSnapshot    = "snapshot"
)

// request is an outbound control frame.
type request struct {
	Op     string `json:"op"`
	Symbol string `json:"symbol"`
	ID     uint64 `json:"id"`
}

// message is one inbound frame. Prices and quantities are decimal strings.
//
//	{"type":"snapshot","symbol":"BTC-USD","seq":10,"ts":1,"bids":[["100.00","5"]],"asks":[["100.01","3"]]}
//	{"type":"delta","symbol":"BTC-USD","seq":11,"ts":2,"side":"buy","price":"100.00","qty":"0","depth":1}
//	{"type":"trade","symbol":"BTC-USD","ts":3,"side":"sell","price":"100.00","qty":"2"}
//	{"type":"status","symbol":"BTC-USD","ts":4,"status":"halted"}
type message struct {
	Type   string               `json:"type"`
	Symbol string               `json:"symbol"`
	Seq    uint64               `json:"seq"`
	Ts     int64                `json:"ts"`
	Side   string               `json:"side"`
	Price  decimal.Decimal      `json:"price"`
	Qty    decimal.Decimal      `json:"qty"`
	Depth  uint16               `json:"depth"`
	Status string               `json:"status"`
	Bids   [][2]decimal.Decimal `json:"bids"`
	Asks   [][2]decimal.Decimal `json:"asks"`
	Error  string               `json:"error"`
}

var priceScale = decimal.NewFromInt(schema.PriceScale)

// Normalizer turns venue frames into MarketEvents for registered symbols.
type Normalizer struct {
	registry *schema.Registry
}

func NewNormalizer(registry *schema.Registry) Normalizer {
	return Normalizer{registry: registry}
}

// Decode parses one frame. Control acknowledgements decode to ok == false
// with a nil error.
func (n Normalizer) Decode(data []byte) (schema.MarketEvent, bool, error) {
	if control(data) {
		return schema.MarketEvent{}, false, nil
	}
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return schema.MarketEvent{}, false, errors.Wrapf(exception.ErrMalformedEvent, "decode frame: %v", err)
	}
	switch msg.Type {
	case "ack", "pong", "":
		return schema.MarketEvent{}, false, nil
	case "error":
		return schema.MarketEvent{}, false, errors.Wrapf(exception.ErrWebSocketProtocol, "server error: %s", msg.Error)
	}

	id, ok := n.registry.SymbolIDByName(msg.Symbol)
	if !ok {
		return schema.MarketEvent{}, false, errors.Wrapf(exception.ErrUnknownSymbol, "feed symbol %q", msg.Symbol)
	}
	ev := schema.MarketEvent{SymbolID: id, Seq: msg.Seq, Ts: msg.Ts}

	var err error
	switch msg.Type {
	case "trade":
		ev.Kind = schema.MarketDataTrade
		ev.Side = parseSide(msg.Side)
		if ev.Price, err = toPrice(msg.Price); err != nil {
			return schema.MarketEvent{}, false, err
		}
		if ev.Qty, err = toQty(msg.Qty); err != nil {
			return schema.MarketEvent{}, false, err
		}
		if ev.Price <= 0 || ev.Qty <= 0 {
			return schema.MarketEvent{}, false, errors.Wrapf(exception.ErrMalformedEvent, "trade %s %s@%s", msg.Symbol, msg.Qty, msg.Price)
		}
	case "delta":
		ev.Kind = schema.MarketDataBookDelta
		ev.Depth = msg.Depth
		if ev.Side = parseSide(msg.Side); ev.Side == schema.OrderSideUnknown {
			return schema.MarketEvent{}, false, errors.Wrapf(exception.ErrMalformedEvent, "delta side %q", msg.Side)
		}
		if ev.Price, err = toPrice(msg.Price); err != nil {
			return schema.MarketEvent{}, false, err
		}
		if ev.Qty, err = toQty(msg.Qty); err != nil {
			return schema.MarketEvent{}, false, err
		}
	case "snapshot":
		ev.Kind = schema.MarketDataBookSnapshot
		if ev.Bids, err = toLevels(msg.Bids); err != nil {
			return schema.MarketEvent{}, false, err
		}
		if ev.Asks, err = toLevels(msg.Asks); err != nil {
			return schema.MarketEvent{}, false, err
		}
	case "status":
		ev.Kind = schema.MarketDataSessionStatus
		ev.Session = parseSession(msg.Status)
	default:
		return schema.MarketEvent{}, false, errors.Wrapf(exception.ErrMalformedEvent, "frame type %q", msg.Type)
	}
	return ev, true, nil
}

// control peeks at the frame type so heartbeats skip the full decode.
func control(data []byte) bool {
	typ, ok := scanner.String(data, "type")
	if !ok {
		return false
	}
	switch string(typ) {
	case "ack", "pong":
		return true
	}
	return false
}

func parseSide(s string) schema.OrderSide {
	switch strings.ToLower(s) {
	case "buy", "bid", "b":
		return schema.OrderSideBuy
	case "sell", "ask", "s":
		return schema.OrderSideSell
	default:
		return schema.OrderSideUnknown
	}
}

func parseSession(s string) schema.SessionState {
	switch strings.ToLower(s) {
	case "open", "trading":
		return schema.SessionOpen
	case "closed":
		return schema.SessionClosed
	case "halted", "halt":
		return schema.SessionHalted
	default:
		return schema.SessionUnknown
	}
}

func toPrice(d decimal.Decimal) (schema.Price, error) {
	s := d.Mul(priceScale)
	if !s.Equal(s.Truncate(0)) {
		return 0, errors.Wrapf(exception.ErrMalformedEvent, "price %s finer than scale", d)
	}
	if s.IsNegative() {
		return 0, errors.Wrapf(exception.ErrMalformedEvent, "price %s", d)
	}
	return schema.Price(s.IntPart()), nil
}

func toQty(d decimal.Decimal) (schema.Quantity, error) {
	if !d.Equal(d.Truncate(0)) || d.IsNegative() {
		return 0, errors.Wrapf(exception.ErrMalformedEvent, "quantity %s", d)
	}
	return schema.Quantity(d.IntPart()), nil
}

func toLevels(in [][2]decimal.Decimal) ([]schema.Level, error) {
	out := make([]schema.Level, 0, len(in))
	for _, pair := range in {
		p, err := toPrice(pair[0])
		if err != nil {
			return nil, err
		}
		q, err := toQty(pair[1])
		if err != nil {
			return nil, err
		}
		if p <= 0 || q <= 0 {
			return nil, errors.Wrapf(exception.ErrMalformedEvent, "level %s x %s", pair[0], pair[1])
		}
		out = append(out, schema.Level{Price: p, Qty: q, Count: 1})
	}
	return out, nil
}
