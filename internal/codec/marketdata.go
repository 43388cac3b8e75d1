package codec

import (
	"encoding/binary"

	"hft/internal/schema"
)

const (
	marketEventFixedSize = 56
	levelSize            = 20
)

// MarketEventPayloadSize returns the encoded size of ev.
func MarketEventPayloadSize(ev schema.MarketEvent) int {
	return marketEventFixedSize + (len(ev.Bids)+len(ev.Asks))*levelSize
}

// EncodeMarketEvent serializes a market event. Snapshot ladders follow the
// fixed part as two counted runs of levels.
func EncodeMarketEvent(dst []byte, ev schema.MarketEvent) []byte {
	size := MarketEventPayloadSize(ev)
	if cap(dst) < size {
		dst = make([]byte, size)
	} else {
		dst = dst[:size]
	}

	binary.LittleEndian.PutUint32(dst[0:4], uint32(ev.SymbolID))
	binary.LittleEndian.PutUint16(dst[4:6], uint16(ev.Kind))
	binary.LittleEndian.PutUint16(dst[6:8], uint16(ev.Side))
	binary.LittleEndian.PutUint16(dst[8:10], uint16(ev.Session))
	binary.LittleEndian.PutUint16(dst[10:12], ev.Depth)
	binary.LittleEndian.PutUint16(dst[12:14], ev.Flags)
	binary.LittleEndian.PutUint16(dst[14:16], 0)
	binary.LittleEndian.PutUint64(dst[16:24], uint64(ev.Price))
	binary.LittleEndian.PutUint64(dst[24:32], uint64(ev.Qty))
	binary.LittleEndian.PutUint64(dst[32:40], ev.Seq)
	binary.LittleEndian.PutUint64(dst[40:48], uint64(ev.Ts))
	binary.LittleEndian.PutUint32(dst[48:52], uint32(len(ev.Bids)))
	binary.LittleEndian.PutUint32(dst[52:56], uint32(len(ev.Asks)))

	off := putLevels(dst, marketEventFixedSize, ev.Bids)
	putLevels(dst, off, ev.Asks)
	return dst
}

func putLevels(dst []byte, off int, levels []schema.Level) int {
	for _, lvl := range levels {
		binary.LittleEndian.PutUint64(dst[off:off+8], uint64(lvl.Price))
		binary.LittleEndian.PutUint64(dst[off+8:off+16], uint64(lvl.Qty))
		binary.LittleEndian.PutUint32(dst[off+16:off+20], lvl.Count)
		off += levelSize
	}
	return off
}

// DecodeMarketEvent parses a market event payload.
func DecodeMarketEvent(src []byte) (schema.MarketEvent, bool) {
	if len(src) < marketEventFixedSize {
		return schema.MarketEvent{}, false
	}
	bids := uint64(binary.LittleEndian.Uint32(src[48:52]))
	asks := uint64(binary.LittleEndian.Uint32(src[52:56]))
	if uint64(len(src)) < uint64(marketEventFixedSize)+(bids+asks)*levelSize {
		return schema.MarketEvent{}, false
	}
	ev := schema.MarketEvent{
		SymbolID: schema.SymbolID(binary.LittleEndian.Uint32(src[0:4])),
		Kind:     schema.MarketDataKind(binary.LittleEndian.Uint16(src[4:6])),
		Side:     schema.OrderSide(binary.LittleEndian.Uint16(src[6:8])),
		Session:  schema.SessionState(binary.LittleEndian.Uint16(src[8:10])),
		Depth:    binary.LittleEndian.Uint16(src[10:12]),
		Flags:    binary.LittleEndian.Uint16(src[12:14]),
		Price:    schema.Price(int64(binary.LittleEndian.Uint64(src[16:24]))),
		Qty:      schema.Quantity(int64(binary.LittleEndian.Uint64(src[24:32]))),
		Seq:      binary.LittleEndian.Uint64(src[32:40]),
		Ts:       int64(binary.LittleEndian.Uint64(src[40:48])),
	}
	off := marketEventFixedSize
	ev.Bids, off = getLevels(src, off, int(bids))
	ev.Asks, _ = getLevels(src, off, int(asks))
	return ev, true
}

func getLevels(src []byte, off int, n int) ([]schema.Level, int) {
	if n == 0 {
		return nil, off
	}
	out := make([]schema.Level, n)
	for i := range out {
		out[i] = schema.Level{
			Price: schema.Price(int64(binary.LittleEndian.Uint64(src[off : off+8]))),
			Qty:   schema.Quantity(int64(binary.LittleEndian.Uint64(src[off+8 : off+16]))),
			Count: binary.LittleEndian.Uint32(src[off+16 : off+20]),
		}
		off += levelSize
	}
	return out, off
}
