package codec

import (
	"encoding/binary"

	"hft/internal/schema"
)

// FillPayloadSize is fixed; the last eight bytes are reserved.
const FillPayloadSize = 64

// EncodeFill writes fill into dst, reusing its storage when large enough.
func EncodeFill(dst []byte, fill schema.Fill) []byte {
	le := binary.LittleEndian
	b := reuse(dst, FillPayloadSize)
	b = le.AppendUint64(b, fill.OrderID)
	b = le.AppendUint64(b, fill.ExecID)
	b = le.AppendUint32(b, uint32(fill.SymbolID))
	b = le.AppendUint16(b, uint16(fill.Side))
	b = le.AppendUint16(b, uint16(fill.Liquidity))
	b = le.AppendUint64(b, uint64(fill.Price))
	b = le.AppendUint64(b, uint64(fill.Qty))
	b = le.AppendUint64(b, uint64(fill.Fee))
	b = le.AppendUint64(b, uint64(fill.Ts))
	return le.AppendUint64(b, 0)
}

func DecodeFill(src []byte) (schema.Fill, bool) {
	if len(src) < FillPayloadSize {
		return schema.Fill{}, false
	}
	w := wire{b: src}
	return schema.Fill{
		OrderID:   w.u64(),
		ExecID:    w.u64(),
		SymbolID:  schema.SymbolID(w.u32()),
		Side:      schema.OrderSide(w.u16()),
		Liquidity: schema.Liquidity(w.u16()),
		Price:     schema.Price(w.i64()),
		Qty:       schema.Quantity(w.i64()),
		Fee:       schema.Fee(w.i64()),
		Ts:        w.i64(),
	}, true
}
