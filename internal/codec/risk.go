package codec

import (
	"encoding/binary"

	"hft/internal/schema"
)

// RiskDecisionPayloadSize covers the verdict and the limits it was judged
// against, so a log reader can explain a rejection without the config.
const RiskDecisionPayloadSize = 72

func EncodeRiskDecision(dst []byte, d schema.RiskDecision) []byte {
	le := binary.LittleEndian
	b := reuse(dst, RiskDecisionPayloadSize)
	b = le.AppendUint64(b, d.IntentID)
	b = le.AppendUint32(b, d.StrategyID)
	b = le.AppendUint32(b, uint32(d.SymbolID))
	b = le.AppendUint16(b, uint16(d.Action))
	b = le.AppendUint16(b, uint16(d.Reason))
	b = le.AppendUint16(b, d.Flags)
	b = le.AppendUint16(b, d.Version)
	for _, v := range [...]int64{
		int64(d.ProposedQty),
		int64(d.ProposedPrice),
		int64(d.CurrentPos),
		int64(d.MaxPos),
		int64(d.MaxNotional),
		d.Ts,
	} {
		b = le.AppendUint64(b, uint64(v))
	}
	return b
}

func DecodeRiskDecision(src []byte) (schema.RiskDecision, bool) {
	if len(src) < RiskDecisionPayloadSize {
		return schema.RiskDecision{}, false
	}
	w := wire{b: src}
	return schema.RiskDecision{
		IntentID:      w.u64(),
		StrategyID:    w.u32(),
		SymbolID:      schema.SymbolID(w.u32()),
		Action:        schema.RiskAction(w.u16()),
		Reason:        schema.RiskReason(w.u16()),
		Flags:         w.u16(),
		Version:       w.u16(),
		ProposedQty:   schema.Quantity(w.i64()),
		ProposedPrice: schema.Price(w.i64()),
		CurrentPos:    schema.Quantity(w.i64()),
		MaxPos:        schema.Quantity(w.i64()),
		MaxNotional:   schema.Notional(w.i64()),
		Ts:            w.i64(),
	}, true
}
