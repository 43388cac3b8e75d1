package codec

import (
	"encoding/binary"

	"hft/internal/schema"
)

const (
	OrderIntentPayloadSize     = 80
	OrderTransitionPayloadSize = 56
)

// EncodeOrderIntent serializes an order intent into a fixed-size payload.
func EncodeOrderIntent(dst []byte, intent schema.OrderIntent) []byte {
	if cap(dst) < OrderIntentPayloadSize {
		dst = make([]byte, OrderIntentPayloadSize)
	} else {
		dst = dst[:OrderIntentPayloadSize]
	}

	binary.LittleEndian.PutUint64(dst[0:8], intent.IntentID)
	binary.LittleEndian.PutUint64(dst[8:16], intent.TargetID)
	binary.LittleEndian.PutUint32(dst[16:20], intent.StrategyID)
	binary.LittleEndian.PutUint32(dst[20:24], uint32(intent.SymbolID))
	binary.LittleEndian.PutUint16(dst[24:26], uint16(intent.Action))
	binary.LittleEndian.PutUint16(dst[26:28], uint16(intent.Side))
	binary.LittleEndian.PutUint16(dst[28:30], uint16(intent.Type))
	binary.LittleEndian.PutUint16(dst[30:32], uint16(intent.TimeInForce))
	binary.LittleEndian.PutUint16(dst[32:34], intent.Flags)
	binary.LittleEndian.PutUint16(dst[34:36], 0)
	binary.LittleEndian.PutUint32(dst[36:40], 0)
	binary.LittleEndian.PutUint64(dst[40:48], uint64(intent.Price))
	binary.LittleEndian.PutUint64(dst[48:56], uint64(intent.StopPrice))
	binary.LittleEndian.PutUint64(dst[56:64], uint64(intent.Qty))
	binary.LittleEndian.PutUint64(dst[64:72], uint64(intent.CreatedAt))
	binary.LittleEndian.PutUint64(dst[72:80], 0)

	return dst
}

// DecodeOrderIntent parses a fixed-size order intent payload.
func DecodeOrderIntent(src []byte) (schema.OrderIntent, bool) {
	if len(src) < OrderIntentPayloadSize {
		return schema.OrderIntent{}, false
	}
	return schema.OrderIntent{
		IntentID:    binary.LittleEndian.Uint64(src[0:8]),
		TargetID:    binary.LittleEndian.Uint64(src[8:16]),
		StrategyID:  binary.LittleEndian.Uint32(src[16:20]),
		SymbolID:    schema.SymbolID(binary.LittleEndian.Uint32(src[20:24])),
		Action:      schema.IntentAction(binary.LittleEndian.Uint16(src[24:26])),
		Side:        schema.OrderSide(binary.LittleEndian.Uint16(src[26:28])),
		Type:        schema.OrderType(binary.LittleEndian.Uint16(src[28:30])),
		TimeInForce: schema.TimeInForce(binary.LittleEndian.Uint16(src[30:32])),
		Flags:       binary.LittleEndian.Uint16(src[32:34]),
		Price:       schema.Price(int64(binary.LittleEndian.Uint64(src[40:48]))),
		StopPrice:   schema.Price(int64(binary.LittleEndian.Uint64(src[48:56]))),
		Qty:         schema.Quantity(int64(binary.LittleEndian.Uint64(src[56:64]))),
		CreatedAt:   int64(binary.LittleEndian.Uint64(src[64:72])),
	}, true
}

// EncodeOrderTransition serializes an order state change into a fixed-size payload.
func EncodeOrderTransition(dst []byte, tr schema.OrderTransition) []byte {
	if cap(dst) < OrderTransitionPayloadSize {
		dst = make([]byte, OrderTransitionPayloadSize)
	} else {
		dst = dst[:OrderTransitionPayloadSize]
	}

	binary.LittleEndian.PutUint64(dst[0:8], tr.OrderID)
	binary.LittleEndian.PutUint64(dst[8:16], tr.VenueID)
	binary.LittleEndian.PutUint32(dst[16:20], tr.StrategyID)
	binary.LittleEndian.PutUint32(dst[20:24], uint32(tr.SymbolID))
	binary.LittleEndian.PutUint16(dst[24:26], uint16(tr.From))
	binary.LittleEndian.PutUint16(dst[26:28], uint16(tr.To))
	binary.LittleEndian.PutUint16(dst[28:30], tr.Reason)
	binary.LittleEndian.PutUint16(dst[30:32], tr.Flags)
	binary.LittleEndian.PutUint64(dst[32:40], uint64(tr.FilledQty))
	binary.LittleEndian.PutUint64(dst[40:48], uint64(tr.Ts))
	binary.LittleEndian.PutUint64(dst[48:56], 0)

	return dst
}

// DecodeOrderTransition parses a fixed-size order transition payload.
func DecodeOrderTransition(src []byte) (schema.OrderTransition, bool) {
	if len(src) < OrderTransitionPayloadSize {
		return schema.OrderTransition{}, false
	}
	return schema.OrderTransition{
		OrderID:    binary.LittleEndian.Uint64(src[0:8]),
		VenueID:    binary.LittleEndian.Uint64(src[8:16]),
		StrategyID: binary.LittleEndian.Uint32(src[16:20]),
		SymbolID:   schema.SymbolID(binary.LittleEndian.Uint32(src[20:24])),
		From:       schema.OrderState(binary.LittleEndian.Uint16(src[24:26])),
		To:         schema.OrderState(binary.LittleEndian.Uint16(src[26:28])),
		Reason:     binary.LittleEndian.Uint16(src[28:30]),
		Flags:      binary.LittleEndian.Uint16(src[30:32]),
		FilledQty:  schema.Quantity(int64(binary.LittleEndian.Uint64(src[32:40]))),
		Ts:         int64(binary.LittleEndian.Uint64(src[40:48])),
	}, true
}
