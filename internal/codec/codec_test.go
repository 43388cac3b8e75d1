package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"hft/internal/schema"
)

func TestMarketEventSnapshotLadders(t *testing.T) {
	orig := schema.MarketEvent{
		SymbolID: 7,
		Kind:     schema.MarketDataBookSnapshot,
		Seq:      42,
		Ts:       1_700_000_000_000_000_000,
		Bids: []schema.Level{
			{Price: 99_000_000, Qty: 10, Count: 2},
			{Price: 98_000_000, Qty: 4, Count: 1},
		},
		Asks: []schema.Level{
			{Price: 100_000_000, Qty: 5, Count: 1},
		},
	}

	encoded := EncodeMarketEvent(nil, orig)
	if len(encoded) != MarketEventPayloadSize(orig) {
		t.Fatalf("size mismatch: got %d want %d", len(encoded), MarketEventPayloadSize(orig))
	}
	decoded, ok := DecodeMarketEvent(encoded)
	require.True(t, ok)
	require.Equal(t, orig, decoded)

	_, ok = DecodeMarketEvent(encoded[:len(encoded)-1])
	require.False(t, ok, "truncated ladder must not decode")
}

func TestMarketEventDeltaHasNoLadders(t *testing.T) {
	orig := schema.MarketEvent{
		SymbolID: 1,
		Kind:     schema.MarketDataBookDelta,
		Side:     schema.OrderSideSell,
		Depth:    3,
		Price:    101_000_000,
		Qty:      0,
		Seq:      43,
		Ts:       5,
	}
	decoded, ok := DecodeMarketEvent(EncodeMarketEvent(nil, orig))
	require.True(t, ok)
	require.Equal(t, orig, decoded)
	require.Nil(t, decoded.Bids)
}

func TestFixedPayloadsReuseBuffer(t *testing.T) {
	buf := make([]byte, 0, 128)
	fill := schema.Fill{OrderID: 1, ExecID: 2, SymbolID: 3, Side: schema.OrderSideBuy, Liquidity: schema.LiquidityTaker, Price: 100, Qty: 5, Fee: -1, Ts: 9}
	out := EncodeFill(buf, fill)
	if &out[0] != &buf[:1][0] {
		t.Fatalf("encode did not reuse destination buffer")
	}
	got, ok := DecodeFill(out)
	require.True(t, ok)
	require.Equal(t, fill, got)

	intent := schema.OrderIntent{IntentID: 11, TargetID: 10, StrategyID: 2, SymbolID: 3, Action: schema.IntentActionModify, Side: schema.OrderSideSell, Type: schema.OrderTypeStopLimit, TimeInForce: schema.TimeInForceGTC, Price: 99, StopPrice: 100, Qty: 4, CreatedAt: 77}
	gotIntent, ok := DecodeOrderIntent(EncodeOrderIntent(nil, intent))
	require.True(t, ok)
	require.Equal(t, intent, gotIntent)

	tr := schema.OrderTransition{OrderID: 11, VenueID: 900, StrategyID: 2, SymbolID: 3, From: schema.OrderStateAcked, To: schema.OrderStatePartiallyFilled, FilledQty: 2, Ts: 78}
	gotTr, ok := DecodeOrderTransition(EncodeOrderTransition(nil, tr))
	require.True(t, ok)
	require.Equal(t, tr, gotTr)

	dec := schema.RiskDecision{IntentID: 11, StrategyID: 2, SymbolID: 3, Action: schema.RiskActionDeny, Reason: schema.RiskReasonDailyLoss, ProposedQty: 4, ProposedPrice: 99, Ts: 79}
	gotDec, ok := DecodeRiskDecision(EncodeRiskDecision(nil, dec))
	require.True(t, ok)
	require.Equal(t, dec, gotDec)
}
