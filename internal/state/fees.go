package state

import (
	"github.com/shopspring/decimal"

	"hft/internal/schema"
)

var bpsDivisor = decimal.NewFromInt(10_000)

// FeeModel prices a fill. Negative fees are rebates.
type FeeModel interface {
	Fee(inst schema.Instrument, liq schema.Liquidity, price schema.Price, qty schema.Quantity) schema.Fee
}

// NoFees charges nothing.
type NoFees struct{}

func (NoFees) Fee(schema.Instrument, schema.Liquidity, schema.Price, schema.Quantity) schema.Fee {
	return 0
}

// FlatBps charges a rate in basis points of notional, rounded half away from zero.
type FlatBps struct {
	MakerBps decimal.Decimal
	TakerBps decimal.Decimal
}

// NewFlatBps builds a model from a commission rate expressed as a fraction
// of notional, e.g. 0.0005 for 5 bps on both sides.
func NewFlatBps(rate decimal.Decimal) FlatBps {
	bps := rate.Mul(bpsDivisor)
	return FlatBps{MakerBps: bps, TakerBps: bps}
}

func (f FlatBps) Fee(_ schema.Instrument, liq schema.Liquidity, price schema.Price, qty schema.Quantity) schema.Fee {
	bps := f.TakerBps
	if liq == schema.LiquidityMaker {
		bps = f.MakerBps
	}
	if bps.IsZero() {
		return 0
	}
	notional := decimal.NewFromInt(int64(price)).Mul(decimal.NewFromInt(int64(qty)))
	return schema.Fee(notional.Mul(bps).Div(bpsDivisor).Round(0).IntPart())
}

// PerVenue selects a model by the instrument's venue.
type PerVenue struct {
	Venues  map[schema.VenueID]FeeModel
	Default FeeModel
}

func (p PerVenue) Fee(inst schema.Instrument, liq schema.Liquidity, price schema.Price, qty schema.Quantity) schema.Fee {
	if m, ok := p.Venues[inst.VenueID]; ok && m != nil {
		return m.Fee(inst, liq, price, qty)
	}
	if p.Default != nil {
		return p.Default.Fee(inst, liq, price, qty)
	}
	return 0
}
