package risk

import (
	"time"

	"github.com/yanun0323/errors"

	"hft/internal/schema"
	"hft/pkg/exception"
)

const (
	defaultRateWindow     = time.Second
	defaultLiquidityDepth = 5
)

// Limits is one set of pre-trade limits. Zero disables a limit.
type Limits struct {
	MaxPosition          schema.Quantity `json:"maxPosition"`
	MaxPositionNotional  schema.Notional `json:"maxPositionNotional"`
	MaxOrderQty          schema.Quantity `json:"maxOrderQty"`
	MaxOrderNotional     schema.Notional `json:"maxOrderNotional"`
	MaxOrdersPerSecond   int             `json:"maxOrdersPerSecond"`
	RateWindow           time.Duration   `json:"rateWindow"`
	MaxDailyLoss         schema.Notional `json:"maxDailyLoss"`
	MaxGrossExposure     schema.Notional `json:"maxGrossExposure"`
	MinLiquidityScore    float64         `json:"minLiquidityScore"`
	LiquidityDepth       int             `json:"liquidityDepth"`
	MaxPriceDeviationBps int64           `json:"maxPriceDeviationBps"`
}

// Config is an immutable limit snapshot. Writers publish a new Config; the
// gate never mutates one in place.
type Config struct {
	Version          uint16                     `json:"version"`
	KillSwitch       bool                       `json:"killSwitch"`
	MaxGrossPosition schema.Quantity            `json:"maxGrossPosition"`
	Global           Limits                     `json:"global"`
	Symbols          map[schema.SymbolID]Limits `json:"symbols,omitempty"`
}

// For returns the effective limits for symbol: per-symbol values where set,
// global values otherwise.
func (c *Config) For(symbol schema.SymbolID) Limits {
	l := c.Global
	o, ok := c.Symbols[symbol]
	if !ok {
		return l.withDefaults()
	}
	if o.MaxPosition != 0 {
		l.MaxPosition = o.MaxPosition
	}
	if o.MaxPositionNotional != 0 {
		l.MaxPositionNotional = o.MaxPositionNotional
	}
	if o.MaxOrderQty != 0 {
		l.MaxOrderQty = o.MaxOrderQty
	}
	if o.MaxOrderNotional != 0 {
		l.MaxOrderNotional = o.MaxOrderNotional
	}
	if o.MaxOrdersPerSecond != 0 {
		l.MaxOrdersPerSecond = o.MaxOrdersPerSecond
	}
	if o.RateWindow != 0 {
		l.RateWindow = o.RateWindow
	}
	if o.MaxDailyLoss != 0 {
		l.MaxDailyLoss = o.MaxDailyLoss
	}
	if o.MaxGrossExposure != 0 {
		l.MaxGrossExposure = o.MaxGrossExposure
	}
	if o.MinLiquidityScore != 0 {
		l.MinLiquidityScore = o.MinLiquidityScore
	}
	if o.LiquidityDepth != 0 {
		l.LiquidityDepth = o.LiquidityDepth
	}
	if o.MaxPriceDeviationBps != 0 {
		l.MaxPriceDeviationBps = o.MaxPriceDeviationBps
	}
	return l.withDefaults()
}

// Clone returns a deep copy for copy-on-write updates.
func (c *Config) Clone() *Config {
	cp := *c
	if c.Symbols != nil {
		cp.Symbols = make(map[schema.SymbolID]Limits, len(c.Symbols))
		for k, v := range c.Symbols {
			cp.Symbols[k] = v
		}
	}
	return &cp
}

// Validate rejects negative limits.
func (c *Config) Validate() error {
	if c.MaxGrossPosition < 0 {
		return errors.Wrap(exception.ErrConfigInvalidValue, "risk: maxGrossPosition < 0")
	}
	if err := c.Global.validate(); err != nil {
		return errors.Wrap(err, "risk: global")
	}
	for symbol, l := range c.Symbols {
		if err := l.validate(); err != nil {
			return errors.Wrapf(err, "risk: symbol %d", symbol)
		}
	}
	return nil
}

func (l Limits) validate() error {
	switch {
	case l.MaxPosition < 0, l.MaxPositionNotional < 0, l.MaxOrderQty < 0, l.MaxOrderNotional < 0:
		return errors.Wrap(exception.ErrConfigInvalidValue, "negative size limit")
	case l.MaxOrdersPerSecond < 0, l.RateWindow < 0:
		return errors.Wrap(exception.ErrConfigInvalidValue, "negative rate limit")
	case l.MaxDailyLoss < 0, l.MaxGrossExposure < 0:
		return errors.Wrap(exception.ErrConfigInvalidValue, "negative loss or exposure limit")
	case l.MinLiquidityScore < 0, l.LiquidityDepth < 0, l.MaxPriceDeviationBps < 0:
		return errors.Wrap(exception.ErrConfigInvalidValue, "negative liquidity or deviation limit")
	}
	return nil
}

func (l Limits) withDefaults() Limits {
	if l.RateWindow == 0 {
		l.RateWindow = defaultRateWindow
	}
	if l.LiquidityDepth == 0 {
		l.LiquidityDepth = defaultLiquidityDepth
	}
	return l
}
