// Package ops loads the process configuration. A single document, JSON or
// YAML by extension, is resolved into the registry, the risk limits, the
// strategy specs and the settings of each runtime component.
package ops

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"hft/internal/backtest"
	"hft/internal/core"
	"hft/internal/mdg"
	"hft/internal/obs"
	"hft/internal/og"
	"hft/internal/risk"
	"hft/internal/schema"
	"hft/internal/state"
	"hft/internal/strategy"
	"hft/pkg/backoff"
	"hft/pkg/exception"
)

// Instrument bounds used when the document leaves them out.
const (
	defaultMaxPrice = schema.Price(10_000_000 * schema.PriceScale)
	defaultMaxQty   = schema.Quantity(1_000_000)
)

// Format is a config encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatOf picks the encoding from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", errors.Wrapf(exception.ErrConfigMalformed, "unsupported config extension %q", filepath.Ext(path))
	}
}

// Execution is the resolved venue connection.
type Execution struct {
	Endpoint string
	// Credentials is the resolved secret. It is never logged or serialized.
	Credentials string `json:"-"`
	Worker      og.WorkerOptions
}

// Backtest is the resolved backtest section.
type Backtest struct {
	DataPath       string
	Events         int
	Seed           string
	Horizon        time.Duration
	InitialCapital decimal.Decimal
	Sim            backtest.SimConfig
	Generator      mdg.Config
}

// Persistence locates the event log, checkpoints and the optional journal.
type Persistence struct {
	WALDir             string
	CheckpointDir      string
	CheckpointInterval time.Duration
	CheckpointKeep     int
	PostgresDSN        string
}

// Loaded is the configuration ready for use.
type Loaded struct {
	Path        string
	Registry    *schema.Registry
	Risk        *risk.Config
	Strategies  []strategy.Spec
	Engine      core.Config
	Execution   Execution
	Backtest    Backtest
	Logging     obs.LogConfig
	Persistence Persistence
	StatusAddr  string
}

// BacktestConfig assembles the driver config.
func (l *Loaded) BacktestConfig() backtest.Config {
	return backtest.Config{
		Engine:         l.Engine,
		Risk:           l.Risk,
		Strategies:     l.Strategies,
		Sim:            l.Backtest.Sim,
		InitialCapital: l.Backtest.InitialCapital,
		Seed:           l.Backtest.Seed,
		Horizon:        l.Backtest.Horizon,
	}
}

// Load reads path, applies environment overrides and resolves the result.
// factory validates strategy specs; nil uses the bundled strategies.
func Load(path string, factory *strategy.Factory) (*Loaded, error) {
	f, err := Read(path)
	if err != nil {
		return nil, err
	}
	ApplyEnv(&f, os.Getenv)
	loaded, err := f.Resolve(factory, os.Getenv)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	loaded.Path = path
	return loaded, nil
}

// Read decodes path without resolving it.
func Read(path string) (File, error) {
	format, err := FormatOf(path)
	if err != nil {
		return File{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return File{}, errors.Wrapf(exception.ErrConfigMissing, "config %s", path)
		}
		return File{}, errors.Wrapf(exception.ErrConfigMissing, "read config %s: %v", path, err)
	}
	return Parse(data, format)
}

// Parse decodes a document. Unknown keys are errors.
func Parse(data []byte, format Format) (File, error) {
	var f File
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return File{}, errors.Wrapf(exception.ErrConfigMalformed, "json: %v", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return File{}, errors.Wrapf(exception.ErrConfigMalformed, "yaml: %v", err)
		}
	default:
		return File{}, errors.Wrapf(exception.ErrConfigMalformed, "unsupported format %q", format)
	}
	return f, nil
}

// Resolve validates f and converts it into runtime types. getenv resolves the
// credentials handle.
func (f File) Resolve(factory *strategy.Factory, getenv func(string) string) (*Loaded, error) {
	if len(f.Instruments) == 0 {
		return nil, errors.Wrap(exception.ErrConfigMissing, "instruments is empty")
	}
	if factory == nil {
		factory = strategy.DefaultFactory()
	}
	if getenv == nil {
		getenv = func(string) string { return "" }
	}

	registry, err := buildRegistry(f.Instruments)
	if err != nil {
		return nil, err
	}
	riskCfg, err := f.RiskLimits.resolve(registry)
	if err != nil {
		return nil, errors.Wrap(err, "risk_limits")
	}
	specs, err := resolveStrategies(f.Strategies, registry, factory)
	if err != nil {
		return nil, err
	}
	exec, err := f.Execution.resolve(getenv)
	if err != nil {
		return nil, errors.Wrap(err, "execution")
	}
	bt, err := f.Backtest.resolve(registry)
	if err != nil {
		return nil, errors.Wrap(err, "backtest")
	}

	return &Loaded{
		Registry:   registry,
		Risk:       riskCfg,
		Strategies: specs,
		Engine:     f.engine(),
		Execution:  exec,
		Backtest:   bt,
		Logging:    obs.LogConfig{Level: f.Logging.Level, Sink: f.Logging.Sink, Format: f.Logging.Format},
		Persistence: Persistence{
			WALDir:             f.Persistence.WALDir,
			CheckpointDir:      f.Persistence.CheckpointDir,
			CheckpointInterval: f.Persistence.CheckpointInterval.Std(),
			CheckpointKeep:     f.Persistence.CheckpointKeep,
			PostgresDSN:        f.Persistence.PostgresDSN,
		},
		StatusAddr: f.Status.Addr,
	}, nil
}

func buildRegistry(list []InstrumentConfig) (*schema.Registry, error) {
	reg := schema.NewRegistry()
	for _, ic := range list {
		if ic.Venue == "" {
			return nil, errors.Wrapf(exception.ErrConfigInvalidValue, "instrument %q has no venue", ic.Symbol)
		}
		if _, ok := reg.VenueIDByName(ic.Venue); !ok {
			if _, err := reg.AddVenue(ic.Venue); err != nil {
				return nil, err
			}
		}
	}
	for _, ic := range list {
		inst, err := ic.resolve(reg)
		if err != nil {
			return nil, errors.Wrapf(err, "instrument %q", ic.Symbol)
		}
		if _, err := reg.AddInstrument(inst); err != nil {
			return nil, err
		}
	}
	reg.Seal()
	return reg, nil
}

func (ic InstrumentConfig) resolve(reg *schema.Registry) (schema.Instrument, error) {
	venue, _ := reg.VenueIDByName(ic.Venue)
	inst := schema.Instrument{
		VenueID: venue,
		Symbol:  ic.Symbol,
		LotSize: schema.Quantity(ic.LotSize),
		MinQty:  schema.Quantity(ic.MinQty),
		MaxQty:  schema.Quantity(ic.MaxQty),
	}
	if inst.LotSize == 0 {
		inst.LotSize = 1
	}
	prices := []struct {
		name string
		in   Decimal
		out  *schema.Price
	}{
		{"tick_size", ic.TickSize, &inst.TickSize},
		{"min_price", ic.MinPrice, &inst.MinPrice},
		{"max_price", ic.MaxPrice, &inst.MaxPrice},
	}
	for _, p := range prices {
		v, err := p.in.Scaled()
		if err != nil {
			return schema.Instrument{}, errors.Wrap(err, p.name)
		}
		*p.out = schema.Price(v)
	}
	if inst.TickSize <= 0 {
		return inst, nil
	}
	if inst.MinPrice == 0 {
		inst.MinPrice = inst.TickSize
	}
	if inst.MaxPrice == 0 {
		inst.MaxPrice = defaultMaxPrice / inst.TickSize * inst.TickSize
	}
	if inst.MinQty == 0 {
		inst.MinQty = inst.LotSize
	}
	if inst.MaxQty == 0 {
		inst.MaxQty = defaultMaxQty / inst.LotSize * inst.LotSize
	}
	return inst, nil
}

func (r RiskConfig) resolve(reg *schema.Registry) (*risk.Config, error) {
	global, err := r.Global.resolve()
	if err != nil {
		return nil, errors.Wrap(err, "global")
	}
	cfg := &risk.Config{
		Version:          1,
		KillSwitch:       r.KillSwitch,
		MaxGrossPosition: schema.Quantity(r.MaxGrossPosition),
		Global:           global,
	}
	if len(r.Symbols) > 0 {
		cfg.Symbols = make(map[schema.SymbolID]risk.Limits, len(r.Symbols))
	}
	for name, lc := range r.Symbols {
		id, ok := reg.SymbolIDByName(name)
		if !ok {
			return nil, errors.Wrapf(exception.ErrConfigUnknownSymbol, "limits for %q", name)
		}
		l, err := lc.resolve()
		if err != nil {
			return nil, errors.Wrap(err, name)
		}
		cfg.Symbols[id] = l
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (lc LimitsConfig) resolve() (risk.Limits, error) {
	l := risk.Limits{
		MaxPosition:          schema.Quantity(lc.MaxPosition),
		MaxOrderQty:          schema.Quantity(lc.MaxOrderQty),
		MaxOrdersPerSecond:   lc.MaxOrdersPerSecond,
		RateWindow:           lc.RateWindow.Std(),
		MinLiquidityScore:    lc.MinLiquidityScore,
		LiquidityDepth:       lc.LiquidityDepth,
		MaxPriceDeviationBps: lc.MaxPriceDeviationBps,
	}
	notionals := []struct {
		name string
		in   Decimal
		out  *schema.Notional
	}{
		{"max_position_notional", lc.MaxPositionNotional, &l.MaxPositionNotional},
		{"max_order_notional", lc.MaxOrderNotional, &l.MaxOrderNotional},
		{"max_daily_loss", lc.MaxDailyLoss, &l.MaxDailyLoss},
		{"max_gross_exposure", lc.MaxGrossExposure, &l.MaxGrossExposure},
	}
	for _, n := range notionals {
		v, err := n.in.Scaled()
		if err != nil {
			return risk.Limits{}, errors.Wrap(err, n.name)
		}
		*n.out = schema.Notional(v)
	}
	return l, nil
}

// resolveStrategies checks every spec against the factory so that unknown
// types, symbols and parameters fail at startup. Zero IDs are numbered by
// position.
func resolveStrategies(list []strategy.Spec, reg *schema.Registry, factory *strategy.Factory) ([]strategy.Spec, error) {
	out := make([]strategy.Spec, 0, len(list))
	seen := make(map[uint32]string, len(list))
	for i, spec := range list {
		if spec.ID == 0 {
			spec.ID = uint32(i + 1)
		}
		if spec.Name == "" {
			spec.Name = spec.Type
		}
		if prev, ok := seen[spec.ID]; ok {
			return nil, errors.Wrapf(exception.ErrConfigInvalidValue, "strategy id %d used by %q and %q", spec.ID, prev, spec.Name)
		}
		seen[spec.ID] = spec.Name

		def, ok := factory.Definition(spec.Type)
		if !ok {
			return nil, errors.Wrapf(exception.ErrConfigUnknownType, "strategy %q type %q", spec.Name, spec.Type)
		}
		for _, sym := range spec.Symbols {
			if _, ok := reg.SymbolIDByName(sym); !ok {
				return nil, errors.Wrapf(exception.ErrConfigUnknownSymbol, "strategy %q symbol %q", spec.Name, sym)
			}
		}
		if _, err := strategy.ValidateParams(def.Params, spec.Params); err != nil {
			return nil, errors.Wrapf(err, "strategy %q", spec.Name)
		}
		out = append(out, spec)
	}
	return out, nil
}

func (e ExecutionConfig) resolve(getenv func(string) string) (Execution, error) {
	exec := Execution{
		Endpoint: e.VenueEndpoint,
		Worker: og.WorkerOptions{
			Capacity:    e.OutboundQueue,
			MaxAttempts: e.SendAttempts,
		},
	}
	if e.RetryMin > 0 || e.RetryMax > 0 {
		b := backoff.Default()
		if e.RetryMin > 0 {
			b.Min = e.RetryMin.Std()
		}
		if e.RetryMax > 0 {
			b.Max = e.RetryMax.Std()
		}
		if b.Max < b.Min {
			return Execution{}, errors.Wrapf(exception.ErrConfigInvalidValue, "retry_max %s below retry_min %s", b.Max, b.Min)
		}
		exec.Worker.Backoff = b
	}
	if e.CredentialsEnv != "" {
		exec.Credentials = getenv(e.CredentialsEnv)
		if exec.Credentials == "" {
			return Execution{}, errors.Wrapf(exception.ErrConfigMissing, "credentials variable %s is not set", e.CredentialsEnv)
		}
	}
	return exec, nil
}

func (f File) engine() core.Config {
	cfg := core.DefaultConfig()
	e, x := f.Engine, f.Execution
	if x.AckTimeout > 0 {
		cfg.Gateway.AckTimeout = x.AckTimeout.Std()
	}
	if x.CancelTimeout > 0 {
		cfg.Gateway.CancelTimeout = x.CancelTimeout.Std()
	}
	if x.CancelRetries > 0 {
		cfg.Gateway.CancelRetries = x.CancelRetries
	}
	if x.DrainTimeout > 0 {
		cfg.DrainTimeout = x.DrainTimeout.Std()
	}
	if e.StrategyBudget > 0 {
		cfg.Host.Budget = e.StrategyBudget.Std()
	}
	if e.MaxOverruns > 0 {
		cfg.Host.MaxOverruns = e.MaxOverruns
	}
	if e.VenueQueue > 0 {
		cfg.VenueQueue = e.VenueQueue
	}
	if e.MarketQueue > 0 {
		cfg.MarketQueue = e.MarketQueue
	}
	if e.ControlQueue > 0 {
		cfg.ControlQueue = e.ControlQueue
	}
	if e.TimerTick > 0 {
		cfg.TimerTick = e.TimerTick.Std()
	}
	if e.TimerSlots > 0 {
		cfg.TimerSlots = e.TimerSlots
	}
	if e.IdleWait > 0 {
		cfg.IdleWait = e.IdleWait.Std()
	}
	cfg.RecordMarket = e.RecordMarket
	return cfg
}

func (b BacktestConfig) resolve(reg *schema.Registry) (Backtest, error) {
	model, err := backtest.ParseFillModel(b.FillModel)
	if err != nil {
		return Backtest{}, err
	}
	capital, err := b.InitialCapital.Value()
	if err != nil {
		return Backtest{}, errors.Wrap(err, "initial_capital")
	}
	if capital.IsNegative() {
		return Backtest{}, errors.Wrapf(exception.ErrConfigInvalidValue, "initial_capital %s is negative", capital)
	}
	rate, err := b.CommissionRate.Value()
	if err != nil {
		return Backtest{}, errors.Wrap(err, "commission_rate")
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return Backtest{}, errors.Wrapf(exception.ErrConfigInvalidValue, "commission_rate %s must be in [0, 1)", rate)
	}
	var fees state.FeeModel = state.NoFees{}
	if !rate.IsZero() {
		fees = state.NewFlatBps(rate)
	}
	chaosCfg := b.Chaos.resolve()
	if err := chaosCfg.Validate(); err != nil {
		return Backtest{}, errors.Wrap(err, "chaos")
	}
	gen, err := b.Generator.resolve(reg)
	if err != nil {
		return Backtest{}, errors.Wrap(err, "generator")
	}
	events := b.Generator.Events
	if events <= 0 {
		events = 10_000
	}
	seed := b.Seed
	if seed == "" {
		seed = "backtest"
	}
	return Backtest{
		DataPath:       b.DataPath,
		Events:         events,
		Seed:           seed,
		Horizon:        b.Horizon.Std(),
		InitialCapital: capital,
		Sim: backtest.SimConfig{
			Model:   model,
			Fees:    fees,
			Latency: b.Latency.Std(),
			Chaos:   chaosCfg,
		},
		Generator: gen,
	}, nil
}

func (g GeneratorConfig) resolve(reg *schema.Registry) (mdg.Config, error) {
	cfg := mdg.Config{
		Seed:          g.Seed,
		Interval:      g.Interval.Std(),
		Levels:        g.Levels,
		Volatility:    g.Volatility,
		TradeRate:     g.TradeRate,
		MaxQty:        schema.Quantity(g.MaxQty),
		SnapshotEvery: g.SnapshotEvery,
	}
	if len(g.Prices) > 0 {
		cfg.Prices = make(map[string]schema.Price, len(g.Prices))
	}
	for sym, p := range g.Prices {
		if _, ok := reg.SymbolIDByName(sym); !ok {
			return mdg.Config{}, errors.Wrapf(exception.ErrConfigUnknownSymbol, "price for %q", sym)
		}
		v, err := p.Scaled()
		if err != nil {
			return mdg.Config{}, errors.Wrapf(err, "price for %q", sym)
		}
		cfg.Prices[sym] = schema.Price(v)
	}
	return cfg, nil
}
