package backtest

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"hft/internal/clock"
	"hft/internal/core"
	"hft/internal/env"
	"hft/internal/obs"
	"hft/internal/recorder"
	"hft/internal/risk"
	"hft/internal/schema"
	"hft/internal/strategy"
	"hft/pkg/exception"
)

const defaultHorizon = 5 * time.Second

// Config describes one backtest run.
type Config struct {
	Engine         core.Config
	Risk           *risk.Config
	Strategies     []strategy.Spec
	Sim            SimConfig
	InitialCapital decimal.Decimal
	// Seed names the run. Equal seeds give equal run IDs.
	Seed string
	// Horizon bounds how far simulated time runs past the last event while
	// open orders are cancelled.
	Horizon time.Duration
	// Output receives a copy of the event log, e.g. a recorder.Writer.
	Output recorder.Sink
}

// Driver replays a Source through the live engine with a simulated venue. The
// clock is driven by event time, so two runs over the same source with the
// same config produce the same event log.
type Driver struct {
	cfg      Config
	registry *schema.Registry
	factory  *strategy.Factory
	log      zerolog.Logger
}

// NewDriver validates cfg. factory may be nil for the bundled strategies.
func NewDriver(registry *schema.Registry, factory *strategy.Factory, cfg Config, log zerolog.Logger) (*Driver, error) {
	if registry == nil || registry.InstrumentCount() == 0 {
		return nil, errors.Wrap(exception.ErrConfigMissing, "backtest needs instruments")
	}
	if cfg.InitialCapital.IsNegative() {
		return nil, errors.Wrapf(exception.ErrConfigInvalidValue, "initial capital %s", cfg.InitialCapital)
	}
	if err := cfg.Sim.Chaos.Validate(); err != nil {
		return nil, err
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = defaultHorizon
	}
	if factory == nil {
		factory = strategy.DefaultFactory()
	}
	return &Driver{cfg: cfg, registry: registry, factory: factory, log: log}, nil
}

type run struct {
	clk    *clock.Manual
	engine *core.Engine
	sim    *SimVenue
}

// Run replays src from the start and returns the report. A fatal engine error
// is returned alongside the partial report. Market data for a symbol missing
// from the registry fails the run.
func (d *Driver) Run(ctx context.Context, src Source) (*Report, error) {
	if err := src.Reset(); err != nil {
		return nil, errors.Wrap(err, "reset source")
	}

	clk := clock.NewManual(0)
	rt := env.New(clk, uint8(d.cfg.Engine.Source), d.log, obs.LogAlerts{Log: d.log})
	rt.RunID = clock.RunID(d.cfg.Seed)

	digest := recorder.NewDigest()
	counts := newTally()
	sink := recorder.Tee{digest, counts}
	if d.cfg.Output != nil {
		sink = append(sink, d.cfg.Output)
	}

	ecfg := d.cfg.Engine
	ecfg.StrictSymbols = true
	engine, err := core.New(rt, d.registry, d.cfg.Risk, ecfg, core.WithSink(sink), core.WithWallClock(clk))
	if err != nil {
		return nil, err
	}
	sim, err := NewSimVenue(rt, d.registry, engine.Router(), engine.VenueQueue(), d.cfg.Sim)
	if err != nil {
		return nil, err
	}
	engine.Router().SubscribeAll(sim)
	for _, venue := range d.venues() {
		engine.RegisterVenue(venue, sim)
	}
	if err := engine.Host().Load(d.factory, d.cfg.Strategies); err != nil {
		return nil, err
	}

	r := &run{clk: clk, engine: engine, sim: sim}
	report := &Report{
		RunID:          rt.RunID,
		FillModel:      sim.Model(),
		InitialCapital: d.cfg.InitialCapital,
	}
	capital := d.cfg.InitialCapital.Shift(6).IntPart()
	peak, drawdown := capital, int64(0)

	started := false
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		ev, ok, err := src.Next()
		if err != nil {
			return report, errors.Wrap(err, "read source")
		}
		if !ok {
			break
		}
		if !started {
			clk.Set(ev.Ts)
			report.Start = ev.Ts
			if err := engine.Start(); err != nil {
				return report, err
			}
			started = true
		}

		r.advance(ev.Ts)
		clk.Set(ev.Ts)
		if err := engine.Push(ev); err != nil {
			return report, errors.Wrapf(err, "push event seq %d", ev.Seq)
		}
		r.settle()
		report.MarketEvents++
		if err := engine.Fatal(); err != nil {
			d.finish(r, report, counts, digest)
			return report, err
		}

		equity := capital + int64(engine.Ledger().TotalPnL())
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > drawdown {
			drawdown = dd
		}
	}
	if !started {
		return nil, errors.Wrap(exception.ErrConfigMissing, "backtest source is empty")
	}

	engine.Gate().SetKillSwitch(true)
	engine.Gateway().CancelAll()
	r.settle()
	r.advance(clk.Now() + int64(d.cfg.Horizon))

	report.MaxDrawdown = money(drawdown)
	d.finish(r, report, counts, digest)
	d.log.Info().
		Str("run_id", report.RunID).
		Uint64("market_events", report.MarketEvents).
		Uint64("fills", report.Fills).
		Str("total_pnl", report.TotalPnL.String()).
		Str("digest", report.Digest).
		Msg("backtest finished")
	return report, engine.Fatal()
}

func (d *Driver) finish(r *run, report *Report, counts *tally, digest *recorder.Digest) {
	report.End = r.clk.Now()
	report.fillLedger(d.registry, r.engine.Ledger())
	counts.fill(report)
	report.OpenOrders = r.engine.Gateway().OpenCount()
	report.Sim = r.sim.Stats()
	report.Events = digest.Count()
	report.Digest = digest.Sum()
}

func (d *Driver) venues() []schema.VenueID {
	seen := make(map[schema.VenueID]bool)
	var out []schema.VenueID
	for _, inst := range d.registry.Instruments() {
		if !seen[inst.VenueID] {
			seen[inst.VenueID] = true
			out = append(out, inst.VenueID)
		}
	}
	return out
}

// settle runs the engine until neither it nor the simulator has due work.
func (r *run) settle() {
	for {
		n := r.engine.Settle()
		n += r.sim.Release(r.clk.Now())
		if n == 0 || r.engine.Fatal() != nil {
			return
		}
	}
}

// advance moves the clock through every timer and held callback due up to ts.
func (r *run) advance(ts int64) {
	for r.engine.Fatal() == nil {
		next, ok := r.next()
		if !ok || next > ts {
			return
		}
		if next > r.clk.Now() {
			r.clk.Set(next)
		}
		before := r.clk.Now()
		r.settle()
		if after, ok := r.next(); ok && after <= before {
			return
		}
	}
}

func (r *run) next() (int64, bool) {
	next, ok := r.engine.Timers().Next()
	if at, held := r.sim.NextRelease(); held && (!ok || at < next) {
		next, ok = at, true
	}
	return next, ok
}
