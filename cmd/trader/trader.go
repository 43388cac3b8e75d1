package main

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	yerrors "github.com/yanun0323/errors"

	"hft/internal/clock"
	"hft/internal/core"
	"hft/internal/env"
	"hft/internal/ingest"
	"hft/internal/journal"
	"hft/internal/marketdata"
	"hft/internal/mdg"
	"hft/internal/ops"
	"hft/internal/paper"
	"hft/internal/recorder"
	"hft/internal/schema"
	"hft/internal/state"
	"hft/internal/status"
	"hft/internal/store"
	"hft/internal/strategy"
	"hft/pkg/conn"
	"hft/pkg/exception"
)

const controlTimeout = 2 * time.Second

// deferredSink lets the feed be built before the engine's inbound exists.
// The feed does not offer anything until Run.
type deferredSink struct {
	in *marketdata.Inbound
}

func (d *deferredSink) Offer(ctx context.Context, ev schema.MarketEvent) (bool, error) {
	return d.in.Offer(ctx, ev)
}

type trader struct {
	loaded *ops.Loaded
	opt    options
	rt     env.Runtime
	log    zerolog.Logger

	engine      *core.Engine
	venue       *paper.Venue
	feed        *ingest.Feed
	generator   *mdg.Generator
	inbound     *marketdata.Inbound
	checkpoints *store.Checkpoints
	writer      *recorder.Writer
	journal     *journal.Journal
	db          *conn.Client
	server      *status.Server
	watcher     *ops.Watcher
}

func newTrader(ctx context.Context, loaded *ops.Loaded, log zerolog.Logger, opt options) (*trader, error) {
	rt := env.New(clock.NewMonotonic(), uint8(loaded.Engine.Source), log, nil)
	rt.RunID = clock.RunID("")
	t := &trader{loaded: loaded, opt: opt, rt: rt, log: rt.Logger("trader")}
	if err := t.build(ctx); err != nil {
		_ = t.close()
		return nil, err
	}
	return t, nil
}

func (t *trader) build(ctx context.Context) (err error) {
	loaded, opt, rt := t.loaded, t.opt, t.rt

	persist := loaded.Persistence
	if persist.CheckpointDir != "" {
		if t.checkpoints, err = store.Open(persist.CheckpointDir); err != nil {
			return err
		}
	}
	recovered, err := t.recover(ctx)
	if err != nil {
		return err
	}

	var sink recorder.Tee
	if persist.WALDir != "" {
		if t.writer, err = recorder.NewWriter(recorder.DefaultConfig(persist.WALDir)); err != nil {
			return yerrors.Wrap(exception.ErrStoreUnavailable, err.Error())
		}
		if err = t.writer.Start(context.Background()); err != nil {
			return err
		}
		sink = append(sink, t.writer)
	}
	if persist.PostgresDSN != "" {
		if t.db, err = conn.New(conn.Option{DSN: persist.PostgresDSN, Log: t.log}); err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = t.db.Ping(pingCtx)
		cancel()
		if err != nil {
			return err
		}
		gs, gerr := journal.NewGormStore(t.db.DB())
		if gerr != nil {
			return gerr
		}
		t.journal = journal.New(gs, loaded.Registry, journal.Config{RunID: rt.RunID}, rt.Logger("journal"))
		if err = t.journal.Start(context.Background()); err != nil {
			return err
		}
		sink = append(sink, t.journal)
	}

	feedSink := &deferredSink{}
	opts := []core.Option{core.WithSink(sink)}
	if opt.feedURL != "" {
		t.feed, err = ingest.New(rt, loaded.Registry, feedSink, ingest.Config{URL: opt.feedURL})
		if err != nil {
			return err
		}
		opts = append(opts, core.WithFeed(t.feed))
	} else {
		if t.generator, err = mdg.NewGenerator(loaded.Registry, loaded.Backtest.Generator); err != nil {
			return err
		}
	}

	if t.engine, err = core.New(rt, loaded.Registry, loaded.Risk, loaded.Engine, opts...); err != nil {
		return err
	}
	t.inbound = t.engine.Inbound(opt.feedHighWater, opt.feedKeepDepth)
	feedSink.in = t.inbound

	if recovered != nil {
		if len(recovered.Orders) > 0 {
			t.log.Warn().Int("orders", len(recovered.Orders)).Msg("paper venue starts empty, recovered orders are not restored")
			recovered.Orders = nil
		}
		if err = t.engine.Restore(*recovered); err != nil {
			return err
		}
	}
	if err = t.engine.Host().Load(strategy.DefaultFactory(), loaded.Strategies); err != nil {
		return err
	}

	if loaded.Execution.Endpoint != "" {
		t.log.Info().Str("endpoint", loaded.Execution.Endpoint).Msg("no venue adapter bundled, orders go to the paper venue")
	}
	t.venue, err = paper.New(rt, loaded.Registry, t.engine, paper.Config{
		Sim:    loaded.Backtest.Sim,
		Worker: loaded.Execution.Worker,
	})
	if err != nil {
		return err
	}
	t.venue.Install(t.engine, venues(loaded.Registry))

	if loaded.StatusAddr != "" {
		t.server = status.NewServer(t.engine, rt.Logger("status"), status.WithCheckpoint(t.saveCheckpoint))
	}
	if opt.reload > 0 {
		if t.watcher, err = ops.NewWatcher(loaded, nil, opt.reload, rt.Logger("ops")); err != nil {
			return err
		}
	}
	return nil
}

// recover rebuilds the ledger from the newest checkpoint and the event log.
// It returns nil when there is nothing to recover.
func (t *trader) recover(ctx context.Context) (*state.RecoverResult, error) {
	if !t.opt.recover {
		return nil, nil
	}
	cfg := state.RecoverConfig{WALDir: t.loaded.Persistence.WALDir}
	if t.checkpoints != nil {
		snap, ok, err := t.checkpoints.Latest()
		if err != nil {
			return nil, err
		}
		if ok {
			cfg.Checkpoint = &snap
		}
	}
	if cfg.WALDir == "" {
		if cfg.Checkpoint == nil {
			return nil, nil
		}
		ledger := state.NewLedger()
		ledger.Restore(*cfg.Checkpoint)
		return &state.RecoverResult{Ledger: ledger, LastSeq: cfg.Checkpoint.LastSeq}, nil
	}
	if _, err := os.Stat(cfg.WALDir); errors.Is(err, os.ErrNotExist) && cfg.Checkpoint == nil {
		return nil, nil
	}
	if err := os.MkdirAll(cfg.WALDir, 0o755); err != nil {
		return nil, yerrors.Wrapf(exception.ErrStoreUnavailable, "event log dir %s: %v", cfg.WALDir, err)
	}

	res, err := state.Recover(ctx, cfg)
	if err != nil {
		return nil, err
	}
	t.log.Info().
		Uint64("records", res.Records).
		Uint64("last_seq", res.LastSeq).
		Bool("checkpoint", cfg.Checkpoint != nil).
		Msg("recovered state")
	return &res, nil
}

func (t *trader) run(ctx context.Context, cancel context.CancelFunc) error {
	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		bgErr   error
	)
	fail := func(err error) {
		errOnce.Do(func() { bgErr = err })
		cancel()
	}

	venueCtx, stopVenue := context.WithCancel(context.Background())
	defer stopVenue()
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.venue.Run(venueCtx)
	}()

	if t.feed != nil {
		for _, inst := range t.loaded.Registry.Instruments() {
			if err := t.feed.Subscribe(inst.ID); err != nil {
				return err
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := t.feed.Run(ctx); err != nil {
				fail(err)
			}
		}()
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := t.runPaperFeed(ctx); err != nil {
				fail(err)
			}
		}()
	}

	if t.server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := t.server.ListenAndServe(ctx, t.loaded.StatusAddr); err != nil {
				t.log.Error().Err(err).Msg("status server stopped")
			}
		}()
	}
	if t.watcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.watcher.Run(ctx, t.apply)
		}()
	}
	if t.checkpoints != nil && t.loaded.Persistence.CheckpointInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.checkpointLoop(ctx, t.loaded.Persistence.CheckpointInterval)
		}()
	}

	t.log.Info().
		Str("run_id", t.rt.RunID).
		Bool("live_feed", t.feed != nil).
		Str("status_addr", t.loaded.StatusAddr).
		Msg("trader running")
	err := t.engine.Run(ctx)
	cancel()

	if t.checkpoints != nil && t.engine.Fatal() == nil {
		if serr := t.saveCheckpoint(t.engine.Checkpoint()); serr != nil && err == nil {
			err = serr
		}
	}
	stopVenue()
	wg.Wait()

	t.logSummary()
	if err != nil {
		return err
	}
	return bgErr
}

// runPaperFeed paces the synthetic market in wall time.
func (t *trader) runPaperFeed(ctx context.Context) error {
	interval := t.loaded.Backtest.Generator.Interval
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		ev := t.generator.Next()
		ev.Ts = t.rt.Now()
		if _, err := t.inbound.Offer(ctx, ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return yerrors.Wrapf(exception.ErrFeedClosed, "paper feed: %v", err)
		}
	}
}

func (t *trader) apply(cmds []core.Command) {
	for _, cmd := range cmds {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		reply, err := t.engine.Control(ctx, cmd)
		cancel()
		if err == nil {
			err = reply.Err
		}
		if err != nil {
			t.log.Error().Err(err).Str("command", cmd.Kind.String()).Msg("config change not applied")
			continue
		}
		t.log.Info().Str("command", cmd.Kind.String()).Uint32("strategy_id", cmd.StrategyID).Msg("config change applied")
	}
}

func (t *trader) checkpointLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cctx, cancel := context.WithTimeout(ctx, controlTimeout)
		reply, err := t.engine.Control(cctx, core.Command{Kind: core.CommandCheckpoint})
		cancel()
		if err == nil && reply.Snapshot != nil {
			err = t.saveCheckpoint(*reply.Snapshot)
		}
		if err != nil && ctx.Err() == nil {
			t.rt.Reporter.Report(t.rt.Now(), err, map[string]any{"component": "trader"})
		}
	}
}

func (t *trader) saveCheckpoint(snap state.Snapshot) error {
	if t.checkpoints == nil {
		return nil
	}
	if err := t.checkpoints.Save(snap); err != nil {
		return err
	}
	keep := t.loaded.Persistence.CheckpointKeep
	if keep > 0 {
		if _, err := t.checkpoints.Prune(keep); err != nil {
			return err
		}
	}
	t.log.Debug().Uint64("seq", snap.LastSeq).Int("positions", len(snap.Positions)).Msg("checkpoint saved")
	return nil
}

func (t *trader) logSummary() {
	sim, sent, failed := t.venue.Stats()
	ev := t.log.Info().
		Interface("sim", sim).
		Uint64("sent", sent).
		Uint64("send_failed", failed).
		Interface("metrics", t.rt.Metrics.Snapshot())
	if t.feed != nil {
		ev = ev.Interface("feed", t.feed.Stats())
	}
	if t.writer != nil {
		written, dropped := t.writer.Stats()
		ev = ev.Uint64("wal_written", written).Uint64("wal_dropped", dropped)
	}
	ev.Msg("trader summary")
}

// close releases everything newTrader opened. It is safe on a partial trader.
func (t *trader) close() error {
	var errs []error
	if t.venue != nil {
		t.venue.Close()
	}
	if t.journal != nil {
		written, dropped, failed := t.journal.Stats()
		t.log.Info().Uint64("written", written).Uint64("dropped", dropped).Uint64("failed", failed).Msg("journal closed")
		errs = append(errs, t.journal.Close())
	}
	if t.db != nil {
		errs = append(errs, t.db.Close())
	}
	if t.writer != nil {
		errs = append(errs, t.writer.Close())
	}
	if t.checkpoints != nil {
		errs = append(errs, t.checkpoints.Close())
	}
	return errors.Join(errs...)
}

func venues(reg *schema.Registry) []schema.VenueID {
	seen := make(map[schema.VenueID]bool)
	var out []schema.VenueID
	for _, inst := range reg.Instruments() {
		if !seen[inst.VenueID] {
			seen[inst.VenueID] = true
			out = append(out, inst.VenueID)
		}
	}
	return out
}
