// Package paper runs the simulated venue behind the asynchronous order
// worker. Requests leave the event loop through the worker's outbound queue,
// cross to a loopback inbox and are matched by the simulator on the loop
// goroutine, so a paper run takes the same send path as a venue connection.
package paper

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	yerrors "github.com/yanun0323/errors"

	"hft/internal/backtest"
	"hft/internal/bus"
	"hft/internal/core"
	"hft/internal/env"
	"hft/internal/og"
	"hft/internal/schema"
	"hft/pkg/exception"
)

const (
	defaultPoll  = time.Millisecond
	defaultInbox = 1024
)

// Config tunes a paper venue.
type Config struct {
	Sim    backtest.SimConfig
	Worker og.WorkerOptions
	// Poll is how often the loop drains the inbox and releases delayed
	// callbacks.
	Poll  time.Duration
	Inbox int
}

// Adapter implements og.VenueAdapter by forwarding requests to the inbox.
type Adapter struct {
	inbox *bus.Queue[og.Request]
}

func (a Adapter) SendNew(_ context.Context, req og.Request) error {
	return a.forward(req)
}

func (a Adapter) SendCancel(_ context.Context, req og.Request) error {
	return a.forward(req)
}

func (a Adapter) forward(req og.Request) error {
	err := a.inbox.TryPublish(req)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bus.ErrQueueFull):
		return yerrors.Wrapf(exception.ErrOrderSendTransient, "paper inbox full, order %d", req.OrderID)
	default:
		return yerrors.Wrapf(exception.ErrOrderVenueDisconnected, "paper inbox closed, order %d", req.OrderID)
	}
}

// Venue pairs a SimVenue with the worker feeding it.
type Venue struct {
	rt     env.Runtime
	log    zerolog.Logger
	cfg    Config
	sim    *backtest.SimVenue
	worker *og.Worker
	inbox  *bus.Queue[og.Request]
	timers og.Scheduler
}

// New builds a paper venue answering on engine's venue queue.
func New(rt env.Runtime, registry *schema.Registry, engine *core.Engine, cfg Config) (*Venue, error) {
	if cfg.Poll <= 0 {
		cfg.Poll = defaultPoll
	}
	if cfg.Inbox <= 0 {
		cfg.Inbox = defaultInbox
	}
	sim, err := backtest.NewSimVenue(rt, registry, engine.Router(), engine.VenueQueue(), cfg.Sim)
	if err != nil {
		return nil, err
	}
	inbox := bus.NewQueue[og.Request](cfg.Inbox)
	return &Venue{
		rt:     rt,
		log:    rt.Logger("paper"),
		cfg:    cfg,
		sim:    sim,
		worker: og.NewWorker(rt, Adapter{inbox: inbox}, engine.VenueQueue(), cfg.Worker),
		inbox:  inbox,
		timers: engine.Timers(),
	}, nil
}

// Install registers the venue for every venue in the registry and arms the
// inbox poll. Call it before the engine starts.
func (v *Venue) Install(engine *core.Engine, venues []schema.VenueID) {
	engine.Router().SubscribeAll(v.sim)
	for _, venue := range venues {
		engine.RegisterVenue(venue, v.worker)
	}
	v.timers.Schedule(v.rt.Now()+int64(v.cfg.Poll), v.poll)
	v.log.Info().
		Int("venues", len(venues)).
		Str("fill_model", string(v.sim.Model())).
		Dur("latency", v.cfg.Sim.Latency).
		Msg("paper venue installed")
}

// Run drives the worker until ctx is done. Keep it running until the engine
// has drained so the final cancels reach the simulator.
func (v *Venue) Run(ctx context.Context) {
	v.worker.Run(ctx)
}

// Close stops the worker and the inbox.
func (v *Venue) Close() {
	v.worker.Close()
	v.inbox.Close()
}

// Pump hands every queued request to the simulator and releases callbacks
// that are due. It must run on the loop goroutine.
func (v *Venue) Pump() int {
	n := 0
	for {
		req, ok := v.inbox.TryPop()
		if !ok {
			break
		}
		if err := v.sim.Dispatch(req); err != nil {
			v.rt.Reporter.Report(v.rt.Now(), err, map[string]any{"component": "paper", "order_id": req.OrderID})
		}
		n++
	}
	return n + v.sim.Release(v.rt.Now())
}

// Stats returns simulator counters and worker send totals.
func (v *Venue) Stats() (backtest.SimStats, uint64, uint64) {
	sent, failed := v.worker.Stats()
	return v.sim.Stats(), sent, failed
}

func (v *Venue) poll() {
	v.Pump()
	if !v.inbox.Closed() {
		v.timers.Schedule(v.rt.Now()+int64(v.cfg.Poll), v.poll)
	}
}
