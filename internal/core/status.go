package core

import (
	"encoding/json"
	"fmt"
	"time"

	"hft/internal/marketdata"
	"hft/internal/obs"
	"hft/internal/og"
	"hft/internal/schema"
	"hft/internal/state"
	"hft/internal/strategy"
)

// SymbolStatus is the market view of one instrument.
type SymbolStatus struct {
	ID        schema.SymbolID `json:"id"`
	Symbol    string          `json:"symbol"`
	Seq       uint64          `json:"seq"`
	BestBid   schema.Price    `json:"bestBid,omitempty"`
	BestAsk   schema.Price    `json:"bestAsk,omitempty"`
	Crossed   bool            `json:"crossed,omitempty"`
	Resyncing bool            `json:"resyncing,omitempty"`
	UpdatedAt int64           `json:"updatedAt"`
}

// PnL sums the ledger over all symbols.
type PnL struct {
	Realized      schema.Notional `json:"realized"`
	Unrealized    schema.Notional `json:"unrealized"`
	Fees          schema.Fee      `json:"fees"`
	Total         schema.Notional `json:"total"`
	Daily         schema.Notional `json:"daily"`
	GrossExposure schema.Notional `json:"grossExposure"`
}

// Status is the process-wide status report.
type Status struct {
	RunID       string            `json:"runId"`
	Now         int64             `json:"now"`
	Uptime      string            `json:"uptime"`
	Halted      bool              `json:"halted,omitempty"`
	KillSwitch  bool              `json:"killSwitch"`
	RiskVersion uint16            `json:"riskVersion"`
	LastSeq     uint64            `json:"lastSeq"`
	Symbols     []SymbolStatus    `json:"symbols"`
	OpenOrders  []og.Order        `json:"openOrders"`
	Positions   []state.Position  `json:"positions"`
	PnL         PnL               `json:"pnl"`
	Strategies  []strategy.Status `json:"strategies"`
	Router      marketdata.Stats  `json:"router"`
	Metrics     obs.Snapshot      `json:"metrics"`
	Errors      []obs.ErrorRecord `json:"errors"`
	Timers      int               `json:"timers"`
	Queues      map[string][2]int `json:"queues"`
}

// Snapshot builds the status report. It must run on the loop goroutine;
// other goroutines use Control with CommandStatus.
func (e *Engine) Snapshot() Status {
	now := e.rt.Now()
	cfg := e.gate.Config()
	st := Status{
		RunID:       e.rt.RunID,
		Now:         now,
		Uptime:      time.Duration(now - e.started).String(),
		Halted:      e.fatal != nil,
		KillSwitch:  cfg.KillSwitch,
		RiskVersion: cfg.Version,
		LastSeq:     e.seq,
		OpenOrders:  e.gateway.Open(),
		Positions:   e.ledger.Positions(),
		Strategies:  e.host.Status(),
		Router:      e.router.Stats(),
		Metrics:     e.rt.Metrics.Snapshot(),
		Errors:      e.rt.Reporter.Recent(),
		Timers:      e.timers.Len(),
		Queues: map[string][2]int{
			"venue":   {e.venue.Len(), e.venue.Cap()},
			"market":  {e.market.Len(), e.market.Cap()},
			"control": {e.control.Len(), e.control.Cap()},
			"intents": {e.intents.len(), 0},
		},
	}
	for _, id := range e.router.Symbols() {
		b := e.router.Book(id)
		top := b.TopOfBook()
		ss := SymbolStatus{
			ID:        id,
			Symbol:    e.registry.SymbolName(id),
			Seq:       b.Seq(),
			Crossed:   b.Crossed(),
			Resyncing: e.router.Resyncing(id),
			UpdatedAt: b.UpdatedAt(),
		}
		if top.HasBid {
			ss.BestBid = top.Bid.Price
		}
		if top.HasAsk {
			ss.BestAsk = top.Ask.Price
		}
		st.Symbols = append(st.Symbols, ss)
	}
	for _, p := range st.Positions {
		st.PnL.Realized += p.Realized
		st.PnL.Unrealized += p.Unrealized()
		st.PnL.Fees += p.Fees
		st.PnL.GrossExposure += p.Exposure()
	}
	st.PnL.Total = e.ledger.TotalPnL()
	st.PnL.Daily = e.ledger.DailyPnL()
	return st
}

// FatalError stops the engine after an invariant violation. Dump holds the
// JSON status taken when the violation was detected.
type FatalError struct {
	Err  error
	Ts   int64
	Dump []byte
}

func (f *FatalError) Error() string {
	return fmt.Sprintf("engine halted: %v", f.Err)
}

func (f *FatalError) Unwrap() error {
	return f.Err
}

func (e *Engine) dump() []byte {
	b, err := json.MarshalIndent(e.Snapshot(), "", "  ")
	if err != nil {
		return []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	return b
}
