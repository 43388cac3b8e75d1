package backtest

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"hft/internal/codec"
	"hft/internal/schema"
	"hft/internal/state"
)

// Report summarizes one backtest run. Money values are in quote currency.
type Report struct {
	RunID          string            `json:"runId"`
	FillModel      FillModel         `json:"fillModel"`
	Start          int64             `json:"start"`
	End            int64             `json:"end"`
	MarketEvents   uint64            `json:"marketEvents"`
	InitialCapital decimal.Decimal   `json:"initialCapital"`
	FinalEquity    decimal.Decimal   `json:"finalEquity"`
	TotalPnL       decimal.Decimal   `json:"totalPnl"`
	RealizedPnL    decimal.Decimal   `json:"realizedPnl"`
	UnrealizedPnL  decimal.Decimal   `json:"unrealizedPnl"`
	Fees           decimal.Decimal   `json:"fees"`
	MaxDrawdown    decimal.Decimal   `json:"maxDrawdown"`
	Fills          uint64            `json:"fills"`
	ClosingTrades  uint64            `json:"closingTrades"`
	WinRate        decimal.Decimal   `json:"winRate"`
	Accepted       uint64            `json:"accepted"`
	Rejected       map[string]uint64 `json:"rejected,omitempty"`
	OpenOrders     int               `json:"openOrders"`
	Positions      []PositionReport  `json:"positions,omitempty"`
	Sim            SimStats          `json:"sim"`
	Events         uint64            `json:"events"`
	Digest         string            `json:"digest"`
}

// PositionReport is the closing state of one symbol.
type PositionReport struct {
	Symbol      string          `json:"symbol"`
	Qty         int64           `json:"qty"`
	AvgEntry    decimal.Decimal `json:"avgEntry"`
	Mark        decimal.Decimal `json:"mark"`
	Realized    decimal.Decimal `json:"realized"`
	Unrealized  decimal.Decimal `json:"unrealized"`
	Fees        decimal.Decimal `json:"fees"`
	Fills       uint64          `json:"fills"`
	WinningRate decimal.Decimal `json:"winningRate"`
}

// money converts a fixed-point amount to a decimal.
func money(v int64) decimal.Decimal {
	return decimal.New(v, -6)
}

func ratio(num, den uint64) decimal.Decimal {
	if den == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(num)).Div(decimal.NewFromInt(int64(den))).Round(4)
}

func (r *Report) fillLedger(registry *schema.Registry, ledger *state.Ledger) {
	var wins uint64
	for _, p := range ledger.Positions() {
		r.RealizedPnL = r.RealizedPnL.Add(money(int64(p.Realized)))
		r.UnrealizedPnL = r.UnrealizedPnL.Add(money(int64(p.Unrealized())))
		r.Fees = r.Fees.Add(money(int64(p.Fees)))
		r.Fills += p.Fills
		r.ClosingTrades += p.ClosingTrades
		wins += p.WinningTrades
		r.Positions = append(r.Positions, PositionReport{
			Symbol:      registry.SymbolName(p.SymbolID),
			Qty:         int64(p.Qty),
			AvgEntry:    decimal.NewFromFloat(p.AvgEntry()).Round(6),
			Mark:        money(int64(p.Mark)),
			Realized:    money(int64(p.Realized)),
			Unrealized:  money(int64(p.Unrealized())),
			Fees:        money(int64(p.Fees)),
			Fills:       p.Fills,
			WinningRate: ratio(p.WinningTrades, p.ClosingTrades),
		})
	}
	sort.Slice(r.Positions, func(i, j int) bool { return r.Positions[i].Symbol < r.Positions[j].Symbol })
	r.TotalPnL = money(int64(ledger.TotalPnL()))
	r.FinalEquity = r.InitialCapital.Add(r.TotalPnL)
	r.WinRate = ratio(wins, r.ClosingTrades)
}

// tally counts risk outcomes from the event stream.
type tally struct {
	mu       sync.Mutex
	accepted uint64
	rejected map[schema.RiskReason]uint64
}

func newTally() *tally {
	return &tally{rejected: make(map[schema.RiskReason]uint64)}
}

func (t *tally) Append(header schema.EventHeader, payload []byte) error {
	if header.Type != schema.EventRiskDecision {
		return nil
	}
	d, ok := codec.DecodeRiskDecision(payload)
	if !ok {
		return nil
	}
	t.mu.Lock()
	if d.Allowed() {
		t.accepted++
	} else {
		t.rejected[d.Reason]++
	}
	t.mu.Unlock()
	return nil
}

func (t *tally) fill(r *Report) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r.Accepted = t.accepted
	if len(t.rejected) == 0 {
		return
	}
	r.Rejected = make(map[string]uint64, len(t.rejected))
	for reason, n := range t.rejected {
		r.Rejected[reason.String()] = n
	}
}
