package journal

import (
	"time"

	"hft/internal/codec"
	"hft/internal/schema"
)

// FillRow mirrors one EventFill record.
type FillRow struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	RunID     string    `gorm:"size:64;uniqueIndex:idx_fill_run_seq" json:"run_id"`
	Seq       uint64    `gorm:"uniqueIndex:idx_fill_run_seq" json:"seq"`
	OrderID   uint64    `gorm:"index" json:"order_id"`
	ExecID    uint64    `json:"exec_id"`
	Symbol    string    `gorm:"size:32;index" json:"symbol"`
	Side      string    `gorm:"size:8" json:"side"`
	Liquidity uint16    `json:"liquidity"`
	Price     int64     `json:"price"`
	Qty       int64     `json:"qty"`
	Fee       int64     `json:"fee"`
	FilledAt  time.Time `json:"filled_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (FillRow) TableName() string { return "hft_fills" }

// TransitionRow mirrors one EventOrderTransition record.
type TransitionRow struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	RunID      string    `gorm:"size:64;uniqueIndex:idx_transition_run_seq" json:"run_id"`
	Seq        uint64    `gorm:"uniqueIndex:idx_transition_run_seq" json:"seq"`
	OrderID    uint64    `gorm:"index" json:"order_id"`
	VenueID    uint64    `json:"venue_id"`
	StrategyID uint32    `json:"strategy_id"`
	Symbol     string    `gorm:"size:32" json:"symbol"`
	FromState  string    `gorm:"size:24" json:"from_state"`
	ToState    string    `gorm:"size:24" json:"to_state"`
	Reason     uint16    `json:"reason"`
	FilledQty  int64     `json:"filled_qty"`
	At         time.Time `json:"at"`
	CreatedAt  time.Time `json:"created_at"`
}

func (TransitionRow) TableName() string { return "hft_order_transitions" }

// Batch is a group of rows written in one transaction.
type Batch struct {
	Fills       []FillRow
	Transitions []TransitionRow
}

func (b *Batch) Len() int { return len(b.Fills) + len(b.Transitions) }

// add decodes a record into b. Other record types are ignored; it reports
// false for payloads that do not decode.
func (b *Batch) add(registry *schema.Registry, runID string, header schema.EventHeader, payload []byte) bool {
	switch header.Type {
	case schema.EventFill:
		fill, ok := codec.DecodeFill(payload)
		if !ok {
			return false
		}
		b.Fills = append(b.Fills, FillRow{
			RunID:     runID,
			Seq:       header.Seq,
			OrderID:   fill.OrderID,
			ExecID:    fill.ExecID,
			Symbol:    symbolName(registry, fill.SymbolID),
			Side:      fill.Side.String(),
			Liquidity: uint16(fill.Liquidity),
			Price:     int64(fill.Price),
			Qty:       int64(fill.Qty),
			Fee:       int64(fill.Fee),
			FilledAt:  time.Unix(0, fill.Ts).UTC(),
		})
	case schema.EventOrderTransition:
		tr, ok := codec.DecodeOrderTransition(payload)
		if !ok {
			return false
		}
		b.Transitions = append(b.Transitions, TransitionRow{
			RunID:      runID,
			Seq:        header.Seq,
			OrderID:    tr.OrderID,
			VenueID:    tr.VenueID,
			StrategyID: tr.StrategyID,
			Symbol:     symbolName(registry, tr.SymbolID),
			FromState:  tr.From.String(),
			ToState:    tr.To.String(),
			Reason:     tr.Reason,
			FilledQty:  int64(tr.FilledQty),
			At:         time.Unix(0, tr.Ts).UTC(),
		})
	}
	return true
}

func symbolName(registry *schema.Registry, id schema.SymbolID) string {
	if registry == nil {
		return ""
	}
	return registry.SymbolName(id)
}
