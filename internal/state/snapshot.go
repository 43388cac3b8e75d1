package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"hft/internal/schema"
)

// Snapshot captures the ledger at a point in time.
type Snapshot struct {
	Timestamp   int64           `json:"timestamp"`
	LastSeq     uint64          `json:"lastSeq"`
	LastEventTs int64           `json:"lastEventTs"`
	DayBaseline schema.Notional `json:"dayBaseline"`
	DayStart    int64           `json:"dayStart"`
	Positions   []Position      `json:"positions"`
	Execs       []ExecEntry     `json:"execs,omitempty"`
}

// ExecEntry is a booked (order, execution) pair.
type ExecEntry struct {
	OrderID uint64 `json:"orderId"`
	ExecID  uint64 `json:"execId"`
}

// Snapshot builds a snapshot stamped with ts.
func (l *Ledger) Snapshot(ts int64) Snapshot {
	execs := make([]ExecEntry, 0, len(l.seen))
	for key := range l.seen {
		execs = append(execs, ExecEntry{OrderID: key.orderID, ExecID: key.execID})
	}
	sort.Slice(execs, func(i, j int) bool {
		if execs[i].OrderID != execs[j].OrderID {
			return execs[i].OrderID < execs[j].OrderID
		}
		return execs[i].ExecID < execs[j].ExecID
	})
	return Snapshot{
		Timestamp:   ts,
		LastSeq:     l.lastSeq,
		LastEventTs: l.lastEventTs,
		DayBaseline: l.dayBaseline,
		DayStart:    l.dayStart,
		Positions:   l.Positions(),
		Execs:       execs,
	}
}

// Restore replaces the ledger contents with snapshot.
func (l *Ledger) Restore(snapshot Snapshot) {
	l.positions = make(map[schema.SymbolID]*Position, len(snapshot.Positions))
	for _, entry := range snapshot.Positions {
		pos := entry
		l.positions[pos.SymbolID] = &pos
	}
	l.seen = make(map[execKey]struct{}, len(snapshot.Execs))
	for _, e := range snapshot.Execs {
		l.seen[execKey{orderID: e.OrderID, execID: e.ExecID}] = struct{}{}
	}
	l.dayBaseline = snapshot.DayBaseline
	l.dayStart = snapshot.DayStart
	l.lastSeq = snapshot.LastSeq
	l.lastEventTs = snapshot.LastEventTs
}

// MarshalSnapshot encodes a snapshot as JSON.
func MarshalSnapshot(snapshot Snapshot) ([]byte, error) {
	return json.Marshal(snapshot)
}

// UnmarshalSnapshot decodes a JSON snapshot.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	return UnmarshalSnapshot(data)
}

// CompareSnapshots checks that two snapshots hold the same book of record.
// Marks and timestamps are ignored.
func CompareSnapshots(expected, actual Snapshot) error {
	if len(expected.Positions) != len(actual.Positions) {
		return fmt.Errorf("snapshot length mismatch: expected=%d actual=%d", len(expected.Positions), len(actual.Positions))
	}
	expectedMap := make(map[schema.SymbolID]Position, len(expected.Positions))
	for _, entry := range expected.Positions {
		expectedMap[entry.SymbolID] = entry
	}
	for _, entry := range actual.Positions {
		want, ok := expectedMap[entry.SymbolID]
		if !ok {
			return fmt.Errorf("snapshot missing symbol: %d", entry.SymbolID)
		}
		switch {
		case want.Qty != entry.Qty:
			return fmt.Errorf("snapshot qty mismatch: symbol=%d expected=%d actual=%d", entry.SymbolID, want.Qty, entry.Qty)
		case want.Cost != entry.Cost:
			return fmt.Errorf("snapshot cost mismatch: symbol=%d expected=%d actual=%d", entry.SymbolID, want.Cost, entry.Cost)
		case want.Realized != entry.Realized:
			return fmt.Errorf("snapshot realized mismatch: symbol=%d expected=%d actual=%d", entry.SymbolID, want.Realized, entry.Realized)
		case want.Fees != entry.Fees:
			return fmt.Errorf("snapshot fees mismatch: symbol=%d expected=%d actual=%d", entry.SymbolID, want.Fees, entry.Fees)
		case want.Cash != entry.Cash:
			return fmt.Errorf("snapshot cash mismatch: symbol=%d expected=%d actual=%d", entry.SymbolID, want.Cash, entry.Cash)
		}
	}
	return nil
}
