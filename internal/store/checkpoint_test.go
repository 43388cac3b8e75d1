package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hft/internal/schema"
	"hft/internal/state"
)

func snapshot(seq uint64, qty schema.Quantity) state.Snapshot {
	return state.Snapshot{
		Timestamp: int64(seq) * 1_000,
		LastSeq:   seq,
		Positions: []state.Position{{SymbolID: 1, Qty: qty, Cost: schema.Notional(qty) * 100}},
		Execs:     []state.ExecEntry{{OrderID: seq, ExecID: 1}},
	}
}

func TestCheckpointsLatestAndAt(t *testing.T) {
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	_, ok, err := c.Latest()
	require.NoError(t, err)
	require.False(t, ok)

	for _, seq := range []uint64{10, 300, 25} {
		require.NoError(t, c.Save(snapshot(seq, schema.Quantity(seq))))
	}

	latest, ok, err := c.Latest()
	require.NoError(t, err)
	require.True(t, ok)
	if latest.LastSeq != 300 {
		t.Fatalf("latest seq mismatch: got %d want %d", latest.LastSeq, 300)
	}
	assert.Equal(t, schema.Quantity(300), latest.Positions[0].Qty)

	tests := []struct {
		seq  uint64
		want uint64
		ok   bool
	}{
		{5, 0, false},
		{10, 10, true},
		{299, 25, true},
		{1_000, 300, true},
	}
	for _, tt := range tests {
		snap, ok, err := c.At(tt.seq)
		require.NoError(t, err)
		if ok != tt.ok || snap.LastSeq != tt.want {
			t.Fatalf("at %d mismatch: got (%d, %v) want (%d, %v)", tt.seq, snap.LastSeq, ok, tt.want, tt.ok)
		}
	}
}

func TestCheckpointsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, c.Save(snapshot(7, 3)))
	require.NoError(t, c.Close())

	c, err = Open(dir)
	require.NoError(t, err)
	defer c.Close()
	snap, ok, err := c.Latest()
	require.NoError(t, err)
	require.True(t, ok)
	assert.NoError(t, state.CompareSnapshots(snapshot(7, 3), snap))
}

func TestCheckpointsPrune(t *testing.T) {
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	defer c.Close()
	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, c.Save(snapshot(seq, 1)))
	}

	n, err := c.Prune(2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	seqs, err := c.Sequences()
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 5}, seqs)

	_, err = c.Prune(0)
	assert.Error(t, err)
}
