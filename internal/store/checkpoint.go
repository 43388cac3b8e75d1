// Package store keeps ledger checkpoints in a pebble database. Keys are
// ordered by event log sequence, so the latest checkpoint is the last key.
package store

import (
	"encoding/binary"

	"github.com/cockroachdb/pebble"
	"github.com/yanun0323/errors"

	"hft/internal/state"
	"hft/pkg/exception"
)

var checkpointPrefix = []byte("ckpt/")

// keys: ckpt/<8-byte big-endian last seq>
func checkpointKey(seq uint64) []byte {
	key := make([]byte, len(checkpointPrefix)+8)
	copy(key, checkpointPrefix)
	binary.BigEndian.PutUint64(key[len(checkpointPrefix):], seq)
	return key
}

func checkpointSeq(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(checkpointPrefix):])
}

func checkpointBounds() *pebble.IterOptions {
	upper := append([]byte(nil), checkpointPrefix...)
	upper[len(upper)-1]++
	return &pebble.IterOptions{LowerBound: checkpointPrefix, UpperBound: upper}
}

// Checkpoints is a pebble-backed checkpoint store.
type Checkpoints struct {
	db *pebble.DB
}

// Open opens or creates the store under dir.
func Open(dir string) (*Checkpoints, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(exception.ErrStoreUnavailable, "open pebble %s: %v", dir, err)
	}
	return &Checkpoints{db: db}, nil
}

func (c *Checkpoints) Close() error { return c.db.Close() }

// Save writes snap under its LastSeq. Saving the same sequence twice keeps
// the newer snapshot.
func (c *Checkpoints) Save(snap state.Snapshot) error {
	data, err := state.MarshalSnapshot(snap)
	if err != nil {
		return errors.Wrap(err, "marshal checkpoint")
	}
	if err := c.db.Set(checkpointKey(snap.LastSeq), data, pebble.Sync); err != nil {
		return errors.Wrapf(exception.ErrStoreUnavailable, "save checkpoint seq %d: %v", snap.LastSeq, err)
	}
	return nil
}

// Latest returns the checkpoint with the highest sequence.
func (c *Checkpoints) Latest() (state.Snapshot, bool, error) {
	return c.find(func(it *pebble.Iterator) bool { return it.Last() })
}

// At returns the newest checkpoint at or below seq.
func (c *Checkpoints) At(seq uint64) (state.Snapshot, bool, error) {
	if seq == ^uint64(0) {
		return c.Latest()
	}
	return c.find(func(it *pebble.Iterator) bool { return it.SeekLT(checkpointKey(seq + 1)) })
}

func (c *Checkpoints) find(position func(it *pebble.Iterator) bool) (state.Snapshot, bool, error) {
	it, err := c.db.NewIter(checkpointBounds())
	if err != nil {
		return state.Snapshot{}, false, errors.Wrapf(exception.ErrStoreUnavailable, "iterate checkpoints: %v", err)
	}
	defer it.Close()
	if !position(it) {
		return state.Snapshot{}, false, it.Error()
	}
	snap, err := state.UnmarshalSnapshot(it.Value())
	if err != nil {
		return state.Snapshot{}, false, errors.Wrapf(err, "checkpoint seq %d", checkpointSeq(it.Key()))
	}
	return snap, true, nil
}

// Sequences lists the stored checkpoint sequences in ascending order.
func (c *Checkpoints) Sequences() ([]uint64, error) {
	it, err := c.db.NewIter(checkpointBounds())
	if err != nil {
		return nil, errors.Wrapf(exception.ErrStoreUnavailable, "iterate checkpoints: %v", err)
	}
	defer it.Close()
	var out []uint64
	for ok := it.First(); ok; ok = it.Next() {
		out = append(out, checkpointSeq(it.Key()))
	}
	return out, it.Error()
}

// Prune keeps the newest keep checkpoints and returns how many were removed.
func (c *Checkpoints) Prune(keep int) (int, error) {
	if keep < 1 {
		return 0, errors.Wrapf(exception.ErrConfigInvalidValue, "prune keep %d must be >= 1", keep)
	}
	seqs, err := c.Sequences()
	if err != nil {
		return 0, err
	}
	if len(seqs) <= keep {
		return 0, nil
	}
	drop := seqs[:len(seqs)-keep]
	batch := c.db.NewBatch()
	defer batch.Close()
	for _, seq := range drop {
		if err := batch.Delete(checkpointKey(seq), nil); err != nil {
			return 0, err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, errors.Wrapf(exception.ErrStoreUnavailable, "prune checkpoints: %v", err)
	}
	return len(drop), nil
}
