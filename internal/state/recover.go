package state

import (
	"context"
	"errors"
	"sort"

	yerrors "github.com/yanun0323/errors"

	"hft/internal/codec"
	"hft/internal/recorder"
	"hft/internal/schema"
	"hft/pkg/exception"
)

// RecoverConfig controls checkpoint + event log recovery.
type RecoverConfig struct {
	WALDir          string
	FilePrefix      string
	Checkpoint      *Snapshot
	DisableChecksum bool
	MaxPayloadSize  int
}

// OrderRecord is the order state rebuilt from intents and transitions.
type OrderRecord struct {
	OrderID   uint64             `json:"orderId"`
	Intent    schema.OrderIntent `json:"intent"`
	State     schema.OrderState  `json:"state"`
	VenueID   uint64             `json:"venueId"`
	FilledQty schema.Quantity    `json:"filledQty"`
	UpdatedAt int64              `json:"updatedAt"`
}

// RecoverResult contains recovered state and metadata.
type RecoverResult struct {
	Ledger      *Ledger
	Orders      []OrderRecord
	LastSeq     uint64
	LastEventTs int64
	Records     uint64
}

// Rebuilder folds event log records into a ledger and order table. Fills at
// or below the checkpoint sequence are already in the checkpoint and skipped.
type Rebuilder struct {
	ledger  *Ledger
	floor   uint64
	intents map[uint64]schema.OrderIntent
	orders  map[uint64]*OrderRecord
	lastSeq uint64
	lastTs  int64
	records uint64
}

// NewRebuilder starts from checkpoint, which may be nil.
func NewRebuilder(checkpoint *Snapshot) *Rebuilder {
	ledger := NewLedger()
	var floor uint64
	if checkpoint != nil {
		ledger.Restore(*checkpoint)
		floor = checkpoint.LastSeq
	}
	return &Rebuilder{
		ledger:  ledger,
		floor:   floor,
		intents: make(map[uint64]schema.OrderIntent),
		orders:  make(map[uint64]*OrderRecord),
	}
}

// Apply folds one record.
func (r *Rebuilder) Apply(header schema.EventHeader, payload []byte) error {
	r.records++
	if header.Seq > r.lastSeq {
		r.lastSeq = header.Seq
	}
	if header.TsEvent > r.lastTs {
		r.lastTs = header.TsEvent
	}

	switch header.Type {
	case schema.EventOrderIntent:
		intent, ok := codec.DecodeOrderIntent(payload)
		if !ok {
			return yerrors.Wrapf(exception.ErrLogCorrupted, "intent at seq %d", header.Seq)
		}
		r.intents[intent.IntentID] = intent
	case schema.EventOrderTransition:
		tr, ok := codec.DecodeOrderTransition(payload)
		if !ok {
			return yerrors.Wrapf(exception.ErrLogCorrupted, "transition at seq %d", header.Seq)
		}
		rec := r.orders[tr.OrderID]
		if rec == nil {
			rec = &OrderRecord{OrderID: tr.OrderID, Intent: r.intents[tr.OrderID]}
			r.orders[tr.OrderID] = rec
		}
		rec.State = tr.To
		if tr.VenueID != 0 {
			rec.VenueID = tr.VenueID
		}
		rec.FilledQty = tr.FilledQty
		rec.UpdatedAt = tr.Ts
	case schema.EventFill:
		if header.Seq <= r.floor {
			break
		}
		fill, ok := codec.DecodeFill(payload)
		if !ok {
			return yerrors.Wrapf(exception.ErrLogCorrupted, "fill at seq %d", header.Seq)
		}
		if _, err := r.ledger.ApplyFill(fill); err != nil && !errors.Is(err, exception.ErrOrderDuplicateFill) {
			return yerrors.Wrapf(err, "fill at seq %d", header.Seq)
		}
	}
	r.ledger.SetLastSeq(header.Seq)
	return nil
}

// Result returns the rebuilt state. Orders are sorted by ID.
func (r *Rebuilder) Result() RecoverResult {
	orders := make([]OrderRecord, 0, len(r.orders))
	for _, rec := range r.orders {
		orders = append(orders, *rec)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].OrderID < orders[j].OrderID })
	return RecoverResult{
		Ledger:      r.ledger,
		Orders:      orders,
		LastSeq:     r.lastSeq,
		LastEventTs: r.lastTs,
		Records:     r.records,
	}
}

// Recover loads the checkpoint and replays the event log directory.
func Recover(ctx context.Context, cfg RecoverConfig) (RecoverResult, error) {
	if cfg.WALDir == "" {
		return RecoverResult{}, yerrors.Wrap(exception.ErrConfigMissing, "event log dir is empty")
	}
	pb, err := recorder.NewPlayback(recorder.PlaybackConfig{
		Dir:             cfg.WALDir,
		FilePrefix:      cfg.FilePrefix,
		DisableChecksum: cfg.DisableChecksum,
		MaxPayloadSize:  cfg.MaxPayloadSize,
	})
	if err != nil {
		return RecoverResult{}, err
	}
	rb := NewRebuilder(cfg.Checkpoint)
	if err := pb.Run(ctx, rb.Apply); err != nil {
		if corrupted(err) {
			return RecoverResult{}, yerrors.Wrap(exception.ErrLogCorrupted, err.Error())
		}
		return RecoverResult{}, err
	}
	return rb.Result(), nil
}

func corrupted(err error) bool {
	for _, target := range []error{recorder.ErrChecksumMismatch, recorder.ErrTruncated, recorder.ErrBadMagic, recorder.ErrFrameVersion, recorder.ErrFrameHeader} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
