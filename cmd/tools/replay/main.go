package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	yerrors "github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"hft/internal/codec"
	"hft/internal/recorder"
	"hft/internal/schema"
	"hft/internal/state"
	"hft/internal/store"
	"hft/pkg/exception"
)

type options struct {
	dir           string
	prefix        string
	checkpointDir string
	checkpointSeq uint64
	expect        string
	expectSeq     uint64
	out           string
	dump          bool
	noChecksum    bool
}

func main() {
	var opt options
	flag.StringVar(&opt.dir, "dir", "testdata/wal", "Event log directory")
	flag.StringVar(&opt.prefix, "prefix", "", "Segment prefix (default: events)")
	flag.StringVar(&opt.checkpointDir, "checkpoint-dir", "", "Checkpoint store to start from (empty: replay from an empty ledger)")
	flag.Uint64Var(&opt.checkpointSeq, "checkpoint-seq", 0, "Start from the checkpoint at or below this sequence (0=latest)")
	flag.StringVar(&opt.expect, "expect", "", "Snapshot JSON the rebuilt ledger must match")
	flag.Uint64Var(&opt.expectSeq, "expect-seq", 0, "Stored checkpoint the rebuilt ledger must match (needs -checkpoint-dir)")
	flag.StringVar(&opt.out, "out", "", "Write the rebuilt snapshot to this file")
	flag.BoolVar(&opt.dump, "dump", false, "Print every record")
	flag.BoolVar(&opt.noChecksum, "no-checksum", false, "Disable checksum validation")
	flag.Parse()

	os.Exit(run(opt))
}

func run(opt options) int {
	ctx := context.Background()

	var (
		checkpoints *store.Checkpoints
		start       *state.Snapshot
	)
	if opt.checkpointDir != "" {
		var err error
		if checkpoints, err = store.Open(opt.checkpointDir); err != nil {
			logs.Errorf("open checkpoints, err: %+v", err)
			return exception.ExitCode(err)
		}
		defer checkpoints.Close()

		var (
			snap state.Snapshot
			ok   bool
		)
		if opt.checkpointSeq > 0 {
			snap, ok, err = checkpoints.At(opt.checkpointSeq)
		} else {
			snap, ok, err = checkpoints.Latest()
		}
		if err == nil && !ok && opt.checkpointSeq > 0 {
			err = yerrors.Wrapf(exception.ErrSnapshotNotFound, "no checkpoint at or below seq %d", opt.checkpointSeq)
		}
		if err != nil {
			logs.Errorf("load checkpoint, err: %+v", err)
			return exception.ExitCode(err)
		}
		if ok {
			start = &snap
			logs.Infof("starting from checkpoint seq=%d positions=%d", snap.LastSeq, len(snap.Positions))
		}
	}

	if opt.dump {
		if err := dump(ctx, opt); err != nil {
			logs.Errorf("dump event log, err: %+v", err)
			return exception.ExitCode(err)
		}
	}

	res, err := state.Recover(ctx, state.RecoverConfig{
		WALDir:          opt.dir,
		FilePrefix:      opt.prefix,
		Checkpoint:      start,
		DisableChecksum: opt.noChecksum,
	})
	if err != nil {
		logs.Errorf("rebuild ledger, err: %+v", err)
		return exception.ExitCode(err)
	}
	actual := res.Ledger.Snapshot(res.LastEventTs)

	states := make(map[schema.OrderState]int)
	for _, o := range res.Orders {
		states[o.State]++
	}
	logs.Infof("replayed records=%d last_seq=%d positions=%d orders=%d", res.Records, res.LastSeq, len(actual.Positions), len(res.Orders))
	for st, n := range states {
		logs.Infof("  orders %s=%d", st, n)
	}
	for _, p := range actual.Positions {
		logs.Infof("  position symbol=%d qty=%d cost=%d realized=%d fees=%d", p.SymbolID, p.Qty, p.Cost, p.Realized, p.Fees)
	}

	if opt.out != "" {
		if err := state.WriteSnapshot(opt.out, actual); err != nil {
			logs.Errorf("write snapshot, err: %+v", err)
			return exception.ExitPersistence
		}
	}

	if opt.expect != "" {
		expected, err := state.ReadSnapshot(opt.expect)
		if err != nil {
			logs.Errorf("read expected snapshot, err: %+v", err)
			return exception.ExitConfig
		}
		if err := state.CompareSnapshots(expected, actual); err != nil {
			logs.Errorf("snapshot %s mismatch, err: %+v", opt.expect, err)
			return exception.ExitInvariant
		}
		logs.Infof("snapshot %s verified", opt.expect)
	}
	if opt.expectSeq > 0 {
		if checkpoints == nil {
			logs.Errorf("-expect-seq needs -checkpoint-dir")
			return exception.ExitConfig
		}
		expected, ok, err := checkpoints.At(opt.expectSeq)
		if err == nil && !ok {
			err = yerrors.Wrapf(exception.ErrSnapshotNotFound, "no checkpoint at or below seq %d", opt.expectSeq)
		}
		if err != nil {
			logs.Errorf("load expected checkpoint, err: %+v", err)
			return exception.ExitCode(err)
		}
		if err := state.CompareSnapshots(expected, actual); err != nil {
			logs.Errorf("checkpoint %d mismatch, err: %+v", expected.LastSeq, err)
			return exception.ExitInvariant
		}
		logs.Infof("checkpoint %d verified", expected.LastSeq)
	}
	return exception.ExitOK
}

func dump(ctx context.Context, opt options) error {
	pb, err := recorder.NewPlayback(recorder.PlaybackConfig{
		Dir:             opt.dir,
		FilePrefix:      opt.prefix,
		DisableChecksum: opt.noChecksum,
	})
	if err != nil {
		return err
	}
	var index int
	return pb.Run(ctx, func(header schema.EventHeader, payload []byte) error {
		index++
		fmt.Printf("%06d seq=%d type=%s ts_event=%d ts_recv=%d len=%d\n", index, header.Seq, header.Type, header.TsEvent, header.TsRecv, len(payload))
		printDecoded(header.Type, payload)
		return nil
	})
}

func printDecoded(t schema.EventType, payload []byte) {
	switch t {
	case schema.EventMarketData:
		ev, ok := codec.DecodeMarketEvent(payload)
		if !ok {
			fmt.Println("  decode market event failed")
			return
		}
		fmt.Printf("  md symbol=%d kind=%s seq=%d side=%s price=%d qty=%d depth=%d bids=%d asks=%d\n",
			ev.SymbolID, ev.Kind, ev.Seq, ev.Side, ev.Price, ev.Qty, ev.Depth, len(ev.Bids), len(ev.Asks))
	case schema.EventOrderIntent:
		intent, ok := codec.DecodeOrderIntent(payload)
		if !ok {
			fmt.Println("  decode order intent failed")
			return
		}
		fmt.Printf("  intent id=%d strategy=%d symbol=%d side=%s type=%s price=%d qty=%d\n",
			intent.IntentID, intent.StrategyID, intent.SymbolID, intent.Side, intent.Type, intent.Price, intent.Qty)
	case schema.EventRiskDecision:
		d, ok := codec.DecodeRiskDecision(payload)
		if !ok {
			fmt.Println("  decode risk decision failed")
			return
		}
		fmt.Printf("  risk intent=%d action=%d reason=%s version=%d qty=%d price=%d pos=%d\n",
			d.IntentID, d.Action, d.Reason, d.Version, d.ProposedQty, d.ProposedPrice, d.CurrentPos)
	case schema.EventOrderTransition:
		tr, ok := codec.DecodeOrderTransition(payload)
		if !ok {
			fmt.Println("  decode order transition failed")
			return
		}
		fmt.Printf("  order id=%d %s -> %s reason=%d filled=%d\n", tr.OrderID, tr.From, tr.To, tr.Reason, tr.FilledQty)
	case schema.EventFill:
		fill, ok := codec.DecodeFill(payload)
		if !ok {
			fmt.Println("  decode fill failed")
			return
		}
		fmt.Printf("  fill order=%d exec=%d symbol=%d side=%s price=%d qty=%d fee=%d\n",
			fill.OrderID, fill.ExecID, fill.SymbolID, fill.Side, fill.Price, fill.Qty, fill.Fee)
	}
}
