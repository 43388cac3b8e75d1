package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/yanun0323/logs"

	"hft/internal/chaos"
	"hft/internal/recorder"
	"hft/internal/schema"
	"hft/pkg/exception"
)

// record is one event log entry passing through the chaos engine.
type record struct {
	header  schema.EventHeader
	payload []byte
}

func main() {
	inputDir := flag.String("input-dir", "testdata/market", "Input event log directory")
	inputPrefix := flag.String("input-prefix", "", "Input segment prefix (default: events)")
	outputDir := flag.String("output-dir", "testdata/market_chaos", "Output event log directory")
	outputPrefix := flag.String("output-prefix", "", "Output segment prefix (default: events)")
	seed := flag.Int64("seed", 0, "RNG seed (0=now)")
	dropRate := flag.Float64("drop-rate", 0, "Drop probability for market data records [0-1]")
	dupRate := flag.Float64("dup-rate", 0, "Duplicate probability [0-1]")
	reorderWindow := flag.Int("reorder-window", 1, "Reorder window (>=1)")
	maxDelay := flag.Duration("max-delay", 0, "Max receive delay")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	flag.Parse()

	os.Exit(run(
		recorder.PlaybackConfig{Dir: *inputDir, FilePrefix: *inputPrefix, DisableChecksum: *noChecksum},
		*outputDir, *outputPrefix,
		chaos.Config{
			Seed:          *seed,
			DropRate:      *dropRate,
			DuplicateRate: *dupRate,
			ReorderWindow: *reorderWindow,
			MaxDelay:      *maxDelay,
		},
	))
}

func run(in recorder.PlaybackConfig, outDir, outPrefix string, cfg chaos.Config) int {
	pb, err := recorder.NewPlayback(in)
	if err != nil {
		logs.Errorf("open input, err: %+v", err)
		return exception.ExitConfig
	}
	engine, err := chaos.NewEngine(cfg, chaos.Hooks[record]{
		Delay: func(r record, d time.Duration) record {
			r.header.TsRecv += int64(d)
			return r
		},
		Droppable: func(r record) bool {
			return r.header.Type == schema.EventMarketData
		},
	})
	if err != nil {
		logs.Errorf("chaos config, err: %+v", err)
		return exception.ExitCode(err)
	}

	wcfg := recorder.DefaultConfig(outDir)
	if outPrefix != "" {
		wcfg.FilePrefix = outPrefix
	}
	wcfg.CopyPayload = true
	writer, err := recorder.NewWriter(wcfg)
	if err != nil {
		logs.Errorf("open output, err: %+v", err)
		return exception.ExitPersistence
	}
	if err := writer.Start(context.Background()); err != nil {
		logs.Errorf("start output, err: %+v", err)
		return exception.ExitPersistence
	}

	var seq, read uint64
	write := func(records []record) error {
		for _, r := range records {
			seq++
			r.header.Seq = seq
			if err := appendRecord(writer, r); err != nil {
				return err
			}
		}
		return nil
	}
	err = pb.Run(context.Background(), func(header schema.EventHeader, payload []byte) error {
		read++
		cp := make([]byte, len(payload))
		copy(cp, payload)
		return write(engine.Process(record{header: header, payload: cp}))
	})
	if err == nil {
		err = write(engine.Flush())
	}
	if cerr := writer.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		logs.Errorf("apply chaos, err: %+v", err)
		return exception.ExitPersistence
	}

	dropped, duplicated := engine.Stats()
	logs.Infof("chaos applied: seed=%d read=%d written=%d dropped=%d duplicated=%d", engine.Seed(), read, seq, dropped, duplicated)
	return exception.ExitOK
}

func appendRecord(w *recorder.Writer, r record) error {
	for {
		err := w.TryAppend(r.header, r.payload)
		if !errors.Is(err, recorder.ErrQueueFull) {
			return err
		}
		time.Sleep(50 * time.Microsecond)
	}
}
