package main

import (
	"context"
	"flag"
	"os"

	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"hft/internal/mdg"
	"hft/internal/ops"
	"hft/internal/recorder"
	"hft/pkg/exception"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML or JSON config (instruments and backtest.generator)")
	walDir := flag.String("wal-dir", "testdata/market", "Output event log directory")
	prefix := flag.String("prefix", "", "Segment file prefix (default: events)")
	events := flag.Int("events", 0, "Number of events to generate (0=backtest.events)")
	seed := flag.Int64("seed", 0, "Generator seed (0=backtest.generator.seed)")
	source := flag.Uint("source", 1, "Source ID stamped on every record")
	flag.Parse()

	os.Exit(run(*configPath, *walDir, *prefix, *events, *seed, uint16(*source)))
}

func run(configPath, walDir, prefix string, events int, seed int64, source uint16) int {
	loaded, err := ops.Load(configPath, nil)
	if err != nil {
		logs.Errorf("load config, err: %+v", err)
		return exception.ExitCode(err)
	}
	cfg := loaded.Backtest.Generator
	if seed != 0 {
		cfg.Seed = seed
	}
	if events <= 0 {
		events = loaded.Backtest.Events
	}
	gen, err := mdg.NewGenerator(loaded.Registry, cfg)
	if err != nil {
		logs.Errorf("build generator, err: %+v", err)
		return exception.ExitCode(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sys.Shutdown():
			cancel()
		case <-ctx.Done():
		}
	}()

	wcfg := recorder.DefaultConfig(walDir)
	if prefix != "" {
		wcfg.FilePrefix = prefix
	}
	writer, err := recorder.NewWriter(wcfg)
	if err != nil {
		logs.Errorf("open event log, err: %+v", err)
		return exception.ExitPersistence
	}
	if err := writer.Start(context.Background()); err != nil {
		logs.Errorf("start event log, err: %+v", err)
		return exception.ExitPersistence
	}

	n, recErr := mdg.Record(ctx, gen, writer, source, events)
	if err := writer.Close(); err != nil {
		logs.Errorf("close event log, err: %+v", err)
		return exception.ExitPersistence
	}
	if recErr != nil {
		logs.Errorf("generate market data, wrote %d of %d, err: %+v", n, events, recErr)
		return exception.ExitPersistence
	}
	written, dropped := writer.Stats()
	logs.Infof("wrote %d market events to %s (written=%d dropped=%d instruments=%d)", n, walDir, written, dropped, loaded.Registry.InstrumentCount())
	return exception.ExitOK
}
