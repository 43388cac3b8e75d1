package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"hft/internal/backtest"
	"hft/internal/obs"
	"hft/internal/ops"
	"hft/internal/recorder"
	"hft/internal/schema"
	"hft/pkg/exception"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML or JSON config")
	envFile := flag.String("env", "", "Dotenv file (default: ./.env when present)")
	dataDir := flag.String("data", "", "Market data event log directory (overrides backtest.data_path)")
	dataPrefix := flag.String("data-prefix", "", "Market data segment prefix (default: events)")
	events := flag.Int("events", 0, "Synthetic events when no data directory is set (0=config)")
	outDir := flag.String("wal-out", "", "Write the run's event log to this directory")
	reportPath := flag.String("report", "", "Write the JSON report to this file (default: stdout)")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty: profiling off)")
	flag.Parse()

	os.Exit(run(*configPath, *envFile, *dataDir, *dataPrefix, *events, *outDir, *reportPath, *pyroscopeAddr))
}

func run(configPath, envFile, dataDir, dataPrefix string, events int, outDir, reportPath, pyroscopeAddr string) int {
	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}
	if err := ops.LoadDotEnv(envFiles...); err != nil {
		logs.Errorf("load env, err: %+v", err)
		return exception.ExitCode(err)
	}
	loaded, err := ops.Load(configPath, nil)
	if err != nil {
		logs.Errorf("load config, err: %+v", err)
		return exception.ExitCode(err)
	}
	log, closer, err := obs.NewLogger(loaded.Logging)
	if err != nil {
		logs.Errorf("build logger, err: %+v", err)
		return exception.ExitCode(err)
	}
	defer closer.Close()

	if pyroscopeAddr != "" {
		stop, err := obs.StartProfiler(obs.ProfileConfig{Application: "hft.backtest", Server: pyroscopeAddr}, log)
		if err != nil {
			logs.Errorf("start profiler, err: %+v", err)
			return exception.ExitUnknown
		}
		defer stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sys.Shutdown():
			logs.Info("shutdown signal received, stopping backtest")
			cancel()
		case <-ctx.Done():
		}
	}()

	if dataDir == "" {
		dataDir = loaded.Backtest.DataPath
	}
	if events <= 0 {
		events = loaded.Backtest.Events
	}
	src, err := source(loaded, dataDir, dataPrefix, events)
	if err != nil {
		logs.Errorf("open source, err: %+v", err)
		return exception.ExitCode(err)
	}

	cfg := loaded.BacktestConfig()
	if outDir != "" {
		w, err := recorder.NewWriter(recorder.DefaultConfig(outDir))
		if err != nil {
			logs.Errorf("open event log, err: %+v", err)
			return exception.ExitPersistence
		}
		if err := w.Start(context.Background()); err != nil {
			logs.Errorf("start event log, err: %+v", err)
			return exception.ExitPersistence
		}
		defer func() {
			if err := w.Close(); err != nil {
				logs.Errorf("close event log, err: %+v", err)
			}
		}()
		cfg.Output = blocking{w}
	}

	driver, err := backtest.NewDriver(loaded.Registry, nil, cfg, log)
	if err != nil {
		logs.Errorf("build driver, err: %+v", err)
		return exception.ExitCode(err)
	}
	report, runErr := driver.Run(ctx, src)
	if report != nil {
		if err := writeReport(reportPath, report); err != nil {
			logs.Errorf("write report, err: %+v", err)
			return exception.ExitUnknown
		}
	}
	if runErr != nil {
		logs.Errorf("backtest failed, err: %+v", runErr)
		return exception.ExitCode(runErr)
	}
	return exception.ExitOK
}

func source(loaded *ops.Loaded, dir, prefix string, events int) (backtest.Source, error) {
	if dir != "" {
		return backtest.NewWALSource(recorder.PlaybackConfig{Dir: dir, FilePrefix: prefix})
	}
	return backtest.NewGeneratorSource(loaded.Registry, loaded.Backtest.Generator, events)
}

// blocking waits for room in the writer queue. A backtest runs faster than
// the disk, and its event log must not have holes.
type blocking struct {
	w *recorder.Writer
}

func (b blocking) Append(header schema.EventHeader, payload []byte) error {
	for {
		err := b.w.Append(header, payload)
		if !errors.Is(err, recorder.ErrQueueFull) {
			return err
		}
		time.Sleep(50 * time.Microsecond)
	}
}

func writeReport(path string, report *backtest.Report) error {
	out := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
