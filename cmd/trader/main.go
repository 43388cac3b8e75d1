package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"hft/internal/obs"
	"hft/internal/ops"
	"hft/pkg/exception"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML or JSON config")
	envFile := flag.String("env", "", "Dotenv file (default: ./.env when present)")
	feedURL := flag.String("feed", "", "Market data websocket URL (empty: synthetic paper feed)")
	feedHighWater := flag.Int("feed-high-water", 0, "Inbound depth at which deep book deltas are shed (0=engine queue size)")
	feedKeepDepth := flag.Int("feed-keep-depth", 5, "Deltas at or above this depth are never shed")
	reload := flag.Duration("config-reload-interval", 2*time.Second, "Config reload interval (0=disable)")
	recoverState := flag.Bool("recover", true, "Recover ledger from the latest checkpoint and the event log")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty: profiling off)")
	flag.Parse()

	os.Exit(run(options{
		configPath:    *configPath,
		envFile:       *envFile,
		feedURL:       *feedURL,
		feedHighWater: *feedHighWater,
		feedKeepDepth: uint16(*feedKeepDepth),
		reload:        *reload,
		recover:       *recoverState,
		pyroscope:     *pyroscopeAddr,
	}))
}

type options struct {
	configPath    string
	envFile       string
	feedURL       string
	feedHighWater int
	feedKeepDepth uint16
	reload        time.Duration
	recover       bool
	pyroscope     string
}

func run(opt options) int {
	var envFiles []string
	if opt.envFile != "" {
		envFiles = append(envFiles, opt.envFile)
	}
	if err := ops.LoadDotEnv(envFiles...); err != nil {
		logs.Errorf("load env, err: %+v", err)
		return exception.ExitCode(err)
	}

	loaded, err := ops.Load(opt.configPath, nil)
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

	if opt.pyroscope != "" {
		stop, err := obs.StartProfiler(obs.ProfileConfig{
			Application: "hft.trader",
			Server:      opt.pyroscope,
			Tags:        map[string]string{"config": loaded.Path},
		}, log)
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
			logs.Info("shutdown signal received, draining")
			cancel()
		case <-ctx.Done():
		}
	}()

	t, err := newTrader(ctx, loaded, log, opt)
	if err != nil {
		logs.Errorf("start trader, err: %+v", err)
		return exception.ExitCode(err)
	}
	err = t.run(ctx, cancel)
	if cerr := t.close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		logs.Errorf("trader stopped, err: %+v", err)
		return exception.ExitCode(err)
	}
	logs.Infof("trader stopped cleanly, run %s", t.rt.RunID)
	return exception.ExitOK
}
