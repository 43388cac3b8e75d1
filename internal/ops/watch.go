package ops

import (
	"context"
	"os"
	"reflect"
	"time"

	"github.com/rs/zerolog"
	"github.com/yanun0323/errors"

	"hft/internal/core"
	"hft/internal/risk"
	"hft/internal/schema"
	"hft/internal/strategy"
	"hft/pkg/exception"
)

const defaultWatchInterval = 2 * time.Second

// Watcher polls the config file and reports the runtime-updatable changes:
// risk limits, the kill switch and strategy enablement. Everything else needs
// a restart.
type Watcher struct {
	path     string
	factory  *strategy.Factory
	interval time.Duration
	log      zerolog.Logger
	getenv   func(string) string

	current *Loaded
	modTime time.Time
}

// NewWatcher watches the file current was loaded from.
func NewWatcher(current *Loaded, factory *strategy.Factory, interval time.Duration, log zerolog.Logger) (*Watcher, error) {
	if current == nil || current.Path == "" {
		return nil, errors.Wrap(exception.ErrConfigMissing, "watch needs a loaded config file")
	}
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	info, err := os.Stat(current.Path)
	if err != nil {
		return nil, errors.Wrapf(exception.ErrConfigMissing, "stat %s: %v", current.Path, err)
	}
	return &Watcher{
		path:     current.Path,
		factory:  factory,
		interval: interval,
		log:      log,
		getenv:   os.Getenv,
		current:  current,
		modTime:  info.ModTime(),
	}, nil
}

// Run polls until ctx is done and hands every batch of commands to apply.
func (w *Watcher) Run(ctx context.Context, apply func([]core.Command)) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cmds, err := w.Poll()
			if err != nil {
				w.log.Warn().Err(err).Str("path", w.path).Msg("config reload rejected")
				continue
			}
			if len(cmds) > 0 {
				apply(cmds)
			}
		}
	}
}

// Poll reloads the file when its mtime moved and returns the commands that
// bring the running engine to the new config.
func (w *Watcher) Poll() ([]core.Command, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, errors.Wrapf(exception.ErrConfigMissing, "stat %s: %v", w.path, err)
	}
	if !info.ModTime().After(w.modTime) {
		return nil, nil
	}
	w.modTime = info.ModTime()

	f, err := Read(w.path)
	if err != nil {
		return nil, err
	}
	ApplyEnv(&f, w.getenv)
	next, err := f.Resolve(w.factory, w.getenv)
	if err != nil {
		return nil, err
	}
	next.Path = w.path
	cmds, err := Changes(w.current, next)
	if err != nil {
		return nil, err
	}
	w.current = next
	w.log.Info().Int("commands", len(cmds)).Msg("config reloaded")
	return cmds, nil
}

// Changes lists the control commands that move prev to next. The instrument
// set must not change.
func Changes(prev, next *Loaded) ([]core.Command, error) {
	if !sameInstruments(prev.Registry, next.Registry) {
		return nil, errors.Wrap(exception.ErrConfigInvalidValue, "instruments changed; restart required")
	}
	var cmds []core.Command
	if prev.Risk.KillSwitch != next.Risk.KillSwitch {
		cmds = append(cmds, core.Command{Kind: core.CommandKillSwitch, On: next.Risk.KillSwitch, Reason: "config"})
	}
	if !sameLimits(prev.Risk, next.Risk) {
		cmds = append(cmds, core.Command{Kind: core.CommandRiskLimits, Risk: next.Risk.Clone()})
	}

	was := make(map[uint32]bool, len(prev.Strategies))
	for _, s := range prev.Strategies {
		was[s.ID] = enabled(s)
	}
	for _, s := range next.Strategies {
		before, ok := was[s.ID]
		if !ok {
			continue
		}
		switch now := enabled(s); {
		case now && !before:
			cmds = append(cmds, core.Command{Kind: core.CommandEnableStrategy, StrategyID: s.ID})
		case !now && before:
			cmds = append(cmds, core.Command{Kind: core.CommandDisableStrategy, StrategyID: s.ID, Reason: "disabled by config"})
		}
	}
	return cmds, nil
}

func enabled(s strategy.Spec) bool { return s.Enabled == nil || *s.Enabled }

func sameInstruments(a, b *schema.Registry) bool {
	return reflect.DeepEqual(a.Instruments(), b.Instruments())
}

func sameLimits(a, b *risk.Config) bool {
	return a.MaxGrossPosition == b.MaxGrossPosition &&
		a.Global == b.Global &&
		reflect.DeepEqual(a.Symbols, b.Symbols)
}
