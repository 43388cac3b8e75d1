package ops

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hft/internal/core"
	"hft/pkg/exception"
)

func touch(t *testing.T, path, body string, at time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	require.NoError(t, os.Chtimes(path, at, at))
}

func TestWatcherPoll(t *testing.T) {
	path := writeConfig(t, "hft.yaml", yamlDoc)
	base := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, base, base))

	loaded, err := Load(path, nil)
	require.NoError(t, err)
	w, err := NewWatcher(loaded, nil, time.Millisecond, zerolog.Nop())
	require.NoError(t, err)

	cmds, err := w.Poll()
	require.NoError(t, err)
	assert.Empty(t, cmds)

	next := strings.Replace(yamlDoc, "max_position: 20", "max_position: 25", 1)
	next = strings.Replace(next, "max_gross_position: 500", "max_gross_position: 500\n  kill_switch: true", 1)
	next = strings.Replace(next, "enabled: false", "enabled: true", 1)
	touch(t, path, next, base.Add(time.Minute))

	cmds, err = w.Poll()
	require.NoError(t, err)
	require.Len(t, cmds, 3)
	assert.Equal(t, core.CommandKillSwitch, cmds[0].Kind)
	assert.True(t, cmds[0].On)
	assert.Equal(t, core.CommandRiskLimits, cmds[1].Kind)
	require.NotNil(t, cmds[1].Risk)
	if got := cmds[1].Risk.Global.MaxPosition; got != 25 {
		t.Fatalf("max position mismatch: got %d want %d", got, 25)
	}
	assert.Equal(t, core.CommandEnableStrategy, cmds[2].Kind)
	assert.Equal(t, uint32(2), cmds[2].StrategyID)

	cmds, err = w.Poll()
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestWatcherRejectsInstrumentChange(t *testing.T) {
	path := writeConfig(t, "hft.yaml", yamlDoc)
	base := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, base, base))

	loaded, err := Load(path, nil)
	require.NoError(t, err)
	w, err := NewWatcher(loaded, nil, time.Millisecond, zerolog.Nop())
	require.NoError(t, err)

	touch(t, path, strings.Replace(yamlDoc, `tick_size: "0.05"`, `tick_size: "0.10"`, 1), base.Add(time.Minute))
	_, err = w.Poll()
	require.ErrorIs(t, err, exception.ErrConfigInvalidValue)

	touch(t, path, "instruments: [", base.Add(2*time.Minute))
	_, err = w.Poll()
	require.ErrorIs(t, err, exception.ErrConfigMalformed)
}

func TestNewWatcherNeedsPath(t *testing.T) {
	_, err := NewWatcher(&Loaded{}, nil, 0, zerolog.Nop())
	require.ErrorIs(t, err, exception.ErrConfigMissing)
}
