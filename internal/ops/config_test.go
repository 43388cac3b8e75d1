package ops

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hft/internal/backtest"
	"hft/internal/schema"
	"hft/internal/state"
	"hft/pkg/exception"
)

const yamlDoc = `
instruments:
  - symbol: BTC-USD
    venue: sim
    tick_size: 0.01
    lot_size: 1
    min_price: "0.01"
    max_price: "1000000"
    min_qty: 1
    max_qty: 1000
  - symbol: ETH-USD
    venue: sim
    tick_size: "0.05"
    min_qty: 1
    max_qty: 5000
risk_limits:
  max_gross_position: 500
  global:
    max_position: 20
    max_order_qty: 10
    max_order_notional: "250000.50"
    max_orders_per_second: 50
    rate_window: 1s
    max_daily_loss: "10000"
    max_price_deviation_bps: 75
  symbols:
    ETH-USD:
      max_position: 40
strategies:
  - name: trend-btc
    type: trend
    symbols: [BTC-USD]
    params:
      window: 8
      threshold_bps: 0.5
  - name: mm-eth
    type: marketmaker
    symbols: [ETH-USD]
    enabled: false
    params:
      refresh: 250ms
execution:
  venue_endpoint: ws://localhost:9001/orders
  ack_timeout: 750ms
  cancel_timeout: 300ms
  cancel_retries: 5
  send_attempts: 4
  retry_min: 50ms
  retry_max: 1s
engine:
  strategy_budget: 500us
  timer_tick: 1ms
backtest:
  fill_model: queue_aware
  initial_capital: "100000"
  commission_rate: "0.0002"
  latency: 2ms
  seed: nightly
  generator:
    seed: 7
    events: 2500
    prices:
      BTC-USD: "100.00"
logging:
  level: debug
  format: console
persistence:
  wal_dir: /var/lib/hft/wal
  checkpoint_interval: 30s
status:
  addr: 127.0.0.1:8080
`

const jsonDoc = `{
  "instruments": [
    {"symbol": "BTC-USD", "venue": "sim", "tick_size": 0.01, "min_qty": 1, "max_qty": 1000}
  ],
  "risk_limits": {"global": {"max_position": 5, "max_order_notional": 1000.25}},
  "strategies": [
    {"id": 9, "name": "trend", "type": "trend", "symbols": ["BTC-USD"], "params": {"window": 12}}
  ],
  "backtest": {"fill_model": "naive", "initial_capital": "5000"},
  "logging": {"level": "info"}
}`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	loaded, err := Load(writeConfig(t, "hft.yaml", yamlDoc), nil)
	require.NoError(t, err)

	reg := loaded.Registry
	require.True(t, reg.Sealed())
	require.Equal(t, 2, reg.InstrumentCount())
	btc, err := reg.Lookup("BTC-USD")
	require.NoError(t, err)
	if btc.TickSize != 10_000 {
		t.Fatalf("tick size mismatch: got %d want %d", btc.TickSize, 10_000)
	}
	assert.Equal(t, schema.Price(1_000_000*schema.PriceScale), btc.MaxPrice)
	eth, err := reg.Lookup("ETH-USD")
	require.NoError(t, err)
	assert.Equal(t, schema.Quantity(1), eth.LotSize)
	assert.Equal(t, btc.VenueID, eth.VenueID)

	r := loaded.Risk
	assert.Equal(t, schema.Quantity(500), r.MaxGrossPosition)
	assert.Equal(t, schema.Notional(250_000_500_000), r.Global.MaxOrderNotional)
	assert.Equal(t, time.Second, r.Global.RateWindow)
	assert.Equal(t, schema.Quantity(40), r.For(eth.ID).MaxPosition)
	assert.Equal(t, schema.Quantity(20), r.For(btc.ID).MaxPosition)

	require.Len(t, loaded.Strategies, 2)
	assert.Equal(t, uint32(1), loaded.Strategies[0].ID)
	assert.Equal(t, uint32(2), loaded.Strategies[1].ID)
	require.NotNil(t, loaded.Strategies[1].Enabled)
	assert.False(t, *loaded.Strategies[1].Enabled)

	assert.Equal(t, 750*time.Millisecond, loaded.Engine.Gateway.AckTimeout)
	assert.Equal(t, 300*time.Millisecond, loaded.Engine.Gateway.CancelTimeout)
	assert.Equal(t, 5, loaded.Engine.Gateway.CancelRetries)
	assert.Equal(t, 500*time.Microsecond, loaded.Engine.Host.Budget)
	assert.Equal(t, time.Millisecond, loaded.Engine.TimerTick)
	assert.Equal(t, 4, loaded.Execution.Worker.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, loaded.Execution.Worker.Backoff.Min)
	assert.Equal(t, "ws://localhost:9001/orders", loaded.Execution.Endpoint)

	bt := loaded.Backtest
	assert.Equal(t, backtest.FillQueue, bt.Sim.Model)
	assert.Equal(t, 2*time.Millisecond, bt.Sim.Latency)
	assert.Equal(t, "100000", bt.InitialCapital.String())
	assert.Equal(t, 2500, bt.Events)
	assert.Equal(t, schema.Price(100*schema.PriceScale), bt.Generator.Prices["BTC-USD"])
	fees, ok := bt.Sim.Fees.(state.FlatBps)
	require.True(t, ok)
	assert.Equal(t, "2", fees.TakerBps.String())

	assert.Equal(t, "debug", loaded.Logging.Level)
	assert.Equal(t, "console", loaded.Logging.Format)
	assert.Equal(t, 30*time.Second, loaded.Persistence.CheckpointInterval)
	assert.Equal(t, "127.0.0.1:8080", loaded.StatusAddr)

	cfg := loaded.BacktestConfig()
	assert.Equal(t, "nightly", cfg.Seed)
	assert.Same(t, loaded.Risk, cfg.Risk)
}

func TestLoadJSON(t *testing.T) {
	loaded, err := Load(writeConfig(t, "hft.json", jsonDoc), nil)
	require.NoError(t, err)

	btc, err := loaded.Registry.Lookup("BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, schema.Price(10_000), btc.TickSize)
	assert.Equal(t, schema.Notional(1_000_250_000), loaded.Risk.Global.MaxOrderNotional)
	assert.Equal(t, uint32(9), loaded.Strategies[0].ID)
	assert.Equal(t, backtest.FillNaive, loaded.Backtest.Sim.Model)
	_, ok := loaded.Backtest.Sim.Fees.(state.NoFees)
	assert.True(t, ok)
	assert.Equal(t, "backtest", loaded.Backtest.Seed)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
		want error
	}{
		{"missing file", "", "", exception.ErrConfigMissing},
		{"bad extension", "hft.toml", "x = 1", exception.ErrConfigMalformed},
		{"malformed yaml", "hft.yaml", "instruments: [", exception.ErrConfigMalformed},
		{"unknown key", "hft.json", `{"instrumentz": []}`, exception.ErrConfigMalformed},
		{"no instruments", "hft.json", `{}`, exception.ErrConfigMissing},
		{
			"tick too precise", "hft.json",
			`{"instruments": [{"symbol": "X", "venue": "v", "tick_size": "0.0000001", "min_qty": 1}]}`,
			exception.ErrConfigInvalidValue,
		},
		{
			"bad decimal", "hft.json",
			`{"instruments": [{"symbol": "X", "venue": "v", "tick_size": "one cent", "min_qty": 1}]}`,
			exception.ErrConfigMalformed,
		},
		{
			"unknown strategy symbol", "hft.json",
			`{"instruments": [{"symbol": "X", "venue": "v", "tick_size": "0.01", "min_qty": 1}],
			  "strategies": [{"name": "t", "type": "trend", "symbols": ["Y"]}]}`,
			exception.ErrConfigUnknownSymbol,
		},
		{
			"unknown strategy type", "hft.json",
			`{"instruments": [{"symbol": "X", "venue": "v", "tick_size": "0.01", "min_qty": 1}],
			  "strategies": [{"name": "t", "type": "arb", "symbols": ["X"]}]}`,
			exception.ErrConfigUnknownType,
		},
		{
			"unknown limits symbol", "hft.yaml",
			"instruments: [{symbol: X, venue: v, tick_size: 0.01, min_qty: 1}]\nrisk_limits: {symbols: {Y: {max_position: 1}}}\n",
			exception.ErrConfigUnknownSymbol,
		},
		{
			"negative limit", "hft.yaml",
			"instruments: [{symbol: X, venue: v, tick_size: 0.01, min_qty: 1}]\nrisk_limits: {global: {max_position: -1}}\n",
			exception.ErrConfigInvalidValue,
		},
		{
			"bad fill model", "hft.yaml",
			"instruments: [{symbol: X, venue: v, tick_size: 0.01, min_qty: 1}]\nbacktest: {fill_model: magic}\n",
			exception.ErrConfigInvalidValue,
		},
		{
			"bad duration", "hft.yaml",
			"instruments: [{symbol: X, venue: v, tick_size: 0.01, min_qty: 1}]\nexecution: {ack_timeout: soon}\n",
			exception.ErrConfigMalformed,
		},
		{
			"duplicate strategy id", "hft.json",
			`{"instruments": [{"symbol": "X", "venue": "v", "tick_size": "0.01", "min_qty": 1}],
			  "strategies": [{"id": 3, "type": "trend", "symbols": ["X"]}, {"id": 3, "type": "meanrev", "symbols": ["X"]}]}`,
			exception.ErrConfigInvalidValue,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "absent.yaml")
			if tt.file != "" {
				path = writeConfig(t, tt.file, tt.body)
			}
			_, err := Load(path, nil)
			require.Error(t, err)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error mismatch: got %v want %v", err, tt.want)
			}
			assert.Equal(t, exception.KindConfig, exception.KindOf(err))
		})
	}
}

func TestDecimalScaled(t *testing.T) {
	tests := []struct {
		in      Decimal
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"1", 1_000_000, false},
		{"0.000001", 1, false},
		{"-2.5", -2_500_000, false},
		{" 12.340000 ", 12_340_000, false},
		{"0.0000005", 0, true},
		{"1e20", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			got, err := tt.in.Scaled()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if got != tt.want {
				t.Fatalf("scaled mismatch: got %d want %d", got, tt.want)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvLogLevel:      "warn",
		EnvStatusAddr:    ":9090",
		EnvVenueEndpoint: "wss://venue.example/ws",
		EnvPostgresDSN:   "host=db user=hft",
	}
	f, err := Parse([]byte(yamlDoc), FormatYAML)
	require.NoError(t, err)
	ApplyEnv(&f, func(k string) string { return env[k] })

	assert.Equal(t, "warn", f.Logging.Level)
	assert.Equal(t, "console", f.Logging.Format)
	assert.Equal(t, ":9090", f.Status.Addr)
	assert.Equal(t, "wss://venue.example/ws", f.Execution.VenueEndpoint)
	assert.Equal(t, "host=db user=hft", f.Persistence.PostgresDSN)
	assert.Equal(t, "/var/lib/hft/wal", f.Persistence.WALDir)
}

func TestCredentialsResolvedFromEnv(t *testing.T) {
	f, err := Parse([]byte(jsonDoc), FormatJSON)
	require.NoError(t, err)
	f.Execution.CredentialsEnv = "VENUE_KEY"

	_, err = f.Resolve(nil, func(string) string { return "" })
	require.ErrorIs(t, err, exception.ErrConfigMissing)

	loaded, err := f.Resolve(nil, func(k string) string {
		if k == "VENUE_KEY" {
			return "s3cret"
		}
		return ""
	})
	require.NoError(t, err)
	assert.Equal(t, "s3cret", loaded.Execution.Credentials)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("HFT_TEST_DOTENV=loaded\n"), 0o644))
	t.Setenv("HFT_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("HFT_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("HFT_TEST_DOTENV"))

	err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"))
	require.ErrorIs(t, err, exception.ErrConfigMissing)
}
