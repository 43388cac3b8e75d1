package ops

import (
	"hft/internal/chaos"
	"hft/internal/strategy"
)

// File mirrors the config document. The same keys are used for JSON and YAML.
type File struct {
	Instruments []InstrumentConfig `json:"instruments" yaml:"instruments"`
	RiskLimits  RiskConfig         `json:"risk_limits" yaml:"risk_limits"`
	Strategies  []strategy.Spec    `json:"strategies" yaml:"strategies"`
	Execution   ExecutionConfig    `json:"execution" yaml:"execution"`
	Engine      EngineConfig       `json:"engine" yaml:"engine"`
	Backtest    BacktestConfig     `json:"backtest" yaml:"backtest"`
	Logging     LoggingConfig      `json:"logging" yaml:"logging"`
	Persistence PersistenceConfig  `json:"persistence" yaml:"persistence"`
	Status      StatusConfig       `json:"status" yaml:"status"`
}

// InstrumentConfig is one instrument entry. Prices are decimal strings.
type InstrumentConfig struct {
	Symbol   string  `json:"symbol" yaml:"symbol"`
	Venue    string  `json:"venue" yaml:"venue"`
	TickSize Decimal `json:"tick_size" yaml:"tick_size"`
	LotSize  int64   `json:"lot_size" yaml:"lot_size"`
	MinPrice Decimal `json:"min_price" yaml:"min_price"`
	MaxPrice Decimal `json:"max_price" yaml:"max_price"`
	MinQty   int64   `json:"min_qty" yaml:"min_qty"`
	MaxQty   int64   `json:"max_qty" yaml:"max_qty"`
}

// LimitsConfig is one set of risk limits. Notional values are decimal strings.
type LimitsConfig struct {
	MaxPosition          int64    `json:"max_position" yaml:"max_position"`
	MaxPositionNotional  Decimal  `json:"max_position_notional" yaml:"max_position_notional"`
	MaxOrderQty          int64    `json:"max_order_qty" yaml:"max_order_qty"`
	MaxOrderNotional     Decimal  `json:"max_order_notional" yaml:"max_order_notional"`
	MaxOrdersPerSecond   int      `json:"max_orders_per_second" yaml:"max_orders_per_second"`
	RateWindow           Duration `json:"rate_window" yaml:"rate_window"`
	MaxDailyLoss         Decimal  `json:"max_daily_loss" yaml:"max_daily_loss"`
	MaxGrossExposure     Decimal  `json:"max_gross_exposure" yaml:"max_gross_exposure"`
	MinLiquidityScore    float64  `json:"min_liquidity_score" yaml:"min_liquidity_score"`
	LiquidityDepth       int      `json:"liquidity_depth" yaml:"liquidity_depth"`
	MaxPriceDeviationBps int64    `json:"max_price_deviation_bps" yaml:"max_price_deviation_bps"`
}

// RiskConfig holds global limits and per-symbol overrides keyed by symbol name.
type RiskConfig struct {
	KillSwitch       bool                    `json:"kill_switch" yaml:"kill_switch"`
	MaxGrossPosition int64                   `json:"max_gross_position" yaml:"max_gross_position"`
	Global           LimitsConfig            `json:"global" yaml:"global"`
	Symbols          map[string]LimitsConfig `json:"symbols" yaml:"symbols"`
}

// ExecutionConfig describes the venue connection and order deadlines.
type ExecutionConfig struct {
	VenueEndpoint string `json:"venue_endpoint" yaml:"venue_endpoint"`
	// CredentialsEnv names the environment variable holding the venue key.
	CredentialsEnv string   `json:"credentials_env" yaml:"credentials_env"`
	AckTimeout     Duration `json:"ack_timeout" yaml:"ack_timeout"`
	CancelTimeout  Duration `json:"cancel_timeout" yaml:"cancel_timeout"`
	CancelRetries  int      `json:"cancel_retries" yaml:"cancel_retries"`
	SendAttempts   int      `json:"send_attempts" yaml:"send_attempts"`
	OutboundQueue  int      `json:"outbound_queue" yaml:"outbound_queue"`
	RetryMin       Duration `json:"retry_min" yaml:"retry_min"`
	RetryMax       Duration `json:"retry_max" yaml:"retry_max"`
	DrainTimeout   Duration `json:"drain_timeout" yaml:"drain_timeout"`
}

// EngineConfig sizes the event loop.
type EngineConfig struct {
	VenueQueue     int      `json:"venue_queue" yaml:"venue_queue"`
	MarketQueue    int      `json:"market_queue" yaml:"market_queue"`
	ControlQueue   int      `json:"control_queue" yaml:"control_queue"`
	TimerTick      Duration `json:"timer_tick" yaml:"timer_tick"`
	TimerSlots     int      `json:"timer_slots" yaml:"timer_slots"`
	IdleWait       Duration `json:"idle_wait" yaml:"idle_wait"`
	StrategyBudget Duration `json:"strategy_budget" yaml:"strategy_budget"`
	MaxOverruns    int      `json:"max_overruns" yaml:"max_overruns"`
	RecordMarket   bool     `json:"record_market" yaml:"record_market"`
}

// GeneratorConfig shapes synthetic data used when no data path is set.
type GeneratorConfig struct {
	Seed          int64              `json:"seed" yaml:"seed"`
	Events        int                `json:"events" yaml:"events"`
	Interval      Duration           `json:"interval" yaml:"interval"`
	Levels        int                `json:"levels" yaml:"levels"`
	Volatility    int64              `json:"volatility" yaml:"volatility"`
	TradeRate     float64            `json:"trade_rate" yaml:"trade_rate"`
	MaxQty        int64              `json:"max_qty" yaml:"max_qty"`
	SnapshotEvery int                `json:"snapshot_every" yaml:"snapshot_every"`
	Prices        map[string]Decimal `json:"prices" yaml:"prices"`
}

// BacktestConfig selects the data source and the simulated venue.
type BacktestConfig struct {
	DataPath       string          `json:"data_path" yaml:"data_path"`
	FillModel      string          `json:"fill_model" yaml:"fill_model"`
	InitialCapital Decimal         `json:"initial_capital" yaml:"initial_capital"`
	CommissionRate Decimal         `json:"commission_rate" yaml:"commission_rate"`
	Latency        Duration        `json:"latency" yaml:"latency"`
	Horizon        Duration        `json:"horizon" yaml:"horizon"`
	Seed           string          `json:"seed" yaml:"seed"`
	Chaos          ChaosConfig     `json:"chaos" yaml:"chaos"`
	Generator      GeneratorConfig `json:"generator" yaml:"generator"`
}

// ChaosConfig mirrors chaos.Config with readable durations.
type ChaosConfig struct {
	Seed          int64    `json:"seed" yaml:"seed"`
	DropRate      float64  `json:"drop_rate" yaml:"drop_rate"`
	DuplicateRate float64  `json:"duplicate_rate" yaml:"duplicate_rate"`
	ReorderWindow int      `json:"reorder_window" yaml:"reorder_window"`
	MaxDelay      Duration `json:"max_delay" yaml:"max_delay"`
}

func (c ChaosConfig) resolve() chaos.Config {
	return chaos.Config{
		Seed:          c.Seed,
		DropRate:      c.DropRate,
		DuplicateRate: c.DuplicateRate,
		ReorderWindow: c.ReorderWindow,
		MaxDelay:      c.MaxDelay.Std(),
	}
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Sink   string `json:"sink" yaml:"sink"`
	Format string `json:"format" yaml:"format"`
}

type PersistenceConfig struct {
	WALDir             string   `json:"wal_dir" yaml:"wal_dir"`
	CheckpointDir      string   `json:"checkpoint_dir" yaml:"checkpoint_dir"`
	CheckpointInterval Duration `json:"checkpoint_interval" yaml:"checkpoint_interval"`
	CheckpointKeep     int      `json:"checkpoint_keep" yaml:"checkpoint_keep"`
	PostgresDSN        string   `json:"postgres_dsn" yaml:"postgres_dsn"`
}

type StatusConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}
