package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionPriceMode selects which candle field a scheduled trigger's
// "current price" is drawn from.
type ExecutionPriceMode string

const (
	ExecutionPriceClose ExecutionPriceMode = "close"
	ExecutionPriceOpen  ExecutionPriceMode = "open"
	ExecutionPriceVWAP  ExecutionPriceMode = "vwap"
)

// BacktestConfig is the immutable input to a backtest run.
type BacktestConfig struct {
	ID                string             `json:"id,omitempty"`
	StrategyCode      string             `json:"strategyCode"`
	StrategyParams    map[string]any     `json:"strategyParams,omitempty"`
	SignalPoolIDs     []string           `json:"signalPoolIds,omitempty"`
	Symbols           []string           `json:"symbols"`
	StartTimeMs       int64              `json:"startTimeMs"`
	EndTimeMs         int64              `json:"endTimeMs"`
	ScheduledInterval Interval           `json:"scheduledInterval,omitempty"`
	InitialBalance    decimal.Decimal    `json:"initialBalance"`
	SlippagePercent   decimal.Decimal    `json:"slippagePercent"`
	FeeRate           decimal.Decimal    `json:"feeRate"`
	ExecutionPrice    ExecutionPriceMode `json:"executionPrice"`
	RiskLimits        *RiskLimits        `json:"riskLimits,omitempty"`
	Validation        *ValidationConfig  `json:"validation,omitempty"`
	Sizing            *SizingConfig      `json:"sizing,omitempty"`
}

// SizingMode selects how a Decision's position size is determined
// when it omits an explicit TargetPortionOfBalance.
type SizingMode string

const (
	SizingModeFlat            SizingMode = "flat"             // ExecutionSimulator's built-in max-portion default
	SizingModeKelly           SizingMode = "kelly"             // conservative fractional Kelly
	SizingModeKellyAggressive SizingMode = "kelly_aggressive" // half-Kelly, wider caps
)

// SizingConfig opts a run into Kelly-based sizing in place of the
// default flat portion-of-balance rule.
type SizingConfig struct {
	Mode SizingMode `json:"mode"`
}

// DefaultBacktestConfig mirrors the original Python defaults.
func DefaultBacktestConfig() BacktestConfig {
	return BacktestConfig{
		InitialBalance:  decimal.NewFromFloat(10000.0),
		SlippagePercent: decimal.NewFromFloat(0.05),
		FeeRate:         decimal.NewFromFloat(0.035),
		ExecutionPrice:  ExecutionPriceClose,
	}
}

// RiskLimits gates the optional kill-switch monitor.
type RiskLimits struct {
	MaxDrawdownPct     decimal.Decimal `json:"maxDrawdownPct"`
	MaxDailyLossPct    decimal.Decimal `json:"maxDailyLossPct"`
	MaxConsecutiveLoss int             `json:"maxConsecutiveLoss"`
	MaxOpenPositions   int             `json:"maxOpenPositions"`
	MaxLeverage        decimal.Decimal `json:"maxLeverage"`
}

// ValidationConfig toggles the post-run validation layer.
type ValidationConfig struct {
	MonteCarlo  MonteCarloConfig  `json:"monteCarlo,omitempty"`
	WalkForward WalkForwardConfig `json:"walkForward,omitempty"`
}

// MonteCarloConfig configures bootstrap resampling.
type MonteCarloConfig struct {
	Enabled    bool `json:"enabled"`
	Iterations int  `json:"iterations"`
	Seed       int64 `json:"seed,omitempty"`
}

// WalkForwardConfig configures walk-forward windowing.
type WalkForwardConfig struct {
	Enabled        bool  `json:"enabled"`
	WindowSizeDays int   `json:"windowSizeDays"`
	StepSizeDays   int   `json:"stepSizeDays"`
}

// BacktestProgress is the streaming form's progress snapshot.
type BacktestProgress struct {
	ID              string          `json:"id"`
	Status          string          `json:"status"`
	TriggersDone    uint64          `json:"triggersDone"`
	TriggersTotal   uint64          `json:"triggersTotal"`
	CurrentTime     int64           `json:"currentTime"`
	TradesExecuted  int             `json:"tradesExecuted"`
	CurrentEquity   decimal.Decimal `json:"currentEquity"`
	Error           string          `json:"error,omitempty"`
}

// ServerConfig configures the optional HTTP/WebSocket host.
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	ReadTimeout    time.Duration `json:"readTimeout"`
	WriteTimeout   time.Duration `json:"writeTimeout"`
	MaxConnections int           `json:"maxConnections"`
	EnableMetrics  bool          `json:"enableMetrics"`
	MetricsPort    int           `json:"metricsPort"`
}

// DataConfig configures the file-backed market data store.
type DataConfig struct {
	DataDir   string `json:"dataDir"`
	CacheSize int    `json:"cacheSize"`
}
