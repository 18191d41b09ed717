package backtester

import (
	"github.com/hyperarena/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
)

// ViabilityThresholds are the minimum requirements a strategy's
// PerformanceStats must clear to be marked viable.
type ViabilityThresholds struct {
	MinSharpeRatio  float64
	MaxDrawdownPct  decimal.Decimal
	MinProfitFactor decimal.Decimal
	MinWinRate      decimal.Decimal
	MinTrades       int
}

// DefaultViabilityThresholds mirrors the conservative defaults a
// strategy needs to clear before it is worth paper trading.
func DefaultViabilityThresholds() ViabilityThresholds {
	return ViabilityThresholds{
		MinSharpeRatio:  0.5,
		MaxDrawdownPct:  decimal.NewFromInt(20),
		MinProfitFactor: decimal.NewFromFloat(1.5),
		MinWinRate:      decimal.NewFromFloat(40),
		MinTrades:       30,
	}
}

// AssessViability scores a finished run's stats against thresholds.
// Score is the fraction of checks passed, in [0, 1]; Viable requires
// every check to pass.
func AssessViability(stats types.PerformanceStats, thresholds ViabilityThresholds) *types.ViabilityReport {
	var failed []string
	checks := 0
	passed := 0

	check := func(ok bool, name string) {
		checks++
		if ok {
			passed++
		} else {
			failed = append(failed, name)
		}
	}

	check(stats.SharpeRatio >= thresholds.MinSharpeRatio, "sharpe_ratio")
	check(stats.MaxDrawdownPercent.LessThanOrEqual(thresholds.MaxDrawdownPct), "max_drawdown")
	check(stats.ProfitFactorInfinite || stats.ProfitFactor.GreaterThanOrEqual(thresholds.MinProfitFactor), "profit_factor")
	check(stats.WinRate.GreaterThanOrEqual(thresholds.MinWinRate), "win_rate")
	check(stats.TotalTrades >= thresholds.MinTrades, "trade_count")

	score := 0.0
	if checks > 0 {
		score = float64(passed) / float64(checks)
	}

	return &types.ViabilityReport{
		Viable:       len(failed) == 0,
		Score:        score,
		FailedChecks: failed,
	}
}
