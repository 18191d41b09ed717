package backtester

import (
	"math"

	"github.com/hyperarena/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
)

// MetricsCalculator computes the aggregate statistics of a finished
// run from its closed trades and equity curve.
type MetricsCalculator struct{}

// NewMetricsCalculator creates a metrics calculator.
func NewMetricsCalculator() *MetricsCalculator {
	return &MetricsCalculator{}
}

// Calculate computes PerformanceStats for a run.
func (mc *MetricsCalculator) Calculate(trades []types.TradeRecord, equityCurve []types.EquityPoint, initialBalance decimal.Decimal, maxDrawdown, maxDrawdownPct decimal.Decimal, totalTriggers, signalTriggers, scheduledTriggers int) types.PerformanceStats {
	stats := types.PerformanceStats{
		MaxDrawdown:        maxDrawdown,
		MaxDrawdownPercent: maxDrawdownPct.Mul(decimal.NewFromInt(100)),
		TotalTriggers:      totalTriggers,
		SignalTriggers:     signalTriggers,
		ScheduledTriggers:  scheduledTriggers,
	}

	closed := make([]types.TradeRecord, 0, len(trades))
	for _, t := range trades {
		if t.IsClosed() {
			closed = append(closed, t)
		}
	}
	stats.TotalTrades = len(closed)

	var totalPnL, totalWins, totalLosses decimal.Decimal
	for _, t := range closed {
		totalPnL = totalPnL.Add(t.RealizedPnL)
		if t.RealizedPnL.GreaterThan(decimal.Zero) {
			stats.WinningTrades++
			totalWins = totalWins.Add(t.RealizedPnL)
			if t.RealizedPnL.GreaterThan(stats.LargestWin) {
				stats.LargestWin = t.RealizedPnL
			}
		} else if t.RealizedPnL.LessThan(decimal.Zero) {
			stats.LosingTrades++
			totalLosses = totalLosses.Add(t.RealizedPnL.Abs())
			if t.RealizedPnL.Abs().GreaterThan(stats.LargestLoss) {
				stats.LargestLoss = t.RealizedPnL.Abs()
			}
		}
	}

	stats.TotalPnL = totalPnL
	if initialBalance.GreaterThan(decimal.Zero) {
		stats.TotalPnLPercent = totalPnL.Div(initialBalance).Mul(decimal.NewFromInt(100))
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = decimal.NewFromInt(int64(stats.WinningTrades)).Div(decimal.NewFromInt(int64(stats.TotalTrades))).Mul(decimal.NewFromInt(100))
	}
	if stats.WinningTrades > 0 {
		stats.AvgWin = totalWins.Div(decimal.NewFromInt(int64(stats.WinningTrades)))
	}
	if stats.LosingTrades > 0 {
		stats.AvgLoss = totalLosses.Div(decimal.NewFromInt(int64(stats.LosingTrades)))
	}

	switch {
	case totalLosses.IsZero() && stats.WinningTrades > 0:
		// Profit factor is unbounded; decimal.Decimal has no
		// representation for infinity, so flag it instead.
		stats.ProfitFactorInfinite = true
	case totalLosses.IsZero():
		stats.ProfitFactor = decimal.Zero
	default:
		stats.ProfitFactor = totalWins.Div(totalLosses)
	}

	stats.SharpeRatio = sharpeRatio(equityCurve)
	return stats
}

// sharpeRatio computes per-trigger returns from the equity curve,
// annualized by sqrt(252) using the sample standard deviation
// (N-1 denominator), matching the original Python implementation's
// use of statistics.stdev. Defined as 0 when the sample has fewer
// than two returns or zero variance.
func sharpeRatio(equityCurve []types.EquityPoint) float64 {
	if len(equityCurve) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(equityCurve)-1)
	for i := 1; i < len(equityCurve); i++ {
		prev := equityCurve[i-1].Equity
		if prev.LessThanOrEqual(decimal.Zero) {
			continue
		}
		r := equityCurve[i].Equity.Sub(prev).Div(prev)
		f, _ := r.Float64()
		returns = append(returns, f)
	}
	if len(returns) < 2 {
		return 0
	}
	mean := meanFloat(returns)
	std := sampleStdDev(returns, mean)
	if std == 0 {
		return 0
	}
	return (mean / std) * math.Sqrt(252)
}

func meanFloat(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func sampleStdDev(values []float64, mean float64) float64 {
	var sumSquares float64
	for _, v := range values {
		diff := v - mean
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)-1))
}
