package backtester

import (
	"testing"

	"github.com/hyperarena/backtest-core/pkg/types"
)

func closedTrade(pnl float64) types.TradeRecord {
	return types.TradeRecord{
		RealizedPnL:   dec(pnl),
		ExitTimestamp: 1,
	}
}

func TestMetricsCalculatorComputesWinRateAndProfitFactor(t *testing.T) {
	mc := NewMetricsCalculator()
	trades := []types.TradeRecord{
		closedTrade(100),
		closedTrade(-50),
		closedTrade(200),
	}
	stats := mc.Calculate(trades, nil, dec(10000), dec(0), dec(0), 3, 3, 0)

	if stats.TotalTrades != 3 {
		t.Fatalf("expected 3 total trades, got %d", stats.TotalTrades)
	}
	if stats.WinningTrades != 2 || stats.LosingTrades != 1 {
		t.Fatalf("expected 2 wins and 1 loss, got %+v", stats)
	}
	if !stats.TotalPnL.Equal(dec(250)) {
		t.Fatalf("expected total pnl 250, got %s", stats.TotalPnL)
	}
	wantProfitFactor := dec(300).Div(dec(50))
	if !stats.ProfitFactor.Equal(wantProfitFactor) {
		t.Fatalf("expected profit factor %s, got %s", wantProfitFactor, stats.ProfitFactor)
	}
	wantWinRate := dec(2).Div(dec(3)).Mul(dec(100))
	if !stats.WinRate.Equal(wantWinRate) {
		t.Fatalf("expected win rate %s, got %s", wantWinRate, stats.WinRate)
	}
}

func TestMetricsCalculatorIgnoresOpenTrades(t *testing.T) {
	mc := NewMetricsCalculator()
	trades := []types.TradeRecord{
		{RealizedPnL: dec(999)}, // ExitTimestamp left at zero => still open
		closedTrade(10),
	}
	stats := mc.Calculate(trades, nil, dec(10000), dec(0), dec(0), 2, 2, 0)
	if stats.TotalTrades != 1 {
		t.Fatalf("expected only the closed trade to be counted, got %d", stats.TotalTrades)
	}
}

func TestMetricsCalculatorProfitFactorIsInfiniteWithNoLosses(t *testing.T) {
	mc := NewMetricsCalculator()
	trades := []types.TradeRecord{closedTrade(50), closedTrade(75)}
	stats := mc.Calculate(trades, nil, dec(10000), dec(0), dec(0), 2, 2, 0)

	if !stats.ProfitFactorInfinite {
		t.Fatal("expected the zero-losses case to flag ProfitFactorInfinite")
	}
	if !stats.ProfitFactor.IsZero() {
		t.Fatalf("expected ProfitFactor to stay at the zero Decimal when infinite, got %s", stats.ProfitFactor)
	}
}

func TestMetricsCalculatorProfitFactorIsZeroWithNoClosedTrades(t *testing.T) {
	mc := NewMetricsCalculator()
	stats := mc.Calculate(nil, nil, dec(10000), dec(0), dec(0), 0, 0, 0)
	if !stats.ProfitFactor.IsZero() {
		t.Fatalf("expected zero profit factor with no trades, got %s", stats.ProfitFactor)
	}
}

func TestSharpeRatioIsZeroWithFewerThanTwoReturns(t *testing.T) {
	curve := []types.EquityPoint{{Equity: dec(10000)}}
	if got := sharpeRatio(curve); got != 0 {
		t.Fatalf("expected 0 sharpe with a single equity point, got %f", got)
	}
}

func TestSharpeRatioIsZeroWithConstantEquity(t *testing.T) {
	curve := []types.EquityPoint{
		{Equity: dec(10000)}, {Equity: dec(10000)}, {Equity: dec(10000)},
	}
	if got := sharpeRatio(curve); got != 0 {
		t.Fatalf("expected 0 sharpe with zero variance, got %f", got)
	}
}

func TestSharpeRatioIsPositiveForAConsistentUptrend(t *testing.T) {
	curve := []types.EquityPoint{
		{Equity: dec(10000)}, {Equity: dec(10100)}, {Equity: dec(10200)}, {Equity: dec(10300)},
	}
	if got := sharpeRatio(curve); got <= 0 {
		t.Fatalf("expected a positive sharpe ratio for a steady uptrend, got %f", got)
	}
}
