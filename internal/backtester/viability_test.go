package backtester

import (
	"testing"

	"github.com/hyperarena/backtest-core/pkg/types"
)

func TestAssessViabilityPassesEveryCheck(t *testing.T) {
	stats := types.PerformanceStats{
		SharpeRatio:        1.2,
		MaxDrawdownPercent: dec(8),
		ProfitFactor:       dec(2.0),
		WinRate:            dec(55),
		TotalTrades:        40,
	}
	report := AssessViability(stats, DefaultViabilityThresholds())
	if !report.Viable {
		t.Fatalf("expected a strategy clearing every threshold to be viable, got %+v", report)
	}
	if report.Score != 1.0 {
		t.Fatalf("expected a perfect score, got %f", report.Score)
	}
	if len(report.FailedChecks) != 0 {
		t.Fatalf("expected no failed checks, got %v", report.FailedChecks)
	}
}

func TestAssessViabilityReportsEachFailedCheck(t *testing.T) {
	stats := types.PerformanceStats{
		SharpeRatio:        0.1,
		MaxDrawdownPercent: dec(35),
		ProfitFactor:       dec(0.8),
		WinRate:            dec(20),
		TotalTrades:        5,
	}
	thresholds := DefaultViabilityThresholds()
	report := AssessViability(stats, thresholds)

	if report.Viable {
		t.Fatal("expected a strategy failing every threshold to be non-viable")
	}
	if len(report.FailedChecks) != 5 {
		t.Fatalf("expected all 5 checks to fail, got %v", report.FailedChecks)
	}
	if report.Score != 0 {
		t.Fatalf("expected a zero score, got %f", report.Score)
	}
}

func TestAssessViabilityScoresPartialPasses(t *testing.T) {
	thresholds := DefaultViabilityThresholds()
	stats := types.PerformanceStats{
		SharpeRatio:        thresholds.MinSharpeRatio + 0.1, // passes
		MaxDrawdownPercent: thresholds.MaxDrawdownPct.Add(dec(5)), // fails
		ProfitFactor:       thresholds.MinProfitFactor.Add(dec(1)), // passes
		WinRate:            thresholds.MinWinRate.Sub(dec(10)), // fails
		TotalTrades:        thresholds.MinTrades + 1, // passes
	}
	report := AssessViability(stats, thresholds)

	if report.Viable {
		t.Fatal("expected a strategy failing any check to be non-viable")
	}
	if report.Score != 0.6 {
		t.Fatalf("expected a 3/5 = 0.6 score, got %f", report.Score)
	}
	if len(report.FailedChecks) != 2 {
		t.Fatalf("expected exactly 2 failed checks, got %v", report.FailedChecks)
	}
}
