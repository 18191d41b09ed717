package backtester

import (
	"testing"

	"github.com/hyperarena/backtest-core/pkg/types"
	"go.uber.org/zap"
)

func TestRunWalkForwardSlicesOverlappingWindows(t *testing.T) {
	data := newFakeDataProvider(nil)
	data.defaultPrice = dec(100)
	e := NewEngine(data, nil, nil, holdStrategy{}, zap.NewNop())

	cfg := types.BacktestConfig{
		Symbols:           []string{"BTC-PERP"},
		InitialBalance:    dec(10000),
		ScheduledInterval: types.Interval5m,
		StartTimeMs:       0,
		EndTimeMs:         10 * dayMillis,
		Validation: &types.ValidationConfig{
			WalkForward: types.WalkForwardConfig{Enabled: true, WindowSizeDays: 4, StepSizeDays: 2},
		},
	}

	result := e.runWalkForward(cfg)
	if result == nil {
		t.Fatal("expected a non-nil walk-forward result")
	}
	if len(result.Windows) != 4 {
		t.Fatalf("expected 4 overlapping windows over a 10-day span, got %d", len(result.Windows))
	}

	w0 := result.Windows[0]
	wantInEnd := int64(float64(4*dayMillis) * inSampleRatio)
	if w0.InSampleStart != 0 || w0.InSampleEnd != wantInEnd {
		t.Fatalf("expected window 0 in-sample [0,%d), got [%d,%d)", wantInEnd, w0.InSampleStart, w0.InSampleEnd)
	}
	if w0.OutSampleStart != wantInEnd || w0.OutSampleEnd != 4*dayMillis {
		t.Fatalf("expected window 0 out-sample [%d,%d), got [%d,%d)", wantInEnd, 4*dayMillis, w0.OutSampleStart, w0.OutSampleEnd)
	}

	w3 := result.Windows[3]
	if w3.OutSampleEnd != 10*dayMillis {
		t.Fatalf("expected the last window's out-sample to end exactly at the run boundary, got %d", w3.OutSampleEnd)
	}
}

func TestRunWalkForwardReturnsNilWhenSpanIsShorterThanOneWindow(t *testing.T) {
	data := newFakeDataProvider(nil)
	data.defaultPrice = dec(100)
	e := NewEngine(data, nil, nil, holdStrategy{}, zap.NewNop())

	cfg := types.BacktestConfig{
		Symbols:           []string{"BTC-PERP"},
		InitialBalance:    dec(10000),
		ScheduledInterval: types.Interval5m,
		StartTimeMs:       0,
		EndTimeMs:         2 * dayMillis,
		Validation: &types.ValidationConfig{
			WalkForward: types.WalkForwardConfig{Enabled: true, WindowSizeDays: 30},
		},
	}

	if result := e.runWalkForward(cfg); result != nil {
		t.Fatalf("expected a nil result when the run is shorter than one window, got %+v", result)
	}
}

func TestRunWalkForwardFallsBackToDefaultWindowing(t *testing.T) {
	data := newFakeDataProvider(nil)
	data.defaultPrice = dec(100)
	e := NewEngine(data, nil, nil, holdStrategy{}, zap.NewNop())

	cfg := types.BacktestConfig{
		Symbols:           []string{"BTC-PERP"},
		InitialBalance:    dec(10000),
		ScheduledInterval: types.Interval5m,
		StartTimeMs:       0,
		EndTimeMs:         defaultWalkForwardWindowDays * dayMillis,
		Validation: &types.ValidationConfig{
			WalkForward: types.WalkForwardConfig{Enabled: true}, // zero WindowSizeDays/StepSizeDays
		},
	}

	result := e.runWalkForward(cfg)
	if result == nil || len(result.Windows) == 0 {
		t.Fatal("expected the default window/step sizes to still produce at least one window")
	}
}

func TestRobustnessIsZeroWithNoInSampleReturn(t *testing.T) {
	windows := []types.WalkForwardWindow{
		{InSampleStats: types.PerformanceStats{TotalPnLPercent: dec(0)}, OutSampleStats: types.PerformanceStats{TotalPnLPercent: dec(5)}},
	}
	if got := robustness(windows); !got.IsZero() {
		t.Fatalf("expected zero robustness with zero in-sample return, got %s", got)
	}
}

func TestRobustnessClampsNegativeRatioToZero(t *testing.T) {
	windows := []types.WalkForwardWindow{
		{InSampleStats: types.PerformanceStats{TotalPnLPercent: dec(10)}, OutSampleStats: types.PerformanceStats{TotalPnLPercent: dec(-5)}},
	}
	if got := robustness(windows); !got.IsZero() {
		t.Fatalf("expected a negative out/in ratio to clamp to zero, got %s", got)
	}
}

func TestRobustnessClampsAboveTwoToTwo(t *testing.T) {
	windows := []types.WalkForwardWindow{
		{InSampleStats: types.PerformanceStats{TotalPnLPercent: dec(1)}, OutSampleStats: types.PerformanceStats{TotalPnLPercent: dec(50)}},
	}
	if got := robustness(windows); !got.Equal(dec(2)) {
		t.Fatalf("expected the ratio to clamp at 2, got %s", got)
	}
}

func TestRobustnessComputesPlainRatioWithinBounds(t *testing.T) {
	windows := []types.WalkForwardWindow{
		{InSampleStats: types.PerformanceStats{TotalPnLPercent: dec(10)}, OutSampleStats: types.PerformanceStats{TotalPnLPercent: dec(5)}},
	}
	if got := robustness(windows); !got.Equal(dec(0.5)) {
		t.Fatalf("expected a 0.5 robustness ratio, got %s", got)
	}
}
