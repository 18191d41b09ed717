package backtester

import (
	"context"

	"github.com/hyperarena/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultWalkForwardWindowDays = 30
	defaultWalkForwardStepDays   = 7
	inSampleRatio                = 0.8
	dayMillis                    = int64(24 * 60 * 60 * 1000)
)

// runWalkForward slices cfg's time range into overlapping in-sample /
// out-of-sample windows and re-runs the engine over each, using a
// fresh Engine per window so no state leaks across windows.
func (e *Engine) runWalkForward(cfg types.BacktestConfig) *types.WalkForwardResult {
	windowDays := cfg.Validation.WalkForward.WindowSizeDays
	if windowDays <= 0 {
		windowDays = defaultWalkForwardWindowDays
	}
	stepDays := cfg.Validation.WalkForward.StepSizeDays
	if stepDays <= 0 {
		stepDays = defaultWalkForwardStepDays
	}

	windowMs := int64(windowDays) * dayMillis
	stepMs := int64(stepDays) * dayMillis
	inSampleMs := int64(float64(windowMs) * inSampleRatio)

	var windows []types.WalkForwardWindow
	for start := cfg.StartTimeMs; start+windowMs <= cfg.EndTimeMs; start += stepMs {
		windows = append(windows, types.WalkForwardWindow{
			InSampleStart:  start,
			InSampleEnd:    start + inSampleMs,
			OutSampleStart: start + inSampleMs,
			OutSampleEnd:   start + windowMs,
		})
	}
	if len(windows) == 0 {
		return nil
	}

	e.logger.Info("starting walk-forward analysis",
		zap.Int("windowCount", len(windows)),
		zap.Int("windowSizeDays", windowDays),
		zap.Int("stepSizeDays", stepDays),
	)

	for i := range windows {
		windows[i].InSampleStats = e.runWindow(cfg, windows[i].InSampleStart, windows[i].InSampleEnd)
		windows[i].OutSampleStats = e.runWindow(cfg, windows[i].OutSampleStart, windows[i].OutSampleEnd)
	}

	return &types.WalkForwardResult{
		Windows:    windows,
		Robustness: robustness(windows),
	}
}

// runWindow runs a sub-backtest over [t0,t1] with validation disabled,
// returning zero-value stats if the window errors out rather than
// failing the whole walk-forward pass.
func (e *Engine) runWindow(cfg types.BacktestConfig, t0, t1 int64) types.PerformanceStats {
	sub := cfg
	sub.StartTimeMs = t0
	sub.EndTimeMs = t1
	sub.Validation = nil

	subEngine := NewEngine(e.data, e.signals, e.regime, e.strategy, e.logger)
	result, err := subEngine.Run(context.Background(), sub)
	if err != nil || result == nil {
		return types.PerformanceStats{}
	}
	return result.Stats
}

// robustness is the ratio of aggregate out-of-sample to in-sample
// return across all windows, clamped to [0, 2]. Values above 0.5
// suggest the strategy is not overfit to its in-sample windows.
func robustness(windows []types.WalkForwardWindow) decimal.Decimal {
	inSample := decimal.Zero
	outSample := decimal.Zero
	for _, w := range windows {
		inSample = inSample.Add(w.InSampleStats.TotalPnLPercent)
		outSample = outSample.Add(w.OutSampleStats.TotalPnLPercent)
	}
	if inSample.IsZero() {
		return decimal.Zero
	}
	r := outSample.Div(inSample)
	if r.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if r.GreaterThan(decimal.NewFromInt(2)) {
		return decimal.NewFromInt(2)
	}
	return r
}
