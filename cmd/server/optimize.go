package main

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"time"

	"github.com/hyperarena/backtest-core/internal/data"
	"github.com/hyperarena/backtest-core/internal/optimization"
	"github.com/hyperarena/backtest-core/internal/signals"
	"github.com/hyperarena/backtest-core/pkg/types"
	"go.uber.org/zap"
)

// optimizeRequest is the on-disk shape for the -optimize mode: a
// base config to mutate, the parameter space to search, and an
// optional override of the optimizer's defaults.
type optimizeRequest struct {
	BaseConfig    types.BacktestConfig            `json:"baseConfig"`
	Parameters    []optimization.Parameter        `json:"parameters"`
	Method        optimization.OptimizationMethod `json:"method,omitempty"`
	MaxIterations int                             `json:"maxIterations,omitempty"`
	TargetMetric  string                          `json:"targetMetric,omitempty"`
}

// runOptimize decodes an optimizeRequest from path, searches its
// parameter space by repeatedly running the backtest engine with
// mutated StrategyParams, and prints the resulting
// optimization.OptimizationResult to stdout.
func runOptimize(logger *zap.Logger, store *data.Store, pools []signals.PoolDefinition, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Fatal("failed to read optimize file", zap.Error(err))
	}
	var req optimizeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		logger.Fatal("failed to parse optimize file", zap.Error(err))
	}
	if len(req.Parameters) == 0 {
		logger.Fatal("optimize file declared no parameters to search")
	}

	optCfg := optimization.DefaultOptimizerConfig()
	if req.Method != "" {
		optCfg.Method = req.Method
	}
	if req.MaxIterations > 0 {
		optCfg.MaxIterations = req.MaxIterations
	}
	if req.TargetMetric != "" {
		optCfg.TargetMetric = req.TargetMetric
	}

	var result *optimization.OptimizationResult
	if optCfg.Method == optimization.MethodWalkForward {
		wfo := optimization.NewWalkForwardOptimizer(logger, optCfg)
		objective := walkForwardObjective(logger, store, pools, req.BaseConfig, optCfg.TargetMetric)
		fullRange := optimization.DataRange{
			Start: time.UnixMilli(req.BaseConfig.StartTimeMs),
			End:   time.UnixMilli(req.BaseConfig.EndTimeMs),
		}
		result, err = wfo.OptimizeWalkForward(context.Background(), req.Parameters, objective, fullRange)
	} else {
		opt := optimization.NewOptimizer(logger, optCfg)
		objective := backtestObjective(logger, store, pools, req.BaseConfig, optCfg.TargetMetric)
		result, err = opt.Optimize(context.Background(), req.Parameters, objective)
	}
	if err != nil {
		logger.Fatal("optimization failed", zap.Error(err))
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Fatal("failed to marshal optimization result", zap.Error(err))
	}
	os.Stdout.Write(out)
	os.Stdout.Write([]byte("\n"))
}

// backtestObjective closes over a base config and scores a candidate
// ParamSet by merging it into that config's StrategyParams, running a
// fresh engine end to end, and reading the requested metric off the
// resulting PerformanceStats. A run that errors or produces no
// trades scores 0 rather than failing the search; a run that traded
// at a loss can score below that.
func backtestObjective(logger *zap.Logger, store *data.Store, pools []signals.PoolDefinition, base types.BacktestConfig, metric string) optimization.ObjectiveFunc {
	return func(params optimization.ParamSet) (float64, error) {
		return runScored(logger, store, pools, mergeParams(base, params), metric)
	}
}

// walkForwardObjective adapts the same scoring to the optimizer's
// time.Time-windowed fold objective, translating each in-sample or
// out-of-sample DataRange into the engine's native int64-millisecond
// StartTimeMs/EndTimeMs before running it.
func walkForwardObjective(logger *zap.Logger, store *data.Store, pools []signals.PoolDefinition, base types.BacktestConfig, metric string) optimization.WalkForwardObjective {
	return func(params optimization.ParamSet, dataRange optimization.DataRange) (float64, error) {
		cfg := mergeParams(base, params)
		cfg.StartTimeMs = dataRange.Start.UnixMilli()
		cfg.EndTimeMs = dataRange.End.UnixMilli()
		return runScored(logger, store, pools, cfg, metric)
	}
}

func mergeParams(base types.BacktestConfig, params optimization.ParamSet) types.BacktestConfig {
	cfg := base
	cfg.StrategyParams = make(map[string]any, len(base.StrategyParams)+len(params))
	for k, v := range base.StrategyParams {
		cfg.StrategyParams[k] = v
	}
	for k, v := range params {
		cfg.StrategyParams[k] = v
	}
	return cfg
}

func runScored(logger *zap.Logger, store *data.Store, pools []signals.PoolDefinition, cfg types.BacktestConfig, metric string) (float64, error) {
	engine := buildEngine(logger, store, pools)
	result, err := engine.Run(context.Background(), cfg)
	if err != nil {
		logger.Warn("optimization candidate run failed", zap.Error(err))
		return 0, nil
	}
	if !result.Success || result.Stats.TotalTrades == 0 {
		return 0, nil
	}
	return scoreMetric(result.Stats, metric), nil
}

func scoreMetric(stats types.PerformanceStats, metric string) float64 {
	switch metric {
	case "profit_factor":
		if stats.ProfitFactorInfinite {
			return math.MaxFloat64
		}
		f, _ := stats.ProfitFactor.Float64()
		return f
	case "win_rate":
		f, _ := stats.WinRate.Float64()
		return f
	case "total_pnl_percent", "return":
		f, _ := stats.TotalPnLPercent.Float64()
		return f
	default:
		return stats.SharpeRatio
	}
}
