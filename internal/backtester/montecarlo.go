package backtester

import (
	"github.com/hyperarena/backtest-core/internal/montecarlo"
	"github.com/hyperarena/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// runMonteCarlo adapts a finished run's closed-trade PnL-percent
// series into internal/montecarlo's bootstrap resampler, mapping its
// richer SimulationResult down to the SPEC_FULL.md-scoped
// types.MonteCarloResult.
func (e *Engine) runMonteCarlo(trades []types.TradeRecord, initialBalance decimal.Decimal, cfg types.MonteCarloConfig) *types.MonteCarloResult {
	returns := make([]float64, 0, len(trades))
	for _, t := range trades {
		if !t.IsClosed() {
			continue
		}
		pct, _ := t.PnLPercent.Div(decimal.NewFromInt(100)).Float64()
		returns = append(returns, pct)
	}
	if len(returns) == 0 {
		return &types.MonteCarloResult{Iterations: 0}
	}

	simConfig := montecarlo.DefaultSimulatorConfig()
	if cfg.Iterations > 0 {
		simConfig.NumSimulations = cfg.Iterations
	}
	if cfg.Seed != 0 {
		simConfig.Seed = cfg.Seed
	}

	sim := montecarlo.NewSimulator(e.logger, simConfig)
	result := sim.RunSimulation(&montecarlo.TradeSequence{Returns: returns}, initialBalance)

	e.logger.Info("monte carlo validation complete",
		zap.Float64("robustnessScore", result.RobustnessScore),
		zap.Float64("probabilityOfRuin", result.ProbabilityOfRuin),
	)

	initialFloat, _ := initialBalance.Float64()
	medianReturn := 0.0
	p5Return := 0.0
	p95Return := 0.0
	maxDDP95 := 0.0
	if result.FinalEquity != nil && initialFloat != 0 {
		medianReturn = (result.FinalEquity.Median - initialFloat) / initialFloat
		p5Return = (result.FinalEquity.Percentiles[0.05] - initialFloat) / initialFloat
		p95Return = (result.FinalEquity.Percentiles[0.95] - initialFloat) / initialFloat
	}
	if result.MaxDrawdown != nil {
		maxDDP95 = result.MaxDrawdown.Percentiles[0.95]
	}

	return &types.MonteCarloResult{
		Iterations:      simConfig.NumSimulations,
		MedianReturn:    decimal.NewFromFloat(medianReturn),
		P5Return:        decimal.NewFromFloat(p5Return),
		P95Return:       decimal.NewFromFloat(p95Return),
		ProbabilityRuin: decimal.NewFromFloat(result.ProbabilityOfRuin),
		MaxDrawdownP95:  decimal.NewFromFloat(maxDDP95),
	}
}

// attachValidation runs the configured Monte Carlo and walk-forward
// validation passes against a finished result.
func (e *Engine) attachValidation(result *types.BacktestResult, cfg types.BacktestConfig) {
	if cfg.Validation.MonteCarlo.Enabled {
		result.MonteCarloResult = e.runMonteCarlo(result.Trades, cfg.InitialBalance, cfg.Validation.MonteCarlo)
	}
	if cfg.Validation.WalkForward.Enabled {
		result.WalkForwardResult = e.runWalkForward(cfg)
	}
}
