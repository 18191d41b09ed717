package backtester

import (
	"testing"

	"github.com/hyperarena/backtest-core/pkg/types"
	"go.uber.org/zap"
)

func TestRunMonteCarloReturnsZeroIterationsWithNoClosedTrades(t *testing.T) {
	e := NewEngine(nil, nil, nil, nil, zap.NewNop())
	result := e.runMonteCarlo(nil, dec(10000), types.MonteCarloConfig{Enabled: true})
	if result.Iterations != 0 {
		t.Fatalf("expected 0 iterations with no closed trades, got %d", result.Iterations)
	}
}

func TestRunMonteCarloUsesConfiguredIterationsAndSeed(t *testing.T) {
	e := NewEngine(nil, nil, nil, nil, zap.NewNop())
	trades := []types.TradeRecord{
		{ExitTimestamp: 1, PnLPercent: dec(5)},
		{ExitTimestamp: 2, PnLPercent: dec(-3)},
		{ExitTimestamp: 3, PnLPercent: dec(2)},
	}
	cfg := types.MonteCarloConfig{Enabled: true, Iterations: 50, Seed: 42}
	result := e.runMonteCarlo(trades, dec(10000), cfg)

	if result.Iterations != 50 {
		t.Fatalf("expected the configured 50 iterations, got %d", result.Iterations)
	}
	if result.ProbabilityRuin.LessThan(dec(0)) || result.ProbabilityRuin.GreaterThan(dec(1)) {
		t.Fatalf("expected a probability of ruin in [0,1], got %s", result.ProbabilityRuin)
	}
}

func TestAttachValidationSkipsDisabledPasses(t *testing.T) {
	e := NewEngine(nil, nil, nil, nil, zap.NewNop())
	cfg := types.BacktestConfig{
		InitialBalance: dec(10000),
		Validation: &types.ValidationConfig{
			MonteCarlo:  types.MonteCarloConfig{Enabled: false},
			WalkForward: types.WalkForwardConfig{Enabled: false},
		},
	}
	result := &types.BacktestResult{}
	e.attachValidation(result, cfg)

	if result.MonteCarloResult != nil || result.WalkForwardResult != nil {
		t.Fatal("expected both validation passes to stay nil when disabled")
	}
}

func TestAttachValidationRunsMonteCarloWhenEnabled(t *testing.T) {
	e := NewEngine(nil, nil, nil, nil, zap.NewNop())
	cfg := types.BacktestConfig{
		InitialBalance: dec(10000),
		Validation: &types.ValidationConfig{
			MonteCarlo: types.MonteCarloConfig{Enabled: true, Iterations: 20},
		},
	}
	result := &types.BacktestResult{
		Trades: []types.TradeRecord{
			{ExitTimestamp: 1, PnLPercent: dec(4)},
			{ExitTimestamp: 2, PnLPercent: dec(-2)},
		},
	}
	e.attachValidation(result, cfg)

	if result.MonteCarloResult == nil {
		t.Fatal("expected a Monte Carlo result to be attached")
	}
	if result.MonteCarloResult.Iterations != 20 {
		t.Fatalf("expected 20 iterations, got %d", result.MonteCarloResult.Iterations)
	}
}
