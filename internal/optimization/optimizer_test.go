package optimization

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"
)

func quadraticPeakAt(peak float64) ObjectiveFunc {
	return func(params ParamSet) (float64, error) {
		x := params["x"]
		return -((x - peak) * (x - peak)), nil
	}
}

func TestGridSearchFindsTheMaximumOfAQuadraticObjective(t *testing.T) {
	cfg := DefaultOptimizerConfig()
	cfg.Method = MethodGridSearch
	cfg.GridResolution = 10
	cfg.Timeout = 5 * time.Second
	opt := NewOptimizer(zap.NewNop(), cfg)

	params := []Parameter{{Name: "x", Type: ParamTypeInteger, Min: 0, Max: 10}}
	result, err := opt.Optimize(context.Background(), params, quadraticPeakAt(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.BestParams["x"] != 5 {
		t.Fatalf("expected the grid to land exactly on the peak at x=5, got %v", result.BestParams["x"])
	}
	if result.BestScore != 0 {
		t.Fatalf("expected a score of 0 at the peak, got %v", result.BestScore)
	}
	if result.Method != MethodGridSearch {
		t.Fatalf("expected the result to record MethodGridSearch, got %v", result.Method)
	}
}

func TestRandomSearchKeepsEveryEvaluationWithinParameterBounds(t *testing.T) {
	cfg := DefaultOptimizerConfig()
	cfg.Method = MethodRandomSearch
	cfg.MaxIterations = 40
	cfg.Timeout = 5 * time.Second
	opt := NewOptimizer(zap.NewNop(), cfg)

	params := []Parameter{{Name: "x", Type: ParamTypeContinuous, Min: -2, Max: 2}}
	result, err := opt.Optimize(context.Background(), params, quadraticPeakAt(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.AllResults) != 40 {
		t.Fatalf("expected 40 evaluations, got %d", len(result.AllResults))
	}
	for _, res := range result.AllResults {
		x := res.Params["x"]
		if x < -2 || x > 2 {
			t.Fatalf("sampled x=%v outside the declared [-2,2] bounds", x)
		}
	}
}

func TestOptimizeFallsBackToGeneticAlgorithmForAnUnrecognizedMethod(t *testing.T) {
	cfg := DefaultOptimizerConfig()
	cfg.Method = MethodBayesian // declared but unimplemented
	cfg.PopulationSize = 6
	cfg.Generations = 3
	cfg.Timeout = 5 * time.Second
	opt := NewOptimizer(zap.NewNop(), cfg)

	params := []Parameter{{Name: "x", Type: ParamTypeContinuous, Min: 0, Max: 10}}
	result, err := opt.Optimize(context.Background(), params, quadraticPeakAt(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Iterations != 18 {
		t.Fatalf("expected 3 generations x 6 individuals = 18 evaluations, got %d", result.Iterations)
	}
	if result.Method != MethodBayesian {
		t.Fatalf("expected Optimize to still record the requested method, got %v", result.Method)
	}
}

func TestGeneticAlgorithmConvergenceHistoryNeverRegresses(t *testing.T) {
	cfg := DefaultOptimizerConfig()
	cfg.Method = MethodGeneticAlgo
	cfg.PopulationSize = 12
	cfg.Generations = 8
	cfg.Timeout = 5 * time.Second
	opt := NewOptimizer(zap.NewNop(), cfg)

	params := []Parameter{{Name: "x", Type: ParamTypeContinuous, Min: -10, Max: 10}}
	result, err := opt.Optimize(context.Background(), params, quadraticPeakAt(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 1; i < len(result.ConvergenceHist); i++ {
		if result.ConvergenceHist[i] < result.ConvergenceHist[i-1] {
			t.Fatalf("convergence history regressed at generation %d: %v -> %v",
				i, result.ConvergenceHist[i-1], result.ConvergenceHist[i])
		}
	}
}

func TestGridSearchSkipsEvaluationsWhoseObjectiveErrors(t *testing.T) {
	cfg := DefaultOptimizerConfig()
	cfg.Method = MethodGridSearch
	cfg.GridResolution = 4
	cfg.Timeout = 5 * time.Second
	opt := NewOptimizer(zap.NewNop(), cfg)

	params := []Parameter{{Name: "x", Type: ParamTypeInteger, Min: 0, Max: 4}}
	combos := len(opt.generateGridCombinations(params))

	objective := func(p ParamSet) (float64, error) {
		if p["x"] == 2 {
			return 0, errors.New("boom")
		}
		return -math.Abs(p["x"] - 2), nil
	}

	result, err := opt.Optimize(context.Background(), params, objective)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.AllResults) != combos-1 {
		t.Fatalf("expected the errored evaluation to be dropped, got %d of %d combinations", len(result.AllResults), combos)
	}
}

func TestRespectsContextCancellationDuringRandomSearch(t *testing.T) {
	cfg := DefaultOptimizerConfig()
	cfg.Method = MethodRandomSearch
	cfg.MaxIterations = 1000000
	cfg.Timeout = 5 * time.Second
	opt := NewOptimizer(zap.NewNop(), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	params := []Parameter{{Name: "x", Type: ParamTypeContinuous, Min: 0, Max: 1}}
	_, err := opt.Optimize(ctx, params, quadraticPeakAt(0.5))
	if err == nil {
		t.Fatal("expected a cancelled context to abort the search with an error")
	}
}
