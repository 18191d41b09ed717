// Package strategy turns a named strategy and its tunable parameters
// into a Decision against a single point-in-time market snapshot. The
// built-in strategies are stateless: each Execute call re-derives
// whatever indicator state it needs from recent candle history rather
// than accumulating it across calls, since the engine may invoke a
// strategy out of chronological order during walk-forward sub-windows.
package strategy

import (
	"fmt"

	"github.com/hyperarena/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MarketDataStore is the subset of backtester.MarketDataStore the
// built-in strategies need: historical OHLC to derive indicators from.
type MarketDataStore interface {
	OHLC(symbol string, interval types.Interval, t0, t1 int64) ([]types.Candle, error)
}

// strategyFunc computes a decision from a market snapshot, its
// parameters, and a window of recent candles ending at the snapshot's
// timestamp. A nil *types.Decision with no error means hold.
type strategyFunc func(market types.MarketData, params map[string]any, candles []types.Candle) (*types.Decision, string, error)

type registration struct {
	fn   strategyFunc
	bars func(params map[string]any) int
}

var registry = map[string]registration{
	"momentum":        {momentumDecision, momentumBars},
	"mean_reversion":  {meanReversionDecision, meanReversionBars},
	"breakout":        {breakoutDecision, breakoutBars},
	"trend_following": {trendFollowingDecision, trendFollowingBars},
	"rsi_divergence":  {rsiDivergenceDecision, rsiDivergenceBars},
	"vwap_reversion":  {vwapReversionDecision, vwapReversionBars},
	"grid":            {gridDecision, gridBars},
	"dca":             {dcaDecision, dcaBars},
}

// Runner implements backtester.StrategyRunner by dispatching on the
// trigger config's StrategyCode to one of the built-in strategy
// functions above.
type Runner struct {
	logger *zap.Logger
	store  MarketDataStore
}

// NewRunner wires a runner to the candle store its strategies replay
// history from.
func NewRunner(logger *zap.Logger, store MarketDataStore) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{logger: logger, store: store}
}

// Names lists the built-in strategy codes a caller can select.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// Execute implements backtester.StrategyRunner. Errors returned here
// are reserved for infrastructure failures (bad store); a strategy
// that simply can't reach a decision reports Success=false in the
// result instead so the engine can continue the run.
func (r *Runner) Execute(code string, market types.MarketData, params map[string]any) (*types.StrategyResult, error) {
	reg, ok := registry[code]
	if !ok {
		return &types.StrategyResult{Success: false, Error: fmt.Sprintf("unknown strategy %q", code)}, nil
	}
	if market.TriggerSymbol == "" {
		return &types.StrategyResult{Success: false, Error: "market snapshot missing trigger symbol"}, nil
	}

	interval := intervalParam(params, "interval", types.Interval1h)
	candles, err := r.history(market.TriggerSymbol, interval, market.Timestamp, reg.bars(params))
	if err != nil {
		return nil, fmt.Errorf("load history for strategy %s: %w", code, err)
	}

	decision, reason, err := reg.fn(market, params, candles)
	if err != nil {
		return &types.StrategyResult{Success: false, Error: err.Error()}, nil
	}
	if decision == nil {
		return &types.StrategyResult{Success: true}, nil
	}
	decision.Symbol = market.TriggerSymbol
	decision.TradingStrategy = code
	if decision.Reason == "" {
		decision.Reason = reason
	}
	return &types.StrategyResult{Success: true, Decision: decision}, nil
}

func (r *Runner) history(symbol string, interval types.Interval, end int64, bars int) ([]types.Candle, error) {
	step := types.IntervalMillis[interval]
	if step == 0 {
		step = types.IntervalMillis[types.Interval1h]
	}
	start := end - int64(bars+2)*step
	return r.store.OHLC(symbol, interval, start, end)
}

func floatParam(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

func intParam(params map[string]any, key string, def int) int {
	return int(floatParam(params, key, float64(def)))
}

func intervalParam(params map[string]any, key string, def types.Interval) types.Interval {
	if v, ok := params[key].(string); ok && v != "" {
		return types.Interval(v)
	}
	return def
}

func decParam(params map[string]any, key string, def float64) decimal.Decimal {
	return decimal.NewFromFloat(floatParam(params, key, def))
}

func buyDecision(symbol string, strength decimal.Decimal, tp, sl decimal.Decimal) *types.Decision {
	return &types.Decision{
		Operation:              types.OpBuy,
		Symbol:                 symbol,
		TargetPortionOfBalance: strength,
		TakeProfitPrice:        tp,
		StopLossPrice:          sl,
	}
}

func sellDecision(symbol string, strength decimal.Decimal, tp, sl decimal.Decimal) *types.Decision {
	return &types.Decision{
		Operation:              types.OpSell,
		Symbol:                 symbol,
		TargetPortionOfBalance: strength,
		TakeProfitPrice:        tp,
		StopLossPrice:          sl,
	}
}

// sqrtDecimal approximates a square root with Newton's method, since
// decimal.Decimal has no native sqrt.
func sqrtDecimal(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() || d.IsNegative() {
		return decimal.Zero
	}
	x := d
	for i := 0; i < 20; i++ {
		x = x.Add(d.Div(x)).Div(decimal.NewFromInt(2))
	}
	return x
}
