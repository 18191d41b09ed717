package signals

import (
	"fmt"

	"github.com/hyperarena/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SignalRule is one named condition inside a pool: an indicator,
// evaluated at a candle close, compared against a fixed threshold.
type SignalRule struct {
	Name      string          `json:"name"`
	Indicator string          `json:"indicator"` // "price", "sma", "rsi"
	Period    int             `json:"period,omitempty"`
	Operator  string          `json:"operator"` // "gt", "gte", "lt", "lte"
	Threshold float64         `json:"threshold"`
	Direction string          `json:"direction,omitempty"` // carried onto TriggeredSignal for the strategy's benefit
}

// PoolDefinition is a named, reusable group of rules combined by
// AND/OR logic. A pool fires a trigger on the candle where its
// combined condition transitions from false to true (edge-triggered,
// so a condition that stays true for many bars fires once).
type PoolDefinition struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Logic    string       `json:"logic"` // "AND" or "OR"
	Interval types.Interval `json:"interval"`
	Rules    []SignalRule `json:"rules"`
}

// PoolEvaluator implements backtester.SignalBacktester by replaying a
// pool's rules over a symbol's historical candles.
type PoolEvaluator struct {
	logger *zap.Logger
	store  MarketDataStore
	pools  map[string]PoolDefinition
}

// MarketDataStore is the subset of backtester.MarketDataStore the
// evaluator needs: raw OHLC history to compute indicators from.
type MarketDataStore interface {
	OHLC(symbol string, interval types.Interval, t0, t1 int64) ([]types.Candle, error)
}

// NewPoolEvaluator wires an evaluator to its candle store and its
// configured pool definitions, keyed by pool ID.
func NewPoolEvaluator(logger *zap.Logger, store MarketDataStore, pools []PoolDefinition) *PoolEvaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	byID := make(map[string]PoolDefinition, len(pools))
	for _, p := range pools {
		byID[p.ID] = p
	}
	return &PoolEvaluator{logger: logger, store: store, pools: byID}
}

// Triggers replays poolID's rules over symbol's candles in [t0, t1]
// and returns one TriggerEvent per false-to-true edge of the pool's
// combined condition.
func (e *PoolEvaluator) Triggers(poolID, symbol string, t0, t1 int64) ([]types.TriggerEvent, error) {
	pool, ok := e.pools[poolID]
	if !ok {
		return nil, fmt.Errorf("unknown signal pool %q", poolID)
	}
	interval := pool.Interval
	if interval == "" {
		interval = types.Interval1h
	}

	candles, err := e.store.OHLC(symbol, interval, t0, t1)
	if err != nil {
		return nil, fmt.Errorf("load candles for pool %s on %s: %w", poolID, symbol, err)
	}

	var triggers []types.TriggerEvent
	wasActive := false
	for i := range candles {
		active, fired := e.evaluate(pool, candles, i)
		if active && !wasActive {
			triggers = append(triggers, types.TriggerEvent{
				Timestamp:        candles[i].Timestamp,
				Type:             types.TriggerTypeSignal,
				Symbol:           symbol,
				PoolID:           pool.ID,
				PoolName:         pool.Name,
				PoolLogic:        pool.Logic,
				TriggeredSignals: fired,
			})
		}
		wasActive = active
	}
	return triggers, nil
}

// evaluate computes each rule at candle index i and combines them per
// the pool's logic, returning the combined result and the rules that
// individually passed (for TriggerEvent.TriggeredSignals).
func (e *PoolEvaluator) evaluate(pool PoolDefinition, candles []types.Candle, i int) (bool, []types.TriggeredSignal) {
	var fired []types.TriggeredSignal
	passCount := 0

	for _, rule := range pool.Rules {
		value, ok := indicatorValue(rule.Indicator, rule.Period, candles, i)
		if !ok {
			continue
		}
		thresholdDec := decimal.NewFromFloat(rule.Threshold)
		if compare(rule.Operator, value, thresholdDec) {
			passCount++
			fired = append(fired, types.TriggeredSignal{
				Name:      rule.Name,
				Metric:    rule.Indicator,
				Operator:  rule.Operator,
				Threshold: thresholdDec,
				Value:     value,
				Direction: rule.Direction,
			})
		}
	}

	if len(pool.Rules) == 0 {
		return false, nil
	}

	switch pool.Logic {
	case "AND":
		if passCount == len(pool.Rules) {
			return true, fired
		}
		return false, nil
	default: // "OR"
		if passCount > 0 {
			return true, fired
		}
		return false, nil
	}
}
