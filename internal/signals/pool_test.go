package signals

import (
	"testing"

	"github.com/hyperarena/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeStore struct {
	candles []types.Candle
}

func (f *fakeStore) OHLC(symbol string, interval types.Interval, t0, t1 int64) ([]types.Candle, error) {
	var out []types.Candle
	for _, c := range f.candles {
		if c.Timestamp >= t0 && c.Timestamp <= t1 {
			out = append(out, c)
		}
	}
	return out, nil
}

func closeCandles(closes ...float64) []types.Candle {
	out := make([]types.Candle, len(closes))
	for i, c := range closes {
		price := decimal.NewFromFloat(c)
		out[i] = types.Candle{
			Timestamp: int64(i) * 60000,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    decimal.NewFromInt(1),
		}
	}
	return out
}

func TestPoolEvaluatorEdgeTriggersOnce(t *testing.T) {
	candles := closeCandles(100, 101, 105, 106, 107, 103, 108, 109)
	store := &fakeStore{candles: candles}
	pool := PoolDefinition{
		ID:       "breakout",
		Name:     "breakout above 104",
		Logic:    "OR",
		Interval: types.Interval1m,
		Rules: []SignalRule{
			{Name: "price_above", Indicator: "price", Operator: "gt", Threshold: 104},
		},
	}
	evaluator := NewPoolEvaluator(zap.NewNop(), store, []PoolDefinition{pool})

	triggers, err := evaluator.Triggers("breakout", "BTC-PERP", 0, 7*60000)
	if err != nil {
		t.Fatalf("Triggers: %v", err)
	}
	// Crosses above 104 at index 2 (105), stays above through 4, dips
	// below at index 5 (103), crosses again at index 6 (108): 2 edges.
	if len(triggers) != 2 {
		t.Fatalf("expected 2 edge triggers, got %d: %+v", len(triggers), triggers)
	}
	if triggers[0].Timestamp != 2*60000 {
		t.Fatalf("expected first trigger at t=120000, got %d", triggers[0].Timestamp)
	}
	if triggers[1].Timestamp != 6*60000 {
		t.Fatalf("expected second trigger at t=360000, got %d", triggers[1].Timestamp)
	}
}

func TestPoolEvaluatorANDRequiresAllRules(t *testing.T) {
	candles := closeCandles(100, 101, 102, 103, 104, 105)
	store := &fakeStore{candles: candles}
	pool := PoolDefinition{
		ID:    "both",
		Logic: "AND",
		Rules: []SignalRule{
			{Name: "above_100", Indicator: "price", Operator: "gt", Threshold: 100},
			{Name: "above_104", Indicator: "price", Operator: "gt", Threshold: 104},
		},
	}
	evaluator := NewPoolEvaluator(zap.NewNop(), store, []PoolDefinition{pool})

	triggers, err := evaluator.Triggers("both", "ETH-PERP", 0, 5*60000)
	if err != nil {
		t.Fatalf("Triggers: %v", err)
	}
	if len(triggers) != 1 {
		t.Fatalf("expected 1 trigger once both rules pass, got %d", len(triggers))
	}
	if len(triggers[0].TriggeredSignals) != 2 {
		t.Fatalf("expected both rules recorded as fired, got %d", len(triggers[0].TriggeredSignals))
	}
}

func TestPoolEvaluatorUnknownPool(t *testing.T) {
	evaluator := NewPoolEvaluator(zap.NewNop(), &fakeStore{}, nil)
	if _, err := evaluator.Triggers("missing", "BTC-PERP", 0, 1); err == nil {
		t.Fatal("expected error for unknown pool id")
	}
}
