package regime

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

func trendingCandles(n int, start, stepPct float64) []types.Candle {
	out := make([]types.Candle, n)
	price := start
	for i := 0; i < n; i++ {
		price *= 1 + stepPct
		p := decimal.NewFromFloat(price)
		out[i] = types.Candle{Timestamp: int64(i) * types.IntervalMillis[types.Interval1h], Open: p, High: p, Low: p, Close: p, Volume: decimal.NewFromInt(1)}
	}
	return out
}

func TestClassifyInsufficientHistoryIsUnknown(t *testing.T) {
	store := &fakeStore{candles: trendingCandles(1, 100, 0.01)}
	c := NewClassifier(zap.NewNop(), store, DefaultConfig())

	snap, err := c.Classify("BTC-PERP", types.Interval1h, 0)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if snap.Regime != string(regimeUnknown) {
		t.Fatalf("expected unknown regime with no history, got %s", snap.Regime)
	}
}

func TestClassifyStrongUptrendIsBull(t *testing.T) {
	candles := trendingCandles(150, 100, 0.01)
	store := &fakeStore{candles: candles}
	cfg := DefaultConfig()
	c := NewClassifier(zap.NewNop(), store, cfg)

	snap, err := c.Classify("BTC-PERP", types.Interval1h, candles[len(candles)-1].Timestamp)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if snap.Direction != "up" {
		t.Fatalf("expected up direction for a steady uptrend, got %s (regime=%s)", snap.Direction, snap.Regime)
	}
	if snap.Regime != string(regimeBull) {
		t.Fatalf("expected bull regime for a steady uptrend, got %s", snap.Regime)
	}
}

func TestClassifyConfidenceIsBounded(t *testing.T) {
	candles := trendingCandles(150, 100, 0.05)
	store := &fakeStore{candles: candles}
	c := NewClassifier(zap.NewNop(), store, DefaultConfig())

	snap, err := c.Classify("BTC-PERP", types.Interval1h, candles[len(candles)-1].Timestamp)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if snap.Confidence < 0 || snap.Confidence > 1 {
		t.Fatalf("confidence out of [0,1]: %f", snap.Confidence)
	}
}
