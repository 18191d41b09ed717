package strategy

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

func seriesFromCloses(closes []float64, stepMs int64) []types.Candle {
	out := make([]types.Candle, len(closes))
	for i, v := range closes {
		p := decimal.NewFromFloat(v)
		out[i] = types.Candle{
			Timestamp: int64(i) * stepMs,
			Open:      p,
			High:      p,
			Low:       p,
			Close:     p,
			Volume:    decimal.NewFromInt(100),
		}
	}
	return out
}

func marketAt(symbol string, t int64) types.MarketData {
	return types.MarketData{
		Timestamp:     t,
		TriggerSymbol: symbol,
		CurrentPrices: map[string]decimal.Decimal{symbol: decimal.NewFromInt(1)},
	}
}

func TestExecuteUnknownStrategy(t *testing.T) {
	r := NewRunner(zap.NewNop(), &fakeStore{})
	res, err := r.Execute("not_a_strategy", marketAt("BTC-PERP", 1000), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure result for unknown strategy")
	}
}

func TestMomentumBuysOnStrongUptrend(t *testing.T) {
	closes := make([]float64, 20)
	price := 100.0
	for i := range closes {
		price *= 1.01
		closes[i] = price
	}
	store := &fakeStore{candles: seriesFromCloses(closes, types.IntervalMillis[types.Interval1h])}
	r := NewRunner(zap.NewNop(), store)

	t1 := int64(len(closes)-1) * types.IntervalMillis[types.Interval1h]
	res, err := r.Execute("momentum", marketAt("BTC-PERP", t1), map[string]any{"period": 14, "threshold": 0.02, "interval": "1h"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.Decision == nil {
		t.Fatalf("expected a decision, got %+v", res)
	}
	if res.Decision.Operation != types.OpBuy {
		t.Fatalf("expected buy on strong uptrend, got %s", res.Decision.Operation)
	}
}

func TestMeanReversionBuysBelowLowerBand(t *testing.T) {
	closes := []float64{100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 70}
	store := &fakeStore{candles: seriesFromCloses(closes, types.IntervalMillis[types.Interval1h])}
	r := NewRunner(zap.NewNop(), store)

	t1 := int64(len(closes)-1) * types.IntervalMillis[types.Interval1h]
	res, err := r.Execute("mean_reversion", marketAt("ETH-PERP", t1), map[string]any{"period": 20, "interval": "1h"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.Decision == nil {
		t.Fatalf("expected a decision, got %+v", res)
	}
	if res.Decision.Operation != types.OpBuy {
		t.Fatalf("expected buy below lower band, got %s", res.Decision.Operation)
	}
}

func TestDCAAlwaysBuys(t *testing.T) {
	closes := []float64{100, 101}
	store := &fakeStore{candles: seriesFromCloses(closes, types.IntervalMillis[types.Interval1h])}
	r := NewRunner(zap.NewNop(), store)

	t1 := int64(1) * types.IntervalMillis[types.Interval1h]
	res, err := r.Execute("dca", marketAt("BTC-PERP", t1), map[string]any{"interval": "1h"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.Decision == nil || res.Decision.Operation != types.OpBuy {
		t.Fatalf("expected scheduled dca buy, got %+v", res)
	}
}

func TestDecisionCarriesStrategyMetadata(t *testing.T) {
	closes := []float64{100, 101}
	store := &fakeStore{candles: seriesFromCloses(closes, types.IntervalMillis[types.Interval1h])}
	r := NewRunner(zap.NewNop(), store)

	t1 := int64(1) * types.IntervalMillis[types.Interval1h]
	res, err := r.Execute("dca", marketAt("BTC-PERP", t1), map[string]any{"interval": "1h"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Decision.Symbol != "BTC-PERP" || res.Decision.TradingStrategy != "dca" {
		t.Fatalf("expected decision stamped with symbol and strategy code, got %+v", res.Decision)
	}
}
