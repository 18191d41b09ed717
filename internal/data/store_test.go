package data

import (
	"testing"

	"github.com/hyperarena/backtest-core/pkg/types"
	"go.uber.org/zap"
)

func TestStoreOHLCGeneratesSyntheticSeries(t *testing.T) {
	store, err := NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	candles, err := store.OHLC("BTC-PERP", types.Interval1m, 0, 60*60*1000)
	if err != nil {
		t.Fatalf("OHLC: %v", err)
	}
	if len(candles) == 0 {
		t.Fatal("expected synthetic candles, got none")
	}
	for i := 1; i < len(candles); i++ {
		if candles[i].Timestamp <= candles[i-1].Timestamp {
			t.Fatalf("candles not strictly increasing at %d", i)
		}
	}
}

func TestStoreOHLCRangeIsInclusive(t *testing.T) {
	store, err := NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	all, err := store.OHLC("ETH-PERP", types.Interval1m, 0, 10*60*1000)
	if err != nil {
		t.Fatalf("OHLC: %v", err)
	}
	if len(all) == 0 {
		t.Fatal("expected candles")
	}
	first := all[0].Timestamp
	last := all[len(all)-1].Timestamp

	sub, err := store.OHLC("ETH-PERP", types.Interval1m, first, last)
	if err != nil {
		t.Fatalf("OHLC: %v", err)
	}
	if len(sub) != len(all) {
		t.Fatalf("expected %d candles in [first,last], got %d", len(all), len(sub))
	}
}

func TestStoreLatestCloseBeforeFirstCandle(t *testing.T) {
	store, err := NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, ok := store.LatestClose("BTC-PERP", -1); ok {
		t.Fatal("expected no close before the series starts")
	}
}

func TestHistoricalDataProviderClampsToCurrentTime(t *testing.T) {
	store, err := NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	provider := NewHistoricalDataProvider(store)

	all, err := store.OHLC("BTC-PERP", types.Interval1m, 0, 120*60*1000)
	if err != nil || len(all) < 10 {
		t.Fatalf("OHLC: %v, len=%d", err, len(all))
	}
	cursor := all[5].Timestamp
	provider.SetCurrentTime(cursor)

	clamped := provider.OHLCBetween("BTC-PERP", 0, all[len(all)-1].Timestamp, types.Interval1m)
	for _, c := range clamped {
		if c.Timestamp > cursor {
			t.Fatalf("candle at %d leaked past cursor %d", c.Timestamp, cursor)
		}
	}
}

func TestHistoricalDataProviderQueryLog(t *testing.T) {
	store, err := NewStore(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	provider := NewHistoricalDataProvider(store)
	provider.SetCurrentTime(60 * 60 * 1000)

	provider.ClearQueryLog()
	provider.CurrentPrices([]string{"BTC-PERP", "ETH-PERP"})

	log := provider.QueryLog()
	if len(log) != 2 {
		t.Fatalf("expected 2 logged queries, got %d", len(log))
	}

	provider.ClearQueryLog()
	if len(provider.QueryLog()) != 0 {
		t.Fatal("expected empty log after clear")
	}
}
