package backtester

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperarena/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func baseConfig() types.BacktestConfig {
	return types.BacktestConfig{
		Symbols:           []string{"BTC-PERP"},
		StartTimeMs:       0,
		EndTimeMs:         1500000,
		ScheduledInterval: types.Interval(""), // set per test
		InitialBalance:    dec(10000),
	}
}

func TestEngineRunRejectsInvalidConfig(t *testing.T) {
	e := NewEngine(nil, nil, nil, nil, zap.NewNop())
	cfg := baseConfig()
	cfg.StartTimeMs = 1000
	cfg.EndTimeMs = 500 // end before start

	result, err := e.Run(context.Background(), cfg)
	if err == nil || !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if result.Success {
		t.Fatal("expected a failed result alongside the error")
	}
}

func TestEngineRunReturnsErrNoTriggersForTooShortWindow(t *testing.T) {
	data := newFakeDataProvider(nil)
	e := NewEngine(data, nil, nil, holdStrategy{}, zap.NewNop())

	cfg := baseConfig()
	cfg.EndTimeMs = 1 // shorter than one scheduled interval
	cfg.ScheduledInterval = types.Interval5m

	_, err := e.Run(context.Background(), cfg)
	if !errors.Is(err, ErrNoTriggers) {
		t.Fatalf("expected ErrNoTriggers, got %v", err)
	}
}

// scheduledPrices lays out BTC-PERP's price at every 5m-scheduled
// trigger between t=0 and t=1500000: 5 triggers at
// 300000/600000/900000/1200000/1500000.
func scheduledPrices() map[int64]decimal.Decimal {
	return map[int64]decimal.Decimal{
		300000:  dec(100),
		600000:  dec(100),
		900000:  dec(80), // 20% drop triggers scriptedStrategy's close
		1200000: dec(80),
		1500000: dec(80),
	}
}

func TestEngineRunExecutesTriggersAndRecordsTrades(t *testing.T) {
	data := newFakeDataProvider(scheduledPrices())
	e := NewEngine(data, nil, nil, &scriptedStrategy{}, zap.NewNop())

	cfg := baseConfig()
	cfg.ScheduledInterval = types.Interval5m

	result, err := e.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected a successful run, got error %q", result.Error)
	}
	if len(result.TriggerLog) != 5 {
		t.Fatalf("expected 5 scheduled triggers, got %d", len(result.TriggerLog))
	}
	if len(result.EquityCurve) != 5 {
		t.Fatalf("expected one equity point per trigger, got %d", len(result.EquityCurve))
	}
	// open @300000, close @900000 once price drops 20%, then a fresh
	// open @1200000 once flat again (price never recovers enough to
	// trigger a second close before the run ends).
	if len(result.Trades) != 3 {
		t.Fatalf("expected an open, a close, and a re-open, got %d: %+v", len(result.Trades), result.Trades)
	}
	if result.Trades[0].IsClosed() {
		t.Fatal("expected the first trade to be the opening fill")
	}
	if !result.Trades[1].IsClosed() {
		t.Fatal("expected the second trade to be the closing fill")
	}
	if result.Trades[2].IsClosed() {
		t.Fatal("expected the third trade to be the re-opening fill, left open at run end")
	}
	if result.Stats.TotalTrades != 1 {
		t.Fatalf("expected exactly 1 closed trade counted in stats, got %d", result.Stats.TotalTrades)
	}
	if result.Viability == nil {
		t.Fatal("expected a viability assessment once trades exist")
	}
}

func TestEngineRunStreamDeliversOnePerTriggerThenTheFinalResult(t *testing.T) {
	data := newFakeDataProvider(scheduledPrices())
	e := NewEngine(data, nil, nil, &scriptedStrategy{}, zap.NewNop())

	cfg := baseConfig()
	cfg.ScheduledInterval = types.Interval5m

	triggerCh, resultCh := e.RunStream(context.Background(), cfg)

	count := 0
	for range triggerCh {
		count++
	}
	if count != 5 {
		t.Fatalf("expected 5 streamed trigger results, got %d", count)
	}

	result := <-resultCh
	if result == nil || !result.Success {
		t.Fatalf("expected a successful final result, got %+v", result)
	}
}

func TestEngineRunStreamStopsEarlyWhenCancelled(t *testing.T) {
	// Use a run long enough that the streaming channel's internal
	// buffer (16) cannot hold every trigger, so cancelling partway
	// through is guaranteed to cut the run short rather than racing
	// against a producer that has already finished.
	const totalTriggers = 60
	data := newFakeDataProvider(nil)
	data.defaultPrice = dec(100)
	e := NewEngine(data, nil, nil, holdStrategy{}, zap.NewNop())

	cfg := baseConfig()
	cfg.ScheduledInterval = types.Interval5m
	cfg.EndTimeMs = int64(totalTriggers) * 300000

	triggerCh, resultCh := e.RunStream(context.Background(), cfg)

	seen := 0
	for range triggerCh {
		seen++
		if seen == 1 {
			e.Cancel()
		}
	}
	if seen >= totalTriggers {
		t.Fatalf("expected cancellation to stop the stream well short of all %d triggers, saw %d", totalTriggers, seen)
	}

	result := <-resultCh
	if result == nil {
		t.Fatal("expected a final result to still be delivered after cancellation")
	}
}

func TestEngineRiskMonitorTripsAndBlocksFurtherEntries(t *testing.T) {
	data := newFakeDataProvider(scheduledPrices())
	e := NewEngine(data, nil, nil, &scriptedStrategy{}, zap.NewNop())

	cfg := baseConfig()
	cfg.ScheduledInterval = types.Interval5m
	cfg.RiskLimits = &types.RiskLimits{MaxDrawdownPct: dec(5)}

	triggerCh, resultCh := e.RunStream(context.Background(), cfg)

	var sawTrip bool
	for res := range triggerCh {
		if res.RiskTripped {
			sawTrip = true
			if res.RiskTripReason != "max_drawdown" {
				t.Fatalf("expected max_drawdown trip reason, got %q", res.RiskTripReason)
			}
		}
	}
	if !sawTrip {
		t.Fatal("expected the 20%% price drop to trip the max-drawdown risk limit")
	}

	result := <-resultCh
	// the strategy closes on the drop and tries to reopen once flat
	// again; the tripped monitor must block that reopen, so only the
	// original open+close pair should exist.
	if len(result.Trades) != 2 {
		t.Fatalf("expected the risk trip to block any further entries, got %d trades: %+v", len(result.Trades), result.Trades)
	}
}
