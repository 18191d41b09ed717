package backtester

import (
	"testing"

	"github.com/hyperarena/backtest-core/pkg/types"
)

func TestTriggerStreamInterleavesScheduledAroundSignals(t *testing.T) {
	signals := []types.TriggerEvent{
		{Timestamp: 1000, Type: types.TriggerTypeSignal, Symbol: "BTC-PERP"},
	}
	ts := NewTriggerStream(signals, 300, 0, 1400)

	got := ts.Collect()
	want := []int64{300, 600, 900, 1000, 1300}
	// the reset rule restarts the periodic clock from the signal's
	// own timestamp, so the scheduled trigger after it lands at
	// 1000+300=1300, not on the original 1200/1500 grid.
	if len(got) != len(want) {
		t.Fatalf("expected %d triggers, got %d: %+v", len(want), len(got), got)
	}
	for i, ts := range got {
		if ts.Timestamp != want[i] {
			t.Fatalf("trigger %d: expected timestamp %d, got %d", i, want[i], ts.Timestamp)
		}
	}
	if got[3].Type != types.TriggerTypeSignal {
		t.Fatalf("expected the signal trigger to be preserved in order, got %+v", got[3])
	}
}

func TestTriggerStreamWithNoScheduledIntervalOnlyEmitsSignals(t *testing.T) {
	signals := []types.TriggerEvent{
		{Timestamp: 500, Type: types.TriggerTypeSignal},
		{Timestamp: 100, Type: types.TriggerTypeSignal},
	}
	ts := NewTriggerStream(signals, 0, 0, 1000)

	got := ts.Collect()
	if len(got) != 2 {
		t.Fatalf("expected exactly the 2 signal triggers, got %d", len(got))
	}
	if got[0].Timestamp != 100 || got[1].Timestamp != 500 {
		t.Fatalf("expected signals sorted by timestamp, got %+v", got)
	}
}

func TestTriggerStreamCountMatchesEachCardinality(t *testing.T) {
	signals := []types.TriggerEvent{
		{Timestamp: 750, Type: types.TriggerTypeSignal},
		{Timestamp: 2200, Type: types.TriggerTypeSignal},
	}
	ts := NewTriggerStream(signals, 400, 0, 3000)

	if got, want := ts.Count(), len(ts.Collect()); got != want {
		t.Fatalf("Count() = %d but Collect() produced %d", got, want)
	}
}

func TestTriggerStreamEachStopsWhenYieldReturnsFalse(t *testing.T) {
	signals := []types.TriggerEvent{
		{Timestamp: 100}, {Timestamp: 200}, {Timestamp: 300},
	}
	ts := NewTriggerStream(signals, 0, 0, 1000)

	seen := 0
	ts.Each(func(ev types.TriggerEvent) bool {
		seen++
		return seen < 2
	})
	if seen != 2 {
		t.Fatalf("expected iteration to stop right after yield returns false, saw %d", seen)
	}
}

func TestTriggerStreamDrainsTrailingScheduledAfterLastSignal(t *testing.T) {
	signals := []types.TriggerEvent{{Timestamp: 100, Type: types.TriggerTypeSignal}}
	ts := NewTriggerStream(signals, 100, 0, 500)

	got := ts.Collect()
	want := []int64{100, 200, 300, 400, 500}
	if len(got) != len(want) {
		t.Fatalf("expected %d triggers, got %+v", len(want), got)
	}
	for i, g := range got {
		if g.Timestamp != want[i] {
			t.Fatalf("trigger %d: expected %d, got %d", i, want[i], g.Timestamp)
		}
	}
}
