package backtester

import (
	"sort"

	"github.com/hyperarena/backtest-core/pkg/types"
)

// TriggerStream interleaves a set of precomputed signal triggers
// with dynamically scheduled periodic triggers under the reset
// rule: any trigger, signal or periodic, restarts the periodic
// clock. A periodic trigger therefore fires exactly Δ after the
// previous trigger of any kind, never on a fixed grid anchored at
// the run's start time.
type TriggerStream struct {
	signals     []types.TriggerEvent
	intervalMs  int64
	startMs     int64
	endMs       int64
}

// NewTriggerStream builds a stream from sorted-by-timestamp signal
// triggers plus an optional scheduled interval. intervalMs is 0 when
// no scheduled interval is configured.
func NewTriggerStream(signals []types.TriggerEvent, intervalMs, startMs, endMs int64) *TriggerStream {
	sorted := make([]types.TriggerEvent, len(signals))
	copy(sorted, signals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })
	return &TriggerStream{signals: sorted, intervalMs: intervalMs, startMs: startMs, endMs: endMs}
}

// triggerIterState is the iteration state of one Each call. Because
// the reset rule requires feedback (each emitted trigger's own
// timestamp determines the countdown to the next scheduled one), the
// last emitted timestamp is carried here rather than being derived
// statelessly.
type triggerIterState struct {
	sigIdx int
	lastT  int64
	phase  int // 0 = interleaving signals, 1 = draining trailing scheduled
}

// Each returns a push-based iterator, invoking yield once per
// trigger in order. yield may return false to stop early
// (cancellation).
func (ts *TriggerStream) Each(yield func(types.TriggerEvent) bool) {
	st := &triggerIterState{lastT: ts.startMs}

	emit := func(ev types.TriggerEvent) bool {
		st.lastT = ev.Timestamp
		return yield(ev)
	}

	for st.sigIdx < len(ts.signals) {
		sig := ts.signals[st.sigIdx]
		if ts.intervalMs > 0 {
			for st.lastT+ts.intervalMs < sig.Timestamp {
				scheduled := types.TriggerEvent{Timestamp: st.lastT + ts.intervalMs, Type: types.TriggerTypeScheduled}
				if !emit(scheduled) {
					return
				}
			}
		}
		if !emit(sig) {
			return
		}
		st.sigIdx++
	}

	if ts.intervalMs > 0 {
		for st.lastT+ts.intervalMs <= ts.endMs {
			scheduled := types.TriggerEvent{Timestamp: st.lastT + ts.intervalMs, Type: types.TriggerTypeScheduled}
			if !emit(scheduled) {
				return
			}
		}
	}
}

// Collect materializes the full trigger sequence. Prefer Each for
// long runs; Collect is convenient for tests and small batch runs.
func (ts *TriggerStream) Collect() []types.TriggerEvent {
	var out []types.TriggerEvent
	ts.Each(func(ev types.TriggerEvent) bool {
		out = append(out, ev)
		return true
	})
	return out
}

// Count returns the number of triggers the stream would emit,
// without materializing them — used for progress estimation on
// very long runs. Mirrors Each's control flow exactly so the two
// never disagree on cardinality.
func (ts *TriggerStream) Count() int {
	count := 0
	lastT := ts.startMs

	for _, sig := range ts.signals {
		if ts.intervalMs > 0 {
			for lastT+ts.intervalMs < sig.Timestamp {
				lastT += ts.intervalMs
				count++
			}
		}
		lastT = sig.Timestamp
		count++
	}

	if ts.intervalMs > 0 {
		for lastT+ts.intervalMs <= ts.endMs {
			lastT += ts.intervalMs
			count++
		}
	}
	return count
}
