package data

import (
	"sync"

	"github.com/hyperarena/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
)

// HistoricalDataProvider is the time-cursored view over a MarketDataStore
// that an Engine drives through a run. It enforces the no-future-data
// invariant: CurrentPrices and OHLCBetween are clamped to the
// provider's current cursor, so they never return a candle that closes
// after "now" in the simulated timeline. PriceAt reads at the explicit
// time it is given and is not clamped.
//
// It implements backtester.DataProvider.
type HistoricalDataProvider struct {
	mu      sync.Mutex
	store   *Store
	current int64
	log     []types.DataQuery
}

// NewHistoricalDataProvider wraps store with a query cursor starting
// at the beginning of time; Engine.Run calls SetCurrentTime before
// any query.
func NewHistoricalDataProvider(store *Store) *HistoricalDataProvider {
	return &HistoricalDataProvider{store: store}
}

// SetCurrentTime advances (or rewinds, for sub-window walk-forward
// re-runs) the provider's cursor.
func (p *HistoricalDataProvider) SetCurrentTime(t int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = t
}

// CurrentPrices returns each symbol's latest close at or before the
// cursor, omitting symbols with no data yet.
func (p *HistoricalDataProvider) CurrentPrices(symbols []string) map[string]decimal.Decimal {
	p.mu.Lock()
	t := p.current
	p.mu.Unlock()

	out := make(map[string]decimal.Decimal, len(symbols))
	for _, symbol := range symbols {
		if price, ok := p.store.LatestClose(symbol, t); ok {
			out[symbol] = price
			p.recordQuery("LatestClose", symbol, t)
		}
	}
	return out
}

// PriceAt returns symbol's close at or before t, regardless of the
// cursor — used for scenarios that need an explicit historical price
// rather than "now".
func (p *HistoricalDataProvider) PriceAt(symbol string, t int64) (decimal.Decimal, bool) {
	price, ok := p.store.LatestClose(symbol, t)
	p.recordQuery("PriceAt", symbol, t)
	return price, ok
}

// OHLCBetween returns candles within (t0, min(t1, cursor)],
// clamping the upper bound to the current cursor so TP/SL detection
// can never peek past "now".
func (p *HistoricalDataProvider) OHLCBetween(symbol string, t0, t1 int64, interval types.Interval) []types.Candle {
	p.mu.Lock()
	cursor := p.current
	p.mu.Unlock()

	end := t1
	if cursor < end {
		end = cursor
	}
	candles, err := p.store.OHLC(symbol, interval, t0+1, end)
	p.recordQuery("OHLCBetween", symbol, end)
	if err != nil {
		return nil
	}
	return candles
}

func (p *HistoricalDataProvider) recordQuery(method, symbol string, t int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log = append(p.log, types.DataQuery{Method: method, Symbol: symbol, Timestamp: t})
}

// ClearQueryLog resets the per-trigger query log; Engine calls this
// at the start of every executeTrigger.
func (p *HistoricalDataProvider) ClearQueryLog() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log = nil
}

// QueryLog returns the queries issued since the last ClearQueryLog,
// surfaced on TriggerExecutionResult for auditability.
func (p *HistoricalDataProvider) QueryLog() []types.DataQuery {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.DataQuery, len(p.log))
	copy(out, p.log)
	return out
}
