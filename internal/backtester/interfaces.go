package backtester

import (
	"github.com/hyperarena/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
)

// MarketDataStore is the read-only external collaborator backing a
// DataProvider. Implementations may be file-, cache-, or
// database-backed; the core never assumes which.
type MarketDataStore interface {
	OHLC(symbol string, interval types.Interval, t0, t1 int64) ([]types.Candle, error)
	LatestClose(symbol string, atOrBefore int64) (decimal.Decimal, bool)
	Indicator(symbol, name string, interval types.Interval, atOrBefore int64) (decimal.Decimal, bool)
	Flow(symbol, metric string, interval types.Interval, atOrBefore int64) (map[string]decimal.Decimal, bool)
}

// DataProvider is the time-cursored view over a MarketDataStore that
// the engine and strategy runner consume. HistoricalDataProvider in
// internal/data is the concrete implementation.
type DataProvider interface {
	SetCurrentTime(t int64)
	CurrentPrices(symbols []string) map[string]decimal.Decimal
	PriceAt(symbol string, t int64) (decimal.Decimal, bool)
	OHLCBetween(symbol string, t0, t1 int64, interval types.Interval) []types.Candle
	ClearQueryLog()
	QueryLog() []types.DataQuery
}

// SignalBacktester precomputes the timestamps at which a signal
// pool fires for a symbol over a window.
type SignalBacktester interface {
	Triggers(poolID, symbol string, t0, t1 int64) ([]types.TriggerEvent, error)
}

// RegimeClassifier labels the market microstructure regime at a
// point in time, attached to signal triggers for strategy context.
type RegimeClassifier interface {
	Classify(symbol string, interval types.Interval, t int64) (*types.RegimeSnapshot, error)
}

// StrategyRunner is the opaque sandbox that turns a code blob and a
// market snapshot into a Decision. The core never introspects code.
type StrategyRunner interface {
	Execute(code string, market types.MarketData, params map[string]any) (*types.StrategyResult, error)
}
