package backtester

import (
	"github.com/hyperarena/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
)

// fakeDataProvider serves a fixed price per symbol for each exact
// trigger timestamp it is told about via SetCurrentTime; it never
// returns candles, so TP/SL checks are always a no-op.
type fakeDataProvider struct {
	prices       map[int64]decimal.Decimal
	defaultPrice decimal.Decimal // used when prices has no entry for the current time, if set
	current      int64
	queries      []types.DataQuery
}

func newFakeDataProvider(prices map[int64]decimal.Decimal) *fakeDataProvider {
	return &fakeDataProvider{prices: prices}
}

func (f *fakeDataProvider) SetCurrentTime(t int64) { f.current = t }

func (f *fakeDataProvider) CurrentPrices(symbols []string) map[string]decimal.Decimal {
	price, ok := f.prices[f.current]
	if !ok {
		if f.defaultPrice.IsZero() {
			return nil
		}
		price = f.defaultPrice
	}
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		out[s] = price
	}
	return out
}

func (f *fakeDataProvider) PriceAt(symbol string, t int64) (decimal.Decimal, bool) {
	price, ok := f.prices[t]
	return price, ok
}

func (f *fakeDataProvider) OHLCBetween(symbol string, t0, t1 int64, interval types.Interval) []types.Candle {
	return nil
}

func (f *fakeDataProvider) ClearQueryLog() { f.queries = nil }
func (f *fakeDataProvider) QueryLog() []types.DataQuery { return f.queries }

func firstSymbol(prices map[string]decimal.Decimal) string {
	for symbol := range prices {
		return symbol
	}
	return ""
}

// scriptedStrategy opens a long the first time it sees a flat
// account, then closes once price has fallen more than 10% below
// its entry. Scheduled triggers carry no symbol of their own, so it
// picks the run's one quoted symbol out of the price snapshot.
type scriptedStrategy struct{}

func (s *scriptedStrategy) Execute(code string, market types.MarketData, params map[string]any) (*types.StrategyResult, error) {
	if len(market.Positions) == 0 {
		return &types.StrategyResult{
			Success: true,
			Decision: &types.Decision{
				Operation:              types.OpBuy,
				Symbol:                 firstSymbol(market.CurrentPrices),
				TargetPortionOfBalance: dec(0.5),
				Leverage:               dec(1),
			},
		}, nil
	}
	pos := market.Positions[0]
	price, ok := market.CurrentPrices[pos.Symbol]
	if ok && price.LessThan(pos.EntryPrice.Mul(dec(0.9))) {
		return &types.StrategyResult{
			Success:  true,
			Decision: &types.Decision{Operation: types.OpClose, Symbol: pos.Symbol},
		}, nil
	}
	return &types.StrategyResult{Success: true}, nil
}

// holdStrategy never opens a position; useful for tests that only
// care about trigger cadence and equity bookkeeping.
type holdStrategy struct{}

func (holdStrategy) Execute(code string, market types.MarketData, params map[string]any) (*types.StrategyResult, error) {
	return &types.StrategyResult{Success: true}, nil
}
