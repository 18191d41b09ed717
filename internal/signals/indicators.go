// Package signals evaluates declarative signal pools against
// historical candle data, producing the TriggerEvent stream an
// Engine interleaves with scheduled triggers.
package signals

import (
	"github.com/hyperarena/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
)

// sma returns the simple moving average of the last `period` closes
// ending at index i, or false if there isn't enough history yet.
func sma(candles []types.Candle, i, period int) (decimal.Decimal, bool) {
	if i+1 < period {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	for j := i - period + 1; j <= i; j++ {
		sum = sum.Add(candles[j].Close)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), true
}

// rsi returns the relative strength index over the last `period`
// closes ending at index i, using plain averages of the gains and
// losses (no Wilder smoothing).
func rsi(candles []types.Candle, i, period int) (decimal.Decimal, bool) {
	if i+1 < period+1 {
		return decimal.Zero, false
	}
	gain := decimal.Zero
	loss := decimal.Zero
	for j := i - period + 1; j <= i; j++ {
		delta := candles[j].Close.Sub(candles[j-1].Close)
		if delta.GreaterThan(decimal.Zero) {
			gain = gain.Add(delta)
		} else {
			loss = loss.Add(delta.Abs())
		}
	}
	if loss.IsZero() {
		return decimal.NewFromInt(100), true
	}
	avgGain := gain.Div(decimal.NewFromInt(int64(period)))
	avgLoss := loss.Div(decimal.NewFromInt(int64(period)))
	rs := avgGain.Div(avgLoss)
	hundred := decimal.NewFromInt(100)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs))), true
}

// indicatorValue dispatches a named indicator computation at index i.
func indicatorValue(indicator string, period int, candles []types.Candle, i int) (decimal.Decimal, bool) {
	switch indicator {
	case "price":
		return candles[i].Close, true
	case "sma":
		return sma(candles, i, period)
	case "rsi":
		return rsi(candles, i, period)
	default:
		return decimal.Zero, false
	}
}

// compare evaluates value against threshold using the named operator.
func compare(operator string, value, threshold decimal.Decimal) bool {
	switch operator {
	case "gt":
		return value.GreaterThan(threshold)
	case "gte":
		return value.GreaterThanOrEqual(threshold)
	case "lt":
		return value.LessThan(threshold)
	case "lte":
		return value.LessThanOrEqual(threshold)
	default:
		return false
	}
}
