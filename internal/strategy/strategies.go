package strategy

import (
	"github.com/hyperarena/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
)

func momentumBars(params map[string]any) int { return intParam(params, "period", 14) + 2 }

// momentumDecision buys when price has moved up more than threshold
// over the lookback period and sells on the symmetric downside move.
func momentumDecision(market types.MarketData, params map[string]any, candles []types.Candle) (*types.Decision, string, error) {
	period := intParam(params, "period", 14)
	threshold := decParam(params, "threshold", 0.02)
	if len(candles) <= period {
		return nil, "", nil
	}
	n := len(candles)
	current := candles[n-1].Close
	past := candles[n-1-period].Close
	if past.IsZero() {
		return nil, "", nil
	}
	momentum := current.Sub(past).Div(past)

	if momentum.GreaterThan(threshold) {
		strength := momentum.Div(threshold).Min(decimal.NewFromInt(1))
		d := buyDecision(market.TriggerSymbol, strength, current.Mul(decimal.NewFromFloat(1.05)), current.Mul(decimal.NewFromFloat(0.95)))
		return d, "strong positive momentum", nil
	}
	if momentum.LessThan(threshold.Neg()) {
		strength := momentum.Abs().Div(threshold).Min(decimal.NewFromInt(1))
		d := sellDecision(market.TriggerSymbol, strength, current.Mul(decimal.NewFromFloat(0.95)), current.Mul(decimal.NewFromFloat(1.05)))
		return d, "strong negative momentum", nil
	}
	return nil, "", nil
}

func meanReversionBars(params map[string]any) int { return intParam(params, "period", 20) }

// meanReversionDecision trades Bollinger Band extremes back toward
// the moving average.
func meanReversionDecision(market types.MarketData, params map[string]any, candles []types.Candle) (*types.Decision, string, error) {
	period := intParam(params, "period", 20)
	stdDevMult := decParam(params, "std_dev_mult", 2.0)
	if len(candles) < period {
		return nil, "", nil
	}
	window := candles[len(candles)-period:]

	sum := decimal.Zero
	for _, c := range window {
		sum = sum.Add(c.Close)
	}
	mean := sum.Div(decimal.NewFromInt(int64(period)))

	variance := decimal.Zero
	for _, c := range window {
		diff := c.Close.Sub(mean)
		variance = variance.Add(diff.Mul(diff))
	}
	variance = variance.Div(decimal.NewFromInt(int64(period)))
	stdDev := sqrtDecimal(variance)
	if stdDev.IsZero() {
		return nil, "", nil
	}

	current := candles[len(candles)-1].Close
	upper := mean.Add(stdDev.Mul(stdDevMult))
	lower := mean.Sub(stdDev.Mul(stdDevMult))

	if current.LessThan(lower) {
		deviation := lower.Sub(current).Div(stdDev)
		strength := deviation.Div(stdDevMult).Min(decimal.NewFromInt(1))
		return buyDecision(market.TriggerSymbol, strength, mean, current.Mul(decimal.NewFromFloat(0.97))), "price below lower band", nil
	}
	if current.GreaterThan(upper) {
		deviation := current.Sub(upper).Div(stdDev)
		strength := deviation.Div(stdDevMult).Min(decimal.NewFromInt(1))
		return sellDecision(market.TriggerSymbol, strength, mean, current.Mul(decimal.NewFromFloat(1.03))), "price above upper band", nil
	}
	return nil, "", nil
}

func breakoutBars(params map[string]any) int { return intParam(params, "lookback", 20) + 2 }

// breakoutDecision trades a close beyond the trailing high/low range
// when it's confirmed by above-average volume.
func breakoutDecision(market types.MarketData, params map[string]any, candles []types.Candle) (*types.Decision, string, error) {
	lookback := intParam(params, "lookback", 20)
	minVolMult := decParam(params, "min_volume_mult", 1.5)
	if len(candles) < lookback+1 {
		return nil, "", nil
	}
	n := len(candles)
	rangeCandles := candles[n-lookback-1 : n-1]

	highest, lowest := decimal.Zero, decimal.NewFromInt(1 << 40)
	avgVolume := decimal.Zero
	for _, c := range rangeCandles {
		if c.High.GreaterThan(highest) {
			highest = c.High
		}
		if c.Low.LessThan(lowest) {
			lowest = c.Low
		}
		avgVolume = avgVolume.Add(c.Volume)
	}
	avgVolume = avgVolume.Div(decimal.NewFromInt(int64(lookback)))

	last := candles[n-1]
	hasVolumeConfirm := avgVolume.IsPositive() && last.Volume.GreaterThan(avgVolume.Mul(minVolMult))
	rangeSize := highest.Sub(lowest)

	if last.Close.GreaterThan(highest) && hasVolumeConfirm {
		strength := decimal.NewFromFloat(0.8)
		return buyDecision(market.TriggerSymbol, strength, last.Close.Add(rangeSize), highest.Sub(rangeSize.Mul(decimal.NewFromFloat(0.5)))), "bullish breakout with volume", nil
	}
	if last.Close.LessThan(lowest) && hasVolumeConfirm {
		strength := decimal.NewFromFloat(0.8)
		return sellDecision(market.TriggerSymbol, strength, last.Close.Sub(rangeSize), lowest.Add(rangeSize.Mul(decimal.NewFromFloat(0.5)))), "bearish breakout with volume", nil
	}
	return nil, "", nil
}

func trendFollowingBars(params map[string]any) int {
	slow := intParam(params, "slow_period", 26)
	return slow*4 + 2
}

// trendFollowingDecision replays fast/slow EMAs over the window and
// fires on the crossover at the most recent bar.
func trendFollowingDecision(market types.MarketData, params map[string]any, candles []types.Candle) (*types.Decision, string, error) {
	fastPeriod := intParam(params, "fast_period", 12)
	slowPeriod := intParam(params, "slow_period", 26)
	if len(candles) < slowPeriod+2 {
		return nil, "", nil
	}

	fastMult := decimal.NewFromFloat(2.0).Div(decimal.NewFromInt(int64(fastPeriod + 1)))
	slowMult := decimal.NewFromFloat(2.0).Div(decimal.NewFromInt(int64(slowPeriod + 1)))

	fastEMA := candles[0].Close
	slowEMA := candles[0].Close
	var prevFast, prevSlow decimal.Decimal

	for i := 1; i < len(candles); i++ {
		price := candles[i].Close
		prevFast, prevSlow = fastEMA, slowEMA
		fastEMA = price.Mul(fastMult).Add(fastEMA.Mul(decimal.NewFromInt(1).Sub(fastMult)))
		slowEMA = price.Mul(slowMult).Add(slowEMA.Mul(decimal.NewFromInt(1).Sub(slowMult)))
	}

	wasBullish := prevFast.GreaterThan(prevSlow)
	isBullish := fastEMA.GreaterThan(slowEMA)
	price := candles[len(candles)-1].Close

	if !wasBullish && isBullish {
		return buyDecision(market.TriggerSymbol, decimal.NewFromFloat(0.7), price.Mul(decimal.NewFromFloat(1.06)), slowEMA.Mul(decimal.NewFromFloat(0.97))), "bullish ema crossover", nil
	}
	if wasBullish && !isBullish {
		return sellDecision(market.TriggerSymbol, decimal.NewFromFloat(0.7), price.Mul(decimal.NewFromFloat(0.94)), slowEMA.Mul(decimal.NewFromFloat(1.03))), "bearish ema crossover", nil
	}
	return nil, "", nil
}

func rsiDivergenceBars(params map[string]any) int { return intParam(params, "period", 14) + 30 }

// rsiDivergenceDecision computes a Wilder RSI series over the window
// and looks for price/RSI divergence against the most recent bar.
func rsiDivergenceDecision(market types.MarketData, params map[string]any, candles []types.Candle) (*types.Decision, string, error) {
	period := intParam(params, "period", 14)
	oversold := decParam(params, "oversold", 30)
	overbought := decParam(params, "overbought", 70)
	if len(candles) < period+11 {
		return nil, "", nil
	}

	rsiValues, priceValues := rsiSeries(candles, period)
	if len(rsiValues) < 10 {
		return nil, "", nil
	}
	if len(rsiValues) > 20 {
		rsiValues = rsiValues[len(rsiValues)-20:]
		priceValues = priceValues[len(priceValues)-20:]
	}

	n := len(rsiValues)
	currentPrice := priceValues[n-1]
	currentRSI := rsiValues[n-1]

	if currentRSI.LessThan(oversold.Add(decimal.NewFromInt(10))) {
		for i := 0; i < n-3; i++ {
			if priceValues[i].GreaterThan(currentPrice) && rsiValues[i].LessThan(currentRSI) {
				return buyDecision(market.TriggerSymbol, decimal.NewFromFloat(0.75), currentPrice.Mul(decimal.NewFromFloat(1.08)), currentPrice.Mul(decimal.NewFromFloat(0.96))), "bullish rsi divergence", nil
			}
		}
	}
	if currentRSI.GreaterThan(overbought.Sub(decimal.NewFromInt(10))) {
		for i := 0; i < n-3; i++ {
			if priceValues[i].LessThan(currentPrice) && rsiValues[i].GreaterThan(currentRSI) {
				return sellDecision(market.TriggerSymbol, decimal.NewFromFloat(0.75), currentPrice.Mul(decimal.NewFromFloat(0.92)), currentPrice.Mul(decimal.NewFromFloat(1.04))), "bearish rsi divergence", nil
			}
		}
	}
	return nil, "", nil
}

// rsiSeries computes the smoothed Wilder RSI at every bar from period
// onward, paired with the bar's close.
func rsiSeries(candles []types.Candle, period int) ([]decimal.Decimal, []decimal.Decimal) {
	var rsiValues, priceValues []decimal.Decimal
	var avgGain, avgLoss decimal.Decimal
	periodDec := decimal.NewFromInt(int64(period))

	gains := make([]decimal.Decimal, 0, len(candles))
	losses := make([]decimal.Decimal, 0, len(candles))
	for i := 1; i < len(candles); i++ {
		change := candles[i].Close.Sub(candles[i-1].Close)
		gain, loss := decimal.Zero, decimal.Zero
		if change.IsPositive() {
			gain = change
		} else {
			loss = change.Abs()
		}
		gains = append(gains, gain)
		losses = append(losses, loss)

		if len(gains) < period {
			continue
		}
		if avgGain.IsZero() && avgLoss.IsZero() {
			sumGain, sumLoss := decimal.Zero, decimal.Zero
			for j := 0; j < period; j++ {
				sumGain = sumGain.Add(gains[j])
				sumLoss = sumLoss.Add(losses[j])
			}
			avgGain = sumGain.Div(periodDec)
			avgLoss = sumLoss.Div(periodDec)
		} else {
			avgGain = avgGain.Mul(periodDec.Sub(decimal.NewFromInt(1))).Add(gain).Div(periodDec)
			avgLoss = avgLoss.Mul(periodDec.Sub(decimal.NewFromInt(1))).Add(loss).Div(periodDec)
		}

		var rsi decimal.Decimal
		if avgLoss.IsZero() {
			rsi = decimal.NewFromInt(100)
		} else {
			rs := avgGain.Div(avgLoss)
			rsi = decimal.NewFromInt(100).Sub(decimal.NewFromInt(100).Div(decimal.NewFromInt(1).Add(rs)))
		}
		rsiValues = append(rsiValues, rsi)
		priceValues = append(priceValues, candles[i].Close)
	}
	return rsiValues, priceValues
}

func vwapReversionBars(params map[string]any) int { return intParam(params, "window", 50) + 1 }

// vwapReversionDecision trades reversion to the volume-weighted
// average price over the window.
func vwapReversionDecision(market types.MarketData, params map[string]any, candles []types.Candle) (*types.Decision, string, error) {
	window := intParam(params, "window", 50)
	stdDevMult := decParam(params, "std_dev_mult", 2.0)
	if len(candles) < window {
		return nil, "", nil
	}
	bars := candles[len(candles)-window:]

	cumVolPrice, cumVolume := decimal.Zero, decimal.Zero
	for _, b := range bars {
		typical := b.High.Add(b.Low).Add(b.Close).Div(decimal.NewFromInt(3))
		cumVolPrice = cumVolPrice.Add(typical.Mul(b.Volume))
		cumVolume = cumVolume.Add(b.Volume)
	}
	if cumVolume.IsZero() {
		return nil, "", nil
	}
	vwap := cumVolPrice.Div(cumVolume)

	variance := decimal.Zero
	for _, b := range bars {
		typical := b.High.Add(b.Low).Add(b.Close).Div(decimal.NewFromInt(3))
		diff := typical.Sub(vwap)
		variance = variance.Add(diff.Mul(diff))
	}
	variance = variance.Div(decimal.NewFromInt(int64(len(bars))))
	stdDev := sqrtDecimal(variance)
	if stdDev.IsZero() {
		return nil, "", nil
	}

	current := candles[len(candles)-1].Close
	upper := vwap.Add(stdDev.Mul(stdDevMult))
	lower := vwap.Sub(stdDev.Mul(stdDevMult))

	if current.LessThan(lower) {
		return buyDecision(market.TriggerSymbol, decimal.NewFromFloat(0.7), vwap, current.Mul(decimal.NewFromFloat(0.97))), "price below vwap lower band", nil
	}
	if current.GreaterThan(upper) {
		return sellDecision(market.TriggerSymbol, decimal.NewFromFloat(0.7), vwap, current.Mul(decimal.NewFromFloat(1.03))), "price above vwap upper band", nil
	}
	return nil, "", nil
}

func gridBars(params map[string]any) int { return intParam(params, "grid_window", 50) + 2 }

// gridDecision anchors a grid to the price at the start of the lookback
// window and fires when the most recent close crosses a level the bar
// before it hadn't reached.
func gridDecision(market types.MarketData, params map[string]any, candles []types.Candle) (*types.Decision, string, error) {
	gridSize := decParam(params, "grid_size", 0.01)
	gridLevels := intParam(params, "grid_levels", 5)
	if len(candles) < 2 {
		return nil, "", nil
	}
	basePrice := candles[0].Close
	current := candles[len(candles)-1].Close
	previous := candles[len(candles)-2].Close

	for i := 1; i <= gridLevels; i++ {
		offset := gridSize.Mul(decimal.NewFromInt(int64(i)))
		buyLevel := basePrice.Sub(basePrice.Mul(offset))
		if current.LessThanOrEqual(buyLevel) && previous.GreaterThan(buyLevel) {
			return buyDecision(market.TriggerSymbol, decimal.NewFromFloat(0.6), basePrice, buyLevel.Mul(decimal.NewFromFloat(0.95))), "grid buy level triggered", nil
		}
		sellLevel := basePrice.Add(basePrice.Mul(offset))
		if current.GreaterThanOrEqual(sellLevel) && previous.LessThan(sellLevel) {
			return sellDecision(market.TriggerSymbol, decimal.NewFromFloat(0.6), basePrice, sellLevel.Mul(decimal.NewFromFloat(1.05))), "grid sell level triggered", nil
		}
	}
	return nil, "", nil
}

func dcaBars(params map[string]any) int { return 2 }

// dcaDecision buys on every call it's scheduled for (the engine's
// periodic trigger already encodes the DCA cadence) and sizes up when
// the most recent bar dropped more than the configured threshold.
func dcaDecision(market types.MarketData, params map[string]any, candles []types.Candle) (*types.Decision, string, error) {
	dropThreshold := decParam(params, "drop_threshold", 0.05)

	if len(candles) >= 2 {
		previous := candles[len(candles)-2].Close
		current := candles[len(candles)-1].Close
		if previous.IsPositive() {
			drop := previous.Sub(current).Div(previous)
			if drop.GreaterThan(dropThreshold) {
				return buyDecision(market.TriggerSymbol, decimal.NewFromFloat(0.7), decimal.Zero, decimal.Zero), "dca dip buy opportunity", nil
			}
		}
	}
	return buyDecision(market.TriggerSymbol, decimal.NewFromFloat(0.5), decimal.Zero, decimal.Zero), "scheduled dca buy", nil
}
