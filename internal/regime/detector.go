// Package regime classifies the market microstructure regime at a
// point in historical time, using a lightweight hidden Markov model
// over recent returns blended with rule-based trend/volatility
// overrides.
package regime

import (
	"fmt"
	"math"

	"github.com/hyperarena/backtest-core/pkg/types"
	"go.uber.org/zap"
)

// Config tunes the classifier's lookback window and the thresholds
// that let a strong trend or volatility reading override the HMM's
// own state estimate.
type Config struct {
	WindowSize     int
	NumStates      int
	VolThreshold   float64
	TrendThreshold float64
	MRThreshold    float64
}

// DefaultConfig mirrors the teacher detector's tuning for crypto
// perpetuals: enough history to smooth noise without lagging regime
// changes by more than a day or two at hourly bars.
func DefaultConfig() Config {
	return Config{
		WindowSize:     100,
		NumStates:      4,
		VolThreshold:   0.25,
		TrendThreshold: 0.3,
		MRThreshold:    -0.1,
	}
}

// MarketDataStore is the subset of backtester.MarketDataStore the
// classifier needs: raw closes to derive returns from.
type MarketDataStore interface {
	OHLC(symbol string, interval types.Interval, t0, t1 int64) ([]types.Candle, error)
}

// regimeType is a classifier result: one of the four HMM states
// (bull, bear, high_vol, low_vol), the mean_reverting override, or
// unknown.
type regimeType string

const (
	regimeBull          regimeType = "bull"
	regimeBear          regimeType = "bear"
	regimeHighVol       regimeType = "high_vol"
	regimeLowVol        regimeType = "low_vol"
	regimeMeanReverting regimeType = "mean_reverting"
	regimeUnknown       regimeType = "unknown"
)

// Classifier implements backtester.RegimeClassifier by replaying a
// fixed-size window of trailing returns through a small HMM, then
// applying rule-based overrides for a strong trend or volatility
// reading the HMM alone tends to under-react to.
type Classifier struct {
	logger *zap.Logger
	store  MarketDataStore
	config Config

	transitionMatrix [][]float64
	emissionMeans    []float64
	emissionVars     []float64
}

// NewClassifier builds a classifier with a uniform initial transition
// matrix and emission parameters spread across a plausible return
// range; there is no training step, this is a fixed prior blended
// with rule-based overrides rather than a fitted model.
func NewClassifier(logger *zap.Logger, store MarketDataStore, config Config) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Classifier{logger: logger, store: store, config: config}
	c.initHMM()
	return c
}

func (c *Classifier) initHMM() {
	n := c.config.NumStates
	c.transitionMatrix = make([][]float64, n)
	for i := 0; i < n; i++ {
		c.transitionMatrix[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i == j {
				c.transitionMatrix[i][j] = 0.7
			} else {
				c.transitionMatrix[i][j] = 0.3 / float64(n-1)
			}
		}
	}
	// Bull, Bear, HighVol, LowVol emission means/variances over daily
	// return space.
	c.emissionMeans = []float64{0.01, -0.01, 0.0, 0.0}
	c.emissionVars = []float64{0.0004, 0.0004, 0.002, 0.00005}
}

// Classify loads the window of candles ending at t and returns the
// regime estimate for symbol at that instant.
func (c *Classifier) Classify(symbol string, interval types.Interval, t int64) (*types.RegimeSnapshot, error) {
	stepMs, ok := types.IntervalMillis[interval]
	if !ok {
		return nil, fmt.Errorf("unknown interval %q", interval)
	}
	lookback := int64(c.config.WindowSize+1) * stepMs
	candles, err := c.store.OHLC(symbol, interval, t-lookback, t)
	if err != nil {
		return nil, fmt.Errorf("load candles for regime classification: %w", err)
	}
	if len(candles) < 2 {
		return &types.RegimeSnapshot{Regime: string(regimeUnknown), Confidence: 0, Reason: "insufficient history"}, nil
	}

	returns := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev, _ := candles[i-1].Close.Float64()
		cur, _ := candles[i].Close.Float64()
		if prev == 0 {
			continue
		}
		returns = append(returns, (cur-prev)/prev)
	}
	if len(returns) < 2 {
		return &types.RegimeSnapshot{Regime: string(regimeUnknown), Confidence: 0, Reason: "insufficient returns"}, nil
	}

	trend := c.trend(returns)
	vol := c.volatility(returns) * math.Sqrt(252)
	mr := c.meanReversion(returns)
	probs := c.stateProbabilities(returns)

	primary, confidence, reason := c.classify(trend, vol, mr, probs)
	direction := "neutral"
	if trend > 0.1 {
		direction = "up"
	} else if trend < -0.1 {
		direction = "down"
	}

	return &types.RegimeSnapshot{
		Regime:     string(primary),
		Confidence: confidence,
		Direction:  direction,
		Reason:     reason,
	}, nil
}

func (c *Classifier) trend(returns []float64) float64 {
	sum := 0.0
	for _, r := range returns {
		sum += r
	}
	vol := c.volatility(returns)
	if vol == 0 {
		return 0
	}
	t := sum / (vol * math.Sqrt(float64(len(returns))))
	return clampUnit(t)
}

func (c *Classifier) volatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance)
}

func (c *Classifier) meanReversion(returns []float64) float64 {
	n := len(returns)
	if n < 3 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(n)

	autocov, variance := 0.0, 0.0
	for i := 1; i < n; i++ {
		autocov += (returns[i] - mean) * (returns[i-1] - mean)
		variance += (returns[i] - mean) * (returns[i] - mean)
	}
	if variance == 0 {
		return 0
	}
	return autocov / variance
}

func (c *Classifier) stateProbabilities(returns []float64) map[regimeType]float64 {
	n := c.config.NumStates
	alpha := make([]float64, n)
	for i := range alpha {
		alpha[i] = 1.0 / float64(n)
	}

	for _, ret := range returns {
		next := make([]float64, n)
		for j := 0; j < n; j++ {
			sum := 0.0
			for i := 0; i < n; i++ {
				sum += alpha[i] * c.transitionMatrix[i][j]
			}
			next[j] = sum * gaussianPDF(ret, c.emissionMeans[j], c.emissionVars[j])
		}
		total := 0.0
		for _, a := range next {
			total += a
		}
		if total > 0 {
			for j := range next {
				next[j] /= total
			}
		}
		alpha = next
	}

	regimeTypes := []regimeType{regimeBull, regimeBear, regimeHighVol, regimeLowVol}
	probs := make(map[regimeType]float64, len(regimeTypes))
	for i, rt := range regimeTypes {
		if i < len(alpha) {
			probs[rt] = alpha[i]
		}
	}
	return probs
}

func gaussianPDF(x, mean, variance float64) float64 {
	if variance <= 0 {
		variance = 0.0001
	}
	diff := x - mean
	exponent := -0.5 * diff * diff / variance
	coefficient := 1.0 / math.Sqrt(2*math.Pi*variance)
	return coefficient * math.Exp(exponent)
}

// classify blends the HMM's state estimate with rule-based overrides
// for trend/volatility/mean-reversion readings strong enough that the
// HMM's uniform prior would otherwise drown them out.
func (c *Classifier) classify(trend, vol, mr float64, probs map[regimeType]float64) (regimeType, float64, string) {
	best := regimeUnknown
	bestProb := 0.0
	for regime, prob := range probs {
		if prob > bestProb {
			bestProb = prob
			best = regime
		}
	}
	reason := "hmm state estimate"

	if vol > c.config.VolThreshold && bestProb < 0.7 {
		best, bestProb, reason = regimeHighVol, 0.5+vol/2, "volatility above threshold"
	} else if vol < c.config.VolThreshold/2 && bestProb < 0.7 {
		best, bestProb, reason = regimeLowVol, 0.5+(c.config.VolThreshold-vol)/c.config.VolThreshold, "volatility below threshold"
	}

	if math.Abs(trend) > c.config.TrendThreshold && best != regimeHighVol {
		if trend > 0 {
			best, bestProb, reason = regimeBull, 0.5+trend/2, "trend strength above threshold"
		} else {
			best, bestProb, reason = regimeBear, 0.5+math.Abs(trend)/2, "trend strength below negative threshold"
		}
	}

	if mr < c.config.MRThreshold && bestProb < 0.6 {
		best, bestProb, reason = regimeMeanReverting, 0.5+math.Abs(mr), "negative autocorrelation"
	}

	return best, clampUnit01(bestProb), reason
}

func clampUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

func clampUnit01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
