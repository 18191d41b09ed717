package data

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperarena/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store is a file-backed, in-memory-cached MarketDataStore. It loads
// candle series as JSON from disk on first access, falling back to
// deterministic synthetic data for symbols with no file so a fresh
// checkout can run backtests without a data pipeline.
//
// It implements backtester.MarketDataStore.
type Store struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	dataDir   string
	cache     map[string][]types.Candle
	validator *QualityValidator
	rng       *rand.Rand
}

// NewStore creates a Store rooted at dataDir, creating the directory
// if it does not already exist.
func NewStore(logger *zap.Logger, dataDir string) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Store{
		logger:    logger,
		dataDir:   dataDir,
		cache:     make(map[string][]types.Candle),
		validator: NewQualityValidator(logger),
		rng:       rand.New(rand.NewSource(1)),
	}, nil
}

func cacheKey(symbol string, interval types.Interval) string {
	return symbol + "_" + string(interval)
}

// OHLC returns candles for symbol/interval within [t0, t1], loading
// and caching the full series on first request.
func (s *Store) OHLC(symbol string, interval types.Interval, t0, t1 int64) ([]types.Candle, error) {
	candles, err := s.loadSeries(symbol, interval)
	if err != nil {
		return nil, err
	}
	lo := sort.Search(len(candles), func(i int) bool { return candles[i].Timestamp >= t0 })
	hi := sort.Search(len(candles), func(i int) bool { return candles[i].Timestamp > t1 })
	if lo >= hi {
		return nil, nil
	}
	out := make([]types.Candle, hi-lo)
	copy(out, candles[lo:hi])
	return out, nil
}

// LatestClose returns the close of the most recent 1m candle at or
// before t.
func (s *Store) LatestClose(symbol string, atOrBefore int64) (decimal.Decimal, bool) {
	candles, err := s.loadSeries(symbol, types.Interval1m)
	if err != nil || len(candles) == 0 {
		return decimal.Zero, false
	}
	idx := sort.Search(len(candles), func(i int) bool { return candles[i].Timestamp > atOrBefore })
	if idx == 0 {
		return decimal.Zero, false
	}
	return candles[idx-1].Close, true
}

// Indicator is unimplemented in this store: it always reports no
// value, signalling to callers that precomputed indicators must come
// from another collaborator (e.g. internal/signals).
func (s *Store) Indicator(symbol, name string, interval types.Interval, atOrBefore int64) (decimal.Decimal, bool) {
	return decimal.Zero, false
}

// Flow reports order-flow style metrics; unsupported by the candle
// store, always returns no value.
func (s *Store) Flow(symbol, metric string, interval types.Interval, atOrBefore int64) (map[string]decimal.Decimal, bool) {
	return nil, false
}

func (s *Store) loadSeries(symbol string, interval types.Interval) ([]types.Candle, error) {
	key := cacheKey(symbol, interval)

	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.cache[key]; ok {
		return cached, nil
	}

	filename := filepath.Join(s.dataDir, fmt.Sprintf("%s_%s.json", symbol, interval))
	raw, err := os.ReadFile(filename)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read candle file: %w", err)
		}
		s.logger.Info("no candle file found, generating synthetic series", zap.String("symbol", symbol), zap.String("interval", string(interval)))
		candles := s.syntheticSeries(symbol, interval)
		s.cache[key] = candles
		return candles, nil
	}

	var candles []types.Candle
	if err := json.Unmarshal(raw, &candles); err != nil {
		return nil, fmt.Errorf("parse candle file: %w", err)
	}
	candles = s.validator.CleanData(candles)
	report := s.validator.Validate(candles, symbol)
	if !report.Usable {
		s.logger.Warn("candle series failed quality validation", zap.String("symbol", symbol), zap.Int("issues", len(report.Issues)))
	}
	s.cache[key] = candles
	return candles, nil
}

// startingPrice returns a deterministic seed price per symbol so
// repeated runs against the synthetic generator are comparable.
func startingPrice(symbol string) float64 {
	switch symbol {
	case "BTC-PERP", "BTCUSDT":
		return 40000.0
	case "ETH-PERP", "ETHUSDT":
		return 2000.0
	case "SOL-PERP", "SOLUSDT":
		return 100.0
	default:
		return 100.0
	}
}

// syntheticSeries generates a random-walk candle series covering
// roughly 90 days at the given interval, purely so a fresh checkout
// has something to backtest against without a real data pipeline.
func (s *Store) syntheticSeries(symbol string, interval types.Interval) []types.Candle {
	stepMs, ok := types.IntervalMillis[interval]
	if !ok {
		stepMs = types.IntervalMillis[types.Interval1m]
	}
	const totalBars = 90 * 24 * 60 * 60 * 1000 / 60000 // ~90 days of 1m bars
	bars := totalBars
	if stepMs > types.IntervalMillis[types.Interval1m] {
		bars = (90 * 24 * 60 * 60 * 1000) / int(stepMs)
	}

	price := startingPrice(symbol)
	t := int64(0)
	out := make([]types.Candle, 0, bars)
	for i := 0; i < bars; i++ {
		change := (s.rng.Float64() - 0.5) * 0.02 * price
		open := price
		price += change
		if price <= 0 {
			price = 1
		}
		closeP := price
		high := maxF(open, closeP) * (1 + s.rng.Float64()*0.005)
		low := minF(open, closeP) * (1 - s.rng.Float64()*0.005)
		volume := s.rng.Float64() * 1_000_000

		out = append(out, types.Candle{
			Timestamp: t,
			Open:      decimal.NewFromFloat(open),
			High:      decimal.NewFromFloat(high),
			Low:       decimal.NewFromFloat(low),
			Close:     decimal.NewFromFloat(closeP),
			Volume:    decimal.NewFromFloat(volume),
		})
		t += stepMs
	}
	return out
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// ClearCache drops every cached series, forcing the next OHLC call to
// reload from disk or regenerate.
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string][]types.Candle)
}
