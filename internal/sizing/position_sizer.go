// Package sizing provides Kelly-criterion-based position sizing,
// consumed by internal/backtester.ExecutionSimulator as an opt-in
// alternative to the flat portion-of-balance rule.
package sizing

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PositionSizer turns a win-rate/reward-ratio history into a
// recommended position size, combining fractional Kelly with a
// risk-based cap.
type PositionSizer struct {
	logger *zap.Logger
	config *SizingConfig

	mu           sync.RWMutex
	tradeHistory []*TradeResult
}

// SizingConfig configures position sizing.
type SizingConfig struct {
	MaxPositionPct   float64 // maximum position as % of portfolio
	MaxPortfolioRisk float64 // maximum portfolio risk per trade
	KellyFraction    float64 // fraction of full Kelly to use
	MinPositionPct   float64 // minimum position size
	LookbackTrades   int     // number of trades retained for statistics
}

// DefaultSizingConfig returns conservative, quarter-Kelly defaults.
func DefaultSizingConfig() *SizingConfig {
	return &SizingConfig{
		MaxPositionPct:   0.15,
		MaxPortfolioRisk: 0.02,
		KellyFraction:    0.25,
		MinPositionPct:   0.1, // floor matches ExecutionSimulator's own minPortion
		LookbackTrades:   100,
	}
}

// AggressiveSizingConfig doubles the Kelly fraction and risk cap for
// strategies configured with SizingModeKellyAggressive.
func AggressiveSizingConfig() *SizingConfig {
	return &SizingConfig{
		MaxPositionPct:   0.20,
		MaxPortfolioRisk: 0.05,
		KellyFraction:    0.50,
		MinPositionPct:   0.1,
		LookbackTrades:   50,
	}
}

// TradeResult is one closed trade's outcome, fed back into the sizer
// so later sizing decisions reflect the strategy's realized edge.
type TradeResult struct {
	ReturnPct float64
	IsWin     bool
}

// NewPositionSizer creates a sizer; a nil config uses
// DefaultSizingConfig.
func NewPositionSizer(logger *zap.Logger, config *SizingConfig) *PositionSizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config == nil {
		config = DefaultSizingConfig()
	}
	return &PositionSizer{
		logger:       logger,
		config:       config,
		tradeHistory: make([]*TradeResult, 0, config.LookbackTrades*2),
	}
}

// AddTradeResult records a closed trade's outcome.
func (ps *PositionSizer) AddTradeResult(result *TradeResult) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.tradeHistory = append(ps.tradeHistory, result)
	if len(ps.tradeHistory) > ps.config.LookbackTrades*2 {
		ps.tradeHistory = ps.tradeHistory[len(ps.tradeHistory)-ps.config.LookbackTrades:]
	}
}

// TradeStatistics summarizes the sizer's trade history.
type TradeStatistics struct {
	TotalTrades int
	WinRate     float64
	AvgWin      float64
	AvgLoss     float64
}

// Statistics computes win rate and average win/loss percent from the
// trade history retained so far.
func (ps *PositionSizer) Statistics() TradeStatistics {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var stats TradeStatistics
	stats.TotalTrades = len(ps.tradeHistory)
	if stats.TotalTrades == 0 {
		return stats
	}

	var wins, losses int
	var sumWins, sumLosses float64
	for _, t := range ps.tradeHistory {
		if t.IsWin {
			wins++
			sumWins += t.ReturnPct
		} else {
			losses++
			sumLosses += math.Abs(t.ReturnPct)
		}
	}
	stats.WinRate = float64(wins) / float64(stats.TotalTrades)
	if wins > 0 {
		stats.AvgWin = sumWins / float64(wins)
	}
	if losses > 0 {
		stats.AvgLoss = sumLosses / float64(losses)
	}
	return stats
}

// RecommendedPortion returns the fractional-Kelly, risk-capped
// position size as a portion of balance in [MinPositionPct,
// MaxPositionPct], given the trade history so far and the decision's
// stop distance as a fraction of entry price. Returns the configured
// minimum when there isn't enough history to estimate an edge.
func (ps *PositionSizer) RecommendedPortion(stopDistancePct float64) float64 {
	stats := ps.Statistics()
	if stats.TotalTrades < 5 {
		return ps.config.MinPositionPct
	}

	kelly := ps.calculateKelly(stats.WinRate, stats.AvgWin, stats.AvgLoss)
	portion := kelly * ps.config.KellyFraction

	if stopDistancePct > 0 {
		riskBased := ps.config.MaxPortfolioRisk / stopDistancePct
		if riskBased < portion {
			portion = riskBased
		}
	}

	if portion > ps.config.MaxPositionPct {
		portion = ps.config.MaxPositionPct
	}
	if portion < ps.config.MinPositionPct {
		portion = ps.config.MinPositionPct
	}
	return portion
}

// calculateKelly implements the Kelly criterion: f* = p - q/b, where
// p is win probability, q = 1-p, and b is the win/loss ratio.
func (ps *PositionSizer) calculateKelly(winRate, avgWin, avgLoss float64) float64 {
	if winRate <= 0 || winRate >= 1 || avgLoss == 0 {
		return 0
	}
	p := winRate
	q := 1 - p
	b := avgWin / avgLoss
	if b <= 0 {
		return 0
	}
	kelly := p - q/b
	if kelly < 0 {
		return 0
	}
	if kelly > 1 {
		return 1
	}
	return kelly
}

// decimalPortion is a convenience wrapper for callers working in
// decimal.Decimal (ExecutionSimulator's sizing path).
func (ps *PositionSizer) decimalPortion(stopDistancePct float64) decimal.Decimal {
	return decimal.NewFromFloat(ps.RecommendedPortion(stopDistancePct))
}
