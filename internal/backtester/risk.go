package backtester

import (
	"sync"

	"github.com/hyperarena/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RiskMonitor watches a VirtualAccount against a BacktestConfig's
// optional RiskLimits and trips a kill switch that halts new
// position entries for the remainder of a run. It never force-closes
// existing positions; those are left to their own TP/SL orders.
type RiskMonitor struct {
	mu                sync.RWMutex
	logger            *zap.Logger
	limits            *types.RiskLimits
	dailyStartEquity  decimal.Decimal
	consecutiveLosses int
	tripped           bool
	tripReason        string
}

// NewRiskMonitor creates a monitor. limits may be nil, in which case
// Check always returns false and AllowEntry always returns true.
func NewRiskMonitor(limits *types.RiskLimits, logger *zap.Logger) *RiskMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RiskMonitor{limits: limits, logger: logger}
}

// SetDailyStartEquity resets the reference equity for daily-loss
// tracking.
func (rm *RiskMonitor) SetDailyStartEquity(equity decimal.Decimal) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.dailyStartEquity = equity
}

// RecordTradeOutcome updates the consecutive-loss counter.
func (rm *RiskMonitor) RecordTradeOutcome(pnl decimal.Decimal) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if pnl.LessThan(decimal.Zero) {
		rm.consecutiveLosses++
	} else {
		rm.consecutiveLosses = 0
	}
}

// Tripped reports whether the kill switch has fired.
func (rm *RiskMonitor) Tripped() (bool, string) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.tripped, rm.tripReason
}

// Check evaluates account against the configured limits and trips
// the kill switch if any is breached. Returns true the instant it
// trips (subsequent calls return false; use Tripped for the latched
// state).
func (rm *RiskMonitor) Check(account *VirtualAccount, peakEquity decimal.Decimal) bool {
	if rm.limits == nil {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.tripped {
		return false
	}

	equity := account.Equity()

	if rm.limits.MaxDrawdownPct.GreaterThan(decimal.Zero) && peakEquity.GreaterThan(decimal.Zero) {
		drawdownPct := peakEquity.Sub(equity).Div(peakEquity).Mul(decimal.NewFromInt(100))
		if drawdownPct.GreaterThan(rm.limits.MaxDrawdownPct) {
			rm.tripped = true
			rm.tripReason = "max_drawdown"
			rm.logger.Warn("kill switch tripped", zap.String("reason", rm.tripReason), zap.String("drawdownPct", drawdownPct.String()))
			return true
		}
	}

	if rm.limits.MaxDailyLossPct.GreaterThan(decimal.Zero) && rm.dailyStartEquity.GreaterThan(decimal.Zero) {
		lossPct := rm.dailyStartEquity.Sub(equity).Div(rm.dailyStartEquity).Mul(decimal.NewFromInt(100))
		if lossPct.GreaterThan(rm.limits.MaxDailyLossPct) {
			rm.tripped = true
			rm.tripReason = "max_daily_loss"
			rm.logger.Warn("kill switch tripped", zap.String("reason", rm.tripReason), zap.String("lossPct", lossPct.String()))
			return true
		}
	}

	if rm.limits.MaxConsecutiveLoss > 0 && rm.consecutiveLosses >= rm.limits.MaxConsecutiveLoss {
		rm.tripped = true
		rm.tripReason = "max_consecutive_loss"
		rm.logger.Warn("kill switch tripped", zap.String("reason", rm.tripReason))
		return true
	}

	return false
}

// AllowEntry reports whether a new open/add decision may proceed.
func (rm *RiskMonitor) AllowEntry(account *VirtualAccount) bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	if rm.tripped {
		return false
	}
	if rm.limits != nil && rm.limits.MaxOpenPositions > 0 {
		if len(account.SymbolsWithPositions()) >= rm.limits.MaxOpenPositions {
			return false
		}
	}
	return true
}
