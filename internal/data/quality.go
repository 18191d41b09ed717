// Package data provides market data storage and the HistoricalDataProvider
// the backtest engine drives through a run.
package data

import (
	"sort"

	"github.com/hyperarena/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// QualityValidator checks loaded candle series for the defects that
// would silently corrupt a backtest: non-chronological bars,
// duplicate timestamps, and OHLC fields that violate high >= max(open,close)
// and low <= min(open,close).
type QualityValidator struct {
	logger         *zap.Logger
	maxIntradayPct decimal.Decimal
}

// NewQualityValidator creates a validator tuned for crypto perpetuals,
// which can move further intraday than equities.
func NewQualityValidator(logger *zap.Logger) *QualityValidator {
	return &QualityValidator{logger: logger, maxIntradayPct: decimal.NewFromFloat(0.30)}
}

// QualityIssue is one defect found in a candle series.
type QualityIssue struct {
	Type      string
	Timestamp int64
	Message   string
}

// QualityReport summarizes a validation pass.
type QualityReport struct {
	Symbol   string
	BarCount int
	Issues   []QualityIssue
	Usable   bool
}

// Validate runs all checks and reports whether the series is usable
// as-is. A series with OHLC consistency errors is never usable;
// chronological/duplicate defects are fixable by CleanData.
func (v *QualityValidator) Validate(candles []types.Candle, symbol string) QualityReport {
	report := QualityReport{Symbol: symbol, BarCount: len(candles), Usable: true}
	report.Issues = append(report.Issues, v.checkChronological(candles)...)
	report.Issues = append(report.Issues, v.checkDuplicates(candles)...)
	ohlcIssues := v.checkOHLCConsistency(candles, symbol)
	report.Issues = append(report.Issues, ohlcIssues...)
	if len(ohlcIssues) > 0 {
		report.Usable = false
	}
	if len(report.Issues) > 0 {
		v.logger.Warn("candle series has quality issues",
			zap.String("symbol", symbol),
			zap.Int("issueCount", len(report.Issues)),
			zap.Bool("usable", report.Usable),
		)
	}
	return report
}

func (v *QualityValidator) checkChronological(candles []types.Candle) []QualityIssue {
	var issues []QualityIssue
	for i := 1; i < len(candles); i++ {
		if candles[i].Timestamp < candles[i-1].Timestamp {
			issues = append(issues, QualityIssue{
				Type:      "out_of_order",
				Timestamp: candles[i].Timestamp,
				Message:   "candle precedes its predecessor",
			})
		}
	}
	return issues
}

func (v *QualityValidator) checkDuplicates(candles []types.Candle) []QualityIssue {
	var issues []QualityIssue
	seen := make(map[int64]bool, len(candles))
	for _, c := range candles {
		if seen[c.Timestamp] {
			issues = append(issues, QualityIssue{
				Type:      "duplicate_timestamp",
				Timestamp: c.Timestamp,
				Message:   "duplicate candle timestamp",
			})
		}
		seen[c.Timestamp] = true
	}
	return issues
}

func (v *QualityValidator) checkOHLCConsistency(candles []types.Candle, symbol string) []QualityIssue {
	var issues []QualityIssue
	for _, c := range candles {
		maxOC := decimal.Max(c.Open, c.Close)
		minOC := decimal.Min(c.Open, c.Close)
		if c.High.LessThan(maxOC) {
			issues = append(issues, QualityIssue{Type: "ohlc_inconsistent", Timestamp: c.Timestamp, Message: "high below open/close"})
		}
		if c.Low.GreaterThan(minOC) {
			issues = append(issues, QualityIssue{Type: "ohlc_inconsistent", Timestamp: c.Timestamp, Message: "low above open/close"})
		}
		if c.Open.IsZero() || c.Close.IsZero() {
			issues = append(issues, QualityIssue{Type: "zero_price", Timestamp: c.Timestamp, Message: "zero open or close"})
		}
	}
	return issues
}

// CleanData sorts by timestamp and drops duplicate bars, keeping the
// first occurrence of each timestamp.
func (v *QualityValidator) CleanData(candles []types.Candle) []types.Candle {
	sorted := make([]types.Candle, len(candles))
	copy(sorted, candles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	out := make([]types.Candle, 0, len(sorted))
	var lastT int64 = -1
	for _, c := range sorted {
		if c.Timestamp == lastT {
			continue
		}
		out = append(out, c)
		lastT = c.Timestamp
	}
	return out
}
