// Package types provides the shared data model for the backtest core
// and its surrounding adapters.
package types

import (
	"github.com/shopspring/decimal"
)

// OrderSide represents the closing/opening side of a position mutation.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// PositionSide represents long or short.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Operation is the action a strategy's Decision requests.
type Operation string

const (
	OpHold  Operation = "hold"
	OpBuy   Operation = "buy"
	OpSell  Operation = "sell"
	OpClose Operation = "close"
)

// PendingOrderType distinguishes take-profit from stop-loss orders.
type PendingOrderType string

const (
	PendingOrderTakeProfit PendingOrderType = "take_profit"
	PendingOrderStopLoss   PendingOrderType = "stop_loss"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitReasonDecision ExitReason = "decision"
	ExitReasonTakeProfit ExitReason = "tp"
	ExitReasonStopLoss   ExitReason = "sl"
	ExitReasonReverse    ExitReason = "reverse"
)

// TriggerType distinguishes a precomputed signal trigger from a
// dynamically scheduled periodic one.
type TriggerType string

const (
	TriggerTypeSignal    TriggerType = "signal"
	TriggerTypeScheduled TriggerType = "scheduled"
)

// Interval is a candle/scheduling interval.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

// IntervalMillis maps an Interval to its duration in milliseconds.
var IntervalMillis = map[Interval]int64{
	Interval1m:  60 * 1000,
	Interval5m:  5 * 60 * 1000,
	Interval15m: 15 * 60 * 1000,
	Interval30m: 30 * 60 * 1000,
	Interval1h:  60 * 60 * 1000,
	Interval4h:  4 * 60 * 60 * 1000,
	Interval1d:  24 * 60 * 60 * 1000,
}

// Candle is one OHLCV bar. Timestamp is the candle's close time, ms
// since epoch.
type Candle struct {
	Timestamp int64           `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Position is one symbol's open perpetual position in a VirtualAccount.
type Position struct {
	Symbol        string          `json:"symbol"`
	Side          PositionSide    `json:"side"`
	Size          decimal.Decimal `json:"size"`
	EntryPrice    decimal.Decimal `json:"entryPrice"`
	Leverage      decimal.Decimal `json:"leverage"`
	MarginUsed    decimal.Decimal `json:"marginUsed"`
	EntryTime     int64           `json:"entryTimestamp"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
}

// PendingOrder is an independent reduce-only TP/SL order attached to
// one entry tranche of a position.
type PendingOrder struct {
	ID           uint64           `json:"id"`
	Symbol       string           `json:"symbol"`
	Side         OrderSide        `json:"side"`
	Type         PendingOrderType `json:"type"`
	TriggerPrice decimal.Decimal  `json:"triggerPrice"`
	Size         decimal.Decimal  `json:"size"`
	EntryPrice   decimal.Decimal  `json:"entryPrice"`
	CreatedAt    int64            `json:"createdAt"`
}

// TriggeredSignal records one condition that fired within a signal
// pool's evaluation.
type TriggeredSignal struct {
	Name      string          `json:"name"`
	Metric    string          `json:"metric"`
	Operator  string          `json:"operator"`
	Threshold decimal.Decimal `json:"threshold"`
	Value     decimal.Decimal `json:"value"`
	Direction string          `json:"direction"`
}

// RegimeSnapshot is a labeled market-regime classification attached
// to a signal trigger for strategy context.
type RegimeSnapshot struct {
	Regime     string  `json:"regime"`
	Confidence float64 `json:"confidence"`
	Direction  string  `json:"direction"`
	Reason     string  `json:"reason"`
}

// TriggerEvent is one instant at which the engine reconsiders
// strategy state.
type TriggerEvent struct {
	Timestamp        int64             `json:"timestamp"`
	Type             TriggerType       `json:"type"`
	Symbol           string            `json:"symbol"`
	PoolID           string            `json:"poolId,omitempty"`
	PoolName         string            `json:"poolName,omitempty"`
	PoolLogic        string            `json:"poolLogic,omitempty"`
	TriggeredSignals []TriggeredSignal `json:"triggeredSignals,omitempty"`
	Regime           *RegimeSnapshot   `json:"regime,omitempty"`
}

// Decision is the output of a StrategyRunner call.
type Decision struct {
	Operation             Operation        `json:"operation"`
	Symbol                string           `json:"symbol"`
	TargetPortionOfBalance decimal.Decimal `json:"targetPortionOfBalance,omitempty"`
	Leverage              decimal.Decimal  `json:"leverage,omitempty"`
	MaxPrice              decimal.Decimal  `json:"maxPrice,omitempty"`
	MinPrice              decimal.Decimal  `json:"minPrice,omitempty"`
	TakeProfitPrice       decimal.Decimal  `json:"takeProfitPrice,omitempty"`
	StopLossPrice         decimal.Decimal  `json:"stopLossPrice,omitempty"`
	TimeInForce           string           `json:"timeInForce,omitempty"`
	Reason                string           `json:"reason,omitempty"`
	TradingStrategy       string           `json:"tradingStrategy,omitempty"`
}

// TradeRecord is one open or close mutation of the ledger.
type TradeRecord struct {
	ID                   string          `json:"id"`
	Symbol               string          `json:"symbol"`
	Operation            Operation       `json:"operation"`
	Side                 PositionSide    `json:"side"`
	EntryPrice           decimal.Decimal `json:"entryPrice"`
	Size                 decimal.Decimal `json:"size"`
	Leverage             decimal.Decimal `json:"leverage"`
	Fee                  decimal.Decimal `json:"fee"`
	Timestamp            int64           `json:"timestamp"`
	TriggerType          TriggerType     `json:"triggerType"`
	PoolName             string          `json:"poolName,omitempty"`
	TriggeredSignalNames []string        `json:"triggeredSignalNames,omitempty"`
	EquityAfter          decimal.Decimal `json:"equityAfter"`

	// Populated only when this record represents (or has since had)
	// a close.
	ExitPrice     decimal.Decimal `json:"exitPrice,omitempty"`
	ExitTimestamp int64           `json:"exitTimestamp,omitempty"`
	ExitReason    ExitReason      `json:"exitReason,omitempty"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl,omitempty"`
	PnLPercent    decimal.Decimal `json:"pnlPercent,omitempty"`
}

// IsClosed reports whether this record represents a completed close.
func (t *TradeRecord) IsClosed() bool {
	return t.ExitTimestamp != 0
}

// EquityPoint is one sample of the equity curve, emitted once per
// trigger.
type EquityPoint struct {
	Timestamp    int64           `json:"timestamp"`
	Equity       decimal.Decimal `json:"equity"`
	Balance      decimal.Decimal `json:"balance"`
	Drawdown     decimal.Decimal `json:"drawdown"`
}

// MarketData is the per-trigger snapshot passed to a StrategyRunner.
type MarketData struct {
	Timestamp         int64                  `json:"timestamp"`
	AvailableBalance  decimal.Decimal        `json:"availableBalance"`
	TotalEquity       decimal.Decimal        `json:"totalEquity"`
	CurrentPrices     map[string]decimal.Decimal `json:"currentPrices"`
	Positions         []Position             `json:"positions"`
	TriggerSymbol     string                 `json:"triggerSymbol"`
	TriggerType       TriggerType            `json:"triggerType"`
	SignalPoolName    string                 `json:"signalPoolName,omitempty"`
	PoolLogic         string                 `json:"poolLogic,omitempty"`
	TriggeredSignals  []TriggeredSignal      `json:"triggeredSignals,omitempty"`
	Regime            *RegimeSnapshot        `json:"regime,omitempty"`
}

// StrategyResult is the outcome of one StrategyRunner.Execute call.
type StrategyResult struct {
	Success  bool      `json:"success"`
	Decision *Decision `json:"decision,omitempty"`
	Error    string    `json:"error,omitempty"`
	Logs     []string  `json:"logs,omitempty"`
}

// TriggerExecutionResult is the streaming-form per-trigger output.
type TriggerExecutionResult struct {
	Trigger           TriggerEvent    `json:"trigger"`
	CurrentPrices     map[string]decimal.Decimal `json:"currentPrices"`
	StrategyResult    *StrategyResult `json:"strategyResult,omitempty"`
	DecisionTrade     *TradeRecord    `json:"decisionTrade,omitempty"`
	TPSLTrades        []TradeRecord   `json:"tpSlTrades,omitempty"`
	EquityBefore      decimal.Decimal `json:"equityBefore"`
	EquityAfterTPSL   decimal.Decimal `json:"equityAfterTpSl"`
	EquityAfter       decimal.Decimal `json:"equityAfter"`
	UnrealizedPnL     decimal.Decimal `json:"unrealizedPnl"`
	DataQueries       []DataQuery     `json:"dataQueries,omitempty"`
	RiskTripped       bool            `json:"riskTripped,omitempty"`
	RiskTripReason    string          `json:"riskTripReason,omitempty"`
}

// DataQuery is one audit-trail entry of a HistoricalDataProvider read.
type DataQuery struct {
	Method    string `json:"method"`
	Symbol    string `json:"symbol"`
	Timestamp int64  `json:"timestamp"`
}

// PerformanceStats are the aggregate statistics computed after a run.
type PerformanceStats struct {
	TotalPnL           decimal.Decimal `json:"totalPnl"`
	TotalPnLPercent    decimal.Decimal `json:"totalPnlPercent"`
	MaxDrawdown        decimal.Decimal `json:"maxDrawdown"`
	MaxDrawdownPercent decimal.Decimal `json:"maxDrawdownPercent"`
	SharpeRatio        float64         `json:"sharpeRatio"`
	TotalTrades        int             `json:"totalTrades"`
	WinningTrades      int             `json:"winningTrades"`
	LosingTrades       int             `json:"losingTrades"`
	WinRate            decimal.Decimal `json:"winRate"`
	ProfitFactor       decimal.Decimal `json:"profitFactor"`
	// ProfitFactorInfinite is true when there are wins and zero
	// losses: profit factor is unbounded, and ProfitFactor itself is
	// left at the zero Decimal since decimal.Decimal cannot represent
	// infinity.
	ProfitFactorInfinite bool `json:"profitFactorInfinite"`
	AvgWin             decimal.Decimal `json:"avgWin"`
	AvgLoss            decimal.Decimal `json:"avgLoss"`
	LargestWin         decimal.Decimal `json:"largestWin"`
	LargestLoss        decimal.Decimal `json:"largestLoss"`
	TotalTriggers      int             `json:"totalTriggers"`
	SignalTriggers     int             `json:"signalTriggers"`
	ScheduledTriggers  int             `json:"scheduledTriggers"`
}

// BacktestResult is the core's final output.
type BacktestResult struct {
	Success           bool               `json:"success"`
	Error             string             `json:"error,omitempty"`
	Stats             PerformanceStats   `json:"stats"`
	EquityCurve       []EquityPoint      `json:"equityCurve"`
	Trades            []TradeRecord      `json:"trades"`
	TriggerLog        []TriggerEvent     `json:"triggerLog"`
	StartTime         int64              `json:"startTime"`
	EndTime           int64              `json:"endTime"`
	ExecutionTimeMs   int64              `json:"executionTimeMs"`
	MonteCarloResult  *MonteCarloResult  `json:"monteCarloResult,omitempty"`
	WalkForwardResult *WalkForwardResult `json:"walkForwardResult,omitempty"`
	Viability         *ViabilityReport   `json:"viability,omitempty"`
}

// MonteCarloResult is the bootstrap-resampling validation output.
type MonteCarloResult struct {
	Iterations      int             `json:"iterations"`
	MedianReturn    decimal.Decimal `json:"medianReturn"`
	P5Return        decimal.Decimal `json:"p5Return"`
	P95Return       decimal.Decimal `json:"p95Return"`
	ProbabilityRuin decimal.Decimal `json:"probabilityRuin"`
	MaxDrawdownP95  decimal.Decimal `json:"maxDrawdownP95"`
}

// WalkForwardWindow is one in-sample/out-of-sample pair.
type WalkForwardWindow struct {
	InSampleStart  int64            `json:"inSampleStart"`
	InSampleEnd    int64            `json:"inSampleEnd"`
	OutSampleStart int64            `json:"outSampleStart"`
	OutSampleEnd   int64            `json:"outSampleEnd"`
	InSampleStats  PerformanceStats `json:"inSampleStats"`
	OutSampleStats PerformanceStats `json:"outSampleStats"`
}

// WalkForwardResult is the walk-forward validation output.
type WalkForwardResult struct {
	Windows    []WalkForwardWindow `json:"windows"`
	Robustness decimal.Decimal     `json:"robustness"`
}

// ViabilityReport is the post-run pass/fail scoring of a strategy.
type ViabilityReport struct {
	Viable        bool     `json:"viable"`
	Score         float64  `json:"score"`
	FailedChecks  []string `json:"failedChecks,omitempty"`
}
