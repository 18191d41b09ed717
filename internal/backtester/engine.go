package backtester

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hyperarena/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine orchestrates one backtest run end to end: it loads signal
// triggers, interleaves them with scheduled triggers via a
// TriggerStream, drives a VirtualAccount and ExecutionSimulator
// through each trigger's execution contract, and produces a
// BacktestResult.
//
// An Engine is not safe for concurrent use by multiple goroutines
// running different backtests; create one Engine per run, or guard
// concurrent Run calls externally (see SPEC_FULL.md §5).
type Engine struct {
	logger   *zap.Logger
	data     DataProvider
	signals  SignalBacktester
	regime   RegimeClassifier
	strategy StrategyRunner

	cancelled atomic.Bool
}

// NewEngine wires an Engine to its external collaborators. signals
// and regime may be nil when a run has no signal pools configured.
func NewEngine(data DataProvider, signals SignalBacktester, regime RegimeClassifier, strategy StrategyRunner, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{data: data, signals: signals, regime: regime, strategy: strategy, logger: logger}
}

// Cancel requests the in-flight Run/RunStream call stop at the next
// trigger boundary. Safe to call from another goroutine.
func (e *Engine) Cancel() {
	e.cancelled.Store(true)
}

func (e *Engine) validateConfig(cfg types.BacktestConfig) error {
	if cfg.StartTimeMs >= cfg.EndTimeMs {
		return fmt.Errorf("%w: start time must precede end time", ErrInvalidConfig)
	}
	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("%w: at least one symbol is required", ErrInvalidConfig)
	}
	if cfg.InitialBalance.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: initial balance must be positive", ErrInvalidConfig)
	}
	if len(cfg.SignalPoolIDs) == 0 && cfg.ScheduledInterval == "" {
		return fmt.Errorf("%w: a run needs signal pools, a scheduled interval, or both", ErrInvalidConfig)
	}
	return nil
}

// buildTriggerStream precomputes every signal pool's triggers across
// every configured symbol, attaches a regime snapshot to each, and
// returns a reset-rule TriggerStream over the combined set.
func (e *Engine) buildTriggerStream(cfg types.BacktestConfig) (*TriggerStream, error) {
	var all []types.TriggerEvent

	for _, poolID := range cfg.SignalPoolIDs {
		for _, symbol := range cfg.Symbols {
			if e.signals == nil {
				continue
			}
			triggers, err := e.signals.Triggers(poolID, symbol, cfg.StartTimeMs, cfg.EndTimeMs)
			if err != nil {
				return nil, fmt.Errorf("signal pool %s on %s: %w", poolID, symbol, err)
			}
			for i := range triggers {
				triggers[i].Symbol = symbol
				triggers[i].Type = types.TriggerTypeSignal
				if e.regime != nil {
					if snap, err := e.regime.Classify(symbol, types.Interval15m, triggers[i].Timestamp); err == nil {
						triggers[i].Regime = snap
					}
				}
			}
			all = append(all, triggers...)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })

	var intervalMs int64
	if cfg.ScheduledInterval != "" {
		intervalMs = types.IntervalMillis[cfg.ScheduledInterval]
	}

	stream := NewTriggerStream(all, intervalMs, cfg.StartTimeMs, cfg.EndTimeMs)
	if stream.Count() == 0 {
		return nil, ErrNoTriggers
	}
	return stream, nil
}

// runState carries the mutable pieces threaded through each
// executeTrigger call.
type runState struct {
	cfg        types.BacktestConfig
	account    *VirtualAccount
	simulator  *ExecutionSimulator
	risk       *RiskMonitor
	lastT      int64
	trades     []types.TradeRecord
	equity     []types.EquityPoint
	triggerLog []types.TriggerEvent
	startedAt  time.Time
}

// executeTrigger applies the per-trigger execution contract of
// SPEC_FULL.md §4.5 and returns the streaming-form result for this
// trigger.
func (e *Engine) executeTrigger(st *runState, trigger types.TriggerEvent) types.TriggerExecutionResult {
	e.data.SetCurrentTime(trigger.Timestamp)
	e.data.ClearQueryLog()

	prices := e.data.CurrentPrices(st.cfg.Symbols)
	result := types.TriggerExecutionResult{
		Trigger:       trigger,
		CurrentPrices: prices,
		EquityBefore:  st.account.Equity(),
	}

	if len(prices) == 0 {
		st.triggerLog = append(st.triggerLog, trigger)
		st.equity = append(st.equity, e.snapshotEquity(st, trigger.Timestamp))
		result.EquityAfterTPSL = result.EquityBefore
		result.EquityAfter = result.EquityBefore
		st.lastT = trigger.Timestamp
		return result
	}

	peak := e.peakEquity(st)

	for _, symbol := range st.account.SymbolsWithPositions() {
		candles := e.data.OHLCBetween(symbol, st.lastT, trigger.Timestamp, types.Interval5m)
		fills := st.simulator.CheckTPSLAgainstCandles(st.account, symbol, candles, e.data, st.cfg.Symbols)
		for _, f := range fills {
			st.trades = append(st.trades, *f)
			result.TPSLTrades = append(result.TPSLTrades, *f)
			if st.risk != nil {
				st.risk.RecordTradeOutcome(f.RealizedPnL)
			}
		}
	}
	st.account.MarkEquity(prices)
	result.EquityAfterTPSL = st.account.Equity()

	if st.risk != nil {
		st.risk.Check(st.account, peak)
		if tripped, reason := st.risk.Tripped(); tripped {
			result.RiskTripped = true
			result.RiskTripReason = reason
		}
	}

	market := e.buildMarketData(st, trigger, prices)
	strategyResult, err := e.strategy.Execute(st.cfg.StrategyCode, market, st.cfg.StrategyParams)
	if err != nil {
		strategyResult = &types.StrategyResult{Success: false, Error: err.Error()}
	}
	result.StrategyResult = strategyResult

	if strategyResult != nil && strategyResult.Success && strategyResult.Decision != nil {
		d := strategyResult.Decision
		price, ok := prices[d.Symbol]
		allowed := st.risk == nil || st.risk.AllowEntry(st.account) || d.Operation == types.OpClose
		if ok && allowed {
			if rec := st.simulator.ExecuteDecision(st.account, d, price, trigger.Timestamp, trigger); rec != nil {
				st.trades = append(st.trades, *rec)
				result.DecisionTrade = rec
				if rec.IsClosed() && st.risk != nil {
					st.risk.RecordTradeOutcome(rec.RealizedPnL)
				}
			}
		}
	}

	st.account.MarkEquity(prices)
	result.EquityAfter = st.account.Equity()
	result.UnrealizedPnL = e.sumUnrealized(st.account)
	result.DataQueries = e.data.QueryLog()

	st.triggerLog = append(st.triggerLog, trigger)
	st.equity = append(st.equity, e.snapshotEquity(st, trigger.Timestamp))
	st.lastT = trigger.Timestamp
	return result
}

func (e *Engine) peakEquity(st *runState) decimal.Decimal {
	peak := st.cfg.InitialBalance
	for _, p := range st.equity {
		if p.Equity.GreaterThan(peak) {
			peak = p.Equity
		}
	}
	return peak
}

func (e *Engine) sumUnrealized(account *VirtualAccount) decimal.Decimal {
	total := decimal.Zero
	for _, p := range account.Positions() {
		total = total.Add(p.UnrealizedPnL)
	}
	return total
}

func (e *Engine) snapshotEquity(st *runState, t int64) types.EquityPoint {
	dd, _ := st.account.Drawdown()
	return types.EquityPoint{
		Timestamp: t,
		Equity:    st.account.Equity(),
		Balance:   st.account.Balance(),
		Drawdown:  dd,
	}
}

func (e *Engine) buildMarketData(st *runState, trigger types.TriggerEvent, prices map[string]decimal.Decimal) types.MarketData {
	return types.MarketData{
		Timestamp:        trigger.Timestamp,
		AvailableBalance: st.account.Balance(),
		TotalEquity:      st.account.Equity(),
		CurrentPrices:    prices,
		Positions:        st.account.Positions(),
		TriggerSymbol:    trigger.Symbol,
		TriggerType:      trigger.Type,
		SignalPoolName:   trigger.PoolName,
		PoolLogic:        poolLogicOrDefault(trigger.PoolLogic),
		TriggeredSignals: trigger.TriggeredSignals,
		Regime:           trigger.Regime,
	}
}

func poolLogicOrDefault(logic string) string {
	if logic == "" {
		return "OR"
	}
	return logic
}

// Run executes a complete backtest and returns its final result. It
// never returns a non-nil error for recoverable conditions (missing
// data, a rejected decision, a strategy error) — those are folded
// into the returned result. A non-nil error indicates a
// configuration problem or an unexpected failure before any partial
// result could be assembled.
func (e *Engine) Run(ctx context.Context, cfg types.BacktestConfig) (*types.BacktestResult, error) {
	start := time.Now()
	if err := e.validateConfig(cfg); err != nil {
		return &types.BacktestResult{Success: false, Error: err.Error(), ExecutionTimeMs: time.Since(start).Milliseconds()}, err
	}

	stream, err := e.buildTriggerStream(cfg)
	if err != nil {
		return &types.BacktestResult{Success: false, Error: err.Error(), ExecutionTimeMs: time.Since(start).Milliseconds()}, err
	}

	account := NewVirtualAccount(cfg.InitialBalance, e.logger)
	slippageModel := NewFixedSlippage(cfg.SlippagePercent)
	simulator := NewExecutionSimulator(slippageModel, cfg.FeeRate, e.logger)
	if cfg.Sizing != nil {
		simulator.EnableKellySizing(cfg.Sizing.Mode)
	}

	var risk *RiskMonitor
	if cfg.RiskLimits != nil {
		risk = NewRiskMonitor(cfg.RiskLimits, e.logger)
		risk.SetDailyStartEquity(cfg.InitialBalance)
	}

	st := &runState{cfg: cfg, account: account, simulator: simulator, risk: risk, lastT: cfg.StartTimeMs, startedAt: start}

	stream.Each(func(trigger types.TriggerEvent) bool {
		if ctx.Err() != nil || e.cancelled.Load() {
			return false
		}
		e.executeTrigger(st, trigger)
		return true
	})

	return e.buildResult(st), nil
}

// RunStream is the streaming form: it pushes one TriggerExecutionResult
// per trigger onto the returned channel as the run progresses, and
// closes it when the run completes, is cancelled, or its context is
// done. The final BacktestResult is delivered on the second channel
// exactly once, after the first channel closes.
func (e *Engine) RunStream(ctx context.Context, cfg types.BacktestConfig) (<-chan types.TriggerExecutionResult, <-chan *types.BacktestResult) {
	resultsCh := make(chan types.TriggerExecutionResult, 16)
	finalCh := make(chan *types.BacktestResult, 1)

	go func() {
		defer close(resultsCh)
		defer close(finalCh)

		start := time.Now()

		if err := e.validateConfig(cfg); err != nil {
			finalCh <- &types.BacktestResult{Success: false, Error: err.Error(), ExecutionTimeMs: time.Since(start).Milliseconds()}
			return
		}
		stream, err := e.buildTriggerStream(cfg)
		if err != nil {
			finalCh <- &types.BacktestResult{Success: false, Error: err.Error(), ExecutionTimeMs: time.Since(start).Milliseconds()}
			return
		}

		account := NewVirtualAccount(cfg.InitialBalance, e.logger)
		slippageModel := NewFixedSlippage(cfg.SlippagePercent)
		simulator := NewExecutionSimulator(slippageModel, cfg.FeeRate, e.logger)
		if cfg.Sizing != nil {
			simulator.EnableKellySizing(cfg.Sizing.Mode)
		}

		var risk *RiskMonitor
		if cfg.RiskLimits != nil {
			risk = NewRiskMonitor(cfg.RiskLimits, e.logger)
			risk.SetDailyStartEquity(cfg.InitialBalance)
		}

		st := &runState{cfg: cfg, account: account, simulator: simulator, risk: risk, lastT: cfg.StartTimeMs, startedAt: start}

		stream.Each(func(trigger types.TriggerEvent) bool {
			select {
			case <-ctx.Done():
				return false
			default:
			}
			if e.cancelled.Load() {
				return false
			}
			res := e.executeTrigger(st, trigger)
			select {
			case resultsCh <- res:
			case <-ctx.Done():
				return false
			}
			return true
		})

		finalCh <- e.buildResult(st)
	}()

	return resultsCh, finalCh
}

func (e *Engine) buildResult(st *runState) *types.BacktestResult {
	maxDD, maxDDPct := st.account.Drawdown()
	signalCount, scheduledCount := 0, 0
	for _, t := range st.triggerLog {
		if t.Type == types.TriggerTypeSignal {
			signalCount++
		} else {
			scheduledCount++
		}
	}

	mc := NewMetricsCalculator()
	stats := mc.Calculate(st.trades, st.equity, st.cfg.InitialBalance, maxDD, maxDDPct, len(st.triggerLog), signalCount, scheduledCount)

	result := &types.BacktestResult{
		Success:         true,
		Stats:           stats,
		EquityCurve:     st.equity,
		Trades:          st.trades,
		TriggerLog:      st.triggerLog,
		StartTime:       st.cfg.StartTimeMs,
		EndTime:         st.cfg.EndTimeMs,
		ExecutionTimeMs: time.Since(st.startedAt).Milliseconds(),
	}

	if st.cfg.Validation != nil {
		e.attachValidation(result, st.cfg)
	}
	if len(st.trades) > 0 {
		result.Viability = AssessViability(stats, DefaultViabilityThresholds())
	}
	return result
}
