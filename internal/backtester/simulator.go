package backtester

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/hyperarena/backtest-core/internal/sizing"
	"github.com/hyperarena/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// minPortion and maxPortion bound a Decision's requested balance
// fraction.
var (
	minPortion = decimal.NewFromFloat(0.1)
	maxPortion = decimal.NewFromFloat(1.0)
	minLeverage = decimal.NewFromInt(1)
	maxLeverage = decimal.NewFromInt(50)
)

// ExecutionSimulator translates strategy Decisions and candle data
// into VirtualAccount mutations, and detects TP/SL fills against
// intra-interval OHLC ranges.
type ExecutionSimulator struct {
	logger   *zap.Logger
	slippage SlippageModel
	feeRate  decimal.Decimal

	sizer *sizing.PositionSizer
}

// NewExecutionSimulator creates a simulator with the given slippage
// model and fee rate (percent, e.g. 0.035 means 0.035%).
func NewExecutionSimulator(slippage SlippageModel, feeRate decimal.Decimal, logger *zap.Logger) *ExecutionSimulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecutionSimulator{logger: logger, slippage: slippage, feeRate: feeRate}
}

// EnableKellySizing swaps the simulator's sizing rule from the flat
// portion-of-balance default to fractional-Kelly sizing, seeded from
// the trade history this simulator itself accumulates as positions
// close. A zero-value/SizingModeFlat mode leaves the flat rule in
// place.
func (s *ExecutionSimulator) EnableKellySizing(mode types.SizingMode) {
	switch mode {
	case types.SizingModeKelly:
		s.sizer = sizing.NewPositionSizer(s.logger, sizing.DefaultSizingConfig())
	case types.SizingModeKellyAggressive:
		s.sizer = sizing.NewPositionSizer(s.logger, sizing.AggressiveSizingConfig())
	}
}

func (s *ExecutionSimulator) fee(notional decimal.Decimal) decimal.Decimal {
	return notional.Mul(s.feeRate).Div(decimal.NewFromInt(100))
}

// ExecuteDecision dispatches a validated Decision against account at
// the current price currentPrice for symbol d.Symbol, using
// timestamp t for trade-record bookkeeping. Returns the trade
// record produced, or nil if the decision was a no-op or invalid.
func (s *ExecutionSimulator) ExecuteDecision(account *VirtualAccount, d *types.Decision, currentPrice decimal.Decimal, t int64, trigger types.TriggerEvent) *types.TradeRecord {
	if d == nil || d.Operation == types.OpHold || d.Symbol == "" || currentPrice.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	existing := account.Position(d.Symbol)

	switch d.Operation {
	case types.OpClose:
		if existing == nil {
			return nil
		}
		return s.closeFull(account, existing, currentPrice, t, trigger, types.ExitReasonDecision)

	case types.OpBuy, types.OpSell:
		side := operationSide(d.Operation)
		wantSide := types.PositionSideLong
		if side == types.OrderSideSell {
			wantSide = types.PositionSideShort
		}

		if existing == nil {
			return s.open(account, d, wantSide, currentPrice, t, trigger)
		}
		if existing.Side == wantSide {
			return s.add(account, d, existing, currentPrice, t, trigger)
		}
		// Reverse: close then open in the new side. The close is
		// recorded with ExitReasonReverse; the open is a fresh trade.
		s.closeFull(account, existing, currentPrice, t, trigger, types.ExitReasonReverse)
		return s.open(account, d, wantSide, currentPrice, t, trigger)
	}
	return nil
}

func operationSide(op types.Operation) types.OrderSide {
	if op == types.OpSell {
		return types.OrderSideSell
	}
	return types.OrderSideBuy
}

func (s *ExecutionSimulator) validatedSizing(d *types.Decision, account *VirtualAccount, currentPrice decimal.Decimal) (portion, leverage decimal.Decimal, ok bool) {
	portion = d.TargetPortionOfBalance
	if portion.IsZero() {
		portion = s.recommendedPortion(d, currentPrice)
	}
	if portion.LessThan(minPortion) || portion.GreaterThan(maxPortion) {
		return decimal.Zero, decimal.Zero, false
	}
	leverage = d.Leverage
	if leverage.IsZero() {
		leverage = minLeverage
	}
	if leverage.LessThan(minLeverage) || leverage.GreaterThan(maxLeverage) {
		return decimal.Zero, decimal.Zero, false
	}
	return portion, leverage, true
}

// recommendedPortion returns the flat default portion, or a
// fractional-Kelly portion derived from the simulator's own trade
// history when Kelly sizing is enabled.
func (s *ExecutionSimulator) recommendedPortion(d *types.Decision, currentPrice decimal.Decimal) decimal.Decimal {
	if s.sizer == nil {
		return maxPortion
	}
	stopDistancePct := 0.0
	if d.StopLossPrice.IsPositive() && currentPrice.IsPositive() {
		dist, _ := d.StopLossPrice.Sub(currentPrice).Abs().Div(currentPrice).Float64()
		stopDistancePct = dist
	}
	return decimal.NewFromFloat(s.sizer.RecommendedPortion(stopDistancePct))
}

// recordTradeOutcome feeds a closed trade's realized result back into
// the Kelly sizer, if enabled, so the next sizing decision reflects
// the strategy's realized edge.
func (s *ExecutionSimulator) recordTradeOutcome(rec *types.TradeRecord) {
	if s.sizer == nil || rec == nil || !rec.IsClosed() {
		return
	}
	pct, _ := rec.PnLPercent.Float64()
	s.sizer.AddTradeResult(&sizing.TradeResult{ReturnPct: pct, IsWin: rec.RealizedPnL.IsPositive()})
}

func (s *ExecutionSimulator) open(account *VirtualAccount, d *types.Decision, side types.PositionSide, currentPrice decimal.Decimal, t int64, trigger types.TriggerEvent) *types.TradeRecord {
	portion, leverage, ok := s.validatedSizing(d, account, currentPrice)
	if !ok {
		return nil
	}

	orderSide := operationSide(d.Operation)
	slip := s.slippage.Calculate(orderSide, decimal.Zero, nil)
	execPrice := ApplySlippage(currentPrice, orderSide, slip)

	notionalBudget := account.Balance().Mul(portion).Mul(leverage)
	if notionalBudget.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	size := notionalBudget.Div(execPrice)
	if size.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	fee := s.fee(size.Mul(execPrice))

	if !account.OpenPosition(d.Symbol, side, size, execPrice, leverage, t, fee) {
		return nil
	}
	s.attachTPSL(account, d, d.Symbol, orderSide, size, execPrice, t)

	rec := s.buildTradeRecord(account, d.Symbol, d.Operation, side, execPrice, size, leverage, fee, t, trigger)
	account.MarkEquity(map[string]decimal.Decimal{d.Symbol: currentPrice})
	rec.EquityAfter = account.Equity()
	return rec
}

func (s *ExecutionSimulator) add(account *VirtualAccount, d *types.Decision, existing *types.Position, currentPrice decimal.Decimal, t int64, trigger types.TriggerEvent) *types.TradeRecord {
	portion, _, ok := s.validatedSizing(d, account, currentPrice)
	if !ok {
		return nil
	}

	orderSide := operationSide(d.Operation)
	slip := s.slippage.Calculate(orderSide, decimal.Zero, nil)
	execPrice := ApplySlippage(currentPrice, orderSide, slip)

	notionalBudget := account.Balance().Mul(portion).Mul(existing.Leverage)
	if notionalBudget.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	size := notionalBudget.Div(execPrice)
	if size.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	fee := s.fee(size.Mul(execPrice))

	if !account.AddToPosition(d.Symbol, size, execPrice, fee) {
		return nil
	}
	s.attachTPSL(account, d, d.Symbol, orderSide, size, execPrice, t)

	rec := s.buildTradeRecord(account, d.Symbol, "add_position", existing.Side, execPrice, size, existing.Leverage, fee, t, trigger)
	account.MarkEquity(map[string]decimal.Decimal{d.Symbol: currentPrice})
	rec.EquityAfter = account.Equity()
	return rec
}

// attachTPSL creates independent reduce-only orders for the tranche
// just opened/added, tagged with its own entry price so that partial
// fills attribute PnL correctly per tranche.
func (s *ExecutionSimulator) attachTPSL(account *VirtualAccount, d *types.Decision, symbol string, openedSide types.OrderSide, size, entryPrice decimal.Decimal, t int64) {
	closingSide := types.OrderSideSell
	if openedSide == types.OrderSideSell {
		closingSide = types.OrderSideBuy
	}
	if d.TakeProfitPrice.GreaterThan(decimal.Zero) {
		account.AddPendingOrder(symbol, closingSide, types.PendingOrderTakeProfit, d.TakeProfitPrice, size, entryPrice, t)
	}
	if d.StopLossPrice.GreaterThan(decimal.Zero) {
		account.AddPendingOrder(symbol, closingSide, types.PendingOrderStopLoss, d.StopLossPrice, size, entryPrice, t)
	}
}

func (s *ExecutionSimulator) closeFull(account *VirtualAccount, pos *types.Position, currentPrice decimal.Decimal, t int64, trigger types.TriggerEvent, reason types.ExitReason) *types.TradeRecord {
	closingSide := types.OrderSideSell
	if pos.Side == types.PositionSideShort {
		closingSide = types.OrderSideBuy
	}
	slip := s.slippage.Calculate(closingSide, decimal.Zero, nil)
	execPrice := ApplySlippage(currentPrice, closingSide, slip)
	fee := s.fee(pos.Size.Mul(execPrice))

	pnl := account.ClosePosition(pos.Symbol, execPrice, fee)

	rec := s.buildTradeRecord(account, pos.Symbol, types.OpClose, pos.Side, pos.EntryPrice, pos.Size, pos.Leverage, fee, t, trigger)
	rec.ExitPrice = execPrice
	rec.ExitTimestamp = t
	rec.ExitReason = reason
	rec.RealizedPnL = pnl
	if notional := pos.EntryPrice.Mul(pos.Size); notional.GreaterThan(decimal.Zero) {
		rec.PnLPercent = pnl.Div(notional).Mul(decimal.NewFromInt(100))
	}
	account.MarkEquity(map[string]decimal.Decimal{pos.Symbol: currentPrice})
	rec.EquityAfter = account.Equity()
	s.recordTradeOutcome(rec)
	return rec
}

func (s *ExecutionSimulator) buildTradeRecord(account *VirtualAccount, symbol string, op types.Operation, side types.PositionSide, price, size, leverage, fee decimal.Decimal, t int64, trigger types.TriggerEvent) *types.TradeRecord {
	names := make([]string, 0, len(trigger.TriggeredSignals))
	for _, ts := range trigger.TriggeredSignals {
		names = append(names, ts.Name)
	}
	return &types.TradeRecord{
		ID:                   uuid.NewString(),
		Symbol:               symbol,
		Operation:            op,
		Side:                 side,
		EntryPrice:           price,
		Size:                 size,
		Leverage:             leverage,
		Fee:                  fee,
		Timestamp:            t,
		TriggerType:          trigger.Type,
		PoolName:             trigger.PoolName,
		TriggeredSignalNames: names,
	}
}

// CheckTPSLAgainstCandles evaluates every pending order on symbol
// against candles in chronological order. On each candle the pending
// orders are scanned in their insertion order and every order that
// matches fires, until the position is gone. Returns trade records
// for every fill, in the order
// they occurred. data and allSymbols let each fill price every other
// open symbol at the candle's timestamp so the recorded post-fill
// equity reflects the whole account, not just symbol.
func (s *ExecutionSimulator) CheckTPSLAgainstCandles(account *VirtualAccount, symbol string, candles []types.Candle, data DataProvider, allSymbols []string) []*types.TradeRecord {
	var fills []*types.TradeRecord

	for _, candle := range candles {
		pos := account.Position(symbol)
		if pos == nil {
			break
		}
		orders := account.PendingOrders(symbol)
		for _, order := range orders {
			if !orderFires(order, pos.Side, candle) {
				continue
			}
			rec := s.fillOrder(account, pos, order, candle, data, allSymbols)
			if rec != nil {
				fills = append(fills, rec)
			}
			account.RemovePendingOrder(symbol, order.ID)
			pos = account.Position(symbol)
			if pos == nil {
				break
			}
		}
	}
	return fills
}

func orderFires(order *types.PendingOrder, side types.PositionSide, candle types.Candle) bool {
	switch {
	case order.Type == types.PendingOrderTakeProfit && side == types.PositionSideLong:
		return candle.High.GreaterThanOrEqual(order.TriggerPrice)
	case order.Type == types.PendingOrderTakeProfit && side == types.PositionSideShort:
		return candle.Low.LessThanOrEqual(order.TriggerPrice)
	case order.Type == types.PendingOrderStopLoss && side == types.PositionSideLong:
		return candle.Low.LessThanOrEqual(order.TriggerPrice)
	case order.Type == types.PendingOrderStopLoss && side == types.PositionSideShort:
		return candle.High.GreaterThanOrEqual(order.TriggerPrice)
	}
	return false
}

// fillOrder executes a reduce-only order fill at its configured
// trigger price (with slippage applied), not the candle's close.
func (s *ExecutionSimulator) fillOrder(account *VirtualAccount, pos *types.Position, order *types.PendingOrder, candle types.Candle, data DataProvider, allSymbols []string) *types.TradeRecord {
	slip := s.slippage.Calculate(order.Side, order.Size, &candle)
	execPrice := ApplySlippage(order.TriggerPrice, order.Side, slip)
	fee := s.fee(order.Size.Mul(execPrice))

	pnl := account.PartialClosePosition(pos.Symbol, order.Size, execPrice, fee, order.EntryPrice)

	reason := types.ExitReasonTakeProfit
	if order.Type == types.PendingOrderStopLoss {
		reason = types.ExitReasonStopLoss
	}

	rec := &types.TradeRecord{
		ID:            uuid.NewString(),
		Symbol:        pos.Symbol,
		Operation:     types.OpClose,
		Side:          pos.Side,
		EntryPrice:    order.EntryPrice,
		Size:          order.Size,
		Leverage:      pos.Leverage,
		Fee:           fee,
		Timestamp:     candle.Timestamp,
		TriggerType:   types.TriggerTypeScheduled,
		ExitPrice:     execPrice,
		ExitTimestamp: candle.Timestamp,
		ExitReason:    reason,
		RealizedPnL:   pnl,
	}
	if notional := order.EntryPrice.Mul(order.Size); notional.GreaterThan(decimal.Zero) {
		rec.PnLPercent = pnl.Div(notional).Mul(decimal.NewFromInt(100))
	}
	account.MarkEquity(s.markPrices(data, allSymbols, pos.Symbol, candle.Close, candle.Timestamp))
	rec.EquityAfter = account.Equity()
	return rec
}

// markPrices builds the price snapshot a TP/SL fill marks equity
// against: self priced at selfPrice (the fill's own candle close),
// every other symbol in symbols priced at t via data.PriceAt. A
// symbol the provider has no price for at t is left out, matching
// MarkEquity's existing behavior of skipping symbols it can't price.
func (s *ExecutionSimulator) markPrices(data DataProvider, symbols []string, self string, selfPrice decimal.Decimal, t int64) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(symbols))
	prices[self] = selfPrice
	for _, sym := range symbols {
		if sym == self {
			continue
		}
		if price, ok := data.PriceAt(sym, t); ok {
			prices[sym] = price
		}
	}
	return prices
}

func (s *ExecutionSimulator) String() string {
	return fmt.Sprintf("ExecutionSimulator(feeRate=%s)", s.feeRate)
}
