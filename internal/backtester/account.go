// Package backtester implements the event-driven backtest core: the
// virtual margined ledger, execution simulator, trigger interleaving,
// and the engine that drives them.
package backtester

import (
	"sync"
	"sync/atomic"

	"github.com/hyperarena/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// closeEpsilon is the residual-size threshold below which a partial
// close is treated as a full close.
var closeEpsilon = decimal.NewFromFloat(0.0001)

// VirtualAccount is a margined, multi-symbol perpetual futures
// ledger. Margin locks reduce balance but never equity directly;
// equity only moves on realized PnL, fees, and unrealized PnL marks.
type VirtualAccount struct {
	mu sync.RWMutex

	logger *zap.Logger

	initialBalance decimal.Decimal
	balance        decimal.Decimal
	realizedPnL    decimal.Decimal
	totalFees      decimal.Decimal
	equity         decimal.Decimal
	peakEquity     decimal.Decimal
	maxDrawdown    decimal.Decimal
	maxDrawdownPct decimal.Decimal

	positions     map[string]*types.Position
	pendingOrders map[string][]*types.PendingOrder
	nextOrderID   atomic.Uint64
}

// NewVirtualAccount creates an account seeded with initialBalance.
func NewVirtualAccount(initialBalance decimal.Decimal, logger *zap.Logger) *VirtualAccount {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VirtualAccount{
		logger:         logger,
		initialBalance: initialBalance,
		balance:        initialBalance,
		equity:         initialBalance,
		peakEquity:     initialBalance,
		positions:      make(map[string]*types.Position),
		pendingOrders:  make(map[string][]*types.PendingOrder),
	}
}

// Balance returns available cash (post margin locks).
func (a *VirtualAccount) Balance() decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.balance
}

// Equity returns the current equity per the equity identity.
func (a *VirtualAccount) Equity() decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.equity
}

// Drawdown returns the running max drawdown and max drawdown percent.
func (a *VirtualAccount) Drawdown() (decimal.Decimal, decimal.Decimal) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.maxDrawdown, a.maxDrawdownPct
}

// Position returns a copy of the open position for symbol, or nil.
func (a *VirtualAccount) Position(symbol string) *types.Position {
	a.mu.RLock()
	defer a.mu.RUnlock()
	pos, ok := a.positions[symbol]
	if !ok {
		return nil
	}
	posCopy := *pos
	return &posCopy
}

// Positions returns a snapshot of all open positions.
func (a *VirtualAccount) Positions() []types.Position {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]types.Position, 0, len(a.positions))
	for _, pos := range a.positions {
		out = append(out, *pos)
	}
	return out
}

// PendingOrders returns a snapshot of symbol's reduce-only orders.
func (a *VirtualAccount) PendingOrders(symbol string) []*types.PendingOrder {
	a.mu.RLock()
	defer a.mu.RUnlock()
	orders := a.pendingOrders[symbol]
	out := make([]*types.PendingOrder, len(orders))
	for i, o := range orders {
		oc := *o
		out[i] = &oc
	}
	return out
}

// SymbolsWithPositions returns the symbols that currently have an
// open position.
func (a *VirtualAccount) SymbolsWithPositions() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.positions))
	for sym := range a.positions {
		out = append(out, sym)
	}
	return out
}

// OpenPosition opens a new position on symbol. Fails (false) if
// balance cannot cover the required margin.
func (a *VirtualAccount) OpenPosition(symbol string, side types.PositionSide, size, entryPrice, leverage decimal.Decimal, t int64, fee decimal.Decimal) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if size.LessThanOrEqual(decimal.Zero) {
		return false
	}
	margin := size.Mul(entryPrice).Div(leverage)
	if a.balance.LessThan(margin) {
		return false
	}

	a.balance = a.balance.Sub(margin)
	a.totalFees = a.totalFees.Add(fee)
	a.positions[symbol] = &types.Position{
		Symbol:     symbol,
		Side:       side,
		Size:       size,
		EntryPrice: entryPrice,
		Leverage:   leverage,
		MarginUsed: margin,
		EntryTime:  t,
	}
	return true
}

// AddToPosition adds size to an existing position at entryPrice,
// recomputing the size-weighted average entry price. Fails if no
// position exists on symbol or balance cannot cover the new margin.
func (a *VirtualAccount) AddToPosition(symbol string, size, entryPrice decimal.Decimal, fee decimal.Decimal) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	pos, ok := a.positions[symbol]
	if !ok || size.LessThanOrEqual(decimal.Zero) {
		return false
	}
	margin := size.Mul(entryPrice).Div(pos.Leverage)
	if a.balance.LessThan(margin) {
		return false
	}

	oldNotional := pos.Size.Mul(pos.EntryPrice)
	newNotional := size.Mul(entryPrice)
	totalSize := pos.Size.Add(size)
	pos.EntryPrice = oldNotional.Add(newNotional).Div(totalSize)
	pos.Size = totalSize
	pos.MarginUsed = pos.MarginUsed.Add(margin)

	a.balance = a.balance.Sub(margin)
	a.totalFees = a.totalFees.Add(fee)
	return true
}

// ClosePosition fully closes symbol's position, returning the
// realized PnL. Idempotent no-op if no position exists.
func (a *VirtualAccount) ClosePosition(symbol string, exitPrice decimal.Decimal, fee decimal.Decimal) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closePositionLocked(symbol, exitPrice, fee)
}

func (a *VirtualAccount) closePositionLocked(symbol string, exitPrice, fee decimal.Decimal) decimal.Decimal {
	pos, ok := a.positions[symbol]
	if !ok {
		return decimal.Zero
	}
	pnl := positionPnL(pos.Side, pos.Size, pos.EntryPrice, exitPrice)

	a.balance = a.balance.Add(pos.MarginUsed)
	a.realizedPnL = a.realizedPnL.Add(pnl)
	a.totalFees = a.totalFees.Add(fee)

	delete(a.positions, symbol)
	delete(a.pendingOrders, symbol)
	return pnl
}

// PartialClosePosition closes up to size of symbol's position.
// entryPriceOverride, if non-zero, is used for PnL attribution
// instead of the position's weighted-average entry (used when a
// single tranche's TP/SL fires independently of the others).
// Falls back to a full close if the residual would be below the
// close epsilon.
func (a *VirtualAccount) PartialClosePosition(symbol string, size, exitPrice decimal.Decimal, fee decimal.Decimal, entryPriceOverride decimal.Decimal) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()

	pos, ok := a.positions[symbol]
	if !ok {
		return decimal.Zero
	}

	closeSize := size
	if closeSize.GreaterThan(pos.Size) {
		closeSize = pos.Size
	}
	residual := pos.Size.Sub(closeSize)
	if residual.LessThanOrEqual(closeEpsilon) {
		// Full close; attribute PnL using whichever entry price the
		// caller asked for, falling back to the position's own.
		entry := pos.EntryPrice
		if entryPriceOverride.GreaterThan(decimal.Zero) {
			entry = entryPriceOverride
		}
		pnl := positionPnL(pos.Side, pos.Size, entry, exitPrice)
		a.balance = a.balance.Add(pos.MarginUsed)
		a.realizedPnL = a.realizedPnL.Add(pnl)
		a.totalFees = a.totalFees.Add(fee)
		delete(a.positions, symbol)
		delete(a.pendingOrders, symbol)
		return pnl
	}

	entry := pos.EntryPrice
	if entryPriceOverride.GreaterThan(decimal.Zero) {
		entry = entryPriceOverride
	}
	pnl := positionPnL(pos.Side, closeSize, entry, exitPrice)
	marginReturned := pos.MarginUsed.Mul(closeSize).Div(pos.Size)

	a.balance = a.balance.Add(marginReturned)
	a.realizedPnL = a.realizedPnL.Add(pnl)
	a.totalFees = a.totalFees.Add(fee)

	pos.MarginUsed = pos.MarginUsed.Sub(marginReturned)
	pos.Size = residual
	return pnl
}

func positionPnL(side types.PositionSide, size, entryPrice, exitPrice decimal.Decimal) decimal.Decimal {
	diff := exitPrice.Sub(entryPrice)
	if side == types.PositionSideShort {
		diff = diff.Neg()
	}
	return diff.Mul(size)
}

// AddPendingOrder attaches a reduce-only TP/SL order to symbol.
// Order ids are strictly increasing across the account's lifetime.
func (a *VirtualAccount) AddPendingOrder(symbol string, side types.OrderSide, orderType types.PendingOrderType, triggerPrice, size, entryPrice decimal.Decimal, t int64) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextOrderID.Add(1)
	order := &types.PendingOrder{
		ID:           id,
		Symbol:       symbol,
		Side:         side,
		Type:         orderType,
		TriggerPrice: triggerPrice,
		Size:         size,
		EntryPrice:   entryPrice,
		CreatedAt:    t,
	}
	a.pendingOrders[symbol] = append(a.pendingOrders[symbol], order)
	return id
}

// RemovePendingOrder removes an order by id. Idempotent.
func (a *VirtualAccount) RemovePendingOrder(symbol string, id uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removePendingOrderLocked(symbol, id)
}

func (a *VirtualAccount) removePendingOrderLocked(symbol string, id uint64) {
	orders := a.pendingOrders[symbol]
	for i, o := range orders {
		if o.ID == id {
			a.pendingOrders[symbol] = append(orders[:i], orders[i+1:]...)
			return
		}
	}
}

// MarkEquity recomputes unrealized PnL from current prices and
// updates equity, peak equity, and the monotonic drawdown trackers.
func (a *VirtualAccount) MarkEquity(prices map[string]decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()

	unrealized := decimal.Zero
	for symbol, pos := range a.positions {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		pnl := positionPnL(pos.Side, pos.Size, pos.EntryPrice, price)
		pos.UnrealizedPnL = pnl
		unrealized = unrealized.Add(pnl)
	}

	a.equity = a.initialBalance.Add(a.realizedPnL).Sub(a.totalFees).Add(unrealized)

	if a.equity.GreaterThan(a.peakEquity) {
		a.peakEquity = a.equity
	}
	if a.peakEquity.GreaterThan(decimal.Zero) {
		dd := a.peakEquity.Sub(a.equity)
		if dd.GreaterThan(a.maxDrawdown) {
			a.maxDrawdown = dd
			a.maxDrawdownPct = dd.Div(a.peakEquity)
		}
	}
}

// RealizedPnL returns total realized PnL to date.
func (a *VirtualAccount) RealizedPnL() decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.realizedPnL
}

// TotalFees returns total fees paid to date.
func (a *VirtualAccount) TotalFees() decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.totalFees
}
