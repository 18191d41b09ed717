package backtester

import (
	"math"

	"github.com/hyperarena/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
)

// SlippageModel computes the fractional slippage applied to an
// execution price for a given side and size, optionally informed by
// the candle the fill occurs against.
type SlippageModel interface {
	Calculate(side types.OrderSide, size decimal.Decimal, candle *types.Candle) decimal.Decimal
}

// FixedSlippage applies a constant percentage regardless of size or
// volume. This is the default model and the one the testable
// properties in SPEC_FULL.md §8 are written against.
type FixedSlippage struct {
	Percent decimal.Decimal
}

// NewFixedSlippage creates a fixed-percentage slippage model.
func NewFixedSlippage(percent decimal.Decimal) *FixedSlippage {
	return &FixedSlippage{Percent: percent}
}

// Calculate returns Percent/100 regardless of inputs.
func (f *FixedSlippage) Calculate(types.OrderSide, decimal.Decimal, *types.Candle) decimal.Decimal {
	return f.Percent.Div(decimal.NewFromInt(100))
}

// VolumeWeightedSlippage scales slippage by the order's participation
// in the candle's volume using a square-root market-impact model.
// Kept as an optional, more realistic alternative to FixedSlippage;
// the engine always builds FixedSlippage, and no config option selects
// this model. It is used only by code that passes it to
// NewExecutionSimulator directly.
type VolumeWeightedSlippage struct {
	BasePercent  decimal.Decimal
	ImpactFactor decimal.Decimal
}

// NewVolumeWeightedSlippage creates a volume-weighted slippage model.
func NewVolumeWeightedSlippage(basePercent, impactFactor decimal.Decimal) *VolumeWeightedSlippage {
	return &VolumeWeightedSlippage{BasePercent: basePercent, ImpactFactor: impactFactor}
}

// Calculate returns BasePercent/100 plus an impact term proportional
// to sqrt(size/volume).
func (v *VolumeWeightedSlippage) Calculate(_ types.OrderSide, size decimal.Decimal, candle *types.Candle) decimal.Decimal {
	base := v.BasePercent.Div(decimal.NewFromInt(100))
	if candle == nil || candle.Volume.IsZero() {
		return base
	}
	participation, _ := size.Div(candle.Volume).Float64()
	impact := v.ImpactFactor.Mul(decimal.NewFromFloat(math.Sqrt(math.Max(participation, 0))))
	return base.Add(impact)
}

// ApplySlippage returns the execution price after slippage for a
// given side: buys pay up, sells receive less.
func ApplySlippage(price decimal.Decimal, side types.OrderSide, slippage decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if side == types.OrderSideBuy {
		return price.Mul(one.Add(slippage))
	}
	return price.Mul(one.Sub(slippage))
}
