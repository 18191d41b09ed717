package backtester

import (
	"testing"

	"github.com/hyperarena/backtest-core/pkg/types"
	"github.com/shopspring/decimal"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestOpenPositionLocksMarginAndFee(t *testing.T) {
	a := NewVirtualAccount(dec(10000), nil)

	ok := a.OpenPosition("BTC-PERP", types.PositionSideLong, dec(1), dec(100), dec(2), 1000, dec(0.5))
	if !ok {
		t.Fatal("expected open to succeed")
	}
	// margin = size*price/leverage = 1*100/2 = 50; the fee moves total
	// fees and equity, never balance.
	if !a.Balance().Equal(dec(10000 - 50)) {
		t.Fatalf("unexpected balance after open: %s", a.Balance())
	}
	if !a.TotalFees().Equal(dec(0.5)) {
		t.Fatalf("expected the fee to be tracked in total fees, got %s", a.TotalFees())
	}
}

func TestOpenPositionFailsWithInsufficientBalance(t *testing.T) {
	a := NewVirtualAccount(dec(10), nil)
	ok := a.OpenPosition("BTC-PERP", types.PositionSideLong, dec(1), dec(100), dec(1), 1000, dec(0))
	if ok {
		t.Fatal("expected open to fail when margin exceeds balance")
	}
}

func TestCloseLongPositionRealizesPnL(t *testing.T) {
	a := NewVirtualAccount(dec(10000), nil)
	a.OpenPosition("BTC-PERP", types.PositionSideLong, dec(1), dec(100), dec(1), 1000, dec(0))

	pnl := a.ClosePosition("BTC-PERP", dec(110), dec(0))
	if !pnl.Equal(dec(10)) {
		t.Fatalf("expected 10 pnl on a 100->110 long close, got %s", pnl)
	}
	if a.Position("BTC-PERP") != nil {
		t.Fatal("expected position to be removed after full close")
	}
}

func TestCloseShortPositionRealizesInvertedPnL(t *testing.T) {
	a := NewVirtualAccount(dec(10000), nil)
	a.OpenPosition("BTC-PERP", types.PositionSideShort, dec(1), dec(100), dec(1), 1000, dec(0))

	pnl := a.ClosePosition("BTC-PERP", dec(110), dec(0))
	if !pnl.Equal(dec(-10)) {
		t.Fatalf("expected -10 pnl on a short against a rally, got %s", pnl)
	}
}

func TestAddToPositionRecomputesWeightedEntry(t *testing.T) {
	a := NewVirtualAccount(dec(10000), nil)
	a.OpenPosition("BTC-PERP", types.PositionSideLong, dec(1), dec(100), dec(1), 1000, dec(0))
	a.AddToPosition("BTC-PERP", dec(1), dec(200), dec(0))

	pos := a.Position("BTC-PERP")
	if !pos.Size.Equal(dec(2)) {
		t.Fatalf("expected combined size 2, got %s", pos.Size)
	}
	if !pos.EntryPrice.Equal(dec(150)) {
		t.Fatalf("expected weighted-average entry 150, got %s", pos.EntryPrice)
	}
}

func TestPartialClosePositionFallsBackToFullCloseBelowEpsilon(t *testing.T) {
	a := NewVirtualAccount(dec(10000), nil)
	a.OpenPosition("BTC-PERP", types.PositionSideLong, dec(1), dec(100), dec(1), 1000, dec(0))

	a.PartialClosePosition("BTC-PERP", dec(0.99999), dec(110), dec(0), decimal.Zero)
	if a.Position("BTC-PERP") != nil {
		t.Fatal("expected residual below epsilon to trigger a full close")
	}
}

func TestMarkEquityTracksDrawdown(t *testing.T) {
	a := NewVirtualAccount(dec(1000), nil)
	a.OpenPosition("BTC-PERP", types.PositionSideLong, dec(1), dec(100), dec(1), 1000, dec(0))

	a.MarkEquity(map[string]decimal.Decimal{"BTC-PERP": dec(120)})
	if !a.Equity().Equal(dec(1020)) {
		t.Fatalf("expected equity 1020 after a rally, got %s", a.Equity())
	}

	a.MarkEquity(map[string]decimal.Decimal{"BTC-PERP": dec(90)})
	maxDD, maxDDPct := a.Drawdown()
	if maxDD.LessThanOrEqual(decimal.Zero) {
		t.Fatalf("expected positive drawdown after a pullback, got %s", maxDD)
	}
	if maxDDPct.LessThanOrEqual(decimal.Zero) {
		t.Fatalf("expected positive drawdown percent, got %s", maxDDPct)
	}
}
