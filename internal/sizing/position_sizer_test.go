package sizing

import (
	"testing"

	"go.uber.org/zap"
)

func TestRecommendedPortionFloorsWithoutHistory(t *testing.T) {
	ps := NewPositionSizer(zap.NewNop(), DefaultSizingConfig())
	portion := ps.RecommendedPortion(0.05)
	if portion != DefaultSizingConfig().MinPositionPct {
		t.Fatalf("expected floor portion with no trade history, got %f", portion)
	}
}

func TestRecommendedPortionGrowsWithWinningEdge(t *testing.T) {
	ps := NewPositionSizer(zap.NewNop(), DefaultSizingConfig())
	for i := 0; i < 20; i++ {
		ps.AddTradeResult(&TradeResult{ReturnPct: 4, IsWin: true})
	}
	for i := 0; i < 5; i++ {
		ps.AddTradeResult(&TradeResult{ReturnPct: 2, IsWin: false})
	}

	portion := ps.RecommendedPortion(0.05)
	floor := DefaultSizingConfig().MinPositionPct
	if portion <= floor {
		t.Fatalf("expected a portion above the floor for a strong win rate, got %f (floor %f)", portion, floor)
	}
	if portion > DefaultSizingConfig().MaxPositionPct {
		t.Fatalf("expected portion capped at MaxPositionPct, got %f", portion)
	}
}

func TestStatisticsComputesWinRate(t *testing.T) {
	ps := NewPositionSizer(zap.NewNop(), DefaultSizingConfig())
	ps.AddTradeResult(&TradeResult{ReturnPct: 3, IsWin: true})
	ps.AddTradeResult(&TradeResult{ReturnPct: 1, IsWin: false})

	stats := ps.Statistics()
	if stats.TotalTrades != 2 {
		t.Fatalf("expected 2 trades, got %d", stats.TotalTrades)
	}
	if stats.WinRate != 0.5 {
		t.Fatalf("expected 0.5 win rate, got %f", stats.WinRate)
	}
}
