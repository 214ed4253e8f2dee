package store

import (
	"testing"
	"time"

	"ladder-engine/pkg/types"
)

func TestMemStoreRoundTripsMarketState(t *testing.T) {
	t.Parallel()

	s := NewMem()
	st := types.MarketState{
		MarketID:     "m1",
		LadderFilled: map[float64]bool{0.60: true, 0.70: true},
		DCACount:     2,
		ExposureYes:  5.0,
	}
	if err := s.SaveMarketState(st); err != nil {
		t.Fatalf("SaveMarketState: %v", err)
	}

	got, err := s.LoadMarketState("m1")
	if err != nil {
		t.Fatalf("LoadMarketState: %v", err)
	}
	if got == nil || !got.LadderFilled[0.60] || !got.LadderFilled[0.70] || got.DCACount != 2 {
		t.Errorf("round-tripped state = %+v, want matching ladderFilled/DCACount", got)
	}
}

func TestMemStoreMissingMarketStateReturnsNil(t *testing.T) {
	t.Parallel()

	s := NewMem()
	got, err := s.LoadMarketState("unknown")
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil for unknown market, got %+v, %v", got, err)
	}
}

func TestMemStoreSavePositionAndTradeIsAtomic(t *testing.T) {
	t.Parallel()

	s := NewMem()
	pos := types.Position{MarketID: "m1", SharesYes: 10, CostBasisYes: 5}
	trade := types.TradeRecord{ID: "t1", MarketID: "m1", SizeUSDC: 5, Shares: 10, Timestamp: time.Now()}

	if err := s.SavePositionAndTrade(pos, trade); err != nil {
		t.Fatalf("SavePositionAndTrade: %v", err)
	}

	trades, err := s.Trades("m1")
	if err != nil || len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %v, err=%v", trades, err)
	}
}

func TestMemStoreTrackedMarketsRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewMem()
	row := types.TrackedMarket{ConditionID: "m1", Status: types.TrackedInRange}
	if err := s.SaveTrackedMarket(row); err != nil {
		t.Fatalf("SaveTrackedMarket: %v", err)
	}

	rows, err := s.TrackedMarkets()
	if err != nil || len(rows) != 1 || rows[0].Status != types.TrackedInRange {
		t.Fatalf("unexpected tracked markets: %+v, err=%v", rows, err)
	}
}

func TestMemStorePositionsReturnsAllSavedPositions(t *testing.T) {
	t.Parallel()

	s := NewMem()
	_ = s.SavePosition(types.Position{MarketID: "m1", SharesYes: 10})
	_ = s.SavePosition(types.Position{MarketID: "m2", SharesNo: 5})

	rows, err := s.Positions()
	if err != nil || len(rows) != 2 {
		t.Fatalf("expected 2 positions, got %+v, err=%v", rows, err)
	}
}

func TestMemStoreActiveMarketsFiltersClosed(t *testing.T) {
	t.Parallel()

	s := NewMem()
	_ = s.SaveMarket(types.Market{ID: "open", Active: true, Closed: false})
	_ = s.SaveMarket(types.Market{ID: "closed", Active: true, Closed: true})

	rows, err := s.ActiveMarkets()
	if err != nil || len(rows) != 1 || rows[0].ID != "open" {
		t.Fatalf("unexpected active markets: %+v, err=%v", rows, err)
	}
}
