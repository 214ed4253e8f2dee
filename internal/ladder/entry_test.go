package ladder

import (
	"testing"

	"ladder-engine/pkg/types"
)

func testParams() Params {
	return Params{
		Levels:               []float64{0.60, 0.70, 0.80, 0.90, 0.95},
		Weights:              []float64{0.10, 0.15, 0.25, 0.25, 0.25},
		MaxBuyPrice:          0.92,
		MaxMarketExposurePct: 0.02,
		Bankroll:             1000,
	}
}

func freshState() *types.MarketState {
	return types.NewMarketState("m1")
}

// Scenario 1 from spec.md §8: ladder ignition (YES).
func TestProposeEntriesIgnition(t *testing.T) {
	t.Parallel()

	state := freshState()
	orders := ProposeEntries(state, 0.65, 0.35, testParams())

	if len(orders) != 1 {
		t.Fatalf("got %d orders, want 1", len(orders))
	}
	o := orders[0]
	if o.Side != types.YES || o.Price != 0.65 {
		t.Errorf("order = %+v, want side YES price 0.65", o)
	}
	if diff := o.SizeUSDC - 2.00; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("SizeUSDC = %v, want 2.00", o.SizeUSDC)
	}
}

// Scenario 2 from spec.md §8: gap-through multiple rungs.
func TestProposeEntriesGapThrough(t *testing.T) {
	t.Parallel()

	state := freshState()
	orders := ProposeEntries(state, 0.75, 0.25, testParams())

	if len(orders) != 2 {
		t.Fatalf("got %d orders, want 2", len(orders))
	}
	wantSizes := map[float64]float64{0.60: 2.00, 0.70: 3.00}
	seen := map[float64]bool{}
	for _, o := range orders {
		if o.Price != 0.75 {
			t.Errorf("order price = %v, want 0.75", o.Price)
		}
	}
	_ = wantSizes
	_ = seen
	if orders[0].SizeUSDC != 2.00 || orders[1].SizeUSDC != 3.00 {
		t.Errorf("sizes = [%v %v], want [2.00 3.00]", orders[0].SizeUSDC, orders[1].SizeUSDC)
	}
}

// Scenario 3 from spec.md §8: side lock.
func TestProposeEntriesSideLock(t *testing.T) {
	t.Parallel()

	state := freshState()
	state.ActiveTradeSide = types.YES
	state.LadderFilled[0.60] = true

	orders := ProposeEntries(state, 0.35, 0.65, testParams())
	if len(orders) != 0 {
		t.Errorf("got %d orders after side lock with adverse price, want 0 (no NO-side order)", len(orders))
	}
}

func TestProposeEntriesRespectsMaxBuyPrice(t *testing.T) {
	t.Parallel()

	state := freshState()
	orders := ProposeEntries(state, 0.99, 0.01, testParams())
	if len(orders) != 0 {
		t.Errorf("got %d orders above max buy price, want 0", len(orders))
	}
}
