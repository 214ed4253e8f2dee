package ladder

import (
	"testing"

	"ladder-engine/pkg/types"
)

func TestSelectStrategyMapsRegimeToStrategy(t *testing.T) {
	t.Parallel()

	cases := []struct {
		regime types.Regime
		want   types.Strategy
	}{
		{types.LateCompressed, types.StrategyLadder},
		{types.MidConsensus, types.StrategyLadder},
		{types.HighVolatility, types.StrategyVolatilityAbsorption},
		{types.EarlyUncertain, types.StrategyNone},
	}

	for _, tc := range cases {
		if got := SelectStrategy(tc.regime); got != tc.want {
			t.Errorf("SelectStrategy(%v) = %v, want %v", tc.regime, got, tc.want)
		}
	}
}

func TestCheckTailInsuranceFiresWhenOppositeSideCollapses(t *testing.T) {
	t.Parallel()

	p := TailInsuranceParams{TailPriceThreshold: 0.05, TailExposurePct: 0.01, Bankroll: 1000}
	state := &types.MarketState{MarketID: "m1", ActiveTradeSide: types.YES, ExposureYes: 50}

	order := CheckTailInsurance(state, 0.97, 0.03, p)
	if order == nil {
		t.Fatal("expected a tail insurance order")
	}
	if order.Side != types.NO || order.Strategy != types.StrategyTailInsurance {
		t.Errorf("unexpected order: %+v", order)
	}
}

func TestCheckTailInsuranceSkipsWhenAlreadyActive(t *testing.T) {
	t.Parallel()

	p := TailInsuranceParams{TailPriceThreshold: 0.05, TailExposurePct: 0.01, Bankroll: 1000}
	state := &types.MarketState{MarketID: "m1", ActiveTradeSide: types.YES, ExposureYes: 50, TailActive: true}

	if order := CheckTailInsurance(state, 0.97, 0.03, p); order != nil {
		t.Errorf("expected nil once tail insurance is already active, got %+v", order)
	}
}

func TestCheckTailInsuranceSkipsWhenExposureBelowMinimum(t *testing.T) {
	t.Parallel()

	p := TailInsuranceParams{TailPriceThreshold: 0.05, TailExposurePct: 0.01, Bankroll: 1000}
	state := &types.MarketState{MarketID: "m1", ActiveTradeSide: types.YES, ExposureYes: 1}

	if order := CheckTailInsurance(state, 0.97, 0.03, p); order != nil {
		t.Errorf("expected nil below minimum exposure, got %+v", order)
	}
}
