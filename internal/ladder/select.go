// Package ladder implements the entry side of the decision pipeline:
// strategy selection, ladder-entry sizing, DCA, and tail insurance. All
// functions here are pure: (state, config) -> proposed orders.
package ladder

import "ladder-engine/pkg/types"

// SelectStrategy maps a regime to the strategy that should run this
// tick, per spec.md §4.2.
func SelectStrategy(regime types.Regime) types.Strategy {
	switch regime {
	case types.LateCompressed, types.MidConsensus:
		return types.StrategyLadder
	case types.HighVolatility:
		return types.StrategyVolatilityAbsorption
	default:
		return types.StrategyNone
	}
}

// TailInsuranceParams bundles the always-on tail-insurance check's tunables.
type TailInsuranceParams struct {
	TailPriceThreshold float64
	TailExposurePct    float64
	Bankroll           float64
}

// CheckTailInsurance proposes a small opposite-side stake when the
// opposite price is very low and our exposure on the favored side
// exceeds a minimum. Runs regardless of the selected strategy.
func CheckTailInsurance(state *types.MarketState, priceYes, priceNo float64, p TailInsuranceParams) *types.ProposedOrder {
	if state.TailActive {
		return nil
	}

	minExposure := p.TailExposurePct * p.Bankroll

	switch state.ActiveTradeSide {
	case types.YES:
		if priceNo < p.TailPriceThreshold && state.ExposureYes >= minExposure {
			return &types.ProposedOrder{
				MarketID:       state.MarketID,
				Side:           types.NO,
				Price:          priceNo,
				SizeUSDC:       p.TailExposurePct * p.Bankroll,
				Strategy:       types.StrategyTailInsurance,
				StrategyDetail: "opposite-side convex hedge",
			}
		}
	case types.NO:
		if priceYes < p.TailPriceThreshold && state.ExposureNo >= minExposure {
			return &types.ProposedOrder{
				MarketID:       state.MarketID,
				Side:           types.YES,
				Price:          priceYes,
				SizeUSDC:       p.TailExposurePct * p.Bankroll,
				Strategy:       types.StrategyTailInsurance,
				StrategyDetail: "opposite-side convex hedge",
			}
		}
	}
	return nil
}
