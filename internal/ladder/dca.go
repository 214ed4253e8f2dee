package ladder

import "ladder-engine/pkg/types"

// DCAParams bundles the averaging-down tunables.
type DCAParams struct {
	FirstLevel           float64
	MaxDCABuys           int
	MaxMarketExposurePct float64
	Bankroll             float64
}

// ProposeDCA implements spec.md §4.4. It fires only when a position
// exists on the committed side, the game hasn't started, the regime
// isn't EARLY_UNCERTAIN, price is still above the first ladder level,
// the per-market DCA count hasn't hit the cap, and the price has
// drifted at least 5% below the average entry.
func ProposeDCA(state *types.MarketState, pos *types.Position, gameStartInFuture bool, priceYes, priceNo float64, p DCAParams) *types.ProposedOrder {
	if pos == nil {
		return nil
	}
	if !gameStartInFuture {
		return nil
	}
	if state.Regime == types.EarlyUncertain {
		return nil
	}
	if state.DCACount >= p.MaxDCABuys {
		return nil
	}

	var currentPrice, avgEntry float64
	switch state.ActiveTradeSide {
	case types.YES:
		currentPrice, avgEntry = priceYes, pos.AvgEntryYes
	case types.NO:
		currentPrice, avgEntry = priceNo, pos.AvgEntryNo
	default:
		return nil
	}

	if currentPrice < p.FirstLevel {
		return nil
	}
	if avgEntry <= 0 {
		return nil
	}
	drawdown := (avgEntry - currentPrice) / avgEntry
	if drawdown < 0.05 {
		return nil
	}

	size := p.Bankroll * p.MaxMarketExposurePct * 0.15
	return &types.ProposedOrder{
		MarketID:       state.MarketID,
		Side:           state.ActiveTradeSide,
		Price:          currentPrice,
		SizeUSDC:       size,
		Strategy:       types.StrategyDCA,
		StrategyDetail: "averaging down",
	}
}
