package ladder

import "ladder-engine/pkg/types"

// Params bundles the ladder entry's tunables, taken from config.LadderConfig.
type Params struct {
	Levels      []float64 // ascending
	Weights     []float64 // same length as Levels, sums to ~1
	MaxBuyPrice float64
	MaxMarketExposurePct float64
	Bankroll             float64
}

// ProposeEntries implements spec.md §4.3. It determines the side to
// trade (sticky once ActiveTradeSide is set — flipping is disallowed),
// then proposes one order per ladder level that is newly crossed on
// this tick. Multiple levels may fire on one tick when price gaps
// through several rungs at once.
func ProposeEntries(state *types.MarketState, priceYes, priceNo float64, p Params) []types.ProposedOrder {
	side, price := resolveSide(state, priceYes, priceNo, p)
	if side == types.NONE {
		return nil
	}

	var orders []types.ProposedOrder
	for i, level := range p.Levels {
		if state.LadderFilled[level] {
			continue
		}
		if price < level || price > p.MaxBuyPrice {
			continue
		}
		size := p.Bankroll * p.MaxMarketExposurePct * p.Weights[i]
		orders = append(orders, types.ProposedOrder{
			MarketID:       state.MarketID,
			Side:           side,
			Price:          price,
			SizeUSDC:       size,
			Strategy:       types.StrategyLadder,
			StrategyDetail: "ladder entry",
		})
	}
	return orders
}

// resolveSide decides (or confirms) which side is tradeable this tick.
// Once ActiveTradeSide is set it never changes for the life of the
// position, per spec.md §3/§4.3.
func resolveSide(state *types.MarketState, priceYes, priceNo float64, p Params) (types.Side, float64) {
	if state.ActiveTradeSide == types.YES {
		return types.YES, priceYes
	}
	if state.ActiveTradeSide == types.NO {
		return types.NO, priceNo
	}

	firstLevel := p.Levels[0]
	if priceYes >= firstLevel && priceYes <= p.MaxBuyPrice {
		return types.YES, priceYes
	}
	if priceNo >= firstLevel && priceNo <= p.MaxBuyPrice {
		return types.NO, priceNo
	}
	return types.NONE, 0
}
