// Package exit implements the exit side of the decision pipeline: the
// pre-game stop, consensus-break tracking, and the profit-take / moon-bag
// / thesis-stop precedence chain. Exit orders always take precedence over
// entries on the same tick (see the orchestrator's pipeline, step 6).
package exit

import (
	"time"

	"ladder-engine/pkg/types"
)

// Params bundles the exit strategy's tunables.
type Params struct {
	FirstLevel          float64
	ConfirmationWindow  time.Duration
	CooldownDuration    time.Duration
	ResolutionThreshold float64
	TakeProfitPct       float64
	MoonBagDropPct      float64
}

// Decision is the outcome of Evaluate: at most one exit order. State
// changes (cooldown, consensus break, moon bag) are made on the passed
// MarketState in place.
type Decision struct {
	Order *types.ProposedOrder
}

// Evaluate runs on every tick when a position exists, implementing
// spec.md §4.5's precedence order: pre-game stop, then consensus-break
// tracking, then profit-take/resolution/moon-bag. It mutates state
// in-place for the tracking fields (consensus break timestamps, moon-bag
// activation, cooldown) since those must be recorded even on ticks that
// produce no order.
func Evaluate(state *types.MarketState, pos *types.Position, now time.Time, gameStartTime *time.Time, p Params) Decision {
	var heldPrice, avgEntry, sharesHeld float64
	switch state.ActiveTradeSide {
	case types.YES:
		heldPrice, avgEntry, sharesHeld = lastPrice(state, true), pos.AvgEntryYes, pos.SharesYes
	case types.NO:
		heldPrice, avgEntry, sharesHeld = lastPrice(state, false), pos.AvgEntryNo, pos.SharesNo
	default:
		return Decision{}
	}

	if d := checkPreGameStop(state, heldPrice, now, gameStartTime, p); d.Order != nil {
		return d
	}

	trackConsensusBreak(state, heldPrice, now, p)

	return checkProfitResolutionMoonBag(state, heldPrice, avgEntry, sharesHeld, p)
}

func lastPrice(state *types.MarketState, yes bool) float64 {
	if yes {
		return state.LastPriceYes
	}
	return state.LastPriceNo
}

// checkPreGameStop implements rule 1: if we're still before game start
// and the held side has fallen below the first ladder level, and we're
// not already in cooldown, exit fully and start the cooldown.
func checkPreGameStop(state *types.MarketState, heldPrice float64, now time.Time, gameStartTime *time.Time, p Params) Decision {
	if gameStartTime == nil || !now.Before(*gameStartTime) {
		return Decision{}
	}
	if heldPrice >= p.FirstLevel {
		return Decision{}
	}
	if state.CooldownUntil != nil && now.Before(*state.CooldownUntil) {
		return Decision{}
	}

	until := now.Add(p.CooldownDuration)
	state.CooldownUntil = &until
	now2 := now
	state.StopLossTriggeredAt = &now2

	return Decision{Order: &types.ProposedOrder{
		MarketID:       state.MarketID,
		Side:           state.ActiveTradeSide,
		Price:          heldPrice,
		IsExit:         true,
		ExitPct:        1.0,
		Strategy:       types.StrategyExitPreGame,
		StrategyDetail: "pre-game stop",
	}}
}

// trackConsensusBreak implements rule 2: records when the held side
// first drops below the first ladder level, confirms the break once it
// has persisted past the confirmation window, and clears both fields if
// price recovers above the level.
func trackConsensusBreak(state *types.MarketState, heldPrice float64, now time.Time, p Params) {
	if heldPrice < p.FirstLevel {
		if state.ConsensusBreakStartTime == nil {
			t := now
			state.ConsensusBreakStartTime = &t
		}
		if now.Sub(*state.ConsensusBreakStartTime) >= p.ConfirmationWindow {
			state.ConsensusBreakConfirmed = true
		}
		return
	}
	state.ConsensusBreakStartTime = nil
	state.ConsensusBreakConfirmed = false
}

// checkProfitResolutionMoonBag implements rule 3's four-way chain.
func checkProfitResolutionMoonBag(state *types.MarketState, heldPrice, avgEntry, sharesHeld float64, p Params) Decision {
	if heldPrice >= p.ResolutionThreshold {
		return Decision{Order: fullExit(state, heldPrice, types.StrategyExitResolution, "resolution threshold reached")}
	}

	if avgEntry > 0 {
		unrealizedPct := (heldPrice - avgEntry) / avgEntry
		if unrealizedPct >= p.TakeProfitPct && !state.MoonBagActive {
			state.MoonBagActive = true
			state.MoonBagPriceAtActivation = heldPrice
			return Decision{Order: &types.ProposedOrder{
				MarketID:       state.MarketID,
				Side:           state.ActiveTradeSide,
				Price:          heldPrice,
				IsExit:         true,
				ExitPct:        0.75,
				Strategy:       types.StrategyExitProfitTake,
				StrategyDetail: "profit take, moon bag activated",
			}}
		}
	}

	if state.MoonBagActive && heldPrice < state.MoonBagPriceAtActivation*(1-p.MoonBagDropPct) {
		return Decision{Order: fullExit(state, heldPrice, types.StrategyExitMoonBag, "moon bag trailing stop")}
	}

	if state.ConsensusBreakConfirmed {
		return Decision{Order: fullExit(state, heldPrice, types.StrategyExitThesisStop, "consensus break confirmed")}
	}

	return Decision{}
}

func fullExit(state *types.MarketState, price float64, strategy types.Strategy, detail string) *types.ProposedOrder {
	return &types.ProposedOrder{
		MarketID:       state.MarketID,
		Side:           state.ActiveTradeSide,
		Price:          price,
		IsExit:         true,
		ExitPct:        1.0,
		Strategy:       strategy,
		StrategyDetail: detail,
	}
}
