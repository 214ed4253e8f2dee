package exit

import (
	"testing"
	"time"

	"ladder-engine/pkg/types"
)

func testParams() Params {
	return Params{
		FirstLevel:          0.60,
		ConfirmationWindow:  5 * time.Minute,
		CooldownDuration:    30 * time.Minute,
		ResolutionThreshold: 0.95,
		TakeProfitPct:       0.14,
		MoonBagDropPct:      0.05,
	}
}

// Scenario 4 from spec.md §8: profit take creates moon bag.
func TestEvaluateProfitTakeCreatesMoonBag(t *testing.T) {
	t.Parallel()

	state := types.NewMarketState("m1")
	state.ActiveTradeSide = types.YES
	state.LastPriceYes = 0.82
	state.LastPriceNo = 0.18
	pos := &types.Position{SharesYes: 100, AvgEntryYes: 0.70, CostBasisYes: 70}

	d := Evaluate(state, pos, time.Now(), nil, testParams())
	if d.Order == nil {
		t.Fatal("expected an exit order")
	}
	if d.Order.Strategy != types.StrategyExitProfitTake {
		t.Errorf("strategy = %v, want EXIT_PROFIT_TAKE", d.Order.Strategy)
	}
	if d.Order.ExitPct != 0.75 {
		t.Errorf("ExitPct = %v, want 0.75", d.Order.ExitPct)
	}
	if !state.MoonBagActive || state.MoonBagPriceAtActivation != 0.82 {
		t.Errorf("moon bag not activated correctly: active=%v price=%v", state.MoonBagActive, state.MoonBagPriceAtActivation)
	}
}

// Scenario 5 from spec.md §8: moon-bag exit.
func TestEvaluateMoonBagExit(t *testing.T) {
	t.Parallel()

	state := types.NewMarketState("m1")
	state.ActiveTradeSide = types.YES
	state.MoonBagActive = true
	state.MoonBagPriceAtActivation = 0.82
	state.LastPriceYes = 0.77 // below 0.82 * 0.95 = 0.779
	pos := &types.Position{SharesYes: 25, AvgEntryYes: 0.70}

	d := Evaluate(state, pos, time.Now(), nil, testParams())
	if d.Order == nil {
		t.Fatal("expected a full exit order")
	}
	if d.Order.Strategy != types.StrategyExitMoonBag || d.Order.ExitPct != 1.0 {
		t.Errorf("order = %+v, want full EXIT_MOON_BAG", d.Order)
	}
}

// Scenario 6 from spec.md §8: pre-game stop + cooldown.
func TestEvaluatePreGameStopAndCooldown(t *testing.T) {
	t.Parallel()

	now := time.Now()
	gameStart := now.Add(24 * time.Hour)

	state := types.NewMarketState("m1")
	state.ActiveTradeSide = types.YES
	state.LastPriceYes = 0.55
	pos := &types.Position{SharesYes: 100, AvgEntryYes: 0.65}

	d := Evaluate(state, pos, now, &gameStart, testParams())
	if d.Order == nil || d.Order.Strategy != types.StrategyExitPreGame {
		t.Fatalf("expected pre-game stop exit, got %+v", d.Order)
	}
	if state.CooldownUntil == nil {
		t.Fatal("expected cooldown to be set")
	}

	// A subsequent tick inside the cooldown must not generate a new exit.
	state.LastPriceYes = 0.54
	d2 := Evaluate(state, pos, now.Add(time.Minute), &gameStart, testParams())
	if d2.Order != nil {
		t.Errorf("expected no exit while in cooldown, got %+v", d2.Order)
	}
}

func TestEvaluateConsensusBreakConfirmedAfterWindow(t *testing.T) {
	t.Parallel()

	params := testParams()
	state := types.NewMarketState("m1")
	state.ActiveTradeSide = types.YES
	pos := &types.Position{SharesYes: 100, AvgEntryYes: 0.70}
	now := time.Now()

	state.LastPriceYes = 0.55
	d := Evaluate(state, pos, now, nil, params)
	if d.Order != nil {
		t.Fatalf("expected no exit before confirmation window elapses, got %+v", d.Order)
	}
	if state.ConsensusBreakConfirmed {
		t.Error("should not be confirmed yet")
	}

	d2 := Evaluate(state, pos, now.Add(params.ConfirmationWindow+time.Second), nil, params)
	if d2.Order == nil || d2.Order.Strategy != types.StrategyExitThesisStop {
		t.Fatalf("expected thesis-stop exit after confirmation window, got %+v", d2.Order)
	}
}

func TestEvaluateConsensusBreakClearsOnRecovery(t *testing.T) {
	t.Parallel()

	params := testParams()
	state := types.NewMarketState("m1")
	state.ActiveTradeSide = types.YES
	pos := &types.Position{SharesYes: 100, AvgEntryYes: 0.70}
	now := time.Now()

	state.LastPriceYes = 0.55
	Evaluate(state, pos, now, nil, params)
	if state.ConsensusBreakStartTime == nil {
		t.Fatal("expected consensus break tracking to start")
	}

	state.LastPriceYes = 0.65
	Evaluate(state, pos, now.Add(time.Minute), nil, params)
	if state.ConsensusBreakStartTime != nil || state.ConsensusBreakConfirmed {
		t.Error("expected consensus break tracking to clear on recovery")
	}
}
