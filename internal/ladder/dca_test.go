package ladder

import (
	"testing"

	"ladder-engine/pkg/types"
)

func testDCAParams() DCAParams {
	return DCAParams{
		FirstLevel:           0.60,
		MaxDCABuys:           2,
		MaxMarketExposurePct: 0.02,
		Bankroll:             1000,
	}
}

func TestProposeDCAFiresOnDrawdown(t *testing.T) {
	t.Parallel()

	state := freshState()
	state.ActiveTradeSide = types.YES
	state.Regime = types.MidConsensus
	pos := &types.Position{SharesYes: 100, AvgEntryYes: 0.80}

	order := ProposeDCA(state, pos, true, 0.75, 0.25, testDCAParams())
	if order == nil {
		t.Fatal("expected a DCA order, got nil")
	}
	if order.Side != types.YES {
		t.Errorf("side = %v, want YES", order.Side)
	}
	wantSize := 1000 * 0.02 * 0.15
	if order.SizeUSDC != wantSize {
		t.Errorf("size = %v, want %v", order.SizeUSDC, wantSize)
	}
}

func TestProposeDCASkipsWhenDrawdownTooSmall(t *testing.T) {
	t.Parallel()

	state := freshState()
	state.ActiveTradeSide = types.YES
	state.Regime = types.MidConsensus
	pos := &types.Position{SharesYes: 100, AvgEntryYes: 0.80}

	// Only ~2.5% drawdown, below the 5% threshold.
	if order := ProposeDCA(state, pos, true, 0.78, 0.22, testDCAParams()); order != nil {
		t.Errorf("expected no DCA order on small drawdown, got %+v", order)
	}
}

func TestProposeDCASkipsWhenCapReached(t *testing.T) {
	t.Parallel()

	state := freshState()
	state.ActiveTradeSide = types.YES
	state.Regime = types.MidConsensus
	state.DCACount = 2
	pos := &types.Position{SharesYes: 100, AvgEntryYes: 0.80}

	if order := ProposeDCA(state, pos, true, 0.70, 0.30, testDCAParams()); order != nil {
		t.Errorf("expected no DCA order once MaxDCABuys reached, got %+v", order)
	}
}

func TestProposeDCASkipsWhenGameStarted(t *testing.T) {
	t.Parallel()

	state := freshState()
	state.ActiveTradeSide = types.YES
	pos := &types.Position{SharesYes: 100, AvgEntryYes: 0.80}

	if order := ProposeDCA(state, pos, false, 0.70, 0.30, testDCAParams()); order != nil {
		t.Errorf("expected no DCA order once game has started, got %+v", order)
	}
}
