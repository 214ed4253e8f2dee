package regime

import (
	"testing"
	"time"

	"ladder-engine/pkg/types"
)

func testParams() Params {
	return Params{
		LateResolutionWindow: 2 * time.Hour,
		LateCompressedPrice:  0.90,
		VolatilityWindow:     10 * time.Minute,
		VolatilityThreshold:  0.05,
		EarlyUncertainMin:    0.45,
		EarlyUncertainMax:    0.55,
	}
}

func TestClassifyIsTotal(t *testing.T) {
	t.Parallel()

	valid := map[types.Regime]bool{
		types.EarlyUncertain: true,
		types.MidConsensus:   true,
		types.LateCompressed: true,
		types.HighVolatility: true,
	}

	prices := []float64{0, 0.01, 0.3, 0.5, 0.7, 0.92, 0.99, 1.0}
	for _, p := range prices {
		got := Classify(24*time.Hour, p, nil, time.Now(), testParams())
		if !valid[got] {
			t.Errorf("Classify(price=%v) = %q, not one of the four tags", p, got)
		}
	}
}

func TestClassifyLateCompressed(t *testing.T) {
	t.Parallel()
	now := time.Now()
	got := Classify(30*time.Minute, 0.95, nil, now, testParams())
	if got != types.LateCompressed {
		t.Errorf("Classify() = %q, want LATE_COMPRESSED", got)
	}
}

func TestClassifyHighVolatility(t *testing.T) {
	t.Parallel()
	now := time.Now()
	samples := []types.PriceSample{
		{PriceYes: 0.40, Timestamp: now.Add(-5 * time.Minute)},
		{PriceYes: 0.70, Timestamp: now.Add(-3 * time.Minute)},
		{PriceYes: 0.45, Timestamp: now.Add(-1 * time.Minute)},
	}
	got := Classify(24*time.Hour, 0.55, samples, now, testParams())
	if got != types.HighVolatility {
		t.Errorf("Classify() = %q, want HIGH_VOLATILITY", got)
	}
}

func TestClassifyHighVolatilityRequiresThreeSamples(t *testing.T) {
	t.Parallel()
	now := time.Now()
	samples := []types.PriceSample{
		{PriceYes: 0.10, Timestamp: now.Add(-1 * time.Minute)},
		{PriceYes: 0.90, Timestamp: now.Add(-30 * time.Second)},
	}
	got := Classify(24*time.Hour, 0.50, samples, now, testParams())
	if got != types.EarlyUncertain {
		t.Errorf("Classify() with only 2 samples = %q, want EARLY_UNCERTAIN (stddev gate not met)", got)
	}
}

func TestClassifyEarlyUncertainAndMidConsensus(t *testing.T) {
	t.Parallel()
	now := time.Now()

	if got := Classify(24*time.Hour, 0.50, nil, now, testParams()); got != types.EarlyUncertain {
		t.Errorf("Classify(0.50) = %q, want EARLY_UNCERTAIN", got)
	}
	if got := Classify(24*time.Hour, 0.65, nil, now, testParams()); got != types.MidConsensus {
		t.Errorf("Classify(0.65) = %q, want MID_CONSENSUS", got)
	}
}

func TestIsSignificantTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to types.Regime
		want     bool
	}{
		{types.MidConsensus, types.MidConsensus, false},
		{types.MidConsensus, types.HighVolatility, true},
		{types.HighVolatility, types.MidConsensus, true},
		{types.MidConsensus, types.LateCompressed, true},
		{types.EarlyUncertain, types.MidConsensus, false},
	}
	for _, tt := range tests {
		if got := IsSignificantTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("IsSignificantTransition(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
