// Package regime classifies a market's current pricing dynamics into one
// of four coarse tags. Classify is a pure function: it has no side
// effects and depends only on its arguments, so it is evaluated fresh on
// every price update with no internal state to synchronize.
package regime

import (
	"math"
	"time"

	"ladder-engine/pkg/types"
)

// Params bundles the tunables Classify needs, taken from config.LadderConfig.
type Params struct {
	LateResolutionWindow  time.Duration
	LateCompressedPrice   float64
	VolatilityWindow      time.Duration
	VolatilityThreshold   float64
	EarlyUncertainMin     float64
	EarlyUncertainMax     float64
}

// Classify implements spec.md §4.1's ordered rules. It is total: every
// input returns one of the four regime tags.
func Classify(timeToResolution time.Duration, priceYes float64, samples []types.PriceSample, now time.Time, p Params) types.Regime {
	priceNoEffective := 1 - priceYes

	if timeToResolution < p.LateResolutionWindow && math.Max(priceYes, priceNoEffective) > p.LateCompressedPrice {
		return types.LateCompressed
	}

	if windowStdDev(samples, now, p.VolatilityWindow) > p.VolatilityThreshold {
		return types.HighVolatility
	}

	if priceYes >= p.EarlyUncertainMin && priceYes <= p.EarlyUncertainMax {
		return types.EarlyUncertain
	}

	return types.MidConsensus
}

// windowStdDev computes the population standard deviation of priceYes
// samples falling within the volatility window ending at now. Returns 0
// if fewer than 3 samples fall in the window (the "at least 3 samples"
// precondition in spec.md §4.1 rule 2).
func windowStdDev(samples []types.PriceSample, now time.Time, window time.Duration) float64 {
	cutoff := now.Add(-window)

	var inWindow []float64
	for _, s := range samples {
		if s.Timestamp.After(cutoff) {
			inWindow = append(inWindow, s.PriceYes)
		}
	}
	if len(inWindow) < 3 {
		return 0
	}

	var sum float64
	for _, v := range inWindow {
		sum += v
	}
	mean := sum / float64(len(inWindow))

	var sqDiff float64
	for _, v := range inWindow {
		d := v - mean
		sqDiff += d * d
	}
	return math.Sqrt(sqDiff / float64(len(inWindow)))
}

// IsSignificantTransition reports whether a regime change should be
// logged and emitted as an event: HIGH_VOLATILITY on either side of the
// transition, or any transition into LATE_COMPRESSED.
func IsSignificantTransition(from, to types.Regime) bool {
	if from == to {
		return false
	}
	if from == types.HighVolatility || to == types.HighVolatility {
		return true
	}
	if to == types.LateCompressed {
		return true
	}
	return false
}

// TrimPriceHistory keeps only samples within the volatility window,
// bounding the per-market history as spec.md §3 requires.
func TrimPriceHistory(samples []types.PriceSample, now time.Time, window time.Duration) []types.PriceSample {
	cutoff := now.Add(-window)
	kept := samples[:0:0]
	for _, s := range samples {
		if s.Timestamp.After(cutoff) {
			kept = append(kept, s)
		}
	}
	return kept
}
