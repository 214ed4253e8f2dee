package pricefeed

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"ladder-engine/internal/eventbus"
	"ladder-engine/pkg/types"
)

func testFeed() *Feed {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Params{
		PingInterval:     30 * time.Second,
		ReconnectDelay:   time.Second,
		MaxReconnectWait: 60 * time.Second,
		MaxAttempts:      10,
		HTTPPollInterval: 2 * time.Second,
		HTTPTimeout:      5 * time.Second,
	}, eventbus.New(), logger)
}

func testMarket() types.Market {
	return types.Market{ID: "m1", Outcomes: []string{"Yes", "No"}, ClobTokenIDs: []string{"tok-yes", "tok-no"}}
}

func TestTrackResolvesBothTokens(t *testing.T) {
	t.Parallel()

	f := testFeed()
	m := testMarket()
	f.Track(m)

	ids := f.trackedTokenIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 tracked tokens, got %d", len(ids))
	}
}

func TestUntrackRemovesBothTokens(t *testing.T) {
	t.Parallel()

	f := testFeed()
	m := testMarket()
	f.Track(m)
	f.Untrack(m)

	if len(f.trackedTokenIDs()) != 0 {
		t.Error("expected no tracked tokens after untrack")
	}
}

func TestEmitFromRawMirrorsNoSideToYes(t *testing.T) {
	t.Parallel()

	f := testFeed()
	m := testMarket()
	f.Track(m)

	ch, unsubscribe := f.bus.Subscribe(2)
	defer unsubscribe()

	f.emitFromRaw("tok-no", 0.30) // raw NO price 0.30 -> YES price 0.70

	select {
	case evt := <-ch:
		if evt.Kind != eventbus.KindPriceUpdate {
			t.Fatalf("unexpected event kind %v", evt.Kind)
		}
		if evt.PriceUpdate.PriceYes != 0.70 {
			t.Errorf("priceYes = %v, want 0.70", evt.PriceUpdate.PriceYes)
		}
	default:
		t.Fatal("expected a price update event")
	}
}

func TestEmitFromRawPassesThroughYesSide(t *testing.T) {
	t.Parallel()

	f := testFeed()
	m := testMarket()
	f.Track(m)

	ch, unsubscribe := f.bus.Subscribe(2)
	defer unsubscribe()

	f.emitFromRaw("tok-yes", 0.65)

	evt := <-ch
	if evt.PriceUpdate.PriceYes != 0.65 {
		t.Errorf("priceYes = %v, want 0.65", evt.PriceUpdate.PriceYes)
	}
}

func TestEmitFromRawIgnoresUnknownToken(t *testing.T) {
	t.Parallel()

	f := testFeed()
	ch, unsubscribe := f.bus.Subscribe(2)
	defer unsubscribe()

	f.emitFromRaw("unknown-token", 0.5)

	select {
	case evt := <-ch:
		t.Fatalf("expected no event for an untracked token, got %+v", evt)
	default:
	}
}

func TestMidFromLevels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		bids, asks []rawLevel
		want      float64
		ok        bool
	}{
		{"both sides", []rawLevel{{Price: "0.60"}}, []rawLevel{{Price: "0.62"}}, 0.61, true},
		{"bid only", []rawLevel{{Price: "0.60"}}, nil, 0.60, true},
		{"ask only", nil, []rawLevel{{Price: "0.62"}}, 0.62, true},
		{"empty", nil, nil, 0, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := midFromLevels(tc.bids, tc.asks)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && got != tc.want {
				t.Errorf("mid = %v, want %v", got, tc.want)
			}
		})
	}
}
