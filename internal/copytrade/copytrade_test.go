package copytrade

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"ladder-engine/internal/eventbus"
	"ladder-engine/pkg/types"
)

func testDetector() *Detector {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Params{
		PollInterval:    2 * time.Second,
		TrackedWallets:  []string{"0xabc"},
		LotteryEnabled:  true,
		LotteryMaxPrice: 0.05,
		StandardBandMin: 0.60,
		StandardBandMax: 0.90,
		HTTPTimeout:     5 * time.Second,
	}, eventbus.New(), logger)
}

func TestClassifyStandardBand(t *testing.T) {
	t.Parallel()

	d := testDetector()
	band, ok := d.classify(0.75)
	if !ok || band != types.SignalStandard {
		t.Errorf("classify(0.75) = %v, %v; want SignalStandard, true", band, ok)
	}
}

func TestClassifyLotteryBand(t *testing.T) {
	t.Parallel()

	d := testDetector()
	band, ok := d.classify(0.02)
	if !ok || band != types.SignalLottery {
		t.Errorf("classify(0.02) = %v, %v; want SignalLottery, true", band, ok)
	}
}

func TestClassifyOutsideBothBands(t *testing.T) {
	t.Parallel()

	d := testDetector()
	if _, ok := d.classify(0.50); ok {
		t.Error("expected 0.50 to fall outside both bands")
	}
}

func TestProcessWalletInRangeEmitsSignalAndMarksRow(t *testing.T) {
	t.Parallel()

	d := testDetector()
	entries := []activityEntry{
		{Type: "TRADE", Timestamp: time.Now().Unix(), ConditionID: "m1", TokenID: "tok1", Price: 0.0},
	}
	price := 0.80
	priceFor := func(tokenID string) *float64 { return &price }

	ch, unsubscribe := d.bus.Subscribe(2)
	defer unsubscribe()

	d.processWallet("0xabc", entries, priceFor)

	select {
	case evt := <-ch:
		if evt.Kind != eventbus.KindCopySignal || evt.CopySignal.MarketID != "m1" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	default:
		t.Fatal("expected a copy:signal event")
	}

	rows := d.Watching()
	if len(rows) != 1 || rows[0].Status != types.TrackedInRange {
		t.Fatalf("expected row in IN_RANGE status, got %+v", rows)
	}
}

func TestProcessWalletOutOfBandMarksWatching(t *testing.T) {
	t.Parallel()

	d := testDetector()
	entries := []activityEntry{
		{Type: "TRADE", Timestamp: time.Now().Unix(), ConditionID: "m1", TokenID: "tok1"},
	}
	price := 0.30
	priceFor := func(tokenID string) *float64 { return &price }

	d.processWallet("0xabc", entries, priceFor)

	rows := d.Watching()
	if len(rows) != 1 || rows[0].Status != types.TrackedWatching {
		t.Fatalf("expected row in WATCHING status, got %+v", rows)
	}
}

func TestRepriceWatchingPromotesOnBandEntry(t *testing.T) {
	t.Parallel()

	d := testDetector()
	entries := []activityEntry{
		{Type: "TRADE", Timestamp: time.Now().Unix(), ConditionID: "m1", TokenID: "tok1"},
	}
	lowPrice := 0.30
	d.processWallet("0xabc", entries, func(string) *float64 { return &lowPrice })

	ch, unsubscribe := d.bus.Subscribe(2)
	defer unsubscribe()

	highPrice := 0.70
	d.repriceWatching(func(string) *float64 { return &highPrice })

	select {
	case evt := <-ch:
		if evt.Kind != eventbus.KindCopySignal {
			t.Fatalf("unexpected event: %+v", evt)
		}
	default:
		t.Fatal("expected a promotion to emit a copy:signal event")
	}

	rows := d.Watching()
	if rows[0].Status != types.TrackedInRange {
		t.Errorf("expected row promoted to IN_RANGE, got %v", rows[0].Status)
	}
}
