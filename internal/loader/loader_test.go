package loader

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLoader() *Loader {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New("http://example.invalid", 5*time.Second, Params{
		PageSize:                 500,
		SafetyCap:                5000,
		TopN:                     10,
		MaxTimeToResolutionHours: 168,
		MinVolume24h:             1000,
		MinLiquidity:             500,
		ExpectedValueCenter:      0.775,
	}, logger)
}

func sampleEntry(id string, hoursToEnd float64) catalogEntry {
	return catalogEntry{
		ID:              id,
		Question:        "Will X happen?",
		Category:        "politics",
		Outcomes:        `["Yes","No"]`,
		ClobTokenIds:    `["tok-yes","tok-no"]`,
		EndDate:         time.Now().Add(time.Duration(hoursToEnd * float64(time.Hour))).Format(time.RFC3339),
		Volume24hr:      5000,
		Liquidity:       2000,
		Active:          true,
		Closed:          false,
		EnableOrderBook: true,
		BestBid:         0.60,
		BestAsk:         0.62,
	}
}

func TestFilterRejectsClosedAndDisabledBooks(t *testing.T) {
	t.Parallel()

	l := testLoader()
	closed := sampleEntry("m1", 24)
	closed.Closed = true
	noBook := sampleEntry("m2", 24)
	noBook.EnableOrderBook = false

	out := l.filter([]catalogEntry{closed, noBook})
	if len(out) != 0 {
		t.Errorf("expected both entries filtered out, got %d", len(out))
	}
}

func TestFilterRejectsOutsideResolutionWindow(t *testing.T) {
	t.Parallel()

	l := testLoader()
	tooFar := sampleEntry("m1", 24*30)
	tooSoon := sampleEntry("m2", -1)

	out := l.filter([]catalogEntry{tooFar, tooSoon})
	if len(out) != 0 {
		t.Errorf("expected both entries filtered out, got %d", len(out))
	}
}

func TestFilterRejectsBelowThresholds(t *testing.T) {
	t.Parallel()

	l := testLoader()
	lowVolume := sampleEntry("m1", 24)
	lowVolume.Volume24hr = 10
	lowLiquidity := sampleEntry("m2", 24)
	lowLiquidity.Liquidity = 1

	out := l.filter([]catalogEntry{lowVolume, lowLiquidity})
	if len(out) != 0 {
		t.Errorf("expected both entries filtered out, got %d", len(out))
	}
}

func TestFilterKeepsQualifyingEntry(t *testing.T) {
	t.Parallel()

	l := testLoader()
	good := sampleEntry("m1", 24)

	out := l.filter([]catalogEntry{good})
	if len(out) != 1 {
		t.Fatalf("expected 1 qualifying entry, got %d", len(out))
	}
}

func TestDedupeGroupsKeepsOneRepresentativePerGroup(t *testing.T) {
	t.Parallel()

	l := testLoader()
	a := sampleEntry("m1", 24)
	a.GroupID = "g1"
	a.IsGroupItem = true
	a.BestBid, a.BestAsk = 0.70, 0.72 // mid 0.71, farther from 0.775 center
	b := sampleEntry("m2", 24)
	b.GroupID = "g1"
	b.IsGroupItem = true
	b.BestBid, b.BestAsk = 0.76, 0.78 // mid 0.77, closer to center

	out := l.dedupeGroups([]catalogEntry{a, b})
	if len(out) != 1 {
		t.Fatalf("expected exactly one representative, got %d", len(out))
	}
	if out[0].ID != "m2" {
		t.Errorf("expected m2 (closer to EV center) to win, got %s", out[0].ID)
	}
}

func TestDedupeGroupsLeavesSinglesUntouched(t *testing.T) {
	t.Parallel()

	l := testLoader()
	a := sampleEntry("m1", 24)
	b := sampleEntry("m2", 48)

	out := l.dedupeGroups([]catalogEntry{a, b})
	if len(out) != 2 {
		t.Errorf("expected both singles kept, got %d", len(out))
	}
}

func TestScoreRanksByResolutionBucketFirst(t *testing.T) {
	t.Parallel()

	l := testLoader()
	soon := sampleEntry("soon", 2)
	soon.Volume24hr = 100 // low volume, but close resolution bucket wins
	later := sampleEntry("later", 100)
	later.Volume24hr = 1_000_000

	ranked := l.score([]catalogEntry{later, soon})
	if ranked[0].ID != "soon" {
		t.Errorf("expected the sooner-resolving market to rank first, got %s", ranked[0].ID)
	}
}

func TestToMarketParsesOutcomesAndTokens(t *testing.T) {
	t.Parallel()

	e := sampleEntry("m1", 24)
	m := toMarket(e)
	if len(m.Outcomes) != 2 || len(m.ClobTokenIDs) != 2 {
		t.Fatalf("expected 2 outcomes and 2 tokens, got %+v", m)
	}
	if yes, ok := m.YesToken(); !ok || yes != "tok-yes" {
		t.Errorf("YesToken() = %q, %v", yes, ok)
	}
}
