// Package copytrade implements the copy-trade detector: a per-wallet
// poll of recent on-chain activity, STANDARD/LOTTERY price-band
// classification, and the TrackedMarket watch-row lifecycle (spec.md
// §4.10). There is no direct teacher analog for cross-wallet activity
// polling; this is grounded on the flow tracker's rolling-window /
// last-seen-cutoff pattern (mutex-guarded per-subject state, evict by
// timestamp) generalized from per-market fills to per-wallet trades.
package copytrade

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"ladder-engine/internal/eventbus"
	"ladder-engine/internal/metrics"
	"ladder-engine/pkg/types"
)

// Params bundles the detector's tunables.
type Params struct {
	PollInterval    time.Duration
	TrackedWallets  []string
	LotteryEnabled  bool
	LotteryMaxPrice float64
	StandardBandMin float64 // first ladder level
	StandardBandMax float64 // 0.90 per spec.md's independent tunable
	HTTPBaseURL     string
	HTTPTimeout     time.Duration
}

// activityEntry is the JSON shape of one trade in a wallet's activity feed.
type activityEntry struct {
	Type         string  `json:"type"`
	Side         string  `json:"side"`
	Timestamp    int64   `json:"timestamp"`
	ConditionID  string  `json:"conditionId"`
	Slug         string  `json:"slug"`
	Title        string  `json:"title"`
	TokenID      string  `json:"asset"`
	OutcomeIndex int     `json:"outcomeIndex"`
	Outcome      string  `json:"outcome"`
	Price        float64 `json:"price"`
}

// Detector polls tracked wallets and watches markets that entered a
// price band from outside it.
type Detector struct {
	params Params
	bus    *eventbus.Bus
	logger *slog.Logger
	http   *resty.Client

	mu       sync.Mutex
	lastSeen map[string]time.Time           // wallet -> last-seen trade timestamp
	watching map[string]*types.TrackedMarket // conditionID -> row, WATCHING or IN_RANGE
}

// New creates a copy-trade detector.
func New(params Params, bus *eventbus.Bus, logger *slog.Logger) *Detector {
	return &Detector{
		params: params,
		bus:    bus,
		logger: logger.With("component", "copytrade"),
		http: resty.New().
			SetBaseURL(params.HTTPBaseURL).
			SetTimeout(params.HTTPTimeout),
		lastSeen: make(map[string]time.Time),
		watching: make(map[string]*types.TrackedMarket),
	}
}

// Run polls every wallet on Params.PollInterval until ctx is cancelled.
// priceFor resolves a token id to a current price; nil means no price
// is known. The orchestrator supplies the last tick price of the
// markets it tracks, so tokens of untracked markets get nil; the venue's
// order book is not queried.
func (d *Detector) Run(ctx context.Context, priceFor func(tokenID string) *float64) {
	ticker := time.NewTicker(d.params.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pollAll(ctx, priceFor)
		}
	}
}

func (d *Detector) pollAll(ctx context.Context, priceFor func(tokenID string) *float64) {
	for _, wallet := range d.params.TrackedWallets {
		entries, err := d.fetchActivity(ctx, wallet)
		if err != nil {
			d.logger.Warn("fetch activity failed", "wallet", wallet, "error", err)
			continue
		}
		d.processWallet(wallet, entries, priceFor)
	}
	d.repriceWatching(priceFor)
}

func (d *Detector) fetchActivity(ctx context.Context, wallet string) ([]activityEntry, error) {
	since := time.Now().Add(-24 * time.Hour).Unix()
	var entries []activityEntry
	resp, err := d.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"user":    wallet,
			"limit":   "50",
			"startTs": strconv.FormatInt(since, 10),
		}).
		SetResult(&entries).
		Get("/activity")
	if err != nil {
		metrics.MalformedPayloadTotal.WithLabelValues("wallet_activity").Inc()
		return nil, fmt.Errorf("fetch activity for %s: %w", wallet, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch activity for %s: status %d", wallet, resp.StatusCode())
	}

	d.mu.Lock()
	cutoff := d.lastSeen[wallet]
	d.mu.Unlock()
	if cutoff.IsZero() {
		cutoff = time.Unix(since, 0)
	}

	var fresh []activityEntry
	for _, e := range entries {
		if e.Type != "TRADE" || !strings.EqualFold(e.Side, "BUY") {
			continue
		}
		ts := time.Unix(e.Timestamp, 0)
		if ts.After(cutoff) {
			fresh = append(fresh, e)
		}
	}
	return fresh, nil
}

func (d *Detector) processWallet(wallet string, entries []activityEntry, priceFor func(string) *float64) {
	if len(entries) == 0 {
		return
	}

	var maxTs time.Time
	for _, e := range entries {
		ts := time.Unix(e.Timestamp, 0)
		if ts.After(maxTs) {
			maxTs = ts
		}

		price := priceFor(e.TokenID)
		if price == nil {
			continue
		}

		band, ok := d.classify(*price)
		status := types.TrackedWatching
		if ok {
			status = types.TrackedInRange
		}

		row := &types.TrackedMarket{
			ConditionID:  e.ConditionID,
			Slug:         e.Slug,
			TokenID:      e.TokenID,
			OutcomeIndex: e.OutcomeIndex,
			Outcome:      e.Outcome,
			Title:        e.Title,
			TraderWallet: wallet,
			TrackedPrice: *price,
			CurrentPrice: *price,
			Status:       status,
			SignalTime:   ts,
		}
		if ok {
			now := ts
			row.EnteredRangeAt = &now
			d.emitSignal(wallet, e, *price, band)
		}

		d.mu.Lock()
		d.watching[e.ConditionID] = row
		d.mu.Unlock()
	}

	if !maxTs.IsZero() {
		d.mu.Lock()
		d.lastSeen[wallet] = maxTs
		d.mu.Unlock()
	}
}

// repriceWatching re-prices every WATCHING row and promotes it to
// IN_RANGE (emitting a signal) when it enters a band, per spec.md
// §4.10's "each poll cycle also re-prices existing WATCHING rows" rule.
func (d *Detector) repriceWatching(priceFor func(string) *float64) {
	d.mu.Lock()
	rows := make([]*types.TrackedMarket, 0, len(d.watching))
	for _, row := range d.watching {
		if row.Status == types.TrackedWatching {
			rows = append(rows, row)
		}
	}
	d.mu.Unlock()

	for _, row := range rows {
		price := priceFor(row.TokenID)
		if price == nil {
			continue
		}
		row.CurrentPrice = *price

		band, ok := d.classify(*price)
		if !ok {
			continue
		}

		now := time.Now()
		d.mu.Lock()
		row.Status = types.TrackedInRange
		row.EnteredRangeAt = &now
		d.mu.Unlock()

		d.bus.Publish(eventbus.Event{
			Kind: eventbus.KindCopySignal,
			CopySignal: &eventbus.CopySignalPayload{
				MarketID: row.ConditionID,
				Trader:   row.TraderWallet,
				Price:    *price,
				Strategy: band,
			},
		})
	}
}

// classify implements spec.md §4.10's band rules: STANDARD covers
// [StandardBandMin, StandardBandMax]; LOTTERY covers (0, LotteryMaxPrice].
func (d *Detector) classify(price float64) (types.CopySignalType, bool) {
	if price >= d.params.StandardBandMin && price <= d.params.StandardBandMax {
		return types.SignalStandard, true
	}
	if d.params.LotteryEnabled && price > 0 && price <= d.params.LotteryMaxPrice {
		return types.SignalLottery, true
	}
	return types.SignalStandard, false
}

func (d *Detector) emitSignal(wallet string, e activityEntry, price float64, band types.CopySignalType) {
	d.bus.Publish(eventbus.Event{
		Kind: eventbus.KindCopySignal,
		CopySignal: &eventbus.CopySignalPayload{
			MarketID: e.ConditionID,
			Trader:   wallet,
			Price:    price,
			Strategy: band,
		},
	})
}

// Watching returns a snapshot of all tracked rows, for persistence.
func (d *Detector) Watching() []types.TrackedMarket {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.TrackedMarket, 0, len(d.watching))
	for _, row := range d.watching {
		out = append(out, *row)
	}
	return out
}
