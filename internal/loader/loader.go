// Package loader implements the market loader: a paginated catalog
// fetch, a filter chain, mutually-exclusive-group deduplication, and a
// composite score used to keep only the top N survivors. Grounded on
// the scanner's fetch/filter/rank pipeline shape, generalized from its
// market-making spread/volume/liquidity score to spec.md §4.9's
// resolution-bucket/volume/liquidity/turnover score and its
// event-group representative-selection rule, which the scanner's
// domain never needed.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"ladder-engine/internal/metrics"
	"ladder-engine/pkg/types"
)

// Params bundles the loader's tunables, taken from config.ScannerConfig.
type Params struct {
	PageSize                 int
	SafetyCap                int
	TopN                     int
	MaxTimeToResolutionHours float64
	MinVolume24h             float64
	MinLiquidity             float64
	AllowedCategories        []string
	ExcludedCategories       []string
	SportsKeywords           []string
	ExpectedValueCenter      float64
}

// catalogEntry is the JSON shape returned by the venue's catalog API.
type catalogEntry struct {
	ID                string  `json:"id"`
	Question          string  `json:"question"`
	Category          string  `json:"category"`
	Subcategory       string  `json:"subcategory"`
	Outcomes          string  `json:"outcomes"`
	OutcomePrices     string  `json:"outcomePrices"`
	ClobTokenIds      string  `json:"clobTokenIds"`
	EndDate           string  `json:"endDate"`
	GameStartTime     string  `json:"gameStartTime"`
	Volume24hr        float64 `json:"volume24hr"`
	Liquidity         float64 `json:"liquidity"`
	Active            bool    `json:"active"`
	Closed            bool    `json:"closed"`
	EnableOrderBook   bool    `json:"enableOrderBook"`
	BestBid           float64 `json:"bestBid"`
	BestAsk           float64 `json:"bestAsk"`
	GroupID           string  `json:"groupItemTitle"`
	IsGroupItem       bool    `json:"negRisk"`
}

// Loader fetches, filters, scores, and persists survivor markets.
type Loader struct {
	http    *resty.Client
	params  Params
	limiter *tokenBucket
	logger  *slog.Logger
}

// New creates a market loader pointed at the catalog base URL. Page
// fetches are throttled to 10 req/s burst 20, a conservative ceiling
// against the catalog API well under Polymarket's published limits.
func New(baseURL string, timeout time.Duration, params Params, logger *slog.Logger) *Loader {
	return &Loader{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond),
		params:  params,
		limiter: newTokenBucket(20, 10),
		logger:  logger.With("component", "loader"),
	}
}

// Load fetches the full catalog, applies the filter/group/score chain,
// and returns the top N survivor markets.
func (l *Loader) Load(ctx context.Context) ([]types.Market, error) {
	raw, err := l.fetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loader: fetch: %w", err)
	}

	filtered := l.filter(raw)
	deduped := l.dedupeGroups(filtered)
	ranked := l.score(deduped)

	if len(ranked) > l.params.TopN {
		ranked = ranked[:l.params.TopN]
	}

	l.logger.Info("load complete", "fetched", len(raw), "filtered", len(filtered), "deduped", len(deduped), "kept", len(ranked))
	return ranked, nil
}

func (l *Loader) fetchAll(ctx context.Context) ([]catalogEntry, error) {
	pageSize := l.params.PageSize
	if pageSize <= 0 {
		pageSize = 500
	}

	var all []catalogEntry
	offset := 0
	for {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		var page []catalogEntry
		resp, err := l.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"limit":   strconv.Itoa(pageSize),
				"offset":  strconv.Itoa(offset),
				"order":   "volume24hr",
				"ascending": "false",
			}).
			SetResult(&page).
			Get("/markets")
		if err != nil {
			return nil, fmt.Errorf("page offset %d: %w", offset, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("page offset %d: status %d", offset, resp.StatusCode())
		}

		all = append(all, page...)
		offset += pageSize

		if len(page) < pageSize || len(all) >= l.params.SafetyCap {
			break
		}
	}

	if len(all) > l.params.SafetyCap {
		all = all[:l.params.SafetyCap]
	}
	return all, nil
}

// Resolution is a single market's settlement state, read from the
// catalog's by-id endpoint.
type Resolution struct {
	Closed        bool
	OutcomePrices []float64
}

// FetchResolution reads one market's catalog entry (§6's
// `GET {catalog}/markets/{id}`), for the resolution-check timer: a
// market is only settleable once the venue marks it closed, at which
// point OutcomePrices holds the final 1.0/0.0 pair parallel to Outcomes.
func (l *Loader) FetchResolution(ctx context.Context, marketID string) (Resolution, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Resolution{}, fmt.Errorf("rate limit wait: %w", err)
	}

	var entry catalogEntry
	resp, err := l.http.R().
		SetContext(ctx).
		SetResult(&entry).
		Get("/markets/" + marketID)
	if err != nil {
		return Resolution{}, fmt.Errorf("fetch market %s: %w", marketID, err)
	}
	if resp.IsError() {
		return Resolution{}, fmt.Errorf("fetch market %s: status %d", marketID, resp.StatusCode())
	}
	if !entry.Closed {
		return Resolution{Closed: false}, nil
	}

	var raw []string
	if err := json.Unmarshal([]byte(entry.OutcomePrices), &raw); err != nil {
		metrics.MalformedPayloadTotal.WithLabelValues("market_resolution").Inc()
		return Resolution{}, fmt.Errorf("decode outcomePrices for %s: %w", marketID, err)
	}
	prices := make([]float64, len(raw))
	for i, p := range raw {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return Resolution{}, fmt.Errorf("parse outcome price %q: %w", p, err)
		}
		prices[i] = v
	}
	return Resolution{Closed: true, OutcomePrices: prices}, nil
}

func (l *Loader) filter(entries []catalogEntry) []catalogEntry {
	now := time.Now()
	maxEnd := now.Add(time.Duration(l.params.MaxTimeToResolutionHours * float64(time.Hour)))

	allowed := toLowerSet(l.params.AllowedCategories)
	excluded := toLowerSet(l.params.ExcludedCategories)
	sportsKeywords := toLowerSlice(l.params.SportsKeywords)

	var out []catalogEntry
	for _, e := range entries {
		if !e.EnableOrderBook || !e.Active || e.Closed {
			continue
		}

		endDate, err := time.Parse(time.RFC3339, e.EndDate)
		if err != nil || endDate.Before(now) || endDate.After(maxEnd) {
			continue
		}

		category := strings.ToLower(e.Category)
		if len(allowed) > 0 && !allowed[category] {
			continue
		}
		if excluded[category] {
			continue
		}
		if matchesAny(strings.ToLower(e.Question), sportsKeywords) && excluded["sports"] {
			continue
		}

		if e.Volume24hr < l.params.MinVolume24h || e.Liquidity < l.params.MinLiquidity {
			continue
		}

		var outcomes []string
		if err := json.Unmarshal([]byte(e.Outcomes), &outcomes); err != nil || len(outcomes) != 2 {
			metrics.MalformedPayloadTotal.WithLabelValues("market_catalog").Inc()
			continue
		}

		out = append(out, e)
	}
	return out
}

func toLowerSet(in []string) map[string]bool {
	set := make(map[string]bool, len(in))
	for _, s := range in {
		set[strings.ToLower(strings.TrimSpace(s))] = true
	}
	return set
}

func toLowerSlice(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

func matchesAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// dedupeGroups implements spec.md §4.9's mutually-exclusive-event-group
// rule: for entries sharing a non-empty GroupID, keep only the single
// representative with the highest group score (volume, spread
// tightness, proximity to the expected-value center, liquidity).
func (l *Loader) dedupeGroups(entries []catalogEntry) []catalogEntry {
	groups := make(map[string][]catalogEntry)
	var singles []catalogEntry

	for _, e := range entries {
		if e.IsGroupItem && e.GroupID != "" {
			groups[e.GroupID] = append(groups[e.GroupID], e)
		} else {
			singles = append(singles, e)
		}
	}

	result := append([]catalogEntry{}, singles...)
	for _, members := range groups {
		best := members[0]
		bestScore := l.groupScore(best)
		for _, m := range members[1:] {
			if s := l.groupScore(m); s > bestScore {
				best, bestScore = m, s
			}
		}
		result = append(result, best)
	}
	return result
}

func (l *Loader) groupScore(e catalogEntry) float64 {
	spread := e.BestAsk - e.BestBid
	tightness := 1.0
	if spread > 0 {
		tightness = 1.0 / spread
	}

	mid := (e.BestBid + e.BestAsk) / 2
	center := l.params.ExpectedValueCenter
	if center <= 0 {
		center = 0.775
	}
	proximity := 1.0 / (1.0 + math.Abs(mid-center))

	liquidityFactor := math.Min(e.Liquidity/10000.0, 1.0)

	return math.Sqrt(e.Volume24hr) * tightness * proximity * liquidityFactor
}

// score ranks survivors by (time-to-resolution bucket, volume,
// liquidity, volume/liquidity turnover) and converts them to the
// domain Market type.
func (l *Loader) score(entries []catalogEntry) []types.Market {
	type scored struct {
		market types.Market
		score  float64
	}

	now := time.Now()
	scoredEntries := make([]scored, 0, len(entries))
	for _, e := range entries {
		m := toMarket(e)
		bucket := resolutionBucket(m.EndDate, now)
		turnover := 0.0
		if e.Liquidity > 0 {
			turnover = e.Volume24hr / e.Liquidity
		}
		s := bucket*1_000_000 + math.Sqrt(e.Volume24hr)*10 + math.Sqrt(e.Liquidity) + turnover
		scoredEntries = append(scoredEntries, scored{market: m, score: s})
	}

	sort.SliceStable(scoredEntries, func(i, j int) bool {
		return scoredEntries[i].score > scoredEntries[j].score
	})

	out := make([]types.Market, len(scoredEntries))
	for i, s := range scoredEntries {
		out[i] = s.market
	}
	return out
}

// resolutionBucket coarsens time-to-resolution into a small integer so
// markets resolving soon rank above markets resolving later regardless
// of volume/liquidity noise within a bucket.
func resolutionBucket(endDate time.Time, now time.Time) float64 {
	hours := endDate.Sub(now).Hours()
	switch {
	case hours <= 6:
		return 4
	case hours <= 24:
		return 3
	case hours <= 72:
		return 2
	default:
		return 1
	}
}

func toMarket(e catalogEntry) types.Market {
	var outcomes []string
	_ = json.Unmarshal([]byte(e.Outcomes), &outcomes)
	var tokenIDs []string
	_ = json.Unmarshal([]byte(e.ClobTokenIds), &tokenIDs)

	endDate, _ := time.Parse(time.RFC3339, e.EndDate)
	var gameStart *time.Time
	if e.GameStartTime != "" {
		if t, err := time.Parse(time.RFC3339, e.GameStartTime); err == nil {
			gameStart = &t
		}
	}

	return types.Market{
		ID:            e.ID,
		Question:      e.Question,
		Category:      e.Category,
		Subcategory:   e.Subcategory,
		Outcomes:      outcomes,
		ClobTokenIDs:  tokenIDs,
		EndDate:       endDate,
		GameStartTime: gameStart,
		Volume24h:     e.Volume24hr,
		Liquidity:     e.Liquidity,
		Active:        e.Active,
		Closed:        e.Closed,
		GroupID:       e.GroupID,
		IsGroupItem:   e.IsGroupItem,
	}
}
