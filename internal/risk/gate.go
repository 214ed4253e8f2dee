// Package risk implements the risk gate: the stateful pre-trade check
// every proposed order passes through, the in-memory position book, and
// cash/protected-profit accounting. Grounded on the risk manager's
// structuring (a single mutex-guarded struct, injected config, named
// logger) but converted from an async report/kill-signal aggregator
// into the synchronous ordered gate spec.md §4.6 describes — this
// engine has no market-making kill switch, only the capacity/cash/
// exposure/rate-limit chain below.
package risk

import (
	"log/slog"
	"sync"
	"time"

	"ladder-engine/internal/metrics"
	"ladder-engine/pkg/types"
)

// RejectReason enumerates why a proposed order did not pass the gate.
type RejectReason string

const (
	RejectNone            RejectReason = ""
	RejectCapacity        RejectReason = "capacity"
	RejectInsufficientCash RejectReason = "insufficient cash"
	RejectExposureExhausted RejectReason = "market exposure exhausted"
	RejectRateLimited      RejectReason = "rate limited"
)

// Result is the gate's verdict: either Approved (possibly with Order
// adjusted down from the original proposal) or a non-empty Reason.
type Result struct {
	Approved bool
	Order    types.ProposedOrder
	Reason   RejectReason
}

// Params bundles the gate's tunables, taken from config.
type Params struct {
	MaxActivePositions   int
	MaxSingleOrderPct    float64
	MaxMarketExposurePct float64
	Bankroll             float64
	RateLimitPerMarket   int
	RateLimitWindow      time.Duration
	PositionEpsilon      float64
}

// Gate owns the risk book and the in-memory position book: every
// mutation happens on the path that already holds the caller's
// per-market lock (see internal/orchestrator), so Gate itself only
// needs to serialize its own cash/rate-limit bookkeeping against
// concurrent markets.
type Gate struct {
	mu     sync.Mutex
	logger *slog.Logger
	params Params

	book      types.RiskBook
	positions map[string]*types.Position
	rl        *rateLimiter
}

// New creates a risk gate seeded with the starting bankroll.
func New(params Params, logger *slog.Logger) *Gate {
	return &Gate{
		logger:    logger.With("component", "risk"),
		params:    params,
		book:      types.RiskBook{CashBalance: params.Bankroll},
		positions: make(map[string]*types.Position),
		rl:        newRateLimiter(params.RateLimitPerMarket, params.RateLimitWindow),
	}
}

// Position returns the current position for a market, or nil if flat.
func (g *Gate) Position(marketID string) *types.Position {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.positions[marketID]
}

// RiskBook returns a copy of the process-wide cash/profit ledger.
func (g *Gate) RiskBook() types.RiskBook {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.book
}

// Restore seeds the gate's book and a market's position from persisted
// state (used on startup).
func (g *Gate) Restore(book types.RiskBook, positions map[string]*types.Position) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.book = book
	for id, pos := range positions {
		g.positions[id] = pos
	}
}

// Check implements spec.md §4.6's ordered checks. now is passed in
// (rather than read from time.Now) so the rate limiter is deterministic
// under test.
func (g *Gate) Check(order types.ProposedOrder, now time.Time) Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, hasPosition := g.positions[order.MarketID]

	if !hasPosition && !order.IsExit && len(g.positions) >= g.params.MaxActivePositions {
		metrics.RiskRejectionTotal.WithLabelValues(string(RejectCapacity)).Inc()
		return Result{Reason: RejectCapacity}
	}

	if !order.IsExit && order.SizeUSDC > g.book.CashBalance {
		metrics.RiskRejectionTotal.WithLabelValues(string(RejectInsufficientCash)).Inc()
		return Result{Reason: RejectInsufficientCash}
	}

	adjusted := order
	maxSingle := g.params.Bankroll * g.params.MaxSingleOrderPct
	if !order.IsExit && order.SizeUSDC > maxSingle {
		g.logger.Warn("order size exceeds single-order cap, adjusting down",
			"market", order.MarketID, "requested", order.SizeUSDC, "cap", maxSingle)
		adjusted.SizeUSDC = maxSingle
	}

	if !order.IsExit {
		exposure := g.marketExposureLocked(order.MarketID)
		maxExposure := g.params.Bankroll * g.params.MaxMarketExposurePct
		room := maxExposure - exposure
		if room <= 0 {
			metrics.RiskRejectionTotal.WithLabelValues(string(RejectExposureExhausted)).Inc()
			return Result{Reason: RejectExposureExhausted}
		}
		if adjusted.SizeUSDC > room {
			adjusted.SizeUSDC = room
		}
	}

	if !g.rl.Allow(order.MarketID, now) {
		metrics.RiskRejectionTotal.WithLabelValues(string(RejectRateLimited)).Inc()
		return Result{Reason: RejectRateLimited}
	}
	g.rl.Record(order.MarketID, now)

	return Result{Approved: true, Order: adjusted}
}

func (g *Gate) marketExposureLocked(marketID string) float64 {
	pos, ok := g.positions[marketID]
	if !ok {
		return 0
	}
	return pos.CostBasisYes + pos.CostBasisNo
}

// RecordBuy applies a filled buy to cash and the position book,
// creating the position row if this is the market's first fill.
func (g *Gate) RecordBuy(marketID string, side types.Side, filledUSDC, filledShares float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pos, ok := g.positions[marketID]
	if !ok {
		pos = &types.Position{MarketID: marketID}
		g.positions[marketID] = pos
	}
	ApplyBuy(&g.book, pos, side, filledUSDC, filledShares)
}

// RecordExit applies a filled exit to cash, protected profits, and the
// position book, removing the position once both sides are flat.
func (g *Gate) RecordExit(marketID string, side types.Side, filledUSDC, filledShares float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pos, ok := g.positions[marketID]
	if !ok {
		return
	}
	ApplyExit(&g.book, pos, side, filledUSDC, filledShares, g.params.PositionEpsilon)
	if pos.IsFlat(g.params.PositionEpsilon) {
		delete(g.positions, marketID)
	}
}

// RecordResolution settles a closed market's held position and removes
// it from the active book.
func (g *Gate) RecordResolution(marketID string, heldSide types.Side, won bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pos, ok := g.positions[marketID]
	if !ok {
		return
	}
	ApplyResolution(&g.book, pos, heldSide, won)
	if pos.IsFlat(g.params.PositionEpsilon) {
		delete(g.positions, marketID)
	}
}
