// Package types holds the data model shared across the ladder-trading
// engine: market metadata, per-market state, positions, trades, and the
// wire shapes used by the price feed and market loader.
package types

import (
	"strings"
	"time"
)

// Side identifies which outcome token an order or position refers to.
type Side string

const (
	YES  Side = "YES"
	NO   Side = "NO"
	NONE Side = "NONE"
)

// Regime is a coarse label describing a market's current pricing dynamics.
type Regime string

const (
	EarlyUncertain Regime = "EARLY_UNCERTAIN"
	MidConsensus   Regime = "MID_CONSENSUS"
	LateCompressed Regime = "LATE_COMPRESSED"
	HighVolatility Regime = "HIGH_VOLATILITY"
)

// Strategy identifies which decision path produced a proposed order.
type Strategy string

const (
	StrategyLadder               Strategy = "LADDER"
	StrategyDCA                  Strategy = "DCA"
	StrategyVolatilityAbsorption Strategy = "VOLATILITY_ABSORPTION"
	StrategyTailInsurance        Strategy = "TAIL_INSURANCE"
	StrategyExitPreGame          Strategy = "EXIT_PRE_GAME_STOP"
	StrategyExitThesisStop       Strategy = "EXIT_THESIS_STOP"
	StrategyExitProfitTake       Strategy = "EXIT_PROFIT_TAKE"
	StrategyExitMoonBag          Strategy = "EXIT_MOON_BAG"
	StrategyExitResolution       Strategy = "EXIT_RESOLUTION"
	StrategyNone                 Strategy = "NONE"
)

// CopySignalType distinguishes the two copy-trade entry bands.
type CopySignalType string

const (
	SignalStandard CopySignalType = "STANDARD"
	SignalLottery  CopySignalType = "LOTTERY"
)

// TrackedMarketStatus is the lifecycle of a copy-trade watch row.
type TrackedMarketStatus string

const (
	TrackedWatching TrackedMarketStatus = "WATCHING"
	TrackedInRange  TrackedMarketStatus = "IN_RANGE"
	TrackedExecuted TrackedMarketStatus = "EXECUTED"
)

// Market is the external market identity, persisted verbatim from the
// catalog and mutated only by the loader.
type Market struct {
	ID            string     `gorm:"primaryKey" json:"id"`
	Question      string     `json:"question"`
	Category      string     `json:"category"`
	Subcategory   string     `json:"subcategory"`
	Outcomes      []string   `gorm:"-" json:"outcomes"`     // ["Yes","No"] order
	ClobTokenIDs  []string   `gorm:"-" json:"clobTokenIds"` // parallel to Outcomes
	OutcomesJSON  string     `json:"-"`                     // gorm-backed JSON columns
	TokenIDsJSON  string     `json:"-"`
	EndDate       time.Time  `json:"endDate"`
	GameStartTime *time.Time `json:"gameStartTime,omitempty"`
	Volume24h     float64    `json:"volume24h"`
	Liquidity     float64    `json:"liquidity"`
	Active        bool       `json:"active"`
	Closed        bool       `json:"closed"`
	GroupID       string     `json:"groupId,omitempty"`
	IsGroupItem   bool       `json:"isGroupItem,omitempty"`
}

// YesToken and NoToken resolve token ids from the label-to-token map,
// never positionally: "YES" is matched case-insensitively against
// Outcomes. When no label matches, YesToken reports false and NoToken
// returns the first token; no token is taken as YES by position.
func (m *Market) YesToken() (string, bool) {
	for i, label := range m.Outcomes {
		if isYesLabel(label) && i < len(m.ClobTokenIDs) {
			return m.ClobTokenIDs[i], true
		}
	}
	return "", false
}

func (m *Market) NoToken() (string, bool) {
	for i, label := range m.Outcomes {
		if !isYesLabel(label) && i < len(m.ClobTokenIDs) {
			return m.ClobTokenIDs[i], true
		}
	}
	return "", false
}

// ResolutionPrices maps a catalog outcomePrices array (parallel to
// Outcomes) to the YES/NO pair, by label rather than position, same as
// YesToken/NoToken.
func (m *Market) ResolutionPrices(outcomePrices []float64) (yes, no float64, ok bool) {
	var yesOK, noOK bool
	for i, label := range m.Outcomes {
		if i >= len(outcomePrices) {
			continue
		}
		if isYesLabel(label) {
			yes, yesOK = outcomePrices[i], true
		} else {
			no, noOK = outcomePrices[i], true
		}
	}
	return yes, no, yesOK && noOK
}

func isYesLabel(label string) bool {
	return strings.EqualFold(label, "yes")
}

// PriceSample is one (priceYes, timestamp) observation kept in a
// MarketState's bounded price history.
type PriceSample struct {
	PriceYes  float64
	Timestamp time.Time
}

// MarketState is the core per-market entity, mutated only by the
// orchestrator under that market's serialization lock.
type MarketState struct {
	MarketID     string
	Regime       Regime
	LastPriceYes float64
	LastPriceNo  float64
	PriceHistory []PriceSample

	LadderFilled map[float64]bool // subset of configured ladder levels
	DCACount     int

	ExposureYes float64 // cumulative cost basis, YES side
	ExposureNo  float64

	TailActive bool

	ConsensusBreakStartTime *time.Time
	ConsensusBreakConfirmed bool

	MoonBagActive            bool
	MoonBagPriceAtActivation float64

	StopLossTriggeredAt *time.Time
	CooldownUntil       *time.Time

	ActiveTradeSide Side

	LastProcessed time.Time
}

// NewMarketState creates a fresh state row for a first observation.
func NewMarketState(marketID string) *MarketState {
	return &MarketState{
		MarketID:        marketID,
		Regime:          EarlyUncertain,
		ActiveTradeSide: NONE,
		LadderFilled:    make(map[float64]bool),
	}
}

// Position is one per market; invariants: shares >= 0, and
// avgEntryX == costBasisX / sharesX whenever sharesX > 0.
type Position struct {
	MarketID      string `gorm:"primaryKey"`
	SharesYes     float64
	SharesNo      float64
	AvgEntryYes   float64
	AvgEntryNo    float64
	CostBasisYes  float64
	CostBasisNo   float64
	UnrealizedPnl float64
	RealizedPnl   float64
}

// IsFlat reports whether both share counts are below the epsilon the
// risk book uses to remove a position from the active book.
func (p *Position) IsFlat(epsilon float64) bool {
	return p.SharesYes < epsilon && p.SharesNo < epsilon
}

// TradeRecord is an immutable audit row for one executed order.
type TradeRecord struct {
	ID             string `gorm:"primaryKey"`
	MarketID       string
	Side           Side
	Price          float64
	SizeUSDC       float64
	Shares         float64
	Strategy       Strategy
	StrategyDetail string
	IsExit         bool
	Status         string
	Timestamp      time.Time
}

// RiskBook is the process-wide ledger the risk gate owns.
type RiskBook struct {
	CashBalance      float64
	ProtectedProfits float64
}

// CopySignal is an out-of-process hint derived from a tracked wallet's
// trade falling into a configured price band.
type CopySignal struct {
	Trader       string
	MarketID     string
	MarketSlug   string
	TokenID      string
	OutcomeIndex int
	OutcomeLabel string
	Price        float64
	Timestamp    time.Time
	StrategyType CopySignalType
}

// TrackedMarket is the persisted watch record for a signal observed
// outside the entry band.
type TrackedMarket struct {
	ConditionID    string `gorm:"primaryKey"`
	Slug           string
	TokenID        string
	OutcomeIndex   int
	Outcome        string
	Title          string
	TraderName     string
	TraderWallet   string
	TrackedPrice   float64
	CurrentPrice   float64
	Status         TrackedMarketStatus
	SignalTime     time.Time
	EnteredRangeAt *time.Time
	ExecutedAt     *time.Time
}

// PriceUpdate is the typed event emitted by both the WebSocket feed and
// the periodic HTTP poller; the orchestrator treats both identically.
type PriceUpdate struct {
	MarketID  string
	TokenID   string
	PriceYes  float64
	PriceNo   float64
	Timestamp time.Time
}

// OrderBookSnapshot is the REST/WS book shape for one token.
type OrderBookSnapshot struct {
	AssetID   string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

type PriceLevel struct {
	Price float64
	Size  float64
}

// BestBidAsk returns the top-of-book bid and ask, and whether both exist.
func (b OrderBookSnapshot) BestBidAsk() (bid, ask float64, ok bool) {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0, 0, false
	}
	return b.Bids[0].Price, b.Asks[0].Price, true
}

// ProposedOrder is the output of the decision pipeline before the risk
// gate has approved or adjusted it.
type ProposedOrder struct {
	MarketID       string
	Side           Side
	Price          float64
	SizeUSDC       float64
	IsExit         bool
	ExitShares     float64 // for partial/full exits: shares to sell (0 = compute from pct)
	ExitPct        float64 // e.g. 0.75 for a 75% partial exit; 1.0 for full
	Strategy       Strategy
	StrategyDetail string
}

// PriceHistoryRow is one row in the persisted price-history table,
// independent of a MarketState's in-memory bounded PriceHistory slice.
type PriceHistoryRow struct {
	ID         uint `gorm:"primaryKey"`
	MarketID   string
	PriceYes   float64
	PriceNo    float64
	BestBidYes *float64
	BestAskYes *float64
	BestBidNo  *float64
	BestAskNo  *float64
	Timestamp  time.Time
}

// PnlSnapshot is one row in the periodic portfolio snapshot table.
type PnlSnapshot struct {
	Timestamp      time.Time `gorm:"primaryKey"`
	TotalValue     float64
	CashBalance    float64
	PositionsValue float64
	UnrealizedPnl  float64
	RealizedPnl    float64
}

// StrategyEvent is an audit row for a regime transition or strategy
// decision, independent of whether it produced an executed trade.
type StrategyEvent struct {
	ID        string `gorm:"primaryKey"`
	MarketID  string
	Regime    Regime
	Strategy  Strategy
	Action    string
	PriceYes  float64
	PriceNo   float64
	Details   string // JSON blob
	Timestamp time.Time
}

// BotConfig is the optional single-row persisted bankroll/locked-profit
// snapshot. It is read at startup to seed the risk book; the engine
// does not write it as the risk book changes.
type BotConfig struct {
	ID            uint `gorm:"primaryKey"`
	Bankroll      float64
	LockedProfits float64
}
