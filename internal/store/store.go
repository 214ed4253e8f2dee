// Package store persists the engine's relational state: markets,
// positions, trades, price history, P&L snapshots, strategy events,
// and copy-trade watch rows. Grounded on the file-based position
// store's crash-safety discipline (every write either lands in full or
// not at all) but generalized from a single atomic-rename-per-market
// file into gorm transactions over a real relational schema, per
// spec.md §6's explicit table list.
package store

import (
	"encoding/json"
	"fmt"

	"ladder-engine/pkg/types"
)

// Store is the persistence boundary every component writes through.
// Trade and Position rows are written together by SavePositionAndTrade.
// If that write returns an error the orchestrator logs it; the
// in-memory risk book and market state keep the update and are not
// rolled back. Price history and strategy-event writes are best-effort:
// a failure is logged by the caller and swallowed.
type Store interface {
	SaveMarket(m types.Market) error
	ActiveMarkets() ([]types.Market, error)

	SaveMarketState(s types.MarketState) error
	LoadMarketState(marketID string) (*types.MarketState, error)

	SavePositionAndTrade(pos types.Position, trade types.TradeRecord) error
	SavePosition(pos types.Position) error
	Positions() ([]types.Position, error)
	Trades(marketID string) ([]types.TradeRecord, error)

	SavePriceHistory(row types.PriceHistoryRow) error
	SavePnlSnapshot(s types.PnlSnapshot) error
	SaveStrategyEvent(e types.StrategyEvent) error

	SaveTrackedMarket(t types.TrackedMarket) error
	TrackedMarkets() ([]types.TrackedMarket, error)

	LoadBotConfig() (*types.BotConfig, error)
	SaveBotConfig(c types.BotConfig) error

	Close() error
}

// marketStateRow is the gorm-backed shape of MarketState: maps and
// slices are marshaled to JSON columns, then decoded back on load.
// Regime is intentionally NOT restored from this row — it is
// recomputed from the current price on load (spec.md §8's round-trip
// property carves out this one field).
type marketStateRow struct {
	MarketID                 string `gorm:"primaryKey"`
	LadderFilledJSON         string
	DCACount                 int
	ExposureYes              float64
	ExposureNo               float64
	TailActive               bool
	ConsensusBreakStartTime  *int64
	ConsensusBreakConfirmed  bool
	MoonBagActive            bool
	MoonBagPriceAtActivation float64
	StopLossTriggeredAt      *int64
	CooldownUntil            *int64
	ActiveTradeSide          types.Side
	LastProcessed            int64
}

func encodeLadderFilled(m map[float64]bool) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode ladderFilled: %w", err)
	}
	return string(b), nil
}

func decodeLadderFilled(s string) (map[float64]bool, error) {
	out := make(map[float64]bool)
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("decode ladderFilled: %w", err)
	}
	return out, nil
}
