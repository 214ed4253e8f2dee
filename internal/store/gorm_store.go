package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ladder-engine/pkg/types"
)

// GormStore is the MySQL-backed Store implementation.
type GormStore struct {
	db *gorm.DB
}

// OpenGorm connects to dsn and migrates the schema.
func OpenGorm(dsn string) (*GormStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if err := db.AutoMigrate(
		&types.Market{},
		&marketStateRow{},
		&types.Position{},
		&types.TradeRecord{},
		&types.PriceHistoryRow{},
		&types.PnlSnapshot{},
		&types.StrategyEvent{},
		&types.TrackedMarket{},
		&types.BotConfig{},
	); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) SaveMarket(m types.Market) error {
	outcomes, err := json.Marshal(m.Outcomes)
	if err != nil {
		return fmt.Errorf("encode outcomes: %w", err)
	}
	tokens, err := json.Marshal(m.ClobTokenIDs)
	if err != nil {
		return fmt.Errorf("encode tokenIds: %w", err)
	}
	m.OutcomesJSON = string(outcomes)
	m.TokenIDsJSON = string(tokens)

	return s.db.Save(&m).Error
}

func (s *GormStore) ActiveMarkets() ([]types.Market, error) {
	var rows []types.Market
	if err := s.db.Where("active = ? AND closed = ?", true, false).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load active markets: %w", err)
	}
	for i := range rows {
		_ = json.Unmarshal([]byte(rows[i].OutcomesJSON), &rows[i].Outcomes)
		_ = json.Unmarshal([]byte(rows[i].TokenIDsJSON), &rows[i].ClobTokenIDs)
	}
	return rows, nil
}

func (s *GormStore) SaveMarketState(st types.MarketState) error {
	ladderJSON, err := encodeLadderFilled(st.LadderFilled)
	if err != nil {
		return err
	}

	row := marketStateRow{
		MarketID:                st.MarketID,
		LadderFilledJSON:        ladderJSON,
		DCACount:                st.DCACount,
		ExposureYes:             st.ExposureYes,
		ExposureNo:              st.ExposureNo,
		TailActive:              st.TailActive,
		ConsensusBreakStartTime: timeToUnixPtr(st.ConsensusBreakStartTime),
		ConsensusBreakConfirmed: st.ConsensusBreakConfirmed,
		MoonBagActive:            st.MoonBagActive,
		MoonBagPriceAtActivation: st.MoonBagPriceAtActivation,
		StopLossTriggeredAt:      timeToUnixPtr(st.StopLossTriggeredAt),
		CooldownUntil:            timeToUnixPtr(st.CooldownUntil),
		ActiveTradeSide:          st.ActiveTradeSide,
		LastProcessed:            st.LastProcessed.Unix(),
	}
	return s.db.Save(&row).Error
}

// LoadMarketState restores a market state row. Regime is deliberately
// left at its zero value: the caller recomputes it from the current
// price, per spec.md §8's round-trip property.
func (s *GormStore) LoadMarketState(marketID string) (*types.MarketState, error) {
	var row marketStateRow
	err := s.db.Where("market_id = ?", marketID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load market state: %w", err)
	}

	ladderFilled, err := decodeLadderFilled(row.LadderFilledJSON)
	if err != nil {
		return nil, err
	}

	return &types.MarketState{
		MarketID:                 row.MarketID,
		LadderFilled:             ladderFilled,
		DCACount:                 row.DCACount,
		ExposureYes:              row.ExposureYes,
		ExposureNo:               row.ExposureNo,
		TailActive:               row.TailActive,
		ConsensusBreakStartTime:  unixPtrToTime(row.ConsensusBreakStartTime),
		ConsensusBreakConfirmed:  row.ConsensusBreakConfirmed,
		MoonBagActive:            row.MoonBagActive,
		MoonBagPriceAtActivation: row.MoonBagPriceAtActivation,
		StopLossTriggeredAt:      unixPtrToTime(row.StopLossTriggeredAt),
		CooldownUntil:            unixPtrToTime(row.CooldownUntil),
		ActiveTradeSide:          row.ActiveTradeSide,
		LastProcessed:            time.Unix(row.LastProcessed, 0),
	}, nil
}

// SavePositionAndTrade writes both rows in a single transaction:
// spec.md §7's fail-close rule for Trade/Position means a partial
// write here must never be observed.
func (s *GormStore) SavePositionAndTrade(pos types.Position, trade types.TradeRecord) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&pos).Error; err != nil {
			return fmt.Errorf("save position: %w", err)
		}
		if err := tx.Create(&trade).Error; err != nil {
			return fmt.Errorf("save trade: %w", err)
		}
		return nil
	})
}

func (s *GormStore) SavePosition(pos types.Position) error {
	return s.db.Save(&pos).Error
}

// Positions loads every persisted position, for restoring the risk
// gate's in-memory book on startup.
func (s *GormStore) Positions() ([]types.Position, error) {
	var rows []types.Position
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	return rows, nil
}

func (s *GormStore) Trades(marketID string) ([]types.TradeRecord, error) {
	var rows []types.TradeRecord
	err := s.db.Where("market_id = ?", marketID).Order("timestamp asc").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	return rows, nil
}

// SavePriceHistory and SaveStrategyEvent are best-effort per spec.md
// §7: failures are the caller's to log and swallow, never to retry.
func (s *GormStore) SavePriceHistory(row types.PriceHistoryRow) error {
	return s.db.Create(&row).Error
}

func (s *GormStore) SavePnlSnapshot(snap types.PnlSnapshot) error {
	return s.db.Create(&snap).Error
}

func (s *GormStore) SaveStrategyEvent(evt types.StrategyEvent) error {
	return s.db.Create(&evt).Error
}

func (s *GormStore) SaveTrackedMarket(t types.TrackedMarket) error {
	return s.db.Save(&t).Error
}

func (s *GormStore) TrackedMarkets() ([]types.TrackedMarket, error) {
	var rows []types.TrackedMarket
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load tracked markets: %w", err)
	}
	return rows, nil
}

func (s *GormStore) LoadBotConfig() (*types.BotConfig, error) {
	var cfg types.BotConfig
	err := s.db.First(&cfg).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load bot config: %w", err)
	}
	return &cfg, nil
}

func (s *GormStore) SaveBotConfig(cfg types.BotConfig) error {
	return s.db.Save(&cfg).Error
}

func timeToUnixPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.Unix()
	return &v
}

func unixPtrToTime(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := time.Unix(*v, 0)
	return &t
}
