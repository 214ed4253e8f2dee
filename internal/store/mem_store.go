package store

import (
	"sync"

	"ladder-engine/pkg/types"
)

// MemStore is an in-memory Store used by tests and by components that
// only need the interface's shape without a real database.
type MemStore struct {
	mu sync.Mutex

	markets        map[string]types.Market
	marketStates   map[string]types.MarketState
	positions      map[string]types.Position
	trades         map[string][]types.TradeRecord
	priceHistory   []types.PriceHistoryRow
	pnlSnapshots   []types.PnlSnapshot
	strategyEvents []types.StrategyEvent
	tracked        map[string]types.TrackedMarket
	botConfig      *types.BotConfig
}

// NewMem creates an empty in-memory store.
func NewMem() *MemStore {
	return &MemStore{
		markets:      make(map[string]types.Market),
		marketStates: make(map[string]types.MarketState),
		positions:    make(map[string]types.Position),
		trades:       make(map[string][]types.TradeRecord),
		tracked:      make(map[string]types.TrackedMarket),
	}
}

func (m *MemStore) Close() error { return nil }

func (m *MemStore) SaveMarket(mk types.Market) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markets[mk.ID] = mk
	return nil
}

func (m *MemStore) ActiveMarkets() ([]types.Market, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Market
	for _, mk := range m.markets {
		if mk.Active && !mk.Closed {
			out = append(out, mk)
		}
	}
	return out, nil
}

func (m *MemStore) SaveMarketState(s types.MarketState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marketStates[s.MarketID] = s
	return nil
}

func (m *MemStore) LoadMarketState(marketID string) (*types.MarketState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.marketStates[marketID]
	if !ok {
		return nil, nil
	}
	cp := s
	return &cp, nil
}

func (m *MemStore) SavePositionAndTrade(pos types.Position, trade types.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pos.MarketID] = pos
	m.trades[trade.MarketID] = append(m.trades[trade.MarketID], trade)
	return nil
}

func (m *MemStore) SavePosition(pos types.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pos.MarketID] = pos
	return nil
}

func (m *MemStore) Positions() ([]types.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out, nil
}

func (m *MemStore) Trades(marketID string) ([]types.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.TradeRecord{}, m.trades[marketID]...), nil
}

func (m *MemStore) SavePriceHistory(row types.PriceHistoryRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.priceHistory = append(m.priceHistory, row)
	return nil
}

func (m *MemStore) SavePnlSnapshot(s types.PnlSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pnlSnapshots = append(m.pnlSnapshots, s)
	return nil
}

func (m *MemStore) SaveStrategyEvent(e types.StrategyEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategyEvents = append(m.strategyEvents, e)
	return nil
}

func (m *MemStore) SaveTrackedMarket(t types.TrackedMarket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracked[t.ConditionID] = t
	return nil
}

func (m *MemStore) TrackedMarkets() ([]types.TrackedMarket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.TrackedMarket, 0, len(m.tracked))
	for _, t := range m.tracked {
		out = append(out, t)
	}
	return out, nil
}

func (m *MemStore) LoadBotConfig() (*types.BotConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botConfig, nil
}

func (m *MemStore) SaveBotConfig(c types.BotConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botConfig = &c
	return nil
}

var _ Store = (*MemStore)(nil)
