// Package orchestrator owns the per-market state map and the main
// decision pipeline: regime classification, exit evaluation, tail
// insurance, ladder/DCA entries, the risk gate, the paper executor, and
// persistence, plus the periodic resolution sweep, P&L snapshot, and
// market-refresh loops (spec.md §4.11, §5). Grounded on the engine's
// slot map / per-market lock / reconcile-on-refresh shape, but the
// per-market mutex here is try-lock-or-drop rather than always-block:
// a tick that arrives while the previous one is still being processed
// is simply skipped, since the next price update supersedes it anyway.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ladder-engine/internal/copytrade"
	"ladder-engine/internal/eventbus"
	"ladder-engine/internal/executor"
	"ladder-engine/internal/ladder"
	"ladder-engine/internal/loader"
	"ladder-engine/internal/pricefeed"
	"ladder-engine/internal/regime"
	"ladder-engine/internal/risk"
	"ladder-engine/internal/exit"
	"ladder-engine/internal/store"
	"ladder-engine/pkg/types"
)

// resolutionCheckInterval is fixed per spec.md §4.11; everything else
// the orchestrator paces is configurable.
const resolutionCheckInterval = 2 * time.Minute

// marketSlot is one tracked market's mutable state, guarded by its own
// mutex so a slow tick on one market never blocks another.
type marketSlot struct {
	mu     sync.Mutex
	market types.Market
	state  *types.MarketState
}

// Params bundles the decision-pipeline tunables the orchestrator
// derives once from config.Config at construction time.
type Params struct {
	Regime   regime.Params
	Entry    ladder.Params
	DCA      ladder.DCAParams
	Tail     ladder.TailInsuranceParams
	Exit     exit.Params
	Bankroll float64

	MarketRefreshInterval time.Duration
	PnlSnapshotInterval   time.Duration
}

// Orchestrator wires the decision pipeline to its producers
// (pricefeed, copytrade, loader) and its two sinks (risk gate /
// executor, and the relational store).
type Orchestrator struct {
	params Params
	bus    *eventbus.Bus
	st     store.Store
	gate   *risk.Gate
	exec   *executor.Executor
	feed   *pricefeed.Feed
	ld     *loader.Loader
	det    *copytrade.Detector
	logger *slog.Logger

	mu      sync.RWMutex
	markets map[string]*marketSlot
}

// New creates an orchestrator. The market map starts empty; the first
// market-refresh tick (run synchronously before Start returns producer
// goroutines) populates it.
func New(params Params, bus *eventbus.Bus, st store.Store, gate *risk.Gate, exec *executor.Executor,
	feed *pricefeed.Feed, ld *loader.Loader, det *copytrade.Detector, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		params:  params,
		bus:     bus,
		st:      st,
		gate:    gate,
		exec:    exec,
		feed:    feed,
		ld:      ld,
		det:     det,
		logger:  logger.With("component", "orchestrator"),
		markets: make(map[string]*marketSlot),
	}
}

// Start loads the initial market batch, subscribes to the event bus,
// and runs every producer and periodic loop until ctx is cancelled or
// one of them returns an error. Grounded on the engine's Start/Stop
// goroutine-per-producer shape, generalized to use errgroup in place
// of a raw WaitGroup so the first producer failure cancels the rest.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := o.refreshMarkets(ctx); err != nil {
		return fmt.Errorf("orchestrator: initial market load: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return o.feed.Run(ctx, o.activeMarketsList) })
	g.Go(func() error { o.det.Run(ctx, o.priceForToken); return nil })
	g.Go(func() error { return o.consumeEvents(ctx) })
	g.Go(func() error { return o.runMarketRefreshLoop(ctx) })
	g.Go(func() error { return o.runResolutionLoop(ctx) })
	g.Go(func() error { return o.runPnlSnapshotLoop(ctx) })
	g.Go(func() error { return o.runWatchPersistLoop(ctx) })

	return g.Wait()
}

// consumeEvents is the single subscriber that drives the decision
// pipeline: every PriceUpdate (from either the WebSocket feed or its
// HTTP fallback) triggers one tick on that market's slot.
func (o *Orchestrator) consumeEvents(ctx context.Context) error {
	ch, unsubscribe := o.bus.Subscribe(256)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			if evt.Kind == eventbus.KindPriceUpdate {
				o.onPriceUpdate(evt.PriceUpdate)
			}
		}
	}
}

func (o *Orchestrator) onPriceUpdate(p *eventbus.PriceUpdatePayload) {
	slot := o.slot(p.MarketID)
	if slot == nil {
		return
	}
	if !slot.mu.TryLock() {
		return // a tick is already in flight for this market; drop this one
	}
	defer slot.mu.Unlock()

	o.processTick(slot, p.PriceYes, p.PriceNo, time.Now())
}

func (o *Orchestrator) slot(marketID string) *marketSlot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.markets[marketID]
}

// processTick runs the full per-market decision pipeline for one price
// observation: regime classification, then exit (if a position is
// held) — which takes precedence over any entry this tick — otherwise
// ladder/DCA entries followed by the always-on tail-insurance check.
// Ladder entries and tail insurance are not mutually exclusive: both
// can fire on the same tick (spec.md §4.11 steps 3-4).
func (o *Orchestrator) processTick(slot *marketSlot, priceYes, priceNo float64, now time.Time) {
	state := slot.state
	market := slot.market

	state.LastPriceYes = priceYes
	state.LastPriceNo = priceNo
	state.LastProcessed = now
	state.PriceHistory = append(state.PriceHistory, types.PriceSample{PriceYes: priceYes, Timestamp: now})
	state.PriceHistory = regime.TrimPriceHistory(state.PriceHistory, now, o.params.Regime.VolatilityWindow)

	newRegime := regime.Classify(market.EndDate.Sub(now), priceYes, state.PriceHistory, now, o.params.Regime)
	if regime.IsSignificantTransition(state.Regime, newRegime) {
		o.recordStrategyEvent(market.ID, newRegime, types.StrategyNone, "regime transition", priceYes, priceNo)
	}
	state.Regime = newRegime

	pos := o.gate.Position(market.ID)

	if pos != nil && state.ActiveTradeSide != types.NONE {
		if d := exit.Evaluate(state, pos, now, market.GameStartTime, o.params.Exit); d.Order != nil {
			o.submitExit(slot, pos, *d.Order, now)
			o.persistState(state)
			return
		}
	}

	switch ladder.SelectStrategy(state.Regime) {
	case types.StrategyLadder, types.StrategyVolatilityAbsorption:
		o.runLadderEntries(slot, priceYes, priceNo, now)
	}

	if pos != nil {
		gameStartInFuture := market.GameStartTime != nil && now.Before(*market.GameStartTime)
		if order := ladder.ProposeDCA(state, pos, gameStartInFuture, priceYes, priceNo, o.params.DCA); order != nil {
			if o.submitEntry(slot, *order, now) {
				state.DCACount++
			}
		}
	}

	if order := ladder.CheckTailInsurance(state, priceYes, priceNo, o.params.Tail); order != nil {
		if o.submitEntry(slot, *order, now) {
			state.TailActive = true
		}
	}

	o.persistState(state)
}

// runLadderEntries proposes and submits every newly-crossed ladder
// level. The level each order corresponds to is recovered by
// recomputing the same ascending-level/unfilled/price-crossed filter
// ProposeEntries applies internally: since both use the same state,
// params, and tick price, the two filtered sequences line up index for
// index.
func (o *Orchestrator) runLadderEntries(slot *marketSlot, priceYes, priceNo float64, now time.Time) {
	state := slot.state
	entries := ladder.ProposeEntries(state, priceYes, priceNo, o.params.Entry)
	if len(entries) == 0 {
		return
	}

	price := entries[0].Price
	var crossedLevels []float64
	for _, level := range o.params.Entry.Levels {
		if state.LadderFilled[level] {
			continue
		}
		if price < level || price > o.params.Entry.MaxBuyPrice {
			continue
		}
		crossedLevels = append(crossedLevels, level)
	}

	for i, e := range entries {
		if o.submitEntry(slot, e, now) && i < len(crossedLevels) {
			state.LadderFilled[crossedLevels[i]] = true
		}
	}
}

// submitEntry runs a proposed (non-exit) order through the risk gate
// and, if approved, the executor, updating the position book and the
// per-market exposure tally. Returns whether the order actually filled.
func (o *Orchestrator) submitEntry(slot *marketSlot, order types.ProposedOrder, now time.Time) bool {
	result := o.gate.Check(order, now)
	if !result.Approved {
		o.logger.Debug("entry rejected", "market", order.MarketID, "reason", result.Reason)
		return false
	}

	fill := o.exec.Execute(result.Order, now)
	o.gate.RecordBuy(order.MarketID, order.Side, fill.Trade.SizeUSDC, fill.Shares)

	state := slot.state
	if state.ActiveTradeSide == types.NONE {
		state.ActiveTradeSide = order.Side
	}
	switch order.Side {
	case types.YES:
		state.ExposureYes += fill.Trade.SizeUSDC
	case types.NO:
		state.ExposureNo += fill.Trade.SizeUSDC
	}

	o.persistTrade(fill.Trade)
	return true
}

// submitExit converts the proposed exit's ExitPct into concrete shares
// against the currently-held position, then runs it through the gate
// and executor exactly like an entry.
func (o *Orchestrator) submitExit(slot *marketSlot, pos *types.Position, order types.ProposedOrder, now time.Time) {
	var sharesHeld float64
	switch order.Side {
	case types.YES:
		sharesHeld = pos.SharesYes
	case types.NO:
		sharesHeld = pos.SharesNo
	}
	if sharesHeld <= 0 {
		return
	}

	pct := order.ExitPct
	if pct <= 0 {
		pct = 1.0
	}
	order.ExitShares = sharesHeld * pct
	order.SizeUSDC = order.ExitShares * order.Price

	result := o.gate.Check(order, now)
	if !result.Approved {
		o.logger.Warn("exit rejected by risk gate", "market", order.MarketID, "reason", result.Reason)
		return
	}

	fill := o.exec.Execute(result.Order, now)
	o.gate.RecordExit(order.MarketID, order.Side, fill.Trade.SizeUSDC, fill.Shares)

	if fill.Shares >= sharesHeld {
		slot.state.ActiveTradeSide = types.NONE
		slot.state.TailActive = false
		slot.state.MoonBagActive = false
		o.untrackMarket(slot.market)
	}

	o.persistTrade(fill.Trade)
}

// untrackMarket drops a fully-exited market from the active set and
// unsubscribes its tokens, rather than waiting for the next refresh
// tick to notice the position is gone (pipeline step 8).
func (o *Orchestrator) untrackMarket(market types.Market) {
	o.mu.Lock()
	delete(o.markets, market.ID)
	o.mu.Unlock()
	o.feed.Untrack(market)
}

func (o *Orchestrator) persistTrade(trade types.TradeRecord) {
	pos := o.gate.Position(trade.MarketID)
	if pos == nil {
		pos = &types.Position{MarketID: trade.MarketID}
	}
	if err := o.st.SavePositionAndTrade(*pos, trade); err != nil {
		o.logger.Error("persist trade failed", "market", trade.MarketID, "trade", trade.ID, "error", err)
	}
}

func (o *Orchestrator) persistState(state *types.MarketState) {
	if err := o.st.SaveMarketState(*state); err != nil {
		o.logger.Warn("persist market state failed", "market", state.MarketID, "error", err)
	}
}

func (o *Orchestrator) recordStrategyEvent(marketID string, r types.Regime, strategy types.Strategy, action string, priceYes, priceNo float64) {
	evt := types.StrategyEvent{
		ID:        uuid.NewString(),
		MarketID:  marketID,
		Regime:    r,
		Strategy:  strategy,
		Action:    action,
		PriceYes:  priceYes,
		PriceNo:   priceNo,
		Timestamp: time.Now(),
	}
	if err := o.st.SaveStrategyEvent(evt); err != nil {
		o.logger.Warn("persist strategy event failed", "market", marketID, "error", err)
	}
	o.bus.Publish(eventbus.Event{
		Kind: eventbus.KindStrategyEvent,
		StrategyEvent: &eventbus.StrategyEventPayload{
			MarketID: marketID, Regime: string(r), Strategy: string(strategy), Action: action,
		},
	})
}

// activeMarketsList snapshots the tracked markets, for the price
// feed's HTTP fallback poller.
func (o *Orchestrator) activeMarketsList() []types.Market {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]types.Market, 0, len(o.markets))
	for _, slot := range o.markets {
		out = append(out, slot.market)
	}
	return out
}

// priceForToken resolves a CLOB token id to its last known price, for
// the copy-trade detector's band classification. Markets are few
// enough (top-N survivors) that a linear scan per lookup is cheap.
func (o *Orchestrator) priceForToken(tokenID string) *float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, slot := range o.markets {
		if yes, ok := slot.market.YesToken(); ok && yes == tokenID {
			v := slot.state.LastPriceYes
			return &v
		}
		if no, ok := slot.market.NoToken(); ok && no == tokenID {
			v := slot.state.LastPriceNo
			return &v
		}
	}
	return nil
}

// runMarketRefreshLoop periodically re-runs the loader and reconciles
// its survivor list against the tracked market set.
func (o *Orchestrator) runMarketRefreshLoop(ctx context.Context) error {
	interval := o.params.MarketRefreshInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := o.refreshMarkets(ctx); err != nil {
				o.logger.Error("market refresh failed", "error", err)
			}
		}
	}
}

func (o *Orchestrator) refreshMarkets(ctx context.Context) error {
	survivors, err := o.ld.Load(ctx)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	incoming := make(map[string]types.Market, len(survivors))
	for _, m := range survivors {
		incoming[m.ID] = m

		slot, exists := o.markets[m.ID]
		if !exists {
			state := types.NewMarketState(m.ID)
			if persisted, err := o.st.LoadMarketState(m.ID); err == nil && persisted != nil {
				persisted.Regime = state.Regime // never restored from disk; recomputed on next tick
				state = persisted
			}
			slot = &marketSlot{market: m, state: state}
			o.markets[m.ID] = slot
			o.feed.Track(m)
			if err := o.st.SaveMarket(m); err != nil {
				o.logger.Warn("persist market failed", "market", m.ID, "error", err)
			}
		} else {
			slot.mu.Lock()
			slot.market = m
			slot.mu.Unlock()
		}
	}

	for id, slot := range o.markets {
		if _, stillSurviving := incoming[id]; stillSurviving {
			continue
		}
		if o.gate.Position(id) != nil {
			continue // never drop a market we still hold a position in
		}
		delete(o.markets, id)
		o.feed.Untrack(slot.market)
	}

	o.bus.Publish(eventbus.Event{Kind: eventbus.KindMarketFiltered, MarketFiltered: &eventbus.MarketFilteredPayload{SurvivorCount: len(survivors)}})
	return nil
}

// runResolutionLoop polls the catalog for every market still carrying a
// position, settling and dropping it once the venue marks it closed.
func (o *Orchestrator) runResolutionLoop(ctx context.Context) error {
	ticker := time.NewTicker(resolutionCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.sweepResolutions(ctx)
		}
	}
}

// sweepResolutions checks every market with an open position against
// the catalog's by-id endpoint (spec.md §4.11/§6): a market only
// settles once the venue marks it `closed`, at which point its
// outcomePrices pair — not the last observed tick price — determines
// the realized P&L, so a resolution that surprises the last-traded
// price is still booked correctly.
func (o *Orchestrator) sweepResolutions(ctx context.Context) {
	o.mu.RLock()
	var candidates []*marketSlot
	for _, slot := range o.markets {
		if slot.state.ActiveTradeSide != types.NONE {
			candidates = append(candidates, slot)
		}
	}
	o.mu.RUnlock()

	for _, slot := range candidates {
		resolution, err := o.ld.FetchResolution(ctx, slot.market.ID)
		if err != nil {
			o.logger.Warn("resolution fetch failed", "market", slot.market.ID, "error", err)
			continue
		}
		if !resolution.Closed {
			continue
		}

		slot.mu.Lock()
		state := slot.state
		if state.ActiveTradeSide != types.NONE {
			yesPrice, noPrice, ok := slot.market.ResolutionPrices(resolution.OutcomePrices)
			if !ok {
				o.logger.Error("resolution outcome prices did not map to market outcomes", "market", slot.market.ID)
				slot.mu.Unlock()
				continue
			}
			heldPrice := yesPrice
			if state.ActiveTradeSide == types.NO {
				heldPrice = noPrice
			}
			won := heldPrice >= 0.5
			o.gate.RecordResolution(slot.market.ID, state.ActiveTradeSide, won)
			state.ActiveTradeSide = types.NONE
			o.persistState(state)
		}
		slot.mu.Unlock()

		o.untrackMarket(slot.market)
	}
}

// runPnlSnapshotLoop periodically recomputes unrealized P&L across
// every held position, writes a snapshot row, and publishes a
// portfolio:update event for the dashboard.
func (o *Orchestrator) runPnlSnapshotLoop(ctx context.Context) error {
	interval := o.params.PnlSnapshotInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.snapshotPnl()
		}
	}
}

func (o *Orchestrator) snapshotPnl() {
	book := o.gate.RiskBook()

	o.mu.RLock()
	defer o.mu.RUnlock()

	var positionsValue, unrealized, realized float64
	for id, slot := range o.markets {
		pos := o.gate.Position(id)
		if pos == nil {
			continue
		}
		risk.UpdateMarkToMarket(pos, slot.state.LastPriceYes, slot.state.LastPriceNo)
		positionsValue += pos.SharesYes*slot.state.LastPriceYes + pos.SharesNo*slot.state.LastPriceNo
		unrealized += pos.UnrealizedPnl
		realized += pos.RealizedPnl
	}

	snap := types.PnlSnapshot{
		Timestamp:      time.Now(),
		TotalValue:     book.CashBalance + positionsValue,
		CashBalance:    book.CashBalance,
		PositionsValue: positionsValue,
		UnrealizedPnl:  unrealized,
		RealizedPnl:    realized,
	}
	if err := o.st.SavePnlSnapshot(snap); err != nil {
		o.logger.Warn("persist pnl snapshot failed", "error", err)
	}
	o.bus.Publish(eventbus.Event{
		Kind:            eventbus.KindPortfolioUpdate,
		PortfolioUpdate: &eventbus.PortfolioUpdatePayload{TotalValue: snap.TotalValue, CashBalance: snap.CashBalance},
	})
}

// runWatchPersistLoop periodically writes the copy-trade detector's
// in-memory watch rows to the store every 30 seconds, so a restart
// loses at most the watch state observed since the last successful
// persist.
func (o *Orchestrator) runWatchPersistLoop(ctx context.Context) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, row := range o.det.Watching() {
				if err := o.st.SaveTrackedMarket(row); err != nil {
					o.logger.Warn("persist tracked market failed", "condition_id", row.ConditionID, "error", err)
				}
			}
		}
	}
}
