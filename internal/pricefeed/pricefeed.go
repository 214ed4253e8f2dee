// Package pricefeed maintains the live WebSocket price stream and its
// HTTP polling fallback, implementing spec.md §4.8. Grounded on the
// market feed's connection lifecycle (reconnect with backoff,
// resubscribe on reopen, ping keep-alive, non-blocking dispatch) but
// generalized from the venue's two-channel (market/user) design down to
// the single public market channel this engine needs, and reworked to
// emit domain PriceUpdate events onto the event bus instead of raw
// book/trade channels a caller must drain.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"ladder-engine/internal/eventbus"
	"ladder-engine/internal/metrics"
	"ladder-engine/pkg/types"
)

// Params bundles the feed's tunables, taken from config.
type Params struct {
	URL              string
	PingInterval     time.Duration
	ReconnectDelay   time.Duration
	MaxReconnectWait time.Duration
	MaxAttempts      int
	HTTPPollInterval time.Duration
	HTTPBaseURL      string
	HTTPTimeout      time.Duration
}

// tokenInfo resolves a CLOB token id back to its market and side.
type tokenInfo struct {
	marketID string
	isYes    bool
}

// Feed owns the token→market/side indexes, the WebSocket connection,
// and the HTTP snapshot poller. Both sources publish the same
// PriceUpdate event shape; the orchestrator's per-market lock
// serializes whichever arrives first.
type Feed struct {
	params Params
	bus    *eventbus.Bus
	logger *slog.Logger
	http   *resty.Client

	mu     sync.RWMutex
	tokens map[string]tokenInfo // tokenID -> market/side
	conn   *websocket.Conn
	connMu sync.Mutex
}

// New creates a price feed.
func New(params Params, bus *eventbus.Bus, logger *slog.Logger) *Feed {
	return &Feed{
		params: params,
		bus:    bus,
		logger: logger.With("component", "pricefeed"),
		http: resty.New().
			SetBaseURL(params.HTTPBaseURL).
			SetTimeout(params.HTTPTimeout),
		tokens: make(map[string]tokenInfo),
	}
}

// Track registers a market's two tokens for resolution on inbound
// price messages. Safe to call concurrently with Run.
func (f *Feed) Track(market types.Market) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if yes, ok := market.YesToken(); ok {
		f.tokens[yes] = tokenInfo{marketID: market.ID, isYes: true}
	}
	if no, ok := market.NoToken(); ok {
		f.tokens[no] = tokenInfo{marketID: market.ID, isYes: false}
	}
}

// Untrack removes a market's tokens, e.g. once it resolves.
func (f *Feed) Untrack(market types.Market) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if yes, ok := market.YesToken(); ok {
		delete(f.tokens, yes)
	}
	if no, ok := market.NoToken(); ok {
		delete(f.tokens, no)
	}
}

func (f *Feed) trackedTokenIDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ids := make([]string, 0, len(f.tokens))
	for id := range f.tokens {
		ids = append(ids, id)
	}
	return ids
}

// Run connects the WebSocket and starts the HTTP fallback poller.
// Blocks until ctx is cancelled. Once the WebSocket exhausts
// MaxAttempts reconnects, a final WSStatus event reports it and only
// the HTTP poller keeps producing prices.
func (f *Feed) Run(ctx context.Context, activeMarkets func() []types.Market) error {
	go f.pollHTTP(ctx, activeMarkets)
	return f.runWS(ctx)
}

func (f *Feed) runWS(ctx context.Context) error {
	backoff := f.params.ReconnectDelay
	attempts := 0

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempts++
		metrics.WSReconnectTotal.Inc()
		f.bus.Publish(eventbus.Event{Kind: eventbus.KindWSStatus, WSStatus: &eventbus.WSStatusPayload{Connected: false, Reason: fmt.Sprint(err)}})

		if attempts >= f.params.MaxAttempts {
			f.logger.Error("websocket exhausted max reconnect attempts; continuing on HTTP polling only", "attempts", attempts, "error", err)
			f.bus.Publish(eventbus.Event{Kind: eventbus.KindWSStatus, WSStatus: &eventbus.WSStatusPayload{Connected: false, Reason: fmt.Sprintf("exhausted %d reconnect attempts", attempts)}})
			<-ctx.Done()
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff, "attempt", attempts)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > f.params.MaxReconnectWait {
			backoff = f.params.MaxReconnectWait
		}
	}
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.params.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.resubscribeAll(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.bus.Publish(eventbus.Event{Kind: eventbus.KindWSStatus, WSStatus: &eventbus.WSStatusPayload{Connected: true}})

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatchMessage(msg)
	}
}

// resubscribeAll re-sends the full remembered token set on reconnect;
// no duplicate subscriptions accumulate since the venue treats each
// "subscribe" operation as a full replacement of interest, not an add.
func (f *Feed) resubscribeAll() error {
	ids := f.trackedTokenIDs()
	if len(ids) == 0 {
		return nil
	}
	return f.writeJSON(subscribeMsg{Type: "subscribe", AssetIDs: ids})
}

type subscribeMsg struct {
	Type     string   `json:"type"`
	AssetIDs []string `json:"assets_ids"`
}

func (f *Feed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	return f.conn.WriteJSON(v)
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(f.params.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeJSON(map[string]string{"type": "ping"}); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

type bookMessage struct {
	EventType string       `json:"event_type"`
	AssetID   string       `json:"asset_id"`
	Bids      []rawLevel   `json:"bids"`
	Asks      []rawLevel   `json:"asks"`
}

type rawLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func (f *Feed) dispatchMessage(data []byte) {
	var msg bookMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Debug("ignoring non-json ws message")
		return
	}
	if msg.EventType != "book" && msg.EventType != "price_change" {
		return
	}

	raw, ok := midFromLevels(msg.Bids, msg.Asks)
	if !ok {
		return
	}
	f.emitFromRaw(msg.AssetID, raw)
}

func midFromLevels(bids, asks []rawLevel) (float64, bool) {
	var bid, ask float64
	var haveBid, haveAsk bool
	if len(bids) > 0 {
		if v, err := parseFloat(bids[0].Price); err == nil {
			bid, haveBid = v, true
		}
	}
	if len(asks) > 0 {
		if v, err := parseFloat(asks[0].Price); err == nil {
			ask, haveAsk = v, true
		}
	}
	switch {
	case haveBid && haveAsk:
		return (bid + ask) / 2, true
	case haveBid:
		return bid, true
	case haveAsk:
		return ask, true
	default:
		return 0, false
	}
}

// emitFromRaw implements spec.md §4.8's polarity rule: the raw price is
// always in the quoted token's own terms; if that token is the NO side,
// mirror it to a YES price before publishing.
func (f *Feed) emitFromRaw(tokenID string, raw float64) {
	f.mu.RLock()
	info, ok := f.tokens[tokenID]
	f.mu.RUnlock()
	if !ok {
		return
	}

	priceYes := raw
	if !info.isYes {
		priceYes = 1 - raw
	}

	f.bus.Publish(eventbus.Event{
		Kind: eventbus.KindPriceUpdate,
		PriceUpdate: &eventbus.PriceUpdatePayload{
			MarketID: info.marketID,
			PriceYes: priceYes,
			PriceNo:  1 - priceYes,
		},
	})
}

// pollHTTP is the periodic HTTP fallback poller: every HTTPPollInterval,
// fetch the venue's snapshot endpoint for each active market and
// synthesize a PriceUpdate exactly as the WebSocket would.
func (f *Feed) pollHTTP(ctx context.Context, activeMarkets func() []types.Market) {
	ticker := time.NewTicker(f.params.HTTPPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, m := range activeMarkets() {
				f.pollOne(ctx, m)
			}
		}
	}
}

func (f *Feed) pollOne(ctx context.Context, m types.Market) {
	yes, ok := m.YesToken()
	if !ok {
		return
	}

	var result struct {
		Price string `json:"price"`
	}
	resp, err := f.http.R().SetContext(ctx).SetQueryParam("token_id", yes).SetResult(&result).Get("/price")
	if err != nil || resp.IsError() {
		return
	}

	priceYes, err := parseFloat(result.Price)
	if err != nil || priceYes <= 0 || priceYes >= 1 {
		return
	}

	f.bus.Publish(eventbus.Event{
		Kind: eventbus.KindPriceUpdate,
		PriceUpdate: &eventbus.PriceUpdatePayload{
			MarketID: m.ID,
			PriceYes: priceYes,
			PriceNo:  1 - priceYes,
		},
	})
}

func parseFloat(s string) (float64, error) {
	var v float64
	_, err := fmt.Sscanf(s, "%g", &v)
	return v, err
}
