// Package eventbus is an in-process publish/subscribe bus for the typed
// event variants the orchestrator and its producers exchange: price
// updates, copy-trade signals, market-batch refreshes, WS status, and
// portfolio snapshots. The source this design is drawn from used an
// untyped bus; this one uses a single sum type with one dispatch point,
// per the project's own design notes.
package eventbus

import (
	"sync"

	"ladder-engine/pkg/types"
)

// Kind discriminates the Event union.
type Kind int

const (
	KindPriceUpdate Kind = iota
	KindCopySignal
	KindMarketFiltered
	KindWSStatus
	KindPortfolioUpdate
	KindStrategyEvent
	KindExecutionResult
)

// Event is a typed sum: exactly one of the pointer fields matching Kind
// is non-nil. Callers switch on Kind rather than probing fields.
type Event struct {
	Kind Kind

	PriceUpdate     *PriceUpdatePayload
	CopySignal      *CopySignalPayload
	MarketFiltered  *MarketFilteredPayload
	WSStatus        *WSStatusPayload
	PortfolioUpdate *PortfolioUpdatePayload
	StrategyEvent   *StrategyEventPayload
	ExecutionResult *ExecutionResultPayload
}

// ExecutionResultPayload carries a simulated fill out of the paper
// executor to any bus subscriber. Trade rows are persisted by the
// orchestrator from the returned Fill, not by a subscriber.
type ExecutionResultPayload struct {
	MarketID string
	Trade    types.TradeRecord
}

type PriceUpdatePayload struct {
	MarketID string
	PriceYes float64
	PriceNo  float64
}

type CopySignalPayload struct {
	MarketID string
	Trader   string
	Price    float64
	Strategy types.CopySignalType
}

type MarketFilteredPayload struct {
	SurvivorCount int
}

type WSStatusPayload struct {
	Connected bool
	Reason    string
}

type PortfolioUpdatePayload struct {
	TotalValue  float64
	CashBalance float64
}

type StrategyEventPayload struct {
	MarketID string
	Regime   string
	Strategy string
	Action   string
}

// Bus is a fan-out publisher: every subscriber receives every event on
// its own buffered channel. A slow subscriber drops events rather than
// blocking the publisher (the dashboard, the only out-of-process
// subscriber in scope, tolerates gaps).
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subscribers: make(map[int]chan Event)}
}

// Subscribe registers a new listener with the given buffer size and
// returns the channel plus an unsubscribe function.
func (b *Bus) Subscribe(bufSize int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, bufSize)
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(c)
		}
	}
	return ch, unsubscribe
}

// Publish fans an event out to every subscriber, non-blocking: a full
// subscriber channel drops the event instead of stalling the publisher.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}
