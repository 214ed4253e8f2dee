// Package executor implements the paper executor: given an approved
// order, it simulates a fill at the order's quoted price, records a
// Trade row, and emits an execution:result event. Grounded on the
// client's dryRun short-circuit (simulate success without touching the
// network) but generalized from "one branch of a real client" into the
// engine's only execution path — this system never places real orders
// (see spec.md §1 Non-goals), so there is no live branch to fall back to.
package executor

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ladder-engine/internal/eventbus"
	"ladder-engine/internal/metrics"
	"ladder-engine/pkg/types"
)

// usdcDecimals is Polymarket's USDC collateral precision: amounts are
// rounded to 6 decimal places before they're recorded, so repeated
// paper fills don't accumulate float64 division noise.
const usdcDecimals = 6

func roundUSDC(v float64) float64 {
	out, _ := decimal.NewFromFloat(v).Round(usdcDecimals).Float64()
	return out
}

// Fill is the result of simulating an order.
type Fill struct {
	Trade  types.TradeRecord
	Shares float64
}

// Executor simulates fills for approved orders. Failures are never
// simulated in paper mode: every submitted order fills completely at
// its quoted price.
type Executor struct {
	bus    *eventbus.Bus
	logger *slog.Logger
}

// New creates a paper executor.
func New(bus *eventbus.Bus, logger *slog.Logger) *Executor {
	return &Executor{bus: bus, logger: logger.With("component", "executor")}
}

// Execute simulates a fill for order at now, publishing execution:result
// and returning the Fill so the caller can update the risk book and
// persist the trade.
func (e *Executor) Execute(order types.ProposedOrder, now time.Time) Fill {
	var shares float64
	if order.IsExit {
		shares = order.ExitShares
	} else if order.Price > 0 {
		shares = order.SizeUSDC / order.Price
	}
	shares = roundUSDC(shares)

	trade := types.TradeRecord{
		ID:             uuid.NewString(),
		MarketID:       order.MarketID,
		Side:           order.Side,
		IsExit:         order.IsExit,
		Price:          order.Price,
		SizeUSDC:       order.SizeUSDC,
		Shares:         shares,
		Strategy:       order.Strategy,
		StrategyDetail: order.StrategyDetail,
		Status:         "filled",
		Timestamp:      now,
	}

	e.logger.Info("simulated fill",
		"market", order.MarketID, "side", order.Side, "price", order.Price,
		"usdc", order.SizeUSDC, "shares", shares, "exit", order.IsExit, "strategy", order.Strategy)

	metrics.OrdersExecutedTotal.WithLabelValues(string(order.Strategy)).Inc()

	e.bus.Publish(eventbus.Event{
		Kind:            eventbus.KindExecutionResult,
		ExecutionResult: &eventbus.ExecutionResultPayload{MarketID: order.MarketID, Trade: trade},
	})

	return Fill{Trade: trade, Shares: shares}
}
