// Ladder Engine — a paper-trading bot for binary prediction markets
// that ladders into a position as consensus builds, averages down on
// drawdowns before a market's game/event starts, and manages exits
// through a profit-take/moon-bag/thesis-stop precedence chain.
//
// Architecture:
//
//	main.go                  — entry point: loads config, wires every
//	                            component, starts the orchestrator, waits
//	                            for SIGINT/SIGTERM
//	internal/orchestrator    — per-market state map, decision pipeline,
//	                            periodic resolution/P&L/refresh loops
//	internal/regime          — classifies a market's pricing dynamics
//	internal/ladder          — ladder entries, DCA, tail insurance
//	internal/exit            — pre-game stop, consensus break, profit take
//	internal/risk            — ordered pre-trade gate, position/cash book
//	internal/executor        — paper fill simulation
//	internal/pricefeed       — WebSocket price stream + HTTP fallback poll
//	internal/loader          — catalog fetch, filter, dedupe, ranking
//	internal/copytrade       — tracked-wallet activity polling and bands
//	internal/store           — relational persistence (MySQL or in-memory)
//	internal/metrics         — Prometheus counters and the /metrics server
//
// This engine never places a real order: the executor always simulates
// fills (see internal/executor), regardless of Config.Mode.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ladder-engine/internal/config"
	"ladder-engine/internal/copytrade"
	"ladder-engine/internal/eventbus"
	"ladder-engine/internal/executor"
	"ladder-engine/internal/exit"
	"ladder-engine/internal/ladder"
	"ladder-engine/internal/loader"
	"ladder-engine/internal/metrics"
	"ladder-engine/internal/orchestrator"
	"ladder-engine/internal/pricefeed"
	"ladder-engine/internal/regime"
	"ladder-engine/internal/risk"
	"ladder-engine/internal/store"
	"ladder-engine/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("LADDER_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	st, err := openStore(cfg.Store)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	bus := eventbus.New()
	gate := risk.New(risk.Params{
		MaxActivePositions:   cfg.Risk.MaxActivePositions,
		MaxSingleOrderPct:    cfg.Ladder.MaxSingleOrderPct,
		MaxMarketExposurePct: cfg.Ladder.MaxMarketExposurePct,
		Bankroll:             cfg.Bankroll,
		RateLimitPerMarket:   cfg.Risk.RateLimitPerMarket,
		RateLimitWindow:      cfg.Risk.RateLimitWindow,
		PositionEpsilon:      1e-4,
	}, logger)
	restoreRiskBook(gate, st, cfg.Bankroll, logger)

	exec := executor.New(bus, logger)

	feed := pricefeed.New(pricefeed.Params{
		URL:              cfg.WS.URL,
		PingInterval:     cfg.WS.PingInterval,
		ReconnectDelay:   cfg.WS.ReconnectDelay,
		MaxReconnectWait: cfg.WS.MaxReconnectWait,
		MaxAttempts:      cfg.WS.MaxAttempts,
		HTTPPollInterval: cfg.WS.HTTPPollInterval,
		HTTPBaseURL:      cfg.API.CLOBBaseURL,
		HTTPTimeout:      cfg.API.HTTPTimeout,
	}, bus, logger)

	ld := loader.New(cfg.API.CatalogBaseURL, cfg.API.HTTPTimeout, loader.Params{
		PageSize:                 cfg.Scanner.PageSize,
		SafetyCap:                cfg.Scanner.SafetyCap,
		TopN:                     cfg.Scanner.TopN,
		MaxTimeToResolutionHours: cfg.Scanner.MaxTimeToResolutionHours,
		MinVolume24h:             cfg.Scanner.MinVolume24h,
		MinLiquidity:             cfg.Scanner.MinLiquidity,
		AllowedCategories:        cfg.Scanner.AllowedCategories,
		ExcludedCategories:       cfg.Scanner.ExcludedCategories,
		SportsKeywords:           cfg.Scanner.SportsKeywords,
		ExpectedValueCenter:      cfg.Scanner.ExpectedValueCenter,
	}, logger)

	standardBandMin := cfg.Ladder.Levels[0]
	det := copytrade.New(copytrade.Params{
		PollInterval:    cfg.CopyTrade.PollInterval,
		TrackedWallets:  cfg.CopyTrade.TrackedWallets,
		LotteryEnabled:  cfg.CopyTrade.LotteryEnabled,
		LotteryMaxPrice: cfg.CopyTrade.LotteryMaxPrice,
		StandardBandMin: standardBandMin,
		StandardBandMax: cfg.CopyTrade.StandardBandMax,
		HTTPBaseURL:     cfg.API.DataBaseURL,
		HTTPTimeout:     cfg.API.HTTPTimeout,
	}, bus, logger)

	orch := orchestrator.New(buildOrchestratorParams(*cfg), bus, st, gate, exec, feed, ld, det, logger)

	var metricsServer *metrics.Server
	if cfg.Dashboard.Enabled {
		metricsServer = metrics.NewServer(fmt.Sprintf(":%d", cfg.Dashboard.Port))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- orch.Start(ctx) }()
	if metricsServer != nil {
		go func() { errCh <- metricsServer.Run(ctx) }()
		logger.Info("metrics server started", "addr", fmt.Sprintf("http://localhost:%d/metrics", cfg.Dashboard.Port))
	}

	logger.Info("ladder engine started", "mode", cfg.Mode, "bankroll", cfg.Bankroll, "store_driver", cfg.Store.Driver)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("component exited unexpectedly", "error", err)
		}
	}

	cancel()
	// Drain the remaining goroutine's exit so shutdown doesn't race the
	// deferred store Close.
	select {
	case <-errCh:
	case <-time.After(10 * time.Second):
		logger.Warn("timed out waiting for clean shutdown")
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMem(), nil
	case "mysql", "":
		return store.OpenGorm(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// restoreRiskBook seeds the risk gate from persisted bot config (cash
// balance / locked profits) and every saved non-flat position. The bot
// config row is not written during a run, so cash resumes from that row
// if one exists, otherwise from the configured bankroll.
func restoreRiskBook(gate *risk.Gate, st store.Store, bankroll float64, logger *slog.Logger) {
	book := types.RiskBook{CashBalance: bankroll}
	if saved, err := st.LoadBotConfig(); err != nil {
		logger.Warn("failed to load bot config, starting with configured bankroll", "error", err)
	} else if saved != nil {
		book = types.RiskBook{CashBalance: saved.Bankroll, ProtectedProfits: saved.LockedProfits}
	}

	positions := make(map[string]*types.Position)
	rows, err := st.Positions()
	if err != nil {
		logger.Warn("failed to load persisted positions", "error", err)
	}
	for i := range rows {
		if !rows[i].IsFlat(1e-4) {
			positions[rows[i].MarketID] = &rows[i]
		}
	}

	gate.Restore(book, positions)
}

// buildOrchestratorParams derives the pure decision-pipeline parameter
// bundles the orchestrator needs from the loaded config, once, at
// startup.
func buildOrchestratorParams(cfg config.Config) orchestrator.Params {
	return orchestrator.Params{
		Regime: regime.Params{
			LateResolutionWindow: time.Duration(cfg.Ladder.LateResolutionHours * float64(time.Hour)),
			LateCompressedPrice:  cfg.Ladder.LateCompressedPrice,
			VolatilityWindow:     cfg.Ladder.VolatilityWindow,
			VolatilityThreshold:  cfg.Ladder.VolatilityThreshold,
			EarlyUncertainMin:    cfg.Ladder.EarlyUncertainMin,
			EarlyUncertainMax:    cfg.Ladder.EarlyUncertainMax,
		},
		Entry: ladder.Params{
			Levels:               cfg.Ladder.Levels,
			Weights:              cfg.Ladder.Weights,
			MaxBuyPrice:          cfg.Ladder.MaxBuyPrice,
			MaxMarketExposurePct: cfg.Ladder.MaxMarketExposurePct,
			Bankroll:             cfg.Bankroll,
		},
		DCA: ladder.DCAParams{
			FirstLevel:           cfg.Ladder.Levels[0],
			MaxDCABuys:           cfg.Ladder.MaxDCABuys,
			MaxMarketExposurePct: cfg.Ladder.MaxMarketExposurePct,
			Bankroll:             cfg.Bankroll,
		},
		Tail: ladder.TailInsuranceParams{
			TailPriceThreshold: cfg.Ladder.TailPriceThreshold,
			TailExposurePct:    cfg.Ladder.TailExposurePct,
			Bankroll:           cfg.Bankroll,
		},
		Exit: exit.Params{
			FirstLevel:          cfg.Ladder.Levels[0],
			ConfirmationWindow:  cfg.Ladder.ConfirmationWindow,
			CooldownDuration:    cfg.Ladder.CooldownDuration,
			ResolutionThreshold: cfg.Ladder.ResolutionThreshold,
			TakeProfitPct:       cfg.Ladder.TakeProfitPct,
			MoonBagDropPct:      cfg.Ladder.MoonBagDropPct,
		},
		Bankroll:              cfg.Bankroll,
		MarketRefreshInterval: cfg.Scanner.PollInterval,
		PnlSnapshotInterval:   cfg.PnlSnapshotInterval,
	}
}
