// Package config defines all configuration for the ladder-trading engine.
// Config is loaded from a YAML file (default: configs/config.yaml), with
// an optional local .env overlay and environment-variable overrides for
// operationally hot or sensitive fields.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Mode selects whether orders are simulated (the only mode this engine
// actually executes) or would be routed live. LIVE is accepted by
// Validate but the executor always runs in paper mode: this system
// never places a real order (see executor.Executor).
type Mode string

const (
	ModePaper Mode = "PAPER"
	ModeLive  Mode = "LIVE"
)

// Config is the top-level configuration. Maps directly to the YAML file.
type Config struct {
	Mode      Mode            `mapstructure:"mode"`
	Bankroll  float64         `mapstructure:"bankroll"`
	Ladder    LadderConfig    `mapstructure:"ladder"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	CopyTrade CopyTradeConfig `mapstructure:"copy_trade"`
	API       APIConfig       `mapstructure:"api"`
	WS        WSConfig        `mapstructure:"ws"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`

	// PnlSnapshotInterval paces the orchestrator's periodic portfolio
	// snapshot write; the resolution sweep and ladder/DCA/exit pipeline
	// run on their own fixed or scanner-derived cadences.
	PnlSnapshotInterval time.Duration `mapstructure:"pnl_snapshot_interval"`
}

// LadderConfig tunes the ladder/DCA/exit decision pipeline.
//
//   - Levels: ascending price thresholds that release sizing tranches.
//   - Weights: confidence weights per level, summing to ~1.
//   - MaxBuyPrice: ceiling above which no ladder entry fires.
//   - MaxMarketExposurePct / MaxSingleOrderPct: sizing caps, as a
//     fraction of Bankroll.
//   - TakeProfitPct: unrealized-profit threshold that creates a moon bag.
//   - MoonBagDropPct: trailing drop from the moon-bag activation price
//     that triggers a full close.
//   - ConfirmationWindow: how long a consensus break must persist before
//     it is confirmed (and the position is thesis-stopped).
//   - CooldownDuration: lockout after a pre-game stop before another
//     pre-game stop may fire on the same market (other exits still run).
//   - ResolutionThreshold: held-side price at or above which a position
//     is treated as resolved and fully exited.
//   - MaxDCABuys: per-market cap on DCA tranches (default 2).
//   - TailPriceThreshold / TailExposurePct: tail-insurance trigger.
type LadderConfig struct {
	Levels              []float64     `mapstructure:"levels"`
	Weights             []float64     `mapstructure:"weights"`
	MaxBuyPrice          float64      `mapstructure:"max_buy_price"`
	MaxMarketExposurePct float64      `mapstructure:"max_market_exposure_pct"`
	MaxSingleOrderPct    float64      `mapstructure:"max_single_order_pct"`
	TakeProfitPct        float64      `mapstructure:"take_profit_pct"`
	MoonBagDropPct       float64      `mapstructure:"moon_bag_drop_pct"`
	ConfirmationWindow   time.Duration `mapstructure:"confirmation_window"`
	CooldownDuration     time.Duration `mapstructure:"cooldown_duration"`
	ResolutionThreshold  float64      `mapstructure:"resolution_threshold"`
	MaxDCABuys           int          `mapstructure:"max_dca_buys"`
	TailPriceThreshold   float64      `mapstructure:"tail_price_threshold"`
	TailExposurePct      float64      `mapstructure:"tail_exposure_pct"`

	VolatilityWindow    time.Duration `mapstructure:"volatility_window"`
	VolatilityThreshold float64       `mapstructure:"volatility_threshold"`
	LateResolutionHours float64       `mapstructure:"late_resolution_hours"`
	LateCompressedPrice float64       `mapstructure:"late_compressed_price_threshold"`
	EarlyUncertainMin   float64       `mapstructure:"early_uncertain_price_min"`
	EarlyUncertainMax   float64       `mapstructure:"early_uncertain_price_max"`
}

// RiskConfig sets the ordered risk-gate limits and the in-memory risk
// book's starting point.
type RiskConfig struct {
	MaxActivePositions int `mapstructure:"max_active_positions"`
	RateLimitPerMarket int `mapstructure:"rate_limit_per_market"` // orders / window
	RateLimitWindow    time.Duration `mapstructure:"rate_limit_window"`
}

// ScannerConfig controls market-loader discovery and filtering.
type ScannerConfig struct {
	PollInterval          time.Duration `mapstructure:"poll_interval"`
	PageSize              int           `mapstructure:"page_size"`
	SafetyCap             int           `mapstructure:"safety_cap"`
	TopN                  int           `mapstructure:"top_n"`
	MaxTimeToResolutionHours float64    `mapstructure:"max_time_to_resolution_hours"`
	MinVolume24h          float64       `mapstructure:"min_volume_24h"`
	MinLiquidity          float64       `mapstructure:"min_liquidity"`
	AllowedCategories     []string      `mapstructure:"allowed_categories"`
	ExcludedCategories    []string      `mapstructure:"excluded_categories"`
	SportsKeywords        []string      `mapstructure:"sports_keywords"`
	ExpectedValueCenter   float64       `mapstructure:"expected_value_center"`
}

// CopyTradeConfig controls the copy-trade detector's poll cadence and
// tracked wallets.
type CopyTradeConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	TrackedWallets []string      `mapstructure:"tracked_wallets"`
	LotteryEnabled bool          `mapstructure:"lottery_enabled"`
	LotteryMaxPrice float64      `mapstructure:"lottery_max_price"`
	StandardBandMax float64      `mapstructure:"standard_band_max"`
}

// APIConfig holds upstream HTTP/WS endpoints (external collaborators,
// specified only by interface per spec.md §1).
type APIConfig struct {
	CatalogBaseURL string        `mapstructure:"catalog_base_url"`
	CLOBBaseURL    string        `mapstructure:"clob_base_url"`
	DataBaseURL    string        `mapstructure:"data_base_url"`
	HTTPTimeout    time.Duration `mapstructure:"http_timeout"`
}

// WSConfig tunes the price feed's WebSocket client.
type WSConfig struct {
	URL              string        `mapstructure:"url"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectWait time.Duration `mapstructure:"max_reconnect_wait"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	HTTPPollInterval time.Duration `mapstructure:"http_poll_interval"`
}

// StoreConfig selects and connects the relational store backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // "mysql" or "memory"
	DSN    string `mapstructure:"dsn"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the out-of-core-scope dashboard server; the
// engine only checks Enabled to decide whether to expose the internal
// health/metrics endpoint (see internal/metrics).
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads config from a YAML file with env var overrides. A sibling
// .env file is loaded first (if present) so its values are visible to
// viper's AutomaticEnv.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("LADDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if m := os.Getenv("LADDER_MODE"); m != "" {
		cfg.Mode = Mode(m)
	}
	if b := os.Getenv("LADDER_BANKROLL"); b != "" {
		fmt.Sscanf(b, "%f", &cfg.Bankroll)
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges, collecting
// every failure rather than stopping at the first.
func (c *Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModePaper, ModeLive:
	default:
		errs = append(errs, fmt.Errorf("mode must be PAPER or LIVE, got %q", c.Mode))
	}
	if c.Bankroll <= 0 {
		errs = append(errs, errors.New("bankroll must be > 0"))
	}
	if len(c.Ladder.Levels) == 0 {
		errs = append(errs, errors.New("ladder.levels must be non-empty"))
	}
	if len(c.Ladder.Levels) != len(c.Ladder.Weights) {
		errs = append(errs, errors.New("ladder.levels and ladder.weights must be the same length"))
	}
	var weightSum float64
	for _, w := range c.Ladder.Weights {
		weightSum += w
	}
	if len(c.Ladder.Weights) > 0 && (weightSum < 0.99 || weightSum > 1.01) {
		errs = append(errs, fmt.Errorf("ladder.weights must sum to ~1, got %.4f", weightSum))
	}
	for i := 1; i < len(c.Ladder.Levels); i++ {
		if c.Ladder.Levels[i] <= c.Ladder.Levels[i-1] {
			errs = append(errs, errors.New("ladder.levels must be strictly ascending"))
			break
		}
	}
	if c.Ladder.MaxMarketExposurePct <= 0 || c.Ladder.MaxMarketExposurePct > 1 {
		errs = append(errs, errors.New("ladder.max_market_exposure_pct must be in (0,1]"))
	}
	if c.Ladder.MaxSingleOrderPct <= 0 || c.Ladder.MaxSingleOrderPct > 1 {
		errs = append(errs, errors.New("ladder.max_single_order_pct must be in (0,1]"))
	}
	if c.Risk.MaxActivePositions <= 0 {
		errs = append(errs, errors.New("risk.max_active_positions must be > 0"))
	}
	if c.Risk.RateLimitPerMarket <= 0 {
		errs = append(errs, errors.New("risk.rate_limit_per_market must be > 0"))
	}
	if c.API.CatalogBaseURL == "" {
		errs = append(errs, errors.New("api.catalog_base_url is required"))
	}
	if c.API.CLOBBaseURL == "" {
		errs = append(errs, errors.New("api.clob_base_url is required"))
	}
	if c.WS.URL == "" {
		errs = append(errs, errors.New("ws.url is required"))
	}

	return errors.Join(errs...)
}
