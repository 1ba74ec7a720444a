package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/apadron/bybit-scalp-bot/internal/exchange/bybit"
)

// Config is the full runtime configuration of the bot, loaded from the
// environment (optionally seeded from a .env file).
type Config struct {
	// Exchange credentials and environment.
	APIKey      string
	APISecret   string
	Environment bybit.Environment
	AccountType bybit.AccountType

	// Instrument.
	Symbol   string
	Category string
	Interval string // kline interval in minutes, e.g. "1"

	// Strategy parameters.
	RiskPerTrade     float64 // quote currency spent per entry
	TakeProfitPct    float64 // e.g. 0.3 means 0.3%
	StopLossPct      float64
	ATRMultiplier    float64 // >0 switches the stop to ATR-based
	MaxOpenDuration  time.Duration
	CooldownDuration time.Duration
	ADXThreshold     float64
	RSIThreshold     float64
	VolumeMultiplier float64

	// Feed behavior.
	FeedMode      string // "auto", "websocket", "rest"
	TickStaleness time.Duration
	BarStaleness  time.Duration

	// Outputs.
	JournalPath string
	ExcelPath   string
	MetricsAddr string
	LogLevel    string
	LogFile     string
}

// Load reads configuration from the environment. envFile, when non-empty
// and present, is loaded first without overriding already-set variables.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load env file %s: %w", envFile, err)
			}
		}
	}

	cfg := &Config{
		APIKey:      os.Getenv("BYBIT_API_KEY"),
		APISecret:   os.Getenv("BYBIT_API_SECRET"),
		Environment: parseEnvironment(os.Getenv("BYBIT_ENV")),
		AccountType: bybit.AccountType(strings.ToUpper(os.Getenv("BYBIT_ACCOUNT_TYPE"))),
		Symbol:      strings.ToUpper(os.Getenv("SYMBOL")),
		Category:    strings.ToLower(os.Getenv("CATEGORY")),
		Interval:    os.Getenv("KLINE_INTERVAL"),
		FeedMode:    strings.ToLower(os.Getenv("FEED_MODE")),
		JournalPath: os.Getenv("JOURNAL_PATH"),
		ExcelPath:   os.Getenv("EXCEL_PATH"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
		LogLevel:    strings.ToLower(os.Getenv("LOG_LEVEL")),
		LogFile:     os.Getenv("LOG_FILE"),
	}

	var err error
	if cfg.RiskPerTrade, err = envFloat("RISK_PER_TRADE", 10); err != nil {
		return nil, err
	}
	if cfg.TakeProfitPct, err = envFloat("TAKE_PROFIT_PCT", 0.3); err != nil {
		return nil, err
	}
	if cfg.StopLossPct, err = envFloat("STOP_LOSS_PCT", 0.5); err != nil {
		return nil, err
	}
	if cfg.ATRMultiplier, err = envFloat("ATR_SL_MULTIPLIER", 1.5); err != nil {
		return nil, err
	}
	if cfg.ADXThreshold, err = envFloat("ADX_THRESHOLD", 25); err != nil {
		return nil, err
	}
	if cfg.RSIThreshold, err = envFloat("RSI_THRESHOLD", 68); err != nil {
		return nil, err
	}
	if cfg.VolumeMultiplier, err = envFloat("VOLUME_MULTIPLIER", 1.2); err != nil {
		return nil, err
	}
	if cfg.MaxOpenDuration, err = envDuration("MAX_OPEN_DURATION", 20*time.Minute); err != nil {
		return nil, err
	}
	if cfg.CooldownDuration, err = envDuration("ENTRY_COOLDOWN", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.TickStaleness, err = envDuration("TICK_STALENESS", 8*time.Second); err != nil {
		return nil, err
	}
	if cfg.BarStaleness, err = envDuration("BAR_STALENESS", 70*time.Second); err != nil {
		return nil, err
	}

	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.AccountType == "" {
		c.AccountType = bybit.AccountTypeUnified
	}
	if c.Symbol == "" {
		c.Symbol = "BTCUSDT"
	}
	if c.Category == "" {
		c.Category = "spot"
	}
	if c.Interval == "" {
		c.Interval = "1"
	}
	if c.FeedMode == "" {
		c.FeedMode = "auto"
	}
	if c.JournalPath == "" {
		c.JournalPath = "trades.csv"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) validate() error {
	if c.APIKey == "" || c.APISecret == "" {
		return fmt.Errorf("BYBIT_API_KEY and BYBIT_API_SECRET are required")
	}
	if c.Category != "spot" {
		return fmt.Errorf("unsupported category %q: only spot is supported", c.Category)
	}
	switch c.FeedMode {
	case "auto", "websocket", "rest":
	default:
		return fmt.Errorf("invalid FEED_MODE %q: must be auto, websocket or rest", c.FeedMode)
	}
	if c.RiskPerTrade <= 0 {
		return fmt.Errorf("RISK_PER_TRADE must be positive, got %v", c.RiskPerTrade)
	}
	if c.TakeProfitPct <= 0 || c.StopLossPct <= 0 {
		return fmt.Errorf("take profit and stop loss percentages must be positive")
	}
	if c.MaxOpenDuration <= 0 {
		return fmt.Errorf("MAX_OPEN_DURATION must be positive, got %v", c.MaxOpenDuration)
	}
	return nil
}

// WSEndpoint returns the public spot stream URL for the environment. Demo
// trading has no public stream of its own; mainnet data is used there.
func (c *Config) WSEndpoint() string {
	if c.Environment == bybit.EnvTestnet {
		return "wss://stream-testnet.bybit.com/v5/public/spot"
	}
	return "wss://stream.bybit.com/v5/public/spot"
}

// IsDemo reports whether the bot runs against the demo environment.
func (c *Config) IsDemo() bool {
	return c.Environment == bybit.EnvDemo
}

func parseEnvironment(s string) bybit.Environment {
	switch strings.ToUpper(s) {
	case "PROD", "MAINNET", "LIVE":
		return bybit.EnvMainnet
	case "TESTNET":
		return bybit.EnvTestnet
	default:
		return bybit.EnvDemo
	}
}

func envFloat(name string, fallback float64) (float64, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", name, raw, err)
	}
	return v, nil
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", name, raw, err)
	}
	return d, nil
}
