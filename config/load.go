package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env         string            `yaml:"env"`
	Venue       VenueConfig       `yaml:"venue"`
	Instruments InstrumentsConfig `yaml:"instruments"`
	Risk        RiskConfig        `yaml:"risk"`
	Orders      OrdersConfig      `yaml:"orders"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Engine      EngineConfig      `yaml:"engine"`
	Logging     LoggingConfig     `yaml:"logging"`
	MetricsAddr string            `yaml:"metricsAddr"`
}

type VenueConfig struct {
	BaseURL    string   `yaml:"baseURL"`
	APIKey     string   `yaml:"apiKey"`
	Currencies []string `yaml:"currencies"` // tickers excluded from positions
	RestRate   float64  `yaml:"restRate"`   // token bucket refill per second
	RestBurst  int      `yaml:"restBurst"`
}

type InstrumentsConfig struct {
	Stocks     []string `yaml:"stocks"`
	ETFs       []string `yaml:"etfs"`
	PrimaryETF string   `yaml:"primaryETF"` // the ETF leg the signal trades
}

type RiskConfig struct {
	MaxLongExposure  int     `yaml:"maxLongExposure"`
	MaxShortExposure int     `yaml:"maxShortExposure"`
	StopLossAlpha    float64 `yaml:"stopLossAlpha"`
}

type OrdersConfig struct {
	StockOrderCap     int `yaml:"stockOrderCap"`
	ETFOrderCap       int `yaml:"etfOrderCap"`
	MaxRetries        int `yaml:"maxRetries"`
	RetryWaitMs       int `yaml:"retryWaitMs"`
	ConfirmIntervalMs int `yaml:"confirmIntervalMs"`
	ConfirmTimeoutMs  int `yaml:"confirmTimeoutMs"`
	CancelAttempts    int `yaml:"cancelAttempts"`
}

type StrategyConfig struct {
	Threshold     float64 `yaml:"threshold"`
	TradeSize     int     `yaml:"tradeSize"`
	RollingWindow int     `yaml:"rollingWindow"`
}

type EngineConfig struct {
	IntervalMs int `yaml:"intervalMs"`
}

type LoggingConfig struct {
	Level        string `yaml:"level"`  // debug, info, warn, error
	Format       string `yaml:"format"` // json or console
	ActivityFile string `yaml:"activityFile"`
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env
// vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("VENUE_API_KEY"); v != "" {
		cfg.Venue.APIKey = v
	}
	if v := os.Getenv("VENUE_BASE_URL"); v != "" {
		cfg.Venue.BaseURL = v
	}
	return cfg, Validate(cfg)
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Venue.RestRate <= 0 {
		cfg.Venue.RestRate = 5
	}
	if cfg.Venue.RestBurst <= 0 {
		cfg.Venue.RestBurst = 10
	}
	if len(cfg.Venue.Currencies) == 0 {
		cfg.Venue.Currencies = []string{"CAD", "USD"}
	}
	if cfg.Risk.StopLossAlpha <= 0 {
		cfg.Risk.StopLossAlpha = 2
	}
	if cfg.Orders.StockOrderCap <= 0 {
		cfg.Orders.StockOrderCap = 5_000
	}
	if cfg.Orders.ETFOrderCap <= 0 {
		cfg.Orders.ETFOrderCap = 10_000
	}
	if cfg.Orders.MaxRetries <= 0 {
		cfg.Orders.MaxRetries = 3
	}
	if cfg.Orders.RetryWaitMs <= 0 {
		cfg.Orders.RetryWaitMs = 10
	}
	if cfg.Orders.ConfirmIntervalMs <= 0 {
		cfg.Orders.ConfirmIntervalMs = 100
	}
	if cfg.Orders.ConfirmTimeoutMs <= 0 {
		cfg.Orders.ConfirmTimeoutMs = 5_000
	}
	if cfg.Orders.CancelAttempts <= 0 {
		cfg.Orders.CancelAttempts = 3
	}
	if cfg.Strategy.Threshold <= 0 {
		cfg.Strategy.Threshold = 0.2
	}
	if cfg.Strategy.TradeSize <= 0 {
		cfg.Strategy.TradeSize = 1_000
	}
	if cfg.Strategy.RollingWindow <= 0 {
		cfg.Strategy.RollingWindow = 500
	}
	if cfg.Engine.IntervalMs <= 0 {
		cfg.Engine.IntervalMs = 1_000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Instruments.PrimaryETF == "" && len(cfg.Instruments.ETFs) > 0 {
		cfg.Instruments.PrimaryETF = cfg.Instruments.ETFs[0]
	}
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Venue.BaseURL == "" {
		return errors.New("venue.baseURL is required")
	}
	if cfg.Venue.APIKey == "" {
		return errors.New("venue.apiKey is required (or VENUE_API_KEY)")
	}
	if len(cfg.Instruments.Stocks) == 0 {
		return errors.New("instruments.stocks is required")
	}
	if len(cfg.Instruments.ETFs) == 0 {
		return errors.New("instruments.etfs is required")
	}
	found := false
	for _, etf := range cfg.Instruments.ETFs {
		if etf == cfg.Instruments.PrimaryETF {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("instruments.primaryETF %q not in instruments.etfs", cfg.Instruments.PrimaryETF)
	}
	if cfg.Risk.MaxLongExposure <= 0 {
		return errors.New("risk.maxLongExposure must be > 0")
	}
	if cfg.Risk.MaxShortExposure <= 0 {
		return errors.New("risk.maxShortExposure must be > 0")
	}
	return nil
}
