package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"sorare-trading-bot/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Marketplace MarketplaceConfig `mapstructure:"marketplace"`
	Ethereum    EthereumConfig    `mapstructure:"ethereum"`
	Trading     TradingConfig     `mapstructure:"trading"`
	Spending    SpendingConfig    `mapstructure:"spending"`
	Emergency   EmergencyConfig   `mapstructure:"emergency"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Priority    PriorityConfig    `mapstructure:"priority"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Status      StatusConfig      `mapstructure:"status"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and tunes the persistence backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// MarketplaceConfig covers the GraphQL marketplace API.
type MarketplaceConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIToken          string        `mapstructure:"api_token"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	UserAgent         string        `mapstructure:"user_agent"`
}

// EthereumConfig covers on-chain reads for the trading wallet.
type EthereumConfig struct {
	RPCURL            string          `mapstructure:"rpc_url"`
	WalletAddress     string          `mapstructure:"wallet_address"`
	CardsContract     string          `mapstructure:"cards_contract"`
	RequestTimeout    time.Duration   `mapstructure:"request_timeout"`
	LowBalanceWarning decimal.Decimal `mapstructure:"low_balance_warning"`
}

// TradingConfig holds the price rules.
type TradingConfig struct {
	DiscountFraction       decimal.Decimal `mapstructure:"discount_fraction"`
	Markup                 decimal.Decimal `mapstructure:"markup"`
	CounterOfferFloor      decimal.Decimal `mapstructure:"counter_offer_floor"`
	MaxTransactionsPerHour int             `mapstructure:"max_transactions_per_hour"`
	HistoryWindow          int             `mapstructure:"history_window"`
}

// SpendingConfig holds the budget ceilings in ETH.
type SpendingConfig struct {
	MaxSingle             decimal.Decimal `mapstructure:"max_single"`
	MaxDaily              decimal.Decimal `mapstructure:"max_daily"`
	MaxWeekly             decimal.Decimal `mapstructure:"max_weekly"`
	HighValueThreshold    decimal.Decimal `mapstructure:"high_value_threshold"`
	ApprovalMode          string          `mapstructure:"approval_mode"`
	RequireApprovalPolicy bool            `mapstructure:"require_approval_policy"`
}

// EmergencyConfig locates the kill switch marker files.
type EmergencyConfig struct {
	Dir          string        `mapstructure:"dir"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// SchedulerConfig governs cycle cadence.
type SchedulerConfig struct {
	StandardInterval     time.Duration `mapstructure:"standard_interval"`
	HighPriorityInterval time.Duration `mapstructure:"high_priority_interval"`
	OffersInterval       time.Duration `mapstructure:"offers_interval"`
	StandardDelay        time.Duration `mapstructure:"standard_delay"`
	HighPriorityDelay    time.Duration `mapstructure:"high_priority_delay"`
	OffersDelay          time.Duration `mapstructure:"offers_delay"`
	Workers              int           `mapstructure:"workers"`
	CycleTimeout         time.Duration `mapstructure:"cycle_timeout"`
}

// PriorityConfig locates the high-priority players file.
type PriorityConfig struct {
	File string `mapstructure:"file"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot channel.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// StatusConfig controls the read-only status endpoint.
type StatusConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxRows int `mapstructure:"max_rows"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SORAREBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "sorarebot")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.max_size_mb", 10)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age_days", 28)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./sorarebot.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", int64(0x534f5241))

	v.SetDefault("marketplace.base_url", "https://api.sorare.com/graphql")
	v.SetDefault("marketplace.request_timeout", "30s")
	v.SetDefault("marketplace.requests_per_second", 2.0)
	v.SetDefault("marketplace.burst", 2)

	v.SetDefault("ethereum.request_timeout", "10s")
	v.SetDefault("ethereum.low_balance_warning", "0.1")

	v.SetDefault("trading.discount_fraction", "0.15")
	v.SetDefault("trading.markup", "1.05")
	v.SetDefault("trading.counter_offer_floor", "0.95")
	v.SetDefault("trading.max_transactions_per_hour", 5)
	v.SetDefault("trading.history_window", 5)

	v.SetDefault("spending.max_single", "0.5")
	v.SetDefault("spending.max_daily", "1")
	v.SetDefault("spending.max_weekly", "3")
	v.SetDefault("spending.high_value_threshold", "0.25")
	v.SetDefault("spending.approval_mode", "none")
	v.SetDefault("spending.require_approval_policy", false)

	v.SetDefault("emergency.dir", "./security/emergency")
	v.SetDefault("emergency.poll_interval", "5s")

	v.SetDefault("scheduler.standard_interval", "5m")
	v.SetDefault("scheduler.high_priority_interval", "15m")
	v.SetDefault("scheduler.offers_interval", "30m")
	v.SetDefault("scheduler.standard_delay", "0s")
	v.SetDefault("scheduler.high_priority_delay", "1m")
	v.SetDefault("scheduler.offers_delay", "2m")
	v.SetDefault("scheduler.workers", 3)
	v.SetDefault("scheduler.cycle_timeout", "4m")

	v.SetDefault("priority.file", "./data/high_priority_players.txt")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("status.enabled", false)
	v.SetDefault("status.listen_addr", "127.0.0.1:9108")

	v.SetDefault("export.max_rows", 10000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToDecimalHookFunc(),
		)
	}
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// stringToDecimalHookFunc converts yaml scalars and env strings into decimal values.
func stringToDecimalHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decimalType {
			return data, nil
		}
		switch value := data.(type) {
		case string:
			trimmed := strings.TrimSpace(value)
			if trimmed == "" {
				return decimal.Zero, nil
			}
			parsed, err := decimal.NewFromString(trimmed)
			if err != nil {
				return nil, fmt.Errorf("parse decimal %q: %w", value, err)
			}
			return parsed, nil
		case float64:
			return decimal.NewFromFloat(value), nil
		case float32:
			return decimal.NewFromFloat32(value), nil
		case int:
			return decimal.NewFromInt(int64(value)), nil
		case int64:
			return decimal.NewFromInt(value), nil
		case decimal.Decimal:
			return value, nil
		default:
			return data, nil
		}
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}

	one := decimal.NewFromInt(1)
	if !c.Trading.DiscountFraction.IsPositive() || c.Trading.DiscountFraction.GreaterThanOrEqual(one) {
		return fmt.Errorf("trading.discount_fraction must be in (0, 1)")
	}
	if !c.Trading.Markup.IsPositive() {
		return fmt.Errorf("trading.markup must be greater than zero")
	}
	if !c.Trading.CounterOfferFloor.IsPositive() {
		return fmt.Errorf("trading.counter_offer_floor must be greater than zero")
	}
	if c.Trading.MaxTransactionsPerHour <= 0 {
		return fmt.Errorf("trading.max_transactions_per_hour must be greater than zero")
	}
	if c.Trading.HistoryWindow < 1 || c.Trading.HistoryWindow > 5 {
		return fmt.Errorf("trading.history_window must be between 1 and 5")
	}

	if !c.Spending.MaxSingle.IsPositive() || !c.Spending.MaxDaily.IsPositive() || !c.Spending.MaxWeekly.IsPositive() {
		return fmt.Errorf("spending ceilings must be greater than zero")
	}
	if c.Spending.HighValueThreshold.IsNegative() {
		return fmt.Errorf("spending.high_value_threshold cannot be negative")
	}
	switch strings.ToLower(c.Spending.ApprovalMode) {
	case "none", "deny":
	default:
		return fmt.Errorf("spending.approval_mode must be none or deny, got %q", c.Spending.ApprovalMode)
	}

	if c.Emergency.Dir == "" {
		return fmt.Errorf("emergency.dir is required")
	}
	if c.Emergency.PollInterval <= 0 {
		return fmt.Errorf("emergency.poll_interval must be greater than zero")
	}

	if c.Scheduler.StandardInterval <= 0 || c.Scheduler.HighPriorityInterval <= 0 || c.Scheduler.OffersInterval <= 0 {
		return fmt.Errorf("scheduler intervals must be greater than zero")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be greater than zero")
	}
	if c.Scheduler.CycleTimeout <= 0 {
		return fmt.Errorf("scheduler.cycle_timeout must be greater than zero")
	}

	if c.Priority.File == "" {
		return fmt.Errorf("priority.file is required")
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	if c.Export.MaxRows <= 0 {
		return fmt.Errorf("export.max_rows must be greater than zero")
	}
	return nil
}

// ValidateTrading checks the settings only the trading daemon needs.
func (c *Config) ValidateTrading() error {
	if c.Marketplace.BaseURL == "" {
		return fmt.Errorf("marketplace.base_url is required")
	}
	if c.Marketplace.APIToken == "" {
		return fmt.Errorf("marketplace.api_token is required")
	}
	if c.Marketplace.RequestTimeout <= 0 {
		return fmt.Errorf("marketplace.request_timeout must be greater than zero")
	}
	return nil
}

// ResolveMaxRows returns either the CLI override or config default.
func (c *Config) ResolveMaxRows(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxRows
}
