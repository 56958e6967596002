package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"fxtriangle/internal/logging"
	"fxtriangle/internal/parity"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Lock      LockConfig      `mapstructure:"lock"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LockNamespace   int32         `mapstructure:"lock_namespace"`
}

// LockConfig selects how writers of the same date are serialized.
type LockConfig struct {
	Backend      string        `mapstructure:"backend"`
	TTL          time.Duration `mapstructure:"ttl"`
	WaitTimeout  time.Duration `mapstructure:"wait_timeout"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// RedisConfig covers the redis date locker.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// PipelineConfig governs acquisition and computation.
type PipelineConfig struct {
	Basis     string        `mapstructure:"basis"`
	Auxiliary []string      `mapstructure:"auxiliary"`
	Workers   int           `mapstructure:"workers"`
	MaxAge    time.Duration `mapstructure:"max_age"`
}

// ProvidersConfig lists the adapters in priority order and their shared retry policy.
type ProvidersConfig struct {
	Order                []string                  `mapstructure:"order"`
	Timeout              time.Duration             `mapstructure:"timeout"`
	UserAgent            string                    `mapstructure:"user_agent"`
	MaxRetries           int                       `mapstructure:"max_retries"`
	RetryInitialInterval time.Duration             `mapstructure:"retry_initial_interval"`
	RetryMaxInterval     time.Duration             `mapstructure:"retry_max_interval"`
	Adapters             map[string]ProviderConfig `mapstructure:"adapters"`
}

// ProviderConfig tunes a single adapter.
type ProviderConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	BaseURL            string `mapstructure:"base_url"`
	APIKey             string `mapstructure:"api_key"`
	RateLimitPerMinute int    `mapstructure:"rate_limit_per_minute"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled          bool           `mapstructure:"enabled"`
	NotifyOnCritical bool           `mapstructure:"notify_on_critical"`
	NotifyOnFailure  bool           `mapstructure:"notify_on_failure"`
	Telegram         TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot used for alerts.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("FXTRIANGLE")
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
	v.SetDefault("app.name", "fxtriangle")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.lock_namespace", 0x46585452)

	v.SetDefault("lock.backend", "postgres")
	v.SetDefault("lock.ttl", "2m")
	v.SetDefault("lock.wait_timeout", "1m")
	v.SetDefault("lock.retry_backoff", "100ms")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "fxtriangle:lock:")

	v.SetDefault("pipeline.basis", string(parity.BasisEUR))
	v.SetDefault("pipeline.auxiliary", []string{"RUB", "INR", "AED"})
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.max_age", "48h")

	v.SetDefault("providers.order", []string{"frankfurter", "cbr", "twelvedata"})
	v.SetDefault("providers.timeout", "10s")
	v.SetDefault("providers.user_agent", "fxtriangle/1.0")
	v.SetDefault("providers.max_retries", 3)
	v.SetDefault("providers.retry_initial_interval", "1s")
	v.SetDefault("providers.retry_max_interval", "10s")
	for name, enabled := range map[string]bool{
		"frankfurter":     true,
		"cbr":             true,
		"twelvedata":      true,
		"freecurrencyapi": false,
	} {
		prefix := "providers.adapters." + name + "."
		v.SetDefault(prefix+"enabled", enabled)
		v.SetDefault(prefix+"base_url", "")
		v.SetDefault(prefix+"api_key", "")
		v.SetDefault(prefix+"rate_limit_per_minute", 0)
	}
	v.SetDefault("providers.adapters.twelvedata.rate_limit_per_minute", 8)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.notify_on_critical", true)
	v.SetDefault("alerting.notify_on_failure", true)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "5s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if _, err := parity.ParseBasis(c.Pipeline.Basis); err != nil {
		return fmt.Errorf("pipeline.basis: %w", err)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be greater than zero")
	}
	if c.Pipeline.MaxAge <= 0 {
		return fmt.Errorf("pipeline.max_age must be greater than zero")
	}
	switch strings.ToLower(c.Lock.Backend) {
	case "postgres", "redis", "memory":
	default:
		return fmt.Errorf("lock.backend must be one of postgres, redis, memory, got %q", c.Lock.Backend)
	}
	if strings.EqualFold(c.Lock.Backend, "redis") && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when lock.backend is redis")
	}
	if c.Providers.MaxRetries < 1 {
		return fmt.Errorf("providers.max_retries must be at least 1")
	}
	if len(c.EnabledProviders()) == 0 {
		return fmt.Errorf("providers.order has no enabled adapter")
	}
	seen := make(map[string]struct{}, len(c.Providers.Order))
	for _, name := range c.Providers.Order {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, dup := seen[key]; dup {
			return fmt.Errorf("providers.order lists %q twice", name)
		}
		seen[key] = struct{}{}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// EnabledProviders returns the enabled adapter names in priority order.
func (c *Config) EnabledProviders() []string {
	out := make([]string, 0, len(c.Providers.Order))
	for _, name := range c.Providers.Order {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if pc, ok := c.Providers.Adapters[key]; ok && !pc.Enabled {
			continue
		}
		out = append(out, key)
	}
	return out
}

// Basis returns the validated canonical basis.
func (c *Config) Basis() parity.Basis {
	basis, _ := parity.ParseBasis(c.Pipeline.Basis)
	return basis
}
