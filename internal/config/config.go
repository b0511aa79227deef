package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Scanner   ScannerConfig
	Execution ExecutionConfig
	Exchanges map[string]ExchangeConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Balances  map[string]float64
	Log       LogConfig
}

// ScannerConfig defines the detection settings.
type ScannerConfig struct {
	Exchange         string
	Source           string        // "stream" or "rest"
	Interval         time.Duration
	ThresholdPercent float64       `mapstructure:"threshold_percent"`
	MaxResults       int           `mapstructure:"max_results"`
	MaxSnapshotAge   time.Duration `mapstructure:"max_snapshot_age"`
	Anchors          []string
	Benchmark        bool
}

// ExecutionConfig defines how detected opportunities are traded.
type ExecutionConfig struct {
	Enabled                 bool
	Mode                    string        // "paper" or "live"
	OrderSize               float64       `mapstructure:"order_size"`
	Sizing                  string        // "notional" or "fixed"
	QuantityStep            float64       `mapstructure:"quantity_step"`
	LegTimeout              time.Duration `mapstructure:"leg_timeout"`
	FillTolerancePercent    float64       `mapstructure:"fill_tolerance_percent"`
	MaxOpportunities        int           `mapstructure:"max_opportunities"`
	MaxConcurrentExecutions int           `mapstructure:"max_concurrent_executions"`
	Ledger                  string        // "memory", "redis" or "none"
}

// ExchangeConfig defines settings for a specific exchange.
type ExchangeConfig struct {
	TakerFeePercent float64            `mapstructure:"taker_fee_percent"`
	SymbolFees      map[string]float64 `mapstructure:"symbol_fees"`
	APIKey          string             `mapstructure:"api_key"`
	APISecret       string             `mapstructure:"api_secret"`
	RestURL         string             `mapstructure:"rest_url"`
	WSURL           string             `mapstructure:"ws_url"`
	Symbols         []string
}

// DatabaseConfig defines the execution log settings.
type DatabaseConfig struct {
	Driver   string // "postgres", "sqlite" or "none"
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string `mapstructure:"sslmode"`
	Path     string
}

// DSN builds a PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

// RedisConfig defines the shared balance ledger connection.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string        `mapstructure:"key_prefix"`
	LockTTL    time.Duration `mapstructure:"lock_ttl"`
	TLSEnabled bool          `mapstructure:"tls_enabled"`
}

// LogConfig defines the logger output.
type LogConfig struct {
	Level  string
	Format string // "json" or "text"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scanner.exchange", "binance")
	v.SetDefault("scanner.source", "stream")
	v.SetDefault("scanner.interval", 5*time.Second)
	v.SetDefault("scanner.threshold_percent", 0.0)
	v.SetDefault("scanner.max_results", 10)
	v.SetDefault("scanner.max_snapshot_age", 10*time.Second)
	v.SetDefault("scanner.anchors", []string{"USDT"})
	v.SetDefault("scanner.benchmark", false)

	v.SetDefault("execution.enabled", false)
	v.SetDefault("execution.mode", "paper")
	v.SetDefault("execution.order_size", 100.0)
	v.SetDefault("execution.sizing", "notional")
	v.SetDefault("execution.quantity_step", 0.0)
	v.SetDefault("execution.leg_timeout", 10*time.Second)
	v.SetDefault("execution.fill_tolerance_percent", 0.5)
	v.SetDefault("execution.max_opportunities", 1)
	v.SetDefault("execution.max_concurrent_executions", 1)
	v.SetDefault("execution.ledger", "memory")

	v.SetDefault("exchanges.binance.taker_fee_percent", 0.1)
	v.SetDefault("exchanges.binance.api_key", "")
	v.SetDefault("exchanges.binance.api_secret", "")
	v.SetDefault("exchanges.binance.rest_url", "https://api.binance.com")
	v.SetDefault("exchanges.binance.ws_url", "wss://stream.binance.com:9443")
	v.SetDefault("exchanges.kraken.taker_fee_percent", 0.26)
	v.SetDefault("exchanges.kraken.ws_url", "wss://ws.kraken.com/v2")

	v.SetDefault("database.driver", "none")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.path", "triarb.db")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "triarb")
	v.SetDefault("redis.lock_ttl", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is not an error; defaults and TRIARB_* variables apply.
func LoadConfig(path string) (config Config, err error) {
	// Load .env file if present.
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("TRIARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	err = v.Unmarshal(&config)
	if err != nil {
		return
	}
	config.normalize()
	return
}

// normalize upper-cases currency codes, which viper lower-cases as map keys.
func (c *Config) normalize() {
	balances := make(map[string]float64, len(c.Balances))
	for k, v := range c.Balances {
		balances[strings.ToUpper(k)] = v
	}
	c.Balances = balances

	for i, a := range c.Scanner.Anchors {
		c.Scanner.Anchors[i] = strings.ToUpper(a)
	}
	c.Scanner.Exchange = strings.ToLower(c.Scanner.Exchange)
}

// Exchange returns the settings of the scanned exchange.
func (c Config) Exchange() ExchangeConfig {
	return c.Exchanges[c.Scanner.Exchange]
}

// Validate checks the configuration for values the engine cannot run with.
func (c Config) Validate() error {
	if _, ok := c.Exchanges[c.Scanner.Exchange]; !ok {
		return fmt.Errorf("config: no settings for exchange %q", c.Scanner.Exchange)
	}
	switch c.Scanner.Source {
	case "stream", "rest":
	default:
		return fmt.Errorf("config: unknown scanner.source %q", c.Scanner.Source)
	}
	if c.Scanner.Interval <= 0 {
		return errors.New("config: scanner.interval must be positive")
	}
	if c.Scanner.ThresholdPercent < 0 {
		return errors.New("config: scanner.threshold_percent must not be negative")
	}
	if c.Exchange().TakerFeePercent < 0 || c.Exchange().TakerFeePercent >= 100 {
		return errors.New("config: taker_fee_percent must be in [0, 100)")
	}

	if c.Execution.Enabled {
		switch c.Execution.Mode {
		case "paper":
		case "live":
			ex := c.Exchange()
			if ex.APIKey == "" || ex.APISecret == "" {
				return fmt.Errorf("config: live execution on %s requires api_key and api_secret", c.Scanner.Exchange)
			}
		default:
			return fmt.Errorf("config: unknown execution.mode %q", c.Execution.Mode)
		}
		if c.Execution.OrderSize <= 0 {
			return errors.New("config: execution.order_size must be positive")
		}
		switch c.Execution.Sizing {
		case "notional", "fixed":
		default:
			return fmt.Errorf("config: unknown execution.sizing %q", c.Execution.Sizing)
		}
		if c.Execution.LegTimeout <= 0 {
			return errors.New("config: execution.leg_timeout must be positive")
		}
	}
	switch c.Execution.Ledger {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("config: unknown execution.ledger %q", c.Execution.Ledger)
	}
	if c.Execution.Enabled && c.Execution.Ledger == "none" && c.Execution.MaxConcurrentExecutions > 1 {
		return errors.New("config: execution.max_concurrent_executions > 1 requires a memory or redis ledger")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite", "none":
	default:
		return fmt.Errorf("config: unknown database.driver %q", c.Database.Driver)
	}
	return nil
}
