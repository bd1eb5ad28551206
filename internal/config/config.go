package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/utafrali/stockledger/internal/service"
	pkgconfig "github.com/utafrali/stockledger/pkg/config"
	"github.com/utafrali/stockledger/pkg/database"
	"github.com/utafrali/stockledger/pkg/tracing"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds all configuration for the stock ledger service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Ops HTTP server (health, metrics, pprof)
	HTTPPort int `env:"STOCKLEDGER_HTTP_PORT" envDefault:"8011"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"stockledger"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"stockledger_secret"`
	PostgresDB   string `env:"STOCKLEDGER_DB_NAME" envDefault:"stockledger"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"true"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" envDefault:"stockledger"`

	// Redis backs the consumer idempotency store. Disabled falls back to memory.
	RedisEnabled        bool   `env:"REDIS_ENABLED" envDefault:"false"`
	RedisHost           string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort           int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword       string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB             int    `env:"REDIS_DB" envDefault:"0"`
	IdempotencyTTLHours int    `env:"IDEMPOTENCY_TTL_HOURS" envDefault:"24"`

	// Reservations
	ReservationTimeoutHours   int            `env:"RESERVATION_TIMEOUT_HOURS" envDefault:"24"`
	TenantReservationTimeouts map[string]int `env:"TENANT_RESERVATION_TIMEOUTS" envSeparator:"," envKeyValSeparator:":"`
	DefaultQuantityScale      int32          `env:"DEFAULT_QUANTITY_SCALE" envDefault:"3"`
	LowStockThreshold         string         `env:"LOW_STOCK_THRESHOLD" envDefault:"0"`

	// Expiry sweeper
	SweepIntervalSeconds int `env:"SWEEP_INTERVAL_SECONDS" envDefault:"60"`
	SweepBatchSize       int `env:"SWEEP_BATCH_SIZE" envDefault:"100"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables, after merging any
// .env file found in the working directory.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.LoadWithDotenv(cfg, ".env"); err != nil {
		return nil, fmt.Errorf("load stockledger config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver)
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	if c.ReservationTimeoutHours <= 0 {
		return fmt.Errorf("RESERVATION_TIMEOUT_HOURS must be > 0, got %d", c.ReservationTimeoutHours)
	}
	for tenant, hours := range c.TenantReservationTimeouts {
		if tenant == "" || hours <= 0 {
			return fmt.Errorf("TENANT_RESERVATION_TIMEOUTS: invalid entry %q:%d", tenant, hours)
		}
	}
	if c.DefaultQuantityScale < 0 || c.DefaultQuantityScale > service.MaxScale {
		return fmt.Errorf("DEFAULT_QUANTITY_SCALE must be between 0 and %d, got %d", service.MaxScale, c.DefaultQuantityScale)
	}
	if _, err := decimal.NewFromString(c.LowStockThreshold); err != nil {
		return fmt.Errorf("LOW_STOCK_THRESHOLD must be a decimal, got %q", c.LowStockThreshold)
	}
	if c.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_SECONDS must be > 0, got %d", c.SweepIntervalSeconds)
	}
	if c.SweepBatchSize <= 0 {
		return fmt.Errorf("SWEEP_BATCH_SIZE must be > 0, got %d", c.SweepBatchSize)
	}
	if c.IdempotencyTTLHours <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL_HOURS must be > 0, got %d", c.IdempotencyTTLHours)
	}
	return nil
}

// Postgres returns the connection pool configuration.
func (c *Config) Postgres() *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

// Redis returns the redis client configuration.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

// Tracing returns the OpenTelemetry configuration.
func (c *Config) Tracing(serviceName string) tracing.Config {
	cfg := tracing.DefaultConfig(serviceName)
	cfg.Environment = c.Environment
	cfg.OTLPEndpoint = c.OTELEndpoint
	cfg.SampleRate = c.OTELSampleRate
	cfg.Enabled = c.OTELEnabled
	return cfg
}

// ReservationTimeouts converts the hour-based settings into the service form.
func (c *Config) ReservationTimeouts() service.ReservationTimeouts {
	t := service.ReservationTimeouts{
		Default:   time.Duration(c.ReservationTimeoutHours) * time.Hour,
		PerTenant: make(map[string]time.Duration, len(c.TenantReservationTimeouts)),
	}
	for tenant, hours := range c.TenantReservationTimeouts {
		t.PerTenant[tenant] = time.Duration(hours) * time.Hour
	}
	return t
}

// LowStock returns the parsed low-stock threshold. validate guarantees it parses.
func (c *Config) LowStock() decimal.Decimal {
	return decimal.RequireFromString(c.LowStockThreshold)
}

// SweepInterval returns the delay between expiry sweeps.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// IdempotencyTTL returns how long consumed event IDs are remembered.
func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLHours) * time.Hour
}

// SlowQueryThreshold returns the duration above which queries are logged.
func (c *Config) SlowQueryThreshold() time.Duration {
	return time.Duration(c.SlowQueryThresholdMs) * time.Millisecond
}
