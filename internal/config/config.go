package config

import (
	"fmt"
	"strings"
	"time"

	pkgconfig "github.com/shopdesk/coupon-service/pkg/config"
)

const defaultJWTSecret = "change-this-to-a-secure-secret"

// Config holds all configuration for the coupon service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort        int           `env:"COUPON_HTTP_PORT" envDefault:"8010"`
	RequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// PostgreSQL
	PostgresHost     string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int           `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string        `env:"POSTGRES_USER" envDefault:"ecommerce"`
	PostgresPass     string        `env:"POSTGRES_PASSWORD" envDefault:"ecommerce_secret"`
	PostgresDB       string        `env:"COUPON_DB_NAME" envDefault:"coupon_db"`
	PostgresSSL      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	PostgresMaxConns int32         `env:"POSTGRES_MAX_CONNS" envDefault:"25"`
	PostgresMinConns int32         `env:"POSTGRES_MIN_CONNS" envDefault:"5"`
	SlowQuery        time.Duration `env:"SLOW_QUERY_THRESHOLD" envDefault:"200ms"`
	RunMigrations    bool          `env:"RUN_MIGRATIONS" envDefault:"true"`

	// Redis
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaBrokers       []string      `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	EventsEnabled      bool          `env:"COUPON_EVENTS_ENABLED" envDefault:"true"`
	OrderEventsEnabled bool          `env:"ORDER_EVENTS_ENABLED" envDefault:"false"`
	ProcessedEventsTTL time.Duration `env:"PROCESSED_EVENTS_TTL" envDefault:"168h"`

	// Admin auth
	JWTSecret         string        `env:"JWT_SECRET" envDefault:"change-this-to-a-secure-secret"`
	JWTAccessExpiry   time.Duration `env:"JWT_ACCESS_TOKEN_EXPIRY" envDefault:"8h"`
	AdminEmail        string        `env:"ADMIN_EMAIL" envDefault:"admin@localhost"`
	AdminPasswordHash string        `env:"ADMIN_PASSWORD_HASH"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Ops endpoints
	OpsAllowedCIDRs []string `env:"OPS_ALLOWED_CIDRS" envSeparator:","`
	EnablePprof     bool     `env:"ENABLE_PPROF" envDefault:"false"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load coupon config: %w", err)
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
	if c.PostgresMinConns < 0 || c.PostgresMaxConns < 1 || c.PostgresMinConns > c.PostgresMaxConns {
		return fmt.Errorf("invalid postgres pool size: min %d, max %d", c.PostgresMinConns, c.PostgresMaxConns)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0 and 1, got %v", c.OTELSampleRate)
	}
	if c.JWTAccessExpiry <= 0 {
		return fmt.Errorf("JWT_ACCESS_TOKEN_EXPIRY must be positive, got %s", c.JWTAccessExpiry)
	}
	if (c.EventsEnabled || c.OrderEventsEnabled) && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when events are enabled")
	}

	// In non-development environments, require an explicitly set, strong JWT secret.
	if !c.IsDevelopment() {
		if c.JWTSecret == defaultJWTSecret {
			return fmt.Errorf("JWT_SECRET must be explicitly set via environment variable in %q mode", c.Environment)
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters long, got %d", len(c.JWTSecret))
		}
		if c.AdminPasswordHash == "" {
			return fmt.Errorf("ADMIN_PASSWORD_HASH is required in %q mode", c.Environment)
		}
	}
	return nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}
