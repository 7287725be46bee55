// Package config provides configuration management for the harvester.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "HARVEST"

// placeholderEmail is the address shipped in example configs; it must be replaced.
const placeholderEmail = "your.email@example.com"

// Config holds all configuration for the harvester.
type Config struct {
	// PubMed contains E-utilities client settings.
	PubMed PubMedConfig `mapstructure:"pubmed"`
	// Search contains the active query and paging settings.
	Search SearchConfig `mapstructure:"search"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// FailureLog contains the append-only failure log settings.
	FailureLog FailureLogConfig `mapstructure:"failure_log"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Server contains the ops HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Kafka contains run event publisher settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Pipeline contains run coordination settings.
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

// PubMedConfig holds E-utilities client configuration.
type PubMedConfig struct {
	// BaseURL is the E-utilities base URL.
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	// Email identifies the caller to NCBI.
	Email string `mapstructure:"email" validate:"required,email"`
	// Tool identifies the calling application to NCBI.
	Tool string `mapstructure:"tool" validate:"required"`
	// APIKey is the NCBI API key (loaded from HARVEST_PUBMED_API_KEY env var).
	APIKey string `mapstructure:"-"`
	// RateLimitWithKey is the request rate in requests/second when an API key is set.
	RateLimitWithKey float64 `mapstructure:"rate_limit_with_key" validate:"gt=0"`
	// RateLimitWithoutKey is the request rate in requests/second without an API key.
	RateLimitWithoutKey float64 `mapstructure:"rate_limit_without_key" validate:"gt=0"`
	// MaxRetries is the total attempt budget per request.
	MaxRetries int `mapstructure:"max_retries" validate:"gt=0"`
	// RetryBackoffBase is the exponential backoff base.
	RetryBackoffBase float64 `mapstructure:"retry_backoff_base" validate:"gte=1"`
	// RetryBackoffMax caps a single backoff delay.
	RetryBackoffMax time.Duration `mapstructure:"retry_backoff_max" validate:"gt=0"`
	// RateLimitedDelay is the wait after a 429 without a Retry-After header.
	RateLimitedDelay time.Duration `mapstructure:"rate_limited_delay" validate:"gt=0"`
	// Timeout is the per-request timeout for search calls.
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
	// FetchTimeout is the per-request timeout for page and direct fetches.
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" validate:"gt=0"`
}

// EffectiveRateLimit returns the request rate that applies given the API key.
func (c *PubMedConfig) EffectiveRateLimit() float64 {
	if c.APIKey != "" {
		return c.RateLimitWithKey
	}
	return c.RateLimitWithoutKey
}

// SearchConfig holds the active search settings.
type SearchConfig struct {
	// Query is the PubMed query string.
	Query string `mapstructure:"query" validate:"required"`
	// PageSize is the number of records requested per page.
	PageSize int `mapstructure:"page_size" validate:"gt=0,lte=10000"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host" validate:"required"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port" validate:"gt=0,lte=65535"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name" validate:"required"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode" validate:"oneof=disable require verify-ca verify-full"`
	// MaxConns is the maximum number of connections in the pool.
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open.
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun applies pending migrations before a run.
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// FailureLogConfig holds the failure log location.
type FailureLogConfig struct {
	// Path is the append-only failure log file.
	Path string `mapstructure:"path" validate:"required"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// ServerConfig holds the ops HTTP server configuration.
type ServerConfig struct {
	// Enabled starts the ops server alongside a run.
	Enabled bool `mapstructure:"enabled"`
	// Host is the address to bind the server to.
	Host string `mapstructure:"host"`
	// Port is the HTTP port.
	Port int `mapstructure:"port" validate:"gt=0,lte=65535"`
	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing a response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the ops server listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig holds Kafka publisher settings.
type KafkaConfig struct {
	// Enabled controls whether Kafka publishing is active.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic run events are published to.
	Topic string `mapstructure:"topic"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// PipelineConfig holds run coordination settings.
type PipelineConfig struct {
	// LockKey is the Postgres advisory lock key held for the run's duration.
	LockKey int64 `mapstructure:"lock_key"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// Load loads configuration from a .env file, environment variables and
// config files.
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadDatabase loads configuration like Load but validates only the database
// section, for tools that never talk to PubMed.
func LoadDatabase() (*DatabaseConfig, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}

	if err := validator.New().Struct(&cfg.Database); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg.Database, nil
}

func read() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/pubmed-harvester")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.PubMed.APIKey = os.Getenv(EnvPrefix + "_PUBMED_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// PubMed defaults
	v.SetDefault("pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("pubmed.email", "")
	v.SetDefault("pubmed.tool", "pubmed-harvester")
	v.SetDefault("pubmed.rate_limit_with_key", 10.0)
	v.SetDefault("pubmed.rate_limit_without_key", 3.0) // NCBI allows 3 req/sec without an API key
	v.SetDefault("pubmed.max_retries", 3)
	v.SetDefault("pubmed.retry_backoff_base", 2.0)
	v.SetDefault("pubmed.retry_backoff_max", "60s")
	v.SetDefault("pubmed.rate_limited_delay", "60s")
	v.SetDefault("pubmed.timeout", "60s")
	v.SetDefault("pubmed.fetch_timeout", "120s")

	// Search defaults
	v.SetDefault("search.query", "subiculum[Title/Abstract]")
	v.SetDefault("search.page_size", 100)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "harvester")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "pubmed_harvester")
	// Default to "require" for production security. Use HARVEST_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Failure log defaults
	v.SetDefault("failure_log.path", "logs/write_failure.log")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "pubmed_harvester")

	// Ops server defaults
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9090)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.pubmed_harvester.runs")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")

	// Pipeline defaults
	v.SetDefault("pipeline.lock_key", 7243001)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if strings.EqualFold(strings.TrimSpace(c.PubMed.Email), placeholderEmail) {
		return fmt.Errorf("pubmed email must be set to a real contact address, not %s", placeholderEmail)
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka brokers and topic are required when kafka is enabled")
	}

	return nil
}
