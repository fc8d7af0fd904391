package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Retry     RetryConfig     `json:"retry"`
	Failover  FailoverConfig  `json:"failover"`
	DLQ       DLQConfig       `json:"dlq"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Providers ProvidersConfig `json:"providers"`
	Auth      AuthConfig      `json:"auth"`
	Logging   LoggingConfig   `json:"logging"`
	Tracing   TracingConfig   `json:"tracing"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// RateLimitConfig contains default admission-control bounds applied to
// endpoints that have no explicit limit configured through the API.
type RateLimitConfig struct {
	DefaultPerMinute int `json:"default_per_minute"`
	DefaultPerHour   int `json:"default_per_hour"`
	DefaultPerDay    int `json:"default_per_day"`
}

// RetryConfig contains default retry executor settings
type RetryConfig struct {
	Enabled           bool          `json:"enabled"`
	MaxRetries        int           `json:"max_retries"`
	Strategy          string        `json:"strategy"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	Jitter            bool          `json:"jitter"`
}

// FailoverConfig contains default provider failover settings
type FailoverConfig struct {
	HealthCheckInterval    time.Duration `json:"health_check_interval"`
	HealthCheckTimeout     time.Duration `json:"health_check_timeout"`
	MaxConsecutiveFailures int           `json:"max_consecutive_failures"`
	AutoFailoverEnabled    bool          `json:"auto_failover_enabled"`
}

// DLQConfig contains dead-letter queue settings
type DLQConfig struct {
	Capacity   int `json:"capacity"`
	MaxRetries int `json:"max_retries"`
}

// DatabaseConfig contains database connection configuration
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// ProvidersConfig contains upstream model provider credentials
type ProvidersConfig struct {
	OpenAIAPIKey    string        `json:"-"`
	OpenAIModel     string        `json:"openai_model"`
	AnthropicAPIKey string        `json:"-"`
	AnthropicModel  string        `json:"anthropic_model"`
	RequestTimeout  time.Duration `json:"request_timeout"`
}

// AuthConfig contains authentication configuration
type AuthConfig struct {
	JWTSecret     string        `json:"-"`
	JWTExpiration time.Duration `json:"jwt_expiration"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// TracingConfig contains distributed tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		RateLimit: RateLimitConfig{
			DefaultPerMinute: getEnvInt("RATELIMIT_DEFAULT_PER_MINUTE", 0),
			DefaultPerHour:   getEnvInt("RATELIMIT_DEFAULT_PER_HOUR", 0),
			DefaultPerDay:    getEnvInt("RATELIMIT_DEFAULT_PER_DAY", 0),
		},
		Retry: RetryConfig{
			Enabled:           getEnvBool("RETRY_ENABLED", true),
			MaxRetries:        getEnvInt("RETRY_MAX_RETRIES", 3),
			Strategy:          getEnvString("RETRY_STRATEGY", "exponential"),
			InitialDelay:      getEnvDuration("RETRY_INITIAL_DELAY", 100*time.Millisecond),
			MaxDelay:          getEnvDuration("RETRY_MAX_DELAY", 30*time.Second),
			BackoffMultiplier: getEnvFloat("RETRY_BACKOFF_MULTIPLIER", 2.0),
			Jitter:            getEnvBool("RETRY_JITTER", true),
		},
		Failover: FailoverConfig{
			HealthCheckInterval:    getEnvDuration("FAILOVER_HEALTH_CHECK_INTERVAL", 30*time.Second),
			HealthCheckTimeout:     getEnvDuration("FAILOVER_HEALTH_CHECK_TIMEOUT", 5*time.Second),
			MaxConsecutiveFailures: getEnvInt("FAILOVER_MAX_CONSECUTIVE_FAILURES", 3),
			AutoFailoverEnabled:    getEnvBool("FAILOVER_AUTO_ENABLED", true),
		},
		DLQ: DLQConfig{
			Capacity:   getEnvInt("DLQ_CAPACITY", 1000),
			MaxRetries: getEnvInt("DLQ_MAX_RETRIES", 3),
		},
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "bulwark"),
			User:            getEnvString("DB_USER", "bulwark"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Providers: ProvidersConfig{
			OpenAIAPIKey:    getEnvString("OPENAI_API_KEY", ""),
			OpenAIModel:     getEnvString("OPENAI_MODEL", "gpt-4o-mini"),
			AnthropicAPIKey: getEnvString("ANTHROPIC_API_KEY", ""),
			AnthropicModel:  getEnvString("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
			RequestTimeout:  getEnvDuration("PROVIDER_REQUEST_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:     getEnvString("JWT_SECRET", ""),
			JWTExpiration: getEnvDuration("JWT_EXPIRATION", 24*time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnvString("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SamplingRate:   getEnvFloat("TRACING_SAMPLING_RATE", 1.0),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DLQ.Capacity <= 0 {
		return fmt.Errorf("DLQ capacity must be positive")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max retries cannot be negative")
	}
	switch c.Retry.Strategy {
	case "fixed", "linear", "exponential":
	default:
		return fmt.Errorf("unsupported retry strategy: %s", c.Retry.Strategy)
	}
	if c.Failover.HealthCheckInterval <= 0 {
		return fmt.Errorf("failover health check interval must be positive")
	}
	return nil
}

// DatabaseURL returns the database connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
