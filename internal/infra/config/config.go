package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	HTTPClient HTTPClientConfig `mapstructure:"http_client"`
	Quota      QuotaConfig      `mapstructure:"quota"`
	Account    AccountConfig    `mapstructure:"account"`
	AI         AIConfig         `mapstructure:"ai"`
	Batch      BatchConfig      `mapstructure:"batch"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Upload     UploadConfig     `mapstructure:"upload"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// CORSConfig holds CORS configuration for the public API.
type CORSConfig struct {
	AllowOrigins     []string `mapstructure:"allow_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// DatabaseConfig holds the optional Postgres configuration used when the
// quota store backend is "postgres".
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Database, c.SSLMode,
	)
	if c.Password != "" {
		dsn += fmt.Sprintf(" password=%s", c.Password)
	}
	return dsn
}

// RedisConfig holds Redis configuration used when the quota store backend
// is "redis".
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// HTTPClientConfig holds HTTP client configuration for connection pooling.
type HTTPClientConfig struct {
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `mapstructure:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
	DialTimeout         time.Duration `mapstructure:"dial_timeout"`
	TLSHandshakeTimeout time.Duration `mapstructure:"tls_handshake_timeout"`
	ResponseTimeout     time.Duration `mapstructure:"response_timeout"`
	KeepAlive           time.Duration `mapstructure:"keep_alive"`
}

// QuotaConfig holds quota enforcement configuration.
type QuotaConfig struct {
	// StoreBackend selects the local counter backend: memory, redis, postgres.
	StoreBackend string `mapstructure:"store_backend"`
	// AnonymousLimit is the daily upload limit for anonymous clients, keyed by IP.
	AnonymousLimit int `mapstructure:"anonymous_limit"`
	// FailClosed denies anonymous requests when the local store is unavailable.
	// The default is fail-open: a storage outage never blocks traffic.
	FailClosed bool `mapstructure:"fail_closed"`
	// SignupURL is the call-to-action URL returned with requires_auth denials.
	SignupURL string `mapstructure:"signup_url"`
	// UpgradeURL is the call-to-action URL returned with requires_payment denials.
	UpgradeURL string `mapstructure:"upgrade_url"`
}

// AccountConfig holds configuration for the external account service that
// owns per-user upload counters.
type AccountConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// UploadLimit is the free-tier upload limit, used when the account service
	// does not report one.
	UploadLimit int `mapstructure:"upload_limit"`
	// Breaker settings for the circuit breaker around account calls.
	BreakerFailureThreshold uint32        `mapstructure:"breaker_failure_threshold"`
	BreakerOpenTimeout      time.Duration `mapstructure:"breaker_open_timeout"`
}

// AIConfig holds configuration for the AI analysis backend.
type AIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// BatchConfig holds batch dispatch configuration.
type BatchConfig struct {
	// MaxConcurrency caps the worker pool for one batch request.
	MaxConcurrency int `mapstructure:"max_concurrency"`
	// TaskTimeout bounds a single document's extraction plus analysis.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

// RateLimitConfig holds the per-IP request-rate guard, separate from quota.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// AuthConfig holds JWT verification configuration.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// UploadConfig holds file upload validation limits.
type UploadConfig struct {
	MaxFileSize int64 `mapstructure:"max_file_size"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/jobpsych")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and env
	}

	v.SetEnvPrefix("JOBPSYCH")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override with environment variables for sensitive values
	if secret := os.Getenv("JOBPSYCH_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if key := os.Getenv("JOBPSYCH_AI_API_KEY"); key != "" {
		cfg.AI.APIKey = key
	}
	if password := os.Getenv("JOBPSYCH_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if password := os.Getenv("JOBPSYCH_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if url := os.Getenv("JOBPSYCH_ACCOUNT_SERVICE_URL"); url != "" {
		cfg.Account.BaseURL = url
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Quota.StoreBackend {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unknown quota store backend: %q", c.Quota.StoreBackend)
	}
	if c.Quota.AnonymousLimit < 0 {
		return fmt.Errorf("quota.anonymous_limit must be >= 0")
	}
	if c.Batch.MaxConcurrency < 1 {
		return fmt.Errorf("batch.max_concurrency must be >= 1")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.idle_timeout", "60s")

	// CORS
	v.SetDefault("cors.allow_origins", []string{"https://jobpsych.vercel.app"})
	v.SetDefault("cors.allow_credentials", false)

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "jobpsych")
	v.SetDefault("database.database", "jobpsych")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// Redis
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// HTTP client
	v.SetDefault("http_client.max_idle_conns", 100)
	v.SetDefault("http_client.max_idle_conns_per_host", 10)
	v.SetDefault("http_client.max_conns_per_host", 50)
	v.SetDefault("http_client.idle_conn_timeout", "90s")
	v.SetDefault("http_client.dial_timeout", "10s")
	v.SetDefault("http_client.tls_handshake_timeout", "10s")
	v.SetDefault("http_client.response_timeout", "120s")
	v.SetDefault("http_client.keep_alive", "30s")

	// Quota
	v.SetDefault("quota.store_backend", "memory")
	v.SetDefault("quota.anonymous_limit", 2)
	v.SetDefault("quota.fail_closed", false)
	v.SetDefault("quota.signup_url", "https://jobpsych.vercel.app/signup")
	v.SetDefault("quota.upgrade_url", "https://jobpsych.vercel.app/upgrade")

	// Account service
	v.SetDefault("account.base_url", "https://jobpsych-payment.vercel.app/api")
	v.SetDefault("account.timeout", "5s")
	v.SetDefault("account.upload_limit", 10)
	v.SetDefault("account.breaker_failure_threshold", 5)
	v.SetDefault("account.breaker_open_timeout", "60s")

	// AI
	v.SetDefault("ai.base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("ai.model", "gemini-2.0-flash")
	v.SetDefault("ai.timeout", "60s")

	// Batch
	v.SetDefault("batch.max_concurrency", 10)
	v.SetDefault("batch.task_timeout", "90s")

	// Rate limit (request-rate guard, not quota)
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rps", 5.0)
	v.SetDefault("rate_limit.burst", 10)

	// Upload
	v.SetDefault("upload.max_file_size", int64(10*1024*1024))

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}
