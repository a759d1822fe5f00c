package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for puzzle-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, API keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Generation GenerationConfig `yaml:"generation"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Validation ValidationConfig `yaml:"validation"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Pool       PoolConfig       `yaml:"pool"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"puzzles"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"puzzle_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis configuration. An empty host disables the
// embedding cache.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// GenerationConfig selects the structured-output model used by the composer
// and the solver.
type GenerationConfig struct {
	// Provider is "anthropic" or "openai". The openai provider also covers
	// OpenAI-compatible endpoints through BaseURL.
	Provider     string        `yaml:"provider" env:"GENERATION_PROVIDER" env-default:"anthropic"`
	Model        string        `yaml:"model" env:"GENERATION_MODEL" env-default:"claude-sonnet-4-5-20250929"`
	SolverModel  string        `yaml:"solver_model" env:"SOLVER_MODEL" env-default:""` // Defaults to Model
	BaseURL      string        `yaml:"base_url" env:"GENERATION_BASE_URL" env-default:""`
	MaxTokens    int           `yaml:"max_tokens" env:"GENERATION_MAX_TOKENS" env-default:"2048"`
	CallTimeout  time.Duration `yaml:"call_timeout" env:"GENERATION_CALL_TIMEOUT" env-default:"90s"`
	MaxRetries   int           `yaml:"max_retries" env:"GENERATION_MAX_RETRIES" env-default:"2"`
	AnthropicKey string        `yaml:"-" env:"ANTHROPIC_API_KEY"` // Secret - not in YAML
	OpenAIKey    string        `yaml:"-" env:"OPENAI_API_KEY"`    // Secret - not in YAML
}

// APIKey returns the key for the configured provider.
func (c *GenerationConfig) APIKey() string {
	if c.Provider == "openai" {
		return c.OpenAIKey
	}
	return c.AnthropicKey
}

// EmbeddingConfig configures the embedding service. Embeddings always use
// an OpenAI-compatible endpoint.
type EmbeddingConfig struct {
	BaseURL     string        `yaml:"base_url" env:"EMBEDDING_BASE_URL" env-default:""`
	Model       string        `yaml:"model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	Dimensions  int           `yaml:"dimensions" env:"EMBEDDING_DIMENSIONS" env-default:"0"`
	CacheTTL    time.Duration `yaml:"cache_ttl" env:"EMBEDDING_CACHE_TTL" env-default:"720h"`
	CallTimeout time.Duration `yaml:"call_timeout" env:"EMBEDDING_CALL_TIMEOUT" env-default:"30s"`
	APIKey      string        `yaml:"-" env:"EMBEDDING_API_KEY"` // Secret - not in YAML, falls back to OPENAI_API_KEY
}

// ValidationConfig holds solver validation settings.
type ValidationConfig struct {
	SelfConsistencyAttempts int     `yaml:"self_consistency_attempts" env:"VALIDATION_SELF_CONSISTENCY_ATTEMPTS" env-default:"8"`
	SolverTemperature       float32 `yaml:"solver_temperature" env:"VALIDATION_SOLVER_TEMPERATURE" env-default:"0.8"`
	MaxConcurrent           int     `yaml:"max_concurrent" env:"VALIDATION_MAX_CONCURRENT" env-default:"4"`
}

// SchedulerConfig holds generation job scheduler settings.
type SchedulerConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval" env:"SCHEDULER_POLL_INTERVAL" env-default:"30s"`
	RatePerMinute   int           `yaml:"rate_per_minute" env:"SCHEDULER_RATE_PER_MINUTE" env-default:"10"`
	RateBurst       int           `yaml:"rate_burst" env:"SCHEDULER_RATE_BURST" env-default:"10"`
	MaxAttempts     int           `yaml:"max_attempts" env:"SCHEDULER_MAX_ATTEMPTS" env-default:"3"`
	StaleAfter      time.Duration `yaml:"stale_after" env:"SCHEDULER_STALE_AFTER" env-default:"30m"`
	JobTimeout      time.Duration `yaml:"job_timeout" env:"SCHEDULER_JOB_TIMEOUT" env-default:"0s"`
	JobsPerTick     int           `yaml:"jobs_per_tick" env:"SCHEDULER_JOBS_PER_TICK" env-default:"5"`
	ShutdownRequeue time.Duration `yaml:"shutdown_requeue_timeout" env:"SCHEDULER_SHUTDOWN_REQUEUE_TIMEOUT" env-default:"10s"`
}

// PoolConfig holds replenishment and serving settings.
type PoolConfig struct {
	LowWater          int           `yaml:"low_water" env:"POOL_LOW_WATER" env-default:"20"`
	HighWater         int           `yaml:"high_water" env:"POOL_HIGH_WATER" env-default:"50"`
	ReplenishInterval time.Duration `yaml:"replenish_interval" env:"POOL_REPLENISH_INTERVAL" env-default:"5m"`
	FallbackFile      string        `yaml:"fallback_file" env:"POOL_FALLBACK_FILE" env-default:""`
}

// Load reads configuration from config.yaml with environment variable overrides.
// A missing config.yaml is not an error; defaults and environment apply.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile reads configuration from path with environment variable overrides.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if fileExists(path) {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.Generation.OpenAIKey
	}
	if cfg.Generation.SolverModel == "" {
		cfg.Generation.SolverModel = cfg.Generation.Model
	}
	cfg.resolveDockerHosts()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks ranges that would make the pipeline misbehave.
func (c *Config) Validate() error {
	switch c.Generation.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("generation.provider must be anthropic or openai, got %q", c.Generation.Provider)
	}
	if c.Pool.LowWater < 0 || c.Pool.HighWater < c.Pool.LowWater {
		return fmt.Errorf("pool watermarks must satisfy 0 <= low_water <= high_water (got %d, %d)",
			c.Pool.LowWater, c.Pool.HighWater)
	}
	if c.Pool.ReplenishInterval <= 0 {
		return fmt.Errorf("pool.replenish_interval must be positive")
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be positive")
	}
	if c.Scheduler.RatePerMinute <= 0 {
		return fmt.Errorf("scheduler.rate_per_minute must be positive")
	}
	if c.Scheduler.MaxAttempts < 1 {
		return fmt.Errorf("scheduler.max_attempts must be at least 1")
	}
	if c.Validation.SelfConsistencyAttempts < 1 {
		return fmt.Errorf("validation.self_consistency_attempts must be at least 1")
	}
	if c.Generation.BaseURL != "" {
		if _, err := url.Parse(c.Generation.BaseURL); err != nil {
			return fmt.Errorf("generation.base_url: %w", err)
		}
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the connection as a postgres:// URL, the form golang-migrate expects.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}
