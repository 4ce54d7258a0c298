package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for classify-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3880"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// MigrationsPath is the directory containing SQL migrations.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	// Authentication configuration
	Auth AuthConfig `yaml:"auth"`

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration for assignment-change notifications (optional)
	Redis RedisConfig `yaml:"redis"`

	// Engine tuning knobs
	Engine EngineConfig `yaml:"engine"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT tokens are validated.
	// Set to false for local development without an auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSURL is the JSON Web Key Set endpoint used to verify bearer tokens.
	JWKSURL string `yaml:"jwks_url" env:"AUTH_JWKS_URL" env-default:""`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"classify"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"classify_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// URL builds a connection string from the individual settings.
func (d *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// EngineConfig holds classification engine tuning knobs.
type EngineConfig struct {
	// ConfidenceFloor discards generated suggestions scored below it.
	ConfidenceFloor float64 `yaml:"confidence_floor" env:"ENGINE_CONFIDENCE_FLOOR" env-default:"0.3"`

	// MaxSuggestions caps suggestions generated per entity per call when the
	// caller does not supply a limit.
	MaxSuggestions int `yaml:"max_suggestions" env:"ENGINE_MAX_SUGGESTIONS" env-default:"10"`

	// SuggestionTTLDays is how long pending suggestions live before the
	// sweep expires them.
	SuggestionTTLDays int `yaml:"suggestion_ttl_days" env:"ENGINE_SUGGESTION_TTL_DAYS" env-default:"30"`

	// BatchChunkSize bounds how many entities one rule-application batch
	// chunk processes; each entity remains its own transaction.
	BatchChunkSize int `yaml:"batch_chunk_size" env:"ENGINE_BATCH_CHUNK_SIZE" env-default:"100"`

	// Score weights for the performance score counter blend.
	ClickWeight      float64 `yaml:"click_weight" env:"ENGINE_CLICK_WEIGHT" env-default:"0.3"`
	ConversionWeight float64 `yaml:"conversion_weight" env:"ENGINE_CONVERSION_WEIGHT" env-default:"0.5"`
	SearchWeight     float64 `yaml:"search_weight" env:"ENGINE_SEARCH_WEIGHT" env-default:"0.2"`
}

// Load reads configuration from config.yaml (if present) and environment
// variables, with env taking precedence.
func Load(version string) (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment config: %w", err)
		}
	}

	cfg.Version = version

	if cfg.Auth.EnableVerification && cfg.Auth.JWKSURL == "" {
		return nil, fmt.Errorf("AUTH_JWKS_URL is required when auth verification is enabled")
	}
	if cfg.Engine.ConfidenceFloor < 0 || cfg.Engine.ConfidenceFloor > 1 {
		return nil, fmt.Errorf("engine confidence floor %v outside [0,1]", cfg.Engine.ConfidenceFloor)
	}

	return cfg, nil
}
