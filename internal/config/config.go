// Package config loads droplink configuration from YAML, .env and the
// process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the variable holding the YAML config path.
const EnvConfigPath = "DROPLINK_CONFIG"

// DefaultPath is used when EnvConfigPath is unset.
var DefaultPath = filepath.Join("config", "droplink.yaml")

// Config is the full service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
	Drops     DropsConfig     `yaml:"drops"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type HTTPConfig struct {
	Addr               string        `yaml:"addr" env:"DROPLINK_HTTP_ADDR"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`
}

// DatabaseConfig selects the Postgres store. An empty URL uses the in-memory store.
type DatabaseConfig struct {
	URL            string `yaml:"url" env:"DATABASE_URL"`
	MaxOpenConns   int    `yaml:"max_open_conns"`
	MigrateOnStart bool   `yaml:"migrate_on_start" env:"DATABASE_MIGRATE"`
}

// RedisConfig enables the projection cache when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// AuthConfig points at the RS256 key that verifies caller tokens.
type AuthConfig struct {
	JWTPublicKeyFile string `yaml:"jwt_public_key_file" env:"JWT_PUBLIC_KEY_FILE"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

type DropsConfig struct {
	DefaultGasLimit     uint64 `yaml:"default_gas_limit" env:"DEFAULT_GAS_LIMIT"`
	ExpirySweepSchedule string `yaml:"expiry_sweep_schedule" env:"EXPIRY_SWEEP_SCHEDULE"`
}

// RateLimitConfig throttles per client. RPS <= 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" env:"RATE_LIMIT_RPS"`
	Burst int     `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{MaxOpenConns: 10, MigrateOnStart: true},
		Redis:    RedisConfig{TTL: 5 * time.Minute},
		Log:      LogConfig{Level: "info", Format: "json"},
		Drops: DropsConfig{
			DefaultGasLimit:     100_000,
			ExpirySweepSchedule: "@every 1m",
		},
		RateLimit: RateLimitConfig{RPS: 20, Burst: 40},
	}
}

// Load reads .env, then the YAML file at path (or DROPLINK_CONFIG, or
// DefaultPath), then environment overrides. A missing YAML file is not an
// error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		problems = append(problems, "http.addr is required")
	}
	if c.Drops.DefaultGasLimit == 0 {
		problems = append(problems, "drops.default_gas_limit must be positive")
	}
	if _, err := cron.ParseStandard(c.Drops.ExpirySweepSchedule); err != nil {
		problems = append(problems, fmt.Sprintf("drops.expiry_sweep_schedule: %v", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q must be json or text", c.Log.Format))
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		problems = append(problems, "rate_limit.burst must be positive when rate limiting is enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
