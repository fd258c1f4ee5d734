package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/davidleathers/guardian-recovery/internal/domain/policy"
)

// DefaultPath is read when no explicit config file is given
const DefaultPath = "configs/guardiand.yaml"

// EnvPrefix marks environment overrides. A double underscore separates
// nesting levels: GRD_SERVER__READ_TIMEOUT=5s sets server.read_timeout.
const EnvPrefix = "GRD_"

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`
	LogFormat   string `koanf:"log_format"`

	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	Redis     RedisConfig     `koanf:"redis"`
	Auth      AuthConfig      `koanf:"auth"`
	Chain     ChainConfig     `koanf:"chain"`
	Telemetry TelemetryConfig `koanf:"telemetry"`

	Protocol   policy.Params     `koanf:"protocol"`
	Strategies []policy.Strategy `koanf:"strategies"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// ValidateRequests checks request bodies against the OpenAPI document
	ValidateRequests bool `koanf:"validate_requests"`

	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	BurstSize         int     `koanf:"burst_size"`
}

// StorageConfig selects the backing store: "badger" or "postgres"
type StorageConfig struct {
	Driver   string         `koanf:"driver"`
	Badger   BadgerConfig   `koanf:"badger"`
	Postgres PostgresConfig `koanf:"postgres"`
}

type BadgerConfig struct {
	Path           string        `koanf:"path"`
	InMemory       bool          `koanf:"in_memory"`
	SyncWrites     bool          `koanf:"sync_writes"`
	GCInterval     time.Duration `koanf:"gc_interval"`
	GCDiscardRatio float64       `koanf:"gc_discard_ratio"`
}

type PostgresConfig struct {
	URL             string        `koanf:"url"`
	MaxConns        int32         `koanf:"max_conns"`
	MinConns        int32         `koanf:"min_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	MaxRetries      int           `koanf:"max_retries"`
}

// RedisConfig enables the guardian read cache when URL is set
type RedisConfig struct {
	URL         string        `koanf:"url"`
	Password    string        `koanf:"password"`
	DB          int           `koanf:"db"`
	TTL         time.Duration `koanf:"ttl"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
}

type AuthConfig struct {
	JWTSecret   string        `koanf:"jwt_secret"`
	Issuer      string        `koanf:"issuer"`
	TokenExpiry time.Duration `koanf:"token_expiry"`
	CacheSize   int           `koanf:"cache_size"`
}

// ChainConfig locates the token ledger and account hook endpoints
type ChainConfig struct {
	LedgerURL string        `koanf:"ledger_url"`
	HookURL   string        `koanf:"hook_url"`
	Timeout   time.Duration `koanf:"timeout"`
	APIKey    string        `koanf:"api_key"`
}

type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	ServiceName  string  `koanf:"service_name"`
	OTLPEndpoint string  `koanf:"otlp_endpoint"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

// Defaults returns the configuration used when nothing overrides it
func Defaults() *Config {
	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		LogFormat:   "json",
		Server: ServerConfig{
			Port:             8080,
			ReadTimeout:      15 * time.Second,
			WriteTimeout:     15 * time.Second,
			ShutdownTimeout:  30 * time.Second,
			ValidateRequests: true,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 50,
				BurstSize:         100,
			},
		},
		Storage: StorageConfig{
			Driver: "badger",
			Badger: BadgerConfig{
				Path:           "data/guardiand",
				SyncWrites:     true,
				GCInterval:     5 * time.Minute,
				GCDiscardRatio: 0.5,
			},
			Postgres: PostgresConfig{
				MaxConns:        10,
				MinConns:        1,
				ConnMaxLifetime: 30 * time.Minute,
				MaxRetries:      3,
			},
		},
		Redis: RedisConfig{
			TTL:         30 * time.Second,
			DialTimeout: 5 * time.Second,
		},
		Auth: AuthConfig{
			Issuer:      "guardiand",
			TokenExpiry: time.Hour,
			CacheSize:   1024,
		},
		Chain: ChainConfig{
			Timeout: 10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "guardiand",
			OTLPEndpoint: "localhost:4317",
			SamplingRate: 1.0,
		},
		Protocol: policy.DefaultParams(),
	}
}

// Load layers defaults, the YAML file at path and GRD_ environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		path = DefaultPath
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the daemon cannot start with
func (c *Config) Validate() error {
	if err := c.Protocol.Validate(); err != nil {
		return fmt.Errorf("protocol: %w", err)
	}
	if _, err := policy.NewCatalog(c.Protocol, c.Strategies...); err != nil {
		return fmt.Errorf("strategies: %w", err)
	}

	switch c.Storage.Driver {
	case "badger":
		if !c.Storage.Badger.InMemory && c.Storage.Badger.Path == "" {
			return fmt.Errorf("storage.badger.path is required")
		}
	case "postgres":
		if c.Storage.Postgres.URL == "" {
			return fmt.Errorf("storage.postgres.url is required")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.RateLimit.RequestsPerSecond <= 0 || c.Server.RateLimit.BurstSize <= 0 {
		return fmt.Errorf("server.rate_limit must be positive")
	}
	if c.Auth.CacheSize <= 0 {
		return fmt.Errorf("auth.cache_size must be positive")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// Catalog builds the strategy catalog described by the configuration
func (c *Config) Catalog() (*policy.Catalog, error) {
	return policy.NewCatalog(c.Protocol, c.Strategies...)
}
