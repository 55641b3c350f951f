// Package config provides unified configuration for the agentbox gateway.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (AGENTBOX_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the agentbox gateway.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Provider      ProviderConfig      `yaml:"provider"`
	Pool          PoolConfig          `yaml:"pool"`
	Run           RunConfig           `yaml:"run"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // default: 8080
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // default: 0 (streams disable it)
}

// ProviderConfig holds sandbox provider connection settings.
type ProviderConfig struct {
	BaseURL        string        `yaml:"base_url"`        // empty disables sandbox execution
	Token          string        `yaml:"token"`           // optional bearer token
	TokenFile      string        `yaml:"token_file"`      // _file variant for token
	RequestTimeout time.Duration `yaml:"request_timeout"` // per non-streaming call, default: 120s
	Template       string        `yaml:"template"`        // sandbox image, provider default when empty
	TTLSeconds     int           `yaml:"ttl_seconds"`     // provider-side sandbox lifetime, 0 = provider default
}

// PoolConfig holds warm pool sizing and maintenance settings.
// Duration fields accept Go duration strings ("30m") in YAML and env vars.
type PoolConfig struct {
	TargetSize          int           `yaml:"target_size"`          // default: 2, 0 disables pooling
	MaxAge              time.Duration `yaml:"max_age"`              // default: 30m
	MaxRequests         int           `yaml:"max_requests"`         // default: 20
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"` // default: 60s
	EagerRefill         bool          `yaml:"eager_refill"`         // default: true
}

// RunConfig holds task execution settings.
type RunConfig struct {
	DefaultAgent    string        `yaml:"default_agent"`    // default: "claude-cli"
	DefaultModel    string        `yaml:"default_model"`    // optional
	AttemptTimeout  time.Duration `yaml:"attempt_timeout"`  // per agent-run attempt, default: 10m
	Workdir         string        `yaml:"workdir"`          // default: "/workspace"
	PackDir         string        `yaml:"pack_dir"`         // local dir uploaded before each run
	BootstrapScript string        `yaml:"bootstrap_script"` // local script run after upload
	ArtifactsDir    string        `yaml:"artifacts_dir"`    // relative to workdir, default: "artifacts"
}

// StorageConfig holds run ledger settings.
type StorageConfig struct {
	Type     string         `yaml:"type"`     // "memory" or "postgres", default: "memory"
	MaxSize  int            `yaml:"max_size"` // for memory store, default: 10000
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type      string          `yaml:"type"`       // "none", "apikey", or "jwt", default: "none"
	APIKeys   []APIKeyConfig  `yaml:"api_keys"`   // API key entries for type=apikey
	JWT       JWTConfig       `yaml:"jwt"`        // JWT settings for type=jwt
	RateLimit RateLimitConfig `yaml:"rate_limit"` // per-identity request budgets
}

// RateLimitConfig holds per-identity request budgets, counted in fixed
// one-minute windows. Limiting is off until a budget is configured; a
// budget of zero or less means unlimited for that tier.
type RateLimitConfig struct {
	DefaultRPM int            `yaml:"default_rpm"` // budget for tiers not listed below
	Tiers      map[string]int `yaml:"tiers"`       // tier name -> requests per minute
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key"`
	KeyFile     string `yaml:"key_file"` // _file variant for key
	Subject     string `yaml:"subject"`
	TenantID    string `yaml:"tenant_id"`
	ServiceTier string `yaml:"service_tier"`
}

// JWTConfig describes JWT/OIDC validation settings.
type JWTConfig struct {
	Issuer      string `yaml:"issuer"`
	Audience    string `yaml:"audience"`
	JWKSURL     string `yaml:"jwks_url"`
	UserClaim   string `yaml:"user_claim"`   // default: "sub"
	TenantClaim string `yaml:"tenant_claim"` // default: "tenant_id"
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// LoggingConfig holds log level and debug category settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // default: "INFO"
	Debug string `yaml:"debug"` // comma-separated debug categories
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:        8080,
			ReadTimeout: 30 * time.Second,
		},
		Provider: ProviderConfig{
			RequestTimeout: 120 * time.Second,
		},
		Pool: PoolConfig{
			TargetSize:          2,
			MaxAge:              30 * time.Minute,
			MaxRequests:         20,
			MaintenanceInterval: 60 * time.Second,
			EagerRefill:         true,
		},
		Run: RunConfig{
			DefaultAgent:   "claude-cli",
			AttemptTimeout: 10 * time.Minute,
			Workdir:        "/workspace",
			ArtifactsDir:   "artifacts",
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 10000,
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Auth: AuthConfig{
			Type: "none",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}
