package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	// server.port must be positive.
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	// An empty provider.base_url disables sandbox execution, which is a
	// legal (if useless) deployment; a negative pool is not.
	if c.Pool.TargetSize < 0 {
		errs = append(errs, fmt.Errorf("pool.target_size must be >= 0, got %d", c.Pool.TargetSize))
	}
	if c.Pool.TargetSize > 0 {
		if c.Pool.MaxAge <= 0 {
			errs = append(errs, fmt.Errorf("pool.max_age must be > 0, got %s", c.Pool.MaxAge))
		}
		if c.Pool.MaxRequests <= 0 {
			errs = append(errs, fmt.Errorf("pool.max_requests must be > 0, got %d", c.Pool.MaxRequests))
		}
		if c.Pool.MaintenanceInterval <= 0 {
			errs = append(errs, fmt.Errorf("pool.maintenance_interval must be > 0, got %s", c.Pool.MaintenanceInterval))
		}
	}

	if c.Run.AttemptTimeout <= 0 {
		errs = append(errs, fmt.Errorf("run.attempt_timeout must be > 0, got %s", c.Run.AttemptTimeout))
	}
	if c.Run.DefaultAgent == "" {
		errs = append(errs, fmt.Errorf("run.default_agent is required"))
	}

	// storage.type must be a known value.
	switch c.Storage.Type {
	case "memory", "postgres":
		// valid
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type))
	}

	// If storage.type is "postgres", DSN or DSNFile must be set.
	if c.Storage.Type == "postgres" {
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	}

	// auth.type must be a known value.
	switch c.Auth.Type {
	case "none", "apikey", "jwt":
		// valid
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	if c.Auth.Type == "jwt" && c.Auth.JWT.JWKSURL == "" {
		errs = append(errs, fmt.Errorf("auth.jwt.jwks_url is required when auth.type is \"jwt\""))
	}

	if c.Provider.TTLSeconds < 0 {
		errs = append(errs, fmt.Errorf("provider.ttl_seconds must be >= 0, got %d", c.Provider.TTLSeconds))
	}
	if c.Auth.RateLimit.DefaultRPM < 0 {
		errs = append(errs, fmt.Errorf("auth.rate_limit.default_rpm must be >= 0, got %d", c.Auth.RateLimit.DefaultRPM))
	}
	for tier, rpm := range c.Auth.RateLimit.Tiers {
		if rpm < 0 {
			errs = append(errs, fmt.Errorf("auth.rate_limit.tiers[%q] must be >= 0, got %d", tier, rpm))
		}
	}

	return errors.Join(errs...)
}
