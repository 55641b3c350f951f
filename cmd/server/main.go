// Command server runs the agentbox gateway: the warm sandbox pool, the
// execution pipeline, and the OpenAI-compatible HTTP surface.
//
// Configuration is layered: built-in defaults, then a YAML file (the
// -config flag, AGENTBOX_CONFIG, ./config.yaml, or
// /etc/agentbox/config.yaml), then AGENTBOX_* environment overrides.
// The common ones:
//
//	AGENTBOX_PROVIDER_URL - Sandbox provider base URL (required)
//	AGENTBOX_PORT         - Listen port (default: 8080)
//	AGENTBOX_POOL_SIZE    - Warm pool target size (default: 2, 0 disables)
//	AGENTBOX_AGENT        - Default CLI agent (default: claude-cli)
//	AGENTBOX_STORAGE      - Run ledger: "memory" or "postgres" (default: memory)
//
// See pkg/config for the full tree.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/arenabench/agentbox/pkg/api"
	"github.com/arenabench/agentbox/pkg/auth"
	"github.com/arenabench/agentbox/pkg/auth/apikey"
	authjwt "github.com/arenabench/agentbox/pkg/auth/jwt"
	"github.com/arenabench/agentbox/pkg/auth/noop"
	"github.com/arenabench/agentbox/pkg/config"
	"github.com/arenabench/agentbox/pkg/debug"
	"github.com/arenabench/agentbox/pkg/pool"
	agentrun "github.com/arenabench/agentbox/pkg/run"
	"github.com/arenabench/agentbox/pkg/sandbox"
	"github.com/arenabench/agentbox/pkg/storage/memory"
	"github.com/arenabench/agentbox/pkg/storage/postgres"
	"github.com/arenabench/agentbox/pkg/transport"
	transporthttp "github.com/arenabench/agentbox/pkg/transport/http"
	"github.com/arenabench/agentbox/pkg/watch"
)

// storageInitTimeout bounds the postgres connection attempt at startup.
const storageInitTimeout = 30 * time.Second

// watchIdleTimeout retires run event channels nobody is reading.
const watchIdleTimeout = 5 * time.Minute

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	debug.Init(cfg.Logging.Debug, cfg.Logging.Level)

	if cfg.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required (set AGENTBOX_PROVIDER_URL)")
	}

	// Run ledger.
	store, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	defer store.Close()

	// Provider client, shared by the runner and the pool.
	client := sandbox.NewClient(cfg.Provider.BaseURL, cfg.Provider.Token, cfg.Provider.RequestTimeout)
	defer client.Close()

	// Run event fan-out for the /v1/runs/{id}/events debug stream.
	events := watch.NewRegistry(watchIdleTimeout)
	defer events.Close()

	pack, err := agentrun.LoadPack(cfg.Run.Workdir, cfg.Run.ArtifactsDir, cfg.Run.PackDir, cfg.Run.BootstrapScript)
	if err != nil {
		return fmt.Errorf("loading agent pack: %w", err)
	}

	runner, err := agentrun.NewRunner(client, agentrun.Config{
		Agent:        cfg.Run.DefaultAgent,
		Model:        cfg.Run.DefaultModel,
		Timeout:      cfg.Run.AttemptTimeout,
		WorkDir:      cfg.Run.Workdir,
		ArtifactsDir: cfg.Run.ArtifactsDir,
		Pack:         pack,
		Notify:       events.Publish,
	})
	if err != nil {
		return fmt.Errorf("creating runner: %w", err)
	}

	pm, err := pool.NewManager(client, runner, pool.Config{
		TargetSize:  cfg.Pool.TargetSize,
		MaxAge:      cfg.Pool.MaxAge,
		MaxRequests: cfg.Pool.MaxRequests,
		Interval:    cfg.Pool.MaintenanceInterval,
		EagerRefill: cfg.Pool.EagerRefill,
		Template:    cfg.Provider.Template,
		TTLSeconds:  cfg.Provider.TTLSeconds,
		WorkDir:     cfg.Run.Workdir,
	})
	if err != nil {
		return fmt.Errorf("creating pool: %w", err)
	}
	pm.Start(context.Background())
	defer pm.Stop()

	gw, err := transport.NewGateway(pm, store, transport.GatewayConfig{
		DefaultAgent: cfg.Run.DefaultAgent,
		DefaultModel: cfg.Run.DefaultModel,
		Validation:   api.DefaultValidationConfig(),
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	metricsPath := ""
	if cfg.Observability.Metrics.Enabled {
		metricsPath = cfg.Observability.Metrics.Path
	}

	chain, err := buildAuthChain(cfg.Auth)
	if err != nil {
		return fmt.Errorf("creating auth chain: %w", err)
	}
	bypass := []string{"/healthz"}
	if metricsPath != "" {
		bypass = append(bypass, metricsPath)
	}

	srv := transporthttp.NewServer(gw, store, events,
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithMetricsPath(metricsPath),
		transporthttp.WithReadHeaderTimeout(cfg.Server.ReadTimeout),
		transporthttp.WithMiddleware(auth.Middleware(chain, buildRateLimiter(cfg.Auth.RateLimit), bypass)),
	)

	slog.Info("agentbox gateway starting",
		"port", cfg.Server.Port,
		"provider", cfg.Provider.BaseURL,
		"pool_target", cfg.Pool.TargetSize,
		"agent", cfg.Run.DefaultAgent,
		"storage", cfg.Storage.Type,
		"auth", cfg.Auth.Type,
	)
	return srv.ListenAndServe()
}

// buildStore creates the configured run ledger backend.
func buildStore(cfg *config.Config) (transport.RunStore, error) {
	switch cfg.Storage.Type {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), storageInitTimeout)
		defer cancel()
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Storage.Postgres.DSN,
			MaxConns:       cfg.Storage.Postgres.MaxConns,
			MigrateOnStart: cfg.Storage.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("storage enabled", "type", "postgres")
		return store, nil
	default:
		slog.Info("storage enabled", "type", "memory", "max_size", cfg.Storage.MaxSize)
		return memory.New(cfg.Storage.MaxSize), nil
	}
}

// buildRateLimiter constructs the per-identity limiter, or nil when no
// budget is configured anywhere.
func buildRateLimiter(cfg config.RateLimitConfig) auth.RateLimiter {
	if cfg.DefaultRPM <= 0 && len(cfg.Tiers) == 0 {
		return nil
	}
	tiers := make(map[string]auth.TierConfig, len(cfg.Tiers))
	for name, rpm := range cfg.Tiers {
		tiers[name] = auth.TierConfig{RequestsPerMinute: rpm}
	}
	slog.Info("rate limiting enabled", "default_rpm", cfg.DefaultRPM, "tiers", len(tiers))
	return auth.NewInProcessLimiter(tiers, cfg.DefaultRPM)
}

// buildAuthChain assembles the authenticator chain from config. With
// type=none every request passes as anonymous; apikey and jwt lock the
// default decision down so an abstaining chain rejects.
func buildAuthChain(cfg config.AuthConfig) (*auth.Chain, error) {
	switch cfg.Type {
	case "apikey":
		if len(cfg.APIKeys) == 0 {
			return nil, fmt.Errorf("auth.type is \"apikey\" but no api_keys are configured")
		}
		entries := make([]apikey.Entry, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			entries = append(entries, apikey.Entry{
				Key:         k.Key,
				Subject:     k.Subject,
				TenantID:    k.TenantID,
				ServiceTier: k.ServiceTier,
			})
		}
		return &auth.Chain{
			Authenticators:  []auth.Authenticator{apikey.New(entries)},
			DefaultDecision: auth.No,
		}, nil
	case "jwt":
		return &auth.Chain{
			Authenticators: []auth.Authenticator{authjwt.New(authjwt.Config{
				Issuer:      cfg.JWT.Issuer,
				Audience:    cfg.JWT.Audience,
				JWKSURL:     cfg.JWT.JWKSURL,
				UserClaim:   cfg.JWT.UserClaim,
				TenantClaim: cfg.JWT.TenantClaim,
			})},
			DefaultDecision: auth.No,
		}, nil
	default:
		return &auth.Chain{
			Authenticators:  []auth.Authenticator{&noop.Authenticator{}},
			DefaultDecision: auth.Yes,
		}, nil
	}
}
