package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration of the actorgate API.
type Config struct {
	AuthSecret string        `env:"ACTORGATE_AUTH_SECRET,required,notEmpty"`
	Issuer     string        `env:"ACTORGATE_ISSUER"      envDefault:"actorgate"`
	AccessTTL  time.Duration `env:"ACCESS_TOKEN_TTL"      envDefault:"1h"`
	RefreshTTL time.Duration `env:"REFRESH_TOKEN_TTL"     envDefault:"168h"`
	BcryptCost int           `env:"ACTORGATE_BCRYPT_COST" envDefault:"10"`

	HTTPAddr string `env:"ACTORGATE_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"ACTORGATE_GRPC_ADDR" envDefault:":9090"`

	PostgresDSN string `env:"ACTORGATE_PG_DSN"`
	SQLitePath  string `env:"ACTORGATE_SQLITE_PATH"`
	RedisURL    string `env:"ACTORGATE_REDIS_URL"`

	RateBurst      int      `env:"ACTORGATE_RATE_BURST"      envDefault:"20"`
	RatePerSec     float64  `env:"ACTORGATE_RATE_PER_SEC"    envDefault:"5"`
	CORSOrigins    []string `env:"ACTORGATE_CORS_ORIGINS"    envSeparator:","`
	TrustedProxies []string `env:"ACTORGATE_TRUSTED_PROXIES" envSeparator:","`

	LivenessTTL         time.Duration     `env:"ACTORGATE_LIVENESS_TTL"            envDefault:"0s"`
	FederatedSecrets    map[string]string `env:"ACTORGATE_FEDERATED_SECRETS"       envSeparator:"," envKeyValSeparator:":"`
	OTelEndpoint        string            `env:"ACTORGATE_OTEL_ENDPOINT"`
	RotationPurgeEvery  time.Duration     `env:"ACTORGATE_ROTATION_PURGE_INTERVAL" envDefault:"1h"`
	ShutdownGracePeriod time.Duration     `env:"ACTORGATE_SHUTDOWN_GRACE"          envDefault:"10s"`
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadFrom reads the configuration from vars instead of the process
// environment.
func LoadFrom(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if strings.TrimSpace(c.AuthSecret) == "" {
		return fmt.Errorf("config: ACTORGATE_AUTH_SECRET is required")
	}
	if c.AccessTTL <= 0 {
		return fmt.Errorf("config: ACCESS_TOKEN_TTL must be positive, got %s", c.AccessTTL)
	}
	if c.RefreshTTL <= c.AccessTTL {
		return fmt.Errorf("config: REFRESH_TOKEN_TTL %s must exceed ACCESS_TOKEN_TTL %s", c.RefreshTTL, c.AccessTTL)
	}
	if c.RateBurst <= 0 || c.RatePerSec <= 0 {
		return fmt.Errorf("config: rate limit burst and rate must be positive")
	}
	if c.LivenessTTL < 0 {
		return fmt.Errorf("config: ACTORGATE_LIVENESS_TTL must not be negative")
	}
	if _, err := c.ProxyPrefixes(); err != nil {
		return err
	}
	for provider, secret := range c.FederatedSecrets {
		if strings.TrimSpace(provider) == "" || strings.TrimSpace(secret) == "" {
			return fmt.Errorf("config: ACTORGATE_FEDERATED_SECRETS has an empty provider or secret")
		}
	}
	return nil
}

// ProxyPrefixes parses TrustedProxies. Bare addresses become single-host
// prefixes.
func (c Config) ProxyPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("config: ACTORGATE_TRUSTED_PROXIES: %w", err)
			}
			out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("config: ACTORGATE_TRUSTED_PROXIES: %w", err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

// Backend names the primary store selected by the configuration.
func (c Config) Backend() string {
	switch {
	case c.PostgresDSN != "":
		return "postgres"
	case c.SQLitePath != "":
		return "sqlite"
	default:
		return "memory"
	}
}
