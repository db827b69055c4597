// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

const envProduction = "production"

// Config holds every knob of the authorization service.
type Config struct {
	Environment string `env:"PEOPLEGATE_ENV" envDefault:"development"`
	LogLevel    string `env:"PEOPLEGATE_LOG_LEVEL" envDefault:"info"`

	HTTPAddr        string        `env:"PEOPLEGATE_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr        string        `env:"PEOPLEGATE_GRPC_ADDR" envDefault:":9090"`
	ShutdownTimeout time.Duration `env:"PEOPLEGATE_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RateLimitRPS    float64       `env:"PEOPLEGATE_RATE_LIMIT_RPS" envDefault:"50"`
	RateLimitBurst  int           `env:"PEOPLEGATE_RATE_LIMIT_BURST" envDefault:"100"`

	PostgresDSN string        `env:"PEOPLEGATE_PG_DSN"`
	RedisAddr   string        `env:"PEOPLEGATE_REDIS_ADDR"`
	CacheTTL    time.Duration `env:"PEOPLEGATE_CACHE_TTL" envDefault:"5m"`

	SessionSecret string `env:"PEOPLEGATE_SESSION_SECRET"`
	SessionIssuer string `env:"PEOPLEGATE_SESSION_ISSUER" envDefault:"peoplegate"`

	// DevAdminOverride enables the operator bypass outside production.
	DevAdminOverride bool `env:"PEOPLEGATE_DEV_ADMIN_OVERRIDE"`
	// DevAdminOverrideInProduction is the explicit opt-in required to keep
	// the bypass active when Environment is production.
	DevAdminOverrideInProduction bool     `env:"PEOPLEGATE_DEV_ADMIN_OVERRIDE_ALLOW_PRODUCTION"`
	OperatorEmails               []string `env:"PEOPLEGATE_OPERATOR_EMAILS" envSeparator:","`
	PlatformOrgID                string   `env:"PEOPLEGATE_PLATFORM_ORG_ID"`

	BreakGlassApprovalLimit  int           `env:"PEOPLEGATE_BREAK_GLASS_APPROVAL_LIMIT" envDefault:"5"`
	BreakGlassApprovalWindow time.Duration `env:"PEOPLEGATE_BREAK_GLASS_APPROVAL_WINDOW" envDefault:"15m"`
	BreakGlassTTL            time.Duration `env:"PEOPLEGATE_BREAK_GLASS_TTL" envDefault:"30m"`

	RoleCatalogPath string `env:"PEOPLEGATE_ROLE_CATALOG"`
	PoliciesPath    string `env:"PEOPLEGATE_ABAC_POLICIES"`
}

// Load reads the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads configuration from vars instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	emails := c.OperatorEmails[:0]
	for _, e := range c.OperatorEmails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			emails = append(emails, e)
		}
	}
	c.OperatorEmails = emails
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.IsProduction() && strings.TrimSpace(c.SessionSecret) == "" {
		errs = append(errs, errors.New("PEOPLEGATE_SESSION_SECRET is required in production"))
	}
	if c.BreakGlassApprovalLimit <= 0 {
		errs = append(errs, errors.New("PEOPLEGATE_BREAK_GLASS_APPROVAL_LIMIT must be positive"))
	}
	if c.BreakGlassApprovalWindow <= 0 {
		errs = append(errs, errors.New("PEOPLEGATE_BREAK_GLASS_APPROVAL_WINDOW must be positive"))
	}
	if c.BreakGlassTTL <= 0 {
		errs = append(errs, errors.New("PEOPLEGATE_BREAK_GLASS_TTL must be positive"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("PEOPLEGATE_RATE_LIMIT_RPS and _BURST must be positive"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the process runs in production.
func (c Config) IsProduction() bool { return c.Environment == envProduction }

// DevOverrideActive is the effective state of the operator bypass: on only
// when enabled and either outside production or explicitly allowed there.
func (c Config) DevOverrideActive() bool {
	if !c.DevAdminOverride {
		return false
	}
	return !c.IsProduction() || c.DevAdminOverrideInProduction
}
