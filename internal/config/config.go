// Package config loads service configuration from the environment and the
// YAML files it points at.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/jacksonlee411/hr-batch-adjust/pkg/authz"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	LogMode  string `env:"LOG_MODE"  envDefault:"prod"`
	Store    string `env:"STORE"     envDefault:"memory"`

	DatabaseURL string `env:"DATABASE_URL"`
	DBHost      string `env:"DB_HOST"     envDefault:"127.0.0.1"`
	DBPort      string `env:"DB_PORT"     envDefault:"5438"`
	DBUser      string `env:"DB_USER"     envDefault:"app"`
	DBPassword  string `env:"DB_PASSWORD" envDefault:"app"`
	DBName      string `env:"DB_NAME"     envDefault:"hr_batch_adjust"`
	DBSSLMode   string `env:"DB_SSLMODE"  envDefault:"disable"`

	// TenantHosts maps request hostnames to tenant UUIDs.
	TenantHosts map[string]string `env:"TENANT_HOSTS" envSeparator:"," envKeyValSeparator:"=" envDefault:"localhost=00000000-0000-0000-0000-000000000001"`
	// TrustProxy makes tenancy read X-Forwarded-Host.
	TrustProxy bool `env:"TRUST_PROXY"`

	AllowlistPath          string `env:"ALLOWLIST_PATH"           envDefault:"config/routing/allowlist.yaml"`
	AuthzModelPath         string `env:"AUTHZ_MODEL_PATH"`
	AuthzPolicyPath        string `env:"AUTHZ_POLICY_PATH"`
	AuthzMode              string `env:"AUTHZ_MODE"               envDefault:"enforce"`
	AuthzAllowDisabled     bool   `env:"AUTHZ_UNSAFE_ALLOW_DISABLED"`
	AdjustmentDefaultsPath string `env:"ADJUSTMENT_DEFAULTS_PATH"`

	ExecuteMaxRetries  uint64        `env:"EXECUTE_MAX_RETRIES"  envDefault:"5"`
	ExecuteRetryBase   time.Duration `env:"EXECUTE_RETRY_BASE"   envDefault:"50ms"`
	ExecuteTimeout     time.Duration `env:"EXECUTE_TIMEOUT"      envDefault:"30s"`
	PreviewParallelism int           `env:"PREVIEW_PARALLELISM"  envDefault:"8"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("config: invalid STORE %q (expected memory|postgres)", c.Store)
	}
	if c.PreviewParallelism < 1 {
		return fmt.Errorf("config: PREVIEW_PARALLELISM must be >= 1")
	}
	if c.ExecuteTimeout <= 0 || c.ExecuteRetryBase <= 0 {
		return fmt.Errorf("config: EXECUTE_TIMEOUT and EXECUTE_RETRY_BASE must be positive")
	}
	if (c.AuthzModelPath == "") != (c.AuthzPolicyPath == "") {
		return fmt.Errorf("config: AUTHZ_MODEL_PATH and AUTHZ_POLICY_PATH must be set together")
	}
	if len(c.TenantHosts) == 0 {
		return fmt.Errorf("config: TENANT_HOSTS is empty")
	}
	_, err := c.AuthzModeValue()
	return err
}

func (c Config) AuthzModeValue() (authz.Mode, error) {
	return authz.ParseMode(c.AuthzMode, c.AuthzAllowDisabled)
}

// DSN returns DATABASE_URL when set, otherwise builds one from the DB_* parts.
func (c Config) DSN() string {
	if v := strings.TrimSpace(c.DatabaseURL); v != "" {
		return v
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   c.DBHost + ":" + c.DBPort,
		Path:   "/" + c.DBName,
	}
	q := u.Query()
	q.Set("sslmode", c.DBSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
