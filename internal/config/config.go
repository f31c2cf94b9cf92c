// Package config loads application configuration from an optional .env
// file and TENANTRY_-prefixed environment variables using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// devSecretKeyBase is used only when APP_ENV=development and no secret
	// is configured.
	devSecretKeyBase = "tenantry-development-secret-key-base-do-not-use"
)

type Config struct {
	Addr    string `mapstructure:"ADDR"`
	DBPath  string `mapstructure:"DB_PATH"`
	BaseURL string `mapstructure:"BASE_URL"`
	Env     string `mapstructure:"APP_ENV"`

	// SecretKeyBase is the root secret every signing key is derived from.
	SecretKeyBase string `mapstructure:"SECRET_KEY_BASE"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	PostmarkToken string `mapstructure:"POSTMARK_TOKEN"`
	FromEmail     string `mapstructure:"FROM_EMAIL"`

	// AdminEmails may impersonate other users. Comma-separated in the
	// environment.
	AdminEmails []string `mapstructure:"ADMIN_EMAILS"`

	// TrustedProxies are the IPs or CIDR ranges of reverse proxies whose
	// CF-Connecting-IP and X-Forwarded-For headers are believed. Empty
	// means forwarding headers are ignored.
	TrustedProxies []string `mapstructure:"TRUSTED_PROXIES"`

	// RedisURL selects the shared rate limit counter; empty keeps counts in
	// memory.
	RedisURL string `mapstructure:"REDIS_URL"`

	SignupsEnabled  bool          `mapstructure:"SIGNUPS_ENABLED"`
	CodeTTL         time.Duration `mapstructure:"CODE_TTL"`
	EmailChangeTTL  time.Duration `mapstructure:"EMAIL_CHANGE_TTL"`
	CleanupInterval time.Duration `mapstructure:"CLEANUP_INTERVAL"`
}

// Load reads .env from the working directory, if present, then the
// environment.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit .env path. A missing file is ignored;
// environment variables override values from the file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")
	_ = v.ReadInConfig() // a missing .env is fine

	v.SetEnvPrefix("TENANTRY")
	v.AutomaticEnv()

	v.SetDefault("ADDR", ":8080")
	v.SetDefault("DB_PATH", "tenantry.db")
	v.SetDefault("BASE_URL", "http://localhost:8080")
	v.SetDefault("APP_ENV", EnvProduction)
	v.SetDefault("SECRET_KEY_BASE", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("POSTMARK_TOKEN", "")
	v.SetDefault("FROM_EMAIL", "noreply@localhost")
	v.SetDefault("ADMIN_EMAILS", []string{})
	v.SetDefault("TRUSTED_PROXIES", []string{})
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("SIGNUPS_ENABLED", false)
	v.SetDefault("CODE_TTL", "15m")
	v.SetDefault("EMAIL_CHANGE_TTL", "30m")
	v.SetDefault("CLEANUP_INTERVAL", "10m")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.AdminEmails = splitList(cfg.AdminEmails)
	cfg.TrustedProxies = splitList(cfg.TrustedProxies)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return errors.New("config: ADDR must be set")
	}
	if c.SecretKeyBase == "" && c.Development() {
		c.SecretKeyBase = devSecretKeyBase
	}
	if len(c.SecretKeyBase) < 32 {
		return errors.New("config: SECRET_KEY_BASE must be at least 32 bytes")
	}
	if c.CodeTTL <= 0 || c.EmailChangeTTL <= 0 || c.CleanupInterval <= 0 {
		return errors.New("config: CODE_TTL, EMAIL_CHANGE_TTL and CLEANUP_INTERVAL must be positive")
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("config: LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

func (c *Config) Development() bool {
	return c.Env == EnvDevelopment
}

// SecureCookies reports whether cookies must carry the Secure attribute.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.BaseURL, "https://")
}

// splitList flattens comma-separated entries and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
