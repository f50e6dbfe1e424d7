// Package config loads and validates the identity-sync configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the IDS_ prefix (IDS_DATABASE_HOST overrides
// database.host). Secrets may also be written as ${VAR} references in the YAML file
// and are expanded after loading.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/identity-sync/identity-sync/internal/audit"
	"github.com/identity-sync/identity-sync/internal/safego"
	"github.com/spf13/viper"
)

// Accepted values for auth.verifier and security.rate_limiting.backend.
const (
	VerifierOIDC  = "oidc"
	VerifierHS256 = "hs256"
	LimiterMemory = "memory"
	LimiterRedis  = "redis"
)

const (
	envPrefix      = "IDS"
	defaultCfgName = "config"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Security  SecurityConfig  `mapstructure:"security"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// DevMode relaxes secret requirements for local development.
	DevMode bool `mapstructure:"dev_mode"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// AuthConfig selects and configures the bearer token verifier
type AuthConfig struct {
	Verifier string      `mapstructure:"verifier"` // oidc | hs256
	OIDC     OIDCConfig  `mapstructure:"oidc"`
	HS256    HS256Config `mapstructure:"hs256"`
}

// OIDCConfig configures verification of provider-issued tokens.
// With JWKSURL set, discovery is skipped and keys are fetched from that URL directly.
type OIDCConfig struct {
	IssuerURL string `mapstructure:"issuer_url"`
	ClientID  string `mapstructure:"client_id"`
	JWKSURL   string `mapstructure:"jwks_url"`
	// SkipClientIDCheck accepts tokens without a matching aud claim, as issued for
	// access tokens by some providers (e.g. Cognito).
	SkipClientIDCheck bool `mapstructure:"skip_client_id_check"`
	// FetchUserInfo fills a missing email claim from the userinfo endpoint.
	FetchUserInfo bool `mapstructure:"fetch_userinfo"`
}

// HS256Config configures shared-secret token verification
type HS256Config struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// IdentityConfig holds reconciliation settings
type IdentityConfig struct {
	// DefaultRole is granted to identities on creation. Reloaded on config file change.
	DefaultRole string `mapstructure:"default_role"`
	// AdminAuthority guards the admin and system sync endpoints.
	AdminAuthority string `mapstructure:"admin_authority"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
}

// CORSConfig holds CORS configuration for browser and mobile web clients
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	Burst             int    `mapstructure:"burst"`
	Backend           string `mapstructure:"backend"` // memory | redis
}

// RedisConfig holds the Redis connection used by the distributed rate limiter
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AuditConfig holds secondary audit shipping configuration. The database copy is
// always written.
type AuditConfig struct {
	Shippers []audit.ShipperConfig `mapstructure:"shippers"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// AutomaticEnv alone does not populate nested structs during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",
		"server.dev_mode",

		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Auth
		"auth.verifier",
		"auth.oidc.issuer_url",
		"auth.oidc.client_id",
		"auth.oidc.jwks_url",
		"auth.oidc.skip_client_id_check",
		"auth.oidc.fetch_userinfo",
		"auth.hs256.secret",
		"auth.hs256.issuer",
		"auth.hs256.token_ttl",

		// Identity
		"identity.default_role",
		"identity.admin_authority",

		// Security
		"security.cors.allowed_origins",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.rate_limiting.backend",

		// Redis
		"redis.addr",
		"redis.password",
		"redis.db",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.metrics.enabled",
		"telemetry.metrics.port",
	}

	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(defaultCfgName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/identity-sync")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Auth.HS256.Secret = expandEnv(cfg.Auth.HS256.Secret)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	for i := range cfg.Audit.Shippers {
		if wh := cfg.Audit.Shippers[i].Webhook; wh != nil {
			for k, val := range wh.Headers {
				wh.Headers[k] = expandEnv(val)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// LoadAndWatch loads the configuration and, when a config file is in use, watches it.
// onChange receives every successfully reloaded and validated config; a reload that
// fails validation is logged and ignored.
func LoadAndWatch(configPath string, onChange func(*Config)) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	if v.ConfigFileUsed() == "" {
		return cfg, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		defer safego.Recover("config-reload")
		next, err := decode(v)
		if err != nil {
			slog.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		slog.Info("configuration reloaded", "file", e.Name, "op", e.Op.String())
		onChange(next)
	})
	v.WatchConfig()
	return cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.dev_mode", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "identity_sync")
	v.SetDefault("database.user", "identity")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Auth defaults
	v.SetDefault("auth.verifier", VerifierOIDC)
	v.SetDefault("auth.oidc.skip_client_id_check", false)
	v.SetDefault("auth.oidc.fetch_userinfo", false)
	v.SetDefault("auth.hs256.issuer", "identity-sync")
	v.SetDefault("auth.hs256.token_ttl", "1h")

	// Identity defaults
	v.SetDefault("identity.default_role", "USER")
	v.SetDefault("identity.admin_authority", "ADMIN")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 60)
	v.SetDefault("security.rate_limiting.burst", 10)
	v.SetDefault("security.rate_limiting.backend", LimiterMemory)

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.port", 9090)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	switch c.Auth.Verifier {
	case VerifierOIDC:
		if c.Auth.OIDC.IssuerURL == "" {
			return fmt.Errorf("auth.oidc.issuer_url is required when auth.verifier is oidc")
		}
		if c.Auth.OIDC.ClientID == "" && !c.Auth.OIDC.SkipClientIDCheck {
			return fmt.Errorf("auth.oidc.client_id is required unless auth.oidc.skip_client_id_check is set")
		}
	case VerifierHS256:
		if c.Auth.HS256.Secret == "" && !c.Server.DevMode {
			return fmt.Errorf("auth.hs256.secret is required outside dev mode")
		}
	default:
		return fmt.Errorf("invalid auth.verifier: %s (must be oidc or hs256)", c.Auth.Verifier)
	}

	if strings.TrimSpace(c.Identity.AdminAuthority) == "" {
		return fmt.Errorf("identity.admin_authority is required")
	}

	if c.Security.RateLimiting.Enabled {
		if c.Security.RateLimiting.RequestsPerMinute < 1 {
			return fmt.Errorf("security.rate_limiting.requests_per_minute must be positive")
		}
		switch c.Security.RateLimiting.Backend {
		case LimiterMemory:
		case LimiterRedis:
			if c.Redis.Addr == "" {
				return fmt.Errorf("redis.addr is required for the redis rate limiting backend")
			}
		default:
			return fmt.Errorf("invalid security.rate_limiting.backend: %s (must be memory or redis)", c.Security.RateLimiting.Backend)
		}
	}

	if c.Telemetry.Metrics.Enabled && (c.Telemetry.Metrics.Port < 1 || c.Telemetry.Metrics.Port > 65535) {
		return fmt.Errorf("invalid telemetry.metrics.port: %d", c.Telemetry.Metrics.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
