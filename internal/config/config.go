// ABOUTME: Configuration loading and parsing for bookshelf-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete bookshelf-gateway configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	GitHub      GitHubConfig      `yaml:"github" toml:"github"`
	Auth        AuthConfig        `yaml:"auth" toml:"auth"`
	Database    DatabaseConfig    `yaml:"database" toml:"database"`
	KV          KVConfig          `yaml:"kv" toml:"kv"`
	Actors      ActorsConfig      `yaml:"actors" toml:"actors"`
	Recommender RecommenderConfig `yaml:"recommender" toml:"recommender"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit" toml:"rate_limit"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the HTTP listener and the externally visible base URL
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// BaseURL is used to build the upstream callback URL and OAuth metadata
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

// GitHubConfig holds the upstream OAuth application credentials
type GitHubConfig struct {
	ClientID     string `yaml:"client_id" toml:"client_id"`
	ClientSecret string `yaml:"client_secret" toml:"client_secret"`
	// Endpoint overrides, only needed for GitHub Enterprise or tests
	AuthURL  string `yaml:"auth_url" toml:"auth_url"`
	TokenURL string `yaml:"token_url" toml:"token_url"`
	APIURL   string `yaml:"api_url" toml:"api_url"`
}

// AuthConfig holds signing material and lifetimes for the authorization flow
type AuthConfig struct {
	CookieSecret string `yaml:"cookie_secret" toml:"cookie_secret"`

	ConsentTTL      time.Duration `yaml:"-" toml:"-"`
	StateTTL        time.Duration `yaml:"-" toml:"-"`
	CodeTTL         time.Duration `yaml:"-" toml:"-"`
	AccessTokenTTL  time.Duration `yaml:"-" toml:"-"`
	RefreshTokenTTL time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ConsentTTLRaw      string `yaml:"consent_ttl" toml:"consent_ttl"`
	StateTTLRaw        string `yaml:"state_ttl" toml:"state_ttl"`
	CodeTTLRaw         string `yaml:"code_ttl" toml:"code_ttl"`
	AccessTokenTTLRaw  string `yaml:"access_token_ttl" toml:"access_token_ttl"`
	RefreshTokenTTLRaw string `yaml:"refresh_token_ttl" toml:"refresh_token_ttl"`
}

// DatabaseConfig holds the SQLite path for durable actor state
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// KVConfig selects the key-value backend used for clients, grants and tokens
type KVConfig struct {
	Driver        string `yaml:"driver" toml:"driver"` // "badger" or "redis"
	Path          string `yaml:"path" toml:"path"`     // badger directory
	RedisAddr     string `yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string `yaml:"redis_password" toml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" toml:"redis_db"`
}

// ActorsConfig holds session actor lifecycle settings
type ActorsConfig struct {
	IdleTimeout    time.Duration `yaml:"-" toml:"-"`
	IdleTimeoutRaw string        `yaml:"idle_timeout" toml:"idle_timeout"`
}

// RecommenderConfig points at an OpenAI-compatible completion endpoint
type RecommenderConfig struct {
	BaseURL   string `yaml:"base_url" toml:"base_url"`
	APIKey    string `yaml:"api_key" toml:"api_key"`
	Model     string `yaml:"model" toml:"model"`
	MaxTokens int    `yaml:"max_tokens" toml:"max_tokens"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// RateLimitConfig limits requests per client IP on the OAuth endpoints
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// minCookieSecretLen is the shortest accepted HMAC key for consent cookies.
const minCookieSecretLen = 32

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills optional fields that were left empty.
func (c *Config) applyDefaults() {
	if c.GitHub.APIURL == "" {
		c.GitHub.APIURL = "https://api.github.com"
	}
	if c.Auth.ConsentTTL == 0 {
		c.Auth.ConsentTTL = 30 * 24 * time.Hour
	}
	if c.Auth.StateTTL == 0 {
		c.Auth.StateTTL = 10 * time.Minute
	}
	if c.Auth.CodeTTL == 0 {
		c.Auth.CodeTTL = 10 * time.Minute
	}
	if c.Auth.AccessTokenTTL == 0 {
		c.Auth.AccessTokenTTL = time.Hour
	}
	if c.Auth.RefreshTokenTTL == 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.KV.Driver == "" {
		c.KV.Driver = "badger"
	}
	if c.Actors.IdleTimeout == 0 {
		c.Actors.IdleTimeout = 30 * time.Minute
	}
	if c.Recommender.MaxTokens == 0 {
		c.Recommender.MaxTokens = 512
	}
	if c.Recommender.Timeout == 0 {
		c.Recommender.Timeout = 30 * time.Second
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 5
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is required")
	}
	if c.Server.BaseURL == "" {
		return errors.New("server.base_url is required")
	}

	if c.GitHub.ClientID == "" {
		return errors.New("github.client_id is required")
	}
	if c.GitHub.ClientSecret == "" {
		return errors.New("github.client_secret is required")
	}

	if c.Auth.CookieSecret == "" {
		return errors.New("auth.cookie_secret is required")
	}
	if len(c.Auth.CookieSecret) < minCookieSecretLen {
		return fmt.Errorf("auth.cookie_secret must be at least %d bytes", minCookieSecretLen)
	}

	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}

	switch c.KV.Driver {
	case "badger":
		if c.KV.Path == "" {
			return errors.New("kv.path is required for the badger driver")
		}
	case "redis":
		if c.KV.RedisAddr == "" {
			return errors.New("kv.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("kv.driver %q is not supported (use badger or redis)", c.KV.Driver)
	}

	if c.Recommender.Model == "" {
		return errors.New("recommender.model is required")
	}
	if c.Recommender.APIKey == "" && c.Recommender.BaseURL == "" {
		return errors.New("recommender.api_key or recommender.base_url is required")
	}
	if c.Recommender.MaxTokens < 0 {
		return errors.New("recommender.max_tokens must not be negative")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.consent_ttl", cfg.Auth.ConsentTTLRaw, &cfg.Auth.ConsentTTL},
		{"auth.state_ttl", cfg.Auth.StateTTLRaw, &cfg.Auth.StateTTL},
		{"auth.code_ttl", cfg.Auth.CodeTTLRaw, &cfg.Auth.CodeTTL},
		{"auth.access_token_ttl", cfg.Auth.AccessTokenTTLRaw, &cfg.Auth.AccessTokenTTL},
		{"auth.refresh_token_ttl", cfg.Auth.RefreshTokenTTLRaw, &cfg.Auth.RefreshTokenTTL},
		{"actors.idle_timeout", cfg.Actors.IdleTimeoutRaw, &cfg.Actors.IdleTimeout},
		{"recommender.timeout", cfg.Recommender.TimeoutRaw, &cfg.Recommender.Timeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
