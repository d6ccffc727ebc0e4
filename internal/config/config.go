package config

import (
	"fmt"
	"net"
	"net/url"
	"os"

	"github.com/goccy/go-yaml"
)

// Config holds the application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Identity IdentityConfig `yaml:"identity"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AppConfig holds app-specific configuration
type AppConfig struct {
	Name string `yaml:"name"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host           string          `yaml:"host"`
	Port           int             `yaml:"port"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Max        int `yaml:"max"`
	Expiration int `yaml:"expiration"` // seconds
}

// DatabaseConfig holds database-specific configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig holds Redis-specific configuration. Redis is optional;
// when disabled the revocation fast path is skipped entirely.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// IdentityConfig holds the identity provider endpoint configuration
type IdentityConfig struct {
	URL     string `yaml:"url"`
	APIKey  string `yaml:"api_key"`
	Timeout int    `yaml:"timeout"` // seconds
}

// BridgeConfig holds bridge proxy configuration
type BridgeConfig struct {
	TargetBaseURL    string `yaml:"target_base_url"`
	RefreshLookahead int    `yaml:"refresh_lookahead"` // seconds
	RequestTimeout   int    `yaml:"request_timeout"`   // seconds
}

// LoggingConfig holds logging-specific configuration
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RateLimit.Max == 0 {
		c.Server.RateLimit.Max = 100
	}
	if c.Server.RateLimit.Expiration == 0 {
		c.Server.RateLimit.Expiration = 60
	}
	if c.Identity.Timeout == 0 {
		c.Identity.Timeout = 10
	}
	if c.Bridge.RefreshLookahead == 0 {
		c.Bridge.RefreshLookahead = 60
	}
	if c.Bridge.RequestTimeout == 0 {
		c.Bridge.RequestTimeout = 15
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) validate() error {
	if c.Identity.URL == "" {
		return fmt.Errorf("identity.url is required")
	}
	if c.Bridge.TargetBaseURL == "" {
		return fmt.Errorf("bridge.target_base_url is required")
	}
	return nil
}

// Address returns the server address in the format "host:port"
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Address returns the Redis address in the format "host:port"
func (r *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// quoteDSNValue quotes a DSN value if it contains spaces or special characters.
// Single quotes inside the value are escaped by doubling them.
func quoteDSNValue(value string) string {
	needsQuoting := false
	for _, r := range value {
		if r == ' ' || r == '\'' || r == '\\' || r == '=' {
			needsQuoting = true
			break
		}
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '-' || r == '_' || r == '/' || r == '@' || r == ':') {
			needsQuoting = true
			break
		}
	}

	if !needsQuoting {
		return value
	}

	escaped := ""
	for _, r := range value {
		if r == '\'' {
			escaped += "''"
		} else {
			escaped += string(r)
		}
	}

	return "'" + escaped + "'"
}

// DSN returns the database connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		quoteDSNValue(d.Host),
		d.Port,
		quoteDSNValue(d.User),
		quoteDSNValue(d.Password),
		quoteDSNValue(d.DBName),
		quoteDSNValue(d.SSLMode),
	)
}

// URL returns the database connection URL in postgres:// format for golang-migrate
func (d *DatabaseConfig) URL() string {
	userInfo := url.UserPassword(d.User, d.Password)
	host := net.JoinHostPort(d.Host, fmt.Sprintf("%d", d.Port))

	u := &url.URL{
		Scheme:   "postgres",
		User:     userInfo,
		Host:     host,
		Path:     "/" + d.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s&search_path=public", url.QueryEscape(d.SSLMode)),
	}

	return u.String()
}
