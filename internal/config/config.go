// Package config provides configuration management for the trader.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Cache defaults used when the corresponding durations are unset.
const (
	defaultChainTTL = 30 * time.Second
	defaultFundsTTL = 60 * time.Second
	// defaultStaleSessionAfter flags Breeze session tokens older than
	// this; ICICI tokens typically expire at end of day.
	defaultStaleSessionAfter = 8 * time.Hour
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Server      ServerConfig      `yaml:"server"`
	Cache       CacheConfig       `yaml:"cache"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines Breeze API settings. Credentials normally arrive
// via ${VAR} expansion from the environment (.env is loaded at startup);
// the daily session token is supplied per trading day.
type BrokerConfig struct {
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	SessionToken string `yaml:"session_token"`
	APIEndpoint  string `yaml:"api_endpoint"` // empty = production
}

// ServerConfig defines the JSON API server settings.
type ServerConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"` // empty disables auth
}

// CacheConfig defines TTLs as duration strings ("30s", "1m").
type CacheConfig struct {
	OptionChainTTL    string `yaml:"option_chain_ttl"`
	FundsTTL          string `yaml:"funds_ttl"`
	StaleSessionAfter string `yaml:"stale_session_after"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Broker.APIKey == "" {
		return fmt.Errorf("broker.api_key is required")
	}
	if c.Broker.APISecret == "" {
		return fmt.Errorf("broker.api_secret is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535]")
	}

	switch strings.ToLower(c.Environment.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("environment.log_level %q is not a known level", c.Environment.LogLevel)
	}

	for field, v := range map[string]string{
		"cache.option_chain_ttl":    c.Cache.OptionChainTTL,
		"cache.funds_ttl":           c.Cache.FundsTTL,
		"cache.stale_session_after": c.Cache.StaleSessionAfter,
	} {
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s invalid: %w", field, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", field)
		}
	}

	return nil
}

// OptionChainTTL returns the configured chain cache TTL or its default.
func (c *Config) OptionChainTTL() time.Duration {
	return parseDurationOr(c.Cache.OptionChainTTL, defaultChainTTL)
}

// FundsTTL returns the configured funds cache TTL or its default.
func (c *Config) FundsTTL() time.Duration {
	return parseDurationOr(c.Cache.FundsTTL, defaultFundsTTL)
}

// StaleSessionAfter returns the configured session staleness horizon.
func (c *Config) StaleSessionAfter() time.Duration {
	return parseDurationOr(c.Cache.StaleSessionAfter, defaultStaleSessionAfter)
}

func parseDurationOr(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
