// Package config loads facilitator service configuration from an optional
// config file and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the facilitator service.
type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Evm       EvmConfig
	Svm       SvmConfig
	Hypercore HypercoreConfig
}

type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	Environment string `mapstructure:"environment"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type RateLimitConfig struct {
	Requests      int `mapstructure:"requests"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

// Window returns the rate limit window as a duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

type EvmConfig struct {
	PrivateKey string   `mapstructure:"private_key"`
	RPCURL     string   `mapstructure:"rpc_url"`
	Networks   []string `mapstructure:"networks"`
}

type SvmConfig struct {
	PrivateKey string   `mapstructure:"private_key"`
	RPCURL     string   `mapstructure:"rpc_url"`
	Networks   []string `mapstructure:"networks"`
}

type HypercoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIURL  string `mapstructure:"api_url"`
}

// Load reads configuration with precedence: environment variables over the
// optional config.yaml over defaults.
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.environment", "development")
	v.SetDefault("redis.url", "redis://localhost:6379")
	v.SetDefault("rate_limit.requests", 1000)
	v.SetDefault("rate_limit.window_seconds", 60)
	v.SetDefault("evm.networks", []string{"eip155:8453", "eip155:84532"})
	v.SetDefault("svm.networks", []string{"solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp", "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"})
	v.SetDefault("hypercore.enabled", false)
	v.SetDefault("hypercore.api_url", "")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/p402")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":               "PORT",
		"server.environment":        "ENVIRONMENT",
		"redis.url":                 "REDIS_URL",
		"rate_limit.requests":       "RATE_LIMIT_REQUESTS",
		"rate_limit.window_seconds": "RATE_LIMIT_WINDOW",
		"evm.private_key":           "EVM_PRIVATE_KEY",
		"evm.rpc_url":               "EVM_RPC_URL",
		"svm.private_key":           "SVM_PRIVATE_KEY",
		"svm.rpc_url":               "SVM_RPC_URL",
		"hypercore.enabled":         "HYPERCORE_ENABLED",
		"hypercore.api_url":         "HYPERCORE_API_URL",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.RateLimit.Requests <= 0 {
		return fmt.Errorf("rate limit requests must be positive: %d", c.RateLimit.Requests)
	}
	if c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("rate limit window must be positive: %d", c.RateLimit.WindowSeconds)
	}
	return nil
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
