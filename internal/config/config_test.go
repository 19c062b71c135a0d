package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Environment != "development" {
		t.Errorf("Environment = %q, want development", cfg.Server.Environment)
	}
	if cfg.IsProduction() {
		t.Error("IsProduction should be false by default")
	}
	if cfg.RateLimit.Window() != time.Minute {
		t.Errorf("Window = %v, want 1m", cfg.RateLimit.Window())
	}
	if len(cfg.Evm.Networks) == 0 {
		t.Error("default EVM networks should not be empty")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("REDIS_URL", "redis://cache:6379")
	t.Setenv("EVM_PRIVATE_KEY", "0xabc")
	t.Setenv("RATE_LIMIT_REQUESTS", "50")
	t.Setenv("RATE_LIMIT_WINDOW", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if !cfg.IsProduction() {
		t.Error("IsProduction should be true")
	}
	if cfg.Redis.URL != "redis://cache:6379" {
		t.Errorf("Redis.URL = %q", cfg.Redis.URL)
	}
	if cfg.Evm.PrivateKey != "0xabc" {
		t.Errorf("Evm.PrivateKey = %q", cfg.Evm.PrivateKey)
	}
	if cfg.RateLimit.Requests != 50 || cfg.RateLimit.WindowSeconds != 10 {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		value string
	}{
		{"zero port", "PORT", "0"},
		{"port out of range", "PORT", "70000"},
		{"zero rate limit", "RATE_LIMIT_REQUESTS", "0"},
		{"zero window", "RATE_LIMIT_WINDOW", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)
			if _, err := Load(); err == nil {
				t.Error("Load should reject invalid config")
			}
		})
	}
}
