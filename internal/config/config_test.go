package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.CacheTTL != 30*time.Second || cfg.LogLevel != "info" {
		t.Errorf("unexpected server defaults: %+v", cfg)
	}
	if cfg.MinFeeBps != 30 || cfg.MaxFeeBps != 120 || cfg.BetaVol != 50 || cfg.GammaSlip != 100 || cfg.DeltaShallow != 20 {
		t.Errorf("unexpected fee defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	p, err := cfg.PoolDefaults()
	if err != nil {
		t.Fatalf("pool defaults: %v", err)
	}
	if p.Alpha.Uint64() != 50_000_000_000_000_000 {
		t.Errorf("expected alpha 0.05e18, got %s", p.Alpha.Dec())
	}
	if p.BreakerThreshold.Uint64() != 200_000_000_000_000_000 {
		t.Errorf("expected threshold 0.2e18, got %s", p.BreakerThreshold.Dec())
	}
}

func TestLoad_Precedence(t *testing.T) {
	file := filepath.Join(t.TempDir(), "amm.yaml")
	body := "max-fee-bps: 200\nema-alpha: \"0.1\"\nport: \"7000\"\n"
	if err := os.WriteFile(file, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("AMM_ADMIN_TOKEN", "from-env")
	t.Setenv("AMM_PORT", "9090")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "info", "")
	if err := flags.Parse([]string{"--log-level=debug"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(file, flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxFeeBps != 200 || cfg.EMAAlpha != "0.1" {
		t.Errorf("config file values not applied: %+v", cfg)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected env to override file port, got %s", cfg.Port)
	}
	if cfg.AdminToken != "from-env" {
		t.Errorf("expected admin token from env, got %q", cfg.AdminToken)
	}
	level, err := cfg.Level()
	if err != nil || level != slog.LevelDebug {
		t.Errorf("expected debug level from flag, got %v (%v)", level, err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		Port:             "8080",
		CacheTTL:         time.Second,
		LogLevel:         "info",
		MinFeeBps:        30,
		MaxFeeBps:        120,
		EMAAlpha:         "0.05",
		BreakerThreshold: "0.2",
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no port", func(c *Config) { c.Port = "" }},
		{"zero ttl", func(c *Config) { c.CacheTTL = 0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"inverted fee band", func(c *Config) { c.MinFeeBps = 200 }},
		{"fee above cap", func(c *Config) { c.MaxFeeBps = 5000 }},
		{"alpha not a number", func(c *Config) { c.EMAAlpha = "fast" }},
		{"zero alpha", func(c *Config) { c.EMAAlpha = "0" }},
		{"alpha above one", func(c *Config) { c.EMAAlpha = "1.01" }},
		{"negative threshold", func(c *Config) { c.BreakerThreshold = "-0.1" }},
		{"threshold too precise", func(c *Config) { c.BreakerThreshold = "0.0000000000000000001" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			if err := c.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}

	if err := base.Validate(); err != nil {
		t.Errorf("base config should validate: %v", err)
	}
}
