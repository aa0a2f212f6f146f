// Package config loads server settings from defaults, an optional config
// file, AMM_-prefixed environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/atmx/adaptive-amm/internal/fee"
	"github.com/atmx/adaptive-amm/internal/fixedpoint"
	"github.com/atmx/adaptive-amm/internal/pool"
)

var ErrInvalid = errors.New("config: invalid value")

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration
	AdminToken  string
	LogLevel    string

	// Defaults for newly created pools.
	MinFeeBps        uint64
	MaxFeeBps        uint64
	BetaVol          uint64
	GammaSlip        uint64
	DeltaShallow     uint64
	EMAAlpha         string
	BreakerThreshold string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AMM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	defaults := fee.DefaultConfig()
	v.SetDefault("port", "8080")
	v.SetDefault("cache-ttl", 30*time.Second)
	v.SetDefault("log-level", "info")
	v.SetDefault("min-fee-bps", defaults.MinFeeBps)
	v.SetDefault("max-fee-bps", defaults.MaxFeeBps)
	v.SetDefault("beta-vol", defaults.BetaVol)
	v.SetDefault("gamma-slip", defaults.GammaSlip)
	v.SetDefault("delta-shallow", defaults.DeltaShallow)
	v.SetDefault("ema-alpha", "0.05")
	v.SetDefault("breaker-threshold", "0.2")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("amm")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		Port:             v.GetString("port"),
		DatabaseURL:      v.GetString("database-url"),
		RedisURL:         v.GetString("redis-url"),
		CacheTTL:         v.GetDuration("cache-ttl"),
		AdminToken:       v.GetString("admin-token"),
		LogLevel:         v.GetString("log-level"),
		MinFeeBps:        v.GetUint64("min-fee-bps"),
		MaxFeeBps:        v.GetUint64("max-fee-bps"),
		BetaVol:          v.GetUint64("beta-vol"),
		GammaSlip:        v.GetUint64("gamma-slip"),
		DeltaShallow:     v.GetUint64("delta-shallow"),
		EMAAlpha:         v.GetString("ema-alpha"),
		BreakerThreshold: v.GetString("breaker-threshold"),
	}

	return cfg, nil
}

// Level parses LogLevel (debug, info, warn, error).
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log-level %q", ErrInvalid, c.LogLevel)
	}
	return level, nil
}

// PoolDefaults builds and validates the parameters given to new pools.
func (c Config) PoolDefaults() (pool.Params, error) {
	alpha, err := fraction("ema-alpha", c.EMAAlpha)
	if err != nil {
		return pool.Params{}, err
	}
	threshold, err := fraction("breaker-threshold", c.BreakerThreshold)
	if err != nil {
		return pool.Params{}, err
	}
	p := pool.Params{
		Fee: fee.Config{
			MinFeeBps:    c.MinFeeBps,
			MaxFeeBps:    c.MaxFeeBps,
			BetaVol:      c.BetaVol,
			GammaSlip:    c.GammaSlip,
			DeltaShallow: c.DeltaShallow,
		},
		Alpha:            alpha,
		BreakerThreshold: threshold,
	}
	if err := p.Validate(); err != nil {
		return pool.Params{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return p, nil
}

// Validate checks every derived setting.
func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("%w: port is required", ErrInvalid)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("%w: cache-ttl must be positive", ErrInvalid)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	_, err := c.PoolDefaults()
	return err
}

func fraction(key, s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %s %q", ErrInvalid, key, s)
	}
	v, err := fixedpoint.FromDecimal(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalid, key, err)
	}
	return v, nil
}
