// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ward Contributors

// Package config loads Ward's configuration from an optional YAML file
// with command-line flag overrides.
package config

import (
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/wardmud/ward/internal/store"
	"github.com/wardmud/ward/internal/xdg"
)

// Config is the full runtime configuration.
type Config struct {
	Listen        ListenConfig  `koanf:"listen"`
	Store         StoreConfig   `koanf:"store"`
	Cache         CacheConfig   `koanf:"cache"`
	Auth          AuthConfig    `koanf:"auth"`
	TOTP          TOTPConfig    `koanf:"totp"`
	Notify        NotifyConfig  `koanf:"notify"`
	Observability ObsConfig     `koanf:"observability"`
	Log           LogConfig     `koanf:"log"`
}

// ListenConfig configures the line-based intake listener.
type ListenConfig struct {
	Addr string `koanf:"addr"`
}

// StoreConfig selects and configures the credential store backend.
type StoreConfig struct {
	Backend    string `koanf:"backend"`
	DSN        string `koanf:"dsn"`
	MaxRetries uint64 `koanf:"max_retries"`
}

// CacheConfig bounds the authentication verdict cache.
type CacheConfig struct {
	Capacity int           `koanf:"capacity"`
	TTL      time.Duration `koanf:"ttl"`
}

// AuthConfig holds the verification thresholds.
type AuthConfig struct {
	LockoutThreshold   int           `koanf:"lockout_threshold"`
	LockoutDuration    time.Duration `koanf:"lockout_duration"`
	SessionPasswordCap int           `koanf:"session_password_cap"`
	SecondFactorCap    int           `koanf:"second_factor_cap"`
	MinPasswordLength  int           `koanf:"min_password_length"`
	IdleTimeout        time.Duration `koanf:"idle_timeout"`
	SubmitCooldown     time.Duration `koanf:"submit_cooldown"`
	RateLimitMax       int           `koanf:"rate_limit_max"`
	RateLimitWindow    time.Duration `koanf:"rate_limit_window"`
	StoreTimeout       time.Duration `koanf:"store_timeout"`
	SweepInterval      time.Duration `koanf:"sweep_interval"`
}

// TOTPConfig configures authenticator verification.
type TOTPConfig struct {
	Issuer string `koanf:"issuer"`
	Skew   uint   `koanf:"skew"`
}

// NotifyConfig configures out-of-band code delivery. An empty AMQPURL
// falls back to the log sender.
type NotifyConfig struct {
	AMQPURL string `koanf:"amqp_url"`
}

// ObsConfig configures the metrics and health endpoint server.
type ObsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Listen: ListenConfig{Addr: ":4201"},
		Store: StoreConfig{
			Backend:    store.BackendSQLite,
			DSN:        filepath.Join(xdg.DataDir(), "ward.db"),
			MaxRetries: 3,
		},
		Cache: CacheConfig{Capacity: 4096, TTL: time.Minute},
		Auth: AuthConfig{
			LockoutThreshold:   5,
			LockoutDuration:    15 * time.Minute,
			SessionPasswordCap: 3,
			SecondFactorCap:    3,
			MinPasswordLength:  8,
			IdleTimeout:        2 * time.Minute,
			SubmitCooldown:     time.Second,
			RateLimitMax:       10,
			RateLimitWindow:    time.Minute,
			StoreTimeout:       5 * time.Second,
			SweepInterval:      10 * time.Second,
		},
		TOTP:          TOTPConfig{Issuer: "ward", Skew: 1},
		Observability: ObsConfig{Addr: "127.0.0.1:9100"},
		Log:           LogConfig{Format: "json", Level: "info"},
	}
}

// Load reads configuration from path (optional, YAML) and overlays any
// set flags. Flag names use dots matching the koanf keys, for example
// store.backend.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	cfg := Default()
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").
				With("path", path).
				Wrap(err)
		}
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").Wrap(err)
		}
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Code("CONFIG_PARSE_FAILED").Wrap(err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case store.BackendPostgres, store.BackendSQLite:
	default:
		return oops.Code("CONFIG_INVALID").
			With("backend", c.Store.Backend).
			Errorf("store backend must be %q or %q", store.BackendPostgres, store.BackendSQLite)
	}
	if c.Store.DSN == "" {
		return oops.Code("CONFIG_INVALID").Errorf("store DSN is required")
	}
	if c.Cache.Capacity <= 0 {
		return oops.Code("CONFIG_INVALID").
			With("capacity", c.Cache.Capacity).
			Errorf("cache capacity must be positive")
	}
	if c.Cache.TTL <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("cache TTL must be positive")
	}
	if c.Auth.LockoutThreshold <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("lockout threshold must be positive")
	}
	if c.Auth.LockoutDuration <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("lockout duration must be positive")
	}
	if c.Auth.MinPasswordLength < 1 {
		return oops.Code("CONFIG_INVALID").Errorf("minimum password length must be positive")
	}
	return nil
}
