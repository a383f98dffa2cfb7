// Package config loads the graphcache command configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/hanpama/graphcache/internal/cache/memory"
	"github.com/hanpama/graphcache/internal/cache/rediscache"
	"github.com/hanpama/graphcache/internal/fetcher"
	"github.com/hanpama/graphcache/internal/transport"
)

var ErrNoEndpoint = errors.New("config: endpoint is required")

type Config struct {
	Endpoint         string            `toml:"endpoint"`
	Schema           string            `toml:"schema"`
	FetchPolicy      string            `toml:"fetch_policy"`
	PersistedQueries bool              `toml:"persisted_queries"`
	HTTPGet          bool              `toml:"http_get"`
	Headers          map[string]string `toml:"headers"`

	Cache     Cache     `toml:"cache"`
	Retry     Retry     `toml:"retry"`
	Auth      Auth      `toml:"auth"`
	Telemetry Telemetry `toml:"telemetry"`
	Log       Log       `toml:"log"`
}

type Cache struct {
	MaxEntries        int           `toml:"max_entries"`
	MaxSizeBytes      int64         `toml:"max_size_bytes"`
	ExpireAfterWrite  time.Duration `toml:"expire_after_write"`
	ExpireAfterAccess time.Duration `toml:"expire_after_access"`
	// SQLitePath enables the durable cache behind the memory cache.
	SQLitePath string `toml:"sqlite_path"`
	Redis      Redis  `toml:"redis"`
}

type Redis struct {
	Address   string        `toml:"address"`
	Password  string        `toml:"password"`
	DB        int           `toml:"db"`
	KeyPrefix string        `toml:"key_prefix"`
	TTL       time.Duration `toml:"ttl"`
}

type Retry struct {
	MaxAttempts  int           `toml:"max_attempts"`
	BaseDelay    time.Duration `toml:"base_delay"`
	MaxDelay     time.Duration `toml:"max_delay"`
	Jitter       time.Duration `toml:"jitter"`
	MaxTotalWait time.Duration `toml:"max_total_wait"`
}

// Auth reads secrets from the environment, never from the file.
type Auth struct {
	BearerTokenEnv string `toml:"bearer_token_env"`
	HMACKeyID      string `toml:"hmac_key_id"`
	HMACSecretEnv  string `toml:"hmac_secret_env"`
}

type Telemetry struct {
	MetricsAddr  string `toml:"metrics_addr"`
	OTelEndpoint string `toml:"otel_endpoint"`
	ServiceName  string `toml:"service_name"`
}

type Log struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads path and fills unset values with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: %s: unknown key %q", path, undecoded[0].String())
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.FetchPolicy == "" {
		c.FetchPolicy = fetcher.CacheFirst.String()
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 10000
	}
	d := transport.DefaultRetryPolicy()
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = d.MaxAttempts
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = d.BaseDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = d.MaxDelay
	}
	if c.Retry.Jitter == 0 {
		c.Retry.Jitter = d.JitterWindow
	}
	if c.Retry.MaxTotalWait == 0 {
		c.Retry.MaxTotalWait = d.MaxTotalWait
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "graphcache"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks the settings a command needs before it talks to the
// server.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return ErrNoEndpoint
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Policy() (fetcher.Policy, error) { return fetcher.ParsePolicy(c.FetchPolicy) }

func (c *Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("config: log level: %w", err)
	}
	return l, nil
}

func (c *Config) RetryPolicy() transport.RetryPolicy {
	return transport.RetryPolicy{
		MaxAttempts:  c.Retry.MaxAttempts,
		BaseDelay:    c.Retry.BaseDelay,
		MaxDelay:     c.Retry.MaxDelay,
		JitterWindow: c.Retry.Jitter,
		MaxTotalWait: c.Retry.MaxTotalWait,
	}
}

func (c *Config) EvictionPolicy() memory.EvictionPolicy {
	return memory.EvictionPolicy{
		MaxSizeBytes:      c.Cache.MaxSizeBytes,
		MaxEntries:        c.Cache.MaxEntries,
		ExpireAfterWrite:  c.Cache.ExpireAfterWrite,
		ExpireAfterAccess: c.Cache.ExpireAfterAccess,
	}
}

// RedisConfig returns nil when no Redis address is configured.
func (c *Config) RedisConfig() *rediscache.Config {
	if c.Cache.Redis.Address == "" {
		return nil
	}
	return &rediscache.Config{
		Address:   c.Cache.Redis.Address,
		Password:  c.Cache.Redis.Password,
		DB:        c.Cache.Redis.DB,
		KeyPrefix: c.Cache.Redis.KeyPrefix,
		TTL:       c.Cache.Redis.TTL,
	}
}

// Signer builds the request signer from the auth settings, reading secrets
// from the environment. It returns nil when no auth is configured.
func (c *Config) Signer() (transport.Signer, error) {
	switch {
	case c.Auth.HMACKeyID != "":
		secret := os.Getenv(c.Auth.HMACSecretEnv)
		if c.Auth.HMACSecretEnv == "" || secret == "" {
			return nil, fmt.Errorf("config: hmac secret env %q is empty: %w", c.Auth.HMACSecretEnv, transport.ErrMissingCredentials)
		}
		return &transport.HMACSigner{KeyID: c.Auth.HMACKeyID, Secret: []byte(secret)}, nil
	case c.Auth.BearerTokenEnv != "":
		name := c.Auth.BearerTokenEnv
		return transport.BearerToken(func() (string, error) {
			if tok := os.Getenv(name); tok != "" {
				return tok, nil
			}
			return "", fmt.Errorf("config: %s is empty: %w", name, transport.ErrMissingCredentials)
		}), nil
	}
	return nil, nil
}
