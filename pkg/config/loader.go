package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// ErrInvalid marks configuration errors. They are fatal at startup; a
// process with an unknown backend layout must not accept connections.
var ErrInvalid = errors.New("config: invalid configuration")

// Load reads configuration from a file and environment variables.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.address", ":3000")
	v.SetDefault("server.maxConnsPerIdentity", 0)
	v.SetDefault("session.jwtSecret", "default-secret-key-change-me")
	v.SetDefault("transport.readTimeout", "60s")
	v.SetDefault("stores.rooms", ModeMemory)
	v.SetDefault("stores.files", ModeMemory)
	v.SetDefault("stores.openFiles", ModeMemory)
	v.SetDefault("stores.users", ModeMemory)
	v.SetDefault("bus.mode", BusLocal)
	v.SetDefault("redis.addr", "")
	v.SetDefault("subordinate", false)

	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("HACKIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects backend layouts that can only misbehave at runtime.
func (c *Config) Validate() error {
	stores := map[string]string{
		"stores.rooms":     c.Stores.Rooms,
		"stores.files":     c.Stores.Files,
		"stores.openFiles": c.Stores.OpenFiles,
		"stores.users":     c.Stores.Users,
	}
	for key, mode := range stores {
		if mode != ModeMemory && mode != ModeRedis {
			return fmt.Errorf("%w: %s: unknown mode %q", ErrInvalid, key, mode)
		}
	}
	if c.Bus.Mode != BusLocal && c.Bus.Mode != BusRedis {
		return fmt.Errorf("%w: bus.mode: unknown mode %q", ErrInvalid, c.Bus.Mode)
	}

	if c.NeedsRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("%w: a redis-backed store or bus is selected but redis.addr is empty", ErrInvalid)
	}

	// A subordinate relies entirely on state the primary populated. Any
	// memory-backed piece on a subordinate is private to this process and
	// therefore unreachable by the primary's bootstrap.
	if c.Subordinate {
		for key, mode := range stores {
			if mode != ModeRedis {
				return fmt.Errorf("%w: subordinate process requires %s=redis, got %q", ErrInvalid, key, mode)
			}
		}
		if c.Bus.Mode != BusRedis {
			return fmt.Errorf("%w: subordinate process requires bus.mode=redis, got %q", ErrInvalid, c.Bus.Mode)
		}
	}
	return nil
}
