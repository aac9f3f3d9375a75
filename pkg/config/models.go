package config

import "time"

// Backend mode selectors. Each of the four state managers picks its backend
// independently, and the event bus picks its dispatch mode independently.
// These are process configuration, decided once at startup.
const (
	ModeMemory = "memory"
	ModeRedis  = "redis"

	BusLocal = "local"
	BusRedis = "redis"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Session   SessionConfig   `mapstructure:"session"`
	Transport TransportConfig `mapstructure:"transport"`
	Stores    StoresConfig    `mapstructure:"stores"`
	Bus       BusConfig       `mapstructure:"bus"`
	Redis     RedisConfig     `mapstructure:"redis"`

	// Subordinate processes skip the boot reset/seed sequence and rely on
	// shared state a primary process already populated.
	Subordinate bool `mapstructure:"subordinate"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`

	// MaxConnsPerIdentity caps live connections per identity on this
	// process. Zero disables the limit.
	MaxConnsPerIdentity int `mapstructure:"maxConnsPerIdentity"`
}

type SessionConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

// StoresConfig selects memory or redis per state manager.
type StoresConfig struct {
	Rooms     string `mapstructure:"rooms"`
	Files     string `mapstructure:"files"`
	OpenFiles string `mapstructure:"openFiles"`
	Users     string `mapstructure:"users"`
}

type BusConfig struct {
	Mode string `mapstructure:"mode"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NeedsRedis reports whether any store or the bus is configured for the
// shared backend.
func (c *Config) NeedsRedis() bool {
	for _, mode := range []string{c.Stores.Rooms, c.Stores.Files, c.Stores.OpenFiles, c.Stores.Users} {
		if mode == ModeRedis {
			return true
		}
	}
	return c.Bus.Mode == BusRedis
}
