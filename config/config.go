// Package config loads the client configuration from a file and from
// COORD_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names.
const (
	BackendZookeeper = "zookeeper"
	BackendEtcd      = "etcd"
	BackendTarantool = "tarantool"
	BackendMemory    = "memory"
)

// Defaults.
const (
	DefaultBackend           = BackendZookeeper
	DefaultSessionTimeout    = 60 * time.Second
	DefaultConnectionTimeout = 15 * time.Second
	DefaultRetryDelay        = time.Second
	DefaultLogLevel          = "info"

	envPrefix = "COORD"
)

var (
	// ErrInvalidConfig is returned when the loaded configuration cannot be used.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config is the connection configuration of a coordination client.
type Config struct {
	// Backend is one of zookeeper, etcd, tarantool or memory.
	Backend string `mapstructure:"backend"`
	// Address is a comma-separated list of host:port pairs.
	Address           string        `mapstructure:"address"`
	SessionTimeout    time.Duration `mapstructure:"session_timeout"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	// RetryDelay is the delay between attempts of an operation interrupted
	// by a connection loss.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	Username   string        `mapstructure:"username"`
	Password   string        `mapstructure:"password"`
	LogLevel   string        `mapstructure:"log_level"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Backend:           DefaultBackend,
		Address:           "",
		SessionTimeout:    DefaultSessionTimeout,
		ConnectionTimeout: DefaultConnectionTimeout,
		RetryDelay:        DefaultRetryDelay,
		Username:          "",
		Password:          "",
		LogLevel:          DefaultLogLevel,
	}
}

// Load reads the configuration file at path, if path is not empty, applies
// the environment overrides (COORD_ADDRESS, COORD_SESSION_TIMEOUT, ...) and
// validates the result.
func Load(path string) (Config, error) {
	v := viper.New()

	defaults := Default()
	v.SetDefault("backend", defaults.Backend)
	v.SetDefault("address", defaults.Address)
	v.SetDefault("session_timeout", defaults.SessionTimeout)
	v.SetDefault("connection_timeout", defaults.ConnectionTimeout)
	v.SetDefault("retry_delay", defaults.RetryDelay)
	v.SetDefault("username", defaults.Username)
	v.SetDefault("password", defaults.Password)
	v.SetDefault("log_level", defaults.LogLevel)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks that the configuration can be used to connect.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendZookeeper, BackendEtcd, BackendTarantool:
		if len(c.Servers()) == 0 {
			return fmt.Errorf("%w: address is required for %s", ErrInvalidConfig, c.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}

	if c.SessionTimeout <= 0 || c.ConnectionTimeout <= 0 || c.RetryDelay <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}

	return nil
}

// Servers returns the non-empty entries of Address.
func (c Config) Servers() []string {
	var servers []string

	for _, server := range strings.Split(c.Address, ",") {
		if server = strings.TrimSpace(server); server != "" {
			servers = append(servers, server)
		}
	}

	return servers
}
