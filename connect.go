package coordination

import (
	"context"
	"fmt"

	"github.com/tarantool/go-coordination/config"
	"github.com/tarantool/go-coordination/driver"
	"github.com/tarantool/go-coordination/driver/dummy"
	"github.com/tarantool/go-coordination/driver/etcd"
	"github.com/tarantool/go-coordination/driver/kvtree"
	"github.com/tarantool/go-coordination/driver/tkv"
	"github.com/tarantool/go-coordination/driver/zookeeper"
	"github.com/tarantool/go-coordination/internal/options"
)

// Connect opens a session with the backend described by cfg and returns a
// client over it. The connection timeout of cfg bounds the session setup.
func Connect(ctx context.Context, cfg config.Config, opts ...Option) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	drv, err := openDriver(ctx, cfg, options.ApplyOptions[settings](defaultSettings, opts))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Backend, err)
	}

	return New(drv, opts...), nil
}

func openDriver(ctx context.Context, cfg config.Config, s settings) (driver.Driver, error) {
	logger := s.logger.Named(cfg.Backend)

	switch cfg.Backend {
	case config.BackendZookeeper:
		drv, err := zookeeper.Connect(ctx, zookeeper.Config{
			Servers:           cfg.Servers(),
			SessionTimeout:    cfg.SessionTimeout,
			ConnectionTimeout: cfg.ConnectionTimeout,
		},
			zookeeper.WithLogger(logger),
			zookeeper.WithRetryDelay(cfg.RetryDelay),
		)
		if err != nil {
			return nil, err
		}

		return drv, nil
	case config.BackendEtcd:
		backend, err := etcd.Connect(ctx, etcd.Config{
			Endpoints:   cfg.Servers(),
			Username:    cfg.Username,
			Password:    cfg.Password,
			DialTimeout: cfg.ConnectionTimeout,
		},
			etcd.WithLogger(logger),
			etcd.WithSessionTTL(cfg.SessionTimeout),
		)
		if err != nil {
			return nil, err
		}

		return kvtree.New(backend, kvtree.WithLogger(logger)), nil
	case config.BackendTarantool:
		backend, err := tkv.Connect(ctx, tkv.Config{
			Addresses: cfg.Servers(),
			User:      cfg.Username,
			Password:  cfg.Password,
			Timeout:   cfg.ConnectionTimeout,
		})
		if err != nil {
			return nil, err
		}

		return kvtree.New(backend, kvtree.WithLogger(logger)), nil
	case config.BackendMemory:
		return kvtree.New(dummy.New(), kvtree.WithLogger(logger)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
