package etcd

import (
	"time"

	"go.uber.org/zap"

	"github.com/tarantool/go-coordination/internal/options"
)

const (
	defaultSessionTTL    = 60 * time.Second
	defaultRevokeTimeout = 5 * time.Second
)

type settings struct {
	logger        *zap.Logger
	sessionTTL    time.Duration
	revokeTimeout time.Duration
}

func defaultSettings() settings {
	return settings{
		logger:        zap.NewNop(),
		sessionTTL:    defaultSessionTTL,
		revokeTimeout: defaultRevokeTimeout,
	}
}

// Option configures the backend.
type Option = options.OptionCallback[settings]

// WithLogger sets the logger for watch and lease failures.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSessionTTL sets the TTL of the session lease that ephemeral keys are bound to.
// etcd lease TTLs have a one second granularity.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl >= time.Second {
			s.sessionTTL = ttl
		}
	}
}
