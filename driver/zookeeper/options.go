package zookeeper

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/tarantool/go-coordination/internal/options"
)

const (
	defaultRetryDelay      = time.Second
	defaultEventBufferSize = 100
)

type settings struct {
	logger          *zap.Logger
	retryDelay      time.Duration
	maxRetries      int
	eventBufferSize int
}

func defaultSettings() settings {
	return settings{
		logger:          zap.NewNop(),
		retryDelay:      defaultRetryDelay,
		maxRetries:      math.MaxInt,
		eventBufferSize: defaultEventBufferSize,
	}
}

// Option configures the driver.
type Option = options.OptionCallback[settings]

// WithLogger sets the logger for the driver and the zk client.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRetryDelay bounds the delay between attempts of an operation
// interrupted by a connection loss. Each wait is jittered and lies between
// three quarters of delay and delay.
func WithRetryDelay(delay time.Duration) Option {
	return func(s *settings) {
		if delay > 0 {
			s.retryDelay = delay
		}
	}
}

// WithMaxRetries bounds the number of attempts. By default operations are
// retried until their context ends.
func WithMaxRetries(retries int) Option {
	return func(s *settings) {
		if retries > 0 {
			s.maxRetries = retries
		}
	}
}

// WithEventBufferSize sets the capacity of the child event channels.
func WithEventBufferSize(size int) Option {
	return func(s *settings) {
		if size > 0 {
			s.eventBufferSize = size
		}
	}
}
