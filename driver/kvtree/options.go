package kvtree

import (
	"go.uber.org/zap"

	"github.com/tarantool/go-coordination/internal/options"
)

const (
	defaultEventBufferSize = 100
)

type settings struct {
	logger          *zap.Logger
	eventBufferSize int
}

func defaultSettings() settings {
	return settings{
		logger:          zap.NewNop(),
		eventBufferSize: defaultEventBufferSize,
	}
}

// Option configures the driver.
type Option = options.OptionCallback[settings]

// WithLogger sets the logger used for background watch failures.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
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
