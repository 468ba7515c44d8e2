package coordination

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/tarantool/go-coordination/internal/options"
)

const (
	defaultQueueHint = 64
)

type settings struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	queueHint  int64
}

func defaultSettings() settings {
	return settings{
		logger:     zap.NewNop(),
		registerer: nil,
		queueHint:  defaultQueueHint,
	}
}

// Option configures the client.
type Option = options.OptionCallback[settings]

// WithLogger sets the logger of the client. Connect passes it to the
// backend driver as well.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics registers the watch delivery counters on registerer.
// Without it the counters are kept in a private registry.
func WithMetrics(registerer prometheus.Registerer) Option {
	return func(s *settings) {
		s.registerer = registerer
	}
}

// WithQueueHint sets the initial capacity of the delivery queue.
func WithQueueHint(hint int64) Option {
	return func(s *settings) {
		if hint > 0 {
			s.queueHint = hint
		}
	}
}
