package coordination

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "coordination"
	metricsSubsystem = "watch"
)

type metrics struct {
	delivered        *prometheus.CounterVec
	discarded        prometheus.Counter
	listenerFailures prometheus.Counter
}

func newMetrics(registerer prometheus.Registerer) *metrics {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	return &metrics{
		delivered: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "events_delivered_total",
			Help:      "Child changes handed to listeners, by kind.",
		}, []string{"kind"})),
		discarded: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "events_discarded_total",
			Help:      "Driver notifications that carry no child change.",
		})),
		listenerFailures: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "listener_failures_total",
			Help:      "Listener calls that returned an error or panicked.",
		})),
	}
}

// register registers collector, reusing an identical collector that is
// already registered, so several clients can share one registerer.
func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	err := registerer.Register(collector)
	if err == nil {
		return collector
	}

	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(T); ok {
			return existing
		}
	}

	// The collector keeps working unregistered.
	return collector
}
