package conduit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for one connection class.
type Metrics struct {
	dispatched       *prometheus.CounterVec
	failures         *prometheus.CounterVec
	validationErrors prometheus.Counter
	routingErrors    prometheus.Counter
	broadcasts       *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	dropped          prometheus.Counter
}

// NewMetrics creates and registers the dispatch collectors. Pass the result
// to WithMetrics. A nil registerer yields unregistered collectors, which is
// convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conduit",
			Name:      "messages_dispatched_total",
			Help:      "Messages and events dispatched to handlers",
		}, []string{"action", "direction"}),

		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conduit",
			Name:      "handler_failures_total",
			Help:      "Handler invocations that returned an error or panicked",
		}, []string{"action"}),

		validationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conduit",
			Name:      "validation_errors_total",
			Help:      "Inbound client frames rejected by validation",
		}),

		routingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conduit",
			Name:      "routing_errors_total",
			Help:      "Events dropped because they failed validation or had no handler",
		}),

		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conduit",
			Name:      "broadcasts_total",
			Help:      "Group broadcasts handed to the transport",
		}, []string{"action"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "conduit",
			Name:      "handler_duration_seconds",
			Help:      "Handler execution time",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),

		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conduit",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because the connection was not open",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.dispatched, m.failures, m.validationErrors, m.routingErrors,
			m.broadcasts, m.duration, m.dropped,
		)
	}
	return m
}

// WithMetrics wires the collectors into the dispatch hooks.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		WithOnDispatch(func(_ context.Context, _, action string) {
			m.dispatched.WithLabelValues(action, DirectionClient.String()).Inc()
		})(d)

		WithOnEvent(func(_ context.Context, _, action string, _ DispatchMode) {
			m.dispatched.WithLabelValues(action, DirectionEvent.String()).Inc()
		})(d)

		WithOnSuccess(func(_ context.Context, _, action string, duration time.Duration) {
			m.duration.WithLabelValues(action).Observe(duration.Seconds())
		})(d)

		WithOnFailure(func(_ context.Context, _, action string, _ error, duration time.Duration) {
			m.failures.WithLabelValues(action).Inc()
			m.duration.WithLabelValues(action).Observe(duration.Seconds())
		})(d)

		WithOnValidationError(func(_ context.Context, _ string, _ []ErrorItem) {
			m.validationErrors.Inc()
		})(d)

		WithOnRoutingError(func(_ context.Context, _ string, _ error) {
			m.routingErrors.Inc()
		})(d)

		WithOnBroadcast(func(_ context.Context, _, action string, _ []string) {
			m.broadcasts.WithLabelValues(action).Inc()
		})(d)

		WithOnDropped(func(_ string, _ State) {
			m.dropped.Inc()
		})(d)
	}
}
