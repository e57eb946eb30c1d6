package pipedispatch

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	messages    *prometheus.CounterVec
	invocations *prometheus.CounterVec
	failures    *prometheus.CounterVec
	unhandled   *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

func newMetrics() *metrics {
	return &metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipedispatch_messages_total",
			Help: "Messages drained from the pipe.",
		}, []string{"kind"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipedispatch_invocations_total",
			Help: "Handler invocations.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipedispatch_failures_total",
			Help: "Handler invocations that returned an error or panicked.",
		}, []string{"kind"}),
		unhandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipedispatch_unhandled_total",
			Help: "Messages that matched no registered handler.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "pipedispatch_invoke_duration_seconds",
			Help: "Handler invocation time.",
			// 15 buckets from 10µs to 1s.
			Buckets: prometheus.ExponentialBucketsRange(0.00001, 1, 15),
		}, []string{"kind"}),
	}
}

// register registers every collector with reg. A collector that is already
// registered, for example by a previous dispatcher that was destroyed and
// recreated, is reused.
func (m *metrics) register(reg prometheus.Registerer) {
	m.messages = registerOrReuse(reg, m.messages)
	m.invocations = registerOrReuse(reg, m.invocations)
	m.failures = registerOrReuse(reg, m.failures)
	m.unhandled = registerOrReuse(reg, m.unhandled)
	m.duration = registerOrReuse(reg, m.duration)
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// WithMetrics registers dispatch metrics with reg and records them through
// the dispatcher's hooks. Pass prometheus.DefaultRegisterer to expose them
// alongside the process metrics.
//
// All series carry a kind label, "callback" or "call_result":
//
//	pipedispatch_messages_total
//	pipedispatch_invocations_total
//	pipedispatch_failures_total
//	pipedispatch_unhandled_total
//	pipedispatch_invoke_duration_seconds
func WithMetrics(reg prometheus.Registerer) Option {
	m := newMetrics()
	m.register(reg)

	return func(o *options) {
		WithOnMessage(func(_ context.Context, d Delivery) {
			m.messages.WithLabelValues(d.Kind.String()).Inc()
		})(o)
		WithOnSuccess(func(_ context.Context, d Delivery, duration time.Duration) {
			m.invocations.WithLabelValues(d.Kind.String()).Inc()
			m.duration.WithLabelValues(d.Kind.String()).Observe(duration.Seconds())
		})(o)
		WithOnFailure(func(_ context.Context, d Delivery, _ error, duration time.Duration) {
			m.invocations.WithLabelValues(d.Kind.String()).Inc()
			m.failures.WithLabelValues(d.Kind.String()).Inc()
			m.duration.WithLabelValues(d.Kind.String()).Observe(duration.Seconds())
		})(o)
		WithOnUnhandled(func(_ context.Context, d Delivery) {
			m.unhandled.WithLabelValues(d.Kind.String()).Inc()
		})(o)
	}
}
