package plugins

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/mvistore/internal/engine"
)

// Metrics holds the Prometheus collectors shared by the Metrics plugin and
// the Timed decorator. One Metrics can serve several stores; every series
// is labelled with the store name.
type Metrics struct {
	intents     *prometheus.CounterVec
	actions     *prometheus.CounterVec
	states      *prometheus.CounterVec
	exceptions  *prometheus.CounterVec
	undelivered *prometheus.CounterVec
	subscribers *prometheus.GaugeVec
	running     *prometheus.GaugeVec
	duration    *prometheus.HistogramVec
}

// Intent results used as the "result" label.
const (
	resultHandled   = "handled"
	resultUnhandled = "unhandled"
	resultError     = "error"
)

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		intents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "intents_total",
				Help:      "Intents processed, by result",
			},
			[]string{"store", "result"},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_total",
				Help:      "Actions emitted",
			},
			[]string{"store"},
		),
		states: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_transitions_total",
				Help:      "State transitions proposed",
			},
			[]string{"store"},
		),
		exceptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exceptions_total",
				Help:      "Exceptions routed through the plugin chain",
			},
			[]string{"store"},
		),
		undelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "undelivered_total",
				Help:      "Intents and actions dropped without delivery",
			},
			[]string{"store", "kind"},
		),
		subscribers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "subscribers",
				Help:      "Current subscriber count",
			},
			[]string{"store"},
		),
		running: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "running",
				Help:      "1 while the store is running",
			},
			[]string{"store"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "intent_duration_seconds",
				Help:      "Time spent handling one intent",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"store"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.intents, m.actions, m.states, m.exceptions,
		m.undelivered, m.subscribers, m.running, m.duration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

// MetricsPlugin counts actions, state transitions, exceptions, undelivered
// events and subscribers of the store named store. Undelivered hooks have
// no pipeline, so the name is passed in.
func MetricsPlugin[S, I, A any](m *Metrics, store string) engine.Plugin[S, I, A] {
	return engine.Plugin[S, I, A]{
		Name: "metrics",
		OnStart: func(_ context.Context, p engine.Pipeline[S, I, A]) error {
			m.running.WithLabelValues(p.Name()).Set(1)
			return nil
		},
		OnStop: func(_ context.Context, p engine.Pipeline[S, I, A], _ error) {
			m.running.WithLabelValues(p.Name()).Set(0)
		},
		OnAction: func(_ context.Context, p engine.Pipeline[S, I, A], action A) (A, bool, error) {
			m.actions.WithLabelValues(p.Name()).Inc()
			return action, true, nil
		},
		OnState: func(_ context.Context, p engine.Pipeline[S, I, A], _, next S) (S, bool, error) {
			m.states.WithLabelValues(p.Name()).Inc()
			return next, true, nil
		},
		OnException: func(_ context.Context, p engine.Pipeline[S, I, A], err error) error {
			m.exceptions.WithLabelValues(p.Name()).Inc()
			return err
		},
		OnSubscribe: func(_ context.Context, p engine.Pipeline[S, I, A], n int) {
			m.subscribers.WithLabelValues(p.Name()).Set(float64(n))
		},
		OnUnsubscribe: func(_ context.Context, p engine.Pipeline[S, I, A], n int) {
			m.subscribers.WithLabelValues(p.Name()).Set(float64(n))
		},
		OnUndeliveredIntent: func(I) {
			m.undelivered.WithLabelValues(store, "intent").Inc()
		},
		OnUndeliveredAction: func(A) {
			m.undelivered.WithLabelValues(store, "action").Inc()
		},
	}
}

// Timed is a decorator that measures the child's intent handling and
// counts intents by result.
func Timed[S, I, A any](m *Metrics) engine.Decorator[S, I, A] {
	return engine.Decorator[S, I, A]{
		Name: "timed",
		OnIntent: func(ctx context.Context, p engine.Pipeline[S, I, A], child engine.Plugin[S, I, A], intent I) (I, bool, error) {
			timer := prometheus.NewTimer(m.duration.WithLabelValues(p.Name()))
			out, ok, err := child.Intent(ctx, p, intent)
			timer.ObserveDuration()

			result := resultHandled
			switch {
			case err != nil:
				result = resultError
			case ok:
				result = resultUnhandled
			}
			m.intents.WithLabelValues(p.Name(), result).Inc()
			return out, ok, err
		},
	}
}
