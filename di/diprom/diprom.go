// Package diprom exports container resolution metrics to Prometheus.
package diprom

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sghaida/dic/di"
)

// Observer implements di.Observer with a construction counter and a
// duration histogram, both labelled by service id.
type Observer struct {
	builds   *prometheus.CounterVec
	failures *prometheus.CounterVec
	cycles   prometheus.Counter
	duration *prometheus.HistogramVec
}

var _ di.Observer = (*Observer)(nil)

// New creates the collectors under namespace ("dic" when empty) and
// registers them with reg.
func New(reg prometheus.Registerer, namespace string) (*Observer, error) {
	if namespace == "" {
		namespace = "dic"
	}
	o := &Observer{
		builds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "container",
				Name:      "constructions_total",
				Help:      "Number of service constructions",
			},
			[]string{"service"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "container",
				Name:      "construction_failures_total",
				Help:      "Number of failed service constructions",
			},
			[]string{"service"},
		),
		cycles: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "container",
				Name:      "cycles_total",
				Help:      "Number of constructions aborted by a circular reference",
			},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "container",
				Name:      "construction_duration_seconds",
				Help:      "Time spent building a service, dependencies included",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
			[]string{"service"},
		),
	}
	for _, c := range []prometheus.Collector{o.builds, o.failures, o.cycles, o.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Resolved implements di.Observer.
func (o *Observer) Resolved(id string, d time.Duration, err error) {
	o.builds.WithLabelValues(id).Inc()
	o.duration.WithLabelValues(id).Observe(d.Seconds())
	if err == nil {
		return
	}
	o.failures.WithLabelValues(id).Inc()
	if errors.Is(err, di.ErrCyclicDependency) {
		o.cycles.Inc()
	}
}
