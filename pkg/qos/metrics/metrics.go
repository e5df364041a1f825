// Package metrics exposes Prometheus collectors for capability discovery,
// lock contention and lifecycle transitions. A nil *Collector is valid and
// records nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jamesainslie/rdtcap/pkg/qos/qoserr"
)

const namespace = "rdtcap"

// Probe outcomes.
const (
	OutcomePresent = "present"
	OutcomeAbsent  = "absent"
	OutcomeFailed  = "failed"
)

// Collector groups the library's metrics.
type Collector struct {
	probes      *prometheus.CounterVec
	lockWait    prometheus.Histogram
	transitions *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "probe_total",
			Help:      "Capability probes by resource and outcome.",
		}, []string{"resource", "outcome"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent acquiring the dual lock.",
			Buckets:   []float64{.0001, .001, .01, .1, 1, 10},
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_transition_total",
			Help:      "Initialize and shutdown calls by result.",
		}, []string{"transition", "result"}),
	}

	if reg == nil {
		return c, nil
	}
	for _, col := range []prometheus.Collector{c.probes, c.lockWait, c.transitions} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}
	return c, nil
}

// ObserveProbe counts one resource probe.
func (c *Collector) ObserveProbe(resource, outcome string) {
	if c == nil {
		return
	}
	c.probes.WithLabelValues(resource, outcome).Inc()
}

// ObserveLockWait records one lock acquisition.
func (c *Collector) ObserveLockWait(d time.Duration) {
	if c == nil {
		return
	}
	c.lockWait.Observe(d.Seconds())
}

// ObserveTransition counts one lifecycle call, labelled with the error
// class of its result.
func (c *Collector) ObserveTransition(transition string, err error) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(transition, qoserr.Classify(err).String()).Inc()
}
