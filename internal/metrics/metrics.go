// Package metrics exposes the prometheus counters of a benchmark session.
// A Collector owns its registry; a nil *Collector records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "crossbench"

type Collector struct {
	registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	phaseSeconds  *prometheus.HistogramVec
	pollerSamples prometheus.Counter
	pollerOverrun prometheus.Counter
	mergeSkipped  *prometheus.CounterVec
	probesDropped *prometheus.CounterVec
	runs          *prometheus.CounterVec
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Collector{
		registry: reg,
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_state_transitions_total",
			Help:      "Probe context state transitions by probe and target state.",
		}, []string{"probe", "state"}),
		phaseSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_phase_seconds",
			Help:      "Time spent in each probe lifecycle phase.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"probe", "phase"}),
		pollerSamples: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poller_samples_total",
			Help:      "Samples written by command pollers.",
		}),
		pollerOverrun: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poller_overruns_total",
			Help:      "Poller cycles whose command outlasted the interval.",
		}),
		mergeSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_skipped_files_total",
			Help:      "Missing child result files skipped while merging.",
		}, []string{"probe", "level"}),
		probesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_dropped_total",
			Help:      "Probes dropped after failing validation.",
		}, []string{"probe", "stage"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by outcome.",
		}, []string{"outcome"}),
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) Transition(probe, state string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(probe, state).Inc()
}

func (c *Collector) ObservePhase(probe, phase string, seconds float64) {
	if c == nil {
		return
	}
	c.phaseSeconds.WithLabelValues(probe, phase).Observe(seconds)
}

func (c *Collector) PollerSample() {
	if c == nil {
		return
	}
	c.pollerSamples.Inc()
}

func (c *Collector) PollerOverrun() {
	if c == nil {
		return
	}
	c.pollerOverrun.Inc()
}

func (c *Collector) MergeSkipped(probe, level string) {
	if c == nil {
		return
	}
	c.mergeSkipped.WithLabelValues(probe, level).Inc()
}

func (c *Collector) ProbeDropped(probe, stage string) {
	if c == nil {
		return
	}
	c.probesDropped.WithLabelValues(probe, stage).Inc()
}

func (c *Collector) RunFinished(outcome string) {
	if c == nil {
		return
	}
	c.runs.WithLabelValues(outcome).Inc()
}

// WriteTextfile dumps the registry in the node exporter textfile format.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, c.registry)
}
