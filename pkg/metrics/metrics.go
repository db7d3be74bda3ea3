// Package metrics exposes Prometheus collectors for watch sessions
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pulsewatch"

// Collectors groups the counters and gauges a session reports to.
// A nil *Collectors is valid and records nothing.
type Collectors struct {
	EventsEmitted      *prometheus.CounterVec
	SignalsReceived    *prometheus.CounterVec
	SignalsCoalesced   prometheus.Counter
	SignalsDiscarded   prometheus.Counter
	RegistrationErrors *prometheus.CounterVec
	WatchedPaths       prometheus.Gauge
	PollDuration       prometheus.Histogram
}

// NewCollectors creates the collectors and registers them with reg
func NewCollectors(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Normalized events delivered to subscribers, by event type.",
		}, []string{"type"}),
		SignalsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_received_total",
			Help:      "Raw backend signals received, by backend and signal kind.",
		}, []string{"backend", "kind"}),
		SignalsCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_coalesced_total",
			Help:      "Raw signals merged into an already pending signal for the same path.",
		}),
		SignalsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_discarded_total",
			Help:      "Raw signals dropped because they were ignored or outside every root.",
		}),
		RegistrationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registration_errors_total",
			Help:      "Backend registration failures, by error type.",
		}, []string{"type"}),
		WatchedPaths: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watched_paths",
			Help:      "Paths currently tracked in the path index.",
		}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of one polling pass over every registered target.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	for _, col := range []prometheus.Collector{
		c.EventsEmitted,
		c.SignalsReceived,
		c.SignalsCoalesced,
		c.SignalsDiscarded,
		c.RegistrationErrors,
		c.WatchedPaths,
		c.PollDuration,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Handler returns an HTTP handler serving the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// EventEmitted records one delivered event
func (c *Collectors) EventEmitted(eventType string) {
	if c == nil {
		return
	}
	c.EventsEmitted.WithLabelValues(eventType).Inc()
}

// SignalReceived records one raw backend signal
func (c *Collectors) SignalReceived(backend, kind string) {
	if c == nil {
		return
	}
	c.SignalsReceived.WithLabelValues(backend, kind).Inc()
}

// SignalCoalesced records a signal merged into a pending one
func (c *Collectors) SignalCoalesced() {
	if c == nil {
		return
	}
	c.SignalsCoalesced.Inc()
}

// SignalDiscarded records a dropped signal
func (c *Collectors) SignalDiscarded() {
	if c == nil {
		return
	}
	c.SignalsDiscarded.Inc()
}

// RegistrationFailed records a backend registration failure
func (c *Collectors) RegistrationFailed(errType string) {
	if c == nil {
		return
	}
	c.RegistrationErrors.WithLabelValues(errType).Inc()
}

// SetWatchedPaths updates the watched path gauge
func (c *Collectors) SetWatchedPaths(n int) {
	if c == nil {
		return
	}
	c.WatchedPaths.Set(float64(n))
}

// ObservePoll records the duration of a polling pass in seconds
func (c *Collectors) ObservePoll(seconds float64) {
	if c == nil {
		return
	}
	c.PollDuration.Observe(seconds)
}
