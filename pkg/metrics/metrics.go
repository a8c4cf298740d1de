// Package metrics records conversion and invalidation outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives conversion and invalidation observations.
type Recorder interface {
	// ObserveConversion records one conversion along route (for example
	// "curve->labelmap").
	ObserveConversion(route string, success bool, duration time.Duration)
	// ObserveInvalidation records how many derived representations an
	// invalidation removed.
	ObserveInvalidation(removed int)
}

// Nop discards all observations.
type Nop struct{}

func (Nop) ObserveConversion(string, bool, time.Duration) {}
func (Nop) ObserveInvalidation(int)                       {}

// Prometheus publishes observations as Prometheus collectors.
type Prometheus struct {
	conversions   *prometheus.CounterVec
	durations     *prometheus.HistogramVec
	invalidations prometheus.Counter
}

// NewPrometheus creates the collectors and registers them with reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rtcontour",
			Name:      "conversions_total",
			Help:      "Representation conversions by route and status.",
		}, []string{"route", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rtcontour",
			Name:      "conversion_duration_seconds",
			Help:      "Time spent converting between representations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"route"}),
		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtcontour",
			Name:      "invalidated_representations_total",
			Help:      "Derived representations removed after the active one changed.",
		}),
	}
	reg.MustRegister(p.conversions, p.durations, p.invalidations)
	return p
}

// ObserveConversion implements Recorder.
func (p *Prometheus) ObserveConversion(route string, success bool, duration time.Duration) {
	status := "error"
	if success {
		status = "success"
	}
	p.conversions.WithLabelValues(route, status).Inc()
	p.durations.WithLabelValues(route).Observe(duration.Seconds())
}

// ObserveInvalidation implements Recorder.
func (p *Prometheus) ObserveInvalidation(removed int) {
	p.invalidations.Add(float64(removed))
}
