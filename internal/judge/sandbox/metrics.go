package sandbox

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK          = "ok"
	outcomeUnavailable = "unavailable"
	outcomeProtocol    = "protocol_error"
)

// Metrics holds the sandbox client collectors.
type Metrics struct {
	Requests *prometheus.CounterVec
	Duration prometheus.Histogram
}

// NewMetrics builds the collectors and registers them on reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "codearena",
				Subsystem: "sandbox",
				Name:      "requests_total",
				Help:      "Sandbox execute calls by outcome.",
			},
			[]string{"outcome"},
		),
		Duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "codearena",
				Subsystem: "sandbox",
				Name:      "request_duration_seconds",
				Help:      "Latency of sandbox execute calls.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.Duration)
	}
	return m
}

func (m *Metrics) observe(err error, seconds float64) {
	if m == nil {
		return
	}
	outcome := outcomeOK
	if err != nil {
		outcome = outcomeProtocol
		var se *Error
		if errors.As(err, &se) && se.Kind == ErrUnavailable {
			outcome = outcomeUnavailable
		}
	}
	m.Requests.WithLabelValues(outcome).Inc()
	m.Duration.Observe(seconds)
}
