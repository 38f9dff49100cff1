package service

import (
	"strconv"
	"time"

	appErr "codearena/pkg/errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the judging collectors.
type Metrics struct {
	Verdicts *prometheus.CounterVec
	Errors   *prometheus.CounterVec
	Duration prometheus.Histogram
}

// NewMetrics builds the collectors and registers them on reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Verdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "codearena",
				Subsystem: "judge",
				Name:      "verdicts_total",
				Help:      "Judged submissions by verdict.",
			},
			[]string{"verdict"},
		),
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "codearena",
				Subsystem: "judge",
				Name:      "errors_total",
				Help:      "Judging attempts that ended without a verdict, by error code.",
			},
			[]string{"code"},
		),
		Duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "codearena",
				Subsystem: "judge",
				Name:      "duration_seconds",
				Help:      "Wall time of one judging attempt.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Verdicts, m.Errors, m.Duration)
	}
	return m
}

func (m *Metrics) observe(res *JudgeResult, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Duration.Observe(elapsed.Seconds())
	if err != nil {
		m.Errors.WithLabelValues(strconv.Itoa(int(appErr.GetCode(err)))).Inc()
		return
	}
	m.Verdicts.WithLabelValues(res.Verdict.String()).Inc()
}
