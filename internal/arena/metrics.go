package arena

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks matchmaking activity.
type Metrics struct {
	Queued  prometheus.Gauge
	Rooms   prometheus.Gauge
	Matches prometheus.Counter
}

// NewMetrics builds the arena metrics and registers them when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "codearena",
			Subsystem: "arena",
			Name:      "queued_players",
			Help:      "Players waiting for an opponent.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "codearena",
			Subsystem: "arena",
			Name:      "active_rooms",
			Help:      "Rooms with a match in progress.",
		}),
		Matches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "codearena",
			Subsystem: "arena",
			Name:      "matches_total",
			Help:      "Rooms created by the matchmaker.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Queued, m.Rooms, m.Matches)
	}
	return m
}

func (m *Metrics) sync(queued, rooms int) {
	if m == nil {
		return
	}
	m.Queued.Set(float64(queued))
	m.Rooms.Set(float64(rooms))
}

func (m *Metrics) matched() {
	if m == nil {
		return
	}
	m.Matches.Inc()
}
