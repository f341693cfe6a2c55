package hub

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the hub
type Metrics struct {
	subscribers prometheus.Gauge
	drops       *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bivalvia",
			Subsystem: "hub",
			Name:      "subscribers",
			Help:      "Currently open subscriber connections",
		}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bivalvia",
			Subsystem: "hub",
			Name:      "dropped_total",
			Help:      "Envelopes not delivered, by reason",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.subscribers, m.drops)
	return m
}

func (m *Metrics) setSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

func (m *Metrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.drops.WithLabelValues(reason).Inc()
}
