package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the relay
type Metrics struct {
	bytesReceived prometheus.Counter
	records       *prometheus.CounterVec
	parseFailures prometheus.Counter
}

// NewMetrics creates and registers relay metrics. A nil registerer yields nil,
// and every method on a nil *Metrics is a no-op.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bivalvia",
			Subsystem: "relay",
			Name:      "bytes_received_total",
			Help:      "Raw bytes read from the byte source",
		}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bivalvia",
			Subsystem: "relay",
			Name:      "records_total",
			Help:      "Envelopes produced, by envelope type",
		}, []string{"type"}),
		parseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bivalvia",
			Subsystem: "relay",
			Name:      "parse_failures_total",
			Help:      "Lines that did not parse as a JSON object",
		}),
	}

	reg.MustRegister(m.bytesReceived, m.records, m.parseFailures)
	return m
}

func (m *Metrics) addBytes(n int) {
	if m == nil {
		return
	}
	m.bytesReceived.Add(float64(n))
}

func (m *Metrics) record(envType string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(envType).Inc()
}

func (m *Metrics) parseFailure() {
	if m == nil {
		return
	}
	m.parseFailures.Inc()
}
