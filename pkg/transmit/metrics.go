// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package transmit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for transmission operations.
type Metrics struct {
	Operations *prometheus.CounterVec
	Seconds    *prometheus.HistogramVec
}

// NewMetrics creates metrics registered with reg. If reg is nil the metrics are not registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shifter_transmit_operations_total",
			Help: "Total number of transmit operations by module, operation and result.",
		}, []string{"module", "operation", "result"}),
		Seconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shifter_transmit_operation_seconds",
			Help:    "Duration of transmit operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"module", "operation"}),
	}
}

func (m *Metrics) observe(module string, op Operation, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(module, string(op), result).Inc()
	m.Seconds.WithLabelValues(module, string(op)).Observe(d.Seconds())
}
