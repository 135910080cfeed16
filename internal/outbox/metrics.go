package outbox

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	published *prometheus.CounterVec
	failed    *prometheus.CounterVec
	backlog   prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox events published to the broker.",
		}, []string{"topic"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: "outbox",
			Name:      "publish_failures_total",
			Help:      "Outbox events that exhausted their publish retries.",
		}, []string{"topic"}),
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "checkout",
			Subsystem: "outbox",
			Name:      "backlog",
			Help:      "Outbox events waiting to be published.",
		}),
	}

	for _, c := range []prometheus.Collector{m.published, m.failed, m.backlog} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register outbox metric: %w", err)
		}
	}

	return m, nil
}

func (m *Metrics) recordPublished(topic string) {
	m.published.WithLabelValues(topic).Inc()
}

func (m *Metrics) recordFailed(topic string) {
	m.failed.WithLabelValues(topic).Inc()
}

func (m *Metrics) setBacklog(n int64) {
	m.backlog.Set(float64(n))
}
