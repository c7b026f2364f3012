package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"voice-code/internal/domain"
)

// sessionCollector reads the session snapshot at scrape time.
type sessionCollector struct {
	status func() domain.Session

	listening   *prometheus.Desc
	outstanding *prometheus.Desc
}

func newSessionCollector(status func() domain.Session) *sessionCollector {
	return &sessionCollector{
		status: status,
		listening: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "listening"),
			"1 while a listening session is active.",
			nil, nil,
		),
		outstanding: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "outstanding_requests"),
			"Generation requests awaiting a result or confirmation.",
			nil, nil,
		),
	}
}

func (c *sessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.listening
	ch <- c.outstanding
}

func (c *sessionCollector) Collect(ch chan<- prometheus.Metric) {
	session := c.status()

	var listening, outstanding float64
	if session.State == domain.SessionListening {
		listening = 1
	}
	if session.ActiveRequestID != "" {
		outstanding = 1
	}

	ch <- prometheus.MustNewConstMetric(c.listening, prometheus.GaugeValue, listening)
	ch <- prometheus.MustNewConstMetric(c.outstanding, prometheus.GaugeValue, outstanding)
}
