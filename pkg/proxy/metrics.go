package proxy

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsProvider exposes proxy metrics for Prometheus scraping.
// It implements prometheus.Collector to read live values from the
// SessionManager at scrape time rather than maintaining separate
// counters. Counters from sessions that already ended are folded into
// the closed* totals so the exported counters never go backwards.
type metricsProvider struct {
	sessions *SessionManager

	activeSessions *prometheus.Desc
	sessionsTotal  *prometheus.Desc
	bytesToServer  *prometheus.Desc
	bytesToClient  *prometheus.Desc
	sslDeclines    *prometheus.Desc

	totalSessions atomic.Int64

	closedBytesToServer atomic.Int64
	closedBytesToClient atomic.Int64
	closedSSLDeclines   atomic.Int64
}

func newMetricsProvider(sessions *SessionManager) *metricsProvider {
	return &metricsProvider{
		sessions: sessions,
		activeSessions: prometheus.NewDesc(
			"sqlproxy_active_sessions",
			"Number of active proxied database sessions",
			nil, nil,
		),
		sessionsTotal: prometheus.NewDesc(
			"sqlproxy_sessions_total",
			"Total database sessions accepted since start",
			nil, nil,
		),
		bytesToServer: prometheus.NewDesc(
			"sqlproxy_bytes_to_server_total",
			"Total bytes written to the backend (client to server)",
			nil, nil,
		),
		bytesToClient: prometheus.NewDesc(
			"sqlproxy_bytes_to_client_total",
			"Total bytes written to clients (server to client)",
			nil, nil,
		),
		sslDeclines: prometheus.NewDesc(
			"sqlproxy_ssl_declines_total",
			"Total SSL negotiation probes declined",
			nil, nil,
		),
	}
}

// sessionStarted records an accepted session.
func (m *metricsProvider) sessionStarted() {
	m.totalSessions.Add(1)
}

// sessionEnded folds a finished session's counters into the cumulative
// totals before the session leaves the registry.
func (m *metricsProvider) sessionEnded(s *Session) {
	m.closedBytesToServer.Add(s.BytesToServer.Load())
	m.closedBytesToClient.Add(s.BytesToClient.Load())
	m.closedSSLDeclines.Add(s.SSLDeclines.Load())
}

// Describe implements prometheus.Collector.
func (m *metricsProvider) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.activeSessions
	ch <- m.sessionsTotal
	ch <- m.bytesToServer
	ch <- m.bytesToClient
	ch <- m.sslDeclines
}

// Collect implements prometheus.Collector.
func (m *metricsProvider) Collect(ch chan<- prometheus.Metric) {
	st := m.sessions.Stats()

	ch <- prometheus.MustNewConstMetric(m.activeSessions, prometheus.GaugeValue, float64(st.Active))
	ch <- prometheus.MustNewConstMetric(m.sessionsTotal, prometheus.CounterValue, float64(m.totalSessions.Load()))
	ch <- prometheus.MustNewConstMetric(m.bytesToServer, prometheus.CounterValue,
		float64(m.closedBytesToServer.Load()+st.BytesToServer))
	ch <- prometheus.MustNewConstMetric(m.bytesToClient, prometheus.CounterValue,
		float64(m.closedBytesToClient.Load()+st.BytesToClient))
	ch <- prometheus.MustNewConstMetric(m.sslDeclines, prometheus.CounterValue,
		float64(m.closedSSLDeclines.Load()+st.SSLDeclines))
}
