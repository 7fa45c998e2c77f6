// Package observability exposes Prometheus metrics and OpenTelemetry
// tracing for the registry and gateway.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the registry's Prometheus collectors.
type Metrics struct {
	logger   *zap.Logger
	registry *prometheus.Registry

	uptime       prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	serversTotal  prometheus.Gauge
	agentsTotal   prometheus.Gauge
	skillsTotal   prometheus.Gauge
	proxyRequests *prometheus.CounterVec
	proxyDuration *prometheus.HistogramVec

	searchQueries  *prometheus.CounterVec
	scanVerdicts   *prometheus.CounterVec
	federationSync *prometheus.CounterVec
	authzDenials   *prometheus.CounterVec
	auditEvents    *prometheus.CounterVec
}

func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	m.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpregistry_uptime_seconds",
		Help: "Time since the process started",
	})
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcpregistry_http_requests_total",
		Help: "Total number of API requests",
	}, []string{"method", "path", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mcpregistry_http_request_duration_seconds",
		Help:    "API request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	m.serversTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpregistry_servers_total",
		Help: "Number of registered servers",
	})
	m.agentsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpregistry_agents_total",
		Help: "Number of registered agents",
	})
	m.skillsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcpregistry_skills_total",
		Help: "Number of registered skills",
	})
	m.proxyRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcpregistry_gateway_requests_total",
		Help: "Total number of proxied MCP requests",
	}, []string{"server", "status"})
	m.proxyDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mcpregistry_gateway_request_duration_seconds",
		Help:    "Proxied MCP request duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"server", "status"})

	m.searchQueries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcpregistry_search_queries_total",
		Help: "Total number of search queries by retrieval mode",
	}, []string{"mode"})
	m.scanVerdicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcpregistry_scan_verdicts_total",
		Help: "Total number of completed security scans by verdict",
	}, []string{"verdict", "trigger"})
	m.federationSync = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcpregistry_federation_syncs_total",
		Help: "Total number of federation sync cycles",
	}, []string{"source", "result"})
	m.authzDenials = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcpregistry_authz_denials_total",
		Help: "Total number of access-control denials",
	}, []string{"server"})
	m.auditEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcpregistry_audit_events_total",
		Help: "Total number of emitted audit events",
	}, []string{"stream"})

	m.registry.MustRegister(
		m.uptime,
		m.httpRequests,
		m.httpDuration,
		m.serversTotal,
		m.agentsTotal,
		m.skillsTotal,
		m.proxyRequests,
		m.proxyDuration,
		m.searchQueries,
		m.scanVerdicts,
		m.federationSync,
		m.authzDenials,
		m.auditEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) SetUptime(start time.Time) {
	m.uptime.Set(time.Since(start).Seconds())
}

func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func (m *Metrics) SetEntityCounts(servers, agents, skills int) {
	m.serversTotal.Set(float64(servers))
	m.agentsTotal.Set(float64(agents))
	m.skillsTotal.Set(float64(skills))
}

func (m *Metrics) RecordProxyRequest(server, status string, duration time.Duration) {
	m.proxyRequests.WithLabelValues(server, status).Inc()
	m.proxyDuration.WithLabelValues(server, status).Observe(duration.Seconds())
}

func (m *Metrics) RecordSearchQuery(mode string) {
	m.searchQueries.WithLabelValues(mode).Inc()
}

func (m *Metrics) RecordScanVerdict(verdict, trigger string) {
	m.scanVerdicts.WithLabelValues(verdict, trigger).Inc()
}

func (m *Metrics) RecordFederationSync(source, result string) {
	m.federationSync.WithLabelValues(source, result).Inc()
}

func (m *Metrics) RecordAuthzDenial(server string) {
	m.authzDenials.WithLabelValues(server).Inc()
}

func (m *Metrics) RecordAuditEvent(stream string) {
	m.auditEvents.WithLabelValues(stream).Inc()
}

// HTTPMiddleware records request counts and latencies per route.
func (m *Metrics) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			m.RecordHTTPRequest(r.Method, r.URL.Path, http.StatusText(ww.status), time.Since(start))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
