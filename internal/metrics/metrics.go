// Package metrics collects authentication metrics and exposes them to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Results used as label values
const (
	ResultSuccess     = "success"
	ResultRejected    = "rejected"
	ResultDisabled    = "disabled"
	ResultRateLimited = "rate_limited"
	ResultError       = "error"
)

// Used by handlers and workers
type MetricsCollector interface {
	RecordLogin(result string)
	RecordRefresh(result string)
	RecordLogout()
	RecordRevocationsPurged(count int64)
	RecordHTTPRequest(statusCode int, duration time.Duration)
}

type Collector struct {
	logins            *prometheus.CounterVec
	refreshes         *prometheus.CounterVec
	logouts           prometheus.Counter
	revocationsPurged prometheus.Counter
	httpStatus        *prometheus.CounterVec
	httpLatency       prometheus.Histogram
}

var _ MetricsCollector = (*Collector)(nil)

// Create collector and register metrics in the registry
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authhub_login_total",
			Help: "Login attempts by result",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authhub_refresh_total",
			Help: "Token refresh attempts by result",
		}, []string{"result"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authhub_logout_total",
			Help: "Logout requests",
		}),
		revocationsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authhub_revocations_purged_total",
			Help: "Expired revocation entries deleted by cleanup job",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authhub_http_status_total",
			Help: "HTTP responses by status code",
		}, []string{"status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authhub_http_latency_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.logins,
		c.refreshes,
		c.logouts,
		c.revocationsPurged,
		c.httpStatus,
		c.httpLatency,
	)

	return c
}

func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

func (c *Collector) RecordRefresh(result string) {
	c.refreshes.WithLabelValues(result).Inc()
}

func (c *Collector) RecordLogout() {
	c.logouts.Inc()
}

func (c *Collector) RecordRevocationsPurged(count int64) {
	c.revocationsPurged.Add(float64(count))
}

func (c *Collector) RecordHTTPRequest(statusCode int, duration time.Duration) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	c.httpLatency.Observe(duration.Seconds())
}

// Prometheus scrape handler
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
