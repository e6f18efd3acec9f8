// Package metrics exposes Prometheus instrumentation for checks, scrapes and
// webhook deliveries. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Check results.
const (
	ResultDelivered = "delivered"
	ResultNoPosts   = "no_posts"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"
)

// Metrics holds the service collectors.
type Metrics struct {
	ChecksTotal     *prometheus.CounterVec
	PostsDelivered  prometheus.Counter
	WebhookRequests *prometheus.CounterVec
	ScrapeDuration  prometheus.Histogram
	OpenSurfaces    prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChecksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "groupwatch_checks_total",
			Help: "Group checks by result",
		}, []string{"result"}),
		PostsDelivered: f.NewCounter(prometheus.CounterOpts{
			Name: "groupwatch_posts_delivered_total",
			Help: "Posts confirmed delivered to a webhook",
		}),
		WebhookRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "groupwatch_webhook_requests_total",
			Help: "Outbound webhook requests by payload kind and result",
		}, []string{"kind", "result"}),
		ScrapeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "groupwatch_scrape_duration_seconds",
			Help:    "Time from opening a page to receiving its posts",
			Buckets: []float64{1, 2.5, 5, 7.5, 10, 15, 20, 30, 45},
		}),
		OpenSurfaces: f.NewGauge(prometheus.GaugeOpts{
			Name: "groupwatch_open_surfaces",
			Help: "Browser pages currently open for scraping",
		}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordCheck counts one finished check.
func (m *Metrics) RecordCheck(result string, delivered int) {
	if m == nil {
		return
	}
	m.ChecksTotal.WithLabelValues(result).Inc()
	if delivered > 0 {
		m.PostsDelivered.Add(float64(delivered))
	}
}

// RecordWebhook counts one outbound request. result is "success" or an error kind.
func (m *Metrics) RecordWebhook(kind, result string) {
	if m == nil {
		return
	}
	m.WebhookRequests.WithLabelValues(kind, result).Inc()
}

// ObserveScrape records how long a scrape took.
func (m *Metrics) ObserveScrape(d time.Duration) {
	if m == nil {
		return
	}
	m.ScrapeDuration.Observe(d.Seconds())
}

// SurfaceOpened increments the open surface gauge.
func (m *Metrics) SurfaceOpened() {
	if m == nil {
		return
	}
	m.OpenSurfaces.Inc()
}

// SurfaceClosed decrements the open surface gauge.
func (m *Metrics) SurfaceClosed() {
	if m == nil {
		return
	}
	m.OpenSurfaces.Dec()
}
