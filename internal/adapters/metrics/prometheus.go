// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements output.MetricsCollector using Prometheus.
type Collector struct {
	parses         *prometheus.CounterVec
	parseSeconds   *prometheus.HistogramVec
	parsedFeatures *prometheus.HistogramVec

	sources     *prometheus.GaugeVec
	mu          sync.Mutex
	sourceTypes map[string]struct{}

	pluginOps     *prometheus.CounterVec
	pluginsLoaded prometheus.Gauge

	storageOps     *prometheus.CounterVec
	storageSeconds *prometheus.HistogramVec

	requests       *prometheus.CounterVec
	requestSeconds *prometheus.HistogramVec
}

// NewCollector creates a collector registered with reg. A nil reg uses the
// default Prometheus registry.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if namespace == "" {
		namespace = "mapshell"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, labels)
	}

	return &Collector{
		parses:       counter("parses_total", "Map file parses by format and result.", "format", "result"),
		parseSeconds: histogram("parse_duration_seconds", "Time spent parsing a map file.", prometheus.DefBuckets, "format"),
		// 1 to ~1M features
		parsedFeatures: histogram("parsed_features", "Features read from a successfully parsed file.",
			prometheus.ExponentialBuckets(1, 4, 11), "format"),

		sources: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sources",
			Help:      "Registered map sources by type.",
		}, []string{"type"}),
		sourceTypes: make(map[string]struct{}),

		pluginOps: counter("plugin_operations_total", "Plugin lifecycle operations by result.", "operation", "result"),
		pluginsLoaded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plugins_loaded",
			Help:      "Plugins currently loaded.",
		}),

		storageOps:     counter("storage_operations_total", "Catalog operations by result.", "operation", "result"),
		storageSeconds: histogram("storage_duration_seconds", "Catalog operation latency.", prometheus.DefBuckets, "operation"),

		requests:       counter("http_requests_total", "HTTP requests by route and status class.", "method", "route", "status"),
		requestSeconds: histogram("http_request_duration_seconds", "HTTP request latency by route.", prometheus.DefBuckets, "method", "route"),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveParse implements output.MetricsCollector.
func (c *Collector) ObserveParse(format string, features int, duration time.Duration, err error) {
	c.parses.WithLabelValues(format, result(err)).Inc()
	c.parseSeconds.WithLabelValues(format).Observe(duration.Seconds())
	if err == nil {
		c.parsedFeatures.WithLabelValues(format).Observe(float64(features))
	}
}

// SetSources implements output.MetricsCollector. Types missing from byType
// drop to zero instead of keeping their last value.
func (c *Collector) SetSources(byType map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for t := range c.sourceTypes {
		if _, ok := byType[t]; !ok {
			c.sources.WithLabelValues(t).Set(0)
		}
	}
	for t, n := range byType {
		c.sourceTypes[t] = struct{}{}
		c.sources.WithLabelValues(t).Set(float64(n))
	}
}

// ObservePluginOperation implements output.MetricsCollector.
func (c *Collector) ObservePluginOperation(op string, err error) {
	c.pluginOps.WithLabelValues(op, result(err)).Inc()
}

// SetPluginsLoaded implements output.MetricsCollector.
func (c *Collector) SetPluginsLoaded(count int) {
	c.pluginsLoaded.Set(float64(count))
}

// ObserveStorage implements output.MetricsCollector.
func (c *Collector) ObserveStorage(op string, duration time.Duration, err error) {
	c.storageOps.WithLabelValues(op, result(err)).Inc()
	c.storageSeconds.WithLabelValues(op).Observe(duration.Seconds())
}

// HandlerFor returns the Prometheus HTTP handler for a registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Middleware counts requests per mux route template.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := routeTemplate(r)
		c.requests.WithLabelValues(r.Method, route, statusClass(rec.status)).Inc()
		c.requestSeconds.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// routeTemplate keeps source and plugin ids out of the label set.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// statusClass reduces a status code to its class, e.g. 404 to "4xx".
func statusClass(code int) string {
	if code < 200 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
