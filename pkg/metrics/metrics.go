// Package metrics exposes store operations as prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation outcomes
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Collector records store operations on a private registry. A nil
// *Collector is valid and records nothing.
type Collector struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	documents  *prometheus.GaugeVec
	scans      *prometheus.CounterVec
	startTime  time.Time
}

// NewCollector creates a collector whose metric names start with namespace
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "memdb"
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of store operations",
			},
			[]string{"collection", "op", "outcome"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Store operation latency in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
			},
			[]string{"collection", "op"},
		),
		documents: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "documents",
				Help:      "Number of documents per collection",
			},
			[]string{"collection"},
		),
		scans: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scans_total",
				Help:      "Candidate selections by access path",
			},
			[]string{"collection", "path"},
		),
		startTime: time.Now(),
	}

	uptime := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the collector was created",
		},
		func() float64 { return time.Since(c.startTime).Seconds() },
	)

	c.registry.MustRegister(c.operations, c.latency, c.documents, c.scans, uptime,
		collectors.NewGoCollector())
	return c
}

// Registry returns the registry the collector's metrics live in
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Observe records one operation that started at start
func (c *Collector) Observe(collection, op string, start time.Time, err error) {
	if c == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	c.operations.WithLabelValues(collection, op, outcome).Inc()
	c.latency.WithLabelValues(collection, op).Observe(time.Since(start).Seconds())
}

// SetDocuments records the document count of a collection
func (c *Collector) SetDocuments(collection string, n int) {
	if c == nil {
		return
	}
	c.documents.WithLabelValues(collection).Set(float64(n))
}

// RecordScan records whether a read was answered from an index
func (c *Collector) RecordScan(collection string, indexed bool) {
	if c == nil {
		return
	}
	path := "collection"
	if indexed {
		path = "index"
	}
	c.scans.WithLabelValues(collection, path).Inc()
}

// Forget drops the per-collection series of a dropped collection
func (c *Collector) Forget(collection string) {
	if c == nil {
		return
	}
	labels := prometheus.Labels{"collection": collection}
	c.operations.DeletePartialMatch(labels)
	c.latency.DeletePartialMatch(labels)
	c.documents.DeletePartialMatch(labels)
	c.scans.DeletePartialMatch(labels)
}

// Handler serves the registry in the prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
