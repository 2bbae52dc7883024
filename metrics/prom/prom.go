// Package prom exports phrasetrie metrics to Prometheus.
package prom

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements phrasetrie.MetricsCollector.
type Collector struct {
	opLatency *prometheus.HistogramVec
	ops       *prometheus.CounterVec
	offsets   prometheus.Counter
	matches   prometheus.Histogram
	malformed prometheus.Counter
}

// New creates a collector and registers it with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "phrasetrie_operation_latency_seconds",
			Help:    "Latency of insert, delete and query commands",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"op", "status"}),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phrasetrie_operations_total",
			Help: "Commands processed",
		}, []string{"op", "status"}),
		offsets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "phrasetrie_query_offsets_total",
			Help: "Trie traversals started by queries",
		}),
		matches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "phrasetrie_query_matches",
			Help:    "Distinct phrases reported per query",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128},
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "phrasetrie_malformed_commands_total",
			Help: "Protocol lines skipped as malformed",
		}),
	}

	for _, m := range []prometheus.Collector{c.opLatency, c.ops, c.offsets, c.matches, c.malformed} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *Collector) observe(op, st string, d time.Duration) {
	c.opLatency.WithLabelValues(op, st).Observe(d.Seconds())
	c.ops.WithLabelValues(op, st).Inc()
}

// RecordInsert implements phrasetrie.MetricsCollector.
func (c *Collector) RecordInsert(d time.Duration, err error) {
	c.observe("insert", status(err), d)
}

// RecordDelete implements phrasetrie.MetricsCollector.
func (c *Collector) RecordDelete(d time.Duration, err error) {
	c.observe("delete", status(err), d)
}

// RecordQuery implements phrasetrie.MetricsCollector.
func (c *Collector) RecordQuery(d time.Duration, offsets, matches int) {
	c.observe("query", "success", d)
	c.offsets.Add(float64(offsets))
	c.matches.Observe(float64(matches))
}

// RecordMalformed implements phrasetrie.MetricsCollector.
func (c *Collector) RecordMalformed() {
	c.malformed.Inc()
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
