// Package metrics exposes Prometheus collectors for the block index pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "iroha_index"

// Block outcomes used as the "status" label.
const (
	StatusIndexed = "indexed"
	StatusSkipped = "skipped"
	StatusPending = "pending"
	StatusFailed  = "failed"
)

// Metrics holds the indexer collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	BlocksTotal    *prometheus.CounterVec
	RecordsWritten *prometheus.CounterVec
	RetriesTotal   prometheus.Counter
	IndexedHeight  prometheus.Gauge
	PendingBlocks  prometheus.Gauge
	IndexDuration  prometheus.Histogram
	ReplayDuration prometheus.Histogram
	StreamMessages *prometheus.CounterVec
	StreamStalled  prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers every collector on a private registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.BlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_total",
			Help:      "Blocks handed to the indexer by outcome",
		},
		[]string{"status"},
	)

	m.RecordsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "Index records written by index",
		},
		[]string{"index"}, // "account_height", "asset_position"
	)

	m.RetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Block index attempts that failed and were retried",
		},
	)

	m.IndexedHeight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexed_height",
			Help:      "Highest block height handed through the pipeline",
		},
	)

	m.PendingBlocks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_blocks",
			Help:      "Blocks declared pending after exhausting retries",
		},
	)

	m.IndexDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "block_duration_seconds",
			Help:      "Time to index and commit one block",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		},
	)

	m.ReplayDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "replay_duration_seconds",
			Help:      "Time to replay a range of blocks",
			Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0},
		},
	)

	m.StreamMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_messages_total",
			Help:      "Block stream entries consumed by result",
		},
		[]string{"result"}, // "acked", "rejected", "stalled", "error"
	)

	m.StreamStalled = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_stalled",
			Help:      "1 while the head of the block stream cannot be handed to the pipeline",
		},
	)

	m.registry.MustRegister(
		m.BlocksTotal,
		m.RecordsWritten,
		m.RetriesTotal,
		m.IndexedHeight,
		m.PendingBlocks,
		m.IndexDuration,
		m.ReplayDuration,
		m.StreamMessages,
		m.StreamStalled,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordBlock counts a block outcome and, for indexed blocks, the records written.
func (m *Metrics) RecordBlock(status string, height uint64, accounts, positions int, took time.Duration) {
	if m == nil {
		return
	}
	m.BlocksTotal.WithLabelValues(status).Inc()
	if status != StatusIndexed {
		return
	}
	m.RecordsWritten.WithLabelValues("account_height").Add(float64(accounts))
	m.RecordsWritten.WithLabelValues("asset_position").Add(float64(positions))
	m.IndexDuration.Observe(took.Seconds())
	m.IndexedHeight.Set(float64(height))
}

// RecordRetry counts one failed attempt that will be retried.
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// SetPending sets the pending block gauge.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingBlocks.Set(float64(n))
}

// RecordReplay observes the duration of a replay.
func (m *Metrics) RecordReplay(took time.Duration) {
	if m == nil {
		return
	}
	m.ReplayDuration.Observe(took.Seconds())
}

// RecordStreamMessage counts a consumed stream entry.
func (m *Metrics) RecordStreamMessage(result string) {
	if m == nil {
		return
	}
	m.StreamMessages.WithLabelValues(result).Inc()
}

// SetStalled flags whether the block stream is stuck on an entry it cannot submit.
func (m *Metrics) SetStalled(stalled bool) {
	if m == nil {
		return
	}
	if stalled {
		m.StreamStalled.Set(1)
	} else {
		m.StreamStalled.Set(0)
	}
}
