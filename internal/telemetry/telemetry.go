// Package telemetry keeps local-only counters for the asset cache core.
//
// Metrics live in a private Prometheus registry owned by the host application.
// Nothing is exported or transmitted unless the host chooses to expose Registry().
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "arcache"

// Metrics groups every collector the core records to.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	ingest        *prometheus.CounterVec
	ingestScore   prometheus.Histogram
	documentLoads *prometheus.CounterVec
	documentSaves *prometheus.CounterVec
	cacheFiles    *prometheus.CounterVec
	tracked       prometheus.Gauge
}

// New creates the collectors and registers them in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ingest: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_total",
			Help:      "Marker ingestion verdicts.",
		}, []string{"verdict"}),
		ingestScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_score",
			Help:      "Quality scores of ingested marker images.",
			Buckets:   []float64{25, 50, 75, 90, 100},
		}),
		documentLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_loads_total",
			Help:      "Document loads by outcome.",
		}, []string{"document", "status"}),
		documentSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_saves_total",
			Help:      "Document saves by result.",
		}, []string{"document", "result"}),
		cacheFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_files_total",
			Help:      "Asset cache file operations.",
		}, []string{"op", "result"}),
		tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_downloads",
			Help:      "Downloads currently shown by the progress tracker.",
		}),
	}
	m.registry.MustRegister(m.ingest, m.ingestScore, m.documentLoads, m.documentSaves, m.cacheFiles, m.tracked)
	return m
}

// Registry returns the registry holding every collector, or nil.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Result labels.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

// ObserveIngest records an ingestion verdict and its score.
func (m *Metrics) ObserveIngest(accepted bool, score int) {
	if m == nil {
		return
	}
	verdict := "rejected"
	if accepted {
		verdict = "accepted"
	}
	m.ingest.WithLabelValues(verdict).Inc()
	m.ingestScore.Observe(float64(score))
}

// ObserveLoad records a document load outcome.
func (m *Metrics) ObserveLoad(document, status string) {
	if m == nil {
		return
	}
	m.documentLoads.WithLabelValues(document, status).Inc()
}

// ObserveSave records a document save.
func (m *Metrics) ObserveSave(document string, err error) {
	if m == nil {
		return
	}
	m.documentSaves.WithLabelValues(document, result(err)).Inc()
}

// ObserveCacheOp records an asset cache file operation.
func (m *Metrics) ObserveCacheOp(op string, err error) {
	if m == nil {
		return
	}
	m.cacheFiles.WithLabelValues(op, result(err)).Inc()
}

// SetTracked sets the number of tracked downloads.
func (m *Metrics) SetTracked(n int) {
	if m == nil {
		return
	}
	m.tracked.Set(float64(n))
}
