// Package metrics holds the Prometheus instruments for ingest, enrichment
// and persistence.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "naturelens"

// Fallback kinds.
const (
	FallbackCaption = "caption"
	FallbackSummary = "summary"
)

// Enrichment outcomes.
const (
	EnrichFetched = "fetched"
	EnrichSkipped = "skipped"
	EnrichShared  = "shared"
)

// CountsFunc reports two running totals kept by another component.
type CountsFunc func() (int64, int64)

// Metrics contains every instrument. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Ingests         *prometheus.CounterVec
	IngestDuration  *prometheus.HistogramVec
	StageDuration   *prometheus.HistogramVec
	Fallbacks       *prometheus.CounterVec
	Enrichments     *prometheus.CounterVec
	PersistFailures *prometheus.CounterVec
	ModelRequests   *prometheus.CounterVec
	Albums          prometheus.Gauge
	RecentPhotos    prometheus.Gauge
	registry        *prometheus.Registry

	summaryCacheDesc  *prometheus.Desc
	historyWritesDesc *prometheus.Desc

	mu            sync.Mutex
	summaryCache  CountsFunc
	historyWrites CountsFunc
}

// New creates the instruments and registers them with registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register naturelens metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.Ingests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingests_total",
		Help:      "Ingest attempts by source and outcome.",
	}, []string{"source", "status"})

	m.IngestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ingest_duration_seconds",
		Help:      "End-to-end ingest duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"source"})

	m.StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Duration of individual pipeline stages in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"stage"})

	m.Fallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fallbacks_total",
		Help:      "Caption and summary requests answered with a fallback.",
	}, []string{"kind"})

	m.Enrichments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "album_enrichments_total",
		Help:      "Album opens by enrichment outcome.",
	}, []string{"result"})

	m.PersistFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persistence_failures_total",
		Help:      "Collection load and save failures.",
	}, []string{"op"})

	m.ModelRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "model_requests_total",
		Help:      "Requests to external models by operation and outcome.",
	}, []string{"operation", "status"})

	m.Albums = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "albums",
		Help:      "Number of species albums in the collection.",
	})

	m.RecentPhotos = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "recent_photos",
		Help:      "Number of photos in the recent feed.",
	})

	m.summaryCacheDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "summary_cache_requests_total"),
		"Species summary lookups by cache result.",
		[]string{"result"}, nil)

	m.historyWritesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "history_writes_lost_total"),
		"Ingest history rows that never reached the database.",
		[]string{"reason"}, nil)
}

// WatchSummaryCache exports hit and miss totals read from stats at
// collection time.
func (m *Metrics) WatchSummaryCache(stats CountsFunc) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaryCache = stats
}

// WatchHistoryWriter exports failed and dropped history writes read from
// stats at collection time.
func (m *Metrics) WatchHistoryWriter(stats CountsFunc) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.historyWrites = stats
}

// RecordIngest counts one ingest attempt and, on success, its duration.
func (m *Metrics) RecordIngest(source, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Ingests.WithLabelValues(source, status).Inc()
	m.IngestDuration.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveStage records how long one pipeline stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// IncFallback counts an absorbed caption or summary failure.
func (m *Metrics) IncFallback(kind string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(kind).Inc()
}

// IncEnrichment counts an album open by outcome.
func (m *Metrics) IncEnrichment(result string) {
	if m == nil {
		return
	}
	m.Enrichments.WithLabelValues(result).Inc()
}

// IncPersistFailure counts a failed load, decode, encode or save.
func (m *Metrics) IncPersistFailure(op string) {
	if m == nil {
		return
	}
	m.PersistFailures.WithLabelValues(op).Inc()
}

// IncModelRequest counts one external model call.
func (m *Metrics) IncModelRequest(operation, status string) {
	if m == nil {
		return
	}
	m.ModelRequests.WithLabelValues(operation, status).Inc()
}

// SetCollectionSize updates the album and recent feed gauges.
func (m *Metrics) SetCollectionSize(albums, recent int) {
	if m == nil {
		return
	}
	m.Albums.Set(float64(albums))
	m.RecentPhotos.Set(float64(recent))
}

// WriteTextfile writes every registered metric in the text exposition
// format, for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// Describe implements the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.Ingests.Describe(ch)
	m.IngestDuration.Describe(ch)
	m.StageDuration.Describe(ch)
	m.Fallbacks.Describe(ch)
	m.Enrichments.Describe(ch)
	m.PersistFailures.Describe(ch)
	m.ModelRequests.Describe(ch)
	ch <- m.Albums.Desc()
	ch <- m.RecentPhotos.Desc()
	ch <- m.summaryCacheDesc
	ch <- m.historyWritesDesc
}

// Collect implements the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.Ingests.Collect(ch)
	m.IngestDuration.Collect(ch)
	m.StageDuration.Collect(ch)
	m.Fallbacks.Collect(ch)
	m.Enrichments.Collect(ch)
	m.PersistFailures.Collect(ch)
	m.ModelRequests.Collect(ch)
	ch <- m.Albums
	ch <- m.RecentPhotos

	m.mu.Lock()
	summaryCache, historyWrites := m.summaryCache, m.historyWrites
	m.mu.Unlock()
	if summaryCache != nil {
		hits, misses := summaryCache()
		ch <- prometheus.MustNewConstMetric(m.summaryCacheDesc, prometheus.CounterValue, float64(hits), "hit")
		ch <- prometheus.MustNewConstMetric(m.summaryCacheDesc, prometheus.CounterValue, float64(misses), "miss")
	}
	if historyWrites != nil {
		failed, dropped := historyWrites()
		ch <- prometheus.MustNewConstMetric(m.historyWritesDesc, prometheus.CounterValue, float64(failed), "failed")
		ch <- prometheus.MustNewConstMetric(m.historyWritesDesc, prometheus.CounterValue, float64(dropped), "dropped")
	}
}
