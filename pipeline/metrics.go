package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jacobfgrant/anejo/metric"
)

// pipelineMetrics holds the Prometheus metrics for the sync pipeline stages
type pipelineMetrics struct {
	runsTriggered     prometheus.Counter
	catalogsSynced    *prometheus.CounterVec // by status (ok/error/discarded)
	productsFannedOut prometheus.Counter
	productSyncs      *prometheus.CounterVec // by status (enriched/duplicate/no_dist/error)
	catalogsWritten   *prometheus.CounterVec // by kind (local/branch)
	productsExcluded  prometheus.Counter
	stageDuration     *prometheus.HistogramVec // by stage
}

// newPipelineMetrics creates and registers the pipeline metrics. A nil
// registry disables metrics.
func newPipelineMetrics(registry *metric.Registry) (*pipelineMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &pipelineMetrics{
		runsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "pipeline",
			Name:      "runs_triggered_total",
			Help:      "Total number of sync runs triggered",
		}),
		catalogsSynced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "pipeline",
			Name:      "catalogs_synced_total",
			Help:      "Total catalog sync attempts by status",
		}, []string{"status"}),
		productsFannedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "pipeline",
			Name:      "products_fanned_out_total",
			Help:      "Total product sync messages published by the catalog stage",
		}),
		productSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "pipeline",
			Name:      "product_syncs_total",
			Help:      "Total product sync deliveries by status",
		}, []string{"status"}),
		catalogsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "pipeline",
			Name:      "catalogs_written_total",
			Help:      "Total catalogs written by kind",
		}, []string{"kind"}),
		productsExcluded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "pipeline",
			Name:      "products_excluded_total",
			Help:      "Products excluded from local catalogs for missing download status",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage handler duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"stage"}),
	}

	registrations := []struct {
		name      string
		collector prometheus.Collector
	}{
		{"runs_triggered", m.runsTriggered},
		{"catalogs_synced", m.catalogsSynced},
		{"products_fanned_out", m.productsFannedOut},
		{"product_syncs", m.productSyncs},
		{"catalogs_written", m.catalogsWritten},
		{"products_excluded", m.productsExcluded},
		{"stage_duration", m.stageDuration},
	}
	for _, reg := range registrations {
		if err := registry.Register("pipeline", reg.name, reg.collector); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *pipelineMetrics) recordStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *pipelineMetrics) recordCatalogSync(status string) {
	if m == nil {
		return
	}
	m.catalogsSynced.WithLabelValues(status).Inc()
}

func (m *pipelineMetrics) recordProductSync(status string) {
	if m == nil {
		return
	}
	m.productSyncs.WithLabelValues(status).Inc()
}

func (m *pipelineMetrics) recordCatalogWritten(kind string) {
	if m == nil {
		return
	}
	m.catalogsWritten.WithLabelValues(kind).Inc()
}

func (m *pipelineMetrics) recordRunTriggered() {
	if m == nil {
		return
	}
	m.runsTriggered.Inc()
}

func (m *pipelineMetrics) recordFanOut(count int) {
	if m == nil {
		return
	}
	m.productsFannedOut.Add(float64(count))
}

func (m *pipelineMetrics) recordExcluded(count int) {
	if m == nil {
		return
	}
	m.productsExcluded.Add(float64(count))
}
