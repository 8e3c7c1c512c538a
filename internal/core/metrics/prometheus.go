package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusExporter mirrors recorded samples into Prometheus collectors so
// the store's contents can be scraped alongside the JSON inspection API.
type PrometheusExporter struct {
	samplesTotal *prometheus.CounterVec
	sampleValue  *prometheus.GaugeVec
	latencies    *prometheus.HistogramVec
}

// NewPrometheusExporter registers the exporter's collectors with reg.
func NewPrometheusExporter(reg prometheus.Registerer) *PrometheusExporter {
	factory := promauto.With(reg)

	return &PrometheusExporter{
		samplesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "opscore_metric_samples_total",
			Help: "Total metric samples recorded, by type",
		}, []string{"type"}),
		sampleValue: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "opscore_metric_last_value",
			Help: "Most recent sample value, by type and name",
		}, []string{"type", "name"}),
		latencies: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "opscore_latency_milliseconds",
			Help:    "Latency-typed sample values in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"type"}),
	}
}

// Observe is registered as a Store observer.
func (e *PrometheusExporter) Observe(sample *Sample) {
	typ := string(sample.Type)
	e.samplesTotal.WithLabelValues(typ).Inc()
	e.sampleValue.WithLabelValues(typ, sample.Name).Set(sample.Value)

	switch sample.Type {
	case TypeResponseTime, TypeAPIResponseTime, TypeDBQueryTime, TypePageLoadTime:
		e.latencies.WithLabelValues(typ).Observe(sample.Value)
	}
}
