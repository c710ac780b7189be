package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the CAP bridge and the integrity
// validator.
type Metrics struct {
	// CAP records accepted, by domain
	RecordsReceived *prometheus.CounterVec

	// CAP records rejected, by reason ("structure", "schema", "duplicate")
	RecordsRejected *prometheus.CounterVec

	// Full POST /cap handling latency
	IngestLatency prometheus.Histogram

	// Schema validation latency
	ValidateLatency prometheus.Histogram

	// Integrity runs by verdict ("pass", "fail")
	IntegrityRuns *prometheus.CounterVec

	// Canonical schema restores triggered by hash drift
	SchemaRestores prometheus.Counter

	// Per-request latency by route and status
	RequestLatency *prometheus.HistogramVec
}

// New creates a Metrics instance with all bridge metrics registered on the
// default registry.
func New() *Metrics {
	return &Metrics{
		RecordsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "capbridge_records_received_total",
			Help: "Total CAP records accepted by the bridge",
		}, []string{"domain"}),

		RecordsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "capbridge_records_rejected_total",
			Help: "Total CAP records rejected, by rejection reason",
		}, []string{"reason"}),

		IngestLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "capbridge_ingest_duration_seconds",
			Help:    "Duration of full CAP record ingestion including validation and persistence",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		ValidateLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "capbridge_validate_duration_seconds",
			Help:    "Duration of schema validation per CAP record",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),

		IntegrityRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "capbridge_integrity_runs_total",
			Help: "Total integrity validator runs by verdict",
		}, []string{"verdict"}),

		SchemaRestores: promauto.NewCounter(prometheus.CounterOpts{
			Name: "capbridge_schema_restores_total",
			Help: "Total canonical schema restores triggered by hash drift",
		}),

		RequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "capbridge_http_request_duration_seconds",
			Help:    "HTTP request duration by route and status code",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route", "status"}),
	}
}

// IncrementReceived records an accepted CAP record.
func (m *Metrics) IncrementReceived(domain string) {
	if m != nil {
		m.RecordsReceived.WithLabelValues(domain).Inc()
	}
}

// IncrementRejected records a rejected CAP record.
func (m *Metrics) IncrementRejected(reason string) {
	if m != nil {
		m.RecordsRejected.WithLabelValues(reason).Inc()
	}
}

// ObserveIngestLatency records the duration of a full ingest.
func (m *Metrics) ObserveIngestLatency(d time.Duration) {
	if m != nil {
		m.IngestLatency.Observe(d.Seconds())
	}
}

// ObserveValidateLatency records the duration of a schema validation.
func (m *Metrics) ObserveValidateLatency(d time.Duration) {
	if m != nil {
		m.ValidateLatency.Observe(d.Seconds())
	}
}

// IncrementIntegrityRun records an integrity validator run outcome.
func (m *Metrics) IncrementIntegrityRun(verdict string) {
	if m != nil {
		m.IntegrityRuns.WithLabelValues(verdict).Inc()
	}
}

// IncrementSchemaRestore records a canonical schema restore.
func (m *Metrics) IncrementSchemaRestore() {
	if m != nil {
		m.SchemaRestores.Inc()
	}
}

// ObserveRequestLatency records a per-request duration sample.
func (m *Metrics) ObserveRequestLatency(route, status string, d time.Duration) {
	if m != nil {
		m.RequestLatency.WithLabelValues(route, status).Observe(d.Seconds())
	}
}
