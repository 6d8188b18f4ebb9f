package audit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricRecordsWritten        = "audit_records_written_total"
	MetricUndoOperations        = "audit_undo_operations_total"
	MetricReconstructionSeconds = "audit_reconstruction_duration_seconds"
)

// Metrics contains Prometheus metrics for the auditing engine. All operations
// are thread-safe. A nil *Metrics is a no-op, so callers never need to guard.
type Metrics struct {
	recordsWritten        *prometheus.CounterVec
	undoOperations        *prometheus.CounterVec
	reconstructionSeconds prometheus.Histogram
}

// NewMetrics creates a Metrics instance with all collectors initialized but
// not yet registered; call Register with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		recordsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRecordsWritten,
				Help: "Total change records persisted, by action",
			},
			[]string{"action"},
		),
		undoOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricUndoOperations,
				Help: "Total undo operations attempted, by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		reconstructionSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricReconstructionSeconds,
				Help:    "Time spent folding change records into a revision",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1.0},
			},
		),
	}
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.recordsWritten,
		m.undoOperations,
		m.reconstructionSeconds,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordWritten counts one persisted change record.
func (m *Metrics) RecordWritten(action Action) {
	if m == nil {
		return
	}
	m.recordsWritten.WithLabelValues(string(action)).Inc()
}

// UndoAttempted counts one undo call and its outcome ("ok" or "error").
func (m *Metrics) UndoAttempted(action Action, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.undoOperations.WithLabelValues(string(action), outcome).Inc()
}

// ObserveReconstruction records the duration of one revision fold.
func (m *Metrics) ObserveReconstruction(d time.Duration) {
	if m == nil {
		return
	}
	m.reconstructionSeconds.Observe(d.Seconds())
}
