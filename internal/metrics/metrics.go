// Package metrics exposes Prometheus counters for label tree mutations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the label tree collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	leavesCreated prometheus.Counter
	leavesDeleted prometheus.Counter
	importsTotal  *prometheus.CounterVec
	importedRows  prometheus.Counter
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		leavesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labeltree_leaves_created_total",
			Help: "Total number of label leaves created",
		}),
		leavesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labeltree_leaves_deleted_total",
			Help: "Total number of label leaves deleted",
		}),
		importsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "labeltree_imports_total",
			Help: "Total number of tree imports",
		}, []string{"status"}), // status: success, invalid, error
		importedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labeltree_imported_rows_total",
			Help: "Total number of rows persisted by imports",
		}),
	}

	for _, c := range []prometheus.Collector{m.leavesCreated, m.leavesDeleted, m.importsTotal, m.importedRows} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// LeafCreated counts one created leaf
func (m *Metrics) LeafCreated() {
	if m == nil {
		return
	}
	m.leavesCreated.Inc()
}

// LeavesDeleted counts n deleted leaves
func (m *Metrics) LeavesDeleted(n int) {
	if m == nil {
		return
	}
	m.leavesDeleted.Add(float64(n))
}

// ImportFinished records the outcome of one import and the rows it persisted
func (m *Metrics) ImportFinished(status string, rows int) {
	if m == nil {
		return
	}
	m.importsTotal.WithLabelValues(status).Inc()
	m.importedRows.Add(float64(rows))
}
