// Package metrics provides Prometheus metrics for the index catalog.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes used as the "outcome" label.
const (
	OutcomeOK       = "ok"
	OutcomeInvalid  = "invalid"
	OutcomeConflict = "conflict"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

var (
	// CatalogOperationsTotal counts catalog operations by operation and outcome.
	CatalogOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indexdef_catalog_operations_total",
		Help: "Total number of catalog operations, by operation and outcome.",
	}, []string{"operation", "outcome"})

	// ValidationViolationsTotal counts rejected config keys by path root.
	ValidationViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indexdef_validation_violations_total",
		Help: "Total number of index config violations, by top-level section.",
	}, []string{"section"})

	// DocumentsMappedTotal counts documents run through a doc mapper.
	DocumentsMappedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indexdef_documents_mapped_total",
		Help: "Total number of documents mapped, by result (valid/rejected).",
	}, []string{"result"})

	// WatcherEventsTotal counts config file events handled by the watcher.
	WatcherEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "indexdef_watcher_events_total",
		Help: "Total number of config file events, by kind (apply/remove) and outcome.",
	}, []string{"kind", "outcome"})

	// IndexesRegistered tracks the number of indexes in the metastore.
	IndexesRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "indexdef_indexes_registered",
		Help: "Current number of registered indexes.",
	})
)

// RecordOperation increments the operation counter.
func RecordOperation(operation, outcome string) {
	CatalogOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordViolation counts one violation under the top-level section of path,
// e.g. "doc_mapping" for "doc_mapping.field_mappings[2].type".
func RecordViolation(path string) {
	ValidationViolationsTotal.WithLabelValues(section(path)).Inc()
}

// RecordMapped adds to the mapped documents counters.
func RecordMapped(valid, rejected int) {
	if valid > 0 {
		DocumentsMappedTotal.WithLabelValues("valid").Add(float64(valid))
	}
	if rejected > 0 {
		DocumentsMappedTotal.WithLabelValues("rejected").Add(float64(rejected))
	}
}

// RecordWatcherEvent increments the watcher event counter.
func RecordWatcherEvent(kind, outcome string) {
	WatcherEventsTotal.WithLabelValues(kind, outcome).Inc()
}

func section(path string) string {
	for i, r := range path {
		if r == '.' || r == '[' {
			return path[:i]
		}
	}
	if path == "" {
		return "root"
	}
	return path
}
