// Package metrics provides Prometheus metrics collection and exposition
// for scribe, following the teacher's pattern: package-level metric
// variables registered once in init(), a Timer helper for histogram
// observations, and a Collector that periodically samples the
// DocRegistry the way the teacher's Collector samples the Manager.
//
// Metrics:
//
//	scribe_live_documents: gauge, documents currently held in memory
//	scribe_open_connections_total: gauge, live DocConnections
//	scribe_persist_duration_seconds: histogram, PersistenceWorker.Run's persist() call
//	scribe_gc_evictions_total: counter, documents evicted by a GcWorker
//	scribe_document_bytes: histogram, size of a persisted snapshot
//
// Updating a gauge:
//
//	metrics.LiveDocuments.Set(float64(reg.LiveDocCount()))
//
// Recording a histogram observation with the Timer helper:
//
//	timer := metrics.NewTimer()
//	err := kv.Persist(ctx)
//	timer.ObserveDuration(metrics.PersistDuration)
package metrics
