// Package docworker implements PersistenceWorker (spec.md §4.6) and
// GcWorker (spec.md §4.7), one instance of each per live document,
// coordinated by pkg/registry.
package docworker
