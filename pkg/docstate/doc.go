// Package docstate wires the CRDT in crdt.go to statekv.Kv, providing
// DocState: apply/as-update, a per-subscriber broadcast stream, and an
// awareness map of connected clients (spec.md §4.3).
package docstate
