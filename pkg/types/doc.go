/*
Package types defines the core data structures shared across scribe.

This package contains the fundamental identifiers and value types that
describe a document, a connection's authorization, and the ephemeral
presence records exchanged between clients. These types are used by
docstore, docstate, docconn, registry, and docworker alike.

# Core Types

Document identity:
  - DocID: validated document name, used as a store key prefix
  - AssetID: identifier for an opaque blob under a document's assets/ prefix

Connection state:
  - Authorization: Full or ReadOnly, assumed pre-validated by the caller
  - ConnState: the DocConnection lifecycle state machine's states

Presence:
  - AwarenessEntry: one client's ephemeral presence record, never persisted

All types here are plain data; validation and behavior specific to a
single component live in that component's package.
*/
package types
