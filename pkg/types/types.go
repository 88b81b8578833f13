package types

import (
	"regexp"
	"time"
)

// docIDPattern is the conservative name grammar documents must satisfy:
// non-empty, ASCII-safe characters, bounded length.
var docIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// DocID identifies a document. It is used verbatim as a key prefix in the
// store, so it is validated against docIDPattern before use.
type DocID string

// Valid reports whether the id satisfies the document name grammar.
func (d DocID) Valid() bool {
	return docIDPattern.MatchString(string(d))
}

func (d DocID) String() string {
	return string(d)
}

// ValidDocID reports whether s satisfies the document name grammar.
func ValidDocID(s string) bool {
	return docIDPattern.MatchString(s)
}

// Authorization is a token attribute carried by a connection or request.
// It is assumed already validated by the HTTP surface; the core only
// enforces what it permits.
type Authorization string

const (
	// AuthFull grants read and write access.
	AuthFull Authorization = "full"
	// AuthReadOnly grants read access and awareness updates only.
	AuthReadOnly Authorization = "read-only"
)

// CanWrite reports whether this authorization level permits write frames.
func (a Authorization) CanWrite() bool {
	return a == AuthFull
}

// ConnState is the lifecycle state of a DocConnection.
type ConnState string

const (
	ConnConnecting ConnState = "connecting"
	ConnAuthorized ConnState = "authorized"
	ConnOpen       ConnState = "open"
	ConnClosing    ConnState = "closing"
	ConnClosed     ConnState = "closed"
)

// AwarenessEntry is one client's ephemeral presence record.
type AwarenessEntry struct {
	ClientID string
	Presence []byte // opaque, client-defined JSON payload
	LastSeen time.Time
}

// AssetID identifies an uploaded blob under a document's assets/ prefix.
// Filename is "{ID}{Ext}"; Ext includes the leading dot, or is empty.
type AssetID struct {
	ID  string
	Ext string
}

// Filename returns the full object key suffix for this asset id.
func (a AssetID) Filename() string {
	return a.ID + a.Ext
}

// AssetInfo is one entry returned by ListAssets.
type AssetInfo struct {
	AssetID     string
	DownloadURL string
}

// DeleteResult reports the outcome of deleting a document.
type DeleteResult struct {
	Existed       bool
	DataRemoved   bool
	AssetsRemoved int
}

// Presigned URL lifetimes, per spec §4.1 and §6.
const (
	UploadURLTTL   = 15 * time.Minute
	DownloadURLTTL = 60 * time.Minute
)

// DefaultCheckpointFreq is the minimum interval between successive persists
// of the same document (spec §4.6/§4.7).
const DefaultCheckpointFreq = 10 * time.Second

// IdleTicksBeforeEvict is the number of consecutive idle GC ticks tolerated
// before a document is evicted (spec §4.7 / §9).
const IdleTicksBeforeEvict = 2

// DefaultOutboundQueueDepth bounds a DocConnection's outbound frame queue
// (spec §4.4).
const DefaultOutboundQueueDepth = 1024
