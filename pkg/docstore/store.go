package docstore

import (
	"context"
	"strings"
)

// Capability is the uniform blob-store contract every component in the
// core depends on (spec.md §4.1). It has at least two providers: a local
// filesystem provider (LocalProvider) and a remote object-store provider
// (S3Provider).
type Capability interface {
	// Get returns the bytes stored at key, or ok=false if absent.
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)

	// Put writes data to key, overwriting any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// Remove deletes key. Absence is success (idempotent).
	Remove(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns every key under prefix, with prefix stripped, as one
	// flat sequence. Pagination against the backend is transparent to
	// the caller.
	List(ctx context.Context, prefix string) ([]string, error)

	// PresignUpload mints a time-limited URL (UploadURLTTL) a client can
	// PUT the object's bytes to directly.
	PresignUpload(ctx context.Context, key string, contentType string) (string, error)

	// PresignDownload mints a time-limited URL (DownloadURLTTL) a client
	// can GET the object's bytes from directly.
	PresignDownload(ctx context.Context, key string) (string, error)

	// CopyDocument copies every object under "{srcID}/" to "{dstID}/",
	// preserving relative suffixes, without routing bytes through the
	// caller where the backend supports server-side copy.
	CopyDocument(ctx context.Context, srcID, dstID string) error

	// CheckStore performs a round-trip put/get/remove against the store
	// to fail fast on misconfiguration, independent of any document
	// (SPEC_FULL supplement, grounded on y-sweet's startup store check).
	CheckStore(ctx context.Context) error
}

// joinKey prepends an optional global/bucket prefix to key, normalizing
// any resulting double slash (spec §4.1).
func joinKey(globalPrefix, key string) string {
	if globalPrefix == "" {
		return key
	}
	return strings.TrimRight(globalPrefix, "/") + "/" + strings.TrimLeft(key, "/")
}

// stripPrefix removes globalPrefix and the given list prefix from a raw
// key, yielding the relative key callers of List expect.
func stripPrefix(raw, globalPrefix, listPrefix string) string {
	full := joinKey(globalPrefix, listPrefix)
	return strings.TrimPrefix(raw, full)
}

// normalizePrefix enforces a trailing slash on a non-empty prefix, per
// spec §4.1 ("trailing slash enforced on prefix").
func normalizePrefix(prefix string) string {
	if prefix == "" {
		return prefix
	}
	return strings.TrimRight(prefix, "/") + "/"
}

// DataKey returns the snapshot object key for a document.
func DataKey(docID string) string {
	return docID + "/data.ysweet"
}

// AssetsPrefix returns the key prefix under which a document's assets live.
func AssetsPrefix(docID string) string {
	return docID + "/assets/"
}

// AssetKey returns the object key for one asset.
func AssetKey(docID, filename string) string {
	return AssetsPrefix(docID) + filename
}
