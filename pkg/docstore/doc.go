// Package docstore implements StoreCapability (spec.md §4.1): a uniform
// blob-store contract with two providers, LocalProvider (filesystem +
// bbolt index) and S3Provider (aws-sdk-go-v2), plus presigned URL
// minting and server-side prefix copy.
//
// Keys are always relative to a document: DataKey, AssetsPrefix, and
// AssetKey build the canonical key layout from spec.md §6. An optional
// global prefix is applied transparently by each provider.
package docstore
