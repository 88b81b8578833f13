package doccore

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/cuemby/scribe/pkg/docconn"
	"github.com/cuemby/scribe/pkg/docstate"
	"github.com/cuemby/scribe/pkg/docstore"
	"github.com/cuemby/scribe/pkg/log"
	"github.com/cuemby/scribe/pkg/metrics"
	"github.com/cuemby/scribe/pkg/registry"
	"github.com/cuemby/scribe/pkg/scerr"
	"github.com/cuemby/scribe/pkg/types"
	"github.com/google/uuid"
)

// Config configures a Core instance, following the teacher's flat
// per-component Config struct convention (manager.Config, worker.Config).
type Config struct {
	AllowedAssetContentTypes []string
}

// Core is the single entry point the out-of-scope HTTP surface is
// expected to drive (spec.md §6). It owns the DocRegistry and the
// backing store, and exposes exactly the ten operations spec §6 names.
type Core struct {
	store    docstore.Capability
	registry *registry.Registry
	allowed  map[string]struct{}
}

// New builds a Core over an already-constructed store and registry.
func New(store docstore.Capability, reg *registry.Registry, cfg Config) *Core {
	allowed := make(map[string]struct{}, len(cfg.AllowedAssetContentTypes))
	for _, ct := range cfg.AllowedAssetContentTypes {
		allowed[ct] = struct{}{}
	}
	return &Core{store: store, registry: reg, allowed: allowed}
}

// CreateDoc creates a new document, optionally with a caller-supplied
// id, and returns the id (spec §6: create_doc).
func (c *Core) CreateDoc(ctx context.Context, docID types.DocID) (types.DocID, error) {
	if docID == "" {
		id, _, err := c.registry.Create(ctx)
		return id, err
	}
	if !docID.Valid() {
		return "", scerr.New(scerr.InvalidInput, "doccore.CreateDoc", fmt.Errorf("invalid document id %q", docID))
	}
	if _, err := c.registry.GetOrCreate(ctx, docID); err != nil {
		return "", err
	}
	return docID, nil
}

// DocExists reports whether docID exists, in memory or in the store
// (spec §6: doc_exists).
func (c *Core) DocExists(ctx context.Context, docID types.DocID) (bool, error) {
	return c.registry.Exists(ctx, docID)
}

// GetOrCreateDoc returns the live DocState for docID, loading or
// creating it as needed (spec §6: get_or_create_doc).
func (c *Core) GetOrCreateDoc(ctx context.Context, docID types.DocID) (*docstate.DocState, error) {
	entry, err := c.registry.GetOrCreate(ctx, docID)
	if err != nil {
		return nil, err
	}
	return entry.DocState, nil
}

// AsUpdate returns docID's full state as one update frame. Any
// authorization level may read (spec §6: as_update).
func (c *Core) AsUpdate(ctx context.Context, docID types.DocID, authz types.Authorization) ([]byte, error) {
	entry, err := c.registry.GetOrCreate(ctx, docID)
	if err != nil {
		return nil, err
	}
	return entry.DocState.AsUpdate(), nil
}

// ApplyUpdate integrates bytes into docID's CRDT. Requires Full
// authorization (spec §6: apply_update).
func (c *Core) ApplyUpdate(ctx context.Context, docID types.DocID, authz types.Authorization, update []byte) error {
	if !authz.CanWrite() {
		return scerr.New(scerr.Unauthorized, "doccore.ApplyUpdate", fmt.Errorf("read-only authorization cannot apply updates"))
	}
	entry, err := c.registry.GetOrCreate(ctx, docID)
	if err != nil {
		return err
	}
	return entry.DocState.ApplyUpdate("", update)
}

// OpenConnection attaches transport to docID as a live DocConnection.
// A Full-authorization caller may create the document on demand; a
// ReadOnly caller requires the document to already exist (spec §6:
// open_connection).
func (c *Core) OpenConnection(ctx context.Context, docID types.DocID, authz types.Authorization, transport docconn.Transport) (*docconn.Connection, error) {
	if !authz.CanWrite() {
		exists, err := c.registry.Exists(ctx, docID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, scerr.New(scerr.NotFound, "doccore.OpenConnection", fmt.Errorf("document %q not found", docID))
		}
	}

	entry, err := c.registry.GetOrCreate(ctx, docID)
	if err != nil {
		return nil, err
	}

	connID := uuid.New().String()
	return docconn.New(connID, docID, authz, transport, entry.DocState), nil
}

// PresignUploadAsset mints an id and upload URL for a new asset under
// docID, rejecting content types outside the configured allow-list
// (spec §6: presign_upload_asset).
func (c *Core) PresignUploadAsset(ctx context.Context, docID types.DocID, contentType string) (types.AssetID, string, error) {
	exists, err := c.registry.Exists(ctx, docID)
	if err != nil {
		return types.AssetID{}, "", err
	}
	if !exists {
		return types.AssetID{}, "", scerr.New(scerr.NotFound, "doccore.PresignUploadAsset", fmt.Errorf("document %q not found", docID))
	}
	if len(c.allowed) > 0 {
		if _, ok := c.allowed[contentType]; !ok {
			return types.AssetID{}, "", scerr.New(scerr.InvalidInput, "doccore.PresignUploadAsset", fmt.Errorf("content type %q not permitted", contentType))
		}
	}

	asset := types.AssetID{ID: uuid.New().String(), Ext: extensionFor(contentType)}
	url, err := c.store.PresignUpload(ctx, docstore.AssetKey(docID.String(), asset.Filename()), contentType)
	if err != nil {
		return types.AssetID{}, "", err
	}
	metrics.AssetUploadsTotal.Inc()
	return asset, url, nil
}

// ListAssets lists every asset stored under docID with a fresh
// download URL for each (spec §6: list_assets).
func (c *Core) ListAssets(ctx context.Context, docID types.DocID) ([]types.AssetInfo, error) {
	exists, err := c.registry.Exists(ctx, docID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, scerr.New(scerr.NotFound, "doccore.ListAssets", fmt.Errorf("document %q not found", docID))
	}

	keys, err := c.store.List(ctx, docstore.AssetsPrefix(docID.String()))
	if err != nil {
		return nil, err
	}

	assets := make([]types.AssetInfo, 0, len(keys))
	for _, key := range keys {
		downloadURL, err := c.store.PresignDownload(ctx, docstore.AssetKey(docID.String(), key))
		if err != nil {
			return nil, err
		}
		assetID := strings.TrimSuffix(key, path.Ext(key))
		assets = append(assets, types.AssetInfo{AssetID: assetID, DownloadURL: downloadURL})
	}
	return assets, nil
}

// CopyDocument copies every object under srcID to dstID, forcing a
// flush of any in-memory unsaved state on the source first (spec §6,
// §9 supplement: "force a persist of the source before invoking the
// store's server-side copy").
func (c *Core) CopyDocument(ctx context.Context, srcID, dstID types.DocID) error {
	if !srcID.Valid() || !dstID.Valid() {
		return scerr.New(scerr.InvalidInput, "doccore.CopyDocument", fmt.Errorf("invalid document id"))
	}
	exists, err := c.registry.Exists(ctx, srcID)
	if err != nil {
		return err
	}
	if !exists {
		return scerr.New(scerr.NotFound, "doccore.CopyDocument", fmt.Errorf("document %q not found", srcID))
	}

	if entry, ok := c.registry.Lookup(srcID); ok {
		if err := entry.DocState.Persist(ctx); err != nil {
			return err
		}
	}

	return c.store.CopyDocument(ctx, srcID.String(), dstID.String())
}

// DeleteDocument removes docID's snapshot and every asset (spec §6:
// delete_document).
func (c *Core) DeleteDocument(ctx context.Context, docID types.DocID) (types.DeleteResult, error) {
	existed, err := c.registry.Exists(ctx, docID)
	if err != nil {
		return types.DeleteResult{}, err
	}

	c.registry.Forget(docID)

	dataKey := docstore.DataKey(docID.String())
	dataExisted, err := c.store.Exists(ctx, dataKey)
	if err != nil {
		return types.DeleteResult{}, err
	}
	if dataExisted {
		if err := c.store.Remove(ctx, dataKey); err != nil {
			return types.DeleteResult{}, err
		}
	}

	assetKeys, err := c.store.List(ctx, docstore.AssetsPrefix(docID.String()))
	if err != nil {
		return types.DeleteResult{}, err
	}
	for _, key := range assetKeys {
		if err := c.store.Remove(ctx, docstore.AssetKey(docID.String(), key)); err != nil {
			return types.DeleteResult{}, err
		}
	}

	return types.DeleteResult{
		Existed:       existed,
		DataRemoved:   dataExisted,
		AssetsRemoved: len(assetKeys),
	}, nil
}

// Shutdown flushes and stops every live document (spec §6: "the core
// guarantees every DocRegistry entry is flushed before shutdown()
// returns").
func (c *Core) Shutdown(ctx context.Context) error {
	log.WithComponent("doccore").Info().Msg("shutting down")
	return c.registry.Shutdown(ctx)
}

// extensionFor maps a handful of common asset content types to a file
// extension (including the leading dot), matching y-sweet's
// filename convention of "{asset_id}{ext}". Unknown types get no
// extension.
func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "application/pdf":
		return ".pdf"
	default:
		return ""
	}
}
