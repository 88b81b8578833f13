// Package registry implements DocRegistry (spec.md §4.5): the
// process-wide map from document id to a live docstate.DocState, with
// atomic insert-or-get load semantics and worker lifecycle management.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/scribe/pkg/docstate"
	"github.com/cuemby/scribe/pkg/docstore"
	"github.com/cuemby/scribe/pkg/docworker"
	"github.com/cuemby/scribe/pkg/log"
	"github.com/cuemby/scribe/pkg/scerr"
	"github.com/cuemby/scribe/pkg/statekv"
	"github.com/cuemby/scribe/pkg/types"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Entry is one live document: its DocState plus the cancellation
// function that stops its workers.
type Entry struct {
	DocState *docstate.DocState
	persist  *docworker.PersistenceWorker
	cancel   context.CancelFunc
}

// Registry is the concurrent doc_id -> Entry map. get_or_create's
// "loading promise" placeholder (spec §9) is implemented with
// singleflight.Group instead of a second lock class: concurrent callers
// for the same doc id collapse onto one load.
type Registry struct {
	mu      sync.RWMutex
	entries map[types.DocID]*Entry

	store          docstore.Capability
	checkpointFreq time.Duration
	gcEnabled      bool
	group          singleflight.Group

	// OnEvict and OnPersist are optional observability hooks, wired by
	// the caller (cmd/scribed) to pkg/metrics. Left nil by default so
	// this package carries no metrics dependency itself (it would cycle:
	// metrics.Collector already depends on *Registry).
	OnEvict   func(types.DocID)
	OnPersist func(time.Duration, int, error)
}

// New builds an empty Registry backed by store. checkpointFreq governs
// both the PersistenceWorker's throttle interval and the GcWorker's
// idle-check interval, matching spec.md's shared cadence.
func New(store docstore.Capability, checkpointFreq time.Duration, gcEnabled bool) *Registry {
	return &Registry{
		entries:        make(map[types.DocID]*Entry),
		store:          store,
		checkpointFreq: checkpointFreq,
		gcEnabled:      gcEnabled,
	}
}

// Exists reports whether docID is live in memory or has a persisted
// snapshot in the store.
func (r *Registry) Exists(ctx context.Context, docID types.DocID) (bool, error) {
	r.mu.RLock()
	_, ok := r.entries[docID]
	r.mu.RUnlock()
	if ok {
		return true, nil
	}

	exists, err := r.store.Exists(ctx, docstore.DataKey(docID.String()))
	if err != nil {
		return false, scerr.New(scerr.StoreTransient, "registry.Exists", err)
	}
	return exists, nil
}

// GetOrCreate returns the live Entry for docID, loading it from the
// store (or starting empty) if it is not already in memory. Concurrent
// callers for the same docID collapse onto a single load (spec §9).
func (r *Registry) GetOrCreate(ctx context.Context, docID types.DocID) (*Entry, error) {
	if !docID.Valid() {
		return nil, scerr.New(scerr.InvalidInput, "registry.GetOrCreate", fmt.Errorf("invalid document id %q", docID))
	}

	if entry, ok := r.lookup(docID); ok {
		return entry, nil
	}

	v, err, _ := r.group.Do(docID.String(), func() (interface{}, error) {
		if entry, ok := r.lookup(docID); ok {
			return entry, nil
		}
		return r.load(ctx, docID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

// LiveDocCount returns the number of documents currently held in memory.
func (r *Registry) LiveDocCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Lookup returns the live Entry for docID without loading it, if it is
// already in memory.
func (r *Registry) Lookup(docID types.DocID) (*Entry, bool) {
	return r.lookup(docID)
}

// Forget evicts docID immediately, regardless of its idle state, and
// waits for its PersistenceWorker's final flush to finish before
// returning, so that flush cannot land after delete_document removes
// the backing objects right after.
func (r *Registry) Forget(docID types.DocID) {
	entry, ok := r.lookup(docID)
	r.evict(docID)
	if ok {
		entry.persist.Wait()
	}
}

func (r *Registry) lookup(docID types.DocID) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[docID]
	return entry, ok
}

// Create generates a fresh random doc id (collision probability
// negligible) and invokes GetOrCreate.
func (r *Registry) Create(ctx context.Context) (types.DocID, *Entry, error) {
	id, err := newDocID()
	if err != nil {
		return "", nil, scerr.New(scerr.Internal, "registry.Create", err)
	}
	entry, err := r.GetOrCreate(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return id, entry, nil
}

// load performs the full get_or_create miss path: bind a fresh Kv and
// DocState, load any existing snapshot, materialize an empty snapshot
// for brand-new documents, and spawn the PersistenceWorker and (if
// enabled) the GcWorker (spec §4.5).
func (r *Registry) load(ctx context.Context, docID types.DocID) (*Entry, error) {
	persistWorker := docworker.NewPersistenceWorker(nil, r.checkpointFreq)
	persistWorker.Observe = r.OnPersist
	kv := statekv.New(r.store, docstore.DataKey(docID.String()), persistWorker.Notify)
	persistWorker.Bind(kv)

	doc := docstate.New(kv)
	if err := doc.Load(ctx); err != nil {
		return nil, err
	}
	// The registry itself holds one strong reference for as long as the
	// document is in the map (spec §3, §4.7).
	doc.AddRef()

	workerCtx, cancel := context.WithCancel(context.Background())
	logger := log.WithDocID(docID.String())

	go persistWorker.Run(workerCtx)

	if err := kv.Persist(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial persist failed")
	}

	entry := &Entry{DocState: doc, persist: persistWorker, cancel: cancel}

	if r.gcEnabled {
		gcWorker := docworker.NewGcWorker(doc, r.checkpointFreq, func() {
			r.evict(docID)
			if r.OnEvict != nil {
				r.OnEvict(docID)
			}
		})
		go gcWorker.Run(workerCtx)
	}

	r.mu.Lock()
	r.entries[docID] = entry
	r.mu.Unlock()

	return entry, nil
}

// evict is invoked by a document's GcWorker once it has decided to
// shut down an idle document, and by Forget: it removes the entry from
// the registry, drops the registry's reference, and cancels the
// document's workers (the PersistenceWorker performs one final flush
// and exits). It does not call Shutdown on the document's SyncKv.
func (r *Registry) evict(docID types.DocID) {
	r.mu.Lock()
	entry, ok := r.entries[docID]
	if ok {
		delete(r.entries, docID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	entry.DocState.RemoveRef()
	entry.cancel()
}

// Shutdown cancels every live document's workers, each of which
// performs one final flush before exiting, and waits for all of them
// to finish so no acknowledged mutation is lost (spec §6).
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	entries := make([]*Entry, 0, len(r.entries))
	for id := range r.entries {
		entries = append(entries, r.entries[id])
	}
	r.entries = make(map[types.DocID]*Entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}

	var g errgroup.Group
	for _, e := range entries {
		e := e
		g.Go(func() error {
			e.persist.Wait()
			return nil
		})
	}
	return g.Wait()
}

func newDocID() (types.DocID, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return types.DocID(hex.EncodeToString(buf)), nil
}
