// Package statekv implements SyncKv (spec.md §4.2): a write-through
// in-memory key-value map backed by a single serialized snapshot object
// in a docstore.Capability.
package statekv

import (
	"context"
	"sync"

	"github.com/cuemby/scribe/pkg/docstore"
	"github.com/cuemby/scribe/pkg/scerr"
)

// OnMutate is invoked on every local mutation while the Kv is not shut
// down. Implementations typically forward this to a PersistenceWorker's
// dirty channel.
type OnMutate func()

// Kv is a write-through in-memory key-value map. The in-memory map
// always reflects every mutation made since the last successful
// Persist; a successful Persist reflects every mutation made before it
// started; mutations during a Persist re-dirty the map (spec §4.2
// invariants).
type Kv struct {
	mu       sync.RWMutex
	data     map[string][]byte
	dirty    bool
	shutdown bool

	store  docstore.Capability
	key    string
	onMutate OnMutate

	lastEncodedSize int
}

// New builds a Kv writing its snapshot to key (typically
// docstore.DataKey(docID)) in store. The map starts empty; call Load to
// populate it from any existing snapshot.
func New(store docstore.Capability, key string, onMutate OnMutate) *Kv {
	return &Kv{
		data:     make(map[string][]byte),
		store:    store,
		key:      key,
		onMutate: onMutate,
	}
}

// Load reads the snapshot from the store, if any, populating the
// in-memory map. Called once by the DocRegistry on first load.
func (k *Kv) Load(ctx context.Context) error {
	raw, ok, err := k.store.Get(ctx, k.key)
	if err != nil {
		return scerr.New(scerr.StoreTransient, "statekv.Load", err)
	}
	if !ok {
		return nil
	}

	decoded, err := Decode(raw)
	if err != nil {
		return scerr.New(scerr.InvalidInput, "statekv.Load", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.data = decoded
	return nil
}

// Set upserts key/value, marks the map dirty, and invokes the mutation
// callback. Always succeeds in-memory.
func (k *Kv) Set(key string, value []byte) {
	k.mu.Lock()
	if k.data == nil {
		k.data = make(map[string][]byte)
	}
	k.data[key] = value
	k.dirty = true
	shutdown := k.shutdown
	k.mu.Unlock()

	if !shutdown && k.onMutate != nil {
		k.onMutate()
	}
}

// Get returns the current value for key, or ok=false if absent.
func (k *Kv) Get(key string) (value []byte, ok bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.data[key]
	return v, ok
}

// Remove deletes key, marks the map dirty, and invokes the mutation
// callback, whether or not key was present.
func (k *Kv) Remove(key string) {
	k.mu.Lock()
	delete(k.data, key)
	k.dirty = true
	shutdown := k.shutdown
	k.mu.Unlock()

	if !shutdown && k.onMutate != nil {
		k.onMutate()
	}
}

// Keys returns a snapshot of every key currently present.
func (k *Kv) Keys() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	keys := make([]string, 0, len(k.data))
	for key := range k.data {
		keys = append(keys, key)
	}
	return keys
}

// Snapshot returns a defensive copy of the entire map, for callers
// (e.g. DocState) that need to serialize it outside of Persist.
func (k *Kv) Snapshot() map[string][]byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[string][]byte, len(k.data))
	for key, val := range k.data {
		out[key] = val
	}
	return out
}

// Persist takes a consistent read snapshot of the map, encodes it, and
// writes one object to the store. The lock is not held across the I/O:
// a mutation that lands after the snapshot is taken re-dirties the map
// and is picked up by the next Persist (spec §4.2, §5).
func (k *Kv) Persist(ctx context.Context) error {
	k.mu.Lock()
	snapshot := make(map[string][]byte, len(k.data))
	for key, val := range k.data {
		snapshot[key] = val
	}
	k.dirty = false
	k.mu.Unlock()

	encoded := Encode(snapshot)
	if err := k.store.Put(ctx, k.key, encoded); err != nil {
		k.mu.Lock()
		k.dirty = true
		k.mu.Unlock()
		return scerr.New(scerr.StoreTransient, "statekv.Persist", err)
	}

	k.mu.Lock()
	k.lastEncodedSize = len(encoded)
	k.mu.Unlock()
	return nil
}

// EncodedSize returns the byte size of the most recent successful
// Persist's encoded snapshot, or 0 if Persist has never succeeded.
func (k *Kv) EncodedSize() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.lastEncodedSize
}

// Dirty reports whether the map has mutations not yet reflected in a
// successful Persist.
func (k *Kv) Dirty() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.dirty
}

// Shutdown suppresses future mutation callbacks. An in-flight Persist
// may still complete; this does not itself persist anything.
func (k *Kv) Shutdown() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.shutdown = true
}

// ShuttingDown reports whether Shutdown has been called.
func (k *Kv) ShuttingDown() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.shutdown
}
