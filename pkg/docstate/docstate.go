package docstate

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/scribe/pkg/scerr"
	"github.com/cuemby/scribe/pkg/statekv"
	"github.com/cuemby/scribe/pkg/types"
)

const crdtKeyPrefix = "crdt/"

// Update is a broadcast-worthy change delivered to a subscriber: either
// a derived CRDT update or an awareness change (spec §4.3: "every
// broadcast-worthy change (remote update, local awareness change)").
type Update struct {
	Awareness bool
	Bytes     []byte
}

// DocState owns one CRDT document, one statekv.Kv, and one awareness
// map, and publishes a per-subscriber change-notification stream.
type DocState struct {
	mu   sync.Mutex
	crdt *crdt
	kv   *statekv.Kv

	awarenessMu sync.RWMutex
	awareness   map[string]types.AwarenessEntry

	subMu sync.Mutex
	subs  map[string]chan *Update

	refCount atomic.Int32
}

// New builds an empty DocState bound to kv. Call Load to restore any
// persisted state before serving connections.
func New(kv *statekv.Kv) *DocState {
	return &DocState{
		crdt:      newCRDT(),
		kv:        kv,
		awareness: make(map[string]types.AwarenessEntry),
		subs:      make(map[string]chan *Update),
	}
}

// Load reads the backing snapshot (via kv.Load) and reconstructs the
// CRDT's entries from it. Must round-trip through
// load -> apply all persisted updates -> serialize -> load without
// drift (spec §4.3).
func (d *DocState) Load(ctx context.Context) error {
	if err := d.kv.Load(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for key, raw := range d.kv.Snapshot() {
		if len(key) <= len(crdtKeyPrefix) || key[:len(crdtKeyPrefix)] != crdtKeyPrefix {
			continue
		}
		if len(raw) < 8 {
			continue
		}
		clock := binary.BigEndian.Uint64(raw[:8])
		value := raw[8:]
		d.crdt.merge(key[len(crdtKeyPrefix):], clock, value)
	}
	return nil
}

// ApplyUpdate integrates an external update frame into the CRDT,
// write-through persists every changed entry into the backing Kv, and
// broadcasts the update to every subscriber except originSub (spec
// §4.3, §8 property 7). Fails with scerr.InvalidInput if decoding
// fails; otherwise never fails.
func (d *DocState) ApplyUpdate(originSub string, update []byte) error {
	d.mu.Lock()
	before := d.crdt.asUpdate()
	if err := d.crdt.applyUpdate(update); err != nil {
		d.mu.Unlock()
		return scerr.InvalidUpdate("docstate.ApplyUpdate", err)
	}
	after := d.crdt.asUpdate()
	d.persistLocked()
	d.mu.Unlock()

	if string(before) == string(after) {
		return nil
	}
	d.broadcast(originSub, &Update{Bytes: update})
	return nil
}

// persistLocked write-through persists every CRDT entry into the
// backing Kv. Must be called with d.mu held.
func (d *DocState) persistLocked() {
	for key, e := range d.crdt.entries {
		buf := make([]byte, 8+len(e.value))
		binary.BigEndian.PutUint64(buf[:8], e.clock)
		copy(buf[8:], e.value)
		d.kv.Set(crdtKeyPrefix+key, buf)
	}
}

// Persist forces an immediate snapshot of the backing Kv, independent
// of the PersistenceWorker's own schedule. Used by copy_document to
// flush in-memory state before a server-side copy (spec §9 supplement).
func (d *DocState) Persist(ctx context.Context) error {
	return d.kv.Persist(ctx)
}

// AsUpdate returns the document's full state as one update frame.
func (d *DocState) AsUpdate() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.crdt.asUpdate()
}

// Subscribe registers a new subscriber under id and returns its channel.
// The caller must eventually call Unsubscribe.
func (d *DocState) Subscribe(id string) <-chan *Update {
	ch := make(chan *Update, 256)
	d.subMu.Lock()
	d.subs[id] = ch
	d.subMu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (d *DocState) Unsubscribe(id string) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	if ch, ok := d.subs[id]; ok {
		delete(d.subs, id)
		close(ch)
	}
}

func (d *DocState) broadcast(originSub string, update *Update) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for id, ch := range d.subs {
		if id == originSub {
			continue
		}
		select {
		case ch <- update:
		default:
			// subscriber backlog full; it will re-converge via the
			// next state-vector exchange (spec §4.4 backpressure note)
		}
	}
}

// Awareness returns the shared presence map handle.
func (d *DocState) Awareness() *AwarenessHandle {
	return &AwarenessHandle{state: d}
}

// AwarenessHandle mutates and broadcasts awareness entries without
// exposing DocState's internal locks.
type AwarenessHandle struct{ state *DocState }

// Set upserts clientID's presence and broadcasts the change to every
// subscriber except originSub.
func (h *AwarenessHandle) Set(originSub, clientID string, presence []byte) {
	h.state.awarenessMu.Lock()
	h.state.awareness[clientID] = types.AwarenessEntry{
		ClientID: clientID,
		Presence: presence,
		LastSeen: time.Now(),
	}
	h.state.awarenessMu.Unlock()
	h.state.broadcast(originSub, &Update{Awareness: true, Bytes: presence})
}

// Remove deletes clientID's presence, e.g. on disconnect.
func (h *AwarenessHandle) Remove(clientID string) {
	h.state.awarenessMu.Lock()
	delete(h.state.awareness, clientID)
	h.state.awarenessMu.Unlock()
}

// Snapshot returns a copy of every known client's presence.
func (h *AwarenessHandle) Snapshot() map[string]types.AwarenessEntry {
	h.state.awarenessMu.RLock()
	defer h.state.awarenessMu.RUnlock()
	out := make(map[string]types.AwarenessEntry, len(h.state.awareness))
	for k, v := range h.state.awareness {
		out[k] = v
	}
	return out
}

// AddRef increments the connection-held strong-reference counter used
// by GcWorker to judge idleness (spec §9: "expose idleness explicitly").
func (d *DocState) AddRef() int32 {
	return d.refCount.Add(1)
}

// RemoveRef decrements the connection-held strong-reference counter.
func (d *DocState) RemoveRef() int32 {
	return d.refCount.Add(-1)
}

// RefCount returns the current number of connection-held references.
func (d *DocState) RefCount() int32 {
	return d.refCount.Load()
}
