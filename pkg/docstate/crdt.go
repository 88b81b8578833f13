package docstate

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// entry is one CRDT register: a value with the Lamport clock that last
// wrote it, used to resolve concurrent writes by last-writer-wins with
// a deterministic tie-break (spec §9: "CRDT choice... implement one
// from specification").
type entry struct {
	clock uint64
	value []byte
}

// crdt is a last-writer-wins map over per-key Lamport clocks. It is the
// in-process representation DocState mutates directly; SyncKv stores
// its serialized form.
type crdt struct {
	entries map[string]entry
	clock   uint64 // local Lamport clock, advanced on every local write
}

func newCRDT() *crdt {
	return &crdt{entries: make(map[string]entry)}
}

// localSet performs a local write, advancing the local clock so it is
// greater than any clock observed so far.
func (c *crdt) localSet(key string, value []byte) (newClock uint64) {
	c.clock++
	c.entries[key] = entry{clock: c.clock, value: append([]byte(nil), value...)}
	return c.clock
}

// merge applies an incoming (key, clock, value) triple, keeping the
// entry with the higher clock; ties break on the lexicographically
// greater value, so two replicas converge on the same winner regardless
// of arrival order (spec §8 property 7, convergence).
func (c *crdt) merge(key string, clock uint64, value []byte) {
	if clock > c.clock {
		c.clock = clock
	}
	existing, ok := c.entries[key]
	if !ok || clock > existing.clock || (clock == existing.clock && string(value) > string(existing.value)) {
		c.entries[key] = entry{clock: clock, value: append([]byte(nil), value...)}
	}
}

func (c *crdt) get(key string) ([]byte, bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// asUpdate serializes the entire map as one update frame, sorted by key
// for deterministic output (spec §4.3: "returns the document's full
// state as one update frame").
//
// Frame layout: uint32 entry count, then per entry:
// uint32 keylen, key, uint64 clock, uint32 vallen, value.
func (c *crdt) asUpdate() []byte {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	size := 4
	for _, k := range keys {
		size += 4 + len(k) + 8 + 4 + len(c.entries[k].value)
	}

	buf := make([]byte, 0, size)
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(keys)))
	buf = append(buf, u32[:]...)

	for _, k := range keys {
		e := c.entries[k]
		binary.BigEndian.PutUint32(u32[:], uint32(len(k)))
		buf = append(buf, u32[:]...)
		buf = append(buf, k...)

		var u64 [8]byte
		binary.BigEndian.PutUint64(u64[:], e.clock)
		buf = append(buf, u64[:]...)

		binary.BigEndian.PutUint32(u32[:], uint32(len(e.value)))
		buf = append(buf, u32[:]...)
		buf = append(buf, e.value...)
	}
	return buf
}

// applyUpdate merges every entry in an update frame produced by
// asUpdate, returning InvalidUpdate-classified errors on malformed
// input (spec §4.3, §7).
func (c *crdt) applyUpdate(update []byte) error {
	if len(update) < 4 {
		return fmt.Errorf("docstate: truncated update header")
	}
	count := binary.BigEndian.Uint32(update[:4])
	rest := update[4:]

	for i := uint32(0); i < count; i++ {
		if len(rest) < 4 {
			return fmt.Errorf("docstate: truncated update at entry %d", i)
		}
		keyLen := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint64(len(rest)) < uint64(keyLen)+8+4 {
			return fmt.Errorf("docstate: truncated update at entry %d", i)
		}
		key := string(rest[:keyLen])
		rest = rest[keyLen:]

		clock := binary.BigEndian.Uint64(rest[:8])
		rest = rest[8:]

		valLen := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint64(len(rest)) < uint64(valLen) {
			return fmt.Errorf("docstate: truncated update at entry %d", i)
		}
		value := rest[:valLen]
		rest = rest[valLen:]

		c.merge(key, clock, value)
	}
	return nil
}
