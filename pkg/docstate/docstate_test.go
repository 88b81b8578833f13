package docstate

import (
	"context"
	"sync"
	"testing"

	"github.com/cuemby/scribe/pkg/statekv"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func newMemStore() *memStore { return &memStore{objs: make(map[string][]byte)} }

func (m *memStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.objs[key]
	return v, ok, nil
}

func (m *memStore) Put(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[key] = append([]byte(nil), data...)
	return nil
}

func (m *memStore) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objs, key)
	return nil
}

func (m *memStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objs[key]
	return ok, nil
}

func (m *memStore) List(ctx context.Context, prefix string) ([]string, error) { return nil, nil }
func (m *memStore) PresignUpload(ctx context.Context, key, contentType string) (string, error) {
	return "", nil
}
func (m *memStore) PresignDownload(ctx context.Context, key string) (string, error) { return "", nil }
func (m *memStore) CopyDocument(ctx context.Context, srcID, dstID string) error      { return nil }
func (m *memStore) CheckStore(ctx context.Context) error                            { return nil }

func newTestDocState(t *testing.T) *DocState {
	t.Helper()
	store := newMemStore()
	kv := statekv.New(store, "d1/data.ysweet", nil)
	return New(kv)
}

func TestApplyUpdateThenAsUpdateRoundTrips(t *testing.T) {
	a := newTestDocState(t)

	a.mu.Lock()
	a.crdt.localSet("title", []byte("hello"))
	update := a.crdt.asUpdate()
	a.mu.Unlock()

	b := newTestDocState(t)
	require.NoError(t, b.ApplyUpdate("", update))

	val, ok := b.crdt.get("title")
	require.True(t, ok)
	require.Equal(t, []byte("hello"), val)
}

func TestApplyUpdateRejectsMalformedFrame(t *testing.T) {
	d := newTestDocState(t)
	err := d.ApplyUpdate("", []byte{0, 0, 0, 5})
	require.Error(t, err)
}

func TestConvergenceOfTwoConnections(t *testing.T) {
	ctx := context.Background()
	a := newTestDocState(t)
	b := newTestDocState(t)

	a.mu.Lock()
	a.crdt.localSet("x", []byte("1"))
	uA := a.crdt.asUpdate()
	a.mu.Unlock()

	b.mu.Lock()
	b.crdt.localSet("y", []byte("2"))
	uB := b.crdt.asUpdate()
	b.mu.Unlock()

	require.NoError(t, a.ApplyUpdate("", uB))
	require.NoError(t, b.ApplyUpdate("", uA))

	require.Equal(t, a.AsUpdate(), b.AsUpdate())

	_ = ctx
}

func TestBroadcastExcludesOrigin(t *testing.T) {
	d := newTestDocState(t)
	chOrigin := d.Subscribe("origin")
	chOther := d.Subscribe("other")
	defer d.Unsubscribe("origin")
	defer d.Unsubscribe("other")

	d.mu.Lock()
	d.crdt.localSet("k", []byte("v"))
	update := d.crdt.asUpdate()
	d.persistLocked()
	d.mu.Unlock()
	d.broadcast("origin", &Update{Bytes: update})

	select {
	case <-chOrigin:
		t.Fatal("origin subscriber should not receive its own update")
	default:
	}

	select {
	case got := <-chOther:
		require.Equal(t, update, got.Bytes)
	default:
		t.Fatal("other subscriber should have received the update")
	}
}

func TestAwarenessNotPersisted(t *testing.T) {
	d := newTestDocState(t)
	h := d.Awareness()
	h.Set("", "client1", []byte("cursor-at-5"))

	snap := h.Snapshot()
	require.Contains(t, snap, "client1")

	for _, key := range d.kv.Keys() {
		require.NotContains(t, key, "client1")
	}
}

func TestRefCounting(t *testing.T) {
	d := newTestDocState(t)
	require.EqualValues(t, 0, d.RefCount())
	d.AddRef()
	d.AddRef()
	require.EqualValues(t, 2, d.RefCount())
	d.RemoveRef()
	require.EqualValues(t, 1, d.RefCount())
}
