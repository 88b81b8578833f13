package docconn

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/scribe/pkg/docstate"
	"github.com/cuemby/scribe/pkg/statekv"
	"github.com/cuemby/scribe/pkg/types"
	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-process Transport for tests: Send appends to
// outbox, Recv pops from a caller-fed inbox.
type fakeTransport struct {
	mu     sync.Mutex
	outbox [][]byte
	inbox  chan []byte
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbox: make(chan []byte, 64)}
}

func (f *fakeTransport) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outbox = append(f.outbox, append([]byte(nil), frame...))
	return nil
}

func (f *fakeTransport) Recv() ([]byte, error) {
	frame, ok := <-f.inbox
	if !ok {
		return nil, io.EOF
	}
	return frame, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbox)
	}
	return nil
}

func (f *fakeTransport) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.outbox...)
}

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

func newTestDoc(t *testing.T) *docstate.DocState {
	t.Helper()
	kv := statekv.New(newMemStore(), "d1/data.ysweet", nil)
	return docstate.New(kv)
}

func TestReadOnlyConnectionCannotWrite(t *testing.T) {
	doc := newTestDoc(t)
	transport := newFakeTransport()
	conn := New("ro-1", "d1", types.AuthReadOnly, transport, doc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	transport.inbox <- encodeFrame(frameSync, mustLocalUpdate())
	time.Sleep(20 * time.Millisecond)

	require.EqualValues(t, 0, readCount(doc.AsUpdate()))

	cancel()
	<-done
}

func TestFullConnectionWriteMutatesState(t *testing.T) {
	doc := newTestDoc(t)
	transport := newFakeTransport()
	conn := New("full-1", "d1", types.AuthFull, transport, doc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	frame := encodeFrame(frameSync, mustLocalUpdate())
	transport.inbox <- frame
	time.Sleep(20 * time.Millisecond)

	require.NotEqual(t, uint32(0), readCount(doc.AsUpdate()))

	cancel()
	<-done
}

func TestAwarenessAllowedForReadOnly(t *testing.T) {
	doc := newTestDoc(t)
	transport := newFakeTransport()
	conn := New("ro-1", "d1", types.AuthReadOnly, transport, doc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	transport.inbox <- encodeFrame(frameAwareness, []byte("cursor-at-3"))
	time.Sleep(20 * time.Millisecond)

	snap := doc.Awareness().Snapshot()
	require.Contains(t, snap, "ro-1")

	cancel()
	<-done
}

func TestConnectionStateTransitions(t *testing.T) {
	doc := newTestDoc(t)
	transport := newFakeTransport()
	conn := New("c1", "d1", types.AuthFull, transport, doc)
	require.Equal(t, types.ConnAuthorized, conn.State())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	transport.inbox <- encodeFrame(frameAwareness, []byte("ping"))
	require.Eventually(t, func() bool {
		return conn.State() == types.ConnOpen
	}, time.Second, time.Millisecond)

	cancel()
	<-done
	require.Equal(t, types.ConnClosed, conn.State())
}

func readCount(update []byte) uint32 {
	if len(update) < 4 {
		return 0
	}
	return uint32(update[0])<<24 | uint32(update[1])<<16 | uint32(update[2])<<8 | uint32(update[3])
}

// mustLocalUpdate builds a single-entry update frame ("title" = "hello"
// at clock 1), matching the wire format crdt.asUpdate produces.
func mustLocalUpdate() []byte {
	entryKey := "title"
	value := []byte("hello")
	buf := make([]byte, 0, 4+4+len(entryKey)+8+4+len(value))
	buf = append(buf, 0, 0, 0, 1) // one entry
	buf = append(buf, 0, 0, 0, byte(len(entryKey)))
	buf = append(buf, entryKey...)
	buf = append(buf, 0, 0, 0, 0, 0, 0, 0, 1) // clock = 1
	buf = append(buf, 0, 0, 0, byte(len(value)))
	buf = append(buf, value...)
	return buf
}
