package docworker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/scribe/pkg/statekv"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	mu       sync.Mutex
	objs     map[string][]byte
	puts     int32
	failPuts int // number of upcoming Puts that return an error
}

func newCountingStore() *countingStore { return &countingStore{objs: make(map[string][]byte)} }

func (s *countingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.objs[key]
	return v, ok, nil
}

func (s *countingStore) Put(ctx context.Context, key string, data []byte) error {
	atomic.AddInt32(&s.puts, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPuts > 0 {
		s.failPuts--
		return errors.New("injected put failure")
	}
	s.objs[key] = append([]byte(nil), data...)
	return nil
}

func (s *countingStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objs, key)
	return nil
}
func (s *countingStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objs[key]
	return ok, nil
}
func (s *countingStore) List(ctx context.Context, prefix string) ([]string, error) { return nil, nil }
func (s *countingStore) PresignUpload(ctx context.Context, key, contentType string) (string, error) {
	return "", nil
}
func (s *countingStore) PresignDownload(ctx context.Context, key string) (string, error) {
	return "", nil
}
func (s *countingStore) CopyDocument(ctx context.Context, srcID, dstID string) error { return nil }
func (s *countingStore) CheckStore(ctx context.Context) error                       { return nil }

func (s *countingStore) putCount() int32 { return atomic.LoadInt32(&s.puts) }

func TestPersistCoalescesBurstOfMutations(t *testing.T) {
	store := newCountingStore()
	freq := 200 * time.Millisecond
	worker := NewPersistenceWorker(nil, freq)
	kv := statekv.New(store, "d1/data.ysweet", worker.Notify)
	worker.Bind(kv)

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Run(ctx)

	for i := 0; i < 1000; i++ {
		kv.Set("k", []byte{byte(i)})
	}

	time.Sleep(freq / 2)
	require.LessOrEqual(t, store.putCount(), int32(1))

	cancel()
	worker.Wait()
}

func TestPersistWorkerFinalFlushOnCancellation(t *testing.T) {
	store := newCountingStore()
	freq := time.Hour // never fires on its own
	worker := NewPersistenceWorker(nil, freq)
	kv := statekv.New(store, "d1/data.ysweet", worker.Notify)
	worker.Bind(kv)

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Run(ctx)

	kv.Set("a", []byte("1"))
	cancel()
	worker.Wait()

	require.GreaterOrEqual(t, store.putCount(), int32(1))

	reloaded := statekv.New(store, "d1/data.ysweet", nil)
	require.NoError(t, reloaded.Load(context.Background()))
	v, ok := reloaded.Get("a")
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
}

func TestPersistErrorDoesNotKillWorker(t *testing.T) {
	store := newCountingStore()
	store.failPuts = 1 // the first persist fails; the next cycle retries
	freq := 30 * time.Millisecond
	worker := NewPersistenceWorker(nil, freq)
	kv := statekv.New(store, "d1/data.ysweet", worker.Notify)
	worker.Bind(kv)

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Run(ctx)

	kv.Set("a", []byte("1"))
	time.Sleep(100 * time.Millisecond)
	require.False(t, kv.Dirty())
	require.GreaterOrEqual(t, store.putCount(), int32(2))

	cancel()
	worker.Wait()
}
