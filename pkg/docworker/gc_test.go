package docworker

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/scribe/pkg/docstate"
	"github.com/cuemby/scribe/pkg/statekv"
	"github.com/stretchr/testify/require"
)

func newTestDocStateForGC(t *testing.T) *docstate.DocState {
	t.Helper()
	store := newCountingStore()
	kv := statekv.New(store, "d1/data.ysweet", nil)
	return docstate.New(kv)
}

func TestGcWorkerNeverEvictsWithActiveConnection(t *testing.T) {
	doc := newTestDocStateForGC(t)
	doc.AddRef() // registry's own reference
	doc.AddRef() // one active connection

	var evicted bool
	worker := NewGcWorker(doc, 10*time.Millisecond, func() { evicted = true })

	for i := 0; i < 5; i++ {
		require.False(t, worker.tick())
	}
	require.False(t, evicted)
}

func TestGcWorkerEvictsAfterTwoIdleTicks(t *testing.T) {
	doc := newTestDocStateForGC(t)
	doc.AddRef() // registry's own reference; no connections

	var evicted bool
	worker := NewGcWorker(doc, 10*time.Millisecond, func() { evicted = true })

	require.False(t, worker.tick()) // idleTicks = 1
	require.False(t, evicted)
	require.True(t, worker.tick()) // idleTicks = 2, evicts
	require.True(t, evicted)
}

func TestGcWorkerIdleCounterResetsOnReconnect(t *testing.T) {
	doc := newTestDocStateForGC(t)
	doc.AddRef()

	var evicted bool
	worker := NewGcWorker(doc, 10*time.Millisecond, func() { evicted = true })

	require.False(t, worker.tick()) // idleTicks = 1

	doc.AddRef() // transient reconnect
	require.False(t, worker.tick())
	require.Equal(t, 0, worker.idleTicks)
	doc.RemoveRef()

	require.False(t, worker.tick()) // idleTicks = 1 again
	require.True(t, worker.tick())  // idleTicks = 2, evicts
	require.True(t, evicted)
}

func TestGcWorkerCancellationExitsWithoutEviction(t *testing.T) {
	doc := newTestDocStateForGC(t)
	doc.AddRef()

	var evicted bool
	worker := NewGcWorker(doc, 5*time.Millisecond, func() { evicted = true })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	worker.Run(ctx)

	require.False(t, evicted)
}
