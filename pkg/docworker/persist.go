package docworker

import (
	"context"
	"time"

	"github.com/cuemby/scribe/pkg/log"
	"github.com/cuemby/scribe/pkg/statekv"
)

// PersistenceWorker debounces dirty signals and performs throttled
// snapshotting, following the loop contract in spec.md §4.6 exactly:
// at most one persist per checkpointFreq window, a final persist on
// cancellation, and persist errors that are logged but never kill the
// worker.
type PersistenceWorker struct {
	kv             *statekv.Kv
	checkpointFreq time.Duration
	dirty          chan struct{} // single-slot, drop-on-full (spec §9)
	done           chan struct{}

	// Observe, if set, is called after every persist attempt with its
	// duration, the encoded snapshot size in bytes (0 on failure), and
	// its error (nil on success). Left nil by default so docworker
	// carries no metrics dependency itself; callers (the registry) wire
	// it to pkg/metrics to avoid an import cycle.
	Observe func(time.Duration, int, error)
}

// NewPersistenceWorker builds a worker for kv, which may be nil if the
// Kv itself needs this worker's Notify method as its OnMutate callback
// (construction-order tie-break) — call Bind before Run in that case.
// Call Notify on every mutation and Run in its own goroutine.
func NewPersistenceWorker(kv *statekv.Kv, checkpointFreq time.Duration) *PersistenceWorker {
	return &PersistenceWorker{
		kv:             kv,
		checkpointFreq: checkpointFreq,
		dirty:          make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
}

// Bind attaches the Kv this worker persists, for the construction order
// where the Kv's OnMutate needs this worker's Notify before the Kv
// itself exists.
func (w *PersistenceWorker) Bind(kv *statekv.Kv) {
	w.kv = kv
}

// Notify signals a mutation occurred. Non-blocking: a pending signal
// collapses duplicate notifications (spec §9, "signal coalescing").
func (w *PersistenceWorker) Notify() {
	select {
	case w.dirty <- struct{}{}:
	default:
	}
}

// Wait blocks until Run has returned (its final persist included).
func (w *PersistenceWorker) Wait() {
	<-w.done
}

// Run executes the checkpoint loop until ctx is cancelled, performing
// one final persist before exiting.
func (w *PersistenceWorker) Run(ctx context.Context) {
	defer close(w.done)
	logger := log.WithComponent("persistence_worker")

	lastSave := time.Now()
	for {
		timer := time.NewTimer(w.checkpointFreq)
		var done bool

		select {
		case <-ctx.Done():
			done = true
		case _, ok := <-w.dirty:
			done = !ok
		case <-timer.C:
			done = w.kv.ShuttingDown()
		}
		timer.Stop()

		if !done {
			if remaining := w.checkpointFreq - time.Since(lastSave); remaining > 0 {
				drain := time.NewTimer(remaining)
				waiting := true
				for waiting {
					select {
					case <-ctx.Done():
						done = true
						waiting = false
					case <-w.dirty:
						// consumed and discarded: a persist is already
						// pending for this window
					case <-drain.C:
						waiting = false
					}
				}
				drain.Stop()
			}
		}

		persistStart := time.Now()
		err := w.kv.Persist(context.Background())
		if err != nil {
			logger.Warn().Err(err).Msg("persist failed, will retry next cycle")
		}
		if w.Observe != nil {
			size := 0
			if err == nil {
				size = w.kv.EncodedSize()
			}
			w.Observe(time.Since(persistStart), size, err)
		}
		lastSave = time.Now()

		if done {
			return
		}
	}
}
