package docworker

import (
	"context"
	"time"

	"github.com/cuemby/scribe/pkg/docstate"
	"github.com/cuemby/scribe/pkg/log"
	"github.com/cuemby/scribe/pkg/types"
)

// GcWorker evicts a document after types.IdleTicksBeforeEvict
// consecutive idle intervals with no connection holding a strong
// reference (spec.md §4.7). onEvict is expected to stop the document's
// PersistenceWorker (the registry's onEvict cancels the workers'
// context, after which that worker makes one final flush and exits) and
// remove the document from the registry.
type GcWorker struct {
	doc       *docstate.DocState
	freq      time.Duration
	onEvict   func()
	idleTicks int
}

// NewGcWorker builds a GcWorker for doc, checking every freq.
func NewGcWorker(doc *docstate.DocState, freq time.Duration, onEvict func()) *GcWorker {
	return &GcWorker{doc: doc, freq: freq, onEvict: onEvict}
}

// Run executes the idle-check loop until evicted or ctx is cancelled.
// A cancelled worker exits immediately without evicting — persistence
// is owned by the PersistenceWorker, not the GcWorker (spec §5).
func (w *GcWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.freq)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.tick() {
				return
			}
		}
	}
}

// tick performs one idle check, returning true if the document was
// evicted (and the worker should exit).
func (w *GcWorker) tick() bool {
	if w.doc.RefCount() > 1 {
		w.idleTicks = 0
		return false
	}

	w.idleTicks++
	if w.idleTicks < types.IdleTicksBeforeEvict {
		return false
	}

	log.WithComponent("gc_worker").Debug().Msg("evicting idle document")
	w.onEvict()
	return true
}
