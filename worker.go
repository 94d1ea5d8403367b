package handshake

import (
	"fmt"
	"sync/atomic"
)

// Worker is the handle for a goroutine that executes user code and
// cooperatively polls for safepoints. Handles are created lazily by
// [Engine.Current] on the worker's own goroutine, and are what coordinators
// pass to [Engine.RunThreadLocal].
//
// The engine only holds the worker weakly: the worker goroutine (or whoever
// coordinates it) must retain the handle for as long as the worker lives.
// Call Exit when the goroutine leaves so queued handshakes are released.
type Worker struct {
	safepoint *Safepoint
	id        uint64 // goroutine ID
	alive     atomic.Bool
}

// ID returns the worker's goroutine ID.
func (w *Worker) ID() uint64 {
	return w.id
}

// Alive reports whether the worker has not yet exited.
func (w *Worker) Alive() bool {
	return w.alive.Load()
}

// Safepoint returns the worker's safepoint state.
func (w *Worker) Safepoint() *Safepoint {
	return w.safepoint
}

// Exit marks the worker dead and opts it out of every queued handshake, so
// coordinators are not left waiting on a party that will never poll again.
// Idempotent.
func (w *Worker) Exit() {
	if !w.alive.CompareAndSwap(true, false) {
		return
	}
	s := w.safepoint
	s.engine.logger.Debug().
		Uint64("worker", w.id).
		Log("worker exited")
	s.engine.registry.remove(w.id)
	s.exit()
}

// String returns a diagnostic representation of the worker.
func (w *Worker) String() string {
	return fmt.Sprintf("Worker[goroutine=%d, alive=%t]", w.id, w.Alive())
}
