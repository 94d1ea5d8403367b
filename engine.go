package handshake

import (
	"fmt"
	"runtime"

	"github.com/joeycumines/logiface"
)

// Hooks are the host-supplied operations the engine calls outward. The fast
// pending hooks let a host mirror the pending flag into whatever its polling
// hot path checks (e.g. a slot the interpreter dispatch loop reads);
// Supported gates the whole primitive.
//
// All fields are optional: nil pending hooks are no-ops and a nil Supported
// reports true.
type Hooks struct {
	// SetFastPending is invoked on the clear-to-raised transition of a
	// worker's pending flag. Must be safe to call from any goroutine.
	SetFastPending func(w *Worker)

	// ClearFastPending is invoked when the flag is lowered. Called on the
	// worker's own goroutine, except during Worker.Exit teardown.
	ClearFastPending func(w *Worker)

	// Supported reports whether the platform admits this primitive.
	Supported func() bool
}

// Engine is the process-wide entry point: it owns the weakly-keyed registry
// of worker safepoint state, posts handshakes, and resolves the calling
// goroutine's safepoint.
type Engine struct {
	registry *registry
	hooks    Hooks
	logger   *logiface.Logger[logiface.Event]
}

// New creates an engine. Returns ErrNotSupported if the configured hooks
// report the primitive unavailable.
func New(opts ...Option) (*Engine, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		registry: newRegistry(),
		hooks:    cfg.hooks,
		logger:   cfg.logger,
	}
	if err := e.TestSupport(); err != nil {
		return nil, err
	}
	return e, nil
}

// TestSupport returns ErrNotSupported when the host hooks report that
// thread-local handshakes are unavailable.
func (e *Engine) TestSupport() error {
	if e.hooks.Supported != nil && !e.hooks.Supported() {
		return ErrNotSupported
	}
	return nil
}

// Current returns the calling goroutine's safepoint state, creating and
// registering it on first use. The returned state (or its worker handle)
// must be retained by the caller: the engine's registry is weak and will
// drop an unreferenced worker.
func (e *Engine) Current() *Safepoint {
	id := getGoroutineID()
	if w := e.registry.lookup(id); w != nil {
		return w.safepoint
	}
	w := &Worker{id: id}
	w.alive.Store(true)
	s := newSafepoint(e, w)
	e.registry.add(w)
	e.logger.Debug().
		Uint64("worker", id).
		Log("registered worker")
	return s
}

// Poll services pending handshakes for the calling goroutine. Prefer
// [Safepoint.Poll] on a retained safepoint for hot paths; this convenience
// performs a registry lookup first.
func (e *Engine) Poll(location *Location) error {
	return e.Current().Poll(location)
}

// RunThreadLocal posts an action to each listed worker and returns the
// handshake future.
//
// Every worker must be alive at call time or ErrWorkerNotAlive is returned
// (wrapped with the worker's ID) and nothing is queued. Each worker's queue
// gains an active entry, its pending flag is raised, and a currently blocked
// worker is interrupted so the action runs promptly.
//
// onDone, when non-nil, observes termination (not success): it fires exactly
// once, on the goroutine of the last party to leave the barrier, after that
// party's action has returned. sideEffecting actions can be deferred by a
// worker via [Safepoint.SetAllowSideEffects]. sync requests the two-phase
// rendezvous: no action starts until all workers have started, and no worker
// resumes until all have finished.
func (e *Engine) RunThreadLocal(workers []*Worker, action Action, onDone func(Action), sideEffecting, sync bool) (*Handshake, error) {
	if err := e.TestSupport(); err != nil {
		return nil, err
	}
	if action == nil {
		return nil, ErrNilAction
	}
	for _, w := range workers {
		if w == nil {
			return nil, fmt.Errorf("%w (nil worker)", ErrWorkerNotAlive)
		}
		if !w.Alive() {
			return nil, fmt.Errorf("%w (worker %d)", ErrWorkerNotAlive, w.ID())
		}
	}
	h := newHandshake(workers, action, onDone, sideEffecting, sync)
	if len(workers) == 0 {
		// Nothing to rendezvous with; terminal immediately.
		h.fireOnDone()
		return h, nil
	}
	for _, w := range workers {
		w.safepoint.addHandshake(h)
	}
	e.logger.Debug().
		Int("workers", len(workers)).
		Bool("sideEffecting", sideEffecting).
		Bool("sync", sync).
		Log("posted handshake")
	return h, nil
}

// ActivateThread joins the safepoint's worker to an already-posted
// handshake, if its rendezvous has not yet closed. See
// [Safepoint.SetAllowSideEffects] for the companion worker-side APIs.
//
// Precondition: called on the safepoint's own goroutine.
func (e *Engine) ActivateThread(s *Safepoint, h *Handshake) {
	s.activateThread(h)
}

// DeactivateThread opts the safepoint's worker out of a posted handshake;
// the action will not run on this worker and its share of the barrier is
// surrendered.
//
// Precondition: called on the safepoint's own goroutine.
func (e *Engine) DeactivateThread(s *Safepoint, h *Handshake) {
	s.deactivateThread(h)
}

// Workers returns a snapshot of the currently live workers.
func (e *Engine) Workers() []*Worker {
	return e.registry.live()
}

// Scavenge sweeps a batch of the registry, dropping entries whose workers
// exited or were collected. Hosts with long-lived engines should call this
// periodically; it is cheap and incremental.
func (e *Engine) Scavenge(batchSize int) {
	e.registry.scavenge(batchSize)
}

func (e *Engine) setFastPending(w *Worker) {
	if e.hooks.SetFastPending != nil {
		e.hooks.SetFastPending(w)
	}
}

func (e *Engine) clearFastPending(w *Worker) {
	if e.hooks.ClearFastPending != nil {
		e.hooks.ClearFastPending(w)
	}
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
