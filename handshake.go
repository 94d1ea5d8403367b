package handshake

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Action is the unit of work a handshake runs on each target worker, inline
// on the worker's goroutine at its next safepoint. It receives the worker's
// current program point for diagnostics and may fail; the error surfaces
// from that worker's poll after the drain completes.
//
// Actions must be safe to run concurrently with one another across workers.
// An action must not post a new handshake to its own worker in synchronous
// mode (it would deadlock on the rendezvous).
type Action func(location *Location) error

// Handshake is a single coordinated request that a set of workers each run
// an action at their next safepoint. It doubles as a future for the
// coordinator: Get observes the "all started" phase (and, in synchronous
// mode, the "all finished" phase).
//
// Handshakes are created by [Engine.RunThreadLocal] and are immutable apart
// from cancellation and dynamic party membership.
type Handshake struct {
	action        Action
	onDone        func(Action)
	phaser        *phaser
	threads       map[*Worker]struct{}
	threadsMu     sync.Mutex
	cancelled     atomic.Bool
	sideEffecting bool
	sync          bool
}

func newHandshake(initialWorkers []*Worker, action Action, onDone func(Action), sideEffecting, sync bool) *Handshake {
	h := &Handshake{
		action:        action,
		onDone:        onDone,
		sideEffecting: sideEffecting,
		sync:          sync,
		phaser:        newPhaser(len(initialWorkers)),
		threads:       make(map[*Worker]struct{}, len(initialWorkers)),
	}
	for _, w := range initialWorkers {
		h.threads[w] = struct{}{}
	}
	return h
}

// perform is executed by a worker that claimed an eligible entry during a
// drain. It honors the rendezvous protocol and always advances the worker's
// share of the barrier, even when the action fails.
func (h *Handshake) perform(location *Location) error {
	var err error
	if h.sync {
		h.phaser.arriveAndAwaitAdvance()
		if !h.cancelled.Load() {
			err = h.invokeAction(location)
		}
		terminatedNow := h.phaser.arriveAndDeregister()
		h.phaser.awaitAdvance(1)
		if terminatedNow {
			h.fireOnDone()
		}
	} else {
		if !h.cancelled.Load() {
			err = h.invokeAction(location)
		}
		if h.phaser.arriveAndDeregister() {
			h.fireOnDone()
		}
	}
	return err
}

// invokeAction runs the action, converting a panic into a PanicError so the
// worker's drain can aggregate it.
func (h *Handshake) invokeAction(location *Location) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return h.action(location)
}

// addThread records the worker in the handshake's target set. Returns false
// if the worker was already a target (it must not perform twice).
func (h *Handshake) addThread(w *Worker) bool {
	h.threadsMu.Lock()
	defer h.threadsMu.Unlock()
	if _, ok := h.threads[w]; ok {
		return false
	}
	h.threads[w] = struct{}{}
	return true
}

// activateThread registers a late-joining party. Registration only counts
// while phase 0 is still open; a late registration immediately leaves the
// barrier again and reports false.
func (h *Handshake) activateThread() bool {
	phase, ok := h.phaser.register()
	if !ok {
		return false
	}
	if phase != 0 {
		// did not activate on time.
		h.phaser.arriveAndDeregister()
		return false
	}
	return true
}

// deactivateThread removes a party that opted out without performing. Fires
// onDone if that departure terminated the barrier.
func (h *Handshake) deactivateThread() {
	if h.phaser.arriveAndDeregister() {
		h.fireOnDone()
	}
}

func (h *Handshake) fireOnDone() {
	if h.onDone != nil {
		h.onDone(h.action)
	}
}

// Cancel suppresses the action on workers that have not yet started
// performing it. Returns whether the cancellation took effect, i.e. whether
// at least one party was still unarrived. Already-running actions are not
// affected, and the handshake still reaches its terminal state (onDone still
// fires) as the remaining workers drain their entries.
func (h *Handshake) Cancel() bool {
	if h.phaser.unarrivedParties() > 0 {
		h.cancelled.Store(true)
		return true
	}
	return false
}

// IsCancelled reports whether Cancel took effect.
func (h *Handshake) IsCancelled() bool {
	return h.cancelled.Load()
}

// IsDone reports whether the handshake was cancelled or has reached its
// terminal state (every registered party arrived and deregistered).
func (h *Handshake) IsDone() bool {
	return h.cancelled.Load() || h.phaser.isTerminated()
}

// Get blocks until every target worker has started the action (and, in
// synchronous mode, until every worker has finished). Returns ctx.Err() if
// the context is cancelled first; the handshake is left intact.
func (h *Handshake) Get(ctx context.Context) error {
	if err := h.phaser.awaitAdvanceContext(ctx, 0, 0); err != nil {
		return err
	}
	if h.sync {
		return h.phaser.awaitAdvanceContext(ctx, 1, 0)
	}
	return nil
}

// GetTimeout is Get with a deadline per observed phase. Returns a
// *TimeoutError when the deadline passes; the handshake is not cancelled and
// workers may still perform the action afterwards.
func (h *Handshake) GetTimeout(ctx context.Context, timeout time.Duration) error {
	if err := h.phaser.awaitAdvanceContext(ctx, 0, timeout); err != nil {
		return err
	}
	if h.sync {
		return h.phaser.awaitAdvanceContext(ctx, 1, timeout)
	}
	return nil
}

// String returns a diagnostic representation of the handshake.
func (h *Handshake) String() string {
	return fmt.Sprintf("Handshake[cancelled=%t, sideEffecting=%t, sync=%t, done=%t]",
		h.cancelled.Load(), h.sideEffecting, h.sync, h.IsDone())
}
