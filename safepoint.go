package handshake

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// handshakeEntry pairs a queued handshake with its per-worker active bit.
// One entry exists per (worker, handshake) pairing; it leaves the queue when
// claimed for execution or when the worker deactivates itself.
type handshakeEntry struct {
	handshake *Handshake
	active    bool
}

// String returns a diagnostic representation of the entry.
func (e *handshakeEntry) String() string {
	return fmt.Sprintf("handshakeEntry[%s active=%t]", e.handshake, e.active)
}

// Safepoint is the per-worker handshake state: the entry queue, the
// lock-free pending flag the worker polls, side-effect gating, and the
// blocked-call bookkeeping.
//
// All mutable fields are guarded by mu, except the pending flag (atomic) and
// interrupted (written under mu, readable outside: some interrupters need
// ResetInterrupted to run concurrently with Interrupt, which is always
// invoked under mu).
type Safepoint struct {
	engine *Engine
	worker *Worker

	mu            sync.Mutex
	queue         []*handshakeEntry
	blockedAction Interrupter
	interrupted   atomic.Bool

	sideEffectsEnabled bool

	pending pendingFlag
}

func newSafepoint(engine *Engine, worker *Worker) *Safepoint {
	s := &Safepoint{
		engine:             engine,
		worker:             worker,
		sideEffectsEnabled: true,
	}
	worker.safepoint = s
	return s
}

// Worker returns the worker this safepoint belongs to.
func (s *Safepoint) Worker() *Worker {
	return s.worker
}

// Poll services pending handshakes, executing their actions inline.
//
// Precondition: called only on the goroutine this safepoint belongs to.
//
// The fast path is a single atomic load of the pending flag. On the slow
// path, eligible entries are drained in FIFO insertion order and each action
// runs outside the safepoint mutex. Action failures are aggregated (see
// [AggregateError]) and returned after the whole drain completes.
func (s *Safepoint) Poll(location *Location) error {
	if !s.pending.isSet() {
		return nil
	}
	return s.processHandshakes(location, s.takeHandshakes())
}

// addHandshake appends an entry for the handshake and raises the pending
// flag (interrupting a blocked call if one is installed).
func (s *Safepoint) addHandshake(h *Handshake) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addHandshakeLocked(h)
}

func (s *Safepoint) addHandshakeLocked(h *Handshake) {
	s.queue = append(s.queue, &handshakeEntry{handshake: h, active: true})
	if s.isPendingLocked() {
		s.setFastPendingAndInterruptLocked()
	}
}

// setFastPendingAndInterruptLocked raises the pending flag (notifying the
// host hook on the clear-to-raised transition) and interrupts the worker's
// current blocking call, if any.
func (s *Safepoint) setFastPendingAndInterruptLocked() {
	if s.pending.raise() {
		s.engine.setFastPending(s.worker)
	}
	if action := s.blockedAction; action != nil {
		s.interrupted.Store(true)
		action.Interrupt(s.worker)
	}
}

// takeHandshakes snapshots the eligible entries for a drain. It also
// consumes a pending interrupt: the blocked action's accumulated signal is
// cleared so subsequent blocking calls are not spuriously woken.
func (s *Safepoint) takeHandshakes() []*handshakeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interrupted.Load() {
		s.blockedAction.ResetInterrupted()
		s.interrupted.Store(false)
	}
	if s.isPendingLocked() {
		return s.takePendingLocked()
	}
	return nil
}

// takePendingLocked copies the currently eligible entries, in queue order.
func (s *Safepoint) takePendingLocked() []*handshakeEntry {
	toProcess := make([]*handshakeEntry, 0, len(s.queue))
	for _, e := range s.queue {
		if s.isEligibleLocked(e) {
			toProcess = append(toProcess, e)
		}
	}
	return toProcess
}

// processHandshakes claims and performs each entry, then re-evaluates the
// pending flag. Each perform runs outside the mutex; errors are combined per
// the drain aggregation rule and returned at the end.
func (s *Safepoint) processHandshakes(location *Location, toProcess []*handshakeEntry) error {
	if toProcess == nil {
		return nil
	}
	var err error
	for _, e := range toProcess {
		if s.claimEntry(e) {
			if performErr := e.handshake.perform(location); performErr != nil {
				err = combineDrainError(err, performErr)
			}
		}
	}
	if s.pending.isSet() {
		s.resetPending()
	}
	return err
}

// claimEntry removes the entry's first occurrence from the queue, returning
// whether this caller won the claim.
func (s *Safepoint) claimEntry(e *handshakeEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.queue {
		if cur == e {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Safepoint) resetPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetPendingLocked()
}

func (s *Safepoint) resetPendingLocked() {
	if s.pending.isSet() && !s.isPendingLocked() {
		s.pending.clear()
		s.engine.clearFastPending(s.worker)
	}
}

// isEligibleLocked reports whether the entry may run under the worker's
// current side-effect gating.
func (s *Safepoint) isEligibleLocked(e *handshakeEntry) bool {
	if !e.active {
		return false
	}
	return s.sideEffectsEnabled || !e.handshake.sideEffecting
}

// isPendingLocked reports whether any eligible entry is queued.
func (s *Safepoint) isPendingLocked() bool {
	for _, e := range s.queue {
		if s.isEligibleLocked(e) {
			return true
		}
	}
	return false
}

// activateThread joins this worker to an already-posted handshake. A no-op
// when the handshake is done, when the worker already holds (or already
// processed) an entry for it, or when phase 0 has closed.
func (s *Safepoint) activateThread(h *Handshake) {
	if h == nil || h.IsDone() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupEntryLocked(h) != nil {
		// Already put to this thread: active, or inactive and not to be
		// re-activated.
		return
	}
	if !h.addThread(s.worker) {
		// Already processed on this worker; must not perform twice.
		return
	}
	if h.activateThread() {
		s.addHandshakeLocked(h)
	}
}

// deactivateThread voluntarily opts this worker out of the handshake. The
// entry is removed from the queue and the worker's share of the barrier is
// surrendered; onDone fires here if this was the last party.
func (s *Safepoint) deactivateThread(h *Handshake) {
	s.mu.Lock()
	e := s.lookupEntryLocked(h)
	if e == nil || !e.active {
		s.mu.Unlock()
		return
	}
	e.active = false
	s.removeEntryLocked(e)
	s.resetPendingLocked()
	s.mu.Unlock()
	h.deactivateThread()
}

func (s *Safepoint) lookupEntryLocked(h *Handshake) *handshakeEntry {
	for _, e := range s.queue {
		if e.handshake == h {
			return e
		}
	}
	return nil
}

func (s *Safepoint) removeEntryLocked(e *handshakeEntry) {
	for i, cur := range s.queue {
		if cur == e {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// SetAllowSideEffects flips the worker's side-effect gate, returning the
// prior value. Disabling defers side-effecting handshakes; re-enabling
// raises the pending flag again (and interrupts a blocked call) if deferred
// work became eligible.
//
// Precondition: called only on the goroutine this safepoint belongs to.
func (s *Safepoint) SetAllowSideEffects(enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.sideEffectsEnabled
	s.sideEffectsEnabled = enabled
	s.updateFastPendingLocked()
	return prev
}

// HasPendingSideEffectingActions reports whether side effects are currently
// disallowed while side-effecting work is queued.
//
// Precondition: called only on the goroutine this safepoint belongs to.
func (s *Safepoint) HasPendingSideEffectingActions() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.sideEffectsEnabled && s.hasSideEffectingLocked()
}

func (s *Safepoint) hasSideEffectingLocked() bool {
	for _, e := range s.queue {
		if e.active && e.handshake.sideEffecting {
			return true
		}
	}
	return false
}

func (s *Safepoint) updateFastPendingLocked() {
	if s.isPendingLocked() {
		s.setFastPendingAndInterruptLocked()
	} else if s.pending.isSet() {
		s.pending.clear()
		s.engine.clearFastPending(s.worker)
	}
}

// exit tears down the safepoint when its worker leaves: every queued entry
// is deactivated so coordinators waiting on those handshakes are not left
// hanging on a party that will never poll again.
func (s *Safepoint) exit() {
	s.mu.Lock()
	var departed []*Handshake
	for _, e := range s.queue {
		if e.active {
			e.active = false
			departed = append(departed, e.handshake)
		}
	}
	s.queue = nil
	if s.pending.isSet() {
		s.pending.clear()
		s.engine.clearFastPending(s.worker)
	}
	s.mu.Unlock()
	for _, h := range departed {
		h.deactivateThread()
	}
}
