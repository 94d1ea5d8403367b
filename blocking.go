package handshake

import (
	"errors"
)

// Interruptible is a cooperative blocking call. It must return
// [ErrInterruptedBlocker] (possibly wrapped) when the call was woken by the
// worker's [Interrupter] rather than completing; any other result ends the
// SetBlocked loop.
type Interruptible func(arg any) error

// Interrupter is a capability that can cause a specific cooperative blocking
// call to return promptly with an interrupted indication. Different blocking
// primitives need different wakeup mechanisms (channel send vs. fd write vs.
// condition signal), so the caller of [Safepoint.SetBlocked] chooses the
// implementation.
//
// Interrupt is always invoked under the target worker's safepoint mutex, so
// implementations never see concurrent Interrupt calls for the same worker.
// ResetInterrupted may be called concurrently with Interrupt and must clear
// any accumulated signal so subsequent blocking calls are not spuriously
// woken.
type Interrupter interface {
	Interrupt(w *Worker)
	ResetInterrupted()
}

// SetBlocked runs a cooperative blocking call while keeping the worker
// responsive to handshakes. The interrupter is installed as the worker's
// blocked action; when a handshake is posted, the blocking call is woken,
// pending actions are drained, and the call retries. Spurious wakeups (a
// race between post and drain) are expected and simply retry.
//
// beforeInterrupt and afterInterrupt, when non-nil, bracket each drain that
// follows an interruption.
//
// The previous blocked action is restored on return, so nested blocking
// calls compose. A drain error (aggregated action failures) aborts the loop
// and is returned; the blocking call's own non-interrupted error is returned
// as-is.
//
// Precondition: called only on the goroutine this safepoint belongs to.
func (s *Safepoint) SetBlocked(location *Location, interrupter Interrupter, interruptible Interruptible, arg any, beforeInterrupt, afterInterrupt func()) error {
	if getGoroutineID() != s.worker.id {
		return ErrNotOnWorker
	}
	s.mu.Lock()
	prev := s.blockedAction
	s.mu.Unlock()
	defer func() {
		// Passing a nil interrupter removes the blocked state; no
		// re-interrupt is attempted.
		_ = s.installBlocked(location, prev, false)
	}()
	for {
		if err := s.installBlocked(location, interrupter, false); err != nil {
			return err
		}
		err := interruptible(arg)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrInterruptedBlocker) {
			return err
		}
		if beforeInterrupt != nil {
			beforeInterrupt()
		}
		drainErr := s.installBlocked(location, interrupter, true)
		if afterInterrupt != nil {
			afterInterrupt()
		}
		if drainErr != nil {
			return drainErr
		}
	}
}

// installBlocked swaps the worker's blocked action, optionally draining
// pending handshakes first. The interrupted signal, if set, is consumed
// before the swap. When a non-nil interrupter is installed and eligible work
// is still queued, the interrupt is re-armed so the next blocking attempt
// returns promptly.
func (s *Safepoint) installBlocked(location *Location, interrupter Interrupter, processSafepoints bool) error {
	var toProcess []*handshakeEntry
	s.mu.Lock()
	if processSafepoints && s.isPendingLocked() {
		toProcess = s.takePendingLocked()
	}
	if s.interrupted.Load() {
		s.blockedAction.ResetInterrupted()
		s.interrupted.Store(false)
	}
	s.blockedAction = interrupter
	s.mu.Unlock()

	if err := s.processHandshakes(location, toProcess); err != nil {
		return err
	}

	if interrupter != nil {
		// Each drain handles at most one interruption; anything queued
		// since must wake the very next blocking attempt.
		s.interruptIfPending(interrupter)
	}
	return nil
}

func (s *Safepoint) interruptIfPending(interrupter Interrupter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isPendingLocked() {
		s.interrupted.Store(true)
		interrupter.Interrupt(s.worker)
	}
}
