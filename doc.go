// Package handshake provides thread-local handshakes for cooperatively
// polling goroutines: a coordinator requests that a set of worker goroutines
// each run a small action at a well-defined, self-chosen safepoint, with
// optional synchronous rendezvous and optional suppression by the target.
//
// # Architecture
//
// The package is built around an [Engine] that tracks one [Safepoint] per
// worker goroutine via a weakly-keyed registry. A coordinator posts work with
// [Engine.RunThreadLocal], which appends an entry to each target worker's
// queue and raises that worker's pending flag. Workers call [Safepoint.Poll]
// at frequent points; the fast path is a single atomic load, and the slow
// path drains eligible entries and performs their actions inline on the
// worker goroutine.
//
// Each [Handshake] owns a two-phase barrier. In asynchronous mode workers
// arrive and deregister as they finish. In synchronous mode all workers
// rendezvous before any action runs (phase 0) and again after all actions
// complete (phase 1). The handshake doubles as a future: the coordinator may
// block on [Handshake.Get] or [Handshake.GetTimeout].
//
// Workers parked in cooperative blocking calls are serviced through
// [Safepoint.SetBlocked] together with an [Interrupter] capability, which can
// unblock the call promptly so pending actions run before the call retries.
// Built-in interrupters cover channel-based blocking ([ChannelInterrupter])
// and file-descriptor blocking ([FDInterrupter], Linux eventfd / Darwin
// self-pipe).
//
// # Thread Safety
//
//   - [Engine.RunThreadLocal], [Handshake.Get], [Handshake.Cancel] are safe
//     to call from any goroutine
//   - [Safepoint.Poll], [Safepoint.SetBlocked],
//     [Safepoint.SetAllowSideEffects] must be called on the worker goroutine
//     the safepoint belongs to
//   - The pending flag is read lock-free; all other per-worker state is
//     guarded by the safepoint's mutex
//
// # Usage
//
//	engine, err := handshake.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// worker goroutine
//	go func() {
//	    sp := engine.Current()
//	    defer sp.Worker().Exit()
//	    for {
//	        if err := sp.Poll(handshake.NewLocation("main loop")); err != nil {
//	            log.Print(err)
//	        }
//	        // ... user work ...
//	    }
//	}()
//
//	// coordinator
//	h, err := engine.RunThreadLocal(workers, func(loc *handshake.Location) error {
//	    // runs on each worker at its next safepoint
//	    return nil
//	}, nil, true, false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := h.Get(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
// # Error Types
//
//   - [AggregateError]: combined action failures from a single drain
//   - [PanicError]: wraps panics recovered from actions
//   - [TimeoutError]: for [Handshake.GetTimeout] deadlines
//   - [WorkerDeathError]: a fatal signal that is never demoted to a
//     suppressed cause during aggregation
//
// All error types implement the standard [error] interface and expose their
// causes through Unwrap ([AggregateError] unwraps to all of its errors), so
// [errors.Is] and [errors.As] see through them. [AggregateError],
// [TimeoutError] and [WorkerDeathError] also match any value of their own
// type via Is(); [PanicError] has no Is method.
package handshake
