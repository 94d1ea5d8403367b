package handshake

import (
	"sync/atomic"
)

// pendingFlag is the per-worker fast-path indicator that at least one
// eligible handshake entry awaits the worker.
//
// PERFORMANCE: Pure atomic load on the poll fast path, no mutex.
// Cache-line padding prevents false sharing between cores.
//
// The flag is advisory: raises are published under the worker's mutex
// together with the queue insertion, and the poll slow path re-checks the
// queue under the mutex. After a drain the flag is cleared iff no eligible
// entry remains.
type pendingFlag struct { // betteralign:ignore
	_ [64]byte      // Cache line padding (before value) //nolint:unused
	v atomic.Uint32 // Flag value (0 or 1)
	_ [60]byte      // Pad to complete cache line (64 - 4 = 60) //nolint:unused
}

// isSet returns whether the flag is raised.
// PERFORMANCE: No validation, trusts the stored value.
func (f *pendingFlag) isSet() bool {
	return f.v.Load() != 0
}

// raise sets the flag, returning true if this call transitioned it from
// clear to raised (the caller then notifies the host hook exactly once).
func (f *pendingFlag) raise() bool {
	return f.v.CompareAndSwap(0, 1)
}

// clear lowers the flag.
func (f *pendingFlag) clear() {
	f.v.Store(0)
}
