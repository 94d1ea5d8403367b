package handshake

import (
	"sync"
	"testing"
	"time"
)

const waitTimeout = 10 * time.Second

// testWorker drives a worker goroutine from tests. Worker-side operations
// (Poll, SetBlocked, SetAllowSideEffects, ...) must run on the goroutine the
// safepoint belongs to, so they are funneled through fns.
type testWorker struct {
	sp       *Safepoint
	worker   *Worker
	fns      chan func()
	quit     chan struct{}
	done     chan struct{}
	quitOnce sync.Once
}

func startTestWorker(t *testing.T, engine *Engine) *testWorker {
	t.Helper()
	tw := &testWorker{
		fns:  make(chan func()),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	ready := make(chan struct{})
	go func() {
		defer close(tw.done)
		sp := engine.Current()
		tw.sp = sp
		tw.worker = sp.Worker()
		close(ready)
		for {
			select {
			case fn := <-tw.fns:
				fn()
			case <-tw.quit:
				tw.worker.Exit()
				return
			}
		}
	}()
	select {
	case <-ready:
	case <-time.After(waitTimeout):
		t.Fatal("test worker did not start")
	}
	return tw
}

// do runs fn on the worker goroutine and waits for it to return.
func (tw *testWorker) do(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	select {
	case tw.fns <- func() { defer close(done); fn() }:
	case <-time.After(waitTimeout):
		t.Fatal("test worker busy")
	}
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("test worker function did not complete")
	}
}

// doAsync schedules fn on the worker goroutine without waiting; the returned
// channel closes when fn returns. Used for worker-side calls that block
// (e.g. SetBlocked).
func (tw *testWorker) doAsync(fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		tw.fns <- func() { defer close(done); fn() }
	}()
	return done
}

// poll performs one safepoint poll on the worker goroutine.
func (tw *testWorker) poll(t *testing.T, location *Location) error {
	t.Helper()
	var err error
	tw.do(t, func() { err = tw.sp.Poll(location) })
	return err
}

// startPolling polls continuously on the worker goroutine until the returned
// stop function is called. Poll errors are forwarded to errs when non-nil
// (best effort; dropped if the channel is full).
func (tw *testWorker) startPolling(location *Location, errs chan<- error) (stop func()) {
	stopCh := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case <-stopCh:
				return
			default:
			}
			var err error
			done := make(chan struct{})
			select {
			case tw.fns <- func() { err = tw.sp.Poll(location); close(done) }:
				<-done
			case <-stopCh:
				return
			}
			if err != nil && errs != nil {
				select {
				case errs <- err:
				default:
				}
			}
			time.Sleep(50 * time.Microsecond)
		}
	}()
	return func() {
		close(stopCh)
		<-stopped
	}
}

// exit shuts the worker down (idempotent). Any queued handshakes are
// released via Worker.Exit.
func (tw *testWorker) exit(t *testing.T) {
	t.Helper()
	tw.quitOnce.Do(func() { close(tw.quit) })
	select {
	case <-tw.done:
	case <-time.After(waitTimeout):
		t.Fatal("test worker did not shut down")
	}
}

// waitFor spins until cond holds or the timeout elapses.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(200 * time.Microsecond)
	}
	t.Fatal("timed out waiting for", msg)
}
