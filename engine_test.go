package handshake

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Unsupported(t *testing.T) {
	_, err := New(WithHooks(Hooks{Supported: func() bool { return false }}))
	if !errors.Is(err, ErrNotSupported) {
		t.Fatalf("New error = %v, want ErrNotSupported", err)
	}
}

func TestNew_NilOption(t *testing.T) {
	engine, err := New(nil)
	if err != nil {
		t.Fatalf("New() with nil option failed: %v", err)
	}
	if err := engine.TestSupport(); err != nil {
		t.Errorf("TestSupport failed with default hooks: %v", err)
	}
}

func TestCurrent_SameGoroutineSameState(t *testing.T) {
	engine, err := New()
	if err != nil {
		t.Fatal("New failed:", err)
	}
	first := engine.Current()
	second := engine.Current()
	if first != second {
		t.Error("Current returned different states for the same goroutine")
	}
	if first.Worker().ID() != getGoroutineID() {
		t.Error("worker ID does not match the calling goroutine")
	}
	if !first.Worker().Alive() {
		t.Error("freshly registered worker not alive")
	}
	first.Worker().Exit()
}

func TestCurrent_DistinctPerGoroutine(t *testing.T) {
	engine, err := New()
	if err != nil {
		t.Fatal("New failed:", err)
	}
	tw1 := startTestWorker(t, engine)
	defer tw1.exit(t)
	tw2 := startTestWorker(t, engine)
	defer tw2.exit(t)

	if tw1.sp == tw2.sp {
		t.Error("two goroutines shared a safepoint")
	}
	if tw1.worker.ID() == tw2.worker.ID() {
		t.Error("two goroutines shared a worker ID")
	}
}

func TestRunThreadLocal_WorkerNotAlive(t *testing.T) {
	engine, err := New()
	if err != nil {
		t.Fatal("New failed:", err)
	}
	tw := startTestWorker(t, engine)
	tw.exit(t)

	_, err = engine.RunThreadLocal([]*Worker{tw.worker}, func(*Location) error { return nil }, nil, true, false)
	if !errors.Is(err, ErrWorkerNotAlive) {
		t.Fatalf("RunThreadLocal error = %v, want ErrWorkerNotAlive", err)
	}

	_, err = engine.RunThreadLocal([]*Worker{nil}, func(*Location) error { return nil }, nil, true, false)
	if !errors.Is(err, ErrWorkerNotAlive) {
		t.Fatalf("RunThreadLocal error = %v, want ErrWorkerNotAlive", err)
	}
}

func TestRunThreadLocal_NilAction(t *testing.T) {
	engine, err := New()
	if err != nil {
		t.Fatal("New failed:", err)
	}
	if _, err := engine.RunThreadLocal(nil, nil, nil, true, false); !errors.Is(err, ErrNilAction) {
		t.Fatalf("RunThreadLocal error = %v, want ErrNilAction", err)
	}
}

func TestRunThreadLocal_NoWorkers(t *testing.T) {
	engine, err := New()
	if err != nil {
		t.Fatal("New failed:", err)
	}
	var doneCount atomic.Int32
	h, err := engine.RunThreadLocal(nil, func(*Location) error { return nil },
		func(Action) { doneCount.Add(1) }, true, false)
	if err != nil {
		t.Fatal("RunThreadLocal failed:", err)
	}
	if !h.IsDone() {
		t.Error("empty handshake not immediately done")
	}
	if err := h.Get(context.Background()); err != nil {
		t.Fatal("Get failed:", err)
	}
	if got := doneCount.Load(); got != 1 {
		t.Errorf("onDone fired %d times, want 1", got)
	}
}

func TestRunThreadLocal_UnsupportedHooks(t *testing.T) {
	// Support can be revoked after construction (e.g. a host that degrades);
	// posting must then fail before queueing.
	var supported atomic.Bool
	supported.Store(true)
	engine, err := New(WithHooks(Hooks{Supported: supported.Load}))
	if err != nil {
		t.Fatal("New failed:", err)
	}
	tw := startTestWorker(t, engine)
	defer tw.exit(t)

	supported.Store(false)
	_, err = engine.RunThreadLocal([]*Worker{tw.worker}, func(*Location) error { return nil }, nil, true, false)
	if !errors.Is(err, ErrNotSupported) {
		t.Fatalf("RunThreadLocal error = %v, want ErrNotSupported", err)
	}
}

func TestHooks_FastPendingTransitions(t *testing.T) {
	var setCount, clearCount atomic.Int32
	engine, err := New(WithHooks(Hooks{
		SetFastPending:   func(*Worker) { setCount.Add(1) },
		ClearFastPending: func(*Worker) { clearCount.Add(1) },
	}))
	require.NoError(t, err)
	tw := startTestWorker(t, engine)
	defer tw.exit(t)

	_, err = engine.RunThreadLocal([]*Worker{tw.worker}, func(*Location) error { return nil }, nil, true, false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, setCount.Load(), "SetFastPending on post")
	assert.EqualValues(t, 0, clearCount.Load(), "ClearFastPending before drain")

	// A second post while already raised must not re-notify.
	_, err = engine.RunThreadLocal([]*Worker{tw.worker}, func(*Location) error { return nil }, nil, true, false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, setCount.Load(), "SetFastPending coalesces")

	require.NoError(t, tw.poll(t, NewLocation("hooks")))
	assert.EqualValues(t, 1, clearCount.Load(), "ClearFastPending after drain")
}

func TestWorkers_Snapshot(t *testing.T) {
	engine, err := New()
	if err != nil {
		t.Fatal("New failed:", err)
	}
	tw1 := startTestWorker(t, engine)
	defer tw1.exit(t)
	tw2 := startTestWorker(t, engine)

	has := func(workers []*Worker, w *Worker) bool {
		for _, cur := range workers {
			if cur == w {
				return true
			}
		}
		return false
	}

	workers := engine.Workers()
	if !has(workers, tw1.worker) || !has(workers, tw2.worker) {
		t.Errorf("Workers() = %v, missing live workers", workers)
	}

	tw2.exit(t)
	workers = engine.Workers()
	if has(workers, tw2.worker) {
		t.Error("Workers() still lists an exited worker")
	}
}

func TestEngine_PollConvenience(t *testing.T) {
	engine, err := New()
	if err != nil {
		t.Fatal("New failed:", err)
	}
	sp := engine.Current()
	defer sp.Worker().Exit()

	var ran atomic.Int32
	h, err := engine.RunThreadLocal([]*Worker{sp.Worker()}, func(*Location) error {
		ran.Add(1)
		return nil
	}, nil, true, false)
	if err != nil {
		t.Fatal("RunThreadLocal failed:", err)
	}
	if err := engine.Poll(NewLocation("convenience")); err != nil {
		t.Fatal("Poll failed:", err)
	}
	if got := ran.Load(); got != 1 {
		t.Errorf("action ran %d times, want 1", got)
	}
	if !h.IsDone() {
		t.Error("handshake not done after poll")
	}
}

// TestWithLogger verifies engine events reach an attached structured logger.
func TestWithLogger(t *testing.T) {
	var (
		mu  sync.Mutex
		buf bytes.Buffer
	)
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithTimeField(``)),
		stumpy.L.WithWriter(logiface.WriterFunc[*stumpy.Event](func(e *stumpy.Event) error {
			mu.Lock()
			defer mu.Unlock()
			buf.Write(e.Bytes())
			buf.WriteByte('\n')
			return nil
		})),
		stumpy.L.WithLevel(logiface.LevelDebug),
	)

	engine, err := New(WithLogger(logger.Logger()))
	require.NoError(t, err)
	tw := startTestWorker(t, engine)

	_, err = engine.RunThreadLocal([]*Worker{tw.worker}, func(*Location) error { return nil }, nil, true, false)
	require.NoError(t, err)
	require.NoError(t, tw.poll(t, NewLocation("logging")))
	tw.exit(t)

	mu.Lock()
	out := buf.String()
	mu.Unlock()
	assert.Contains(t, out, "registered worker")
	assert.Contains(t, out, "posted handshake")
	assert.Contains(t, out, "worker exited")
}

func TestScavenge_RemovesExitedWorkers(t *testing.T) {
	engine, err := New()
	if err != nil {
		t.Fatal("New failed:", err)
	}

	// Exited but never explicitly removed (simulates a worker torn down
	// without Exit reaching the registry, e.g. via a stale handle).
	stale := &Worker{id: ^uint64(0)}
	stale.alive.Store(false)
	engine.registry.add(stale)

	tw := startTestWorker(t, engine)
	defer tw.exit(t)

	engine.Scavenge(1024)

	if got := engine.registry.lookup(stale.id); got != nil {
		t.Error("scavenge kept an exited worker")
	}
	if got := engine.registry.lookup(tw.worker.ID()); got != tw.worker {
		t.Error("scavenge dropped a live worker")
	}
}

func TestLocation_String(t *testing.T) {
	if got := NewLocation("dispatch loop").String(); got != "dispatch loop" {
		t.Errorf("String() = %q", got)
	}
	var nilLoc *Location
	if got := nilLoc.String(); !strings.Contains(got, "unknown") {
		t.Errorf("nil String() = %q", got)
	}
}
