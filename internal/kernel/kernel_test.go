package kernel

import (
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestKernelLifecycle(t *testing.T) {
	k := New(testLogger(), WithTick(time.Millisecond))

	// Task creation before initialization is refused
	_, err := k.CreateTask("early", func(*Task) {})
	require.Error(t, err)

	// Starting an uninitialized kernel is a boot failure
	require.Error(t, k.Start())

	require.NoError(t, k.Initialize())
	assert.Equal(t, StateReady, k.State())

	// Double initialization is refused
	require.Error(t, k.Initialize())

	_, err = k.CreateTask("nil-entry", nil)
	require.Error(t, err)

	task, err := k.CreateTask("worker", func(tk *Task) {
		for {
			tk.Delay(1)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, "worker", task.Name())

	require.NoError(t, k.Start())
	assert.Equal(t, StateRunning, k.State())

	// The task set is fixed once the kernel runs
	_, err = k.CreateTask("late", func(*Task) {})
	require.Error(t, err)
	require.Error(t, k.Start())
}

func TestTickFreq(t *testing.T) {
	k := New(testLogger())
	assert.Equal(t, uint32(1000), k.TickFreq())
	assert.Equal(t, DefaultTick, k.Tick())

	k = New(testLogger(), WithTick(10*time.Millisecond))
	assert.Equal(t, uint32(100), k.TickFreq())

	// Non-positive overrides are ignored
	k = New(testLogger(), WithTick(0))
	assert.Equal(t, DefaultTick, k.Tick())
}

func TestFlagsSetAndClear(t *testing.T) {
	k := New(testLogger())
	require.NoError(t, k.Initialize())
	task, err := k.CreateTask("idle", func(*Task) { select {} })
	require.NoError(t, err)

	assert.Equal(t, uint32(0x3), task.FlagsSet(0x3))

	// Clear returns the value beforehand and clears only the given bits
	assert.Equal(t, uint32(0x3), task.FlagsClear(0x1))
	assert.Equal(t, uint32(0x2), task.FlagsClear(0x2))
	assert.Equal(t, uint32(0x0), task.FlagsClear(0xFFFFFFFF))
}

func TestFlagsWaitSeesValueSetBeforeWait(t *testing.T) {
	k := New(testLogger(), WithTick(time.Millisecond))
	require.NoError(t, k.Initialize())

	var got atomic.Uint32
	done := make(chan struct{})
	task, err := k.CreateTask("waiter", func(tk *Task) {
		got.Store(tk.FlagsWait(0x1))
		close(done)
	})
	require.NoError(t, err)

	// The flag is set before the task ever runs: the wait must observe
	// the current value rather than only reacting to a new set.
	task.FlagsSet(0x1)

	require.NoError(t, k.Start())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never woke")
	}
	assert.Equal(t, uint32(0x1), got.Load())
}

func TestFlagsCoalesce(t *testing.T) {
	k := New(testLogger(), WithTick(time.Millisecond))
	require.NoError(t, k.Initialize())

	var wakes atomic.Int32
	task, err := k.CreateTask("waiter", func(tk *Task) {
		for {
			tk.FlagsWait(0x1)
			wakes.Add(1)
		}
	})
	require.NoError(t, err)

	// Five sets before the task waits collapse into a single bit.
	for i := 0; i < 5; i++ {
		task.FlagsSet(0x1)
	}

	require.NoError(t, k.Start())

	waitFor(t, func() bool { return wakes.Load() == 1 }, "first wakeup")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), wakes.Load(), "coalesced sets must produce exactly one wakeup")
}

func TestSuspendResumeAtBlockingPoint(t *testing.T) {
	k := New(testLogger(), WithTick(time.Millisecond))
	require.NoError(t, k.Initialize())

	var iterations atomic.Uint64
	task, err := k.CreateTask("worker", func(tk *Task) {
		for {
			tk.Delay(2)
			iterations.Add(1)
		}
	})
	require.NoError(t, err)
	require.NoError(t, k.Start())

	waitFor(t, func() bool { return iterations.Load() >= 3 }, "worker to run")

	task.Suspend()
	assert.True(t, task.Suspended())

	// Allow the in-flight iteration to land, then verify the counter
	// freezes completely.
	time.Sleep(20 * time.Millisecond)
	frozen := iterations.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, frozen, iterations.Load(), "suspended worker must perform no work")

	task.Resume()
	assert.False(t, task.Suspended())
	waitFor(t, func() bool { return iterations.Load() > frozen }, "worker to resume")
}

func TestResumeContinuesWithoutBurst(t *testing.T) {
	k := New(testLogger(), WithTick(time.Millisecond))
	require.NoError(t, k.Initialize())

	var iterations atomic.Uint64
	task, err := k.CreateTask("worker", func(tk *Task) {
		for {
			tk.Delay(20)
			iterations.Add(1)
		}
	})
	require.NoError(t, err)
	require.NoError(t, k.Start())

	waitFor(t, func() bool { return iterations.Load() >= 1 }, "worker to run")

	// Hold the worker across several would-be intervals. Suspension is an
	// instantaneous pause: on resume the loop continues where it stopped,
	// it does not replay the intervals that elapsed while held.
	task.Suspend()
	time.Sleep(120 * time.Millisecond)
	frozen := iterations.Load()
	task.Resume()

	time.Sleep(30 * time.Millisecond)
	delta := iterations.Load() - frozen
	assert.GreaterOrEqual(t, delta, uint64(1), "worker must continue after resume")
	assert.LessOrEqual(t, delta, uint64(3), "resume must not replay missed iterations")
}

func TestWaitingObservation(t *testing.T) {
	k := New(testLogger(), WithTick(time.Millisecond))
	require.NoError(t, k.Initialize())

	var wakes atomic.Int32
	task, err := k.CreateTask("waiter", func(tk *Task) {
		for {
			tk.FlagsClear(0x1)
			tk.FlagsWait(0x1)
			wakes.Add(1)
		}
	})
	require.NoError(t, err)
	require.NoError(t, k.Start())

	waitFor(t, func() bool { return task.Waiting() }, "task to park")

	task.FlagsSet(0x1)
	waitFor(t, func() bool { return wakes.Load() == 1 }, "wakeup")
	waitFor(t, func() bool { return task.Waiting() }, "task to park again")
}
