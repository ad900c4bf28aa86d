package kernel

import (
	"sync/atomic"
	"time"
)

// Task is a handle to one kernel task. Suspend, Resume and the flag
// operations may be called from any goroutine holding the handle; Delay,
// FlagsClear and FlagsWait are meant to be called by the task itself from
// inside its entry function.
type Task struct {
	name   string
	kernel *Kernel
	entry  func(*Task)

	// Event flags. Set from any context (including interrupt context),
	// cleared and waited on by the owning task. The wake channel carries
	// at most one token: repeated sets before the next wait coalesce.
	flags atomic.Uint32
	wake  chan struct{}

	// Suspension mark plus resume token. Written by whichever task holds
	// the handle, observed by the owning task at its blocking points.
	suspended atomic.Bool
	resume    chan struct{}

	waiting atomic.Bool
}

// Name returns the task name.
func (t *Task) Name() string {
	return t.name
}

// Suspended reports whether the task is currently marked suspended.
func (t *Task) Suspended() bool {
	return t.suspended.Load()
}

// Suspend marks the task suspended. The mark takes effect at the task's
// next blocking point; a suspended task performs no further work until
// resumed, and on resume continues exactly where it stopped.
func (t *Task) Suspend() {
	t.suspended.Store(true)
}

// Resume clears the suspension mark and wakes the task if it is parked.
func (t *Task) Resume() {
	t.suspended.Store(false)
	select {
	case t.resume <- struct{}{}:
	default:
	}
}

// Delay blocks the calling task for the given number of kernel ticks.
// If the task was suspended while delaying it parks here, before the
// delay returns, so no work unit runs while suspended and no delay
// iteration is skipped or repeated across a suspend/resume cycle.
func (t *Task) Delay(ticks uint32) {
	time.Sleep(time.Duration(ticks) * t.kernel.tick)
	t.checkpoint()
}

// FlagsSet sets the given flag bits and wakes the task if it is waiting.
// Safe from interrupt context: it never blocks, and setting an already-set
// bit is a no-op. Multiple sets before the next wait coalesce into one
// wakeup. Returns the flag value after setting.
func (t *Task) FlagsSet(mask uint32) uint32 {
	old := atomicOr(&t.flags, mask)
	select {
	case t.wake <- struct{}{}:
	default:
	}
	return old | mask
}

// FlagsClear clears the given flag bits, returning the value beforehand.
func (t *Task) FlagsClear(mask uint32) uint32 {
	return atomicAnd(&t.flags, ^mask)
}

// FlagsWait blocks the calling task until at least one bit of mask is
// set, then clears the observed bits and returns them. The current flag
// value is checked before parking, so a bit set between the caller's
// FlagsClear and this wait is seen rather than lost. There is no timeout:
// the wait is indefinite.
func (t *Task) FlagsWait(mask uint32) uint32 {
	for {
		if v := t.flags.Load(); v&mask != 0 {
			atomicAnd(&t.flags, ^(v&mask))
			t.checkpoint()
			return v & mask
		}
		t.waiting.Store(true)
		<-t.wake
		t.waiting.Store(false)
	}
}

// Waiting reports whether the task is parked inside FlagsWait with no
// flag bit set, the analog of an RTOS task in the blocked state. Once a
// task is observed waiting, a subsequent FlagsSet is guaranteed to be a
// fresh wakeup rather than one absorbed by a clear still in progress.
func (t *Task) Waiting() bool {
	return t.waiting.Load()
}

// atomicAnd and atomicOr replicate atomic.Uint32.And/Or, which require a
// newer Go toolchain than the one building this module. Both return the
// old value, matching the standard-library methods.
func atomicAnd(v *atomic.Uint32, mask uint32) uint32 {
	for {
		old := v.Load()
		if v.CompareAndSwap(old, old&mask) {
			return old
		}
	}
}

func atomicOr(v *atomic.Uint32, mask uint32) uint32 {
	for {
		old := v.Load()
		if v.CompareAndSwap(old, old|mask) {
			return old
		}
	}
}

// checkpoint parks the task while it is marked suspended. The loop
// re-checks the mark after every resume token, so a stale token from an
// earlier cycle cannot release a freshly suspended task.
func (t *Task) checkpoint() {
	for t.suspended.Load() {
		<-t.resume
	}
}
