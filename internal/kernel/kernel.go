// Package kernel provides a small cooperative multitasking kernel modeled
// after an RTOS: named tasks, tick-based blocking delays, suspend/resume,
// and per-task event flags that are safe to set from interrupt context.
//
// Tasks are backed by goroutines. Suspension is cooperative: a suspend
// request takes effect at the task's next blocking point (Delay or
// FlagsWait), which is the only place a periodic task can be preempted in
// this model.
package kernel

import (
	"fmt"
	"log/slog"
	"time"
)

// State is the kernel lifecycle state.
type State int

const (
	StateInactive State = iota
	StateReady
	StateRunning
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultTick is the duration of one kernel tick.
const DefaultTick = time.Millisecond

// Kernel owns the task set and the tick clock.
type Kernel struct {
	logger *slog.Logger
	tick   time.Duration
	state  State
	tasks  []*Task
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithTick overrides the tick duration (shorter ticks speed up tests).
func WithTick(d time.Duration) Option {
	return func(k *Kernel) {
		if d > 0 {
			k.tick = d
		}
	}
}

// New creates a kernel in the inactive state.
func New(logger *slog.Logger, opts ...Option) *Kernel {
	k := &Kernel{
		logger: logger,
		tick:   DefaultTick,
		state:  StateInactive,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Initialize moves the kernel from inactive to ready. Tasks may only be
// created once the kernel is ready.
func (k *Kernel) Initialize() error {
	if k.state != StateInactive {
		return fmt.Errorf("kernel already initialized (state %s)", k.state)
	}
	k.state = StateReady
	return nil
}

// State returns the current kernel state.
func (k *Kernel) State() State {
	return k.state
}

// Tick returns the duration of one tick.
func (k *Kernel) Tick() time.Duration {
	return k.tick
}

// TickFreq returns the number of ticks per second.
func (k *Kernel) TickFreq() uint32 {
	return uint32(time.Second / k.tick)
}

// CreateTask registers a task with the kernel. The entry function receives
// the task's own handle and is expected to loop forever. The task set is
// fixed at startup: creation is refused once the kernel is running.
func (k *Kernel) CreateTask(name string, entry func(*Task)) (*Task, error) {
	if k.state == StateInactive {
		return nil, fmt.Errorf("kernel not initialized")
	}
	if k.state == StateRunning {
		return nil, fmt.Errorf("cannot create task %q: kernel already running", name)
	}
	if entry == nil {
		return nil, fmt.Errorf("cannot create task %q: nil entry", name)
	}

	t := &Task{
		name:   name,
		kernel: k,
		entry:  entry,
		wake:   make(chan struct{}, 1),
		resume: make(chan struct{}, 1),
	}
	k.tasks = append(k.tasks, t)
	return t, nil
}

// Start launches every registered task and moves the kernel to running.
// A kernel that is not ready refuses to start; callers treat that as a
// fatal boot error. Start returns once the tasks are launched; on a real
// target the scheduler owns the processor from this point and never
// returns, on a host the caller blocks on its own termination condition.
func (k *Kernel) Start() error {
	if k.state != StateReady {
		return fmt.Errorf("kernel not ready (state %s)", k.state)
	}
	k.state = StateRunning

	for _, t := range k.tasks {
		go t.entry(t)
	}

	k.logger.Info("kernel started", "tasks", len(k.tasks), "tick", k.tick.String())
	return nil
}
