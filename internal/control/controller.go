// Package control implements the interrupt-to-task handoff for the worker
// task group: a button edge, confirmed and cleared in interrupt context,
// sets a single-bit wakeup flag on the control task, which then flips the
// group's activity state by suspending or resuming every member.
//
// The protocol is race-free by single-writer discipline rather than
// locks: the wakeup flag is set only by the interrupt handler and cleared
// only by the control task, and the activity state is written only by the
// control task.
package control

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/iambrandonn/eswgpio/internal/exti"
	"github.com/iambrandonn/eswgpio/internal/kernel"
)

// wakeFlag is the control task's wakeup bit.
const wakeFlag uint32 = 0x00000001

// TaskName is the control task's name in the kernel.
const TaskName = "button"

// Source describes the interrupt source the controller owns: the line
// index and the pending-flag bitmask used to confirm, on the shared
// vector, that a firing was this button and not another source.
type Source struct {
	Line uint8
	Mask uint32
}

// SourceForLine builds the source descriptor for an interrupt line.
func SourceForLine(line uint8) Source {
	return Source{Line: line, Mask: exti.LineMask(line)}
}

// EventLogger persists control-protocol events. Best-effort: failures are
// logged and never change task-state outcomes.
type EventLogger interface {
	WriteToggle(state string) error
}

// Controller owns the control task and the group's activity state.
type Controller struct {
	logger *slog.Logger
	irq    *exti.Controller
	src    Source
	group  *Group
	task   *kernel.Task

	// Activity state. Written only by the control task; the atomic is
	// for observers (tests, run summary), not for coordination.
	state atomic.Int32

	events   EventLogger
	onToggle func(State)
}

// New creates the controller and its control task on the kernel. The
// group starts active: workers run until the first confirmed edge.
func New(k *kernel.Kernel, irq *exti.Controller, src Source, group *Group, logger *slog.Logger) (*Controller, error) {
	if group == nil || group.Len() == 0 {
		return nil, fmt.Errorf("control: empty worker group")
	}
	c := &Controller{
		logger: logger,
		irq:    irq,
		src:    src,
		group:  group,
	}
	task, err := k.CreateTask(TaskName, c.run)
	if err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	c.task = task
	return c, nil
}

// SetEventLogger sets the event logger for persistence.
func (c *Controller) SetEventLogger(l EventLogger) {
	c.events = l
}

// SetToggleHandler sets a callback invoked from the control task after
// each completed toggle.
func (c *Controller) SetToggleHandler(handler func(State)) {
	c.onToggle = handler
}

// State returns the current activity state of the worker group.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Task returns the control task's handle.
func (c *Controller) Task() *kernel.Task {
	return c.task
}

// ISR is the shared-vector interrupt handler body. It runs in interrupt
// context: confirm the source via the pending-and-enabled mask, clear the
// pending bit before returning, and set the control task's wakeup flag.
// Nothing here blocks, logs, or touches suspend/resume; setting an
// already-set flag is a no-op, so rapid edges coalesce.
func (c *Controller) ISR() {
	pending := c.irq.PendingEnabled()
	if pending&c.src.Mask == 0 {
		// Another source on this vector; not our concern.
		return
	}
	c.irq.ClearPending(c.src.Mask)
	c.task.FlagsSet(wakeFlag)
}

// run is the control task: clear the wakeup flag, wait for it, toggle.
// The clear-then-wait order matters: the wait re-checks the flag's
// current value before parking, so an edge arriving between clear and
// wait is seen rather than lost. Edges arriving before the clear collapse
// into the toggle already performed for the wake that preceded them.
func (c *Controller) run(t *kernel.Task) {
	for {
		t.FlagsClear(wakeFlag)
		t.FlagsWait(wakeFlag)
		c.toggle()
	}
}

// toggle flips the group's run state: every member transitions, in group
// order, before the activity state is updated.
func (c *Controller) toggle() {
	var next State
	switch c.State() {
	case Active:
		c.group.SuspendAll()
		next = Suspended
	case Suspended:
		c.group.ResumeAll()
		next = Active
	}
	c.state.Store(int32(next))

	// Reporting is fire-and-forget; the toggle above is already done.
	c.logger.Info("worker group toggled", "state", next.String(), "workers", c.group.Len())
	if c.events != nil {
		if err := c.events.WriteToggle(next.String()); err != nil {
			c.logger.Warn("failed to log toggle event", "error", err)
		}
	}
	if c.onToggle != nil {
		c.onToggle(next)
	}
}
