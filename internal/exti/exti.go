// Package exti simulates an external interrupt controller: 32 latched
// interrupt lines sharing a single vector, with pending and enable masks
// matching the usual MCU register layout. An edge on an enabled line
// dispatches the vector handler synchronously in the caller's goroutine,
// which stands in for interrupt context.
package exti

import (
	"log/slog"
	"sync/atomic"
)

// NumLines is the number of external interrupt lines.
const NumLines = 32

// DefaultStormLimit bounds immediate re-fires of the vector. A handler
// that returns without clearing its pending bit would re-fire forever on
// real hardware; the simulator trips the guard instead and records it.
const DefaultStormLimit = 8

// LineMask returns the pending-flag bitmask for a line.
func LineMask(line uint8) uint32 {
	return uint32(1) << line
}

// Controller is one shared-vector interrupt controller.
type Controller struct {
	logger *slog.Logger

	pending atomic.Uint32
	enabled atomic.Uint32

	vector     func()
	stormLimit int
	storms     atomic.Uint64
}

// New creates a controller with all lines disabled and no pending state.
func New(logger *slog.Logger) *Controller {
	return &Controller{
		logger:     logger,
		stormLimit: DefaultStormLimit,
	}
}

// SetVector installs the shared vector handler. The handler runs in
// interrupt context: it must not block and must clear the pending bit of
// any source it handles before returning.
func (c *Controller) SetVector(handler func()) {
	c.vector = handler
}

// Pending returns the raw pending mask, including disabled lines.
func (c *Controller) Pending() uint32 {
	return c.pending.Load()
}

// PendingEnabled returns the pending-and-enabled mask: the lines that
// actually caused (or would cause) the vector to fire. Handlers use this
// to identify their own source on the shared vector.
func (c *Controller) PendingEnabled() uint32 {
	return c.pending.Load() & c.enabled.Load()
}

// ClearPending clears the pending bits in mask. Safe from interrupt
// context.
func (c *Controller) ClearPending(mask uint32) {
	atomicAnd(&c.pending, ^mask)
}

// Disable masks the given lines. Edges on a disabled line still latch
// into the pending register but do not fire the vector.
func (c *Controller) Disable(mask uint32) {
	atomicAnd(&c.enabled, ^mask)
}

// Enable unmasks the given lines. Stale pending state fires immediately,
// which is why arming is always clear-then-enable.
func (c *Controller) Enable(mask uint32) {
	atomicOr(&c.enabled, mask)
	c.dispatch()
}

// Storms returns how many times the storm guard tripped.
func (c *Controller) Storms() uint64 {
	return c.storms.Load()
}

// Raise latches an edge on the given line and, if the line is enabled,
// fires the shared vector. Called by the GPIO block on a qualifying edge;
// tests call it directly to inject edges.
func (c *Controller) Raise(line uint8) {
	atomicOr(&c.pending, LineMask(line))
	c.dispatch()
}

// atomicAnd and atomicOr replicate atomic.Uint32.And/Or, which require a
// newer Go toolchain than the one building this module.
func atomicAnd(v *atomic.Uint32, mask uint32) {
	for {
		old := v.Load()
		if v.CompareAndSwap(old, old&mask) {
			return
		}
	}
}

func atomicOr(v *atomic.Uint32, mask uint32) {
	for {
		old := v.Load()
		if v.CompareAndSwap(old, old|mask) {
			return
		}
	}
}

// dispatch runs the vector while the pending-and-enabled condition holds,
// modeling the hardware re-firing an uncleared interrupt. The guard trips
// after stormLimit consecutive fires with the condition still set.
func (c *Controller) dispatch() {
	if c.vector == nil {
		return
	}
	for fires := 0; c.PendingEnabled() != 0; fires++ {
		if fires >= c.stormLimit {
			c.storms.Add(1)
			c.logger.Error("interrupt storm: vector returned with pending condition set",
				"pending", c.PendingEnabled(), "fires", fires)
			return
		}
		c.vector()
	}
}
