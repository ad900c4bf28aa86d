// Package gpio simulates the GPIO block of the target board: pin mode
// configuration, push-pull outputs, filtered inputs, and routing of input
// edges to external interrupt lines. Output activity is observable through
// per-pin toggle counters, standing in for a probe on the physical pin.
package gpio

import (
	"fmt"
	"sync"

	"github.com/iambrandonn/eswgpio/internal/exti"
)

// Port identifies a GPIO port.
type Port int

const (
	PortA Port = iota
	PortB
	PortC
	PortD
	PortE
	PortF
)

// String returns the port letter.
func (p Port) String() string {
	if p < PortA || p > PortF {
		return fmt.Sprintf("port(%d)", int(p))
	}
	return string(rune('A' + int(p)))
}

// ParsePort converts a port letter ("A".."F") to a Port.
func ParsePort(s string) (Port, error) {
	if len(s) == 1 && s[0] >= 'A' && s[0] <= 'F' {
		return Port(s[0] - 'A'), nil
	}
	return 0, fmt.Errorf("invalid port %q", s)
}

// NumPins is the number of pins per port.
const NumPins = 16

// Mode is a pin configuration mode.
type Mode int

const (
	ModeDisabled Mode = iota
	// ModePushPull configures the pin as a digital output.
	ModePushPull
	// ModeInputPullFilter configures the pin as a filtered digital input
	// with a pull resistor towards the given initial level.
	ModeInputPullFilter
)

type pinKey struct {
	port Port
	pin  uint8
}

type pinState struct {
	mode    Mode
	out     bool
	in      bool
	toggles uint64

	// Edge-to-interrupt routing, set by ExtIntConfig.
	routed  bool
	line    uint8
	rising  bool
	falling bool
}

// Device is the simulated GPIO block. Edges produced by DriveIn on a
// routed input pin are raised on the attached interrupt controller.
type Device struct {
	irq *exti.Controller

	mu   sync.Mutex
	pins map[pinKey]*pinState
}

// NewDevice creates a GPIO device attached to an interrupt controller.
func NewDevice(irq *exti.Controller) *Device {
	return &Device{
		irq:  irq,
		pins: make(map[pinKey]*pinState),
	}
}

func validate(port Port, pin uint8) error {
	if port < PortA || port > PortF {
		return fmt.Errorf("invalid port %d", int(port))
	}
	if pin >= NumPins {
		return fmt.Errorf("invalid pin %d on port %s", pin, port)
	}
	return nil
}

// PinModeSet configures a pin's mode and initial level.
func (d *Device) PinModeSet(port Port, pin uint8, mode Mode, level bool) error {
	if err := validate(port, pin); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	key := pinKey{port, pin}
	st, ok := d.pins[key]
	if !ok {
		st = &pinState{}
		d.pins[key] = st
	}
	st.mode = mode
	switch mode {
	case ModePushPull:
		st.out = level
	case ModeInputPullFilter:
		st.in = level
	}
	return nil
}

// PinOutSet drives a configured output pin to the given level.
func (d *Device) PinOutSet(port Port, pin uint8, level bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.pins[pinKey{port, pin}]; ok && st.mode == ModePushPull {
		if st.out != level {
			st.toggles++
		}
		st.out = level
	}
}

// PinOutToggle inverts a configured output pin.
func (d *Device) PinOutToggle(port Port, pin uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.pins[pinKey{port, pin}]; ok && st.mode == ModePushPull {
		st.out = !st.out
		st.toggles++
	}
}

// PinOut returns the current output level of a pin.
func (d *Device) PinOut(port Port, pin uint8) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.pins[pinKey{port, pin}]; ok {
		return st.out
	}
	return false
}

// PinIn returns the current input level of a pin.
func (d *Device) PinIn(port Port, pin uint8) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.pins[pinKey{port, pin}]; ok {
		return st.in
	}
	return false
}

// ToggleCount returns how many times the pin's output level has changed.
func (d *Device) ToggleCount(port Port, pin uint8) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.pins[pinKey{port, pin}]; ok {
		return st.toggles
	}
	return 0
}

// ExtIntConfig routes edges on an input pin to an external interrupt
// line, selecting which edge polarities qualify. Setup-time only; the
// line should be disabled on the interrupt controller while configuring.
func (d *Device) ExtIntConfig(port Port, pin uint8, line uint8, rising, falling bool) error {
	if err := validate(port, pin); err != nil {
		return err
	}
	if line >= exti.NumLines {
		return fmt.Errorf("invalid interrupt line %d", line)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.pins[pinKey{port, pin}]
	if !ok || st.mode != ModeInputPullFilter {
		return fmt.Errorf("pin %s%d is not configured as an input", port, pin)
	}
	st.routed = true
	st.line = line
	st.rising = rising
	st.falling = falling
	return nil
}

// DriveIn drives an input pin to the given level from outside, as a
// physical signal would. A qualifying transition on a routed pin raises
// the attached interrupt line; the vector handler, if armed, runs
// synchronously before DriveIn returns.
func (d *Device) DriveIn(port Port, pin uint8, level bool) error {
	if err := validate(port, pin); err != nil {
		return err
	}

	d.mu.Lock()
	st, ok := d.pins[pinKey{port, pin}]
	if !ok || st.mode != ModeInputPullFilter {
		d.mu.Unlock()
		return fmt.Errorf("pin %s%d is not configured as an input", port, pin)
	}
	prev := st.in
	st.in = level

	fire := false
	line := uint8(0)
	if st.routed && prev != level {
		if (level && st.rising) || (!level && st.falling) {
			fire = true
			line = st.line
		}
	}
	d.mu.Unlock()

	// Raise outside the lock: the vector handler runs here, in what
	// stands for interrupt context.
	if fire {
		d.irq.Raise(line)
	}
	return nil
}
