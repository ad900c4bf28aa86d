// Package board wires the simulated tsb0 board together and owns the
// startup sequence: pin configuration first, then task creation, then
// interrupt arming (clear-then-enable), then kernel start. Arming the
// button interrupt before the control task exists would leave the wakeup
// flag with no owner, so Bringup's ordering is fixed.
package board

import (
	"fmt"
	"log/slog"

	"github.com/iambrandonn/eswgpio/internal/buzzer"
	"github.com/iambrandonn/eswgpio/internal/config"
	"github.com/iambrandonn/eswgpio/internal/control"
	"github.com/iambrandonn/eswgpio/internal/eventlog"
	"github.com/iambrandonn/eswgpio/internal/exti"
	"github.com/iambrandonn/eswgpio/internal/gpio"
	"github.com/iambrandonn/eswgpio/internal/kernel"
)

// Version is the firmware version reported in the boot banner.
const Version = "1.0.0"

// HeartbeatTaskName is the heartbeat task's name in the kernel.
const HeartbeatTaskName = "hp"

// Board is the brought-up simulated board.
type Board struct {
	cfg    *config.Config
	logger *slog.Logger
	events *eventlog.Log

	kern  *kernel.Kernel
	dev   *gpio.Device
	irq   *exti.Controller
	ctrl  *control.Controller
	group *control.Group

	buzzers    []buzzer.Buzzer
	buttonPort gpio.Port
	buttonPin  uint8
}

// Bringup configures pins, creates the worker, control and heartbeat
// tasks, and arms the button interrupt, in that order. The kernel is
// left ready but not started. events may be nil.
func Bringup(cfg *config.Config, logger *slog.Logger, events *eventlog.Log) (*Board, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Board{
		cfg:    cfg,
		logger: logger,
		events: events,
		irq:    exti.New(logger),
	}
	b.dev = gpio.NewDevice(b.irq)
	b.kern = kernel.New(logger, kernel.WithTick(cfg.Tick()))
	if err := b.kern.Initialize(); err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}

	if err := b.configurePins(); err != nil {
		return nil, err
	}
	if err := b.createTasks(); err != nil {
		return nil, err
	}
	if err := b.armButtonInterrupt(); err != nil {
		return nil, err
	}

	return b, nil
}

// configurePins sets up LED and buzzer outputs and the button input.
func (b *Board) configurePins() error {
	for _, led := range b.cfg.Leds {
		port, _ := gpio.ParsePort(led.Port)
		if err := b.dev.PinModeSet(port, led.Pin, gpio.ModePushPull, false); err != nil {
			return fmt.Errorf("board: led %q: %w", led.Name, err)
		}
	}

	for _, bc := range b.cfg.Buzzers {
		port, _ := gpio.ParsePort(bc.Port)
		if err := b.dev.PinModeSet(port, bc.Pin, gpio.ModePushPull, false); err != nil {
			return fmt.Errorf("board: buzzer %q: %w", bc.Name, err)
		}
		b.buzzers = append(b.buzzers, buzzer.Buzzer{
			Name:     bc.Name,
			Port:     port,
			Pin:      bc.Pin,
			Interval: bc.IntervalTicks,
		})
	}

	// Button input pulled high; a press drives it low.
	b.buttonPort, _ = gpio.ParsePort(b.cfg.Button.Port)
	b.buttonPin = b.cfg.Button.Pin
	if err := b.dev.PinModeSet(b.buttonPort, b.buttonPin, gpio.ModeInputPullFilter, true); err != nil {
		return fmt.Errorf("board: button: %w", err)
	}

	return nil
}

// createTasks registers the worker group, the control task and the
// heartbeat task. The task set is fixed from here on.
func (b *Board) createTasks() error {
	members := make([]*kernel.Task, 0, len(b.buzzers))
	for i := range b.buzzers {
		task, err := b.buzzers[i].CreateTask(b.kern, b.dev, b.logger)
		if err != nil {
			return fmt.Errorf("board: %w", err)
		}
		members = append(members, task)
	}
	b.group = control.NewGroup(members...)

	ctrl, err := control.New(b.kern, b.irq, control.SourceForLine(b.cfg.Button.Line), b.group, b.logger)
	if err != nil {
		return fmt.Errorf("board: %w", err)
	}
	b.ctrl = ctrl
	if b.events != nil {
		b.ctrl.SetEventLogger(b.events)
	}

	hbTicks := uint32(b.cfg.HeartbeatS) * b.kern.TickFreq()
	if hbTicks == 0 {
		hbTicks = 1
	}
	_, err = b.kern.CreateTask(HeartbeatTaskName, func(t *kernel.Task) {
		for {
			t.Delay(hbTicks)
			b.logger.Info("heartbeat")
			if b.events != nil {
				if err := b.events.WriteHeartbeat(HeartbeatTaskName); err != nil {
					b.logger.Warn("failed to log heartbeat", "error", err)
				}
			}
		}
	})
	if err != nil {
		return fmt.Errorf("board: %w", err)
	}

	return nil
}

// armButtonInterrupt routes the button pin to its interrupt line and
// enables it: disable before configuring, clear stale pending state
// before enabling. Runs strictly after createTasks so the vector's
// wakeup target exists before the first edge can fire.
func (b *Board) armButtonInterrupt() error {
	mask := exti.LineMask(b.cfg.Button.Line)

	b.irq.Disable(mask)
	if err := b.dev.ExtIntConfig(b.buttonPort, b.buttonPin, b.cfg.Button.Line, false, true); err != nil {
		return fmt.Errorf("board: button interrupt: %w", err)
	}
	b.irq.SetVector(b.ctrl.ISR)
	b.irq.ClearPending(mask)
	b.irq.Enable(mask)

	return nil
}

// Start logs the boot banner and starts the kernel. A kernel that
// refuses to start is a fatal boot error; there is no recovery path.
func (b *Board) Start() error {
	b.logger.Info("ESW-GPIO", "version", Version, "buzzers", len(b.buzzers), "tick", b.cfg.Tick().String())
	if b.events != nil {
		if err := b.events.WriteBoot(Version); err != nil {
			b.logger.Warn("failed to log boot event", "error", err)
		}
	}

	if err := b.kern.Start(); err != nil {
		return fmt.Errorf("board: kernel start refused: %w", err)
	}
	return nil
}

// Press simulates one button press: drive the pin low then release it
// high. Only the falling edge is armed, so one press is one edge.
func (b *Board) Press() error {
	if err := b.dev.DriveIn(b.buttonPort, b.buttonPin, false); err != nil {
		return fmt.Errorf("board: press: %w", err)
	}
	if err := b.dev.DriveIn(b.buttonPort, b.buttonPin, true); err != nil {
		return fmt.Errorf("board: press release: %w", err)
	}
	return nil
}

// Controller returns the control module.
func (b *Board) Controller() *control.Controller {
	return b.ctrl
}

// Group returns the worker task group.
func (b *Board) Group() *control.Group {
	return b.group
}

// Kernel returns the board's kernel.
func (b *Board) Kernel() *kernel.Kernel {
	return b.kern
}

// Device returns the GPIO device.
func (b *Board) Device() *gpio.Device {
	return b.dev
}

// ToggleCounts returns each buzzer's output toggle count by name.
func (b *Board) ToggleCounts() map[string]uint64 {
	counts := make(map[string]uint64, len(b.buzzers))
	for _, bz := range b.buzzers {
		counts[bz.Name] = b.dev.ToggleCount(bz.Port, bz.Pin)
	}
	return counts
}
