// Package buzzer implements the periodic worker task: delay for the
// configured interval, toggle the output pin, repeat forever. Workers
// have no awareness of suspension; the control task suspends and resumes
// them from outside through the kernel, and a resumed worker continues
// exactly where it was held.
package buzzer

import (
	"fmt"
	"log/slog"

	"github.com/iambrandonn/eswgpio/internal/gpio"
	"github.com/iambrandonn/eswgpio/internal/kernel"
)

// Buzzer describes one tone-generator worker.
type Buzzer struct {
	Name     string
	Port     gpio.Port
	Pin      uint8
	Interval uint32 // delay between toggles, in kernel ticks
}

// CreateTask registers the worker task on the kernel. Each worker owns
// its own interval; members of a group are independent once created.
func (b *Buzzer) CreateTask(k *kernel.Kernel, dev *gpio.Device, logger *slog.Logger) (*kernel.Task, error) {
	if b.Interval == 0 {
		return nil, fmt.Errorf("buzzer %q: zero interval", b.Name)
	}
	return k.CreateTask(b.Name, func(t *kernel.Task) {
		for {
			t.Delay(b.Interval)
			dev.PinOutToggle(b.Port, b.Pin)
			logger.Debug("buzzer tone played", "name", b.Name, "pin", fmt.Sprintf("%s%d", b.Port, b.Pin))
		}
	})
}
