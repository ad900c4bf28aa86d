// Package config defines the eswgpio.json configuration file: the
// simulated board's pin assignments, the buzzer task group, and the
// kernel timing parameters. Defaults match the tsb0 board wiring.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/iambrandonn/eswgpio/internal/exti"
	"github.com/iambrandonn/eswgpio/internal/fsutil"
	"github.com/iambrandonn/eswgpio/internal/gpio"
)

// FileName is the configuration file name searched for up the tree.
const FileName = "eswgpio.json"

// Config represents the eswgpio.json configuration file
type Config struct {
	Version      string         `json:"version"`
	TickMs       int            `json:"tick_ms"`
	HeartbeatS   int            `json:"heartbeat_s"`
	EventLogPath string         `json:"event_log,omitempty"`
	Button       ButtonConfig   `json:"button"`
	Buzzers      []BuzzerConfig `json:"buzzers"`
	Leds         []PinConfig    `json:"leds"`
}

// ButtonConfig describes the button input pin and its interrupt line
type ButtonConfig struct {
	Port string `json:"port"`
	Pin  uint8  `json:"pin"`
	Line uint8  `json:"line"`
}

// BuzzerConfig describes one periodic buzzer task
type BuzzerConfig struct {
	Name          string `json:"name"`
	Port          string `json:"port"`
	Pin           uint8  `json:"pin"`
	IntervalTicks uint32 `json:"interval_ticks"`
}

// PinConfig describes a named output pin
type PinConfig struct {
	Name string `json:"name"`
	Port string `json:"port"`
	Pin  uint8  `json:"pin"`
}

// GenerateDefault creates a Config with the tsb0 board defaults: buzzer
// on PA0 at a 500-tick interval, button on PF4 routed to interrupt line
// 4, LEDs on PB11/PB12/PA5, 10 second heartbeat.
func GenerateDefault() *Config {
	return &Config{
		Version:    "1.0",
		TickMs:     1,
		HeartbeatS: 10,
		Button: ButtonConfig{
			Port: "F",
			Pin:  4,
			Line: 4,
		},
		Buzzers: []BuzzerConfig{
			{Name: "buzzer", Port: "A", Pin: 0, IntervalTicks: 500},
		},
		Leds: []PinConfig{
			{Name: "red", Port: "B", Pin: 11},
			{Name: "green", Port: "B", Pin: 12},
			{Name: "blue", Port: "A", Pin: 5},
		},
	}
}

// Tick returns the configured tick duration.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.TickMs) * time.Millisecond
}

// Heartbeat returns the configured heartbeat period.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatS) * time.Second
}

// Validate checks the configuration for errors and returns user-friendly error messages
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("configuration error: missing required field 'version'\n\nHint: Add a version field like:\n  \"version\": \"1.0\"")
	}
	if c.TickMs <= 0 {
		return fmt.Errorf("configuration error: 'tick_ms' must be positive, got %d", c.TickMs)
	}
	if c.HeartbeatS <= 0 {
		return fmt.Errorf("configuration error: 'heartbeat_s' must be positive, got %d", c.HeartbeatS)
	}
	if len(c.Buzzers) == 0 {
		return fmt.Errorf("configuration error: no buzzers configured\n\nHint: Add at least one buzzer:\n  \"buzzers\": [{\"name\": \"buzzer\", \"port\": \"A\", \"pin\": 0, \"interval_ticks\": 500}]")
	}

	if _, err := gpio.ParsePort(c.Button.Port); err != nil {
		return fmt.Errorf("configuration error: button: %w", err)
	}
	if c.Button.Pin >= gpio.NumPins {
		return fmt.Errorf("configuration error: button pin %d out of range", c.Button.Pin)
	}
	if c.Button.Line >= exti.NumLines {
		return fmt.Errorf("configuration error: button interrupt line %d out of range", c.Button.Line)
	}

	seen := make(map[string]bool, len(c.Buzzers))
	for _, b := range c.Buzzers {
		if b.Name == "" {
			return fmt.Errorf("configuration error: buzzer with empty name")
		}
		if seen[b.Name] {
			return fmt.Errorf("configuration error: duplicate buzzer name %q", b.Name)
		}
		seen[b.Name] = true
		if _, err := gpio.ParsePort(b.Port); err != nil {
			return fmt.Errorf("configuration error: buzzer %q: %w", b.Name, err)
		}
		if b.IntervalTicks == 0 {
			return fmt.Errorf("configuration error: buzzer %q has zero interval", b.Name)
		}
	}

	for _, led := range c.Leds {
		if _, err := gpio.ParsePort(led.Port); err != nil {
			return fmt.Errorf("configuration error: led %q: %w", led.Name, err)
		}
	}

	return nil
}

// LoadFromFile loads a configuration from a JSON file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &cfg, nil
}

// SaveToFile writes the configuration to a JSON file atomically
func (c *Config) SaveToFile(path string) error {
	if err := fsutil.AtomicWriteJSON(path, c); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// FindInTree searches from startDir up the directory tree for eswgpio.json.
// Returns the empty string when no config file exists.
func FindInTree(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve start directory: %w", err)
	}

	for {
		configPath := filepath.Join(dir, FileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			break
		}
		dir = parent
	}

	return "", nil
}
