package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxArms is the number of arm slots on the reference board.
const MaxArms = 4

var ErrInvalid = errors.New("invalid config")

// Arm describes one physical arm: its hall sensor, its LED strip and where it
// sits on the wheel. Immutable after start.
type Arm struct {
	SensorPin  string `yaml:"sensor_pin"`  // periph pin name, e.g. GPIO2; empty = no sensor
	SPIPort    string `yaml:"spi_port"`    // e.g. /dev/spidev0.0; empty = no strip
	MountAngle int    `yaml:"mount_angle"` // degrees, [0,360)
	NumLEDs    int    `yaml:"num_leds"`
	SPIHz      int64  `yaml:"spi_hz,omitempty"` // nrzled SPI clock, 0 = driver default
}

type Playlist struct {
	Dirs []string `yaml:"dirs"`
	Ext  string   `yaml:"ext"`
}

// Power caps the current each hardware strip may draw.
type Power struct {
	BudgetMA float64 `yaml:"budget_ma"`   // per arm; 0 = unlimited
	ChanMA   float64 `yaml:"led_chan_ma"` // per colour channel at full scale
}

type Preview struct {
	Addr       string `yaml:"addr"` // "" disables the HTTP preview
	ThrottleMs int    `yaml:"throttle_ms"`
}

// Config is the global playback configuration. Loaded once, read-only after.
type Config struct {
	Driver   string `yaml:"driver"` // "spi" | "sim"
	LogLevel string `yaml:"log_level"`

	PatternChangeIntervalS int `yaml:"pattern_change_interval_s"`
	AngleOffset            int `yaml:"angle_offset"`
	RenderIntervalUs       int `yaml:"render_interval_us"`
	EventQueue             int `yaml:"event_queue"`

	SimulateRotation     bool `yaml:"simulate_rotation"`
	SimTriggerIntervalMs int  `yaml:"sim_trigger_interval_ms"`

	Arms     []Arm    `yaml:"arms"`
	Playlist Playlist `yaml:"playlist"`
	Preview  Preview  `yaml:"preview"`
	Power    Power    `yaml:"power"`
}

// Default mirrors the reference wheel: four arms a quarter turn apart,
// 32 LEDs each.
func Default() *Config {
	return &Config{
		Driver:                 "sim",
		LogLevel:               "info",
		PatternChangeIntervalS: 10,
		AngleOffset:            120,
		RenderIntervalUs:       500,
		EventQueue:             10,
		SimTriggerIntervalMs:   75,
		Arms: []Arm{
			{SensorPin: "GPIO2", SPIPort: "/dev/spidev0.0", MountAngle: 0, NumLEDs: 32},
			{SensorPin: "GPIO11", SPIPort: "/dev/spidev0.1", MountAngle: 90, NumLEDs: 32},
			{SensorPin: "GPIO12", SPIPort: "/dev/spidev1.0", MountAngle: 180, NumLEDs: 32},
			{SensorPin: "GPIO42", SPIPort: "/dev/spidev1.1", MountAngle: 270, NumLEDs: 32},
		},
		Playlist: Playlist{
			Dirs: []string{"/sdcard", "/spiffs"},
			Ext:  ".rgif",
		},
		Preview: Preview{
			Addr:       ":8080",
			ThrottleMs: 50,
		},
		Power: Power{ChanMA: 20},
	}
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func Save(path string, c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

// Validate checks ranges. It does not touch hardware.
func (c *Config) Validate() error {
	if len(c.Arms) == 0 {
		return fmt.Errorf("%w: no arms configured", ErrInvalid)
	}
	if len(c.Arms) > MaxArms {
		return fmt.Errorf("%w: %d arms, max %d", ErrInvalid, len(c.Arms), MaxArms)
	}
	for i, a := range c.Arms {
		if a.MountAngle < 0 || a.MountAngle >= 360 {
			return fmt.Errorf("%w: arm %d mount_angle %d outside [0,360)", ErrInvalid, i, a.MountAngle)
		}
		if a.NumLEDs < 0 {
			return fmt.Errorf("%w: arm %d num_leds %d", ErrInvalid, i, a.NumLEDs)
		}
	}
	if c.PatternChangeIntervalS <= 0 {
		return fmt.Errorf("%w: pattern_change_interval_s must be > 0", ErrInvalid)
	}
	if c.EventQueue <= 0 {
		return fmt.Errorf("%w: event_queue must be > 0", ErrInvalid)
	}
	if c.Power.BudgetMA < 0 || c.Power.ChanMA < 0 {
		return fmt.Errorf("%w: power limits must be >= 0", ErrInvalid)
	}
	switch c.Driver {
	case "sim", "spi":
	default:
		return fmt.Errorf("%w: unknown driver %q", ErrInvalid, c.Driver)
	}
	return nil
}

// CanvasHeight is the tallest strip across all arms.
func (c *Config) CanvasHeight() int {
	h := 0
	for _, a := range c.Arms {
		if a.NumLEDs > h {
			h = a.NumLEDs
		}
	}
	return h
}

func (c *Config) PatternChangeInterval() time.Duration {
	return time.Duration(c.PatternChangeIntervalS) * time.Second
}

func (c *Config) RenderInterval() time.Duration {
	if c.RenderIntervalUs <= 0 {
		return time.Millisecond
	}
	return time.Duration(c.RenderIntervalUs) * time.Microsecond
}

func (c *Config) SimTriggerInterval() time.Duration {
	if c.SimTriggerIntervalMs <= 0 {
		return 75 * time.Millisecond
	}
	return time.Duration(c.SimTriggerIntervalMs) * time.Millisecond
}

func (c *Config) PreviewThrottle() time.Duration {
	return time.Duration(c.Preview.ThrottleMs) * time.Millisecond
}
