package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the size of a configuration file.
const MaxConfigFileBytes = 64 << 10

// StepperConfig holds the configuration for one axis: driver pins, endstop
// wiring, drive train and speed range.
type StepperConfig struct {
	StepPin     int    `yaml:"step_pin"`
	DirPin      int    `yaml:"dir_pin"`
	EnablePin   int    `yaml:"enable_pin"`   // driver ENABLE pin (BCM). 0 = not used.
	EnableLevel string `yaml:"enable_level"` // level that powers the coils: "low" (A4988) or "high"
	EndstopPin  int    `yaml:"endstop_pin"`  // hall sensor / switch. 0 = no endstop.
	EndstopPull string `yaml:"endstop_pull"` // "up" or "none"
	// EndstopActiveHigh flips the usual active-low sensor wiring.
	EndstopActiveHigh bool    `yaml:"endstop_active_high"`
	InvertDir         bool    `yaml:"invert_dir"`
	StepsPerRev       int     `yaml:"steps_per_rev"`
	Microstepping     int     `yaml:"microstepping"`
	GearRatio         float64 `yaml:"gear_ratio"` // motor turns per axis turn
	MinSpeedDPS       float64 `yaml:"min_speed_dps"`
	MaxSpeedDPS       float64 `yaml:"max_speed_dps"`
	DefaultSpeedDPS   float64 `yaml:"default_speed_dps"`
}

// HomingConfig tunes the endstop scan.
type HomingConfig struct {
	SpeedDPS float64 `yaml:"speed_dps"`
	MaxSteps int     `yaml:"max_steps"` // per-phase budget before reporting an endstop fault
	OnBoot   bool    `yaml:"on_boot"`
}

// CommandConfig sizes the command channel.
type CommandConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// LinkConfig selects the host connections feeding the command channel.
type LinkConfig struct {
	SerialPort string `yaml:"serial_port"` // e.g. "/dev/ttyAMA0". Empty = no serial link.
	BaudRate   int    `yaml:"baud_rate"`
	Stdin      bool   `yaml:"stdin"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel  int    `yaml:"debug_level"`  // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	GPIOBackend string `yaml:"gpio_backend"` // mock, rpio, periph or gpiocdev
	GPIOChip    string `yaml:"gpio_chip"`    // gpiocdev only
	MockGPIO    bool   `yaml:"mock_gpio"`    // shorthand for gpio_backend: mock
}

// Config aggregates all application configuration.
type Config struct {
	PanStepper  StepperConfig  `yaml:"pan_stepper"`
	TiltStepper StepperConfig  `yaml:"tilt_stepper"`
	Homing      HomingConfig   `yaml:"homing"`
	Command     CommandConfig  `yaml:"command"`
	Link        LinkConfig     `yaml:"link"`
	Defaults    DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath accepts only <dir>/configs/<name>.yaml paths, so the
// -config flag cannot be pointed at arbitrary files.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config file must have a .yaml extension: %s", path)
	}
	for _, part := range strings.Split(filepath.ToSlash(clean), "/") {
		if part == ".." {
			return fmt.Errorf("config path must not contain '..': %s", path)
		}
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config file must live in a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration with defaults
// applied and validated.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file larger than %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.PanStepper.normalize("pan_stepper"); err != nil {
		return nil, err
	}
	if err := cfg.TiltStepper.normalize("tilt_stepper"); err != nil {
		return nil, err
	}

	if cfg.Homing.SpeedDPS <= 0 {
		cfg.Homing.SpeedDPS = 5
	}
	if cfg.Homing.MaxSteps <= 0 {
		cfg.Homing.MaxSteps = 20000
	}

	if cfg.Command.BufferSize == 0 {
		cfg.Command.BufferSize = 16
	}
	if cfg.Command.BufferSize < 1 || cfg.Command.BufferSize > 1024 {
		return nil, fmt.Errorf("command.buffer_size must be between 1 and 1024, got %d", cfg.Command.BufferSize)
	}

	if cfg.Link.BaudRate <= 0 {
		cfg.Link.BaudRate = 115200
	}

	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return nil, fmt.Errorf("debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}
	if cfg.Defaults.GPIOBackend == "" {
		cfg.Defaults.GPIOBackend = "rpio"
		if cfg.Defaults.MockGPIO {
			cfg.Defaults.GPIOBackend = "mock"
		}
	}
	switch cfg.Defaults.GPIOBackend {
	case "mock", "rpio", "periph", "gpiocdev":
	default:
		return nil, fmt.Errorf("gpio_backend must be mock, rpio, periph or gpiocdev, got %q", cfg.Defaults.GPIOBackend)
	}
	if cfg.Defaults.GPIOChip == "" {
		cfg.Defaults.GPIOChip = "gpiochip0"
	}

	return &cfg, nil
}

func (s *StepperConfig) normalize(name string) error {
	if s.StepPin <= 0 {
		return fmt.Errorf("%s.step_pin is required", name)
	}
	if s.DirPin <= 0 {
		return fmt.Errorf("%s.dir_pin is required", name)
	}
	if s.StepPin == s.DirPin {
		return fmt.Errorf("%s: step_pin and dir_pin must differ", name)
	}

	switch s.EnableLevel = strings.ToLower(s.EnableLevel); s.EnableLevel {
	case "":
		s.EnableLevel = "low"
	case "low", "high":
	default:
		return fmt.Errorf("%s.enable_level must be low or high, got %q", name, s.EnableLevel)
	}
	switch s.EndstopPull = strings.ToLower(s.EndstopPull); s.EndstopPull {
	case "":
		s.EndstopPull = "up"
	case "up", "none":
	default:
		return fmt.Errorf("%s.endstop_pull must be up or none, got %q", name, s.EndstopPull)
	}

	if s.StepsPerRev == 0 {
		s.StepsPerRev = 200
	}
	if s.Microstepping == 0 {
		s.Microstepping = 1
	}
	if s.GearRatio == 0 {
		s.GearRatio = 1
	}
	if s.StepsPerRev < 0 || s.Microstepping < 0 || s.GearRatio < 0 {
		return fmt.Errorf("%s: steps_per_rev, microstepping and gear_ratio must be > 0", name)
	}

	if s.MinSpeedDPS <= 0 {
		s.MinSpeedDPS = 1
	}
	if s.MaxSpeedDPS <= 0 {
		s.MaxSpeedDPS = 60
	}
	if s.MaxSpeedDPS < s.MinSpeedDPS {
		return fmt.Errorf("%s: max_speed_dps (%.2f) below min_speed_dps (%.2f)", name, s.MaxSpeedDPS, s.MinSpeedDPS)
	}
	if s.DefaultSpeedDPS <= 0 {
		s.DefaultSpeedDPS = 10
	}
	if s.DefaultSpeedDPS < s.MinSpeedDPS {
		s.DefaultSpeedDPS = s.MinSpeedDPS
	}
	if s.DefaultSpeedDPS > s.MaxSpeedDPS {
		s.DefaultSpeedDPS = s.MaxSpeedDPS
	}
	return nil
}

// EnableActiveHigh reports whether the driver is powered by a HIGH enable line.
func (s StepperConfig) EnableActiveHigh() bool {
	return s.EnableLevel == "high"
}

// EndstopPullUp reports whether the endstop input uses the internal pull-up.
func (s StepperConfig) EndstopPullUp() bool {
	return s.EndstopPull == "up"
}

// StepsPerDegree returns the microsteps per axis degree.
func (s StepperConfig) StepsPerDegree() float64 {
	return float64(s.StepsPerRev*s.Microstepping) * s.GearRatio / 360.0
}

// UseMockGPIO reports whether the mock GPIO backend is selected.
func (c *Config) UseMockGPIO() bool {
	return c.Defaults.GPIOBackend == "mock"
}
