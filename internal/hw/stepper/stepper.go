package stepper

import (
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/cjeanneret/PanTilt/internal/hw/gpio"
)

// Direction is the rotation sense of one axis.
type Direction int

const (
	Clockwise Direction = iota
	CounterClockwise
)

func (d Direction) String() string {
	if d == Clockwise {
		return "cw"
	}
	return "ccw"
}

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Clockwise {
		return CounterClockwise
	}
	return Clockwise
}

// Config holds the hardware configuration for a stepper motor.
type Config struct {
	Name          string
	StepPin       int
	DirPin        int
	EnablePin     int        // driver ENABLE pin (BCM). 0 = not used.
	EnabledLevel  gpio.Level // level that powers the coils (A4988: Low)
	EndstopPin    int        // endstop sensor pin. 0 = no endstop.
	EndstopPullUp bool       // configure the endstop input with the internal pull-up
	// EndstopActiveHigh flips the default active-low endstop wiring.
	EndstopActiveHigh bool
	InvertDir         bool          // swap the DIR level for Clockwise
	PulseWidth        time.Duration // STEP high time. 0 = back-to-back writes.
}

// Stepper drives one step/dir motor and reads its endstop.
// It holds no kinematic state: position bookkeeping belongs to the
// motion coordinator.
type Stepper struct {
	gpio gpio.Driver
	cfg  Config
}

// NewStepper configures the pins of one axis. Setup errors are swallowed:
// the caller assumes success, as a missing pin surfaces on first use.
// The motor starts disabled.
func NewStepper(g gpio.Driver, cfg Config) *Stepper {
	_ = g.SetupPin(cfg.StepPin, gpio.Output)
	_ = g.SetupPin(cfg.DirPin, gpio.Output)

	s := &Stepper{
		gpio: g,
		cfg:  cfg,
	}

	if cfg.EnablePin > 0 {
		_ = g.SetupPin(cfg.EnablePin, gpio.Output)
		_ = s.Disable()
	}
	if cfg.EndstopPin > 0 {
		mode := gpio.Input
		if cfg.EndstopPullUp {
			mode = gpio.InputPullUp
		}
		_ = g.SetupPin(cfg.EndstopPin, mode)
	}
	return s
}

// Name returns the axis name from the configuration.
func (s *Stepper) Name() string {
	return s.cfg.Name
}

// HasEndstop reports whether an endstop pin is configured.
func (s *Stepper) HasEndstop() bool {
	return s.cfg.EndstopPin > 0
}

// Enable turns on the motor driver. Motors hold position.
func (s *Stepper) Enable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, s.cfg.EnabledLevel)
}

// Disable turns off the motor driver. Motors freewheel, no holding torque.
func (s *Stepper) Disable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, !s.cfg.EnabledLevel)
}

// SetDirection drives the DIR line for the given direction.
func (s *Stepper) SetDirection(dir Direction) error {
	level := gpio.Level(dir == Clockwise)
	if s.cfg.InvertDir {
		level = !level
	}
	return s.gpio.WritePin(s.cfg.DirPin, level)
}

// HardStep sets the direction then pulses STEP once, without looking at
// the endstop.
func (s *Stepper) HardStep(dir Direction) error {
	if err := s.SetDirection(dir); err != nil {
		return err
	}
	return s.pulse()
}

// Step pulses once only if the endstop is not triggered.
// It reports whether a step was taken.
func (s *Stepper) Step(dir Direction) (bool, error) {
	triggered, err := s.EndstopTriggered()
	if err != nil {
		return false, err
	}
	if triggered {
		return false, nil
	}
	if err := s.HardStep(dir); err != nil {
		return false, err
	}
	return true, nil
}

// EndstopTriggered reads the sensor. true means the magnet or contact is
// detected, whatever the physical polarity of the line.
func (s *Stepper) EndstopTriggered() (bool, error) {
	if s.cfg.EndstopPin <= 0 {
		return false, nil
	}
	level, err := s.gpio.ReadPin(s.cfg.EndstopPin)
	if err != nil {
		return false, fmt.Errorf("read endstop %s: %w", s.cfg.Name, err)
	}
	if s.cfg.EndstopActiveHigh {
		return level == gpio.High, nil
	}
	return level == gpio.Low, nil
}

func (s *Stepper) pulse() error {
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.High); err != nil {
		return err
	}
	if s.cfg.PulseWidth > 0 {
		time.Sleep(s.cfg.PulseWidth)
	}
	return s.gpio.WritePin(s.cfg.StepPin, gpio.Low)
}

// Switchable is a motor whose driver can be powered on and off.
type Switchable interface {
	Enable() error
	Disable() error
}

// Member names one motor of a Set.
type Member struct {
	Name  string
	Motor Switchable
}

// Set is a group of motors switched together.
type Set []Member

// Add appends a named motor.
func (set *Set) Add(name string, m Switchable) {
	*set = append(*set, Member{Name: name, Motor: m})
}

// EnableAll enables every motor, attempting all of them even if one fails.
func (set Set) EnableAll() error {
	var err error
	for _, m := range set {
		if e := m.Motor.Enable(); e != nil {
			err = multierr.Append(err, fmt.Errorf("enable %s: %w", m.Name, e))
		}
	}
	return err
}

// DisableAll disables every motor, attempting all of them even if one fails.
func (set Set) DisableAll() error {
	var err error
	for _, m := range set {
		if e := m.Motor.Disable(); e != nil {
			err = multierr.Append(err, fmt.Errorf("disable %s: %w", m.Name, e))
		}
	}
	return err
}
