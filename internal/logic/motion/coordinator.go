package motion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cjeanneret/PanTilt/internal/debug"
	"github.com/cjeanneret/PanTilt/internal/hw/stepper"
	"github.com/cjeanneret/PanTilt/internal/logic/geometry"
	"github.com/cjeanneret/PanTilt/internal/logic/homing"
)

// Axis indexes for the pan/tilt rig.
const (
	Pan  = 0
	Tilt = 1
)

var (
	// ErrBusy is returned when a motion request arrives while a move,
	// homing or jog is in progress.
	ErrBusy = errors.New("motion: coordinator busy")
	// ErrAxisCount is returned when a request does not name every axis.
	ErrAxisCount = errors.New("motion: wrong number of axis values")
	// ErrNoAxis is returned for an out-of-range axis index.
	ErrNoAxis = errors.New("motion: no such axis")
	// ErrOutOfRange is returned for a target or position whose step count
	// would not fit the position counters.
	ErrOutOfRange = errors.New("motion: out of range")
)

// Mode selects how Line targets are read.
type Mode int

const (
	Absolute Mode = iota
	Relative
)

func (m Mode) String() string {
	if m == Relative {
		return "relative"
	}
	return "absolute"
}

// Driver is the axis driver the coordinator steps.
type Driver interface {
	Enable() error
	Disable() error
	HardStep(dir stepper.Direction) error
	Step(dir stepper.Direction) (bool, error)
	EndstopTriggered() (bool, error)
}

// AxisConfig describes one axis handed to NewCoordinator.
type AxisConfig struct {
	Name         string
	Driver       Driver
	Scale        geometry.AxisScale
	MinSpeed     float64 // degrees per second
	MaxSpeed     float64
	DefaultSpeed float64
}

// HomingConfig tunes Home.
type HomingConfig struct {
	Speed    float64 // degrees per second during the scan
	MaxSteps int     // per-phase step budget
}

// AxisState is a snapshot of one axis.
type AxisState struct {
	Name            string            `json:"name"`
	PositionAngle   float64           `json:"position_deg"`
	PositionSteps   int64             `json:"position_steps"`
	Speed           float64           `json:"speed_dps"`
	StepDelayMicros int64             `json:"step_delay_us"`
	Direction       stepper.Direction `json:"-"`
	MinSpeed        float64           `json:"min_speed_dps"`
	MaxSpeed        float64           `json:"max_speed_dps"`
}

type phase int

const (
	idle phase = iota
	planning
	executing
	homingPhase
	jogging
)

func (p phase) String() string {
	switch p {
	case idle:
		return "idle"
	case planning:
		return "planning"
	case executing:
		return "executing"
	case homingPhase:
		return "homing"
	case jogging:
		return "jogging"
	default:
		return "unknown"
	}
}

type axis struct {
	cfg   AxisConfig
	state AxisState

	// per move
	target    float64 // angle the move ends on
	delta     int64   // signed steps to travel
	remaining int64
	acc       int64 // Bresenham error, in half-step units
}

// Coordinator owns the kinematic state of every axis and runs coordinated
// linear moves: all axes start together and finish on the same tick.
// Create one per rig and share the pointer.
type Coordinator struct {
	mu      sync.Mutex
	axes    []*axis
	motors  stepper.Set
	ticks   TickSource
	mode    Mode
	phase   phase
	fastest int
	homing  HomingConfig
	pause   func(time.Duration)

	onComplete func()
	done       chan struct{}
	moveErr    error
}

// NewCoordinator builds a coordinator over the given axes. Speeds start at
// each axis' default (or minimum) speed; mode starts Absolute; positions
// start at zero until homed or set.
func NewCoordinator(axes []AxisConfig, ticks TickSource, h HomingConfig) (*Coordinator, error) {
	if len(axes) == 0 {
		return nil, errors.New("motion: no axes configured")
	}
	if ticks == nil {
		return nil, errors.New("motion: nil tick source")
	}
	c := &Coordinator{
		ticks:  ticks,
		homing: h,
		pause:  time.Sleep,
		done:   closedChan(),
	}
	for _, ac := range axes {
		if ac.Driver == nil {
			return nil, fmt.Errorf("motion: axis %s has no driver", ac.Name)
		}
		if ac.Scale.StepsPerRev <= 0 {
			return nil, fmt.Errorf("motion: axis %s: steps_per_rev must be > 0", ac.Name)
		}
		if ac.MinSpeed <= 0 || ac.MaxSpeed < ac.MinSpeed {
			return nil, fmt.Errorf("motion: axis %s: invalid speed range [%g, %g]", ac.Name, ac.MinSpeed, ac.MaxSpeed)
		}
		a := &axis{cfg: ac}
		a.state.Name = ac.Name
		a.state.MinSpeed = ac.MinSpeed
		a.state.MaxSpeed = ac.MaxSpeed
		c.axes = append(c.axes, a)
		c.motors.Add(ac.Name, ac.Driver)
		def := ac.DefaultSpeed
		if def <= 0 {
			def = ac.MinSpeed
		}
		c.setSpeed(a, def)
	}
	return c, nil
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// SetPause replaces the sleep used between blocking steps (homing, jog).
func (c *Coordinator) SetPause(fn func(time.Duration)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn == nil {
		fn = time.Sleep
	}
	c.pause = fn
}

// NumAxes returns the number of axes.
func (c *Coordinator) NumAxes() int {
	return len(c.axes)
}

// Line plans a linear move to target (one value per axis, degrees) and
// starts executing it on the tick source. It returns immediately; the
// completion callback and Wait report the end of the move.
func (c *Coordinator) Line(target ...float64) error {
	c.mu.Lock()

	if len(target) != len(c.axes) {
		c.mu.Unlock()
		return fmt.Errorf("%w: got %d, want %d", ErrAxisCount, len(target), len(c.axes))
	}
	if c.phase != idle {
		c.mu.Unlock()
		return ErrBusy
	}
	for i, a := range c.axes {
		steps, ok := a.cfg.Scale.StepsInRange(target[i])
		if ok && c.mode == Relative {
			ok = geometry.InRange(a.state.PositionSteps + steps)
		}
		if !ok {
			c.mu.Unlock()
			return fmt.Errorf("%w: %s target %g", ErrOutOfRange, a.cfg.Name, target[i])
		}
	}
	c.phase = planning

	for i, a := range c.axes {
		a.delta = a.cfg.Scale.StepsFromAngle(target[i])
		if c.mode == Absolute {
			a.delta -= a.state.PositionSteps
			a.target = target[i]
		} else {
			a.target = a.state.PositionAngle + target[i]
		}
	}

	// Fastest axis: largest |delta|, lowest index on ties.
	c.fastest = 0
	for i, a := range c.axes {
		if abs(a.delta) > abs(c.axes[c.fastest].delta) {
			c.fastest = i
		}
	}
	fast := c.axes[c.fastest]
	span := abs(fast.delta)

	for _, a := range c.axes {
		if a.delta < 0 {
			a.state.Direction = stepper.Clockwise
		} else {
			a.state.Direction = stepper.CounterClockwise
		}
		a.remaining = abs(a.delta)
		a.acc = -span
		debug.Move(a.cfg.Name, a.delta, a.state.Direction.String())
	}
	debug.Verbose("Line: mode=%s fastest=%s span=%d ticks interval=%dus",
		c.mode, fast.cfg.Name, span, fast.state.StepDelayMicros)

	c.moveErr = nil
	if span == 0 {
		c.commit()
		c.phase = idle
		cb := c.onComplete
		c.mu.Unlock()
		if cb != nil {
			cb()
		}
		return nil
	}

	c.done = make(chan struct{})
	c.phase = executing
	c.ticks.Start(time.Duration(fast.state.StepDelayMicros)*time.Microsecond, c.tick)
	c.mu.Unlock()
	return nil
}

// tick is the step service routine. It only pulses pins and does integer
// arithmetic; it never blocks.
func (c *Coordinator) tick() {
	c.mu.Lock()
	if c.phase != executing {
		c.mu.Unlock()
		return
	}

	fast := c.axes[c.fastest]
	span := abs(fast.delta)

	if err := fast.cfg.Driver.HardStep(fast.state.Direction); err != nil && c.moveErr == nil {
		c.moveErr = fmt.Errorf("step %s: %w", fast.cfg.Name, err)
	}
	fast.remaining--

	for i, a := range c.axes {
		if i == c.fastest || a.remaining == 0 {
			continue
		}
		a.acc += 2 * abs(a.delta)
		if a.acc >= 0 {
			if err := a.cfg.Driver.HardStep(a.state.Direction); err != nil && c.moveErr == nil {
				c.moveErr = fmt.Errorf("step %s: %w", a.cfg.Name, err)
			}
			a.remaining--
			a.acc -= 2 * span
		}
	}

	if fast.remaining > 0 {
		c.mu.Unlock()
		return
	}

	c.ticks.Stop()
	c.commit()
	c.phase = idle
	cb := c.onComplete
	done := c.done
	c.mu.Unlock()

	close(done)
	if cb != nil {
		cb()
	}
}

// commit moves every axis' recorded position to the end of the planned
// move. The angle keeps the requested target unless that target does not
// round to the step count, in which case it snaps to the step grid.
func (c *Coordinator) commit() {
	for _, a := range c.axes {
		a.state.PositionSteps += a.delta
		a.state.PositionAngle = a.target
		if a.cfg.Scale.StepsFromAngle(a.target) != a.state.PositionSteps {
			a.state.PositionAngle = a.cfg.Scale.AngleFromSteps(a.state.PositionSteps)
		}
		a.delta = 0
		a.remaining = 0
	}
}

// Wait blocks until the current move (if any) completes and returns the
// first step error it met.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.moveErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether a new motion request would be accepted.
func (c *Coordinator) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == idle
}

// State returns the name of the current phase.
func (c *Coordinator) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase.String()
}

// RegisterCompletionCallback sets fn to run each time a move completes,
// outside the coordinator lock. fn may call back into the coordinator.
func (c *Coordinator) RegisterCompletionCallback(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onComplete = fn
}

// Home homes every axis in order, declaring each one zero once it is
// centred. It blocks until done. When an axis fails, the axes before it
// stay homed and the failing axis keeps a position that accounts for the
// steps the scan took. Speeds are switched to the homing speed for the
// scan and restored afterwards.
func (c *Coordinator) Home(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != idle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.phase = homingPhase
	saved := make([]float64, len(c.axes))
	delays := make([]time.Duration, len(c.axes))
	for i, a := range c.axes {
		saved[i] = a.state.Speed
		speed := c.homing.Speed
		if speed <= 0 {
			speed = a.state.Speed
		}
		c.setSpeed(a, speed)
		delays[i] = time.Duration(a.state.StepDelayMicros) * time.Microsecond
	}
	pause := c.pause
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		for i, a := range c.axes {
			c.setSpeed(a, saved[i])
		}
		c.phase = idle
		c.mu.Unlock()
	}()

	if err := c.motors.EnableAll(); err != nil {
		return err
	}

	debug.Section("Homing")
	for i, a := range c.axes {
		res, err := homing.Home(ctx, a.cfg.Name, a.cfg.Driver, homing.Params{
			StepDelay: delays[i],
			MaxSteps:  c.homing.MaxSteps,
			Pause:     pause,
		})
		c.mu.Lock()
		if err != nil {
			// Keep the recorded position on the hardware: the scan ran
			// clockwise, then back counter-clockwise.
			moved := int64(res.Centered - res.SearchSteps - res.Width)
			a.state.PositionSteps += moved
			a.state.PositionAngle = a.cfg.Scale.AngleFromSteps(a.state.PositionSteps)
			c.mu.Unlock()
			return err
		}
		a.state.PositionAngle = 0
		a.state.PositionSteps = 0
		c.mu.Unlock()
	}

	debug.Info("Homing finished")
	return nil
}

// Jog steps one axis by steps (signed) with the endstop interlock, at the
// axis' current speed. It stops early at a triggered endstop and returns
// the signed number of steps actually taken.
func (c *Coordinator) Jog(ctx context.Context, index int, steps int64) (int64, error) {
	c.mu.Lock()
	if index < 0 || index >= len(c.axes) {
		c.mu.Unlock()
		return 0, ErrNoAxis
	}
	if c.phase != idle {
		c.mu.Unlock()
		return 0, ErrBusy
	}
	a := c.axes[index]
	if !geometry.InRange(steps) || !geometry.InRange(a.state.PositionSteps+steps) {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: %s jog %d steps", ErrOutOfRange, a.cfg.Name, steps)
	}
	c.phase = jogging
	dir := stepper.CounterClockwise
	if steps < 0 {
		dir = stepper.Clockwise
	}
	delay := time.Duration(a.state.StepDelayMicros) * time.Microsecond
	pause := c.pause
	c.mu.Unlock()

	var (
		taken int64
		err   error
	)
	for taken < abs(steps) {
		if err = ctx.Err(); err != nil {
			break
		}
		var ok bool
		ok, err = a.cfg.Driver.Step(dir)
		if err != nil || !ok {
			break
		}
		taken++
		pause(delay)
	}
	if steps < 0 {
		taken = -taken
	}

	c.mu.Lock()
	a.state.PositionSteps += taken
	a.state.PositionAngle = a.cfg.Scale.AngleFromSteps(a.state.PositionSteps)
	a.state.Direction = dir
	c.phase = idle
	c.mu.Unlock()
	return taken, err
}

// SetPosition declares the current physical position, one angle per axis.
func (c *Coordinator) SetPosition(pos ...float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(pos) != len(c.axes) {
		return fmt.Errorf("%w: got %d, want %d", ErrAxisCount, len(pos), len(c.axes))
	}
	if c.phase != idle {
		return ErrBusy
	}
	steps := make([]int64, len(c.axes))
	for i, a := range c.axes {
		var ok bool
		if steps[i], ok = a.cfg.Scale.StepsInRange(pos[i]); !ok {
			return fmt.Errorf("%w: %s position %g", ErrOutOfRange, a.cfg.Name, pos[i])
		}
	}
	for i, a := range c.axes {
		a.state.PositionAngle = pos[i]
		a.state.PositionSteps = steps[i]
	}
	return nil
}

// Position returns the absolute angle of every axis.
func (c *Coordinator) Position() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]float64, len(c.axes))
	for i, a := range c.axes {
		out[i] = a.state.PositionAngle
	}
	return out
}

// PositionSteps returns the step count from home of every axis.
func (c *Coordinator) PositionSteps() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, len(c.axes))
	for i, a := range c.axes {
		out[i] = a.state.PositionSteps
	}
	return out
}

// Snapshot returns a copy of every axis state.
func (c *Coordinator) Snapshot() []AxisState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AxisState, len(c.axes))
	for i, a := range c.axes {
		out[i] = a.state
	}
	return out
}

// SetSpeed clamps speed (degrees per second) into the axis range, stores
// it and returns the value kept.
func (c *Coordinator) SetSpeed(index int, speed float64) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.axes) {
		return 0, ErrNoAxis
	}
	a := c.axes[index]
	c.setSpeed(a, speed)
	return a.state.Speed, nil
}

func (c *Coordinator) setSpeed(a *axis, speed float64) {
	switch {
	case math.IsNaN(speed) || speed < a.cfg.MinSpeed:
		speed = a.cfg.MinSpeed
	case speed > a.cfg.MaxSpeed:
		speed = a.cfg.MaxSpeed
	}
	a.state.Speed = speed
	a.state.StepDelayMicros = geometry.StepDelayMicros(speed, a.cfg.Scale.DegreesPerStep())
	debug.Verbose("Axis %s speed %.3f deg/s, step delay %dus", a.cfg.Name, speed, a.state.StepDelayMicros)
}

// Speed returns the speed of one axis in degrees per second.
func (c *Coordinator) Speed(index int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.axes) {
		return 0
	}
	return c.axes[index].state.Speed
}

// StepDelayMicros returns the step period derived from the axis speed.
func (c *Coordinator) StepDelayMicros(index int) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.axes) {
		return 0
	}
	return c.axes[index].state.StepDelayMicros
}

// SetPanSpeed sets the pan speed, clamped to its range.
func (c *Coordinator) SetPanSpeed(speed float64) error {
	_, err := c.SetSpeed(Pan, speed)
	return err
}

// PanSpeed returns the pan speed.
func (c *Coordinator) PanSpeed() float64 {
	return c.Speed(Pan)
}

// SetTiltSpeed sets the tilt speed, clamped to its range. It returns
// ErrNoAxis on a pan-only rig.
func (c *Coordinator) SetTiltSpeed(speed float64) error {
	_, err := c.SetSpeed(Tilt, speed)
	return err
}

// TiltSpeed returns the tilt speed.
func (c *Coordinator) TiltSpeed() float64 {
	return c.Speed(Tilt)
}

// SetMode selects absolute or relative targets for later moves.
func (c *Coordinator) SetMode(m Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = m
}

// Mode returns the current target mode.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// EnableMotors powers every axis.
func (c *Coordinator) EnableMotors() error {
	return c.motors.EnableAll()
}

// DisableMotors releases every axis.
func (c *Coordinator) DisableMotors() error {
	return c.motors.DisableAll()
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
