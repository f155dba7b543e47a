// Package homing finds a repeatable zero for one axis by scanning across
// its endstop and settling on the middle of the triggered band.
package homing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/PanTilt/internal/debug"
	"github.com/cjeanneret/PanTilt/internal/hw/stepper"
)

// ErrEndstopFault is returned when the endstop does not trigger, or does
// not release, within the configured step budget.
var ErrEndstopFault = errors.New("homing: endstop fault")

// DefaultMaxSteps bounds each scan phase when Params.MaxSteps is zero.
const DefaultMaxSteps = 20000

// Axis is the part of the axis driver homing needs.
type Axis interface {
	HardStep(dir stepper.Direction) error
	EndstopTriggered() (bool, error)
}

// Params tunes one homing run.
type Params struct {
	StepDelay time.Duration       // pause after each step
	MaxSteps  int                 // per-phase step budget. 0 = DefaultMaxSteps.
	Pause     func(time.Duration) // nil = time.Sleep
}

// Result reports the step counts of each phase.
type Result struct {
	SearchSteps int // steps until the endstop first triggered
	Width       int // steps taken while the endstop stayed triggered
	Centered    int // steps taken back toward the middle (Width/2)
}

// Home runs the three-phase scan on one axis:
//  1. step clockwise until the endstop triggers;
//  2. keep stepping clockwise, counting, until it releases;
//  3. step counter-clockwise half the counted width.
//
// On success the axis sits on the middle of the endstop feature and the
// caller may declare it zero.
func Home(ctx context.Context, name string, axis Axis, p Params) (Result, error) {
	maxSteps := p.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	pause := p.Pause
	if pause == nil {
		pause = time.Sleep
	}

	var res Result
	step := func(dir stepper.Direction) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := axis.HardStep(dir); err != nil {
			return fmt.Errorf("homing %s: %w", name, err)
		}
		pause(p.StepDelay)
		return nil
	}

	debug.Verbose("Homing %s: searching for endstop", name)
	for {
		triggered, err := axis.EndstopTriggered()
		if err != nil {
			return res, fmt.Errorf("homing %s: %w", name, err)
		}
		if triggered {
			break
		}
		if res.SearchSteps >= maxSteps {
			return res, fmt.Errorf("%w: %s did not trigger within %d steps", ErrEndstopFault, name, maxSteps)
		}
		if err := step(stepper.Clockwise); err != nil {
			return res, err
		}
		res.SearchSteps++
	}

	debug.Verbose("Homing %s: endstop found after %d steps, measuring width", name, res.SearchSteps)
	for {
		triggered, err := axis.EndstopTriggered()
		if err != nil {
			return res, fmt.Errorf("homing %s: %w", name, err)
		}
		if !triggered {
			break
		}
		if res.Width >= maxSteps {
			return res, fmt.Errorf("%w: %s did not release within %d steps", ErrEndstopFault, name, maxSteps)
		}
		if err := step(stepper.Clockwise); err != nil {
			return res, err
		}
		res.Width++
	}

	for res.Centered < res.Width/2 {
		if err := step(stepper.CounterClockwise); err != nil {
			return res, err
		}
		res.Centered++
	}

	debug.Homed(name, res.Width, res.Centered)
	return res, nil
}
