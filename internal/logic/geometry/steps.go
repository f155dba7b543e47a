package geometry

import (
	"math"
	"time"
)

// MaxSteps bounds any step count or position, so the difference of two
// positions always fits in an int64.
const MaxSteps = 1 << 62

// InRange reports whether steps lies within ±MaxSteps.
func InRange(steps int64) bool {
	return steps >= -MaxSteps && steps <= MaxSteps
}

// AxisScale describes the drive train of one axis.
type AxisScale struct {
	StepsPerRev   int
	Microstepping int
	GearRatio     float64 // motor turns per axis turn. 0 means direct drive.
}

// StepsPerDegree returns how many microsteps rotate the axis by one degree.
func (a AxisScale) StepsPerDegree() float64 {
	gear := a.GearRatio
	if gear <= 0 {
		gear = 1
	}
	micro := a.Microstepping
	if micro <= 0 {
		micro = 1
	}
	return float64(a.StepsPerRev*micro) * gear / 360.0
}

// DegreesPerStep returns the axis rotation of one microstep.
func (a AxisScale) DegreesPerStep() float64 {
	return 1 / a.StepsPerDegree()
}

// StepsFromAngle converts an angle (in degrees) to the nearest whole step count.
func (a AxisScale) StepsFromAngle(angleDegrees float64) int64 {
	return int64(math.Round(angleDegrees * a.StepsPerDegree()))
}

// StepsInRange is StepsFromAngle for untrusted input: it reports false when
// the angle is not finite or lands beyond ±MaxSteps.
func (a AxisScale) StepsInRange(angleDegrees float64) (int64, bool) {
	v := math.Round(angleDegrees * a.StepsPerDegree())
	if math.IsNaN(v) || math.Abs(v) > MaxSteps {
		return 0, false
	}
	return int64(v), true
}

// AngleFromSteps converts a step count back to degrees.
func (a AxisScale) AngleFromSteps(steps int64) float64 {
	return float64(steps) * a.DegreesPerStep()
}

// StepDelayMicros returns the pause between steps, in whole microseconds,
// for a speed in degrees per second: 1e6 / (speed / degreesPerStep).
func StepDelayMicros(speedDPS, degreesPerStep float64) int64 {
	if speedDPS <= 0 || degreesPerStep <= 0 {
		return 0
	}
	feedrate := speedDPS / degreesPerStep // steps per second
	return int64(1e6 / feedrate)
}

// StepDelay is StepDelayMicros as a time.Duration.
func StepDelay(speedDPS, degreesPerStep float64) time.Duration {
	return time.Duration(StepDelayMicros(speedDPS, degreesPerStep)) * time.Microsecond
}
