package stepper

import (
	"errors"
	"strings"
	"testing"

	"github.com/cjeanneret/PanTilt/internal/hw/gpio"
)

// recordingDriver records GPIO calls for verification.
type recordingDriver struct {
	calls   []gpioCall
	inputs  map[int]gpio.Level
	failPin int
}

type gpioCall struct {
	op    string // "setup", "write"
	pin   int
	level gpio.Level
	mode  gpio.PinMode
}

func (d *recordingDriver) SetupPin(pin int, mode gpio.PinMode) error {
	d.calls = append(d.calls, gpioCall{op: "setup", pin: pin, mode: mode})
	return nil
}

func (d *recordingDriver) WritePin(pin int, level gpio.Level) error {
	if d.failPin != 0 && pin == d.failPin {
		return errors.New("write failed")
	}
	d.calls = append(d.calls, gpioCall{op: "write", pin: pin, level: level})
	return nil
}

func (d *recordingDriver) ReadPin(pin int) (gpio.Level, error) {
	if d.failPin != 0 && pin == d.failPin {
		return gpio.Low, errors.New("read failed")
	}
	if l, ok := d.inputs[pin]; ok {
		return l, nil
	}
	return gpio.High, nil
}

func (d *recordingDriver) Close() error {
	return nil
}

func (d *recordingDriver) writeCalls() []gpioCall {
	var result []gpioCall
	for _, c := range d.calls {
		if c.op == "write" {
			result = append(result, c)
		}
	}
	return result
}

func (d *recordingDriver) writeCallsForPin(pin int) []gpioCall {
	var result []gpioCall
	for _, c := range d.calls {
		if c.op == "write" && c.pin == pin {
			result = append(result, c)
		}
	}
	return result
}

func testConfig() Config {
	return Config{
		Name:          "pan",
		StepPin:       17,
		DirPin:        27,
		EnablePin:     5,
		EnabledLevel:  gpio.Low,
		EndstopPin:    26,
		EndstopPullUp: true,
	}
}

func TestStepper_InitDisabledWithPullUp(t *testing.T) {
	drv := &recordingDriver{}
	NewStepper(drv, testConfig())

	var endstopMode gpio.PinMode = -1
	for _, c := range drv.calls {
		if c.op == "setup" && c.pin == 26 {
			endstopMode = c.mode
		}
	}
	if endstopMode != gpio.InputPullUp {
		t.Errorf("endstop mode = %v, want %v", endstopMode, gpio.InputPullUp)
	}

	enable := drv.writeCallsForPin(5)
	if len(enable) != 1 || enable[0].level != gpio.High {
		t.Errorf("motor should start disabled (enable pin HIGH), got %v", enable)
	}
}

func TestStepper_HardStepPattern(t *testing.T) {
	drv := &recordingDriver{}
	s := NewStepper(drv, testConfig())
	drv.calls = nil

	if err := s.HardStep(Clockwise); err != nil {
		t.Fatalf("HardStep: %v", err)
	}

	writes := drv.writeCalls()
	if len(writes) != 3 {
		t.Fatalf("expected 3 writes (dir, step high, step low), got %v", writes)
	}
	if writes[0].pin != 27 || writes[0].level != gpio.High {
		t.Errorf("first write should set dir HIGH for clockwise, got pin=%d level=%v", writes[0].pin, writes[0].level)
	}
	if writes[1].pin != 17 || writes[1].level != gpio.High {
		t.Errorf("second write should raise step, got %+v", writes[1])
	}
	if writes[2].pin != 17 || writes[2].level != gpio.Low {
		t.Errorf("third write should lower step, got %+v", writes[2])
	}
}

func TestStepper_InvertDir(t *testing.T) {
	drv := &recordingDriver{}
	cfg := testConfig()
	cfg.InvertDir = true
	s := NewStepper(drv, cfg)
	drv.calls = nil

	_ = s.HardStep(Clockwise)
	dir := drv.writeCallsForPin(27)
	if len(dir) != 1 || dir[0].level != gpio.Low {
		t.Errorf("inverted clockwise should write dir LOW, got %v", dir)
	}
}

func TestStepper_HardStepIgnoresEndstop(t *testing.T) {
	drv := &recordingDriver{inputs: map[int]gpio.Level{26: gpio.Low}}
	s := NewStepper(drv, testConfig())
	drv.calls = nil

	if err := s.HardStep(CounterClockwise); err != nil {
		t.Fatalf("HardStep: %v", err)
	}
	if n := len(drv.writeCallsForPin(17)); n != 2 {
		t.Errorf("hard step should pulse even on a triggered endstop, got %d step writes", n)
	}
}

func TestStepper_StepBlockedByEndstop(t *testing.T) {
	drv := &recordingDriver{inputs: map[int]gpio.Level{26: gpio.Low}}
	s := NewStepper(drv, testConfig())
	drv.calls = nil

	took, err := s.Step(Clockwise)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if took {
		t.Error("Step should refuse to move while endstop is triggered")
	}
	if len(drv.writeCalls()) != 0 {
		t.Errorf("refused step should not write GPIO, got %v", drv.writeCalls())
	}
}

func TestStepper_StepWhenClear(t *testing.T) {
	drv := &recordingDriver{}
	s := NewStepper(drv, testConfig())
	drv.calls = nil

	took, err := s.Step(Clockwise)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !took {
		t.Error("Step should move when endstop is clear")
	}
	if n := len(drv.writeCallsForPin(17)); n != 2 {
		t.Errorf("expected one pulse (2 writes), got %d", n)
	}
}

func TestStepper_EndstopPolarity(t *testing.T) {
	cases := []struct {
		name       string
		activeHigh bool
		level      gpio.Level
		want       bool
	}{
		{"active_low_low", false, gpio.Low, true},
		{"active_low_high", false, gpio.High, false},
		{"active_high_high", true, gpio.High, true},
		{"active_high_low", true, gpio.Low, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			drv := &recordingDriver{inputs: map[int]gpio.Level{26: tc.level}}
			cfg := testConfig()
			cfg.EndstopActiveHigh = tc.activeHigh
			s := NewStepper(drv, cfg)

			got, err := s.EndstopTriggered()
			if err != nil {
				t.Fatalf("EndstopTriggered: %v", err)
			}
			if got != tc.want {
				t.Errorf("EndstopTriggered = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestStepper_NoEndstop(t *testing.T) {
	drv := &recordingDriver{}
	cfg := testConfig()
	cfg.EndstopPin = 0
	s := NewStepper(drv, cfg)

	if s.HasEndstop() {
		t.Error("HasEndstop should be false without pin")
	}
	if trig, _ := s.EndstopTriggered(); trig {
		t.Error("missing endstop should never report triggered")
	}
}

func TestStepper_EndstopReadError(t *testing.T) {
	drv := &recordingDriver{failPin: 26}
	s := NewStepper(drv, testConfig())

	if _, err := s.Step(Clockwise); err == nil {
		t.Error("expected read error to propagate from Step")
	}
}

func TestStepper_EnableDisable(t *testing.T) {
	drv := &recordingDriver{}
	s := NewStepper(drv, testConfig())
	drv.calls = nil

	if err := s.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	enableCalls := drv.writeCallsForPin(5)
	if len(enableCalls) != 1 || enableCalls[0].level != gpio.Low {
		t.Errorf("Enable should write LOW to enable pin, got %v", enableCalls)
	}

	drv.calls = nil
	if err := s.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	disableCalls := drv.writeCallsForPin(5)
	if len(disableCalls) != 1 || disableCalls[0].level != gpio.High {
		t.Errorf("Disable should write HIGH to enable pin, got %v", disableCalls)
	}
}

func TestStepper_EnabledLevelHigh(t *testing.T) {
	drv := &recordingDriver{}
	cfg := testConfig()
	cfg.EnabledLevel = gpio.High
	s := NewStepper(drv, cfg)
	drv.calls = nil

	_ = s.Enable()
	calls := drv.writeCallsForPin(5)
	if len(calls) != 1 || calls[0].level != gpio.High {
		t.Errorf("Enable with active-high driver should write HIGH, got %v", calls)
	}
}

func TestStepper_EnableDisable_NoEnablePin(t *testing.T) {
	drv := &recordingDriver{}
	cfg := testConfig()
	cfg.EnablePin = 0
	s := NewStepper(drv, cfg)
	drv.calls = nil

	if err := s.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := s.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	if len(drv.calls) != 0 {
		t.Errorf("with EnablePin=0, Enable/Disable should produce no GPIO calls, got %d", len(drv.calls))
	}
}

func TestSet_EnableAllAggregatesErrors(t *testing.T) {
	good := &recordingDriver{}
	bad := &recordingDriver{}
	panCfg := testConfig()
	tiltCfg := testConfig()
	tiltCfg.Name = "tilt"
	var set Set
	set.Add("pan", NewStepper(good, panCfg))
	set.Add("tilt", NewStepper(bad, tiltCfg))
	bad.failPin = 5
	good.calls = nil

	err := set.EnableAll()
	if err == nil {
		t.Fatal("expected error from failing tilt enable")
	}
	if !strings.Contains(err.Error(), "enable tilt") {
		t.Errorf("error should name the failing axis, got %v", err)
	}
	if calls := good.writeCallsForPin(5); len(calls) != 1 {
		t.Errorf("pan should still be enabled despite tilt failure, got %v", calls)
	}
}

func TestSet_DisableAllAggregatesErrors(t *testing.T) {
	bad := &recordingDriver{}
	good := &recordingDriver{}
	var set Set
	set.Add("pan", NewStepper(bad, testConfig()))
	set.Add("tilt", NewStepper(good, testConfig()))
	bad.failPin = 5
	good.calls = nil

	err := set.DisableAll()
	if err == nil || !strings.Contains(err.Error(), "disable pan") {
		t.Fatalf("DisableAll = %v, want error naming pan", err)
	}
	if calls := good.writeCallsForPin(5); len(calls) != 1 {
		t.Errorf("tilt should still be disabled despite pan failure, got %v", calls)
	}
}

func TestDirection_Opposite(t *testing.T) {
	if Clockwise.Opposite() != CounterClockwise || CounterClockwise.Opposite() != Clockwise {
		t.Error("Opposite should swap directions")
	}
	if Clockwise.String() != "cw" || CounterClockwise.String() != "ccw" {
		t.Errorf("unexpected String(): %s %s", Clockwise, CounterClockwise)
	}
}
