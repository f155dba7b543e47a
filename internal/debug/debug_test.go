package debug

import (
	"bytes"
	"strings"
	"testing"
)

func capture(t *testing.T, lvl int) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	Init(lvl)
	t.Cleanup(func() {
		Init(LevelOff)
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, LevelLive)

	Info("info %d", 1)
	Live("live %d", 2)
	Verbose("verbose %d", 3)
	GPIO("WritePin", 17, true)

	got := buf.String()
	if !strings.Contains(got, "[INFO] info 1") {
		t.Errorf("missing info line in %q", got)
	}
	if !strings.Contains(got, "[LIVE] live 2") {
		t.Errorf("missing live line in %q", got)
	}
	if strings.Contains(got, "verbose 3") {
		t.Errorf("verbose line should be filtered at level %d: %q", LevelLive, got)
	}
	if strings.Contains(got, "[GPIO]") {
		t.Errorf("gpio trace should be filtered at level %d: %q", LevelLive, got)
	}
}

func TestOffPrintsNothing(t *testing.T) {
	buf := capture(t, LevelOff)

	Info("hidden")
	Error(nil)
	Homed("pan", 10, 5)

	if buf.Len() != 0 {
		t.Errorf("expected no output at level 0, got %q", buf.String())
	}
}

func TestMoveFormat(t *testing.T) {
	buf := capture(t, LevelLive)

	Move("tilt", 42, "ccw")

	if !strings.Contains(buf.String(), "Axis tilt: 42 steps (ccw)") {
		t.Errorf("unexpected move line %q", buf.String())
	}
}

func TestFmtDisabled(t *testing.T) {
	capture(t, LevelOff)
	if s := Fmt("x=%d", 1); s != "" {
		t.Errorf("Fmt with debug off = %q, want empty", s)
	}
}
