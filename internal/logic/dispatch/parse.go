// Package dispatch turns queued text commands into coordinator calls.
//
// Grammar (one command per line, fields separated by whitespace, verbs
// case-insensitive):
//
//	HOME
//	LINE <pan> <tilt>
//	MODE ABS|REL
//	SPEED <pan> <tilt>
//	POS <pan> <tilt>
//	ENABLE
//	DISABLE
//	JOG PAN|TILT <steps>
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cjeanneret/PanTilt/internal/command"
	"github.com/cjeanneret/PanTilt/internal/logic/motion"
)

var (
	// ErrUnknownCommand is returned for a verb missing from the table.
	ErrUnknownCommand = errors.New("dispatch: unknown command")
	// ErrSyntax is returned for a known verb with malformed arguments.
	ErrSyntax = errors.New("dispatch: syntax error")
	// ErrTooLong is returned for text that would not fit in one channel slot.
	ErrTooLong = errors.New("dispatch: command too long")
)

// Machine is the part of the motion coordinator commands drive.
type Machine interface {
	Line(target ...float64) error
	Home(ctx context.Context) error
	SetMode(m motion.Mode)
	SetSpeed(axis int, speed float64) (float64, error)
	SetPosition(pos ...float64) error
	EnableMotors() error
	DisableMotors() error
	Jog(ctx context.Context, axis int, steps int64) (int64, error)
	Ready() bool
	RegisterCompletionCallback(fn func())
}

// Request is a parsed command ready to run.
type Request struct {
	Command *Command
	Text    string
	Args    []float64
	Mode    motion.Mode
	Axis    int
	Steps   int64
}

// Run executes the request against m.
func (r Request) Run(ctx context.Context, m Machine) error {
	return r.Command.Run(ctx, m, r)
}

// Command is one entry of the command table.
type Command struct {
	Verb        string
	Parse       func(fields []string, req *Request) error
	Run         func(ctx context.Context, m Machine, req Request) error
	Description string
}

var (
	HomeCommand = &Command{
		Verb:  "HOME",
		Parse: noArgs,
		Run: func(ctx context.Context, m Machine, _ Request) error {
			return m.Home(ctx)
		},
		Description: "Home both axes on their endstops and set the position to 0 0.",
	}
	LineCommand = &Command{
		Verb:  "LINE",
		Parse: twoNumbers,
		Run: func(_ context.Context, m Machine, req Request) error {
			return m.Line(req.Args...)
		},
		Description: "Move both axes in a straight line. Input: pan and tilt in degrees.",
	}
	ModeCommand = &Command{
		Verb: "MODE",
		Parse: func(fields []string, req *Request) error {
			if len(fields) != 1 {
				return fmt.Errorf("%w: MODE takes ABS or REL", ErrSyntax)
			}
			switch strings.ToUpper(fields[0]) {
			case "ABS":
				req.Mode = motion.Absolute
			case "REL":
				req.Mode = motion.Relative
			default:
				return fmt.Errorf("%w: invalid mode %q", ErrSyntax, fields[0])
			}
			return nil
		},
		Run: func(_ context.Context, m Machine, req Request) error {
			m.SetMode(req.Mode)
			return nil
		},
		Description: "Select how LINE targets are read. Input: ABS or REL.",
	}
	SpeedCommand = &Command{
		Verb:  "SPEED",
		Parse: twoNumbers,
		Run: func(_ context.Context, m Machine, req Request) error {
			for axis, v := range req.Args {
				if _, err := m.SetSpeed(axis, v); err != nil {
					return err
				}
			}
			return nil
		},
		Description: "Set axis speeds, clamped to each axis range. Input: pan and tilt in deg/s.",
	}
	PosCommand = &Command{
		Verb:  "POS",
		Parse: twoNumbers,
		Run: func(_ context.Context, m Machine, req Request) error {
			return m.SetPosition(req.Args...)
		},
		Description: "Declare the current position without moving. Input: pan and tilt in degrees.",
	}
	EnableCommand = &Command{
		Verb:  "ENABLE",
		Parse: noArgs,
		Run: func(_ context.Context, m Machine, _ Request) error {
			return m.EnableMotors()
		},
		Description: "Power the motor drivers.",
	}
	DisableCommand = &Command{
		Verb:  "DISABLE",
		Parse: noArgs,
		Run: func(_ context.Context, m Machine, _ Request) error {
			return m.DisableMotors()
		},
		Description: "Release the motor drivers. Axes freewheel.",
	}
	JogCommand = &Command{
		Verb: "JOG",
		Parse: func(fields []string, req *Request) error {
			if len(fields) != 2 {
				return fmt.Errorf("%w: JOG takes an axis and a step count", ErrSyntax)
			}
			switch strings.ToUpper(fields[0]) {
			case "PAN":
				req.Axis = motion.Pan
			case "TILT":
				req.Axis = motion.Tilt
			default:
				return fmt.Errorf("%w: invalid axis %q", ErrSyntax, fields[0])
			}
			steps, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return fmt.Errorf("%w: invalid step count %q", ErrSyntax, fields[1])
			}
			req.Steps = steps
			return nil
		},
		Run: func(ctx context.Context, m Machine, req Request) error {
			_, err := m.Jog(ctx, req.Axis, req.Steps)
			return err
		},
		Description: "Step one axis, stopping at its endstop. Input: PAN or TILT, signed steps.",
	}
)

// Commands maps verbs to their table entry.
var Commands = map[string]*Command{}

func init() {
	for _, c := range []*Command{
		HomeCommand,
		LineCommand,
		ModeCommand,
		SpeedCommand,
		PosCommand,
		EnableCommand,
		DisableCommand,
		JogCommand,
	} {
		Commands[c.Verb] = c
	}
}

// Parse validates text and returns the request it names. Text longer than
// one channel slot is rejected, since the channel would truncate it.
func Parse(text string) (Request, error) {
	if len(text) > command.MaxCommandLength-1 {
		return Request{}, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLong, len(text), command.MaxCommandLength-1)
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Request{}, fmt.Errorf("%w: empty command", ErrSyntax)
	}
	verb := strings.ToUpper(fields[0])
	cmd, ok := Commands[verb]
	if !ok {
		return Request{}, fmt.Errorf("%w: %q", ErrUnknownCommand, fields[0])
	}
	req := Request{Command: cmd, Text: strings.TrimSpace(text)}
	if err := cmd.Parse(fields[1:], &req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Help lists the command table, one line per verb.
func Help() string {
	verbs := make([]string, 0, len(Commands))
	for v := range Commands {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)
	var b strings.Builder
	for _, v := range verbs {
		fmt.Fprintf(&b, "%-8s %s\n", v, Commands[v].Description)
	}
	return b.String()
}

func noArgs(fields []string, _ *Request) error {
	if len(fields) != 0 {
		return fmt.Errorf("%w: unexpected arguments %q", ErrSyntax, strings.Join(fields, " "))
	}
	return nil
}

func twoNumbers(fields []string, req *Request) error {
	if len(fields) != 2 {
		return fmt.Errorf("%w: want 2 numbers, got %d", ErrSyntax, len(fields))
	}
	req.Args = make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: invalid number %q", ErrSyntax, f)
		}
		req.Args[i] = v
	}
	return nil
}
