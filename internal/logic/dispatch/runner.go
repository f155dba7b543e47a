package dispatch

import (
	"context"
	"time"

	"github.com/cjeanneret/PanTilt/internal/command"
	"github.com/cjeanneret/PanTilt/internal/debug"
)

// DefaultPoll is how often an idle runner looks at the channel when no
// completion wakes it.
const DefaultPoll = 20 * time.Millisecond

// Reporter receives the outcome of every executed command.
// *web.StatusBroadcaster satisfies it.
type Reporter interface {
	Broadcast(level, msg string)
}

// Runner is the foreground loop: it takes one command off the channel each
// time the machine is ready and executes it.
type Runner struct {
	ch       *command.Channel
	m        Machine
	reporter Reporter
	poll     time.Duration
	wake     chan struct{}
}

// NewRunner wires the runner to the machine's completion callback.
// reporter may be nil.
func NewRunner(ch *command.Channel, m Machine, reporter Reporter) *Runner {
	r := &Runner{
		ch:       ch,
		m:        m,
		reporter: reporter,
		poll:     DefaultPoll,
		wake:     make(chan struct{}, 1),
	}
	m.RegisterCompletionCallback(r.Wake)
	return r
}

// SetPoll changes the idle poll interval.
func (r *Runner) SetPoll(d time.Duration) {
	if d > 0 {
		r.poll = d
	}
}

// Wake nudges the loop without blocking. Producers may call it after Put.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run loops until ctx is cancelled. A command is only dequeued while the
// machine is ready, so a LINE never overlaps the move before it.
func (r *Runner) Run(ctx context.Context) error {
	debug.Verbose("Dispatcher started (poll %v)", r.poll)
	timer := time.NewTimer(r.poll)
	defer timer.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.m.Ready() {
			var cmd command.Command
			if r.ch.Get(&cmd) == command.Success {
				r.Execute(ctx, cmd.String())
				continue
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(r.poll)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.wake:
		case <-timer.C:
		}
	}
}

// Execute parses and runs one command text, reporting the outcome.
func (r *Runner) Execute(ctx context.Context, text string) error {
	debug.Command(text)
	req, err := Parse(text)
	if err == nil {
		err = req.Run(ctx, r.m)
	}
	if err != nil {
		debug.Info("Command %q rejected: %v", text, err)
		r.report("error", text+": "+err.Error())
		return err
	}
	r.report("info", text)
	return nil
}

func (r *Runner) report(level, msg string) {
	if r.reporter != nil {
		r.reporter.Broadcast(level, msg)
	}
}
