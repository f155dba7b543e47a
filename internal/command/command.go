// Package command holds the bounded FIFO of text commands that bridges the
// host links to the motion dispatcher.
package command

import "errors"

const (
	// MaxCommandLength bounds one command, terminator slot included:
	// a command stores at most MaxCommandLength-1 bytes.
	MaxCommandLength = 64
	// DefaultBufferSize is the number of commands a Channel holds by default.
	DefaultBufferSize = 16
)

// Command is a bounded, owned byte sequence with an explicit length.
// Text longer than MaxCommandLength-1 bytes is truncated on Set.
type Command struct {
	data [MaxCommandLength - 1]byte
	n    int
}

// New returns a Command holding text, truncated if necessary.
func New(text string) Command {
	var c Command
	c.Set([]byte(text))
	return c
}

// Set replaces the content with b, truncated to the capacity.
func (c *Command) Set(b []byte) {
	c.n = copy(c.data[:], b)
}

// Reset empties the command.
func (c *Command) Reset() {
	c.n = 0
}

// Len returns the number of bytes stored.
func (c *Command) Len() int {
	return c.n
}

// Bytes returns the stored bytes. The slice aliases the command.
func (c *Command) Bytes() []byte {
	return c.data[:c.n]
}

func (c Command) String() string {
	return string(c.data[:c.n])
}

// Status is the result code of a Channel operation.
type Status int

const (
	Success Status = iota
	Full
	Empty
	NullInput
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Full:
		return "full"
	case Empty:
		return "empty"
	case NullInput:
		return "null input"
	default:
		return "unknown"
	}
}

var (
	ErrFull      = errors.New("command: buffer full")
	ErrEmpty     = errors.New("command: buffer empty")
	ErrNullInput = errors.New("command: null input")
)

// Err maps the status to a sentinel error, nil for Success.
func (s Status) Err() error {
	switch s {
	case Success:
		return nil
	case Full:
		return ErrFull
	case Empty:
		return ErrEmpty
	case NullInput:
		return ErrNullInput
	default:
		return errors.New("command: unknown status")
	}
}
