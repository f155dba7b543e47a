package gpio

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/multierr"

	"github.com/cjeanneret/PanTilt/internal/debug"
)

const cdevConsumer = "pantilt"

// CdevDriver drives pins through the Linux GPIO character device.
// Pin numbers are line offsets on a single chip.
type CdevDriver struct {
	mu    sync.Mutex
	chip  string
	lines map[int]*cdevLine
}

type cdevLine struct {
	line *gpiocdev.Line
	mode PinMode
}

// NewCdevDriver returns a driver for the named chip ("gpiochip0" when empty).
func NewCdevDriver(chip string) (*CdevDriver, error) {
	if chip == "" {
		chip = "gpiochip0"
	}
	debug.Info("Initializing gpiocdev GPIO driver on %s", chip)
	return &CdevDriver{
		chip:  chip,
		lines: make(map[int]*cdevLine),
	}, nil
}

func (c *CdevDriver) request(pin int, mode PinMode) (*cdevLine, error) {
	if l, ok := c.lines[pin]; ok {
		if l.mode == mode {
			return l, nil
		}
		if err := l.line.Close(); err != nil {
			return nil, fmt.Errorf("release line %d: %w", pin, err)
		}
		delete(c.lines, pin)
	}

	var (
		line *gpiocdev.Line
		err  error
	)
	switch mode {
	case Input:
		line, err = gpiocdev.RequestLine(c.chip, pin, gpiocdev.WithConsumer(cdevConsumer), gpiocdev.AsInput)
	case InputPullUp:
		line, err = gpiocdev.RequestLine(c.chip, pin, gpiocdev.WithConsumer(cdevConsumer), gpiocdev.AsInput, gpiocdev.WithPullUp)
	case Output:
		line, err = gpiocdev.RequestLine(c.chip, pin, gpiocdev.WithConsumer(cdevConsumer), gpiocdev.AsOutput(0))
	default:
		return nil, fmt.Errorf("unknown pin mode: %d", mode)
	}
	if err != nil {
		return nil, fmt.Errorf("request line %s:%d: %w", c.chip, pin, err)
	}
	l := &cdevLine{line: line, mode: mode}
	c.lines[pin] = l
	return l, nil
}

func (c *CdevDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.request(pin, mode)
	return err
}

func (c *CdevDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lines[pin]
	if !ok || l.mode != Output {
		var err error
		if l, err = c.request(pin, Output); err != nil {
			return err
		}
	}
	v := 0
	if level == High {
		v = 1
	}
	return l.line.SetValue(v)
}

func (c *CdevDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lines[pin]
	if !ok {
		var err error
		if l, err = c.request(pin, Input); err != nil {
			return Low, err
		}
	}
	v, err := l.line.Value()
	if err != nil {
		return Low, err
	}
	return Level(v != 0), nil
}

func (c *CdevDriver) Close() error {
	debug.Trace("GPIO Close (gpiocdev)")
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	for pin, l := range c.lines {
		if cerr := l.line.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close line %d: %w", pin, cerr))
		}
	}
	c.lines = make(map[int]*cdevLine)
	return err
}
