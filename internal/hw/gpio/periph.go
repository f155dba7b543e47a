package gpio

import (
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/multierr"
	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/cjeanneret/PanTilt/internal/debug"
)

// PeriphDriver drives pins through the periph.io registry, which covers
// Raspberry Pi, Allwinner and generic sysfs boards.
type PeriphDriver struct {
	mu     sync.Mutex
	lookup func(name string) pgpio.PinIO
	pins   map[int]pgpio.PinIO
}

// NewPeriphDriver initializes the periph host drivers and returns a Driver
// resolving pin numbers through gpioreg.
func NewPeriphDriver() (*PeriphDriver, error) {
	debug.Info("Initializing periph.io GPIO driver")
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	return newPeriphDriver(gpioreg.ByName), nil
}

func newPeriphDriver(lookup func(name string) pgpio.PinIO) *PeriphDriver {
	return &PeriphDriver{
		lookup: lookup,
		pins:   make(map[int]pgpio.PinIO),
	}
}

func (d *PeriphDriver) pin(pin int) (pgpio.PinIO, error) {
	if p, ok := d.pins[pin]; ok {
		return p, nil
	}
	p := d.lookup(strconv.Itoa(pin))
	if p == nil {
		return nil, fmt.Errorf("periph: no GPIO %d", pin)
	}
	d.pins[pin] = p
	return p, nil
}

func (d *PeriphDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.pin(pin)
	if err != nil {
		return err
	}
	switch mode {
	case Input:
		return p.In(pgpio.Float, pgpio.NoEdge)
	case InputPullUp:
		return p.In(pgpio.PullUp, pgpio.NoEdge)
	case Output:
		return p.Out(pgpio.Low)
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}
}

func (d *PeriphDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.pin(pin)
	if err != nil {
		return err
	}
	return p.Out(pgpio.Level(level))
}

func (d *PeriphDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.pin(pin)
	if err != nil {
		return Low, err
	}
	return Level(p.Read()), nil
}

func (d *PeriphDriver) Close() error {
	debug.Trace("GPIO Close (periph)")
	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	for pin, p := range d.pins {
		if herr := p.Halt(); herr != nil {
			err = multierr.Append(err, fmt.Errorf("halt pin %d: %w", pin, herr))
		}
	}
	d.pins = make(map[int]pgpio.PinIO)
	return err
}
