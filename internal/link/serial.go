package link

import (
	"fmt"

	"go.bug.st/serial"
)

// DefaultBaudRate matches the firmware console speed.
const DefaultBaudRate = 115200

// OpenSerial opens a host serial port in 8N1 mode.
func OpenSerial(name string, baud int) (serial.Port, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		if ports, lerr := serial.GetPortsList(); lerr == nil && len(ports) > 0 {
			return nil, fmt.Errorf("open serial %s: %w (available: %v)", name, err, ports)
		}
		return nil, fmt.Errorf("open serial %s: %w", name, err)
	}
	return port, nil
}
