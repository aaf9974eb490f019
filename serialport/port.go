// Package serialport is the serial transport seam for go-hwrig.
//
// It narrows the underlying serial library to the operations the rig core
// needs (read, write, close, read timeout), so the relay session and the
// capture workers can be driven by in-memory fakes in tests. Device
// discovery is deliberately not provided here.
package serialport

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Port is the narrow serial-port contract consumed by the rig core.
//
// go.bug.st/serial ports satisfy it directly; tests substitute in-memory
// implementations.
type Port interface {
	io.ReadWriteCloser

	// SetReadTimeout bounds how long a single Read may block. A timed-out
	// Read returns n == 0 with a nil error.
	SetReadTimeout(t time.Duration) error
}

// Mode describes how a port is opened. Data bits, parity and stop bits are
// fixed at 8N1; every device on the rig speaks it.
type Mode struct {
	BaudRate    int
	ReadTimeout time.Duration
}

// Opener opens a named serial port. The default is Open; tests install
// fakes through the With*Opener options of the consuming packages.
type Opener func(name string, mode Mode) (Port, error)

// Open opens the named port at 8N1 with the given baud rate and read
// timeout.
func Open(name string, mode Mode) (Port, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: mode.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", name, err)
	}

	if mode.ReadTimeout > 0 {
		if err := port.SetReadTimeout(mode.ReadTimeout); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("serialport: set read timeout on %s: %w", name, err)
		}
	}

	return port, nil
}
