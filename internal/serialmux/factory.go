package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// RealSerialPortFactory opens hardware ports through go.bug.st/serial.
type RealSerialPortFactory struct{}

// NewRealSerialPortFactory returns a factory for hardware ports.
func NewRealSerialPortFactory() *RealSerialPortFactory {
	return &RealSerialPortFactory{}
}

// Open opens the port at path, applies the read timeout and discards any
// bytes the device sent before we were listening.
func (RealSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	return OpenPort(path, opts)
}

// OpenPort opens a hardware serial port configured from opts.
func OpenPort(path string, opts PortOptions) (serial.Port, error) {
	opts, err := opts.Normalise()
	if err != nil {
		return nil, err
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	if err := port.SetReadTimeout(opts.ReadTimeout()); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", path, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to reset input buffer on %s: %w", path, err)
	}
	return port, nil
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
