package serialmux

import (
	"go.bug.st/serial"
)

// OpenSerialMux opens path through factory and returns a mux over the port.
// Outbound frames are paced to the configured baud rate unless muxOpts
// override it.
func OpenSerialMux(factory SerialPortFactory, path string, opts PortOptions, muxOpts ...Option) (*SerialMux[SerialPorter], error) {
	mode, err := opts.Mode()
	if err != nil {
		return nil, err
	}
	port, err := factory.Open(path, mode)
	if err != nil {
		return nil, err
	}
	muxOpts = append([]Option{WithPacing(mode.BaudRate)}, muxOpts...)
	return NewSerialMux(port, muxOpts...), nil
}

// RealSerialPortFactory opens ports with go.bug.st/serial.
type RealSerialPortFactory struct{}

func NewRealSerialPortFactory() *RealSerialPortFactory {
	return &RealSerialPortFactory{}
}

// Open opens path with mode, or DefaultSerialPortMode when mode is nil.
func (f *RealSerialPortFactory) Open(path string, mode *SerialPortMode) (SerialPorter, error) {
	if mode == nil {
		mode = DefaultSerialPortMode()
	}
	port, err := serial.Open(path, mode.serialMode())
	if err != nil {
		return nil, err
	}
	return port, nil
}

func (m *SerialPortMode) serialMode() *serial.Mode {
	return &serial.Mode{
		BaudRate: m.BaudRate,
		DataBits: m.DataBits,
		Parity:   convertParity(m.Parity),
		StopBits: convertStopBits(m.StopBits),
	}
}

func convertParity(p Parity) serial.Parity {
	switch p {
	case OddParity:
		return serial.OddParity
	case EvenParity:
		return serial.EvenParity
	default:
		return serial.NoParity
	}
}

func convertStopBits(s StopBits) serial.StopBits {
	if s == TwoStopBits {
		return serial.TwoStopBits
	}
	return serial.OneStopBit
}
