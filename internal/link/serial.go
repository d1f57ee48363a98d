// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// DefaultBaud matches the node's Bluetooth serial module.
const DefaultBaud = 9600

// SerialStream wraps a serial port such as /dev/rfcomm1
type SerialStream struct {
	port    serial.Port
	timeout time.Duration
	buf     [1]byte
}

// ReadByte sets the port read timeout and reads a single byte. The serial
// driver reports an expired timeout as a zero-length read.
func (s *SerialStream) ReadByte(timeout time.Duration) (byte, error) {
	if timeout != s.timeout {
		if err := s.port.SetReadTimeout(timeout); err != nil {
			return 0, fmt.Errorf("set read timeout: %w", err)
		}
		s.timeout = timeout
	}

	n, err := s.port.Read(s.buf[:])
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	return s.buf[0], nil
}

func (s *SerialStream) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialStream) Close() error {
	return s.port.Close()
}

// OpenSerial opens a serial port in 8N1 mode
func OpenSerial(portName string, baudRate int) (*SerialStream, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaud
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &SerialStream{port: port, timeout: serial.NoTimeout}, nil
}
