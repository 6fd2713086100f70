// USB CDC-ACM serial backend
//
// Copyright (C) 2026  Scopectl Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package transport

import (
	"fmt"

	"go.bug.st/serial"

	"scopectl/pkg/errors"
)

// NewSerial creates a transport over a CDC-ACM serial port
// (e.g. /dev/ttyUSB0, /dev/ttyACM0).
func NewSerial(device string, cfg Config) Transport {
	return newSession("serial:"+device, func() (conn, error) {
		return dialSerial(device, cfg)
	})
}

type serialConn struct {
	port   serial.Port
	device string
}

func dialSerial(device string, cfg Config) (conn, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", device, err)
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial: set read timeout: %w", err)
	}
	// Drop anything a previous session left in the buffers.
	port.ResetInputBuffer()
	port.ResetOutputBuffer()

	return &serialConn{port: port, device: device}, nil
}

func (c *serialConn) write(p []byte) error {
	n, err := c.port.Write(p)
	if err != nil {
		return fmt.Errorf("serial: write: %w", err)
	}
	if n != len(p) {
		return fmt.Errorf("serial: short write (%d of %d)", n, len(p))
	}
	return nil
}

func (c *serialConn) read(max int) ([]byte, error) {
	buf := make([]byte, max)
	n, err := c.port.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("serial: read: %w", err)
	}
	if n == 0 {
		// go.bug.st/serial reports a timeout as a zero-length read.
		return nil, errors.New(errors.ErrTransportTimeout, "serial read timed out")
	}
	return buf[:n], nil
}

func (c *serialConn) close() error {
	return c.port.Close()
}
