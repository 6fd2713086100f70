// Raw-socket SCPI backend
//
// Bench scopes expose newline-terminated SCPI on TCP port 5555; the
// mock-scope simulator speaks the same dialect. Read deadlines provide
// the transport timeout.
//
// Copyright (C) 2026  Scopectl Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package transport

import (
	"fmt"
	"net"
	"time"

	"scopectl/pkg/errors"
)

// NewTCP creates a transport over a raw SCPI socket ("host:port").
func NewTCP(address string, cfg Config) Transport {
	return newSession("tcp:"+address, func() (conn, error) {
		return dialTCP(address, cfg)
	})
}

type tcpConn struct {
	nc      net.Conn
	timeout time.Duration
}

func dialTCP(address string, cfg Config) (conn, error) {
	nc, err := net.DialTimeout("tcp", address, cfg.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("tcp: dial %s: %w", address, err)
	}
	return &tcpConn{nc: nc, timeout: cfg.ReadTimeout}, nil
}

func (c *tcpConn) write(p []byte) error {
	if _, err := c.nc.Write(p); err != nil {
		return fmt.Errorf("tcp: write: %w", err)
	}
	return nil
}

func (c *tcpConn) read(max int) ([]byte, error) {
	if err := c.nc.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("tcp: set deadline: %w", err)
	}
	buf := make([]byte, max)
	n, err := c.nc.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, errors.New(errors.ErrTransportTimeout, "tcp read timed out")
		}
		return nil, fmt.Errorf("tcp: read: %w", err)
	}
	return buf[:n], nil
}

func (c *tcpConn) close() error {
	return c.nc.Close()
}
