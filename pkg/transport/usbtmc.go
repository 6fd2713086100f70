// USBTMC character-device backend
//
// Talks to the kernel usbtmc driver (/dev/usbtmcN). The driver frames
// transfers for us: one read returns one complete response, so no line
// accumulation is needed. Read timeouts are enforced with poll(2).
//
// Copyright (C) 2026  Scopectl Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package transport

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"scopectl/pkg/errors"
)

// NewUSBTMC creates a transport over a usbtmc character device.
func NewUSBTMC(device string, cfg Config) Transport {
	return newSession("usbtmc:"+device, func() (conn, error) {
		return dialUSBTMC(device, cfg)
	})
}

type usbtmcConn struct {
	fd        int
	device    string
	timeoutMs int
}

func dialUSBTMC(device string, cfg Config) (conn, error) {
	info, err := os.Stat(device)
	if err != nil {
		return nil, fmt.Errorf("usbtmc: stat %s: %w", device, err)
	}
	if info.Mode()&os.ModeCharDevice == 0 {
		return nil, fmt.Errorf("usbtmc: %s is not a character device", device)
	}

	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("usbtmc: open %s: %w", device, err)
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("usbtmc: set blocking: %w", err)
	}

	return &usbtmcConn{
		fd:        fd,
		device:    device,
		timeoutMs: int(cfg.ReadTimeout.Milliseconds()),
	}, nil
}

func (c *usbtmcConn) framed() bool { return true }

func (c *usbtmcConn) write(p []byte) error {
	n, err := unix.Write(c.fd, p)
	if err != nil {
		return fmt.Errorf("usbtmc: write: %w", err)
	}
	if n != len(p) {
		return fmt.Errorf("usbtmc: short write (%d of %d)", n, len(p))
	}
	return nil
}

func (c *usbtmcConn) read(max int) ([]byte, error) {
	pfd := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}

	n, err := unix.Poll(pfd, c.timeoutMs)
	if err != nil && err != unix.EINTR {
		return nil, fmt.Errorf("usbtmc: poll: %w", err)
	}
	if n == 0 {
		return nil, errors.New(errors.ErrTransportTimeout, "usbtmc read timed out")
	}
	if pfd[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return nil, io.EOF
	}

	buf := make([]byte, max)
	n, err = unix.Read(c.fd, buf)
	if err != nil {
		return nil, fmt.Errorf("usbtmc: read: %w", err)
	}
	return buf[:n], nil
}

func (c *usbtmcConn) close() error {
	return unix.Close(c.fd)
}
