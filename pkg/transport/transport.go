// Package transport owns the connection to one oscilloscope and carries
// SCPI commands and queries over it.
//
// The instrument channel is half-duplex: one write is paired with at
// most one expected read. Every Transport implementation serializes
// request/response pairs behind a mutex so two requests are never in
// flight at once. All operations are synchronous and block until the
// underlying I/O completes or the read timeout elapses; a timeout is a
// transport failure and is never retried automatically.
//
// Copyright (C) 2026  Scopectl Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package transport

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"time"

	"scopectl/pkg/errors"
	"scopectl/pkg/log"
)

// Transport is the connection to one instrument.
type Transport interface {
	// Connect opens the connection. Connecting twice is an error.
	Connect() error

	// Disconnect closes the connection. Safe to call when disconnected.
	Disconnect() error

	// Connected reports the connection state.
	Connected() bool

	// Resource returns the resource identifier, e.g. "usbtmc:/dev/usbtmc0".
	Resource() string

	// Send writes a command with no expected response.
	Send(cmd string) error

	// Query writes a command and returns the text response.
	Query(cmd string) (string, error)

	// QueryBinary writes a command and returns up to maxBytes of raw
	// response bytes.
	QueryBinary(cmd string, maxBytes int) ([]byte, error)
}

// Config holds transport configuration shared by all backends.
type Config struct {
	// Read timeout for individual responses (default: 2 seconds)
	ReadTimeout time.Duration

	// Connection timeout (default: 5 seconds)
	ConnectTimeout time.Duration

	// Baud rate for serial resources (default: 115200)
	BaudRate int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:    2 * time.Second,
		ConnectTimeout: 5 * time.Second,
		BaudRate:       115200,
	}
}

func (c *Config) fillDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 2 * time.Second
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.BaudRate == 0 {
		c.BaudRate = 115200
	}
}

// Open creates a Transport for a resource identifier of the form
// "scheme:target":
//
//	usbtmc:/dev/usbtmc0      USBTMC kernel character device
//	serial:/dev/ttyUSB0      USB CDC-ACM serial port
//	usb:                     raw USB bulk endpoints (first known scope)
//	usb:1ab1:04ce            raw USB bulk endpoints by VID:PID
//	tcp:192.168.1.20:5555    raw socket SCPI
//
// The transport is returned disconnected; call Connect on it.
func Open(resource string, cfg Config) (Transport, error) {
	cfg.fillDefaults()

	scheme, target, ok := strings.Cut(resource, ":")
	if !ok {
		return nil, fmt.Errorf("transport: malformed resource %q (want scheme:target)", resource)
	}
	switch scheme {
	case "usbtmc":
		return NewUSBTMC(target, cfg), nil
	case "serial":
		return NewSerial(target, cfg), nil
	case "usb":
		return NewUSB(target, cfg)
	case "tcp":
		return NewTCP(target, cfg), nil
	}
	return nil, fmt.Errorf("transport: unknown resource scheme %q", scheme)
}

// conn is the raw byte channel a backend provides once connected.
type conn interface {
	// write sends the full buffer.
	write(p []byte) error

	// read returns the next chunk of response bytes, blocking up to the
	// backend's read timeout.
	read(max int) ([]byte, error)

	// close tears the channel down.
	close() error
}

// framed marks backends whose read returns one complete response per
// call (USBTMC, raw USB). Stream backends (serial, tcp) accumulate bytes
// until a line terminator instead.
type framed interface {
	framed() bool
}

// session implements the Transport contract on top of a backend conn.
// It owns the serialization mutex, the connection state, and the log
// events for state changes and I/O failures.
type session struct {
	mu       sync.Mutex
	resource string
	dial     func() (conn, error)
	c        conn
	logger   *log.Logger
}

func newSession(resource string, dial func() (conn, error)) *session {
	return &session{
		resource: resource,
		dial:     dial,
		logger:   log.GetLogger("transport"),
	}
}

func (s *session) Resource() string {
	return s.resource
}

func (s *session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

func (s *session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.c != nil {
		return errors.ConnError(s.resource, "already connected")
	}
	c, err := s.dial()
	if err != nil {
		s.logger.WithError(err).Error("connect %s failed", s.resource)
		return errors.Wrap(err, errors.ErrTransportConn, "connect "+s.resource)
	}
	s.c = c
	s.logger.Info("connected to %s", s.resource)
	return nil
}

func (s *session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.c == nil {
		return nil
	}
	err := s.c.close()
	s.c = nil
	s.logger.Info("disconnected from %s", s.resource)
	if err != nil {
		return errors.Wrap(err, errors.ErrTransportConn, "disconnect "+s.resource)
	}
	return nil
}

func (s *session) Send(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.c == nil {
		return errors.ConnError(s.resource, "not connected")
	}
	s.logger.Debug("-> %s", cmd)
	if err := s.c.write([]byte(cmd + "\n")); err != nil {
		s.logger.WithError(err).Error("write failed: %s", cmd)
		return errors.WriteError(cmd, err)
	}
	return nil
}

func (s *session) Query(cmd string) (string, error) {
	raw, err := s.queryRaw(cmd, maxResponse)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *session) QueryBinary(cmd string, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = maxResponse
	}
	return s.queryRaw(cmd, maxBytes)
}

// maxResponse bounds a single text response.
const maxResponse = 1 << 16

func (s *session) queryRaw(cmd string, max int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.c == nil {
		return nil, errors.ConnError(s.resource, "not connected")
	}
	s.logger.Debug("-> %s", cmd)
	if err := s.c.write([]byte(cmd + "\n")); err != nil {
		s.logger.WithError(err).Error("write failed: %s", cmd)
		return nil, errors.WriteError(cmd, err)
	}

	resp, err := s.readResponse(max)
	if err != nil {
		s.logger.WithError(err).Error("read failed: %s", cmd)
		if errors.Is(err, errors.ErrTransportTimeout) {
			return nil, errors.TimeoutError(cmd)
		}
		return nil, errors.Wrap(err, errors.ErrTransportWrite, "read response to "+cmd)
	}
	s.logger.Debug("<- %s", strings.TrimRight(string(resp), "\r\n"))
	return resp, nil
}

func (s *session) readResponse(max int) ([]byte, error) {
	if f, ok := s.c.(framed); ok && f.framed() {
		return s.c.read(max)
	}

	// Stream backend: accumulate until a line terminator or max bytes.
	var buf bytes.Buffer
	for buf.Len() < max {
		chunk, err := s.c.read(max - buf.Len())
		if err != nil {
			return nil, err
		}
		buf.Write(chunk)
		if bytes.IndexByte(chunk, '\n') >= 0 {
			break
		}
	}
	return buf.Bytes(), nil
}
