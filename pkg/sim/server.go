// TCP front end for the simulated instrument
//
// Speaks the same newline-delimited SCPI framing as the real
// instrument's socket port, so the host connects to it with an
// unmodified tcp: resource.
//
// Copyright (C) 2026  Scopectl Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package sim

import (
	"bufio"
	"net"
	"sync"

	"scopectl/pkg/log"
)

// Server serves one simulated device to any number of TCP connections.
type Server struct {
	dev    *Device
	ln     net.Listener
	logger *log.Logger

	mu     sync.Mutex
	closed bool
}

// NewServer starts listening on addr (e.g. "127.0.0.1:5555", or
// "127.0.0.1:0" to pick a free port). Call Serve to accept connections.
func NewServer(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		dev:    NewDevice(),
		ln:     ln,
		logger: log.GetLogger("sim"),
	}, nil
}

// Device returns the simulated device behind the server, for tests
// that want to inspect or perturb its state directly.
func (s *Server) Device() *Device { return s.dev }

// Addr returns the bound listen address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve accepts connections until Close. Each connection is handled on
// its own goroutine; all share the one device state.
func (s *Server) Serve() error {
	s.logger.Info("simulated instrument listening on %s", s.Addr())
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// Close stops the listener. Established connections drain on their own.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.ln.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	s.logger.Debug("connection from %s", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		reply, ok := s.dev.Handle(line)
		s.logger.Debug("<- %q", line)
		if !ok {
			continue
		}
		s.logger.Debug("-> %q", reply)
		if _, err := conn.Write([]byte(reply + "\n")); err != nil {
			s.logger.WithError(err).Warn("write to %s failed", conn.RemoteAddr())
			return
		}
	}
	s.logger.Debug("connection from %s closed", conn.RemoteAddr())
}
