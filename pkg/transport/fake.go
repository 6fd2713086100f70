// Scripted fake transport
//
// Replays canned responses so the codec, mirrors, and orchestrator are
// testable without an instrument. Lives outside the _test files because
// other packages' tests use it too.
//
// Copyright (C) 2026  Scopectl Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package transport

import (
	"strings"
	"sync"

	"scopectl/pkg/errors"
)

// Fake is a Transport that replays canned responses and records every
// command it is sent.
type Fake struct {
	mu        sync.Mutex
	connected bool

	// Responses maps a query command to its canned response. Queries
	// with no entry fall back to DefaultResponse.
	Responses map[string]string

	// DefaultResponse answers queries with no Responses entry. If empty,
	// such queries time out.
	DefaultResponse string

	// FailQueries holds query commands that fail with a timeout.
	FailQueries map[string]bool

	// FailSends holds commands (including formatted writes) that fail
	// with a write error.
	FailSends map[string]bool

	// FailAll makes every Send and Query fail with a timeout.
	FailAll bool

	// Sent records every command passed to Send, in order.
	Sent []string

	// Queried records every command passed to Query, in order.
	Queried []string
}

// NewFake creates a connected fake transport with the given canned
// responses.
func NewFake(responses map[string]string) *Fake {
	return &Fake{
		connected: true,
		Responses: responses,
	}
}

func (f *Fake) Resource() string { return "fake:" }

func (f *Fake) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		return errors.ConnError("fake:", "already connected")
	}
	f.connected = true
	return nil
}

func (f *Fake) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *Fake) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Fake) Send(cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return errors.ConnError("fake:", "not connected")
	}
	if f.FailAll || f.FailSends[cmd] {
		return errors.WriteError(cmd, errors.New(errors.ErrTransportWrite, "scripted failure"))
	}
	f.Sent = append(f.Sent, cmd)
	return nil
}

func (f *Fake) Query(cmd string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return "", errors.ConnError("fake:", "not connected")
	}
	f.Queried = append(f.Queried, cmd)
	if f.FailAll || f.FailQueries[cmd] {
		return "", errors.TimeoutError(cmd)
	}
	if resp, ok := f.Responses[cmd]; ok {
		return resp, nil
	}
	if f.DefaultResponse != "" {
		return f.DefaultResponse, nil
	}
	return "", errors.TimeoutError(cmd)
}

func (f *Fake) QueryBinary(cmd string, maxBytes int) ([]byte, error) {
	resp, err := f.Query(cmd)
	if err != nil {
		return nil, err
	}
	if maxBytes > 0 && len(resp) > maxBytes {
		resp = resp[:maxBytes]
	}
	return []byte(resp), nil
}

// SentContaining reports whether any sent command contains the fragment.
func (f *Fake) SentContaining(fragment string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cmd := range f.Sent {
		if strings.Contains(cmd, fragment) {
			return true
		}
	}
	return false
}

// Reset clears the recorded command history.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = nil
	f.Queried = nil
}
