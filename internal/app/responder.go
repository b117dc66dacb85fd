package app

import (
	"fmt"
	"io"
	"sync"
)

// Responder writes command output back to the user.
// This interface enables testing handlers without a terminal.
type Responder interface {
	Respond(text string) error
}

// TerminalResponder writes one line per response. The writer can be swapped
// while a prompt owns the terminal.
type TerminalResponder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTerminalResponder creates a TerminalResponder writing to w.
func NewTerminalResponder(w io.Writer) *TerminalResponder {
	return &TerminalResponder{w: w}
}

// Respond writes text followed by a newline.
func (r *TerminalResponder) Respond(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := fmt.Fprintln(r.w, text)
	return err
}

// SetWriter replaces the writer and returns the previous one.
func (r *TerminalResponder) SetWriter(w io.Writer) io.Writer {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.w
	r.w = w
	return prev
}

// MockResponder is a test double for Responder.
type MockResponder struct {
	mu        sync.Mutex
	Responses []string
	Err       error
}

// Respond records the response for testing.
func (m *MockResponder) Respond(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Responses = append(m.Responses, text)
	return m.Err
}

// LastResponse returns the most recent response, or "" if there was none.
func (m *MockResponder) LastResponse() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.Responses) == 0 {
		return ""
	}
	return m.Responses[len(m.Responses)-1]
}

// All returns a copy of every recorded response.
func (m *MockResponder) All() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.Responses...)
}
