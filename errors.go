package chatsync

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a correlated request gets no matching push in time.
	ErrTimeout = errors.New("chatsync: request timeout")
	// ErrNotConnected is returned by operations that need a live channel.
	ErrNotConnected = errors.New("chatsync: not connected")
	// ErrTransport wraps failures of the underlying realtime transport.
	ErrTransport = errors.New("chatsync: transport error")
	// ErrClosed is returned once a session has been closed.
	ErrClosed = errors.New("chatsync: session closed")
)

// ProtocolError describes an inbound frame that could not be decoded.
type ProtocolError struct {
	Event string
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error in %q: %v", e.Event, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// APIError is a failed collaborator call.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api %d: %s", e.Status, e.Message)
}
