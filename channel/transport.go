// Package channel maintains the bidirectional event channel to the
// workspace server: the physical transport, its reconnect behavior,
// and the session scoping that must be re-established every time the
// connection comes back.
package channel

import (
	"context"
	"encoding/json"
	"errors"
)

// Connection status values.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusErrored      Status = "errored"
)

// State is one observation of the connection.
type State struct {
	// Status is the current connection status.
	Status Status
	// ReconnectAttempt counts redials since the last healthy
	// connection. Zero while connected.
	ReconnectAttempt int
	// Err is the error that ended the previous connection, if any.
	Err error
}

// Handler receives the raw payload of one inbound event.
type Handler func(payload json.RawMessage)

// Transport errors.
var (
	// ErrNotConnected is returned when emitting without a live
	// connection.
	ErrNotConnected = errors.New("channel not connected")
	// ErrClosed is returned when operating on a closed transport.
	ErrClosed = errors.New("channel closed")
)

// Transport is the physical event channel. Implementations deliver
// inbound events to registered handlers, accept outbound emissions,
// and publish connection state transitions.
type Transport interface {
	// Connect establishes the channel and keeps it alive until
	// Disconnect. Returns once the first connection attempt has
	// succeeded or ctx is done.
	Connect(ctx context.Context) error

	// Disconnect tears the channel down. Idempotent.
	Disconnect() error

	// On registers a handler for one inbound event name and returns an
	// unsubscribe function.
	On(event string, h Handler) func()

	// Emit sends one outbound event. Fails with ErrNotConnected while
	// the channel is down.
	Emit(ctx context.Context, event string, payload any) error

	// States returns the stream of connection state transitions. The
	// channel is closed when the transport shuts down.
	States() <-chan State
}
