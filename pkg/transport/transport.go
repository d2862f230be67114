package transport

import (
	"errors"

	"chieftain/pkg/protocol"
)

// ErrClosed is returned by Send after the transport has been closed.
var ErrClosed = errors.New("transport is closed")

// Handler is invoked for every message delivered on the channel. It is never
// invoked for messages the local peer sent itself.
type Handler func(*protocol.Message)

// Transport is an open connection to a single named broadcast channel.
// Delivery is best-effort and unordered across peers: a sent message
// eventually reaches every currently connected peer on the channel, with no
// guarantee about when.
type Transport interface {
	// Send broadcasts a message to every other peer on the channel.
	// It returns once the message is handed to the underlying primitive.
	Send(msg *protocol.Message) error

	// Close detaches the delivery handler and releases the channel.
	// No handler invocation starts after Close returns.
	Close() error
}

// Connector establishes connections to named channels. Channels with
// different names are fully isolated from each other. The peer id is used to
// filter out the sender's own messages on primitives that loop them back.
type Connector interface {
	Connect(channel string, peerID string, handler Handler) (Transport, error)
}
