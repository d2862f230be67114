package protocol

import (
	"encoding/json"
	"fmt"
)

// Type identifies the kind of a broadcast message.
type Type string

const (
	TypeElection  Type = "ELECTION"
	TypeAlive     Type = "ALIVE"
	TypeVictory   Type = "VICTORY"
	TypeHeartbeat Type = "HEARTBEAT"
	TypeShutdown  Type = "SHUTDOWN"
	TypeData      Type = "DATA"
)

// Message is the wire envelope exchanged between peers on a channel.
// Messages are immutable and transient; nothing is persisted.
//
// The Timestamp field is intentionally asymmetric across types: ELECTION and
// ALIVE carry the sender's creation timestamp (its stable priority key), while
// VICTORY and HEARTBEAT carry the sender's wall clock at send time. A receiver
// resolving a chief conflict therefore never sees the sender's true priority
// key in those messages and compares against its own current clock instead.
type Message struct {
	Type      Type            `json:"type"`
	SenderID  string          `json:"sender_id"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Encode serializes a message for the wire.
func Encode(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", msg.Type, err)
	}
	return data, nil
}

// Decode parses a wire message. Unknown types are returned as-is; deciding
// what to do with them is the receiver's business.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if msg.SenderID == "" {
		return nil, fmt.Errorf("message has no sender id")
	}
	return &msg, nil
}
