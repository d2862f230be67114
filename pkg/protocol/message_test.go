package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"chieftain/pkg/protocol"
)

func TestEncodeDecode(t *testing.T) {
	msg := &protocol.Message{
		Type:      protocol.TypeData,
		SenderID:  "peer-1",
		Timestamp: 1234,
		Payload:   json.RawMessage(`{"seq":1}`),
	}

	data, err := protocol.Encode(msg)
	require.NoError(t, err)

	got, err := protocol.Decode(data)
	require.NoError(t, err)
	require.Equal(t, msg.Type, got.Type)
	require.Equal(t, msg.SenderID, got.SenderID)
	require.Equal(t, msg.Timestamp, got.Timestamp)
	require.JSONEq(t, `{"seq":1}`, string(got.Payload))
}

func TestDecode_RejectsMissingSender(t *testing.T) {
	_, err := protocol.Decode([]byte(`{"type":"HEARTBEAT","timestamp":5}`))
	require.Error(t, err)
}

func TestDecode_RejectsGarbage(t *testing.T) {
	_, err := protocol.Decode([]byte("not json"))
	require.Error(t, err)
}

func TestDecode_KeepsUnknownType(t *testing.T) {
	// Unknown types are a receiver-side concern, not a decode error.
	got, err := protocol.Decode([]byte(`{"type":"GOSSIP","sender_id":"x","timestamp":1}`))
	require.NoError(t, err)
	require.Equal(t, protocol.Type("GOSSIP"), got.Type)
}
