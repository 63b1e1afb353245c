package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalLobbyMessageHasNoGameField(t *testing.T) {
	b, err := Marshal(ServerPlayerJoined, map[string]string{"userId": "123"})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	_, hasGame := decoded["game"]
	assert.False(t, hasGame)
	assert.Equal(t, "playerJoined", decoded["type"])
}

func TestWrapGameEventAddsGameField(t *testing.T) {
	evt := json.RawMessage(`{"type":"round_complete","winner":"player1"}`)
	b, err := WrapGameEvent("coin-flip", evt)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "coin-flip", decoded["game"])
	assert.Equal(t, "round_complete", decoded["type"])
	payload, ok := decoded["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "player1", payload["winner"])
}

func TestDecodeClientEnvelopeExtractsType(t *testing.T) {
	e, err := DecodeClientEnvelope([]byte(`{"type":"sendMessage","content":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, ClientSendMessage, e.Type)

	var payload SendMessagePayload
	require.NoError(t, json.Unmarshal(e.Raw, &payload))
}
