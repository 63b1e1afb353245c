// Package protocol defines the wire messages exchanged over the room and
// lobby-list WebSocket endpoints.
//
// Lobby-native events marshal as {type, payload}; game-engine events are
// wrapped as {game, type, payload} so a client can route by the presence
// of "game".
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ClientEnvelope is the outer shape of every inbound room-socket message:
// {"type": "...", ...fields}. The receive loop decodes this first, then
// re-decodes the same bytes into the concrete type named below.
type ClientEnvelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

func DecodeClientEnvelope(data []byte) (ClientEnvelope, error) {
	var e ClientEnvelope
	if err := json.Unmarshal(data, &e); err != nil {
		return ClientEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	e.Raw = data
	return e, nil
}

// Client message types for the room socket.
const (
	ClientJoin                = "join"
	ClientLeave               = "leave"
	ClientRequestJoin         = "requestJoin"
	ClientApproveJoin         = "approveJoin"
	ClientRejectJoin          = "rejectJoin"
	ClientKick                = "kick"
	ClientUpdateLobbyStatus   = "updateLobbyStatus"
	ClientSendMessage         = "sendMessage"
	ClientAddReaction         = "addReaction"
	ClientRemoveReaction      = "removeReaction"
	ClientPing                = "ping"
	ClientGameAction          = "gameAction"
)

// Server message types for the room socket.
const (
	ServerLobbyBootstrap      = "lobbyBootstrap"
	ServerPlayerJoined        = "playerJoined"
	ServerPlayerLeft          = "playerLeft"
	ServerPlayerKicked        = "playerKicked"
	ServerJoinRequested       = "joinRequested"
	ServerJoinApproved        = "joinApproved"
	ServerJoinRejected        = "joinRejected"
	ServerLobbyStatusChanged  = "lobbyStatusChanged"
	ServerCountdownTick       = "countdownTick"
	ServerChatMessage         = "chatMessage"
	ServerChatReactionUpdated = "chatReactionUpdated"
	ServerError               = "error"
)

// ApproveJoinPayload/RejectJoinPayload/Kick all carry a single target user id.
type UserTargetPayload struct {
	UserID uuid.UUID `json:"user_id"`
}

type UpdateLobbyStatusPayload struct {
	Status string `json:"status"`
}

type SendMessagePayload struct {
	Content string     `json:"content"`
	ReplyTo *uuid.UUID `json:"reply_to,omitempty"`
}

type ReactionPayload struct {
	MessageID uuid.UUID `json:"message_id"`
	Emoji     string    `json:"emoji"`
}

// GameActionPayload carries a client's in-progress-game action straight
// through to the running gameengine.Engine.HandleAction, undecoded: each
// engine defines its own action shapes (e.g. Coin Flip's make_guess).
type GameActionPayload struct {
	Action json.RawMessage `json:"action"`
}

// Envelope is the unwrapped lobby-native server message shape.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// GameEnvelope is the wrapped shape used for game-engine events.
type GameEnvelope struct {
	Game    string          `json:"game"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Marshal builds an unwrapped lobby-native server message.
func Marshal(msgType string, payload any) ([]byte, error) {
	return json.Marshal(Envelope{Type: msgType, Payload: payload})
}

// MarshalError builds the error{code,message} server message.
func MarshalError(code, message string) []byte {
	b, _ := Marshal(ServerError, map[string]string{"code": code, "message": message})
	return b
}

// WrapGameEvent wraps a raw game-engine event, a flat {"type":...,
// ...fields} object as every gameengine.Engine emits, under the game's
// path: "type" is hoisted out to become the envelope's own type, and
// every remaining field becomes "payload".
func WrapGameEvent(gamePath string, evt json.RawMessage) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(evt, &fields); err != nil {
		return nil, fmt.Errorf("unwrap game event: %w", err)
	}
	typeRaw, ok := fields["type"]
	if !ok {
		return nil, fmt.Errorf("unwrap game event: missing type field")
	}
	var typ string
	if err := json.Unmarshal(typeRaw, &typ); err != nil {
		return nil, fmt.Errorf("unwrap game event: type field is not a string: %w", err)
	}
	delete(fields, "type")
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("unwrap game event: %w", err)
	}
	return json.Marshal(GameEnvelope{Game: gamePath, Type: typ, Payload: payload})
}
