// Package keys builds the Redis key strings for every runtime-state
// entity. Keys are parts joined by ':'; each scheme gets its own helper
// so call sites never hand-assemble a key.
package keys

import (
	"fmt"

	"github.com/google/uuid"
)

// LobbyState: "lobbies:{lobby_id}:state": lobby runtime hash.
func LobbyState(lobbyID uuid.UUID) string {
	return fmt.Sprintf("lobbies:%s:state", lobbyID)
}

// LobbyPlayer: "lobbies:{lobby_id}:players:{user_id}": per-player runtime hash.
func LobbyPlayer(lobbyID, userID uuid.UUID) string {
	return fmt.Sprintf("lobbies:%s:players:%s", lobbyID, userID)
}

// LobbyParticipants is the set of userIDs currently joined to a lobby,
// backing the LobbyRuntimeState.Participants field for fast enumeration
// (Redis hashes can't natively hold a set, so membership is tracked
// alongside the per-player hashes under the same "players" namespace).
func LobbyParticipants(lobbyID uuid.UUID) string {
	return fmt.Sprintf("lobbies:%s:players", lobbyID)
}

// LobbyJoinRequests: "lobbies:{lobby_id}:join_requests": userID -> requestedAt.
func LobbyJoinRequests(lobbyID uuid.UUID) string {
	return fmt.Sprintf("lobbies:%s:join_requests", lobbyID)
}

// LobbyCountdown: "lobbies:{lobby_id}:countdown": countdown sentinel.
func LobbyCountdown(lobbyID uuid.UUID) string {
	return fmt.Sprintf("lobbies:%s:countdown", lobbyID)
}

// LobbyChat: "lobbies:{lobby_id}:chat": sorted set of message IDs by send time.
func LobbyChat(lobbyID uuid.UUID) string {
	return fmt.Sprintf("lobbies:%s:chat", lobbyID)
}

// LobbyChatMessage: "lobbies:{lobby_id}:chat:messages:{message_id}".
func LobbyChatMessage(lobbyID, messageID uuid.UUID) string {
	return fmt.Sprintf("lobbies:%s:chat:messages:%s", lobbyID, messageID)
}

// GameState: "game:{lobby_id}:state": terminal game summary.
func GameState(lobbyID uuid.UUID) string {
	return fmt.Sprintf("game:%s:state", lobbyID)
}

// RateUserKind: "rate:user:{kind}:{key}": external rate-counter surface, read and written by the platform's middleware.
func RateUserKind(kind, key string) string {
	return fmt.Sprintf("rate:user:%s:%s", kind, key)
}

// Revoked is the key the revocation store checks membership against for a JTI.
func Revoked(jti string) string {
	return fmt.Sprintf("revoked:jti:%s", jti)
}
