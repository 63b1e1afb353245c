package store

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacks-wars/lobbyd/internal/rtmodels"
)

func TestLobbyStateHashRoundTrip(t *testing.T) {
	lobbyID := uuid.New()
	hostID := uuid.New()

	// CountdownAt is intentionally excluded: it round-trips through its own
	// dedicated sentinel key (LobbyStateRepository.Get/SetCountdown), not
	// through this hash.
	original := &rtmodels.LobbyRuntimeState{
		LobbyID:    lobbyID,
		HostUserID: hostID,
		Status:     rtmodels.LobbyStatusWaiting,
		IsPrivate:  true,
		GamePath:   "coin-flip",
		MaxPlayers: 8,
		CreatedAt:  1699999000,
		UpdatedAt:  1699999500,
	}

	hash := lobbyStateToHash(original)
	roundTripped, err := lobbyStateFromHash(hash)
	require.NoError(t, err)

	assert.Equal(t, original, roundTripped)
}

func TestLobbyStateFromHashEmptyReturnsNotFound(t *testing.T) {
	_, err := lobbyStateFromHash(map[string]string{})
	assert.Error(t, err)
}
