package store

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacks-wars/lobbyd/internal/rtmodels"
)

func TestPlayerStateHashRoundTrip(t *testing.T) {
	userID := uuid.New()
	lobbyID := uuid.New()
	rank := 2
	prize := 4.5

	original := rtmodels.NewPlayerRuntimeState(userID, lobbyID, "SP123ABC", "player1", "Player One", 5.0, "", false)
	original.Rank = &rank
	original.Prize = &prize
	original.ClaimState = &rtmodels.ClaimState{Claimed: true, TxID: "tx-1"}

	hash := playerStateToHash(original)
	assert.Equal(t, userID.String(), hash["userId"])
	assert.Equal(t, "joined", hash["status"])
	assert.Equal(t, "SP123ABC", hash["walletAddress"])

	roundTripped, err := playerStateFromHash(hash)
	require.NoError(t, err)

	assert.Equal(t, original.UserID, roundTripped.UserID)
	assert.Equal(t, original.LobbyID, roundTripped.LobbyID)
	assert.Equal(t, original.Status, roundTripped.Status)
	assert.Equal(t, original.WalletAddress, roundTripped.WalletAddress)
	assert.Equal(t, original.Username, roundTripped.Username)
	assert.Equal(t, original.DisplayName, roundTripped.DisplayName)
	assert.Equal(t, original.TrustRating, roundTripped.TrustRating)
	require.NotNil(t, roundTripped.Rank)
	assert.Equal(t, rank, *roundTripped.Rank)
	require.NotNil(t, roundTripped.Prize)
	assert.Equal(t, prize, *roundTripped.Prize)
	require.NotNil(t, roundTripped.ClaimState)
	assert.True(t, roundTripped.ClaimState.Claimed)
	assert.Equal(t, "tx-1", roundTripped.ClaimState.TxID)
}

func TestPlayerStateFromHashMissingRequiredFieldsErrors(t *testing.T) {
	_, err := playerStateFromHash(map[string]string{"userId": uuid.New().String()})
	assert.Error(t, err)
}

func TestPlayerStateFromHashEmptyReturnsNotFound(t *testing.T) {
	_, err := playerStateFromHash(map[string]string{})
	assert.Error(t, err)
}
