package rtmodels

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestTurnRotation(t *testing.T) {
	players := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	rotation := NewTurnRotation(players)

	current, ok := rotation.CurrentPlayer()
	assert.True(t, ok)
	assert.Equal(t, players[0], current)
	assert.Equal(t, 3, rotation.ActiveCount())

	rotation.NextTurn()
	current, ok = rotation.CurrentPlayer()
	assert.True(t, ok)
	assert.Equal(t, players[1], current)

	rotation.EliminatePlayer(players[1])
	assert.Equal(t, 2, rotation.ActiveCount())
	current, ok = rotation.CurrentPlayer()
	assert.True(t, ok)
	assert.Equal(t, players[2], current)

	rotation.EliminatePlayer(players[2])
	assert.Equal(t, 1, rotation.ActiveCount())
	assert.True(t, rotation.IsGameOver())

	winner, ok := rotation.Winner()
	assert.True(t, ok)
	assert.Equal(t, players[0], winner)
}

func TestGameResultsFromStatesRanksActiveFirstThenReverseElimination(t *testing.T) {
	active := NewGamePlayerState(uuid.New())

	earlyElim := NewGamePlayerState(uuid.New())
	earlyElim.IsEliminated = true
	earlyTime := int64(100)
	earlyElim.EliminatedAt = &earlyTime

	lateElim := NewGamePlayerState(uuid.New())
	lateElim.IsEliminated = true
	lateTime := int64(200)
	lateElim.EliminatedAt = &lateTime

	results := GameResultsFromStates([]*GamePlayerState{earlyElim, active, lateElim})

	assert.Equal(t, active.UserID, results.Rankings[0].UserID)
	assert.Equal(t, 1, results.Rankings[0].Rank)
	assert.Equal(t, lateElim.UserID, results.Rankings[1].UserID)
	assert.Equal(t, 2, results.Rankings[1].Rank)
	assert.Equal(t, earlyElim.UserID, results.Rankings[2].UserID)
	assert.Equal(t, 3, results.Rankings[2].Rank)
}

func TestChatMessageAddReactionDedupesPerUserEmoji(t *testing.T) {
	msg := &ChatMessage{MessageID: uuid.New(), LobbyID: uuid.New(), UserID: uuid.New(), Content: "hi"}
	user := uuid.New()

	msg.AddReaction(user, "👍")
	msg.AddReaction(user, "👍")
	assert.Len(t, msg.Reactions, 1)

	msg.AddReaction(user, "🎉")
	assert.Len(t, msg.Reactions, 2)

	msg.RemoveReaction(user, "👍")
	assert.Len(t, msg.Reactions, 1)
	assert.Equal(t, "🎉", msg.Reactions[0].Emoji)

	msg.RemoveReaction(user, "👍")
	assert.Len(t, msg.Reactions, 1)
}

func TestPlayerRuntimeStateHelpers(t *testing.T) {
	p := NewPlayerRuntimeState(uuid.New(), uuid.New(), "SP123", "user", "User", 4.5, "", true)
	assert.Equal(t, PlayerStatusJoined, p.Status)
	assert.False(t, p.HasPrize())
	assert.False(t, p.HasClaimed())

	prize := 10.0
	p.Prize = &prize
	p.ClaimState = &ClaimState{Claimed: true}
	assert.True(t, p.HasPrize())
	assert.True(t, p.HasClaimed())
}
