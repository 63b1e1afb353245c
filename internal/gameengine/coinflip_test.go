package gameengine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func guessAction(t *testing.T, guess CoinSide) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(coinFlipGuessAction{Type: "make_guess", Guess: guess})
	require.NoError(t, err)
	return b
}

func decodeEvents(t *testing.T, events []json.RawMessage) []map[string]any {
	t.Helper()
	out := make([]map[string]any, len(events))
	for i, raw := range events {
		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		out[i] = m
	}
	return out
}

func TestCoinFlipInitializeStartsFirstRound(t *testing.T) {
	lobbyID := uuid.New()
	p1, p2 := uuid.New(), uuid.New()
	engine := NewCoinFlip(lobbyID)

	events, err := engine.Initialize([]uuid.UUID{p1, p2})
	require.NoError(t, err)
	require.Len(t, events, 1)

	decoded := decodeEvents(t, events)
	assert.Equal(t, "game_started", decoded[0]["type"])
}

func TestCoinFlipEliminatesWrongGuesserAmongThreePlayers(t *testing.T) {
	lobbyID := uuid.New()
	p1, p2, p3 := uuid.New(), uuid.New(), uuid.New()
	engine := NewCoinFlip(lobbyID).(*CoinFlipEngine)

	_, err := engine.Initialize([]uuid.UUID{p1, p2, p3})
	require.NoError(t, err)

	// The coin is random, so check against whatever it landed on: after all
	// three guess, exactly the losers (guess != coin) are eliminated, and the
	// round-complete event reports a consistent active/eliminated partition.
	_, err = engine.handleGuess(p1, Heads)
	require.NoError(t, err)
	_, err = engine.handleGuess(p2, Heads)
	require.NoError(t, err)
	events, err := engine.handleGuess(p3, Tails)
	require.NoError(t, err)

	decoded := decodeEvents(t, events)
	var roundComplete map[string]any
	for _, e := range decoded {
		if e["type"] == "round_complete" {
			roundComplete = e
		}
	}
	require.NotNil(t, roundComplete)

	eliminated, _ := roundComplete["eliminatedPlayers"].([]any)
	remaining, _ := roundComplete["remainingPlayers"].([]any)
	assert.Equal(t, 3, len(eliminated)+len(remaining))

	wantEliminated := []any{p1.String(), p2.String()}
	if roundComplete["coinResult"] == string(Heads) {
		wantEliminated = []any{p3.String()}
	}
	assert.ElementsMatch(t, wantEliminated, eliminated)
}

func TestCoinFlipTwoPlayerSameGuessNoElimination(t *testing.T) {
	lobbyID := uuid.New()
	p1, p2 := uuid.New(), uuid.New()
	engine := NewCoinFlip(lobbyID).(*CoinFlipEngine)

	_, err := engine.Initialize([]uuid.UUID{p1, p2})
	require.NoError(t, err)

	// Drive rounds until we observe a round where both guessed the same
	// side (forcing either both-correct or both-wrong), then assert no
	// elimination occurred and the game continues.
	for round := 0; round < 20 && !engine.finished; round++ {
		engine.guesses = make(map[uuid.UUID]CoinSide)
		events1, err := engine.handleGuess(p1, Heads)
		require.NoError(t, err)
		events2, err := engine.handleGuess(p2, Heads)
		require.NoError(t, err)

		all := append(events1, events2...)
		decoded := decodeEvents(t, all)
		for _, e := range decoded {
			if e["type"] == "round_complete" {
				eliminated, _ := e["eliminatedPlayers"].([]any)
				assert.Empty(t, eliminated, "both players guessing the same side must never eliminate either one")
			}
			if e["type"] == "game_finished" {
				t.Fatal("two equally-guessing players should never finish the game")
			}
		}
		if engine.finished {
			break
		}
	}
}

func TestCoinFlipTickResolvesRoundAfterDeadline(t *testing.T) {
	lobbyID := uuid.New()
	p1, p2, p3 := uuid.New(), uuid.New(), uuid.New()
	engine := NewCoinFlip(lobbyID).(*CoinFlipEngine)
	_, err := engine.Initialize([]uuid.UUID{p1, p2, p3})
	require.NoError(t, err)

	_, err = engine.handleGuess(p1, Heads)
	require.NoError(t, err)

	past := time.Now().Add(-(coinFlipTurnTimeoutSecs + 1) * time.Second)
	engine.turnStarted = &past

	events, err := engine.Tick()
	require.NoError(t, err)
	decoded := decodeEvents(t, events)

	timedOut := 0
	sawRoundComplete := false
	for _, e := range decoded {
		switch e["type"] {
		case "player_timed_out":
			timedOut++
		case "round_complete":
			sawRoundComplete = true
		}
	}
	assert.Equal(t, 2, timedOut, "both non-guessers time out")
	assert.True(t, sawRoundComplete, "an elapsed deadline resolves the round")
}

func TestCoinFlipTickBeforeDeadlineIsQuiet(t *testing.T) {
	lobbyID := uuid.New()
	p1, p2 := uuid.New(), uuid.New()
	engine := NewCoinFlip(lobbyID).(*CoinFlipEngine)
	_, err := engine.Initialize([]uuid.UUID{p1, p2})
	require.NoError(t, err)

	events, err := engine.Tick()
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestCoinFlipRejectsDuplicateGuessSameRound(t *testing.T) {
	lobbyID := uuid.New()
	p1, p2 := uuid.New(), uuid.New()
	engine := NewCoinFlip(lobbyID).(*CoinFlipEngine)
	_, err := engine.Initialize([]uuid.UUID{p1, p2})
	require.NoError(t, err)

	_, err = engine.handleGuess(p1, Heads)
	require.NoError(t, err)
	_, err = engine.handleGuess(p1, Tails)
	assert.Error(t, err)
}

func TestCoinFlipRejectsGuessFromUnknownPlayer(t *testing.T) {
	lobbyID := uuid.New()
	p1, p2 := uuid.New(), uuid.New()
	engine := NewCoinFlip(lobbyID).(*CoinFlipEngine)
	_, err := engine.Initialize([]uuid.UUID{p1, p2})
	require.NoError(t, err)

	_, err = engine.handleGuess(uuid.New(), Heads)
	assert.Error(t, err)
}

func TestCoinFlipInitializeRejectsBelowMinPlayers(t *testing.T) {
	lobbyID := uuid.New()
	engine := NewCoinFlip(lobbyID)

	_, err := engine.Initialize([]uuid.UUID{uuid.New()})
	require.Error(t, err)

	var insufficient *InsufficientPlayersError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 2, insufficient.Required)
	assert.Equal(t, 1, insufficient.Actual)
}

func TestCoinFlipHandleActionRoundTripsJSON(t *testing.T) {
	lobbyID := uuid.New()
	p1, p2 := uuid.New(), uuid.New()
	engine := NewCoinFlip(lobbyID)
	_, err := engine.Initialize([]uuid.UUID{p1, p2})
	require.NoError(t, err)

	_, err = engine.HandleAction(p1, guessAction(t, Heads))
	assert.NoError(t, err)
}
