package gameengine

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/stacks-wars/lobbyd/internal/rtmodels"
)

func init() {
	Register("coin-flip", NewCoinFlip, coinFlipMinPlayers)
}

const (
	coinFlipTurnTimeoutSecs = 5
	coinFlipMinPlayers      = 2
)

// CoinSide is a coin flip outcome or guess.
type CoinSide string

const (
	Heads CoinSide = "heads"
	Tails CoinSide = "tails"
)

func randomCoinSide() CoinSide {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	if err != nil || n.Int64() == 0 {
		return Heads
	}
	return Tails
}

type coinFlipGuessAction struct {
	Type  string   `json:"type"`
	Guess CoinSide `json:"guess"`
}

// coinFlipEvent is a union of every event shape this engine emits; only the
// fields relevant to e.Type are ever populated. marshalEvent picks the
// relevant subset and names the JSON keys itself, so the struct carries no
// tags.
type coinFlipEvent struct {
	Type string

	Players       []uuid.UUID
	CurrentPlayer *uuid.UUID
	TimeoutSecs   int
	Round         int
	PlayerID      *uuid.UUID
	CoinResult    CoinSide
	Results       []roundPlayerResult
	Eliminated    []uuid.UUID
	Remaining     []uuid.UUID
	GameResults   *rtmodels.GameResults
}

// marshalEvent renders each event kind with only its relevant fields.
func marshalEvent(e coinFlipEvent) (json.RawMessage, error) {
	m := map[string]any{"type": e.Type}
	switch e.Type {
	case "game_started":
		m["players"] = e.Players
		m["currentPlayer"] = e.CurrentPlayer
		m["timeoutSecs"] = e.TimeoutSecs
	case "round_started":
		m["round"] = e.Round
		m["currentPlayer"] = e.CurrentPlayer
		m["timeoutSecs"] = e.TimeoutSecs
	case "guess_received":
		m["playerId"] = e.PlayerID
	case "player_timed_out":
		m["playerId"] = e.PlayerID
	case "round_complete":
		m["round"] = e.Round
		m["coinResult"] = e.CoinResult
		m["results"] = e.Results
		m["eliminatedPlayers"] = e.Eliminated
		m["remainingPlayers"] = e.Remaining
	case "game_finished":
		m["results"] = e.GameResults
	}
	return json.Marshal(m)
}

type roundPlayerResult struct {
	PlayerID   uuid.UUID `json:"playerId"`
	Guess      *CoinSide `json:"guess,omitempty"`
	Correct    bool      `json:"correct"`
	Eliminated bool      `json:"eliminated"`
}

// CoinFlipEngine implements Engine: players guess heads/tails each round; a
// wrong or missing guess eliminates, except when exactly two players remain
// and both are correct or both are wrong (a missing guess counts as wrong):
// that round replays with no elimination.
type CoinFlipEngine struct {
	lobbyID uuid.UUID

	players      map[uuid.UUID]*rtmodels.GamePlayerState
	rotation     *rtmodels.TurnRotation
	currentRound int
	guesses      map[uuid.UUID]CoinSide
	turnStarted  *time.Time
	finished     bool
	results      *rtmodels.GameResults
}

// NewCoinFlip constructs an un-initialized coin-flip engine for a lobby.
func NewCoinFlip(lobbyID uuid.UUID) Engine {
	return &CoinFlipEngine{
		lobbyID:  lobbyID,
		players:  make(map[uuid.UUID]*rtmodels.GamePlayerState),
		rotation: rtmodels.NewTurnRotation(nil),
		guesses:  make(map[uuid.UUID]CoinSide),
	}
}

func (e *CoinFlipEngine) Initialize(playerIDs []uuid.UUID) ([]json.RawMessage, error) {
	if len(playerIDs) < coinFlipMinPlayers {
		return nil, &InsufficientPlayersError{Required: coinFlipMinPlayers, Actual: len(playerIDs)}
	}

	e.players = make(map[uuid.UUID]*rtmodels.GamePlayerState, len(playerIDs))
	for _, id := range playerIDs {
		e.players[id] = rtmodels.NewGamePlayerState(id)
	}
	e.rotation = rtmodels.NewTurnRotation(playerIDs)

	var events []json.RawMessage
	if current, ok := e.rotation.CurrentPlayer(); ok {
		e.currentRound = 1
		now := time.Now()
		e.turnStarted = &now

		raw, err := marshalEvent(coinFlipEvent{
			Type:          "game_started",
			Players:       playerIDs,
			CurrentPlayer: &current,
			TimeoutSecs:   coinFlipTurnTimeoutSecs,
		})
		if err != nil {
			return nil, err
		}
		events = append(events, raw)
	}
	return events, nil
}

func (e *CoinFlipEngine) startNewRound() (json.RawMessage, error) {
	current, ok := e.rotation.CurrentPlayer()
	if !ok {
		return nil, nil
	}
	e.currentRound++
	e.guesses = make(map[uuid.UUID]CoinSide)
	now := time.Now()
	e.turnStarted = &now

	return marshalEvent(coinFlipEvent{
		Type:          "round_started",
		Round:         e.currentRound,
		CurrentPlayer: &current,
		TimeoutSecs:   coinFlipTurnTimeoutSecs,
	})
}

func (e *CoinFlipEngine) isRoundComplete() bool {
	for _, id := range e.rotation.ActivePlayers() {
		if _, ok := e.guesses[id]; !ok {
			return false
		}
	}
	return true
}

// processRound resolves the current round: flips the coin, evaluates every
// active player's guess, applies the two-player no-elimination exception,
// eliminates losers, and either finishes the game or starts the next round.
func (e *CoinFlipEngine) processRound() ([]json.RawMessage, error) {
	var events []json.RawMessage

	coin := randomCoinSide()
	active := e.rotation.ActivePlayers()

	results := make([]roundPlayerResult, 0, len(active))
	var toEliminate []uuid.UUID

	for _, id := range active {
		guess, guessed := e.guesses[id]
		correct := guessed && guess == coin

		var guessPtr *CoinSide
		if guessed {
			g := guess
			guessPtr = &g
		}
		results = append(results, roundPlayerResult{
			PlayerID:   id,
			Guess:      guessPtr,
			Correct:    correct,
			Eliminated: !correct,
		})
		if !correct {
			toEliminate = append(toEliminate, id)
		}
	}

	if len(active) == 2 {
		correctCount := 0
		for _, r := range results {
			if r.Correct {
				correctCount++
			}
		}
		if correctCount == 0 || correctCount == 2 {
			toEliminate = nil
			for i := range results {
				results[i].Eliminated = false
			}
		}
	}

	for _, id := range toEliminate {
		e.rotation.EliminatePlayer(id)
		if ps, ok := e.players[id]; ok {
			ps.Eliminate()
		}
	}

	remaining := e.rotation.ActivePlayers()

	raw, err := marshalEvent(coinFlipEvent{
		Type:       "round_complete",
		Round:      e.currentRound,
		CoinResult: coin,
		Results:    results,
		Eliminated: toEliminate,
		Remaining:  remaining,
	})
	if err != nil {
		return nil, err
	}
	events = append(events, raw)

	if e.rotation.IsGameOver() {
		e.finished = true
		states := make([]*rtmodels.GamePlayerState, 0, len(e.players))
		for _, ps := range e.players {
			states = append(states, ps)
		}
		e.results = rtmodels.GameResultsFromStates(states)

		raw, err := marshalEvent(coinFlipEvent{Type: "game_finished", GameResults: e.results})
		if err != nil {
			return nil, err
		}
		events = append(events, raw)
	} else {
		e.rotation.NextTurn()
		raw, err := e.startNewRound()
		if err != nil {
			return nil, err
		}
		if raw != nil {
			events = append(events, raw)
		}
	}

	return events, nil
}

func (e *CoinFlipEngine) handleGuess(userID uuid.UUID, guess CoinSide) ([]json.RawMessage, error) {
	if _, ok := e.players[userID]; !ok {
		return nil, fmt.Errorf("player %s is not in this game", userID)
	}
	isActive := false
	for _, id := range e.rotation.ActivePlayers() {
		if id == userID {
			isActive = true
			break
		}
	}
	if !isActive {
		return nil, fmt.Errorf("player %s has already been eliminated", userID)
	}
	if _, ok := e.guesses[userID]; ok {
		return nil, fmt.Errorf("player %s has already guessed this round", userID)
	}

	e.guesses[userID] = guess

	var events []json.RawMessage
	raw, err := marshalEvent(coinFlipEvent{Type: "guess_received", PlayerID: &userID})
	if err != nil {
		return nil, err
	}
	events = append(events, raw)

	if e.isRoundComplete() {
		more, err := e.processRound()
		if err != nil {
			return nil, err
		}
		events = append(events, more...)
	}
	return events, nil
}

func (e *CoinFlipEngine) HandleAction(userID uuid.UUID, action json.RawMessage) ([]json.RawMessage, error) {
	var a coinFlipGuessAction
	if err := json.Unmarshal(action, &a); err != nil {
		return nil, fmt.Errorf("invalid action: %w", err)
	}
	if a.Type != "make_guess" {
		return nil, fmt.Errorf("unknown action type %q", a.Type)
	}
	return e.handleGuess(userID, a.Guess)
}

func (e *CoinFlipEngine) Tick() ([]json.RawMessage, error) {
	if e.finished || e.turnStarted == nil {
		return nil, nil
	}
	if time.Since(*e.turnStarted) <= coinFlipTurnTimeoutSecs*time.Second {
		return nil, nil
	}
	active := e.rotation.ActivePlayers()
	if len(active) == 0 {
		return nil, nil
	}

	// Deadline elapsed: every active player without a guess times out (a
	// missing guess counts as incorrect) and the round resolves.
	var events []json.RawMessage
	for _, id := range active {
		if _, guessed := e.guesses[id]; guessed {
			continue
		}
		timedOut := id
		raw, err := marshalEvent(coinFlipEvent{Type: "player_timed_out", PlayerID: &timedOut})
		if err != nil {
			return nil, err
		}
		events = append(events, raw)
	}

	more, err := e.processRound()
	if err != nil {
		return nil, err
	}
	return append(events, more...), nil
}

func (e *CoinFlipEngine) GetBootstrap() (json.RawMessage, error) {
	status := "inProgress"
	if e.finished {
		status = "finished"
	}
	players := make([]uuid.UUID, 0, len(e.players))
	for id := range e.players {
		players = append(players, id)
	}
	current, _ := e.rotation.CurrentPlayer()

	return json.Marshal(map[string]any{
		"status": status,
		"currentState": map[string]any{
			"currentPlayer": current,
			"activePlayers": e.rotation.ActivePlayers(),
			"currentRound":  e.currentRound,
			"timeoutSecs":   coinFlipTurnTimeoutSecs,
			"turnStartedAt": e.turnStarted,
		},
		"players": players,
	})
}

func (e *CoinFlipEngine) GetResults() (*rtmodels.GameResults, error) {
	return e.results, nil
}

func (e *CoinFlipEngine) IsFinished() bool {
	return e.finished
}
