// Package gameengine defines the pluggable per-game capability contract
// and the cooperative game loop that drives it. The loop owns each engine
// instance single-goroutine, so the interface methods run lock-free by
// construction.
package gameengine

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/stacks-wars/lobbyd/internal/rtmodels"
)

// Engine is the capability set every pluggable game implements. Methods
// return already-marshaled events (json.RawMessage) so the loop can
// broadcast them without knowing the concrete event types.
type Engine interface {
	// Initialize seeds the engine with the lobby's player roster and returns
	// the events announcing game start.
	Initialize(playerIDs []uuid.UUID) ([]json.RawMessage, error)

	// HandleAction applies one player's action and returns the events it produced.
	HandleAction(userID uuid.UUID, action json.RawMessage) ([]json.RawMessage, error)

	// Tick advances time-driven state (timeouts, countdowns) and returns any
	// resulting events. Called once per game-loop iteration.
	Tick() ([]json.RawMessage, error)

	// GetBootstrap returns a snapshot suitable for late-joining/reconnecting
	// clients.
	GetBootstrap() (json.RawMessage, error)

	// GetResults returns the final GameResults, or nil if the game has not finished.
	GetResults() (*rtmodels.GameResults, error)

	// IsFinished reports whether the game has concluded.
	IsFinished() bool
}

// Factory constructs a fresh Engine instance for one lobby.
type Factory func(lobbyID uuid.UUID) Engine

type registration struct {
	factory    Factory
	minPlayers int
}

// registry of known game paths to their engine factories.
var registry = map[string]registration{}

// Register adds a game implementation under a game path (e.g. "coin-flip"),
// along with the minimum player count Initialize requires. Called from
// init() in each concrete engine's file.
func Register(gamePath string, factory Factory, minPlayers int) {
	registry[gamePath] = registration{factory: factory, minPlayers: minPlayers}
}

// New looks up and constructs the engine for a game path.
func New(gamePath string, lobbyID uuid.UUID) (Engine, bool) {
	reg, ok := registry[gamePath]
	if !ok {
		return nil, false
	}
	return reg.factory(lobbyID), true
}

// MinPlayers reports the minimum player count a game path requires to start.
func MinPlayers(gamePath string) (int, bool) {
	reg, ok := registry[gamePath]
	return reg.minPlayers, ok
}

// InsufficientPlayersError is returned by Initialize when fewer than
// MinPlayers players are present.
type InsufficientPlayersError struct {
	Required int
	Actual   int
}

func (e *InsufficientPlayersError) Error() string {
	return fmt.Sprintf("insufficient players: need %d, have %d", e.Required, e.Actual)
}
