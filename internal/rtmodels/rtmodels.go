// Package rtmodels holds the runtime data model shared by the hub, room
// engine, game engine, and state stores: lobby/player runtime state, chat
// messages, and the generic per-game player/turn/ranking types.
package rtmodels

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// LobbyStatus is the lifecycle state of a lobby. Legal transitions:
// Waiting->Starting, Starting->Waiting, Starting->InProgress, InProgress->Finished.
// Finished is terminal.
type LobbyStatus string

const (
	LobbyStatusWaiting    LobbyStatus = "waiting"
	LobbyStatusStarting   LobbyStatus = "starting"
	LobbyStatusInProgress LobbyStatus = "inProgress"
	LobbyStatusFinished   LobbyStatus = "finished"
)

// legalTransitions enumerates every allowed LobbyStatus edge.
var legalTransitions = map[LobbyStatus]map[LobbyStatus]bool{
	LobbyStatusWaiting:    {LobbyStatusStarting: true},
	LobbyStatusStarting:   {LobbyStatusWaiting: true, LobbyStatusInProgress: true},
	LobbyStatusInProgress: {LobbyStatusFinished: true},
}

// IsLegalLobbyTransition reports whether from->to is an allowed status
// transition.
func IsLegalLobbyTransition(from, to LobbyStatus) bool {
	return legalTransitions[from][to]
}

// PlayerStatus is a player's participation status within a lobby.
type PlayerStatus string

const (
	PlayerStatusNotJoined PlayerStatus = "notJoined"
	PlayerStatusJoined    PlayerStatus = "joined"
)

// ClaimState describes whether a player has claimed a finished game's prize.
type ClaimState struct {
	Claimed bool   `json:"claimed"`
	TxID    string `json:"txId,omitempty"`
}

// LobbyRuntimeState is the Redis-backed runtime record for one lobby.
// Invariant: len(Participants) <= MaxPlayers.
type LobbyRuntimeState struct {
	LobbyID         uuid.UUID          `json:"lobbyId"`
	HostUserID      uuid.UUID          `json:"hostUserId"`
	Status          LobbyStatus        `json:"status"`
	Participants    map[uuid.UUID]bool `json:"-"`
	EntryAmount     float64            `json:"entryAmount"`
	CurrentAmount   float64            `json:"currentAmount"`
	CreatorLastPing *int64             `json:"creatorLastPing,omitempty"`
	IsPrivate       bool               `json:"isPrivate"`
	GamePath        string             `json:"gamePath"`
	MaxPlayers      int                `json:"maxPlayers"`
	CountdownAt     int64              `json:"countdownAt,omitempty"`
	CreatedAt       int64              `json:"createdAt"`
	UpdatedAt       int64              `json:"updatedAt"`
}

// PlayerRuntimeState is the Redis-backed runtime record for one player's
// participation in a lobby.
type PlayerRuntimeState struct {
	UserID        uuid.UUID    `json:"userId"`
	LobbyID       uuid.UUID    `json:"lobbyId"`
	WalletAddress string       `json:"walletAddress"`
	Username      string       `json:"username,omitempty"`
	DisplayName   string       `json:"displayName,omitempty"`
	TrustRating   float64      `json:"trustRating"`
	Status        PlayerStatus `json:"status"`
	TxID          string       `json:"txId,omitempty"`
	Rank          *int         `json:"rank,omitempty"`
	Prize         *float64     `json:"prize,omitempty"`
	ClaimState    *ClaimState  `json:"claimState,omitempty"`
	LastPing      *int64       `json:"lastPing,omitempty"`
	JoinedAt      int64        `json:"joinedAt"`
	UpdatedAt     int64        `json:"updatedAt"`
	IsCreator     bool         `json:"isCreator"`
}

// NewPlayerRuntimeState returns a freshly joined player: joined status,
// timestamps stamped at creation.
func NewPlayerRuntimeState(userID, lobbyID uuid.UUID, wallet, username, displayName string, trustRating float64, txID string, isCreator bool) *PlayerRuntimeState {
	now := time.Now().Unix()
	nowMilli := time.Now().UnixMilli()
	return &PlayerRuntimeState{
		UserID:        userID,
		LobbyID:       lobbyID,
		WalletAddress: wallet,
		Username:      username,
		DisplayName:   displayName,
		TrustRating:   trustRating,
		Status:        PlayerStatusJoined,
		TxID:          txID,
		LastPing:      &nowMilli,
		JoinedAt:      now,
		UpdatedAt:     now,
		IsCreator:     isCreator,
	}
}

// HasPrize reports whether the player has a nonzero prize amount.
func (p *PlayerRuntimeState) HasPrize() bool {
	return p.Prize != nil && *p.Prize > 0
}

// HasClaimed reports whether the player has claimed their prize.
func (p *PlayerRuntimeState) HasClaimed() bool {
	return p.ClaimState != nil && p.ClaimState.Claimed
}

// Reaction is one user's emoji reaction to a chat message. At most one
// (UserID, Emoji) pair may exist per message.
type Reaction struct {
	UserID uuid.UUID `json:"userId"`
	Emoji  string    `json:"emoji"`
}

// ChatMessage is one message in a lobby's chat history. Invariant: 1 <=
// len(trim(Content)) <= 500.
type ChatMessage struct {
	MessageID uuid.UUID  `json:"messageId"`
	LobbyID   uuid.UUID  `json:"lobbyId"`
	UserID    uuid.UUID  `json:"userId"`
	Username  string     `json:"username,omitempty"`
	Content   string     `json:"content"`
	ReplyTo   *uuid.UUID `json:"replyTo,omitempty"`
	Reactions []Reaction `json:"reactions,omitempty"`
	CreatedAt int64      `json:"createdAt"`
}

// AddReaction appends (userID, emoji) unless it is already present, so
// adding the same reaction twice leaves one row.
func (c *ChatMessage) AddReaction(userID uuid.UUID, emoji string) {
	for _, r := range c.Reactions {
		if r.UserID == userID && r.Emoji == emoji {
			return
		}
	}
	c.Reactions = append(c.Reactions, Reaction{UserID: userID, Emoji: emoji})
}

// RemoveReaction drops (userID, emoji) if present; a no-op otherwise.
func (c *ChatMessage) RemoveReaction(userID uuid.UUID, emoji string) {
	out := c.Reactions[:0]
	for _, r := range c.Reactions {
		if !(r.UserID == userID && r.Emoji == emoji) {
			out = append(out, r)
		}
	}
	c.Reactions = out
}

// GamePlayerState is in-memory, per-game player bookkeeping (elimination,
// score, position) kept separate from PlayerRuntimeState.
type GamePlayerState struct {
	UserID        uuid.UUID `json:"userId"`
	IsEliminated  bool      `json:"isEliminated"`
	Position      *int      `json:"position,omitempty"`
	Score         int       `json:"score"`
	EliminatedAt  *int64    `json:"eliminatedAt,omitempty"`
}

// NewGamePlayerState returns a fresh, non-eliminated player state.
func NewGamePlayerState(userID uuid.UUID) *GamePlayerState {
	return &GamePlayerState{UserID: userID}
}

// Eliminate marks the player eliminated and stamps the elimination time.
func (g *GamePlayerState) Eliminate() {
	now := time.Now().Unix()
	g.IsEliminated = true
	g.EliminatedAt = &now
}

// IsActive reports whether the player is still in the game.
func (g *GamePlayerState) IsActive() bool {
	return !g.IsEliminated
}

// TurnRotation tracks whose turn it is among a set of players, skipping
// eliminated players.
type TurnRotation struct {
	order       []uuid.UUID
	currentIdx  int
	eliminated  map[uuid.UUID]bool
}

// NewTurnRotation builds a rotation from an ordered player list.
func NewTurnRotation(playerIDs []uuid.UUID) *TurnRotation {
	order := make([]uuid.UUID, len(playerIDs))
	copy(order, playerIDs)
	return &TurnRotation{
		order:      order,
		eliminated: make(map[uuid.UUID]bool),
	}
}

// ActivePlayers returns player IDs that have not been eliminated, in rotation order.
func (t *TurnRotation) ActivePlayers() []uuid.UUID {
	active := make([]uuid.UUID, 0, len(t.order))
	for _, id := range t.order {
		if !t.eliminated[id] {
			active = append(active, id)
		}
	}
	return active
}

// ActiveCount returns the number of remaining players.
func (t *TurnRotation) ActiveCount() int {
	return len(t.ActivePlayers())
}

// CurrentPlayer returns whose turn it is, or uuid.Nil if nobody remains.
func (t *TurnRotation) CurrentPlayer() (uuid.UUID, bool) {
	active := t.ActivePlayers()
	if t.currentIdx >= len(active) {
		return uuid.Nil, false
	}
	return active[t.currentIdx], true
}

// NextTurn advances to the next active player, wrapping around eliminated players.
func (t *TurnRotation) NextTurn() (uuid.UUID, bool) {
	active := t.ActivePlayers()
	if len(active) == 0 {
		return uuid.Nil, false
	}
	t.currentIdx = (t.currentIdx + 1) % len(active)
	return active[t.currentIdx], true
}

// EliminatePlayer removes a player from future turns, advancing the turn
// pointer if the eliminated player currently held it.
func (t *TurnRotation) EliminatePlayer(playerID uuid.UUID) {
	active := t.ActivePlayers()
	pos := -1
	for i, id := range active {
		if id == playerID {
			pos = i
			break
		}
	}
	t.eliminated[playerID] = true
	if pos < 0 {
		return
	}
	// currentIdx indexes the active list, which just lost the entry at pos.
	if pos < t.currentIdx {
		t.currentIdx--
	}
	if remaining := len(active) - 1; remaining > 0 && t.currentIdx >= remaining {
		t.currentIdx = 0
	}
}

// IsGameOver reports whether 0 or 1 players remain.
func (t *TurnRotation) IsGameOver() bool {
	return t.ActiveCount() <= 1
}

// Winner returns the last remaining player, if exactly one remains.
func (t *TurnRotation) Winner() (uuid.UUID, bool) {
	active := t.ActivePlayers()
	if len(active) == 1 {
		return active[0], true
	}
	return uuid.Nil, false
}

// PlayerRanking is one player's placement in final GameResults.
type PlayerRanking struct {
	UserID uuid.UUID `json:"userId"`
	Rank   int       `json:"rank"`
	Score  *int      `json:"score,omitempty"`
	Prize  *float64  `json:"prize,omitempty"`
}

// GameResults is the standard final-results shape every game engine returns.
type GameResults struct {
	Rankings   []PlayerRanking `json:"rankings"`
	FinishedAt int64           `json:"finishedAt"`
	Metadata   any             `json:"metadata,omitempty"`
}

// GameResultsFromStates ranks players active-first, then by reverse
// elimination time (later elimination ranks higher).
func GameResultsFromStates(states []*GamePlayerState) *GameResults {
	ordered := make([]*GamePlayerState, len(states))
	copy(ordered, states)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.IsEliminated != b.IsEliminated {
			return !a.IsEliminated
		}
		if !a.IsEliminated {
			return false
		}
		at, bt := int64(0), int64(0)
		if a.EliminatedAt != nil {
			at = *a.EliminatedAt
		}
		if b.EliminatedAt != nil {
			bt = *b.EliminatedAt
		}
		return at > bt
	})

	rankings := make([]PlayerRanking, len(ordered))
	for i, s := range ordered {
		score := s.Score
		rankings[i] = PlayerRanking{
			UserID: s.UserID,
			Rank:   i + 1,
			Score:  &score,
		}
	}
	return &GameResults{Rankings: rankings, FinishedAt: time.Now().Unix()}
}

// GameSummary is the permanent record persisted at keys.GameState after a
// game finishes.
type GameSummary struct {
	Results    *GameResults `json:"results"`
	Metadata   any          `json:"metadata,omitempty"`
	FinishedAt int64        `json:"finishedAt"`
}
