package room

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stacks-wars/lobbyd/internal/config"
	"github.com/stacks-wars/lobbyd/internal/external"
	"github.com/stacks-wars/lobbyd/internal/gameengine"
	"github.com/stacks-wars/lobbyd/internal/hub"
	"github.com/stacks-wars/lobbyd/internal/store"
)

// Manager owns the in-memory registry of live Room engines, one per active
// lobby_id. Rooms are constructed lazily on first access rather than by an
// explicit create-lobby call: lobbies are created through the platform's
// CRUD surface and only gain a live Room once a socket first touches them.
type Manager struct {
	logger *logrus.Logger
	hub    *hub.Hub
	cfg    config.Config

	lobbies    *store.LobbyStateRepository
	players    *store.PlayerStateRepository
	chats      *store.ChatRepository
	summaries  *store.GameSummaryStore
	games      *gameengine.InstanceStore
	relational external.RelationalStore
	notifier   ListNotifier

	mu    sync.Mutex
	rooms map[uuid.UUID]*Room
}

func NewManager(
	logger *logrus.Logger,
	h *hub.Hub,
	cfg config.Config,
	lobbies *store.LobbyStateRepository,
	players *store.PlayerStateRepository,
	chats *store.ChatRepository,
	summaries *store.GameSummaryStore,
	games *gameengine.InstanceStore,
	relational external.RelationalStore,
	notifier ListNotifier,
) *Manager {
	return &Manager{
		logger:     logger,
		hub:        h,
		cfg:        cfg,
		lobbies:    lobbies,
		players:    players,
		chats:      chats,
		summaries:  summaries,
		games:      games,
		relational: relational,
		notifier:   notifier,
		rooms:      make(map[uuid.UUID]*Room),
	}
}

// Get returns the live Room for lobbyID, constructing one on first access.
func (m *Manager) Get(lobbyID uuid.UUID) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[lobbyID]; ok {
		return r
	}
	r := New(m.logger, m.hub, m.cfg, m.lobbies, m.players, m.chats, m.summaries, m.games, m.relational, m.notifier, lobbyID)
	m.rooms[lobbyID] = r
	return r
}

// Drop forgets a lobby's Room and stops its owning goroutine, e.g. once it
// has finished and its last connection has disconnected. A subsequent Get
// reconstructs it from persisted state if the lobby is touched again.
func (m *Manager) Drop(lobbyID uuid.UUID) {
	m.mu.Lock()
	r, ok := m.rooms[lobbyID]
	delete(m.rooms, lobbyID)
	m.mu.Unlock()
	if ok {
		r.Close()
	}
}
