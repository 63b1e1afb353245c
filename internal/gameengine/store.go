package gameengine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// InstanceStore manages active game Instances in memory, keyed by lobby ID.
type InstanceStore struct {
	mu        sync.Mutex
	instances map[uuid.UUID]*Instance
	cancels   map[uuid.UUID]context.CancelFunc
}

func NewInstanceStore() *InstanceStore {
	return &InstanceStore{
		instances: make(map[uuid.UUID]*Instance),
		cancels:   make(map[uuid.UUID]context.CancelFunc),
	}
}

// Start registers an instance and launches its Run loop in a new goroutine,
// tied to a cancelable context stored for later Stop.
func (s *InstanceStore) Start(parent context.Context, in *Instance, playerIDs []uuid.UUID) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	s.instances[in.LobbyID] = in
	s.cancels[in.LobbyID] = cancel
	s.mu.Unlock()

	go in.Run(ctx, playerIDs)
}

// StartInitialized registers an instance whose engine has already been
// initialized by the caller (so init errors can be handled before the
// lobby's status transition is committed) and launches its loop directly,
// skipping Engine.Initialize a second time.
func (s *InstanceStore) StartInitialized(parent context.Context, in *Instance, initialEvents []json.RawMessage) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	s.instances[in.LobbyID] = in
	s.cancels[in.LobbyID] = cancel
	s.mu.Unlock()

	go in.RunInitialized(ctx, initialEvents)
}

// Get retrieves the running instance for a lobby, if any.
func (s *InstanceStore) Get(lobbyID uuid.UUID) (*Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.instances[lobbyID]
	return in, ok
}

// Stop cancels and forgets a lobby's game instance.
func (s *InstanceStore) Stop(lobbyID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[lobbyID]; ok {
		cancel()
	}
	delete(s.instances, lobbyID)
	delete(s.cancels, lobbyID)
}
