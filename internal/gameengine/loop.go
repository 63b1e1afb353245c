package gameengine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stacks-wars/lobbyd/internal/rtmodels"
)

// action is one queued player action awaiting the loop's next drain.
type action struct {
	userID  uuid.UUID
	payload json.RawMessage
}

// Instance owns one running Engine for one lobby: an action queue, a
// cooperative drain/tick/broadcast loop, and the finish callback. The
// queue is an in-memory channel; the loop never needs to survive process
// restarts mid-game.
type Instance struct {
	LobbyID uuid.UUID
	Engine  Engine

	actions  chan action
	interval time.Duration
	logger   *logrus.Logger

	broadcast     func(events []json.RawMessage)
	onFinish      func(results *rtmodels.GameResults)
	onActionError func(userID uuid.UUID, message string)
}

// NewInstance constructs a loop-owned engine instance. broadcast is called
// with every batch of events produced by a drain/tick cycle; onFinish is
// called exactly once, after the engine reports IsFinished(); onActionError
// is called whenever Engine.HandleAction rejects a submitted action (e.g.
// NotYourTurn, AlreadyEliminated, duplicate guess this round), so the
// rejection reaches the submitting client as a direct error reply rather
// than being dropped.
func NewInstance(lobbyID uuid.UUID, engine Engine, interval time.Duration, logger *logrus.Logger, broadcast func([]json.RawMessage), onFinish func(*rtmodels.GameResults), onActionError func(uuid.UUID, string)) *Instance {
	return &Instance{
		LobbyID:       lobbyID,
		Engine:        engine,
		actions:       make(chan action, 64),
		interval:      interval,
		logger:        logger,
		broadcast:     broadcast,
		onFinish:      onFinish,
		onActionError: onActionError,
	}
}

// Submit enqueues a player action for the next drain cycle. Non-blocking:
// a full queue drops the action and logs, matching the hub's non-blocking
// send discipline (never let a slow/stuck consumer stall a producer).
func (in *Instance) Submit(userID uuid.UUID, payload json.RawMessage) {
	select {
	case in.actions <- action{userID: userID, payload: payload}:
	default:
		in.logger.WithField("lobby_id", in.LobbyID).Warn("game action queue full, dropping action")
	}
}

// Run drives the engine until it finishes or ctx is canceled: initialize,
// then repeatedly drain queued actions, tick, and broadcast, sleeping
// `interval` between cycles.
func (in *Instance) Run(ctx context.Context, playerIDs []uuid.UUID) {
	events, err := in.Engine.Initialize(playerIDs)
	if err != nil {
		in.logger.WithError(err).WithField("lobby_id", in.LobbyID).Error("game engine initialize failed")
		return
	}
	in.RunInitialized(ctx, events)
}

// RunInitialized drives an already-initialized engine: the caller has
// already called Engine.Initialize (so it could inspect the error before
// committing the lobby's status transition) and hands the resulting events
// here to be broadcast as the loop's first cycle.
func (in *Instance) RunInitialized(ctx context.Context, initialEvents []json.RawMessage) {
	if len(initialEvents) > 0 {
		in.broadcast(initialEvents)
	}

	ticker := time.NewTicker(in.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case act := <-in.actions:
			events, err := in.Engine.HandleAction(act.userID, act.payload)
			if err != nil {
				in.logger.WithError(err).WithField("lobby_id", in.LobbyID).Debug("game action rejected")
				if in.onActionError != nil {
					in.onActionError(act.userID, err.Error())
				}
				continue
			}
			if len(events) > 0 {
				in.broadcast(events)
			}
			if in.checkFinished() {
				return
			}

		case <-ticker.C:
			events, err := in.Engine.Tick()
			if err != nil {
				in.logger.WithError(err).WithField("lobby_id", in.LobbyID).Error("game engine tick failed")
				continue
			}
			if len(events) > 0 {
				in.broadcast(events)
			}
			if in.checkFinished() {
				return
			}
		}
	}
}

// checkFinished reports the finish callback once, returning true if the
// engine has concluded.
func (in *Instance) checkFinished() bool {
	if !in.Engine.IsFinished() {
		return false
	}
	results, err := in.Engine.GetResults()
	if err != nil {
		in.logger.WithError(err).WithField("lobby_id", in.LobbyID).Error("failed to read final game results")
		return true
	}
	if in.onFinish != nil {
		in.onFinish(results)
	}
	return true
}
