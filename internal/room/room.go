// Package room implements the per-lobby state machine: join/leave/kick,
// the private-lobby join-request flow, the start countdown, chat, and the
// handoff into a running game-engine instance once a game starts.
//
// Every mutating command is executed by one owning goroutine per lobby:
// connection read loops (and the countdown and game-loop goroutines)
// enqueue onto the Room's mailbox rather than touching state directly, so
// all room mutations and their broadcasts serialize through a single
// task, and every receiver observes the same event order. A full mailbox
// rejects the command back to its submitter, never a silent drop.
//
// Lobby status lives in Redis and every transition goes through the
// store's compare-and-set; the Room's own mutex only owns the countdown
// goroutine's lifecycle and the mailbox's closed flag, never the status
// race. The countdown's cancel-vs-fire race resolves through the CAS:
// whichever of "cancel" and "countdown reached zero, start the game"
// commits its status transition first wins, and the other gets
// LobbyStatusFailed from the store layer.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stacks-wars/lobbyd/internal/apperror"
	"github.com/stacks-wars/lobbyd/internal/config"
	"github.com/stacks-wars/lobbyd/internal/external"
	"github.com/stacks-wars/lobbyd/internal/gameengine"
	"github.com/stacks-wars/lobbyd/internal/hub"
	"github.com/stacks-wars/lobbyd/internal/protocol"
	"github.com/stacks-wars/lobbyd/internal/rtmodels"
	"github.com/stacks-wars/lobbyd/internal/store"
)

const maxChatContentLen = 500

// ListNotifier is the narrow slice of internal/lobbylist.Service a Room
// needs: pushing an incremental row update to lobby-list subscribers
// whenever this lobby's status, player count, or pool changes. Declared
// here (rather than importing internal/lobbylist) to avoid a dependency
// cycle; lobbylist enriches rows using the same store/external
// collaborators a Room already holds.
type ListNotifier interface {
	PublishUpdate(ctx context.Context, lobbyID uuid.UUID)
}

// Room is the live engine for one lobby. One Room exists per active
// lobby_id; internal/room.Manager owns the map from lobby_id to Room.
type Room struct {
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

	lobbyID uuid.UUID
	mailbox chan func(context.Context)

	mu              sync.Mutex
	closed          bool
	countdownCancel context.CancelFunc
}

// mailboxSize bounds queued room commands. Far above what a lobby's worth
// of sockets can produce between drains; overflow means a misbehaving
// client and is rejected, not dropped.
const mailboxSize = 256

// New constructs the engine for one lobby.
func New(
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
	lobbyID uuid.UUID,
) *Room {
	r := &Room{
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
		lobbyID:    lobbyID,
		mailbox:    make(chan func(context.Context), mailboxSize),
	}
	go r.loop()
	return r
}

// loop is the room's owning goroutine: it drains the mailbox and runs each
// command to completion before the next, so all mutations and their
// broadcasts for this lobby are serialized. Commands run under a fresh
// context rather than the submitting connection's, so a client
// disconnecting mid-command never cancels a half-applied mutation.
func (r *Room) loop() {
	for fn := range r.mailbox {
		fn(context.Background())
	}
}

// enqueue hands fn to the room's owning goroutine. A full mailbox rejects
// the command with a direct error reply to connID (uuid.Nil for internal
// callers, where Send is a no-op); a closed room discards it.
func (r *Room) enqueue(connID uuid.UUID, fn func(context.Context)) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	select {
	case r.mailbox <- fn:
		r.mu.Unlock()
		return
	default:
	}
	r.mu.Unlock()
	r.logger.WithField("lobby_id", r.lobbyID).Warn("room: mailbox full, rejecting command")
	r.sendErr(connID, apperror.RoomBusy())
}

// Close stops the room's owning goroutine. Called by Manager.Drop; safe to
// call twice.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.mailbox)
}

func (r *Room) sendErr(connID uuid.UUID, err error) {
	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		appErr = apperror.Internal(err)
	}
	if appErr.Kind == apperror.KindInternal {
		// The wire message carries only appErr's fixed text; the cause
		// goes to the server log, keyed by the connection it failed for.
		r.logger.WithError(err).WithFields(logrus.Fields{
			"lobby_id": r.lobbyID,
			"conn_id":  connID,
		}).Error("room: internal error")
	}
	r.hub.Send(connID, protocol.MarshalError(appErr.Code, appErr.Message))
}

func (r *Room) broadcastLobby(msgType string, payload any) {
	msg, err := protocol.Marshal(msgType, payload)
	if err != nil {
		r.logger.WithError(err).WithField("lobby_id", r.lobbyID).Error("marshal lobby broadcast failed")
		return
	}
	r.hub.BroadcastRoom(r.lobbyID, msg)
}

// bootstrapPayload is the initial full-state snapshot sent to a newly
// registered room connection.
type bootstrapPayload struct {
	Lobby              *rtmodels.LobbyRuntimeState   `json:"lobby"`
	Players            []*rtmodels.PlayerRuntimeState `json:"players"`
	ChatHistory        []*rtmodels.ChatMessage        `json:"chatHistory"`
	CountdownRemaining *int                            `json:"countdownRemaining,omitempty"`
	YouAreCreator      bool                            `json:"youAreCreator"`
	Spectator          bool                            `json:"spectator"`
}

// Bootstrap sends the new connection its initial lobbyBootstrap snapshot:
// full lobby state, roster, recent chat, and countdown remaining if one
// is running.
func (r *Room) Bootstrap(ctx context.Context, connID uuid.UUID, identity external.Identity) error {
	lobby, err := r.lobbies.Get(ctx, r.lobbyID)
	if err != nil {
		return err
	}
	players, err := r.players.GetBatch(ctx, r.lobbyID)
	if err != nil {
		return err
	}
	history, err := r.chats.GetHistory(ctx, r.lobbyID, r.cfg.ChatHistoryLimit)
	if err != nil {
		return err
	}

	payload := bootstrapPayload{
		Lobby:       lobby,
		Players:     players,
		ChatHistory: history,
		Spectator:   identity.Anonymous || identity.Claims == nil,
	}
	if lobby.Status == rtmodels.LobbyStatusStarting && lobby.CountdownAt != 0 {
		remaining := int(lobby.CountdownAt - time.Now().Unix())
		if remaining < 0 {
			remaining = 0
		}
		payload.CountdownRemaining = &remaining
	}
	if identity.Claims != nil {
		payload.YouAreCreator = identity.Claims.UserID == lobby.HostUserID
	}

	msg, err := protocol.Marshal(protocol.ServerLobbyBootstrap, payload)
	if err != nil {
		return err
	}
	r.hub.Send(connID, msg)
	return nil
}

// joinParticipant enrolls userID as a participant: validates capacity,
// enriches identity from the relational store, and persists the player's
// runtime state. Shared by Join (self-service) and ApproveJoin
// (creator-approved, on behalf of the requester).
func (r *Room) joinParticipant(ctx context.Context, userID uuid.UUID) (*rtmodels.PlayerRuntimeState, error) {
	lobby, err := r.lobbies.Get(ctx, r.lobbyID)
	if err != nil {
		return nil, err
	}
	if lobby.Participants[userID] {
		return nil, apperror.AlreadyJoined()
	}
	if len(lobby.Participants) >= lobby.MaxPlayers {
		return nil, apperror.LobbyFull()
	}

	var wallet, username, displayName string
	var trust float64
	if profile, err := r.relational.FindUserByID(ctx, userID); err == nil {
		wallet, username, displayName, trust = profile.WalletAddr, profile.Username, profile.DisplayName, profile.TrustRating
	} else {
		r.logger.WithError(err).WithField("user_id", userID).Warn("room: failed to enrich joining user profile")
	}

	isCreator := userID == lobby.HostUserID
	player := rtmodels.NewPlayerRuntimeState(userID, r.lobbyID, wallet, username, displayName, trust, "", isCreator)

	if err := r.players.Join(ctx, player); err != nil {
		return nil, err
	}
	if err := r.lobbies.AddParticipant(ctx, r.lobbyID, userID); err != nil {
		return nil, err
	}
	if lobby.EntryAmount != 0 {
		if err := r.lobbies.IncrementCurrentAmount(ctx, r.lobbyID, lobby.EntryAmount); err != nil {
			r.logger.WithError(err).WithField("lobby_id", r.lobbyID).Warn("room: failed to increment pooled entry amount")
		}
	}
	return player, nil
}

// Join adds the calling identity as a lobby participant. Already-joined is
// a silent idempotent no-op.
func (r *Room) Join(ctx context.Context, connID uuid.UUID, claims *external.Claims) {
	r.enqueue(connID, func(ctx context.Context) { r.join(ctx, connID, claims) })
}

func (r *Room) join(ctx context.Context, connID uuid.UUID, claims *external.Claims) {
	if claims == nil {
		r.sendErr(connID, apperror.NotAuthenticated())
		return
	}
	player, err := r.joinParticipant(ctx, claims.UserID)
	if err != nil {
		var appErr *apperror.Error
		if errors.As(err, &appErr) && appErr.Code == "ALREADY_JOINED" {
			return
		}
		r.sendErr(connID, err)
		return
	}
	r.broadcastLobby(protocol.ServerPlayerJoined, player)
	r.notifier.PublishUpdate(ctx, r.lobbyID)
}

// Leave removes the calling identity from the lobby. A creator leaving a
// Waiting lobby dissolves it instead of just shrinking the roster.
func (r *Room) Leave(ctx context.Context, connID uuid.UUID, claims *external.Claims) {
	r.enqueue(connID, func(ctx context.Context) { r.leave(ctx, connID, claims) })
}

func (r *Room) leave(ctx context.Context, connID uuid.UUID, claims *external.Claims) {
	if claims == nil {
		r.sendErr(connID, apperror.NotAuthenticated())
		return
	}
	lobby, err := r.lobbies.Get(ctx, r.lobbyID)
	if err != nil {
		r.sendErr(connID, err)
		return
	}
	if !lobby.Participants[claims.UserID] {
		r.sendErr(connID, apperror.NotInLobby())
		return
	}

	if claims.UserID == lobby.HostUserID && lobby.Status == rtmodels.LobbyStatusWaiting {
		r.dissolve(ctx, lobby)
		return
	}

	if err := r.players.Remove(ctx, r.lobbyID, claims.UserID); err != nil {
		r.sendErr(connID, err)
		return
	}
	if err := r.lobbies.RemoveParticipant(ctx, r.lobbyID, claims.UserID); err != nil {
		r.sendErr(connID, err)
		return
	}
	r.broadcastLobby(protocol.ServerPlayerLeft, protocol.UserTargetPayload{UserID: claims.UserID})
	r.notifier.PublishUpdate(ctx, r.lobbyID)
}

// dissolve ends a still-Waiting lobby when its creator leaves: every
// participant is evicted and the lobby is archived Finished with no game
// having run.
func (r *Room) dissolve(ctx context.Context, lobby *rtmodels.LobbyRuntimeState) {
	if err := r.players.ClearParticipants(ctx, r.lobbyID); err != nil {
		r.logger.WithError(err).WithField("lobby_id", r.lobbyID).Error("room: dissolve failed to clear player state")
	}
	if err := r.lobbies.ClearParticipants(ctx, r.lobbyID); err != nil {
		r.logger.WithError(err).WithField("lobby_id", r.lobbyID).Error("room: dissolve failed to clear participant set")
	}
	if err := r.lobbies.UpdateStatus(ctx, r.lobbyID, lobby.Status, rtmodels.LobbyStatusFinished); err != nil {
		r.logger.WithError(err).WithField("lobby_id", r.lobbyID).Warn("room: dissolve status CAS lost, lobby state left as-is")
	}
	r.broadcastLobby(protocol.ServerLobbyStatusChanged, map[string]string{
		"status": string(rtmodels.LobbyStatusFinished),
		"reason": "creatorLeft",
	})
	r.notifier.PublishUpdate(ctx, r.lobbyID)
}

// RequestJoin records a pending join request against a private lobby.
func (r *Room) RequestJoin(ctx context.Context, connID uuid.UUID, claims *external.Claims) {
	r.enqueue(connID, func(ctx context.Context) { r.requestJoin(ctx, connID, claims) })
}

func (r *Room) requestJoin(ctx context.Context, connID uuid.UUID, claims *external.Claims) {
	if claims == nil {
		r.sendErr(connID, apperror.NotAuthenticated())
		return
	}
	lobby, err := r.lobbies.Get(ctx, r.lobbyID)
	if err != nil {
		r.sendErr(connID, err)
		return
	}
	if !lobby.IsPrivate {
		r.sendErr(connID, apperror.InvalidMessage("lobby is not private"))
		return
	}
	if lobby.Participants[claims.UserID] {
		return
	}
	if err := r.lobbies.AddJoinRequest(ctx, r.lobbyID, claims.UserID); err != nil {
		r.sendErr(connID, err)
		return
	}
	r.broadcastLobby(protocol.ServerJoinRequested, protocol.UserTargetPayload{UserID: claims.UserID})
}

// ApproveJoin admits a pending join requester. Creator-only.
func (r *Room) ApproveJoin(ctx context.Context, connID uuid.UUID, claims *external.Claims, target uuid.UUID) {
	r.enqueue(connID, func(ctx context.Context) { r.approveJoin(ctx, connID, claims, target) })
}

func (r *Room) approveJoin(ctx context.Context, connID uuid.UUID, claims *external.Claims, target uuid.UUID) {
	if claims == nil {
		r.sendErr(connID, apperror.NotAuthenticated())
		return
	}
	lobby, err := r.lobbies.Get(ctx, r.lobbyID)
	if err != nil {
		r.sendErr(connID, err)
		return
	}
	if claims.UserID != lobby.HostUserID {
		r.sendErr(connID, apperror.NotCreator())
		return
	}
	hasReq, err := r.lobbies.HasJoinRequest(ctx, r.lobbyID, target)
	if err != nil {
		r.sendErr(connID, err)
		return
	}
	if !hasReq {
		r.sendErr(connID, apperror.ApproveFailed("no pending join request for that user"))
		return
	}
	if err := r.lobbies.RemoveJoinRequest(ctx, r.lobbyID, target); err != nil {
		r.sendErr(connID, err)
		return
	}
	player, err := r.joinParticipant(ctx, target)
	if err != nil {
		r.sendErr(connID, apperror.ApproveFailed(err.Error()))
		return
	}
	r.broadcastLobby(protocol.ServerJoinApproved, protocol.UserTargetPayload{UserID: target})
	r.broadcastLobby(protocol.ServerPlayerJoined, player)
	r.notifier.PublishUpdate(ctx, r.lobbyID)
}

// RejectJoin clears a pending join request without admitting the requester.
func (r *Room) RejectJoin(ctx context.Context, connID uuid.UUID, claims *external.Claims, target uuid.UUID) {
	r.enqueue(connID, func(ctx context.Context) { r.rejectJoin(ctx, connID, claims, target) })
}

func (r *Room) rejectJoin(ctx context.Context, connID uuid.UUID, claims *external.Claims, target uuid.UUID) {
	if claims == nil {
		r.sendErr(connID, apperror.NotAuthenticated())
		return
	}
	lobby, err := r.lobbies.Get(ctx, r.lobbyID)
	if err != nil {
		r.sendErr(connID, err)
		return
	}
	if claims.UserID != lobby.HostUserID {
		r.sendErr(connID, apperror.NotCreator())
		return
	}
	if err := r.lobbies.RemoveJoinRequest(ctx, r.lobbyID, target); err != nil {
		r.sendErr(connID, err)
		return
	}
	r.broadcastLobby(protocol.ServerJoinRejected, protocol.UserTargetPayload{UserID: target})
}

// Kick evicts a participant. Creator-only, and only while the lobby is
// still Waiting for a game to start.
func (r *Room) Kick(ctx context.Context, connID uuid.UUID, claims *external.Claims, target uuid.UUID) {
	r.enqueue(connID, func(ctx context.Context) { r.kick(ctx, connID, claims, target) })
}

func (r *Room) kick(ctx context.Context, connID uuid.UUID, claims *external.Claims, target uuid.UUID) {
	if claims == nil {
		r.sendErr(connID, apperror.NotAuthenticated())
		return
	}
	lobby, err := r.lobbies.Get(ctx, r.lobbyID)
	if err != nil {
		r.sendErr(connID, err)
		return
	}
	if claims.UserID != lobby.HostUserID {
		r.sendErr(connID, apperror.NotCreator())
		return
	}
	if lobby.Status != rtmodels.LobbyStatusWaiting {
		r.sendErr(connID, apperror.KickFailed("lobby is not waiting"))
		return
	}
	if !lobby.Participants[target] {
		r.sendErr(connID, apperror.KickFailed("user is not a participant"))
		return
	}
	if err := r.players.Remove(ctx, r.lobbyID, target); err != nil {
		r.sendErr(connID, err)
		return
	}
	if err := r.lobbies.RemoveParticipant(ctx, r.lobbyID, target); err != nil {
		r.sendErr(connID, err)
		return
	}
	r.broadcastLobby(protocol.ServerPlayerKicked, protocol.UserTargetPayload{UserID: target})
	r.notifier.PublishUpdate(ctx, r.lobbyID)
}

// SendMessage posts a chat message, enforcing the content length invariant.
func (r *Room) SendMessage(ctx context.Context, connID uuid.UUID, claims *external.Claims, payload protocol.SendMessagePayload) {
	r.enqueue(connID, func(ctx context.Context) { r.sendMessage(ctx, connID, claims, payload) })
}

func (r *Room) sendMessage(ctx context.Context, connID uuid.UUID, claims *external.Claims, payload protocol.SendMessagePayload) {
	if claims == nil {
		r.sendErr(connID, apperror.NotAuthenticated())
		return
	}
	content := strings.TrimSpace(payload.Content)
	if len(content) == 0 || len(content) > maxChatContentLen {
		r.sendErr(connID, apperror.SendMessageFailed(fmt.Sprintf("content must be 1-%d characters", maxChatContentLen)))
		return
	}
	lobby, err := r.lobbies.Get(ctx, r.lobbyID)
	if err != nil {
		r.sendErr(connID, err)
		return
	}
	if !lobby.Participants[claims.UserID] {
		r.sendErr(connID, apperror.NotInLobby())
		return
	}

	username := claims.Wallet
	if profile, err := r.relational.FindUserByID(ctx, claims.UserID); err == nil {
		username = profile.Username
	}

	msg := &rtmodels.ChatMessage{
		MessageID: uuid.New(),
		LobbyID:   r.lobbyID,
		UserID:    claims.UserID,
		Username:  username,
		Content:   content,
		ReplyTo:   payload.ReplyTo,
		CreatedAt: time.Now().Unix(),
	}
	if err := r.chats.CreateMessage(ctx, msg); err != nil {
		r.sendErr(connID, err)
		return
	}
	r.broadcastLobby(protocol.ServerChatMessage, msg)
}

// AddReaction and RemoveReaction toggle an emoji reaction on a chat message.

func (r *Room) AddReaction(ctx context.Context, connID uuid.UUID, claims *external.Claims, payload protocol.ReactionPayload) {
	r.enqueue(connID, func(ctx context.Context) { r.addReaction(ctx, connID, claims, payload) })
}

func (r *Room) addReaction(ctx context.Context, connID uuid.UUID, claims *external.Claims, payload protocol.ReactionPayload) {
	if claims == nil {
		r.sendErr(connID, apperror.NotAuthenticated())
		return
	}
	if payload.Emoji == "" {
		r.sendErr(connID, apperror.ReactionFailed("emoji is required"))
		return
	}
	if err := r.chats.AddReaction(ctx, r.lobbyID, payload.MessageID, claims.UserID, payload.Emoji); err != nil {
		r.sendErr(connID, err)
		return
	}
	r.broadcastLobby(protocol.ServerChatReactionUpdated, payload)
}

func (r *Room) RemoveReaction(ctx context.Context, connID uuid.UUID, claims *external.Claims, payload protocol.ReactionPayload) {
	r.enqueue(connID, func(ctx context.Context) { r.removeReaction(ctx, connID, claims, payload) })
}

func (r *Room) removeReaction(ctx context.Context, connID uuid.UUID, claims *external.Claims, payload protocol.ReactionPayload) {
	if claims == nil {
		r.sendErr(connID, apperror.NotAuthenticated())
		return
	}
	if err := r.chats.RemoveReaction(ctx, r.lobbyID, payload.MessageID, claims.UserID, payload.Emoji); err != nil {
		r.sendErr(connID, err)
		return
	}
	r.broadcastLobby(protocol.ServerChatReactionUpdated, payload)
}

// Ping refreshes a participant's heartbeat. Never broadcast.
func (r *Room) Ping(ctx context.Context, connID uuid.UUID, claims *external.Claims) {
	if claims == nil {
		return
	}
	r.enqueue(connID, func(ctx context.Context) {
		if err := r.players.TouchPing(ctx, r.lobbyID, claims.UserID); err != nil {
			r.logger.WithError(err).WithField("lobby_id", r.lobbyID).Debug("room: ping touch failed")
		}
	})
}

// SubmitGameAction forwards a participant's in-progress-game action (e.g.
// Coin Flip's make_guess) to the lobby's running gameengine.Instance. It
// bypasses the room mailbox: the instance's own bounded action queue is
// the serialization point for in-game state, and nothing here touches
// lobby state.
func (r *Room) SubmitGameAction(ctx context.Context, connID uuid.UUID, claims *external.Claims, action json.RawMessage) {
	if claims == nil {
		r.sendErr(connID, apperror.NotAuthenticated())
		return
	}
	instance, ok := r.games.Get(r.lobbyID)
	if !ok {
		r.sendErr(connID, apperror.GameActionFailed("no game is currently in progress"))
		return
	}
	instance.Submit(claims.UserID, action)
}

// UpdateLobbyStatus is the creator-driven half of the lobby status machine:
// Waiting->Starting begins the countdown, Starting->Waiting cancels it.
// The remaining transitions (Starting->InProgress, InProgress->Finished)
// are internally driven by the countdown and game loop, never by a client.
func (r *Room) UpdateLobbyStatus(ctx context.Context, connID uuid.UUID, claims *external.Claims, target string) {
	r.enqueue(connID, func(ctx context.Context) { r.updateLobbyStatus(ctx, connID, claims, target) })
}

func (r *Room) updateLobbyStatus(ctx context.Context, connID uuid.UUID, claims *external.Claims, target string) {
	if claims == nil {
		r.sendErr(connID, apperror.NotAuthenticated())
		return
	}
	lobby, err := r.lobbies.Get(ctx, r.lobbyID)
	if err != nil {
		r.sendErr(connID, err)
		return
	}
	if claims.UserID != lobby.HostUserID {
		r.sendErr(connID, apperror.NotCreator())
		return
	}

	next := rtmodels.LobbyStatus(target)
	switch {
	case lobby.Status == rtmodels.LobbyStatusWaiting && next == rtmodels.LobbyStatusStarting:
		r.beginCountdown(ctx, connID, lobby)
	case lobby.Status == rtmodels.LobbyStatusStarting && next == rtmodels.LobbyStatusWaiting:
		r.cancelCountdown(ctx, connID)
	default:
		r.sendErr(connID, apperror.LobbyStatusFailed(fmt.Sprintf("cannot transition %s -> %s", lobby.Status, next)))
	}
}

func (r *Room) beginCountdown(ctx context.Context, connID uuid.UUID, lobby *rtmodels.LobbyRuntimeState) {
	if _, ok := gameengine.MinPlayers(lobby.GamePath); !ok {
		r.sendErr(connID, apperror.LobbyStatusFailed(fmt.Sprintf("unknown game %q", lobby.GamePath)))
		return
	}
	if err := r.lobbies.UpdateStatus(ctx, r.lobbyID, rtmodels.LobbyStatusWaiting, rtmodels.LobbyStatusStarting); err != nil {
		r.sendErr(connID, err)
		return
	}

	deadline := time.Now().Add(time.Duration(r.cfg.CountdownSeconds) * time.Second).Unix()
	if err := r.lobbies.SetCountdown(ctx, r.lobbyID, deadline); err != nil {
		r.logger.WithError(err).WithField("lobby_id", r.lobbyID).Warn("room: failed to persist countdown deadline")
	}
	r.broadcastLobby(protocol.ServerLobbyStatusChanged, map[string]string{"status": string(rtmodels.LobbyStatusStarting)})
	r.notifier.PublishUpdate(ctx, r.lobbyID)

	countdownCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.countdownCancel = cancel
	r.mu.Unlock()

	go r.runCountdown(countdownCtx)
}

func (r *Room) cancelCountdown(ctx context.Context, connID uuid.UUID) {
	// The CAS attempt is the authoritative decision: if the countdown has
	// already fired and won the race into InProgress, this fails with
	// LobbyStatusFailed and the cancel is correctly rejected.
	if err := r.lobbies.UpdateStatus(ctx, r.lobbyID, rtmodels.LobbyStatusStarting, rtmodels.LobbyStatusWaiting); err != nil {
		r.sendErr(connID, apperror.LobbyStatusFailed("countdown already committed to starting the game"))
		return
	}

	r.mu.Lock()
	cancel := r.countdownCancel
	r.countdownCancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if err := r.lobbies.SetCountdown(ctx, r.lobbyID, 0); err != nil {
		r.logger.WithError(err).WithField("lobby_id", r.lobbyID).Warn("room: failed to clear countdown deadline")
	}
	r.broadcastLobby(protocol.ServerLobbyStatusChanged, map[string]string{"status": string(rtmodels.LobbyStatusWaiting)})
	r.notifier.PublishUpdate(ctx, r.lobbyID)
}

// runCountdown ticks the lobby's countdown down to zero, broadcasting a
// countdownTick every second, then hands off to the game engine.
func (r *Room) runCountdown(ctx context.Context) {
	remaining := r.cfg.CountdownSeconds
	r.broadcastLobby(protocol.ServerCountdownTick, map[string]int{"remaining": remaining})

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for remaining > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			remaining--
			r.broadcastLobby(protocol.ServerCountdownTick, map[string]int{"remaining": remaining})
		}
	}

	// Tick zero hands back to the room's owning goroutine so game init
	// serializes with any client command racing it.
	r.enqueue(uuid.Nil, r.finishCountdown)
}

// finishCountdown fires at tick zero: it initializes the game engine and,
// only on success, commits the Starting->InProgress transition and hands
// the engine to the game loop. A concurrent cancel that already committed
// Starting->Waiting makes this CAS fail harmlessly.
func (r *Room) finishCountdown(ctx context.Context) {
	lobby, err := r.lobbies.Get(ctx, r.lobbyID)
	if err != nil {
		r.logger.WithError(err).WithField("lobby_id", r.lobbyID).Error("room: countdown fire failed to load lobby state")
		return
	}

	playerIDs := make([]uuid.UUID, 0, len(lobby.Participants))
	for id := range lobby.Participants {
		playerIDs = append(playerIDs, id)
	}

	engine, ok := gameengine.New(lobby.GamePath, r.lobbyID)
	if !ok {
		r.revertToWaiting(ctx, lobby.Status, apperror.LobbyStatusFailed(fmt.Sprintf("unknown game %q", lobby.GamePath)))
		return
	}

	events, err := engine.Initialize(playerIDs)
	if err != nil {
		var insufficient *gameengine.InsufficientPlayersError
		if errors.As(err, &insufficient) {
			r.revertToWaiting(ctx, lobby.Status, apperror.InsufficientPlayers(insufficient.Required, insufficient.Actual))
		} else {
			r.revertToWaiting(ctx, lobby.Status, apperror.Internal(err))
		}
		return
	}

	if err := r.lobbies.UpdateStatus(ctx, r.lobbyID, rtmodels.LobbyStatusStarting, rtmodels.LobbyStatusInProgress); err != nil {
		r.logger.WithField("lobby_id", r.lobbyID).Debug("room: countdown lost the status CAS, assuming a concurrent cancel won")
		return
	}
	if err := r.lobbies.SetCountdown(ctx, r.lobbyID, 0); err != nil {
		r.logger.WithError(err).WithField("lobby_id", r.lobbyID).Warn("room: failed to clear countdown deadline on game start")
	}
	r.broadcastLobby(protocol.ServerLobbyStatusChanged, map[string]string{"status": string(rtmodels.LobbyStatusInProgress)})
	r.notifier.PublishUpdate(ctx, r.lobbyID)

	gamePath := lobby.GamePath
	instance := gameengine.NewInstance(
		r.lobbyID,
		engine,
		r.cfg.GameLoopInterval,
		r.logger,
		func(evts []json.RawMessage) { r.broadcastGameEvents(gamePath, evts) },
		func(results *rtmodels.GameResults) {
			// The game loop's goroutine hands finalization back to the
			// room's owning goroutine.
			r.enqueue(uuid.Nil, func(ctx context.Context) { r.onGameFinish(ctx, gamePath, results) })
		},
		r.sendGameActionError,
	)
	r.games.StartInitialized(context.Background(), instance, events)
}

// revertToWaiting is finishCountdown's failure path: the game could not be
// initialized, so the lobby returns to Waiting rather than being stranded
// in Starting. A lost CAS here (the creator already canceled concurrently)
// is logged and otherwise ignored since the lobby is already Waiting.
func (r *Room) revertToWaiting(ctx context.Context, from rtmodels.LobbyStatus, cause *apperror.Error) {
	if err := r.lobbies.UpdateStatus(ctx, r.lobbyID, from, rtmodels.LobbyStatusWaiting); err != nil {
		r.logger.WithField("lobby_id", r.lobbyID).Debug("room: revert-to-waiting CAS lost, lobby status already moved on")
	}
	if err := r.lobbies.SetCountdown(ctx, r.lobbyID, 0); err != nil {
		r.logger.WithError(err).WithField("lobby_id", r.lobbyID).Warn("room: failed to clear countdown deadline on revert")
	}
	r.hub.BroadcastRoom(r.lobbyID, protocol.MarshalError(cause.Code, cause.Message))
	r.broadcastLobby(protocol.ServerLobbyStatusChanged, map[string]string{"status": string(rtmodels.LobbyStatusWaiting)})
	r.notifier.PublishUpdate(ctx, r.lobbyID)
}

// sendGameActionError delivers a rejected game action's error directly to
// every connection belonging to userID in this room (usually one, but a
// player may hold more than one open tab). Rejections from an engine's
// HandleAction are a direct error reply, not a silent drop.
func (r *Room) sendGameActionError(userID uuid.UUID, message string) {
	for _, conn := range r.hub.RoomConnections(r.lobbyID) {
		if conn.UserID == userID {
			r.hub.Send(conn.ID, protocol.MarshalError("GAME_ACTION_FAILED", message))
		}
	}
}

// broadcastGameEvents wraps and fans out a batch of raw game-engine events.
func (r *Room) broadcastGameEvents(gamePath string, events []json.RawMessage) {
	for _, evt := range events {
		msg, err := protocol.WrapGameEvent(gamePath, evt)
		if err != nil {
			r.logger.WithError(err).WithField("lobby_id", r.lobbyID).Error("room: failed to wrap game event")
			continue
		}
		r.hub.BroadcastRoom(r.lobbyID, msg)
	}
}

// onGameFinish persists final rankings into player state, archives a
// GameSummary, and transitions the lobby to Finished. Prize amounts pass
// through from the engine unchanged; payout settlement happens downstream.
func (r *Room) onGameFinish(ctx context.Context, gamePath string, results *rtmodels.GameResults) {
	for _, ranking := range results.Rankings {
		if err := r.players.SetResult(ctx, r.lobbyID, ranking.UserID, ranking.Rank, ranking.Prize); err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{"lobby_id": r.lobbyID, "user_id": ranking.UserID}).Error("room: failed to persist player result")
		}
	}
	summary := &rtmodels.GameSummary{Results: results, FinishedAt: time.Now().Unix()}
	if err := r.summaries.Save(ctx, r.lobbyID, summary); err != nil {
		r.logger.WithError(err).WithField("lobby_id", r.lobbyID).Error("room: failed to persist game summary")
	}

	if err := r.lobbies.UpdateStatus(ctx, r.lobbyID, rtmodels.LobbyStatusInProgress, rtmodels.LobbyStatusFinished); err != nil {
		r.logger.WithError(err).WithField("lobby_id", r.lobbyID).Error("room: failed to transition lobby to finished")
	}
	r.games.Stop(r.lobbyID)
	r.broadcastLobby(protocol.ServerLobbyStatusChanged, map[string]any{
		"status":  string(rtmodels.LobbyStatusFinished),
		"results": results,
	})
	r.notifier.PublishUpdate(ctx, r.lobbyID)
}
