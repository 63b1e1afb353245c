package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stacks-wars/lobbyd/internal/apperror"
	"github.com/stacks-wars/lobbyd/internal/rtmodels"
	"github.com/stacks-wars/lobbyd/internal/store/keys"
)

// LobbyStateRepository persists LobbyRuntimeState as a flat Redis hash plus
// a companion participants set.
type LobbyStateRepository struct {
	rdb *redis.Client
}

func NewLobbyStateRepository(rdb *redis.Client) *LobbyStateRepository {
	return &LobbyStateRepository{rdb: rdb}
}

func lobbyStateToHash(s *rtmodels.LobbyRuntimeState) map[string]string {
	h := map[string]string{
		"lobbyId":       s.LobbyID.String(),
		"hostUserId":    s.HostUserID.String(),
		"status":        string(s.Status),
		"entryAmount":   strconv.FormatFloat(s.EntryAmount, 'f', -1, 64),
		"currentAmount": strconv.FormatFloat(s.CurrentAmount, 'f', -1, 64),
		"isPrivate":     strconv.FormatBool(s.IsPrivate),
		"gamePath":      s.GamePath,
		"maxPlayers":    strconv.Itoa(s.MaxPlayers),
		"createdAt":     strconv.FormatInt(s.CreatedAt, 10),
		"updatedAt":     strconv.FormatInt(s.UpdatedAt, 10),
	}
	if s.CreatorLastPing != nil {
		h["creatorLastPing"] = strconv.FormatInt(*s.CreatorLastPing, 10)
	}
	return h
}

func lobbyStateFromHash(h map[string]string) (*rtmodels.LobbyRuntimeState, error) {
	if len(h) == 0 {
		return nil, apperror.NotFound()
	}
	lobbyID, err := uuid.Parse(h["lobbyId"])
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("invalid lobbyId: %w", err))
	}
	hostID, err := uuid.Parse(h["hostUserId"])
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("invalid hostUserId: %w", err))
	}
	maxPlayers, _ := strconv.Atoi(h["maxPlayers"])
	entryAmount, _ := strconv.ParseFloat(h["entryAmount"], 64)
	currentAmount, _ := strconv.ParseFloat(h["currentAmount"], 64)
	createdAt, _ := strconv.ParseInt(h["createdAt"], 10, 64)
	updatedAt, _ := strconv.ParseInt(h["updatedAt"], 10, 64)

	s := &rtmodels.LobbyRuntimeState{
		LobbyID:       lobbyID,
		HostUserID:    hostID,
		Status:        rtmodels.LobbyStatus(h["status"]),
		EntryAmount:   entryAmount,
		CurrentAmount: currentAmount,
		IsPrivate:     h["isPrivate"] == "true",
		GamePath:      h["gamePath"],
		MaxPlayers:    maxPlayers,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}
	if v, ok := h["creatorLastPing"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.CreatorLastPing = &n
		}
	}
	return s, nil
}

// Create writes a new lobby's runtime state.
func (r *LobbyStateRepository) Create(ctx context.Context, s *rtmodels.LobbyRuntimeState) error {
	key := keys.LobbyState(s.LobbyID)
	if err := r.rdb.HSet(ctx, key, lobbyStateToHash(s)).Err(); err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// Put fully replaces a lobby's runtime state.
func (r *LobbyStateRepository) Put(ctx context.Context, s *rtmodels.LobbyRuntimeState) error {
	return r.Create(ctx, s)
}

// Get loads a lobby's runtime state, including its live participant set.
func (r *LobbyStateRepository) Get(ctx context.Context, lobbyID uuid.UUID) (*rtmodels.LobbyRuntimeState, error) {
	h, err := r.rdb.HGetAll(ctx, keys.LobbyState(lobbyID)).Result()
	if err != nil {
		return nil, apperror.Internal(err)
	}
	s, err := lobbyStateFromHash(h)
	if err != nil {
		return nil, err
	}
	participants, err := r.rdb.SMembers(ctx, keys.LobbyParticipants(lobbyID)).Result()
	if err != nil {
		return nil, apperror.Internal(err)
	}
	s.Participants = make(map[uuid.UUID]bool, len(participants))
	for _, idStr := range participants {
		if id, err := uuid.Parse(idStr); err == nil {
			s.Participants[id] = true
		}
	}

	if deadline, err := r.rdb.Get(ctx, keys.LobbyCountdown(lobbyID)).Result(); err == nil {
		s.CountdownAt, _ = strconv.ParseInt(deadline, 10, 64)
	} else if err != redis.Nil {
		return nil, apperror.Internal(err)
	}
	return s, nil
}

// GetBatch loads many lobbies' runtime state, including each one's
// participant set, in a single pipeline round-trip.
func (r *LobbyStateRepository) GetBatch(ctx context.Context, lobbyIDs []uuid.UUID) (map[uuid.UUID]*rtmodels.LobbyRuntimeState, error) {
	pipe := r.rdb.Pipeline()
	hashCmds := make(map[uuid.UUID]*redis.MapStringStringCmd, len(lobbyIDs))
	countdownCmds := make(map[uuid.UUID]*redis.StringCmd, len(lobbyIDs))
	memberCmds := make(map[uuid.UUID]*redis.StringSliceCmd, len(lobbyIDs))
	for _, id := range lobbyIDs {
		hashCmds[id] = pipe.HGetAll(ctx, keys.LobbyState(id))
		countdownCmds[id] = pipe.Get(ctx, keys.LobbyCountdown(id))
		memberCmds[id] = pipe.SMembers(ctx, keys.LobbyParticipants(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, apperror.Internal(err)
	}
	out := make(map[uuid.UUID]*rtmodels.LobbyRuntimeState, len(lobbyIDs))
	for id, cmd := range hashCmds {
		h, err := cmd.Result()
		if err != nil {
			continue
		}
		s, err := lobbyStateFromHash(h)
		if err != nil {
			continue
		}
		if deadline, err := countdownCmds[id].Result(); err == nil {
			s.CountdownAt, _ = strconv.ParseInt(deadline, 10, 64)
		}
		s.Participants = make(map[uuid.UUID]bool)
		if members, err := memberCmds[id].Result(); err == nil {
			for _, idStr := range members {
				if userID, err := uuid.Parse(idStr); err == nil {
					s.Participants[userID] = true
				}
			}
		}
		out[id] = s
	}
	return out, nil
}

// UpdateStatus performs an atomic compare-and-set status transition: WATCH
// on the lobby hash, read the status field, and commit the write in a MULTI
// that aborts if the hash changed underneath. The caller's expected current
// status disagreeing, or a concurrent writer racing the transaction, both
// fail with apperror's conflict kind so the loser of a cancel-vs-fire race
// is rejected rather than silently overwriting the winner.
func (r *LobbyStateRepository) UpdateStatus(ctx context.Context, lobbyID uuid.UUID, expectedCurrent, next rtmodels.LobbyStatus) error {
	key := keys.LobbyState(lobbyID)
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, "status").Result()
		if err != nil {
			return err
		}
		if rtmodels.LobbyStatus(current) != expectedCurrent {
			return apperror.LobbyStatusFailed(fmt.Sprintf("expected status %q, found %q", expectedCurrent, current))
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, map[string]string{
				"status":    string(next),
				"updatedAt": strconv.FormatInt(time.Now().Unix(), 10),
			})
			return nil
		})
		return err
	}, key)

	if err == nil {
		return nil
	}
	if errors.Is(err, redis.TxFailedErr) {
		return apperror.LobbyStatusFailed("status changed concurrently")
	}
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperror.Internal(err)
}

// touchUpdatedAt stamps the lobby hash's updatedAt inside an existing pipeline.
func touchUpdatedAt(ctx context.Context, pipe redis.Pipeliner, lobbyID uuid.UUID) {
	pipe.HSet(ctx, keys.LobbyState(lobbyID), "updatedAt", strconv.FormatInt(time.Now().Unix(), 10))
}

// AddParticipant records userID as a participant of lobbyID. Idempotent (SAdd).
func (r *LobbyStateRepository) AddParticipant(ctx context.Context, lobbyID, userID uuid.UUID) error {
	pipe := r.rdb.TxPipeline()
	pipe.SAdd(ctx, keys.LobbyParticipants(lobbyID), userID.String())
	touchUpdatedAt(ctx, pipe, lobbyID)
	_, err := pipe.Exec(ctx)
	return err
}

// RemoveParticipant drops userID from lobbyID's participant set. Idempotent (SRem).
func (r *LobbyStateRepository) RemoveParticipant(ctx context.Context, lobbyID, userID uuid.UUID) error {
	pipe := r.rdb.TxPipeline()
	pipe.SRem(ctx, keys.LobbyParticipants(lobbyID), userID.String())
	touchUpdatedAt(ctx, pipe, lobbyID)
	_, err := pipe.Exec(ctx)
	return err
}

// ClearParticipants empties lobbyID's participant set entirely.
func (r *LobbyStateRepository) ClearParticipants(ctx context.Context, lobbyID uuid.UUID) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, keys.LobbyParticipants(lobbyID))
	touchUpdatedAt(ctx, pipe, lobbyID)
	_, err := pipe.Exec(ctx)
	return err
}

// ParticipantCount reports the current number of participants.
func (r *LobbyStateRepository) ParticipantCount(ctx context.Context, lobbyID uuid.UUID) (int, error) {
	n, err := r.rdb.SCard(ctx, keys.LobbyParticipants(lobbyID)).Result()
	if err != nil {
		return 0, apperror.Internal(err)
	}
	return int(n), nil
}

// IncrementCurrentAmount adds delta to a lobby's pooled currentAmount, used
// when a join carries the lobby's entry amount.
func (r *LobbyStateRepository) IncrementCurrentAmount(ctx context.Context, lobbyID uuid.UUID, delta float64) error {
	pipe := r.rdb.TxPipeline()
	pipe.HIncrByFloat(ctx, keys.LobbyState(lobbyID), "currentAmount", delta)
	touchUpdatedAt(ctx, pipe, lobbyID)
	_, err := pipe.Exec(ctx)
	return err
}

// SetCountdown writes (or clears, when deadlineUnix == 0) the lobby's
// countdown sentinel key.
func (r *LobbyStateRepository) SetCountdown(ctx context.Context, lobbyID uuid.UUID, deadlineUnix int64) error {
	if deadlineUnix == 0 {
		return r.rdb.Del(ctx, keys.LobbyCountdown(lobbyID)).Err()
	}
	return r.rdb.Set(ctx, keys.LobbyCountdown(lobbyID), strconv.FormatInt(deadlineUnix, 10), 0).Err()
}

// Delete removes a lobby's runtime state entirely (e.g. on abandonment).
func (r *LobbyStateRepository) Delete(ctx context.Context, lobbyID uuid.UUID) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, keys.LobbyState(lobbyID))
	pipe.Del(ctx, keys.LobbyParticipants(lobbyID))
	pipe.Del(ctx, keys.LobbyCountdown(lobbyID))
	_, err := pipe.Exec(ctx)
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// AddJoinRequest records a pending private-lobby join request.
func (r *LobbyStateRepository) AddJoinRequest(ctx context.Context, lobbyID, userID uuid.UUID) error {
	return r.rdb.HSet(ctx, keys.LobbyJoinRequests(lobbyID), userID.String(), strconv.FormatInt(time.Now().Unix(), 10)).Err()
}

// RemoveJoinRequest clears a pending join request (on approve, reject, or cancel).
func (r *LobbyStateRepository) RemoveJoinRequest(ctx context.Context, lobbyID, userID uuid.UUID) error {
	return r.rdb.HDel(ctx, keys.LobbyJoinRequests(lobbyID), userID.String()).Err()
}

// HasJoinRequest reports whether a user has a pending join request.
func (r *LobbyStateRepository) HasJoinRequest(ctx context.Context, lobbyID, userID uuid.UUID) (bool, error) {
	return r.rdb.HExists(ctx, keys.LobbyJoinRequests(lobbyID), userID.String()).Result()
}
