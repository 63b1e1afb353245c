package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stacks-wars/lobbyd/internal/apperror"
	"github.com/stacks-wars/lobbyd/internal/rtmodels"
	"github.com/stacks-wars/lobbyd/internal/store/keys"
)

// PlayerStateRepository persists PlayerRuntimeState as a flat Redis hash per
// (lobbyID, userID).
type PlayerStateRepository struct {
	rdb *redis.Client
}

func NewPlayerStateRepository(rdb *redis.Client) *PlayerStateRepository {
	return &PlayerStateRepository{rdb: rdb}
}

func playerStateToHash(p *rtmodels.PlayerRuntimeState) map[string]string {
	h := map[string]string{
		"userId":        p.UserID.String(),
		"lobbyId":       p.LobbyID.String(),
		"status":        string(p.Status),
		"walletAddress": p.WalletAddress,
		"trustRating":   strconv.FormatFloat(p.TrustRating, 'f', -1, 64),
		"joinedAt":      strconv.FormatInt(p.JoinedAt, 10),
		"updatedAt":     strconv.FormatInt(p.UpdatedAt, 10),
		"isCreator":     strconv.FormatBool(p.IsCreator),
	}
	if p.Username != "" {
		h["username"] = p.Username
	}
	if p.DisplayName != "" {
		h["displayName"] = p.DisplayName
	}
	if p.TxID != "" {
		h["txId"] = p.TxID
	}
	if p.Rank != nil {
		h["rank"] = strconv.Itoa(*p.Rank)
	}
	if p.Prize != nil {
		h["prize"] = strconv.FormatFloat(*p.Prize, 'f', -1, 64)
	}
	if p.ClaimState != nil {
		if b, err := json.Marshal(p.ClaimState); err == nil {
			h["claimState"] = string(b)
		}
	}
	if p.LastPing != nil {
		h["lastPing"] = strconv.FormatInt(*p.LastPing, 10)
	}
	return h
}

func playerStateFromHash(h map[string]string) (*rtmodels.PlayerRuntimeState, error) {
	if len(h) == 0 {
		return nil, apperror.NotFound()
	}
	userID, err := uuid.Parse(h["userId"])
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("invalid userId: %w", err))
	}
	lobbyID, err := uuid.Parse(h["lobbyId"])
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("invalid lobbyId: %w", err))
	}
	trustRating, _ := strconv.ParseFloat(h["trustRating"], 64)
	joinedAt, _ := strconv.ParseInt(h["joinedAt"], 10, 64)
	updatedAt, _ := strconv.ParseInt(h["updatedAt"], 10, 64)

	p := &rtmodels.PlayerRuntimeState{
		UserID:        userID,
		LobbyID:       lobbyID,
		Status:        rtmodels.PlayerStatus(h["status"]),
		WalletAddress: h["walletAddress"],
		Username:      h["username"],
		DisplayName:   h["displayName"],
		TrustRating:   trustRating,
		TxID:          h["txId"],
		JoinedAt:      joinedAt,
		UpdatedAt:     updatedAt,
		IsCreator:     h["isCreator"] == "true",
	}
	if v, ok := h["rank"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			p.Rank = &n
		}
	}
	if v, ok := h["prize"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			p.Prize = &f
		}
	}
	if v, ok := h["claimState"]; ok {
		var cs rtmodels.ClaimState
		if json.Unmarshal([]byte(v), &cs) == nil {
			p.ClaimState = &cs
		}
	}
	if v, ok := h["lastPing"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			p.LastPing = &n
		}
	}
	return p, nil
}

// Join writes a new player's runtime state and registers them in the
// lobby's player set. The set membership mirrors
// LobbyStateRepository's participant set (same underlying key); both
// repositories keep it in sync idempotently so either can be consulted.
func (r *PlayerStateRepository) Join(ctx context.Context, p *rtmodels.PlayerRuntimeState) error {
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, keys.LobbyPlayer(p.LobbyID, p.UserID), playerStateToHash(p))
	pipe.SAdd(ctx, keys.LobbyParticipants(p.LobbyID), p.UserID.String())
	_, err := pipe.Exec(ctx)
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// Get loads one player's runtime state within a lobby.
func (r *PlayerStateRepository) Get(ctx context.Context, lobbyID, userID uuid.UUID) (*rtmodels.PlayerRuntimeState, error) {
	h, err := r.rdb.HGetAll(ctx, keys.LobbyPlayer(lobbyID, userID)).Result()
	if err != nil {
		return nil, apperror.Internal(err)
	}
	return playerStateFromHash(h)
}

// GetBatch loads every player currently registered in a lobby.
func (r *PlayerStateRepository) GetBatch(ctx context.Context, lobbyID uuid.UUID) ([]*rtmodels.PlayerRuntimeState, error) {
	ids, err := r.rdb.SMembers(ctx, keys.LobbyParticipants(lobbyID)).Result()
	if err != nil {
		return nil, apperror.Internal(err)
	}
	out := make([]*rtmodels.PlayerRuntimeState, 0, len(ids))
	for _, idStr := range ids {
		userID, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		p, err := r.Get(ctx, lobbyID, userID)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Remove deletes a player's runtime state and its set membership.
func (r *PlayerStateRepository) Remove(ctx context.Context, lobbyID, userID uuid.UUID) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, keys.LobbyPlayer(lobbyID, userID))
	pipe.SRem(ctx, keys.LobbyParticipants(lobbyID), userID.String())
	_, err := pipe.Exec(ctx)
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// ClearParticipants removes every player record for a lobby (used when a
// Waiting lobby is dissolved because its creator left).
func (r *PlayerStateRepository) ClearParticipants(ctx context.Context, lobbyID uuid.UUID) error {
	ids, err := r.rdb.SMembers(ctx, keys.LobbyParticipants(lobbyID)).Result()
	if err != nil {
		return apperror.Internal(err)
	}
	pipe := r.rdb.TxPipeline()
	for _, idStr := range ids {
		if userID, err := uuid.Parse(idStr); err == nil {
			pipe.Del(ctx, keys.LobbyPlayer(lobbyID, userID))
		}
	}
	pipe.Del(ctx, keys.LobbyParticipants(lobbyID))
	_, err = pipe.Exec(ctx)
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// TouchPing updates a player's last-ping heartbeat. It is only recorded;
// nothing in this process reads it back to detect stale players.
func (r *PlayerStateRepository) TouchPing(ctx context.Context, lobbyID, userID uuid.UUID) error {
	return r.rdb.HSet(ctx, keys.LobbyPlayer(lobbyID, userID), map[string]string{
		"lastPing":  strconv.FormatInt(time.Now().UnixMilli(), 10),
		"updatedAt": strconv.FormatInt(time.Now().Unix(), 10),
	}).Err()
}

// SetResult records a finished game's rank/prize for one player.
func (r *PlayerStateRepository) SetResult(ctx context.Context, lobbyID, userID uuid.UUID, rank int, prize *float64) error {
	key := keys.LobbyPlayer(lobbyID, userID)
	h := map[string]string{
		"rank":      strconv.Itoa(rank),
		"updatedAt": strconv.FormatInt(time.Now().Unix(), 10),
	}
	if prize != nil {
		h["prize"] = strconv.FormatFloat(*prize, 'f', -1, 64)
	}
	if err := r.rdb.HSet(ctx, key, h).Err(); err != nil {
		return apperror.Internal(err)
	}
	return nil
}
