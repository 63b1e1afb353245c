package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stacks-wars/lobbyd/internal/apperror"
	"github.com/stacks-wars/lobbyd/internal/rtmodels"
	"github.com/stacks-wars/lobbyd/internal/store/keys"
)

// ChatRepository persists lobby chat history: a sorted set of message IDs
// ordered by send time, plus one JSON-encoded string key per message.
type ChatRepository struct {
	rdb        *redis.Client
	historyCap int64
}

func NewChatRepository(rdb *redis.Client, historyCap int) *ChatRepository {
	return &ChatRepository{rdb: rdb, historyCap: int64(historyCap)}
}

// CreateMessage appends a chat message and trims history to the configured cap.
func (r *ChatRepository) CreateMessage(ctx context.Context, msg *rtmodels.ChatMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return apperror.Internal(err)
	}
	chatKey := keys.LobbyChat(msg.LobbyID)
	msgKey := keys.LobbyChatMessage(msg.LobbyID, msg.MessageID)

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, msgKey, body, 0)
	pipe.ZAdd(ctx, chatKey, redis.Z{Score: float64(msg.CreatedAt), Member: msg.MessageID.String()})
	if r.historyCap > 0 {
		pipe.ZRemRangeByRank(ctx, chatKey, 0, -r.historyCap-1)
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// GetHistory returns the most recent `limit` messages, oldest first.
func (r *ChatRepository) GetHistory(ctx context.Context, lobbyID uuid.UUID, limit int) ([]*rtmodels.ChatMessage, error) {
	if limit <= 0 {
		limit = int(r.historyCap)
	}
	ids, err := r.rdb.ZRevRange(ctx, keys.LobbyChat(lobbyID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, apperror.Internal(err)
	}
	out := make([]*rtmodels.ChatMessage, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		messageID, err := uuid.Parse(ids[i])
		if err != nil {
			continue
		}
		msg, err := r.getMessage(ctx, lobbyID, messageID)
		if err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (r *ChatRepository) getMessage(ctx context.Context, lobbyID, messageID uuid.UUID) (*rtmodels.ChatMessage, error) {
	raw, err := r.rdb.Get(ctx, keys.LobbyChatMessage(lobbyID, messageID)).Bytes()
	if err != nil {
		return nil, apperror.Internal(err)
	}
	var msg rtmodels.ChatMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, apperror.Internal(err)
	}
	return &msg, nil
}

// AddReaction records userID's reaction emoji on a message. Idempotent:
// adding the same (userID, emoji) pair twice is a no-op.
func (r *ChatRepository) AddReaction(ctx context.Context, lobbyID, messageID, userID uuid.UUID, emoji string) error {
	msg, err := r.getMessage(ctx, lobbyID, messageID)
	if err != nil {
		return err
	}
	msg.AddReaction(userID, emoji)
	return r.putMessage(ctx, msg)
}

// RemoveReaction clears userID's reaction emoji from a message, if present.
func (r *ChatRepository) RemoveReaction(ctx context.Context, lobbyID, messageID, userID uuid.UUID, emoji string) error {
	msg, err := r.getMessage(ctx, lobbyID, messageID)
	if err != nil {
		return err
	}
	msg.RemoveReaction(userID, emoji)
	return r.putMessage(ctx, msg)
}

// DeleteMessage removes a message and its sorted-set entry (moderation / kick cleanup).
func (r *ChatRepository) DeleteMessage(ctx context.Context, lobbyID, messageID uuid.UUID) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, keys.LobbyChatMessage(lobbyID, messageID))
	pipe.ZRem(ctx, keys.LobbyChat(lobbyID), messageID.String())
	_, err := pipe.Exec(ctx)
	if err != nil {
		return apperror.Internal(err)
	}
	return nil
}

func (r *ChatRepository) putMessage(ctx context.Context, msg *rtmodels.ChatMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return apperror.Internal(err)
	}
	if err := r.rdb.Set(ctx, keys.LobbyChatMessage(msg.LobbyID, msg.MessageID), body, 0).Err(); err != nil {
		return apperror.Internal(err)
	}
	return nil
}

// GameSummaryStore persists permanent GameSummary records.
type GameSummaryStore struct {
	rdb *redis.Client
}

func NewGameSummaryStore(rdb *redis.Client) *GameSummaryStore {
	return &GameSummaryStore{rdb: rdb}
}

func (s *GameSummaryStore) Save(ctx context.Context, lobbyID uuid.UUID, summary *rtmodels.GameSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return apperror.Internal(err)
	}
	if err := s.rdb.Set(ctx, keys.GameState(lobbyID), body, 0).Err(); err != nil {
		return apperror.Internal(err)
	}
	return nil
}

func (s *GameSummaryStore) Load(ctx context.Context, lobbyID uuid.UUID) (*rtmodels.GameSummary, error) {
	raw, err := s.rdb.Get(ctx, keys.GameState(lobbyID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.Internal(err)
	}
	var summary rtmodels.GameSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, apperror.Internal(err)
	}
	return &summary, nil
}
