package external

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacks-wars/lobbyd/internal/apperror"
)

// PgRelationalStore is a pgx-backed RelationalStore: direct SQL through a
// pgxpool.Pool, no query builder.
type PgRelationalStore struct {
	pool *pgxpool.Pool
}

func NewPgRelationalStore(pool *pgxpool.Pool) *PgRelationalStore {
	return &PgRelationalStore{pool: pool}
}

func (s *PgRelationalStore) FindUserByID(ctx context.Context, userID uuid.UUID) (*UserProfile, error) {
	const q = `
		SELECT id, wallet_address, username, display_name, trust_rating
		FROM users
		WHERE id = $1
	`
	var u UserProfile
	err := s.pool.QueryRow(ctx, q, userID).Scan(&u.UserID, &u.WalletAddr, &u.Username, &u.DisplayName, &u.TrustRating)
	if err == pgx.ErrNoRows {
		return nil, apperror.NotFound()
	}
	if err != nil {
		return nil, apperror.FetchFailed(err)
	}
	return &u, nil
}

func (s *PgRelationalStore) FindLobbyByID(ctx context.Context, lobbyID uuid.UUID) (*LobbyRow, error) {
	const q = `
		SELECT id, host_user_id, game_path, game_name, max_players, is_private, created_at
		FROM lobbies
		WHERE id = $1
	`
	var l LobbyRow
	err := s.pool.QueryRow(ctx, q, lobbyID).Scan(&l.LobbyID, &l.HostUserID, &l.GamePath, &l.GameName, &l.MaxPlayers, &l.IsPrivate, &l.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, apperror.NotFound()
	}
	if err != nil {
		return nil, apperror.FetchFailed(err)
	}
	return &l, nil
}

func (s *PgRelationalStore) FindLobbyByPath(ctx context.Context, gamePath string) (*LobbyRow, error) {
	const q = `
		SELECT id, host_user_id, game_path, game_name, max_players, is_private, created_at
		FROM lobbies
		WHERE game_path = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	var l LobbyRow
	err := s.pool.QueryRow(ctx, q, gamePath).Scan(&l.LobbyID, &l.HostUserID, &l.GamePath, &l.GameName, &l.MaxPlayers, &l.IsPrivate, &l.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, apperror.NotFound()
	}
	if err != nil {
		return nil, apperror.FetchFailed(err)
	}
	return &l, nil
}

// FindGameByID looks up a lobby's owning game row; in this schema a
// "game" and its lobby share an id, so this delegates to FindLobbyByID.
func (s *PgRelationalStore) FindGameByID(ctx context.Context, gameID uuid.UUID) (*LobbyRow, error) {
	return s.FindLobbyByID(ctx, gameID)
}

func (s *PgRelationalStore) FindLobbiesByStatuses(ctx context.Context, statuses []string, offset, limit int) ([]uuid.UUID, int, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(statuses) == 0 {
		const q = `SELECT id FROM lobbies ORDER BY created_at DESC OFFSET $1 LIMIT $2`
		rows, err = s.pool.Query(ctx, q, offset, limit)
	} else {
		const q = `SELECT id FROM lobbies WHERE status = ANY($1) ORDER BY created_at DESC OFFSET $2 LIMIT $3`
		rows, err = s.pool.Query(ctx, q, statuses, offset, limit)
	}
	if err != nil {
		return nil, 0, apperror.FetchFailed(err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, 0, apperror.FetchFailed(err)
		}
		ids = append(ids, id)
	}

	total, err := s.countByStatuses(ctx, statuses)
	if err != nil {
		return nil, 0, err
	}
	return ids, total, nil
}

func (s *PgRelationalStore) countByStatuses(ctx context.Context, statuses []string) (int, error) {
	var (
		n   int
		err error
	)
	if len(statuses) == 0 {
		err = s.pool.QueryRow(ctx, `SELECT count(*) FROM lobbies`).Scan(&n)
	} else {
		err = s.pool.QueryRow(ctx, `SELECT count(*) FROM lobbies WHERE status = ANY($1)`, statuses).Scan(&n)
	}
	if err != nil {
		return 0, apperror.FetchFailed(fmt.Errorf("count lobbies: %w", err))
	}
	return n, nil
}
