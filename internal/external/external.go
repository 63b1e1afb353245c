// Package external defines the contract interfaces this lobby coordinator
// consumes from the rest of the platform, plus concrete adapters for them
// (pgx for relational reads, go-redis for revocation, golang-jwt/ed25519
// for credential decoding). Schema design, migrations, and HTTP CRUD for
// these collaborators live elsewhere; only the read surface this
// coordinator needs appears here.
package external

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserProfile is the minimal user shape this coordinator needs when
// bootstrapping a player's runtime state.
type UserProfile struct {
	UserID      uuid.UUID
	WalletAddr  string
	Username    string
	DisplayName string
	TrustRating float64
}

// LobbyRow is the minimal persisted lobby shape needed to construct a
// fresh LobbyRuntimeState or to enrich a lobby-list row.
type LobbyRow struct {
	LobbyID    uuid.UUID
	HostUserID uuid.UUID
	GamePath   string
	GameName   string
	MaxPlayers int
	IsPrivate  bool
	CreatedAt  time.Time
}

// RelationalStore is the read surface this coordinator needs from the
// platform's durable store.
type RelationalStore interface {
	FindGameByID(ctx context.Context, gameID uuid.UUID) (*LobbyRow, error)
	FindUserByID(ctx context.Context, userID uuid.UUID) (*UserProfile, error)
	FindLobbyByID(ctx context.Context, lobbyID uuid.UUID) (*LobbyRow, error)
	FindLobbyByPath(ctx context.Context, gamePath string) (*LobbyRow, error)
	// FindLobbiesByStatuses returns one page of lobby ids matching any of
	// statuses (empty statuses = all) plus the total matching count, for
	// the lobby-list subscription's paging.
	FindLobbiesByStatuses(ctx context.Context, statuses []string, offset, limit int) ([]uuid.UUID, int, error)
}

// RevocationStore answers whether a JWT id (jti) has been revoked.
type RevocationStore interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Claims is the decoded credential payload: the room engine needs wallet
// identity alongside the user id, and a jti to consult the revocation
// store.
type Claims struct {
	UserID    uuid.UUID
	Wallet    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	JTI       string
}

// CredentialDecoder verifies and decodes a bearer credential.
type CredentialDecoder interface {
	Decode(token string) (*Claims, error)
}
