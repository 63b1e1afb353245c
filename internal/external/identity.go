package external

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// ExtractCookieToken pulls a named cookie's value out of a raw Cookie
// header.
func ExtractCookieToken(cookieHeader, cookieName string) string {
	parts := strings.Split(cookieHeader, cookieName+"=")
	if len(parts) < 2 {
		return ""
	}
	token := parts[1]
	if idx := strings.Index(token, ";"); idx != -1 {
		token = token[:idx]
	}
	return token
}

// Identity is the outcome of resolving a socket's credential: either a
// concrete, authenticated Claims, or anonymous (spectator) standing.
type Identity struct {
	Claims    *Claims // nil when anonymous
	Anonymous bool
}

// IdentityExtractor resolves a request's bearer credential into an
// Identity: cookie -> decode -> revocation check -> claims, downgrading
// to anonymous on any failure for room sockets.
type IdentityExtractor struct {
	decoder    CredentialDecoder
	revocation RevocationStore
	cookieName string
	logger     *logrus.Logger
}

func NewIdentityExtractor(decoder CredentialDecoder, revocation RevocationStore, cookieName string, logger *logrus.Logger) *IdentityExtractor {
	return &IdentityExtractor{decoder: decoder, revocation: revocation, cookieName: cookieName, logger: logger}
}

// ResolveRoom extracts identity for a room socket. Any failure (missing
// cookie, invalid/expired token, revoked jti) downgrades to an anonymous
// spectator identity rather than rejecting the upgrade; room sockets may
// always connect as a spectator.
func (x *IdentityExtractor) ResolveRoom(ctx context.Context, r *http.Request) Identity {
	token := ExtractCookieToken(r.Header.Get("Cookie"), x.cookieName)
	if token == "" {
		return Identity{Anonymous: true}
	}
	claims, err := x.decoder.Decode(token)
	if err != nil {
		x.logger.Debugf("identity: decode failed, downgrading to anonymous: %v", err)
		return Identity{Anonymous: true}
	}
	revoked, err := x.revocation.IsRevoked(ctx, claims.JTI)
	if err != nil {
		x.logger.Warnf("identity: revocation check failed, downgrading to anonymous: %v", err)
		return Identity{Anonymous: true}
	}
	if revoked {
		return Identity{Anonymous: true}
	}
	return Identity{Claims: claims}
}

// ResolveLobbyList is always-allowed: the lobby-list view carries no
// per-user state, so an unauthenticated/anonymous caller may always
// subscribe. It still attaches Claims when a valid credential is present,
// since a future personalization (e.g. "my lobbies") may want it.
func (x *IdentityExtractor) ResolveLobbyList(ctx context.Context, r *http.Request) Identity {
	return x.ResolveRoom(ctx, r)
}
