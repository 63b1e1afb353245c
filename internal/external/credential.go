package external

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/stacks-wars/lobbyd/internal/apperror"
)

// JWTCredentialDecoder verifies ed25519-signed tokens and decodes the
// Claims{user_id, wallet, issued_at, expires_at, jti} payload this
// coordinator needs. It only ever verifies; token issuance belongs to the
// platform's auth service.
type JWTCredentialDecoder struct {
	publicKey ed25519.PublicKey
}

func NewJWTCredentialDecoder(publicKey ed25519.PublicKey) *JWTCredentialDecoder {
	return &JWTCredentialDecoder{publicKey: publicKey}
}

func (d *JWTCredentialDecoder) Decode(token string) (*Claims, error) {
	t, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return d.publicKey, nil
	})
	if err != nil {
		return nil, apperror.NotAuthenticated()
	}
	if !t.Valid {
		return nil, apperror.NotAuthenticated()
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apperror.NotAuthenticated()
	}

	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return nil, apperror.NotAuthenticated()
	}

	wallet, _ := claims["wallet"].(string)
	jti, _ := claims["jti"].(string)

	out := &Claims{UserID: userID, Wallet: wallet, JTI: jti}
	if iat, ok := claims["iat"].(float64); ok {
		out.IssuedAt = time.Unix(int64(iat), 0)
	}
	if exp, ok := claims["exp"].(float64); ok {
		out.ExpiresAt = time.Unix(int64(exp), 0)
	}
	return out, nil
}
