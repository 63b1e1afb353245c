package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type stubDecoder struct {
	claims *Claims
	err    error
}

func (s stubDecoder) Decode(token string) (*Claims, error) { return s.claims, s.err }

type stubRevocation struct {
	revoked bool
	err     error
}

func (s stubRevocation) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return s.revoked, s.err
}

func newRequestWithCookie(t *testing.T, name, value string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/ws/room/abc", nil)
	r.Header.Set("Cookie", name+"="+value+"; other=1")
	return r
}

func testIdentityLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestResolveRoomDowngradesToAnonymousWithoutCookie(t *testing.T) {
	x := NewIdentityExtractor(stubDecoder{}, stubRevocation{}, "auth_token", testIdentityLogger())
	r := httptest.NewRequest(http.MethodGet, "/ws/room/abc", nil)

	id := x.ResolveRoom(context.Background(), r)
	assert.True(t, id.Anonymous)
	assert.Nil(t, id.Claims)
}

func TestResolveRoomDowngradesOnDecodeFailure(t *testing.T) {
	x := NewIdentityExtractor(stubDecoder{err: assertErr}, stubRevocation{}, "auth_token", testIdentityLogger())
	r := newRequestWithCookie(t, "auth_token", "garbage")

	id := x.ResolveRoom(context.Background(), r)
	assert.True(t, id.Anonymous)
}

func TestResolveRoomDowngradesOnRevokedToken(t *testing.T) {
	claims := &Claims{JTI: "jti-1"}
	x := NewIdentityExtractor(stubDecoder{claims: claims}, stubRevocation{revoked: true}, "auth_token", testIdentityLogger())
	r := newRequestWithCookie(t, "auth_token", "validtoken")

	id := x.ResolveRoom(context.Background(), r)
	assert.True(t, id.Anonymous)
}

func TestResolveRoomSucceedsWithValidUnrevokedToken(t *testing.T) {
	claims := &Claims{JTI: "jti-2"}
	x := NewIdentityExtractor(stubDecoder{claims: claims}, stubRevocation{revoked: false}, "auth_token", testIdentityLogger())
	r := newRequestWithCookie(t, "auth_token", "validtoken")

	id := x.ResolveRoom(context.Background(), r)
	assert.False(t, id.Anonymous)
	assert.Equal(t, claims, id.Claims)
}

var assertErr = &stubError{"decode failed"}

type stubError struct{ msg string }

func (e *stubError) Error() string { return e.msg }
