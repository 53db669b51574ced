package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lakeshare/internal/domain"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, secret []byte, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func recipientEcho() (http.Handler, *domain.RecipientID) {
	var got domain.RecipientID
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = RecipientFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	return h, &got
}

func TestAuthValidToken(t *testing.T) {
	echo, got := recipientEcho()
	h := Auth(AuthConfig{JWTSecret: testSecret})(echo)

	req := httptest.NewRequest(http.MethodGet, "/shares", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "acme"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", got.String())
}

func TestAuthMissingTokenRejected(t *testing.T) {
	echo, _ := recipientEcho()
	h := Auth(AuthConfig{JWTSecret: testSecret})(echo)

	req := httptest.NewRequest(http.MethodGet, "/shares", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNAUTHENTICATED")
}

func TestAuthMissingTokenAnonymousAllowed(t *testing.T) {
	echo, got := recipientEcho()
	h := Auth(AuthConfig{JWTSecret: testSecret, AllowAnonymous: true})(echo)

	req := httptest.NewRequest(http.MethodGet, "/shares", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, got.IsAnonymous())
}

func TestAuthForgedTokenNeverDowngraded(t *testing.T) {
	echo, _ := recipientEcho()
	h := Auth(AuthConfig{JWTSecret: testSecret, AllowAnonymous: true})(echo)

	req := httptest.NewRequest(http.MethodGet, "/shares", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, []byte("wrong-secret"), "acme"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthReservedSubjectRejected(t *testing.T) {
	echo, _ := recipientEcho()
	h := Auth(AuthConfig{JWTSecret: testSecret})(echo)

	req := httptest.NewRequest(http.MethodGet, "/shares", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "ANONYMOUS"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthExpiredTokenRejected(t *testing.T) {
	echo, _ := recipientEcho()
	h := Auth(AuthConfig{JWTSecret: testSecret})(echo)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "acme",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/shares", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
