package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeJWT, JWT: JWTOptions{Secret: "s3cret", Issuer: "spriteforge", Audience: []string{"api"}}})
	require.NoError(t, err)

	token, err := svc.IssueToken("user-42", time.Hour)
	require.NoError(t, err)

	subject, err := svc.AuthenticateRequest(t.Context(), "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", subject.ID)
	assert.Equal(t, ModeJWT, subject.Source)
	assert.False(t, subject.ExpiresAt.IsZero())
}

func TestJWTRejectsBadTokens(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeJWT, JWT: JWTOptions{Secret: "s3cret"}})
	require.NoError(t, err)

	other, err := NewService(Config{Mode: ModeJWT, JWT: JWTOptions{Secret: "different"}})
	require.NoError(t, err)
	forged, err := other.IssueToken("user-1", time.Hour)
	require.NoError(t, err)

	expired, err := svc.IssueToken("user-1", -time.Minute)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	cases := map[string]string{
		"missing":    "",
		"scheme":     "Basic abc",
		"forged":     "Bearer " + forged,
		"expired":    "Bearer " + expired,
		"no subject": "Bearer " + noSubject,
		"garbage":    "Bearer not-a-jwt",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.AuthenticateRequest(t.Context(), header)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrMissingToken), err.Error())
		})
	}
}

func TestStaticTokens(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeStatic, StaticTokens: map[string]string{"tok-a": "alice", "tok-b": "bob"}})
	require.NoError(t, err)

	subject, err := svc.AuthenticateRequest(t.Context(), "bearer tok-b")
	require.NoError(t, err)
	assert.Equal(t, "bob", subject.ID)

	_, err = svc.AuthenticateRequest(t.Context(), "Bearer tok-c")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.IssueToken("bob", time.Hour)
	assert.ErrorIs(t, err, ErrNoSigner)
}

func TestNewServiceValidatesConfig(t *testing.T) {
	_, err := NewService(Config{Mode: ModeJWT})
	assert.Error(t, err)
	_, err = NewService(Config{Mode: ModeStatic})
	assert.Error(t, err)
	_, err = NewService(Config{Mode: "oauth"})
	assert.Error(t, err)

	svc, err := NewService(Config{})
	require.NoError(t, err)
	assert.Equal(t, ModeDisabled, svc.Mode())
}

func TestMiddleware(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeStatic, StaticTokens: map[string]string{"tok": "alice"}})
	require.NoError(t, err)

	var seen string
	handler := svc.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/usage", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "missing bearer token", body["error"])
	assert.Empty(t, seen)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/usage", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "alice", seen)
}

func TestDisabledModeUsesAnonymousSubject(t *testing.T) {
	svc, err := NewService(Config{Mode: ModeDisabled})
	require.NoError(t, err)
	subject, err := svc.AuthenticateRequest(t.Context(), "")
	require.NoError(t, err)
	assert.Equal(t, AnonymousUser, subject.ID)
}
