package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/filegate/service/internal/credentials"
	"github.com/filegate/service/internal/gate"
	"github.com/filegate/service/internal/response"
)

func newRouter(t *testing.T) (*chi.Mux, *credentials.Store) {
	t.Helper()
	creds := credentials.NewStore(&credentials.Set{
		AdminUser:     "root",
		AdminPassword: "hunter2",
		JWTSecret:     []byte("test-secret"),
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
	}, credentials.NewMemorySessionStore())
	h := NewHandler(creds, gate.NewLockout(3, time.Minute), zap.NewNop())
	r := chi.NewRouter()
	r.Route("/", h.Routes)
	return r, creds
}

func postJSON(t *testing.T, router http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.RemoteAddr = "203.0.113.7:51234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) response.Envelope {
	t.Helper()
	var env response.Envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env
}

func login(t *testing.T, router http.Handler) credentials.TokenPair {
	t.Helper()
	rec := postJSON(t, router, "/auth/login", map[string]string{"username": "root", "password": "hunter2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	env := decodeEnvelope(t, rec)
	require.True(t, env.Status)
	raw, err := json.Marshal(env.Content)
	require.NoError(t, err)
	var pair credentials.TokenPair
	require.NoError(t, json.Unmarshal(raw, &pair))
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	return pair
}

func TestLoginIssuesTokenPair(t *testing.T) {
	router, creds := newRouter(t)
	pair := login(t, router)

	subject, err := creds.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "root", subject)
	assert.True(t, pair.AccessExpiresAt.Before(pair.RefreshExpiresAt))
}

func TestLoginRejectsBadPassword(t *testing.T) {
	router, _ := newRouter(t)

	rec := postJSON(t, router, "/auth/login", map[string]string{"username": "root", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.False(t, env.Status)
	assert.Contains(t, env.Error, "AUTH_INVALID")
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	router, _ := newRouter(t)

	for i := 0; i < 2; i++ {
		rec := postJSON(t, router, "/auth/login", map[string]string{"username": "root", "password": "wrong"})
		require.Equal(t, http.StatusUnauthorized, rec.Code, fmt.Sprintf("attempt %d", i+1))
	}
	rec := postJSON(t, router, "/auth/login", map[string]string{"username": "root", "password": "wrong"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, decodeEnvelope(t, rec).Error, "AUTH_LOCKED")

	// Correct credentials are also refused while locked.
	rec = postJSON(t, router, "/auth/login", map[string]string{"username": "root", "password": "hunter2"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRefreshRotatesTokens(t *testing.T) {
	router, _ := newRouter(t)
	pair := login(t, router)

	rec := postJSON(t, router, "/auth/refresh", map[string]string{"refreshToken": pair.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The rotated-out refresh token is dead.
	rec = postJSON(t, router, "/auth/refresh", map[string]string{"refreshToken": pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutRevokesSession(t *testing.T) {
	router, _ := newRouter(t)
	pair := login(t, router)

	rec := postJSON(t, router, "/auth/logout", map[string]string{"refreshToken": pair.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, router, "/auth/refresh", map[string]string{"refreshToken": pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	router, _ := newRouter(t)
	pair := login(t, router)

	rec := postJSON(t, router, "/auth/refresh", map[string]string{"refreshToken": pair.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
