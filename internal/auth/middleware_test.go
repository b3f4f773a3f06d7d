package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	pkghttp "github.com/BradenHooton/thermo/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gateFixture struct {
	tm       *TokenManager
	registry *TokenRegistry
	access   string
	refresh  string
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	tm := newTestTokenManager(t)
	registry := NewTokenRegistry(tm.ExpiresAt)

	access, err := tm.GenerateAccessToken("alice")
	require.NoError(t, err)
	refresh, err := tm.GenerateRefreshToken("alice")
	require.NoError(t, err)
	registry.ActivateRefresh("alice", refresh)

	return &gateFixture{tm: tm, registry: registry, access: access, refresh: refresh}
}

// echoHandler writes the username and token the gate stored in the context.
func echoHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetUserFromContext(r)
		require.NotNil(t, claims)
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
			"username": UsernameFromContext(r.Context()),
			"token":    TokenFromContext(r.Context()),
			"type":     claims.Type,
		})
	})
}

func serveGate(gate func(http.Handler) http.Handler, handler http.Handler, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/readings", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	gate(handler).ServeHTTP(w, req)
	return w
}

func TestRequireAccessToken(t *testing.T) {
	f := newGateFixture(t)
	gate := RequireAccessToken(f.tm, f.registry)

	t.Run("valid access token", func(t *testing.T) {
		w := serveGate(gate, echoHandler(t), "Bearer "+f.access)
		require.Equal(t, http.StatusOK, w.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "alice", body["username"])
		assert.Equal(t, f.access, body["token"])
		assert.Equal(t, "access", body["type"])
	})

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Token " + f.access},
		{"garbage token", "Bearer nope"},
		{"refresh token", "Bearer " + f.refresh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serveGate(gate, echoHandler(t), tt.header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)

			var resp pkghttp.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}

	t.Run("blacklisted access token", func(t *testing.T) {
		token, err := f.tm.GenerateAccessToken("alice")
		require.NoError(t, err)
		f.registry.Blacklist(token)

		w := serveGate(gate, echoHandler(t), "Bearer "+token)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired access token", func(t *testing.T) {
		past := time.Now().Add(-time.Hour)
		f.tm.SetClock(func() time.Time { return past })
		token, err := f.tm.GenerateAccessToken("alice")
		f.tm.SetClock(time.Now)
		require.NoError(t, err)

		w := serveGate(gate, echoHandler(t), "Bearer "+token)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequireRefreshToken(t *testing.T) {
	f := newGateFixture(t)
	gate := RequireRefreshToken(f.tm, f.registry)

	t.Run("active refresh token", func(t *testing.T) {
		w := serveGate(gate, echoHandler(t), "Bearer "+f.refresh)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("access token rejected", func(t *testing.T) {
		w := serveGate(gate, echoHandler(t), "Bearer "+f.access)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid but never activated", func(t *testing.T) {
		token, err := f.tm.GenerateRefreshToken("alice")
		require.NoError(t, err)

		w := serveGate(gate, echoHandler(t), "Bearer "+token)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("revoked refresh token", func(t *testing.T) {
		f.registry.RevokeRefresh("alice", f.refresh)

		w := serveGate(gate, echoHandler(t), "Bearer "+f.refresh)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestContextHelpers_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, GetUserFromContext(req))
	assert.Empty(t, UsernameFromContext(req.Context()))
	assert.Empty(t, TokenFromContext(req.Context()))
}
