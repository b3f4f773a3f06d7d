package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/thermo/internal/auth"
	"github.com/BradenHooton/thermo/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testResetKey = "clear"

func newTestAuthHandler(svc AuthServiceInterface, limiter RateLimitResetter) *AuthHandler {
	return NewAuthHandler(svc, limiter, testResetKey, nil, testLogger(), testAuditLogger())
}

func testPair() *models.TokenPair {
	return &models.TokenPair{AccessToken: "access-token", RefreshToken: "refresh-token"}
}

func TestAuthHandler_Signup(t *testing.T) {
	var gotIP string
	svc := &MockAuthService{
		SignupFunc: func(ctx context.Context, username, password, ip string) (*models.TokenPair, error) {
			gotIP = ip
			return testPair(), nil
		},
	}
	h := newTestAuthHandler(svc, &MockRateLimitResetter{})

	req := NewTestRequest(t, http.MethodPost, "/api/signup", CredentialsRequest{Username: "alice", Password: "secret1"})
	req.RemoteAddr = "192.0.2.1:5555"
	w := httptest.NewRecorder()
	h.Signup(w, req)

	var resp AuthResponse
	AssertJSONResponse(t, w, http.StatusCreated, &resp)
	assert.Equal(t, "User signed up", resp.Message)
	assert.Equal(t, "access-token", resp.AccessToken)
	assert.Equal(t, "refresh-token", resp.RefreshToken)
	assert.Equal(t, "192.0.2.1", gotIP)
}

func TestAuthHandler_SignupErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "duplicate",
			err:        models.NewValidationError("username", "Username already exists"),
			wantStatus: http.StatusBadRequest,
			wantError:  "Username already exists",
		},
		{
			name:       "rate limited",
			err:        &models.RateLimitedError{RetryAfter: 90 * time.Second},
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "storage",
			err:        &models.StorageError{Op: "write credentials", Err: assert.AnError},
			wantStatus: http.StatusInternalServerError,
			wantError:  "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockAuthService{
				SignupFunc: func(ctx context.Context, username, password, ip string) (*models.TokenPair, error) {
					return nil, tt.err
				},
			}
			h := newTestAuthHandler(svc, &MockRateLimitResetter{})

			w := httptest.NewRecorder()
			h.Signup(w, NewTestRequest(t, http.MethodPost, "/api/signup", CredentialsRequest{Username: "alice", Password: "secret1"}))
			AssertErrorResponse(t, w, tt.wantStatus, tt.wantError)
		})
	}
}

func TestAuthHandler_SignupValidationDetails(t *testing.T) {
	svc := &MockAuthService{
		SignupFunc: func(ctx context.Context, username, password, ip string) (*models.TokenPair, error) {
			return nil, models.NewValidationError("password", "password must be at least 6 characters")
		},
	}
	h := newTestAuthHandler(svc, &MockRateLimitResetter{})

	w := httptest.NewRecorder()
	h.Signup(w, NewTestRequest(t, http.MethodPost, "/api/signup", CredentialsRequest{Username: "alice", Password: "x"}))
	resp := AssertErrorResponse(t, w, http.StatusBadRequest, "password must be at least 6 characters")
	assert.Equal(t, "password", resp.Details["field"])
}

func TestAuthHandler_RateLimitedSetsRetryAfter(t *testing.T) {
	svc := &MockAuthService{
		LoginFunc: func(ctx context.Context, username, password, ip string) (*models.TokenPair, error) {
			return nil, &models.RateLimitedError{RetryAfter: 1500 * time.Millisecond}
		},
	}
	h := newTestAuthHandler(svc, &MockRateLimitResetter{})

	w := httptest.NewRecorder()
	h.Login(w, NewTestRequest(t, http.MethodPost, "/api/login", CredentialsRequest{Username: "alice", Password: "secret1"}))
	resp := AssertErrorResponse(t, w, http.StatusTooManyRequests, "")
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Equal(t, "2", resp.Details["retry_after"])
}

func TestAuthHandler_Login(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"success", nil, http.StatusOK, ""},
		{"unknown user", &models.NotFoundError{Resource: "username", Identifier: "bob"}, http.StatusNotFound, "Username does not exist"},
		{"bad password", &models.AuthenticationError{Message: "Invalid password"}, http.StatusUnauthorized, "Invalid password"},
		{"missing field", models.NewValidationError("username", "Username is required"), http.StatusBadRequest, "Username is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockAuthService{
				LoginFunc: func(ctx context.Context, username, password, ip string) (*models.TokenPair, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return testPair(), nil
				},
			}
			h := newTestAuthHandler(svc, &MockRateLimitResetter{})

			w := httptest.NewRecorder()
			h.Login(w, NewTestRequest(t, http.MethodPost, "/api/login", CredentialsRequest{Username: "alice", Password: "secret1"}))
			if tt.err == nil {
				var resp AuthResponse
				AssertJSONResponse(t, w, tt.wantStatus, &resp)
				assert.Equal(t, "Login successful", resp.Message)
				return
			}
			AssertErrorResponse(t, w, tt.wantStatus, tt.wantError)
		})
	}
}

func TestAuthHandler_MalformedBody(t *testing.T) {
	h := newTestAuthHandler(&MockAuthService{}, &MockRateLimitResetter{})

	for _, handle := range []http.HandlerFunc{h.Signup, h.Login} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
		w := httptest.NewRecorder()
		handle(w, req)
		AssertErrorResponse(t, w, http.StatusBadRequest, "Invalid request body")
	}
}

func TestAuthHandler_RefreshToken(t *testing.T) {
	var gotToken string
	svc := &MockAuthService{
		RefreshFunc: func(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
			gotToken = refreshToken
			return testPair(), nil
		},
	}
	h := newTestAuthHandler(svc, &MockRateLimitResetter{})

	// Route through the real gate so the token lands in the context.
	tm, err := auth.NewTokenManager("test-secret-32-characters-long!!", "HS256", time.Minute, time.Hour)
	require.NoError(t, err)
	registry := auth.NewTokenRegistry(tm.ExpiresAt)
	refresh, err := tm.GenerateRefreshToken("alice")
	require.NoError(t, err)
	registry.ActivateRefresh("alice", refresh)

	handler := auth.RequireRefreshToken(tm, registry)(http.HandlerFunc(h.RefreshToken))

	req := httptest.NewRequest(http.MethodPost, "/api/refresh-token", nil)
	req.Header.Set("Authorization", "Bearer "+refresh)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var resp models.TokenPair
	AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "refresh-token", resp.RefreshToken)
	assert.Equal(t, refresh, gotToken)
}

func TestAuthHandler_RefreshTokenRejected(t *testing.T) {
	svc := &MockAuthService{
		RefreshFunc: func(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
			return nil, &models.AuthenticationError{Message: "Invalid or expired refresh token"}
		},
	}
	h := newTestAuthHandler(svc, &MockRateLimitResetter{})

	// Without the gate there is no token in the context.
	w := httptest.NewRecorder()
	h.RefreshToken(w, httptest.NewRequest(http.MethodPost, "/api/refresh-token", nil))
	AssertErrorResponse(t, w, http.StatusUnauthorized, "Authorization token is missing")
}

func TestAuthHandler_LogoutAlwaysSucceeds(t *testing.T) {
	var gotToken string
	var gotRevokeAll bool
	svc := &MockAuthService{
		LogoutFunc: func(ctx context.Context, accessToken string, revokeAll bool) int {
			gotToken, gotRevokeAll = accessToken, revokeAll
			return 0
		},
	}
	h := newTestAuthHandler(svc, &MockRateLimitResetter{})

	t.Run("with token and revoke_all", func(t *testing.T) {
		req := NewTestRequest(t, http.MethodPost, "/api/logout", LogoutRequest{RevokeAll: true})
		req.Header.Set("Authorization", "Bearer abc")
		w := httptest.NewRecorder()
		h.Logout(w, req)

		var resp MessageResponse
		AssertJSONResponse(t, w, http.StatusOK, &resp)
		assert.Equal(t, "abc", gotToken)
		assert.True(t, gotRevokeAll)
	})

	t.Run("no token no body", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.Logout(w, httptest.NewRequest(http.MethodPost, "/api/logout", nil))
		AssertJSONResponse(t, w, http.StatusOK, nil)
		assert.Equal(t, "", gotToken)
		assert.False(t, gotRevokeAll)
	})

	t.Run("garbage body", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.Logout(w, httptest.NewRequest(http.MethodPost, "/api/logout", strings.NewReader("}{")))
		AssertJSONResponse(t, w, http.StatusOK, nil)
	})
}

func TestAuthHandler_ResetRateLimit(t *testing.T) {
	tests := []struct {
		name      string
		body      RateLimitResetRequest
		wantAll   int
		wantUsers []string
	}{
		{"key and username", RateLimitResetRequest{ResetKey: testResetKey, Username: "alice"}, 0, []string{"alice"}},
		{"key only", RateLimitResetRequest{ResetKey: testResetKey}, 1, nil},
		{"wrong key", RateLimitResetRequest{ResetKey: "nope", Username: "alice"}, 0, nil},
		{"missing key", RateLimitResetRequest{}, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := &MockRateLimitResetter{}
			h := newTestAuthHandler(&MockAuthService{}, limiter)

			w := httptest.NewRecorder()
			h.ResetRateLimit(w, NewTestRequest(t, http.MethodPost, "/api/rate-limit/reset", tt.body))

			var resp MessageResponse
			AssertJSONResponse(t, w, http.StatusOK, &resp)
			assert.Equal(t, "Rate limit reset processed", resp.Message)
			assert.Equal(t, tt.wantAll, limiter.AllCalls)
			assert.Equal(t, tt.wantUsers, limiter.UserCalls)
		})
	}
}

func TestAuthHandler_ResetRateLimitDisabledWithEmptyKey(t *testing.T) {
	limiter := &MockRateLimitResetter{}
	h := NewAuthHandler(&MockAuthService{}, limiter, "", nil, testLogger(), testAuditLogger())

	w := httptest.NewRecorder()
	h.ResetRateLimit(w, NewTestRequest(t, http.MethodPost, "/api/rate-limit/reset", RateLimitResetRequest{}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, limiter.AllCalls)
}
