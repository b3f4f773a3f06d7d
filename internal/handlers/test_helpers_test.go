package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/thermo/internal/auth"
	"github.com/BradenHooton/thermo/internal/models"
	pkghttp "github.com/BradenHooton/thermo/pkg/http"
	pkglogger "github.com/BradenHooton/thermo/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testAuditLogger() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(testLogger())
}

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds access-token claims to the request context
func WithAuthContext(req *http.Request, username string) *http.Request {
	claims := &models.TokenClaims{
		Username: username,
		Type:     models.TokenTypeAccess,
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	if target != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), target), "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks status and error message of an error body
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to decode error response")
	if expectedError != "" {
		assert.Equal(t, expectedError, resp.Error)
	}
	assert.NotEmpty(t, resp.Error)
	return resp
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	SignupFunc  func(ctx context.Context, username, password, ip string) (*models.TokenPair, error)
	LoginFunc   func(ctx context.Context, username, password, ip string) (*models.TokenPair, error)
	RefreshFunc func(ctx context.Context, refreshToken string) (*models.TokenPair, error)
	LogoutFunc  func(ctx context.Context, accessToken string, revokeAll bool) int
}

func (m *MockAuthService) Signup(ctx context.Context, username, password, ip string) (*models.TokenPair, error) {
	if m.SignupFunc == nil {
		return nil, models.ErrConflict
	}
	return m.SignupFunc(ctx, username, password, ip)
}

func (m *MockAuthService) Login(ctx context.Context, username, password, ip string) (*models.TokenPair, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, username, password, ip)
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	if m.RefreshFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.RefreshFunc(ctx, refreshToken)
}

func (m *MockAuthService) Logout(ctx context.Context, accessToken string, revokeAll bool) int {
	if m.LogoutFunc == nil {
		return 0
	}
	return m.LogoutFunc(ctx, accessToken, revokeAll)
}

// MockRateLimitResetter records reset calls
type MockRateLimitResetter struct {
	AllCalls  int
	UserCalls  []string
}

func (m *MockRateLimitResetter) ResetAll() int {
	m.AllCalls++
	return 0
}

func (m *MockRateLimitResetter) ResetUser(username string) int {
	m.UserCalls = append(m.UserCalls, username)
	return 1
}

// MockReadingService implements ReadingServiceInterface for testing
type MockReadingService struct {
	GetReadingsFunc func(ctx context.Context, startRaw, endRaw string) ([]models.Reading, error)
	RecordFunc      func(ctx context.Context, value float64, at time.Time) (*models.Reading, error)
}

func (m *MockReadingService) GetReadings(ctx context.Context, startRaw, endRaw string) ([]models.Reading, error) {
	if m.GetReadingsFunc == nil {
		return []models.Reading{}, nil
	}
	return m.GetReadingsFunc(ctx, startRaw, endRaw)
}

func (m *MockReadingService) Record(ctx context.Context, value float64, at time.Time) (*models.Reading, error) {
	if m.RecordFunc == nil {
		return &models.Reading{Value: value, RecordedAt: at}, nil
	}
	return m.RecordFunc(ctx, value, at)
}

// MockCommandService implements CommandServiceInterface for testing
type MockCommandService struct {
	SendFunc func(ctx context.Context, action string) (*models.Command, error)
}

func (m *MockCommandService) Send(ctx context.Context, action string) (*models.Command, error) {
	if m.SendFunc == nil {
		return nil, models.ErrStorage
	}
	return m.SendFunc(ctx, action)
}
