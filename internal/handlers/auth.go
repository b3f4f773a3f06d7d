package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/thermo/internal/auth"
	"github.com/BradenHooton/thermo/internal/models"
	pkghttp "github.com/BradenHooton/thermo/pkg/http"
	pkglogger "github.com/BradenHooton/thermo/pkg/logger"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Signup(ctx context.Context, username, password, ip string) (*models.TokenPair, error)
	Login(ctx context.Context, username, password, ip string) (*models.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error)
	Logout(ctx context.Context, accessToken string, revokeAll bool) int
}

// RateLimitResetter is the operator-facing part of the rate limiter.
type RateLimitResetter interface {
	ResetAll() int
	ResetUser(username string) int
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service     AuthServiceInterface
	limiter     RateLimitResetter
	resetKey    string
	ipConfig    *pkghttp.IPConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, limiter RateLimitResetter, resetKey string, ipConfig *pkghttp.IPConfig, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AuthHandler {
	return &AuthHandler{
		service:     service,
		limiter:     limiter,
		resetKey:    resetKey,
		ipConfig:    ipConfig,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Request DTOs

// CredentialsRequest is the body of signup and login. Field rules are
// enforced by the auth service so that failures count against the limiter.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LogoutRequest struct {
	RevokeAll bool `json:"revoke_all"`
}

type RateLimitResetRequest struct {
	ResetKey string `json:"reset_key"`
	Username string `json:"username" validate:"omitempty,max=50"`
}

// Response DTOs

type AuthResponse struct {
	Message string `json:"message"`
	models.TokenPair
}

type MessageResponse struct {
	Message string `json:"message"`
}

// Signup handles account creation
// @Summary Create an account
// @Accept json
// @Param request body CredentialsRequest true "Signup request"
// @Produce json
// @Success 201 {object} AuthResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /api/signup [post]
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	pair, err := h.service.Signup(r.Context(), req.Username, req.Password, ip)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, AuthResponse{
		Message:   "User signed up",
		TokenPair: *pair,
	})
}

// Login handles username/password authentication
// @Summary Log in
// @Accept json
// @Param request body CredentialsRequest true "Login request"
// @Produce json
// @Success 200 {object} AuthResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 404 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /api/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	pair, err := h.service.Login(r.Context(), req.Username, req.Password, ip)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Username does not exist")
			return
		}
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, AuthResponse{
		Message:   "Login successful",
		TokenPair: *pair,
	})
}

// RefreshToken rotates the refresh token admitted by RequireRefreshToken
// @Summary Rotate tokens
// @Produce json
// @Success 200 {object} models.TokenPair
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /api/refresh-token [post]
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromContext(r.Context())
	if token == "" {
		pkghttp.WriteUnauthorized(w, "Authorization token is missing")
		return
	}

	pair, err := h.service.Refresh(r.Context(), token)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, pair)
}

// Logout revokes the presented access token. It always answers 200 so a
// client can clear its state even with an expired or missing token.
// @Summary Log out
// @Accept json
// @Param request body LogoutRequest false "Logout options"
// @Produce json
// @Success 200 {object} MessageResponse
// @Router /api/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		h.logger.Debug("ignoring malformed logout body", slog.Any("error", err))
	}

	token, _ := pkghttp.BearerToken(r)
	revoked := h.service.Logout(r.Context(), token, req.RevokeAll)

	message := "Logged out"
	if req.RevokeAll && revoked > 0 {
		message = "Logged out from all sessions"
	}
	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: message})
}

// ResetRateLimit clears login lockouts when the caller knows the reset key.
// The response does not reveal whether the key matched.
// @Summary Reset rate limits
// @Accept json
// @Param request body RateLimitResetRequest true "Reset request"
// @Produce json
// @Success 200 {object} MessageResponse
// @Router /api/rate-limit/reset [post]
func (h *AuthHandler) ResetRateLimit(w http.ResponseWriter, r *http.Request) {
	var req RateLimitResetRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		h.logger.Debug("ignoring malformed rate limit reset body", slog.Any("error", err))
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	if h.keyMatches(req.ResetKey) && ValidateRequest(req) == nil {
		username := strings.TrimSpace(req.Username)
		var cleared int
		if username != "" {
			cleared = h.limiter.ResetUser(username)
		} else {
			cleared = h.limiter.ResetAll()
		}
		h.auditLogger.LogAction("rate_limit_reset", username, ip, map[string]string{
			"scope": resetScope(username),
		})
		h.logger.Info("rate limits reset", slog.Int("cleared", cleared))
	} else {
		h.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "rate_limit_reset",
			IPAddress:     ip,
			Success:       false,
			FailureReason: "invalid_reset_key",
		})
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Rate limit reset processed"})
}

func (h *AuthHandler) keyMatches(key string) bool {
	if h.resetKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(h.resetKey)) == 1
}

func resetScope(username string) string {
	if username == "" {
		return "all"
	}
	return "user"
}
