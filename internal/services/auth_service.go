package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/thermo/internal/auth"
	"github.com/BradenHooton/thermo/internal/models"
	pkgauth "github.com/BradenHooton/thermo/pkg/auth"
	pkglogger "github.com/BradenHooton/thermo/pkg/logger"
)

// CredentialRepository defines the credential storage operations the auth
// flows depend on. Both the JSON file store and the Postgres store satisfy it.
type CredentialRepository interface {
	GetByUsername(ctx context.Context, username string) (*models.Credential, error)
	Create(ctx context.Context, cred *models.Credential) error
}

// AuthService handles signup, login, token rotation and logout
type AuthService struct {
	repo        CredentialRepository
	tm          *auth.TokenManager
	registry    *auth.TokenRegistry
	limiter     *RateLimitService
	timing      *auth.TimingDelay
	bcryptCost  int
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

type AuthServiceDeps struct {
	Repo        CredentialRepository
	Tokens      *auth.TokenManager
	Registry    *auth.TokenRegistry
	Limiter     *RateLimitService
	Timing      *auth.TimingDelay
	BcryptCost  int
	Logger      *slog.Logger
	AuditLogger *pkglogger.AuditLogger
}

// NewAuthService creates a new AuthService
func NewAuthService(deps AuthServiceDeps) *AuthService {
	return &AuthService{
		repo:        deps.Repo,
		tm:          deps.Tokens,
		registry:    deps.Registry,
		limiter:     deps.Limiter,
		timing:      deps.Timing,
		bcryptCost:  deps.BcryptCost,
		logger:      deps.Logger,
		auditLogger: deps.AuditLogger,
	}
}

// Signup registers a new credential and returns a fresh token pair.
// Validation failures and duplicate usernames count against the caller's IP.
func (s *AuthService) Signup(ctx context.Context, username, password, ip string) (*models.TokenPair, error) {
	limitID := SignupIdentifier(ip)
	if err := s.limiter.CheckAllowed(limitID); err != nil {
		s.auditFailure("signup_failed", username, ip, "rate_limited")
		return nil, err
	}

	username = strings.TrimSpace(username)
	if err := ValidateUsername(username); err != nil {
		s.limiter.RecordFailure(limitID)
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		s.limiter.RecordFailure(limitID)
		return nil, err
	}

	_, err := s.repo.GetByUsername(ctx, username)
	switch {
	case err == nil:
		s.limiter.RecordFailure(limitID)
		s.auditFailure("signup_failed", username, ip, "duplicate_username")
		return nil, models.NewValidationError("username", "Username already exists")
	case !errors.Is(err, models.ErrNotFound):
		s.logger.Error("failed to look up credential", slog.Any("error", err))
		return nil, err
	}

	hash, err := pkgauth.HashPasswordWithCost(password, s.bcryptCost)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, &models.StorageError{Op: "hash password", Err: err}
	}

	if err := s.repo.Create(ctx, &models.Credential{Username: username, PasswordHash: hash}); err != nil {
		if errors.Is(err, models.ErrConflict) {
			// Lost a race with a concurrent signup for the same name.
			s.limiter.RecordFailure(limitID)
			return nil, models.NewValidationError("username", "Username already exists")
		}
		s.logger.Error("failed to persist credential", slog.Any("error", err))
		return nil, err
	}

	s.limiter.Reset(limitID)

	pair, err := s.issue(username)
	if err != nil {
		return nil, err
	}

	s.logger.Info("user signed up", slog.String("username", username))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "signup",
		Username:  username,
		IPAddress: ip,
		Success:   true,
	})
	return pair, nil
}

// Login verifies a username and password and returns a fresh token pair.
func (s *AuthService) Login(ctx context.Context, username, password, ip string) (*models.TokenPair, error) {
	start := time.Now()
	username = strings.TrimSpace(username)

	limitID := LoginIdentifier(ip, username)
	if err := s.limiter.CheckAllowed(limitID); err != nil {
		s.auditFailure("login_failed", username, ip, "rate_limited")
		return nil, err
	}

	if username == "" {
		return nil, models.NewValidationError("username", "Username is required")
	}
	if password == "" {
		return nil, models.NewValidationError("password", "Password is required")
	}

	cred, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.limiter.RecordFailure(limitID)
			s.auditFailure("login_failed", username, ip, "unknown_username")
			s.timing.WaitFrom(start, false)
			return nil, &models.NotFoundError{Resource: "username", Identifier: username}
		}
		s.logger.Error("failed to look up credential", slog.Any("error", err))
		return nil, err
	}

	if err := pkgauth.ComparePassword(cred.PasswordHash, password); err != nil {
		s.limiter.RecordFailure(limitID)
		s.auditFailure("login_failed", username, ip, "invalid_password")
		s.timing.WaitFrom(start, false)
		return nil, &models.AuthenticationError{Message: "Invalid password"}
	}

	s.limiter.Reset(limitID)

	pair, err := s.issue(username)
	if err != nil {
		return nil, err
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login",
		Username:  username,
		IPAddress: ip,
		Success:   true,
	})
	return pair, nil
}

// Refresh rotates a refresh token. The presented token is revoked before
// the new one is activated, so of two concurrent refreshes with the same
// token only one succeeds.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	invalid := &models.AuthenticationError{Message: "Invalid or expired refresh token"}

	if refreshToken == "" || s.registry.IsBlacklisted(refreshToken) {
		return nil, invalid
	}

	claims, err := s.tm.ValidateToken(refreshToken)
	if err != nil || claims.Type != models.TokenTypeRefresh {
		return nil, invalid
	}
	username := claims.Username

	if !s.registry.IsRefreshActive(username, refreshToken) {
		s.auditFailure("token_refresh_failed", username, "", "inactive_refresh_token")
		return nil, invalid
	}

	access, err := s.tm.GenerateAccessToken(username)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tm.GenerateRefreshToken(username)
	if err != nil {
		return nil, err
	}

	if !s.registry.RevokeRefresh(username, refreshToken) {
		s.logger.Warn("refresh token reused",
			slog.String("username", username),
			slog.String("token", pkglogger.MaskToken(refreshToken)),
		)
		s.auditFailure("token_refresh_failed", username, "", "refresh_token_reused")
		return nil, invalid
	}
	s.registry.ActivateRefresh(username, refresh)

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "token_refresh",
		Username:  username,
		Success:   true,
	})
	return &models.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Logout blacklists a valid access token and, with revokeAll, drops every
// active refresh token of its owner. It never fails; the return value is
// the number of refresh tokens revoked.
func (s *AuthService) Logout(ctx context.Context, accessToken string, revokeAll bool) int {
	if accessToken == "" || s.registry.IsBlacklisted(accessToken) {
		return 0
	}

	claims, err := s.tm.ValidateToken(accessToken)
	if err != nil || claims.Type != models.TokenTypeAccess {
		return 0
	}

	s.registry.Blacklist(accessToken)

	revoked := 0
	if revokeAll {
		revoked = s.registry.RevokeAllForUser(claims.Username)
	}

	s.auditLogger.LogAction("logout", claims.Username, "", map[string]string{
		"revoke_all": boolString(revokeAll),
	})
	return revoked
}

func (s *AuthService) issue(username string) (*models.TokenPair, error) {
	access, err := s.tm.GenerateAccessToken(username)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.Any("error", err))
		return nil, err
	}
	refresh, err := s.tm.GenerateRefreshToken(username)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.Any("error", err))
		return nil, err
	}
	s.registry.ActivateRefresh(username, refresh)
	return &models.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *AuthService) auditFailure(eventType, username, ip, reason string) {
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     eventType,
		Username:      username,
		IPAddress:     ip,
		Success:       false,
		FailureReason: reason,
	})
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
