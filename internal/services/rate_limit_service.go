package services

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/thermo/internal/models"
)

// RateLimitConfig holds configuration for rate limiting behavior
type RateLimitConfig struct {
	MaxAttempts     int
	Window          time.Duration
	LockoutDuration time.Duration
}

// rateLimitEntry is one identifier's failure streak. A zero failures with
// no lock is the CLEAR state.
type rateLimitEntry struct {
	failures      int
	windowStarted time.Time
	lockedUntil   time.Time
}

// RateLimitService counts failed auth attempts per identifier and locks an
// identifier out once MaxAttempts failures land within Window.
//
// States per identifier: CLEAR -> ACCUMULATING -> LOCKED -> CLEAR, the last
// step happening when the lockout elapses or on Reset.
type RateLimitService struct {
	config RateLimitConfig
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*rateLimitEntry
}

// NewRateLimitService creates a new RateLimitService
func NewRateLimitService(config RateLimitConfig, logger *slog.Logger) *RateLimitService {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &RateLimitService{
		config:  config,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*rateLimitEntry),
	}
}

// SetClock overrides the time source. Intended for tests.
func (s *RateLimitService) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// LoginIdentifier keys login attempts on the client IP and the lower-cased
// username, so one address cannot lock out unrelated accounts.
func LoginIdentifier(ip, username string) string {
	return ip + "|" + strings.ToLower(username)
}

// SignupIdentifier keys signup attempts on the client IP alone.
func SignupIdentifier(ip string) string {
	return ip
}

// CheckAllowed returns a *models.RateLimitedError while identifier is locked.
func (s *RateLimitService) CheckAllowed(identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[identifier]
	if !ok || entry.lockedUntil.IsZero() {
		return nil
	}

	now := s.now()
	if now.Before(entry.lockedUntil) {
		return &models.RateLimitedError{RetryAfter: entry.lockedUntil.Sub(now)}
	}

	// Lock elapsed: back to CLEAR.
	delete(s.entries, identifier)
	return nil
}

// RecordFailure counts one failed attempt. A streak older than Window starts
// over at one. Reaching MaxAttempts locks the identifier for LockoutDuration.
func (s *RateLimitService) RecordFailure(identifier string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[identifier]
	if !ok {
		entry = &rateLimitEntry{}
		s.entries[identifier] = entry
	}

	if !entry.lockedUntil.IsZero() {
		if now.Before(entry.lockedUntil) {
			return
		}
		*entry = rateLimitEntry{}
	}

	if entry.failures == 0 || now.Sub(entry.windowStarted) > s.config.Window {
		entry.failures = 0
		entry.windowStarted = now
	}
	entry.failures++

	if entry.failures >= s.config.MaxAttempts {
		entry.lockedUntil = now.Add(s.config.LockoutDuration)
		s.logger.Warn("identifier locked out",
			slog.String("identifier", identifier),
			slog.Int("failed_attempts", entry.failures),
			slog.Duration("lockout_duration", s.config.LockoutDuration),
		)
	}
}

// Reset forces identifier back to CLEAR.
func (s *RateLimitService) Reset(identifier string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, identifier)
}

// ResetAll clears every identifier and returns how many were tracked.
func (s *RateLimitService) ResetAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.entries)
	s.entries = make(map[string]*rateLimitEntry)
	return n
}

// ResetUser clears every login identifier for username, whatever the IP.
func (s *RateLimitService) ResetUser(username string) int {
	suffix := "|" + strings.ToLower(username)

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id := range s.entries {
		if strings.HasSuffix(id, suffix) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

// Status reports the current entry for identifier.
func (s *RateLimitService) Status(identifier string) models.RateLimitStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := models.RateLimitStatus{Identifier: identifier}
	entry, ok := s.entries[identifier]
	if !ok {
		return status
	}

	status.FailureCount = entry.failures
	status.WindowStarted = entry.windowStarted
	if !entry.lockedUntil.IsZero() && s.now().Before(entry.lockedUntil) {
		lockedUntil := entry.lockedUntil
		status.LockedUntil = &lockedUntil
		status.Locked = true
	}
	return status
}

// Prune drops entries that are effectively CLEAR: expired locks and
// streaks whose window has passed.
func (s *RateLimitService) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, entry := range s.entries {
		locked := !entry.lockedUntil.IsZero() && now.Before(entry.lockedUntil)
		inWindow := entry.lockedUntil.IsZero() && now.Sub(entry.windowStarted) <= s.config.Window
		if !locked && !inWindow {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}
