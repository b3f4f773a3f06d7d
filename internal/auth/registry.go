package auth

import (
	"sync"
	"time"
)

// ExpiryFunc extracts a token's expiry, if it can be read.
type ExpiryFunc func(token string) (time.Time, bool)

// TokenRegistry tracks which refresh tokens are live per user and which
// tokens have been revoked before their natural expiry. A single mutex
// guards both maps, so every method is atomic with respect to the others.
type TokenRegistry struct {
	mu        sync.Mutex
	active    map[string]map[string]time.Time
	blacklist map[string]time.Time
	expiry    ExpiryFunc
}

// NewTokenRegistry creates an empty registry. expiry may be nil, in which
// case entries are never pruned.
func NewTokenRegistry(expiry ExpiryFunc) *TokenRegistry {
	return &TokenRegistry{
		active:    make(map[string]map[string]time.Time),
		blacklist: make(map[string]time.Time),
		expiry:    expiry,
	}
}

func (r *TokenRegistry) expiresAt(token string) time.Time {
	if r.expiry == nil {
		return time.Time{}
	}
	exp, ok := r.expiry(token)
	if !ok {
		return time.Time{}
	}
	return exp
}

// ActivateRefresh marks token as live for username. Adding twice is a no-op.
func (r *TokenRegistry) ActivateRefresh(username, token string) {
	exp := r.expiresAt(token)

	r.mu.Lock()
	defer r.mu.Unlock()

	tokens, ok := r.active[username]
	if !ok {
		tokens = make(map[string]time.Time)
		r.active[username] = tokens
	}
	if _, exists := tokens[token]; !exists {
		tokens[token] = exp
	}
}

func (r *TokenRegistry) IsRefreshActive(username, token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.active[username][token]
	return ok
}

// RevokeRefresh deactivates and blacklists token. It reports whether the
// token was active, which lets exactly one concurrent rotation win.
func (r *TokenRegistry) RevokeRefresh(username, token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	tokens := r.active[username]
	exp, found := tokens[token]
	if found {
		delete(tokens, token)
		if len(tokens) == 0 {
			delete(r.active, username)
		}
	} else {
		exp = r.expiresAt(token)
	}
	r.blacklist[token] = exp
	return found
}

// RevokeAllForUser blacklists every active refresh token of username and
// returns how many there were.
func (r *TokenRegistry) RevokeAllForUser(username string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	tokens := r.active[username]
	for token, exp := range tokens {
		r.blacklist[token] = exp
	}
	delete(r.active, username)
	return len(tokens)
}

func (r *TokenRegistry) Blacklist(token string) {
	exp := r.expiresAt(token)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.blacklist[token] = exp
}

func (r *TokenRegistry) IsBlacklisted(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.blacklist[token]
	return ok
}

// PruneExpired drops entries whose token expired before now. Such tokens
// already fail verification, so forgetting them changes no answer.
func (r *TokenRegistry) PruneExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for token, exp := range r.blacklist {
		if !exp.IsZero() && exp.Before(now) {
			delete(r.blacklist, token)
			removed++
		}
	}
	for username, tokens := range r.active {
		for token, exp := range tokens {
			if !exp.IsZero() && exp.Before(now) {
				delete(tokens, token)
				removed++
			}
		}
		if len(tokens) == 0 {
			delete(r.active, username)
		}
	}
	return removed
}

// Stats reports current sizes for logging.
func (r *TokenRegistry) Stats() (activeTokens, blacklisted int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tokens := range r.active {
		activeTokens += len(tokens)
	}
	return activeTokens, len(r.blacklist)
}
