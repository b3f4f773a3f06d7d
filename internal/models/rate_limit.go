package models

import "time"

// RateLimitStatus is a point-in-time view of one identifier's limiter entry.
type RateLimitStatus struct {
	Identifier    string     `json:"identifier"`
	FailureCount  int        `json:"failure_count"`
	WindowStarted time.Time  `json:"window_started_at"`
	LockedUntil   *time.Time `json:"locked_until,omitempty"`
	Locked        bool       `json:"locked"`
}
