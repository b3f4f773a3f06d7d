package models

import (
	"strings"
	"time"
)

const (
	CommandStart  = "START"
	CommandStop   = "STOP"
	CommandToggle = "TOGGLE"

	CommandStatusPending   = "pending"
	CommandStatusProcessed = "processed"
)

// Command is a queued instruction for the sensor controller.
type Command struct {
	ID          string     `json:"id"`
	Command     string     `json:"command"`
	Status      string     `json:"status"`
	QueuedAt    time.Time  `json:"timestamp"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// ParseCommand normalizes an action name such as "start" into its command constant.
func ParseCommand(action string) (string, bool) {
	switch c := strings.ToUpper(strings.TrimSpace(action)); c {
	case CommandStart, CommandStop, CommandToggle:
		return c, true
	default:
		return "", false
	}
}
