package models

import "time"

// Reading is a single temperature sample in degrees Celsius.
type Reading struct {
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recordedAt"`
}
