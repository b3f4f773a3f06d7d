package services

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/BradenHooton/thermo/internal/models"
)

// ReadingRepository is the durable reading store.
type ReadingRepository interface {
	Append(ctx context.Context, reading models.Reading) error
	Query(ctx context.Context, from, to time.Time) ([]models.Reading, error)
}

// Offset-less inputs are read as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ReadingService answers minute-averaged range queries and records new samples.
type ReadingService struct {
	repo   ReadingRepository
	logger *slog.Logger
	now    func() time.Time
}

func NewReadingService(repo ReadingRepository, logger *slog.Logger) *ReadingService {
	return &ReadingService{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the time source used to stamp readings without a time.
func (s *ReadingService) SetClock(now func() time.Time) {
	s.now = now
}

// GetReadings parses the bounds, queries the store and returns one averaged
// reading per minute that has samples. A store failure is logged and
// reported as no data.
func (s *ReadingService) GetReadings(ctx context.Context, startRaw, endRaw string) ([]models.Reading, error) {
	start, err := parseBound("startDateTime", startRaw)
	if err != nil {
		return nil, err
	}
	end, err := parseBound("endDateTime", endRaw)
	if err != nil {
		return nil, err
	}
	if start.After(end) {
		return nil, models.NewValidationError("startDateTime", "startDateTime must not be after endDateTime")
	}

	readings, err := s.repo.Query(ctx, start, end)
	if err != nil {
		s.logger.Error("reading query failed",
			slog.Time("start", start),
			slog.Time("end", end),
			slog.Any("error", err),
		)
		return []models.Reading{}, nil
	}

	return AggregateByMinute(readings), nil
}

// Record stores one reading. A zero at is stamped with the current time.
func (s *ReadingService) Record(ctx context.Context, value float64, at time.Time) (*models.Reading, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, models.NewValidationError("value", "value must be a finite number")
	}
	if at.IsZero() {
		at = s.now()
	}

	reading := models.Reading{Value: value, RecordedAt: at.UTC().Truncate(time.Microsecond)}
	if err := s.repo.Append(ctx, reading); err != nil {
		return nil, err
	}
	return &reading, nil
}

// AggregateByMinute groups ascending readings by minute and averages each
// group, rounded to two decimals. Input must be sorted by RecordedAt.
func AggregateByMinute(readings []models.Reading) []models.Reading {
	out := make([]models.Reading, 0)
	var (
		bucket time.Time
		sum    float64
		n      int
	)
	flush := func() {
		if n > 0 {
			out = append(out, models.Reading{Value: roundTo2(sum / float64(n)), RecordedAt: bucket})
		}
	}

	for _, r := range readings {
		minute := r.RecordedAt.UTC().Truncate(time.Minute)
		if n == 0 || !minute.Equal(bucket) {
			flush()
			bucket, sum, n = minute, 0, 0
		}
		sum += r.Value
		n++
	}
	flush()

	return out
}

// ParseTimestamp accepts RFC3339 (any offset, optional fraction) or an
// offset-less ISO-8601 date-time, and returns UTC.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), true
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseBound(field, raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, models.NewValidationError(field, field+" is required")
	}
	t, ok := ParseTimestamp(raw)
	if !ok {
		return time.Time{}, models.NewValidationError(field, "invalid date format, use ISO 8601")
	}
	return t, nil
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}
