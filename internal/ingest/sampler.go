package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/thermo/internal/models"
	"golang.org/x/time/rate"
)

// ReadingRecorder stores one validated reading.
type ReadingRecorder interface {
	Record(ctx context.Context, value float64, at time.Time) (*models.Reading, error)
}

type SamplerOptions struct {
	// MaxRate caps accepted samples per second. Zero or less disables the cap.
	MaxRate float64
	// Echo, when set, receives one line per stored reading.
	Echo io.Writer
	Now  func() time.Time
}

// SamplerStats counts what happened to each line read.
type SamplerStats struct {
	Stored     int
	Dropped    int
	Malformed  int
	OutOfRange int
	Failed     int
}

// Sampler turns newline-delimited sensor output into stored readings.
//
// Accepted lines are "<value>", "<value>,<RFC3339 time>", and the older
// "<room>,<value>[,<time>[,<source>]]" form. Lines without a time are
// stamped on arrival.
type Sampler struct {
	recorder ReadingRecorder
	limiter  *rate.Limiter
	echo     io.Writer
	now      func() time.Time
	logger   *slog.Logger
	stats    SamplerStats
}

func NewSampler(recorder ReadingRecorder, opts SamplerOptions, logger *slog.Logger) *Sampler {
	limit, burst := rate.Inf, 1
	if opts.MaxRate > 0 {
		limit = rate.Limit(opts.MaxRate)
		burst = max(1, int(math.Ceil(opts.MaxRate)))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sampler{
		recorder: recorder,
		limiter:  rate.NewLimiter(limit, burst),
		echo:     opts.Echo,
		now:      opts.Now,
		logger:   logger,
	}
}

// Run consumes r until EOF, a read error, or ctx is done. A blocking device
// read does not observe ctx; close the device to unblock it.
func (s *Sampler) Run(ctx context.Context, r io.Reader) (SamplerStats, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return s.stats, err
		}
		s.HandleLine(ctx, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return s.stats, fmt.Errorf("read samples: %w", err)
	}
	return s.stats, nil
}

// HandleLine processes a single sample line.
func (s *Sampler) HandleLine(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	arrived := s.now()
	value, at, err := ParseSample(line)
	if err != nil {
		s.stats.Malformed++
		s.logger.Warn("malformed sample", slog.String("line", line), slog.String("error", err.Error()))
		return
	}

	// Only well-formed samples spend rate budget.
	if !s.limiter.AllowN(arrived, 1) {
		s.stats.Dropped++
		s.logger.Debug("sample dropped by rate limit", slog.String("line", line))
		return
	}
	if at.IsZero() {
		at = arrived
	}

	reading, err := s.recorder.Record(ctx, value, at)
	switch {
	case err == nil:
		s.stats.Stored++
		if s.echo != nil {
			fmt.Fprintf(s.echo, "stored: tempC=%v recordedAt=%s\n", reading.Value, reading.RecordedAt.Format(time.RFC3339Nano))
		}
	case errors.Is(err, models.ErrOutOfRange):
		s.stats.OutOfRange++
		s.logger.Warn("sample out of range", slog.Float64("value", value), slog.String("error", err.Error()))
	default:
		s.stats.Failed++
		s.logger.Error("failed to store sample",
			slog.String("line", line),
			slog.Float64("value", value),
			slog.Time("recorded_at", at),
			slog.Any("error", err),
		)
	}
}

// Stats returns the counters accumulated so far.
func (s *Sampler) Stats() SamplerStats {
	return s.stats
}

// ParseSample decodes one line. A zero time means the line carried none.
func ParseSample(line string) (float64, time.Time, error) {
	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	valueIdx := 0
	if _, err := strconv.ParseFloat(parts[0], 64); err != nil && len(parts) >= 2 {
		// Leading room name.
		valueIdx = 1
	}

	value, err := strconv.ParseFloat(parts[valueIdx], 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("invalid temperature %q", parts[valueIdx])
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, time.Time{}, fmt.Errorf("invalid temperature %q", parts[valueIdx])
	}

	timeIdx := valueIdx + 1
	if timeIdx >= len(parts) || parts[timeIdx] == "" {
		return value, time.Time{}, nil
	}
	at, err := time.Parse(time.RFC3339Nano, parts[timeIdx])
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("invalid timestamp %q", parts[timeIdx])
	}
	return value, at.UTC(), nil
}
