package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/thermo/internal/models"
	"github.com/BradenHooton/thermo/internal/repositories"
	"github.com/BradenHooton/thermo/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type fakeRecorder struct {
	readings []models.Reading
	err      error
}

func (f *fakeRecorder) Record(ctx context.Context, value float64, at time.Time) (*models.Reading, error) {
	if f.err != nil {
		return nil, f.err
	}
	if value < -55 || value > 125 {
		return nil, &models.OutOfRangeError{Value: value, Min: -55, Max: 125}
	}
	r := models.Reading{Value: value, RecordedAt: at}
	f.readings = append(f.readings, r)
	return &r, nil
}

func TestParseSample(t *testing.T) {
	tests := []struct {
		line    string
		value   float64
		at      string
		wantErr bool
	}{
		{line: "21.5", value: 21.5},
		{line: " -3 ", value: -3},
		{line: "22.25,2024-03-01T10:00:00Z", value: 22.25, at: "2024-03-01T10:00:00Z"},
		{line: "22,2024-03-01T12:00:00+02:00", value: 22, at: "2024-03-01T10:00:00Z"},
		{line: "lab,19.500000,2024-03-01T10:00:00Z,serial", value: 19.5, at: "2024-03-01T10:00:00Z"},
		{line: "lab,19.5", value: 19.5},
		{line: "22,", value: 22},
		{line: "warm", wantErr: true},
		{line: "lab,warm", wantErr: true},
		{line: "NaN", wantErr: true},
		{line: "22,yesterday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			value, at, err := ParseSample(strings.TrimSpace(tt.line))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.value, value)
			if tt.at == "" {
				assert.True(t, at.IsZero())
				return
			}
			want, _ := time.Parse(time.RFC3339, tt.at)
			assert.True(t, at.Equal(want))
		})
	}
}

func TestSampler_Run(t *testing.T) {
	rec := &fakeRecorder{}
	arrival := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var echo bytes.Buffer
	s := NewSampler(rec, SamplerOptions{Echo: &echo, Now: func() time.Time { return arrival }}, testLogger())

	input := strings.Join([]string{
		"21.5",
		"",
		"22,2024-03-01T09:59:00Z",
		"garbage",
		"500",
	}, "\n")

	stats, err := s.Run(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, SamplerStats{Stored: 2, Malformed: 1, OutOfRange: 1}, stats)

	require.Len(t, rec.readings, 2)
	assert.True(t, rec.readings[0].RecordedAt.Equal(arrival), "missing time is stamped on arrival")
	assert.Equal(t, 9, rec.readings[1].RecordedAt.Hour())
	assert.Equal(t, 2, strings.Count(echo.String(), "stored:"))
}

func TestSampler_DropsBeyondMaxRate(t *testing.T) {
	rec := &fakeRecorder{}
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewSampler(rec, SamplerOptions{MaxRate: 2, Now: func() time.Time { return now }}, testLogger())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.HandleLine(ctx, "20")
	}
	assert.Equal(t, 2, s.Stats().Stored)
	assert.Equal(t, 3, s.Stats().Dropped)

	// A second later the bucket has refilled.
	now = now.Add(time.Second)
	s.HandleLine(ctx, "20")
	assert.Equal(t, 3, s.Stats().Stored)
}

func TestSampler_MalformedLinesDoNotSpendRateBudget(t *testing.T) {
	rec := &fakeRecorder{}
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s := NewSampler(rec, SamplerOptions{MaxRate: 1, Now: func() time.Time { return now }}, testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.HandleLine(ctx, "garbage")
	}
	s.HandleLine(ctx, "20")

	assert.Equal(t, SamplerStats{Stored: 1, Malformed: 3}, s.Stats())
}

func TestSampler_StorageFailureIsCounted(t *testing.T) {
	rec := &fakeRecorder{err: &models.StorageError{Op: "append", Err: errors.New("disk full")}}
	s := NewSampler(rec, SamplerOptions{}, testLogger())

	s.HandleLine(context.Background(), "20")
	assert.Equal(t, 1, s.Stats().Failed)
	assert.Zero(t, s.Stats().Stored)
}

func TestSampler_StopsOnCancelledContext(t *testing.T) {
	s := NewSampler(&fakeRecorder{}, SamplerOptions{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Run(ctx, strings.NewReader("20\n21\n"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSampler_WritesThroughReadingStore(t *testing.T) {
	dir := t.TempDir()
	store, err := repositories.NewReadingStore(dir, repositories.ReadingStoreOptions{MinCelsius: -55, MaxCelsius: 125}, testLogger())
	require.NoError(t, err)
	svc := services.NewReadingService(store, testLogger())

	s := NewSampler(svc, SamplerOptions{}, testLogger())
	_, err = s.Run(context.Background(), strings.NewReader("20,2024-03-01T10:00:05Z\n22,2024-03-01T10:00:40Z\n126,2024-03-01T10:00:50Z\n"))
	require.NoError(t, err)

	// A separate store instance, as the API process would have, sees the rows.
	reader, err := repositories.NewReadingStore(dir, repositories.ReadingStoreOptions{MinCelsius: -55, MaxCelsius: 125}, testLogger())
	require.NoError(t, err)
	got, err := services.NewReadingService(reader, testLogger()).GetReadings(context.Background(), "2024-03-01T10:00:00Z", "2024-03-01T10:59:59Z")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 21.0, got[0].Value)
}
