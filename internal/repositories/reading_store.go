package repositories

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/thermo/internal/filelock"
	"github.com/BradenHooton/thermo/internal/models"
)

const (
	readingsDirName     = "readings"
	partitionSuffix     = "_readings.csv"
	partitionDateLayout = "2006-01-02"
	recordedAtLayout    = "2006-01-02T15:04:05.000000Z"
)

var readingsHeader = []string{"recordedAt", "tempC"}

// partition is the in-memory view of one day's CSV file. offset is the
// number of bytes already folded into readings; anything past it is picked
// up on the next sync.
type partition struct {
	day      time.Time
	path     string
	offset   int64
	timeCol  int
	valueCol int
	readings []models.Reading
}

type ReadingStoreOptions struct {
	MinCelsius float64
	MaxCelsius float64
	LockPolicy filelock.RetryPolicy
}

// ReadingStore persists readings as append-only CSV files, one per UTC day,
// and answers range queries from an in-memory index of those files.
//
// The files are the source of truth. The index is rebuilt from them on open
// and caught up from each file's last indexed offset after every append and
// before every query, so rows written by another process become visible
// without a restart.
type ReadingStore struct {
	dir    string
	opts   ReadingStoreOptions
	logger *slog.Logger

	mu         sync.RWMutex
	partitions map[string]*partition

	writersMu sync.Mutex
	writers   map[string]*sync.Mutex
}

// NewReadingStore opens (creating if needed) the readings directory under
// dataDir and eagerly indexes every existing partition.
func NewReadingStore(dataDir string, opts ReadingStoreOptions, logger *slog.Logger) (*ReadingStore, error) {
	if opts.MinCelsius > opts.MaxCelsius {
		return nil, fmt.Errorf("invalid temperature range [%v, %v]", opts.MinCelsius, opts.MaxCelsius)
	}
	if opts.LockPolicy == (filelock.RetryPolicy{}) {
		opts.LockPolicy = filelock.DefaultRetryPolicy
	}

	dir := filepath.Join(dataDir, readingsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &models.StorageError{Op: "open", Err: err}
	}

	s := &ReadingStore{
		dir:        dir,
		opts:       opts,
		logger:     logger,
		partitions: make(map[string]*partition),
		writers:    make(map[string]*sync.Mutex),
	}

	if err := s.sync(time.Time{}, time.Time{}); err != nil {
		return nil, err
	}

	s.mu.RLock()
	count := 0
	for _, p := range s.partitions {
		count += len(p.readings)
	}
	partitions := len(s.partitions)
	s.mu.RUnlock()

	logger.Info("reading store loaded",
		slog.String("dir", dir),
		slog.Int("partitions", partitions),
		slog.Int("readings", count),
	)

	return s, nil
}

// Append validates and durably writes one reading. The index is only
// updated after the row has been written and fsynced.
func (s *ReadingStore) Append(ctx context.Context, reading models.Reading) error {
	if reading.Value < s.opts.MinCelsius || reading.Value > s.opts.MaxCelsius {
		return &models.OutOfRangeError{Value: reading.Value, Min: s.opts.MinCelsius, Max: s.opts.MaxCelsius}
	}

	at := reading.RecordedAt.UTC().Truncate(time.Microsecond)
	key := at.Format(partitionDateLayout)
	path := s.partitionPath(key)

	writer := s.writerFor(key)
	writer.Lock()
	defer writer.Unlock()

	if err := s.appendRow(ctx, path, at, reading.Value); err != nil {
		return &models.StorageError{Op: "append", Err: err}
	}

	s.mu.Lock()
	err := s.catchUpLocked(key, path)
	s.mu.Unlock()
	if err != nil {
		// The row is durable; the next query will retry the catch-up.
		s.logger.Warn("failed to index appended reading",
			slog.String("partition", key),
			slog.String("error", err.Error()),
		)
	}

	return nil
}

// Query returns readings with from <= recordedAt <= to in ascending order.
// Only partitions whose day intersects the range are touched.
func (s *ReadingStore) Query(ctx context.Context, from, to time.Time) ([]models.Reading, error) {
	from, to = from.UTC(), to.UTC()
	if from.After(to) {
		return []models.Reading{}, nil
	}

	if err := s.sync(from, to); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	firstDay := startOfDay(from)
	lastDay := startOfDay(to)

	s.mu.RLock()
	defer s.mu.RUnlock()

	days := make([]*partition, 0, len(s.partitions))
	for _, p := range s.partitions {
		if p.day.Before(firstDay) || p.day.After(lastDay) {
			continue
		}
		days = append(days, p)
	}
	slices.SortFunc(days, func(a, b *partition) int { return a.day.Compare(b.day) })

	result := make([]models.Reading, 0)
	for _, p := range days {
		start := sort.Search(len(p.readings), func(i int) bool {
			return !p.readings[i].RecordedAt.Before(from)
		})
		for _, r := range p.readings[start:] {
			if r.RecordedAt.After(to) {
				break
			}
			result = append(result, r)
		}
	}

	return result, nil
}

// syncFile flushes an appended row to stable storage.
var syncFile = (*os.File).Sync

// appendRow writes one row under the partition's flock. A torn tail left by
// a crashed writer is cut off first, and any failure after that rolls the
// file back to its starting length so no unacknowledged bytes remain.
func (s *ReadingStore) appendRow(ctx context.Context, path string, at time.Time, value float64) (err error) {
	lock, err := filelock.Acquire(ctx, path+".lock", s.opts.LockPolicy)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	size, err := completeLength(f, info.Size())
	if err != nil {
		return err
	}
	if size < info.Size() {
		if err := f.Truncate(size); err != nil {
			return err
		}
		s.logger.Warn("dropped torn partition tail",
			slog.String("path", path),
			slog.Int64("bytes", info.Size()-size),
		)
	}

	defer func() {
		if err != nil {
			if terr := f.Truncate(size); terr != nil {
				s.logger.Error("failed to roll back partition",
					slog.String("path", path),
					slog.Any("error", terr),
				)
			}
		}
	}()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if size == 0 {
		if err := w.Write(readingsHeader); err != nil {
			return err
		}
	}
	if err := w.Write([]string{at.Format(recordedAtLayout), strconv.FormatFloat(value, 'f', -1, 64)}); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		return err
	}
	return syncFile(f)
}

// completeLength returns the length of f up to and including its last
// newline, scanning backwards from size.
func completeLength(f *os.File, size int64) (int64, error) {
	const chunk = 4096
	buf := make([]byte, chunk)
	for end := size; end > 0; {
		start := max(0, end-chunk)
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && err != io.EOF {
			return 0, err
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			return start + int64(i) + 1, nil
		}
		end = start
	}
	return 0, nil
}

// sync discovers partition files and folds any unindexed bytes into the
// index. A zero from/to syncs every partition.
func (s *ReadingStore) sync(from, to time.Time) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return &models.StorageError{Op: "list partitions", Err: err}
	}

	all := from.IsZero() && to.IsZero()
	firstDay, lastDay := startOfDay(from), startOfDay(to)

	var stale []string
	s.mu.RLock()
	for _, e := range entries {
		key, ok := partitionKey(e.Name())
		if !ok || e.IsDir() {
			continue
		}
		day, _ := time.Parse(partitionDateLayout, key)
		if !all && (day.Before(firstDay) || day.After(lastDay)) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		p, known := s.partitions[key]
		if !known || info.Size() != p.offset {
			stale = append(stale, key)
		}
	}
	s.mu.RUnlock()

	if len(stale) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range stale {
		if err := s.catchUpLocked(key, s.partitionPath(key)); err != nil {
			return &models.StorageError{Op: "read partition " + key, Err: err}
		}
	}
	return nil
}

// catchUpLocked reads complete lines past the partition's offset. Callers
// hold s.mu for writing.
func (s *ReadingStore) catchUpLocked(key, path string) error {
	p, ok := s.partitions[key]
	if !ok {
		day, err := time.Parse(partitionDateLayout, key)
		if err != nil {
			return err
		}
		p = &partition{day: day, path: path, timeCol: 0, valueCol: 1}
		s.partitions[key] = p
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() < p.offset {
		// Shrunk under us by a rollback or repair; rebuild from the start.
		p.offset, p.readings = 0, nil
		p.timeCol, p.valueCol = 0, 1
	}

	if _, err := f.Seek(p.offset, io.SeekStart); err != nil {
		return err
	}
	chunk, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	end := bytes.LastIndexByte(chunk, '\n')
	if end < 0 {
		return nil
	}
	complete := chunk[:end+1]
	headerPending := p.offset == 0

	r := csv.NewReader(bytes.NewReader(complete))
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	sorted := true
	skipped := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		if headerPending {
			headerPending = false
			if p.applyHeader(record) {
				continue
			}
		}

		reading, ok := p.parseRow(record)
		if !ok {
			skipped++
			continue
		}
		if n := len(p.readings); n > 0 && reading.RecordedAt.Before(p.readings[n-1].RecordedAt) {
			sorted = false
		}
		p.readings = append(p.readings, reading)
	}

	if !sorted {
		slices.SortStableFunc(p.readings, func(a, b models.Reading) int {
			return a.RecordedAt.Compare(b.RecordedAt)
		})
	}
	p.offset += int64(len(complete))

	if skipped > 0 {
		s.logger.Warn("skipped malformed reading rows",
			slog.String("partition", key),
			slog.Int("skipped", skipped),
		)
	}
	return nil
}

// applyHeader records column positions when record is a header row.
func (p *partition) applyHeader(record []string) bool {
	timeCol, valueCol := -1, -1
	for i, name := range record {
		switch strings.TrimSpace(name) {
		case "recordedAt":
			timeCol = i
		case "tempC", "valueC", "value":
			valueCol = i
		}
	}
	if timeCol < 0 || valueCol < 0 {
		return false
	}
	p.timeCol, p.valueCol = timeCol, valueCol
	return true
}

func (p *partition) parseRow(record []string) (models.Reading, bool) {
	if len(record) <= p.timeCol || len(record) <= p.valueCol {
		return models.Reading{}, false
	}
	at, err := parseRecordedAt(strings.TrimSpace(record[p.timeCol]))
	if err != nil {
		return models.Reading{}, false
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(record[p.valueCol]), 64)
	if err != nil {
		return models.Reading{}, false
	}
	return models.Reading{Value: value, RecordedAt: at}, true
}

func parseRecordedAt(raw string) (time.Time, error) {
	if t, err := time.Parse(recordedAtLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC().Truncate(time.Microsecond), nil
}

func (s *ReadingStore) writerFor(key string) *sync.Mutex {
	s.writersMu.Lock()
	defer s.writersMu.Unlock()
	m, ok := s.writers[key]
	if !ok {
		m = &sync.Mutex{}
		s.writers[key] = m
	}
	return m
}

func (s *ReadingStore) partitionPath(key string) string {
	return filepath.Join(s.dir, key+partitionSuffix)
}

func partitionKey(name string) (string, bool) {
	key, ok := strings.CutSuffix(name, partitionSuffix)
	if !ok {
		return "", false
	}
	if _, err := time.Parse(partitionDateLayout, key); err != nil {
		return "", false
	}
	return key, true
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
