package repositories

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BradenHooton/thermo/internal/filelock"
	"github.com/BradenHooton/thermo/internal/models"
	"github.com/oklog/ulid/v2"
)

const (
	commandsFileName  = "arduino_commands.json"
	commandsLockName  = "arduino_commands.lock"
	drainLockName     = "arduino_commands.drain.lock"
	defaultProcessedN = 100
)

// CommandQueue is a durable single-consumer queue of sensor commands shared
// between the API process (producer) and the ingestion process (consumer).
// Every read-modify-write of the queue file happens under an exclusive
// flock, and only the holder of the drainer lease may ack.
type CommandQueue struct {
	dir           string
	policy        filelock.RetryPolicy
	keepProcessed int
	now           func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

type CommandQueueOptions struct {
	LockPolicy    filelock.RetryPolicy
	KeepProcessed int
	Now           func() time.Time
}

// Drainer is the exclusive consumer lease. Release it on shutdown; the
// kernel drops it automatically if the process dies.
type Drainer struct {
	mu   sync.Mutex
	lock *filelock.Lock
}

// Release gives up the lease. A released drainer can no longer ack.
func (d *Drainer) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lock == nil {
		return nil
	}
	err := d.lock.Unlock()
	d.lock = nil
	return err
}

func (d *Drainer) held() bool {
	if d == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lock != nil
}

func NewCommandQueue(dataDir string, opts CommandQueueOptions) (*CommandQueue, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, &models.StorageError{Op: "open command queue", Err: err}
	}
	if opts.LockPolicy == (filelock.RetryPolicy{}) {
		opts.LockPolicy = filelock.DefaultRetryPolicy
	}
	if opts.KeepProcessed <= 0 {
		opts.KeepProcessed = defaultProcessedN
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &CommandQueue{
		dir:           dataDir,
		policy:        opts.LockPolicy,
		keepProcessed: opts.KeepProcessed,
		now:           opts.Now,
		entropy:       ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// Enqueue appends a pending command and returns it with its assigned ID.
func (q *CommandQueue) Enqueue(ctx context.Context, command string) (*models.Command, error) {
	var queued models.Command
	err := q.update(ctx, func(cmds []models.Command) ([]models.Command, error) {
		now := q.now().UTC()
		queued = models.Command{
			ID:       ulid.MustNew(ulid.Timestamp(now), q.entropy).String(),
			Command:  command,
			Status:   models.CommandStatusPending,
			QueuedAt: now,
		}
		return append(cmds, queued), nil
	})
	if err != nil {
		return nil, err
	}
	return &queued, nil
}

// Pending lists pending commands oldest first.
func (q *CommandQueue) Pending(ctx context.Context) ([]models.Command, error) {
	var pending []models.Command
	err := q.view(ctx, func(cmds []models.Command) {
		for _, c := range cmds {
			if c.Status == models.CommandStatusPending {
				pending = append(pending, c)
			}
		}
	})
	return pending, err
}

// Ack marks a pending command processed. It reports false if the command is
// unknown or was already processed, so each command is acked exactly once.
func (q *CommandQueue) Ack(ctx context.Context, d *Drainer, id string) (bool, error) {
	if !d.held() {
		return false, models.ErrForbidden
	}

	acked := false
	err := q.update(ctx, func(cmds []models.Command) ([]models.Command, error) {
		for i := range cmds {
			if cmds[i].ID != id {
				continue
			}
			if cmds[i].Status != models.CommandStatusPending {
				return nil, nil
			}
			processedAt := q.now().UTC()
			cmds[i].Status = models.CommandStatusProcessed
			cmds[i].ProcessedAt = &processedAt
			acked = true
			return q.trimProcessed(cmds), nil
		}
		return nil, nil
	})
	return acked, err
}

// AcquireDrainer takes the consumer lease without waiting. A second
// drainer gets models.ErrDrainerBusy.
func (q *CommandQueue) AcquireDrainer() (*Drainer, error) {
	lock, err := filelock.TryLock(filepath.Join(q.dir, drainLockName))
	if errors.Is(err, filelock.ErrLocked) {
		return nil, models.ErrDrainerBusy
	}
	if err != nil {
		return nil, &models.StorageError{Op: "acquire drainer", Err: err}
	}
	return &Drainer{lock: lock}, nil
}

// trimProcessed keeps every pending command and only the newest
// keepProcessed processed ones, preserving order.
func (q *CommandQueue) trimProcessed(cmds []models.Command) []models.Command {
	processed := 0
	for _, c := range cmds {
		if c.Status == models.CommandStatusProcessed {
			processed++
		}
	}
	drop := processed - q.keepProcessed
	if drop <= 0 {
		return cmds
	}

	out := make([]models.Command, 0, len(cmds)-drop)
	for _, c := range cmds {
		if drop > 0 && c.Status == models.CommandStatusProcessed {
			drop--
			continue
		}
		out = append(out, c)
	}
	return out
}

func (q *CommandQueue) view(ctx context.Context, fn func([]models.Command)) error {
	return q.withLock(ctx, func() error {
		cmds, err := q.load()
		if err != nil {
			return err
		}
		fn(cmds)
		return nil
	})
}

// update runs fn under the queue lock and writes back its result. A nil
// slice from fn means nothing changed.
func (q *CommandQueue) update(ctx context.Context, fn func([]models.Command) ([]models.Command, error)) error {
	return q.withLock(ctx, func() error {
		cmds, err := q.load()
		if err != nil {
			return err
		}
		next, err := fn(cmds)
		if err != nil || next == nil {
			return err
		}
		return q.save(next)
	})
}

func (q *CommandQueue) withLock(ctx context.Context, fn func() error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	lock, err := filelock.Acquire(ctx, filepath.Join(q.dir, commandsLockName), q.policy)
	if err != nil {
		return &models.StorageError{Op: "lock command queue", Err: err}
	}
	defer lock.Unlock()

	return fn()
}

func (q *CommandQueue) load() ([]models.Command, error) {
	raw, err := os.ReadFile(filepath.Join(q.dir, commandsFileName))
	if errors.Is(err, os.ErrNotExist) {
		return []models.Command{}, nil
	}
	if err != nil {
		return nil, &models.StorageError{Op: "read command queue", Err: err}
	}
	if len(raw) == 0 {
		return []models.Command{}, nil
	}

	var cmds []models.Command
	if err := json.Unmarshal(raw, &cmds); err != nil {
		return nil, &models.StorageError{Op: "decode command queue", Err: err}
	}
	return cmds, nil
}

func (q *CommandQueue) save(cmds []models.Command) error {
	data, err := json.MarshalIndent(cmds, "", "  ")
	if err != nil {
		return &models.StorageError{Op: "encode command queue", Err: err}
	}

	path := filepath.Join(q.dir, commandsFileName)
	tmp := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &models.StorageError{Op: "write command queue", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &models.StorageError{Op: "write command queue", Err: err}
	}
	return nil
}
