// Package filelock provides advisory, exclusive file locks shared between
// processes. Locks are released by the kernel when the holder exits, so a
// crashed writer never leaves a stale lock behind.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"
)

// ErrLocked is returned by TryLock when another holder owns the lock.
var ErrLocked = errors.New("file is locked by another holder")

// Lock is a held flock on an open file.
type Lock struct {
	f    *os.File
	path string
}

// RetryPolicy bounds how long Acquire keeps trying.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// DefaultRetryPolicy gives up after five seconds.
var DefaultRetryPolicy = RetryPolicy{
	InitialInterval: 10 * time.Millisecond,
	MaxInterval:     250 * time.Millisecond,
	MaxElapsed:      5 * time.Second,
}

// TryLock takes the lock without waiting.
func TryLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	return &Lock{f: f, path: path}, nil
}

// Acquire retries TryLock with exponential backoff until the policy's
// elapsed budget runs out or ctx is cancelled.
func Acquire(ctx context.Context, path string, policy RetryPolicy) (*Lock, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval
	b.MaxElapsedTime = policy.MaxElapsed

	var lock *Lock
	op := func() error {
		l, err := TryLock(path)
		if errors.Is(err, ErrLocked) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		lock = l
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if errors.Is(err, ErrLocked) {
			return nil, fmt.Errorf("acquire %s: timed out after %v: %w", path, policy.MaxElapsed, err)
		}
		return nil, err
	}
	return lock, nil
}

// Unlock releases the lock and closes the underlying file.
func (l *Lock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}

func (l *Lock) Path() string {
	return l.path
}
