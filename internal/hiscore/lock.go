package hiscore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 2 * time.Second

	// DefaultLockTimeout bounds how long a lock is waited for.
	DefaultLockTimeout = 30 * time.Second
)

// LockPath returns the lock file guarding a hiscore file.
func LockPath(path string) string {
	return path + ".lock"
}

// WithLock runs fn while holding a flock on the lock file of path. Shared
// locks allow concurrent readers, exclusive locks one writer. Acquisition
// retries with exponential backoff until timeout or ctx expires, then
// returns ErrLocked. The lock is released on every exit path.
func WithLock(ctx context.Context, path string, exclusive bool, timeout time.Duration, fn func() error) error {
	file, err := acquireLock(ctx, LockPath(path), exclusive, timeout)
	if err != nil {
		return err
	}
	defer releaseLock(file)
	return fn()
}

func acquireLock(ctx context.Context, lockPath string, exclusive bool, timeout time.Duration) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}

	err = unix.Flock(int(file.Fd()), how|unix.LOCK_NB)
	if err == nil {
		return file, nil
	}
	if !errors.Is(err, unix.EWOULDBLOCK) {
		file.Close()
		return nil, fmt.Errorf("flock: %w", err)
	}

	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backoff := minBackoff
	for {
		select {
		case <-lockCtx.Done():
			file.Close()
			return nil, fmt.Errorf("%w: %s after %v: %v", ErrLocked, lockPath, timeout, lockCtx.Err())
		case <-time.After(backoff):
			err = unix.Flock(int(file.Fd()), how|unix.LOCK_NB)
			if err == nil {
				return file, nil
			}
			if !errors.Is(err, unix.EWOULDBLOCK) {
				file.Close()
				return nil, fmt.Errorf("flock: %w", err)
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

func releaseLock(file *os.File) {
	if file == nil {
		return
	}
	unix.Flock(int(file.Fd()), unix.LOCK_UN)
	file.Close()
}
