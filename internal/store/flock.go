package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// DefaultLockTimeout is the default timeout for acquiring a file lock.
const DefaultLockTimeout = 5 * time.Second

const lockRetryDelay = 50 * time.Millisecond

// WithLock acquires an exclusive lock on path.lock, runs fn, then releases.
func WithLock(path string, timeout time.Duration, fn func() error) error {
	return withLock(path, timeout, false, fn)
}

// WithReadLock acquires a shared lock on path.lock, runs fn, then releases.
func WithReadLock(path string, timeout time.Duration, fn func() error) error {
	return withLock(path, timeout, true, fn)
}

func withLock(path string, timeout time.Duration, shared bool, fn func() error) error {
	lockPath := path + ".lock"
	fileLock := flock.New(lockPath)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	kind := "lock"
	try := fileLock.TryLockContext
	if shared {
		kind = "read lock"
		try = fileLock.TryRLockContext
	}

	locked, err := try(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("acquiring %s on %s: %w", kind, lockPath, err)
	}
	if !locked {
		return fmt.Errorf("timed out acquiring %s on %s", kind, lockPath)
	}
	defer fileLock.Unlock()

	return fn()
}
