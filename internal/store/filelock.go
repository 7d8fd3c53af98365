package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"
)

// FileLock is an advisory lock on a sidecar file, shared by every process using the same path.
type FileLock struct {
	lock       *flock.Flock
	path       string
	acquiredAt time.Time
}

// AcquireFileLock retries until the lock is held or ctx ends.
func AcquireFileLock(ctx context.Context, path string, retry time.Duration) (*FileLock, error) {
	l := flock.New(path)

	locked, err := l.TryLockContext(ctx, retry)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock %s: held by another process", path)
	}

	slog.Debug("File lock acquired", "path", path)
	return &FileLock{lock: l, path: path, acquiredAt: time.Now()}, nil
}

func (fl *FileLock) Unlock() {
	if fl == nil || fl.lock == nil {
		return
	}
	if err := fl.lock.Unlock(); err != nil {
		slog.Error("Failed to release file lock", "path", fl.path, "error", err)
	} else {
		slog.Debug("File lock released", "path", fl.path, "held_ms", time.Since(fl.acquiredAt).Milliseconds())
	}
	fl.lock = nil
}
