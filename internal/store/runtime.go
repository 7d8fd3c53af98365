package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harunnryd/wikichat/internal/config"
	chatErrors "github.com/harunnryd/wikichat/internal/errors"
	"github.com/harunnryd/wikichat/internal/pathutil"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
)

const (
	lockFileName = "server.lock"
	infoFileName = "server.json"
)

// ServerInfo is what a running server publishes for local clients.
type ServerInfo struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	URL       string    `json:"url"`
	StartedAt time.Time `json:"started_at"`
}

// Runtime owns the runtime directory: one server per directory holds server.lock for its whole
// lifetime and publishes server.json next to it.
type Runtime struct {
	dir         string
	lockTimeout time.Duration
	lockRetry   time.Duration

	mu   sync.Mutex
	lock *FileLock
}

func NewRuntime(cfg config.RuntimeConfig) (*Runtime, error) {
	dir, err := pathutil.Expand(cfg.Dir)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, chatErrors.InvalidInput("runtime.dir is empty")
	}
	lockTimeout, err := config.DurationOrDefault(cfg.LockTimeout, config.DefaultRuntimeLockTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse runtime lock timeout: %w", err)
	}
	lockRetry, err := config.DurationOrDefault(cfg.LockRetry, config.DefaultRuntimeLockRetry)
	if err != nil {
		return nil, fmt.Errorf("parse runtime lock retry: %w", err)
	}
	return &Runtime{dir: dir, lockTimeout: lockTimeout, lockRetry: lockRetry}, nil
}

func (r *Runtime) Dir() string {
	return r.dir
}

// Acquire fails when another server already owns the directory.
func (r *Runtime) Acquire(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lock != nil {
		return nil
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create runtime dir: %w", err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, r.lockTimeout)
	defer cancel()

	lock, err := AcquireFileLock(lockCtx, filepath.Join(r.dir, lockFileName), r.lockRetry)
	if err != nil {
		return fmt.Errorf("another wikichat server is running from %s: %w", r.dir, err)
	}
	r.lock = lock
	return nil
}

// Publish replaces server.json atomically so readers never see a partial file.
func (r *Runtime) Publish(info ServerInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lock == nil {
		return chatErrors.Internal("runtime lock not held")
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(filepath.Join(r.dir, infoFileName), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write server info: %w", err)
	}
	return nil
}

// Release removes server.json and drops the lock. Safe to call more than once.
func (r *Runtime) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lock == nil {
		return
	}
	if err := os.Remove(filepath.Join(r.dir, infoFileName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to remove server info", "dir", r.dir, "error", err)
	}
	r.lock.Unlock()
	r.lock = nil
}

// Lookup reads the published server info. A file left behind by a server that is no longer
// holding the lock is reported as not found.
func (r *Runtime) Lookup() (ServerInfo, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, infoFileName))
	if errors.Is(err, os.ErrNotExist) {
		return ServerInfo{}, chatErrors.NotFound("no running server published in " + r.dir)
	}
	if err != nil {
		return ServerInfo{}, fmt.Errorf("read server info: %w", err)
	}

	probe := flock.New(filepath.Join(r.dir, lockFileName))
	free, err := probe.TryLock()
	if err != nil {
		return ServerInfo{}, fmt.Errorf("probe server lock: %w", err)
	}
	if free {
		_ = probe.Unlock()
		return ServerInfo{}, chatErrors.NotFound("stale server info in " + r.dir)
	}

	var info ServerInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return ServerInfo{}, fmt.Errorf("decode server info: %w", err)
	}
	return info, nil
}
