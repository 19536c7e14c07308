package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const lockFileName = "store.lock"

// FileLock keeps a single process writing to a store root.
type FileLock struct {
	fileLock   *flock.Flock
	lockPath   string
	acquiredAt time.Time
	mu         sync.RWMutex
}

type FileLockConfig struct {
	LockTimeout  time.Duration
	LockRetry    time.Duration
	LockMaxRetry int
}

func NewFileLock(basePath string, cfg FileLockConfig) (*FileLock, error) {
	if cfg.LockMaxRetry < 1 {
		cfg.LockMaxRetry = 1
	}

	lockPath := filepath.Join(basePath, lockFileName)
	fl := &FileLock{
		fileLock: flock.New(lockPath),
		lockPath: lockPath,
	}

	ctx := context.Background()
	if cfg.LockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.LockTimeout)
		defer cancel()
	}

	if err := fl.acquireWithRetry(ctx, cfg); err != nil {
		return nil, err
	}

	fl.acquiredAt = time.Now()
	slog.Debug("Checkpoint store lock acquired", "path", lockPath)
	return fl, nil
}

func (fl *FileLock) acquireWithRetry(ctx context.Context, cfg FileLockConfig) error {
	for i := 0; i < cfg.LockMaxRetry; i++ {
		locked, err := fl.fileLock.TryLock()
		if err != nil {
			return fmt.Errorf("failed to attempt lock: %w", err)
		}
		if locked {
			return nil
		}
		if i == cfg.LockMaxRetry-1 {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("checkpoint store %s is locked by another instance: %w", fl.lockPath, ctx.Err())
		case <-time.After(cfg.LockRetry):
		}
	}

	return fmt.Errorf("checkpoint store %s is locked by another instance (gave up after %d attempts)",
		fl.lockPath, cfg.LockMaxRetry)
}

func (fl *FileLock) Unlock() {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.fileLock == nil {
		return
	}

	if err := fl.fileLock.Unlock(); err != nil {
		slog.Error("Failed to release checkpoint store lock", "path", fl.lockPath, "error", err)
	} else {
		slog.Debug("Checkpoint store lock released",
			"path", fl.lockPath,
			"held_duration_ms", time.Since(fl.acquiredAt).Milliseconds(),
		)
	}
	fl.fileLock = nil
}

func (fl *FileLock) IsLocked() bool {
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	return fl.fileLock != nil
}
