// Package fsutil provides the filesystem primitives shared by the cache
// layer and the memory store: cross-process exclusive locks and
// atomic (temp-file + rename) writes.
package fsutil

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// LockConfig tunes lock acquisition retry behavior.
type LockConfig struct {
	Timeout  time.Duration
	Retry    time.Duration
	MaxRetry int
}

func (c LockConfig) withDefaults() LockConfig {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Retry <= 0 {
		c.Retry = 25 * time.Millisecond
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = 200
	}
	return c
}

// Lock is an exclusive, cross-process file lock on a single path.
type Lock struct {
	path       string
	fileLock   *flock.Flock
	acquiredAt time.Time
	mu         sync.Mutex
}

// Acquire blocks (with bounded retry) until the lock at path is held.
func Acquire(path string, cfg LockConfig) (*Lock, error) {
	cfg = cfg.withDefaults()
	fl := flock.New(path)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	for i := 0; i < cfg.MaxRetry; i++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock %s: %w", path, ctx.Err())
		default:
		}

		locked, err := fl.TryLock()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}
		if locked {
			return &Lock{path: path, fileLock: fl, acquiredAt: time.Now()}, nil
		}
		if i < cfg.MaxRetry-1 {
			time.Sleep(cfg.Retry)
		}
	}

	return nil, fmt.Errorf("lock %s: timed out after %v", path, cfg.Timeout)
}

// Unlock releases the lock. Safe to call more than once.
func (l *Lock) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileLock == nil {
		return
	}

	held := time.Since(l.acquiredAt)
	if err := l.fileLock.Unlock(); err != nil {
		slog.Error("failed to release lock", "path", l.path, "error", err, "held_ms", held.Milliseconds())
	}
	l.fileLock = nil
}

// KeyedLocker hands out one file lock per opaque key, rooted under dir.
// It is used to satisfy "writers serialize per key, readers are concurrent"
// for the cache disk tier: only writers contend for the underlying lock
// file, readers access the data file directly.
type KeyedLocker struct {
	dir string
	cfg LockConfig
}

func NewKeyedLocker(dir string, cfg LockConfig) *KeyedLocker {
	return &KeyedLocker{dir: dir, cfg: cfg}
}

func (k *KeyedLocker) lockPath(key string) string {
	return filepath.Join(k.dir, key+".lock")
}

// WithLock acquires the per-key lock, runs fn, and releases it.
func (k *KeyedLocker) WithLock(key string, fn func() error) error {
	l, err := Acquire(k.lockPath(key), k.cfg)
	if err != nil {
		return err
	}
	defer l.Unlock()
	return fn()
}
