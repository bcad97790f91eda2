package wipe

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/SableWorks/SableBrowser/core/internal/logging"
)

// Worker securely deletes directory trees and individual files.
type Worker struct {
	overwriteCeiling int64
	maxRetries       int
	retryBackoff     time.Duration
	logger           *logging.Logger
}

// Config defines worker behavior.
type Config struct {
	// OverwriteCeiling is the largest file size that gets a random
	// overwrite pass before removal.
	OverwriteCeiling int64
	MaxRetries       int
	RetryBackoff     time.Duration
}

// DefaultConfig returns production-ready wipe configuration.
func DefaultConfig() Config {
	return Config{
		OverwriteCeiling: 100 << 20,
		MaxRetries:       3,
		RetryBackoff:     100 * time.Millisecond,
	}
}

// NewWorker creates a secure deletion worker.
func NewWorker(cfg Config, logger *logging.Logger) *Worker {
	if cfg.OverwriteCeiling <= 0 {
		cfg.OverwriteCeiling = DefaultConfig().OverwriteCeiling
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Worker{
		overwriteCeiling: cfg.OverwriteCeiling,
		maxRetries:       cfg.MaxRetries,
		retryBackoff:     cfg.RetryBackoff,
		logger:           logger,
	}
}

// Wipe overwrites then removes the tree rooted at path. A missing path is a
// success. Retries with increasing backoff on locked or permission-denied
// trees; the last error propagates once retries are exhausted.
func (w *Worker) Wipe(ctx context.Context, path string) error {
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	w.overwriteTree(path)

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.retryBackoff * time.Duration(attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := os.RemoveAll(path)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, fs.ErrPermission) {
			w.clearRestrictiveModes(path)
		}
		w.logger.Warn("wipe attempt failed",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return fmt.Errorf("failed to wipe %s after %d retries: %w", path, w.maxRetries, lastErr)
}

// WipeFile overwrites and removes a single file. Used for quarantined
// download deletion, where the bytes and the record die together.
func (w *Worker) WipeFile(ctx context.Context, path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if info.Mode().IsRegular() {
		w.overwriteFile(path, info.Size())
	}

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(w.retryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := os.Remove(path)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		lastErr = err
		if errors.Is(err, fs.ErrPermission) {
			_ = os.Chmod(path, 0o600)
		}
	}

	return fmt.Errorf("failed to remove %s after %d retries: %w", path, w.maxRetries, lastErr)
}

// overwriteTree walks the tree and overwrites every regular file at or below
// the ceiling. Failures are logged and skipped; removal proceeds regardless.
func (w *Worker) overwriteTree(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		w.overwriteFile(path, info.Size())
		return nil
	})
}

func (w *Worker) overwriteFile(path string, size int64) {
	if size == 0 || size > w.overwriteCeiling {
		return
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		w.logger.Debug("skipping overwrite", zap.String("path", path), zap.Error(err))
		return
	}
	defer f.Close()

	if _, err := io.CopyN(f, rand.Reader, size); err != nil {
		w.logger.Debug("partial overwrite", zap.String("path", path), zap.Error(err))
		return
	}
	_ = f.Sync()
}

// clearRestrictiveModes makes every entry in the tree writable so a
// subsequent RemoveAll can succeed on read-only files and directories.
func (w *Worker) clearRestrictiveModes(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			_ = os.Chmod(path, 0o700)
		} else {
			_ = os.Chmod(path, 0o600)
		}
		return nil
	})
}
