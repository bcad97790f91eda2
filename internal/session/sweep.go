package session

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/SableWorks/SableBrowser/core/internal/shared/id"
)

// CleanupOrphans scans the base directory for subdirectories that are not in
// the active registry and are older than the staleness threshold, and
// securely deletes them. A sweep already in progress causes this invocation
// to skip immediately rather than queue; the returned count is the number of
// orphans reaped.
func (m *Manager) CleanupOrphans(ctx context.Context) int {
	if !m.sweeping.CompareAndSwap(false, true) {
		m.logger.Debug("orphan sweep already running, skipping")
		return 0
	}
	defer m.sweeping.Store(false)

	entries, err := os.ReadDir(m.cfg.BaseDir)
	if err != nil {
		m.logger.Warn("orphan sweep could not read base dir", zap.Error(err))
		return 0
	}

	now := time.Now()
	reaped := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if _, live := m.sessions.Load(name); live {
			continue
		}
		if !m.isStale(name, entry, now) {
			continue
		}

		path := filepath.Join(m.cfg.BaseDir, name)
		if err := m.wiper.Wipe(ctx, path); err != nil {
			m.logger.Warn("failed to reap orphan",
				zap.String("path", path), zap.Error(err))
			continue
		}
		reaped++
		m.reaped.Add(1)
		m.logger.Info("orphan directory reaped", zap.String("path", path))
	}
	return reaped
}

// isStale requires the directory to be old by both signals that are
// available: the creation time embedded in the session id, and the
// directory's last-modified time. A directory that was touched recently is
// never an orphan, even if it was created long ago.
func (m *Manager) isStale(name string, entry os.DirEntry, now time.Time) bool {
	info, err := entry.Info()
	if err != nil {
		return false
	}
	if now.Sub(info.ModTime()) < m.cfg.Staleness {
		return false
	}
	if createdAt, err := id.Timestamp(name); err == nil {
		if now.Sub(createdAt) < m.cfg.Staleness {
			return false
		}
	}
	return true
}

// RunSweeper runs CleanupOrphans on a fixed interval until ctx is canceled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupOrphans(ctx)
		}
	}
}
