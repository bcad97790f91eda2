package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/SableWorks/SableBrowser/core/internal/logging"
	"github.com/SableWorks/SableBrowser/core/internal/session/environment"
	"github.com/SableWorks/SableBrowser/core/internal/shared/id"
	"github.com/SableWorks/SableBrowser/core/internal/wipe"
)

var (
	// ErrDuplicateSession is returned when a caller-supplied id collides
	// with a live session.
	ErrDuplicateSession = errors.New("session id already in use")
	// ErrInvalidSessionID is returned for ids unusable as path components.
	ErrInvalidSessionID = errors.New("invalid session id")
	// ErrSessionDisposed is returned when a session is disposed while its
	// environment is still being created.
	ErrSessionDisposed = errors.New("session disposed during creation")
)

// State tracks a session through its one-way lifecycle.
type State int32

const (
	StateUninitialized State = iota
	StateActive
	StateDisposed // terminal
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Info is the externally visible view of a session.
type Info struct {
	ID          string    `json:"id"`
	StoragePath string    `json:"storage_path"`
	CreatedAt   time.Time `json:"created_at"`
	Active      bool      `json:"active"`
}

// session is the registry entry. The state field moves strictly forward;
// dispose transitions are guarded by mu so storage is wiped exactly once and
// never while the environment handle may still be live.
type session struct {
	info Info
	env  environment.Handle

	mu    sync.Mutex
	state State
}

// Config defines manager behavior.
type Config struct {
	// BaseDir is the root under which per-session directories live.
	BaseDir string
	// EnvExitTimeout bounds the wait for a released environment's
	// dependent process before storage wipe proceeds anyway.
	EnvExitTimeout time.Duration
	// Staleness is the minimum age before an unregistered directory is
	// treated as an orphan.
	Staleness time.Duration
}

// Manager creates, looks up, and destroys ephemeral sessions.
type Manager struct {
	cfg      Config
	provider environment.Provider
	wiper    *wipe.Worker
	logger   *logging.Logger

	sessions sync.Map // id -> *session

	// sweeping is the non-blocking guard for the orphan sweep: an
	// in-flight sweep causes the next invocation to skip, not queue.
	sweeping atomic.Bool

	created  atomic.Int64
	disposed atomic.Int64
	reaped   atomic.Int64
}

// NewManager creates a session manager rooted at cfg.BaseDir.
func NewManager(cfg Config, provider environment.Provider, wiper *wipe.Worker, logger *logging.Logger) (*Manager, error) {
	if cfg.BaseDir == "" {
		return nil, errors.New("session base directory required")
	}
	if cfg.EnvExitTimeout <= 0 {
		cfg.EnvExitTimeout = 3 * time.Second
	}
	if cfg.Staleness <= 0 {
		cfg.Staleness = 30 * time.Minute
	}
	if provider == nil {
		provider = environment.NewLocal()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session base dir: %w", err)
	}
	return &Manager{
		cfg:      cfg,
		provider: provider,
		wiper:    wiper,
		logger:   logger,
	}, nil
}

// Create allocates a new session. When optionalID is empty a fresh
// unguessable id is generated. Any failure mid-creation rolls back the
// directory and environment before the error surfaces.
func (m *Manager) Create(ctx context.Context, optionalID string) (Info, error) {
	sid := optionalID
	if sid == "" {
		sid = id.NewSessionID().String()
	} else if err := validateID(sid); err != nil {
		return Info{}, err
	}

	s := &session{
		info: Info{
			ID:          sid,
			StoragePath: filepath.Join(m.cfg.BaseDir, sid),
			CreatedAt:   time.Now(),
			Active:      true,
		},
		state: StateUninitialized,
	}

	// Reserve the id before touching the filesystem so concurrent creates
	// with the same id race on the registry, not the directory.
	if _, loaded := m.sessions.LoadOrStore(sid, s); loaded {
		return Info{}, fmt.Errorf("%w: %s", ErrDuplicateSession, sid)
	}

	if err := os.MkdirAll(s.info.StoragePath, 0o700); err != nil {
		m.sessions.Delete(sid)
		return Info{}, fmt.Errorf("failed to create session storage: %w", err)
	}

	env, err := m.provider.Create(ctx, s.info.StoragePath)
	if err != nil {
		// Unwind the partial creation: no orphaned directories on the
		// failure path.
		m.sessions.CompareAndDelete(sid, s)
		if rmErr := os.RemoveAll(s.info.StoragePath); rmErr != nil {
			m.logger.Warn("rollback of session storage failed",
				zap.String("session_id", sid), zap.Error(rmErr))
		}
		return Info{}, fmt.Errorf("failed to create environment: %w", err)
	}

	s.mu.Lock()
	if s.state != StateUninitialized {
		// A concurrent dispose claimed the session while the environment
		// was being created. Unwind in dispose order: release the fresh
		// handle first, then remove whatever storage it re-created.
		s.mu.Unlock()
		relCtx, cancel := context.WithTimeout(ctx, m.cfg.EnvExitTimeout)
		if relErr := env.Release(relCtx); relErr != nil {
			m.logger.Warn("release of orphaned environment failed",
				zap.String("session_id", sid), zap.Error(relErr))
		}
		cancel()
		m.sessions.CompareAndDelete(sid, s)
		if rmErr := os.RemoveAll(s.info.StoragePath); rmErr != nil {
			m.logger.Warn("rollback of session storage failed",
				zap.String("session_id", sid), zap.Error(rmErr))
		}
		return Info{}, fmt.Errorf("%w: %s", ErrSessionDisposed, sid)
	}
	s.env = env
	s.state = StateActive
	s.mu.Unlock()

	m.created.Add(1)
	m.logger.Info("session created",
		zap.String("session_id", sid),
		zap.String("storage_path", s.info.StoragePath))
	return s.info, nil
}

// Environment returns the environment handle for id. Pure lookup.
func (m *Manager) Environment(sid string) (environment.Handle, bool) {
	val, ok := m.sessions.Load(sid)
	if !ok {
		return nil, false
	}
	s := val.(*session)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return nil, false
	}
	return s.env, true
}

// Get returns the session info for id.
func (m *Manager) Get(sid string) (Info, bool) {
	val, ok := m.sessions.Load(sid)
	if !ok {
		return Info{}, false
	}
	return val.(*session).info, true
}

// ListActive returns a snapshot of all live sessions. Safe to call
// concurrently with creation and disposal.
func (m *Manager) ListActive() []Info {
	infos := make([]Info, 0)
	m.sessions.Range(func(_, value any) bool {
		s := value.(*session)
		s.mu.Lock()
		active := s.state == StateActive
		s.mu.Unlock()
		if active {
			infos = append(infos, s.info)
		}
		return true
	})
	return infos
}

// Dispose tears a session down: release the environment handle (waiting,
// time-bounded, for its dependent process), then securely wipe storage, then
// drop the registry entry. Unknown ids are a no-op success. The session is
// considered gone even when the wipe fails; the error still surfaces.
func (m *Manager) Dispose(ctx context.Context, sid string) error {
	val, ok := m.sessions.Load(sid)
	if !ok {
		return nil
	}
	s := val.(*session)

	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateDisposed
	s.info.Active = false
	env := s.env
	s.mu.Unlock()

	// Phase 1: release the environment. Storage must never be wiped while
	// the environment may still hold open handles, so this completes (or
	// times out) strictly before phase 2 begins.
	if env != nil {
		relCtx, cancel := context.WithTimeout(ctx, m.cfg.EnvExitTimeout)
		err := env.Release(relCtx)
		cancel()
		if err != nil {
			m.logger.Warn("environment release did not confirm exit, wiping anyway",
				zap.String("session_id", sid), zap.Error(err))
		}
	}

	// Phase 2: wipe storage. The registry entry goes away regardless of
	// the outcome; a failed wipe is reported, not fatal.
	wipeErr := m.wiper.Wipe(ctx, s.info.StoragePath)
	m.sessions.Delete(sid)
	m.disposed.Add(1)

	if wipeErr != nil {
		m.logger.Error("session storage wipe failed",
			zap.String("session_id", sid), zap.Error(wipeErr))
		return fmt.Errorf("session %s disposed, storage wipe failed: %w", sid, wipeErr)
	}

	m.logger.Info("session disposed", zap.String("session_id", sid))
	return nil
}

// DisposeAll disposes every active session concurrently, best-effort, then
// removes the base storage directory.
func (m *Manager) DisposeAll(ctx context.Context) error {
	var ids []string
	m.sessions.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, sid := range ids {
		wg.Add(1)
		go func(sid string) {
			defer wg.Done()
			if err := m.Dispose(ctx, sid); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(sid)
	}
	wg.Wait()

	if err := os.RemoveAll(m.cfg.BaseDir); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove base dir: %w", err))
	}
	return errors.Join(errs...)
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	count := 0
	m.sessions.Range(func(_, value any) bool {
		s := value.(*session)
		s.mu.Lock()
		if s.state == StateActive {
			count++
		}
		s.mu.Unlock()
		return true
	})
	return count
}

// Stats reports registry counters for the health endpoint.
func (m *Manager) Stats() map[string]any {
	return map[string]any{
		"active":          m.ActiveCount(),
		"created_total":   m.created.Load(),
		"disposed_total":  m.disposed.Load(),
		"orphans_reaped":  m.reaped.Load(),
		"base_dir":        m.cfg.BaseDir,
		"stale_threshold": m.cfg.Staleness.String(),
	}
}

// validateID rejects ids that cannot safely become a path component.
func validateID(sid string) error {
	if sid == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSessionID)
	}
	if strings.ContainsAny(sid, "/\\") || sid == "." || sid == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, sid)
	}
	if filepath.Clean(sid) != sid {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, sid)
	}
	return nil
}
