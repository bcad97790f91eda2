// Package environment abstracts the rendering collaborator's isolated
// browsing environments.
//
// The core never talks to a real rendering engine directly; it asks a
// Provider for a Handle scoped to a session's storage directory and releases
// the handle during teardown. The Local provider backs headless runs and
// tests with plain directories.
package environment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// ErrReleased is returned when operating on a handle after release.
var ErrReleased = errors.New("environment handle released")

// Handle is an opaque reference to one isolated browsing environment. A
// handle is owned exclusively by its session and released exactly once
// during teardown.
type Handle interface {
	// ID identifies the environment instance.
	ID() string
	// StoragePath is the storage directory the environment is bound to.
	StoragePath() string
	// Release shuts the environment down and waits for any dependent
	// process to exit, bounded by ctx. Idempotent.
	Release(ctx context.Context) error
}

// Provider creates environments bound to storage directories. Implemented by
// the rendering collaborator; the Local provider is the in-process default.
type Provider interface {
	Create(ctx context.Context, storagePath string) (Handle, error)
}

// Local is a directory-backed provider with no external process. It gives
// the session manager real handles to create, track, and release without a
// rendering engine attached.
type Local struct{}

// NewLocal creates a Local provider.
func NewLocal() *Local {
	return &Local{}
}

// Create prepares an environment rooted in storagePath.
func (l *Local) Create(ctx context.Context, storagePath string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	profileDir := filepath.Join(storagePath, "profile")
	if err := os.MkdirAll(profileDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to prepare environment storage: %w", err)
	}
	return &localHandle{
		id:          uuid.New().String(),
		storagePath: storagePath,
	}, nil
}

type localHandle struct {
	id          string
	storagePath string

	mu       sync.Mutex
	released bool
}

func (h *localHandle) ID() string          { return h.id }
func (h *localHandle) StoragePath() string { return h.storagePath }

func (h *localHandle) Release(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	h.released = true
	return nil
}
