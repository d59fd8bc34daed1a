// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jeranaias/streamchat/internal/model"
)

// =============================================================================
// BACKEND INTERFACE
// =============================================================================

// Backend is the remote row store holding users, sessions and messages.
//
// Implementations must be safe for concurrent use. Session and message ids
// are assigned by the backend. Timestamps are UTC.
type Backend interface {
	// RegisterUser records an anonymous user handle. Registering an existing
	// handle is not an error.
	RegisterUser(ctx context.Context, userID string) error

	// CreateSession inserts a session with the given title and no messages.
	CreateSession(ctx context.Context, userID, title string) (model.Session, error)

	// ListSessions returns the user's sessions, most recently updated first,
	// each with its messages oldest first.
	ListSessions(ctx context.Context, userID string) ([]model.Session, error)

	// DeleteSession removes a session and all of its messages.
	DeleteSession(ctx context.Context, sessionID string) error

	// UpdateSessionTitle renames a session and bumps its updated time.
	UpdateSessionTitle(ctx context.Context, sessionID, title string) error

	// InsertMessage appends a message row and bumps the session's updated time.
	InsertMessage(ctx context.Context, sessionID string, role model.Role, content string) (model.Message, error)

	// UpdateLatestMessage overwrites the content of the newest row of the
	// given role in the session. Writing the same content twice is a no-op.
	UpdateLatestMessage(ctx context.Context, sessionID string, role model.Role, content string) error

	// Close releases connections.
	Close() error
}

// =============================================================================
// REGISTRY
// =============================================================================

// Config selects and configures a backend.
type Config struct {
	// Backend is the registered name: sqlite, postgres, mysql, redis, file, memory
	Backend string

	// DSN is the connection string (sqlite path, postgres/mysql DSN, redis URL)
	DSN string

	// Dir is the data directory for file-based backends
	Dir string
}

// Factory opens a backend from cfg.
type Factory func(ctx context.Context, cfg Config) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a backend available under name. It panics if name is
// registered twice.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("persist: Register called twice for backend " + name)
	}
	registry[name] = f
}

// Backends returns the sorted names of registered backends.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens the backend named by cfg.Backend.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Backend]
	registryMu.RUnlock()
	if !ok {
		return nil, &PersistenceError{
			Op:      OpOpen,
			Backend: cfg.Backend,
			Err:     fmt.Errorf("unknown backend (registered: %v)", Backends()),
		}
	}

	b, err := f(ctx, cfg)
	if err != nil {
		return nil, Wrap(cfg.Backend, OpOpen, err)
	}
	return b, nil
}
