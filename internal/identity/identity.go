// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package identity provisions the opaque user handle that owns sessions.
package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Provider returns the current user handle, provisioning one if needed.
type Provider interface {
	Identity(ctx context.Context) (string, error)
}

// HandleStore persists the handle between runs. *prefs.Store implements it.
type HandleStore interface {
	UserID() (string, error)
	SetUserID(id string) error
}

// Registrar records a new handle with the backend. persist.Backend implements it.
type Registrar interface {
	RegisterUser(ctx context.Context, userID string) error
}

// IdentityError reports a provisioning failure.
type IdentityError struct {
	// Op is the failed step: read, register or save
	Op  string
	Err error
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("identity %s: %v", e.Op, e.Err)
}

func (e *IdentityError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ANONYMOUS PROVIDER
// =============================================================================

// Anonymous hands out a random handle on first use, registers it with the
// backend and remembers it in the handle store. Later calls return the
// cached handle.
type Anonymous struct {
	handles HandleStore
	reg     Registrar
	log     zerolog.Logger
	newID   func() string

	mu     sync.Mutex
	cached string
}

// Option configures an Anonymous provider.
type Option func(*Anonymous)

// WithLogger sets the provider logger.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Anonymous) { a.log = l }
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(fn func() string) Option {
	return func(a *Anonymous) { a.newID = fn }
}

// NewAnonymous creates a provider.
func NewAnonymous(handles HandleStore, reg Registrar, opts ...Option) *Anonymous {
	a := &Anonymous{
		handles: handles,
		reg:     reg,
		log:     zerolog.Nop(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Identity returns the handle, provisioning one on first use.
// Concurrent first calls provision exactly once.
func (a *Anonymous) Identity(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cached != "" {
		return a.cached, nil
	}

	stored, err := a.handles.UserID()
	if err != nil {
		return "", &IdentityError{Op: "read", Err: err}
	}
	if stored = strings.TrimSpace(stored); stored != "" {
		a.cached = stored
		return stored, nil
	}

	id := a.newID()
	if err := a.reg.RegisterUser(ctx, id); err != nil {
		a.log.Error().Err(err).Msg("IDENTITY_REGISTER_FAILED")
		return "", &IdentityError{Op: "register", Err: err}
	}
	if err := a.handles.SetUserID(id); err != nil {
		a.log.Error().Err(err).Msg("IDENTITY_SAVE_FAILED")
		return "", &IdentityError{Op: "save", Err: err}
	}

	a.log.Info().Str("user_id", id).Msg("IDENTITY_PROVISIONED")
	a.cached = id
	return id, nil
}

// =============================================================================
// STATIC PROVIDER
// =============================================================================

// Static is a fixed handle, used when the user is known up front.
type Static string

// Identity returns the handle, or an IdentityError when it is empty.
func (s Static) Identity(context.Context) (string, error) {
	if s == "" {
		return "", &IdentityError{Op: "read", Err: fmt.Errorf("empty user handle")}
	}
	return string(s), nil
}
