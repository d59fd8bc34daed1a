// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"errors"
	"fmt"
)

// ErrNotFound is wrapped by backends when a session or message id is unknown.
var ErrNotFound = errors.New("not found")

// PersistenceError reports a failed backend operation.
type PersistenceError struct {
	// Op is the Backend method that failed, e.g. "create_session"
	Op string

	// Backend is the registry name of the backend, when known
	Backend string

	Err error
}

func (e *PersistenceError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("persist %s (%s): %v", e.Op, e.Backend, e.Err)
	}
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Wrap returns err as a *PersistenceError for op, or nil when err is nil.
// An error that already is a *PersistenceError is returned unchanged.
func Wrap(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Backend: backend, Err: err}
}

// NotFound returns a *PersistenceError wrapping ErrNotFound for id.
func NotFound(backend, op, id string) error {
	return &PersistenceError{Op: op, Backend: backend, Err: fmt.Errorf("%w: %s", ErrNotFound, id)}
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Operation names used in PersistenceError.Op.
const (
	OpRegisterUser        = "register_user"
	OpCreateSession       = "create_session"
	OpListSessions        = "list_sessions"
	OpDeleteSession       = "delete_session"
	OpUpdateSessionTitle  = "update_session_title"
	OpInsertMessage       = "insert_message"
	OpUpdateLatestMessage = "update_latest_message"
	OpOpen                = "open"
	OpClose               = "close"
)
