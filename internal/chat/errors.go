// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput rejects a blank submission.
	ErrEmptyInput = errors.New("empty input")

	// ErrTurnInFlight rejects a submission while another turn runs.
	ErrTurnInFlight = errors.New("a turn is already in progress")
)

// SessionCreationError reports that no session could be created for a turn.
// Nothing is appended when it occurs.
type SessionCreationError struct {
	Err error
}

func (e *SessionCreationError) Error() string {
	if e.Err == nil {
		return "session creation failed: no session returned"
	}
	return fmt.Sprintf("session creation failed: %v", e.Err)
}

func (e *SessionCreationError) Unwrap() error {
	return e.Err
}
