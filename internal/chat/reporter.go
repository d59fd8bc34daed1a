// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/streamchat/internal/transport"
)

// Reporter holds the latest user-facing failure. It is cleared at the start
// of every turn.
type Reporter struct {
	mu  sync.Mutex
	err error
	log zerolog.Logger
}

// NewReporter creates a reporter that also logs what it is given.
func NewReporter(log zerolog.Logger) *Reporter {
	return &Reporter{log: log}
}

// Report replaces the latest failure. A nil err is ignored.
func (r *Reporter) Report(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	r.log.Warn().Err(err).Msg("ERROR_REPORTED")
}

// Clear forgets the latest failure.
func (r *Reporter) Clear() {
	r.mu.Lock()
	r.err = nil
	r.mu.Unlock()
}

// Err returns the latest failure, or nil.
func (r *Reporter) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Latest returns the message to display, or "" when there is none.
func (r *Reporter) Latest() string {
	return Describe(r.Err())
}

// Describe turns err into a one-line message for display. Endpoint status
// failures show the endpoint's reason text.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var te *transport.TransportError
	if errors.As(err, &te) && te.Kind == transport.KindStatus {
		if te.Message != "" {
			return te.Message
		}
		return te.Status
	}
	return err.Error()
}
