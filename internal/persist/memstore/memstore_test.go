// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/streamchat/internal/persist"
	"github.com/jeranaias/streamchat/internal/persist/persisttest"
)

func TestBackend(t *testing.T) {
	persisttest.Run(t, func(t *testing.T) persist.Backend {
		return New()
	})
}

func TestFailOn(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	s.FailOn(persist.OpCreateSession, boom)

	_, err := s.CreateSession(context.Background(), "u", "t")
	assert.ErrorIs(t, err, boom)
	_, err = s.CreateSession(context.Background(), "u", "t")
	assert.ErrorIs(t, err, boom)

	var pe *persist.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, persist.OpCreateSession, pe.Op)

	s.Recover(persist.OpCreateSession)
	_, err = s.CreateSession(context.Background(), "u", "t")
	assert.NoError(t, err)
	assert.Equal(t, 3, s.Calls(persist.OpCreateSession))
}

func TestFailNext(t *testing.T) {
	s := New()
	s.FailNext(persist.OpRegisterUser, errors.New("once"))

	assert.Error(t, s.RegisterUser(context.Background(), "u"))
	assert.NoError(t, s.RegisterUser(context.Background(), "u"))
}

func TestOpenRegistered(t *testing.T) {
	b, err := persist.Open(context.Background(), persist.Config{Backend: Name})
	require.NoError(t, err)
	assert.IsType(t, &Store{}, b)
}
