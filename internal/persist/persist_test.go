// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap("x", OpOpen, nil))

	base := errors.New("disk full")
	err := Wrap("sqlite", OpInsertMessage, base)

	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, OpInsertMessage, pe.Op)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "persist insert_message (sqlite): disk full", err.Error())

	// Already wrapped errors keep their original op
	again := Wrap("sqlite", OpCreateSession, err)
	require.ErrorAs(t, again, &pe)
	assert.Equal(t, OpInsertMessage, pe.Op)
}

func TestNotFound(t *testing.T) {
	err := NotFound("file", OpDeleteSession, "abc")
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "abc")
	assert.False(t, IsNotFound(errors.New("other")))
}

func TestNow_StrictlyIncreasing(t *testing.T) {
	prev := Now()
	for i := 0; i < 1000; i++ {
		next := Now()
		require.True(t, next.After(prev), "Now() went backwards or tied at %d", i)
		prev = next
	}
	assert.True(t, prev.Equal(FromNanos(prev.UnixNano())))
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "nope"})

	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, OpOpen, pe.Op)
	assert.Equal(t, "nope", pe.Backend)
}

func TestRegister_Duplicate(t *testing.T) {
	Register("test-dup", func(context.Context, Config) (Backend, error) { return nil, nil })
	assert.Contains(t, Backends(), "test-dup")
	assert.Panics(t, func() {
		Register("test-dup", func(context.Context, Config) (Backend, error) { return nil, nil })
	})
}
