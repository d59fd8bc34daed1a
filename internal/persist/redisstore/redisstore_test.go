// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package redisstore

import (
	"context"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/persist"
	"github.com/jeranaias/streamchat/internal/persist/persisttest"
)

// openStore connects to STREAMCHAT_TEST_REDIS_ADDR when set and to an
// in-process miniredis otherwise.
func openStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	var mr *miniredis.Miniredis
	addr := os.Getenv("STREAMCHAT_TEST_REDIS_ADDR")
	if addr == "" {
		mr = miniredis.RunT(t)
		addr = mr.Addr()
	}

	// A fresh prefix per test keeps live runs isolated without FLUSHDB.
	s, err := Open(context.Background(), redis.NewClient(&redis.Options{Addr: addr}), "streamchat-test-"+uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestBackend(t *testing.T) {
	persisttest.Run(t, func(t *testing.T) persist.Backend {
		s, _ := openStore(t)
		return s
	})
}

func TestDeleteSession_RemovesEveryKey(t *testing.T) {
	s, mr := openStore(t)
	if mr == nil {
		t.Skip("key inspection needs the in-process server")
	}
	ctx := context.Background()

	require.NoError(t, s.RegisterUser(ctx, "u1"))
	keep, err := s.CreateSession(ctx, "u1", "keep")
	require.NoError(t, err)
	gone, err := s.CreateSession(ctx, "u1", "gone")
	require.NoError(t, err)
	for _, sid := range []string{keep.ID, gone.ID} {
		_, err := s.InsertMessage(ctx, sid, model.RoleUser, "hi")
		require.NoError(t, err)
		_, err = s.InsertMessage(ctx, sid, model.RoleAssistant, "hello")
		require.NoError(t, err)
	}

	require.NoError(t, s.DeleteSession(ctx, gone.ID))

	for _, k := range mr.Keys() {
		assert.NotContains(t, k, gone.ID)
	}
	var messages int
	for _, k := range mr.Keys() {
		if strings.Contains(k, ":message:") {
			messages++
		}
	}
	assert.Equal(t, 2, messages, "only the kept session's messages remain")

	err = s.DeleteSession(ctx, gone.ID)
	assert.True(t, persist.IsNotFound(err))
	_, err = s.InsertMessage(ctx, gone.ID, model.RoleUser, "late")
	assert.True(t, persist.IsNotFound(err))
}

func TestTouch_OrdersByLastUpdate(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterUser(ctx, "u1"))
	first, err := s.CreateSession(ctx, "u1", "first")
	require.NoError(t, err)
	second, err := s.CreateSession(ctx, "u1", "second")
	require.NoError(t, err)

	require.NoError(t, s.UpdateSessionTitle(ctx, first.ID, "first, renamed"))

	list, err := s.ListSessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, "first, renamed", list[0].Title)
	assert.Equal(t, second.ID, list[1].ID)
}

func TestOpen_Unreachable(t *testing.T) {
	_, err := Open(context.Background(), redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "")
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	s := &Store{prefix: "p"}
	assert.Equal(t, "p:user:u", s.userKey("u"))
	assert.Equal(t, "p:user:u:sessions", s.userSessionsKey("u"))
	assert.Equal(t, "p:session:s", s.sessionKey("s"))
	assert.Equal(t, "p:session:s:messages", s.messagesKey("s"))
	assert.Equal(t, "p:message:m", s.messageKey("m"))
	assert.Equal(t, "p:seq", s.seqKey())
}

func TestParseNanos(t *testing.T) {
	now := persist.Now()
	assert.True(t, now.Equal(parseNanos(strconv.FormatInt(now.UnixNano(), 10))))
	assert.True(t, parseNanos("garbage").Equal(persist.FromNanos(0)))
}

func TestRegistryRejectsBadURL(t *testing.T) {
	_, err := persist.Open(context.Background(), persist.Config{Backend: Name, DSN: "not a url"})
	assert.Error(t, err)
}
