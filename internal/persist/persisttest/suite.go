// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package persisttest holds the behavior every persist.Backend must share.
package persisttest

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/persist"
)

// Run exercises b against the Backend contract. open must return a fresh,
// empty backend; Run closes it.
func Run(t *testing.T, open func(t *testing.T) persist.Backend) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, b persist.Backend)
	}{
		{"RegisterUserIdempotent", testRegisterUser},
		{"CreateAndList", testCreateAndList},
		{"ListOrdersByUpdated", testListOrder},
		{"ListScopedToUser", testListScoped},
		{"MessagesOldestFirst", testMessageOrder},
		{"DeleteCascades", testDeleteCascades},
		{"DeleteUnknown", testDeleteUnknown},
		{"UpdateTitle", testUpdateTitle},
		{"UpdateLatestMessage", testUpdateLatest},
		{"UpdateLatestIdempotent", testUpdateLatestIdempotent},
		{"UpdateLatestNoRow", testUpdateLatestNoRow},
		{"InsertUnknownSession", testInsertUnknown},
		{"ConcurrentInserts", testConcurrentInserts},
		{"UnicodeContent", testUnicode},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			b := open(t)
			t.Cleanup(func() { b.Close() })
			tc.fn(t, b)
		})
	}
}

func newUser(t *testing.T, b persist.Backend) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, b.RegisterUser(context.Background(), id))
	return id
}

func testRegisterUser(t *testing.T, b persist.Backend) {
	ctx := context.Background()
	id := uuid.NewString()
	require.NoError(t, b.RegisterUser(ctx, id))
	require.NoError(t, b.RegisterUser(ctx, id))
}

func testCreateAndList(t *testing.T, b persist.Backend) {
	ctx := context.Background()
	user := newUser(t, b)

	s, err := b.CreateSession(ctx, user, model.DefaultTitle)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, user, s.UserID)
	assert.Equal(t, model.DefaultTitle, s.Title)
	assert.False(t, s.CreatedAt.IsZero())
	assert.Empty(t, s.Messages)

	list, err := b.ListSessions(ctx, user)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, s.ID, list[0].ID)
	assert.Equal(t, model.DefaultTitle, list[0].Title)
}

func testListOrder(t *testing.T, b persist.Backend) {
	ctx := context.Background()
	user := newUser(t, b)

	first, err := b.CreateSession(ctx, user, "first")
	require.NoError(t, err)
	second, err := b.CreateSession(ctx, user, "second")
	require.NoError(t, err)

	list, err := b.ListSessions(ctx, user)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest session first")

	// A message in the older session moves it to the front
	_, err = b.InsertMessage(ctx, first.ID, model.RoleUser, "bump")
	require.NoError(t, err)

	list, err = b.ListSessions(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
}

func testListScoped(t *testing.T, b persist.Backend) {
	ctx := context.Background()
	alice := newUser(t, b)
	bob := newUser(t, b)

	_, err := b.CreateSession(ctx, alice, "a")
	require.NoError(t, err)

	list, err := b.ListSessions(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testMessageOrder(t *testing.T, b persist.Backend) {
	ctx := context.Background()
	user := newUser(t, b)
	s, err := b.CreateSession(ctx, user, "t")
	require.NoError(t, err)

	want := []string{"one", "two", "three", "four"}
	for i, c := range want {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		m, err := b.InsertMessage(ctx, s.ID, role, c)
		require.NoError(t, err)
		assert.NotEmpty(t, m.ID)
		assert.Equal(t, s.ID, m.SessionID)
		assert.Equal(t, c, m.Content)
	}

	list, err := b.ListSessions(ctx, user)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Len(t, list[0].Messages, len(want))
	for i, m := range list[0].Messages {
		assert.Equal(t, want[i], m.Content)
		if i > 0 {
			assert.True(t, m.CreatedAt.After(list[0].Messages[i-1].CreatedAt), "created_at must increase")
		}
	}
	assert.Equal(t, model.RoleAssistant, list[0].Messages[1].Role)
}

func testDeleteCascades(t *testing.T, b persist.Backend) {
	ctx := context.Background()
	user := newUser(t, b)
	s, err := b.CreateSession(ctx, user, "t")
	require.NoError(t, err)
	_, err = b.InsertMessage(ctx, s.ID, model.RoleUser, "hi")
	require.NoError(t, err)

	require.NoError(t, b.DeleteSession(ctx, s.ID))

	list, err := b.ListSessions(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, list)

	// Messages went with the session
	_, err = b.InsertMessage(ctx, s.ID, model.RoleUser, "again")
	assert.True(t, persist.IsNotFound(err), "insert into deleted session: %v", err)
}

func testDeleteUnknown(t *testing.T, b persist.Backend) {
	err := b.DeleteSession(context.Background(), uuid.NewString())
	require.Error(t, err)
	assert.True(t, persist.IsNotFound(err))

	var pe *persist.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, persist.OpDeleteSession, pe.Op)
}

func testUpdateTitle(t *testing.T, b persist.Backend) {
	ctx := context.Background()
	user := newUser(t, b)
	old, err := b.CreateSession(ctx, user, "old")
	require.NoError(t, err)
	_, err = b.CreateSession(ctx, user, "newer")
	require.NoError(t, err)

	require.NoError(t, b.UpdateSessionTitle(ctx, old.ID, "renamed"))

	list, err := b.ListSessions(ctx, user)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, old.ID, list[0].ID, "rename bumps updated time")
	assert.Equal(t, "renamed", list[0].Title)

	err = b.UpdateSessionTitle(ctx, uuid.NewString(), "x")
	assert.True(t, persist.IsNotFound(err))
}

func testUpdateLatest(t *testing.T, b persist.Backend) {
	ctx := context.Background()
	user := newUser(t, b)
	s, err := b.CreateSession(ctx, user, "t")
	require.NoError(t, err)

	for _, m := range []struct {
		role    model.Role
		content string
	}{
		{model.RoleUser, "q1"},
		{model.RoleAssistant, "a1"},
		{model.RoleUser, "q2"},
		{model.RoleAssistant, ""},
	} {
		_, err := b.InsertMessage(ctx, s.ID, m.role, m.content)
		require.NoError(t, err)
	}

	require.NoError(t, b.UpdateLatestMessage(ctx, s.ID, model.RoleAssistant, "a2"))

	list, err := b.ListSessions(ctx, user)
	require.NoError(t, err)
	msgs := list[0].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "a1", msgs[1].Content, "older assistant row untouched")
	assert.Equal(t, "q2", msgs[2].Content)
	assert.Equal(t, "a2", msgs[3].Content)
}

func testUpdateLatestIdempotent(t *testing.T, b persist.Backend) {
	ctx := context.Background()
	user := newUser(t, b)
	s, err := b.CreateSession(ctx, user, "t")
	require.NoError(t, err)
	_, err = b.InsertMessage(ctx, s.ID, model.RoleAssistant, "")
	require.NoError(t, err)

	require.NoError(t, b.UpdateLatestMessage(ctx, s.ID, model.RoleAssistant, "final"))
	require.NoError(t, b.UpdateLatestMessage(ctx, s.ID, model.RoleAssistant, "final"))

	list, err := b.ListSessions(ctx, user)
	require.NoError(t, err)
	require.Len(t, list[0].Messages, 1)
	assert.Equal(t, "final", list[0].Messages[0].Content)
}

func testUpdateLatestNoRow(t *testing.T, b persist.Backend) {
	ctx := context.Background()
	user := newUser(t, b)
	s, err := b.CreateSession(ctx, user, "t")
	require.NoError(t, err)
	_, err = b.InsertMessage(ctx, s.ID, model.RoleUser, "q")
	require.NoError(t, err)

	err = b.UpdateLatestMessage(ctx, s.ID, model.RoleAssistant, "x")
	assert.True(t, persist.IsNotFound(err), "no assistant row: %v", err)
}

func testInsertUnknown(t *testing.T, b persist.Backend) {
	_, err := b.InsertMessage(context.Background(), uuid.NewString(), model.RoleUser, "hi")
	require.Error(t, err)
	assert.True(t, persist.IsNotFound(err))
}

func testConcurrentInserts(t *testing.T, b persist.Backend) {
	ctx := context.Background()
	user := newUser(t, b)
	s, err := b.CreateSession(ctx, user, "t")
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.InsertMessage(ctx, s.ID, model.RoleUser, "x")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	list, err := b.ListSessions(ctx, user)
	require.NoError(t, err)
	assert.Len(t, list[0].Messages, n)
}

func testUnicode(t *testing.T, b persist.Backend) {
	ctx := context.Background()
	user := newUser(t, b)
	s, err := b.CreateSession(ctx, user, "新对话")
	require.NoError(t, err)
	_, err = b.InsertMessage(ctx, s.ID, model.RoleUser, "你好，世界 🌍")
	require.NoError(t, err)

	list, err := b.ListSessions(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "新对话", list[0].Title)
	assert.Equal(t, "你好，世界 🌍", list[0].Messages[0].Content)
}
