// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package identity

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/streamchat/internal/persist"
	"github.com/jeranaias/streamchat/internal/persist/memstore"
	"github.com/jeranaias/streamchat/internal/prefs"
)

func newPrefs(t *testing.T) *prefs.Store {
	return prefs.New(filepath.Join(t.TempDir(), prefs.FileName))
}

func TestAnonymous_ProvisionsOnce(t *testing.T) {
	p := newPrefs(t)
	backend := memstore.New()
	a := NewAnonymous(p, backend)

	id, err := a.Identity(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	again, err := a.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, backend.Calls(persist.OpRegisterUser))

	stored, err := p.UserID()
	require.NoError(t, err)
	assert.Equal(t, id, stored)
}

func TestAnonymous_ReusesStoredHandle(t *testing.T) {
	p := newPrefs(t)
	require.NoError(t, p.SetUserID("existing"))
	backend := memstore.New()

	id, err := NewAnonymous(p, backend).Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "existing", id)
	assert.Equal(t, 0, backend.Calls(persist.OpRegisterUser))
}

func TestAnonymous_RegisterFailure(t *testing.T) {
	p := newPrefs(t)
	backend := memstore.New()
	backend.FailOn(persist.OpRegisterUser, errors.New("offline"))

	_, err := NewAnonymous(p, backend).Identity(context.Background())

	var ie *IdentityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "register", ie.Op)

	stored, _ := p.UserID()
	assert.Empty(t, stored, "failed provisioning must not persist a handle")
}

type failingHandles struct{ readErr, saveErr error }

func (f failingHandles) UserID() (string, error) { return "", f.readErr }
func (f failingHandles) SetUserID(string) error  { return f.saveErr }

func TestAnonymous_ReadAndSaveFailures(t *testing.T) {
	_, err := NewAnonymous(failingHandles{readErr: errors.New("eacces")}, memstore.New()).Identity(context.Background())
	var ie *IdentityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "read", ie.Op)

	_, err = NewAnonymous(failingHandles{saveErr: errors.New("disk full")}, memstore.New()).Identity(context.Background())
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "save", ie.Op)
}

func TestAnonymous_ConcurrentFirstUse(t *testing.T) {
	backend := memstore.New()
	a := NewAnonymous(newPrefs(t), backend, WithIDGenerator(func() string { return "fixed" }))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := a.Identity(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "fixed", id)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, backend.Calls(persist.OpRegisterUser))
}

func TestStatic(t *testing.T) {
	id, err := Static("u").Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u", id)

	_, err = Static("").Identity(context.Background())
	var ie *IdentityError
	assert.ErrorAs(t, err, &ie)
}
