// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/streamchat/internal/config"
	"github.com/jeranaias/streamchat/internal/model"
	_ "github.com/jeranaias/streamchat/internal/persist/memstore"
	"github.com/jeranaias/streamchat/internal/prefs"
	"github.com/jeranaias/streamchat/internal/transport"
)

// scriptedSender replies to every turn with the same chunks.
type scriptedSender struct {
	mu     sync.Mutex
	chunks []string
	err    error
	turns  int
}

func (s *scriptedSender) SendTurn(ctx context.Context, _ []model.Message) (*transport.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns++
	if s.err != nil {
		return nil, s.err
	}
	body := io.NopCloser(strings.NewReader(strings.Join(s.chunks, "")))
	return transport.NewStream(ctx, body, transport.ModeText), nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Storage.Backend = "memory"
	return cfg
}

func openTestApp(t *testing.T, sender *scriptedSender) *App {
	t.Helper()
	app, err := Open(context.Background(), testConfig(), zerolog.Nop(),
		WithPrefsPath(filepath.Join(t.TempDir(), prefs.FileName)),
		WithSender(sender),
	)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app
}

func TestOpen_FreshInstall(t *testing.T) {
	app := openTestApp(t, &scriptedSender{})

	assert.Empty(t, app.Store.Sessions())
	assert.Empty(t, app.Store.ActiveID())
	assert.Equal(t, "default", app.Theme.ID)
	assert.Equal(t, config.Default().Transport.Model, app.ModelID)
}

func TestOpen_UnknownBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Backend = "floppy"
	_, err := Open(context.Background(), cfg, zerolog.Nop(),
		WithPrefsPath(filepath.Join(t.TempDir(), prefs.FileName)))
	assert.Error(t, err)
}

func TestOpen_UsesStoredPreferences(t *testing.T) {
	path := filepath.Join(t.TempDir(), prefs.FileName)
	ps := prefs.New(path)
	require.NoError(t, ps.SetTheme("rose"))
	require.NoError(t, ps.SetModel("glm-3-turbo"))

	app, err := Open(context.Background(), testConfig(), zerolog.Nop(),
		WithPrefsPath(path), WithSender(&scriptedSender{}))
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, "rose", app.Theme.ID)
	assert.Equal(t, "glm-3-turbo", app.ModelID)
}

func TestResolveSession(t *testing.T) {
	app := openTestApp(t, &scriptedSender{})
	ctx := context.Background()

	_, err := app.ResolveSession("")
	assert.ErrorIs(t, err, ErrNoSession)

	first, err := app.Store.Create(ctx)
	require.NoError(t, err)
	second, err := app.Store.Create(ctx)
	require.NoError(t, err)

	s, err := app.ResolveSession("")
	require.NoError(t, err)
	assert.Equal(t, second.ID, s.ID, "empty ref is the active session")

	s, err = app.ResolveSession("2")
	require.NoError(t, err)
	assert.Equal(t, first.ID, s.ID, "index follows the most-recent-first listing")

	s, err = app.ResolveSession(first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, s.ID)

	_, err = app.ResolveSession("3")
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = app.ResolveSession("no-such-id")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSetThemeAndModel(t *testing.T) {
	app := openTestApp(t, &scriptedSender{})

	require.NoError(t, app.SetTheme("green"))
	assert.Equal(t, "green", app.Theme.ID)

	err := app.SetTheme("neon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "available")
	assert.Equal(t, "green", app.Theme.ID)

	require.NoError(t, app.SetModel("GLM-3-TURBO"))
	p, err := app.Prefs.Load()
	require.NoError(t, err)
	assert.Equal(t, "green", p.ThemeID())
	assert.Equal(t, "glm-3-turbo", p.Model)

	assert.Error(t, app.SetModel("gpt-99"))
}
