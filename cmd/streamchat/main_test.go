// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with a throwaway home and config file.
func execute(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", cfgPath, "--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func setup(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("STREAMCHAT_LOG_FORMAT", "json")
	path := filepath.Join(home, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[storage]\nbackend = \"memory\"\n"), 0o600))
	return path
}

func TestConfigCommands(t *testing.T) {
	path := setup(t)

	out, err := execute(t, path, "config", "get", "storage.backend")
	require.NoError(t, err)
	assert.Equal(t, "memory\n", out)

	_, err = execute(t, path, "config", "set", "transport.mode", "sse")
	require.NoError(t, err)

	out, err = execute(t, path, "config", "get", "transport.mode")
	require.NoError(t, err)
	assert.Equal(t, "sse\n", out)

	_, err = execute(t, path, "config", "set", "transport.mode", "carrier-pigeon")
	assert.Error(t, err)

	out, err = execute(t, path, "config", "keys")
	require.NoError(t, err)
	assert.Contains(t, strings.Split(out, "\n"), "server.rate_limit")
}

func TestConfigShow_MasksKeys(t *testing.T) {
	path := setup(t)
	t.Setenv("STREAMCHAT_API_KEY", "sk-secret")

	out, err := execute(t, path, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-secret")
	assert.Contains(t, out, "********")
}

func TestSettingsCommands(t *testing.T) {
	path := setup(t)

	_, err := execute(t, path, "settings", "theme", "green")
	require.NoError(t, err)
	_, err = execute(t, path, "settings", "model", "glm-3-turbo")
	require.NoError(t, err)

	out, err := execute(t, path, "settings")
	require.NoError(t, err)
	assert.Contains(t, out, "theme: green (Calm Green)")
	assert.Contains(t, out, "model: glm-3-turbo")

	_, err = execute(t, path, "settings", "theme", "neon")
	assert.Error(t, err)
}

func TestSessionsList_Empty(t *testing.T) {
	path := setup(t)

	out, err := execute(t, path, "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions yet")

	_, err = execute(t, path, "sessions", "show", "1")
	assert.Error(t, err)
}

func TestServe_ListenFailure(t *testing.T) {
	path := setup(t)

	_, err := execute(t, path, "serve", "--addr", "not-an-address")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen on not-an-address")
}
