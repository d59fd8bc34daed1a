// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/streamchat/internal/model"
)

var fixedNow = time.Date(2025, 3, 4, 10, 20, 30, 0, time.UTC)

func testSession() *model.Session {
	created := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	return &model.Session{
		ID:        "sess-1",
		UserID:    "user-1",
		Title:     "Explain goroutines...",
		CreatedAt: created,
		UpdatedAt: created.Add(time.Minute),
		Messages: []model.Message{
			{ID: "m1", SessionID: "sess-1", Role: model.RoleUser, Content: "Explain goroutines", CreatedAt: created},
			{ID: "m2", SessionID: "sess-1", Role: model.RoleAssistant, Content: "They are **lightweight** threads.", CreatedAt: created.Add(time.Second)},
		},
	}
}

func testOptions(dir string) *Options {
	return &Options{
		OutputDir:         dir,
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		Now:               func() time.Time { return fixedNow },
	}
}

func TestMarkdownExport(t *testing.T) {
	out, err := NewMarkdownExporter(testOptions("")).Export(testSession())
	require.NoError(t, err)
	md := string(out)

	assert.True(t, strings.HasPrefix(md, "---\ntitle: Explain goroutines...\n"))
	assert.Contains(t, md, "session: sess-1\n")
	assert.Contains(t, md, "messages: 2\n")
	assert.Contains(t, md, "exported: 2025-03-04T10:20:30Z\n")
	assert.Contains(t, md, "# Explain goroutines...\n")
	assert.Contains(t, md, "### You <sub>10:00:00</sub>\n\nExplain goroutines\n")
	assert.Contains(t, md, "### Assistant <sub>10:00:01</sub>\n\nThey are **lightweight** threads.\n")
	assert.Less(t, strings.Index(md, "### You"), strings.Index(md, "### Assistant"))
}

func TestMarkdownExport_NoMetadata(t *testing.T) {
	out, err := NewMarkdownExporter(&Options{}).Export(testSession())
	require.NoError(t, err)
	md := string(out)
	assert.True(t, strings.HasPrefix(md, "# Explain goroutines...\n"))
	assert.Contains(t, md, "### You\n\n")
	assert.NotContains(t, md, "<sub>")
}

func TestMarkdownExport_EmptyAndEscaped(t *testing.T) {
	s := &model.Session{ID: "x", Title: "a: #tag [x]"}
	out, err := NewMarkdownExporter(testOptions("")).Export(s)
	require.NoError(t, err)
	md := string(out)
	assert.Contains(t, md, `title: "a: #tag [x]"`)
	assert.Contains(t, md, `# a: \#tag \[x\]`)
	assert.Contains(t, md, "_No messages yet._")

	_, err = Markdown(nil)
	assert.ErrorIs(t, err, ErrNilSession)
}

func TestJSONExport(t *testing.T) {
	out, err := NewJSONExporter(testOptions("")).Export(testSession())
	require.NoError(t, err)

	var doc struct {
		Generator  string        `json:"generator"`
		ExportedAt time.Time     `json:"exported_at"`
		Session    model.Session `json:"session"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, Generator, doc.Generator)
	assert.True(t, fixedNow.Equal(doc.ExportedAt))
	assert.Equal(t, "sess-1", doc.Session.ID)
	require.Len(t, doc.Session.Messages, 2)
	assert.Equal(t, model.RoleAssistant, doc.Session.Messages[1].Role)
	assert.NotContains(t, string(out), "Unsynced")
}

func TestJSONExport_EmptySessionHasMessageArray(t *testing.T) {
	out, err := JSON(&model.Session{ID: "e"})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"messages": []`)
}

func TestYAMLExport(t *testing.T) {
	out, err := NewYAMLExporter(testOptions("")).Export(testSession())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(out, &doc))
	assert.Equal(t, Generator, doc["generator"])

	sess, ok := doc["session"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Explain goroutines...", sess["title"])
	msgs, ok := sess["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "Explain goroutines", first["content"])
}

func TestForFormat(t *testing.T) {
	cases := map[string]string{
		"markdown": ".md",
		"md":       ".md",
		"JSON":     ".json",
		"yaml":     ".yaml",
		" yml ":    ".yaml",
	}
	for name, ext := range cases {
		exp, err := ForFormat(name, nil)
		require.NoError(t, err, name)
		assert.Equal(t, ext, exp.FileExtension(), name)
	}

	_, err := ForFormat("html", nil)
	assert.Error(t, err)
}

func TestToFile(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir)
	exp, err := ForFormat("json", opts)
	require.NoError(t, err)

	path, err := ToFile(testSession(), exp, opts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "session_Explain_goroutines..._20250304_102030.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))

	_, err = ToFile(nil, exp, opts)
	assert.ErrorIs(t, err, ErrNilSession)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "session"},
		{"   ", "session"},
		{"a/b\\c:d", "a-b-c-d"},
		{"hello world", "hello_world"},
		{"你好 世界", "你好_世界"},
		{strings.Repeat("x", 80), strings.Repeat("x", 50)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeFilename(tt.in), "input %q", tt.in)
	}
}
