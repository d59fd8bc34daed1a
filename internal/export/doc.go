// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes one session as Markdown, JSON or YAML.
//
// JSON and YAML share one document shape:
//
//	generator: streamchat
//	exported_at: 2025-01-02T15:04:05Z
//	session: {id, user_id, title, created_at, updated_at, messages}
//
// Usage:
//
//	exp, err := export.ForFormat("yaml", nil)
//	path, err := export.ToFile(&sess, exp, &export.Options{OutputDir: "."})
package export
