// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small string and file helpers shared across
// streamchat.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - PrefixRunes: keep the first n runes and append a suffix when cut
//   - TruncateWidth: display-width truncation via go-runewidth
//   - SingleLine: collapse whitespace for one-line previews
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	title := util.PrefixRunes(firstMessage, 20, util.Ellipsis)
//	err := util.AtomicWriteFile(path, data, 0o600)
package util
