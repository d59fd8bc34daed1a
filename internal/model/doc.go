// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for sessions and messages.
//
// This package defines the value types shared by the session store, the
// chat orchestrator, the persistence backends and the stream transport.
//
// # Key Types
//
//   - Session: A named, ordered conversation thread with a backend-assigned ID
//   - Message: Single message with role, content and creation time
//   - Role: Message role enumeration (user, assistant, system)
//   - ModelInfo: Completion model catalog entry
//
// # Usage
//
//	sess := model.Session{ID: id, Title: "New chat"}
//	sess.Messages = append(sess.Messages, model.NewUserMessage(sess.ID, "Hello!"))
//	if last := sess.Trailing(); last != nil && last.IsPlaceholder() {
//	    // reply still streaming
//	}
//
// Values are copied out of the store; use Session.Clone when handing a
// session to another goroutine.
package model
