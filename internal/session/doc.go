// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session provides the Session Store: the canonical in-memory list
// of a user's chat sessions, mirrored to a persist.Backend.
//
// # Ordering
//
// Sessions are kept most recently updated first. Every successful mutation
// moves the touched session to the front.
//
// # Mutation rules
//
//   - Every message operation names its session explicitly.
//   - Only the last message of a session may change in place, and only when
//     it is an assistant message (UpdateTrailing, FinalizeTrailing).
//   - UpdateTrailing never touches the backend; FinalizeTrailing writes the
//     final content to the newest assistant row.
//   - Append is optimistic: the row is visible in memory before the backend
//     confirms it. Failed rows stay, marked Unsynced, and the error is
//     returned.
//   - The active id is either empty or names a loaded session, including
//     right after a deletion.
//
// # Usage
//
//	store := session.NewStore(backend, ident, session.WithLogger(log))
//	if err := store.Load(ctx); err != nil {
//	    return err
//	}
//	sess, err := store.Create(ctx)
package session
