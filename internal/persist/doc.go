// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package persist defines the persistence boundary for sessions and
// messages, and a registry of backends.
//
// Backends live in subpackages and register themselves on import, the same
// way database/sql drivers do:
//
//	import (
//	    "github.com/jeranaias/streamchat/internal/persist"
//	    _ "github.com/jeranaias/streamchat/internal/persist/sqlstore"
//	)
//
//	backend, err := persist.Open(ctx, persist.Config{Backend: "sqlite", DSN: path})
//
// Every backend error is a *PersistenceError naming the failed operation.
// Unknown ids wrap ErrNotFound.
package persist
