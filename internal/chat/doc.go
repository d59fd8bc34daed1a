// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat runs user turns against the session store and the streaming
// transport.
//
// A turn moves through a fixed set of states:
//
//	idle -> session-ensured -> user-appended -> streaming -> finalized -> idle
//
// and from any non-terminal state to failed, then back to idle. Only one turn
// runs at a time per Orchestrator; a second SubmitTurn while one is running
// returns ErrTurnInFlight without touching the store.
//
// On failure the partial reply, if any, is kept and a fallback assistant
// message is recorded. The failure is held by the Reporter until the next
// turn starts.
//
// Usage:
//
//	orch := chat.NewOrchestrator(store, client, chat.NewReporter(log),
//	    chat.WithLogger(log),
//	    chat.WithTurnTimeout(5*time.Minute),
//	)
//	res, err := orch.SubmitTurn(ctx, "hello")
package chat
