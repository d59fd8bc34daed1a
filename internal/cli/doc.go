// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli wires the chat components into a terminal client.
//
// Open builds an App from the configuration: the persistence backend, the
// anonymous identity, the session store and the transport client. REPL runs
// the interactive loop on top of it. Replies are printed raw as they stream,
// while stored transcripts are rendered as markdown through glamour.
//
// Commands inside the loop start with a slash:
//
//	/new  /sessions  /switch <n|id>  /show  /rename <title>  /delete [n|id]
//	/theme [id]  /model [id]  /export <fmt> [dir]  /help  /quit
//
// Ctrl-C during a reply cancels the turn; at the prompt it exits.
package cli
