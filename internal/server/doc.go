// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server is the relay completion endpoint the chat client talks to.
//
// # Endpoints
//
//   - POST /api/chat - {"messages":[{role, content}]} in, plain UTF-8 reply out
//   - GET  /health   - liveness and counters
//
// The reply is written chunk by chunk as the upstream provider produces it.
// If the upstream fails before the first chunk the reply is
// 500 {"error":"Error processing chat request"}; a later failure drops the
// connection.
//
// # Usage
//
//	up := transport.New(transport.Config{Endpoint: cfg.UpstreamURL, Mode: transport.ModeSSE})
//	srv := server.New(cfg, up, server.WithLogger(log))
//	err := srv.ListenAndServe(ctx)
package server
