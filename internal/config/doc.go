// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads streamchat configuration from TOML.
//
// # Sections
//
//   - transport: completion endpoint, wire mode, timeouts
//   - storage: persistence backend and its DSN or directory
//   - server: relay server address, upstream provider, rate limiting
//   - log: level and output format
//   - chat: default session title, fallback reply, title length
//
// # Precedence
//
// Values are resolved from (highest first):
//   - Environment variables (STREAMCHAT_*)
//   - ~/.streamchat/config.toml, or the file given with --config
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	mode := cfg.Transport.Mode
package config
