// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sqlstore

import (
	"strconv"
	"strings"

	// Drivers for the three supported dialects.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect captures the SQL differences between the supported databases.
type Dialect struct {
	// Name is the persist registry name
	Name string

	// Driver is the database/sql driver name
	Driver string

	// Schema is run in order on open; every statement is idempotent
	Schema []string

	// RegisterUser inserts a user, ignoring duplicates
	RegisterUser string

	numbered bool
}

// Rebind rewrites '?' placeholders for dialects that number them.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// SQLite uses the cgo-free modernc driver.
var SQLite = Dialect{
	Name:   "sqlite",
	Driver: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
			id         TEXT    NOT NULL PRIMARY KEY,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT    NOT NULL PRIMARY KEY,
			user_id    TEXT    NOT NULL,
			title      TEXT    NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id         TEXT    NOT NULL PRIMARY KEY,
			session_id TEXT    NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			role       TEXT    NOT NULL,
			content    TEXT    NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_updated ON sessions(user_id, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at)`,
	},
	RegisterUser: `INSERT INTO users (id, created_at) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`,
}

// Postgres uses lib/pq.
var Postgres = Dialect{
	Name:   "postgres",
	Driver: "postgres",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
			id         TEXT   NOT NULL PRIMARY KEY,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT   NOT NULL PRIMARY KEY,
			user_id    TEXT   NOT NULL,
			title      TEXT   NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id         TEXT   NOT NULL PRIMARY KEY,
			session_id TEXT   NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			role       TEXT   NOT NULL,
			content    TEXT   NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_updated ON sessions(user_id, updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at)`,
	},
	RegisterUser: `INSERT INTO users (id, created_at) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`,
	numbered:     true,
}

// MySQL uses go-sql-driver/mysql. Indexes are declared inline because
// MySQL has no CREATE INDEX IF NOT EXISTS.
var MySQL = Dialect{
	Name:   "mysql",
	Driver: "mysql",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
			id         VARCHAR(36) NOT NULL PRIMARY KEY,
			created_at BIGINT      NOT NULL
		) DEFAULT CHARSET = utf8mb4`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id         VARCHAR(36) NOT NULL PRIMARY KEY,
			user_id    VARCHAR(36) NOT NULL,
			title      TEXT        NOT NULL,
			created_at BIGINT      NOT NULL,
			updated_at BIGINT      NOT NULL,
			INDEX idx_sessions_user_updated (user_id, updated_at)
		) DEFAULT CHARSET = utf8mb4`,
		`CREATE TABLE IF NOT EXISTS messages (
			id         VARCHAR(36) NOT NULL PRIMARY KEY,
			session_id VARCHAR(36) NOT NULL,
			role       VARCHAR(16) NOT NULL,
			content    MEDIUMTEXT  NOT NULL,
			created_at BIGINT      NOT NULL,
			INDEX idx_messages_session_created (session_id, created_at),
			CONSTRAINT fk_messages_session FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		) DEFAULT CHARSET = utf8mb4`,
	},
	RegisterUser: `INSERT IGNORE INTO users (id, created_at) VALUES (?, ?)`,
}

// Dialects lists every supported dialect by registry name.
var Dialects = map[string]Dialect{
	SQLite.Name:   SQLite,
	Postgres.Name: Postgres,
	MySQL.Name:    MySQL,
}
