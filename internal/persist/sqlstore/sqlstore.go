// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sqlstore is a database/sql persist.Backend for SQLite, PostgreSQL
// and MySQL.
package sqlstore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/persist"
)

func init() {
	for _, d := range Dialects {
		d := d
		persist.Register(d.Name, func(ctx context.Context, cfg persist.Config) (persist.Backend, error) {
			return Open(ctx, d, cfg.DSN)
		})
	}
}

// sqliteDefaults are applied to SQLite DSNs that carry no parameters.
const sqliteDefaults = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"

// Store is a SQL-backed Backend.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ persist.Backend = (*Store)(nil)

// Open connects with dialect d and applies the schema.
func Open(ctx context.Context, d Dialect, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.Errorf("%s store: empty dsn", d.Name)
	}

	if d.Name == SQLite.Name {
		if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
				return nil, errors.Wrap(err, "sqlite store: create data dir")
			}
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?" + sqliteDefaults
		}
	}

	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "%s store: open", d.Name)
	}
	if d.Name == SQLite.Name {
		// One writer; also keeps ":memory:" databases on a single connection.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, dialect: d}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Dialect returns the store's dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

func (s *Store) migrate(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.Wrapf(err, "%s store: ping", s.dialect.Name)
	}
	for _, stmt := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "%s store: migrate", s.dialect.Name)
		}
	}
	return nil
}

func (s *Store) q(query string) string {
	return s.dialect.Rebind(query)
}

func (s *Store) wrap(op string, err error) error {
	return persist.Wrap(s.dialect.Name, op, err)
}

// =============================================================================
// USERS & SESSIONS
// =============================================================================

func (s *Store) RegisterUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, s.q(s.dialect.RegisterUser), userID, persist.Now().UnixNano())
	return s.wrap(persist.OpRegisterUser, errors.Wrap(err, "insert user"))
}

func (s *Store) CreateSession(ctx context.Context, userID, title string) (model.Session, error) {
	now := persist.Now()
	sess := model.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO sessions (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`),
		sess.ID, sess.UserID, sess.Title, now.UnixNano(), now.UnixNano())
	if err != nil {
		return model.Session{}, s.wrap(persist.OpCreateSession, errors.Wrap(err, "insert session"))
	}
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]model.Session, error) {
	sessions, err := s.listSessionRows(ctx, userID)
	if err != nil {
		return nil, s.wrap(persist.OpListSessions, err)
	}
	if len(sessions) == 0 {
		return sessions, nil
	}

	index := make(map[string]int, len(sessions))
	for i := range sessions {
		index[sessions[i].ID] = i
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT m.id, m.session_id, m.role, m.content, m.created_at
		FROM messages m
		JOIN sessions s ON s.id = m.session_id
		WHERE s.user_id = ?
		ORDER BY m.created_at ASC, m.id ASC`), userID)
	if err != nil {
		return nil, s.wrap(persist.OpListSessions, errors.Wrap(err, "query messages"))
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			m    model.Message
			role string
			ts   int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &ts); err != nil {
			return nil, s.wrap(persist.OpListSessions, errors.Wrap(err, "scan message"))
		}
		m.Role = model.Role(role)
		m.CreatedAt = persist.FromNanos(ts)
		if i, ok := index[m.SessionID]; ok {
			sessions[i].Messages = append(sessions[i].Messages, m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(persist.OpListSessions, errors.Wrap(err, "iterate messages"))
	}
	return sessions, nil
}

func (s *Store) listSessionRows(ctx context.Context, userID string) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, user_id, title, created_at, updated_at
		FROM sessions
		WHERE user_id = ?
		ORDER BY updated_at DESC, id DESC`), userID)
	if err != nil {
		return nil, errors.Wrap(err, "query sessions")
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]model.Session, 0)
	for rows.Next() {
		var (
			sess             model.Session
			created, updated int64
		)
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &created, &updated); err != nil {
			return nil, errors.Wrap(err, "scan session")
		}
		sess.CreatedAt = persist.FromNanos(created)
		sess.UpdatedAt = persist.FromNanos(updated)
		sessions = append(sessions, sess)
	}
	return sessions, errors.Wrap(rows.Err(), "iterate sessions")
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	return s.inTx(ctx, persist.OpDeleteSession, func(tx *sql.Tx) error {
		// Explicit cascade: SQLite enforces ON DELETE only with foreign_keys on.
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM messages WHERE session_id = ?`), sessionID); err != nil {
			return errors.Wrap(err, "delete messages")
		}
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM sessions WHERE id = ?`), sessionID)
		if err != nil {
			return errors.Wrap(err, "delete session")
		}
		return s.requireRow(res, persist.OpDeleteSession, sessionID)
	})
}

func (s *Store) UpdateSessionTitle(ctx context.Context, sessionID, title string) error {
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`),
		title, persist.Now().UnixNano(), sessionID)
	if err != nil {
		return s.wrap(persist.OpUpdateSessionTitle, errors.Wrap(err, "update title"))
	}
	return s.requireRow(res, persist.OpUpdateSessionTitle, sessionID)
}

// =============================================================================
// MESSAGES
// =============================================================================

func (s *Store) InsertMessage(ctx context.Context, sessionID string, role model.Role, content string) (model.Message, error) {
	now := persist.Now()
	msg := model.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}

	err := s.inTx(ctx, persist.OpInsertMessage, func(tx *sql.Tx) error {
		// updated_at is unique per call, so a matched row always counts as affected.
		res, err := tx.ExecContext(ctx, s.q(`UPDATE sessions SET updated_at = ? WHERE id = ?`), now.UnixNano(), sessionID)
		if err != nil {
			return errors.Wrap(err, "touch session")
		}
		if err := s.requireRow(res, persist.OpInsertMessage, sessionID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			s.q(`INSERT INTO messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`),
			msg.ID, msg.SessionID, string(msg.Role), msg.Content, now.UnixNano())
		return errors.Wrap(err, "insert message")
	})
	if err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

func (s *Store) UpdateLatestMessage(ctx context.Context, sessionID string, role model.Role, content string) error {
	return s.inTx(ctx, persist.OpUpdateLatestMessage, func(tx *sql.Tx) error {
		var id, current string
		err := tx.QueryRowContext(ctx, s.q(`
			SELECT id, content FROM messages
			WHERE session_id = ? AND role = ?
			ORDER BY created_at DESC, id DESC
			LIMIT 1`), sessionID, string(role)).Scan(&id, &current)
		if errors.Is(err, sql.ErrNoRows) {
			return persist.NotFound(s.dialect.Name, persist.OpUpdateLatestMessage, sessionID+"/"+string(role))
		}
		if err != nil {
			return errors.Wrap(err, "select latest message")
		}
		if current == content {
			return nil
		}
		_, err = tx.ExecContext(ctx, s.q(`UPDATE messages SET content = ? WHERE id = ?`), content, id)
		return errors.Wrap(err, "update message")
	})
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.wrap(persist.OpClose, s.db.Close())
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap(op, errors.Wrap(err, "begin"))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return s.wrap(op, err)
	}
	return s.wrap(op, errors.Wrap(tx.Commit(), "commit"))
}

func (s *Store) requireRow(res sql.Result, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return persist.NotFound(s.dialect.Name, op, id)
	}
	return nil
}
