// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package filestore is a persist.Backend keeping one JSON file per session.
package filestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/persist"
	"github.com/jeranaias/streamchat/internal/util"
)

// Name is the registry name.
const Name = "file"

func init() {
	persist.Register(Name, func(ctx context.Context, cfg persist.Config) (persist.Backend, error) {
		dir := cfg.Dir
		if dir == "" {
			dir = cfg.DSN
		}
		return New(dir)
	})
}

// =============================================================================
// FILE STORE
// =============================================================================

// Store keeps sessions under BaseDir/sessions/{id}.json and users in
// BaseDir/users.json. A single mutex serializes all access.
type Store struct {
	// BaseDir is the data directory, e.g. ~/.streamchat/data
	BaseDir string

	mu sync.Mutex
}

var _ persist.Backend = (*Store)(nil)

// New creates a store rooted at baseDir, creating it if needed.
func New(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("file store: empty directory")
	}
	if err := util.EnsureDir(filepath.Join(baseDir, "sessions")); err != nil {
		return nil, err
	}
	return &Store{BaseDir: baseDir}, nil
}

// =============================================================================
// USERS
// =============================================================================

func (s *Store) RegisterUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.readUsers()
	if err != nil {
		return persist.Wrap(Name, persist.OpRegisterUser, err)
	}
	if _, ok := users[userID]; ok {
		return nil
	}
	users[userID] = persist.Now().UnixNano()

	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return persist.Wrap(Name, persist.OpRegisterUser, err)
	}
	return persist.Wrap(Name, persist.OpRegisterUser, util.AtomicWriteFile(s.usersPath(), data, 0o600))
}

func (s *Store) readUsers() (map[string]int64, error) {
	users := make(map[string]int64)
	data, err := os.ReadFile(s.usersPath())
	if os.IsNotExist(err) {
		return users, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read users")
	}
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, errors.Wrap(err, "decode users")
	}
	return users, nil
}

// =============================================================================
// SESSIONS
// =============================================================================

func (s *Store) CreateSession(ctx context.Context, userID, title string) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := persist.Now()
	sess := model.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.write(&sess); err != nil {
		return model.Session{}, persist.Wrap(Name, persist.OpCreateSession, err)
	}
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return nil, persist.Wrap(Name, persist.OpListSessions, err)
	}
	out := make([]model.Session, 0, len(all))
	for _, sess := range all {
		if sess.UserID == userID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.filePath(sessionID)); err != nil {
		if os.IsNotExist(err) {
			return persist.NotFound(Name, persist.OpDeleteSession, sessionID)
		}
		return persist.Wrap(Name, persist.OpDeleteSession, err)
	}
	return nil
}

func (s *Store) UpdateSessionTitle(ctx context.Context, sessionID, title string) error {
	return s.update(persist.OpUpdateSessionTitle, sessionID, func(sess *model.Session) error {
		sess.Title = title
		sess.UpdatedAt = persist.Now()
		return nil
	})
}

// =============================================================================
// MESSAGES
// =============================================================================

func (s *Store) InsertMessage(ctx context.Context, sessionID string, role model.Role, content string) (model.Message, error) {
	var msg model.Message
	err := s.update(persist.OpInsertMessage, sessionID, func(sess *model.Session) error {
		now := persist.Now()
		msg = model.Message{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Role:      role,
			Content:   content,
			CreatedAt: now,
		}
		sess.Messages = append(sess.Messages, msg)
		sess.UpdatedAt = now
		return nil
	})
	if err != nil {
		return model.Message{}, err
	}
	return msg, nil
}

func (s *Store) UpdateLatestMessage(ctx context.Context, sessionID string, role model.Role, content string) error {
	return s.update(persist.OpUpdateLatestMessage, sessionID, func(sess *model.Session) error {
		for i := len(sess.Messages) - 1; i >= 0; i-- {
			if sess.Messages[i].Role == role {
				sess.Messages[i].Content = content
				return nil
			}
		}
		return persist.NotFound(Name, persist.OpUpdateLatestMessage, sessionID+"/"+string(role))
	})
}

func (s *Store) Close() error {
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// update loads a session, applies fn and writes it back atomically.
func (s *Store) update(op, sessionID string, fn func(sess *model.Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.read(sessionID)
	if os.IsNotExist(errors.Cause(err)) {
		return persist.NotFound(Name, op, sessionID)
	}
	if err != nil {
		return persist.Wrap(Name, op, err)
	}
	if err := fn(&sess); err != nil {
		return persist.Wrap(Name, op, err)
	}
	return persist.Wrap(Name, op, s.write(&sess))
}

func (s *Store) read(sessionID string) (model.Session, error) {
	data, err := os.ReadFile(s.filePath(sessionID))
	if err != nil {
		return model.Session{}, errors.Wrap(err, "read session")
	}
	var sess model.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return model.Session{}, errors.Wrapf(err, "decode session %s", sessionID)
	}
	return sess, nil
}

func (s *Store) write(sess *model.Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	return util.AtomicWriteFile(s.filePath(sess.ID), data, 0o600)
}

// readAll loads every session file, skipping corrupted ones.
func (s *Store) readAll() ([]model.Session, error) {
	entries, err := os.ReadDir(s.sessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read sessions dir")
	}

	var out []model.Session
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		sess, err := s.read(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *Store) sessionsDir() string {
	return filepath.Join(s.BaseDir, "sessions")
}

func (s *Store) usersPath() string {
	return filepath.Join(s.BaseDir, "users.json")
}

// filePath returns the file for a session id. Ids are backend-generated
// UUIDs; anything else cannot name a stored session.
func (s *Store) filePath(id string) string {
	if _, err := uuid.Parse(id); err != nil {
		id = "invalid-" + strings.NewReplacer("/", "_", "\\", "_", ".", "_").Replace(id)
	}
	return filepath.Join(s.sessionsDir(), id+".json")
}
